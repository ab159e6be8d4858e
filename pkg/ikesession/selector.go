package ikesession

import (
	"bytes"

	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
)

// narrowSelectors 求本端提议与对端回应的流量选择器交集 (RFC 7296
// §2.9 的收窄)。双方范围不同时收窄到交集而不是直接失败；交集为空时
// 返回 NO_PROPOSAL_CHOSEN。
func narrowSelectors(local, remote []*ikev2.TrafficSelector) ([]*ikev2.TrafficSelector, error) {
	var narrowed []*ikev2.TrafficSelector
	for _, l := range local {
		for _, r := range remote {
			if ts := intersectSelector(l, r); ts != nil {
				narrowed = append(narrowed, ts)
			}
		}
	}
	if len(narrowed) == 0 {
		return nil, noProposalChosen("流量选择器交集为空")
	}
	return narrowed, nil
}

// intersectSelector 计算两个同类选择器的交集，不相交时返回 nil。
func intersectSelector(a, b *ikev2.TrafficSelector) *ikev2.TrafficSelector {
	if a.TSType != b.TSType {
		return nil
	}
	if a.IPProtocol != 0 && b.IPProtocol != 0 && a.IPProtocol != b.IPProtocol {
		return nil
	}
	proto := a.IPProtocol
	if proto == 0 {
		proto = b.IPProtocol
	}

	startAddr := maxBytes(a.StartAddr, b.StartAddr)
	endAddr := minBytes(a.EndAddr, b.EndAddr)
	if bytes.Compare(startAddr, endAddr) > 0 {
		return nil
	}

	startPort := a.StartPort
	if b.StartPort > startPort {
		startPort = b.StartPort
	}
	endPort := a.EndPort
	if b.EndPort < endPort {
		endPort = b.EndPort
	}
	if startPort > endPort {
		return nil
	}

	return &ikev2.TrafficSelector{
		TSType:     a.TSType,
		IPProtocol: proto,
		StartPort:  startPort,
		EndPort:    endPort,
		StartAddr:  startAddr,
		EndAddr:    endAddr,
	}
}

func maxBytes(a, b []byte) []byte {
	if bytes.Compare(a, b) >= 0 {
		return a
	}
	return b
}

func minBytes(a, b []byte) []byte {
	if bytes.Compare(a, b) <= 0 {
		return a
	}
	return b
}
