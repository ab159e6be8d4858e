package ikev2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// 流量选择器载荷 (RFC 7296 §3.13)。TSi 与 TSr 共用一套结构，方向由
// IsInitiator 区分。
type EncryptedPayloadTS struct {
	IsInitiator      bool
	TrafficSelectors []*TrafficSelector
}

func (p *EncryptedPayloadTS) Type() PayloadType {
	if p.IsInitiator {
		return TSI
	}
	return TSR
}

func (p *EncryptedPayloadTS) Encode() ([]byte, error) {
	// 1 字节 TS 数量 + 3 字节保留，之后逐个选择器。
	out := make([]byte, 4)
	out[0] = uint8(len(p.TrafficSelectors))
	for _, ts := range p.TrafficSelectors {
		b, err := ts.Encode()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// TrafficSelector 是单个地址/端口范围选择器 (RFC 7296 §3.13.1)。
type TrafficSelector struct {
	TSType     uint8
	IPProtocol uint8 // 0 表示任意协议
	StartPort  uint16
	EndPort    uint16
	StartAddr  []byte
	EndAddr    []byte
}

const (
	TS_IPV4_ADDR_RANGE = 7
	TS_IPV6_ADDR_RANGE = 8

	tsHeaderLen = 8
)

// tsAddrLen 返回该选择器类型的单个地址长度，未知类型返回 0。
func tsAddrLen(tsType uint8) int {
	switch tsType {
	case TS_IPV4_ADDR_RANGE:
		return net.IPv4len
	case TS_IPV6_ADDR_RANGE:
		return net.IPv6len
	}
	return 0
}

func NewTrafficSelectorIPV4(startIP, endIP net.IP, startPort, endPort uint16) *TrafficSelector {
	return &TrafficSelector{
		TSType:    TS_IPV4_ADDR_RANGE,
		StartPort: startPort,
		EndPort:   endPort,
		StartAddr: startIP.To4(),
		EndAddr:   endIP.To4(),
	}
}

func NewTrafficSelectorIPV6(startIP, endIP net.IP, startPort, endPort uint16) *TrafficSelector {
	return &TrafficSelector{
		TSType:    TS_IPV6_ADDR_RANGE,
		StartPort: startPort,
		EndPort:   endPort,
		StartAddr: startIP.To16(),
		EndAddr:   endIP.To16(),
	}
}

func (ts *TrafficSelector) Encode() ([]byte, error) {
	addrLen := tsAddrLen(ts.TSType)
	if addrLen == 0 {
		return nil, fmt.Errorf("ikev2: 不支持的 TS 类型 %d", ts.TSType)
	}
	if len(ts.StartAddr) != addrLen || len(ts.EndAddr) != addrLen {
		return nil, errors.New("ikev2: TS 地址长度与类型不符")
	}

	length := tsHeaderLen + 2*addrLen
	buf := make([]byte, length)
	buf[0] = ts.TSType
	buf[1] = ts.IPProtocol
	binary.BigEndian.PutUint16(buf[2:4], uint16(length))
	binary.BigEndian.PutUint16(buf[4:6], ts.StartPort)
	binary.BigEndian.PutUint16(buf[6:8], ts.EndPort)
	copy(buf[tsHeaderLen:tsHeaderLen+addrLen], ts.StartAddr)
	copy(buf[tsHeaderLen+addrLen:], ts.EndAddr)
	return buf, nil
}

// decodeTrafficSelector 解析一个选择器，返回消耗的字节数。
func decodeTrafficSelector(data []byte) (*TrafficSelector, int, error) {
	if len(data) < tsHeaderLen {
		return nil, 0, errors.New("ikev2: TS 选择器头部太短")
	}
	tsType := data[0]
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if length < tsHeaderLen || length > len(data) {
		return nil, 0, errors.New("ikev2: TS 选择器长度越界")
	}

	addrLen := tsAddrLen(tsType)
	if addrLen == 0 {
		return nil, 0, fmt.Errorf("ikev2: 不支持的 TS 类型 %d", tsType)
	}
	if length != tsHeaderLen+2*addrLen {
		return nil, 0, errors.New("ikev2: TS 选择器长度与类型不符")
	}

	body := data[tsHeaderLen:length]
	ts := &TrafficSelector{
		TSType:     tsType,
		IPProtocol: data[1],
		StartPort:  binary.BigEndian.Uint16(data[4:6]),
		EndPort:    binary.BigEndian.Uint16(data[6:8]),
		StartAddr:  append([]byte(nil), body[:addrLen]...),
		EndAddr:    append([]byte(nil), body[addrLen:]...),
	}
	return ts, length, nil
}

func DecodePayloadTS(data []byte, isInitiator bool) (*EncryptedPayloadTS, error) {
	if len(data) < 4 {
		return nil, errors.New("ikev2: TS 载荷太短")
	}
	count := int(data[0])
	out := &EncryptedPayloadTS{
		IsInitiator:      isInitiator,
		TrafficSelectors: make([]*TrafficSelector, 0, count),
	}

	rest := data[4:]
	for i := 0; i < count; i++ {
		ts, consumed, err := decodeTrafficSelector(rest)
		if err != nil {
			return nil, err
		}
		out.TrafficSelectors = append(out.TrafficSelectors, ts)
		rest = rest[consumed:]
	}
	return out, nil
}
