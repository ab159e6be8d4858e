package ikesession

import (
	"bytes"
	"net"
	"testing"

	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
)

func TestNarrowSelectorsIntersection(t *testing.T) {
	full := ikev2.NewTrafficSelectorIPV4(
		net.IPv4zero.To4(), net.IPv4bcast.To4(), 0, 65535)
	subnet := ikev2.NewTrafficSelectorIPV4(
		net.IPv4(10, 0, 0, 0).To4(), net.IPv4(10, 0, 0, 255).To4(), 0, 65535)

	narrowed, err := narrowSelectors(
		[]*ikev2.TrafficSelector{full}, []*ikev2.TrafficSelector{subnet})
	if err != nil {
		t.Fatalf("收窄失败: %v", err)
	}
	if len(narrowed) != 1 {
		t.Fatalf("收窄结果数量 = %d, 期望 1", len(narrowed))
	}
	if !bytes.Equal(narrowed[0].StartAddr, subnet.StartAddr) ||
		!bytes.Equal(narrowed[0].EndAddr, subnet.EndAddr) {
		t.Fatalf("交集应等于较窄的一方: %v - %v",
			narrowed[0].StartAddr, narrowed[0].EndAddr)
	}
}

func TestNarrowSelectorsPortRange(t *testing.T) {
	a := ikev2.NewTrafficSelectorIPV4(
		net.IPv4zero.To4(), net.IPv4bcast.To4(), 0, 8080)
	b := ikev2.NewTrafficSelectorIPV4(
		net.IPv4zero.To4(), net.IPv4bcast.To4(), 443, 65535)

	narrowed, err := narrowSelectors(
		[]*ikev2.TrafficSelector{a}, []*ikev2.TrafficSelector{b})
	if err != nil {
		t.Fatalf("收窄失败: %v", err)
	}
	if narrowed[0].StartPort != 443 || narrowed[0].EndPort != 8080 {
		t.Fatalf("端口交集 = [%d, %d], 期望 [443, 8080]",
			narrowed[0].StartPort, narrowed[0].EndPort)
	}
}

func TestNarrowSelectorsEmptyIntersection(t *testing.T) {
	a := ikev2.NewTrafficSelectorIPV4(
		net.IPv4(10, 0, 0, 0).To4(), net.IPv4(10, 0, 0, 255).To4(), 0, 65535)
	b := ikev2.NewTrafficSelectorIPV4(
		net.IPv4(192, 168, 1, 0).To4(), net.IPv4(192, 168, 1, 255).To4(), 0, 65535)

	if _, err := narrowSelectors(
		[]*ikev2.TrafficSelector{a}, []*ikev2.TrafficSelector{b}); err == nil {
		t.Fatal("空交集应当返回 NO_PROPOSAL_CHOSEN")
	}
}

func TestNarrowSelectorsTypeMismatch(t *testing.T) {
	v4 := ikev2.NewTrafficSelectorIPV4(
		net.IPv4zero.To4(), net.IPv4bcast.To4(), 0, 65535)
	ipv6Max := make(net.IP, net.IPv6len)
	for i := range ipv6Max {
		ipv6Max[i] = 0xff
	}
	v6 := ikev2.NewTrafficSelectorIPV6(net.IPv6zero, ipv6Max, 0, 65535)

	if ts := intersectSelector(v4, v6); ts != nil {
		t.Fatal("不同地址族的选择器不应产生交集")
	}
}
