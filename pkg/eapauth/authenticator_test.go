package eapauth

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kasumigaoka/ikev2eap/pkg/eap"
	"github.com/kasumigaoka/ikev2eap/pkg/eapmethod"
	"github.com/kasumigaoka/ikev2eap/pkg/ikeerr"
)

type staticIdentity struct {
	nai string
	ok  bool
}

func (s staticIdentity) GetIdentity() (string, bool) { return s.nai, s.ok }

func newTestAuthenticator(desired []uint8, factory MethodFactory) *Authenticator {
	return New(Config{
		DesiredTypes: desired,
		Factory:      factory,
		Identity:     staticIdentity{nai: "0123456789@example.org", ok: true},
	})
}

// 服务器请求了未配置的方法时必须回 NAK，列出本端配置的期望方法。
func TestNakListsConfiguredTypes(t *testing.T) {
	a := newTestAuthenticator([]uint8{eap.TypeMSCHAPv2}, func(eapType uint8) (eapmethod.MethodSM, error) {
		t.Fatal("未配置的方法不应触发工厂")
		return nil, nil
	})

	simStart := &eap.EAPPacket{
		Code: eap.CodeRequest, Identifier: 7,
		Type: eap.TypeSIM, Subtype: eap.SubtypeStart,
	}
	result, err := a.HandleMessage(simStart.Encode())
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if result.Kind != ResultContinue {
		t.Fatalf("Kind = %d, 期望 ResultContinue", result.Kind)
	}

	resp, err := eap.Parse(result.Response)
	if err != nil {
		t.Fatalf("解析 NAK 响应: %v", err)
	}
	if resp.Code != eap.CodeResponse || resp.Type != eap.TypeNak {
		t.Fatalf("响应不是 NAK: code=%d type=%d", resp.Code, resp.Type)
	}
	if resp.Identifier != 7 {
		t.Fatalf("NAK 必须回显请求的 Identifier, 实际 %d", resp.Identifier)
	}
	if !bytes.Contains(resp.Data, []byte{eap.TypeMSCHAPv2}) {
		t.Fatalf("NAK 期望方法列表应包含 0x1A, 实际 % x", resp.Data)
	}
}

// 方法尚未完成时收到裸 EAP-Success 是协议违规。
func TestPrematureSuccessRejected(t *testing.T) {
	a := newTestAuthenticator([]uint8{eap.TypeMSCHAPv2}, nil)

	success := &eap.EAPPacket{Code: eap.CodeSuccess, Identifier: 1}
	_, err := a.HandleMessage(success.Encode())
	if err == nil {
		t.Fatal("方法未完成时的 EAP-Success 应当被拒绝")
	}
	var invalid *ikeerr.InvalidRequest
	if !errors.As(err, &invalid) {
		t.Fatalf("错误类型 = %T, 期望 *ikeerr.InvalidRequest", err)
	}
}

func TestIdentityRequestAnswered(t *testing.T) {
	a := newTestAuthenticator([]uint8{eap.TypeAKA}, nil)

	idReq := &eap.EAPPacket{Code: eap.CodeRequest, Identifier: 3, Type: eap.TypeIdentity}
	result, err := a.HandleMessage(idReq.Encode())
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	resp, err := eap.Parse(result.Response)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Type != eap.TypeIdentity || !bytes.Equal(resp.Data, []byte("0123456789@example.org")) {
		t.Fatalf("身份响应不正确: type=%d data=%q", resp.Type, resp.Data)
	}
}

func TestIdentityUnavailable(t *testing.T) {
	a := New(Config{
		DesiredTypes: []uint8{eap.TypeAKA},
		Identity:     staticIdentity{ok: false},
	})
	idReq := &eap.EAPPacket{Code: eap.CodeRequest, Identifier: 3, Type: eap.TypeIdentity}
	_, err := a.HandleMessage(idReq.Encode())
	var unavailable *ikeerr.Unavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("错误类型 = %T, 期望 *ikeerr.Unavailable", err)
	}
}

func TestBuildRootNAI(t *testing.T) {
	cases := []struct {
		imsi, mcc, mnc, want string
	}{
		{"460001234567890", "", "",
			"0460001234567890@nai.epc.mnc000.mcc460.3gppnetwork.org"},
		{"310150123456789", "310", "150",
			"0310150123456789@nai.epc.mnc150.mcc310.3gppnetwork.org"},
		{"208011234567890", "", "",
			"0208011234567890@nai.epc.mnc001.mcc208.3gppnetwork.org"},
	}
	for _, tc := range cases {
		if got := BuildRootNAI(tc.imsi, tc.mcc, tc.mnc); got != tc.want {
			t.Errorf("BuildRootNAI(%q) = %q, 期望 %q", tc.imsi, got, tc.want)
		}
	}
}
