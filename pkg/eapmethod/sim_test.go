package eapmethod

import (
	"errors"
	"testing"

	"github.com/kasumigaoka/ikev2eap/pkg/eap"
	"github.com/kasumigaoka/ikev2eap/pkg/ikeerr"
)

type fakeIdentity struct {
	id string
	ok bool
}

func (f fakeIdentity) GetSubscriberID() (string, bool) { return f.id, f.ok }

type fakeRandom struct{ fill byte }

func (f fakeRandom) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	for i := range b {
		b[i] = f.fill
	}
	return b, nil
}

type fakeGSM struct{}

func (fakeGSM) CalculateGSM(rand []byte) (sres, kc []byte, err error) {
	return []byte{1, 2, 3, 4}, []byte{1, 2, 3, 4, 5, 6, 7, 8}, nil
}

func simStartPacket(extra ...[]byte) *eap.EAPPacket {
	data := eap.BuildVersionListAttr([]uint16{1}).Encode()
	data = append(data, (&eap.Attribute{Type: eap.AT_PERMANENT_ID_REQ, Value: []byte{0, 0}}).Encode()...)
	for _, e := range extra {
		data = append(data, e...)
	}
	return &eap.EAPPacket{
		Code: eap.CodeRequest, Identifier: 1,
		Type: eap.TypeSIM, Subtype: eap.SubtypeStart, Data: data,
	}
}

// 订阅者身份源不可用时，SIM/Start 必须以 Unavailable 失败且状态机不得
// 越过 Created。
func TestSIMStartIdentityUnavailable(t *testing.T) {
	m := NewSIM(fakeIdentity{ok: false}, fakeRandom{}, fakeGSM{})

	pkt := simStartPacket()
	outcome := m.HandleRequest(pkt, pkt.Encode())
	if outcome.Kind != OutcomeError {
		t.Fatalf("Kind = %d, 期望 OutcomeError", outcome.Kind)
	}
	var unavailable *ikeerr.Unavailable
	if !errors.As(outcome.Err, &unavailable) {
		t.Fatalf("错误类型 = %T, 期望 *ikeerr.Unavailable", outcome.Err)
	}
	if m.state != simStateCreated {
		t.Fatalf("状态 = %d, 不应越过 Created", m.state)
	}
}

// SIM/Start 携带 AT_MAC 属于预认证消息的禁止属性：回应 Client-Error
// 并停留在 Created。
func TestSIMStartWithMACRejected(t *testing.T) {
	m := NewSIM(fakeIdentity{id: "001010123456789", ok: true}, fakeRandom{}, fakeGSM{})

	pkt := simStartPacket(eap.ZeroedMACAttr().Encode())
	outcome := m.HandleRequest(pkt, pkt.Encode())
	if outcome.Kind != OutcomeResponse {
		t.Fatalf("Kind = %d, 期望 OutcomeResponse (Client-Error)", outcome.Kind)
	}
	resp, err := eap.Parse(outcome.Response)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Subtype != eap.SubtypeClientError {
		t.Fatalf("响应子类型 = %d, 期望 Client-Error", resp.Subtype)
	}
	if m.state != simStateCreated {
		t.Fatalf("状态 = %d, 不应离开 Created", m.state)
	}
}

func TestSIMStartBuildsIdentityResponse(t *testing.T) {
	m := NewSIM(fakeIdentity{id: "001010123456789", ok: true}, fakeRandom{fill: 0xab}, fakeGSM{})

	pkt := simStartPacket()
	outcome := m.HandleRequest(pkt, pkt.Encode())
	if outcome.Kind != OutcomeResponse {
		t.Fatalf("Kind = %d, 期望 OutcomeResponse", outcome.Kind)
	}
	resp, err := eap.Parse(outcome.Response)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Subtype != eap.SubtypeStart {
		t.Fatalf("响应子类型 = %d, 期望 Start", resp.Subtype)
	}
	attrs, err := eap.ParseAttributes(resp.Data)
	if err != nil {
		t.Fatal(err)
	}
	identity, err := eap.ParseIdentity(attrs[eap.AT_IDENTITY])
	if err != nil {
		t.Fatal(err)
	}
	// 永久身份按 RFC 4186 §4.2.1.6 以 '1' 前缀。
	if identity != "1001010123456789" {
		t.Fatalf("AT_IDENTITY = %q", identity)
	}
	if _, ok := attrs[eap.AT_NONCE_MT]; !ok {
		t.Fatal("响应缺少 AT_NONCE_MT")
	}
	if _, ok := attrs[eap.AT_SELECTED_VERSION]; !ok {
		t.Fatal("响应缺少 AT_SELECTED_VERSION")
	}
	if m.state != simStateStart {
		t.Fatalf("状态 = %d, 期望 Start", m.state)
	}
}

// 每个会话最多接受一次 Notification；第二次必须产出 InvalidRequest。
func TestSIMDuplicateNotification(t *testing.T) {
	m := NewSIM(fakeIdentity{id: "001010123456789", ok: true}, fakeRandom{fill: 0x01}, fakeGSM{})

	// 先走完 Start，让状态机离开 Created——成功通知 (S=1, P=0) 只允许
	// 出现在挑战前阶段之后。
	start := simStartPacket()
	if outcome := m.HandleRequest(start, start.Encode()); outcome.Kind != OutcomeResponse {
		t.Fatalf("Start 失败: Kind = %d", outcome.Kind)
	}

	// 成功通知: S=1 (0x8000), P=0，只允许出现在状态机离开 Created
	// 之后，且不终止状态机。
	code := make([]byte, 2)
	code[0] = byte(eap.NotificationSuccessBit >> 8)
	notifData := (&eap.Attribute{Type: eap.AT_NOTIFICATION, Value: code}).Encode()
	pkt := &eap.EAPPacket{
		Code: eap.CodeRequest, Identifier: 2,
		Type: eap.TypeSIM, Subtype: eap.SubtypeNotification, Data: notifData,
	}

	outcome := m.HandleRequest(pkt, pkt.Encode())
	if outcome.Kind != OutcomeResponse {
		t.Fatalf("首次 Notification: Kind = %d, 期望 OutcomeResponse", outcome.Kind)
	}
	if m.Done() {
		t.Fatal("成功通知不应终止状态机")
	}

	second := m.HandleRequest(pkt, pkt.Encode())
	if second.Kind != OutcomeError {
		t.Fatalf("第二次 Notification: Kind = %d, 期望 OutcomeError", second.Kind)
	}
	var invalid *ikeerr.InvalidRequest
	if !errors.As(second.Err, &invalid) {
		t.Fatalf("错误类型 = %T, 期望 *ikeerr.InvalidRequest", second.Err)
	}
}

// 失败通知 (S=0) 照常回应，但状态机随之终止。
func TestSIMFailureNotificationTerminates(t *testing.T) {
	m := NewSIM(fakeIdentity{id: "001010123456789", ok: true}, fakeRandom{fill: 0x01}, fakeGSM{})
	start := simStartPacket()
	if outcome := m.HandleRequest(start, start.Encode()); outcome.Kind != OutcomeResponse {
		t.Fatalf("Start 失败: Kind = %d", outcome.Kind)
	}

	code := make([]byte, 2) // General Failure after authentication (0)
	notifData := (&eap.Attribute{Type: eap.AT_NOTIFICATION, Value: code}).Encode()
	pkt := &eap.EAPPacket{
		Code: eap.CodeRequest, Identifier: 3,
		Type: eap.TypeSIM, Subtype: eap.SubtypeNotification, Data: notifData,
	}
	outcome := m.HandleRequest(pkt, pkt.Encode())
	if outcome.Kind != OutcomeResponse {
		t.Fatalf("Kind = %d, 期望 OutcomeResponse", outcome.Kind)
	}
	if !m.Done() {
		t.Fatal("失败通知后状态机应当终止")
	}
}
