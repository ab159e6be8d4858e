package eapmethod

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/kasumigaoka/ikev2eap/pkg/eap"
)

// RFC 2759 §9.2 测试向量。
var (
	mschapUser          = "User"
	mschapPassword      = "clientPass"
	mschapAuthChallenge = mustHex("5B5D7C7D7B3F2F3E3C2C602132262628")
	mschapPeerChallenge = mustHex("21402324255E262A28295F2B3A337C7E")
	mschapNtResponse    = mustHex("82309ECD8D708B5EA08FAA3981CD83544233114A3D85D6DF")
	mschapAuthResponse  = "S=407A5589115FD0D6209F510FE9C04566932CDA56"
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

type fixedRandom struct{ b []byte }

func (f fixedRandom) RandomBytes(n int) ([]byte, error) {
	return append([]byte{}, f.b[:n]...), nil
}

type fixedCreds struct{ user, pass string }

func (f fixedCreds) GetUsername() (string, bool) { return f.user, true }
func (f fixedCreds) GetPassword() (string, bool) { return f.pass, true }

func mschapChallengePacket(msID uint8) *eap.EAPPacket {
	body := append([]byte{16}, mschapAuthChallenge...)
	body = append(body, []byte("authenticator")...)
	data := make([]byte, 4+len(body))
	data[0] = opChallenge
	data[1] = msID
	binary.BigEndian.PutUint16(data[2:4], uint16(len(data)))
	copy(data[4:], body)
	return &eap.EAPPacket{
		Code: eap.CodeRequest, Identifier: 9,
		Type: eap.TypeMSCHAPv2, Data: data,
	}
}

func TestMSCHAPv2ChallengeResponseShape(t *testing.T) {
	m := NewMSCHAPv2(
		fixedCreds{mschapUser, mschapPassword},
		fixedRandom{mschapPeerChallenge},
	)

	pkt := mschapChallengePacket(5)
	outcome := m.HandleRequest(pkt, pkt.Encode())
	if outcome.Kind != OutcomeResponse {
		t.Fatalf("Kind = %d, 期望 OutcomeResponse", outcome.Kind)
	}
	resp, err := eap.Parse(outcome.Response)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Data[0] != opResponse {
		t.Fatalf("OpCode = %d, 期望 Response", resp.Data[0])
	}
	if resp.Data[1] != 5 {
		t.Fatalf("MS-CHAPv2 Identifier 未回显: %d", resp.Data[1])
	}
	body := resp.Data[4:]
	if body[0] != 49 {
		t.Fatalf("Value-Size = %d, 期望 49", body[0])
	}
	value := body[1 : 1+49]
	if !bytes.Equal(value[0:16], mschapPeerChallenge) {
		t.Fatal("响应未携带对等挑战")
	}
	if !bytes.Equal(value[16:24], make([]byte, 8)) {
		t.Fatal("保留字节必须为零")
	}
	if !bytes.Equal(value[24:48], mschapNtResponse) {
		t.Fatalf("NT-Response = %X, 期望 %X", value[24:48], mschapNtResponse)
	}
	if value[48] != 0 {
		t.Fatal("Flags 必须为零")
	}
	if !bytes.Equal(body[50:], []byte(mschapUser)) {
		t.Fatalf("用户名 = %q", body[50:])
	}
}

func TestMSCHAPv2SuccessFlow(t *testing.T) {
	m := NewMSCHAPv2(
		fixedCreds{mschapUser, mschapPassword},
		fixedRandom{mschapPeerChallenge},
	)

	pkt := mschapChallengePacket(5)
	if outcome := m.HandleRequest(pkt, pkt.Encode()); outcome.Kind != OutcomeResponse {
		t.Fatalf("挑战处理失败: Kind = %d", outcome.Kind)
	}

	successBody := []byte(mschapAuthResponse + " M=Welcome")
	data := make([]byte, 4+len(successBody))
	data[0] = opSuccess
	data[1] = 5
	binary.BigEndian.PutUint16(data[2:4], uint16(len(data)))
	copy(data[4:], successBody)
	successPkt := &eap.EAPPacket{
		Code: eap.CodeRequest, Identifier: 10,
		Type: eap.TypeMSCHAPv2, Data: data,
	}

	outcome := m.HandleRequest(successPkt, successPkt.Encode())
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("Kind = %d, 期望 OutcomeSuccess: %v", outcome.Kind, outcome.Err)
	}
	if len(outcome.MSK) != 32 {
		t.Fatalf("MSK 长度 = %d, 期望 32", len(outcome.MSK))
	}
	resp, err := eap.Parse(outcome.Response)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Data[0] != opSuccess {
		t.Fatalf("确认报文 OpCode = %d, 期望 Success", resp.Data[0])
	}
	if !m.Done() {
		t.Fatal("状态机应已到达 Final")
	}
}

func TestMSCHAPv2TamperedSuccessRejected(t *testing.T) {
	m := NewMSCHAPv2(
		fixedCreds{mschapUser, mschapPassword},
		fixedRandom{mschapPeerChallenge},
	)
	pkt := mschapChallengePacket(5)
	m.HandleRequest(pkt, pkt.Encode())

	bad := []byte("S=0000000000000000000000000000000000000000")
	data := make([]byte, 4+len(bad))
	data[0] = opSuccess
	data[1] = 5
	binary.BigEndian.PutUint16(data[2:4], uint16(len(data)))
	copy(data[4:], bad)
	successPkt := &eap.EAPPacket{
		Code: eap.CodeRequest, Identifier: 10,
		Type: eap.TypeMSCHAPv2, Data: data,
	}

	if outcome := m.HandleRequest(successPkt, successPkt.Encode()); outcome.Kind != OutcomeError {
		t.Fatalf("篡改的认证方响应应被拒绝, Kind = %d", outcome.Kind)
	}
}

func TestMSCHAPv2FailureFlow(t *testing.T) {
	m := NewMSCHAPv2(
		fixedCreds{mschapUser, mschapPassword},
		fixedRandom{mschapPeerChallenge},
	)
	pkt := mschapChallengePacket(5)
	m.HandleRequest(pkt, pkt.Encode())

	failBody := []byte("E=691 R=0 V=3")
	data := make([]byte, 4+len(failBody))
	data[0] = opFailure
	data[1] = 5
	binary.BigEndian.PutUint16(data[2:4], uint16(len(data)))
	copy(data[4:], failBody)
	failPkt := &eap.EAPPacket{
		Code: eap.CodeRequest, Identifier: 11,
		Type: eap.TypeMSCHAPv2, Data: data,
	}

	outcome := m.HandleRequest(failPkt, failPkt.Encode())
	if outcome.Kind != OutcomeFailure {
		t.Fatalf("Kind = %d, 期望 OutcomeFailure", outcome.Kind)
	}
	if !m.Done() {
		t.Fatal("状态机应已到达 Final")
	}

	// Final 之后的任何输入都只产出 Error。
	if after := m.HandleRequest(failPkt, failPkt.Encode()); after.Kind != OutcomeError {
		t.Fatalf("Final 后输入: Kind = %d, 期望 OutcomeError", after.Kind)
	}
}
