package eap

import (
	"bytes"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		pkt  *EAPPacket
	}{
		{"identity-response", &EAPPacket{
			Code: CodeResponse, Identifier: 1,
			Type: TypeIdentity, Data: []byte("0123456789@example.org"),
		}},
		{"sim-start", &EAPPacket{
			Code: CodeRequest, Identifier: 2,
			Type: TypeSIM, Subtype: SubtypeStart,
			Data: BuildVersionListAttr([]uint16{1}).Encode(),
		}},
		{"aka-challenge", &EAPPacket{
			Code: CodeRequest, Identifier: 3,
			Type: TypeAKA, Subtype: SubtypeChallenge,
			Data: ZeroedMACAttr().Encode(),
		}},
		{"nak", &EAPPacket{
			Code: CodeResponse, Identifier: 4,
			Type: TypeNak, Data: []byte{TypeMSCHAPv2},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := tc.pkt.Encode()
			got, err := Parse(raw)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got.Code != tc.pkt.Code || got.Identifier != tc.pkt.Identifier ||
				got.Type != tc.pkt.Type || got.Subtype != tc.pkt.Subtype {
				t.Fatalf("头部往返不一致: %+v vs %+v", got, tc.pkt)
			}
			if !bytes.Equal(got.Data, tc.pkt.Data) {
				t.Fatalf("Data 往返不一致: % x vs % x", got.Data, tc.pkt.Data)
			}
			if !bytes.Equal(got.Encode(), raw) {
				t.Fatal("二次编码与原始字节不一致")
			}
		})
	}
}

func TestParseSuccessFailure(t *testing.T) {
	success := (&EAPPacket{Code: CodeSuccess, Identifier: 7}).Encode()
	if len(success) != 4 {
		t.Fatalf("Success 报文长度 = %d, 必须为 4", len(success))
	}
	pkt, err := Parse(success)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Code != CodeSuccess || pkt.Type != 0 || pkt.Data != nil {
		t.Fatalf("Success 不应携带 Type/Data: %+v", pkt)
	}
}

func TestParseRejectsTruncated(t *testing.T) {
	if _, err := Parse([]byte{1, 2, 0}); err == nil {
		t.Fatal("不足 4 字节的报文应被拒绝")
	}
	// 声明长度超过缓冲区。
	if _, err := Parse([]byte{1, 2, 0, 10, 1}); err == nil {
		t.Fatal("声明长度超过缓冲区的报文应被拒绝")
	}
}

func TestAttributeRoundTrip(t *testing.T) {
	attrs := append(BuildIdentityAttr("1001010123456789").Encode(),
		BuildNonceMTAttr(bytes.Repeat([]byte{0xaa}, 16)).Encode()...)
	parsed, err := ParseAttributes(attrs)
	if err != nil {
		t.Fatal(err)
	}
	identity, err := ParseIdentity(parsed[AT_IDENTITY])
	if err != nil {
		t.Fatal(err)
	}
	if identity != "1001010123456789" {
		t.Fatalf("身份往返不一致: %q", identity)
	}
	if len(parsed[AT_NONCE_MT].Value) < 18 {
		t.Fatalf("AT_NONCE_MT 值长度 = %d", len(parsed[AT_NONCE_MT].Value))
	}
}

func TestParseAttributesRejectsZeroLength(t *testing.T) {
	if _, err := ParseAttributes([]byte{AT_MAC, 0, 0, 0}); err == nil {
		t.Fatal("长度为零的属性应被拒绝")
	}
}
