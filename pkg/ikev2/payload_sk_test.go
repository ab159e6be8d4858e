package ikev2

import (
	"bytes"
	"testing"

	"github.com/kasumigaoka/ikev2eap/pkg/crypto"
)

func skTestHeader() *IKEHeader {
	return &IKEHeader{
		SPIi:         0x1111222233334444,
		SPIr:         0x5555666677778888,
		Version:      0x20,
		ExchangeType: INFORMATIONAL,
		Flags:        FlagInitiator,
		MessageID:    3,
	}
}

func skTestPayloads() []Payload {
	return []Payload{
		&EncryptedPayloadNonce{NonceData: bytes.Repeat([]byte{0x5a}, 32)},
		&EncryptedPayloadNotify{
			ProtocolID: ProtoIKE,
			NotifyType: AUTH_LIFETIME,
			NotifyData: []byte{0, 0, 0x0e, 0x10},
		},
	}
}

func TestEncryptDecryptRoundTripCBC(t *testing.T) {
	enc, err := crypto.GetEncrypterWithKeyLen(uint16(ENCR_AES_CBC), 128)
	if err != nil {
		t.Fatal(err)
	}
	integ, err := crypto.GetIntegrityAlgorithm(uint16(AUTH_HMAC_SHA2_256_128))
	if err != nil {
		t.Fatal(err)
	}
	encKey := bytes.Repeat([]byte{0x11}, enc.KeySize())
	integKey := bytes.Repeat([]byte{0x22}, integ.KeySize())

	raw, err := EncryptAndEncode(skTestPayloads(), skTestHeader(), enc, integ, false, encKey, integKey)
	if err != nil {
		t.Fatalf("加密失败: %v", err)
	}

	hdr, payloads, err := DecodeAndDecrypt(raw, enc, integ, false, encKey, integKey)
	if err != nil {
		t.Fatalf("解密失败: %v", err)
	}
	if hdr.MessageID != 3 {
		t.Fatalf("MessageID = %d", hdr.MessageID)
	}
	assertSKPayloads(t, payloads)
}

func TestEncryptDecryptRoundTripGCM(t *testing.T) {
	enc, err := crypto.GetEncrypterWithKeyLen(uint16(ENCR_AES_GCM_16), 128)
	if err != nil {
		t.Fatal(err)
	}
	// AEAD: 密钥 = 加密密钥 + 4 字节盐，完整性字段缺省。
	encKey := bytes.Repeat([]byte{0x33}, enc.KeySize()+4)

	raw, err := EncryptAndEncode(skTestPayloads(), skTestHeader(), enc, nil, true, encKey, nil)
	if err != nil {
		t.Fatalf("加密失败: %v", err)
	}
	_, payloads, err := DecodeAndDecrypt(raw, enc, nil, true, encKey, nil)
	if err != nil {
		t.Fatalf("解密失败: %v", err)
	}
	assertSKPayloads(t, payloads)
}

func assertSKPayloads(t *testing.T, payloads []Payload) {
	t.Helper()
	if len(payloads) != 2 {
		t.Fatalf("载荷数量 = %d, 期望 2", len(payloads))
	}
	nonce, ok := payloads[0].(*EncryptedPayloadNonce)
	if !ok {
		t.Fatalf("首个载荷类型 = %T", payloads[0])
	}
	if !bytes.Equal(nonce.NonceData, bytes.Repeat([]byte{0x5a}, 32)) {
		t.Fatal("Nonce 数据往返不一致")
	}
	notify, ok := payloads[1].(*EncryptedPayloadNotify)
	if !ok {
		t.Fatalf("第二个载荷类型 = %T", payloads[1])
	}
	if notify.NotifyType != AUTH_LIFETIME {
		t.Fatalf("NotifyType = %d", notify.NotifyType)
	}
}

func TestIntegrityTamperDetected(t *testing.T) {
	enc, _ := crypto.GetEncrypterWithKeyLen(uint16(ENCR_AES_CBC), 128)
	integ, _ := crypto.GetIntegrityAlgorithm(uint16(AUTH_HMAC_SHA2_256_128))
	encKey := bytes.Repeat([]byte{0x11}, enc.KeySize())
	integKey := bytes.Repeat([]byte{0x22}, integ.KeySize())

	raw, err := EncryptAndEncode(skTestPayloads(), skTestHeader(), enc, integ, false, encKey, integKey)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xff
	if _, _, err := DecodeAndDecrypt(raw, enc, integ, false, encKey, integKey); err == nil {
		t.Fatal("篡改后的报文应当未通过完整性校验")
	}
}

func TestUnknownCriticalPayloadRejected(t *testing.T) {
	// 手工构造: 头部 + 一个未知类型 (200) 且 Critical 位置位的载荷。
	body := []byte{0xde, 0xad}
	payloadHdr := &PayloadHeader{
		NextPayload:   NoNextPayload,
		Critical:      true,
		PayloadLength: uint16(PAYLOAD_HEADER_LEN + len(body)),
	}
	hdr := skTestHeader()
	hdr.NextPayload = PayloadType(200)
	hdr.Length = uint32(IKE_HEADER_LEN + PAYLOAD_HEADER_LEN + len(body))

	raw := append(hdr.Encode(), payloadHdr.Encode()...)
	raw = append(raw, body...)

	_, err := DecodePacket(raw)
	if err == nil {
		t.Fatal("未知的关键载荷应当被拒绝")
	}
	if _, ok := err.(*UnsupportedCriticalPayloadError); !ok {
		t.Fatalf("错误类型 = %T, 期望 *UnsupportedCriticalPayloadError", err)
	}

	// 同一载荷不设 Critical 位则作为透明块被保留。
	payloadHdr.Critical = false
	raw = append(hdr.Encode(), payloadHdr.Encode()...)
	raw = append(raw, body...)
	pkt, err := DecodePacket(raw)
	if err != nil {
		t.Fatalf("可跳过的未知载荷不应报错: %v", err)
	}
	if _, ok := pkt.Payloads[0].(*RawPayload); !ok {
		t.Fatalf("未知载荷应保留为 RawPayload, 实际 %T", pkt.Payloads[0])
	}
}

func TestProposalValidate(t *testing.T) {
	ike := NewProposal(1, ProtoIKE, nil)
	ike.AddTransformWithKeyLen(TransformTypeEncr, ENCR_AES_CBC, 128)
	ike.AddTransform(TransformTypeInteg, AUTH_HMAC_SHA2_256_128, 0)
	ike.AddTransform(TransformTypePRF, PRF_HMAC_SHA2_256, 0)
	ike.AddTransform(TransformTypeDH, MODP_2048_bit, 0)
	if err := ike.Validate(); err != nil {
		t.Fatalf("合法 IKE 提议被拒绝: %v", err)
	}

	ike.AddTransform(TransformTypeESN, 0, 0)
	if err := ike.Validate(); err == nil {
		t.Fatal("携带 ESN 的 IKE 提议应被拒绝")
	}

	esp := NewProposal(1, ProtoESP, []byte{1, 2, 3, 4})
	esp.AddTransformWithKeyLen(TransformTypeEncr, ENCR_AES_GCM_16, 128)
	if err := esp.Validate(); err == nil {
		t.Fatal("缺少 ESN 的 Child 提议应被拒绝")
	}
	esp.AddTransform(TransformTypeESN, 0, 0)
	if err := esp.Validate(); err != nil {
		t.Fatalf("合法 Child 提议被拒绝: %v", err)
	}

	esp.AddTransform(TransformTypeInteg, AUTH_HMAC_SHA1_96, 0)
	if err := esp.Validate(); err == nil {
		t.Fatal("组合模式加密与完整性变换同列应被拒绝")
	}
}
