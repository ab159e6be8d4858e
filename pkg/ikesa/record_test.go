package ikesa

import (
	"testing"

	"github.com/kasumigaoka/ikev2eap/pkg/crypto"
	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
)

func newTestRecord(t *testing.T) *Record {
	t.Helper()
	enc, err := crypto.GetEncrypter(12) // ENCR_AES_CBC
	if err != nil {
		t.Fatalf("GetEncrypter 失败: %v", err)
	}
	integ, err := crypto.GetIntegrityAlgorithm(2) // AUTH_HMAC_SHA1_96
	if err != nil {
		t.Fatalf("GetIntegrityAlgorithm 失败: %v", err)
	}
	prf, err := crypto.GetPRF(2) // PRF_HMAC_SHA1
	if err != nil {
		t.Fatalf("GetPRF 失败: %v", err)
	}

	r := NewRecord(0x1111111111111111, 0x2222222222222222, RoleInitiator)
	r.EncAlg = enc
	r.IntegAlg = integ
	r.PRFAlg = prf
	r.LocalNonce = []byte("initiator-nonce-0123456789012345")
	r.RemoteNonce = []byte("responder-nonce-0123456789012345")
	return r
}

func TestDeriveKeysPopulatesAllFields(t *testing.T) {
	r := newTestRecord(t)
	sharedSecret := make([]byte, 128)
	for i := range sharedSecret {
		sharedSecret[i] = byte(i)
	}

	if err := r.DeriveKeys(sharedSecret); err != nil {
		t.Fatalf("DeriveKeys 失败: %v", err)
	}

	if r.Keys == nil {
		t.Fatal("DeriveKeys 未设置 Keys")
	}
	fields := map[string][]byte{
		"SK_d":  r.Keys.SK_d,
		"SK_ai": r.Keys.SK_ai,
		"SK_ar": r.Keys.SK_ar,
		"SK_ei": r.Keys.SK_ei,
		"SK_er": r.Keys.SK_er,
		"SK_pi": r.Keys.SK_pi,
		"SK_pr": r.Keys.SK_pr,
	}
	for name, v := range fields {
		if len(v) == 0 {
			t.Errorf("%s 未被派生", name)
		}
	}
}

func TestEncryptThenDecryptRoundTrip(t *testing.T) {
	r := newTestRecord(t)
	sharedSecret := make([]byte, 128)
	for i := range sharedSecret {
		sharedSecret[i] = byte(i * 3)
	}
	if err := r.DeriveKeys(sharedSecret); err != nil {
		t.Fatalf("DeriveKeys 失败: %v", err)
	}

	notify := &ikev2.EncryptedPayloadNotify{
		ProtocolID: 1, // IKE
		NotifyType: 16404,
		NotifyData: []byte("round-trip-data"),
	}

	msgID := r.NextMessageID()
	encoded, err := r.EncryptAndEncode([]ikev2.Payload{notify}, ikev2.IKE_AUTH, msgID, false)
	if err != nil {
		t.Fatalf("EncryptAndEncode 失败: %v", err)
	}

	// 接收方是同一条 SA 的响应方：持有同一套密钥，用 SK_ei/SK_ai 解密。
	peer := NewRecord(r.SPIi, r.SPIr, RoleResponder)
	peer.EncAlg, peer.IntegAlg, peer.PRFAlg, peer.Keys = r.EncAlg, r.IntegAlg, r.PRFAlg, r.Keys
	_, payloads, err := peer.DecodeAndDecrypt(encoded)
	if err != nil {
		t.Fatalf("DecodeAndDecrypt 失败: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("期望解出 1 个载荷, got %d", len(payloads))
	}
}

func TestMessageIDMonotonic(t *testing.T) {
	r := newTestRecord(t)
	first := r.NextMessageID()
	second := r.NextMessageID()
	if second != first+1 {
		t.Errorf("消息 ID 应严格递增: got %d then %d", first, second)
	}
}

func TestRecordReceivedRejectsReplay(t *testing.T) {
	r := newTestRecord(t)
	if err := r.RecordReceived(5); err != nil {
		t.Fatalf("首次接收不应失败: %v", err)
	}
	if err := r.RecordReceived(5); err == nil {
		t.Error("重复的消息 ID 应被拒绝")
	}
	if err := r.RecordReceived(4); err == nil {
		t.Error("乱序的旧消息 ID 应被拒绝")
	}
	if err := r.RecordReceived(6); err != nil {
		t.Errorf("递增的消息 ID 不应失败: %v", err)
	}
}

func TestCompareNoncesOrdersByConcatenation(t *testing.T) {
	if CompareNonces([]byte{1}, []byte{1}, []byte{2}, []byte{0}) >= 0 {
		t.Error("拼接后较小的一方不应判定为更大")
	}
	if CompareNonces([]byte{9}, []byte{9}, []byte{1}, []byte{1}) <= 0 {
		t.Error("拼接后较大的一方应判定为更大")
	}
}
