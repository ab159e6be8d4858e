package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// RFC 4868 附录给出的 HMAC-SHA-256 测试用例 1 截断到 128 位，锚定
// truncatedHMAC 的正确性。
func TestIntegrityHMACSHA256Vector(t *testing.T) {
	integ, err := GetIntegrityAlgorithm(12)
	if err != nil {
		t.Fatal(err)
	}
	key := bytes.Repeat([]byte{0x0b}, 32)
	data := []byte("Hi There")
	want, _ := hex.DecodeString("198a607eb44bfbc69903a0f1cf2bbdc5")

	got := integ.Compute(key, data)
	if !bytes.Equal(got, want) {
		t.Fatalf("ICV = %x, 期望 %x", got, want)
	}
	if !integ.Verify(key, data, want) {
		t.Fatal("Verify 对正确 ICV 返回 false")
	}
	if integ.Verify(key, data, append([]byte{}, want[:15]...)) {
		t.Fatal("截断的 ICV 不应通过校验")
	}
}

func TestIntegrityRegistrySizes(t *testing.T) {
	cases := []struct {
		id      uint16
		outSize int
		keySize int
	}{
		{0, 0, 0},
		{2, 12, 20},
		{12, 16, 32},
		{13, 24, 48},
		{14, 32, 64},
	}
	for _, tc := range cases {
		integ, err := GetIntegrityAlgorithm(tc.id)
		if err != nil {
			t.Fatalf("id %d: %v", tc.id, err)
		}
		if integ.OutputSize() != tc.outSize || integ.KeySize() != tc.keySize {
			t.Errorf("id %d: out/key = %d/%d, 期望 %d/%d",
				tc.id, integ.OutputSize(), integ.KeySize(), tc.outSize, tc.keySize)
		}
	}
	if _, err := GetIntegrityAlgorithm(99); err == nil {
		t.Fatal("未知完整性算法 ID 应当报错")
	}
}

func TestPrfPlusDeterministicAndChained(t *testing.T) {
	key := []byte("test-key-1234567890")
	seed := []byte("test-seed-data")

	long, err := PrfPlus(PRF_HMAC_SHA2_256, key, seed, 100)
	if err != nil {
		t.Fatalf("PrfPlus: %v", err)
	}
	if len(long) != 100 {
		t.Fatalf("长度 = %d, 期望 100", len(long))
	}

	// 确定性: 同输入同输出。
	again, _ := PrfPlus(PRF_HMAC_SHA2_256, key, seed, 100)
	if !bytes.Equal(long, again) {
		t.Fatal("相同输入的 prf+ 输出不一致")
	}

	// 前缀性: 短请求是长请求的前缀 (T1|T2|... 的切断)。
	short, _ := PrfPlus(PRF_HMAC_SHA2_256, key, seed, 40)
	if !bytes.Equal(short, long[:40]) {
		t.Fatal("prf+ 的短输出不是长输出的前缀")
	}

	// 不同 PRF 的密钥长度正确传导。
	if PRF_HMAC_SHA2_384.KeyLen() != 48 || PRF_HMAC_SHA1.KeyLen() != 20 {
		t.Fatal("PRF KeyLen 不符")
	}
}

func TestEncrypterRoundTrips(t *testing.T) {
	cases := []struct {
		name      string
		id        uint16
		keyLen    int // 含盐总长
		plaintext []byte
		aad       []byte
	}{
		{"aes-cbc-128", 12, 16, []byte("HelloIKEv2World!"), nil}, // 块对齐明文
		{"aes-ctr-128", 13, 20, []byte("stream mode, any length"), nil},
		{"aes-gcm-16-128", 20, 20, []byte("Hello, IKEv2 World!"), []byte("aad")},
		{"aes-gcm-16-256", 20, 36, []byte("Hello, IKEv2 World!"), []byte("aad")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keyBits := (tc.keyLen) * 8
			if tc.id != 12 { // 盐不算进 Key Length 属性
				keyBits = (tc.keyLen - 4) * 8
			}
			enc, err := GetEncrypterWithKeyLen(tc.id, keyBits)
			if err != nil {
				t.Fatal(err)
			}
			key := bytes.Repeat([]byte{0x42}, tc.keyLen)
			iv, err := RandomBytes(enc.IVSize())
			if err != nil {
				t.Fatal(err)
			}

			ciphertext, err := enc.Encrypt(tc.plaintext, key, iv, tc.aad)
			if err != nil {
				t.Fatalf("加密: %v", err)
			}
			if len(ciphertext) != len(tc.plaintext)+enc.Overhead() {
				t.Fatalf("密文长度 = %d, 期望明文 %d + 开销 %d",
					len(ciphertext), len(tc.plaintext), enc.Overhead())
			}
			decrypted, err := enc.Decrypt(ciphertext, key, iv, tc.aad)
			if err != nil {
				t.Fatalf("解密: %v", err)
			}
			if !bytes.Equal(tc.plaintext, decrypted) {
				t.Fatalf("往返不一致: %q vs %q", decrypted, tc.plaintext)
			}
		})
	}
}

func TestGCMRejectsTamperedAAD(t *testing.T) {
	enc, err := GetEncrypter(20)
	if err != nil {
		t.Fatal(err)
	}
	key := bytes.Repeat([]byte{0x24}, 20)
	iv := bytes.Repeat([]byte{0x01}, 8)
	ciphertext, err := enc.Encrypt([]byte("payload"), key, iv, []byte("header"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Decrypt(ciphertext, key, iv, []byte("HEADER")); err == nil {
		t.Fatal("被篡改的 AAD 应当解密失败")
	}
}

func TestGCM8Unsupported(t *testing.T) {
	if _, err := GetEncrypter(18); err == nil {
		t.Fatal("AES-GCM-8 低于标准库标签下限，应当报错")
	}
}

func TestRandomBytes(t *testing.T) {
	b1, err := RandomBytes(32)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := RandomBytes(32)
	if err != nil {
		t.Fatal(err)
	}
	if len(b1) != 32 || bytes.Equal(b1, b2) {
		t.Fatal("随机输出长度或独立性不符")
	}
}
