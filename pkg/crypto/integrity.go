package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"hash"
)

// IntegrityAlgorithm 计算与校验 IKE 报文的完整性校验值 (ICV)。
type IntegrityAlgorithm interface {
	Compute(key, data []byte) []byte
	Verify(key, data, expectedMAC []byte) bool
	OutputSize() int
	KeySize() int
}

// truncatedHMAC 覆盖 IKEv2 的全部 AUTH_HMAC_* 变换：完整 HMAC 输出
// 截断到变换规定的位宽 (RFC 4868 §2.3)，密钥长度等于散列输出长度。
type truncatedHMAC struct {
	newHash  func() hash.Hash
	truncLen int
	keyLen   int
}

func (h *truncatedHMAC) Compute(key, data []byte) []byte {
	mac := hmac.New(h.newHash, key)
	mac.Write(data)
	return mac.Sum(nil)[:h.truncLen]
}

func (h *truncatedHMAC) Verify(key, data, expectedMAC []byte) bool {
	return hmac.Equal(h.Compute(key, data), expectedMAC)
}

func (h *truncatedHMAC) OutputSize() int { return h.truncLen }
func (h *truncatedHMAC) KeySize() int    { return h.keyLen }

// nullIntegrity 配合 AEAD 使用：完整性由组合模式密码自身承担。
type nullIntegrity struct{}

func (nullIntegrity) Compute(key, data []byte) []byte   { return nil }
func (nullIntegrity) Verify(key, data, mac []byte) bool { return true }
func (nullIntegrity) OutputSize() int                   { return 0 }
func (nullIntegrity) KeySize() int                      { return 0 }

// integrityRegistry 按 IKEv2 变换类型 3 的 ID 登记各算法。
var integrityRegistry = map[uint16]func() IntegrityAlgorithm{
	0: func() IntegrityAlgorithm { return nullIntegrity{} }, // AUTH_NONE
	2: func() IntegrityAlgorithm { // AUTH_HMAC_SHA1_96
		return &truncatedHMAC{newHash: sha1.New, truncLen: 12, keyLen: sha1.Size}
	},
	12: func() IntegrityAlgorithm { // AUTH_HMAC_SHA2_256_128
		return &truncatedHMAC{newHash: sha256.New, truncLen: 16, keyLen: sha256.Size}
	},
	13: func() IntegrityAlgorithm { // AUTH_HMAC_SHA2_384_192
		return &truncatedHMAC{newHash: sha512.New384, truncLen: 24, keyLen: sha512.Size384}
	},
	14: func() IntegrityAlgorithm { // AUTH_HMAC_SHA2_512_256
		return &truncatedHMAC{newHash: sha512.New, truncLen: 32, keyLen: sha512.Size}
	},
}

// GetIntegrityAlgorithm 按变换 ID 返回一个新的完整性算法实例。
func GetIntegrityAlgorithm(id uint16) (IntegrityAlgorithm, error) {
	ctor, ok := integrityRegistry[id]
	if !ok {
		return nil, errors.New("crypto: 不支持的完整性算法")
	}
	return ctor(), nil
}

// ComputeHMAC 计算一次完整 (未截断) 的 HMAC。
func ComputeHMAC(hashFunc func() hash.Hash, key, data []byte) []byte {
	mac := hmac.New(hashFunc, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyHMAC 常数时间校验一次完整 HMAC。
func VerifyHMAC(hashFunc func() hash.Hash, key, data, expectedMAC []byte) bool {
	return hmac.Equal(ComputeHMAC(hashFunc, key, data), expectedMAC)
}
