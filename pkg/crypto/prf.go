package crypto

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"hash"
)

// PRF 是 IKEv2 协商出的伪随机函数。Hash 作为方法值满足 hmac.New 的
// 工厂签名，KeyLen 是 RFC 7296 §2.13 规定的首选密钥长度 (等于散列
// 输出长度)。
type PRF interface {
	Hash() hash.Hash
	KeyLen() int
}

type hmacPRF struct {
	newHash func() hash.Hash
	keyLen  int
}

func (h *hmacPRF) Hash() hash.Hash { return h.newHash() }
func (h *hmacPRF) KeyLen() int     { return h.keyLen }

var (
	PRF_HMAC_MD5      = &hmacPRF{newHash: md5.New, keyLen: md5.Size}
	PRF_HMAC_SHA1     = &hmacPRF{newHash: sha1.New, keyLen: sha1.Size}
	PRF_HMAC_SHA2_256 = &hmacPRF{newHash: sha256.New, keyLen: sha256.Size}
	PRF_HMAC_SHA2_384 = &hmacPRF{newHash: sha512.New384, keyLen: sha512.Size384}
	PRF_HMAC_SHA2_512 = &hmacPRF{newHash: sha512.New, keyLen: sha512.Size}
)

// prfRegistry 按 IKEv2 变换类型 2 的 ID 登记各 PRF。
var prfRegistry = map[uint16]PRF{
	1: PRF_HMAC_MD5,
	2: PRF_HMAC_SHA1,
	5: PRF_HMAC_SHA2_256,
	6: PRF_HMAC_SHA2_384,
	7: PRF_HMAC_SHA2_512,
}

// GetPRF 按变换 ID 返回 PRF。实例无内部状态，可安全共享。
func GetPRF(id uint16) (PRF, error) {
	prf, ok := prfRegistry[id]
	if !ok {
		return nil, errors.New("crypto: 不支持的 PRF ID")
	}
	return prf, nil
}

// PrfPlus 实现 RFC 7296 §2.13 的 prf+ 扩展:
//
//	prf+(K, S) = T1 | T2 | T3 | ...
//	T1 = prf(K, S | 0x01), Tn = prf(K, Tn-1 | S | n)
//
// 计数器只有一个字节，扩展上限为 255 块。
func PrfPlus(prf PRF, key, seed []byte, totalBytes int) ([]byte, error) {
	out := make([]byte, 0, totalBytes)
	var prev []byte
	for counter := byte(1); len(out) < totalBytes; counter++ {
		if counter == 0 { // 255 块之后回绕
			return nil, errors.New("crypto: prf+ 请求的密钥材料超过上限")
		}
		mac := hmac.New(prf.Hash, key)
		mac.Write(prev)
		mac.Write(seed)
		mac.Write([]byte{counter})
		prev = mac.Sum(nil)
		out = append(out, prev...)
	}
	return out[:totalBytes], nil
}
