package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

// IKEv2 变换类型 1 中本实现支持的加密算法 ID。
const (
	encrAESCBC   uint16 = 12
	encrAESCTR   uint16 = 13
	encrAESGCM8  uint16 = 18
	encrAESGCM12 uint16 = 19
	encrAESGCM16 uint16 = 20
)

// Encrypter 抽象一种 SK 载荷加密算法。对 AEAD 算法，Encrypt 的输出
// 尾部携带认证标签，aad 参与认证；对普通算法 aad 被忽略，完整性由
// IntegrityAlgorithm 单独保证。KeySize 不含 AEAD/CTR 的 4 字节盐。
type Encrypter interface {
	Encrypt(plaintext, key, iv, aad []byte) ([]byte, error)
	Decrypt(ciphertext, key, iv, aad []byte) ([]byte, error)
	IVSize() int
	BlockSize() int
	KeySize() int
	// SaltSize 是密钥材料尾部附带的盐长度 (GCM/CTR 为 4，CBC 为 0)，
	// 密钥派生时需要一并从 prf+ 输出中切出。
	SaltSize() int
	// Overhead 是密文相对明文多出的字节数 (AEAD 的认证标签)。
	Overhead() int
}

// saltedKey 拆出 [密钥 | 4 字节盐] 形式的密钥材料 (RFC 4106/5930)。
func saltedKey(key []byte) (realKey, salt []byte, err error) {
	if len(key) < 5 {
		return nil, nil, errors.New("crypto: 带盐密钥太短")
	}
	return key[:len(key)-4], key[len(key)-4:], nil
}

// AES-CBC (RFC 3602)。填充由上层的 SK 封装负责，这里要求输入已块对齐。
type aesCBC struct {
	keySize int
}

func (e *aesCBC) IVSize() int    { return aes.BlockSize }
func (e *aesCBC) BlockSize() int { return aes.BlockSize }
func (e *aesCBC) KeySize() int   { return e.keySize }
func (e *aesCBC) SaltSize() int  { return 0 }
func (e *aesCBC) Overhead() int  { return 0 }

func (e *aesCBC) Encrypt(plaintext, key, iv, aad []byte) ([]byte, error) {
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, errors.New("crypto: 明文未按块对齐")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

func (e *aesCBC) Decrypt(ciphertext, key, iv, aad []byte) ([]byte, error) {
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("crypto: 密文未按块对齐")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

// AES-CTR (RFC 5930): 计数器块 = 4 字节盐 | 8 字节 IV | 4 字节块计数
// (从 1 开始)。流密码无填充需求，但 BlockSize 返回 1 让 SK 封装按
// 最小单位填充。
type aesCTR struct {
	keySize int
}

func (e *aesCTR) IVSize() int    { return 8 }
func (e *aesCTR) BlockSize() int { return 1 }
func (e *aesCTR) KeySize() int   { return e.keySize }
func (e *aesCTR) SaltSize() int  { return 4 }
func (e *aesCTR) Overhead() int  { return 0 }

func (e *aesCTR) xcrypt(data, key, iv []byte) ([]byte, error) {
	realKey, salt, err := saltedKey(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != 8 {
		return nil, errors.New("crypto: CTR IV 必须为 8 字节")
	}
	block, err := aes.NewCipher(realKey)
	if err != nil {
		return nil, err
	}
	counter := make([]byte, aes.BlockSize)
	copy(counter[0:4], salt)
	copy(counter[4:12], iv)
	counter[15] = 1
	out := make([]byte, len(data))
	cipher.NewCTR(block, counter).XORKeyStream(out, data)
	return out, nil
}

func (e *aesCTR) Encrypt(plaintext, key, iv, aad []byte) ([]byte, error) {
	return e.xcrypt(plaintext, key, iv)
}

func (e *aesCTR) Decrypt(ciphertext, key, iv, aad []byte) ([]byte, error) {
	return e.xcrypt(ciphertext, key, iv)
}

// AES-GCM (RFC 4106/5282): nonce = 4 字节盐 | 8 字节显式 IV，认证标签
// 附在密文尾部。
type aesGCM struct {
	tagSize int
	keySize int
}

func (e *aesGCM) IVSize() int    { return 8 }
func (e *aesGCM) BlockSize() int { return 16 }
func (e *aesGCM) KeySize() int   { return e.keySize }
func (e *aesGCM) SaltSize() int  { return 4 }
func (e *aesGCM) Overhead() int  { return e.tagSize }

func (e *aesGCM) newAEAD(key []byte) (cipher.AEAD, []byte, error) {
	realKey, salt, err := saltedKey(key)
	if err != nil {
		return nil, nil, err
	}
	block, err := aes.NewCipher(realKey)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCMWithTagSize(block, e.tagSize)
	if err != nil {
		return nil, nil, err
	}
	return gcm, salt, nil
}

func (e *aesGCM) Encrypt(plaintext, key, iv, aad []byte) ([]byte, error) {
	gcm, salt, err := e.newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := append(append([]byte{}, salt...), iv...)
	return gcm.Seal(nil, nonce, plaintext, aad), nil
}

func (e *aesGCM) Decrypt(ciphertext, key, iv, aad []byte) ([]byte, error) {
	gcm, salt, err := e.newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := append(append([]byte{}, salt...), iv...)
	return gcm.Open(nil, nonce, ciphertext, aad)
}

// GetEncrypter 等价于 GetEncrypterWithKeyLen(id, 0)，使用算法的默认
// 密钥长度 (128 位)。
func GetEncrypter(id uint16) (Encrypter, error) {
	return GetEncrypterWithKeyLen(id, 0)
}

// GetEncrypterWithKeyLen 按变换 ID 与 Key Length 属性构造加密器。
func GetEncrypterWithKeyLen(id uint16, keyLenBits int) (Encrypter, error) {
	keySize := 16
	if keyLenBits != 0 {
		if keyLenBits%8 != 0 {
			return nil, errors.New("crypto: 无效的密钥长度")
		}
		keySize = keyLenBits / 8
	}

	switch id {
	case encrAESCBC:
		return &aesCBC{keySize: keySize}, nil
	case encrAESCTR:
		return &aesCTR{keySize: keySize}, nil
	case encrAESGCM8:
		// 标准库 GCM 的最小标签长度是 12 字节，8 字节 ICV 变体无法构造。
		return nil, errors.New("crypto: 不支持 AES-GCM-8")
	case encrAESGCM12:
		return &aesGCM{tagSize: 12, keySize: keySize}, nil
	case encrAESGCM16:
		return &aesGCM{tagSize: 16, keySize: keySize}, nil
	default:
		return nil, errors.New("crypto: 不支持的加密算法")
	}
}

// RandomBytes 从系统随机源读取 n 字节。
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := io.ReadFull(rand.Reader, b)
	return b, err
}
