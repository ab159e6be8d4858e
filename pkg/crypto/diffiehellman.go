package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"math/big"
)

// RFC 3526 模指数 (MODP) Diffie-Hellman 组

var (
	prime1024, _ = new(big.Int).SetString("FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598DA4811FFFFFFFFFFFFFFFF", 16)
	// 组 14: 2048 位 MODP 组
	// 素数是 2^2048 - 2^1984 - 1 + 2^64 * { [2^1918 pi] + 124476 }
	prime2048, _ = new(big.Int).SetString("FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF6955817183995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF", 16)
	prime3072, _ = new(big.Int).SetString("FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF6955817183995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF", 16)
	gen2         = big.NewInt(2)
)

// modpGroup 描述一个 RFC 3526 MODP 组
type modpGroup struct {
	p *big.Int
	g *big.Int
}

var modpGroups = map[uint16]modpGroup{
	2:  {p: prime1024, g: gen2},
	14: {p: prime2048, g: gen2},
	15: {p: prime3072, g: gen2},
}

// ecpCurve 将 IKEv2 DH 组 ID 映射到 crypto/ecdh 曲线
var ecpCurves = map[uint16]func() ecdh.Curve{
	19: ecdh.P256,
	20: ecdh.P384,
	21: ecdh.P521,
}

type DiffieHellman struct {
	Group      uint16
	PrivateKey *big.Int
	PublicKey  *big.Int
	SharedKey  []byte
	P          *big.Int
	G          *big.Int

	ecKey *ecdh.PrivateKey
	ecPub *ecdh.PublicKey
}

func NewDiffieHellman(group uint16) (*DiffieHellman, error) {
	dh := &DiffieHellman{Group: group}

	if g, ok := modpGroups[group]; ok {
		dh.P = g.p
		dh.G = g.g
		return dh, nil
	}
	if _, ok := ecpCurves[group]; ok {
		return dh, nil
	}
	return nil, errors.New("不支持的 DH 组")
}

func (dh *DiffieHellman) isECP() bool {
	_, ok := ecpCurves[dh.Group]
	return ok
}

func (dh *DiffieHellman) GenerateKey() error {
	if dh.isECP() {
		curve := ecpCurves[dh.Group]()
		key, err := curve.GenerateKey(rand.Reader)
		if err != nil {
			return err
		}
		dh.ecKey = key
		return nil
	}

	// 生成私钥: 随机数 < P
	// RFC 建议私钥长度 >= 2 * 组强度；简单起见在 [0, P-1] 内均匀采样。
	var err error
	dh.PrivateKey, err = rand.Int(rand.Reader, dh.P)
	if err != nil {
		return err
	}

	// 计算公钥: G^x mod P
	dh.PublicKey = new(big.Int).Exp(dh.G, dh.PrivateKey, dh.P)

	return nil
}

func (dh *DiffieHellman) ComputeSharedSecret(peerPubKeyBytes []byte) ([]byte, error) {
	if dh.isECP() {
		curve := ecpCurves[dh.Group]()
		peerKey, err := curve.NewPublicKey(peerPubKeyBytes)
		if err != nil {
			return nil, errors.New("无效的对端公钥")
		}
		dh.ecPub = peerKey
		secret, err := dh.ecKey.ECDH(peerKey)
		if err != nil {
			return nil, err
		}
		dh.SharedKey = secret
		return dh.SharedKey, nil
	}

	peerPubKey := new(big.Int).SetBytes(peerPubKeyBytes)

	// 验证对端密钥: 1 < peer < P-1
	one := big.NewInt(1)
	pMinusOne := new(big.Int).Sub(dh.P, one)
	if peerPubKey.Cmp(one) <= 0 || peerPubKey.Cmp(pMinusOne) >= 0 {
		return nil, errors.New("无效的对端公钥")
	}

	// 计算 S = peer^x mod P
	secret := new(big.Int).Exp(peerPubKey, dh.PrivateKey, dh.P)

	// 转换为字节 (左侧填充零以匹配载荷长度)
	keyLen := (dh.P.BitLen() + 7) / 8
	secretBytes := secret.Bytes()

	if len(secretBytes) < keyLen {
		padding := make([]byte, keyLen-len(secretBytes))
		dh.SharedKey = append(padding, secretBytes...)
	} else {
		dh.SharedKey = secretBytes
	}

	return dh.SharedKey, nil
}

func (dh *DiffieHellman) PublicKeyBytes() []byte {
	if dh.isECP() {
		return dh.ecKey.PublicKey().Bytes()
	}

	keyLen := (dh.P.BitLen() + 7) / 8
	pubBytes := dh.PublicKey.Bytes()

	if len(pubBytes) < keyLen {
		padding := make([]byte, keyLen-len(pubBytes))
		return append(padding, pubBytes...)
	}
	return pubBytes
}
