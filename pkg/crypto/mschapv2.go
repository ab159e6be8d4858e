package crypto

import (
	"bytes"
	"crypto/des"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"math/bits"
	"unicode/utf16"
)

// MSCHAPv2 (RFC 2759) 原语。标准库没有 MD4，这里按照
// FIPS1862PRFSHA1 手写 SHA-1 的思路手写 MD4。

// md4 实现 RFC 1320
type md4Digest struct {
	s   [4]uint32
	x   [64]byte
	nx  int
	len uint64
}

func newMD4() *md4Digest {
	d := &md4Digest{}
	d.s[0], d.s[1], d.s[2], d.s[3] = 0x67452301, 0xefcdab89, 0x98badcfe, 0x10325476
	return d
}

func (d *md4Digest) Write(p []byte) {
	d.len += uint64(len(p))
	if d.nx > 0 {
		n := copy(d.x[d.nx:], p)
		d.nx += n
		p = p[n:]
		if d.nx == 64 {
			md4Block(d, d.x[:])
			d.nx = 0
		}
	}
	for len(p) >= 64 {
		md4Block(d, p[:64])
		p = p[64:]
	}
	if len(p) > 0 {
		d.nx = copy(d.x[:], p)
	}
}

func (d *md4Digest) Sum() [16]byte {
	bitLen := d.len << 3
	msgLen := d.len
	var tmp [64]byte
	tmp[0] = 0x80
	if msgLen%64 < 56 {
		d.Write(tmp[0 : 56-msgLen%64])
	} else {
		d.Write(tmp[0 : 64+56-msgLen%64])
	}
	binary.LittleEndian.PutUint64(tmp[:8], bitLen)
	d.Write(tmp[:8])

	var out [16]byte
	binary.LittleEndian.PutUint32(out[0:4], d.s[0])
	binary.LittleEndian.PutUint32(out[4:8], d.s[1])
	binary.LittleEndian.PutUint32(out[8:12], d.s[2])
	binary.LittleEndian.PutUint32(out[12:16], d.s[3])
	return out
}

func md4Block(d *md4Digest, p []byte) {
	a, b, c, dd := d.s[0], d.s[1], d.s[2], d.s[3]
	var x [16]uint32
	for i := range x {
		x[i] = binary.LittleEndian.Uint32(p[i*4:])
	}

	round1 := func(a, b, c, d, k uint32, s int) uint32 {
		a += ((b & c) | (^b & d)) + x[k]
		return bits.RotateLeft32(a, s)
	}
	round2 := func(a, b, c, d, k uint32, s int) uint32 {
		a += ((b & c) | (b & d) | (c & d)) + x[k] + 0x5a827999
		return bits.RotateLeft32(a, s)
	}
	round3 := func(a, b, c, d, k uint32, s int) uint32 {
		a += (b ^ c ^ d) + x[k] + 0x6ed9eba1
		return bits.RotateLeft32(a, s)
	}

	sh1 := []int{3, 7, 11, 19}
	for i := 0; i < 4; i++ {
		a = round1(a, b, c, dd, uint32(i*4+0), sh1[0])
		dd = round1(dd, a, b, c, uint32(i*4+1), sh1[1])
		c = round1(c, dd, a, b, uint32(i*4+2), sh1[2])
		b = round1(b, c, dd, a, uint32(i*4+3), sh1[3])
	}

	sh2 := []int{3, 5, 9, 13}
	order2 := []int{0, 4, 8, 12, 1, 5, 9, 13, 2, 6, 10, 14, 3, 7, 11, 15}
	for i := 0; i < 4; i++ {
		a = round2(a, b, c, dd, uint32(order2[i*4+0]), sh2[0])
		dd = round2(dd, a, b, c, uint32(order2[i*4+1]), sh2[1])
		c = round2(c, dd, a, b, uint32(order2[i*4+2]), sh2[2])
		b = round2(b, c, dd, a, uint32(order2[i*4+3]), sh2[3])
	}

	sh3 := []int{3, 9, 11, 15}
	order3 := []int{0, 8, 4, 12, 2, 10, 6, 14, 1, 9, 5, 13, 3, 11, 7, 15}
	for i := 0; i < 4; i++ {
		a = round3(a, b, c, dd, uint32(order3[i*4+0]), sh3[0])
		dd = round3(dd, a, b, c, uint32(order3[i*4+1]), sh3[1])
		c = round3(c, dd, a, b, uint32(order3[i*4+2]), sh3[2])
		b = round3(b, c, dd, a, uint32(order3[i*4+3]), sh3[3])
	}

	d.s[0] += a
	d.s[1] += b
	d.s[2] += c
	d.s[3] += dd
}

func md4Sum(data []byte) []byte {
	d := newMD4()
	d.Write(data)
	sum := d.Sum()
	return sum[:]
}

// NtPasswordHash = MD4(UTF-16LE(password))
func NtPasswordHash(password string) ([]byte, error) {
	u16, err := utf16LEBytes(password)
	if err != nil {
		return nil, err
	}
	return md4Sum(u16), nil
}

// HashNtPasswordHash = MD4(h)
func HashNtPasswordHash(h []byte) []byte {
	return md4Sum(h)
}

// ChallengeHash = 前 8 字节 SHA1(peerChallenge || authChallenge || username)
func ChallengeHash(peerChallenge, authChallenge []byte, username string) ([]byte, error) {
	if len(peerChallenge) != 16 || len(authChallenge) != 16 {
		return nil, errors.New("challenge 长度必须为 16 字节")
	}
	if !isASCII(username) {
		return nil, errors.New("用户名必须为 ASCII")
	}
	name := stripDomain(username)

	h := sha1.New()
	h.Write(peerChallenge)
	h.Write(authChallenge)
	h.Write([]byte(name))
	sum := h.Sum(nil)
	return sum[:8], nil
}

// ChallengeResponse 对 challenge 执行三次 DES-ECB 加密
func ChallengeResponse(challenge, passwordHash []byte) ([]byte, error) {
	if len(challenge) != 8 {
		return nil, errors.New("challenge 必须为 8 字节")
	}

	var padded [21]byte
	copy(padded[:], passwordHash)

	response := make([]byte, 24)
	keys := [3][7]byte{}
	copy(keys[0][:], padded[0:7])
	copy(keys[1][:], padded[7:14])
	copy(keys[2][:], padded[14:21])

	for i, k := range keys {
		desKey := expandDESKey(k)
		block, err := des.NewCipher(desKey)
		if err != nil {
			return nil, err
		}
		block.Encrypt(response[i*8:(i+1)*8], challenge)
	}
	return response, nil
}

// expandDESKey 将 7 字节密钥扩展为 8 字节 DES 密钥 (插入奇偶校验位)
func expandDESKey(k [7]byte) []byte {
	var out [8]byte
	out[0] = k[0]
	out[1] = k[0]<<7 | k[1]>>1
	out[2] = k[1]<<6 | k[2]>>2
	out[3] = k[2]<<5 | k[3]>>3
	out[4] = k[3]<<4 | k[4]>>4
	out[5] = k[4]<<3 | k[5]>>5
	out[6] = k[5]<<2 | k[6]>>6
	out[7] = k[6] << 1

	for i := range out {
		var bitCount int
		for b := out[i] & 0xfe; b != 0; b &= b - 1 {
			bitCount++
		}
		if bitCount%2 == 0 {
			out[i] |= 1
		} else {
			out[i] &^= 1
		}
	}
	return out[:]
}

// GenerateNtResponse = ChallengeResponse(ChallengeHash(peer,auth,user), NtPasswordHash(password))
func GenerateNtResponse(authChallenge, peerChallenge []byte, username, password string) ([]byte, error) {
	ch, err := ChallengeHash(peerChallenge, authChallenge, username)
	if err != nil {
		return nil, err
	}
	hash, err := NtPasswordHash(password)
	if err != nil {
		return nil, err
	}
	return ChallengeResponse(ch, hash)
}

var magic1 = []byte("Magic server to client signing constant")
var magic2 = []byte("Pad to make it do more than one iteration")

// GenerateAuthenticatorResponse 按 RFC 2759 §8.7
func GenerateAuthenticatorResponse(password, ntResponse string, peerChallenge, authChallenge []byte, username string) (string, error) {
	hash, err := NtPasswordHash(password)
	if err != nil {
		return "", err
	}
	hashHash := HashNtPasswordHash(hash)

	h := sha1.New()
	h.Write(hashHash)
	h.Write([]byte(ntResponse))
	h.Write(magic1)
	digest := h.Sum(nil)

	challenge, err := ChallengeHash(peerChallenge, authChallenge, username)
	if err != nil {
		return "", err
	}

	h2 := sha1.New()
	h2.Write(digest)
	h2.Write(challenge)
	h2.Write(magic2)
	final := h2.Sum(nil)

	return "S=" + encodeHexUpper(final), nil
}

// CheckAuthenticatorResponse 常数时间比较
func CheckAuthenticatorResponse(expected, got string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

var (
	mppeMagic1  = []byte("This is the MPPE Master Key")
	mppeMagic2  = []byte("On the client side, this is the send key; on the server side, it is the receive key.")
	mppeMagic3  = []byte("On the client side, this is the receive key; on the server side, it is the send key.")
	mppeShaPad1 = make([]byte, 40)
	mppeShaPad2 = bytes.Repeat([]byte{0xf2}, 40)
)

// GetMasterKey 按 RFC 3079 §3.4 从 PasswordHashHash 与 NT-Response
// 派生 MPPE 主密钥 (16 字节)。
func GetMasterKey(passwordHashHash, ntResponse []byte) []byte {
	h := sha1.New()
	h.Write(passwordHashHash)
	h.Write(ntResponse)
	h.Write(mppeMagic1)
	return h.Sum(nil)[:16]
}

// GetAsymmetricStartKey 按 RFC 3079 §3.5 从主密钥派生单向会话密钥。
// isSend 报告本端是否为该密钥的发送方，isServer 报告本端是否为鉴权方。
func GetAsymmetricStartKey(masterKey []byte, isSend, isServer bool) []byte {
	magic := mppeMagic2
	if isSend == isServer {
		magic = mppeMagic3
	}
	h := sha1.New()
	h.Write(masterKey)
	h.Write(mppeShaPad1)
	h.Write(magic)
	h.Write(mppeShaPad2)
	return h.Sum(nil)[:16]
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

func stripDomain(username string) string {
	if idx := bytes.LastIndexByte([]byte(username), '\\'); idx >= 0 {
		return username[idx+1:]
	}
	return username
}

func utf16LEBytes(s string) ([]byte, error) {
	u16 := utf16.Encode([]rune(s))
	out := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out, nil
}

const hexDigitsUpper = "0123456789ABCDEF"

func encodeHexUpper(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigitsUpper[v>>4]
		out[i*2+1] = hexDigitsUpper[v&0xf]
	}
	return string(out)
}
