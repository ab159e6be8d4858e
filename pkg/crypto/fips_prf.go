package crypto

import (
	"encoding/binary"
	"math/bits"
)

// FIPS1862PRFSHA1 实现 FIPS 186-2 (含勘误 1) 附录 3.1 基于 SHA-1 的
// 伪随机数生成器，EAP-SIM/AKA 用它从 MK 展开 K_encr/K_aut/MSK/EMSK
// (RFC 4186 §7, RFC 4187 §7)。与普通 SHA-1 不同，G 函数取的是压缩
// 函数处理单个 512 位块后的内部状态，没有长度填充。
type FIPS1862PRFSHA1 struct {
	xkey [sha1Len]byte
}

const sha1Len = 20

// NewFIPS1862PRFSHA1 以 key 为 XKEY 种子构造生成器。key 按附录 3.1
// 的 b 位约定对齐到 160 位：过长取低位，过短左侧补零。
func NewFIPS1862PRFSHA1(key []byte) *FIPS1862PRFSHA1 {
	p := &FIPS1862PRFSHA1{}
	copyRightAligned(p.xkey[:], key)
	return p
}

// Bytes 产出 outLen 字节的密钥流。每轮 block 产出 40 字节 (两次 G
// 运算)，按需截断最后一轮。
func (p *FIPS1862PRFSHA1) Bytes(seed []byte, outLen int) []byte {
	if outLen <= 0 {
		return nil
	}
	out := make([]byte, 0, outLen)
	for len(out) < outLen {
		block := p.round(seed)
		if need := outLen - len(out); need < len(block) {
			block = block[:need]
		}
		out = append(out, block...)
	}
	return out
}

// round 执行附录 3.1 的一轮：对 j = 0,1 各算一次
// w_j = G(t, XKEY + XSEED mod 2^160)，然后 XKEY = 1 + XKEY + w_j。
func (p *FIPS1862PRFSHA1) round(seed []byte) []byte {
	var xseed [sha1Len]byte
	copyRightAligned(xseed[:], seed)

	var one [sha1Len]byte
	one[sha1Len-1] = 1

	out := make([]byte, 2*sha1Len)
	for j := 0; j < 2; j++ {
		var xval [sha1Len]byte
		add160(p.xkey[:], xseed[:], xval[:])

		var block [64]byte
		copy(block[:sha1Len], xval[:])
		w := sha1Compress(block[:])
		copy(out[j*sha1Len:(j+1)*sha1Len], w[:])

		var tmp [sha1Len]byte
		add160(p.xkey[:], w[:], tmp[:])
		add160(tmp[:], one[:], p.xkey[:])
	}
	return out
}

// copyRightAligned 把 src 右对齐拷入 dst：过长取低位字节，过短高位补零。
func copyRightAligned(dst, src []byte) {
	if len(src) >= len(dst) {
		copy(dst, src[len(src)-len(dst):])
		return
	}
	copy(dst[len(dst)-len(src):], src)
}

// add160 计算 dst = (a + b) mod 2^160，大端序。
func add160(a, b, dst []byte) {
	carry := 0
	for i := sha1Len - 1; i >= 0; i-- {
		s := int(a[i]) + int(b[i]) + carry
		dst[i] = byte(s)
		carry = s >> 8
	}
}

// sha1Compress 对单个 512 位块跑一遍 SHA-1 压缩函数并返回链值——即
// FIPS 186-2 的 G(t, c)。标准库不暴露内部状态，所以压缩函数在这里
// 展开实现。
func sha1Compress(block64 []byte) [sha1Len]byte {
	h := [5]uint32{0x67452301, 0xEFCDAB89, 0x98BADCFE, 0x10325476, 0xC3D2E1F0}

	var w [80]uint32
	for i := 0; i < 16; i++ {
		w[i] = binary.BigEndian.Uint32(block64[i*4 : i*4+4])
	}
	for i := 16; i < 80; i++ {
		w[i] = bits.RotateLeft32(w[i-3]^w[i-8]^w[i-14]^w[i-16], 1)
	}

	a, b, c, d, e := h[0], h[1], h[2], h[3], h[4]
	for i := 0; i < 80; i++ {
		var f, k uint32
		switch {
		case i < 20:
			f = (b & c) | (^b & d)
			k = 0x5A827999
		case i < 40:
			f = b ^ c ^ d
			k = 0x6ED9EBA1
		case i < 60:
			f = (b & c) | (b & d) | (c & d)
			k = 0x8F1BBCDC
		default:
			f = b ^ c ^ d
			k = 0xCA62C1D6
		}
		a, b, c, d, e = bits.RotateLeft32(a, 5)+f+e+k+w[i], a, bits.RotateLeft32(b, 30), c, d
	}

	h[0] += a
	h[1] += b
	h[2] += c
	h[3] += d
	h[4] += e

	var out [sha1Len]byte
	for i, v := range h {
		binary.BigEndian.PutUint32(out[i*4:i*4+4], v)
	}
	return out
}
