package ikev2

import (
	"encoding/binary"
	"errors"
)

// 密钥交换载荷 (RFC 7296 §3.4)。
type EncryptedPayloadKE struct {
	DHGroup AlgorithmType
	KEData  []byte
}

func (p *EncryptedPayloadKE) Type() PayloadType { return KE }

// Encode 产出载荷体: DH 组(2) + 保留(2) + 公钥数据。
func (p *EncryptedPayloadKE) Encode() ([]byte, error) {
	if len(p.KEData) == 0 {
		return nil, errors.New("ikev2: KE 载荷缺少公钥数据")
	}
	buf := make([]byte, 4+len(p.KEData))
	binary.BigEndian.PutUint16(buf[0:2], uint16(p.DHGroup))
	copy(buf[4:], p.KEData)
	return buf, nil
}

func DecodePayloadKE(data []byte) (*EncryptedPayloadKE, error) {
	if len(data) <= 4 {
		return nil, errors.New("ikev2: KE 载荷太短")
	}
	return &EncryptedPayloadKE{
		DHGroup: AlgorithmType(binary.BigEndian.Uint16(data[0:2])),
		KEData:  append([]byte(nil), data[4:]...),
	}, nil
}

// Nonce 载荷 (RFC 7296 §3.9): 16 到 256 字节的随机数。
type EncryptedPayloadNonce struct {
	NonceData []byte
}

const (
	nonceMinLen = 16
	nonceMaxLen = 256
)

func (p *EncryptedPayloadNonce) Type() PayloadType { return NiNr }

func (p *EncryptedPayloadNonce) Encode() ([]byte, error) {
	if len(p.NonceData) < nonceMinLen || len(p.NonceData) > nonceMaxLen {
		return nil, errors.New("ikev2: Nonce 长度必须在 16 到 256 字节之间")
	}
	return p.NonceData, nil
}

func DecodePayloadNonce(data []byte) (*EncryptedPayloadNonce, error) {
	if len(data) < nonceMinLen || len(data) > nonceMaxLen {
		return nil, errors.New("ikev2: Nonce 长度必须在 16 到 256 字节之间")
	}
	return &EncryptedPayloadNonce{NonceData: append([]byte(nil), data...)}, nil
}
