package ikev2

import "errors"

// EAP 载荷 (RFC 7296 §3.16)：载荷体就是一条完整的 EAP 报文，内部
// 结构由 pkg/eap 解析。
type EncryptedPayloadEAP struct {
	EAPMessage []byte
}

func (p *EncryptedPayloadEAP) Type() PayloadType { return EAP }

func (p *EncryptedPayloadEAP) Encode() ([]byte, error) {
	return p.EAPMessage, nil
}

func DecodePayloadEAP(data []byte) (*EncryptedPayloadEAP, error) {
	if len(data) < 4 { // EAP 头部最小长度
		return nil, errors.New("ikev2: EAP 载荷太短")
	}
	return &EncryptedPayloadEAP{EAPMessage: append([]byte(nil), data...)}, nil
}
