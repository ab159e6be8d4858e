package ikev2

import (
	"errors"
	"fmt"
)

// 身份载荷 (RFC 7296 §3.5)。IDi 与 IDr 结构相同，方向由 IsInitiator
// 决定。
type EncryptedPayloadID struct {
	IDType      uint8
	IDData      []byte
	IsInitiator bool
}

// 身份类型 (RFC 7296 §3.5)。
const (
	ID_IPV4_ADDR   = 1
	ID_FQDN        = 2
	ID_RFC822_ADDR = 3
	ID_IPV6_ADDR   = 5
	ID_DER_ASN1_DN = 9
	ID_DER_ASN1_GN = 10
	ID_KEY_ID      = 11
)

// validIDType 报告身份类型是否在登记表内。
func validIDType(t uint8) bool {
	switch t {
	case ID_IPV4_ADDR, ID_FQDN, ID_RFC822_ADDR, ID_IPV6_ADDR,
		ID_DER_ASN1_DN, ID_DER_ASN1_GN, ID_KEY_ID:
		return true
	}
	return false
}

func (p *EncryptedPayloadID) Type() PayloadType {
	if p.IsInitiator {
		return IDi
	}
	return IDr
}

// Encode 产出载荷体: 类型(1) + 保留(3) + 身份数据。该字节串同时是
// AUTH 签名八位组里 prf(SK_p, ID Body) 的输入。
func (p *EncryptedPayloadID) Encode() ([]byte, error) {
	if !validIDType(p.IDType) {
		return nil, fmt.Errorf("ikev2: 未知的身份类型 %d", p.IDType)
	}
	buf := make([]byte, 4+len(p.IDData))
	buf[0] = p.IDType
	copy(buf[4:], p.IDData)
	return buf, nil
}

func DecodePayloadID(data []byte, isInitiator bool) (*EncryptedPayloadID, error) {
	if len(data) < 4 {
		return nil, errors.New("ikev2: ID 载荷太短")
	}
	idType := data[0]
	if !validIDType(idType) {
		return nil, fmt.Errorf("ikev2: 未知的身份类型 %d", idType)
	}
	// IP 型身份的长度是固定的。
	body := data[4:]
	switch idType {
	case ID_IPV4_ADDR:
		if len(body) != 4 {
			return nil, errors.New("ikev2: IPv4 身份长度非法")
		}
	case ID_IPV6_ADDR:
		if len(body) != 16 {
			return nil, errors.New("ikev2: IPv6 身份长度非法")
		}
	}
	return &EncryptedPayloadID{
		IDType:      idType,
		IDData:      append([]byte(nil), body...),
		IsInitiator: isInitiator,
	}, nil
}
