package ikev2

import (
	"encoding/binary"
	"fmt"
)

// 配置载荷 (RFC 7296 §3.15)。
type EncryptedPayloadCP struct {
	CFGType    uint8
	Attributes []*CPAttribute
}

const (
	CFG_REQUEST = 1
	CFG_REPLY   = 2
	CFG_SET     = 3
	CFG_ACK     = 4
)

// 配置属性类型 (RFC 7296 §3.15.1 + 3GPP 私有登记)。
const (
	INTERNAL_IP4_ADDRESS       = 1
	INTERNAL_IP4_NETMASK       = 2
	INTERNAL_IP4_DNS           = 3
	INTERNAL_IP4_NBNS          = 4
	INTERNAL_IP4_DHCP          = 6
	APPLICATION_VERSION        = 7
	INTERNAL_IP6_ADDRESS       = 8
	INTERNAL_IP6_DNS           = 10
	INTERNAL_IP6_DHCP          = 12
	INTERNAL_IP4_SUBNET        = 13
	SUPPORTED_ATTRIBUTES       = 14
	P_CSCF_IP4_ADDRESS         = 20
	P_CSCF_IP6_ADDRESS         = 21
	ASSIGNED_PCSCF_IP6_ADDRESS = 16390
)

func (p *EncryptedPayloadCP) Type() PayloadType { return CP }

// Encode 产出载荷体: CFG Type(1) + 保留(3) + 属性串。
func (p *EncryptedPayloadCP) Encode() ([]byte, error) {
	out := make([]byte, 4)
	out[0] = p.CFGType
	for _, attr := range p.Attributes {
		b, err := attr.Encode()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// CPAttribute 是配置属性。与变换属性不同，配置属性没有 TV 短格式，
// 一律是 2 字节类型 (最高位保留) + 2 字节长度 + 值。
type CPAttribute struct {
	Type  uint16
	Value []byte
}

func (a *CPAttribute) Encode() ([]byte, error) {
	buf := make([]byte, 4+len(a.Value))
	binary.BigEndian.PutUint16(buf[0:2], a.Type&0x7fff)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(a.Value)))
	copy(buf[4:], a.Value)
	return buf, nil
}

// DecodePayloadCP 解码配置载荷。未识别的属性类型原样保留——上层按
// 类型取值，取不到即视作未提供 (§4.1 的静默忽略)。
func DecodePayloadCP(data []byte) (*EncryptedPayloadCP, error) {
	if len(data) < 4 {
		return nil, errPayloadTooShort("CP")
	}
	p := &EncryptedPayloadCP{CFGType: data[0]}

	rest := data[4:]
	for len(rest) > 0 {
		attr, consumed, err := decodeCPAttribute(rest)
		if err != nil {
			return nil, err
		}
		p.Attributes = append(p.Attributes, attr)
		rest = rest[consumed:]
	}
	return p, nil
}

// decodeCPAttribute 解码单个属性。遇到对端错误地把保留位 (AF 位)
// 置一时按 TV 短格式兼容处理。
func decodeCPAttribute(data []byte) (*CPAttribute, int, error) {
	if len(data) < 4 {
		return nil, 0, errPayloadTooShort("CP 属性")
	}
	rawType := binary.BigEndian.Uint16(data[0:2])
	attrType := rawType & 0x7fff
	if rawType&0x8000 != 0 {
		return &CPAttribute{Type: attrType, Value: append([]byte(nil), data[2:4]...)}, 4, nil
	}

	valLen := int(binary.BigEndian.Uint16(data[2:4]))
	if len(data) < 4+valLen {
		return nil, 0, errPayloadTooShort("CP 属性值")
	}
	return &CPAttribute{
		Type:  attrType,
		Value: append([]byte(nil), data[4:4+valLen]...),
	}, 4 + valLen, nil
}

func errPayloadTooShort(name string) error {
	return fmt.Errorf("ikev2: %s 数据太短", name)
}
