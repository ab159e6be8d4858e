package eap

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// SIM/AKA 属性编解码与 §3 不变式校验。每个属性类型的解码器只负责
// 校验自己的长度与内容，未知的可跳过属性被原样保留为透明字节块，
// 未知的不可跳过属性 (Type <= 127) 导致 UnsupportedAttribute。

var ErrUnsupportedAttribute = errors.New("eap: 不支持的不可跳过属性")

// IsSkippable 报告一个属性类型是否允许在未识别时被安全忽略
// (RFC 4186 §8: Attribute Type 值 128-255 可跳过)。
func IsSkippable(attrType uint8) bool {
	return attrType > 127
}

// knownAttributeTypes 是本实现认识的所有属性类型，用于区分
// "未知且不可跳过" 与 "已知但本次消息中未出现"。
var knownAttributeTypes = map[uint8]bool{
	AT_RAND: true, AT_AUTN: true, AT_RES: true, AT_AUTS: true,
	AT_PADDING: true, AT_NONCE_MT: true, AT_PERMANENT_ID_REQ: true,
	AT_MAC: true, AT_NOTIFICATION: true, AT_ANY_ID_REQ: true,
	AT_IDENTITY: true, AT_VERSION_LIST: true, AT_SELECTED_VERSION: true,
	AT_FULLAUTH_ID_REQ: true, AT_COUNTER: true, AT_COUNTER_TOO_SMALL: true,
	AT_NONCE_S: true, AT_CLIENT_ERROR_CODE: true, AT_CHECKCODE: true,
	AT_KDF: true, AT_IV: true, AT_ENCR_DATA: true,
	AT_NEXT_PSEUDONYM: true, AT_NEXT_REAUTH_ID: true,
}

// ValidateKnownAttributes 对照 knownAttributeTypes 检查不可跳过的未知
// 属性；可跳过的未知属性被调用方当作透明字节块直接保留。
func ValidateKnownAttributes(attrs map[uint8]*Attribute) error {
	for t := range attrs {
		if knownAttributeTypes[t] {
			continue
		}
		if !IsSkippable(t) {
			return ErrUnsupportedAttribute
		}
	}
	return nil
}

// ForbidPreAuthAttributes 校验 SIM/Start、AKA/Identity 等预认证消息
// 中禁止出现 AT_MAC、AT_IV、AT_ENCR_DATA。
func ForbidPreAuthAttributes(attrs map[uint8]*Attribute) error {
	for _, t := range []uint8{AT_MAC, AT_IV, AT_ENCR_DATA} {
		if _, ok := attrs[t]; ok {
			return errors.New("eap: 预认证消息中出现禁止的属性")
		}
	}
	return nil
}

// ParseVersionList 解析 AT_VERSION_LIST：2 字节内部长度 (必须为偶数)
// 后跟若干 2 字节版本号。
func ParseVersionList(attr *Attribute) ([]uint16, error) {
	if attr == nil || len(attr.Value) < 2 {
		return nil, errors.New("eap: AT_VERSION_LIST 长度不足")
	}
	innerLen := int(binary.BigEndian.Uint16(attr.Value[0:2]))
	if innerLen%2 != 0 {
		return nil, errors.New("eap: AT_VERSION_LIST 内部长度不是偶数")
	}
	if 2+innerLen > len(attr.Value) {
		return nil, errors.New("eap: AT_VERSION_LIST 内部长度越界")
	}
	versions := make([]uint16, 0, innerLen/2)
	for i := 0; i < innerLen; i += 2 {
		versions = append(versions, binary.BigEndian.Uint16(attr.Value[2+i:4+i]))
	}
	return versions, nil
}

// BuildVersionListAttr 构造 AT_VERSION_LIST，仅用于测试/参考实现中
// 需要回放一个版本列表的场景。
func BuildVersionListAttr(versions []uint16) *Attribute {
	inner := make([]byte, 2+len(versions)*2)
	binary.BigEndian.PutUint16(inner[0:2], uint16(len(versions)*2))
	for i, v := range versions {
		binary.BigEndian.PutUint16(inner[2+i*2:4+i*2], v)
	}
	a := &Attribute{Type: AT_VERSION_LIST, Value: inner}
	a.Encode()
	return a
}

// ParseRANDList 解析 AT_RAND：2 字节保留 + N*16 字节 RAND，校验
// RAND 数量落在 [min,max] 且互不相同。
func ParseRANDList(attr *Attribute, min, max int) ([][]byte, error) {
	if attr == nil {
		return nil, errors.New("eap: 缺少 AT_RAND")
	}
	if len(attr.Value) < 2 {
		return nil, errors.New("eap: AT_RAND 长度不足")
	}
	body := attr.Value[2:]
	if len(body)%16 != 0 {
		return nil, errors.New("eap: AT_RAND 长度不是 16 的倍数")
	}
	count := len(body) / 16
	if count < min || count > max {
		return nil, errors.New("eap: AT_RAND 中 RAND 数量超出允许范围")
	}
	rands := make([][]byte, count)
	for i := 0; i < count; i++ {
		rands[i] = body[i*16 : (i+1)*16]
	}
	for i := 0; i < count; i++ {
		for j := i + 1; j < count; j++ {
			if bytes.Equal(rands[i], rands[j]) {
				return nil, errors.New("eap: AT_RAND 中存在重复的 RAND")
			}
		}
	}
	return rands, nil
}

// ValidatePadding 校验 AT_PADDING 的所有字节均为零。
func ValidatePadding(attr *Attribute) error {
	if attr == nil {
		return nil
	}
	for _, b := range attr.Value {
		if b != 0 {
			return errors.New("eap: AT_PADDING 含非零字节")
		}
	}
	return nil
}

// Notification 位域 (RFC 4186 §9.8)。
const (
	NotificationSuccessBit = 1 << 15 // S=1 表示成功通知；S=0 表示最终将导致 Failure
	NotificationPhaseBit   = 1 << 14 // P=1 表示挑战前的 Notification
)

// ParseNotification 解析 AT_NOTIFICATION 的 2 字节 Notification Code，
// 校验 Success/Phase 位组合的互斥约束：成功通知 (S=1) 只允许出现在
// 挑战后，因此 S=1 与 P=1 是非法组合。
func ParseNotification(attr *Attribute) (code uint16, success bool, preChallenge bool, err error) {
	if attr == nil || len(attr.Value) < 2 {
		return 0, false, false, errors.New("eap: AT_NOTIFICATION 长度不足")
	}
	code = binary.BigEndian.Uint16(attr.Value[0:2])
	success = code&NotificationSuccessBit != 0
	preChallenge = code&NotificationPhaseBit != 0
	if success && preChallenge {
		return 0, false, false, errors.New("eap: AT_NOTIFICATION 的 Success 与 Phase 位互斥")
	}
	return code, success, preChallenge, nil
}

// IdentityPrefix 标识 RFC 4186 §4.2.1.6 定义的身份类型前缀字节。
const (
	IdentityPrefixPermanent  byte = '1'
	IdentityPrefixPseudonym  byte = '3'
	IdentityPrefixFastReauth byte = '4'
)

// BuildIdentityAttr 构造 AT_IDENTITY：2 字节实际长度 + 身份字符串，
// 按 4 字节对齐填充。
func BuildIdentityAttr(identity string) *Attribute {
	idBytes := []byte(identity)
	inner := make([]byte, 2+len(idBytes))
	binary.BigEndian.PutUint16(inner[0:2], uint16(len(idBytes)))
	copy(inner[2:], idBytes)
	a := &Attribute{Type: AT_IDENTITY, Value: inner}
	a.Encode()
	return a
}

// ParseIdentity 解析 AT_IDENTITY 返回实际身份字符串 (去除对齐填充)。
func ParseIdentity(attr *Attribute) (string, error) {
	if attr == nil || len(attr.Value) < 2 {
		return "", errors.New("eap: AT_IDENTITY 长度不足")
	}
	n := int(binary.BigEndian.Uint16(attr.Value[0:2]))
	if 2+n > len(attr.Value) {
		return "", errors.New("eap: AT_IDENTITY 内部长度越界")
	}
	return string(attr.Value[2 : 2+n]), nil
}

// BuildNonceMTAttr 构造 AT_NONCE_MT (SIM 专用随机数，2 字节保留 + 16
// 字节随机值)。
func BuildNonceMTAttr(nonceMT []byte) *Attribute {
	inner := make([]byte, 2+len(nonceMT))
	copy(inner[2:], nonceMT)
	a := &Attribute{Type: AT_NONCE_MT, Value: inner}
	a.Encode()
	return a
}

// BuildSelectedVersionAttr 构造 AT_SELECTED_VERSION (固定 2 字节值)。
func BuildSelectedVersionAttr(version uint16) *Attribute {
	inner := make([]byte, 2)
	binary.BigEndian.PutUint16(inner, version)
	a := &Attribute{Type: AT_SELECTED_VERSION, Value: inner}
	a.Encode()
	return a
}

// BuildClientErrorAttr 构造 AT_CLIENT_ERROR_CODE。
func BuildClientErrorAttr(code uint16) *Attribute {
	inner := make([]byte, 2)
	binary.BigEndian.PutUint16(inner, code)
	a := &Attribute{Type: AT_CLIENT_ERROR_CODE, Value: inner}
	a.Encode()
	return a
}

// ZeroedMACAttr 返回一个值全零的 AT_MAC，供 MAC 计算前占位、计算后
// 回填使用。
func ZeroedMACAttr() *Attribute {
	a := &Attribute{Type: AT_MAC, Value: make([]byte, 18)}
	a.Encode()
	return a
}

// FindAttrOffset 在原始属性字节流中定位某类型属性的起始偏移，供
// MAC 校验时原地清零。
func FindAttrOffset(data []byte, attrType uint8) (int, bool) {
	offset := 0
	for offset+2 <= len(data) {
		t := data[offset]
		l := int(data[offset+1]) * 4
		if l == 0 || offset+l > len(data) {
			return 0, false
		}
		if t == attrType {
			return offset, true
		}
		offset += l
	}
	return 0, false
}
