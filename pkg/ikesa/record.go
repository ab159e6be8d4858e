// Package ikesa 持有 IKE SA 记录：密钥材料、消息 ID 计数器、重放窗口，
// 以及加解密 SK 载荷所需的协商结果。
package ikesa

import (
	"bytes"
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/kasumigaoka/ikev2eap/pkg/crypto"
	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
)

// Role 标识一条 SA 记录在这次协商中的角色
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// Record 唯一由 (SPIi, SPIr) 标识。创建于 IKE_INIT 交换成功或 rekey
// 产生新 SA 时；销毁于显式 DELETE 或致命错误。
type Record struct {
	mu sync.Mutex

	SPIi uint64
	SPIr uint64
	Role Role

	LocalNonce  []byte
	RemoteNonce []byte

	Keys *ikev2.IKESAKeys

	EncAlg   crypto.Encrypter
	IntegAlg crypto.IntegrityAlgorithm
	PRFAlg   crypto.PRF
	IsAEAD   bool
	Proposal *ikev2.Proposal

	// Parent 指向 rekey 之前的 SA，顶层 SA 为 nil。
	Parent *Record

	nextOutboundID    uint32
	lastReceivedReqID uint32
	haveReceivedReq   bool
	lastReceivedRspID uint32
	haveReceivedRsp   bool
}

// NewRecord 构造一条新的 SA 记录，Keys 尚未派生。
func NewRecord(spiI, spiR uint64, role Role) *Record {
	return &Record{SPIi: spiI, SPIr: spiR, Role: role}
}

// NextMessageID 返回下一个出站消息 ID 并递增计数器
func (r *Record) NextMessageID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextOutboundID
	r.nextOutboundID++
	return id
}

// RecordReceived 记录一个入站请求的消息 ID，用于重放检测：必须严格
// 递增，等于或小于已处理的请求 ID 视为重放，静默丢弃。响应 ID 的匹配
// 走 MatchesResponse，因为响应必须与某个待处理请求精确对应，而不是
// 简单递增。
func (r *Record) RecordReceived(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.haveReceivedReq && id <= r.lastReceivedReqID {
		return errDuplicateRequest
	}
	r.lastReceivedReqID = id
	r.haveReceivedReq = true
	return nil
}

// ExpectResponseID 在发出一个请求后记录其 ID，供后续响应匹配
func (r *Record) ExpectResponseID(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastReceivedRspID = id
	r.haveReceivedRsp = true
}

// MatchesResponse 报告收到的响应 ID 是否与当前待处理请求一致
func (r *Record) MatchesResponse(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.haveReceivedRsp && id == r.lastReceivedRspID
}

var errDuplicateRequest = errors.New("ikesa: 重复或乱序的请求消息 ID")

// DecodeAndDecrypt 使用本记录持有的密钥与算法解密一个入站 IKE 报文。
// 入站报文由对端保护：本端为发起方时用 SK_er/SK_ar，为响应方时用
// SK_ei/SK_ai。
func (r *Record) DecodeAndDecrypt(data []byte) (*ikev2.IKEHeader, []ikev2.Payload, error) {
	if r.Keys == nil {
		return nil, nil, errors.New("ikesa: 密钥尚未派生")
	}
	encKey, integKey := r.Keys.SK_er, r.Keys.SK_ar
	if r.Role == RoleResponder {
		encKey, integKey = r.Keys.SK_ei, r.Keys.SK_ai
	}
	return ikev2.DecodeAndDecrypt(data, r.EncAlg, r.IntegAlg, r.IsAEAD, encKey, integKey)
}

// EncryptAndEncode 使用本记录持有的密钥加密一组出站载荷：本端为发起方
// 时用 SK_ei/SK_ai，为响应方时用 SK_er/SK_ar。
func (r *Record) EncryptAndEncode(payloads []ikev2.Payload, exchangeType ikev2.ExchangeType, msgID uint32, isResponse bool) ([]byte, error) {
	if r.Keys == nil {
		return nil, errors.New("ikesa: 密钥尚未派生")
	}
	flags := uint8(0)
	if r.Role == RoleInitiator {
		flags |= ikev2.FlagInitiator
	}
	if isResponse {
		flags |= ikev2.FlagResponse
	}
	hdr := &ikev2.IKEHeader{
		SPIi:         r.SPIi,
		SPIr:         r.SPIr,
		Version:      0x20,
		ExchangeType: exchangeType,
		Flags:        flags,
		MessageID:    msgID,
	}
	encKey, integKey := r.Keys.SK_ei, r.Keys.SK_ai
	if r.Role == RoleResponder {
		encKey, integKey = r.Keys.SK_er, r.Keys.SK_ar
	}
	return ikev2.EncryptAndEncode(payloads, hdr, r.EncAlg, r.IntegAlg, r.IsAEAD, encKey, integKey)
}

// DeriveKeys 实现 RFC 7296 §2.14 的 SKEYSEED 与密钥扩展， 产出 SK_d /
// SK_ai / SK_ar / SK_ei / SK_er / SK_pi / SK_pr。
func (r *Record) DeriveKeys(sharedSecret []byte) error {
	if r.PRFAlg == nil {
		return errors.New("ikesa: PRF 算法未设置")
	}

	seed := append(append([]byte{}, r.LocalNonce...), r.RemoteNonce...)
	mac := hmac.New(r.PRFAlg.Hash, seed)
	mac.Write(sharedSecret)
	skeyseed := mac.Sum(nil)

	return r.DeriveKeysFromSKEYSEED(skeyseed)
}

// DeriveKeysFromSKEYSEED 从给定的 SKEYSEED 展开全套 SK_* 密钥。rekey
// 路径先通过旧 SA 的 RekeySKEYSEED 计算 SKEYSEED'，再调用这里；初始
// 协商路径由 DeriveKeys 包装。
func (r *Record) DeriveKeysFromSKEYSEED(skeyseed []byte) error {
	if r.PRFAlg == nil {
		return errors.New("ikesa: PRF 算法未设置")
	}
	if r.EncAlg == nil {
		return errors.New("ikesa: 加密算法未设置")
	}

	prfKeyLen := r.PRFAlg.KeyLen()

	// GCM/CTR 的密钥材料尾部带 4 字节盐，一并从 prf+ 输出切出。
	encKeyLen := r.EncAlg.KeySize() + r.EncAlg.SaltSize()

	integKeyLen := 0
	if !r.IsAEAD {
		if r.IntegAlg == nil {
			return errors.New("ikesa: 完整性算法未设置")
		}
		integKeyLen = r.IntegAlg.KeySize()
	}

	totalLen := prfKeyLen*3 + integKeyLen*2 + encKeyLen*2

	// 种子按协议序 Ni | Nr 拼接：响应方记录里发起方的 nonce 是对端的。
	ni, nr := r.LocalNonce, r.RemoteNonce
	if r.Role == RoleResponder {
		ni, nr = nr, ni
	}
	input := append(append([]byte{}, ni...), nr...)
	spiBytes := make([]byte, 16)
	binary.BigEndian.PutUint64(spiBytes[0:8], r.SPIi)
	binary.BigEndian.PutUint64(spiBytes[8:16], r.SPIr)
	input = append(input, spiBytes...)

	keyMat, err := crypto.PrfPlus(r.PRFAlg, skeyseed, input, totalLen)
	if err != nil {
		return err
	}

	keys := &ikev2.IKESAKeys{}
	cursor := 0
	keys.SK_d = keyMat[cursor : cursor+prfKeyLen]
	cursor += prfKeyLen

	if integKeyLen > 0 {
		keys.SK_ai = keyMat[cursor : cursor+integKeyLen]
		cursor += integKeyLen
		keys.SK_ar = keyMat[cursor : cursor+integKeyLen]
		cursor += integKeyLen
	}

	keys.SK_ei = keyMat[cursor : cursor+encKeyLen]
	cursor += encKeyLen
	keys.SK_er = keyMat[cursor : cursor+encKeyLen]
	cursor += encKeyLen

	keys.SK_pi = keyMat[cursor : cursor+prfKeyLen]
	cursor += prfKeyLen
	keys.SK_pr = keyMat[cursor : cursor+prfKeyLen]

	r.Keys = keys
	return nil
}

// RekeySKEYSEED 实现 RFC 7296 §2.18 的 rekey 密钥派生：
// SKEYSEED' = prf(SK_d, g^ir (new) | Ni (new) | Nr (new))。
func (r *Record) RekeySKEYSEED(newSharedSecret, newNi, newNr []byte) ([]byte, error) {
	if r.Keys == nil || r.Keys.SK_d == nil {
		return nil, errors.New("ikesa: 旧 SA 的 SK_d 不可用")
	}
	mac := hmac.New(r.PRFAlg.Hash, r.Keys.SK_d)
	mac.Write(newSharedSecret)
	mac.Write(newNi)
	mac.Write(newNr)
	return mac.Sum(nil), nil
}

// CompareNonces 对两条创建时交换的 nonce 做字典序比较，用于同时 rekey
// 的幸存 SA 判定：拼接后的 nonce 更大的一方获胜。返回值遵循
// bytes.Compare 的约定。
func CompareNonces(aInitNonce, aRespNonce, bInitNonce, bRespNonce []byte) int {
	a := append(append([]byte{}, aInitNonce...), aRespNonce...)
	b := append(append([]byte{}, bInitNonce...), bRespNonce...)
	return bytes.Compare(a, b)
}
