package eapmethod

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/kasumigaoka/ikev2eap/pkg/crypto"
	"github.com/kasumigaoka/ikev2eap/pkg/eap"
	"github.com/kasumigaoka/ikev2eap/pkg/ikeerr"
	"github.com/kasumigaoka/ikev2eap/pkg/sim"
)

const kdfSelectorHMACSHA256 uint16 = 1

type akaPrimeState int

const (
	akaPrimeStateCreated akaPrimeState = iota
	akaPrimeStateFinal
)

// AKAPrime 实现 EAP-AKA' (RFC 5448) 的方法状态机：与 EAP-AKA 共用
// USIM 鉴权原语，但密钥推导混入接入网名称 (AT_KDF_INPUT) 并使用
// SHA-256 而非 SHA-1 派生密钥材料。
type AKAPrime struct {
	state akaPrimeState

	identity IdentitySource
	usim     USIM

	notificationAccepted bool
	done                 bool
}

func NewAKAPrime(identity IdentitySource, usim USIM) *AKAPrime {
	return &AKAPrime{identity: identity, usim: usim}
}

func (m *AKAPrime) Done() bool { return m.done }

func (m *AKAPrime) HandleRequest(pkt *eap.EAPPacket, raw []byte) Outcome {
	if m.done {
		return Error(errors.New("eapmethod: AKA' 方法已终止，拒绝进一步输入"))
	}
	if pkt.Type != eap.TypeAKAPrime {
		return Error(errors.New("eapmethod: 非 EAP-AKA' 报文"))
	}

	switch pkt.Subtype {
	case eap.SubtypeIdentity:
		return m.handleIdentity(pkt)
	case eap.SubtypeNotification:
		return m.handleNotification(pkt)
	case eap.SubtypeChallenge:
		return m.handleChallenge(pkt, raw)
	default:
		return Error(errors.New("eapmethod: 不支持的 AKA' 子类型"))
	}
}

func (m *AKAPrime) handleIdentity(pkt *eap.EAPPacket) Outcome {
	subscriberID, ok := m.identity.GetSubscriberID()
	if !ok {
		return Error(errUnavailable("subscriber identity"))
	}
	identity := string(eap.IdentityPrefixPermanent) + subscriberID
	respAttrs := eap.BuildIdentityAttr(identity).Encode()
	respPkt := &eap.EAPPacket{
		Code: eap.CodeResponse, Identifier: pkt.Identifier,
		Type: eap.TypeAKAPrime, Subtype: eap.SubtypeIdentity, Data: respAttrs,
	}
	return Response(respPkt.Encode())
}

func (m *AKAPrime) handleNotification(pkt *eap.EAPPacket) Outcome {
	if m.notificationAccepted {
		return Error(&ikeerr.InvalidRequest{Msg: "重复的 AKA' Notification"})
	}
	attrs, err := eap.ParseAttributes(pkt.Data)
	if err != nil {
		return Error(err)
	}
	notifAttr, ok := attrs[eap.AT_NOTIFICATION]
	if !ok {
		return Error(errors.New("eapmethod: Notification 报文缺少 AT_NOTIFICATION"))
	}
	_, success, preChallenge, err := eap.ParseNotification(notifAttr)
	if err != nil {
		return Error(err)
	}
	if preChallenge && m.state != akaPrimeStateCreated {
		return Error(errors.New("eapmethod: 挑战前 Notification 出现在挑战后"))
	}
	m.notificationAccepted = true

	respPkt := &eap.EAPPacket{Code: eap.CodeResponse, Identifier: pkt.Identifier, Type: eap.TypeAKAPrime, Subtype: eap.SubtypeNotification}
	outcome := Response(respPkt.Encode())
	if !success {
		m.done = true
		m.state = akaPrimeStateFinal
	}
	return outcome
}

func (m *AKAPrime) handleChallenge(pkt *eap.EAPPacket, raw []byte) Outcome {
	attrs, err := eap.ParseAttributes(pkt.Data)
	if err != nil {
		return Error(err)
	}
	atRand, ok1 := attrs[eap.AT_RAND]
	atAutn, ok2 := attrs[eap.AT_AUTN]
	atMac, ok3 := attrs[eap.AT_MAC]
	atKDF, ok4 := attrs[eap.AT_KDF]
	atKDFInput, ok5 := attrs[eap.AT_KDF_INPUT]
	if !ok1 || !ok2 {
		return Error(errors.New("eapmethod: AKA' Challenge 缺少 AT_RAND 或 AT_AUTN"))
	}
	if !ok3 {
		return Error(errors.New("eapmethod: AKA' Challenge 缺少 AT_MAC"))
	}
	if !ok4 || !ok5 {
		return Error(errors.New("eapmethod: AKA' Challenge 缺少 AT_KDF 或 AT_KDF_INPUT"))
	}
	if len(atKDF.Value) < 2 || binary.BigEndian.Uint16(atKDF.Value[0:2]) != kdfSelectorHMACSHA256 {
		return Error(errors.New("eapmethod: 不支持的 AT_KDF 选择器"))
	}
	networkName, err := parseKDFInput(atKDFInput)
	if err != nil {
		return Error(err)
	}

	randVal, err := aka16(atRand.Value)
	if err != nil {
		return Error(err)
	}
	autnVal, err := aka16(atAutn.Value)
	if err != nil {
		return Error(err)
	}

	res, ck, ik, auts, err := m.usim.CalculateAKA(randVal, autnVal)
	if err != nil {
		if errors.Is(err, sim.ErrSyncFailure) {
			return m.buildSyncFailure(pkt.Identifier, auts)
		}
		return Error(err)
	}

	subscriberID, ok := m.identity.GetSubscriberID()
	if !ok {
		return Error(errUnavailable("subscriber identity"))
	}
	identity := string(eap.IdentityPrefixPermanent) + subscriberID

	ckPrime, ikPrime := deriveCKIKPrime(ck, ik, autnVal[0:6], networkName)

	seed := append([]byte("EAP-AKA'"), []byte(identity)...)
	keyMat, err := crypto.PrfPlus(crypto.PRF_HMAC_SHA2_256, append(ikPrime, ckPrime...), seed, 16+32+32+64+64)
	if err != nil {
		return Error(err)
	}
	kEncr := keyMat[0:16]
	kAut := keyMat[16:48]
	// kRe := keyMat[48:80] // 供快速重认证使用，当前未建模。
	msk := keyMat[80:144]
	emsk := keyMat[144:208]
	_ = kEncr

	recvMAC, err := aka16(atMac.Value)
	if err != nil {
		return Error(err)
	}
	if err := verifyAKAPrimeMAC(raw, pkt.Data, kAut, recvMAC); err != nil {
		return Error(err)
	}

	respAttrs := []byte{}
	resBits := make([]byte, 2)
	binary.BigEndian.PutUint16(resBits, uint16(len(res)*8))
	atRes := &eap.Attribute{Type: eap.AT_RES, Value: append(resBits, res...)}
	respAttrs = append(respAttrs, atRes.Encode()...)
	macOffset := len(respAttrs)
	respAttrs = append(respAttrs, eap.ZeroedMACAttr().Encode()...)

	respPkt := &eap.EAPPacket{
		Code: eap.CodeResponse, Identifier: pkt.Identifier,
		Type: eap.TypeAKAPrime, Subtype: eap.SubtypeChallenge, Data: respAttrs,
	}
	eapBytes := respPkt.Encode()
	mac := hmac.New(sha256.New, kAut)
	mac.Write(eapBytes)
	fullMAC := mac.Sum(nil)
	macPos := 8 + macOffset + 4
	copy(eapBytes[macPos:macPos+16], fullMAC[:16])

	m.state = akaPrimeStateFinal
	m.done = true
	return Success(eapBytes, msk, emsk)
}

func (m *AKAPrime) buildSyncFailure(id uint8, auts []byte) Outcome {
	atAuts := &eap.Attribute{Type: eap.AT_AUTS, Value: auts}
	respPkt := &eap.EAPPacket{
		Code: eap.CodeResponse, Identifier: id,
		Type: eap.TypeAKAPrime, Subtype: eap.SubtypeSyncFailure, Data: atAuts.Encode(),
	}
	return Response(respPkt.Encode())
}

// deriveCKIKPrime 实现 RFC 5448 §3.4.1 / 3GPP TS 33.402 附录 A.2 的
// CK'/IK' 推导: HMAC-SHA256(CK|IK, FC | P0 | L0 | P1 | L1)，P0 为接入
// 网名称，P1 为 AUTN 的 SQN⊕AK 字段 (前 6 字节)。
func deriveCKIKPrime(ck, ik, sqnXorAK []byte, networkName string) (ckPrime, ikPrime []byte) {
	const fc = 0x20
	p0 := []byte(networkName)
	l0 := make([]byte, 2)
	binary.BigEndian.PutUint16(l0, uint16(len(p0)))
	p1 := sqnXorAK
	l1 := make([]byte, 2)
	binary.BigEndian.PutUint16(l1, uint16(len(p1)))

	s := []byte{fc}
	s = append(s, p0...)
	s = append(s, l0...)
	s = append(s, p1...)
	s = append(s, l1...)

	key := append(append([]byte{}, ck...), ik...)
	mac := hmac.New(sha256.New, key)
	mac.Write(s)
	okm := mac.Sum(nil)
	return okm[0:16], okm[16:32]
}

func parseKDFInput(attr *eap.Attribute) (string, error) {
	if attr == nil || len(attr.Value) < 2 {
		return "", errors.New("eapmethod: AT_KDF_INPUT 长度不足")
	}
	n := int(binary.BigEndian.Uint16(attr.Value[0:2]))
	if 2+n > len(attr.Value) {
		return "", errors.New("eapmethod: AT_KDF_INPUT 内部长度越界")
	}
	return string(attr.Value[2 : 2+n]), nil
}

func verifyAKAPrimeMAC(eapRaw []byte, attrsData []byte, kAut []byte, recvMAC []byte) error {
	macOffset, ok := eap.FindAttrOffset(attrsData, eap.AT_MAC)
	if !ok {
		return errors.New("eapmethod: 无法定位 AT_MAC 偏移")
	}
	macPos := 8 + macOffset + 4
	if macPos < 0 || macPos+16 > len(eapRaw) {
		return errors.New("eapmethod: AT_MAC 偏移越界")
	}
	tmp := make([]byte, len(eapRaw))
	copy(tmp, eapRaw)
	for i := 0; i < 16; i++ {
		tmp[macPos+i] = 0
	}
	mac := hmac.New(sha256.New, kAut)
	mac.Write(tmp)
	fullMAC := mac.Sum(nil)
	if !hmac.Equal(fullMAC[:16], recvMAC) {
		return errors.New("eapmethod: EAP-AKA' AT_MAC 校验失败")
	}
	return nil
}
