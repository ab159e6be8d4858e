package eapmethod

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"errors"

	"github.com/kasumigaoka/ikev2eap/pkg/crypto"
	"github.com/kasumigaoka/ikev2eap/pkg/eap"
	"github.com/kasumigaoka/ikev2eap/pkg/ikeerr"
	"github.com/kasumigaoka/ikev2eap/pkg/sim"
)

type akaState int

const (
	akaStateCreated akaState = iota
	akaStateFinal
)

// USIM 是 EAP-AKA 所需的 3GPP AKA 鉴权能力，由 pkg/sim.SIMProvider 满足。
type USIM interface {
	CalculateAKA(rand, autn []byte) (res, ck, ik, auts []byte, err error)
}

// AKA 实现 EAP-AKA (RFC 4187) 的方法状态机。与 EAP-SIM 不同，AKA 没有
// 独立的 Start 往返：挑战直接在首个 Request 中到达，同步失败时停留在
// 同一状态等待服务器重新挑战。
type AKA struct {
	state akaState

	identity IdentitySource
	usim     USIM

	notificationAccepted bool
	done                 bool
}

func NewAKA(identity IdentitySource, usim USIM) *AKA {
	return &AKA{identity: identity, usim: usim}
}

func (m *AKA) Done() bool { return m.done }

func (m *AKA) HandleRequest(pkt *eap.EAPPacket, raw []byte) Outcome {
	if m.done {
		return Error(errors.New("eapmethod: AKA 方法已终止，拒绝进一步输入"))
	}
	if pkt.Type != eap.TypeAKA {
		return Error(errors.New("eapmethod: 非 EAP-AKA 报文"))
	}

	switch pkt.Subtype {
	case eap.SubtypeIdentity:
		return m.handleIdentity(pkt)
	case eap.SubtypeNotification:
		return m.handleNotification(pkt)
	case eap.SubtypeChallenge:
		return m.handleChallenge(pkt, raw)
	default:
		return Error(errors.New("eapmethod: 不支持的 AKA 子类型"))
	}
}

func (m *AKA) handleIdentity(pkt *eap.EAPPacket) Outcome {
	subscriberID, ok := m.identity.GetSubscriberID()
	if !ok {
		return Error(errUnavailable("subscriber identity"))
	}
	identity := string(eap.IdentityPrefixPermanent) + subscriberID
	respAttrs := eap.BuildIdentityAttr(identity).Encode()
	respPkt := &eap.EAPPacket{
		Code: eap.CodeResponse, Identifier: pkt.Identifier,
		Type: eap.TypeAKA, Subtype: eap.SubtypeIdentity, Data: respAttrs,
	}
	return Response(respPkt.Encode())
}

func (m *AKA) handleNotification(pkt *eap.EAPPacket) Outcome {
	if m.notificationAccepted {
		return Error(&ikeerr.InvalidRequest{Msg: "重复的 AKA Notification"})
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
	if preChallenge && m.state != akaStateCreated {
		return Error(errors.New("eapmethod: 挑战前 Notification 出现在挑战后"))
	}
	m.notificationAccepted = true

	respPkt := &eap.EAPPacket{Code: eap.CodeResponse, Identifier: pkt.Identifier, Type: eap.TypeAKA, Subtype: eap.SubtypeNotification}
	outcome := Response(respPkt.Encode())
	if !success {
		m.done = true
		m.state = akaStateFinal
	}
	return outcome
}

func (m *AKA) handleChallenge(pkt *eap.EAPPacket, raw []byte) Outcome {
	attrs, err := eap.ParseAttributes(pkt.Data)
	if err != nil {
		return Error(err)
	}
	atRand, ok1 := attrs[eap.AT_RAND]
	atAutn, ok2 := attrs[eap.AT_AUTN]
	atMac, ok3 := attrs[eap.AT_MAC]
	if !ok1 || !ok2 {
		return Error(errors.New("eapmethod: AKA Challenge 缺少 AT_RAND 或 AT_AUTN"))
	}
	if !ok3 {
		return Error(errors.New("eapmethod: AKA Challenge 缺少 AT_MAC"))
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

	// RFC 4187 §7: MK = SHA1(Identity | IK | CK).
	h := sha1.New()
	h.Write([]byte(identity))
	h.Write(ik)
	h.Write(ck)
	mk := h.Sum(nil)

	keyMat := crypto.NewFIPS1862PRFSHA1(mk).Bytes(nil, 16+16+64+64)
	kEncr := keyMat[0:16]
	kAut := keyMat[16:32]
	msk := keyMat[32:96]
	emsk := keyMat[96:160]
	_ = kEncr

	recvMAC, err := aka16(atMac.Value)
	if err != nil {
		return Error(err)
	}
	if err := verifyAKAMAC(raw, pkt.Data, kAut, recvMAC); err != nil {
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
		Type: eap.TypeAKA, Subtype: eap.SubtypeChallenge, Data: respAttrs,
	}
	eapBytes := respPkt.Encode()
	mac := hmac.New(sha1.New, kAut)
	mac.Write(eapBytes)
	fullMAC := mac.Sum(nil)
	macPos := 8 + macOffset + 4
	copy(eapBytes[macPos:macPos+16], fullMAC[:16])

	m.state = akaStateFinal
	m.done = true
	return Success(eapBytes, msk, emsk)
}

func (m *AKA) buildSyncFailure(id uint8, auts []byte) Outcome {
	atAuts := &eap.Attribute{Type: eap.AT_AUTS, Value: auts}
	respPkt := &eap.EAPPacket{
		Code: eap.CodeResponse, Identifier: id,
		Type: eap.TypeAKA, Subtype: eap.SubtypeSyncFailure, Data: atAuts.Encode(),
	}
	// 保持在 Created 状态: 服务端应以新的 RAND/AUTN 重新挑战。
	return Response(respPkt.Encode())
}

func aka16(v []byte) ([]byte, error) {
	if len(v) < 16 {
		return nil, errors.New("eapmethod: AKA 属性长度不足")
	}
	return v[len(v)-16:], nil
}

func verifyAKAMAC(eapRaw []byte, attrsData []byte, kAut []byte, recvMAC []byte) error {
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
	mac := hmac.New(sha1.New, kAut)
	mac.Write(tmp)
	fullMAC := mac.Sum(nil)
	if !hmac.Equal(fullMAC[:16], recvMAC) {
		return errors.New("eapmethod: EAP-AKA AT_MAC 校验失败")
	}
	return nil
}
