package eapmethod

import (
	"crypto/hmac"
	"crypto/sha1"
	"errors"

	"github.com/kasumigaoka/ikev2eap/pkg/crypto"
	"github.com/kasumigaoka/ikev2eap/pkg/eap"
	"github.com/kasumigaoka/ikev2eap/pkg/ikeerr"
	"github.com/kasumigaoka/ikev2eap/pkg/sim"
)

// 版本与客户端错误码 (AT_CLIENT_ERROR_CODE) 常量 (RFC 4186)
const (
	simVersion1              uint16 = 1
	clientErrUnableToProcess uint16 = 0
)

type simState int

const (
	simStateCreated simState = iota
	simStateStart            // 已回应 Start，等待 Challenge
	simStateFinal
)

// SIM 实现 EAP-SIM (RFC 4186) 的方法状态机: Created -> Start ->
// Challenge -> Final。
type SIM struct {
	state simState

	identity IdentitySource
	random   RandomSource
	gsm      sim.GSMProvider

	nonceMT              []byte
	versionListBytes     []byte
	notificationAccepted bool

	done bool
}

func NewSIM(identity IdentitySource, random RandomSource, gsm sim.GSMProvider) *SIM {
	return &SIM{identity: identity, random: random, gsm: gsm}
}

func (m *SIM) Done() bool { return m.done }

func (m *SIM) HandleRequest(pkt *eap.EAPPacket, raw []byte) Outcome {
	if m.done {
		return Error(errors.New("eapmethod: SIM 方法已终止，拒绝进一步输入"))
	}
	if pkt.Type != eap.TypeSIM {
		return Error(errors.New("eapmethod: 非 EAP-SIM 报文"))
	}

	switch pkt.Subtype {
	case eap.SubtypeNotification:
		return m.handleNotification(pkt)
	case eap.SubtypeStart:
		if m.state != simStateCreated {
			return Error(errors.New("eapmethod: 在非 Created 状态收到 SIM/Start"))
		}
		return m.handleStart(pkt)
	case eap.SubtypeSIMChallenge:
		if m.state != simStateStart {
			return Error(errors.New("eapmethod: 在非 Start 状态收到 SIM/Challenge"))
		}
		return m.handleChallenge(pkt, raw)
	default:
		return Error(errors.New("eapmethod: 不支持的 SIM 子类型"))
	}
}

func (m *SIM) handleNotification(pkt *eap.EAPPacket) Outcome {
	if m.notificationAccepted {
		// 不变式: 每个会话最多接受一次 Notification。
		return Error(&ikeerr.InvalidRequest{Msg: "重复的 SIM Notification"})
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
	if preChallenge && m.state != simStateCreated {
		return Error(errors.New("eapmethod: 挑战前 Notification 出现在挑战后"))
	}
	if !preChallenge && m.state == simStateCreated {
		return Error(errors.New("eapmethod: 挑战后 Notification 出现在挑战前"))
	}
	m.notificationAccepted = true

	respPkt := &eap.EAPPacket{Code: eap.CodeResponse, Identifier: pkt.Identifier, Type: eap.TypeSIM, Subtype: eap.SubtypeNotification}
	outcome := Response(respPkt.Encode())
	if !success {
		// S 位为 0 意味着最终将以 Failure 收场，但本次回应仍照常发出。
		m.done = true
		m.state = simStateFinal
		return outcome
	}
	return outcome
}

func (m *SIM) handleStart(pkt *eap.EAPPacket) Outcome {
	attrs, err := eap.ParseAttributes(pkt.Data)
	if err != nil {
		return m.rejectStart(pkt)
	}
	if err := eap.ForbidPreAuthAttributes(attrs); err != nil {
		return m.rejectStart(pkt)
	}
	versionsAttr, ok := attrs[eap.AT_VERSION_LIST]
	if !ok {
		return m.rejectStart(pkt)
	}
	versions, err := eap.ParseVersionList(versionsAttr)
	if err != nil {
		return m.rejectStart(pkt)
	}
	// RFC 4186 §7 的 MK 推导使用服务端在 SIM/Start 中发送的版本列表
	// 原始字节 (不含 Actual Version List Length 字段本身)。
	versionListBytes := make([]byte, 0, len(versions)*2)
	for _, v := range versions {
		versionListBytes = append(versionListBytes, byte(v>>8), byte(v))
	}
	m.versionListBytes = versionListBytes
	idReqCount := 0
	for _, t := range []uint8{eap.AT_PERMANENT_ID_REQ, eap.AT_ANY_ID_REQ, eap.AT_FULLAUTH_ID_REQ} {
		if _, ok := attrs[t]; ok {
			idReqCount++
		}
	}
	if idReqCount > 1 {
		return m.rejectStart(pkt)
	}

	nonceMT, err := m.random.RandomBytes(16)
	if err != nil {
		return Error(err)
	}
	m.nonceMT = nonceMT

	subscriberID, ok := m.identity.GetSubscriberID()
	if !ok {
		return Error(errUnavailable("subscriber identity"))
	}
	identity := string(eap.IdentityPrefixPermanent) + subscriberID

	respAttrs := []byte{}
	respAttrs = append(respAttrs, eap.BuildIdentityAttr(identity).Encode()...)
	respAttrs = append(respAttrs, eap.BuildSelectedVersionAttr(simVersion1).Encode()...)
	respAttrs = append(respAttrs, eap.BuildNonceMTAttr(nonceMT).Encode()...)

	respPkt := &eap.EAPPacket{
		Code: eap.CodeResponse, Identifier: pkt.Identifier,
		Type: eap.TypeSIM, Subtype: eap.SubtypeStart, Data: respAttrs,
	}
	m.state = simStateStart
	return Response(respPkt.Encode())
}

func (m *SIM) rejectStart(pkt *eap.EAPPacket) Outcome {
	clientErr := eap.BuildClientErrorAttr(clientErrUnableToProcess)
	respPkt := &eap.EAPPacket{
		Code: eap.CodeResponse, Identifier: pkt.Identifier,
		Type: eap.TypeSIM, Subtype: eap.SubtypeClientError, Data: clientErr.Encode(),
	}
	return Response(respPkt.Encode())
}

func (m *SIM) handleChallenge(pkt *eap.EAPPacket, raw []byte) Outcome {
	attrs, err := eap.ParseAttributes(pkt.Data)
	if err != nil {
		return Error(err)
	}
	randAttr, ok := attrs[eap.AT_RAND]
	if !ok {
		return Error(errors.New("eapmethod: SIM Challenge 缺少 AT_RAND"))
	}
	rands, err := eap.ParseRANDList(randAttr, 2, 3)
	if err != nil {
		return Error(err)
	}
	macAttr, ok := attrs[eap.AT_MAC]
	if !ok {
		return Error(errors.New("eapmethod: SIM Challenge 缺少 AT_MAC"))
	}
	if len(macAttr.Value) < 18 {
		return Error(errors.New("eapmethod: AT_MAC 长度不足"))
	}
	recvMAC := macAttr.Value[2:18]

	var kcConcat []byte
	var sresConcat []byte
	for _, rand := range rands {
		sres, kc, err := m.gsm.CalculateGSM(rand)
		if err != nil {
			return Error(err)
		}
		sresConcat = append(sresConcat, sres...)
		kcConcat = append(kcConcat, kc...)
	}

	subscriberID, ok := m.identity.GetSubscriberID()
	if !ok {
		return Error(errUnavailable("subscriber identity"))
	}
	identity := string(eap.IdentityPrefixPermanent) + subscriberID

	selectedVersion := []byte{byte(simVersion1 >> 8), byte(simVersion1)}
	h := sha1.New()
	h.Write([]byte(identity))
	h.Write(kcConcat)
	h.Write(m.nonceMT)
	h.Write(m.versionListBytes)
	h.Write(selectedVersion)
	mk := h.Sum(nil)

	keyMat := crypto.NewFIPS1862PRFSHA1(mk).Bytes(nil, 16+16+64+64)
	kEncr := keyMat[0:16]
	kAut := keyMat[16:32]
	msk := keyMat[32:96]
	emsk := keyMat[96:160]
	_ = kEncr

	macOffset, ok := eap.FindAttrOffset(pkt.Data, eap.AT_MAC)
	if !ok {
		return Error(errors.New("eapmethod: 无法定位 AT_MAC 偏移"))
	}
	macPos := 8 + macOffset + 4
	if macPos < 0 || macPos+16 > len(raw) {
		return Error(errors.New("eapmethod: AT_MAC 偏移越界"))
	}
	zeroed := make([]byte, len(raw))
	copy(zeroed, raw)
	for i := 0; i < 16; i++ {
		zeroed[macPos+i] = 0
	}
	mac := hmac.New(sha1.New, kAut)
	mac.Write(zeroed)
	computedMAC := mac.Sum(nil)[:16]

	if !hmac.Equal(computedMAC, recvMAC) {
		m.state = simStateFinal
		m.done = true
		return m.clientErrorOutcome(pkt)
	}

	respAttrs := eap.ZeroedMACAttr().Encode()
	respPkt := &eap.EAPPacket{
		Code: eap.CodeResponse, Identifier: pkt.Identifier,
		Type: eap.TypeSIM, Subtype: eap.SubtypeSIMChallenge, Data: respAttrs,
	}
	eapBytes := respPkt.Encode()
	respMacOffset, _ := eap.FindAttrOffset(respAttrs, eap.AT_MAC)
	respMacPos := 8 + respMacOffset + 4
	outMac := hmac.New(sha1.New, kAut)
	outMac.Write(eapBytes)
	fullMAC := outMac.Sum(nil)
	copy(eapBytes[respMacPos:respMacPos+16], fullMAC[:16])

	m.state = simStateFinal
	m.done = true
	_ = sresConcat
	return Success(eapBytes, msk, emsk)
}

func (m *SIM) clientErrorOutcome(pkt *eap.EAPPacket) Outcome {
	clientErr := eap.BuildClientErrorAttr(clientErrUnableToProcess)
	respPkt := &eap.EAPPacket{
		Code: eap.CodeResponse, Identifier: pkt.Identifier,
		Type: eap.TypeSIM, Subtype: eap.SubtypeClientError, Data: clientErr.Encode(),
	}
	return Response(respPkt.Encode())
}

// errUnavailable 统一产出 §7 分类法里的 Unavailable 错误，供会话层
// 按类型路由到 on_error 回调。
func errUnavailable(what string) error {
	return &ikeerr.Unavailable{Collaborator: what}
}
