package eapmethod

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/kasumigaoka/ikev2eap/pkg/crypto"
	"github.com/kasumigaoka/ikev2eap/pkg/eap"
)

// EAP-MSCHAPv2 OpCode (draft-kamath-pppext-eap-mschapv2 §2)。
const (
	opChallenge = 1
	opResponse  = 2
	opSuccess   = 3
	opFailure   = 4
)

type mschapState int

const (
	mschapStateCreated mschapState = iota
	mschapStateAwaitingFinal
	mschapStateFinal
)

// MSCHAPv2 实现 EAP-MSCHAPv2 (draft-kamath-pppext-eap-mschapv2，内层
// 加密原语按 RFC 2759) 的方法状态机: Created -> AwaitingFinal -> Final。
type MSCHAPv2 struct {
	state mschapState

	creds  CredentialSource
	random RandomSource

	peerChallenge   []byte
	ntResponse      []byte
	serverChallenge []byte

	done bool
}

func NewMSCHAPv2(creds CredentialSource, random RandomSource) *MSCHAPv2 {
	return &MSCHAPv2{creds: creds, random: random}
}

func (m *MSCHAPv2) Done() bool { return m.done }

func (m *MSCHAPv2) HandleRequest(pkt *eap.EAPPacket, raw []byte) Outcome {
	if m.done {
		return Error(errors.New("eapmethod: MSCHAPv2 方法已终止，拒绝进一步输入"))
	}
	if pkt.Type != eap.TypeMSCHAPv2 {
		return Error(errors.New("eapmethod: 非 EAP-MSCHAPv2 报文"))
	}
	if len(pkt.Data) < 4 {
		return Error(errors.New("eapmethod: MSCHAPv2 报文过短"))
	}
	opCode := pkt.Data[0]
	msID := pkt.Data[1]
	body := pkt.Data[4:]

	switch opCode {
	case opChallenge:
		if m.state != mschapStateCreated {
			return Error(errors.New("eapmethod: 在非 Created 状态收到 Challenge"))
		}
		return m.handleChallenge(pkt.Identifier, msID, body)
	case opSuccess:
		if m.state != mschapStateAwaitingFinal {
			return Error(errors.New("eapmethod: 在非 AwaitingFinal 状态收到 Success"))
		}
		return m.handleSuccess(pkt.Identifier, msID, body)
	case opFailure:
		if m.state != mschapStateAwaitingFinal {
			return Error(errors.New("eapmethod: 在非 AwaitingFinal 状态收到 Failure"))
		}
		return m.handleFailure(pkt.Identifier, msID)
	default:
		return Error(errors.New("eapmethod: 不支持的 MSCHAPv2 OpCode"))
	}
}

func (m *MSCHAPv2) handleChallenge(eapID, msID uint8, body []byte) Outcome {
	if len(body) < 1 || int(body[0]) != 16 || len(body) < 1+16 {
		return Error(errors.New("eapmethod: Challenge 中 Value-Size 非法"))
	}
	serverChallenge := body[1:17]

	username, ok := m.creds.GetUsername()
	if !ok {
		return Error(errUnavailable("MSCHAPv2 username"))
	}
	password, ok := m.creds.GetPassword()
	if !ok {
		return Error(errUnavailable("MSCHAPv2 password"))
	}

	peerChallenge, err := m.random.RandomBytes(16)
	if err != nil {
		return Error(err)
	}
	ntResponse, err := crypto.GenerateNtResponse(serverChallenge, peerChallenge, username, password)
	if err != nil {
		return Error(err)
	}

	m.serverChallenge = serverChallenge
	m.peerChallenge = peerChallenge
	m.ntResponse = ntResponse

	respValue := make([]byte, 49)
	copy(respValue[0:16], peerChallenge)
	// [16:24] 保留，保持零值。
	copy(respValue[24:48], ntResponse)
	// [48] Flags，保持零值。

	data := make([]byte, 0, 1+1+49+len(username))
	data = append(data, byte(len(respValue)))
	data = append(data, respValue...)
	data = append(data, []byte(username)...)

	eapData := make([]byte, 4+len(data))
	eapData[0] = opResponse
	eapData[1] = msID
	binary.BigEndian.PutUint16(eapData[2:4], uint16(len(eapData)))
	copy(eapData[4:], data)

	respPkt := &eap.EAPPacket{
		Code: eap.CodeResponse, Identifier: eapID,
		Type: eap.TypeMSCHAPv2, Data: eapData,
	}
	m.state = mschapStateAwaitingFinal
	return Response(respPkt.Encode())
}

func (m *MSCHAPv2) handleSuccess(eapID, msID uint8, body []byte) Outcome {
	message := string(body)
	sField := extractField(message, "S=")
	if sField == "" {
		return Error(errors.New("eapmethod: Success 报文缺少 S= 字段"))
	}

	username, _ := m.creds.GetUsername()
	password, _ := m.creds.GetPassword()
	expected, err := crypto.GenerateAuthenticatorResponse(password, string(m.ntResponse), m.peerChallenge, m.serverChallenge, username)
	if err != nil {
		return Error(err)
	}
	if !crypto.CheckAuthenticatorResponse(expected, "S="+sField) {
		return Error(errors.New("eapmethod: MSCHAPv2 认证方响应校验失败"))
	}

	ackData := make([]byte, 4)
	ackData[0] = opSuccess
	ackData[1] = msID
	binary.BigEndian.PutUint16(ackData[2:4], 4)
	ackPkt := &eap.EAPPacket{Code: eap.CodeResponse, Identifier: eapID, Type: eap.TypeMSCHAPv2, Data: ackData}

	passwordHash, err := crypto.NtPasswordHash(password)
	if err != nil {
		return Error(err)
	}
	hashHash := crypto.HashNtPasswordHash(passwordHash)
	masterKey := crypto.GetMasterKey(hashHash, m.ntResponse)
	sendKey := crypto.GetAsymmetricStartKey(masterKey, true, false)
	recvKey := crypto.GetAsymmetricStartKey(masterKey, false, false)
	msk := append(append([]byte{}, sendKey...), recvKey...)
	emsk, err := crypto.PrfPlus(crypto.PRF_HMAC_SHA1, masterKey, []byte("EAP-MSCHAPv2 EMSK"), 64)
	if err != nil {
		return Error(err)
	}
	m.state = mschapStateFinal
	m.done = true
	return Success(ackPkt.Encode(), msk, emsk)
}

func (m *MSCHAPv2) handleFailure(eapID, msID uint8) Outcome {
	ackData := make([]byte, 4)
	ackData[0] = opFailure
	ackData[1] = msID
	binary.BigEndian.PutUint16(ackData[2:4], 4)
	ackPkt := &eap.EAPPacket{Code: eap.CodeResponse, Identifier: eapID, Type: eap.TypeMSCHAPv2, Data: ackData}

	m.state = mschapStateFinal
	m.done = true
	return Failure(ackPkt.Encode())
}

func extractField(message, prefix string) string {
	idx := strings.Index(message, prefix)
	if idx < 0 {
		return ""
	}
	rest := message[idx+len(prefix):]
	end := strings.IndexByte(rest, ' ')
	if end < 0 {
		return rest
	}
	return rest[:end]
}
