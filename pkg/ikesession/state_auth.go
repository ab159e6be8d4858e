package ikesession

import (
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/kasumigaoka/ikev2eap/pkg/crypto"
	"github.com/kasumigaoka/ikev2eap/pkg/eapauth"
	"github.com/kasumigaoka/ikev2eap/pkg/ikeerr"
	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
	"github.com/kasumigaoka/ikev2eap/pkg/logger"
)

var ikeAuthKeyPad = []byte("Key Pad for IKEv2")

// sendIKEAuth 发送首个 IKE_AUTH 请求。PSK 认证直接携带 AUTH 载荷；
// EAP 认证省略 AUTH 并附带 EAP_ONLY_AUTHENTICATION 通知 (RFC 5998)，
// 等待服务器开始 EAP 交换。
func (s *Session) sendIKEAuth() error {
	idi := &ikev2.EncryptedPayloadID{
		IDType:      s.cfg.LocalIDType,
		IDData:      s.cfg.LocalIDData,
		IsInitiator: true,
	}

	if s.childSPI == 0 {
		spiBytes, err := s.random.RandomBytes(4)
		if err != nil {
			return err
		}
		s.childSPI = binary.BigEndian.Uint32(spiBytes)
	}
	childSPIBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(childSPIBytes, s.childSPI)

	cp := &ikev2.EncryptedPayloadCP{
		CFGType: ikev2.CFG_REQUEST,
		Attributes: []*ikev2.CPAttribute{
			{Type: ikev2.INTERNAL_IP4_ADDRESS},
			{Type: ikev2.INTERNAL_IP4_DNS},
			{Type: ikev2.INTERNAL_IP6_ADDRESS},
			{Type: ikev2.INTERNAL_IP6_DNS},
		},
	}

	childProps := s.childProposals(childSPIBytes)
	for _, prop := range childProps {
		if err := prop.Validate(); err != nil {
			return fmt.Errorf("ikesession: Child 提议无效: %w", err)
		}
	}

	tsI, tsR := s.trafficSelectorPayloads()
	payloads := []ikev2.Payload{
		idi, cp,
		&ikev2.EncryptedPayloadSA{Proposals: childProps},
		tsI, tsR,
	}

	switch s.cfg.AuthMethod {
	case AuthPSK:
		authData, err := s.computeInitiatorAuth(s.cfg.PSK, idi)
		if err != nil {
			return err
		}
		payloads = append(payloads, &ikev2.EncryptedPayloadAuth{
			AuthMethod: ikev2.AuthMethodSharedKey,
			AuthData:   authData,
		})
	case AuthEAP:
		payloads = append(payloads, &ikev2.EncryptedPayloadNotify{
			ProtocolID: ikev2.ProtoIKE,
			NotifyType: ikev2.EAP_ONLY_AUTHENTICATION,
		})
	}

	_, err := s.sendRequest(payloads, ikev2.IKE_AUTH)
	return err
}

// computeInitiatorAuth 计算发起方的 AUTH 数据 (RFC 7296 §2.15):
// AUTH = prf( prf(secret, "Key Pad for IKEv2"),
//
//	RealMessage1 | NonceR | prf(SK_pi, IDi_Body) )。
//
// EAP 认证时 secret 是导出的 MSK，PSK 认证时是共享口令。
func (s *Session) computeInitiatorAuth(secret []byte, idi *ikev2.EncryptedPayloadID) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("ikesession: AUTH 密钥材料为空")
	}
	if len(s.initRequestRaw) == 0 || len(s.sa.RemoteNonce) == 0 {
		return nil, errors.New("ikesession: 缺少 AUTH 签名八位组输入")
	}
	prf := s.sa.PRFAlg

	mac := hmac.New(prf.Hash, secret)
	mac.Write(ikeAuthKeyPad)
	authKey := mac.Sum(nil)

	idBody, err := idi.Encode()
	if err != nil {
		return nil, err
	}
	macID := hmac.New(prf.Hash, s.sa.Keys.SK_pi)
	macID.Write(idBody)
	idHash := macID.Sum(nil)

	macAuth := hmac.New(prf.Hash, authKey)
	macAuth.Write(s.initRequestRaw)
	macAuth.Write(s.sa.RemoteNonce)
	macAuth.Write(idHash)
	return macAuth.Sum(nil), nil
}

// verifyResponderAuth 校验响应方 AUTH (镜像 §2.15:
// RealMessage2 | NonceI | prf(SK_pr, IDr_Body))。PSK 或 EAP-MSK 同式。
func (s *Session) verifyResponderAuth(secret []byte, auth *ikev2.EncryptedPayloadAuth) error {
	if len(s.remoteIDrBody) == 0 {
		return errors.New("ikesession: 尚未收到 IDr，无法校验响应方 AUTH")
	}
	prf := s.sa.PRFAlg

	mac := hmac.New(prf.Hash, secret)
	mac.Write(ikeAuthKeyPad)
	authKey := mac.Sum(nil)

	macID := hmac.New(prf.Hash, s.sa.Keys.SK_pr)
	macID.Write(s.remoteIDrBody)
	idHash := macID.Sum(nil)

	macAuth := hmac.New(prf.Hash, authKey)
	macAuth.Write(s.initResponseRaw)
	macAuth.Write(s.sa.LocalNonce)
	macAuth.Write(idHash)
	want := macAuth.Sum(nil)

	if !hmac.Equal(want, auth.AuthData) {
		return authFailed("响应方 AUTH 校验失败")
	}
	return nil
}

// handleAuthResponse 处理解密后的 IKE_AUTH 响应载荷。EAP 流程下这个
// 交换会往返多次：EAP Request 产出下一个携带 EAP 载荷的 IKE_AUTH
// 请求；裸 EAP Success 之后用 MSK 发送最终 AUTH。
func (s *Session) handleAuthResponse(payloads []ikev2.Payload) {
	var eapPayload *ikev2.EncryptedPayloadEAP
	var authPayload *ikev2.EncryptedPayloadAuth
	var cpPayload *ikev2.EncryptedPayloadCP
	var saPayload *ikev2.EncryptedPayloadSA
	var tsiPayload, tsrPayload *ikev2.EncryptedPayloadTS

	for _, p := range payloads {
		switch pl := p.(type) {
		case *ikev2.EncryptedPayloadEAP:
			eapPayload = pl
		case *ikev2.EncryptedPayloadAuth:
			authPayload = pl
		case *ikev2.EncryptedPayloadCP:
			cpPayload = pl
		case *ikev2.EncryptedPayloadSA:
			saPayload = pl
		case *ikev2.EncryptedPayloadTS:
			if pl.IsInitiator {
				tsiPayload = pl
			} else {
				tsrPayload = pl
			}
		case *ikev2.EncryptedPayloadID:
			if !pl.IsInitiator {
				body, err := pl.Encode()
				if err == nil {
					s.remoteIDrBody = body
				}
			}
		case *ikev2.EncryptedPayloadNotify:
			if pl.IsError() {
				s.fatal(fmt.Errorf("ikesession: IKE_AUTH 收到错误通知 %d", pl.NotifyType))
				return
			}
		}
	}

	if eapPayload != nil {
		s.handleEAPPayload(eapPayload.EAPMessage)
		return
	}

	// 最终响应: AUTH + CP + SA + TS。
	if authPayload == nil {
		s.fatal(authFailed("IKE_AUTH 最终响应缺少 AUTH 载荷"))
		return
	}
	secret := s.cfg.PSK
	if s.cfg.AuthMethod == AuthEAP {
		secret = s.msk
	}
	if err := s.verifyResponderAuth(secret, authPayload); err != nil {
		s.fatal(err)
		return
	}

	// CFG_REPLY 的附加不变式违规是语法错误，直接本地删除会话而不是
	// 上报 AUTHENTICATION_FAILED。
	if err := validateCPReply(cpPayload); err != nil {
		logger.Error("CFG_REPLY 校验失败", zap.Error(err))
		s.beginLocalDelete(err)
		return
	}

	if saPayload == nil || tsiPayload == nil || tsrPayload == nil {
		s.fatal(invalidSyntax("IKE_AUTH 最终响应缺少 SA/TS 载荷"))
		return
	}
	if err := s.establishChildSA(saPayload, tsiPayload, tsrPayload); err != nil {
		s.fatal(err)
		return
	}

	s.state = Idle
	logger.Info("IKE SA 建立完成", zap.Uint64("spiI", s.sa.SPIi), zap.Uint64("spiR", s.sa.SPIr))
	if s.cfg.Callbacks.OnIKEEstablished != nil {
		s.cfg.Callbacks.OnIKEEstablished()
	}
}

// handleEAPPayload 把内层 EAP 报文交给 C5，按结果推进 IKE_AUTH。
func (s *Session) handleEAPPayload(raw []byte) {
	if s.eap == nil {
		s.fatal(authFailed("服务器发起 EAP 但本端未配置 EAP"))
		return
	}
	result, err := s.eap.HandleMessage(raw)
	if err != nil {
		s.onEAPError(err)
		return
	}
	switch result.Kind {
	case eapauth.ResultContinue:
		if len(result.Response) == 0 {
			return
		}
		payloads := []ikev2.Payload{&ikev2.EncryptedPayloadEAP{EAPMessage: result.Response}}
		if _, err := s.sendRequest(payloads, ikev2.IKE_AUTH); err != nil {
			s.fatal(err)
		}
	case eapauth.ResultSuccess:
		s.msk = result.MSK
		if err := s.sendFinalAuth(); err != nil {
			s.fatal(err)
		}
	case eapauth.ResultFailure:
		s.fatal(authFailed("EAP 认证失败"))
	}
}

// onEAPError 区分 §7 的错误等级：InvalidRequest/Unavailable 走
// on_error 回调并终止 EAP 会话，其余升级为致命错误。
func (s *Session) onEAPError(err error) {
	var invalid *ikeerr.InvalidRequest
	var unavailable *ikeerr.Unavailable
	switch {
	case errors.As(err, &invalid):
		if s.cfg.Callbacks.OnError != nil {
			s.cfg.Callbacks.OnError("invalid_request", err)
		}
		s.beginLocalDelete(err)
	case errors.As(err, &unavailable):
		if s.cfg.Callbacks.OnError != nil {
			s.cfg.Callbacks.OnError("unavailable", err)
		}
		s.beginLocalDelete(err)
	default:
		s.fatal(err)
	}
}

// sendFinalAuth 在裸 EAP Success 之后发送携带 MSK-AUTH 的收尾请求。
func (s *Session) sendFinalAuth() error {
	idi := &ikev2.EncryptedPayloadID{
		IDType:      s.cfg.LocalIDType,
		IDData:      s.cfg.LocalIDData,
		IsInitiator: true,
	}
	authData, err := s.computeInitiatorAuth(s.msk, idi)
	if err != nil {
		return err
	}
	payloads := []ikev2.Payload{&ikev2.EncryptedPayloadAuth{
		AuthMethod: ikev2.AuthMethodSharedKey,
		AuthData:   authData,
	}}
	_, err = s.sendRequest(payloads, ikev2.IKE_AUTH)
	return err
}

// establishChildSA 收尾第一条 Child SA：选提议、收窄流量选择器、
// 派生 KEYMAT 并交给外部安装器。
func (s *Session) establishChildSA(sa *ikev2.EncryptedPayloadSA, tsi, tsr *ikev2.EncryptedPayloadTS) error {
	matched, err := ikev2.DefaultProposalMatcher().SelectBestProposal(sa)
	if err != nil || matched == nil {
		return noProposalChosen("Child SA 响应中没有可接受的提议")
	}
	if len(matched.SPI) < 4 {
		return invalidSyntax("Child SA 提议缺少 4 字节 SPI")
	}
	remoteSPI := binary.BigEndian.Uint32(matched.SPI[:4])

	localTS, err := narrowSelectors(s.localSelectors(), tsi.TrafficSelectors)
	if err != nil {
		return err
	}
	remoteTS, err := narrowSelectors(s.localSelectors(), tsr.TrafficSelectors)
	if err != nil {
		return err
	}

	keys, err := s.deriveChildKeys(matched, s.sa.LocalNonce, s.sa.RemoteNonce)
	if err != nil {
		return err
	}

	spec := &ChildSASpec{
		Proposal:        matched,
		Keys:            keys,
		LocalSPI:        s.childSPI,
		RemoteSPI:       remoteSPI,
		LocalSelectors:  localTS,
		RemoteSelectors: remoteTS,
	}
	if s.ipsecInstaller != nil {
		if err := s.ipsecInstaller.InstallChildSA(*spec); err != nil {
			return ikeerr.NewFatal("Child SA 安装失败", err)
		}
	}
	s.children[childSAKey{localSPI: spec.LocalSPI, remoteSPI: spec.RemoteSPI}] = spec
	if s.cfg.Callbacks.OnChildEstablished != nil {
		s.cfg.Callbacks.OnChildEstablished(
			childIDString(spec.LocalSPI), spec.LocalSPI, spec.RemoteSPI)
	}
	logger.Info("Child SA 已安装",
		zap.Uint32("localSPI", spec.LocalSPI), zap.Uint32("remoteSPI", spec.RemoteSPI))
	return nil
}

// deriveChildKeys 实现 RFC 7296 §2.17:
// KEYMAT = prf+(SK_d, Ni | Nr)，按 加密i/完整性i/加密r/完整性r 切分。
func (s *Session) deriveChildKeys(m *ikev2.MatchedAlgorithms, ni, nr []byte) (*ikev2.ChildSAKeys, error) {
	keyLen := int(m.EncrKeyLen)
	if keyLen == 0 {
		keyLen = 128
	}
	enc, err := crypto.GetEncrypterWithKeyLen(uint16(m.Encr), keyLen)
	if err != nil {
		return nil, err
	}
	encKeyLen := enc.KeySize() + enc.SaltSize()
	integKeyLen := 0
	if !isAEADAlg(m.Encr) && m.Integ != ikev2.AUTH_NONE {
		integ, err := crypto.GetIntegrityAlgorithm(uint16(m.Integ))
		if err != nil {
			return nil, err
		}
		integKeyLen = integ.KeySize()
	}

	seed := append(append([]byte{}, ni...), nr...)
	keyMat, err := crypto.PrfPlus(s.sa.PRFAlg, s.sa.Keys.SK_d, seed, (encKeyLen+integKeyLen)*2)
	if err != nil {
		return nil, err
	}
	keys := &ikev2.ChildSAKeys{}
	cursor := 0
	keys.SK_ei = keyMat[cursor : cursor+encKeyLen]
	cursor += encKeyLen
	if integKeyLen > 0 {
		keys.SK_ai = keyMat[cursor : cursor+integKeyLen]
		cursor += integKeyLen
	}
	keys.SK_er = keyMat[cursor : cursor+encKeyLen]
	cursor += encKeyLen
	if integKeyLen > 0 {
		keys.SK_ar = keyMat[cursor : cursor+integKeyLen]
	}
	return keys, nil
}

func (s *Session) childProposals(spi []byte) []*ikev2.Proposal {
	if len(s.cfg.ChildProposal) > 0 {
		for _, p := range s.cfg.ChildProposal {
			p.SPI = spi
		}
		return s.cfg.ChildProposal
	}
	return ikev2.CreateMultiProposalESP(spi)
}

// trafficSelectorPayloads 默认提议全量选择器 (0.0.0.0/0 与 ::/0)，由
// 响应方收窄。
func (s *Session) trafficSelectorPayloads() (*ikev2.EncryptedPayloadTS, *ikev2.EncryptedPayloadTS) {
	all := s.localSelectors()
	return &ikev2.EncryptedPayloadTS{IsInitiator: true, TrafficSelectors: all},
		&ikev2.EncryptedPayloadTS{IsInitiator: false, TrafficSelectors: all}
}

func (s *Session) localSelectors() []*ikev2.TrafficSelector {
	ts4 := ikev2.NewTrafficSelectorIPV4(
		net.IPv4zero.To4(), net.IPv4bcast.To4(), 0, 65535)
	ipv6Max := make(net.IP, net.IPv6len)
	for i := range ipv6Max {
		ipv6Max[i] = 0xff
	}
	ts6 := ikev2.NewTrafficSelectorIPV6(net.IPv6zero, ipv6Max, 0, 65535)
	return []*ikev2.TrafficSelector{ts4, ts6}
}
