package ikesession

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/kasumigaoka/ikev2eap/pkg/crypto"
	"github.com/kasumigaoka/ikev2eap/pkg/ikesa"
	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
	"github.com/kasumigaoka/ikev2eap/pkg/logger"
)

// sendIKESAInit 构造并发送 IKE_SA_INIT 请求。若之前收到过 COOKIE 通知，
// 按 RFC 7296 §2.6 把它作为首个载荷原样带上重发。
func (s *Session) sendIKESAInit() error {
	if s.sa == nil {
		spiI, err := s.spiReg.Allocate(s.cfg.SPIAddr)
		if err != nil {
			return fmt.Errorf("ikesession: 分配本端 SPI 失败: %w", err)
		}
		s.sa = ikesa.NewRecord(spiI, 0, ikesa.RoleInitiator)
	}

	if len(s.localNonce) == 0 {
		nonce, err := s.random.RandomBytes(32)
		if err != nil {
			return err
		}
		s.localNonce = nonce
	}

	group := s.initialDHGroup()
	if s.dh == nil {
		dh, err := crypto.NewDiffieHellman(uint16(group))
		if err != nil {
			return err
		}
		if err := dh.GenerateKey(); err != nil {
			return err
		}
		s.dh = dh
	}

	for _, prop := range s.ikeProposals() {
		if err := prop.Validate(); err != nil {
			return fmt.Errorf("ikesession: IKE 提议无效: %w", err)
		}
	}

	var payloads []ikev2.Payload
	if len(s.cookie) > 0 {
		payloads = append(payloads, &ikev2.EncryptedPayloadNotify{
			ProtocolID: ikev2.ProtoIKE,
			NotifyType: ikev2.COOKIE,
			NotifyData: s.cookie,
		})
	}
	payloads = append(payloads,
		&ikev2.EncryptedPayloadSA{Proposals: s.ikeProposals()},
		&ikev2.EncryptedPayloadKE{DHGroup: group, KEData: s.dh.PublicKeyBytes()},
		&ikev2.EncryptedPayloadNonce{NonceData: s.localNonce},
	)
	payloads = append(payloads, s.natDetectionNotifies()...)
	if s.cfg.EnableFragmentation {
		payloads = append(payloads, &ikev2.EncryptedPayloadNotify{
			ProtocolID: ikev2.ProtoIKE,
			NotifyType: ikev2.IKEV2_FRAGMENTATION_SUPPORTED,
		})
	}

	// 首次发送时消耗消息 ID 0；带 COOKIE 的重发仍使用 ID 0
	// (RFC 7296 §2.6)，不再推进计数器。
	if !s.initMsgIDUsed {
		s.sa.NextMessageID()
		s.initMsgIDUsed = true
	}

	pkt := ikev2.NewIKEPacket()
	pkt.Header = &ikev2.IKEHeader{
		SPIi:         s.sa.SPIi,
		Version:      0x20,
		ExchangeType: ikev2.IKE_SA_INIT,
		Flags:        ikev2.FlagInitiator,
		MessageID:    0,
	}
	pkt.Payloads = payloads

	raw, err := pkt.Encode()
	if err != nil {
		return err
	}
	s.initRequestRaw = raw

	if err := s.transport.Send(raw); err != nil {
		return err
	}
	s.sa.ExpectResponseID(0)
	pr := &pendingRequest{msgID: 0, exchange: ikev2.IKE_SA_INIT, raw: raw, sa: s.sa}
	s.pending[0] = pr
	s.startRetransmit(pr)

	logger.Info("IKE_SA_INIT 请求已发送",
		zap.Uint64("spiI", s.sa.SPIi), zap.Uint16("dhGroup", uint16(group)))
	return nil
}

// handleInitResponse 处理明文的 IKE_SA_INIT 响应：COOKIE 重试、
// 提议选择、DH 共享密钥与全套 SK_* 派生，然后进入 IKE_AUTH。
func (s *Session) handleInitResponse(hdr *ikev2.IKEHeader, raw []byte) {
	if !s.sa.MatchesResponse(hdr.MessageID) {
		return
	}
	pkt, err := ikev2.DecodePacket(raw)
	if err != nil {
		// 未认证字节上的解码失败静默丢弃，等待重传。
		logger.Warn("IKE_SA_INIT 响应解码失败，丢弃", zap.Error(err))
		return
	}
	s.cancelRetransmit(hdr.MessageID)

	var saPayload *ikev2.EncryptedPayloadSA
	var kePayload *ikev2.EncryptedPayloadKE
	var noncePayload *ikev2.EncryptedPayloadNonce
	var natDst []byte
	for _, p := range pkt.Payloads {
		switch pl := p.(type) {
		case *ikev2.EncryptedPayloadNotify:
			switch {
			case pl.NotifyType == ikev2.COOKIE:
				s.handleCookie(pl.NotifyData)
				s.sa.ExpectResponseID(0)
				if err := s.resendInitWithCookie(); err != nil {
					s.fatal(err)
				}
				return
			case pl.NotifyType == ikev2.NAT_DETECTION_DESTINATION_IP:
				natDst = pl.NotifyData
			case pl.IsError():
				s.fatal(fmt.Errorf("ikesession: IKE_SA_INIT 收到错误通知 %d", pl.NotifyType))
				return
			}
		case *ikev2.EncryptedPayloadSA:
			saPayload = pl
		case *ikev2.EncryptedPayloadKE:
			kePayload = pl
		case *ikev2.EncryptedPayloadNonce:
			noncePayload = pl
		}
	}

	if saPayload == nil || kePayload == nil || noncePayload == nil {
		s.fatal(errors.New("ikesession: IKE_SA_INIT 响应缺少 SA/KE/Nonce 载荷"))
		return
	}

	matched, err := ikev2.DefaultProposalMatcher().SelectBestProposal(saPayload)
	if err != nil || matched == nil {
		s.fatal(noProposalChosen("IKE_SA_INIT 响应中没有可接受的提议"))
		return
	}
	s.matched = matched

	if !s.spiReg.Reserve(s.cfg.SPIAddr, hdr.SPIr) {
		s.fatal(fmt.Errorf("ikesession: 响应方 SPI %x 已被占用", hdr.SPIr))
		return
	}
	s.sa.SPIr = hdr.SPIr
	s.sa.LocalNonce = s.localNonce
	s.sa.RemoteNonce = noncePayload.NonceData
	s.initResponseRaw = raw

	if err := s.attachAlgorithms(s.sa, matched); err != nil {
		s.fatal(err)
		return
	}
	shared, err := s.dh.ComputeSharedSecret(kePayload.KEData)
	if err != nil {
		s.fatal(err)
		return
	}
	if err := s.sa.DeriveKeys(shared); err != nil {
		s.fatal(err)
		return
	}

	if natDst != nil {
		s.checkNATDetection(natDst)
	}

	logger.Info("IKE SA 密钥派生完成，进入 IKE_AUTH",
		zap.Uint64("spiI", s.sa.SPIi), zap.Uint64("spiR", s.sa.SPIr))
	s.state = CreateIkeLocalAuth
	if err := s.sendIKEAuth(); err != nil {
		s.fatal(err)
	}
}

// resendInitWithCookie 丢弃上一份待重传请求，带着 COOKIE 重发。
func (s *Session) resendInitWithCookie() error {
	s.cancelRetransmit(0)
	return s.sendIKESAInit()
}

// attachAlgorithms 把协商结果落到 SA 记录上。
func (s *Session) attachAlgorithms(rec *ikesa.Record, m *ikev2.MatchedAlgorithms) error {
	keyLen := int(m.EncrKeyLen)
	if keyLen == 0 {
		keyLen = 128
	}
	enc, err := crypto.GetEncrypterWithKeyLen(uint16(m.Encr), keyLen)
	if err != nil {
		return err
	}
	prf, err := crypto.GetPRF(uint16(m.PRF))
	if err != nil {
		return err
	}
	rec.EncAlg = enc
	rec.PRFAlg = prf
	rec.IsAEAD = isAEADAlg(m.Encr)
	if !rec.IsAEAD {
		integ, err := crypto.GetIntegrityAlgorithm(uint16(m.Integ))
		if err != nil {
			return err
		}
		rec.IntegAlg = integ
	}
	return nil
}

func isAEADAlg(encr ikev2.AlgorithmType) bool {
	return ikev2.IsCombinedModeCipher(encr)
}

// initialDHGroup 取配置提议列表中第一个 DH 变换作为初始 KE 组。
func (s *Session) initialDHGroup() ikev2.AlgorithmType {
	for _, prop := range s.cfg.Proposals {
		for _, t := range prop.Transforms {
			if t.Type == ikev2.TransformTypeDH {
				return t.ID
			}
		}
	}
	return ikev2.MODP_2048_bit
}

func (s *Session) ikeProposals() []*ikev2.Proposal {
	if len(s.cfg.Proposals) > 0 {
		return s.cfg.Proposals
	}
	return ikev2.CreateMultiProposalIKE(nil)
}

// natDetectionNotifies 计算 NAT_DETECTION_SOURCE_IP / DESTINATION_IP
// (SHA-1(SPIi|SPIr|addr|port))。地址解析不出来时跳过——NAT-T 是可选
// 能力，不应阻塞协商。
func (s *Session) natDetectionNotifies() []ikev2.Payload {
	localIP, localPort := splitAddr(s.cfg.LocalAddr)
	remoteIP, remotePort := remoteAddrParts(s.cfg.RemoteAddr)
	if localIP == nil || remoteIP == nil {
		return nil
	}
	src := ikev2.CalculateNATDetectionHash(s.sa.SPIi, 0, localIP, localPort)
	dst := ikev2.CalculateNATDetectionHash(s.sa.SPIi, 0, remoteIP, remotePort)
	return []ikev2.Payload{
		ikev2.CreateNATDetectionNotify(ikev2.NAT_DETECTION_SOURCE_IP, src),
		ikev2.CreateNATDetectionNotify(ikev2.NAT_DETECTION_DESTINATION_IP, dst),
	}
}

// checkNATDetection 校验响应中的 NAT_DETECTION_DESTINATION_IP。不匹配
// 说明本端在 NAT 之后，后续报文应由 Transport 切换到 4500 端口并加
// 4 字节非 ESP 标记前缀。
func (s *Session) checkNATDetection(got []byte) {
	localIP, localPort := splitAddr(s.cfg.LocalAddr)
	if localIP == nil {
		return
	}
	want := ikev2.CalculateNATDetectionHash(s.sa.SPIi, s.sa.SPIr, localIP, localPort)
	if !equalBytes(want, got) {
		logger.Info("NAT 检测: 本端位于 NAT 之后，切换 UDP 封装")
		if natt, ok := s.transport.(interface{ EnableNATT() }); ok {
			natt.EnableNATT()
		}
	}
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func splitAddr(addr string) ([]byte, uint16) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		portStr = "500"
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, 0
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	var port uint16 = 500
	if len(portStr) > 0 {
		var p int
		fmt.Sscanf(portStr, "%d", &p)
		if p > 0 && p < 1<<16 {
			port = uint16(p)
		}
	}
	return ip, port
}

func remoteAddrParts(addr net.Addr) ([]byte, uint16) {
	if addr == nil {
		return nil, 0
	}
	if ua, ok := addr.(*net.UDPAddr); ok {
		ip := ua.IP
		if v4 := ip.To4(); v4 != nil {
			ip = v4
		}
		return ip, uint16(ua.Port)
	}
	return splitAddr(addr.String())
}

// spiBytes8 把 64 位 SPI 编码成网络序字节串。
func spiBytes8(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
