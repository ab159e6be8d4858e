package ikesession

import (
	"go.uber.org/zap"

	"github.com/kasumigaoka/ikev2eap/pkg/ikesa"
	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
	"github.com/kasumigaoka/ikev2eap/pkg/logger"
)

// sendRequest 在给定 SA 上加密并发出一个请求，登记重传定时器与期望的
// 响应消息 ID。返回占用的消息 ID。
func (s *Session) sendRequest(payloads []ikev2.Payload, exchange ikev2.ExchangeType) (uint32, error) {
	return s.sendRequestOn(s.sa, payloads, exchange)
}

func (s *Session) sendRequestOn(rec *ikesa.Record, payloads []ikev2.Payload, exchange ikev2.ExchangeType) (uint32, error) {
	msgID := rec.NextMessageID()
	raw, err := rec.EncryptAndEncode(payloads, exchange, msgID, false)
	if err != nil {
		return 0, err
	}
	if err := s.transport.Send(raw); err != nil {
		return 0, err
	}
	rec.ExpectResponseID(msgID)
	pr := &pendingRequest{msgID: msgID, exchange: exchange, raw: raw, sa: rec}
	s.pending[msgID] = pr
	s.startRetransmit(pr)
	logger.Debug("已发送 IKE 请求",
		zap.Uint8("exchange", uint8(exchange)), zap.Uint32("msgID", msgID))
	return msgID, nil
}

// sendResponse 以相同消息 ID 回应一个入站请求。
func (s *Session) sendResponse(rec *ikesa.Record, payloads []ikev2.Payload, exchange ikev2.ExchangeType, msgID uint32) error {
	raw, err := rec.EncryptAndEncode(payloads, exchange, msgID, true)
	if err != nil {
		return err
	}
	return s.transport.Send(raw)
}

// lookupSA 把 (SPIi, SPIr) 解析到本会话持有的某条 SA 记录。同时 rekey
// 期间除了当前 SA 还有两条候选新 SA 可能承载报文。
func (s *Session) lookupSA(spiI, spiR uint64) *ikesa.Record {
	candidates := []*ikesa.Record{s.sa, s.localRekeySA}
	if s.collision != nil {
		candidates = append(candidates, s.collision.localNewSA, s.collision.remoteNewSA)
	}
	for _, rec := range candidates {
		if rec != nil && rec.SPIi == spiI && rec.SPIr == spiR {
			return rec
		}
	}
	return nil
}

// handleResponse 分派一个带响应标志的入站报文。
func (s *Session) handleResponse(hdr *ikev2.IKEHeader, raw []byte) {
	if s.state == CreateIkeLocalInit && hdr.ExchangeType == ikev2.IKE_SA_INIT {
		s.handleInitResponse(hdr, raw)
		return
	}

	rec := s.lookupSA(hdr.SPIi, hdr.SPIr)
	if rec == nil {
		logger.Debug("未知 SPI 对上的响应，丢弃",
			zap.Uint64("spiI", hdr.SPIi), zap.Uint64("spiR", hdr.SPIr))
		return
	}
	// 响应必须与待处理请求的 ID 精确匹配，否则静默丢弃。
	if !rec.MatchesResponse(hdr.MessageID) {
		return
	}
	_, payloads, err := rec.DecodeAndDecrypt(raw)
	if err != nil {
		// 已认证 SA 上的完整性失败是致命错误；其余解码失败静默丢弃。
		if s.state != CreateIkeLocalInit && s.state != CreateIkeLocalAuth {
			s.fatal(err)
		} else {
			logger.Warn("响应解密失败，丢弃", zap.Error(err))
		}
		return
	}
	s.cancelRetransmit(hdr.MessageID)
	s.onDecryptedResponse(hdr, payloads)
}

// onDecryptedResponse 按当前状态分派已解密的响应载荷。
func (s *Session) onDecryptedResponse(hdr *ikev2.IKEHeader, payloads []ikev2.Payload) {
	switch s.state {
	case CreateIkeLocalAuth:
		s.handleAuthResponse(payloads)
	case RekeyIkeLocalCreate, SimulRekeyIkeLocalCreate:
		s.handleRekeyIkeResponse(payloads)
	case RekeyIkeLocalDelete, SimulRekeyIkeLocalDeleteRemoteDelete, SimulRekeyIkeLocalDelete:
		s.handleRekeyDeleteResponse()
	case DeleteIkeLocal:
		// 删除响应只是确认，収尾已经在 beginLocalDelete 中完成。
	default:
		// Idle 状态下的 INFORMATIONAL 响应 (DPD 等) 无需动作。
	}
}

// handleRequest 分派一个入站请求：重放检测、解密、子类型推断。
func (s *Session) handleRequest(hdr *ikev2.IKEHeader, raw []byte) {
	rec := s.lookupSA(hdr.SPIi, hdr.SPIr)
	if rec == nil {
		logger.Debug("未知 SPI 对上的请求，丢弃",
			zap.Uint64("spiI", hdr.SPIi), zap.Uint64("spiR", hdr.SPIr))
		return
	}
	if err := rec.RecordReceived(hdr.MessageID); err != nil {
		logger.Debug("重复的请求消息 ID，丢弃", zap.Uint32("msgID", hdr.MessageID))
		return
	}
	_, payloads, err := rec.DecodeAndDecrypt(raw)
	if err != nil {
		s.fatal(err)
		return
	}
	s.onDecryptedRequest(hdr, payloads)
}

// onDecryptedRequest 按 §4.6 的子类型推断规则分派入站请求。
func (s *Session) onDecryptedRequest(hdr *ikev2.IKEHeader, payloads []ikev2.Payload) {
	rec := s.lookupSA(hdr.SPIi, hdr.SPIr)
	if rec == nil {
		return
	}

	// 删除阶段里幸存新 SA 上的任何请求都是对端完成 rekey 的隐式确认。
	if (s.state == SimulRekeyIkeLocalDeleteRemoteDelete || s.state == SimulRekeyIkeRemoteDelete) && s.collision != nil {
		if survivor, _ := s.collision.resolveSurvivor(); rec == survivor {
			s.onDeferredRequestOnSurvivor()
			s.respondToRequest(rec, hdr, payloads)
			return
		}
	}

	s.respondToRequest(rec, hdr, payloads)
}

// respondToRequest 执行子类型推断并产出响应。
func (s *Session) respondToRequest(rec *ikesa.Record, hdr *ikev2.IKEHeader, payloads []ikev2.Payload) {
	subtype, err := InferExchangeSubtype(hdr.ExchangeType, payloads)
	if err != nil {
		s.fatal(err)
		return
	}
	switch subtype {
	case SubtypeRekeyIke:
		s.handleRemoteRekeyIke(rec, hdr, payloads)
	case SubtypeDeleteIke:
		s.handleRemoteDeleteIke(rec, hdr)
	case SubtypeDeleteChild:
		s.handleRemoteDeleteChild(rec, hdr, payloads)
	case SubtypeGenericInfo:
		if err := s.sendResponse(rec, nil, ikev2.INFORMATIONAL, hdr.MessageID); err != nil {
			logger.Warn("INFORMATIONAL 响应发送失败", zap.Error(err))
		}
	default:
		// CreateChild/RekeyChild 请求端由对端发起的场景：以
		// NO_ADDITIONAL_SAS 拒绝，保持会话单 Child 的简单模型。
		notify := &ikev2.EncryptedPayloadNotify{
			ProtocolID: ikev2.ProtoIKE,
			NotifyType: ikev2.NO_ADDITIONAL_SAS,
		}
		if err := s.sendResponse(rec, []ikev2.Payload{notify}, hdr.ExchangeType, hdr.MessageID); err != nil {
			logger.Warn("拒绝响应发送失败", zap.Error(err))
		}
	}
}

// handleRemoteDeleteIke 处理对端发来的 IKE SA 删除：确认后关闭会话，
// 或在 rekey 删除阶段推进状态机。
func (s *Session) handleRemoteDeleteIke(rec *ikesa.Record, hdr *ikev2.IKEHeader) {
	if err := s.sendResponse(rec, nil, ikev2.INFORMATIONAL, hdr.MessageID); err != nil {
		logger.Warn("Delete 响应发送失败", zap.Error(err))
	}

	switch s.state {
	case SimulRekeyIkeLocalDeleteRemoteDelete:
		// 对端的删除到达，本端的删除仍在途——进入只等本端删除响应的
		// 状态。
		s.state = SimulRekeyIkeLocalDelete
	case RekeyIkeRemoteDelete, SimulRekeyIkeRemoteDelete:
		s.finishRekey()
	default:
		logger.Info("对端删除 IKE SA，会话关闭")
		s.releaseSA(s.sa)
		s.state = Closed
		if s.cfg.Callbacks.OnIKEClosed != nil {
			s.cfg.Callbacks.OnIKEClosed(nil)
		}
	}
}

func (s *Session) handleRemoteDeleteChild(rec *ikesa.Record, hdr *ikev2.IKEHeader, payloads []ikev2.Payload) {
	var deleted []uint32
	for _, p := range payloads {
		if del, ok := p.(*ikev2.EncryptedPayloadDelete); ok && del.ProtocolID == ikev2.ProtoESP {
			deleted = append(deleted, del.SPIList()...)
		}
	}

	var closedLocalSPIs []uint32
	for key, spec := range s.children {
		for _, remoteSPI := range deleted {
			if key.remoteSPI != remoteSPI {
				continue
			}
			if s.ipsecInstaller != nil {
				if err := s.ipsecInstaller.DeleteChildSA(spec.LocalSPI, true); err != nil {
					logger.Warn("Child SA 删除失败", zap.Error(err))
				}
			}
			closedLocalSPIs = append(closedLocalSPIs, spec.LocalSPI)
			delete(s.children, key)
			if s.cfg.Callbacks.OnChildClosed != nil {
				s.cfg.Callbacks.OnChildClosed(childIDString(spec.LocalSPI))
			}
		}
	}

	var resp []ikev2.Payload
	if len(closedLocalSPIs) > 0 {
		resp = append(resp, ikev2.NewChildDelete(closedLocalSPIs))
	}
	if err := s.sendResponse(rec, resp, ikev2.INFORMATIONAL, hdr.MessageID); err != nil {
		logger.Warn("Child Delete 响应发送失败", zap.Error(err))
	}
}

// releaseSA 释放一条 SA 占用的两个 SPI。
func (s *Session) releaseSA(rec *ikesa.Record) {
	if rec == nil {
		return
	}
	s.spiReg.Release(s.cfg.SPIAddr, rec.SPIi)
	s.spiReg.Release(s.cfg.SPIAddr, rec.SPIr)
}

func childIDString(localSPI uint32) string {
	const hexdigits = "0123456789abcdef"
	b := []byte("child-00000000")
	for i := 0; i < 8; i++ {
		b[len(b)-1-i] = hexdigits[(localSPI>>(4*i))&0xf]
	}
	return string(b)
}

// InferExchangeSubtype 实现 §4.6 的请求子类型推断：CREATE_CHILD_SA 看
// REKEY_SA 通知的协议字段，INFORMATIONAL 中 IKE 级删除压过同报文里的
// Child 级删除。未知交换类型是致命错误。
func InferExchangeSubtype(exchange ikev2.ExchangeType, payloads []ikev2.Payload) (ExchangeSubtype, error) {
	switch exchange {
	case ikev2.IKE_SA_INIT:
		return SubtypeIkeInit, nil
	case ikev2.IKE_AUTH:
		return SubtypeIkeAuth, nil
	case ikev2.CREATE_CHILD_SA:
		for _, p := range payloads {
			notify, ok := p.(*ikev2.EncryptedPayloadNotify)
			if !ok || notify.NotifyType != ikev2.REKEY_SA {
				continue
			}
			if notify.ProtocolID == ikev2.ProtoESP {
				return SubtypeRekeyChild, nil
			}
			return SubtypeRekeyIke, nil
		}
		// 没有 REKEY_SA 通知但提议的是 IKE 协议，同样视为 IKE rekey
		// (RFC 7296 §1.3.2 的请求形状)。
		for _, p := range payloads {
			if sa, ok := p.(*ikev2.EncryptedPayloadSA); ok {
				for _, prop := range sa.Proposals {
					if prop.ProtocolID == ikev2.ProtoIKE {
						return SubtypeRekeyIke, nil
					}
				}
			}
		}
		return SubtypeCreateChild, nil
	case ikev2.INFORMATIONAL:
		sawChildDelete := false
		for _, p := range payloads {
			del, ok := p.(*ikev2.EncryptedPayloadDelete)
			if !ok {
				continue
			}
			if del.ProtocolID == ikev2.ProtoIKE {
				return SubtypeDeleteIke, nil
			}
			sawChildDelete = true
		}
		if sawChildDelete {
			return SubtypeDeleteChild, nil
		}
		return SubtypeGenericInfo, nil
	default:
		return 0, errUnknownExchange(exchange)
	}
}

type unknownExchangeError struct {
	exchange ikev2.ExchangeType
}

func (e *unknownExchangeError) Error() string {
	return "ikesession: 未知的交换类型"
}

func errUnknownExchange(exchange ikev2.ExchangeType) error {
	return &unknownExchangeError{exchange: exchange}
}
