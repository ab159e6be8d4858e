package ikesession

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kasumigaoka/ikev2eap/pkg/crypto"
	"github.com/kasumigaoka/ikev2eap/pkg/ikesa"
	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
	"github.com/kasumigaoka/ikev2eap/pkg/logger"
)

// rekeyPending 暂存本端发起的 IKE SA rekey 在响应到达前的中间材料。
type rekeyPending struct {
	dh      *crypto.DiffieHellman
	nonce   []byte
	newSPIi uint64
}

// sendRekeyIKE 发起 IKE SA rekey (CREATE_CHILD_SA, 提议协议为 IKE，
// SPI 为新分配的 8 字节 SPIi)。状态转入 RekeyIkeLocalCreate。
func (s *Session) sendRekeyIKE() error {
	if s.sa == nil || s.sa.Keys == nil {
		return errors.New("ikesession: IKE SA 未建立，无法 rekey")
	}

	newSPIi, err := s.spiReg.Allocate(s.cfg.SPIAddr)
	if err != nil {
		return fmt.Errorf("ikesession: rekey 分配新 SPI 失败: %w", err)
	}
	nonce, err := s.random.RandomBytes(32)
	if err != nil {
		return err
	}
	group := s.negotiatedDHGroup()
	dh, err := crypto.NewDiffieHellman(uint16(group))
	if err != nil {
		return err
	}
	if err := dh.GenerateKey(); err != nil {
		return err
	}

	prop := s.rekeyIKEProposal(spiBytes8(newSPIi))
	payloads := []ikev2.Payload{
		&ikev2.EncryptedPayloadSA{Proposals: []*ikev2.Proposal{prop}},
		&ikev2.EncryptedPayloadNonce{NonceData: nonce},
		&ikev2.EncryptedPayloadKE{DHGroup: group, KEData: dh.PublicKeyBytes()},
	}

	s.rekeyPend = &rekeyPending{dh: dh, nonce: nonce, newSPIi: newSPIi}
	s.state = RekeyIkeLocalCreate
	if _, err := s.sendRequest(payloads, ikev2.CREATE_CHILD_SA); err != nil {
		s.spiReg.Release(s.cfg.SPIAddr, newSPIi)
		s.rekeyPend = nil
		s.state = Idle
		return err
	}
	logger.Info("IKE SA rekey 请求已发出", zap.Uint64("newSPIi", newSPIi))
	return nil
}

// handleRekeyIkeResponse 处理本端 rekey 请求的响应：派生新 SA，随后
// 按是否处于同时 rekey 冲突选择删除路径。
func (s *Session) handleRekeyIkeResponse(payloads []ikev2.Payload) {
	if s.rekeyPend == nil {
		return
	}
	var saPayload *ikev2.EncryptedPayloadSA
	var kePayload *ikev2.EncryptedPayloadKE
	var noncePayload *ikev2.EncryptedPayloadNonce
	for _, p := range payloads {
		switch pl := p.(type) {
		case *ikev2.EncryptedPayloadSA:
			saPayload = pl
		case *ikev2.EncryptedPayloadKE:
			kePayload = pl
		case *ikev2.EncryptedPayloadNonce:
			noncePayload = pl
		case *ikev2.EncryptedPayloadNotify:
			if pl.IsError() {
				logger.Warn("rekey 被对端拒绝，回到 Idle",
					zap.Uint16("notify", pl.NotifyType))
				s.abandonLocalRekey()
				return
			}
		}
	}
	if saPayload == nil || kePayload == nil || noncePayload == nil {
		s.fatal(invalidSyntax("rekey 响应缺少 SA/KE/Nonce 载荷"))
		return
	}

	newSA, err := s.buildRekeyedSA(s.rekeyPend, saPayload, kePayload, noncePayload)
	if err != nil {
		s.fatal(err)
		return
	}
	s.localRekeySA = newSA
	s.rekeyPend = nil

	if s.state == SimulRekeyIkeLocalCreate {
		// 双方的候选 SA 都已齐备，裁决幸存者并进入双删除阶段。
		s.collision.localNewSA = newSA
		s.completeSimultaneousRekey()
		if err := s.sendDeleteOldSA(); err != nil {
			s.fatal(err)
		}
		return
	}

	s.state = RekeyIkeLocalDelete
	if err := s.sendDeleteOldSA(); err != nil {
		s.fatal(err)
	}
}

// buildRekeyedSA 从响应载荷构造新 SA 记录并按 RFC 7296 §2.18 派生密钥:
// SKEYSEED' = prf(SK_d_old, g^ir_new | Ni_new | Nr_new)。旧 SA 的 SK_d
// 恰好在这一次派生中使用。
func (s *Session) buildRekeyedSA(pend *rekeyPending, saPayload *ikev2.EncryptedPayloadSA,
	kePayload *ikev2.EncryptedPayloadKE, noncePayload *ikev2.EncryptedPayloadNonce) (*ikesa.Record, error) {

	matched, err := ikev2.DefaultProposalMatcher().SelectBestProposal(saPayload)
	if err != nil || matched == nil {
		return nil, noProposalChosen("rekey 响应中没有可接受的提议")
	}
	if len(matched.SPI) < 8 {
		return nil, invalidSyntax("rekey 提议缺少 8 字节 SPI")
	}
	newSPIr := binary.BigEndian.Uint64(matched.SPI[:8])
	if !s.spiReg.Reserve(s.cfg.SPIAddr, newSPIr) {
		return nil, fmt.Errorf("ikesession: rekey 响应方 SPI %x 已被占用", newSPIr)
	}

	rec := ikesa.NewRecord(pend.newSPIi, newSPIr, ikesa.RoleInitiator)
	rec.LocalNonce = pend.nonce
	rec.RemoteNonce = noncePayload.NonceData
	rec.Parent = s.sa
	if err := s.attachAlgorithms(rec, matched); err != nil {
		return nil, err
	}

	shared, err := pend.dh.ComputeSharedSecret(kePayload.KEData)
	if err != nil {
		return nil, err
	}
	skeyseed, err := s.sa.RekeySKEYSEED(shared, pend.nonce, noncePayload.NonceData)
	if err != nil {
		return nil, err
	}
	if err := rec.DeriveKeysFromSKEYSEED(skeyseed); err != nil {
		return nil, err
	}
	return rec, nil
}

// handleRemoteRekeyIke 处理对端发起的 IKE SA rekey 请求：构造响应方
// 侧的新 SA 并回应 SA/Nonce/KE。若本端也有 rekey 在途，进入同时
// rekey 冲突裁决。
func (s *Session) handleRemoteRekeyIke(rec *ikesa.Record, hdr *ikev2.IKEHeader, payloads []ikev2.Payload) {
	var saPayload *ikev2.EncryptedPayloadSA
	var kePayload *ikev2.EncryptedPayloadKE
	var noncePayload *ikev2.EncryptedPayloadNonce
	for _, p := range payloads {
		switch pl := p.(type) {
		case *ikev2.EncryptedPayloadSA:
			saPayload = pl
		case *ikev2.EncryptedPayloadKE:
			kePayload = pl
		case *ikev2.EncryptedPayloadNonce:
			noncePayload = pl
		}
	}
	if saPayload == nil || kePayload == nil || noncePayload == nil {
		notify := &ikev2.EncryptedPayloadNotify{
			ProtocolID: ikev2.ProtoIKE, NotifyType: ikev2.INVALID_SYNTAX,
		}
		if err := s.sendResponse(rec, []ikev2.Payload{notify}, ikev2.CREATE_CHILD_SA, hdr.MessageID); err != nil {
			logger.Warn("rekey 拒绝响应发送失败", zap.Error(err))
		}
		return
	}

	matched, err := ikev2.DefaultProposalMatcher().SelectBestProposal(saPayload)
	if err != nil || matched == nil || len(matched.SPI) < 8 {
		notify := &ikev2.EncryptedPayloadNotify{
			ProtocolID: ikev2.ProtoIKE, NotifyType: ikev2.NO_PROPOSAL_CHOSEN,
		}
		if err := s.sendResponse(rec, []ikev2.Payload{notify}, ikev2.CREATE_CHILD_SA, hdr.MessageID); err != nil {
			logger.Warn("rekey 拒绝响应发送失败", zap.Error(err))
		}
		return
	}
	remoteSPIi := binary.BigEndian.Uint64(matched.SPI[:8])

	newSPIr, err := s.spiReg.Allocate(s.cfg.SPIAddr)
	if err != nil {
		s.fatal(err)
		return
	}
	nonce, err := s.random.RandomBytes(32)
	if err != nil {
		s.fatal(err)
		return
	}
	dh, err := crypto.NewDiffieHellman(uint16(matched.DH))
	if err != nil {
		s.fatal(err)
		return
	}
	if err := dh.GenerateKey(); err != nil {
		s.fatal(err)
		return
	}

	newSA := ikesa.NewRecord(remoteSPIi, newSPIr, ikesa.RoleResponder)
	// 对端是这次交换的发起方：它的 nonce 在前。
	newSA.LocalNonce = nonce
	newSA.RemoteNonce = noncePayload.NonceData
	newSA.Parent = s.sa
	if err := s.attachAlgorithms(newSA, matched); err != nil {
		s.fatal(err)
		return
	}
	shared, err := dh.ComputeSharedSecret(kePayload.KEData)
	if err != nil {
		s.fatal(err)
		return
	}
	skeyseed, err := s.sa.RekeySKEYSEED(shared, noncePayload.NonceData, nonce)
	if err != nil {
		s.fatal(err)
		return
	}
	if err := newSA.DeriveKeysFromSKEYSEED(skeyseed); err != nil {
		s.fatal(err)
		return
	}

	prop := s.rekeyIKEProposal(spiBytes8(newSPIr))
	prop.ProposalNum = matched.ProposalNum
	respPayloads := []ikev2.Payload{
		&ikev2.EncryptedPayloadSA{Proposals: []*ikev2.Proposal{prop}},
		&ikev2.EncryptedPayloadNonce{NonceData: nonce},
		&ikev2.EncryptedPayloadKE{DHGroup: matched.DH, KEData: dh.PublicKeyBytes()},
	}
	if err := s.sendResponse(rec, respPayloads, ikev2.CREATE_CHILD_SA, hdr.MessageID); err != nil {
		s.fatal(err)
		return
	}

	if s.state == RekeyIkeLocalCreate {
		s.beginSimultaneousRekey(newSA)
		return
	}
	// 纯对端发起的 rekey：等对端删除旧 SA。
	s.localRekeySA = newSA
	s.state = RekeyIkeRemoteDelete
}

// sendDeleteOldSA 在旧 SA 上发出 IKE SA 删除请求。
func (s *Session) sendDeleteOldSA() error {
	_, err := s.sendRequestOn(s.sa, []ikev2.Payload{ikev2.NewIKEDelete()}, ikev2.INFORMATIONAL)
	return err
}

// handleRekeyDeleteResponse 收到本端删除请求的响应后收尾 rekey。
func (s *Session) handleRekeyDeleteResponse() {
	switch s.state {
	case RekeyIkeLocalDelete:
		s.finishRekey()
	case SimulRekeyIkeLocalDeleteRemoteDelete:
		// 本端删除已确认，还差对端的删除请求。
		s.state = SimulRekeyIkeRemoteDelete
	case SimulRekeyIkeLocalDelete:
		s.finishRekey()
	}
}

// finishRekey 把幸存 SA 提升为当前 SA，释放被替换与落败 SA 的 SPI。
// Child SA 表留在会话上，天然被幸存 SA 继承。
func (s *Session) finishRekey() {
	old := s.sa
	var survivor *ikesa.Record
	if s.collision != nil {
		survivor, _ = s.collision.resolveSurvivor()
	} else {
		survivor = s.localRekeySA
	}
	if survivor == nil {
		s.fatal(errors.New("ikesession: rekey 收尾时没有幸存 SA"))
		return
	}
	for _, rec := range s.pendingDeletes {
		if rec != old {
			s.releaseSA(rec)
		}
	}
	if old != survivor {
		s.releaseSA(old)
	}
	s.sa = survivor
	s.sa.Parent = nil
	s.localRekeySA = nil
	s.collision = nil
	s.pendingDeletes = nil
	s.state = Idle
	logger.Info("IKE SA rekey 完成",
		zap.Uint64("spiI", s.sa.SPIi), zap.Uint64("spiR", s.sa.SPIr))
}

// abandonLocalRekey 对端拒绝 rekey 时清理中间材料并回到 Idle。
func (s *Session) abandonLocalRekey() {
	if s.rekeyPend != nil {
		s.spiReg.Release(s.cfg.SPIAddr, s.rekeyPend.newSPIi)
		s.rekeyPend = nil
	}
	s.state = Idle
}

// negotiatedDHGroup 返回当前 SA 协商出的 DH 组。
func (s *Session) negotiatedDHGroup() ikev2.AlgorithmType {
	if s.matched != nil && s.matched.DH != 0 {
		return s.matched.DH
	}
	return s.initialDHGroup()
}

// rekeyIKEProposal 用当前协商结果构造 rekey 提议，SPI 为新 SA 的
// 8 字节 SPI。
func (s *Session) rekeyIKEProposal(spi []byte) *ikev2.Proposal {
	prop := ikev2.NewProposal(1, ikev2.ProtoIKE, spi)
	if s.matched != nil {
		keyLen := int(s.matched.EncrKeyLen)
		prop.AddTransform(ikev2.TransformTypeEncr, s.matched.Encr, keyLen)
		if !isAEADAlg(s.matched.Encr) {
			prop.AddTransform(ikev2.TransformTypeInteg, s.matched.Integ, 0)
		}
		prop.AddTransform(ikev2.TransformTypePRF, s.matched.PRF, 0)
		prop.AddTransform(ikev2.TransformTypeDH, s.matched.DH, 0)
		return prop
	}
	prop.AddTransform(ikev2.TransformTypeEncr, ikev2.ENCR_AES_CBC, 128)
	prop.AddTransform(ikev2.TransformTypeInteg, ikev2.AUTH_HMAC_SHA2_256_128, 0)
	prop.AddTransform(ikev2.TransformTypePRF, ikev2.PRF_HMAC_SHA2_256, 0)
	prop.AddTransform(ikev2.TransformTypeDH, ikev2.MODP_2048_bit, 0)
	return prop
}
