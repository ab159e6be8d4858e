package sim

import (
	"github.com/kasumigaoka/ikev2eap/pkg/crypto"
)

// SoftSIM 软件 SIM 实现 (使用 Milenage 算法)
// 不需要物理 SIM 卡，用于测试或特殊场景
type SoftSIM struct {
	IMSI     string
	milenage *crypto.Milenage
	sqn      *SQNManager
}

// NewSoftSIM 创建软件 SIM
// k: 128 位用户密钥 (Ki)
// op: 128 位运营商密钥 (OP 或 OPc)
// useOPc: 如果为 true，使用 OPc；否则使用 OP
func NewSoftSIM(imsi string, k, op []byte, useOPc bool) (*SoftSIM, error) {
	m, err := crypto.NewMilenage(k, op, useOPc)
	if err != nil {
		return nil, err
	}

	return &SoftSIM{
		IMSI:     imsi,
		milenage: m,
		sqn:      NewSQNManager(0),
	}, nil
}

// GetIMSI 返回 IMSI
func (s *SoftSIM) GetIMSI() (string, error) {
	return s.IMSI, nil
}

// CalculateAKA 执行 AKA 认证
// 返回: RES, CK, IK, AUTS (如果 SQN 不同步)
func (s *SoftSIM) CalculateAKA(rand, autn []byte) (res, ck, ik, auts []byte, err error) {
	res, ck, ik, auts, err = s.milenage.VerifyAUTN(rand, autn, s.sqn.Current())
	if err != nil {
		if auts != nil {
			// SQN 不同步，返回 AUTS。错误统一映射到 ErrSyncFailure，
			// 上层 (EAP-AKA 状态机) 以此分流到 Sync-Failure 响应。
			return nil, nil, nil, auts, ErrSyncFailure
		}
		return nil, nil, nil, nil, err
	}

	// 从 AUTN 中还原并推进 SQN
	_, ak, _ := s.milenage.F2F5(rand)
	received := ExtractSQNFromAUTN(autn, ak)
	if !s.sqn.Verify(received) {
		auts, autsErr := s.milenage.GenerateAUTS(rand, EncodeSQN(s.sqn.Current()))
		if autsErr != nil {
			return nil, nil, nil, nil, autsErr
		}
		return nil, nil, nil, auts, ErrSyncFailure
	}
	s.sqn.Update(received + 1)

	return res, ck, ik, nil, nil
}

// CalculateGSM 按 3GPP TS 55.205 附录 4 的转换函数，从 Milenage 的
// AKA 输出派生 GSM A3/A8 三元组，供 EAP-SIM 使用：
// SRES = XRES[0:4] ⊕ XRES[4:8] ⊕ XRES[8:12] ⊕ XRES[12:16]
// Kc = CK[0:8] ⊕ CK[8:16] ⊕ IK[0:8] ⊕ IK[8:16]
func (s *SoftSIM) CalculateGSM(rand []byte) (sres, kc []byte, err error) {
	xres, _, err := s.milenage.F2F5(rand)
	if err != nil {
		return nil, nil, err
	}
	ck, err := s.milenage.F3(rand)
	if err != nil {
		return nil, nil, err
	}
	ik, err := s.milenage.F4(rand)
	if err != nil {
		return nil, nil, err
	}

	// XRES 先零填充到 16 字节 (TS 55.205: XRES* = XRES || 0...0)。
	padded := make([]byte, 16)
	copy(padded, xres)
	sres = make([]byte, 4)
	for i := 0; i < 4; i++ {
		sres[i] = padded[i] ^ padded[i+4] ^ padded[i+8] ^ padded[i+12]
	}

	kc = make([]byte, 8)
	for i := 0; i < 8; i++ {
		kc[i] = ck[i] ^ ck[i+8] ^ ik[i] ^ ik[i+8]
	}
	return sres, kc, nil
}

// Close 关闭 (无操作)
func (s *SoftSIM) Close() error {
	return nil
}

// SetSQN 设置初始 SQN
func (s *SoftSIM) SetSQN(sqn uint64) {
	s.sqn = NewSQNManager(sqn)
}

// GetSQN 获取当前 SQN
func (s *SoftSIM) GetSQN() uint64 {
	return s.sqn.Current()
}
