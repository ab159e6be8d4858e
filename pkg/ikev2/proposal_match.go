package ikev2

import "errors"

// ErrNoProposalChosen 表示对端的 SA 载荷中没有任何本端可接受的提议。
var ErrNoProposalChosen = errors.New("ikev2: 没有可接受的提议")

// ProposalMatcher 按每种变换类型的本地偏好序做多提议协商。偏好列表
// 的下标即优先级，同一提议里出现多个受支持的变换时选排位最靠前的，
// 而不是载荷中最后出现的那个。
type ProposalMatcher struct {
	preference map[TransformType][]AlgorithmType
}

// DefaultProposalMatcher 返回默认偏好序：AEAD 优先，SHA-2 系列优先，
// MODP-2048 作为普及安全底线，只在最后兜底老旧算法。
func DefaultProposalMatcher() *ProposalMatcher {
	return &ProposalMatcher{preference: map[TransformType][]AlgorithmType{
		// 只列实际可构造的算法：GCM-8 低于标准库的标签下限，CCM 没有
		// 实现，选中了也只会在密钥派生时失败。
		TransformTypeEncr: {
			ENCR_AES_GCM_16,
			ENCR_AES_GCM_12,
			ENCR_AES_CBC,
			ENCR_AES_CTR,
		},
		TransformTypeInteg: {
			AUTH_HMAC_SHA2_512_256,
			AUTH_HMAC_SHA2_384_192,
			AUTH_HMAC_SHA2_256_128,
			AUTH_HMAC_SHA1_96,
			AUTH_NONE,
		},
		TransformTypePRF: {
			PRF_HMAC_SHA2_512,
			PRF_HMAC_SHA2_384,
			PRF_HMAC_SHA2_256,
			PRF_HMAC_SHA1,
		},
		TransformTypeDH: {
			MODP_4096_bit,
			MODP_3072_bit,
			MODP_2048_bit,
			MODP_1536_bit,
			MODP_1024_bit,
		},
	}}
}

// MatchedAlgorithms 是一条提议协商收敛后的算法组合。
type MatchedAlgorithms struct {
	ProposalNum uint8
	ProtocolID  ProtocolID
	SPI         []byte
	Encr        AlgorithmType
	EncrKeyLen  uint16 // 来自 Key Length 属性，0 表示算法固定长度
	Integ       AlgorithmType
	PRF         AlgorithmType
	DH          AlgorithmType
}

// SelectBestProposal 按对端给出的提议顺序选第一条完全可接受的提议
// (RFC 7296 §2.7：响应方的序号选择权在先，本端只在单条提议内部按
// 偏好挑变换)。结构不满足 §3 不变式的提议直接跳过。
func (pm *ProposalMatcher) SelectBestProposal(sa *EncryptedPayloadSA) (*MatchedAlgorithms, error) {
	if sa == nil {
		return nil, ErrNoProposalChosen
	}
	for _, prop := range sa.Proposals {
		if prop.Validate() != nil {
			continue
		}
		if matched := pm.matchProposal(prop); matched != nil {
			return matched, nil
		}
	}
	return nil, ErrNoProposalChosen
}

// matchProposal 在单条提议内部为每种变换类型挑选偏好最高的受支持
// 算法；任何必需类型挑不出来则整条提议不可接受。
func (pm *ProposalMatcher) matchProposal(prop *Proposal) *MatchedAlgorithms {
	type choice struct {
		id     AlgorithmType
		rank   int
		keyLen uint16
		found  bool
	}
	best := map[TransformType]*choice{}

	for _, t := range prop.Transforms {
		prefs, negotiable := pm.preference[t.Type]
		if !negotiable {
			continue // ESN 等不参与算法挑选
		}
		rank := rankOf(prefs, t.ID)
		if rank < 0 {
			continue
		}
		cur, ok := best[t.Type]
		if ok && cur.rank <= rank {
			continue
		}
		c := &choice{id: t.ID, rank: rank, found: true}
		for _, attr := range t.Attributes {
			if attr.Type == AttributeKeyLength {
				c.keyLen = attr.Val
			}
		}
		best[t.Type] = c
	}

	pick := func(tt TransformType) (AlgorithmType, uint16, bool) {
		if c, ok := best[tt]; ok {
			return c.id, c.keyLen, true
		}
		return 0, 0, false
	}

	encr, keyLen, haveEncr := pick(TransformTypeEncr)
	if !haveEncr {
		return nil
	}
	integ, _, haveInteg := pick(TransformTypeInteg)
	prf, _, havePRF := pick(TransformTypePRF)
	dh, _, haveDH := pick(TransformTypeDH)

	aead := IsCombinedModeCipher(encr)
	switch prop.ProtocolID {
	case ProtoIKE:
		// IKE: ENCR + PRF + DH 必选，非 AEAD 另需 INTEG。
		if !havePRF || !haveDH {
			return nil
		}
		if !aead && !haveInteg {
			return nil
		}
	case ProtoESP:
		// ESP: ENCR 必选，非 AEAD 另需 INTEG。
		if !aead && !haveInteg {
			return nil
		}
	default:
		return nil
	}

	m := &MatchedAlgorithms{
		ProposalNum: prop.ProposalNum,
		ProtocolID:  prop.ProtocolID,
		SPI:         prop.SPI,
		Encr:        encr,
		EncrKeyLen:  keyLen,
		PRF:         prf,
		DH:          dh,
	}
	if !aead {
		m.Integ = integ
	}
	return m
}

func rankOf(prefs []AlgorithmType, alg AlgorithmType) int {
	for i, a := range prefs {
		if a == alg {
			return i
		}
	}
	return -1
}

// IsCombinedModeCipher 报告加密算法是否为组合模式 (AEAD)，此类算法
// 自带完整性保护，提议里不得再携带非 NONE 的完整性变换。
func IsCombinedModeCipher(encr AlgorithmType) bool {
	switch encr {
	case ENCR_AES_GCM_8, ENCR_AES_GCM_12, ENCR_AES_GCM_16,
		ENCR_AES_CCM_8, ENCR_AES_CCM_12, ENCR_AES_CCM_16:
		return true
	}
	return false
}

// cipherSuite 描述一条完整的提议套件，CreateMultiProposal* 由套件表
// 驱动生成，避免逐条手写提议。
type cipherSuite struct {
	encr    AlgorithmType
	keyBits int
	integ   AlgorithmType // 0 表示 AEAD，无独立完整性
	prf     AlgorithmType // 仅 IKE 套件使用
	dh      AlgorithmType // 仅 IKE 套件使用
}

var ikeSuites = []cipherSuite{
	{encr: ENCR_AES_GCM_16, keyBits: 256, prf: PRF_HMAC_SHA2_384, dh: MODP_3072_bit},
	{encr: ENCR_AES_GCM_16, keyBits: 128, prf: PRF_HMAC_SHA2_256, dh: MODP_2048_bit},
	{encr: ENCR_AES_CBC, keyBits: 256, integ: AUTH_HMAC_SHA2_256_128, prf: PRF_HMAC_SHA2_256, dh: MODP_2048_bit},
	{encr: ENCR_AES_CBC, keyBits: 128, integ: AUTH_HMAC_SHA2_256_128, prf: PRF_HMAC_SHA2_256, dh: MODP_2048_bit},
	{encr: ENCR_AES_CBC, keyBits: 128, integ: AUTH_HMAC_SHA1_96, prf: PRF_HMAC_SHA1, dh: MODP_1024_bit},
}

var espSuites = []cipherSuite{
	{encr: ENCR_AES_GCM_16, keyBits: 256},
	{encr: ENCR_AES_GCM_16, keyBits: 128},
	{encr: ENCR_AES_CBC, keyBits: 128, integ: AUTH_HMAC_SHA2_256_128},
	{encr: ENCR_AES_CBC, keyBits: 128, integ: AUTH_HMAC_SHA1_96},
}

// CreateMultiProposalIKE 生成覆盖高、中、兜底兼容级别的 IKE 提议列表。
func CreateMultiProposalIKE(spi []byte) []*Proposal {
	proposals := make([]*Proposal, 0, len(ikeSuites))
	for i, suite := range ikeSuites {
		prop := NewProposal(uint8(i+1), ProtoIKE, spi)
		prop.AddTransformWithKeyLen(TransformTypeEncr, suite.encr, suite.keyBits)
		if suite.integ != 0 {
			prop.AddTransform(TransformTypeInteg, suite.integ, 0)
		}
		prop.AddTransform(TransformTypePRF, suite.prf, 0)
		prop.AddTransform(TransformTypeDH, suite.dh, 0)
		proposals = append(proposals, prop)
	}
	return proposals
}

// CreateMultiProposalESP 生成对应的 ESP 提议列表；Child 提议必须携带
// ESN 变换 (此处固定不启用 ESN)。
func CreateMultiProposalESP(spi []byte) []*Proposal {
	proposals := make([]*Proposal, 0, len(espSuites))
	for i, suite := range espSuites {
		prop := NewProposal(uint8(i+1), ProtoESP, spi)
		prop.AddTransformWithKeyLen(TransformTypeEncr, suite.encr, suite.keyBits)
		if suite.integ != 0 {
			prop.AddTransform(TransformTypeInteg, suite.integ, 0)
		}
		prop.AddTransform(TransformTypeESN, 0, 0)
		proposals = append(proposals, prop)
	}
	return proposals
}

// AddTransformWithKeyLen 添加带 Key Length 属性的变换。
func (p *Proposal) AddTransformWithKeyLen(tType TransformType, tID AlgorithmType, keyLen int) {
	attrs := []*TransformAttribute{}
	if keyLen > 0 {
		attrs = append(attrs, &TransformAttribute{
			Type: AttributeKeyLength,
			Val:  uint16(keyLen),
		})
	}
	p.Transforms = append(p.Transforms, &Transform{
		Type:       tType,
		ID:         tID,
		Attributes: attrs,
	})
}
