package ikev2

import "testing"

func TestSelectBestProposalPicksPreferredTransform(t *testing.T) {
	// 同一提议里同时给出 SHA1 与 SHA2-256 完整性：按本地偏好应选
	// SHA2-256，与出现顺序无关。
	prop := NewProposal(1, ProtoIKE, nil)
	prop.AddTransformWithKeyLen(TransformTypeEncr, ENCR_AES_CBC, 128)
	prop.AddTransform(TransformTypeInteg, AUTH_HMAC_SHA1_96, 0)
	prop.AddTransform(TransformTypeInteg, AUTH_HMAC_SHA2_256_128, 0)
	prop.AddTransform(TransformTypePRF, PRF_HMAC_SHA1, 0)
	prop.AddTransform(TransformTypePRF, PRF_HMAC_SHA2_256, 0)
	prop.AddTransform(TransformTypeDH, MODP_2048_bit, 0)

	matched, err := DefaultProposalMatcher().SelectBestProposal(
		&EncryptedPayloadSA{Proposals: []*Proposal{prop}})
	if err != nil {
		t.Fatalf("SelectBestProposal: %v", err)
	}
	if matched.Integ != AUTH_HMAC_SHA2_256_128 {
		t.Fatalf("Integ = %d, 期望按偏好选 SHA2-256-128", matched.Integ)
	}
	if matched.PRF != PRF_HMAC_SHA2_256 {
		t.Fatalf("PRF = %d, 期望按偏好选 SHA2-256", matched.PRF)
	}
	if matched.EncrKeyLen != 128 {
		t.Fatalf("EncrKeyLen = %d", matched.EncrKeyLen)
	}
}

func TestSelectBestProposalAEADDropsInteg(t *testing.T) {
	prop := NewProposal(1, ProtoIKE, nil)
	prop.AddTransformWithKeyLen(TransformTypeEncr, ENCR_AES_GCM_16, 256)
	prop.AddTransform(TransformTypePRF, PRF_HMAC_SHA2_384, 0)
	prop.AddTransform(TransformTypeDH, MODP_3072_bit, 0)

	matched, err := DefaultProposalMatcher().SelectBestProposal(
		&EncryptedPayloadSA{Proposals: []*Proposal{prop}})
	if err != nil {
		t.Fatal(err)
	}
	if matched.Integ != AUTH_NONE {
		t.Fatalf("AEAD 套件不应携带完整性变换: %d", matched.Integ)
	}
}

// 结构违反 §3 不变式的提议 (组合模式 + 独立完整性) 整条跳过，落到
// 后面的合法提议。
func TestSelectBestProposalSkipsInvalidProposal(t *testing.T) {
	bad := NewProposal(1, ProtoIKE, nil)
	bad.AddTransformWithKeyLen(TransformTypeEncr, ENCR_AES_GCM_16, 128)
	bad.AddTransform(TransformTypeInteg, AUTH_HMAC_SHA2_256_128, 0)
	bad.AddTransform(TransformTypePRF, PRF_HMAC_SHA2_256, 0)
	bad.AddTransform(TransformTypeDH, MODP_2048_bit, 0)

	good := NewProposal(2, ProtoIKE, nil)
	good.AddTransformWithKeyLen(TransformTypeEncr, ENCR_AES_CBC, 128)
	good.AddTransform(TransformTypeInteg, AUTH_HMAC_SHA2_256_128, 0)
	good.AddTransform(TransformTypePRF, PRF_HMAC_SHA2_256, 0)
	good.AddTransform(TransformTypeDH, MODP_2048_bit, 0)

	matched, err := DefaultProposalMatcher().SelectBestProposal(
		&EncryptedPayloadSA{Proposals: []*Proposal{bad, good}})
	if err != nil {
		t.Fatal(err)
	}
	if matched.ProposalNum != 2 {
		t.Fatalf("应跳过非法提议选中 2 号, 实际 %d", matched.ProposalNum)
	}
}

func TestSelectBestProposalNoneAcceptable(t *testing.T) {
	// 只有不受支持的加密算法。
	prop := NewProposal(1, ProtoIKE, nil)
	prop.AddTransform(TransformTypeEncr, ENCR_NULL, 0)
	prop.AddTransform(TransformTypePRF, PRF_HMAC_SHA2_256, 0)
	prop.AddTransform(TransformTypeDH, MODP_2048_bit, 0)

	if _, err := DefaultProposalMatcher().SelectBestProposal(
		&EncryptedPayloadSA{Proposals: []*Proposal{prop}}); err == nil {
		t.Fatal("没有可接受提议时应返回 ErrNoProposalChosen")
	}
}

func TestCreateMultiProposalsValid(t *testing.T) {
	for _, prop := range CreateMultiProposalIKE(nil) {
		if err := prop.Validate(); err != nil {
			t.Fatalf("IKE 套件 %d 非法: %v", prop.ProposalNum, err)
		}
	}
	for _, prop := range CreateMultiProposalESP([]byte{1, 2, 3, 4}) {
		if err := prop.Validate(); err != nil {
			t.Fatalf("ESP 套件 %d 非法: %v", prop.ProposalNum, err)
		}
	}
}
