package ikev2

// IKESAKeys 是一条 IKE SA 的全套密钥 (RFC 7296 §2.14)。AEAD 套件下
// SK_ai/SK_ar 为空，完整性由 SK_ei/SK_er 驱动的组合模式密码承担。
type IKESAKeys struct {
	SK_d  []byte // 派生密钥：Child SA KEYMAT 与 rekey SKEYSEED' 的种子
	SK_ai []byte // 发起方完整性密钥
	SK_ar []byte // 响应方完整性密钥
	SK_ei []byte // 发起方加密密钥 (AEAD/CTR 含 4 字节盐)
	SK_er []byte // 响应方加密密钥
	SK_pi []byte // 发起方 AUTH 载荷密钥
	SK_pr []byte // 响应方 AUTH 载荷密钥
}

// ChildSAKeys 是一条 Child SA 的 KEYMAT 切分结果 (RFC 7296 §2.17)。
type ChildSAKeys struct {
	SK_ei []byte
	SK_ai []byte
	SK_er []byte
	SK_ar []byte
}
