package ikesession

import "github.com/kasumigaoka/ikev2eap/pkg/ikev2"

// validateCPReply 检查 §3 对 CFG_REPLY 载荷的附加不变式：
// INTERNAL_IP4_NETMASK 若出现，必须伴随 INTERNAL_IP4_ADDRESS，且最多
// 出现一次；否则视为 InvalidSyntax。这不是认证失败，而是语法违规——
// 调用方因此直接进入 DeleteIkeLocal，而不是上报 AUTHENTICATION_FAILED。
func validateCPReply(cp *ikev2.EncryptedPayloadCP) error {
	if cp == nil {
		return nil
	}
	hasAddress := false
	netmaskCount := 0
	for _, attr := range cp.Attributes {
		switch attr.Type {
		case ikev2.INTERNAL_IP4_ADDRESS:
			hasAddress = true
		case ikev2.INTERNAL_IP4_NETMASK:
			netmaskCount++
		}
	}
	if netmaskCount > 1 {
		return invalidSyntax("CFG_REPLY 中出现多个 INTERNAL_IP4_NETMASK")
	}
	if netmaskCount > 0 && !hasAddress {
		return invalidSyntax("CFG_REPLY 中 INTERNAL_IP4_NETMASK 缺少对应的 INTERNAL_IP4_ADDRESS")
	}
	return nil
}
