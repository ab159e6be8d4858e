package ikesession

import (
	"testing"

	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
)

func TestValidateCPReply(t *testing.T) {
	addr := &ikev2.CPAttribute{Type: ikev2.INTERNAL_IP4_ADDRESS, Value: []byte{10, 0, 0, 2}}
	mask := &ikev2.CPAttribute{Type: ikev2.INTERNAL_IP4_NETMASK, Value: []byte{255, 255, 255, 0}}

	cases := []struct {
		name    string
		attrs   []*ikev2.CPAttribute
		wantErr bool
	}{
		{"nil-payload", nil, false},
		{"address-only", []*ikev2.CPAttribute{addr}, false},
		{"address-with-netmask", []*ikev2.CPAttribute{addr, mask}, false},
		// 孤立的 netmask 是语法违规，不是认证失败。
		{"stray-netmask", []*ikev2.CPAttribute{mask}, true},
		{"duplicate-netmask", []*ikev2.CPAttribute{addr, mask, mask}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cp *ikev2.EncryptedPayloadCP
			if tc.attrs != nil {
				cp = &ikev2.EncryptedPayloadCP{CFGType: ikev2.CFG_REPLY, Attributes: tc.attrs}
			}
			err := validateCPReply(cp)
			if tc.wantErr && err == nil {
				t.Fatal("期望 InvalidSyntax 错误, 实际为 nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("不期望出错: %v", err)
			}
		})
	}
}
