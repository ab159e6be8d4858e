package ikesession

import (
	"github.com/kasumigaoka/ikev2eap/pkg/ikeerr"
	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
)

// invalidSyntax 构造一个 INVALID_SYNTAX ProtocolError，固定标记为加密
// 发送 (调用处都在 IKE SA 建立之后)。
func invalidSyntax(msg string) error {
	return ikeerr.NewProtocolError(ikev2.INVALID_SYNTAX, msg, true)
}

// noProposalChosen 构造一个 NO_PROPOSAL_CHOSEN ProtocolError。
func noProposalChosen(msg string) error {
	return ikeerr.NewProtocolError(ikev2.NO_PROPOSAL_CHOSEN, msg, true)
}

// authFailed 构造一个 AUTHENTICATION_FAILED ProtocolError。
func authFailed(msg string) error {
	return ikeerr.NewProtocolError(ikev2.AUTHENTICATION_FAILED, msg, false)
}
