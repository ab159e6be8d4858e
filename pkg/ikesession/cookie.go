package ikesession

import (
	"errors"

	"github.com/kasumigaoka/ikev2eap/pkg/logger"
	"go.uber.org/zap"
)

// ErrCookieRequired 标记响应中携带了 COOKIE 通知，调用方必须带着它
// 重新发送 IKE_SA_INIT。
var ErrCookieRequired = errors.New("ikesession: 需要携带 COOKIE 重新发送 IKE_SA_INIT")

// handleCookie 保存 ePDG/responder 返回的 COOKIE，供下一次 IKE_SA_INIT
// 重发时作为首个载荷原样带上 (RFC 7296 §2.6)。
func (s *Session) handleCookie(cookieData []byte) {
	logger.Info("收到 COOKIE，准备重新发送 IKE_SA_INIT", zap.Int("len", len(cookieData)))
	s.cookie = append([]byte{}, cookieData...)
}
