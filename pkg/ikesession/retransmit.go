package ikesession

import (
	"time"

	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
	"github.com/kasumigaoka/ikev2eap/pkg/logger"
	"go.uber.org/zap"
)

// retransmitExhaustedError 标记一个出站请求在用尽所有重传机会后仍未
// 收到匹配响应——§4.6 "Exhaustion is fatal to the SA"。
type retransmitExhaustedError struct {
	exchange ikev2.ExchangeType
	msgID    uint32
}

func (e *retransmitExhaustedError) Error() string {
	return "ikesession: 重传次数耗尽"
}

// startRetransmit 为一个刚发出的请求安排指数退避定时器，超时后把
// evRetransmitTimeout 事件投递回会话的事件队列，而不是在定时器
// goroutine 里直接调用处理函数——维持 run-to-completion 的单线程保证。
func (s *Session) startRetransmit(pr *pendingRequest) {
	pr.attempt = 1
	pr.nextDelay = s.retransmitInitial
	s.armRetransmitTimer(pr)
}

func (s *Session) armRetransmitTimer(pr *pendingRequest) {
	msgID := pr.msgID
	pr.timer = time.AfterFunc(pr.nextDelay, func() {
		s.postEvent(event{kind: evRetransmitTimeout, retransmitID: msgID})
	})
}

// handleRetransmitTimeout 在事件循环中串行执行：判断待处理请求是否
// 仍然存在 (可能已被匹配的响应取消)，否则重发并重新武装定时器，
// 或在达到上限时把错误升级为 Fatal。
func (s *Session) handleRetransmitTimeout(msgID uint32) {
	pr, ok := s.pending[msgID]
	if !ok {
		return // 响应已经到达，定时器的竞态产物，直接丢弃
	}
	if pr.attempt >= s.retransmitMaxTry {
		delete(s.pending, msgID)
		logger.Error("重传次数耗尽，IKE SA 致命终止",
			zap.Uint32("msgID", msgID), zap.Int("attempts", pr.attempt))
		s.fatal(&retransmitExhaustedError{exchange: pr.exchange, msgID: msgID})
		return
	}
	pr.attempt++
	pr.nextDelay = time.Duration(float64(pr.nextDelay) * s.retransmitFactor)
	logger.Debug("重传 IKE 请求",
		zap.Uint32("msgID", msgID), zap.Int("attempt", pr.attempt),
		zap.Duration("nextDelay", pr.nextDelay))
	if err := s.transport.Send(pr.raw); err != nil {
		logger.Warn("重传发送失败", zap.Error(err))
	}
	s.armRetransmitTimer(pr)
}

// cancelRetransmit 在匹配的响应到达时停止并移除定时器。
func (s *Session) cancelRetransmit(msgID uint32) {
	pr, ok := s.pending[msgID]
	if !ok {
		return
	}
	if pr.timer != nil {
		pr.timer.Stop()
	}
	delete(s.pending, msgID)
}
