package ikesession

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kasumigaoka/ikev2eap/pkg/crypto"
	"github.com/kasumigaoka/ikev2eap/pkg/eapauth"
	"github.com/kasumigaoka/ikev2eap/pkg/ikesa"
	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
	"github.com/kasumigaoka/ikev2eap/pkg/logger"
	"github.com/kasumigaoka/ikev2eap/pkg/spi"
)

// Session 是一条 VPN 初始化会话的顶层状态机 (C6)。每个 Session 拥有
// 一个事件队列与单个消费 goroutine (run)，外部输入一律通过
// postEvent 投递，保证 run-to-completion。
type Session struct {
	cfg   Config
	state State

	transport      Transport
	ipsecInstaller IPsecInstaller
	random         RandomSource
	spiReg         *spi.Registry

	eap *eapauth.Authenticator

	sa         *ikesa.Record // 当前活跃 IKE SA
	dh         *crypto.DiffieHellman
	localNonce []byte

	// IKE_SA_INIT 往返的原始字节与对端身份载荷体，AUTH 签名八位组
	// (RFC 7296 §2.15) 的输入需要原样保留它们。
	initRequestRaw  []byte
	initResponseRaw []byte
	remoteIDrBody   []byte

	matched       *ikev2.MatchedAlgorithms
	childSPI      uint32
	msk           []byte
	initMsgIDUsed bool

	children map[childSAKey]*ChildSASpec

	pending map[uint32]*pendingRequest // 本端发出、等待响应的请求，按本地 msgID 索引

	fragBuf *fragmentBuffer
	cookie  []byte

	retransmitInitial time.Duration
	retransmitFactor  float64
	retransmitMaxTry  int

	localRekeySA   *ikesa.Record
	rekeyPend      *rekeyPending
	collision      *rekeyCollision
	pendingDeletes []*ikesa.Record

	events chan event
	closed chan struct{}
}

// New 构造一个尚未启动的会话；调用 Open 开始 IKE_SA_INIT 交换。
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("ikesession: Config.Transport 不能为空")
	}
	if cfg.Random == nil {
		return nil, fmt.Errorf("ikesession: Config.Random 不能为空")
	}
	initial, factor, maxTry := cfg.defaultRetransmit()

	s := &Session{
		cfg:               cfg,
		state:             Initial,
		transport:         cfg.Transport,
		ipsecInstaller:    cfg.IPsecInstaller,
		random:            cfg.Random,
		spiReg:            spi.Global(),
		children:          make(map[childSAKey]*ChildSASpec),
		pending:           make(map[uint32]*pendingRequest),
		fragBuf:           newFragmentBuffer(),
		retransmitInitial: initial,
		retransmitFactor:  factor,
		retransmitMaxTry:  maxTry,
		events:            make(chan event, 64),
		closed:            make(chan struct{}),
	}
	if cfg.AuthMethod == AuthEAP {
		s.eap = eapauth.New(eapauth.Config{
			DesiredTypes: cfg.EAP.DesiredTypes,
			Factory:      cfg.EAP.Factory,
			Identity:     cfg.EAP.Identity,
		})
	}
	return s, nil
}

// Open 启动事件循环并发起 IKE_SA_INIT 交换。
func (s *Session) Open() {
	go s.run()
	go s.pumpTransport()
	s.postEvent(event{kind: evLocalRequest, reqKind: ReqCreateIke})
}

// Close 请求优雅关闭：发送 IKE SA DELETE 后释放资源。
func (s *Session) Close() {
	s.postEvent(event{kind: evLocalRequest, reqKind: ReqDeleteIke})
}

func (s *Session) postEvent(ev event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

// pumpTransport 把底层 Transport 的入站字节转换成 evRxPacket 事件；
// 本身不做任何解析/解密，保持事件循环是唯一的解码入口。
func (s *Session) pumpTransport() {
	for {
		select {
		case raw, ok := <-s.transport.Recv():
			if !ok {
				return
			}
			hdr, err := ikev2.DecodeHeader(raw)
			if err != nil {
				logger.Warn("丢弃无法解码头部的报文", zap.Error(err))
				continue
			}
			s.postEvent(event{kind: evRxPacket, header: hdr, raw: raw})
		case <-s.closed:
			return
		}
	}
}

// run 是会话的唯一事件消费者：串行处理所有事件，任何处理函数都不在
// 这里阻塞 I/O。
func (s *Session) run() {
	for ev := range s.events {
		s.dispatch(ev)
		if s.state == Closed {
			close(s.closed)
			return
		}
	}
}

func (s *Session) dispatch(ev event) {
	switch ev.kind {
	case evLocalRequest:
		s.handleLocalRequest(ev.reqKind)
	case evRxPacket:
		s.handleRxPacket(ev.header, ev.raw)
	case evRetransmitTimeout:
		s.handleRetransmitTimeout(ev.retransmitID)
	case evAwaitTimeout:
		// 预留给未来的 await 超时场景 (例如等待 IPsec 安装确认)；当前
		// 没有调用点会产生这个事件。
	case evShutdown:
		s.state = Closed
	}
}

func (s *Session) handleLocalRequest(kind LocalRequestKind) {
	switch kind {
	case ReqCreateIke:
		if s.state != Initial {
			return
		}
		s.state = CreateIkeLocalInit
		if err := s.sendIKESAInit(); err != nil {
			s.fatal(err)
		}
	case ReqDeleteIke:
		s.beginLocalDelete(nil)
	case ReqRekeyIke:
		if s.state != Idle {
			return
		}
		if err := s.sendRekeyIKE(); err != nil {
			logger.Warn("发起 IKE SA Rekey 失败", zap.Error(err))
		}
	case ReqInfo:
		if s.sa == nil {
			return
		}
		if _, err := s.sendRequest(nil, ikev2.INFORMATIONAL); err != nil {
			logger.Warn("发送 INFORMATIONAL 失败", zap.Error(err))
		}
	default:
		// 首条 Child SA 随 IKE_AUTH 建立；额外的 CreateChild/
		// DeleteChild/RekeyChild 本端暂不主动发起，对端发起的对应
		// 请求在 respondToRequest 里按子类型处理。
	}
}

func (s *Session) handleRxPacket(hdr *ikev2.IKEHeader, raw []byte) {
	if hdr.NextPayload == ikev2.EncryptedFragment {
		s.handleFragment(hdr, raw)
		return
	}
	if hdr.Flags&ikev2.FlagResponse != 0 {
		s.handleResponse(hdr, raw)
		return
	}
	s.handleRequest(hdr, raw)
}

// handleFragment 处理一个 Encrypted Fragment (RFC 7383)：每个分片独立
// 解密与校验，收齐后把拼接的明文按载荷链解析，再走常规分派。
func (s *Session) handleFragment(hdr *ikev2.IKEHeader, raw []byte) {
	if s.sa == nil || s.sa.Keys == nil {
		return
	}
	encKey, integKey := s.sa.Keys.SK_er, s.sa.Keys.SK_ar
	if s.sa.Role == ikesa.RoleResponder {
		encKey, integKey = s.sa.Keys.SK_ei, s.sa.Keys.SK_ai
	}
	_, fragNum, totalFrags, firstType, plain, err := ikev2.DecodeAndDecryptFragment(
		raw, s.sa.EncAlg, s.sa.IntegAlg, s.sa.IsAEAD, encKey, integKey)
	if err != nil {
		logger.Warn("分片解密失败，丢弃", zap.Error(err))
		return
	}
	complete, err := s.fragBuf.addFragment(hdr.MessageID, fragNum, totalFrags, plain, firstType)
	if err != nil {
		logger.Warn("分片重组失败", zap.Error(err))
		return
	}
	if !complete {
		return
	}
	full, chainType, err := s.fragBuf.reassemble(hdr.MessageID)
	if err != nil {
		logger.Warn("分片重组失败", zap.Error(err))
		return
	}
	payloads, err := ikev2.DecodePayloadChain(full, chainType)
	if err != nil {
		logger.Warn("重组后的载荷链解析失败", zap.Error(err))
		return
	}
	if hdr.Flags&ikev2.FlagResponse != 0 {
		if !s.sa.MatchesResponse(hdr.MessageID) {
			return
		}
		s.cancelRetransmit(hdr.MessageID)
		s.onDecryptedResponse(hdr, payloads)
	} else {
		if err := s.sa.RecordReceived(hdr.MessageID); err != nil {
			return
		}
		s.onDecryptedRequest(hdr, payloads)
	}
}

// fatal 把一个 Fatal 级别错误升级为会话终止：记录日志、回调
// OnIKEClosed/OnError、释放所有占用的 SPI 与子 SA。
func (s *Session) fatal(err error) {
	logger.Error("IKE 会话致命错误，终止会话", zap.Error(err))
	var aggregate error
	for key := range s.children {
		if s.ipsecInstaller != nil {
			if delErr := s.ipsecInstaller.DeleteChildSA(key.localSPI, true); delErr != nil {
				aggregate = multierr.Append(aggregate, delErr)
			}
		}
		delete(s.children, key)
	}
	s.releaseSA(s.sa)
	s.releaseSA(s.localRekeySA)
	if s.collision != nil {
		s.releaseSA(s.collision.remoteNewSA)
	}
	s.state = Closed
	if s.cfg.Callbacks.OnError != nil {
		s.cfg.Callbacks.OnError("fatal", err)
	}
	if s.cfg.Callbacks.OnIKEClosed != nil {
		s.cfg.Callbacks.OnIKEClosed(multierr.Append(err, aggregate))
	}
}

// beginLocalDelete 发起本地 DeleteIke 流程：发送 IKE SA DELETE 通知
// 并在发出后直接收尾——对端是否响应不影响本端关闭。
func (s *Session) beginLocalDelete(reason error) {
	s.state = DeleteIkeLocal
	if s.sa != nil {
		del := ikev2.NewIKEDelete()
		if _, err := s.sendRequest([]ikev2.Payload{del}, ikev2.INFORMATIONAL); err != nil {
			logger.Warn("发送 IKE SA Delete 失败", zap.Error(err))
		}
		s.releaseSA(s.sa)
	}
	s.state = Closed
	if s.cfg.Callbacks.OnIKEClosed != nil {
		s.cfg.Callbacks.OnIKEClosed(reason)
	}
}
