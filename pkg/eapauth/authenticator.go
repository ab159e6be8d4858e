// Package eapauth 实现 C5：驱动内层方法状态机 (pkg/eapmethod) 的
// 顶层 EAP 状态机。每个 IKE_AUTH 会话持有一个 Authenticator，由 C6
// 在收到 EncryptedPayloadEAP 时单线程调用 HandleMessage。
package eapauth

import (
	"errors"

	"github.com/kasumigaoka/ikev2eap/pkg/eap"
	"github.com/kasumigaoka/ikev2eap/pkg/eapmethod"
	"github.com/kasumigaoka/ikev2eap/pkg/ikeerr"
	"github.com/kasumigaoka/ikev2eap/pkg/logger"
	"go.uber.org/zap"
)

// ResultKind 描述一次 HandleMessage 调用后会话应当采取的动作。
type ResultKind int

const (
	// ResultContinue 表示已经产出响应字节，EAP 交换继续。
	ResultContinue ResultKind = iota
	// ResultSuccess 表示 EAP 交换已经以成功结束，MSK/EMSK 可用。
	ResultSuccess
	// ResultFailure 表示 EAP 交换已经以失败结束。
	ResultFailure
)

// Result 是 HandleMessage 的返回形状。
type Result struct {
	Kind     ResultKind
	Response []byte // ResultContinue 时待发送的 EAP 报文 (可能为 nil)
	MSK      []byte
	EMSK     []byte
}

// MethodFactory 为给定的 EAP 类型构造对应的方法状态机。只有
// Config.DesiredTypes 中列出的类型才会被调用。
type MethodFactory func(eapType uint8) (eapmethod.MethodSM, error)

// IdentitySource 提供 EAP 顶层 Identity 请求 (Type=1) 的响应身份，与
// pkg/eapmethod.IdentitySource 同构但职责独立：顶层身份响应与某个内层
// 方法的身份子交换可能使用不同的前缀/来源。
type IdentitySource interface {
	GetIdentity() (nai string, ok bool)
}

// Config 描述一次 EAP 会话允许的方法集合与身份来源。
type Config struct {
	DesiredTypes []uint8
	Factory      MethodFactory
	Identity     IdentitySource
}

// Authenticator 是 C5 的实现：解码、方法选择/NAK、Notification 透传、
// 向下分派给恰好一个活跃的方法状态机。
type Authenticator struct {
	cfg Config

	active     eapmethod.MethodSM
	activeType uint8
	completed  bool
	msk, emsk  []byte
}

func New(cfg Config) *Authenticator {
	return &Authenticator{cfg: cfg}
}

// HandleMessage 消费一条原始 EAP 报文 (来自 EncryptedPayloadEAP 解密
// 后的字节)，返回下一步动作。
func (a *Authenticator) HandleMessage(raw []byte) (Result, error) {
	pkt, err := eap.Parse(raw)
	if err != nil {
		return Result{}, ikeerr.NewProtocolError(0, "无法解析 EAP 报文", false)
	}

	switch pkt.Code {
	case eap.CodeSuccess:
		return a.handleBareSuccess()
	case eap.CodeFailure:
		return a.handleBareFailure()
	case eap.CodeRequest:
		return a.handleRequest(pkt, raw)
	default:
		return Result{}, &ikeerr.InvalidRequest{Msg: "EAP 报文的 Code 既非 Request 也非 Success/Failure"}
	}
}

func (a *Authenticator) handleBareSuccess() (Result, error) {
	if !a.completed {
		// 不变式: 方法状态机尚未完成时收到裸 EAP-Success 是协议违规。
		return Result{}, &ikeerr.InvalidRequest{Msg: "方法尚未完成即收到 EAP-Success"}
	}
	logger.Info("EAP 认证成功", zap.Uint8("method_type", a.activeType))
	return Result{Kind: ResultSuccess, MSK: a.msk, EMSK: a.emsk}, nil
}

func (a *Authenticator) handleBareFailure() (Result, error) {
	if !a.completed {
		return Result{}, &ikeerr.InvalidRequest{Msg: "方法尚未完成即收到 EAP-Failure"}
	}
	logger.Warn("EAP 认证失败", zap.Uint8("method_type", a.activeType))
	return Result{Kind: ResultFailure}, nil
}

func (a *Authenticator) handleRequest(pkt *eap.EAPPacket, raw []byte) (Result, error) {
	if pkt.Type == eap.TypeIdentity {
		return a.handleIdentityRequest(pkt)
	}
	if pkt.Type == eap.TypeNotify {
		// Notification 请求只需回一个空的 Notification 响应，不改变状态。
		respPkt := &eap.EAPPacket{Code: eap.CodeResponse, Identifier: pkt.Identifier, Type: eap.TypeNotify}
		return Result{Kind: ResultContinue, Response: respPkt.Encode()}, nil
	}

	if a.active == nil {
		if !a.typeConfigured(pkt.Type) {
			return Result{Kind: ResultContinue, Response: a.buildNak(pkt.Identifier)}, nil
		}
		sm, err := a.cfg.Factory(pkt.Type)
		if err != nil {
			return Result{}, err
		}
		a.active = sm
		a.activeType = pkt.Type
	} else if pkt.Type != a.activeType {
		return Result{}, &ikeerr.InvalidRequest{Msg: "EAP 方法在交换进行中发生了变化"}
	}

	outcome := a.active.HandleRequest(pkt, raw)
	switch outcome.Kind {
	case eapmethod.OutcomeResponse:
		return Result{Kind: ResultContinue, Response: outcome.Response}, nil
	case eapmethod.OutcomeSuccess:
		a.completed = true
		a.msk = outcome.MSK
		a.emsk = outcome.EMSK
		return Result{Kind: ResultContinue, Response: outcome.Response}, nil
	case eapmethod.OutcomeFailure:
		a.completed = true
		return Result{Kind: ResultContinue, Response: outcome.Response}, nil
	case eapmethod.OutcomeError:
		return Result{}, outcome.Err
	default:
		return Result{}, errors.New("eapauth: 未知的方法状态机结果类型")
	}
}

func (a *Authenticator) handleIdentityRequest(pkt *eap.EAPPacket) (Result, error) {
	nai, ok := a.cfg.Identity.GetIdentity()
	if !ok {
		return Result{}, &ikeerr.Unavailable{Collaborator: "IdentitySource"}
	}
	respPkt := &eap.EAPPacket{
		Code: eap.CodeResponse, Identifier: pkt.Identifier,
		Type: eap.TypeIdentity, Data: []byte(nai),
	}
	return Result{Kind: ResultContinue, Response: respPkt.Encode()}, nil
}

func (a *Authenticator) typeConfigured(t uint8) bool {
	for _, d := range a.cfg.DesiredTypes {
		if d == t {
			return true
		}
	}
	return false
}

// buildNak 构造 EAP Nak (Type=3)，Data 为按偏好顺序排列的已配置方法
// 类型列表，告知服务器本端愿意尝试哪些方法。
func (a *Authenticator) buildNak(id uint8) []byte {
	respPkt := &eap.EAPPacket{
		Code: eap.CodeResponse, Identifier: id,
		Type: eap.TypeNak, Data: append([]byte{}, a.cfg.DesiredTypes...),
	}
	return respPkt.Encode()
}
