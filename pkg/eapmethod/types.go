// Package eapmethod 实现 C4：每种内层 EAP 方法各自的状态机
// (EAP-SIM、EAP-AKA、EAP-AKA'、EAP-MSCHAPv2)。每个状态机由会话配置
// 与一个随机源构造，接受已解码的 EAP 报文，产出 Response、Success、
// Failure 或 Error 四种结果之一；由 C5 (pkg/eapauth) 单线程驱动。
package eapmethod

import "github.com/kasumigaoka/ikev2eap/pkg/eap"

// OutcomeKind 标识一次方法状态机推进的结果种类。
type OutcomeKind int

const (
	OutcomeResponse OutcomeKind = iota
	OutcomeSuccess
	OutcomeFailure
	OutcomeError
)

// Outcome 是每种内层方法状态机对外暴露的唯一返回形状。密码学意义上的
// 成功 (MAC/认证方响应校验通过) 与外层裸 EAP-Success 的到达通常不在
// 同一个报文里：OutcomeSuccess 既带上最后需要发给对端的 Response (例
// 如携带 AT_MAC 的 Challenge 回应，或 MSCHAPv2 的 Success 确认)，也带
// 上此时已经可以确定的 MSK/EMSK，由 C5 负责发出 Response 并缓存密钥，
// 等到真正的裸 EAP-Success 到达时再对外确认。
type Outcome struct {
	Kind     OutcomeKind
	Response []byte // Kind == OutcomeResponse/OutcomeSuccess 时待发送的 EAP 报文
	MSK      []byte // Kind == OutcomeSuccess 时导出的主会话密钥
	EMSK     []byte // Kind == OutcomeSuccess 时导出的扩展主会话密钥
	Err      error  // Kind == OutcomeError 时的失败原因
}

func Response(b []byte) Outcome { return Outcome{Kind: OutcomeResponse, Response: b} }
func Success(response, msk, emsk []byte) Outcome {
	return Outcome{Kind: OutcomeSuccess, Response: response, MSK: msk, EMSK: emsk}
}

// Failure 标记方法的挑战已经明确以失败收场 (例如 MSCHAPv2 的 Failure
// 确认)，但仍可能需要附带一个最后的确认报文。
func Failure(response []byte) Outcome { return Outcome{Kind: OutcomeFailure, Response: response} }
func Error(err error) Outcome         { return Outcome{Kind: OutcomeError, Err: err} }

// State 是所有方法状态机共享的通用状态序列: Created -> Identity
// (可选) -> 方法特定的挑战态 -> Final。Final 是终态，之后任何输入都
// 产出 Error。
type State int

const (
	StateCreated State = iota
	StateIdentity
	StateChallenge
	StateAwaitingFinal // MSCHAPv2 专用: 等待 Success/Failure 确认
	StateFinal
)

// RandomSource 是本地随机数来源的外部协作者接口 (NONCE_MT、Peer
// Challenge 等均由此取得)。
type RandomSource interface {
	RandomBytes(n int) ([]byte, error)
}

// IdentitySource 是订阅者身份来源的外部协作者接口：返回永久身份
// (如 IMSI/NAI) 或在不可用时返回 ok=false。
type IdentitySource interface {
	GetSubscriberID() (id string, ok bool)
}

// CredentialSource 是 EAP-MSCHAPv2 所需的用户名/口令来源的外部协作
// 者接口。
type CredentialSource interface {
	GetUsername() (string, bool)
	GetPassword() (string, bool)
}

// MethodSM 是每个内层方法状态机必须满足的通用契约。
type MethodSM interface {
	// HandleRequest 消费一个已解码的 EAP Request，返回下一步动作。
	HandleRequest(pkt *eap.EAPPacket, raw []byte) Outcome
	// Done 报告状态机是否已经到达 Final。
	Done() bool
}
