// Package ikesession 实现 C6：驱动整条 IKE SA 生命周期的顶层状态机。
// 单个 Session 对应一次 VPN 初始化请求，内部是单线程的事件队列
// (run 方法)，所有外部输入（socket 报文、定时器、本地请求）都先
// 投递进队列再被串行处理，任何处理函数内部都不阻塞 I/O。
package ikesession

import (
	"net"
	"time"

	"github.com/kasumigaoka/ikev2eap/pkg/eapauth"
	"github.com/kasumigaoka/ikev2eap/pkg/ikesa"
	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
	"github.com/kasumigaoka/ikev2eap/pkg/sim"
)

// State 是会话状态机的状态集合。Initial 是初始态，Closed 是终态。
type State int

const (
	Initial State = iota
	CreateIkeLocalInit
	CreateIkeLocalAuth
	Idle
	Receiving
	RekeyIkeLocalCreate
	SimulRekeyIkeLocalCreate
	SimulRekeyIkeLocalDeleteRemoteDelete
	SimulRekeyIkeLocalDelete
	SimulRekeyIkeRemoteDelete
	RekeyIkeLocalDelete
	RekeyIkeRemoteDelete
	DeleteIkeLocal
	Closed
)

func (s State) String() string {
	switch s {
	case Initial:
		return "Initial"
	case CreateIkeLocalInit:
		return "CreateIkeLocalInit"
	case CreateIkeLocalAuth:
		return "CreateIkeLocalAuth"
	case Idle:
		return "Idle"
	case Receiving:
		return "Receiving"
	case RekeyIkeLocalCreate:
		return "RekeyIkeLocalCreate"
	case SimulRekeyIkeLocalCreate:
		return "SimulRekeyIkeLocalCreate"
	case SimulRekeyIkeLocalDeleteRemoteDelete:
		return "SimulRekeyIkeLocalDeleteRemoteDelete"
	case SimulRekeyIkeLocalDelete:
		return "SimulRekeyIkeLocalDelete"
	case SimulRekeyIkeRemoteDelete:
		return "SimulRekeyIkeRemoteDelete"
	case RekeyIkeLocalDelete:
		return "RekeyIkeLocalDelete"
	case RekeyIkeRemoteDelete:
		return "RekeyIkeRemoteDelete"
	case DeleteIkeLocal:
		return "DeleteIkeLocal"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// LocalRequestKind 区分本地发起请求的种类。
type LocalRequestKind int

const (
	ReqCreateIke LocalRequestKind = iota
	ReqDeleteIke
	ReqRekeyIke
	ReqInfo
	ReqCreateChild
	ReqDeleteChild
	ReqRekeyChild
)

// ExchangeSubtype 是对 CREATE_CHILD_SA/INFORMATIONAL 交换按载荷内容
// 推断出的更细粒度分类，供 C6 按 §4.6 的规则分派。
type ExchangeSubtype int

const (
	SubtypeIkeInit ExchangeSubtype = iota
	SubtypeIkeAuth
	SubtypeRekeyIke
	SubtypeRekeyChild
	SubtypeCreateChild
	SubtypeDeleteIke
	SubtypeDeleteChild
	SubtypeGenericInfo
)

// event 是投递进会话事件队列的统一信封。队列由单个 goroutine 消费，
// 保证同一时刻只有一个事件在被处理 (run-to-completion)。
type event struct {
	kind         eventKind
	reqKind      LocalRequestKind
	header       *ikev2.IKEHeader
	raw          []byte
	retransmitID uint32
	awaitID      uint32
}

type eventKind int

const (
	evLocalRequest eventKind = iota
	evRxPacket
	evRetransmitTimeout
	evAwaitTimeout
	evShutdown
)

// Transport 是会话消费的原始 UDP 收发接口 (RFC 7296 §3: 500 端口直连，
// 4500 端口 NAT-T 封装前缀 4 字节非 ESP 标记由实现自行处理)。
type Transport interface {
	Send(b []byte) error
	Recv() <-chan []byte
	Close() error
}

// IPsecInstaller 是子 SA 建立/拆除时调用的外部协作者：本库从不直接
// 打开内核 XFRM 状态或安装路由。
type IPsecInstaller interface {
	InstallChildSA(spec ChildSASpec) error
	DeleteChildSA(spi uint32, inbound bool) error
}

// ChildSASpec 描述一个已经完成协商、待安装的 Child SA。
type ChildSASpec struct {
	Proposal        *ikev2.MatchedAlgorithms
	Keys            *ikev2.ChildSAKeys
	LocalSPI        uint32
	RemoteSPI       uint32
	LocalSelectors  []*ikev2.TrafficSelector
	RemoteSelectors []*ikev2.TrafficSelector
	TransportMode   bool
}

// IdentitySource 提供本端的 IKE 身份 (IDi 载荷内容)。
type IdentitySource interface {
	LocalIdentity() (idType uint8, idData []byte)
}

// RandomSource 是会话层需要的随机数来源 (Nonce、SPI 生成等)。
type RandomSource interface {
	RandomBytes(n int) ([]byte, error)
}

// AuthMethod 描述本端如何完成 IKE_AUTH 阶段的认证。
type AuthMethod int

const (
	AuthPSK AuthMethod = iota
	AuthEAP
)

// Callbacks 是会话状态变化时对外暴露的回调流。
type Callbacks struct {
	OnIKEEstablished   func()
	OnChildEstablished func(childID string, localSPI, remoteSPI uint32)
	OnChildClosed      func(childID string)
	OnIKEClosed        func(reason error)
	OnError            func(kind string, detail error)
}

// Config 描述打开一条会话所需的一切，集中了所有外部协作者的注入点；
// 字段形状沿用教师 pkg/swu.Config 的做法，但去除了 TUN/XFRM 等内核
// 细节，把它们留给调用方的 Transport/IPsecInstaller 实现。
type Config struct {
	RemoteAddr net.Addr
	LocalAddr  string

	AuthMethod AuthMethod
	PSK        []byte

	LocalIDType uint8
	LocalIDData []byte

	EAP EAPConfig

	Proposals     []*ikev2.Proposal
	ChildProposal []*ikev2.Proposal

	EnableFragmentation bool
	FragmentMTU         int

	Transport      Transport
	IPsecInstaller IPsecInstaller
	Random         RandomSource
	SPIAddr        string

	RetransmitInitial time.Duration
	RetransmitFactor  float64
	RetransmitMaxTry  int

	Callbacks Callbacks
}

// EAPConfig 描述内层 EAP 方法集合与其协作者，直接喂给 eapauth.Config。
type EAPConfig struct {
	DesiredTypes []uint8
	Factory      eapauth.MethodFactory
	Identity     eapauth.IdentitySource
}

// defaultRetransmit 返回 §4.6 解析过的重传参数：初始 500ms，
// 指数因子 2，最多 10 次尝试——这是本实现对 Open Question 的
// 解决结果，刻意不同于教师 strongSwan 风格的 4s/1.8x/5 次默认值。
func (c *Config) defaultRetransmit() (time.Duration, float64, int) {
	initial := c.RetransmitInitial
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	factor := c.RetransmitFactor
	if factor <= 0 {
		factor = 2.0
	}
	maxTry := c.RetransmitMaxTry
	if maxTry <= 0 {
		maxTry = 10
	}
	return initial, factor, maxTry
}

// usim 适配 pkg/sim.SIMProvider 到 eapmethod.USIM，二者签名相同，
// 只是后者刻意不依赖 sim 包以保持 C4 的外部协作者边界最小。
type usimAdapter struct{ p sim.SIMProvider }

func (a usimAdapter) CalculateAKA(rand, autn []byte) (res, ck, ik, auts []byte, err error) {
	return a.p.CalculateAKA(rand, autn)
}

// childSAKey 唯一标识本会话持有的一个 Child SA。
type childSAKey struct {
	localSPI  uint32
	remoteSPI uint32
}

// pendingRequest 记录一个已发出、等待响应的请求,供重传引擎与
// 消息 ID 窗口共同使用。
type pendingRequest struct {
	msgID     uint32
	exchange  ikev2.ExchangeType
	raw       []byte
	attempt   int
	nextDelay time.Duration
	timer     *time.Timer
	sa        *ikesa.Record
}
