package sim

import "errors"

// SIMProvider 定义了获取 SIM 卡信息和执行 AKA 鉴权的接口
type SIMProvider interface {
	// 获取 IMSI (International Mobile Subscriber Identity)
	GetIMSI() (string, error)

	// 执行 AKA 鉴权
	// rand: 16 bytes 随机数
	// autn: 16 bytes 认证令牌
	// 返回: res (Response), ck (Cipher Key), ik (Integrity Key), auts (Sync Failure Token), err
	CalculateAKA(rand []byte, autn []byte) (res, ck, ik, auts []byte, err error)

	// 关闭资源 (如串口)
	Close() error
}

type IMEIProvider interface {
	GetIMEI() (string, error)
}

// GSMProvider 是 SIMProvider 的可选能力接口，提供 EAP-SIM (RFC 4186)
// 所需的 2G GSM 三元组鉴权。并非所有 SIMProvider 都实现它：EAP-AKA/
// AKA' 的 USIM-only 提供者可以不满足此接口。
type GSMProvider interface {
	// CalculateGSM 对给定的 16 字节 RAND 执行 GSM A3/A8 鉴权，
	// 返回 4 字节 SRES 与 8 字节 Kc。
	CalculateGSM(rand []byte) (sres, kc []byte, err error)
}

var (
	ErrSIMNotPresent = errors.New("SIM card not present")
	ErrAuthFailed    = errors.New("authentication failed")
	ErrSyncFailure   = errors.New("synchronization failure")
)
