package ikev2

// IANA IKEv2 Parameters 登记表中本实现用到的编号。MOBIKE、重定向、
// 消息 ID 同步等扩展登记项刻意不列：对应功能不在本库范围内，编号
// 留在对端的通知里会按未知状态通知被忽略。

// PayloadType 是 IKEv2 载荷类型 (RFC 7296 §3.2)。
type PayloadType uint8

const (
	NoNextPayload     PayloadType = 0
	SA                PayloadType = 33
	KE                PayloadType = 34
	IDi               PayloadType = 35
	IDr               PayloadType = 36
	CERT              PayloadType = 37
	CERTREQ           PayloadType = 38
	AUTH              PayloadType = 39
	NiNr              PayloadType = 40
	N                 PayloadType = 41
	D                 PayloadType = 42
	V                 PayloadType = 43
	TSI               PayloadType = 44
	TSR               PayloadType = 45
	SK                PayloadType = 46
	CP                PayloadType = 47
	EAP               PayloadType = 48
	EncryptedFragment PayloadType = 53 // RFC 7383
)

// ExchangeType 是 IKE 头部的交换类型 (RFC 7296 §3.1)。
type ExchangeType uint8

const (
	IKE_SA_INIT     ExchangeType = 34
	IKE_AUTH        ExchangeType = 35
	CREATE_CHILD_SA ExchangeType = 36
	INFORMATIONAL   ExchangeType = 37
)

// ProtocolID 标识提议/通知/删除载荷指向的安全协议。
type ProtocolID uint8

const (
	ProtoIKE ProtocolID = 1
	ProtoAH  ProtocolID = 2
	ProtoESP ProtocolID = 3
)

// TransformType 是 SA 提议内的变换类别 (RFC 7296 §3.3.2)。
type TransformType uint8

const (
	TransformTypeEncr  TransformType = 1
	TransformTypePRF   TransformType = 2
	TransformTypeInteg TransformType = 3
	TransformTypeDH    TransformType = 4
	TransformTypeESN   TransformType = 5
)

// AlgorithmType 是各变换类别共用的算法 ID 值空间。
type AlgorithmType uint16

// 变换类型 1: 加密算法。
const (
	ENCR_3DES       AlgorithmType = 3
	ENCR_NULL       AlgorithmType = 11
	ENCR_AES_CBC    AlgorithmType = 12
	ENCR_AES_CTR    AlgorithmType = 13
	ENCR_AES_CCM_8  AlgorithmType = 14
	ENCR_AES_CCM_12 AlgorithmType = 15
	ENCR_AES_CCM_16 AlgorithmType = 16
	ENCR_AES_GCM_8  AlgorithmType = 18
	ENCR_AES_GCM_12 AlgorithmType = 19
	ENCR_AES_GCM_16 AlgorithmType = 20
)

// 变换类型 2: 伪随机函数。
const (
	PRF_HMAC_MD5      AlgorithmType = 1
	PRF_HMAC_SHA1     AlgorithmType = 2
	PRF_AES128_XCBC   AlgorithmType = 4
	PRF_HMAC_SHA2_256 AlgorithmType = 5
	PRF_HMAC_SHA2_384 AlgorithmType = 6
	PRF_HMAC_SHA2_512 AlgorithmType = 7
)

// 变换类型 3: 完整性算法。
const (
	AUTH_NONE              AlgorithmType = 0
	AUTH_HMAC_MD5_96       AlgorithmType = 1
	AUTH_HMAC_SHA1_96      AlgorithmType = 2
	AUTH_AES_XCBC_96       AlgorithmType = 5
	AUTH_HMAC_SHA2_256_128 AlgorithmType = 12
	AUTH_HMAC_SHA2_384_192 AlgorithmType = 13
	AUTH_HMAC_SHA2_512_256 AlgorithmType = 14
)

// 变换类型 4: Diffie-Hellman 组。
const (
	MODP_768_bit  AlgorithmType = 1
	MODP_1024_bit AlgorithmType = 2
	MODP_1536_bit AlgorithmType = 5
	MODP_2048_bit AlgorithmType = 14
	MODP_3072_bit AlgorithmType = 15
	MODP_4096_bit AlgorithmType = 16
	ECP_256       AlgorithmType = 19
	ECP_384       AlgorithmType = 20
	ECP_521       AlgorithmType = 21
)

// 变换属性类型 (RFC 7296 §3.3.5)。
const (
	AttributeKeyLength uint16 = 14
)

// 通知消息类型: 错误 (<16384)。错误与状态通知在会话层走不同分派。
const (
	UNSUPPORTED_CRITICAL_PAYLOAD uint16 = 1
	INVALID_IKE_SPI              uint16 = 4
	INVALID_MAJOR_VERSION        uint16 = 5
	INVALID_SYNTAX               uint16 = 7
	INVALID_MESSAGE_ID           uint16 = 9
	INVALID_SPI                  uint16 = 11
	NO_PROPOSAL_CHOSEN           uint16 = 14
	INVALID_KE_PAYLOAD           uint16 = 17
	AUTHENTICATION_FAILED        uint16 = 24
	SINGLE_PAIR_REQUIRED         uint16 = 34
	NO_ADDITIONAL_SAS            uint16 = 35
	INTERNAL_ADDRESS_FAILURE     uint16 = 36
	FAILED_CP_REQUIRED           uint16 = 37
	TS_UNACCEPTABLE              uint16 = 38
	INVALID_SELECTORS            uint16 = 39
	TEMPORARY_FAILURE            uint16 = 43
	CHILD_SA_NOT_FOUND           uint16 = 44
)

// 通知消息类型: 状态 (>=16384)。
const (
	INITIAL_CONTACT              uint16 = 16384
	SET_WINDOW_SIZE              uint16 = 16385
	ADDITIONAL_TS_POSSIBLE       uint16 = 16386
	NAT_DETECTION_SOURCE_IP      uint16 = 16388
	NAT_DETECTION_DESTINATION_IP uint16 = 16389
	COOKIE                       uint16 = 16390
	USE_TRANSPORT_MODE           uint16 = 16391
	REKEY_SA                     uint16 = 16393

	AUTH_LIFETIME           uint16 = 16403 // RFC 4478: IKE SA 最大生命周期通告
	EAP_ONLY_AUTHENTICATION uint16 = 16417 // RFC 5998

	IKEV2_FRAGMENTATION_SUPPORTED uint16 = 16430 // RFC 7383
)
