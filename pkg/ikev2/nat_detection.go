package ikev2

import (
	"crypto/sha1"
	"encoding/binary"
)

// CalculateNATDetectionHash 计算 NAT_DETECTION_* 通知的摘要
// (RFC 7296 §2.23): SHA-1(SPIi | SPIr | 地址 | 端口)，多字节字段均为
// 网络序。IKE_SA_INIT 请求阶段 SPIr 尚未分配，按零值参与。
func CalculateNATDetectionHash(spiI, spiR uint64, ip []byte, port uint16) []byte {
	var hdr [18]byte
	binary.BigEndian.PutUint64(hdr[0:8], spiI)
	binary.BigEndian.PutUint64(hdr[8:16], spiR)
	binary.BigEndian.PutUint16(hdr[16:18], port)

	h := sha1.New()
	h.Write(hdr[0:16])
	h.Write(ip)
	h.Write(hdr[16:18])
	return h.Sum(nil)
}

// CreateNATDetectionNotify 把摘要包装成通知载荷。
func CreateNATDetectionNotify(notifyType uint16, hash []byte) *EncryptedPayloadNotify {
	return &EncryptedPayloadNotify{
		ProtocolID: ProtoIKE,
		NotifyType: notifyType,
		NotifyData: hash,
	}
}
