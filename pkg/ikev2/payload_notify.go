package ikev2

import (
	"encoding/binary"
	"errors"
)

// 通知载荷 (RFC 7296 §3.10)。
type EncryptedPayloadNotify struct {
	ProtocolID ProtocolID
	SPI        []byte
	NotifyType uint16
	NotifyData []byte
}

func (p *EncryptedPayloadNotify) Type() PayloadType { return N }

// IsError 报告通知是否属于错误类型 (<16384)。错误与状态通知在会话层
// 走不同的分派路径。
func (p *EncryptedPayloadNotify) IsError() bool { return p.NotifyType < 16384 }

// Encode 产出载荷体: 协议(1) + SPI 长度(1) + 通知类型(2) + SPI + 数据。
func (p *EncryptedPayloadNotify) Encode() ([]byte, error) {
	if len(p.SPI) > 255 {
		return nil, errors.New("ikev2: 通知载荷的 SPI 过长")
	}
	buf := make([]byte, 4, 4+len(p.SPI)+len(p.NotifyData))
	buf[0] = uint8(p.ProtocolID)
	buf[1] = uint8(len(p.SPI))
	binary.BigEndian.PutUint16(buf[2:4], p.NotifyType)
	buf = append(buf, p.SPI...)
	buf = append(buf, p.NotifyData...)
	return buf, nil
}

func DecodePayloadNotify(data []byte) (*EncryptedPayloadNotify, error) {
	if len(data) < 4 {
		return nil, errors.New("ikev2: 通知载荷太短")
	}
	spiLen := int(data[1])
	if len(data) < 4+spiLen {
		return nil, errors.New("ikev2: 通知载荷的 SPI 被截断")
	}
	return &EncryptedPayloadNotify{
		ProtocolID: ProtocolID(data[0]),
		NotifyType: binary.BigEndian.Uint16(data[2:4]),
		SPI:        append([]byte(nil), data[4:4+spiLen]...),
		NotifyData: append([]byte(nil), data[4+spiLen:]...),
	}, nil
}
