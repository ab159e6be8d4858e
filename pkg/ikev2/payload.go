package ikev2

import (
	"encoding/binary"
	"errors"
)

// Payload 是所有 IKE 载荷共享的能力集：类型码 + 载荷体编码。通用
// 头部 (下一载荷/长度/Critical 位) 由报文层统一生成，载荷自身只
// 负责体部分。
type Payload interface {
	Type() PayloadType
	Encode() ([]byte, error)
}

// PayloadHeader 是通用载荷头部 (RFC 7296 §3.2)。
type PayloadHeader struct {
	NextPayload   PayloadType
	Critical      bool
	Reserved      uint8
	PayloadLength uint16
}

const PAYLOAD_HEADER_LEN = 4

func (h *PayloadHeader) Encode() []byte {
	buf := make([]byte, PAYLOAD_HEADER_LEN)
	buf[0] = uint8(h.NextPayload)
	if h.Critical {
		buf[1] = 0x80
	}
	binary.BigEndian.PutUint16(buf[2:4], h.PayloadLength)
	return buf
}

func DecodePayloadHeader(data []byte) (*PayloadHeader, error) {
	if len(data) < PAYLOAD_HEADER_LEN {
		return nil, errors.New("ikev2: 通用载荷头部太短")
	}
	h := &PayloadHeader{
		NextPayload:   PayloadType(data[0]),
		Critical:      data[1]&0x80 != 0,
		Reserved:      data[1] & 0x7f,
		PayloadLength: binary.BigEndian.Uint16(data[2:4]),
	}
	if int(h.PayloadLength) < PAYLOAD_HEADER_LEN {
		return nil, errors.New("ikev2: 载荷长度小于头部长度")
	}
	return h, nil
}
