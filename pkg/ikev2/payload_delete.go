package ikev2

import (
	"encoding/binary"
	"errors"
)

// 删除载荷 (RFC 7296 §3.11)。协议为 IKE 时不携带 SPI (删除承载它的
// IKE SA 本身)；协议为 AH/ESP 时携带 4 字节 SPI 列表。
type EncryptedPayloadDelete struct {
	ProtocolID ProtocolID
	SPISize    uint8
	NumSPIs    uint16
	SPIs       []byte
}

// NewIKEDelete 构造删除 IKE SA 的载荷。
func NewIKEDelete() *EncryptedPayloadDelete {
	return &EncryptedPayloadDelete{ProtocolID: ProtoIKE}
}

// NewChildDelete 构造删除一组 Child SA 的载荷。
func NewChildDelete(spis []uint32) *EncryptedPayloadDelete {
	raw := make([]byte, 0, 4*len(spis))
	for _, spi := range spis {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], spi)
		raw = append(raw, b[:]...)
	}
	return &EncryptedPayloadDelete{
		ProtocolID: ProtoESP,
		SPISize:    4,
		NumSPIs:    uint16(len(spis)),
		SPIs:       raw,
	}
}

// SPIList 把 SPI 字节串展开成 32 位 SPI 列表；IKE 级删除返回空。
func (p *EncryptedPayloadDelete) SPIList() []uint32 {
	if p.SPISize != 4 {
		return nil
	}
	out := make([]uint32, 0, p.NumSPIs)
	for i := 0; i+4 <= len(p.SPIs); i += 4 {
		out = append(out, binary.BigEndian.Uint32(p.SPIs[i:i+4]))
	}
	return out
}

func (p *EncryptedPayloadDelete) Type() PayloadType { return D }

func (p *EncryptedPayloadDelete) Encode() ([]byte, error) {
	buf := make([]byte, 4+len(p.SPIs))
	buf[0] = uint8(p.ProtocolID)
	buf[1] = p.SPISize
	binary.BigEndian.PutUint16(buf[2:4], p.NumSPIs)
	copy(buf[4:], p.SPIs)
	return buf, nil
}

func DecodePayloadDelete(data []byte) (*EncryptedPayloadDelete, error) {
	if len(data) < 4 {
		return nil, errors.New("ikev2: 删除载荷太短")
	}
	spiSize := data[1]
	numSPIs := binary.BigEndian.Uint16(data[2:4])
	total := 4 + int(spiSize)*int(numSPIs)
	if len(data) < total {
		return nil, errors.New("ikev2: 删除载荷的 SPI 列表被截断")
	}
	return &EncryptedPayloadDelete{
		ProtocolID: ProtocolID(data[0]),
		SPISize:    spiSize,
		NumSPIs:    numSPIs,
		SPIs:       append([]byte(nil), data[4:total]...),
	}, nil
}
