package ikev2

import (
	"errors"
	"fmt"
)

type IKEPacket struct {
	Header   *IKEHeader
	Payloads []Payload
}

func NewIKEPacket() *IKEPacket {
	return &IKEPacket{
		Header:   &IKEHeader{},
		Payloads: []Payload{},
	}
}

func (p *IKEPacket) Encode() ([]byte, error) {
	// 1. 按顺序编码载荷
	var payloadsData []byte

	// 我们需要设置每个通用载荷头部的 NextPayload 字段
	// 逻辑: Header.NextPayload 指向 Payloads[0].Type
	// Payloads[0].Header.NextPayload 指向 Payloads[1].Type ...

	if len(p.Payloads) > 0 {
		p.Header.NextPayload = p.Payloads[0].Type()
	} else {
		p.Header.NextPayload = NoNextPayload
	}

	for i, pl := range p.Payloads {
		// 计算当前载荷的下一个载荷类型
		nextPlType := NoNextPayload
		if i < len(p.Payloads)-1 {
			nextPlType = p.Payloads[i+1].Type()
		}

		// 编码载荷主体
		body, err := pl.Encode()
		if err != nil {
			return nil, err
		}

		// 创建通用头部
		genHeader := &PayloadHeader{
			NextPayload:   nextPlType,
			Critical:      false, // 目前默认为 false
			PayloadLength: uint16(PAYLOAD_HEADER_LEN + len(body)),
		}

		headerBytes := genHeader.Encode()
		payloadsData = append(payloadsData, headerBytes...)
		payloadsData = append(payloadsData, body...)
	}

	// 2. 更新头部长度
	p.Header.Length = uint32(IKE_HEADER_LEN + len(payloadsData))

	// 3. 编码头部
	headerBytes := p.Header.Encode()

	return append(headerBytes, payloadsData...), nil
}

func DecodePacket(data []byte) (*IKEPacket, error) {
	// 1. 解码头部
	header, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	packet := &IKEPacket{
		Header:   header,
		Payloads: []Payload{},
	}

	// 2. 遍历载荷
	offset := IKE_HEADER_LEN
	nextPayloadType := header.NextPayload

	for nextPayloadType != NoNextPayload && offset < len(data) {
		// 读取通用头部
		if offset+PAYLOAD_HEADER_LEN > len(data) {
			return nil, errors.New("数据包太短，无法包含载荷头部")
		}

		genHeader, err := DecodePayloadHeader(data[offset : offset+PAYLOAD_HEADER_LEN])
		if err != nil {
			return nil, err
		}

		payloadLen := int(genHeader.PayloadLength)
		if offset+payloadLen > len(data) {
			return nil, errors.New("数据包太短，无法包含载荷主体")
		}

		payloadBody := data[offset+PAYLOAD_HEADER_LEN : offset+payloadLen]

		// SK 载荷 (加密载荷) 只能在持有密钥的上下文中解密，此处按
		// 未知类型存为 RawPayload；解密入口见 DecodeAndDecrypt。
		payload, err := decodePayloadBody(nextPayloadType, payloadBody)
		if err != nil {
			return nil, fmt.Errorf("解码载荷类型 %d 失败: %v", nextPayloadType, err)
		}

		if _, unknown := payload.(*RawPayload); unknown && genHeader.Critical {
			return nil, &UnsupportedCriticalPayloadError{PayloadType: nextPayloadType}
		}

		packet.Payloads = append(packet.Payloads, payload)

		// 准备下一个
		nextPayloadType = genHeader.NextPayload
		offset += payloadLen
	}

	return packet, nil
}

// UnsupportedCriticalPayloadError 表示遇到了无法识别且 Critical 位被
// 置位的载荷：整个报文必须被拒绝并以 UNSUPPORTED_CRITICAL_PAYLOAD
// 通知回应。
type UnsupportedCriticalPayloadError struct {
	PayloadType PayloadType
}

func (e *UnsupportedCriticalPayloadError) Error() string {
	return fmt.Sprintf("不支持的关键载荷类型 %d", e.PayloadType)
}

// RawPayload 用于未知类型
type RawPayload struct {
	PType PayloadType
	Data  []byte
}

func (p *RawPayload) Type() PayloadType       { return p.PType }
func (p *RawPayload) Encode() ([]byte, error) { return p.Data, nil }
