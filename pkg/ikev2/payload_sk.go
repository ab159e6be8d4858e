package ikev2

import (
	"errors"
	"fmt"

	"github.com/kasumigaoka/ikev2eap/pkg/crypto"
)

// SK 载荷 (RFC 7296 3.14 节) 的加解密由编解码层直接拥有：
// 报文一旦脱离加密上下文就失去意义，不应该在会话层重复实现一份。

// DecodeAndDecrypt 解码一个完整的 IKE 报文。如果报文的首个载荷不是 SK，
// 行为与 DecodePacket 相同；否则先定位并解密 SK 载荷主体，再对明文
// 递归解析出内部载荷链。
func DecodeAndDecrypt(data []byte, encAlg crypto.Encrypter, integAlg crypto.IntegrityAlgorithm, isAEAD bool, encKey, integKey []byte) (*IKEHeader, []Payload, error) {
	header, err := DecodeHeader(data)
	if err != nil {
		return nil, nil, err
	}

	if header.NextPayload != SK {
		packet, err := DecodePacket(data)
		if err != nil {
			return nil, nil, err
		}
		return header, packet.Payloads, nil
	}

	offset := IKE_HEADER_LEN
	if offset+PAYLOAD_HEADER_LEN > len(data) {
		return nil, nil, errors.New("数据包太短，无法包含 SK 载荷头部")
	}
	genHeader, err := DecodePayloadHeader(data[offset : offset+PAYLOAD_HEADER_LEN])
	if err != nil {
		return nil, nil, err
	}

	skBodyLen := int(genHeader.PayloadLength) - PAYLOAD_HEADER_LEN
	if skBodyLen < 0 || offset+PAYLOAD_HEADER_LEN+skBodyLen > len(data) {
		return nil, nil, errors.New("SK 载荷太短")
	}
	skContent := data[offset+PAYLOAD_HEADER_LEN : offset+PAYLOAD_HEADER_LEN+skBodyLen]

	ivSize := encAlg.IVSize()
	if len(skContent) < ivSize {
		return nil, nil, errors.New("SK 内容对于 IV 来说太短")
	}
	iv := skContent[:ivSize]
	aad := data[:IKE_HEADER_LEN]

	ciphertext := skContent[ivSize:]
	if !isAEAD && integAlg != nil {
		icvSize := integAlg.OutputSize()
		if len(ciphertext) < icvSize {
			return nil, nil, errors.New("SK 内容对于 ICV 来说太短")
		}
		receivedICV := ciphertext[len(ciphertext)-icvSize:]
		ciphertext = ciphertext[:len(ciphertext)-icvSize]

		dataToVerify := data[:IKE_HEADER_LEN+PAYLOAD_HEADER_LEN+ivSize+len(ciphertext)]
		if !integAlg.Verify(integKey, dataToVerify, receivedICV) {
			return nil, nil, errors.New("IKE 完整性校验失败")
		}
	}

	plaintext, err := encAlg.Decrypt(ciphertext, encKey, iv, aad)
	if err != nil {
		return nil, nil, fmt.Errorf("SK 载荷解密失败: %v", err)
	}

	if !isAEAD {
		if len(plaintext) < 1 {
			return nil, nil, errors.New("SK 明文太短")
		}
		padLen := int(plaintext[len(plaintext)-1])
		if len(plaintext) < 1+padLen {
			return nil, nil, errors.New("SK 填充长度无效")
		}
		plaintext = plaintext[:len(plaintext)-1-padLen]
	}

	payloads, err := decodePayloadChain(plaintext, genHeader.NextPayload)
	if err != nil {
		return nil, nil, err
	}
	return header, payloads, nil
}

// DecodeAndDecryptFragment 解密一个 Encrypted Fragment (SKF, RFC 7383)
// 报文。SKF 载荷体为 Fragment Number(2) | Total Fragments(2) 之后接常
// 规的 IV | 密文 | ICV，每个分片独立加密与完整性保护。返回分片序号、
// 总数、明文，以及首个内部载荷类型 (仅 1 号分片的 SKF 头部携带，其余
// 分片为 0)。
func DecodeAndDecryptFragment(data []byte, encAlg crypto.Encrypter, integAlg crypto.IntegrityAlgorithm, isAEAD bool, encKey, integKey []byte) (hdr *IKEHeader, fragNum, totalFrags uint16, firstType PayloadType, plaintext []byte, err error) {
	hdr, err = DecodeHeader(data)
	if err != nil {
		return nil, 0, 0, 0, nil, err
	}
	if hdr.NextPayload != EncryptedFragment {
		return nil, 0, 0, 0, nil, errors.New("报文的首个载荷不是 SKF")
	}

	offset := IKE_HEADER_LEN
	if offset+PAYLOAD_HEADER_LEN > len(data) {
		return nil, 0, 0, 0, nil, errors.New("数据包太短，无法包含 SKF 载荷头部")
	}
	genHeader, err := DecodePayloadHeader(data[offset : offset+PAYLOAD_HEADER_LEN])
	if err != nil {
		return nil, 0, 0, 0, nil, err
	}
	bodyLen := int(genHeader.PayloadLength) - PAYLOAD_HEADER_LEN
	if bodyLen < 4 || offset+PAYLOAD_HEADER_LEN+bodyLen > len(data) {
		return nil, 0, 0, 0, nil, errors.New("SKF 载荷太短")
	}
	body := data[offset+PAYLOAD_HEADER_LEN : offset+PAYLOAD_HEADER_LEN+bodyLen]
	fragNum = uint16(body[0])<<8 | uint16(body[1])
	totalFrags = uint16(body[2])<<8 | uint16(body[3])
	content := body[4:]

	ivSize := encAlg.IVSize()
	if len(content) < ivSize {
		return nil, 0, 0, 0, nil, errors.New("SKF 内容对于 IV 来说太短")
	}
	iv := content[:ivSize]
	ciphertext := content[ivSize:]
	aad := data[:IKE_HEADER_LEN]

	if !isAEAD && integAlg != nil {
		icvSize := integAlg.OutputSize()
		if len(ciphertext) < icvSize {
			return nil, 0, 0, 0, nil, errors.New("SKF 内容对于 ICV 来说太短")
		}
		receivedICV := ciphertext[len(ciphertext)-icvSize:]
		ciphertext = ciphertext[:len(ciphertext)-icvSize]
		dataToVerify := data[:len(data)-icvSize]
		if !integAlg.Verify(integKey, dataToVerify, receivedICV) {
			return nil, 0, 0, 0, nil, errors.New("IKE 完整性校验失败")
		}
	}

	plain, err := encAlg.Decrypt(ciphertext, encKey, iv, aad)
	if err != nil {
		return nil, 0, 0, 0, nil, fmt.Errorf("SKF 载荷解密失败: %v", err)
	}
	if !isAEAD {
		if len(plain) < 1 {
			return nil, 0, 0, 0, nil, errors.New("SKF 明文太短")
		}
		padLen := int(plain[len(plain)-1])
		if len(plain) < 1+padLen {
			return nil, 0, 0, 0, nil, errors.New("SKF 填充长度无效")
		}
		plain = plain[:len(plain)-1-padLen]
	}
	return hdr, fragNum, totalFrags, genHeader.NextPayload, plain, nil
}

// DecodePayloadChain 解析一段已解密的明文载荷链，供分片重组完成后的
// 调用方使用。
func DecodePayloadChain(data []byte, firstType PayloadType) ([]Payload, error) {
	return decodePayloadChain(data, firstType)
}

// decodePayloadChain 解析一段已解密的明文载荷链，与 DecodePacket 内部
// 使用的 switch 相同，但不依赖 IKE 头部。
func decodePayloadChain(data []byte, firstType PayloadType) ([]Payload, error) {
	var payloads []Payload
	offset := 0
	nextType := firstType

	for nextType != NoNextPayload && offset < len(data) {
		if offset+PAYLOAD_HEADER_LEN > len(data) {
			return nil, errors.New("载荷太短，无法包含载荷头部")
		}
		genHeader, err := DecodePayloadHeader(data[offset : offset+PAYLOAD_HEADER_LEN])
		if err != nil {
			return nil, err
		}

		length := int(genHeader.PayloadLength)
		if length < PAYLOAD_HEADER_LEN || offset+length > len(data) {
			return nil, errors.New("载荷太短，无法包含载荷主体")
		}
		body := data[offset+PAYLOAD_HEADER_LEN : offset+length]

		payload, err := decodePayloadBody(nextType, body)
		if err != nil {
			return nil, fmt.Errorf("解码载荷类型 %d 失败: %v", nextType, err)
		}
		// 未知且设置了 Critical 位的载荷不允许静默跳过 (RFC 7296 §2.5)。
		if _, unknown := payload.(*RawPayload); unknown && genHeader.Critical {
			return nil, &UnsupportedCriticalPayloadError{PayloadType: nextType}
		}
		payloads = append(payloads, payload)

		nextType = genHeader.NextPayload
		offset += length
	}
	return payloads, nil
}

// decodePayloadBody 按类型分发单个载荷主体的解码，DecodePacket 与
// decodePayloadChain 共用同一张分发表。
func decodePayloadBody(t PayloadType, body []byte) (Payload, error) {
	switch t {
	case SA:
		return DecodePayloadSA(body)
	case KE:
		return DecodePayloadKE(body)
	case NiNr:
		return DecodePayloadNonce(body)
	case IDi:
		return DecodePayloadID(body, true)
	case IDr:
		return DecodePayloadID(body, false)
	case AUTH:
		return DecodePayloadAuth(body)
	case EAP:
		return DecodePayloadEAP(body)
	case N:
		return DecodePayloadNotify(body)
	case D:
		return DecodePayloadDelete(body)
	case TSI:
		return DecodePayloadTS(body, true)
	case TSR:
		return DecodePayloadTS(body, false)
	case CP:
		return DecodePayloadCP(body)
	default:
		return &RawPayload{PType: t, Data: body}, nil
	}
}

// EncryptAndEncode 编码一组载荷并包装进一个 SK 载荷，产出完整的 IKE 报文。
// hdr.NextPayload 会被强制设为 SK，hdr.Length 由函数自行计算。
func EncryptAndEncode(payloads []Payload, hdr *IKEHeader, encAlg crypto.Encrypter, integAlg crypto.IntegrityAlgorithm, isAEAD bool, encKey, integKey []byte) ([]byte, error) {
	innerData := []byte{}

	for i, pl := range payloads {
		nextType := NoNextPayload
		if i < len(payloads)-1 {
			nextType = payloads[i+1].Type()
		}

		body, err := pl.Encode()
		if err != nil {
			return nil, err
		}

		header := &PayloadHeader{
			NextPayload:   nextType,
			PayloadLength: uint16(PAYLOAD_HEADER_LEN + len(body)),
		}
		innerData = append(innerData, header.Encode()...)
		innerData = append(innerData, body...)
	}

	iv, err := crypto.RandomBytes(encAlg.IVSize())
	if err != nil {
		return nil, err
	}

	icvSize := 0
	if !isAEAD && integAlg != nil {
		icvSize = integAlg.OutputSize()
	}

	plainToEncrypt := innerData
	expectedCipherLen := len(plainToEncrypt)
	if isAEAD {
		expectedCipherLen += encAlg.Overhead()
	} else {
		blockSize := encAlg.BlockSize()
		if blockSize <= 0 {
			return nil, errors.New("无效的块大小")
		}
		padLen := 0
		if rem := (len(plainToEncrypt) + 1) % blockSize; rem != 0 {
			padLen = blockSize - rem
		}
		plainToEncrypt = append(plainToEncrypt, make([]byte, padLen)...)
		plainToEncrypt = append(plainToEncrypt, byte(padLen))
		expectedCipherLen = len(plainToEncrypt)
	}

	nextPayload := NoNextPayload
	if len(payloads) > 0 {
		nextPayload = payloads[0].Type()
	}

	hdr.NextPayload = SK
	hdr.Length = uint32(IKE_HEADER_LEN + PAYLOAD_HEADER_LEN + len(iv) + expectedCipherLen + icvSize)
	aad := hdr.Encode()

	ciphertext, err := encAlg.Encrypt(plainToEncrypt, encKey, iv, aad)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) != expectedCipherLen {
		return nil, errors.New("加密输出长度不匹配")
	}

	skHeader := &PayloadHeader{
		NextPayload:   nextPayload,
		PayloadLength: uint16(PAYLOAD_HEADER_LEN + len(iv) + len(ciphertext) + icvSize),
	}

	packet := append(aad, skHeader.Encode()...)
	packet = append(packet, iv...)
	packet = append(packet, ciphertext...)
	if !isAEAD && integAlg != nil {
		icv := integAlg.Compute(integKey, packet)
		packet = append(packet, icv...)
	}
	if uint32(len(packet)) != hdr.Length {
		return nil, errors.New("IKE 长度字段不匹配")
	}
	return packet, nil
}
