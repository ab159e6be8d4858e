package ikev2

import "errors"

// 认证载荷 (RFC 7296 §3.8)。
type EncryptedPayloadAuth struct {
	AuthMethod uint8
	AuthData   []byte
}

// 认证方法 (RFC 7296 §3.8)。
const (
	AuthMethodRSASig    = 1
	AuthMethodSharedKey = 2
	AuthMethodDSSSig    = 3
)

func (p *EncryptedPayloadAuth) Type() PayloadType { return AUTH }

// Encode 产出载荷体: 方法(1) + 保留(3) + 认证数据。
func (p *EncryptedPayloadAuth) Encode() ([]byte, error) {
	if len(p.AuthData) == 0 {
		return nil, errors.New("ikev2: AUTH 载荷缺少认证数据")
	}
	buf := make([]byte, 4+len(p.AuthData))
	buf[0] = p.AuthMethod
	copy(buf[4:], p.AuthData)
	return buf, nil
}

func DecodePayloadAuth(data []byte) (*EncryptedPayloadAuth, error) {
	if len(data) <= 4 {
		return nil, errors.New("ikev2: AUTH 载荷太短")
	}
	return &EncryptedPayloadAuth{
		AuthMethod: data[0],
		AuthData:   append([]byte(nil), data[4:]...),
	}, nil
}
