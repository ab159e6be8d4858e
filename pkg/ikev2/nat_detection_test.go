package ikev2

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"net"
	"testing"
)

// 对照逐字节手工拼接的 SHA-1 输入，钉住 NAT 检测摘要的字段顺序与
// 字节序。
func TestNATDetectionHashLayout(t *testing.T) {
	spiI := uint64(0x1122334455667788)
	spiR := uint64(0x99aabbccddeeff00)
	ip := net.ParseIP("192.168.1.1").To4()
	port := uint16(4500)

	manual := make([]byte, 0, 22)
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], spiI)
	manual = append(manual, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], spiR)
	manual = append(manual, u64[:]...)
	manual = append(manual, ip...)
	manual = append(manual, byte(port>>8), byte(port))
	want := sha1.Sum(manual)

	got := CalculateNATDetectionHash(spiI, spiR, ip, port)
	if !bytes.Equal(got, want[:]) {
		t.Fatalf("摘要 = %x, 期望 %x", got, want)
	}
}

func TestNATDetectionHashSensitivity(t *testing.T) {
	ip := net.ParseIP("10.0.0.1").To4()
	base := CalculateNATDetectionHash(1, 0, ip, 500)

	if !bytes.Equal(base, CalculateNATDetectionHash(1, 0, ip, 500)) {
		t.Fatal("相同输入的摘要不可复现")
	}
	// 端口或地址任何一个分量变化都必须改变摘要——这正是 NAT 检测的
	// 判定依据。
	if bytes.Equal(base, CalculateNATDetectionHash(1, 0, ip, 4500)) {
		t.Fatal("端口变化未影响摘要")
	}
	other := net.ParseIP("10.0.0.2").To4()
	if bytes.Equal(base, CalculateNATDetectionHash(1, 0, other, 500)) {
		t.Fatal("地址变化未影响摘要")
	}
}

func TestCreateNATDetectionNotifyRoundTrip(t *testing.T) {
	hash := CalculateNATDetectionHash(7, 9, net.ParseIP("10.1.2.3").To4(), 500)
	payload := CreateNATDetectionNotify(NAT_DETECTION_DESTINATION_IP, hash)

	raw, err := payload.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodePayloadNotify(raw)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.NotifyType != NAT_DETECTION_DESTINATION_IP || decoded.IsError() {
		t.Fatalf("通知类型 = %d (isError=%v)", decoded.NotifyType, decoded.IsError())
	}
	if !bytes.Equal(decoded.NotifyData, hash) {
		t.Fatal("通知数据往返不一致")
	}
}
