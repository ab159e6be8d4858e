package sim

import (
	"bytes"
	"testing"

	"github.com/kasumigaoka/ikev2eap/pkg/crypto"
)

var (
	testK  = bytes.Repeat([]byte{0x46}, 16)
	testOP = bytes.Repeat([]byte{0xcd}, 16)
)

func TestSoftSIMCalculateAKA(t *testing.T) {
	soft, err := NewSoftSIM("001011234567890", testK, testOP, false)
	if err != nil {
		t.Fatal(err)
	}

	// 网络侧用同一套 Milenage 凭据生成挑战。
	network, err := crypto.NewMilenage(testK, testOP, false)
	if err != nil {
		t.Fatal(err)
	}
	rand := bytes.Repeat([]byte{0x23}, 16)
	sqn := crypto.EncodeSQN(5)
	amf := []byte{0x80, 0x00}
	autn, err := network.GenerateAUTN(rand, sqn, amf)
	if err != nil {
		t.Fatal(err)
	}

	res, ck, ik, auts, err := soft.CalculateAKA(rand, autn)
	if err != nil {
		t.Fatalf("AKA 鉴权失败: %v (auts=%x)", err, auts)
	}
	if len(res) == 0 || len(ck) != 16 || len(ik) != 16 {
		t.Fatalf("输出长度异常: res=%d ck=%d ik=%d", len(res), len(ck), len(ik))
	}
	if soft.GetSQN() != 6 {
		t.Fatalf("SQN 未推进: %d", soft.GetSQN())
	}
}

func TestSoftSIMGSMTriplet(t *testing.T) {
	soft, err := NewSoftSIM("001011234567890", testK, testOP, false)
	if err != nil {
		t.Fatal(err)
	}
	rand := bytes.Repeat([]byte{0x5a}, 16)
	sres, kc, err := soft.CalculateGSM(rand)
	if err != nil {
		t.Fatal(err)
	}
	if len(sres) != 4 || len(kc) != 8 {
		t.Fatalf("三元组长度异常: sres=%d kc=%d", len(sres), len(kc))
	}
	// 同一 RAND 必须产生确定性的三元组。
	sres2, kc2, _ := soft.CalculateGSM(rand)
	if !bytes.Equal(sres, sres2) || !bytes.Equal(kc, kc2) {
		t.Fatal("GSM 三元组不可复现")
	}
}

func TestSQNManagerWindow(t *testing.T) {
	m := NewSQNManager(100)
	if !m.Verify(101) {
		t.Fatal("更新的 SQN 应被接受")
	}
	if !m.Verify(100) {
		t.Fatal("窗口内的 SQN 应被接受")
	}
	m.Update(200)
	if m.Current() != 200 {
		t.Fatalf("Current = %d", m.Current())
	}

	roundTrip := DecodeSQN(EncodeSQN(0x0000123456789a))
	if roundTrip != 0x0000123456789a {
		t.Fatalf("SQN 编解码往返失败: %x", roundTrip)
	}
}
