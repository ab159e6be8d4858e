package ikesession

import (
	"testing"

	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
)

func TestInferExchangeSubtype(t *testing.T) {
	rekeyIKENotify := &ikev2.EncryptedPayloadNotify{NotifyType: ikev2.REKEY_SA}
	rekeyESPNotify := &ikev2.EncryptedPayloadNotify{
		ProtocolID: ikev2.ProtoESP, NotifyType: ikev2.REKEY_SA,
		SPI: []byte{1, 2, 3, 4},
	}
	ikeDelete := &ikev2.EncryptedPayloadDelete{ProtocolID: ikev2.ProtoIKE}
	espDelete := &ikev2.EncryptedPayloadDelete{
		ProtocolID: ikev2.ProtoESP, SPISize: 4, NumSPIs: 1, SPIs: []byte{1, 2, 3, 4},
	}

	cases := []struct {
		name     string
		exchange ikev2.ExchangeType
		payloads []ikev2.Payload
		want     ExchangeSubtype
	}{
		{"init", ikev2.IKE_SA_INIT, nil, SubtypeIkeInit},
		{"auth", ikev2.IKE_AUTH, nil, SubtypeIkeAuth},
		{"rekey-ike-by-notify", ikev2.CREATE_CHILD_SA,
			[]ikev2.Payload{rekeyIKENotify}, SubtypeRekeyIke},
		{"rekey-child", ikev2.CREATE_CHILD_SA,
			[]ikev2.Payload{rekeyESPNotify}, SubtypeRekeyChild},
		{"create-child", ikev2.CREATE_CHILD_SA, nil, SubtypeCreateChild},
		{"delete-ike", ikev2.INFORMATIONAL,
			[]ikev2.Payload{ikeDelete}, SubtypeDeleteIke},
		{"delete-child", ikev2.INFORMATIONAL,
			[]ikev2.Payload{espDelete}, SubtypeDeleteChild},
		// 同一报文里 IKE 级删除压过 Child 级删除。
		{"ike-delete-supersedes-child", ikev2.INFORMATIONAL,
			[]ikev2.Payload{espDelete, ikeDelete}, SubtypeDeleteIke},
		{"generic-info", ikev2.INFORMATIONAL, nil, SubtypeGenericInfo},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := InferExchangeSubtype(tc.exchange, tc.payloads)
			if err != nil {
				t.Fatalf("推断失败: %v", err)
			}
			if got != tc.want {
				t.Fatalf("子类型 = %d, 期望 %d", got, tc.want)
			}
		})
	}
}

func TestInferExchangeSubtypeUnknownExchangeFatal(t *testing.T) {
	if _, err := InferExchangeSubtype(ikev2.ExchangeType(99), nil); err == nil {
		t.Fatal("未知交换类型应当返回错误")
	}
}

func TestRekeyIkeInferredFromIKEProposal(t *testing.T) {
	// 没有 REKEY_SA 通知但 SA 提议协议为 IKE 的 CREATE_CHILD_SA 请求
	// 同样按 IKE rekey 处理。
	prop := ikev2.NewProposal(1, ikev2.ProtoIKE, make([]byte, 8))
	sa := &ikev2.EncryptedPayloadSA{Proposals: []*ikev2.Proposal{prop}}
	got, err := InferExchangeSubtype(ikev2.CREATE_CHILD_SA, []ikev2.Payload{sa})
	if err != nil {
		t.Fatalf("推断失败: %v", err)
	}
	if got != SubtypeRekeyIke {
		t.Fatalf("子类型 = %d, 期望 SubtypeRekeyIke", got)
	}
}
