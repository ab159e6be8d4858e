package eapauth

import "fmt"

// 3GPP TS 23.003 §19.3: EAP-AKA/SIM 的根 NAI 形如
// 0<IMSI>@nai.epc.mnc<MNC>.mcc<MCC>.3gppnetwork.org。MCC/MNC 缺省时
// 从 IMSI 前 5 位推导，两位 MNC 前补零。

// BuildRootNAI 从 IMSI 构造根 NAI。mcc/mnc 传空串时自动从 IMSI 推导。
func BuildRootNAI(imsi, mcc, mnc string) string {
	if mcc == "" && len(imsi) >= 5 {
		mcc = imsi[0:3]
	}
	if mnc == "" && len(imsi) >= 5 {
		mnc = imsi[3:5]
	}
	if len(mnc) == 2 {
		mnc = "0" + mnc
	}
	return fmt.Sprintf("0%s@nai.epc.mnc%s.mcc%s.3gppnetwork.org", imsi, mnc, mcc)
}

// IMSISource 是一个最小的 IMSI 来源接口，pkg/sim.SIMProvider 满足它。
type IMSISource interface {
	GetIMSI() (string, error)
}

// NAIIdentity 把 IMSI 来源适配成顶层 EAP Identity 响应使用的
// IdentitySource，身份即根 NAI。
type NAIIdentity struct {
	Source IMSISource
	MCC    string
	MNC    string
}

func (n *NAIIdentity) GetIdentity() (string, bool) {
	imsi, err := n.Source.GetIMSI()
	if err != nil || imsi == "" {
		return "", false
	}
	return BuildRootNAI(imsi, n.MCC, n.MNC), true
}
