package ikesession

import (
	"fmt"

	"github.com/kasumigaoka/ikev2eap/pkg/eap"
	"github.com/kasumigaoka/ikev2eap/pkg/eapauth"
	"github.com/kasumigaoka/ikev2eap/pkg/eapmethod"
	"github.com/kasumigaoka/ikev2eap/pkg/sim"
)

// MethodDeps 汇集构造各内层 EAP 方法状态机所需的外部协作者。字段
// 按方法需要填写：SIM/AKA/AKA' 需要 Provider 与 Identity，MSCHAPv2
// 只需要 Credentials。
type MethodDeps struct {
	Provider    sim.SIMProvider
	Identity    eapmethod.IdentitySource
	Credentials eapmethod.CredentialSource
	Random      eapmethod.RandomSource
}

// NewMethodFactory 返回标准的 eapauth.MethodFactory：按服务器请求的
// 方法类型惰性构造对应的状态机。
func NewMethodFactory(deps MethodDeps) eapauth.MethodFactory {
	return func(eapType uint8) (eapmethod.MethodSM, error) {
		switch eapType {
		case eap.TypeSIM:
			gsm, ok := deps.Provider.(sim.GSMProvider)
			if !ok {
				return nil, fmt.Errorf("ikesession: SIM 提供者不支持 GSM 三元组鉴权")
			}
			return eapmethod.NewSIM(deps.Identity, deps.Random, gsm), nil
		case eap.TypeAKA:
			return eapmethod.NewAKA(deps.Identity, usimAdapter{p: deps.Provider}), nil
		case eap.TypeAKAPrime:
			return eapmethod.NewAKAPrime(deps.Identity, usimAdapter{p: deps.Provider}), nil
		case eap.TypeMSCHAPv2:
			return eapmethod.NewMSCHAPv2(deps.Credentials, deps.Random), nil
		default:
			return nil, fmt.Errorf("ikesession: 未实现的 EAP 方法类型 %d", eapType)
		}
	}
}
