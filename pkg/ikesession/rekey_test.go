package ikesession

import (
	"testing"

	"github.com/kasumigaoka/ikev2eap/pkg/ikesa"
)

// 模拟同时 rekey: A 发起的候选 SA1 (A 为发起方)，B 发起的候选 SA2
// (B 为发起方)。两个对等体各自独立裁决时必须选出同一条幸存 SA。
func TestSimultaneousRekeySurvivorSymmetry(t *testing.T) {
	ni1 := []byte{0x01, 0x02, 0x03}
	nr1 := []byte{0x0a, 0x0b, 0x0c}
	ni2 := []byte{0xf1, 0xf2, 0xf3}
	nr2 := []byte{0x51, 0x52, 0x53}

	// A 视角: SA1 是本端发起 (Local=Ni1)，SA2 是对端发起 (Local=Nr2)。
	sa1AtA := ikesa.NewRecord(0x1111, 0x2222, ikesa.RoleInitiator)
	sa1AtA.LocalNonce, sa1AtA.RemoteNonce = ni1, nr1
	sa2AtA := ikesa.NewRecord(0x3333, 0x4444, ikesa.RoleResponder)
	sa2AtA.LocalNonce, sa2AtA.RemoteNonce = nr2, ni2
	collisionA := &rekeyCollision{localNewSA: sa1AtA, remoteNewSA: sa2AtA}

	// B 视角: SA2 是本端发起，SA1 是对端发起。
	sa2AtB := ikesa.NewRecord(0x3333, 0x4444, ikesa.RoleInitiator)
	sa2AtB.LocalNonce, sa2AtB.RemoteNonce = ni2, nr2
	sa1AtB := ikesa.NewRecord(0x1111, 0x2222, ikesa.RoleResponder)
	sa1AtB.LocalNonce, sa1AtB.RemoteNonce = nr1, ni1
	collisionB := &rekeyCollision{localNewSA: sa2AtB, remoteNewSA: sa1AtB}

	survivorA, loserA := collisionA.resolveSurvivor()
	survivorB, loserB := collisionB.resolveSurvivor()

	if survivorA.SPIi != survivorB.SPIi || survivorA.SPIr != survivorB.SPIr {
		t.Fatalf("两端裁决不一致: A 选了 %x/%x, B 选了 %x/%x",
			survivorA.SPIi, survivorA.SPIr, survivorB.SPIi, survivorB.SPIr)
	}
	if loserA.SPIi != loserB.SPIi {
		t.Fatalf("落败 SA 不一致")
	}
	// Ni2||Nr2 以 0xf1 开头，字典序更大，SA2 应当胜出。
	if survivorA.SPIi != 0x3333 {
		t.Fatalf("幸存 SA 应为 nonce 更大的 SA2, 实际 %x", survivorA.SPIi)
	}
}

func TestCreationNoncesProtocolOrder(t *testing.T) {
	init := []byte{1}
	resp := []byte{2}

	asInitiator := ikesa.NewRecord(1, 2, ikesa.RoleInitiator)
	asInitiator.LocalNonce, asInitiator.RemoteNonce = init, resp
	asResponder := ikesa.NewRecord(1, 2, ikesa.RoleResponder)
	asResponder.LocalNonce, asResponder.RemoteNonce = resp, init

	iA, rA := creationNonces(asInitiator)
	iB, rB := creationNonces(asResponder)
	if string(iA) != string(iB) || string(rA) != string(rB) {
		t.Fatal("两种角色下的创建 nonce 协议序不一致")
	}
}
