package ikesession

import (
	"github.com/kasumigaoka/ikev2eap/pkg/ikesa"
	"github.com/kasumigaoka/ikev2eap/pkg/logger"
	"go.uber.org/zap"
)

// rekeyCollision 持有一次同时 rekey 竞态中涉及的三条候选 SA：当前
// （即将被替换的）SA，本端发起 rekey 产生的新 SA，以及对端发起
// rekey 产生的新 SA。幸存者通过 §4.6 的 nonce 字典序比较独立选出，
// 保证双方在没有协调的情况下收敛到同一条 SA 上。
type rekeyCollision struct {
	old         *ikesa.Record
	localNewSA  *ikesa.Record
	remoteNewSA *ikesa.Record
}

// creationNonces 按协议角色返回一条 SA 创建时的 (发起方, 响应方)
// nonce 对。比较必须用协议序而不是本端/对端序，否则两个对等体会对
// 同一条 SA 拼出不同的串，裁决便不再收敛。
func creationNonces(rec *ikesa.Record) (init, resp []byte) {
	if rec.Role == ikesa.RoleInitiator {
		return rec.LocalNonce, rec.RemoteNonce
	}
	return rec.RemoteNonce, rec.LocalNonce
}

// resolveSurvivor 返回幸存的新 SA 与落败的新 SA；落败一方连同
// old SA 都需要通过 INFORMATIONAL DELETE 拆除。
func (c *rekeyCollision) resolveSurvivor() (survivor, loser *ikesa.Record) {
	aInit, aResp := creationNonces(c.localNewSA)
	bInit, bResp := creationNonces(c.remoteNewSA)
	cmp := ikesa.CompareNonces(aInit, aResp, bInit, bResp)
	if cmp >= 0 {
		return c.localNewSA, c.remoteNewSA
	}
	return c.remoteNewSA, c.localNewSA
}

// beginSimultaneousRekey 在 RekeyIkeLocalCreate 状态下收到对端的
// REKEY_SA 请求时调用：记录第二条候选 SA，状态机转入
// SimulRekeyIkeLocalCreate，等待本地发起的 rekey 响应到达。
func (s *Session) beginSimultaneousRekey(remoteNewSA *ikesa.Record) {
	s.collision = &rekeyCollision{old: s.sa, localNewSA: s.localRekeySA, remoteNewSA: remoteNewSA}
	s.state = SimulRekeyIkeLocalCreate
	logger.Info("检测到同时 IKE SA Rekey，进入冲突裁决状态")
}

// completeSimultaneousRekey 在本地 rekey 响应到达、双候选 SA 都已知
// 之后调用：裁决幸存者，安排删除旧 SA 与落败的新 SA，并转入
// SimulRekeyIkeLocalDeleteRemoteDelete 等待两个 DELETE 交换都完成。
// 当前 SA 在删除交换完成前保持为旧 SA——删除请求本身还要在它上面
// 收发；幸存者的提升发生在 finishRekey。
func (s *Session) completeSimultaneousRekey() {
	c := s.collision
	survivor, loser := c.resolveSurvivor()
	logger.Info("同时 Rekey 裁决完成",
		zap.Uint64("survivorSPIi", survivor.SPIi), zap.Uint64("survivorSPIr", survivor.SPIr),
		zap.Uint64("loserSPIi", loser.SPIi), zap.Uint64("loserSPIr", loser.SPIr))

	s.pendingDeletes = append(s.pendingDeletes, c.old, loser)
	s.state = SimulRekeyIkeLocalDeleteRemoteDelete
}

// onDeferredRequestOnSurvivor 在删除阶段收到幸存新 SA 上的请求：
// §4.6 把它视为对端已经完成 rekey 的隐式确认，完成清理并回到 Idle。
func (s *Session) onDeferredRequestOnSurvivor() {
	logger.Info("幸存 SA 上收到请求，视为对端 rekey 完成确认")
	s.finishRekey()
}
