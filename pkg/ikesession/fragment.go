package ikesession

import (
	"fmt"

	"github.com/kasumigaoka/ikev2eap/pkg/ikev2"
)

// RFC 7383 IKE Fragmentation: SKF (Encrypted Fragment) 头部格式为
// Fragment Number (2 字节) | Total Fragments (2 字节) 之后紧跟常规的
// IV + 密文 + ICV。重组只发生在会话的单线程事件循环里，因此这里不需要
// 教师版本里保护并发访问的互斥锁。
const (
	maxFragments        = 255
	maxFragmentedPacket = 64 * 1024 // 防止内存耗尽攻击，参考 strongSwan frag->max_packet
)

// fragmentSet 是单个 Message ID 已收到的所有分片。firstType 来自 1 号
// 分片的 SKF 头部，标识重组后明文链的首个载荷类型。
type fragmentSet struct {
	total     uint16
	received  map[uint16][]byte
	totalLen  int
	firstType ikev2.PayloadType
}

// fragmentBuffer 按 Message ID 分组缓存尚未收齐的分片。
type fragmentBuffer struct {
	sets map[uint32]*fragmentSet
}

func newFragmentBuffer() *fragmentBuffer {
	return &fragmentBuffer{sets: make(map[uint32]*fragmentSet)}
}

// addFragment 记录一个分片，返回是否已收齐。分片总数比已记录的小、单个
// Message ID 重组后超限都会被拒绝，防止粗制滥造或恶意的分片耗尽内存；
// 总数变大时丢弃已收的分片，按新总数重新收集。
func (fb *fragmentBuffer) addFragment(msgID uint32, fragNum, totalFrags uint16, plaintext []byte, firstType ikev2.PayloadType) (bool, error) {
	if totalFrags == 0 || totalFrags > maxFragments || fragNum == 0 || fragNum > totalFrags {
		return false, fmt.Errorf("ikesession: 非法的分片编号 %d/%d", fragNum, totalFrags)
	}
	fs, ok := fb.sets[msgID]
	if !ok {
		fs = &fragmentSet{total: totalFrags, received: make(map[uint16][]byte)}
		fb.sets[msgID] = fs
	}

	if totalFrags > fs.total {
		fs.total = totalFrags
		fs.received = make(map[uint16][]byte)
		fs.totalLen = 0
	} else if fs.total != totalFrags {
		return false, fmt.Errorf("ikesession: 分片总数不一致: 期望 %d, 收到 %d", fs.total, totalFrags)
	}

	if _, exists := fs.received[fragNum]; exists {
		return false, nil
	}

	fs.totalLen += len(plaintext)
	if fs.totalLen > maxFragmentedPacket {
		delete(fb.sets, msgID)
		return false, fmt.Errorf("ikesession: 分片重组后超过最大包大小限制 (%d > %d)", fs.totalLen, maxFragmentedPacket)
	}

	if fragNum == 1 {
		fs.firstType = firstType
	}
	fs.received[fragNum] = plaintext
	return uint16(len(fs.received)) == fs.total, nil
}

// reassemble 按 Fragment Number 顺序拼接所有分片明文，成功后清理缓存。
func (fb *fragmentBuffer) reassemble(msgID uint32) ([]byte, ikev2.PayloadType, error) {
	fs, ok := fb.sets[msgID]
	if !ok {
		return nil, 0, fmt.Errorf("ikesession: 未找到 Message ID %d 的分片数据", msgID)
	}
	var result []byte
	for i := uint16(1); i <= fs.total; i++ {
		data, ok := fs.received[i]
		if !ok {
			return nil, 0, fmt.Errorf("ikesession: 缺少分片 %d/%d", i, fs.total)
		}
		result = append(result, data...)
	}
	firstType := fs.firstType
	delete(fb.sets, msgID)
	return result, firstType, nil
}
