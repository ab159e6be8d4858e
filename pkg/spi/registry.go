// Package spi 维护进程范围内的 IKE SPI 分配表。
package spi

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"
)

// maxAllocRetries 是分配冲突时的最大重试次数
const maxAllocRetries = 100

// ErrExhausted 表示连续冲突超过重试上限
var ErrExhausted = errors.New("spi: 分配重试次数耗尽")

// key 由地址和 64 位 SPI 值组成，值为 0 永远保留不分配
type key struct {
	addr  string
	value uint64
}

// Registry 是一个按地址分区的进程级 SPI 预留集合。插入即分配，删除即释放。
type Registry struct {
	mu        sync.Mutex
	allocated map[key]struct{}
}

func NewRegistry() *Registry {
	return &Registry{allocated: make(map[key]struct{})}
}

// global 是进程级的预留集合——本库唯一的全局状态，生命周期与进程
// 一致。所有会话共用它，保证跨会话的 SPI 唯一性。
var global = NewRegistry()

// Global 返回进程级注册表。
func Global() *Registry { return global }

// Allocate 为给定地址生成一个随机、此前未被占用的非零 SPI，最多重试
// maxAllocRetries 次。
func (r *Registry) Allocate(addr string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxAllocRetries; attempt++ {
		value, err := randomSPI()
		if err != nil {
			return 0, err
		}
		k := key{addr: addr, value: value}
		if _, taken := r.allocated[k]; taken {
			continue
		}
		r.allocated[k] = struct{}{}
		return value, nil
	}
	return 0, ErrExhausted
}

// Reserve 显式预留一个已知的 SPI 值（例如对端分配的响应方 SPI）。
// 返回 false 代表值为零或已被占用，调用方应当视作分配失败。
func (r *Registry) Reserve(addr string, value uint64) bool {
	if value == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{addr: addr, value: value}
	if _, taken := r.allocated[k]; taken {
		return false
	}
	r.allocated[k] = struct{}{}
	return true
}

// Release 释放之前分配或预留的 SPI。释放一个未持有的值是无操作。
func (r *Registry) Release(addr string, value uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.allocated, key{addr: addr, value: value})
}

// Held 报告某个 (addr, value) 当前是否已被占用，主要用于测试与诊断。
func (r *Registry) Held(addr string, value uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.allocated[key{addr: addr, value: value}]
	return ok
}

func randomSPI() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(buf[:])
	if v == 0 {
		v = 1
	}
	return v, nil
}
