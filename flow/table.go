// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package flow

import (
	"sync"
	"time"

	"github.com/mcptap/mcptap/common/socket"
	"github.com/mcptap/mcptap/internal/rescue"
)

// Config 配置 Table 的资源回收策略
type Config struct {
	// IdleTimeout 一条流超过该时长没有新字节到达就会被视为空闲 进而被强制 flush 并回收
	IdleTimeout time.Duration

	// GCInterval 扫描空闲流的周期
	GCInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.GCInterval <= 0 {
		c.GCInterval = 30 * time.Second
	}
}

// Table 管理所有活跃 TCP 流各自的 StreamBuffer 并负责空闲超时回收
//
// 每条 Key 对应唯一一个 StreamBuffer 所有归属同一条流的报文（不论方向）都会
// 被送入同一个 StreamBuffer 驱动同一个状态机前进
type Table struct {
	mu      sync.Mutex
	streams map[Key]*StreamBuffer

	emitter Emitter
	conf    Config

	closeOnce sync.Once
	done      chan struct{}
}

// NewTable 创建一个 Table 并启动后台空闲回收协程
func NewTable(emitter Emitter, conf Config) *Table {
	conf.setDefaults()
	t := &Table{
		streams: make(map[Key]*StreamBuffer),
		emitter: emitter,
		conf:    conf,
		done:    make(chan struct{}),
	}
	go t.gcLoop()
	return t
}

// Ingest 消费一个 4 层数据包 将其归并到对应的 StreamBuffer 并驱动状态机前进
//
// 当前仅支持 TCP 承载的 HTTP 流量 非 TCPSegment 类型的报文会被直接忽略
func (t *Table) Ingest(pkt socket.L4Packet) {
	seg, ok := pkt.(*socket.TCPSegment)
	if !ok {
		return
	}
	if len(seg.Payload) == 0 && !seg.FIN {
		return
	}

	key := NewKey(seg.Tuple)

	t.mu.Lock()
	defer t.mu.Unlock()

	sb, exists := t.streams[key]
	if !exists {
		if len(seg.Payload) == 0 {
			// FIN 到达但该流从未出现过任何数据 没有可以 flush 的内容
			return
		}
		sb = newStreamBuffer(key, seg.Time)
		t.streams[key] = sb
	}

	if len(seg.Payload) > 0 {
		sb.write(seg.Payload, seg.Time)
		sb.step(t.emitter)
	}

	if seg.FIN {
		sb.flush(t.emitter, seg.Time)
		delete(t.streams, key)
	}
}

// Close 停止后台回收协程 并对所有仍然存活的流执行一次终止 flush
//
// 捕获源结束（pcap 文件读到 EOF 或进程收到退出信号）时应当调用一次 Close
// 以便将所有进行中的事务（包括悬而未决的 SSE 连接）强制落盘 不丢失尾部数据
func (t *Table) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
	})

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for key, sb := range t.streams {
		sb.flush(t.emitter, now)
		delete(t.streams, key)
	}
}

func (t *Table) gcLoop() {
	defer rescue.HandleCrash()

	ticker := time.NewTicker(t.conf.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case now := <-ticker.C:
			t.evictIdle(now)
		}
	}
}

func (t *Table) evictIdle(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, sb := range t.streams {
		if sb.idle(now) < t.conf.IdleTimeout {
			continue
		}
		sb.flush(t.emitter, now)
		delete(t.streams, key)
	}
}

// Count 返回当前活跃流数量 供 metrics 上报使用
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}
