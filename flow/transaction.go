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
	"net/http"
	"time"
)

// Phase 描述一条 StreamBuffer 上事务状态机当前所处的阶段
type Phase int

const (
	// PhaseRequest 等待/解析请求行与请求头 请求体尚未开始收集
	PhaseRequest Phase = iota

	// PhaseResponseHeader 请求已经收集完整 等待/解析响应行与响应头
	PhaseResponseHeader

	// PhaseResponseBody 响应头已经解析完成 等待响应体（或 SSE 事件流）凑齐
	PhaseResponseBody
)

func (p Phase) String() string {
	switch p {
	case PhaseRequest:
		return "REQUEST"
	case PhaseResponseHeader:
		return "RESPONSE_HEADER"
	case PhaseResponseBody:
		return "RESPONSE_BODY"
	default:
		return "UNKNOWN"
	}
}

// SSEEvent 代表一个已经从 text/event-stream 响应体中切分出来的完整事件
type SSEEvent struct {
	// Raw 事件原始文本（去除末尾的空行分隔符与首尾空白）
	Raw string

	// Data 从 `data: ` 字段中提取并拼接的内容 多个 data 行以换行拼接
	Data string
}

// Transaction 代表一条流上的一次 HTTP 请求/响应往返
//
// 一个 StreamBuffer 同一时刻只维护一个进行中的 Transaction 完成或被强制 flush 后才会
// 开始解析下一个 pipelined 请求
type Transaction struct {
	Key Key

	StartedAt  time.Time
	FinishedAt time.Time

	Request     *http.Request
	RequestBody []byte

	Response     *http.Response
	ResponseBody []byte

	// IsSSE 响应 Content-Type 为 text/event-stream
	IsSSE     bool
	SSEEvents []SSEEvent

	// Truncated 表示该事务是被强制 flush（捕获源结束、收到 FIN 或空闲回收）落盘的 并非正常完成
	Truncated bool

	phase Phase
}

// Duration 请求耗时 若事务尚未完成则返回 0
func (tx *Transaction) Duration() time.Duration {
	if tx.FinishedAt.IsZero() {
		return 0
	}
	return tx.FinishedAt.Sub(tx.StartedAt)
}

// Proto 固定返回 "http" 当前仅支持 HTTP/1.x 的被动重组
func (tx *Transaction) Proto() string {
	return "http"
}

func (tx *Transaction) Validate() bool {
	return tx.Request != nil && tx.Response != nil
}
