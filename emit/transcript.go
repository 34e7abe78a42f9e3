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

// Package emit 将重组出来的 HTTP 事务渲染为带 ANSI 颜色的终端文本
package emit

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/logrusorgru/aurora"

	"github.com/mcptap/mcptap/flow"
	"github.com/mcptap/mcptap/internal/json"
)

// delimiter 分隔相邻两次事务输出 固定为 70 个等号
const delimiter = "======================================================================"

// Transcript 实现 flow.Emitter 把事务渲染打印到给定的 io.Writer
//
// 请求块与响应头会在第一次看到这个事务时打印（无论是正常响应还是 SSE 的第一个
// 事件） SSE 事件随到达实时打印 普通响应体则在事务完成时打印 每个事务结束后
// 输出一道分隔符
type Transcript struct {
	mu      sync.Mutex
	out     io.Writer
	color   aurora.Aurora
	printed map[*flow.Transaction]bool
}

// NewTranscript 创建一个 Transcript out 为空时默认写到 os.Stdout
func NewTranscript(out io.Writer, colorized bool) *Transcript {
	if out == nil {
		out = os.Stdout
	}
	return &Transcript{
		out:     out,
		color:   aurora.NewAurora(colorized),
		printed: make(map[*flow.Transaction]bool),
	}
}

// OnSSEUpdate 实现 flow.Emitter 每到达一个完整的 SSE 事件就立即打印
func (t *Transcript) OnSSEUpdate(tx *flow.Transaction, event flow.SSEEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensureHeaderPrinted(tx)
	t.printSSEEvent(event)
}

// OnComplete 实现 flow.Emitter 事务完成或被 flush 强制结束时调用
func (t *Transcript) OnComplete(tx *flow.Transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensureHeaderPrinted(tx)

	switch {
	case !tx.IsSSE:
		t.printResponseBody(tx)
	case tx.Truncated:
		fmt.Fprintln(t.out, t.color.Faint("  [stream closed]"))
	}

	fmt.Fprintln(t.out, delimiter)
	delete(t.printed, tx)
}

func (t *Transcript) ensureHeaderPrinted(tx *flow.Transaction) {
	if t.printed[tx] {
		return
	}
	t.printed[tx] = true
	t.printRequest(tx)
	t.printResponseHeader(tx)
}

func (t *Transcript) printRequest(tx *flow.Transaction) {
	req := tx.Request
	fmt.Fprintf(t.out, "%s\n", t.color.Green(fmt.Sprintf("▶ REQUEST: %s %s", req.Method, req.URL.RequestURI())).Bold())
	// net/http 把 Host 头从 req.Header 移到了 req.Host
	if req.Host != "" {
		fmt.Fprintf(t.out, "  %s: %s\n", t.color.Blue("Host"), req.Host)
	}
	printHeader(t.out, t.color, req.Header)

	if len(tx.RequestBody) > 0 {
		fmt.Fprintln(t.out, t.color.Faint("  [Request Body]"))
		printIndented(t.out, "    ", prettyJSON(string(tx.RequestBody)))
	}
	fmt.Fprintln(t.out)
}

// printResponseHeader 打印响应状态行与响应头
//
// tx.Response 在请求头已解析但响应从未到达就被终止 flush 的场景下可能为 nil
// （参见 spec 边界场景 6：只打印请求块 不打印任何响应内容）
func (t *Transcript) printResponseHeader(tx *flow.Transaction) {
	if tx.Response == nil {
		return
	}
	resp := tx.Response

	fmt.Fprintf(t.out, "%s\n", t.color.Blue(fmt.Sprintf("◀ RESPONSE: %s", resp.Status)).Bold())
	printHeader(t.out, t.color, resp.Header)

	if tx.IsSSE {
		fmt.Fprintln(t.out, t.color.Faint("  (SSE Stream Events)"))
	}
}

func (t *Transcript) printResponseBody(tx *flow.Transaction) {
	if len(tx.ResponseBody) == 0 {
		fmt.Fprintln(t.out)
		return
	}
	fmt.Fprintln(t.out, t.color.Faint("  [Response Body]"))
	printIndented(t.out, "    ", prettyJSON(string(tx.ResponseBody)))
	fmt.Fprintln(t.out)
}

// printSSEEvent 打印单个 SSE 事件
//
// 以 `: ping` 开头的事件是服务端发送的心跳注释 只做暗化处理 不尝试做 JSON 美化
func (t *Transcript) printSSEEvent(event flow.SSEEvent) {
	trimmed := strings.TrimSpace(event.Raw)
	if strings.HasPrefix(trimmed, ": ping") {
		fmt.Fprintf(t.out, "    %s\n", t.color.Faint(trimmed))
		return
	}

	fmt.Fprintln(t.out, t.color.Yellow("    [Event]").Bold())
	printIndented(t.out, "      ", prettyJSON(event.Data))
}

func printHeader(out io.Writer, color aurora.Aurora, header map[string][]string) {
	for name, values := range header {
		for _, v := range values {
			fmt.Fprintf(out, "  %s: %s\n", color.Blue(name), v)
		}
	}
}

func printIndented(out io.Writer, indent, text string) {
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(out, "%s%s\n", indent, line)
	}
}

// prettyJSON 尝试将 raw 解析为 JSON 并格式化缩进 失败时原样返回 自动剥离 SSE 的
// `data:` 前缀
func prettyJSON(raw string) string {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "data:"))
	if trimmed == "" {
		return raw
	}

	var v interface{}
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return raw
	}

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return raw
	}
	return string(b)
}
