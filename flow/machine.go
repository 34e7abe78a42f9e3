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
	"bufio"
	"bytes"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mcptap/mcptap/internal/splitio"
	"github.com/mcptap/mcptap/logger"
)

// sseEventSep SSE 事件之间的分隔符 两个连续的换行
const sseEventSep = "\n\n"

// step 驱动状态机尽可能多地消费 acc 中已经到达的字节
//
// 每一轮尝试推进一个阶段 直到数据不足以继续推进（需要等待更多字节到达）为止
// 这使得一次 Write 之后可能会连续完成多个 pipelined 请求/响应
func (sb *StreamBuffer) step(emitter Emitter) {
	for {
		switch sb.phase {
		case PhaseRequest:
			if !sb.stepRequest() {
				return
			}

		case PhaseResponseHeader:
			if !sb.stepResponseHeader() {
				return
			}

		case PhaseResponseBody:
			if sb.tx.IsSSE {
				sb.drainSSE(emitter)
				// SSE 响应体永远不会自然结束 除非捕获源关闭触发 flush
				return
			}
			if !sb.stepResponseBody(emitter) {
				return
			}
		}
	}
}

// stepRequest 尝试从 acc 中解析一个完整的请求行+请求头+请求体
//
// 返回 true 代表成功推进到下一阶段 返回 false 代表数据不足 需要等待更多字节
func (sb *StreamBuffer) stepRequest() bool {
	if sb.acc.Len() == 0 {
		return false
	}
	// 请求头的结尾空行到达之前 net/http 会把未到齐的最后一行当作完整行解析并报格式错误
	if !hasBlankLine(sb.acc.Bytes()) {
		return false
	}

	total := sb.acc.Len()
	br := bufio.NewReaderSize(bytes.NewReader(sb.acc.Bytes()), total)

	req, err := http.ReadRequest(br)
	if err != nil {
		if isIncomplete(err) {
			return false
		}
		// 无法识别为 HTTP 请求 丢弃当前累积的字节 等待下一段可能重新对齐的数据
		logger.Warnf("flow %s: drop unparsable request header: %v", sb.key, err)
		sb.acc.Reset()
		return false
	}

	body, err := ioutil.ReadAll(req.Body)
	if err != nil {
		if isIncomplete(err) {
			return false
		}
		logger.Warnf("flow %s: drop unparsable request body: %v", sb.key, err)
		sb.acc.Reset()
		return false
	}

	consumed := total - br.Buffered()
	sb.acc.Next(consumed)

	sb.tx = &Transaction{
		Key:         sb.key,
		StartedAt:   sb.lastActiveAt,
		Request:     req,
		RequestBody: body,
		phase:       PhaseResponseHeader,
	}
	sb.phase = PhaseResponseHeader
	return true
}

// stepResponseHeader 尝试从 acc 中解析一个完整的状态行+响应头
func (sb *StreamBuffer) stepResponseHeader() bool {
	if sb.acc.Len() == 0 {
		return false
	}
	if !hasBlankLine(sb.acc.Bytes()) {
		return false
	}

	total := sb.acc.Len()
	br := bufio.NewReaderSize(bytes.NewReader(sb.acc.Bytes()), total)

	resp, err := http.ReadResponse(br, sb.tx.Request)
	if err != nil {
		if isIncomplete(err) {
			return false
		}
		logger.Warnf("flow %s: drop unparsable response header: %v", sb.key, err)
		sb.acc.Reset()
		sb.tx = nil
		sb.phase = PhaseRequest
		return false
	}

	consumed := total - br.Buffered()
	sb.acc.Next(consumed)

	sb.tx.Response = resp
	sb.tx.IsSSE = isEventStream(resp.Header.Get("Content-Type"))
	sb.tx.phase = PhaseResponseBody
	sb.phase = PhaseResponseBody
	return true
}

// stepResponseBody 尝试凑齐非 SSE 响应体（按 Content-Length / chunked 编码）
//
// 响应头解析完成之后 http.ReadResponse 返回的 Body 绑定在当时那一次性的 bufio.Reader
// 快照上 而 acc 会在多次 Write 之间持续增长 不能跨越多次 step 调用复用同一个 Body
// Reader 因此这里直接在 acc 的原始字节上手动识别 chunked/Content-Length 边界
func (sb *StreamBuffer) stepResponseBody(emitter Emitter) bool {
	raw := sb.acc.Bytes()

	var (
		data     []byte
		consumed int
		ok       bool
	)
	if isChunked(sb.tx.Response) {
		data, consumed, ok = decodeChunkedBody(raw)
	} else {
		data, consumed, ok = decodeContentLengthBody(raw, sb.tx.Response.Header)
	}
	if !ok {
		return false
	}

	sb.acc.Next(consumed)
	sb.tx.ResponseBody = data
	sb.finishTransaction(emitter, false)
	return true
}

// isChunked 判断响应是否使用 chunked 编码传输
//
// net/http 解析响应时会把 Transfer-Encoding 从 Header 中移除 改记录在 resp.TransferEncoding
func isChunked(resp *http.Response) bool {
	return len(resp.TransferEncoding) > 0 && strings.EqualFold(resp.TransferEncoding[0], "chunked")
}

// hasBlankLine 判断 b 中是否已经出现结束头部的空行（CRLF 或 LF 形式）
func hasBlankLine(b []byte) bool {
	return bytes.Contains(b, []byte("\n\r\n")) || bytes.Contains(b, []byte("\n\n"))
}

// decodeContentLengthBody 按 Content-Length 截取响应体
//
// 没有 Content-Length 且非 chunked 的响应视为空响应体 响应头解析完即完成
func decodeContentLengthBody(raw []byte, header http.Header) ([]byte, int, bool) {
	cl := strings.TrimSpace(header.Get("Content-Length"))
	if cl == "" {
		return nil, 0, true
	}
	n, err := strconv.Atoi(cl)
	if err != nil || n < 0 {
		return nil, 0, false
	}
	if len(raw) < n {
		return nil, 0, false
	}
	return append([]byte(nil), raw[:n]...), n, true
}

// scanChunkSizeLine 借助 splitio.Scanner 取出 chunk 长度行（十六进制长度 + 可选
// chunk-extension） 只有当该行携带结尾的 CRLF/LF 时才视为已完整到达
func scanChunkSizeLine(buf []byte) (size uint64, lineLen int, ok bool) {
	sc := splitio.NewScanner(buf)
	if !sc.Scan() {
		return 0, 0, false
	}

	line := sc.Bytes()
	if !bytes.HasSuffix(line, splitio.CharLF) {
		return 0, 0, false
	}

	sizeLine := bytes.TrimRight(line, "\r\n")
	if idx := bytes.IndexByte(sizeLine, ';'); idx >= 0 {
		sizeLine = sizeLine[:idx]
	}
	size, err := strconv.ParseUint(string(bytes.TrimSpace(sizeLine)), 16, 64)
	if err != nil {
		return 0, 0, false
	}
	return size, len(line), true
}

// decodeChunkedBody 手动解析 chunked 编码的响应体
//
// 每个 chunk 由十六进制长度行（可能携带 chunk-extension）+ CRLF + 数据 + CRLF 组成
// 长度为 0 的 chunk 代表结束 后面跟随可选的 trailer 字段与结尾 CRLF
func decodeChunkedBody(raw []byte) ([]byte, int, bool) {
	var body []byte
	pos := 0

	for {
		size, lineLen, ok := scanChunkSizeLine(raw[pos:])
		if !ok {
			return nil, 0, false
		}
		pos += lineLen

		if size == 0 {
			// 常见情况：终止 chunk 后没有 trailer 字段 紧跟着结尾空行
			if bytes.HasPrefix(raw[pos:], []byte("\r\n")) {
				return body, pos + 2, true
			}
			// 存在 trailer 字段时 以空行（blank line）作为 trailer 区域的结束
			trailerEnd := bytes.Index(raw[pos:], []byte("\r\n\r\n"))
			if trailerEnd < 0 {
				return nil, 0, false
			}
			return body, pos + trailerEnd + 4, true
		}

		if len(raw)-pos < int(size)+2 {
			return nil, 0, false
		}
		body = append(body, raw[pos:pos+int(size)]...)
		pos += int(size) + 2
	}
}

// drainSSE 从 acc 中尽可能多地切分出完整的 SSE 事件并上报
//
// SSE 响应体没有自然结束点（除非连接被关闭触发 flush） 因此这里只消费已经
// 完整到达的事件 剩余的不完整事件留在缓冲区中等待后续字节
//
// 若响应使用 chunked 编码传输（绝大多数流式 SSE 服务都是如此） 需要先把已经
// 完整到达的 chunk 解码还原成原始事件字节 再在还原后的字节上寻找事件边界
// 否则 chunk 的十六进制长度前缀会破坏 `\n\n` 的定位
func (sb *StreamBuffer) drainSSE(emitter Emitter) {
	if isChunked(sb.tx.Response) {
		decoded, consumed := decodeAvailableChunks(sb.acc.Bytes())
		if consumed > 0 {
			sb.acc.Next(consumed)
		}
		if len(decoded) > 0 {
			sb.sseDecoded.Write(decoded)
		}
	} else if sb.acc.Len() > 0 {
		sb.sseDecoded.Write(sb.acc.Bytes())
		sb.acc.Reset()
	}

	for {
		raw := sb.sseDecoded.String()
		idx := strings.Index(raw, sseEventSep)
		if idx < 0 {
			return
		}

		chunk := strings.TrimSpace(raw[:idx])
		sb.sseDecoded.Next(idx + len(sseEventSep))
		if chunk == "" {
			continue
		}

		event := parseSSEEvent(chunk)
		sb.tx.SSEEvents = append(sb.tx.SSEEvents, event)
		if emitter != nil {
			emitter.OnSSEUpdate(sb.tx, event)
		}
	}
}

// decodeAvailableChunks 增量解码所有已经完整到达的 chunk（不要求终止 chunk 到达）
//
// 用于长期存活的 chunked 流（如 SSE） 与 decodeChunkedBody 的区别在于后者要求
// 整个响应体（含终止 chunk）都已到达 才会返回成功
func decodeAvailableChunks(raw []byte) (decoded []byte, consumed int) {
	pos := 0
	for {
		size, lineLen, ok := scanChunkSizeLine(raw[pos:])
		if !ok {
			return decoded, pos
		}
		chunkStart := pos + lineLen

		if size == 0 {
			// 终止 chunk 到达 trailer 部分对 SSE 事件本身没有意义 到此为止
			return decoded, pos
		}

		if len(raw)-chunkStart < int(size)+2 {
			return decoded, pos
		}
		decoded = append(decoded, raw[chunkStart:chunkStart+int(size)]...)
		pos = chunkStart + int(size) + 2
	}
}

// parseSSEEvent 将一个事件块解析为 SSEEvent 提取所有 `data: ` 行并拼接
func parseSSEEvent(chunk string) SSEEvent {
	var data []string
	for _, line := range strings.Split(chunk, "\n") {
		line = strings.TrimRight(line, "\r")
		if d, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(d, " "))
		}
	}
	return SSEEvent{
		Raw:  chunk,
		Data: strings.Join(data, "\n"),
	}
}

// finishTransaction 完成一次事务 回调 Emitter 并将状态机重置为下一个请求
func (sb *StreamBuffer) finishTransaction(emitter Emitter, truncated bool) {
	tx := sb.tx
	tx.FinishedAt = sb.lastActiveAt
	tx.Truncated = truncated

	if emitter != nil {
		emitter.OnComplete(tx)
	}

	sb.tx = nil
	sb.phase = PhaseRequest
}

// flush 在捕获源结束（EOF / FIN / 空闲回收）时被调用 强制将进行中的事务落盘
//
// - 连请求头都没有解析出来（sb.tx == nil）时 没有足够信息构造一次有意义的事务 直接丢弃
// - 只要请求头已经解析出来（sb.tx != nil） 不论后续推进到哪个阶段 都要上报一次
//   截断事务 —— 哪怕响应头/响应体完全没有到达 也要让 Emitter 打印出请求部分
func (sb *StreamBuffer) flush(emitter Emitter, now time.Time) {
	sb.lastActiveAt = now
	if sb.tx == nil {
		sb.phase = PhaseRequest
		return
	}

	if sb.phase == PhaseResponseBody {
		if sb.tx.IsSSE {
			sb.drainSSE(emitter)
			sb.sseDecoded.Reset()
		} else {
			sb.tx.ResponseBody = append(sb.tx.ResponseBody, sb.acc.Bytes()...)
		}
	}
	sb.acc.Reset()
	sb.finishTransaction(emitter, true)
}

func isIncomplete(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF
}

func isEventStream(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/event-stream")
}
