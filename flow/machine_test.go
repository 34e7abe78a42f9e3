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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcptap/mcptap/common/socket"
)

func tuple(srcPort, dstPort uint16) socket.Tuple {
	return socket.Tuple{
		SrcIP:   socket.ToIPV4(net.ParseIP("10.0.0.1")),
		DstIP:   socket.ToIPV4(net.ParseIP("10.0.0.2")),
		SrcPort: socket.Port(srcPort),
		DstPort: socket.Port(dstPort),
	}
}

type recorder struct {
	completed []*Transaction
	sseEvents []SSEEvent
}

func (r *recorder) OnComplete(tx *Transaction) {
	r.completed = append(r.completed, tx)
}

func (r *recorder) OnSSEUpdate(tx *Transaction, event SSEEvent) {
	r.sseEvents = append(r.sseEvents, event)
}

func TestStreamBuffer_SingleFramedRoundtrip(t *testing.T) {
	rec := &recorder{}
	sb := newStreamBuffer(NewKey(tuple(51000, 80)), time.Now())

	raw := "POST /echo HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello" +
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"

	sb.write([]byte(raw), time.Now())
	sb.step(rec)

	require.Len(t, rec.completed, 1)
	tx := rec.completed[0]
	assert.Equal(t, "hello", string(tx.RequestBody))
	assert.Equal(t, "ok", string(tx.ResponseBody))
	assert.False(t, tx.Truncated)
	assert.Equal(t, PhaseRequest, sb.phase)
	assert.Equal(t, 0, sb.acc.Len())
}

func TestStreamBuffer_ByteByByteArrival(t *testing.T) {
	rec := &recorder{}
	sb := newStreamBuffer(NewKey(tuple(51000, 80)), time.Now())

	raw := "GET /ping HTTP/1.1\r\nHost: example.com\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\npong"

	for i := 0; i < len(raw); i++ {
		sb.write([]byte{raw[i]}, time.Now())
		sb.step(rec)
	}

	require.Len(t, rec.completed, 1)
	assert.Equal(t, "pong", string(rec.completed[0].ResponseBody))
}

func TestStreamBuffer_PipelinedRequests(t *testing.T) {
	rec := &recorder{}
	sb := newStreamBuffer(NewKey(tuple(51000, 80)), time.Now())

	one := "GET /one HTTP/1.1\r\nHost: example.com\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\n1"
	two := "GET /two HTTP/1.1\r\nHost: example.com\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\n2"

	sb.write([]byte(one+two), time.Now())
	sb.step(rec)

	require.Len(t, rec.completed, 2)
	assert.Equal(t, "/one", rec.completed[0].Request.URL.Path)
	assert.Equal(t, "/two", rec.completed[1].Request.URL.Path)
}

func TestStreamBuffer_ChunkedResponse(t *testing.T) {
	rec := &recorder{}
	sb := newStreamBuffer(NewKey(tuple(51000, 80)), time.Now())

	raw := "GET /chunked HTTP/1.1\r\nHost: example.com\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\n\r\n"

	sb.write([]byte(raw), time.Now())
	sb.step(rec)

	require.Len(t, rec.completed, 1)
	assert.Equal(t, "hello", string(rec.completed[0].ResponseBody))
}

func TestStreamBuffer_SSENeverCompletesUntilFlush(t *testing.T) {
	rec := &recorder{}
	sb := newStreamBuffer(NewKey(tuple(51000, 80)), time.Now())

	header := "GET /events HTTP/1.1\r\nHost: example.com\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\n\r\n"
	sb.write([]byte(header), time.Now())
	sb.step(rec)

	assert.Equal(t, PhaseResponseBody, sb.phase)
	require.NotNil(t, sb.tx)
	assert.True(t, sb.tx.IsSSE)

	sb.write([]byte("data: {\"n\":1}\n\n"), time.Now())
	sb.step(rec)
	require.Len(t, rec.sseEvents, 1)
	assert.Equal(t, `{"n":1}`, rec.sseEvents[0].Data)
	assert.Empty(t, rec.completed)

	sb.write([]byte("data: {\"n\":2}\n\n"), time.Now())
	sb.step(rec)
	require.Len(t, rec.sseEvents, 2)
	assert.Empty(t, rec.completed, "SSE transactions must not auto-complete")

	sb.flush(rec, time.Now())
	require.Len(t, rec.completed, 1)
	assert.True(t, rec.completed[0].Truncated)
	assert.True(t, rec.completed[0].IsSSE)
}

func TestStreamBuffer_SSEChunkedEncoding(t *testing.T) {
	rec := &recorder{}
	sb := newStreamBuffer(NewKey(tuple(51000, 80)), time.Now())

	header := "GET /events HTTP/1.1\r\nHost: example.com\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nTransfer-Encoding: chunked\r\n\r\n"
	sb.write([]byte(header), time.Now())
	sb.step(rec)
	require.True(t, sb.tx.IsSSE)

	event := "data: ping\n\n"
	chunk := toHexChunk(event)
	sb.write([]byte(chunk), time.Now())
	sb.step(rec)

	require.Len(t, rec.sseEvents, 1)
	assert.Equal(t, "ping", rec.sseEvents[0].Data)
}

func TestStreamBuffer_TruncatedOnEOFMidBody(t *testing.T) {
	rec := &recorder{}
	sb := newStreamBuffer(NewKey(tuple(51000, 80)), time.Now())

	raw := "GET /big HTTP/1.1\r\nHost: example.com\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\nshort"
	sb.write([]byte(raw), time.Now())
	sb.step(rec)
	assert.Empty(t, rec.completed)

	sb.flush(rec, time.Now())
	require.Len(t, rec.completed, 1)
	assert.True(t, rec.completed[0].Truncated)
	assert.Equal(t, "short", string(rec.completed[0].ResponseBody))
}

func TestNewKey_DirectionInsensitive(t *testing.T) {
	forward := tuple(51000, 80)
	backward := forward.Mirror()

	assert.Equal(t, NewKey(forward), NewKey(backward))
}

func toHexChunk(data string) string {
	size := len(data)
	const hexDigits = "0123456789abcdef"
	var hex []byte
	if size == 0 {
		hex = []byte{'0'}
	}
	for n := size; n > 0; n /= 16 {
		hex = append([]byte{hexDigits[n%16]}, hex...)
	}
	return string(hex) + "\r\n" + data + "\r\n"
}
