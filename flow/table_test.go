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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcptap/mcptap/common/socket"
)

func TestTable_MergesBothDirectionsIntoOneStream(t *testing.T) {
	rec := &recorder{}
	table := NewTable(rec, Config{})
	defer table.Close()

	forward := tuple(51000, 80)
	backward := forward.Mirror()

	now := time.Now()
	table.Ingest(&socket.TCPSegment{
		Tuple:   forward,
		Time:    now,
		Payload: []byte("GET /hi HTTP/1.1\r\nHost: example.com\r\n\r\n"),
	})
	table.Ingest(&socket.TCPSegment{
		Tuple:   backward,
		Time:    now.Add(time.Millisecond),
		Payload: []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"),
	})

	require.Equal(t, 1, table.Count(), "stream stays open after a completed roundtrip to allow pipelining")
	require.Len(t, rec.completed, 1)
	assert.Equal(t, "hi", string(rec.completed[0].ResponseBody))
}

func TestTable_FINFlushesAndRemovesStream(t *testing.T) {
	rec := &recorder{}
	table := NewTable(rec, Config{})
	defer table.Close()

	tp := tuple(51000, 80)
	now := time.Now()
	table.Ingest(&socket.TCPSegment{
		Tuple:   tp,
		Time:    now,
		Payload: []byte("GET /partial HTTP/1.1\r\nHost: example.com\r\n\r\n"),
	})
	assert.Equal(t, 1, table.Count())

	table.Ingest(&socket.TCPSegment{
		Tuple: tp,
		Time:  now.Add(time.Millisecond),
		FIN:   true,
	})
	assert.Equal(t, 0, table.Count())

	// 请求头已经解析出来 但响应从未到达 FIN 到来时仍然必须上报一次截断事务
	// 而不是悄悄丢弃（参见边界场景：终止 flush 只打印请求块）
	require.Len(t, rec.completed, 1)
	assert.True(t, rec.completed[0].Truncated)
	assert.Equal(t, "/partial", rec.completed[0].Request.URL.Path)
	assert.Nil(t, rec.completed[0].Response)
	assert.Empty(t, rec.sseEvents)
}

func TestTable_IgnoresEmptyPayload(t *testing.T) {
	rec := &recorder{}
	table := NewTable(rec, Config{})
	defer table.Close()

	table.Ingest(&socket.TCPSegment{Tuple: tuple(51000, 80), Time: time.Now()})
	assert.Equal(t, 0, table.Count())
}

func TestTable_CloseFlushesInProgressTransactions(t *testing.T) {
	rec := &recorder{}
	table := NewTable(rec, Config{})

	table.Ingest(&socket.TCPSegment{
		Tuple:   tuple(51000, 80),
		Time:    time.Now(),
		Payload: []byte("GET /events HTTP/1.1\r\nHost: example.com\r\n\r\nHTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\n\r\ndata: x\n\n"),
	})
	assert.Empty(t, rec.completed)

	table.Close()
	require.Len(t, rec.completed, 1)
	assert.True(t, rec.completed[0].Truncated)
}
