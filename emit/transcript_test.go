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

package emit_test

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcptap/mcptap/common/socket"
	"github.com/mcptap/mcptap/emit"
	"github.com/mcptap/mcptap/flow"
)

func tuple(srcPort, dstPort uint16) socket.Tuple {
	return socket.Tuple{
		SrcIP:   socket.ToIPV4(net.ParseIP("192.168.1.10")),
		DstIP:   socket.ToIPV4(net.ParseIP("192.168.1.20")),
		SrcPort: socket.Port(srcPort),
		DstPort: socket.Port(dstPort),
	}
}

func TestTranscript_PlainRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	transcript := emit.NewTranscript(&buf, false)
	table := flow.NewTable(transcript, flow.Config{})
	defer table.Close()

	now := time.Now()
	tp := tuple(51000, 80)
	table.Ingest(&socket.TCPSegment{
		Tuple:   tp,
		Time:    now,
		Payload: []byte("GET /hi HTTP/1.1\r\nHost: example.com\r\n\r\n"),
	})
	table.Ingest(&socket.TCPSegment{
		Tuple:   tp.Mirror(),
		Time:    now.Add(time.Millisecond),
		Payload: []byte("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 13\r\n\r\n{\"ok\":true}\r\n"),
	})

	out := buf.String()
	assert.Contains(t, out, "▶ REQUEST: GET /hi")
	assert.Contains(t, out, "200 OK")
	assert.Contains(t, out, "[Response Body]")
	assert.Contains(t, out, "\"ok\": true")
	assert.Contains(t, out, "======================================================================")
}

func TestTranscript_SSEEventsStreamIncrementallyThenClose(t *testing.T) {
	var buf bytes.Buffer
	transcript := emit.NewTranscript(&buf, false)
	table := flow.NewTable(transcript, flow.Config{})

	now := time.Now()
	tp := tuple(51001, 80)
	table.Ingest(&socket.TCPSegment{
		Tuple: tp,
		Time:  now,
		Payload: []byte("GET /events HTTP/1.1\r\nHost: example.com\r\n\r\n" +
			"HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\n\r\n"),
	})
	table.Ingest(&socket.TCPSegment{
		Tuple:   tp.Mirror(),
		Time:    now.Add(time.Millisecond),
		Payload: []byte(": ping\n\ndata: {\"seq\":1}\n\n"),
	})

	out := buf.String()
	assert.Contains(t, out, "(SSE Stream Events)")
	assert.Contains(t, out, ": ping")
	assert.Contains(t, out, "[Event]")
	assert.Contains(t, out, "\"seq\": 1")
	assert.NotContains(t, out, "======", "connection still open, no delimiter yet")

	table.Close()
	closed := buf.String()
	require.Contains(t, closed, "[stream closed]")
	assert.Contains(t, closed, "======================================================================")
}
