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

package sniffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompileBPFFilter(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "Host and single port",
			cfg:  Config{Host: "example.com", Ports: []uint16{80}},
			want: "tcp and host example.com and port 80",
		},
		{
			name: "Host and multiple ports",
			cfg:  Config{Host: "example.com", Ports: []uint16{80, 8080}},
			want: "tcp and host example.com and ( port 80 or port 8080)",
		},
		{
			name: "No host no ports",
			cfg:  Config{},
			want: "tcp",
		},
		{
			name: "Ports only",
			cfg:  Config{Ports: []uint16{8080}},
			want: "tcp and port 8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.CompileBPFFilter()
			assert.Equal(t, tt.want, got)
		})
	}
}
