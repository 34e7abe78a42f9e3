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

// Package json 对 goccy/go-json 做了一层薄封装
//
// 与 encoding/json 的行为保持一致 但解析/编码性能更高 供 transcript 美化打印
// 以及 RoundTrip 的结构化导出复用
package json

import (
	gojson "github.com/goccy/go-json"
)

var (
	Marshal       = gojson.Marshal
	MarshalIndent = gojson.MarshalIndent
	Unmarshal     = gojson.Unmarshal
	Valid         = gojson.Valid
)

type RawMessage = gojson.RawMessage
