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

package engine

import "time"

// Config 控制流重组与展示层的行为
type Config struct {
	// Colorized 是否在终端输出中使用 ANSI 颜色
	Colorized bool `config:"colorized"`

	// IdleTimeout 一条 TCP 流超过该时长没有新字节到达就会被强制 flush 并回收
	IdleTimeout time.Duration `config:"idleTimeout"`

	// GCInterval 扫描空闲流的周期
	GCInterval time.Duration `config:"gcInterval"`
}
