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
	"fmt"

	"github.com/mcptap/mcptap/common/socket"
)

// Key 唯一标识一条双向的 TCP 流
//
// Socket Tuple 本身带有方向性 但同一条链接的请求方向和响应方向在抓包时
// 会产生互为镜像的两个 Tuple 这里将其规范化为同一个 Key 使得两个方向的报文
// 都能落到同一个 StreamBuffer 上 便于按到达顺序重组
type Key struct {
	IPA   socket.IPV
	IPB   socket.IPV
	PortA socket.Port
	PortB socket.Port
}

// NewKey 从 Socket 四元组构造规范化的 Key
func NewKey(t socket.Tuple) Key {
	if tupleLess(t.SrcIP, t.SrcPort, t.DstIP, t.DstPort) {
		return Key{IPA: t.SrcIP, PortA: t.SrcPort, IPB: t.DstIP, PortB: t.DstPort}
	}
	return Key{IPA: t.DstIP, PortA: t.DstPort, IPB: t.SrcIP, PortB: t.SrcPort}
}

func tupleLess(ipA socket.IPV, portA socket.Port, ipB socket.IPV, portB socket.Port) bool {
	if ipA != ipB {
		return ipA.Less(ipB)
	}
	return portA < portB
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d <> %s:%d", k.IPA, k.PortA, k.IPB, k.PortB)
}
