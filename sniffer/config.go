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
	"strconv"
	"strings"
)

type Config struct {
	// File 指定是否从文件中加载网络包 与监听网卡选项互斥
	File string `config:"file"`

	// Ifaces 指定监听的网卡 与 tcpdump 的 -i 参数一致
	Ifaces string `config:"ifaces"`

	// Engine 指定监听引擎 目前仅支持 pcap
	Engine string `config:"engine"`

	// IPVersion 指定监听 ipv4/ipv6 可选值为
	// - v4
	// - v6
	// 空值或其他非法值均代表同时监听两者
	IPVersion string `config:"ipVersion"`

	// Ports 声明需要捕获并重组的 HTTP 端口列表 为空代表不限制端口
	Ports []uint16 `config:"ports"`

	// Host 声明可选的 BPF host 过滤条件
	Host string `config:"host"`

	// NoPromisc 是否关闭 promiscuous 模式
	NoPromisc bool `config:"noPromisc"`

	// BlockNum 缓冲区 block 数量
	// 当前的 pcap 引擎不读取该字段 设置后不影响抓包缓冲区大小 也不做合法性校验
	BlockNum int `config:"blockNum"`
}

type IPVPicker string

func (ipv IPVPicker) IPV4() bool {
	if ipv == "" || ipv == "v4" {
		return true
	}
	return false
}

func (ipv IPVPicker) IPV6() bool {
	if ipv == "" || ipv == "v6" {
		return true
	}
	return false
}

// CompileBPFFilter 编译 BPF 过滤规则 仅捕获 tcp 报文
//
// 若声明了 Host/Ports 则进一步缩小抓包范围 减少无关流量占用的重组资源
func (c Config) CompileBPFFilter() string {
	var buf strings.Builder
	buf.WriteString("tcp")

	if c.Host != "" {
		buf.WriteString(" and host ")
		buf.WriteString(c.Host)
	}

	switch len(c.Ports) {
	case 0:
		return buf.String()

	case 1:
		buf.WriteString(" and port ")
		buf.WriteString(strconv.Itoa(int(c.Ports[0])))

	default:
		buf.WriteString(" and (")
		for i := 0; i < len(c.Ports); i++ {
			if i > 0 {
				buf.WriteString(" or port ")
			} else {
				buf.WriteString(" port ")
			}
			buf.WriteString(strconv.Itoa(int(c.Ports[i])))
		}
		buf.WriteString(")")
	}

	return buf.String()
}
