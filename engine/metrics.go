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

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mcptap/mcptap/common"
	"github.com/mcptap/mcptap/flow"
	"github.com/mcptap/mcptap/internal/fasttime"
)

var (
	uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "uptime",
			Help:      "Uptime in seconds",
		},
	)

	buildInfoGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "git_hash", "build_time"},
	)

	snifferReceivedPackets = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "sniffer_received_packets_total",
			Help:      "Sniffer received TCP segments total",
		},
	)

	activeStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "active_streams",
			Help:      "Number of TCP streams currently tracked",
		},
	)

	handledTransactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "handled_transactions_total",
			Help:      "Handled HTTP transactions total",
		},
	)

	truncatedTransactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "truncated_transactions_total",
			Help:      "HTTP transactions flushed before naturally completing",
		},
	)

	sseEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "sse_events_total",
			Help:      "Server-Sent Events observed total",
		},
	)
)

// metricsEmitter 包装一个 flow.Emitter 在转发之前先更新 Prometheus 指标
type metricsEmitter struct {
	next flow.Emitter
}

func (m metricsEmitter) OnComplete(tx *flow.Transaction) {
	handledTransactions.Inc()
	if tx.Truncated {
		truncatedTransactions.Inc()
	}
	m.next.OnComplete(tx)
}

func (m metricsEmitter) OnSSEUpdate(tx *flow.Transaction, event flow.SSEEvent) {
	sseEventsTotal.Inc()
	m.next.OnSSEUpdate(tx, event)
}
