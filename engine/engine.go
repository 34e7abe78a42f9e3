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

// Package engine 把 sniffer 抓取到的原始报文 经由 flow 重组为 HTTP 事务
// 再交给 emit 渲染 并对外暴露 Prometheus 指标
package engine

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcptap/mcptap/common"
	"github.com/mcptap/mcptap/common/socket"
	"github.com/mcptap/mcptap/confengine"
	"github.com/mcptap/mcptap/emit"
	"github.com/mcptap/mcptap/flow"
	"github.com/mcptap/mcptap/internal/fasttime"
	"github.com/mcptap/mcptap/internal/rescue"
	"github.com/mcptap/mcptap/internal/sigs"
	"github.com/mcptap/mcptap/logger"
	"github.com/mcptap/mcptap/server"
	"github.com/mcptap/mcptap/sniffer"
)

// Engine 串联 sniffer -> flow.Table -> emit.Emitter 这一条完整的处理链路
type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg       Config
	buildInfo common.BuildInfo

	snif  sniffer.Sniffer
	table *flow.Table
	svr   *server.Server
}

func setupLogger(conf *confengine.Config) error {
	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}

	if opts.Filename == "" {
		opts.Filename = common.App + ".log"
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}

	logger.SetOptions(opts)
	return nil
}

// New 根据配置构建一个 Engine 实例 但不会启动抓包
func New(conf *confengine.Config, buildInfo common.BuildInfo) (*Engine, error) {
	if err := setupLogger(conf); err != nil {
		return nil, err
	}

	snif, err := sniffer.New(conf)
	if err != nil {
		return nil, err
	}

	svr, err := server.New(conf)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := conf.UnpackChild("engine", &cfg); err != nil {
		return nil, err
	}

	transcript := emit.NewTranscript(os.Stdout, cfg.Colorized)
	table := flow.NewTable(metricsEmitter{next: transcript}, flow.Config{
		IdleTimeout: cfg.IdleTimeout,
		GCInterval:  cfg.GCInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		buildInfo: buildInfo,
		snif:      snif,
		table:     table,
		svr:       svr,
	}, nil
}

// Start 启动抓包与管理端服务 非阻塞
func (e *Engine) Start() error {
	e.setupServer()

	if e.svr != nil {
		go func() {
			defer rescue.HandleCrash()
			err := e.svr.ListenAndServe()
			if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("failed to start server: %v", err)
			}
		}()
	}

	e.snif.SetOnL4Packet(func(pkt socket.L4Packet) {
		defer rescue.HandleCrash()
		snifferReceivedPackets.Inc()
		e.table.Ingest(pkt)
	})
	return nil
}

func (e *Engine) setupServer() {
	if e.svr == nil {
		return
	}

	e.svr.RegisterGetRoute("/metrics", func(w http.ResponseWriter, r *http.Request) {
		e.recordMetrics()
		promhttp.Handler().ServeHTTP(w, r)
	})
	e.svr.RegisterPostRoute("/-/logger", func(w http.ResponseWriter, r *http.Request) {
		logger.SetLoggerLevel(r.FormValue("level"))
		_, _ = w.Write([]byte(`{"status":"success"}`))
	})
	e.svr.RegisterPostRoute("/-/reload", func(w http.ResponseWriter, r *http.Request) {
		if err := sigs.SelfReload(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(err.Error()))
		}
	})
}

func (e *Engine) recordMetrics() {
	uptime.Set(float64(fasttime.UnixTimestamp() - common.Started()))
	buildInfoGauge.WithLabelValues(e.buildInfo.Version, e.buildInfo.GitHash, e.buildInfo.Time).Inc()
	activeStreams.Set(float64(e.table.Count()))
}

// Reload 重新编译抓包过滤规则
func (e *Engine) Reload(conf *confengine.Config) error {
	var cfg sniffer.Config
	if err := conf.UnpackChild("sniffer", &cfg); err != nil {
		return err
	}
	return e.snif.Reload(&cfg)
}

// Stop 停止抓包 flush 所有进行中的流 并关闭管理端服务
func (e *Engine) Stop() {
	e.snif.Close()
	e.table.Close()
	if e.svr != nil {
		_ = e.svr.Close()
	}
	e.cancel()
}
