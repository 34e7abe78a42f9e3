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

package cmd

import (
	"bytes"
	"fmt"
	"html/template"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcptap/mcptap/common"
	"github.com/mcptap/mcptap/confengine"
	"github.com/mcptap/mcptap/engine"
	"github.com/mcptap/mcptap/internal/json"
	"github.com/mcptap/mcptap/internal/sigs"
)

type watchCmdConfig struct {
	Color     bool
	File      string
	Ifaces    string
	IPVersion string
	NoPromisc bool
	Ports     []int
	Host      string

	AdminAddr string

	IdleTimeout string
	GCInterval  string
}

func (c *watchCmdConfig) Yaml() []byte {
	text := `
engine:
  colorized: {{ .Color }}
  idleTimeout: {{ .IdleTimeout }}
  gcInterval: {{ .GCInterval }}

logger:
  stdout: true

sniffer:
  ifaces: {{ .Ifaces }}
  file: {{ .File }}
  ipVersion: {{ .IPVersion }}
  noPromisc: {{ .NoPromisc }}
  ports: {{ .Ports | toJSON }}
  host: {{ .Host }}

server:
  enabled: {{ .ServerEnabled }}
  address: {{ .AdminAddr }}
  pprof: false
  timeout: 5s
`

	funcMap := template.FuncMap{
		"toJSON": func(v interface{}) string {
			b, _ := json.Marshal(v)
			return string(b)
		},
	}

	tpl, err := template.New("Config").Funcs(funcMap).Parse(text)
	if err != nil {
		return nil
	}

	var buf bytes.Buffer
	err = tpl.Execute(&buf, map[string]interface{}{
		"Color":         c.Color,
		"File":          c.File,
		"Ifaces":        c.Ifaces,
		"IPVersion":     c.IPVersion,
		"NoPromisc":     c.NoPromisc,
		"Ports":         c.Ports,
		"Host":          c.Host,
		"ServerEnabled": c.AdminAddr != "",
		"AdminAddr":     c.AdminAddr,
		"IdleTimeout":   c.IdleTimeout,
		"GCInterval":    c.GCInterval,
	})
	if err != nil {
		return nil
	}
	return buf.Bytes()
}

var watchConfig watchCmdConfig

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Capture and print HTTP traffic transactions reconstructed from raw packets",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := confengine.LoadContent(watchConfig.Yaml())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}

		eng, err := engine.New(cfg, common.GetBuildInfo())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create engine: %v\n"+
				"Note: This operation may require root privileges (try running with 'sudo')\n", err)
			os.Exit(1)
		}
		if err := eng.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start engine: %v\n", err)
			os.Exit(1)
		}

		<-sigs.Terminate()
		eng.Stop()
	},
	Example: "# mcptap watch --port 80 --port 8080 --ifaces any",
}

func init() {
	watchCmd.Flags().BoolVar(&watchConfig.Color, "color", true, "Colorize transaction output")
	watchCmd.Flags().BoolVar(&watchConfig.NoPromisc, "no-promisc", false, "Don't put the interface into promiscuous mode")
	watchCmd.Flags().StringVar(&watchConfig.File, "pcap-file", "", "Path to pcap file to read from")
	watchCmd.Flags().StringVar(&watchConfig.Ifaces, "ifaces", "any", "Network interfaces to monitor (supports regex), 'any' for all interfaces")
	watchCmd.Flags().IntSliceVar(&watchConfig.Ports, "port", nil, "TCP ports to capture, multiple ports supported")
	watchCmd.Flags().StringVar(&watchConfig.Host, "host", "", "Filter by remote host")
	watchCmd.Flags().StringVar(&watchConfig.IPVersion, "ipv", "", "Filter by IP version [v4|v6]. Defaults to both")
	watchCmd.Flags().StringVar(&watchConfig.AdminAddr, "admin-addr", "", "Address to expose /metrics on, disabled when empty")
	watchCmd.Flags().StringVar(&watchConfig.IdleTimeout, "idle-timeout", "2m", "Idle duration before an inactive stream is force-flushed")
	watchCmd.Flags().StringVar(&watchConfig.GCInterval, "gc-interval", "30s", "Interval between idle stream sweeps")
	rootCmd.AddCommand(watchCmd)
}
