// Copyright 2026 The Praetor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RegisterBuiltinParsers installs the stock stdout parsers.
func RegisterBuiltinParsers(e *Executor) {
	_ = e.RegisterParser("nmap", ParseNmap)
}

var nmapPortRe = regexp.MustCompile(`(?m)^(\d+)/(tcp|udp)\s+(\w+)\s+(\S+)`)

// ParseNmap extracts open ports and host status from normal nmap output.
func ParseNmap(stdout []byte) (map[string]any, error) {
	text := string(stdout)
	if !strings.Contains(text, "Nmap") {
		return nil, fmt.Errorf("not nmap output")
	}

	hostStatus := "unknown"
	if strings.Contains(text, "Host is up") {
		hostStatus = "up"
	} else if strings.Contains(text, "Host seems down") || strings.Contains(text, "0 hosts up") {
		hostStatus = "down"
	}

	var openPorts []map[string]any
	for _, m := range nmapPortRe.FindAllStringSubmatch(text, -1) {
		if m[3] != "open" {
			continue
		}
		port, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		openPorts = append(openPorts, map[string]any{
			"port":     port,
			"protocol": m[2],
			"service":  m[4],
		})
	}

	return map[string]any{
		"host_status": hostStatus,
		"open_ports":  openPorts,
	}, nil
}
