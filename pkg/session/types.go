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

// Package session keeps per-session append-only interaction logs, derives
// histories and analytics, and persists each session as a JSON-lines shard
// that survives restart.
package session

import (
	"fmt"
	"time"

	"github.com/praetor-ai/praetor/pkg/catalog"
	"github.com/praetor-ai/praetor/pkg/risk"
)

// Mode governs whether composed commands execute automatically.
type Mode string

const (
	ModeQuick       Mode = "quick"
	ModeInteractive Mode = "interactive"
	ModeSuggester   Mode = "suggester"
)

// ParseMode validates a client-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeQuick, ModeInteractive, ModeSuggester:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// HistoryKind selects which view History returns.
type HistoryKind string

const (
	KindConversation HistoryKind = "conversation"
	KindCommands     HistoryKind = "commands"
)

// Interaction is one immutable record of a user request and its outcome.
type Interaction struct {
	Timestamp   time.Time     `json:"timestamp"`
	Input       string        `json:"input"`
	Intent      string        `json:"intent"`
	Command     string        `json:"command,omitempty"`
	Tool        string        `json:"tool,omitempty"`
	Risk        *risk.Verdict `json:"risk,omitempty"`
	ExecutionID string        `json:"execution_id,omitempty"`
	Success     bool          `json:"success"`
	DurationMS  int64         `json:"duration_ms"`
	OutputBytes int64         `json:"output_bytes"`
}

// Info is the immutable identity of a session.
type Info struct {
	ID           string       `json:"session_id"`
	Role         catalog.Role `json:"role"`
	Mode         Mode         `json:"mode"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActivity time.Time    `json:"last_activity"`
}

// Status is the snapshot served by the status endpoint.
type Status struct {
	SessionID    string    `json:"session_id"`
	CommandCount int       `json:"command_count"`
	ToolsUsed    []string  `json:"tools_used"`
	Duration     string    `json:"duration"`
	LastActivity time.Time `json:"last_activity"`
}

// Analytics is recomputed on demand from the live entries.
type Analytics struct {
	SessionID     string         `json:"session_id"`
	ToolCounts    map[string]int `json:"tool_counts"`
	SuccessRate   float64        `json:"success_rate"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	PerHour       [24]int        `json:"per_hour"`
}
