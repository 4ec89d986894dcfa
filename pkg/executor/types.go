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

// Package executor runs argv commands under resource and deadline budgets,
// streams their output to subscribers, and persists per-execution artifacts.
package executor

import (
	"time"
)

// Status is the execution state machine's state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedout  Status = "timedout"
)

// Terminal reports whether the status is final. Terminal statuses are
// write-once.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedout:
		return true
	}
	return false
}

// ErrorKind classifies why an execution failed.
type ErrorKind string

const (
	KindSpawnError       ErrorKind = "SpawnError"
	KindResourceExceeded ErrorKind = "ResourceExceeded"
	KindTimeout          ErrorKind = "Timeout"
	KindNonZeroExit      ErrorKind = "NonZeroExit"
)

// Mode selects how the process relates to the service lifecycle. All modes
// run in their own process group; the mode is recorded in the artifact
// metadata.
type Mode string

const (
	ModeBackground Mode = "background"
	ModePersistent Mode = "persistent"
	ModeSeparate   Mode = "separate"
)

// EventType discriminates stream events.
type EventType string

const (
	EventOutput       EventType = "output"
	EventStatusChange EventType = "status_change"
	EventComplete     EventType = "complete"
)

// StreamName identifies which pipe a chunk came from.
type StreamName string

const (
	StreamStdout StreamName = "out"
	StreamStderr StreamName = "err"
)

// Event is one frame of an execution's event stream. Chunks are at most
// maxChunkSize bytes and delivered in production order per stream.
type Event struct {
	Type       EventType  `json:"type"`
	Stream     StreamName `json:"stream,omitempty"`
	Chunk      []byte     `json:"chunk,omitempty"`
	Status     Status     `json:"status,omitempty"`
	ReturnCode int        `json:"return_code,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Request is the spawn contract.
type Request struct {
	SessionID string
	Tool      string
	Argv      []string
	Mode      Mode

	// Deadline nil means the configured default; an explicit zero is an
	// immediate timeout with no spawn side effects.
	Deadline *time.Duration
}

// ResourceStats is the post-mortem resource usage of the child.
type ResourceStats struct {
	UserTime   time.Duration `json:"user_time"`
	SystemTime time.Duration `json:"system_time"`
	MaxRSSKiB  int64         `json:"max_rss_kib"`
}

// StreamStats accounts one captured stream.
type StreamStats struct {
	Bytes     int64 `json:"bytes"`
	Truncated bool  `json:"truncated"`
}

// Snapshot is a consistent point-in-time view of an execution.
type Snapshot struct {
	ID         string         `json:"execution_id"`
	SessionID  string         `json:"session_id"`
	Tool       string         `json:"tool,omitempty"`
	Argv       []string       `json:"argv"`
	Mode       Mode           `json:"mode"`
	Status     Status         `json:"status"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	EndedAt    time.Time      `json:"ended_at,omitempty"`
	ReturnCode int            `json:"return_code"`
	Stdout     StreamStats    `json:"stdout"`
	Stderr     StreamStats    `json:"stderr"`
	Resources  ResourceStats  `json:"resources"`
	ErrorKind  ErrorKind      `json:"error_kind,omitempty"`
	ErrorMsg   string         `json:"error,omitempty"`
	Summary    map[string]any `json:"summary,omitempty"`
	ParseError string         `json:"parse_error,omitempty"`
}
