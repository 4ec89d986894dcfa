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
	"bytes"
	"context"
	"os/exec"
	"sync"
	"time"
)

// maxChunkSize bounds a single output event's payload.
const maxChunkSize = 8 * 1024

// streamCapture copies one pipe into a bounded buffer. Bytes beyond the cap
// are counted but discarded, and the stream is flagged truncated.
type streamCapture struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	cap       int64
	produced  int64
	truncated bool
}

func newStreamCapture(capBytes int64) *streamCapture {
	return &streamCapture{cap: capBytes}
}

// store keeps the in-cap prefix of p and returns it; the remainder is only
// counted.
func (s *streamCapture) store(p []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.produced += int64(len(p))
	room := s.cap - int64(s.buf.Len())
	if room <= 0 {
		s.truncated = true
		return nil
	}
	kept := p
	if int64(len(p)) > room {
		kept = p[:room]
		s.truncated = true
	}
	s.buf.Write(kept)
	return kept
}

func (s *streamCapture) stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamStats{Bytes: int64(s.buf.Len()), Truncated: s.truncated}
}

func (s *streamCapture) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	return out
}

// subscriber is one live event listener.
type subscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// execution is the mutable runtime record behind a Snapshot.
type execution struct {
	id        string
	sessionID string
	tool      string
	argv      []string
	mode      Mode
	deadline  time.Duration

	mu          sync.Mutex
	status      Status
	startedAt   time.Time
	endedAt     time.Time
	returnCode  int
	errorKind   ErrorKind
	errorMsg    string
	resources   ResourceStats
	summary     map[string]any
	parseError  string
	subscribers []*subscriber

	stdout *streamCapture
	stderr *streamCapture

	cmd *exec.Cmd

	// queueCancel dequeues the execution while it is still waiting for a
	// slot.
	queueCancel context.CancelFunc

	// cancelRequested marks an in-flight cancel so the wait loop classifies
	// the exit as cancelled rather than failed.
	cancelRequested bool
	deadlineHit     bool

	// removed marks a record destroyed by session deletion; a late terminal
	// transition must not resurrect its artifacts.
	removed bool
}

// setStatus transitions the state machine. Terminal states are write-once:
// a transition away from a terminal state is ignored.
func (e *execution) setStatus(next Status) bool {
	e.mu.Lock()
	if e.status.Terminal() {
		e.mu.Unlock()
		return false
	}
	e.status = next
	if next == StatusRunning && e.startedAt.IsZero() {
		e.startedAt = time.Now()
	}
	if next.Terminal() {
		e.endedAt = time.Now()
	}
	e.mu.Unlock()

	e.broadcast(Event{Type: EventStatusChange, Status: next})
	return true
}

func (e *execution) currentStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// subscribe attaches a listener. The already-captured output prefix is
// replayed first so a subscriber that attaches after a fast child still
// sees every stored byte; subscribing to a terminal execution additionally
// yields the final complete event and a closed channel.
func (e *execution) subscribe() (<-chan Event, func()) {
	e.mu.Lock()

	replay := chunkEvents(StreamStdout, e.stdout.bytes())
	replay = append(replay, chunkEvents(StreamStderr, e.stderr.bytes())...)

	sub := &subscriber{
		ch:   make(chan Event, len(replay)+64),
		done: make(chan struct{}),
	}
	for _, ev := range replay {
		sub.ch <- ev
	}

	if e.status.Terminal() {
		final := Event{
			Type:       EventComplete,
			Status:     e.status,
			ReturnCode: e.returnCode,
			Error:      e.errorMsg,
		}
		e.mu.Unlock()
		sub.ch <- final
		close(sub.ch)
		return sub.ch, sub.close
	}
	e.subscribers = append(e.subscribers, sub)
	e.mu.Unlock()

	return sub.ch, sub.close
}

func chunkEvents(name StreamName, data []byte) []Event {
	var events []Event
	for len(data) > 0 {
		n := len(data)
		if n > maxChunkSize {
			n = maxChunkSize
		}
		events = append(events, Event{Type: EventOutput, Stream: name, Chunk: data[:n]})
		data = data[n:]
	}
	return events
}

// emitOutput stores a chunk in the bounded capture and delivers the kept
// prefix to every live subscriber. Store and subscriber-list read happen
// under the execution lock so a concurrent subscribe never misses or
// duplicates a chunk.
func (e *execution) emitOutput(name StreamName, capture *streamCapture, p []byte) {
	e.mu.Lock()
	kept := capture.store(p)
	var chunk []byte
	var subs []*subscriber
	if len(kept) > 0 {
		chunk = make([]byte, len(kept))
		copy(chunk, kept)
		subs = append([]*subscriber(nil), e.subscribers...)
	}
	e.mu.Unlock()

	if chunk == nil {
		return
	}
	event := Event{Type: EventOutput, Stream: name, Chunk: chunk}
	for _, sub := range subs {
		deliver(sub, event)
	}
}

// broadcast delivers a status event to every live subscriber. A cancelled
// subscriber is skipped.
func (e *execution) broadcast(event Event) {
	e.mu.Lock()
	subs := append([]*subscriber(nil), e.subscribers...)
	e.mu.Unlock()

	for _, sub := range subs {
		deliver(sub, event)
	}
}

func deliver(sub *subscriber, event Event) {
	select {
	case <-sub.done:
	case sub.ch <- event:
	}
}

// finish emits the complete event and closes every subscription. It runs at
// most once, guarded by the terminal transition in setStatus.
func (e *execution) finish() {
	e.mu.Lock()
	final := Event{
		Type:       EventComplete,
		Status:     e.status,
		ReturnCode: e.returnCode,
		Error:      e.errorMsg,
	}
	subs := e.subscribers
	e.subscribers = nil
	e.mu.Unlock()

	for _, sub := range subs {
		deliver(sub, final)
		close(sub.ch)
	}
}

func (e *execution) snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{
		ID:         e.id,
		SessionID:  e.sessionID,
		Tool:       e.tool,
		Argv:       append([]string(nil), e.argv...),
		Mode:       e.mode,
		Status:     e.status,
		StartedAt:  e.startedAt,
		EndedAt:    e.endedAt,
		ReturnCode: e.returnCode,
		Stdout:     e.stdout.stats(),
		Stderr:     e.stderr.stats(),
		Resources:  e.resources,
		ErrorKind:  e.errorKind,
		ErrorMsg:   e.errorMsg,
		Summary:    e.summary,
		ParseError: e.parseError,
	}
}
