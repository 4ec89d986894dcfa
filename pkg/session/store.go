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

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praetor-ai/praetor/pkg/catalog"
	"github.com/praetor-ai/praetor/pkg/config"
)

var ErrSessionNotFound = errors.New("session not found")

// state is the in-memory view of one session. Writers are serialised by the
// store's per-session append path; readers copy under the lock.
type state struct {
	mu   sync.Mutex
	info Info

	// conversation holds every interaction (capped); commands holds the
	// subset that carried a command (capped independently).
	conversation []Interaction
	commands     []Interaction

	shard *shard
}

// Store owns all live sessions.
type Store struct {
	cfg   config.SessionConfig
	paths config.PathsConfig

	mu       sync.RWMutex
	sessions map[string]*state

	// onExpire runs outside the store lock when the reaper evicts a
	// session; the orchestrator uses it to cancel executions and drop
	// artifacts.
	onExpire func(sessionID string)
}

func NewStore(cfg config.SessionConfig, paths config.PathsConfig) (*Store, error) {
	s := &Store{
		cfg:      cfg,
		paths:    paths,
		sessions: make(map[string]*state),
	}
	if err := s.replayAll(); err != nil {
		return nil, err
	}
	return s, nil
}

// OnExpire installs the eviction callback used by the TTL reaper.
func (s *Store) OnExpire(fn func(sessionID string)) {
	s.onExpire = fn
}

// Create makes a new session and its persistence shard.
func (s *Store) Create(role catalog.Role, mode Mode) (Info, error) {
	info := Info{
		ID:           uuid.New().String(),
		Role:         role,
		Mode:         mode,
		CreatedAt:    time.Now().UTC(),
		LastActivity: time.Now().UTC(),
	}

	sh, err := openShard(s.paths.SessionLogPath(info.ID))
	if err != nil {
		return Info{}, fmt.Errorf("failed to open session shard: %w", err)
	}
	if err := sh.writeHeader(info); err != nil {
		sh.close()
		return Info{}, fmt.Errorf("failed to write session header: %w", err)
	}

	s.mu.Lock()
	s.sessions[info.ID] = &state{info: info, shard: sh}
	s.mu.Unlock()

	slog.Info("Session created", "session_id", info.ID, "role", info.Role, "mode", info.Mode)
	return info, nil
}

// Get returns the session's identity snapshot.
func (s *Store) Get(id string) (Info, error) {
	st, err := s.get(id)
	if err != nil {
		return Info{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.info, nil
}

// Touch refreshes the idle clock.
func (s *Store) Touch(id string) {
	st, err := s.get(id)
	if err != nil {
		return
	}
	st.mu.Lock()
	st.info.LastActivity = time.Now().UTC()
	st.mu.Unlock()
}

// Append atomically appends an interaction, evicting the oldest entries
// beyond the per-kind caps, and writes it through to the shard. Prior
// interactions are never rewritten.
func (s *Store) Append(id string, in Interaction) error {
	st, err := s.get(id)
	if err != nil {
		return err
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.conversation = appendCapped(st.conversation, in, s.cfg.ConvCap)
	if in.Command != "" {
		st.commands = appendCapped(st.commands, in, s.cfg.CmdCap)
	}
	st.info.LastActivity = time.Now().UTC()

	if err := st.shard.writeInteraction(in); err != nil {
		return fmt.Errorf("failed to persist interaction: %w", err)
	}
	return nil
}

func appendCapped(entries []Interaction, in Interaction, limit int) []Interaction {
	entries = append(entries, in)
	if limit > 0 && len(entries) > limit {
		// oldest-first eviction
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// History returns interactions newest-first, optionally limited.
func (s *Store) History(id string, kind HistoryKind, limit int) ([]Interaction, error) {
	st, err := s.get(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	src := st.conversation
	if kind == KindCommands {
		src = st.commands
	}
	snapshot := append([]Interaction(nil), src...)
	st.mu.Unlock()

	// newest first
	out := make([]Interaction, 0, len(snapshot))
	for i := len(snapshot) - 1; i >= 0; i-- {
		out = append(out, snapshot[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// RecentTools lists the most recently used tool names, newest first,
// deduplicated.
func (s *Store) RecentTools(id string, limit int) []string {
	history, err := s.History(id, KindCommands, 0)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, in := range history {
		if in.Tool == "" || seen[in.Tool] {
			continue
		}
		seen[in.Tool] = true
		out = append(out, in.Tool)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Status derives the status snapshot.
func (s *Store) Status(id string) (Status, error) {
	st, err := s.get(id)
	if err != nil {
		return Status{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	tools := make(map[string]bool)
	for _, in := range st.commands {
		if in.Tool != "" {
			tools[in.Tool] = true
		}
	}
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	return Status{
		SessionID:    st.info.ID,
		CommandCount: len(st.commands),
		ToolsUsed:    names,
		Duration:     time.Since(st.info.CreatedAt).Round(time.Second).String(),
		LastActivity: st.info.LastActivity,
	}, nil
}

// Analytics recomputes the derived metrics from the live entries.
func (s *Store) Analytics(id string) (Analytics, error) {
	st, err := s.get(id)
	if err != nil {
		return Analytics{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	a := Analytics{
		SessionID:  st.info.ID,
		ToolCounts: make(map[string]int),
	}

	var successes, withCommand int
	var totalDuration int64
	for _, in := range st.conversation {
		a.PerHour[in.Timestamp.Hour()]++
	}
	for _, in := range st.commands {
		withCommand++
		if in.Tool != "" {
			a.ToolCounts[in.Tool]++
		}
		if in.Success {
			successes++
		}
		totalDuration += in.DurationMS
	}
	if withCommand > 0 {
		a.SuccessRate = float64(successes) / float64(withCommand)
		a.AvgDurationMS = float64(totalDuration) / float64(withCommand)
	}
	return a, nil
}

// Delete removes the session, its shard and its artifact directory.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	st, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	st.mu.Lock()
	st.shard.close()
	st.mu.Unlock()

	if err := os.Remove(s.paths.SessionLogPath(id)); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove session shard", "session_id", id, "error", err)
	}
	if err := os.RemoveAll(s.paths.OutputDir(id)); err != nil {
		slog.Warn("Failed to remove session artifacts", "session_id", id, "error", err)
	}
	slog.Info("Session deleted", "session_id", id)
	return nil
}

// List returns every live session id.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) get(id string) (*state, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return st, nil
}

// RunReaper evicts idle sessions past their TTL until ctx is cancelled.
func (s *Store) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	ttl := s.cfg.TTL()
	cutoff := time.Now().UTC().Add(-ttl)

	s.mu.RLock()
	var expired []string
	for id, st := range s.sessions {
		st.mu.Lock()
		idle := st.info.LastActivity.Before(cutoff)
		st.mu.Unlock()
		if idle {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		slog.Info("Session expired", "session_id", id, "ttl", ttl)
		if s.onExpire != nil {
			s.onExpire(id)
		}
		_ = s.Delete(id)
	}
}

// Close flushes and closes every shard.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.sessions {
		st.mu.Lock()
		st.shard.close()
		st.mu.Unlock()
	}
}
