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
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// shard is one session's append-only JSON-lines file. Every record is
// flushed synchronously so a crash loses at most the in-flight line.
type shard struct {
	mu   sync.Mutex
	file *os.File
}

// record is one JSONL line. Type is "session" for the header and
// "interaction" for appends.
type record struct {
	Type        string       `json:"type"`
	Session     *Info        `json:"session,omitempty"`
	Interaction *Interaction `json:"interaction,omitempty"`
}

func openShard(path string) (*shard, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &shard{file: f}, nil
}

func (s *shard) writeHeader(info Info) error {
	return s.writeRecord(record{Type: "session", Session: &info})
}

func (s *shard) writeInteraction(in Interaction) error {
	return s.writeRecord(record{Type: "interaction", Interaction: &in})
}

func (s *shard) writeRecord(r record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("shard is closed")
	}
	if _, err := s.file.Write(data); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *shard) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
}

// replayAll restores sessions from the shards on disk. A malformed shard is
// logged and skipped; it never blocks startup.
func (s *Store) replayAll() error {
	entries, err := os.ReadDir(s.paths.Sessions)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read session directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".log")
		if err := s.replayShard(id); err != nil {
			slog.Warn("Skipping unreadable session shard", "session_id", id, "error", err)
		}
	}

	if n := len(s.sessions); n > 0 {
		slog.Info("Sessions restored from disk", "count", n)
	}
	return nil
}

func (s *Store) replayShard(id string) error {
	path := s.paths.SessionLogPath(id)
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	var st *state
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var r record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			// a torn trailing line from a crash is expected; stop here
			slog.Debug("Stopping shard replay at malformed line", "session_id", id)
			break
		}
		switch r.Type {
		case "session":
			if r.Session != nil && st == nil {
				st = &state{info: *r.Session}
			}
		case "interaction":
			if st == nil || r.Interaction == nil {
				continue
			}
			in := *r.Interaction
			st.conversation = appendCapped(st.conversation, in, s.cfg.ConvCap)
			if in.Command != "" {
				st.commands = appendCapped(st.commands, in, s.cfg.CmdCap)
			}
		}
	}
	scanErr := scanner.Err()
	_ = f.Close()

	if st == nil {
		if scanErr != nil {
			return scanErr
		}
		return fmt.Errorf("shard has no session header")
	}

	sh, err := openShard(path)
	if err != nil {
		return err
	}
	st.shard = sh
	s.sessions[st.info.ID] = st
	return nil
}
