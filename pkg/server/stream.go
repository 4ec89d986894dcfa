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

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/praetor-ai/praetor/pkg/executor"
)

// streamFrame is one frame of the streaming surfaces. Output chunks travel
// as text; status and complete frames carry the state machine.
type streamFrame struct {
	Type        string `json:"type"` // output, status, complete, error
	ExecutionID string `json:"execution_id,omitempty"`
	Stream      string `json:"stream,omitempty"`
	Data        string `json:"data,omitempty"`
	Status      string `json:"status,omitempty"`
	ReturnCode  int    `json:"return_code,omitempty"`
	Error       string `json:"error,omitempty"`
}

func frameFor(executionID string, ev executor.Event) streamFrame {
	switch ev.Type {
	case executor.EventOutput:
		return streamFrame{
			Type:        "output",
			ExecutionID: executionID,
			Stream:      string(ev.Stream),
			Data:        string(ev.Chunk),
		}
	case executor.EventStatusChange:
		return streamFrame{
			Type:        "status",
			ExecutionID: executionID,
			Status:      string(ev.Status),
		}
	default:
		return streamFrame{
			Type:        "complete",
			ExecutionID: executionID,
			Status:      string(ev.Status),
			ReturnCode:  ev.ReturnCode,
			Error:       ev.Error,
		}
	}
}

// handleExecutionEvents streams one execution's events as server-sent
// events. The stream ends after the complete frame.
func (s *Server) handleExecutionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	events, cancel, err := s.executor.Subscribe(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "ExecutionNotFound", err.Error())
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "StreamingUnsupported", "response writer cannot flush")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(frameFor(id, ev))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type subscribeRequest struct {
	Subscribe struct {
		ExecutionID string `json:"execution_id"`
		SessionID   string `json:"session_id"`
	} `json:"subscribe"`
}

// handleStream upgrades to a websocket and streams frames for either a
// single execution or every current execution of a session, as selected by
// the client's first message.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var req subscribeRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = writeFrame(conn, streamFrame{Type: "error", Error: "expected a subscribe message"})
		return
	}

	switch {
	case req.Subscribe.ExecutionID != "":
		s.streamExecutions(conn, []string{req.Subscribe.ExecutionID})
	case req.Subscribe.SessionID != "":
		var ids []string
		for _, snap := range s.executor.SessionExecutions(req.Subscribe.SessionID) {
			ids = append(ids, snap.ID)
		}
		if len(ids) == 0 {
			_ = writeFrame(conn, streamFrame{Type: "error", Error: "session has no executions"})
			return
		}
		s.streamExecutions(conn, ids)
	default:
		_ = writeFrame(conn, streamFrame{Type: "error", Error: "subscribe needs execution_id or session_id"})
	}
}

// streamExecutions merges the event streams of the given executions onto
// the websocket and closes once all of them complete.
func (s *Server) streamExecutions(conn *websocket.Conn, ids []string) {
	frames := make(chan streamFrame, 64)
	done := make(chan struct{})
	defer close(done)
	var wg sync.WaitGroup

	for _, id := range ids {
		events, cancel, err := s.executor.Subscribe(id)
		if err != nil {
			_ = writeFrame(conn, streamFrame{Type: "error", ExecutionID: id, Error: err.Error()})
			continue
		}
		wg.Add(1)
		go func(id string, events <-chan executor.Event, cancel func()) {
			defer wg.Done()
			defer cancel()
			for ev := range events {
				select {
				case frames <- frameFor(id, ev):
				case <-done:
					return
				}
			}
		}(id, events, cancel)
	}

	go func() {
		wg.Wait()
		close(frames)
	}()

	for frame := range frames {
		if err := writeFrame(conn, frame); err != nil {
			// reader goroutines drain via the subscriber buffers; dropping
			// the connection is enough
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

func writeFrame(conn *websocket.Conn, frame streamFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(frame)
}
