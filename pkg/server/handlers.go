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
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/praetor-ai/praetor/pkg/catalog"
	"github.com/praetor-ai/praetor/pkg/executor"
	"github.com/praetor-ai/praetor/pkg/session"
)

type createSessionRequest struct {
	Role string `json:"role"`
	Mode string `json:"mode"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InputError", "malformed request body")
		return
	}

	role, err := catalog.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InputError", err.Error())
		return
	}
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InputError", err.Error())
		return
	}

	info, err := s.sessions.Create(role, mode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SessionError", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sessions.Status(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "SessionNotFound", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	kind := session.KindConversation
	if r.URL.Query().Get("kind") == string(session.KindCommands) {
		kind = session.KindCommands
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "InputError", "invalid limit")
			return
		}
		limit = n
	}

	history, err := s.sessions.History(chi.URLParam(r, "sessionID"), kind, limit)
	if err != nil {
		writeError(w, http.StatusNotFound, "SessionNotFound", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":         kind,
		"interactions": history,
	})
}

func (s *Server) handleSessionAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := s.sessions.Analytics(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "SessionNotFound", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s.executor.RemoveSession(id)
	if err := s.sessions.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, "SessionNotFound", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

type processRequest struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
}

func (s *Server) handleProcessRequest(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InputError", "malformed request body")
		return
	}

	resp, err := s.brain.ProcessRequest(r.Context(), req.SessionID, req.Input)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "SessionNotFound", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	writeJSON(w, statusForResponse(resp), resp)
}

type executeRequest struct {
	SessionID     string   `json:"session_id"`
	Argv          []string `json:"argv"`
	AutoConfirm   bool     `json:"auto_confirm"`
	ExecutionMode string   `json:"execution_mode"`
}

func (s *Server) handleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InputError", "malformed request body")
		return
	}

	mode := executor.ModeBackground
	switch executor.Mode(req.ExecutionMode) {
	case "":
	case executor.ModeBackground, executor.ModePersistent, executor.ModeSeparate:
		mode = executor.Mode(req.ExecutionMode)
	default:
		writeError(w, http.StatusBadRequest, "InputError", "unknown execution_mode")
		return
	}

	resp, err := s.brain.ExecuteCommand(r.Context(), req.SessionID, req.Argv, req.AutoConfirm, mode)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "SessionNotFound", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "InternalError", err.Error())
		return
	}
	writeJSON(w, statusForResponse(resp), resp)
}

func (s *Server) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.executor.Status(chi.URLParam(r, "executionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "ExecutionNotFound", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	if err := s.executor.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, "ExecutionNotFound", err.Error())
		return
	}
	snap, err := s.executor.Status(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "ExecutionNotFound", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
