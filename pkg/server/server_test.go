package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetor-ai/praetor/pkg/brain"
	"github.com/praetor-ai/praetor/pkg/catalog"
	"github.com/praetor-ai/praetor/pkg/composer"
	"github.com/praetor-ai/praetor/pkg/config"
	"github.com/praetor-ai/praetor/pkg/executor"
	"github.com/praetor-ai/praetor/pkg/llm"
	"github.com/praetor-ai/praetor/pkg/risk"
	"github.com/praetor-ai/praetor/pkg/session"
)

type stubLLM struct {
	replies map[string]string
}

func (s *stubLLM) Generate(ctx context.Context, template string, bindings map[string]string, opts ...llm.Option) (string, error) {
	reply, ok := s.replies[template]
	if !ok {
		return "", llm.ErrUnavailable
	}
	return reply, nil
}

func fixtureCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	dir := t.TempDir()
	perTool := filepath.Join(dir, "registry.d")
	prompts := filepath.Join(dir, "prompts")
	require.NoError(t, os.MkdirAll(perTool, 0o755))
	require.NoError(t, os.MkdirAll(prompts, 0o755))

	write := func(path, content string) {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write(filepath.Join(dir, "tools.yaml"), `tools:
  - name: greeter
    category: information
    risk_baseline: safe
    keywords: [greet, say, print]
`)
	write(filepath.Join(perTool, "greeter.yaml"), `base_command: echo
parameters:
  - name: message
    kind: positional
`)
	write(filepath.Join(dir, "risk_patterns.yaml"), `patterns:
  - pattern: '^echo\s+secret'
    level: critical
    action: block
    description: forbidden phrase
`)

	store, err := catalog.Load(config.PathsConfig{
		ToolRegistry:      filepath.Join(dir, "tools.yaml"),
		RiskPatterns:      filepath.Join(dir, "risk_patterns.yaml"),
		PerToolRegistries: perTool,
		Prompts:           prompts,
	})
	require.NoError(t, err)
	return store
}

type harness struct {
	ts       *httptest.Server
	sessions *session.Store
	executor *executor.Executor
}

func newTestServer(t *testing.T, stub *stubLLM) *harness {
	t.Helper()
	store := fixtureCatalog(t)

	sessCfg := config.SessionConfig{}
	sessCfg.SetDefaults()
	execCfg := config.ExecutorConfig{CancelGraceS: 1}
	execCfg.SetDefaults()
	paths := config.PathsConfig{
		Outputs:  filepath.Join(t.TempDir(), "outputs"),
		Sessions: filepath.Join(t.TempDir(), "sessions"),
	}

	sessions, err := session.NewStore(sessCfg, paths)
	require.NoError(t, err)
	t.Cleanup(sessions.Close)

	exec := executor.New(execCfg, paths)
	t.Cleanup(exec.Close)

	b := brain.New(store, sessions, stub,
		composer.New(store, stub),
		risk.New(store, stub, catalog.LevelHigh),
		exec, "test")

	srvCfg := config.ServerConfig{}
	srvCfg.SetDefaults()
	s := New(srvCfg, b, sessions, exec, "test")

	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return &harness{ts: ts, sessions: sessions, executor: exec}
}

func (h *harness) postJSON(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func (h *harness) getJSON(t *testing.T, path string, into any) *http.Response {
	t.Helper()
	resp, err := http.Get(h.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp
}

func (h *harness) createSession(t *testing.T, role, mode string) string {
	t.Helper()
	resp, body := h.postJSON(t, "/session", map[string]string{"role": role, "mode": mode})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var info session.Info
	require.NoError(t, json.Unmarshal(body, &info))
	return info.ID
}

func waitForTerminal(t *testing.T, h *harness, executionID string) executor.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := h.executor.Status(executionID)
		require.NoError(t, err)
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %s never reached a terminal state", executionID)
	return executor.Snapshot{}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &stubLLM{})

	var body map[string]string
	resp := h.getJSON(t, "/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestCreateSessionValidation(t *testing.T) {
	h := newTestServer(t, &stubLLM{})

	id := h.createSession(t, "Student", "interactive")
	assert.NotEmpty(t, id)

	resp, _ := h.postJSON(t, "/session", map[string]string{"role": "Wizard", "mode": "interactive"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.postJSON(t, "/session", map[string]string{"role": "Student", "mode": "turbo"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProcessRequestConversation(t *testing.T) {
	h := newTestServer(t, &stubLLM{replies: map[string]string{
		"triage_prompt":  "general_conversation",
		"chatbot_prompt": "Hello from the orchestrator.",
	}})
	id := h.createSession(t, "Student", "interactive")

	resp, body := h.postJSON(t, "/request/process", map[string]string{
		"session_id": id, "input": "hello",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var r brain.Response
	require.NoError(t, json.Unmarshal(body, &r))
	assert.Equal(t, brain.TypeConversation, r.Type)
	assert.Contains(t, r.Text, "Hello")
}

func TestProcessRequestUnknownSession(t *testing.T) {
	h := newTestServer(t, &stubLLM{})

	resp, _ := h.postJSON(t, "/request/process", map[string]string{
		"session_id": "nope", "input": "hello",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecuteCommandLifecycle(t *testing.T) {
	h := newTestServer(t, &stubLLM{replies: map[string]string{
		"risk_prompt": `{"level":"safe","reason":"harmless"}`,
	}})
	id := h.createSession(t, "Student", "interactive")

	resp, body := h.postJSON(t, "/command/execute", map[string]any{
		"session_id": id, "argv": []string{"echo", "hello"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var r brain.Response
	require.NoError(t, json.Unmarshal(body, &r))
	require.NotEmpty(t, r.ExecutionID)

	snap := waitForTerminal(t, h, r.ExecutionID)
	assert.Equal(t, executor.StatusCompleted, snap.Status)

	var got executor.Snapshot
	sresp := h.getJSON(t, "/command/execution/"+r.ExecutionID+"/", &got)
	assert.Equal(t, http.StatusOK, sresp.StatusCode)
	assert.Equal(t, executor.StatusCompleted, got.Status)
	assert.Equal(t, int64(len("hello\n")), got.Stdout.Bytes)
}

func TestExecuteCommandBlocked(t *testing.T) {
	h := newTestServer(t, &stubLLM{replies: map[string]string{
		"risk_prompt": `{"level":"safe","reason":"harmless"}`,
	}})
	id := h.createSession(t, "Student", "interactive")

	resp, body := h.postJSON(t, "/command/execute", map[string]any{
		"session_id": id, "argv": []string{"echo", "secret"}, "auto_confirm": true,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var r brain.Response
	require.NoError(t, json.Unmarshal(body, &r))
	assert.Equal(t, brain.TypeCommand, r.Type)
	assert.Equal(t, brain.CodeRiskBlock, r.Code)
	require.NotNil(t, r.Risk)
	assert.Equal(t, catalog.ActionBlock, r.Risk.Action)
}

func TestCancelUnknownExecution(t *testing.T) {
	h := newTestServer(t, &stubLLM{})

	resp, _ := h.postJSON(t, "/command/execution/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionHistoryAndDelete(t *testing.T) {
	h := newTestServer(t, &stubLLM{replies: map[string]string{
		"triage_prompt":  "general_conversation",
		"chatbot_prompt": "hi",
	}})
	id := h.createSession(t, "Forensic Expert", "interactive")

	_, _ = h.postJSON(t, "/request/process", map[string]string{"session_id": id, "input": "hello"})

	var history struct {
		Interactions []session.Interaction `json:"interactions"`
	}
	resp := h.getJSON(t, "/session/"+id+"/history", &history)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, history.Interactions, 1)
	assert.Equal(t, "hello", history.Interactions[0].Input)

	var analytics session.Analytics
	resp = h.getJSON(t, "/session/"+id+"/analytics", &analytics)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, analytics.SessionID)

	execID, err := h.executor.Submit(executor.Request{SessionID: id, Argv: []string{"echo", "bye"}})
	require.NoError(t, err)
	waitForTerminal(t, h, execID)

	req, err := http.NewRequest(http.MethodDelete, h.ts.URL+"/session/"+id+"/", nil)
	require.NoError(t, err)
	dresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	dresp.Body.Close()
	assert.Equal(t, http.StatusOK, dresp.StatusCode)

	resp = h.getJSON(t, "/session/"+id+"/status", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// deletion destroys the session's execution records too
	resp = h.getJSON(t, "/command/execution/"+execID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecutionEventsSSE(t *testing.T) {
	h := newTestServer(t, &stubLLM{replies: map[string]string{
		"risk_prompt": `{"level":"safe","reason":"harmless"}`,
	}})
	id := h.createSession(t, "Student", "interactive")

	_, body := h.postJSON(t, "/command/execute", map[string]any{
		"session_id": id, "argv": []string{"echo", "streamed"},
	})
	var r brain.Response
	require.NoError(t, json.Unmarshal(body, &r))
	require.NotEmpty(t, r.ExecutionID)
	waitForTerminal(t, h, r.ExecutionID)

	// a late subscriber still receives the full replay and the final frame
	resp, err := http.Get(h.ts.URL + "/command/execution/" + r.ExecutionID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	events := string(raw)
	assert.Contains(t, events, `"type":"output"`)
	assert.Contains(t, events, "streamed")
	assert.Contains(t, events, `"type":"complete"`)
	assert.Contains(t, events, `"status":"completed"`)
}

func TestWebsocketStream(t *testing.T) {
	h := newTestServer(t, &stubLLM{replies: map[string]string{
		"risk_prompt": `{"level":"safe","reason":"harmless"}`,
	}})
	id := h.createSession(t, "Student", "interactive")

	_, body := h.postJSON(t, "/command/execute", map[string]any{
		"session_id": id, "argv": []string{"echo", "over websocket"},
	})
	var r brain.Response
	require.NoError(t, json.Unmarshal(body, &r))
	require.NotEmpty(t, r.ExecutionID)
	waitForTerminal(t, h, r.ExecutionID)

	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"subscribe": map[string]string{"execution_id": r.ExecutionID},
	}))

	var sawOutput, sawComplete bool
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		switch frame["type"] {
		case "output":
			sawOutput = true
			assert.Contains(t, fmt.Sprint(frame["data"]), "over websocket")
		case "complete":
			sawComplete = true
		}
		if sawComplete {
			break
		}
	}
	assert.True(t, sawOutput)
	assert.True(t, sawComplete)
}
