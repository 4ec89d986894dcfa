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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/praetor-ai/praetor/pkg/config"
	"github.com/praetor-ai/praetor/pkg/observability"
	"github.com/praetor-ai/praetor/pkg/registry"
)

var ErrExecutionNotFound = errors.New("execution not found")

// ParseFunc post-processes a completed execution's stdout into a structured
// summary. Parsing is best-effort; failures are recorded, never fatal.
type ParseFunc func(stdout []byte) (map[string]any, error)

// Executor runs argv commands under the configured caps. Submissions beyond
// the global or per-session limits queue FIFO until a slot frees.
type Executor struct {
	cfg    config.ExecutorConfig
	paths  config.PathsConfig
	tracer trace.Tracer

	global *semaphore.Weighted

	mu         sync.Mutex
	perSession map[string]*semaphore.Weighted
	executions map[string]*execution

	parsers *registry.BaseRegistry[ParseFunc]

	// base is cancelled on Close; queued work drains as cancelled.
	base     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup
}

func New(cfg config.ExecutorConfig, paths config.PathsConfig) *Executor {
	base, shutdown := context.WithCancel(context.Background())
	e := &Executor{
		cfg:        cfg,
		paths:      paths,
		tracer:     observability.GetTracer("executor"),
		global:     semaphore.NewWeighted(int64(cfg.MaxGlobal)),
		perSession: make(map[string]*semaphore.Weighted),
		executions: make(map[string]*execution),
		parsers:    registry.NewBaseRegistry[ParseFunc](),
		base:       base,
		shutdown:   shutdown,
	}
	RegisterBuiltinParsers(e)
	return e
}

// RegisterParser attaches a stdout parser to a tool name.
func (e *Executor) RegisterParser(tool string, fn ParseFunc) error {
	return e.parsers.Register(tool, fn)
}

// Submit accepts a spawn request and returns its execution id immediately.
// The request queues when the session or global cap is reached.
func (e *Executor) Submit(req Request) (string, error) {
	if len(req.Argv) == 0 {
		return "", fmt.Errorf("empty argv")
	}
	if req.SessionID == "" {
		return "", fmt.Errorf("missing session id")
	}
	if req.Mode == "" {
		req.Mode = ModeBackground
	}

	deadline := e.cfg.DefaultDeadline()
	if req.Deadline != nil {
		deadline = *req.Deadline
	}

	// queueCancel is set before the execution is published in the map:
	// Cancel can race Submit the moment the map insert is visible.
	queueCtx, queueCancel := context.WithCancel(e.base)
	ex := &execution{
		id:          uuid.New().String(),
		sessionID:   req.SessionID,
		tool:        req.Tool,
		argv:        append([]string(nil), req.Argv...),
		mode:        req.Mode,
		deadline:    deadline,
		status:      StatusQueued,
		stdout:      newStreamCapture(e.cfg.OutputCapBytes),
		stderr:      newStreamCapture(e.cfg.OutputCapBytes),
		queueCancel: queueCancel,
	}

	e.mu.Lock()
	e.executions[ex.id] = ex
	sessionSem, ok := e.perSession[req.SessionID]
	if !ok {
		sessionSem = semaphore.NewWeighted(int64(e.cfg.MaxPerSession))
		e.perSession[req.SessionID] = sessionSem
	}
	e.mu.Unlock()

	// A zero deadline is an immediate timeout with no spawn side effects.
	if deadline == 0 {
		queueCancel()
		ex.mu.Lock()
		ex.errorKind = KindTimeout
		ex.errorMsg = "deadline elapsed before spawn"
		ex.mu.Unlock()
		ex.setStatus(StatusTimedout)
		ex.finish()
		e.writeArtifacts(ex)
		return ex.id, nil
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(queueCtx, ex, sessionSem)
	}()

	return ex.id, nil
}

func (e *Executor) run(queueCtx context.Context, ex *execution, sessionSem *semaphore.Weighted) {
	start := time.Now()
	ctx, span := e.tracer.Start(e.base, observability.SpanExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrExecutionID, ex.id),
			attribute.String(observability.AttrSessionID, ex.sessionID),
			attribute.String(observability.AttrTool, ex.tool),
		),
	)
	defer span.End()
	defer func() {
		observability.GetGlobalMetrics().RecordExecution(ctx, ex.tool, string(ex.currentStatus()), time.Since(start))
	}()

	// Session slot first, then a global slot: waiting on a session cap must
	// not hold a global slot hostage. Both semaphores admit waiters FIFO.
	if err := sessionSem.Acquire(queueCtx, 1); err != nil {
		e.dequeued(ex)
		return
	}
	defer sessionSem.Release(1)

	if err := e.global.Acquire(queueCtx, 1); err != nil {
		e.dequeued(ex)
		return
	}
	defer e.global.Release(1)

	// The cancel window between dequeue and spawn is closed here: a cancel
	// that fired while queued wins.
	if queueCtx.Err() != nil {
		e.dequeued(ex)
		return
	}

	e.spawn(ex)
}

// dequeued finalizes an execution whose queue wait was cancelled.
func (e *Executor) dequeued(ex *execution) {
	ex.mu.Lock()
	ex.returnCode = -1
	ex.mu.Unlock()
	if ex.setStatus(StatusCancelled) {
		ex.finish()
		e.writeArtifacts(ex)
	}
}

func (e *Executor) spawn(ex *execution) {
	cmd := exec.Command(ex.argv[0], ex.argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.spawnFailed(ex, err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		e.spawnFailed(ex, err)
		return
	}

	if err := cmd.Start(); err != nil {
		e.spawnFailed(ex, err)
		return
	}

	ex.mu.Lock()
	ex.cmd = cmd
	cancelled := ex.cancelRequested
	ex.mu.Unlock()

	if err := applyLimits(cmd.Process.Pid, e.cfg); err != nil {
		slog.Warn("Failed to apply resource limits", "execution_id", ex.id, "error", err)
	}

	ex.setStatus(StatusRunning)

	// A cancel that raced the spawn is honored immediately.
	if cancelled {
		e.terminate(ex)
	}

	var copiers sync.WaitGroup
	copiers.Add(2)
	go func() {
		defer copiers.Done()
		e.copyStream(ex, StreamStdout, ex.stdout, stdout)
	}()
	go func() {
		defer copiers.Done()
		e.copyStream(ex, StreamStderr, ex.stderr, stderr)
	}()

	deadlineTimer := time.AfterFunc(ex.deadline, func() {
		ex.mu.Lock()
		ex.deadlineHit = true
		ex.mu.Unlock()
		e.signal(ex, unix.SIGKILL)
	})

	copiers.Wait()
	waitErr := cmd.Wait()
	deadlineTimer.Stop()

	e.finalize(ex, cmd, waitErr)
}

// copyStream is the single read loop per pipe: every chunk is stored in the
// bounded capture and broadcast to subscribers, in that order. Chunks never
// exceed maxChunkSize.
func (e *Executor) copyStream(ex *execution, name StreamName, capture *streamCapture, r io.Reader) {
	buf := make([]byte, maxChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			ex.emitOutput(name, capture, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (e *Executor) spawnFailed(ex *execution, err error) {
	slog.Error("Failed to spawn execution", "execution_id", ex.id, "argv0", ex.argv[0], "error", err)
	ex.mu.Lock()
	ex.errorKind = KindSpawnError
	ex.errorMsg = err.Error()
	ex.returnCode = -1
	ex.mu.Unlock()
	if ex.setStatus(StatusFailed) {
		ex.finish()
		e.writeArtifacts(ex)
	}
}

// finalize classifies the exit, applies the terminal transition, runs the
// tool parser, and flushes artifacts.
func (e *Executor) finalize(ex *execution, cmd *exec.Cmd, waitErr error) {
	returnCode := 0
	var signaled syscall.Signal = -1
	var stats ResourceStats

	if state := cmd.ProcessState; state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok {
			switch {
			case ws.Signaled():
				signaled = ws.Signal()
				returnCode = -int(signaled)
			default:
				returnCode = ws.ExitStatus()
			}
		}
		if ru, ok := state.SysUsage().(*syscall.Rusage); ok && ru != nil {
			stats = ResourceStats{
				UserTime:   time.Duration(ru.Utime.Nano()),
				SystemTime: time.Duration(ru.Stime.Nano()),
				MaxRSSKiB:  int64(ru.Maxrss),
			}
		}
	} else if waitErr != nil {
		returnCode = -1
	}

	ex.mu.Lock()
	ex.returnCode = returnCode
	ex.resources = stats
	cancelRequested := ex.cancelRequested
	deadlineHit := ex.deadlineHit
	ex.mu.Unlock()

	// The deadline and cancel classifications require the child to have
	// actually died by signal: a process that exited cleanly just before
	// the kill landed keeps its real outcome.
	var terminal Status
	switch {
	case deadlineHit && signaled != -1:
		terminal = StatusTimedout
		ex.mu.Lock()
		ex.errorKind = KindTimeout
		ex.errorMsg = fmt.Sprintf("deadline %s exceeded", ex.deadline)
		ex.mu.Unlock()
	case cancelRequested && signaled != -1:
		terminal = StatusCancelled
	case signaled == unix.SIGXCPU || signaled == unix.SIGXFSZ:
		terminal = StatusFailed
		ex.mu.Lock()
		ex.errorKind = KindResourceExceeded
		ex.errorMsg = fmt.Sprintf("resource limit exceeded (%s)", signaled)
		ex.mu.Unlock()
	case returnCode != 0:
		terminal = StatusFailed
		ex.mu.Lock()
		ex.errorKind = KindNonZeroExit
		ex.errorMsg = fmt.Sprintf("exit status %d", returnCode)
		ex.mu.Unlock()
	default:
		terminal = StatusCompleted
	}

	if terminal == StatusCompleted {
		e.parseOutput(ex)
	}

	if ex.setStatus(terminal) {
		ex.finish()
		e.writeArtifacts(ex)
	}
	slog.Debug("Execution finished",
		"execution_id", ex.id, "status", terminal, "return_code", returnCode)
}

func (e *Executor) parseOutput(ex *execution) {
	if ex.tool == "" {
		return
	}
	parse, ok := e.parsers.Get(ex.tool)
	if !ok {
		return
	}
	summary, err := parse(ex.stdout.bytes())
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if err != nil {
		ex.parseError = err.Error()
		return
	}
	ex.summary = summary
}

// Cancel is idempotent and race-safe. A queued execution is dequeued; a
// running one gets a process-group SIGTERM, escalated to SIGKILL after the
// grace period; a terminal one is left untouched.
func (e *Executor) Cancel(id string) error {
	ex, err := e.get(id)
	if err != nil {
		return err
	}

	ex.mu.Lock()
	if ex.status.Terminal() {
		ex.mu.Unlock()
		return nil
	}
	alreadyRequested := ex.cancelRequested
	ex.cancelRequested = true
	queueCancel := ex.queueCancel
	running := ex.cmd != nil
	ex.mu.Unlock()

	if alreadyRequested {
		return nil
	}

	if queueCancel != nil {
		queueCancel()
	}

	if running {
		e.terminate(ex)
	}
	return nil
}

// terminate sends SIGTERM to the process group and escalates to SIGKILL
// after the grace period.
func (e *Executor) terminate(ex *execution) {
	e.signal(ex, unix.SIGTERM)
	time.AfterFunc(e.cfg.CancelGrace(), func() {
		if !ex.currentStatus().Terminal() {
			e.signal(ex, unix.SIGKILL)
		}
	})
}

// CancelSession cancels every live execution of a session.
func (e *Executor) CancelSession(sessionID string) {
	e.mu.Lock()
	var ids []string
	for id, ex := range e.executions {
		if ex.sessionID == sessionID && !ex.currentStatus().Terminal() {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	for _, id := range ids {
		_ = e.Cancel(id)
	}
}

// RemoveSession cancels a session's live executions and destroys its
// records. A still-running child finishes its shutdown in the background,
// but its record is no longer addressable and no artifacts are flushed
// for it.
func (e *Executor) RemoveSession(sessionID string) {
	e.CancelSession(sessionID)

	e.mu.Lock()
	for id, ex := range e.executions {
		if ex.sessionID != sessionID {
			continue
		}
		ex.mu.Lock()
		ex.removed = true
		ex.mu.Unlock()
		delete(e.executions, id)
	}
	delete(e.perSession, sessionID)
	e.mu.Unlock()
}

// signal delivers sig to the child's process group.
func (e *Executor) signal(ex *execution, sig syscall.Signal) {
	ex.mu.Lock()
	cmd := ex.cmd
	ex.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	// negative pid addresses the process group
	if err := unix.Kill(-cmd.Process.Pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		slog.Debug("Failed to signal process group", "execution_id", ex.id, "signal", sig, "error", err)
	}
}

// Status returns a consistent snapshot of an execution.
func (e *Executor) Status(id string) (Snapshot, error) {
	ex, err := e.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return ex.snapshot(), nil
}

// Subscribe attaches to an execution's event stream. The returned cancel
// releases the subscription without affecting the execution.
func (e *Executor) Subscribe(id string) (<-chan Event, func(), error) {
	ex, err := e.get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := ex.subscribe()
	return ch, cancel, nil
}

// SessionExecutions lists snapshot views of a session's executions.
func (e *Executor) SessionExecutions(sessionID string) []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Snapshot
	for _, ex := range e.executions {
		if ex.sessionID == sessionID {
			out = append(out, ex.snapshot())
		}
	}
	return out
}

func (e *Executor) get(id string) (*execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex, ok := e.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return ex, nil
}

// Close cancels queued work, signals running children and waits for every
// execution goroutine to drain.
func (e *Executor) Close() {
	e.shutdown()

	e.mu.Lock()
	ids := make([]string, 0, len(e.executions))
	for id := range e.executions {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		_ = e.Cancel(id)
	}
	e.wg.Wait()
}
