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

package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/praetor-ai/praetor/pkg/catalog"
	"github.com/praetor-ai/praetor/pkg/composer"
	"github.com/praetor-ai/praetor/pkg/executor"
	"github.com/praetor-ai/praetor/pkg/risk"
	"github.com/praetor-ai/praetor/pkg/session"
)

// ExecuteCommand runs an explicit argv through the risk gate and the
// executor. A require-confirm verdict is honored only with autoConfirm;
// a block verdict is never overridable.
func (b *Brain) ExecuteCommand(ctx context.Context, sessionID string, argv []string, autoConfirm bool, mode executor.Mode) (*Response, error) {
	info, err := b.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	b.sessions.Touch(sessionID)

	if len(argv) == 0 {
		return b.errResponse(info, CodeInputError, "empty argv"), nil
	}

	tool := b.toolForArgv(argv)
	if tool == nil {
		return b.errResponse(info, CodeToolNotFound,
			fmt.Sprintf("%s is not a registered tool", argv[0])), nil
	}
	if err := composer.Validate(tool, argv); err != nil {
		return b.errResponse(info, CodeCompositionError, err.Error()), nil
	}

	command := strings.Join(argv, " ")
	verdict := b.evaluator.Evaluate(ctx, command, info.Role, b.sessions.RecentTools(info.ID, recentToolWindow))

	resp := &Response{
		Type:      TypeCommand,
		SessionID: info.ID,
		Tool:      tool.Name,
		Argv:      argv,
		Risk:      &verdict,
	}

	switch {
	case verdict.Blocked():
		b.record(info.ID, session.Interaction{
			Input:   command,
			Intent:  string(IntentCommandRequest),
			Command: command,
			Tool:    tool.Name,
			Risk:    &verdict,
		})
		// still a command response: the verdict carries the block
		resp.Code = CodeRiskBlock
		resp.Error = verdict.Reason
		return resp, nil
	case verdict.Action == catalog.ActionRequireConfirm && !autoConfirm:
		resp.Type = TypeError
		resp.Code = CodeConfirmationRequired
		resp.Error = "command requires confirmation"
		return resp, nil
	}

	id, err := b.launch(ctx, info, command, IntentCommandRequest, tool.Name, argv, &verdict, mode)
	if err != nil {
		resp.Type = TypeError
		resp.Code = CodeExecutionError
		resp.Error = err.Error()
		return resp, nil
	}
	resp.ExecutionID = id
	return resp, nil
}

// toolForArgv resolves argv[0] against the registry by base command, then
// by tool name.
func (b *Brain) toolForArgv(argv []string) *catalog.ToolSpec {
	for _, name := range b.store.ToolNames() {
		tool, err := b.store.LookupTool(name)
		if err != nil {
			continue
		}
		if tool.BaseCommand == argv[0] || tool.Name == argv[0] {
			return tool
		}
	}
	return nil
}

// launch submits the command and leaves a watcher behind that records the
// interaction once the execution reaches a terminal state.
func (b *Brain) launch(ctx context.Context, info session.Info, input string, intent Intent,
	tool string, argv []string, verdict *risk.Verdict, mode executor.Mode) (string, error) {
	id, err := b.executor.Submit(executor.Request{
		SessionID: info.ID,
		Tool:      tool,
		Argv:      argv,
		Mode:      mode,
	})
	if err != nil {
		return "", err
	}

	go b.watch(info.ID, id, input, intent, tool, strings.Join(argv, " "), verdict)
	return id, nil
}

// watch drains the execution's event stream and appends the final
// interaction with the observed outcome.
func (b *Brain) watch(sessionID, executionID, input string, intent Intent, tool, command string, verdict *risk.Verdict) {
	events, cancel, err := b.executor.Subscribe(executionID)
	if err != nil {
		slog.Error("Failed to watch execution", "execution_id", executionID, "error", err)
		return
	}
	defer cancel()

	var outputBytes int64
	for ev := range events {
		if ev.Type == executor.EventOutput {
			outputBytes += int64(len(ev.Chunk))
		}
	}

	snap, err := b.executor.Status(executionID)
	if err != nil {
		slog.Error("Execution vanished before recording", "execution_id", executionID, "error", err)
		return
	}

	var durationMS int64
	if !snap.StartedAt.IsZero() && !snap.EndedAt.IsZero() {
		durationMS = snap.EndedAt.Sub(snap.StartedAt).Milliseconds()
	}

	b.record(sessionID, session.Interaction{
		Timestamp:   time.Now().UTC(),
		Input:       input,
		Intent:      string(intent),
		Command:     command,
		Tool:        tool,
		Risk:        verdict,
		ExecutionID: executionID,
		Success:     snap.Status == executor.StatusCompleted,
		DurationMS:  durationMS,
		OutputBytes: outputBytes,
	})
}
