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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praetor-ai/praetor/pkg/catalog"
	"github.com/praetor-ai/praetor/pkg/composer"
	"github.com/praetor-ai/praetor/pkg/executor"
	"github.com/praetor-ai/praetor/pkg/llm"
	"github.com/praetor-ai/praetor/pkg/observability"
	"github.com/praetor-ai/praetor/pkg/risk"
	"github.com/praetor-ai/praetor/pkg/session"
)

// recentToolWindow bounds how much tool history flows into prompts.
const recentToolWindow = 5

// chatTemperature is used for the free-form conversational paths; the
// structured paths run at temperature 0.
const chatTemperature = 0.3

// Brain wires the catalog, the model, the composer, the risk evaluator,
// the executor and the session store into one request pipeline.
type Brain struct {
	store     *catalog.Store
	sessions  *session.Store
	generator llm.Generator
	composer  *composer.Composer
	evaluator *risk.Evaluator
	executor  *executor.Executor
	tracer    trace.Tracer
	version   string
}

func New(store *catalog.Store, sessions *session.Store, generator llm.Generator,
	comp *composer.Composer, evaluator *risk.Evaluator, exec *executor.Executor, version string) *Brain {
	return &Brain{
		store:     store,
		sessions:  sessions,
		generator: generator,
		composer:  comp,
		evaluator: evaluator,
		executor:  exec,
		tracer:    observability.GetTracer("brain"),
		version:   version,
	}
}

// ProcessRequest handles one free-text request end to end. The returned
// error is non-nil only when the session does not exist; every other
// failure is an error-typed response.
func (b *Brain) ProcessRequest(ctx context.Context, sessionID, rawInput string) (*Response, error) {
	info, err := b.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	b.sessions.Touch(sessionID)

	ctx, span := b.tracer.Start(ctx, observability.SpanProcessIntent,
		trace.WithAttributes(attribute.String(observability.AttrSessionID, sessionID)))
	defer span.End()

	input, err := cleanInput(rawInput)
	if err != nil {
		return b.errResponse(info, CodeInputError, "input is empty after cleaning"), nil
	}

	if resp, ok := b.builtin(info, input); ok {
		return resp, nil
	}

	intent := b.triage(ctx, info, input)
	span.SetAttributes(attribute.String(observability.AttrIntent, string(intent)))
	slog.Debug("Request triaged", "session_id", sessionID, "intent", intent)

	switch {
	case intent.wantsCommand():
		if info.Mode == session.ModeSuggester {
			return b.suggest(ctx, info, input, intent), nil
		}
		return b.commandPipeline(ctx, info, input, intent), nil
	case intent == IntentExplanationRequest:
		return b.explain(ctx, info, input, intent), nil
	case intent == IntentPlanRequest:
		return b.plan(ctx, info, input, intent), nil
	default:
		return b.converse(ctx, info, input, intent), nil
	}
}

// triage classifies the input at temperature 0. A model failure falls back
// to command_request so the deterministic selection pre-filter still gets a
// chance to serve the user.
func (b *Brain) triage(ctx context.Context, info session.Info, input string) Intent {
	reply, err := b.generator.Generate(ctx, "triage_prompt", map[string]string{
		"input":        input,
		"role":         string(info.Role),
		"recent_tools": strings.Join(b.sessions.RecentTools(info.ID, recentToolWindow), ", "),
	}, llm.WithTemperature(0))
	if err != nil {
		slog.Warn("Triage unavailable, assuming command request", "session_id", info.ID, "error", err)
		return IntentCommandRequest
	}
	return parseTriageReply(reply)
}

// builtin serves the slash commands locally, without the model.
func (b *Brain) builtin(info session.Info, input string) (*Response, bool) {
	if !strings.HasPrefix(input, "/") {
		return nil, false
	}
	cmd := strings.ToLower(strings.Fields(input)[0])

	switch cmd {
	case "/help":
		return b.textResponse(info, TypeConversation,
			"Builtins: /help /version /list /status. Everything else is free text: "+
				"ask for a tool, a command, an explanation or a plan."), true
	case "/version":
		return b.textResponse(info, TypeConversation, "praetor "+b.version), true
	case "/list":
		names := b.store.ToolNames()
		return b.textResponse(info, TypeConversation,
			fmt.Sprintf("%d registered tools: %s", len(names), strings.Join(names, ", "))), true
	case "/status":
		status, err := b.sessions.Status(info.ID)
		if err != nil {
			return b.errResponse(info, CodeInputError, err.Error()), true
		}
		return b.textResponse(info, TypeConversation, fmt.Sprintf(
			"session %s: %d commands, tools [%s], active for %s",
			status.SessionID, status.CommandCount,
			strings.Join(status.ToolsUsed, ", "), status.Duration)), true
	}
	return b.errResponse(info, CodeInputError, fmt.Sprintf("unknown builtin %s", cmd)), true
}

// commandPipeline composes a command, scores it and either previews it or,
// in quick mode with an allow verdict, executes it immediately.
func (b *Brain) commandPipeline(ctx context.Context, info session.Info, input string, intent Intent) *Response {
	recent := b.sessions.RecentTools(info.ID, recentToolWindow)
	cmd, err := b.composer.Propose(ctx, composer.Request{
		Input:       input,
		Role:        info.Role,
		RecentTools: recent,
	})
	if err != nil {
		return b.composeError(info, err)
	}

	verdict := b.evaluator.Evaluate(ctx, strings.Join(cmd.Argv, " "), info.Role, recent)

	resp := &Response{
		Type:        TypeCommand,
		SessionID:   info.ID,
		Intent:      intent,
		Tool:        cmd.Tool,
		Argv:        cmd.Argv,
		Explanation: cmd.Explanation,
		Risk:        &verdict,
	}

	if verdict.Blocked() {
		b.record(info.ID, session.Interaction{
			Input:   input,
			Intent:  string(intent),
			Command: strings.Join(cmd.Argv, " "),
			Tool:    cmd.Tool,
			Risk:    &verdict,
		})
		// still a command response: the verdict carries the block
		resp.Code = CodeRiskBlock
		resp.Error = verdict.Reason
		return resp
	}

	if info.Mode == session.ModeQuick && verdict.Action == catalog.ActionAllow {
		id, err := b.launch(ctx, info, input, intent, cmd.Tool, cmd.Argv, &verdict, executor.ModeBackground)
		if err != nil {
			resp.Type = TypeError
			resp.Code = CodeExecutionError
			resp.Error = err.Error()
			return resp
		}
		resp.ExecutionID = id
		return resp
	}

	// preview only: the interaction carries no execution id
	b.record(info.ID, session.Interaction{
		Input:   input,
		Intent:  string(intent),
		Command: strings.Join(cmd.Argv, " "),
		Tool:    cmd.Tool,
		Risk:    &verdict,
	})
	return resp
}

// suggest returns ranked alternatives; suggester mode never executes.
func (b *Brain) suggest(ctx context.Context, info session.Info, input string, intent Intent) *Response {
	suggestions, err := b.composer.Suggest(ctx, composer.Request{
		Input:       input,
		Role:        info.Role,
		RecentTools: b.sessions.RecentTools(info.ID, recentToolWindow),
	})
	if err != nil {
		return b.composeError(info, err)
	}

	b.record(info.ID, session.Interaction{Input: input, Intent: string(intent)})
	return &Response{
		Type:        TypeCommand,
		SessionID:   info.ID,
		Intent:      intent,
		Suggestions: suggestions,
	}
}

func (b *Brain) explain(ctx context.Context, info session.Info, input string, intent Intent) *Response {
	text, err := b.generator.Generate(ctx, "explain_prompt", map[string]string{
		"input": input,
		"role":  string(info.Role),
	}, llm.WithTemperature(chatTemperature))
	if err != nil {
		return b.errResponse(info, CodeLLMUnavailable, err.Error())
	}

	b.record(info.ID, session.Interaction{Input: input, Intent: string(intent)})
	return &Response{Type: TypeExplanation, SessionID: info.ID, Intent: intent, Text: text}
}

func (b *Brain) converse(ctx context.Context, info session.Info, input string, intent Intent) *Response {
	text, err := b.generator.Generate(ctx, "chatbot_prompt", map[string]string{
		"input":        input,
		"role":         string(info.Role),
		"recent_tools": strings.Join(b.sessions.RecentTools(info.ID, recentToolWindow), ", "),
	}, llm.WithTemperature(chatTemperature))
	if err != nil {
		return b.errResponse(info, CodeLLMUnavailable, err.Error())
	}

	b.record(info.ID, session.Interaction{Input: input, Intent: string(intent)})
	return &Response{Type: TypeConversation, SessionID: info.ID, Intent: intent, Text: text}
}

// plan asks the model for a numbered multi-step approach. Steps are not
// executed here; each step's tool_request re-enters the pipeline as an
// interactive request when the user walks the plan.
func (b *Brain) plan(ctx context.Context, info session.Info, input string, intent Intent) *Response {
	reply, err := b.generator.Generate(ctx, "planner_prompt", map[string]string{
		"goal":  input,
		"role":  string(info.Role),
		"tools": strings.Join(b.store.ToolNames(), ", "),
	}, llm.WithTemperature(0))
	if err != nil {
		return b.errResponse(info, CodeLLMUnavailable, err.Error())
	}

	var plan Plan
	if err := json.Unmarshal([]byte(extractJSON(reply)), &plan); err != nil || len(plan.Steps) == 0 {
		return b.errResponse(info, CodeLLMUnavailable, "malformed plan reply")
	}
	if plan.Goal == "" {
		plan.Goal = input
	}
	for i := range plan.Steps {
		if plan.Steps[i].N == 0 {
			plan.Steps[i].N = i + 1
		}
	}

	b.record(info.ID, session.Interaction{Input: input, Intent: string(intent)})
	return &Response{Type: TypePlan, SessionID: info.ID, Intent: intent, Plan: &plan}
}

// composeError maps composer failures to the error taxonomy.
func (b *Brain) composeError(info session.Info, err error) *Response {
	code := CodeCompositionError
	switch {
	case errors.Is(err, composer.ErrNoToolFound):
		code = CodeToolNotFound
	case errors.Is(err, composer.ErrLLMUnavailable):
		code = CodeLLMUnavailable
	}
	return b.errResponse(info, code, err.Error())
}

func (b *Brain) errResponse(info session.Info, code ErrorCode, msg string) *Response {
	return &Response{Type: TypeError, SessionID: info.ID, Code: code, Error: msg}
}

func (b *Brain) textResponse(info session.Info, t ResponseType, text string) *Response {
	return &Response{Type: t, SessionID: info.ID, Text: text}
}

// record appends an interaction, logging instead of failing the request
// when the shard write goes wrong.
func (b *Brain) record(sessionID string, in session.Interaction) {
	if err := b.sessions.Append(sessionID, in); err != nil {
		slog.Error("Failed to record interaction", "session_id", sessionID, "error", err)
	}
}
