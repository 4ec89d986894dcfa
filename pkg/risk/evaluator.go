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

// Package risk produces a verdict for a candidate command string using a
// static pattern pass and a contextual model pass.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praetor-ai/praetor/pkg/catalog"
	"github.com/praetor-ai/praetor/pkg/llm"
	"github.com/praetor-ai/praetor/pkg/observability"
)

// Verdict is the evaluator's output. Pattern is set when the static pass
// matched; Degraded is set when the contextual pass could not contribute.
type Verdict struct {
	Level        catalog.Level  `json:"level"`
	Action       catalog.Action `json:"action"`
	Reason       string         `json:"reason"`
	Pattern      string         `json:"pattern,omitempty"`
	Alternatives []string       `json:"alternatives,omitempty"`
	Degraded     bool           `json:"degraded,omitempty"`
}

// Blocked reports whether the verdict forbids execution.
func (v Verdict) Blocked() bool {
	return v.Action == catalog.ActionBlock
}

// Evaluator merges the static pattern database with a contextual model
// judgement. It never returns an error: any model failure degrades to the
// static verdict.
type Evaluator struct {
	store     *catalog.Store
	generator llm.Generator
	tracer    trace.Tracer

	// confirmAt is the level at which the action becomes require-confirm.
	confirmAt catalog.Level
}

func New(store *catalog.Store, generator llm.Generator, confirmAt catalog.Level) *Evaluator {
	if confirmAt.Rank() < 0 {
		confirmAt = catalog.LevelHigh
	}
	return &Evaluator{
		store:     store,
		generator: generator,
		tracer:    observability.GetTracer("risk"),
		confirmAt: confirmAt,
	}
}

// Evaluate scores a command. It reads role and recent tool uses but never
// mutates session state.
func (e *Evaluator) Evaluate(ctx context.Context, command string, role catalog.Role, recentTools []string) Verdict {
	ctx, span := e.tracer.Start(ctx, observability.SpanRiskEvaluate)
	defer span.End()

	verdict := e.evaluate(ctx, command, role, recentTools)

	span.SetAttributes(attribute.String(observability.AttrRiskLevel, string(verdict.Level)))
	observability.GetGlobalMetrics().RecordRiskVerdict(ctx, string(verdict.Level), string(verdict.Action))
	return verdict
}

func (e *Evaluator) evaluate(ctx context.Context, command string, role catalog.Role, recentTools []string) Verdict {
	command = strings.TrimSpace(command)
	if command == "" {
		return Verdict{
			Level:  catalog.LevelCritical,
			Action: catalog.ActionBlock,
			Reason: "empty command",
		}
	}

	static, blocked := e.staticPass(command)
	if blocked {
		return static
	}

	// The registry baseline is a floor: a tool declared low never scores
	// safe just because no pattern matched.
	if baseline := e.baselineFor(command); baseline.Rank() > static.Level.Rank() {
		static.Level = baseline
		if static.Pattern == "" {
			static.Reason = "registry baseline for the tool"
		}
	}

	contextual, err := e.contextualPass(ctx, command, role, recentTools)
	if err != nil {
		static.Degraded = true
		static.Reason = degradedReason(static.Reason, err)
		static.Action = e.actionFor(static.Level)
		return static
	}

	merged := catalog.MaxLevel(static.Level, contextual.Level)
	reason := contextual.Reason
	if static.Pattern != "" && static.Level.Rank() >= contextual.Level.Rank() {
		reason = static.Reason
	}

	return Verdict{
		Level:        merged,
		Action:       e.actionFor(merged),
		Reason:       reason,
		Pattern:      static.Pattern,
		Alternatives: static.Alternatives,
	}
}

// staticPass evaluates every compiled pattern. Patterns are pre-sorted by
// descending severity with file order breaking ties, so the first match is
// the winner. Any matching pattern with action block short-circuits.
func (e *Evaluator) staticPass(command string) (Verdict, bool) {
	var best *catalog.RiskPattern

	for i := range e.store.Patterns() {
		p := &e.store.Patterns()[i]
		if !p.Match(command) {
			continue
		}
		if p.Action == catalog.ActionBlock {
			return Verdict{
				Level:        p.Level,
				Action:       catalog.ActionBlock,
				Reason:       p.Description,
				Pattern:      p.Pattern,
				Alternatives: p.Alternatives,
			}, true
		}
		if best == nil {
			best = p
		}
	}

	if best == nil {
		return Verdict{Level: catalog.LevelSafe, Reason: "no pattern matched"}, false
	}
	return Verdict{
		Level:        best.Level,
		Reason:       best.Description,
		Pattern:      best.Pattern,
		Alternatives: best.Alternatives,
	}, false
}

// baselineFor resolves the command's first token against the registry and
// returns the tool's declared baseline level. Unregistered commands
// contribute nothing.
func (e *Evaluator) baselineFor(command string) catalog.Level {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	for _, name := range e.store.ToolNames() {
		tool, err := e.store.LookupTool(name)
		if err != nil {
			continue
		}
		if tool.BaseCommand == fields[0] || tool.Name == fields[0] {
			return tool.RiskBaseline
		}
	}
	return ""
}

type contextualVerdict struct {
	Level  catalog.Level
	Reason string
}

func (e *Evaluator) contextualPass(ctx context.Context, command string, role catalog.Role, recentTools []string) (contextualVerdict, error) {
	text, err := e.generator.Generate(ctx, "risk_prompt", map[string]string{
		"command":      command,
		"role":         string(role),
		"recent_tools": strings.Join(recentTools, ", "),
	})
	if err != nil {
		return contextualVerdict{}, err
	}

	var parsed struct {
		Level  string `json:"level"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &parsed); err != nil {
		return contextualVerdict{}, fmt.Errorf("malformed model verdict: %w", err)
	}

	level, err := catalog.ParseLevel(parsed.Level)
	if err != nil {
		return contextualVerdict{}, fmt.Errorf("malformed model verdict: %w", err)
	}
	return contextualVerdict{Level: level, Reason: parsed.Reason}, nil
}

// actionFor maps a merged level to an action. Critical always blocks;
// confirmAt and above require confirmation; medium and high below the
// threshold warn.
func (e *Evaluator) actionFor(level catalog.Level) catalog.Action {
	switch {
	case level == catalog.LevelCritical:
		return catalog.ActionBlock
	case level.Rank() >= e.confirmAt.Rank():
		return catalog.ActionRequireConfirm
	case level.Rank() >= catalog.LevelMedium.Rank():
		return catalog.ActionWarn
	default:
		return catalog.ActionAllow
	}
}

func degradedReason(staticReason string, err error) string {
	slog.Warn("Contextual risk pass unavailable, using static verdict only", "error", err)
	return fmt.Sprintf("%s (contextual check unavailable: static verdict only)", staticReason)
}

// extractJSON trims prose the model wraps around its JSON object.
func extractJSON(text string) string {
	start := strings.IndexAny(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
