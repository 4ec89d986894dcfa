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

// Package composer picks a tool for a free-text request and synthesizes an
// argv command against that tool's registry entry. Selection and composition
// are two phases: the librarian chooses the tool, the scholar builds the
// command.
package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praetor-ai/praetor/pkg/catalog"
	"github.com/praetor-ai/praetor/pkg/llm"
	"github.com/praetor-ai/praetor/pkg/observability"
)

// selectionMenuSize bounds the enumerated menu shown to the model.
const selectionMenuSize = 15

// Command is a validated, ready-to-execute argv bound to a registered tool.
type Command struct {
	Tool        string   `json:"tool"`
	Argv        []string `json:"argv"`
	Explanation string   `json:"explanation"`
}

// Suggestion is one ranked alternative in suggester mode.
type Suggestion struct {
	Argv        []string `json:"argv"`
	Explanation string   `json:"explanation"`
}

// Request carries the inputs both phases need.
type Request struct {
	Input       string
	Role        catalog.Role
	RecentTools []string
}

type Composer struct {
	store     *catalog.Store
	generator llm.Generator
	tracer    trace.Tracer
}

func New(store *catalog.Store, generator llm.Generator) *Composer {
	return &Composer{
		store:     store,
		generator: generator,
		tracer:    observability.GetTracer("composer"),
	}
}

// Propose runs both phases: select a tool, then compose and validate its
// argv.
func (c *Composer) Propose(ctx context.Context, req Request) (*Command, error) {
	ctx, span := c.tracer.Start(ctx, observability.SpanCompose)
	defer span.End()

	tool, err := c.SelectTool(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(observability.AttrTool, tool.Name))

	return c.Compose(ctx, tool, req)
}

// SelectTool is the librarian phase. A single unambiguous literal mention
// of a registered tool short-circuits without a model call; otherwise the
// model picks from an enumerated menu of ranked candidates at temperature 0.
func (c *Composer) SelectTool(ctx context.Context, req Request) (*catalog.ToolSpec, error) {
	if tool := c.literalMention(req.Input); tool != nil {
		slog.Debug("Tool selected by literal mention", "tool", tool.Name)
		return tool, nil
	}

	candidates := c.store.SearchTools(req.Input, req.Role)
	if len(candidates) == 0 {
		return nil, ErrNoToolFound
	}
	// A single keyword match is unambiguous and skips the model entirely,
	// which keeps tool selection working through a model outage.
	if len(candidates) == 1 {
		slog.Debug("Tool selected by unique keyword match", "tool", candidates[0].Tool.Name)
		return candidates[0].Tool, nil
	}
	if len(candidates) > selectionMenuSize {
		candidates = candidates[:selectionMenuSize]
	}

	reply, err := c.generator.Generate(ctx, "selection_prompt", map[string]string{
		"input": req.Input,
		"role":  string(req.Role),
		"menu":  renderMenu(candidates),
	}, llm.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}

	index, ok := parseMenuReply(reply, len(candidates))
	if !ok {
		return nil, ErrNoToolFound
	}
	return candidates[index].Tool, nil
}

// literalMention returns the selected tool iff exactly one registered tool
// name appears verbatim in the input.
func (c *Composer) literalMention(input string) *catalog.ToolSpec {
	lowered := strings.ToLower(input)

	var found *catalog.ToolSpec
	for _, name := range c.store.ToolNames() {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
		if !re.MatchString(lowered) {
			continue
		}
		if found != nil {
			// ambiguous: two tools mentioned literally
			return nil
		}
		tool, err := c.store.LookupTool(name)
		if err != nil {
			continue
		}
		found = tool
	}
	return found
}

func renderMenu(candidates []catalog.ScoredTool) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s (%s): %s\n", i+1, c.Tool.Name, c.Tool.Category,
			strings.Join(c.Tool.Keywords, ", "))
	}
	return b.String()
}

// parseMenuReply coerces the model's reply to a listed 1-based index.
// Anything else, including an out-of-range index, means none.
func parseMenuReply(reply string, count int) (int, bool) {
	trimmed := strings.TrimSpace(strings.Trim(strings.TrimSpace(reply), ".`\"'"))
	if strings.EqualFold(trimmed, "none") {
		return 0, false
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 1 || n > count {
		return 0, false
	}
	return n - 1, true
}

type scholarReply struct {
	Argv         []string `json:"argv"`
	Placeholders []string `json:"placeholders"`
	Explanation  string   `json:"explanation"`
}

// Compose is the scholar phase: render the command prompt for the selected
// tool, parse the model's argv, fill placeholders from registry defaults and
// validate the result. The composer never returns raw shell, only argv.
func (c *Composer) Compose(ctx context.Context, tool *catalog.ToolSpec, req Request) (*Command, error) {
	reply, err := c.generator.Generate(ctx, "command_prompt", map[string]string{
		"tool":         tool.Name,
		"base_command": tool.BaseCommand,
		"input":        req.Input,
		"role":         string(req.Role),
		"parameters":   renderParameters(tool),
		"recent_tools": strings.Join(req.RecentTools, ", "),
	}, llm.WithTemperature(0))
	if err != nil {
		// Degraded path: build the argv from the tool's workflow template
		// instead of the model.
		if cmd, fbErr := c.fallbackCompose(tool, req.Input); fbErr == nil {
			slog.Warn("Model unavailable, composed from workflow template",
				"tool", tool.Name, "error", err)
			return cmd, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}

	var parsed scholarReply
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed composition reply: %v", ErrLLMUnavailable, err)
	}

	argv, err := fillPlaceholders(tool, parsed.Argv)
	if err != nil {
		return nil, err
	}

	if err := Validate(tool, argv); err != nil {
		return nil, err
	}

	explanation := parsed.Explanation
	if explanation == "" {
		explanation = fmt.Sprintf("%s invocation with %d arguments", tool.Name, len(argv)-1)
	}

	return &Command{Tool: tool.Name, Argv: argv, Explanation: explanation}, nil
}

// Suggest asks the scholar for up to three alternative argvs for the
// selected tool. Invalid alternatives are dropped; suggester mode never
// executes anything.
func (c *Composer) Suggest(ctx context.Context, req Request) ([]Suggestion, error) {
	tool, err := c.SelectTool(ctx, req)
	if err != nil {
		return nil, err
	}

	reply, err := c.generator.Generate(ctx, "suggest_prompt", map[string]string{
		"tool":         tool.Name,
		"base_command": tool.BaseCommand,
		"input":        req.Input,
		"role":         string(req.Role),
		"parameters":   renderParameters(tool),
	}, llm.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}

	var parsed struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed suggestion reply: %v", ErrLLMUnavailable, err)
	}

	var out []Suggestion
	for _, s := range parsed.Suggestions {
		argv, err := fillPlaceholders(tool, s.Argv)
		if err != nil {
			continue
		}
		if err := Validate(tool, argv); err != nil {
			slog.Debug("Dropping invalid suggestion", "tool", tool.Name, "error", err)
			continue
		}
		out = append(out, Suggestion{Argv: argv, Explanation: s.Explanation})
		if len(out) == 3 {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrNoToolFound
	}
	return out, nil
}

func renderParameters(tool *catalog.ToolSpec) string {
	var b strings.Builder
	for _, p := range tool.Parameters {
		fmt.Fprintf(&b, "- %s (%s", p.Name, p.Kind)
		if p.Flag != "" {
			fmt.Fprintf(&b, " %s", p.Flag)
		}
		b.WriteString(")")
		if p.Required {
			b.WriteString(" [required]")
		}
		if p.Default != "" {
			fmt.Fprintf(&b, " default=%s", p.Default)
		}
		if p.Description != "" {
			fmt.Fprintf(&b, ": %s", p.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// fallbackCompose builds an argv from the tool's workflow template,
// filling placeholders from registry defaults or from input tokens that
// pass the parameter's validator. It is fully deterministic.
func (c *Composer) fallbackCompose(tool *catalog.ToolSpec, input string) (*Command, error) {
	if len(tool.Workflow) == 0 {
		return nil, ErrNoToolFound
	}

	tokens := strings.Fields(input)
	argv := make([]string, len(tool.Workflow))
	for i, entry := range tool.Workflow {
		var fillErr error
		argv[i] = placeholderRe.ReplaceAllStringFunc(entry, func(m string) string {
			name := placeholderRe.FindStringSubmatch(m)[1]
			param, ok := tool.Param(strings.ToLower(name))
			if !ok {
				fillErr = &UnresolvedPlaceholderError{Name: name}
				return m
			}
			if param.Default != "" {
				return param.Default
			}
			// Address-looking tokens first: almost any bare word passes a
			// host validator.
			for _, pass := range []bool{true, false} {
				for _, token := range tokens {
					if strings.ContainsAny(token, "./:") != pass {
						continue
					}
					if !strings.HasPrefix(token, "-") && param.ValidateValue(token) == nil {
						return token
					}
				}
			}
			fillErr = &UnresolvedPlaceholderError{Name: name}
			return m
		})
		if fillErr != nil {
			return nil, fillErr
		}
	}

	if err := Validate(tool, argv); err != nil {
		return nil, err
	}
	return &Command{
		Tool:        tool.Name,
		Argv:        argv,
		Explanation: fmt.Sprintf("default %s workflow", tool.Name),
	}, nil
}

var placeholderRe = regexp.MustCompile(`\[([A-Z][A-Z0-9_]*)\]`)

// fillPlaceholders substitutes leftover [NAME] tokens from registry
// defaults. A placeholder without a default is an error.
func fillPlaceholders(tool *catalog.ToolSpec, argv []string) ([]string, error) {
	out := make([]string, len(argv))
	for i, entry := range argv {
		var fillErr error
		out[i] = placeholderRe.ReplaceAllStringFunc(entry, func(m string) string {
			name := placeholderRe.FindStringSubmatch(m)[1]
			param, ok := tool.Param(strings.ToLower(name))
			if !ok || param.Default == "" {
				if fillErr == nil {
					fillErr = &UnresolvedPlaceholderError{Name: name}
				}
				return m
			}
			return param.Default
		})
		if fillErr != nil {
			return nil, fillErr
		}
	}
	return out, nil
}

// extractJSON trims prose the model wraps around its JSON object.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
