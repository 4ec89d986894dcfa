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

// Package catalog loads and indexes the tool registries, the risk-pattern
// database and the prompt templates. The catalog is read-only after Load.
package catalog

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Role shapes prompt content and tool ranking, nothing else.
type Role string

const (
	RoleStudent           Role = "Student"
	RoleForensicExpert    Role = "Forensic Expert"
	RolePenetrationTester Role = "Penetration Tester"
)

// ParseRole validates a client-supplied role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleStudent, RoleForensicExpert, RolePenetrationTester:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Level is a risk severity on the ordinal scale safe<low<medium<high<critical.
type Level string

const (
	LevelSafe     Level = "safe"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

var levelRank = map[Level]int{
	LevelSafe:     0,
	LevelLow:      1,
	LevelMedium:   2,
	LevelHigh:     3,
	LevelCritical: 4,
}

// Rank returns the ordinal position of the level, -1 when unknown.
func (l Level) Rank() int {
	if r, ok := levelRank[l]; ok {
		return r
	}
	return -1
}

// MaxLevel returns the higher of two levels on the ordinal scale.
func MaxLevel(a, b Level) Level {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseLevel validates a severity string.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelRank[l]; !ok {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return l, nil
}

// Action is what the pipeline does with a command at a given severity.
type Action string

const (
	ActionAllow          Action = "allow"
	ActionWarn           Action = "warn"
	ActionRequireConfirm Action = "require-confirm"
	ActionBlock          Action = "block"
)

// ParamKind distinguishes flag parameters from positional ones.
type ParamKind string

const (
	ParamFlag       ParamKind = "flag"
	ParamPositional ParamKind = "positional"
)

// ParamSpec describes one parameter slot of a tool.
type ParamSpec struct {
	Name          string    `yaml:"name"`
	Kind          ParamKind `yaml:"kind"`
	Flag          string    `yaml:"flag"`
	RequiresValue bool      `yaml:"requires_value"`
	Aliases       []string  `yaml:"aliases"`
	Default       string    `yaml:"default"`
	Validator     string    `yaml:"validator"`
	Required      bool      `yaml:"required"`
	Description   string    `yaml:"description"`
}

// ValidateValue checks a candidate value against the parameter's validator.
// Validators are "regex:<re>" or "type:<int|string|host|url|port>"; an empty
// validator accepts anything.
func (p *ParamSpec) ValidateValue(value string) error {
	v := p.Validator
	if v == "" {
		return nil
	}

	switch {
	case strings.HasPrefix(v, "regex:"):
		re, err := regexp.Compile(strings.TrimPrefix(v, "regex:"))
		if err != nil {
			return fmt.Errorf("parameter %s has invalid validator: %w", p.Name, err)
		}
		if !re.MatchString(value) {
			return fmt.Errorf("value %q does not match %s", value, re.String())
		}
		return nil

	case strings.HasPrefix(v, "type:"):
		return validateTyped(strings.TrimPrefix(v, "type:"), value)

	default:
		return fmt.Errorf("parameter %s has unrecognized validator %q", p.Name, v)
	}
}

func validateTyped(kind, value string) error {
	switch kind {
	case "string":
		return nil
	case "int":
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("value %q is not an integer", value)
		}
	case "port":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("value %q is not a valid port", value)
		}
	case "host":
		if value == "" {
			return fmt.Errorf("empty host")
		}
		if ip := net.ParseIP(value); ip != nil {
			return nil
		}
		// hostname: letters, digits, hyphens, dots
		if !hostnameRe.MatchString(value) {
			return fmt.Errorf("value %q is not a valid host", value)
		}
	case "url":
		u, err := url.Parse(value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("value %q is not a valid URL", value)
		}
	default:
		return fmt.Errorf("unrecognized type validator %q", kind)
	}
	return nil
}

var hostnameRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)*$`)

// ToolSpec is the immutable merged descriptor for one tool: the master
// registry row plus the per-tool registry file.
type ToolSpec struct {
	Name         string
	Category     string
	RiskBaseline Level
	Keywords     []string

	BaseCommand string
	Parameters  []ParamSpec
	Workflow    []string
}

// Param looks a parameter up by name, flag or alias.
func (t *ToolSpec) Param(key string) (*ParamSpec, bool) {
	for i := range t.Parameters {
		p := &t.Parameters[i]
		if p.Name == key || (p.Flag != "" && p.Flag == key) {
			return p, true
		}
		for _, a := range p.Aliases {
			if a == key {
				return p, true
			}
		}
	}
	return nil, false
}

// ParamForFlag resolves an argv flag token to its declaration.
func (t *ToolSpec) ParamForFlag(flag string) (*ParamSpec, bool) {
	for i := range t.Parameters {
		p := &t.Parameters[i]
		if p.Kind == ParamFlag && p.Flag == flag {
			return p, true
		}
	}
	return nil, false
}

// Positionals returns the declared positional parameters in order.
func (t *ToolSpec) Positionals() []*ParamSpec {
	var out []*ParamSpec
	for i := range t.Parameters {
		if t.Parameters[i].Kind == ParamPositional {
			out = append(out, &t.Parameters[i])
		}
	}
	return out
}

// RiskPattern is one compiled entry of the static pattern database.
type RiskPattern struct {
	Pattern      string
	Level        Level
	Action       Action
	Description  string
	Alternatives []string

	re *regexp.Regexp
}

// Match reports whether the pattern matches the command string.
func (p *RiskPattern) Match(command string) bool {
	return p.re.MatchString(command)
}

// PromptTemplate is an immutable text fixture with {{slot}} substitution
// slots. Rendering is flat string substitution, not text/template.
type PromptTemplate struct {
	Name string
	Text string
}

var slotRe = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// Render substitutes every binding and fails when a slot has no binding.
func (t *PromptTemplate) Render(bindings map[string]string) (string, error) {
	var missing []string
	out := slotRe.ReplaceAllStringFunc(t.Text, func(m string) string {
		name := slotRe.FindStringSubmatch(m)[1]
		if v, ok := bindings[name]; ok {
			return v
		}
		missing = append(missing, name)
		return m
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("template %s: unbound slots %v", t.Name, missing)
	}
	return out, nil
}

// Slots returns the distinct slot names in declaration order.
func (t *PromptTemplate) Slots() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range slotRe.FindAllStringSubmatch(t.Text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}
