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

package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/praetor-ai/praetor/pkg/config"
	"github.com/praetor-ai/praetor/pkg/registry"
)

var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrTemplateNotFound = errors.New("template not found")
)

// Store is the read-only catalog built once at startup.
type Store struct {
	tools     *registry.BaseRegistry[*ToolSpec]
	templates *registry.BaseRegistry[*PromptTemplate]
	patterns  []RiskPattern

	// tools listed in the master registry whose per-tool file was missing
	// or malformed; they are never selectable.
	unselectable []string
}

type masterFile struct {
	Tools []masterEntry `yaml:"tools"`
}

type masterEntry struct {
	Name         string   `yaml:"name"`
	Category     string   `yaml:"category"`
	RiskBaseline string   `yaml:"risk_baseline"`
	Keywords     []string `yaml:"keywords"`
}

type toolFile struct {
	BaseCommand string      `yaml:"base_command"`
	Category    string      `yaml:"category"`
	Parameters  []ParamSpec `yaml:"parameters"`
	Workflow    []string    `yaml:"workflow"`
}

type patternFile struct {
	Patterns []patternEntry `yaml:"patterns"`
}

type patternEntry struct {
	Pattern      string   `yaml:"pattern"`
	Level        string   `yaml:"level"`
	Action       string   `yaml:"action"`
	Description  string   `yaml:"description"`
	Alternatives []string `yaml:"alternatives"`
}

// Load reads the master registry, the per-tool registries, the risk-pattern
// database and the prompt templates. A missing or malformed per-tool file is
// logged and the tool is marked unselectable; a missing or malformed pattern
// database is a hard error because the safety floor must exist.
func Load(paths config.PathsConfig) (*Store, error) {
	s := &Store{
		tools:     registry.NewBaseRegistry[*ToolSpec](),
		templates: registry.NewBaseRegistry[*PromptTemplate](),
	}

	if err := s.loadTools(paths.ToolRegistry, paths.PerToolRegistries); err != nil {
		return nil, err
	}
	if err := s.loadPatterns(paths.RiskPatterns); err != nil {
		return nil, err
	}
	if err := s.loadTemplates(paths.Prompts); err != nil {
		return nil, err
	}

	slog.Info("Catalog loaded",
		"tools", s.tools.Count(),
		"unselectable", len(s.unselectable),
		"patterns", len(s.patterns),
		"templates", s.templates.Count())
	return s, nil
}

func (s *Store) loadTools(masterPath, perToolDir string) error {
	data, err := os.ReadFile(masterPath)
	if err != nil {
		return fmt.Errorf("failed to read master tool registry: %w", err)
	}

	var master masterFile
	if err := yaml.Unmarshal(data, &master); err != nil {
		return fmt.Errorf("failed to parse master tool registry: %w", err)
	}

	for _, entry := range master.Tools {
		level, err := ParseLevel(entry.RiskBaseline)
		if err != nil {
			slog.Warn("Tool has invalid risk baseline, marked unselectable",
				"tool", entry.Name, "error", err)
			s.unselectable = append(s.unselectable, entry.Name)
			continue
		}

		spec, err := loadToolFile(filepath.Join(perToolDir, entry.Name+".yaml"))
		if err != nil {
			slog.Warn("Per-tool registry missing or malformed, tool marked unselectable",
				"tool", entry.Name, "error", err)
			s.unselectable = append(s.unselectable, entry.Name)
			continue
		}

		spec.Name = entry.Name
		spec.RiskBaseline = level
		spec.Keywords = entry.Keywords
		if spec.Category == "" {
			spec.Category = entry.Category
		}
		if spec.BaseCommand == "" {
			spec.BaseCommand = entry.Name
		}

		if err := s.tools.Register(entry.Name, spec); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", entry.Name, err)
		}
	}
	return nil
}

func loadToolFile(path string) (*ToolSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tf toolFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, err
	}
	if tf.BaseCommand == "" {
		return nil, fmt.Errorf("missing base_command in %s", path)
	}

	for i := range tf.Parameters {
		p := &tf.Parameters[i]
		if p.Kind != ParamFlag && p.Kind != ParamPositional {
			return nil, fmt.Errorf("parameter %s has invalid kind %q", p.Name, p.Kind)
		}
		if p.Kind == ParamFlag && p.Flag == "" {
			return nil, fmt.Errorf("flag parameter %s is missing its flag token", p.Name)
		}
	}

	return &ToolSpec{
		BaseCommand: tf.BaseCommand,
		Category:    tf.Category,
		Parameters:  tf.Parameters,
		Workflow:    tf.Workflow,
	}, nil
}

func (s *Store) loadPatterns(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("risk pattern database is required: %w", err)
	}

	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("failed to parse risk pattern database: %w", err)
	}
	if len(pf.Patterns) == 0 {
		return fmt.Errorf("risk pattern database %s is empty", path)
	}

	for i, entry := range pf.Patterns {
		level, err := ParseLevel(entry.Level)
		if err != nil {
			return fmt.Errorf("risk pattern %d: %w", i, err)
		}
		action := Action(entry.Action)
		switch action {
		case ActionAllow, ActionWarn, ActionRequireConfirm, ActionBlock:
		default:
			return fmt.Errorf("risk pattern %d has invalid action %q", i, entry.Action)
		}
		re, err := regexp.Compile(entry.Pattern)
		if err != nil {
			return fmt.Errorf("risk pattern %d does not compile: %w", i, err)
		}
		s.patterns = append(s.patterns, RiskPattern{
			Pattern:      entry.Pattern,
			Level:        level,
			Action:       action,
			Description:  entry.Description,
			Alternatives: entry.Alternatives,
			re:           re,
		})
	}

	// Pre-sort by descending severity so the first match dominates.
	// The sort is stable: file order breaks ties.
	sort.SliceStable(s.patterns, func(i, j int) bool {
		return s.patterns[i].Level.Rank() > s.patterns[j].Level.Rank()
	})
	return nil
}

func (s *Store) loadTemplates(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read prompt template directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tmpl") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".tmpl")
		if err := s.templates.Register(name, &PromptTemplate{Name: name, Text: string(data)}); err != nil {
			return fmt.Errorf("failed to register template %s: %w", name, err)
		}
	}
	return nil
}

// LookupTool resolves a selectable tool by name.
func (s *Store) LookupTool(name string) (*ToolSpec, error) {
	tool, ok := s.tools.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// Template resolves a prompt template by name.
func (s *Store) Template(name string) (*PromptTemplate, error) {
	tmpl, ok := s.templates.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return tmpl, nil
}

// Patterns returns the compiled risk patterns, sorted by descending severity.
func (s *Store) Patterns() []RiskPattern {
	return s.patterns
}

// ToolNames returns all selectable tool names in ascending order.
func (s *Store) ToolNames() []string {
	return s.tools.Names()
}

// Unselectable returns the tools listed in the master registry that could
// not be loaded.
func (s *Store) Unselectable() []string {
	return s.unselectable
}
