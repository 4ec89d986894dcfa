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
	"sort"
	"strings"
	"unicode"
)

// ScoredTool is one ranked search result.
type ScoredTool struct {
	Tool  *ToolSpec
	Score int
}

// Keyword-weighted match scores. A query token scores against each tool
// once at the strongest tier it reaches.
const (
	scoreExactName = 10
	scoreKeyword   = 6
	scoreCategory  = 3
	scoreSubstring = 1
	scoreAffinity  = 2
)

// roleAffinity maps each role to the categories it prefers. Affinity adds a
// small bonus and breaks score ties.
var roleAffinity = map[Role]map[string]bool{
	RoleStudent:           {"information": true, "web": true},
	RoleForensicExpert:    {"forensics": true, "analysis": true},
	RolePenetrationTester: {"network": true, "exploitation": true, "web": true},
}

// SearchTools ranks selectable tools against a free-text query. The ranking
// is a pure function of (query, role, catalog): iteration follows the
// registry's sorted name order and ties break by role affinity, then by
// ascending tool name.
func (s *Store) SearchTools(query string, role Role) []ScoredTool {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	affinity := roleAffinity[role]

	var results []ScoredTool
	for _, name := range s.tools.Names() {
		tool, _ := s.tools.Get(name)
		score := scoreTool(tool, tokens)
		if score == 0 {
			continue
		}
		if affinity[tool.Category] {
			score += scoreAffinity
		}
		results = append(results, ScoredTool{Tool: tool, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ai, aj := affinity[results[i].Tool.Category], affinity[results[j].Tool.Category]
		if ai != aj {
			return ai
		}
		return results[i].Tool.Name < results[j].Tool.Name
	})
	return results
}

func scoreTool(tool *ToolSpec, tokens []string) int {
	name := strings.ToLower(tool.Name)
	category := strings.ToLower(tool.Category)

	keywords := make(map[string]bool, len(tool.Keywords))
	for _, k := range tool.Keywords {
		keywords[strings.ToLower(k)] = true
	}

	total := 0
	for _, token := range tokens {
		switch {
		case token == name:
			total += scoreExactName
		case keywords[token]:
			total += scoreKeyword
		case token == category:
			total += scoreCategory
		case len(token) >= 3 && (strings.Contains(name, token) || strings.Contains(token, name)):
			total += scoreSubstring
		}
	}
	return total
}

// tokenize lowercases and splits on anything that is not a letter or digit,
// dropping duplicates while keeping first-seen order.
func tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != ':' && r != '/'
	})

	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
