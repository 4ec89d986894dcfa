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
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Intent is the triage classification of a cleaned request.
type Intent string

const (
	IntentGeneralConversation Intent = "general_conversation"
	IntentExplanationRequest  Intent = "explanation_request"
	IntentToolRequest         Intent = "tool_request"
	IntentCommandRequest      Intent = "command_request"
	IntentPlanRequest         Intent = "plan_request"
	IntentSystemOperation     Intent = "system_operation"
	IntentTroubleshooting     Intent = "troubleshooting_request"
	IntentForensicsRequest    Intent = "forensics_request"
	IntentNetworkAnalysis     Intent = "network_analysis"
	IntentAutomationRequest   Intent = "automation_request"
)

var knownIntents = map[Intent]bool{
	IntentGeneralConversation: true,
	IntentExplanationRequest:  true,
	IntentToolRequest:         true,
	IntentCommandRequest:      true,
	IntentPlanRequest:         true,
	IntentSystemOperation:     true,
	IntentTroubleshooting:     true,
	IntentForensicsRequest:    true,
	IntentNetworkAnalysis:     true,
	IntentAutomationRequest:   true,
}

// ParseIntent coerces a classifier reply to a known intent. Anything
// unrecognized falls back to general conversation.
func ParseIntent(s string) Intent {
	in := Intent(strings.ToLower(strings.TrimSpace(s)))
	if knownIntents[in] {
		return in
	}
	return IntentGeneralConversation
}

// wantsCommand reports whether the intent routes through the tool
// selection and composition pipeline.
func (in Intent) wantsCommand() bool {
	switch in {
	case IntentToolRequest, IntentCommandRequest, IntentForensicsRequest, IntentNetworkAnalysis:
		return true
	}
	return false
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07`)

// cleanInput strips terminal escape sequences and control characters and
// trims whitespace. An input that cleans down to nothing is rejected.
func cleanInput(raw string) (string, error) {
	s := ansiRe.ReplaceAllString(raw, "")
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty input")
	}
	return s, nil
}

// parseTriageReply accepts either a bare intent word or a JSON object with
// an intent field.
func parseTriageReply(reply string) Intent {
	trimmed := strings.TrimSpace(reply)
	if strings.Contains(trimmed, "{") {
		var parsed struct {
			Intent string `json:"intent"`
		}
		if err := json.Unmarshal([]byte(extractJSON(trimmed)), &parsed); err == nil && parsed.Intent != "" {
			return ParseIntent(parsed.Intent)
		}
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return IntentGeneralConversation
	}
	return ParseIntent(strings.Trim(fields[0], ".`\"'"))
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
