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

// Package brain is the orchestrator: it cleans input, triages intent,
// routes to the conversational, explanatory, command or planning paths,
// gates execution on the risk verdict and records every interaction.
package brain

import (
	"github.com/praetor-ai/praetor/pkg/composer"
	"github.com/praetor-ai/praetor/pkg/risk"
)

// ResponseType discriminates what the client received.
type ResponseType string

const (
	TypeConversation ResponseType = "conversation"
	TypeExplanation  ResponseType = "explanation"
	TypeCommand      ResponseType = "command"
	TypePlan         ResponseType = "plan"
	TypeError        ResponseType = "error"
)

// ErrorCode names the failure class of a response. It also appears on
// command responses whose verdict refused execution.
type ErrorCode string

const (
	CodeInputError           ErrorCode = "InputError"
	CodeToolNotFound         ErrorCode = "ToolNotFound"
	CodeCompositionError     ErrorCode = "CompositionError"
	CodeRiskBlock            ErrorCode = "RiskBlock"
	CodeConfirmationRequired ErrorCode = "ConfirmationRequired"
	CodeExecutionError       ErrorCode = "ExecutionError"
	CodeLLMUnavailable       ErrorCode = "LLMUnavailable"
)

// Response is the orchestrator's answer to one request. The populated
// fields depend on Type: command responses carry the composed argv and its
// risk verdict, plan responses carry the plan, error responses carry the
// code and message.
type Response struct {
	Type      ResponseType `json:"type"`
	SessionID string       `json:"session_id"`
	Intent    Intent       `json:"intent,omitempty"`

	Text string `json:"text,omitempty"`

	Tool        string                `json:"tool_name,omitempty"`
	Argv        []string              `json:"argv,omitempty"`
	Explanation string                `json:"explanation,omitempty"`
	Risk        *risk.Verdict         `json:"risk,omitempty"`
	ExecutionID string                `json:"execution_id,omitempty"`
	Suggestions []composer.Suggestion `json:"suggestions,omitempty"`

	Plan *Plan `json:"plan,omitempty"`

	Code  ErrorCode `json:"code,omitempty"`
	Error string    `json:"error,omitempty"`
}

// Plan is a multi-step approach to a goal. Steps are previews: each step's
// ToolRequest is resubmitted as an interactive request when the user walks
// the plan.
type Plan struct {
	Goal  string     `json:"goal"`
	Steps []PlanStep `json:"steps"`
}

type PlanStep struct {
	N               int    `json:"n"`
	Description     string `json:"description"`
	ToolRequest     string `json:"tool_request"`
	ExpectedOutcome string `json:"expected_outcome"`
}
