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

package observability

// Span names.
const (
	SpanHTTPRequest   = "praetor.http.request"
	SpanLLMGenerate   = "praetor.llm.generate"
	SpanRiskEvaluate  = "praetor.risk.evaluate"
	SpanCompose       = "praetor.composer.compose"
	SpanExecution     = "praetor.executor.run"
	SpanProcessIntent = "praetor.brain.process"
)

// Attribute keys.
const (
	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.path"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"
	AttrErrorType        = "error.type"
	AttrTemplate         = "llm.template"
	AttrModel            = "llm.model"
	AttrTool             = "tool.name"
	AttrSessionID        = "session.id"
	AttrExecutionID      = "execution.id"
	AttrRiskLevel        = "risk.level"
	AttrIntent           = "intent"
)
