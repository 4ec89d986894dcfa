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

package composer

import (
	"fmt"
	"strings"

	"github.com/praetor-ai/praetor/pkg/catalog"
)

// shellMetachars are forbidden inside individual argv entries. The executor
// never invokes a shell, so any of these in an entry signals either an
// injection attempt or a model that produced raw shell.
const shellMetachars = "|&;<>()$`\\\"'\n*?~"

// Validate checks a candidate argv against the tool's registry entry:
// argv[0] must equal the base command, every flag and positional must be
// declared, required parameters must be satisfied, and every value must
// pass its validator.
func Validate(tool *catalog.ToolSpec, argv []string) error {
	if len(argv) == 0 {
		return &ValidationError{Param: "argv", Reason: "empty argv"}
	}
	if argv[0] != tool.BaseCommand {
		return &ValidationError{
			Param:  "argv[0]",
			Reason: fmt.Sprintf("%q does not match base command %q", argv[0], tool.BaseCommand),
		}
	}

	for _, entry := range argv {
		if strings.ContainsAny(entry, shellMetachars) {
			return &ValidationError{Param: entry, Reason: "shell metacharacter in argv entry"}
		}
	}

	supplied := make(map[string]bool)
	positionals := tool.Positionals()
	nextPositional := 0

	for i := 1; i < len(argv); i++ {
		entry := argv[i]

		if strings.HasPrefix(entry, "-") {
			param, ok := tool.ParamForFlag(entry)
			if !ok {
				return &ValidationError{Param: entry, Reason: "flag not declared for tool"}
			}
			supplied[param.Name] = true

			if param.RequiresValue {
				if i+1 >= len(argv) {
					return &ValidationError{Param: param.Name, Reason: "flag requires a value"}
				}
				i++
				if err := param.ValidateValue(argv[i]); err != nil {
					return &ValidationError{Param: param.Name, Reason: err.Error()}
				}
			}
			continue
		}

		if nextPositional >= len(positionals) {
			return &ValidationError{Param: entry, Reason: "positional not declared for tool"}
		}
		param := positionals[nextPositional]
		nextPositional++
		supplied[param.Name] = true

		if err := param.ValidateValue(entry); err != nil {
			return &ValidationError{Param: param.Name, Reason: err.Error()}
		}
	}

	for i := range tool.Parameters {
		p := &tool.Parameters[i]
		if p.Required && !supplied[p.Name] && p.Default == "" {
			return &MissingRequiredError{Name: p.Name}
		}
	}
	return nil
}
