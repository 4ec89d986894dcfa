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
	"errors"
	"fmt"
)

var (
	// ErrNoToolFound means neither the literal pre-filter nor the model
	// picked a registered tool for the request.
	ErrNoToolFound = errors.New("no suitable tool found")

	// ErrLLMUnavailable wraps gateway failures during selection or
	// composition.
	ErrLLMUnavailable = errors.New("language model unavailable")
)

// UnresolvedPlaceholderError is a placeholder the model left in the argv
// that has no registry default.
type UnresolvedPlaceholderError struct {
	Name string
}

func (e *UnresolvedPlaceholderError) Error() string {
	return fmt.Sprintf("unresolved placeholder [%s]", e.Name)
}

// MissingRequiredError is a required parameter with neither a value nor a
// default.
type MissingRequiredError struct {
	Name string
}

func (e *MissingRequiredError) Error() string {
	return fmt.Sprintf("missing required parameter %s", e.Name)
}

// ValidationError is an argv entry that failed registry validation.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Param, e.Reason)
}
