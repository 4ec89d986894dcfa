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

package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the per-call deadline elapses.
	ErrTimeout = errors.New("llm deadline exceeded")

	// ErrQuotaExceeded is returned when the endpoint's rate or quota budget
	// is exhausted (429 after retries).
	ErrQuotaExceeded = errors.New("llm quota exceeded")

	// ErrUnavailable is returned when transient failures outlast the retry
	// budget (network errors, 5xx).
	ErrUnavailable = errors.New("llm unavailable")
)

// RemoteRejectedError is a non-retryable 4xx from the completion endpoint.
type RemoteRejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("llm request rejected (HTTP %d): %s", e.StatusCode, e.Reason)
}

// IsRemoteRejected reports whether err is a RemoteRejectedError.
func IsRemoteRejected(err error) bool {
	var rr *RemoteRejectedError
	return errors.As(err, &rr)
}
