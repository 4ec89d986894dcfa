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

package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseRateLimitHeaders extracts retry hints from standard rate-limit
// headers. Retry-After may be seconds or an HTTP date.
func ParseRateLimitHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
		} else if t, err := http.ParseTime(retryAfter); err == nil {
			if d := time.Until(t); d > 0 {
				info.RetryAfter = d
			}
		}
	}

	if reset := headers.Get("X-RateLimit-Reset"); reset != "" {
		if ts, err := strconv.ParseInt(reset, 10, 64); err == nil {
			info.ResetTime = ts
		}
	}

	return info
}
