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

package executor

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/praetor-ai/praetor/pkg/config"
)

// applyLimits installs the CPU, address-space and file-size rlimits on the
// already-started child. Prlimit targets the child directly so the service
// process keeps its own limits.
func applyLimits(pid int, cfg config.ExecutorConfig) error {
	limits := []struct {
		resource int
		value    uint64
		name     string
	}{
		{unix.RLIMIT_CPU, uint64(cfg.CPUSeconds), "cpu"},
		{unix.RLIMIT_AS, uint64(cfg.MemBytes), "as"},
		{unix.RLIMIT_FSIZE, uint64(cfg.FSizeBytes), "fsize"},
	}

	for _, l := range limits {
		rlim := &unix.Rlimit{Cur: l.value, Max: l.value}
		if err := unix.Prlimit(pid, l.resource, rlim, nil); err != nil {
			return fmt.Errorf("failed to set %s limit: %w", l.name, err)
		}
	}
	return nil
}
