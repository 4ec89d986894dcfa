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
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// writeArtifacts flushes the captured streams and metadata to
// outputs/<session>/<execution>.{stdout,stderr,meta.json}. Artifact flush
// is best-effort; a failure is logged, never surfaced.
func (e *Executor) writeArtifacts(ex *execution) {
	ex.mu.Lock()
	removed := ex.removed
	ex.mu.Unlock()
	if removed {
		return
	}

	dir := e.paths.OutputDir(ex.sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("Failed to create artifact directory", "execution_id", ex.id, "error", err)
		return
	}

	write := func(suffix string, data []byte) {
		path := filepath.Join(dir, ex.id+suffix)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			slog.Error("Failed to write artifact", "path", path, "error", err)
		}
	}

	write(".stdout", ex.stdout.bytes())
	write(".stderr", ex.stderr.bytes())

	meta, err := json.MarshalIndent(ex.snapshot(), "", "  ")
	if err != nil {
		slog.Error("Failed to encode execution metadata", "execution_id", ex.id, "error", err)
		return
	}
	write(".meta.json", meta)
}
