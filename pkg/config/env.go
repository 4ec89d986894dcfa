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

package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env.local and .env from the working directory if they
// exist. Values already present in the environment win.
func LoadDotEnv() error {
	envFiles := []string{".env.local", ".env"}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	return nil
}
