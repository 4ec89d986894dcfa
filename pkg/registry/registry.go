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

// Package registry provides a generic thread-safe named registry used by
// the catalog and the executor's parser table.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

type Registry[T any] interface {
	Register(name string, item T) error
	Get(name string) (T, bool)
	List() []T
	Names() []string
	Remove(name string) error
	Count() int
}

type BaseRegistry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func NewBaseRegistry[T any]() *BaseRegistry[T] {
	return &BaseRegistry[T]{
		items: make(map[string]T),
	}
}

func (r *BaseRegistry[T]) Register(name string, item T) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; exists {
		return fmt.Errorf("item with name '%s' already registered", name)
	}

	r.items[name] = item
	return nil
}

func (r *BaseRegistry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.items[name]
	return item, exists
}

func (r *BaseRegistry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]T, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	return items
}

// Names returns registered names in ascending lexicographic order.
// Rankings built on top of the registry need a deterministic iteration
// order.
func (r *BaseRegistry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *BaseRegistry[T]) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; !exists {
		return fmt.Errorf("item '%s' not found", name)
	}

	delete(r.items, name)
	return nil
}

func (r *BaseRegistry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}
