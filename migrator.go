/*
Copyright 2025 Silo Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package silo

import (
	"context"
	"fmt"
	"sync"

	"github.com/silohq/silo/model"
)

// Migrator is the per-integration contract the pipeline delegates source
// specific behavior to. Implementations decode the job's opaque config blob
// themselves; the pipeline never looks inside it.
type Migrator interface {
	// Source names the integration this migrator serves.
	Source() model.Source

	// GetJobData fetches the job record, including its config blob.
	GetJobData(ctx context.Context, jobID string) (*model.Job, error)

	// Batches pulls the source data and slices it into bounded batches.
	// Called once per job, during the pulling stage. An empty result is the
	// legitimate "nothing to migrate" signal, not an error.
	Batches(ctx context.Context, job *model.Job) ([]model.Batch, error)

	// Transform converts one batch of source entities into destination
	// shaped output. An empty set means the batch contributed nothing.
	Transform(ctx context.Context, job *model.Job, batch model.Batch) (*model.EntitySet, error)
}

// Registry maps sources to their migrators. Read-mostly: registration
// happens at startup, lookups on every task.
type Registry struct {
	mu        sync.RWMutex
	migrators map[model.Source]Migrator
}

// NewRegistry returns an empty migrator registry.
func NewRegistry() *Registry {
	return &Registry{migrators: make(map[model.Source]Migrator)}
}

// Register adds a migrator for its source, replacing any previous one.
func (r *Registry) Register(m Migrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.migrators[m.Source()] = m
}

// Get returns the migrator for a source.
func (r *Registry) Get(source model.Source) (Migrator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.migrators[source]
	if !ok {
		return nil, fmt.Errorf("no migrator registered for source %q", source)
	}
	return m, nil
}
