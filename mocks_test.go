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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/silohq/silo/config"
	"github.com/silohq/silo/internal/apierror"
	"github.com/silohq/silo/model"
)

// fakeDestination is an in-memory destination.Client. Create calls return
// typed conflicts on duplicate external ids, matching the live API contract.
type fakeDestination struct {
	mu sync.Mutex

	jobs    map[string]*model.Job
	reports map[string]*model.Report
	issues  map[string]*model.Issue
	labels  map[string]*model.Label
	modules map[string]*model.Module
	cycles  map[string]*model.Cycle

	moduleIssues map[string][]string
	cycleIssues  map[string][]string

	updateJobErr error
	nextID       int
}

func newFakeDestination() *fakeDestination {
	return &fakeDestination{
		jobs:         make(map[string]*model.Job),
		reports:      make(map[string]*model.Report),
		issues:       make(map[string]*model.Issue),
		labels:       make(map[string]*model.Label),
		modules:      make(map[string]*model.Module),
		cycles:       make(map[string]*model.Cycle),
		moduleIssues: make(map[string][]string),
		cycleIssues:  make(map[string][]string),
	}
}

func (f *fakeDestination) genID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s_%d", prefix, f.nextID)
}

func (f *fakeDestination) seedJob(job *model.Job) *model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == "" {
		job.ID = f.genID("job")
	}
	f.jobs[job.ID] = job
	f.reports[job.ID] = &model.Report{JobID: job.ID}
	return job
}

func (f *fakeDestination) CreateJob(_ context.Context, job *model.Job) (*model.Job, error) {
	created := *job
	return f.seedJob(&created), nil
}

func (f *fakeDestination) GetJob(_ context.Context, jobID string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, apierror.APIError{Code: apierror.ErrNotFound, Message: "job not found"}
	}
	copied := *job
	return &copied, nil
}

func (f *fakeDestination) UpdateJob(_ context.Context, jobID string, patch *model.JobPatch) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateJobErr != nil {
		return nil, f.updateJobErr
	}
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, apierror.APIError{Code: apierror.ErrNotFound, Message: "job not found"}
	}
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.TotalBatchCount != nil {
		job.TotalBatchCount = *patch.TotalBatchCount
	}
	if patch.CompletedBatchCount != nil {
		job.CompletedBatchCount = *patch.CompletedBatchCount
	}
	if patch.TransformedBatchCount != nil {
		job.TransformedBatchCount = *patch.TransformedBatchCount
	}
	if patch.ErrorMetadata != nil {
		job.ErrorMetadata = patch.ErrorMetadata
	}
	job.UpdatedAt = time.Now()
	copied := *job
	return &copied, nil
}

func (f *fakeDestination) UpdateReport(_ context.Context, jobID string, patch *model.ReportPatch) (*model.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	report, ok := f.reports[jobID]
	if !ok {
		return nil, apierror.APIError{Code: apierror.ErrNotFound, Message: "report not found"}
	}
	if patch.TotalBatchCount != nil {
		report.TotalBatchCount = *patch.TotalBatchCount
	}
	if patch.CompletedBatchCount != nil {
		report.CompletedBatchCount = *patch.CompletedBatchCount
	}
	if patch.TransformedBatchCount != nil {
		report.TransformedBatchCount = *patch.TransformedBatchCount
	}
	if patch.ImportedIssueCount != nil {
		report.ImportedIssueCount += *patch.ImportedIssueCount
	}
	if patch.CompletedAt != nil {
		report.CompletedAt = patch.CompletedAt
	}
	copied := *report
	return &copied, nil
}

func (f *fakeDestination) GetReport(_ context.Context, jobID string) (*model.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	report, ok := f.reports[jobID]
	if !ok {
		return nil, apierror.APIError{Code: apierror.ErrNotFound, Message: "report not found"}
	}
	copied := *report
	return &copied, nil
}

func (f *fakeDestination) CreateLabel(_ context.Context, _, _ string, label *model.Label) (*model.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.labels[label.Name]; ok {
		return nil, apierror.NewConflictError("label already exists", existing.ID)
	}
	created := *label
	created.ID = f.genID("label")
	f.labels[label.Name] = &created
	return &created, nil
}

func (f *fakeDestination) CreateIssue(_ context.Context, _, _ string, issue *model.Issue) (*model.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.issues[issue.ExternalID]; ok {
		return nil, apierror.NewConflictError("issue already exists", existing.ID)
	}
	created := *issue
	created.ID = f.genID("issue")
	f.issues[issue.ExternalID] = &created
	return &created, nil
}

func (f *fakeDestination) CreateModule(_ context.Context, _, _ string, module *model.Module) (*model.Module, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.modules[module.ExternalID]; ok {
		return nil, apierror.NewConflictError("module already exists", existing.ID)
	}
	created := *module
	created.ID = f.genID("module")
	f.modules[module.ExternalID] = &created
	return &created, nil
}

func (f *fakeDestination) CreateCycle(_ context.Context, _, _ string, cycle *model.Cycle) (*model.Cycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.cycles[cycle.ExternalID]; ok {
		return nil, apierror.NewConflictError("cycle already exists", existing.ID)
	}
	created := *cycle
	created.ID = f.genID("cycle")
	f.cycles[cycle.ExternalID] = &created
	return &created, nil
}

func (f *fakeDestination) AddModuleIssues(_ context.Context, _, _, moduleID string, issueIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moduleIssues[moduleID] = append(f.moduleIssues[moduleID], issueIDs...)
	return nil
}

func (f *fakeDestination) AddCycleIssues(_ context.Context, _, _, cycleID string, issueIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycleIssues[cycleID] = append(f.cycleIssues[cycleID], issueIDs...)
	return nil
}

func (f *fakeDestination) GetIssueByExternalID(_ context.Context, _, _ string, _ model.Source, externalID string) (*model.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[externalID]
	if !ok {
		return nil, apierror.APIError{Code: apierror.ErrNotFound, Message: "issue not found"}
	}
	copied := *issue
	return &copied, nil
}

// fakeMigrator serves scripted batches and transforms through the fake
// destination's job store.
type fakeMigrator struct {
	source  model.Source
	dest    *fakeDestination
	batches []model.Batch
	sets    map[string]*model.EntitySet

	batchesErr   error
	transformErr error

	transformCalls int
}

func (m *fakeMigrator) Source() model.Source {
	return m.source
}

func (m *fakeMigrator) GetJobData(ctx context.Context, jobID string) (*model.Job, error) {
	return m.dest.GetJob(ctx, jobID)
}

func (m *fakeMigrator) Batches(_ context.Context, _ *model.Job) ([]model.Batch, error) {
	if m.batchesErr != nil {
		return nil, m.batchesErr
	}
	return m.batches, nil
}

func (m *fakeMigrator) Transform(_ context.Context, _ *model.Job, batch model.Batch) (*model.EntitySet, error) {
	m.transformCalls++
	if m.transformErr != nil {
		return nil, m.transformErr
	}
	return m.sets[batch.ID], nil
}

func testConfig(addr string) *config.Configuration {
	conf := &config.Configuration{
		Redis:       config.RedisConfig{Dns: addr},
		Destination: config.DestinationConfig{Url: "http://localhost:9000", Timeout: 5},
		Queue: config.QueueConfig{
			MigrationQueue:   "silo:migration",
			WebhookQueue:     "silo:webhook",
			MaxRetryAttempts: 5,
			BatchStaggerMs:   1,
			RequeueDelayMs:   10,
			DedupIntervalMs:  50,
		},
	}
	config.MockConfig(conf)
	return conf
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}
