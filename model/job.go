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

package model

import (
	"encoding/json"
	"time"
)

// Source identifies the external issue tracker a job imports from.
type Source string

const (
	SourceGithub Source = "github"
	SourceGitlab Source = "gitlab"
	SourceJira   Source = "jira"
	SourceAsana  Source = "asana"
)

// Job statuses. These are the literal stage strings accepted by Update and
// stored on the destination side.
const (
	StatusQueued       = "QUEUED"
	StatusPulling      = "PULLING"
	StatusPulled       = "PULLED"
	StatusTransforming = "TRANSFORMING"
	StatusTransformed  = "TRANSFORMED"
	StatusPushing      = "PUSHING"
	StatusFinished     = "FINISHED"
	StatusError        = "ERROR"
)

// Job represents one migration run from a source integration into a
// destination workspace/project. The record is owned by the destination
// system; the pipeline fetches and patches it through the destination client
// and never deletes it.
type Job struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	ProjectID   string `json:"project_id"`
	Source      Source `json:"source"`

	Status                string `json:"status"`
	TotalBatchCount       int    `json:"total_batch_count"`
	CompletedBatchCount   int    `json:"completed_batch_count"`
	TransformedBatchCount int    `json:"transformed_batch_count"`

	// Config is the source-specific mapping blob (field/state/priority maps).
	// Opaque to the pipeline, decoded only by the job's migrator.
	Config json.RawMessage `json:"config,omitempty"`

	ErrorMetadata map[string]interface{} `json:"error_metadata,omitempty"`
	CancelledAt   *time.Time             `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// IsCancelled reports whether the job has been cooperatively cancelled.
// Once true, no status transition other than lock release may occur.
func (j *Job) IsCancelled() bool {
	return j.CancelledAt != nil
}

// JobPatch is the partial update applied through Update. Nil fields are left
// untouched by the destination.
type JobPatch struct {
	Status                *string                `json:"status,omitempty"`
	TotalBatchCount       *int                   `json:"total_batch_count,omitempty"`
	CompletedBatchCount   *int                   `json:"completed_batch_count,omitempty"`
	TransformedBatchCount *int                   `json:"transformed_batch_count,omitempty"`
	ErrorMetadata         map[string]interface{} `json:"error_metadata,omitempty"`
}

// Report carries the aggregate progress counters for a job, persisted
// separately so progress can be read without loading the job config.
type Report struct {
	JobID                 string     `json:"job_id"`
	TotalBatchCount       int        `json:"total_batch_count"`
	CompletedBatchCount   int        `json:"completed_batch_count"`
	TransformedBatchCount int        `json:"transformed_batch_count"`
	ImportedIssueCount    int        `json:"imported_issue_count"`
	StartedAt             *time.Time `json:"started_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

// ReportPatch is the partial update applied to a job's report alongside the
// job patch.
type ReportPatch struct {
	TotalBatchCount       *int       `json:"total_batch_count,omitempty"`
	CompletedBatchCount   *int       `json:"completed_batch_count,omitempty"`
	TransformedBatchCount *int       `json:"transformed_batch_count,omitempty"`
	ImportedIssueCount    *int       `json:"imported_issue_count,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

// BatchMeta describes a batch's position within its job.
type BatchMeta struct {
	Sequence int `json:"sequence"`
	Count    int `json:"count"`
}

// Batch is a bounded, immutable slice of source entities produced once
// during the pulling stage. The ID doubles as the lock token and the queue
// correlation id; the payload is opaque to the pipeline and only decoded by
// the migrator that produced it.
type Batch struct {
	ID   string          `json:"id"`
	Meta BatchMeta       `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// Ptr returns a pointer to v. Convenience for building patches.
func Ptr[T any](v T) *T {
	return &v
}
