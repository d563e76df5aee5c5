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

// Package destination talks to the system that owns the migrated data. Job
// and Report records live there too; the pipeline only ever patches them
// through this client.
package destination

import (
	"context"

	"github.com/silohq/silo/model"
)

// Client is the destination API surface consumed by the pipeline. Create
// calls return typed conflict errors (apierror.ErrConflict with the existing
// record's id) when the entity's external id is already present.
type Client interface {
	CreateJob(ctx context.Context, job *model.Job) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	UpdateJob(ctx context.Context, jobID string, patch *model.JobPatch) (*model.Job, error)
	UpdateReport(ctx context.Context, jobID string, patch *model.ReportPatch) (*model.Report, error)
	GetReport(ctx context.Context, jobID string) (*model.Report, error)

	CreateLabel(ctx context.Context, workspaceID, projectID string, label *model.Label) (*model.Label, error)
	CreateIssue(ctx context.Context, workspaceID, projectID string, issue *model.Issue) (*model.Issue, error)
	CreateModule(ctx context.Context, workspaceID, projectID string, module *model.Module) (*model.Module, error)
	CreateCycle(ctx context.Context, workspaceID, projectID string, cycle *model.Cycle) (*model.Cycle, error)

	AddModuleIssues(ctx context.Context, workspaceID, projectID, moduleID string, issueIDs []string) error
	AddCycleIssues(ctx context.Context, workspaceID, projectID, cycleID string, issueIDs []string) error

	GetIssueByExternalID(ctx context.Context, workspaceID, projectID string, source model.Source, externalID string) (*model.Issue, error)
}
