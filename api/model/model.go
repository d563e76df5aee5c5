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

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/silohq/silo/model"
)

// StartJob is the request body for POST /v1/jobs.
type StartJob struct {
	WorkspaceID string          `json:"workspace_id"`
	ProjectID   string          `json:"project_id"`
	Source      string          `json:"source"`
	Config      json.RawMessage `json:"config"`
}

func (j *StartJob) ValidateStartJob() error {
	return validation.ValidateStruct(j,
		validation.Field(&j.WorkspaceID, validation.Required),
		validation.Field(&j.ProjectID, validation.Required),
		validation.Field(&j.Source, validation.Required, validation.In(
			string(model.SourceGithub),
			string(model.SourceGitlab),
			string(model.SourceJira),
			string(model.SourceAsana),
		)),
		validation.Field(&j.Config, validation.Required),
	)
}

// ToJob converts the request into a job record for the destination.
func (j *StartJob) ToJob() *model.Job {
	return &model.Job{
		WorkspaceID: j.WorkspaceID,
		ProjectID:   j.ProjectID,
		Source:      model.Source(j.Source),
		Status:      model.StatusQueued,
		Config:      j.Config,
	}
}
