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

package github

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silohq/silo/model"
)

// pagedFetcher serves scripted issues the way the live API pages them.
type pagedFetcher struct {
	issues []SourceIssue
	calls  int
}

func (f *pagedFetcher) FetchIssues(_ context.Context, _, _ string, page, perPage int) ([]SourceIssue, error) {
	f.calls++
	start := (page - 1) * perPage
	if start >= len(f.issues) {
		return nil, nil
	}
	end := start + perPage
	if end > len(f.issues) {
		end = len(f.issues)
	}
	return f.issues[start:end], nil
}

func githubJob(t *testing.T, cfg Config) *model.Job {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return &model.Job{
		ID:          "job_1",
		WorkspaceID: "ws",
		ProjectID:   "proj",
		Source:      model.SourceGithub,
		Config:      raw,
	}
}

func sourceIssues(n int) []SourceIssue {
	issues := make([]SourceIssue, 0, n)
	for i := 1; i <= n; i++ {
		issues = append(issues, SourceIssue{
			Number: i,
			Title:  fmt.Sprintf("issue %d", i),
			State:  "open",
		})
	}
	return issues
}

func TestBatches_PagesAndChunks(t *testing.T) {
	fetcher := &pagedFetcher{issues: sourceIssues(5)}
	m := NewMigrator(nil, fetcher)
	job := githubJob(t, Config{Repo: "acme/widgets", BatchSize: 2})

	batches, err := m.Batches(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, batches, 3)
	assert.Equal(t, 2, batches[0].Meta.Count)
	assert.Equal(t, 2, batches[1].Meta.Count)
	assert.Equal(t, 1, batches[2].Meta.Count)
	assert.Equal(t, 0, batches[0].Meta.Sequence)
	assert.Equal(t, 2, batches[2].Meta.Sequence)
	assert.NotEqual(t, batches[0].ID, batches[1].ID)

	// The short final page stops the listing.
	assert.Equal(t, 3, fetcher.calls)
}

func TestBatches_FiltersPullRequests(t *testing.T) {
	issues := sourceIssues(3)
	issues[1].PullRequest = &struct{}{}
	fetcher := &pagedFetcher{issues: issues}
	m := NewMigrator(nil, fetcher)
	job := githubJob(t, Config{Repo: "acme/widgets", BatchSize: 10})

	batches, err := m.Batches(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, batches, 1)
	assert.Equal(t, 2, batches[0].Meta.Count)
}

func TestBatches_EmptyRepo(t *testing.T) {
	m := NewMigrator(nil, &pagedFetcher{})
	job := githubJob(t, Config{Repo: "acme/empty"})

	batches, err := m.Batches(context.Background(), job)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestBatches_RejectsMissingRepo(t *testing.T) {
	m := NewMigrator(nil, &pagedFetcher{})
	job := githubJob(t, Config{})

	_, err := m.Batches(context.Background(), job)
	assert.Error(t, err)
}

func TestTransform_MapsIssuesLabelsAndMilestones(t *testing.T) {
	m := NewMigrator(nil, &pagedFetcher{})
	job := githubJob(t, Config{
		Repo:        "acme/widgets",
		PriorityMap: map[string]string{"p0": "urgent"},
	})

	milestone := &struct {
		Number      int    `json:"number"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}{Number: 1, Title: "v1.0", Description: "first release"}

	issues := []SourceIssue{
		{
			Number: 1,
			Title:  "crash on save",
			Body:   "<p>boom</p>",
			State:  "open",
			Labels: []sourceLabel{{Name: "bug", Color: "d73a4a"}, {Name: "p0", Color: "000000"}},
			Assignees: []struct {
				Login string `json:"login"`
			}{{Login: "sam"}},
			Milestone: milestone,
		},
		{
			Number:    2,
			Title:     "typo in docs",
			State:     "closed",
			Labels:    []sourceLabel{{Name: "bug", Color: "d73a4a"}},
			Milestone: milestone,
		},
	}
	data, err := json.Marshal(issues)
	require.NoError(t, err)

	set, err := m.Transform(context.Background(), job, model.Batch{ID: "batch_1", Data: data})
	require.NoError(t, err)

	require.Len(t, set.Issues, 2)
	first := set.Issues[0]
	assert.Equal(t, "acme/widgets#1", first.ExternalID)
	assert.Equal(t, model.SourceGithub, first.ExternalSource)
	assert.Equal(t, "crash on save", first.Name)
	assert.Equal(t, "backlog", first.State)
	assert.Equal(t, "urgent", first.Priority)
	assert.Equal(t, []string{"sam"}, first.Assignees)
	// The priority label is consumed, not imported as a plain label.
	assert.Equal(t, []string{"bug"}, first.Labels)

	assert.Equal(t, "completed", set.Issues[1].State)

	// Shared labels dedupe across issues within the batch.
	require.Len(t, set.Labels, 1)
	assert.Equal(t, "bug", set.Labels[0].Name)
	assert.Equal(t, "#d73a4a", set.Labels[0].Color)

	require.Len(t, set.Modules, 1)
	module := set.Modules[0]
	assert.Equal(t, "acme/widgets#milestone-1", module.ExternalID)
	assert.Equal(t, "v1.0", module.Name)
	assert.ElementsMatch(t, []string{"acme/widgets#1", "acme/widgets#2"}, module.IssueExternalIDs)

	assert.Empty(t, set.Cycles)
}

func TestTransform_CustomStateMap(t *testing.T) {
	m := NewMigrator(nil, &pagedFetcher{})
	job := githubJob(t, Config{
		Repo:     "acme/widgets",
		StateMap: map[string]string{"open": "in_progress"},
	})

	data, err := json.Marshal([]SourceIssue{{Number: 1, Title: "x", State: "open"}})
	require.NoError(t, err)

	set, err := m.Transform(context.Background(), job, model.Batch{ID: "batch_1", Data: data})
	require.NoError(t, err)
	assert.Equal(t, "in_progress", set.Issues[0].State)
}

func TestMapIssueEvent(t *testing.T) {
	job := githubJob(t, Config{Repo: "acme/widgets"})

	payload := []byte(`{"action":"edited","issue":{"number":7,"title":"renamed","state":"open"}}`)
	issue, err := MapIssueEvent(job, payload)
	require.NoError(t, err)
	require.NotNil(t, issue)
	assert.Equal(t, "acme/widgets#7", issue.ExternalID)
	assert.Equal(t, "renamed", issue.Name)
}

func TestMapIssueEvent_IgnoresPullRequests(t *testing.T) {
	job := githubJob(t, Config{Repo: "acme/widgets"})

	payload := []byte(`{"action":"opened","issue":{"number":8,"title":"pr","pull_request":{}}}`)
	issue, err := MapIssueEvent(job, payload)
	require.NoError(t, err)
	assert.Nil(t, issue)
}
