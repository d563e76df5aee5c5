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

// Package github migrates GitHub repository issues. Issues map to issues,
// issue labels to labels, and milestones to modules. GitHub has no sprint
// concept, so this integration never produces cycles.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/silohq/silo/destination"
	"github.com/silohq/silo/internal/request"
	"github.com/silohq/silo/model"
)

const (
	apiBaseURL       = "https://api.github.com"
	defaultBatchSize = 50
	maxBatchSize     = 100
)

// Config is the job config blob this integration understands.
type Config struct {
	// Repo is the "owner/name" slug of the repository to import.
	Repo string `json:"repo"`
	// Token is a personal access token with read access to the repo.
	Token string `json:"token"`
	// BatchSize bounds the number of issues per batch.
	BatchSize int `json:"batch_size,omitempty"`
	// StateMap overrides the default open/closed state mapping.
	StateMap map[string]string `json:"state_map,omitempty"`
	// PriorityMap maps a GitHub label name to a destination priority. A label
	// used as a priority is not imported as a plain label.
	PriorityMap map[string]string `json:"priority_map,omitempty"`
}

func parseConfig(job *model.Job) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(job.Config, &cfg); err != nil {
		return nil, errors.Wrapf(err, "decoding github config for job %s", job.ID)
	}
	if cfg.Repo == "" {
		return nil, errors.Errorf("job %s github config has no repo", job.ID)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchSize > maxBatchSize {
		cfg.BatchSize = maxBatchSize
	}
	return &cfg, nil
}

// SourceIssue is the slice of the GitHub issue payload the migration needs.
// The same shape arrives in list responses and webhook deliveries.
type SourceIssue struct {
	Number    int           `json:"number"`
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	State     string        `json:"state"`
	Labels    []sourceLabel `json:"labels"`
	Milestone *struct {
		Number      int    `json:"number"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"milestone"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
	PullRequest *struct{}  `json:"pull_request,omitempty"`
	CreatedAt   *time.Time `json:"created_at"`
	ClosedAt    *time.Time `json:"closed_at"`
}

type sourceLabel struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// IssueFetcher lists a repository's issues one page at a time. Pages are
// 1-indexed; a short page ends the listing.
type IssueFetcher interface {
	FetchIssues(ctx context.Context, repo, token string, page, perPage int) ([]SourceIssue, error)
}

// apiFetcher is the live IssueFetcher against the GitHub REST API.
type apiFetcher struct {
	baseURL string
	client  *http.Client
}

// NewFetcher returns an IssueFetcher backed by api.github.com.
func NewFetcher() IssueFetcher {
	return &apiFetcher{baseURL: apiBaseURL, client: &http.Client{Timeout: 30 * time.Second}}
}

func (f *apiFetcher) FetchIssues(ctx context.Context, repo, token string, page, perPage int) ([]SourceIssue, error) {
	url := fmt.Sprintf("%s/repos/%s/issues?state=all&page=%d&per_page=%d", f.baseURL, repo, page, perPage)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	var issues []SourceIssue
	resp, err := request.Call(f.client, req, &issues)
	if err != nil {
		return nil, errors.Wrapf(err, "listing issues for %s page %d", repo, page)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.Errorf("github returned %d listing issues for %s", resp.StatusCode, repo)
	}
	return issues, nil
}

// Migrator implements the migration contract for GitHub repositories.
type Migrator struct {
	dest    destination.Client
	fetcher IssueFetcher
}

// NewMigrator builds the GitHub migrator. A nil fetcher uses the live API.
func NewMigrator(dest destination.Client, fetcher IssueFetcher) *Migrator {
	if fetcher == nil {
		fetcher = NewFetcher()
	}
	return &Migrator{dest: dest, fetcher: fetcher}
}

func (m *Migrator) Source() model.Source {
	return model.SourceGithub
}

func (m *Migrator) GetJobData(ctx context.Context, jobID string) (*model.Job, error) {
	return m.dest.GetJob(ctx, jobID)
}

// Batches pulls every issue of the configured repo and slices them into
// batches of the configured size. Pull requests share the issues endpoint on
// GitHub and are filtered out here, before batching, so batch counts reflect
// real issues.
func (m *Migrator) Batches(ctx context.Context, job *model.Job) ([]model.Batch, error) {
	cfg, err := parseConfig(job)
	if err != nil {
		return nil, err
	}

	var all []SourceIssue
	for page := 1; ; page++ {
		issues, err := m.fetcher.FetchIssues(ctx, cfg.Repo, cfg.Token, page, cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		for _, issue := range issues {
			if issue.PullRequest != nil {
				continue
			}
			all = append(all, issue)
		}
		if len(issues) < cfg.BatchSize {
			break
		}
	}

	var batches []model.Batch
	for start := 0; start < len(all); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(all) {
			end = len(all)
		}
		chunk := all[start:end]
		data, err := json.Marshal(chunk)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding batch of %s issues", cfg.Repo)
		}
		batches = append(batches, model.Batch{
			ID:   model.GenerateUUIDWithSuffix("batch"),
			Meta: model.BatchMeta{Sequence: len(batches), Count: len(chunk)},
			Data: data,
		})
	}

	logrus.Infof("github: repo %s produced %d issues in %d batches", cfg.Repo, len(all), len(batches))
	return batches, nil
}

// Transform maps one batch of GitHub issues to destination entities.
func (m *Migrator) Transform(ctx context.Context, job *model.Job, batch model.Batch) (*model.EntitySet, error) {
	cfg, err := parseConfig(job)
	if err != nil {
		return nil, err
	}

	var issues []SourceIssue
	if err := json.Unmarshal(batch.Data, &issues); err != nil {
		return nil, errors.Wrapf(err, "decoding batch %s", batch.ID)
	}

	set := &model.EntitySet{}
	seenLabels := make(map[string]bool)
	modules := make(map[string]*model.Module)
	var moduleOrder []string

	for _, src := range issues {
		issue := mapIssue(cfg, src)
		set.Issues = append(set.Issues, issue)

		for _, label := range src.Labels {
			if _, isPriority := cfg.PriorityMap[label.Name]; isPriority || seenLabels[label.Name] {
				continue
			}
			seenLabels[label.Name] = true
			set.Labels = append(set.Labels, model.Label{
				Name:           label.Name,
				Color:          "#" + label.Color,
				ExternalSource: model.SourceGithub,
			})
		}

		if src.Milestone != nil {
			key := milestoneExternalID(cfg.Repo, src.Milestone.Number)
			module, ok := modules[key]
			if !ok {
				module = &model.Module{
					ExternalID:     key,
					ExternalSource: model.SourceGithub,
					Name:           src.Milestone.Title,
					Description:    src.Milestone.Description,
				}
				modules[key] = module
				moduleOrder = append(moduleOrder, key)
			}
			module.IssueExternalIDs = append(module.IssueExternalIDs, issue.ExternalID)
		}
	}

	for _, key := range moduleOrder {
		set.Modules = append(set.Modules, *modules[key])
	}

	return set, nil
}

// mapIssue converts one GitHub issue to the destination shape.
func mapIssue(cfg *Config, src SourceIssue) model.Issue {
	issue := model.Issue{
		ExternalID:     IssueExternalID(cfg.Repo, src.Number),
		ExternalSource: model.SourceGithub,
		Name:           src.Title,
		Description:    src.Body,
		State:          mapState(cfg, src.State),
		CreatedAt:      src.CreatedAt,
		CompletedAt:    src.ClosedAt,
	}
	for _, assignee := range src.Assignees {
		issue.Assignees = append(issue.Assignees, assignee.Login)
	}
	for _, label := range src.Labels {
		if priority, ok := cfg.PriorityMap[label.Name]; ok {
			issue.Priority = priority
			continue
		}
		issue.Labels = append(issue.Labels, label.Name)
	}
	return issue
}

func mapState(cfg *Config, state string) string {
	if mapped, ok := cfg.StateMap[state]; ok {
		return mapped
	}
	switch state {
	case "closed":
		return "completed"
	default:
		return "backlog"
	}
}

// IssueExternalID is the stable identity of a GitHub issue across batches,
// webhook deliveries and dedup markers.
func IssueExternalID(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}

func milestoneExternalID(repo string, number int) string {
	return fmt.Sprintf("%s#milestone-%d", repo, number)
}

// issueEvent is the fragment of a GitHub issues webhook delivery the sync
// path needs.
type issueEvent struct {
	Action string      `json:"action"`
	Issue  SourceIssue `json:"issue"`
}

// MapIssueEvent converts a GitHub issues webhook delivery into a
// destination-shaped issue using the job's mapping config. A nil issue with
// no error means the delivery is not importable (e.g. a pull request event).
func MapIssueEvent(job *model.Job, payload []byte) (*model.Issue, error) {
	cfg, err := parseConfig(job)
	if err != nil {
		return nil, err
	}
	var event issueEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, errors.Wrap(err, "decoding github issue event")
	}
	if event.Issue.PullRequest != nil {
		return nil, nil
	}
	issue := mapIssue(cfg, event.Issue)
	return &issue, nil
}
