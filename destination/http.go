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

package destination

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/silohq/silo/config"
	"github.com/silohq/silo/internal/apierror"
	"github.com/silohq/silo/internal/request"
	"github.com/silohq/silo/internal/retry"
	"github.com/silohq/silo/model"
)

// HTTPClient implements Client against the destination's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	retry   *retry.Policy
}

// NewHTTPClient builds a destination client from configuration. The retry
// policy may be nil, in which case the default one is used.
func NewHTTPClient(conf *config.Configuration, policy *retry.Policy) *HTTPClient {
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	return &HTTPClient{
		baseURL: conf.Destination.Url,
		apiKey:  conf.Destination.ApiKey,
		client:  &http.Client{Timeout: time.Duration(conf.Destination.Timeout) * time.Second},
		retry:   policy,
	}
}

// errorBody is the destination's structured error response. On conflicts the
// id field carries the pre-existing record's id.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// do runs one API call with the retry policy. 5xx and transport errors are
// retried; everything else is decoded into a typed apierror and returned as
// permanent.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	return c.retry.Do(ctx, func() error {
		var reqBody io.Reader
		if body != nil {
			buf, err := request.ToJsonReq(body)
			if err != nil {
				return retry.Permanent(err)
			}
			reqBody = buf
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("destination returned %d for %s %s", resp.StatusCode, method, path)
		}

		if resp.StatusCode >= 400 {
			return retry.Permanent(c.decodeError(resp))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(errors.Wrapf(err, "decoding %s %s response", method, path))
		}
		return nil
	})
}

func (c *HTTPClient) decodeError(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch resp.StatusCode {
	case http.StatusConflict:
		return apierror.NewConflictError(body.Message, body.ID)
	case http.StatusNotFound:
		return apierror.APIError{Code: apierror.ErrNotFound, Message: body.Message}
	case http.StatusBadRequest:
		return apierror.APIError{Code: apierror.ErrBadRequest, Message: body.Message}
	default:
		return apierror.APIError{Code: apierror.ErrInvalidInput, Message: body.Message}
	}
}

func (c *HTTPClient) CreateJob(ctx context.Context, job *model.Job) (*model.Job, error) {
	var created model.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", job, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *HTTPClient) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/jobs/%s", jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *HTTPClient) UpdateJob(ctx context.Context, jobID string, patch *model.JobPatch) (*model.Job, error) {
	var job model.Job
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/v1/jobs/%s", jobID), patch, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *HTTPClient) UpdateReport(ctx context.Context, jobID string, patch *model.ReportPatch) (*model.Report, error) {
	var report model.Report
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/v1/jobs/%s/report", jobID), patch, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *HTTPClient) GetReport(ctx context.Context, jobID string) (*model.Report, error) {
	var report model.Report
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/jobs/%s/report", jobID), nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *HTTPClient) CreateLabel(ctx context.Context, workspaceID, projectID string, label *model.Label) (*model.Label, error) {
	var created model.Label
	path := fmt.Sprintf("/v1/workspaces/%s/projects/%s/labels", workspaceID, projectID)
	if err := c.do(ctx, http.MethodPost, path, label, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *HTTPClient) CreateIssue(ctx context.Context, workspaceID, projectID string, issue *model.Issue) (*model.Issue, error) {
	var created model.Issue
	path := fmt.Sprintf("/v1/workspaces/%s/projects/%s/issues", workspaceID, projectID)
	if err := c.do(ctx, http.MethodPost, path, issue, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *HTTPClient) CreateModule(ctx context.Context, workspaceID, projectID string, module *model.Module) (*model.Module, error) {
	var created model.Module
	path := fmt.Sprintf("/v1/workspaces/%s/projects/%s/modules", workspaceID, projectID)
	if err := c.do(ctx, http.MethodPost, path, module, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *HTTPClient) CreateCycle(ctx context.Context, workspaceID, projectID string, cycle *model.Cycle) (*model.Cycle, error) {
	var created model.Cycle
	path := fmt.Sprintf("/v1/workspaces/%s/projects/%s/cycles", workspaceID, projectID)
	if err := c.do(ctx, http.MethodPost, path, cycle, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *HTTPClient) AddModuleIssues(ctx context.Context, workspaceID, projectID, moduleID string, issueIDs []string) error {
	path := fmt.Sprintf("/v1/workspaces/%s/projects/%s/modules/%s/issues", workspaceID, projectID, moduleID)
	return c.do(ctx, http.MethodPost, path, map[string][]string{"issues": issueIDs}, nil)
}

func (c *HTTPClient) AddCycleIssues(ctx context.Context, workspaceID, projectID, cycleID string, issueIDs []string) error {
	path := fmt.Sprintf("/v1/workspaces/%s/projects/%s/cycles/%s/issues", workspaceID, projectID, cycleID)
	return c.do(ctx, http.MethodPost, path, map[string][]string{"issues": issueIDs}, nil)
}

func (c *HTTPClient) GetIssueByExternalID(ctx context.Context, workspaceID, projectID string, source model.Source, externalID string) (*model.Issue, error) {
	var issue model.Issue
	path := fmt.Sprintf("/v1/workspaces/%s/projects/%s/issues/lookup?external_source=%s&external_id=%s",
		workspaceID, projectID, url.QueryEscape(string(source)), url.QueryEscape(externalID))
	if err := c.do(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}
