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
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/silohq/silo"
	"github.com/silohq/silo/config"
	"github.com/silohq/silo/integrations/github"
	"github.com/silohq/silo/model"
)

// ReceiveWebhook ingests a source webhook delivery. The event name comes from
// the X-Silo-Event header ("job.initiate" or "issue.sync") and the job it
// belongs to from the job_id query parameter. Deliveries that echo our own
// writes back are recognized by their dedup marker and dropped here, before
// anything is enqueued.
func (a Api) ReceiveWebhook(c *gin.Context) {
	source, passed := c.Params.Get("source")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source is required. pass source in the route /:source"})
		return
	}

	event := c.GetHeader("X-Silo-Event")
	if event == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Silo-Event header is required"})
		return
	}

	jobID := c.Query("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id query parameter is required"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conf, err := config.Fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	headers := model.TaskHeaders{
		Route: conf.Queue.WebhookQueue,
		JobID: jobID,
		Type:  source + "." + event,
	}
	ctx := c.Request.Context()

	switch event {
	case silo.EventJobInitiate:
		if err := a.silo.Dispatcher().RegisterTask(ctx, headers, body); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

	case silo.EventIssueSync:
		job, err := a.silo.Destination().GetJob(ctx, jobID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		issue, err := mapIssuePayload(job, body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if issue == nil {
			c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
			return
		}

		echo, err := a.silo.Dispatcher().ConsumeMarker(ctx, model.KindIssue, issue.ExternalID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if echo {
			c.JSON(http.StatusAccepted, gin.H{"status": "echo suppressed"})
			return
		}

		payload, err := json.Marshal(issue)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := a.silo.Dispatcher().RegisterStoreTask(ctx, headers, payload, conf.DedupInterval()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event " + event})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// mapIssuePayload converts a source delivery into a destination-shaped issue.
// Sources without a native mapper are expected to deliver the destination
// shape directly.
func mapIssuePayload(job *model.Job, body []byte) (*model.Issue, error) {
	switch job.Source {
	case model.SourceGithub:
		return github.MapIssueEvent(job, body)
	default:
		var issue model.Issue
		if err := json.Unmarshal(body, &issue); err != nil {
			return nil, err
		}
		return &issue, nil
	}
}
