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
	"log"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/silohq/silo/destination"
	"github.com/silohq/silo/internal/apierror"
	"github.com/silohq/silo/internal/cache"
	"github.com/silohq/silo/model"
)

// lookupTTL bounds cached external-id resolutions. A stale entry only costs
// one extra lookup call.
const lookupTTL = 6 * time.Hour

// Pusher writes transformed entities to the destination. Creation is
// idempotent by recovery: it attempts the create and adopts the existing id
// on a typed conflict, rather than probing with an exists call first. Any
// other per-entity failure is logged and skipped so the batch finishes its
// pass over the remaining entities.
type Pusher struct {
	dest       destination.Client
	cache      cache.Cache
	dispatcher *Dispatcher
}

// NewPusher builds the idempotent push layer.
func NewPusher(dest destination.Client, c cache.Cache, dispatcher *Dispatcher) *Pusher {
	return &Pusher{dest: dest, cache: c, dispatcher: dispatcher}
}

// PushResult summarizes one batch's pass.
type PushResult struct {
	IssuesCreated  int
	LabelsCreated  int
	ModulesCreated int
	CyclesCreated  int
	Skipped        int
}

func lookupCacheKey(source model.Source, externalID string) string {
	return fmt.Sprintf("silo:lookup:issue:%s:%s", source, externalID)
}

// Push writes one batch's entity set. Labels land first so issues can
// reference them, then issues, then the groupings that link issues.
func (p *Pusher) Push(ctx context.Context, job *model.Job, set *model.EntitySet) *PushResult {
	result := &PushResult{}

	for i := range set.Labels {
		label := &set.Labels[i]
		created, err := p.dest.CreateLabel(ctx, job.WorkspaceID, job.ProjectID, label)
		if err != nil {
			if id, ok := apierror.ConflictID(err); ok {
				label.ID = id
				continue
			}
			logrus.Warnf("job %s: skipping label %q: %v", job.ID, label.Name, err)
			result.Skipped++
			continue
		}
		label.ID = created.ID
		result.LabelsCreated++
	}

	// In-batch lookup table: issues created in this pass, keyed by external
	// id, so module/cycle linkage avoids destination round trips.
	issueIDs := make(map[string]string, len(set.Issues))

	for i := range set.Issues {
		issue := &set.Issues[i]
		id, created, err := p.createIssue(ctx, job, issue)
		if err != nil {
			logrus.Warnf("job %s: skipping issue %s: %v", job.ID, issue.ExternalID, err)
			result.Skipped++
			continue
		}
		issueIDs[issue.ExternalID] = id
		if created {
			result.IssuesCreated++
		}
	}

	for i := range set.Modules {
		module := &set.Modules[i]
		if err := p.pushModule(ctx, job, module, issueIDs); err != nil {
			logrus.Warnf("job %s: skipping module %s: %v", job.ID, module.ExternalID, err)
			result.Skipped++
			continue
		}
		result.ModulesCreated++
	}

	for i := range set.Cycles {
		cycle := &set.Cycles[i]
		if err := p.pushCycle(ctx, job, cycle, issueIDs); err != nil {
			logrus.Warnf("job %s: skipping cycle %s: %v", job.ID, cycle.ExternalID, err)
			result.Skipped++
			continue
		}
		result.CyclesCreated++
	}

	log.Printf(" [*] Pushed batch for job %s: %d issues, %d modules, %d cycles, %d skipped",
		job.ID, result.IssuesCreated, result.ModulesCreated, result.CyclesCreated, result.Skipped)
	return result
}

// PushIssue writes a single issue, used by the webhook sync path. Returns
// the destination id.
func (p *Pusher) PushIssue(ctx context.Context, job *model.Job, issue *model.Issue) (string, error) {
	id, _, err := p.createIssue(ctx, job, issue)
	return id, err
}

// createIssue creates an issue, recovering the existing id on conflict. The
// boolean reports whether a new record was created.
func (p *Pusher) createIssue(ctx context.Context, job *model.Job, issue *model.Issue) (string, bool, error) {
	created, err := p.dest.CreateIssue(ctx, job.WorkspaceID, job.ProjectID, issue)
	if err != nil {
		if id, ok := apierror.ConflictID(err); ok {
			issue.ID = id
			p.remember(ctx, issue.ExternalSource, issue.ExternalID, id)
			return id, false, nil
		}
		return "", false, err
	}

	issue.ID = created.ID
	p.remember(ctx, issue.ExternalSource, issue.ExternalID, created.ID)
	if err := p.dispatcher.MarkPushed(ctx, model.KindIssue, issue.ExternalID); err != nil {
		logrus.Warnf("job %s: failed to mark issue %s as pushed: %v", job.ID, issue.ExternalID, err)
	}
	return created.ID, true, nil
}

func (p *Pusher) pushModule(ctx context.Context, job *model.Job, module *model.Module, issueIDs map[string]string) error {
	created, err := p.dest.CreateModule(ctx, job.WorkspaceID, job.ProjectID, module)
	if err != nil {
		if id, ok := apierror.ConflictID(err); ok {
			module.ID = id
		} else {
			return err
		}
	} else {
		module.ID = created.ID
		if err := p.dispatcher.MarkPushed(ctx, model.KindModule, module.ExternalID); err != nil {
			logrus.Warnf("job %s: failed to mark module %s as pushed: %v", job.ID, module.ExternalID, err)
		}
	}

	members := p.resolveIssueRefs(ctx, job, module.IssueExternalIDs, issueIDs)
	if len(members) == 0 {
		return nil
	}
	return p.dest.AddModuleIssues(ctx, job.WorkspaceID, job.ProjectID, module.ID, members)
}

func (p *Pusher) pushCycle(ctx context.Context, job *model.Job, cycle *model.Cycle, issueIDs map[string]string) error {
	created, err := p.dest.CreateCycle(ctx, job.WorkspaceID, job.ProjectID, cycle)
	if err != nil {
		if id, ok := apierror.ConflictID(err); ok {
			cycle.ID = id
		} else {
			return err
		}
	} else {
		cycle.ID = created.ID
		if err := p.dispatcher.MarkPushed(ctx, model.KindCycle, cycle.ExternalID); err != nil {
			logrus.Warnf("job %s: failed to mark cycle %s as pushed: %v", job.ID, cycle.ExternalID, err)
		}
	}

	members := p.resolveIssueRefs(ctx, job, cycle.IssueExternalIDs, issueIDs)
	if len(members) == 0 {
		return nil
	}
	return p.dest.AddCycleIssues(ctx, job.WorkspaceID, job.ProjectID, cycle.ID, members)
}

// resolveIssueRefs maps member issue external ids to destination ids: the
// in-batch table first, then the shared cache, then a direct destination
// lookup for cross-batch references. Unresolved references are dropped with
// a warning, never fatal.
func (p *Pusher) resolveIssueRefs(ctx context.Context, job *model.Job, externalIDs []string, issueIDs map[string]string) []string {
	resolved := make([]string, 0, len(externalIDs))
	for _, extID := range externalIDs {
		if id, ok := issueIDs[extID]; ok {
			resolved = append(resolved, id)
			continue
		}

		var cached string
		if err := p.cache.Get(ctx, lookupCacheKey(job.Source, extID), &cached); err == nil && cached != "" {
			resolved = append(resolved, cached)
			continue
		}

		issue, err := p.dest.GetIssueByExternalID(ctx, job.WorkspaceID, job.ProjectID, job.Source, extID)
		if err != nil {
			logrus.Warnf("job %s: dropping unresolved issue reference %s: %v", job.ID, extID, err)
			continue
		}
		p.remember(ctx, job.Source, extID, issue.ID)
		resolved = append(resolved, issue.ID)
	}
	return resolved
}

func (p *Pusher) remember(ctx context.Context, source model.Source, externalID, id string) {
	if err := p.cache.Set(ctx, lookupCacheKey(source, externalID), id, lookupTTL); err != nil {
		logrus.Debugf("lookup cache write failed for %s: %v", externalID, err)
	}
}
