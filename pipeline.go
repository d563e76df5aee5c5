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
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/silohq/silo/config"
	"github.com/silohq/silo/internal/batchlock"
	"github.com/silohq/silo/internal/notification"
	"github.com/silohq/silo/model"
)

// Pipeline drives a migration job through pull, transform and push. Many
// workers may pick up messages for the same job; the batch lock guarantees
// at most one batch of a job is being transformed or pushed at any instant.
// Batches are not guaranteed to run in the order they were produced: losers
// of the lock race requeue and retry later, unordered relative to siblings.
type Pipeline struct {
	conf      *config.Configuration
	queue     *Queue
	locker    *batchlock.Locker
	dest      jobStore
	pusher    *Pusher
	migrators *Registry
}

// jobStore is the slice of the destination client the pipeline reads and
// mutates job state through.
type jobStore interface {
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	UpdateJob(ctx context.Context, jobID string, patch *model.JobPatch) (*model.Job, error)
	UpdateReport(ctx context.Context, jobID string, patch *model.ReportPatch) (*model.Report, error)
}

// NewPipeline wires the migration state machine. All collaborators are
// injected so tests can substitute in-memory fakes.
func NewPipeline(conf *config.Configuration, queue *Queue, locker *batchlock.Locker, dest jobStore, pusher *Pusher, migrators *Registry) *Pipeline {
	return &Pipeline{
		conf:      conf,
		queue:     queue,
		locker:    locker,
		dest:      dest,
		pusher:    pusher,
		migrators: migrators,
	}
}

// validStages are the literal stage strings accepted by Update.
var validStages = map[string]bool{
	model.StatusPulling:      true,
	model.StatusPulled:       true,
	model.StatusTransforming: true,
	model.StatusTransformed:  true,
	model.StatusPushing:      true,
	model.StatusFinished:     true,
	model.StatusError:        true,
}

// Update is the only sanctioned path for mutating Job and Report state. It
// patches the job record and keeps the report counters in step with it.
func (p *Pipeline) Update(ctx context.Context, jobID, stage string, patch *model.JobPatch) (*model.Job, error) {
	if !validStages[stage] {
		return nil, errors.Errorf("invalid job stage %q", stage)
	}
	if patch == nil {
		patch = &model.JobPatch{}
	}
	patch.Status = &stage

	job, err := p.dest.UpdateJob(ctx, jobID, patch)
	if err != nil {
		return nil, errors.Wrapf(err, "updating job %s to %s", jobID, stage)
	}

	reportPatch := &model.ReportPatch{
		TotalBatchCount:       patch.TotalBatchCount,
		CompletedBatchCount:   patch.CompletedBatchCount,
		TransformedBatchCount: patch.TransformedBatchCount,
	}
	if stage == model.StatusFinished {
		reportPatch.CompletedAt = model.Ptr(time.Now())
	}
	if _, err := p.dest.UpdateReport(ctx, jobID, reportPatch); err != nil {
		return nil, errors.Wrapf(err, "updating report for job %s", jobID)
	}
	return job, nil
}

// ProcessMigrationTask is the asynq handler for the migration queue. Errors
// inside a stage are recorded into the job's error_metadata and the task is
// reported complete to the queue: a job that needs an operator must not be
// blindly retried.
func (p *Pipeline) ProcessMigrationTask(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("silo.pipeline").Start(ctx, "Process Migration Task")
	defer span.End()

	msg, err := model.UnmarshalTaskMessage(t.Payload())
	if err != nil {
		logrus.Error(err)
		return err
	}

	var stageErr error
	switch msg.Headers.Type {
	case model.TaskInitiate:
		stageErr = p.processInitiate(ctx, msg)
	case model.TaskTransform:
		stageErr = p.processTransform(ctx, msg)
	case model.TaskPush:
		stageErr = p.processPush(ctx, msg)
	default:
		logrus.Errorf("unknown migration task type %q for job %s", msg.Headers.Type, msg.Headers.JobID)
		return nil
	}

	if stageErr != nil {
		p.failJob(ctx, msg.Headers.JobID, msg.Headers.Type, stageErr)
	}
	return nil
}

// failJob records a pipeline-fatal failure and releases the lock. The job
// stays in ERROR until a human or an external trigger restarts it.
func (p *Pipeline) failJob(ctx context.Context, jobID, stage string, cause error) {
	notification.NotifyError(errors.Wrapf(cause, "job %s failed during %s", jobID, stage))

	_, err := p.Update(ctx, jobID, model.StatusError, &model.JobPatch{
		ErrorMetadata: map[string]interface{}{
			"stage":     stage,
			"error":     cause.Error(),
			"failed_at": time.Now().Format(time.RFC3339),
		},
	})
	if err != nil {
		logrus.Errorf("failed to record error state for job %s: %v", jobID, err)
	}

	if err := p.locker.ReleaseLock(ctx, jobID); err != nil {
		logrus.Errorf("failed to release lock for job %s: %v", jobID, err)
	}
}

// loadJob fetches the job record and resolves its migrator from the source
// stamped on it.
func (p *Pipeline) loadJob(ctx context.Context, jobID string) (*model.Job, Migrator, error) {
	job, err := p.dest.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "fetching job %s", jobID)
	}
	migrator, err := p.migrators.Get(job.Source)
	if err != nil {
		return nil, nil, err
	}
	return job, migrator, nil
}

// processInitiate runs the pulling stage: produce the job's batches and fan
// out one transform message per batch, staggered to bound burst load on the
// destination API.
func (p *Pipeline) processInitiate(ctx context.Context, msg *model.TaskMessage) error {
	job, migrator, err := p.loadJob(ctx, msg.Headers.JobID)
	if err != nil {
		return err
	}
	if job.IsCancelled() {
		return p.stopCancelled(ctx, job)
	}

	if _, err := p.Update(ctx, job.ID, model.StatusPulling, nil); err != nil {
		return err
	}

	batches, err := migrator.Batches(ctx, job)
	if err != nil {
		return errors.Wrapf(err, "pulling batches for job %s", job.ID)
	}

	if len(batches) == 0 {
		// Nothing to migrate: terminal success with zero counts.
		if _, err := p.Update(ctx, job.ID, model.StatusFinished, &model.JobPatch{
			TotalBatchCount:       model.Ptr(0),
			CompletedBatchCount:   model.Ptr(0),
			TransformedBatchCount: model.Ptr(0),
		}); err != nil {
			return err
		}
		return p.locker.ReleaseLock(ctx, job.ID)
	}

	if _, err := p.Update(ctx, job.ID, model.StatusPulled, &model.JobPatch{
		TotalBatchCount: model.Ptr(len(batches)),
	}); err != nil {
		return err
	}

	stagger := p.conf.BatchStagger()
	for i, batch := range batches {
		data, err := json.Marshal(model.TransformPayload{Batch: batch})
		if err != nil {
			return errors.Wrapf(err, "encoding batch %s", batch.ID)
		}
		headers := model.TaskHeaders{
			Route: p.conf.Queue.MigrationQueue,
			JobID: job.ID,
			Type:  model.TaskTransform,
		}
		if err := p.queue.PushToQueue(ctx, headers, data, asynq.ProcessIn(time.Duration(i)*stagger)); err != nil {
			return errors.Wrapf(err, "enqueueing transform for batch %s", batch.ID)
		}
	}

	log.Printf(" [*] Job %s pulled: %d batches", job.ID, len(batches))
	return nil
}

// processTransform runs the transform stage for one batch under the job's
// lock. Losing the lock race requeues the message unchanged; that is flow
// control, not an error.
func (p *Pipeline) processTransform(ctx context.Context, msg *model.TaskMessage) error {
	var payload model.TransformPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return errors.Wrap(err, "decoding transform payload")
	}
	batch := payload.Batch

	job, migrator, err := p.loadJob(ctx, msg.Headers.JobID)
	if err != nil {
		return err
	}
	if job.IsCancelled() {
		return p.stopCancelled(ctx, job)
	}

	acquired, err := p.locker.AcquireLock(ctx, job.ID, batch.ID)
	if err != nil {
		return errors.Wrapf(err, "acquiring lock for batch %s", batch.ID)
	}
	if !acquired {
		logrus.Infof("job %s: batch %s lost the lock race, requeueing", job.ID, batch.ID)
		return p.queue.Requeue(ctx, msg)
	}

	if _, err := p.Update(ctx, job.ID, model.StatusTransforming, nil); err != nil {
		return err
	}

	entities, err := migrator.Transform(ctx, job, batch)
	if err != nil {
		return errors.Wrapf(err, "transforming batch %s", batch.ID)
	}

	if entities == nil || entities.IsEmpty() {
		// The batch contributed nothing; terminal success for the job.
		if _, err := p.Update(ctx, job.ID, model.StatusFinished, nil); err != nil {
			return err
		}
		return p.locker.ReleaseLock(ctx, job.ID)
	}

	transformed := job.TransformedBatchCount + 1
	stage := model.StatusTransformed
	if transformed >= job.TotalBatchCount {
		// All batches transformed: report PUSHING already so progress UIs
		// read the right phase while the last push is in flight.
		stage = model.StatusPushing
	}
	if _, err := p.Update(ctx, job.ID, stage, &model.JobPatch{
		TransformedBatchCount: model.Ptr(transformed),
	}); err != nil {
		return err
	}

	data, err := json.Marshal(model.PushPayload{BatchID: batch.ID, Entities: *entities})
	if err != nil {
		return errors.Wrapf(err, "encoding push payload for batch %s", batch.ID)
	}
	headers := model.TaskHeaders{
		Route: p.conf.Queue.MigrationQueue,
		JobID: job.ID,
		Type:  model.TaskPush,
	}
	return p.queue.PushToQueue(ctx, headers, data)
}

// processPush writes one batch to the destination and releases the lock.
// When the last batch completes, the job is explicitly marked FINISHED.
func (p *Pipeline) processPush(ctx context.Context, msg *model.TaskMessage) error {
	var payload model.PushPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return errors.Wrap(err, "decoding push payload")
	}

	job, _, err := p.loadJob(ctx, msg.Headers.JobID)
	if err != nil {
		return err
	}
	if job.IsCancelled() {
		return p.stopCancelled(ctx, job)
	}

	// Re-entrant for the batch that owns the lock; guards against another
	// batch's push racing in after a redelivery.
	acquired, err := p.locker.AcquireLock(ctx, job.ID, payload.BatchID)
	if err != nil {
		return errors.Wrapf(err, "acquiring lock for batch %s", payload.BatchID)
	}
	if !acquired {
		logrus.Infof("job %s: push for batch %s lost the lock race, requeueing", job.ID, payload.BatchID)
		return p.queue.Requeue(ctx, msg)
	}

	result := p.pusher.Push(ctx, job, &payload.Entities)

	completed := job.CompletedBatchCount + 1
	if _, err := p.Update(ctx, job.ID, model.StatusPushing, &model.JobPatch{
		CompletedBatchCount: model.Ptr(completed),
	}); err != nil {
		return err
	}
	if result.IssuesCreated > 0 {
		if _, err := p.dest.UpdateReport(ctx, job.ID, &model.ReportPatch{
			ImportedIssueCount: model.Ptr(result.IssuesCreated),
		}); err != nil {
			logrus.Warnf("job %s: failed to record imported issue count: %v", job.ID, err)
		}
	}

	if err := p.locker.ReleaseLock(ctx, job.ID); err != nil {
		return errors.Wrapf(err, "releasing lock for job %s", job.ID)
	}

	if completed >= job.TotalBatchCount && job.TransformedBatchCount >= job.TotalBatchCount {
		if _, err := p.Update(ctx, job.ID, model.StatusFinished, nil); err != nil {
			return err
		}
		log.Printf(" [*] Job %s finished: %d batches pushed", job.ID, completed)
	}
	return nil
}

// stopCancelled is the cooperative cancellation path: release the lock and
// do nothing else.
func (p *Pipeline) stopCancelled(ctx context.Context, job *model.Job) error {
	logrus.Infof("job %s cancelled at %s, stopping", job.ID, job.CancelledAt.Format(time.RFC3339))
	return p.locker.ReleaseLock(ctx, job.ID)
}
