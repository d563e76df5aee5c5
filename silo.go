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
	"strings"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/silohq/silo/config"
	"github.com/silohq/silo/destination"
	"github.com/silohq/silo/internal/batchlock"
	"github.com/silohq/silo/internal/cache"
	redis_db "github.com/silohq/silo/internal/redis-db"
	"github.com/silohq/silo/model"
)

// Webhook event name suffixes. Full event names are "<source>.<suffix>",
// e.g. "github.issue.sync".
const (
	EventJobInitiate = "job.initiate"
	EventIssueSync   = "issue.sync"
)

// Silo is the application object: every long-lived collaborator wired once
// and shared by the API server and the workers.
type Silo struct {
	conf       *config.Configuration
	redis      redis.UniversalClient
	queue      *Queue
	locker     *batchlock.Locker
	dest       destination.Client
	migrators  *Registry
	dispatcher *Dispatcher
	pusher     *Pusher
	pipeline   *Pipeline
}

// New wires a Silo instance from configuration. Integration migrators are
// registered afterwards via RegisterMigrator.
func New(conf *config.Configuration) (*Silo, error) {
	redisClient, err := redis_db.NewRedisClient([]string{conf.Redis.Dns}, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to redis")
	}

	queue := NewQueue(conf)
	locker := batchlock.NewLocker(redisClient.Client())
	dest := destination.NewHTTPClient(conf, nil)
	migrators := NewRegistry()
	dispatcher := NewDispatcher(queue, redisClient.Client())
	pusher := NewPusher(dest, cache.NewCache(redisClient.Client()), dispatcher)
	pipeline := NewPipeline(conf, queue, locker, dest, pusher, migrators)

	return &Silo{
		conf:       conf,
		redis:      redisClient.Client(),
		queue:      queue,
		locker:     locker,
		dest:       dest,
		migrators:  migrators,
		dispatcher: dispatcher,
		pusher:     pusher,
		pipeline:   pipeline,
	}, nil
}

// RegisterMigrator adds an integration to the running instance.
func (s *Silo) RegisterMigrator(m Migrator) {
	s.migrators.Register(m)
}

// Queue exposes the underlying task queue.
func (s *Silo) Queue() *Queue {
	return s.queue
}

// Dispatcher exposes the webhook dispatch layer.
func (s *Silo) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Destination exposes the destination API client.
func (s *Silo) Destination() destination.Client {
	return s.dest
}

// Pipeline exposes the migration state machine for worker registration.
func (s *Silo) Pipeline() *Pipeline {
	return s.pipeline
}

// StartJob creates the job record on the destination and enqueues the
// initiate message that kicks off the pipeline.
func (s *Silo) StartJob(ctx context.Context, job *model.Job) (*model.Job, error) {
	if _, err := s.migrators.Get(job.Source); err != nil {
		return nil, err
	}

	created, err := s.dest.CreateJob(ctx, job)
	if err != nil {
		return nil, errors.Wrap(err, "creating job")
	}

	headers := model.TaskHeaders{
		Route: s.conf.Queue.MigrationQueue,
		JobID: created.ID,
		Type:  model.TaskInitiate,
	}
	if err := s.queue.PushToQueue(ctx, headers, nil); err != nil {
		return nil, errors.Wrapf(err, "enqueueing initiate for job %s", created.ID)
	}
	return created, nil
}

// ProcessWebhookTask is the asynq handler for the webhook queue. Task types
// are event names; a nil payload marks a coalesced task whose freshest
// payload lives in the store.
func (s *Silo) ProcessWebhookTask(ctx context.Context, t *asynq.Task) error {
	msg, err := model.UnmarshalTaskMessage(t.Payload())
	if err != nil {
		logrus.Error(err)
		return err
	}

	payload := msg.Payload
	if payload == nil {
		payload, err = s.dispatcher.ResolveStoreTask(ctx, msg.Headers)
		if err != nil {
			return errors.Wrapf(err, "resolving stored payload for job %s", msg.Headers.JobID)
		}
		if payload == nil {
			// Already consumed by a redelivery.
			logrus.Debugf("dropping %s task for job %s: no stored payload", msg.Headers.Type, msg.Headers.JobID)
			return nil
		}
	}

	switch {
	case strings.HasSuffix(msg.Headers.Type, EventJobInitiate):
		return s.queue.PushToQueue(ctx, model.TaskHeaders{
			Route: s.conf.Queue.MigrationQueue,
			JobID: msg.Headers.JobID,
			Type:  model.TaskInitiate,
		}, nil)

	case strings.HasSuffix(msg.Headers.Type, EventIssueSync):
		return s.processIssueSync(ctx, msg.Headers.JobID, payload)

	default:
		logrus.Warnf("dropping webhook task with unknown event %q for job %s", msg.Headers.Type, msg.Headers.JobID)
		return nil
	}
}

// processIssueSync writes a single issue delivered by a source webhook,
// outside any batch.
func (s *Silo) processIssueSync(ctx context.Context, jobID string, payload []byte) error {
	var issue model.Issue
	if err := json.Unmarshal(payload, &issue); err != nil {
		return errors.Wrap(err, "decoding issue payload")
	}

	job, err := s.dest.GetJob(ctx, jobID)
	if err != nil {
		return errors.Wrapf(err, "fetching job %s", jobID)
	}
	if job.IsCancelled() {
		logrus.Infof("job %s cancelled, dropping issue sync for %s", job.ID, issue.ExternalID)
		return nil
	}

	id, err := s.pusher.PushIssue(ctx, job, &issue)
	if err != nil {
		return errors.Wrapf(err, "syncing issue %s for job %s", issue.ExternalID, jobID)
	}
	logrus.Infof("synced issue %s for job %s as %s", issue.ExternalID, jobID, id)
	return nil
}
