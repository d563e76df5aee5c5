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
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/silohq/silo/model"
)

const (
	dedupKeyPrefix   = "silo:dedup:"
	payloadKeyPrefix = "silo:payload:"

	// markerTTL bounds entity dedup markers that are never consumed (e.g.
	// the source does not echo our write back).
	markerTTL = time.Hour
)

// Dispatcher is the entry point for inbound webhook handlers. It wraps the
// task queue with a de-duplication window so a burst of deliveries for the
// same logical job collapses into a single downstream unit of work.
type Dispatcher struct {
	queue *Queue
	redis redis.UniversalClient
}

// NewDispatcher builds a Dispatcher on an existing queue and Redis client.
func NewDispatcher(queue *Queue, client redis.UniversalClient) *Dispatcher {
	return &Dispatcher{queue: queue, redis: client}
}

func dedupKey(headers model.TaskHeaders) string {
	return fmt.Sprintf("%s%s:%s", dedupKeyPrefix, headers.Type, headers.JobID)
}

func payloadKey(headers model.TaskHeaders) string {
	return fmt.Sprintf("%s%s:%s", payloadKeyPrefix, headers.Type, headers.JobID)
}

func markerKey(kind, externalID string) string {
	return fmt.Sprintf("silo:%s:%s", kind, externalID)
}

// RegisterTask enqueues a webhook task unconditionally. Used for events that
// must all be processed, e.g. one-shot creation events.
func (d *Dispatcher) RegisterTask(ctx context.Context, headers model.TaskHeaders, payload []byte) error {
	return d.queue.PushToQueue(ctx, headers, payload)
}

// RegisterStoreTask enqueues a webhook task with coalescing. The freshest
// payload is always written to the store; a queue message is only sent when
// no marker for the (event, job) pair exists, scheduled to run once the
// dedup interval has elapsed. Every delivery inside the interval therefore
// overwrites the pending payload without adding a second message, and the
// single message ultimately processed carries the payload of the last call.
func (d *Dispatcher) RegisterStoreTask(ctx context.Context, headers model.TaskHeaders, payload []byte, dedupInterval time.Duration) error {
	if err := d.redis.Set(ctx, payloadKey(headers), payload, 0).Err(); err != nil {
		return err
	}

	claimed, err := d.redis.SetNX(ctx, dedupKey(headers), "1", dedupInterval).Result()
	if err != nil {
		return err
	}
	if !claimed {
		// A message for this job is already pending; the payload overwrite
		// above is all this delivery contributes.
		logrus.Debugf("coalesced %s delivery for job %s", headers.Type, headers.JobID)
		return nil
	}

	// The payload travels through the store, not the message, so late
	// deliveries inside the window still win.
	return d.queue.PushToQueue(ctx, headers, nil, asynq.ProcessIn(dedupInterval))
}

// ResolveStoreTask is the worker-side half of RegisterStoreTask: it returns
// the freshest payload for the message and consumes the marker so the next
// burst starts a new window. A nil payload means the task was already
// consumed by a redelivery and should be dropped.
func (d *Dispatcher) ResolveStoreTask(ctx context.Context, headers model.TaskHeaders) ([]byte, error) {
	payload, err := d.redis.GetDel(ctx, payloadKey(headers)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := d.redis.Del(ctx, dedupKey(headers)).Err(); err != nil {
		return nil, err
	}
	return payload, nil
}

// MarkPushed records that the pipeline created the given entity on the
// destination, so the webhook delivery our own write triggers at the source
// can be recognized and dropped.
func (d *Dispatcher) MarkPushed(ctx context.Context, kind, externalID string) error {
	return d.redis.Set(ctx, markerKey(kind, externalID), "1", markerTTL).Err()
}

// ConsumeMarker checks for a pushed-entity marker and deletes it in the same
// call (single-use acknowledgment). It returns true when the delivery is an
// echo of our own write.
func (d *Dispatcher) ConsumeMarker(ctx context.Context, kind, externalID string) (bool, error) {
	_, err := d.redis.GetDel(ctx, markerKey(kind, externalID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
