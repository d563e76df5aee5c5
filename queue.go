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
	"log"

	"github.com/silohq/silo/config"
	redis_db "github.com/silohq/silo/internal/redis-db"
	"github.com/silohq/silo/model"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("silo.queue")

// Queue wraps the asynq client the pipeline and dispatcher publish through.
// Delivery is at least once; ordering within a job comes from the batch
// lock, not from here.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	conf      *config.Configuration
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
		conf:      conf,
	}
}

// PushToQueue sends a message to the queue named by headers.Route. The task
// type is taken from headers.Type so worker muxes can route on it; extra
// asynq options (ProcessIn delays, task ids) pass through.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - headers model.TaskHeaders: Routing headers for the message.
// - payload []byte: The stage-specific payload, already encoded.
// - opts ...asynq.Option: Additional task options.
//
// Returns:
// - error: An error if the message could not be enqueued.
func (q *Queue) PushToQueue(ctx context.Context, headers model.TaskHeaders, payload []byte, opts ...asynq.Option) error {
	ctx, span := tracer.Start(ctx, "Adding Task To Redis Queue")
	defer span.End()

	msg := model.TaskMessage{Headers: headers, Payload: payload}
	data, err := msg.Marshal()
	if err != nil {
		return err
	}

	taskOptions := append([]asynq.Option{
		asynq.Queue(headers.Route),
		asynq.MaxRetry(q.conf.Queue.MaxRetryAttempts),
	}, opts...)

	task := asynq.NewTask(headers.Type, data, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued %s task for job: %s", headers.Type, headers.JobID)

	return nil
}

// Requeue puts a message back on its queue unchanged after the configured
// contention delay. Used when a batch loses the lock race; losing is flow
// control, so the current task invocation still completes successfully.
func (q *Queue) Requeue(ctx context.Context, msg *model.TaskMessage) error {
	return q.PushToQueue(ctx, msg.Headers, msg.Payload, asynq.ProcessIn(q.conf.RequeueDelay()))
}

// QueueDepth reports the number of pending tasks on a queue. Progress
// tooling reads this alongside the job report.
func (q *Queue) QueueDepth(queue string) (int, error) {
	info, err := q.Inspector.GetQueueInfo(queue)
	if err != nil {
		return 0, err
	}
	return info.Pending, nil
}
