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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/silohq/silo/config"
)

// ArchivedTaskRecoveryProcessor periodically re-runs tasks that exhausted
// their queue retries and landed in the archived set. Pipeline failures are
// recorded on the job and never reach the archive; what does land there is
// infrastructure trouble (Redis blips, worker crashes mid-task), which is
// worth another pass once things settle.
type ArchivedTaskRecoveryProcessor struct {
	queue        *Queue
	queues       []string
	pollInterval time.Duration
	batchSize    int
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

func NewArchivedTaskRecoveryProcessor(queue *Queue, conf *config.Configuration) *ArchivedTaskRecoveryProcessor {
	return &ArchivedTaskRecoveryProcessor{
		queue:        queue,
		queues:       []string{conf.Queue.MigrationQueue, conf.Queue.WebhookQueue},
		pollInterval: 5 * time.Minute,
		batchSize:    100,
		stopCh:       make(chan struct{}),
	}
}

func (p *ArchivedTaskRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Archived task recovery processor started")
}

func (p *ArchivedTaskRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Archived task recovery processor stopped")
}

func (p *ArchivedTaskRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ArchivedTaskRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Archived task recovery processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Archived task recovery processor stop signal received")
			return
		case <-ticker.C:
			if _, err := p.RecoverArchivedTasks(ctx); err != nil {
				logrus.Errorf("archived task recovery sweep failed: %v", err)
			}
		}
	}
}

// RecoverArchivedTasks moves archived tasks back to pending, up to the batch
// size per queue. Returns the number of tasks re-queued.
func (p *ArchivedTaskRecoveryProcessor) RecoverArchivedTasks(_ context.Context) (int, error) {
	recovered := 0
	for _, qname := range p.queues {
		tasks, err := p.queue.Inspector.ListArchivedTasks(qname)
		if err != nil {
			return recovered, err
		}
		for i, task := range tasks {
			if i >= p.batchSize {
				break
			}
			if err := p.queue.Inspector.RunTask(qname, task.ID); err != nil {
				logrus.Errorf("failed to re-run archived task %s on %s: %v", task.ID, qname, err)
				continue
			}
			recovered++
		}
	}
	if recovered > 0 {
		logrus.Infof("Recovered %d archived tasks", recovered)
	}
	return recovered, nil
}
