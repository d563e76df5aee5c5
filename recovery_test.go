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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silohq/silo/model"
)

func TestRecoveryProcessor_StartStop(t *testing.T) {
	mr, _ := newTestRedis(t)
	conf := testConfig(mr.Addr())
	p := NewArchivedTaskRecoveryProcessor(NewQueue(conf), conf)

	assert.False(t, p.IsRunning())
	p.Start(context.Background())
	assert.True(t, p.IsRunning())

	// Double start is a no-op.
	p.Start(context.Background())
	assert.True(t, p.IsRunning())

	p.Stop()
	assert.False(t, p.IsRunning())
}

func TestRecoverArchivedTasks_RequeuesArchived(t *testing.T) {
	mr, _ := newTestRedis(t)
	conf := testConfig(mr.Addr())
	queue := NewQueue(conf)
	p := NewArchivedTaskRecoveryProcessor(queue, conf)

	// Nothing archived yet.
	recovered, err := p.RecoverArchivedTasks(context.Background())
	require.NoError(t, err)
	assert.Zero(t, recovered)

	headers := model.TaskHeaders{Route: conf.Queue.MigrationQueue, JobID: "job_1", Type: model.TaskTransform}
	require.NoError(t, queue.PushToQueue(context.Background(), headers, []byte(`{}`)))

	tasks, err := queue.Inspector.ListPendingTasks(conf.Queue.MigrationQueue)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NoError(t, queue.Inspector.ArchiveTask(conf.Queue.MigrationQueue, tasks[0].ID))

	recovered, err = p.RecoverArchivedTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	info, err := queue.Inspector.GetQueueInfo(conf.Queue.MigrationQueue)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Pending)
	assert.Zero(t, info.Archived)
}
