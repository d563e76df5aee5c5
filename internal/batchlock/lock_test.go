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

package batchlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_AcquireLock_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db)

	mock.ExpectEval(acquireScript, []string{"silo:lock:job_1"}, "batch_a").SetVal(int64(1))

	ok, err := locker.AcquireLock(context.Background(), "job_1", "batch_a")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_AcquireLock_Contention(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db)

	mock.ExpectEval(acquireScript, []string{"silo:lock:job_1"}, "batch_b").SetVal(int64(0))

	ok, err := locker.AcquireLock(context.Background(), "job_1", "batch_b")
	assert.NoError(t, err, "losing the race is flow control, not an error")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_GetCurrentBatch_Empty(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db)

	mock.ExpectGet("silo:lock:job_1").RedisNil()

	batchID, err := locker.GetCurrentBatch(context.Background(), "job_1")
	assert.NoError(t, err)
	assert.Equal(t, "", batchID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_ReleaseLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db)

	mock.ExpectDel("silo:lock:job_1").SetVal(1)

	err := locker.ReleaseLock(context.Background(), "job_1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLocker_MutualExclusion(t *testing.T) {
	client := newTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	// Two batches race for the same job from many goroutines; exactly one
	// batch id may ever win.
	var winsA, winsB int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ok, err := locker.AcquireLock(ctx, "job_race", "batch_a")
			require.NoError(t, err)
			if ok {
				atomic.AddInt64(&winsA, 1)
			}
		}()
		go func() {
			defer wg.Done()
			ok, err := locker.AcquireLock(ctx, "job_race", "batch_b")
			require.NoError(t, err)
			if ok {
				atomic.AddInt64(&winsB, 1)
			}
		}()
	}
	wg.Wait()

	assert.True(t, winsA == 0 || winsB == 0, "both batches acquired the lock: a=%d b=%d", winsA, winsB)
	assert.True(t, winsA > 0 || winsB > 0, "no batch acquired the lock")

	holder, err := locker.GetCurrentBatch(ctx, "job_race")
	require.NoError(t, err)
	if winsA > 0 {
		assert.Equal(t, "batch_a", holder)
	} else {
		assert.Equal(t, "batch_b", holder)
	}
}

func TestLocker_Reentrancy(t *testing.T) {
	client := newTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	ok, err := locker.AcquireLock(ctx, "job_1", "batch_a")
	require.NoError(t, err)
	require.True(t, ok)

	// Same batch id re-acquires after a simulated worker restart.
	ok, err = locker.AcquireLock(ctx, "job_1", "batch_a")
	require.NoError(t, err)
	assert.True(t, ok)

	// A different batch still cannot take it.
	ok, err = locker.AcquireLock(ctx, "job_1", "batch_b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocker_ReleaseThenReacquire(t *testing.T) {
	client := newTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	ok, err := locker.AcquireLock(ctx, "job_1", "batch_a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locker.ReleaseLock(ctx, "job_1"))

	holder, err := locker.GetCurrentBatch(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, "", holder)

	ok, err = locker.AcquireLock(ctx, "job_1", "batch_b")
	require.NoError(t, err)
	assert.True(t, ok)
}
