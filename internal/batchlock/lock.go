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

// Package batchlock serializes batch processing within one migration job
// across any number of worker processes. The lock record is a single Redis
// key per job holding the id of the batch currently being transformed or
// pushed.
//
// The key carries no expiry: a half-pushed batch must not be silently
// resumed by a second worker, so a worker that dies while holding the lock
// wedges the job until an operator deletes silo:lock:<jobID>.
package batchlock

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "silo:lock:"

// acquireScript claims the lock in a single atomic round trip: set if
// absent, succeed if the current holder is the same batch (idempotent
// re-entry after a worker restart), fail otherwise. Never a read-then-write
// pair, so two workers racing for the same job cannot both win.
const acquireScript = `local cur = redis.call('get', KEYS[1])
if not cur then redis.call('set', KEYS[1], ARGV[1]) return 1 end
if cur == ARGV[1] then return 1 end
return 0`

// Locker coordinates batch ownership for migration jobs through Redis.
type Locker struct {
	client redis.UniversalClient
}

// NewLocker returns a Locker backed by the given Redis client.
func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

func lockKey(jobID string) string {
	return keyPrefix + jobID
}

// GetCurrentBatch returns the id of the batch currently holding the job's
// lock, or "" when no batch holds it.
func (l *Locker) GetCurrentBatch(ctx context.Context, jobID string) (string, error) {
	batchID, err := l.client.Get(ctx, lockKey(jobID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return batchID, nil
}

// AcquireLock attempts to claim the job's lock for batchID. It returns false
// without error when another batch holds the lock; contention is flow
// control for the caller, not a failure.
func (l *Locker) AcquireLock(ctx context.Context, jobID, batchID string) (bool, error) {
	result, err := l.client.Eval(ctx, acquireScript, []string{lockKey(jobID)}, batchID).Result()
	if err != nil {
		return false, err
	}
	return result == int64(1), nil
}

// ReleaseLock unconditionally deletes the job's lock record. Callers invoke
// it on every terminal outcome: finished, cancelled, or unrecoverable error.
func (l *Locker) ReleaseLock(ctx context.Context, jobID string) error {
	return l.client.Del(ctx, lockKey(jobID)).Err()
}
