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

// Package retry provides the retry policy passed into network clients, so
// backoff behavior lives in one object instead of ad hoc loops at call
// sites.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Policy bounds retries with exponential backoff.
type Policy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy suits destination API calls: quick first retry, capped well
// below the queue's visibility timeout.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Permanent wraps err so Do stops retrying immediately. Used for responses
// where a retry can never succeed (4xx, conflicts).
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op, retrying transient failures per the policy. The context bounds
// the whole attempt sequence.
func (p *Policy) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval

	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, attempts-1), ctx))
}

// DoNotify is Do with a log line per retried failure.
func (p *Policy) DoNotify(ctx context.Context, name string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval

	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	notify := func(err error, next time.Duration) {
		logrus.Warnf("%s failed, retrying in %s: %v", name, next, err)
	}
	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(bo, attempts-1), ctx), notify)
}
