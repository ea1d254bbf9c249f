// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probe

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/GoogleCloudPlatform/statusprobe/pkg/check"
)

const (
	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
	retryJitter    = 0.2
)

// AttemptErrorFunc is notified of every failed attempt that will be retried,
// so attempt-level metrics see more than the final result.
type AttemptErrorFunc func(serviceName string, errType check.ErrorType)

// Runner executes a full probe cycle: the engine plus the retry policy.
// Only transport failures the classifier marks retryable are retried;
// validation failures and guard rejections return immediately.
type Runner struct {
	prober         *Prober
	maxRetries     int
	logger         log.Logger
	onAttemptError AttemptErrorFunc

	// Overridden in tests to keep backoff out of the test clock.
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewRunner wraps prober with up to maxRetries retries. onAttemptError may be
// nil.
func NewRunner(prober *Prober, maxRetries int, logger log.Logger, onAttemptError AttemptErrorFunc) *Runner {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Runner{
		prober:         prober,
		maxRetries:     maxRetries,
		logger:         log.With(logger, "module", "retry"),
		onAttemptError: onAttemptError,
		baseDelay:      retryBaseDelay,
		maxDelay:       retryMaxDelay,
	}
}

// retryableError carries a retryable attempt outcome through the retry loop.
type retryableError struct {
	errType check.ErrorType
	reason  string
}

func (e *retryableError) Error() string {
	return e.reason
}

// Do runs the cycle and returns the final attempt's result. The wall clock
// across attempts stays within timeout*(maxRetries+1) plus the capped
// backoffs; cancelling ctx aborts both in-flight attempts and backoff waits.
func (r *Runner) Do(ctx context.Context, job Job) check.Result {
	var last check.Result
	attempts := uint(r.maxRetries) + 1

	_ = retry.Do(
		func() error {
			last = r.prober.Do(ctx, job)
			if last.ErrorType != "" && last.ErrorType.Retryable() {
				return &retryableError{errType: last.ErrorType, reason: last.FailureReason}
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.DelayType(r.backoffWithJitter),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			// The hook counts intermediate attempts only; the final attempt
			// is observed through the returned result.
			if n+1 >= attempts {
				return
			}
			var rerr *retryableError
			if errors.As(err, &rerr) && r.onAttemptError != nil {
				r.onAttemptError(job.Service.Name, rerr.errType)
			}
			_ = level.Warn(r.logger).Log("msg", "probe attempt failed, retrying",
				"serviceName", job.Service.Name, "correlationId", job.CorrelationID,
				"attempt", n+1, "maxAttempts", attempts, "err", err)
		}),
	)
	return last
}

// backoffWithJitter doubles the base delay per attempt, caps it, then applies
// ±20% jitter.
func (r *Runner) backoffWithJitter(n uint, _ error, _ *retry.Config) time.Duration {
	d := r.baseDelay << n
	if d <= 0 || d > r.maxDelay {
		d = r.maxDelay
	}
	jitter := 1 + retryJitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * jitter)
}
