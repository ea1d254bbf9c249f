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

// Package worker provides the bounded pool that runs probe cycles. The pool
// never launches more goroutines than its size; due checks beyond that wait
// in a bounded queue.
package worker

import (
	"context"
	"runtime"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/GoogleCloudPlatform/statusprobe/pkg/check"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/probe"
)

// MaxDefaultSize caps the platform-derived pool size.
const MaxDefaultSize = 16

// DefaultSize returns the pool size used when none is configured: twice the
// CPU count, at most MaxDefaultSize, at least one.
func DefaultSize() int {
	n := 2 * runtime.NumCPU()
	if n > MaxDefaultSize {
		n = MaxDefaultSize
	}
	if n < 1 {
		n = 1
	}
	return n
}

// RunFunc executes one probe cycle and returns its result.
type RunFunc func(ctx context.Context, job probe.Job) check.Result

// Pool fans probe jobs out to a fixed set of workers.
//
// Shutdown is two-staged: Shutdown lets in-flight cycles finish and discards
// whatever is still queued, while cancelling the Run context additionally
// aborts in-flight probes through their HTTP context. The results channel is
// buffered for everything the queue and the workers can hold at once; a
// worker blocks sending only when the consumer has fallen further behind
// than that, so the consumer must keep receiving while it submits.
type Pool struct {
	size       int
	run        RunFunc
	logger     log.Logger
	onComplete func()

	jobs    chan probe.Job
	results chan check.Result

	quit     chan struct{}
	quitOnce sync.Once
}

// New creates a pool of the given size with room for queueCap queued jobs.
// A non-positive size selects DefaultSize. onComplete, if set, is invoked
// once per finished job.
func New(size, queueCap int, run RunFunc, logger log.Logger, onComplete func()) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}
	if queueCap < size {
		queueCap = size
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Pool{
		size:       size,
		run:        run,
		logger:     log.With(logger, "module", "worker"),
		onComplete: onComplete,
		jobs:       make(chan probe.Job, queueCap),
		results:    make(chan check.Result, queueCap+size),
		quit:       make(chan struct{}),
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Results returns the channel carrying finished probe results. It is closed
// once Run returns.
func (p *Pool) Results() <-chan check.Result {
	return p.results
}

// Enqueue submits a job, blocking while the queue is full (backpressure on
// the producer). It reports false when the pool is shutting down or ctx is
// cancelled before the job is accepted.
func (p *Pool) Enqueue(ctx context.Context, job probe.Job) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	select {
	case p.jobs <- job:
		return true
	case <-p.quit:
		return false
	case <-ctx.Done():
		return false
	}
}

// TryEnqueue submits a job only when the queue has room. queued reports
// whether the job was accepted; open is false once the pool is shutting
// down and no further submission can succeed. A producer that must not
// stall on a full queue retries after clearing results off Results.
func (p *Pool) TryEnqueue(job probe.Job) (queued, open bool) {
	select {
	case <-p.quit:
		return false, false
	default:
	}
	select {
	case p.jobs <- job:
		return true, true
	case <-p.quit:
		return false, false
	default:
		return false, true
	}
}

// Shutdown stops the workers after their in-flight jobs complete. Queued
// jobs are discarded. Safe to call more than once.
func (p *Pool) Shutdown() {
	p.quitOnce.Do(func() {
		close(p.quit)
	})
}

// Run blocks until Shutdown is called or ctx is cancelled, then discards the
// remaining queue and closes the results channel.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, &wg)
	}
	wg.Wait()

	p.discardQueued()
	close(p.results)
	return nil
}

func (p *Pool) worker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		// Prefer stopping over picking up queued work when both are ready.
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case job := <-p.jobs:
			p.results <- p.run(ctx, job)
			if p.onComplete != nil {
				p.onComplete()
			}
		}
	}
}

func (p *Pool) discardQueued() {
	for {
		select {
		case job := <-p.jobs:
			name := ""
			if job.Service != nil {
				name = job.Service.Name
			}
			_ = level.Warn(p.logger).Log("msg", "discarding queued check at shutdown",
				"serviceName", name, "correlationId", job.CorrelationID)
		default:
			return
		}
	}
}
