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

// Package monitor contains the orchestrator: a single-owner control loop
// that schedules probe cycles, fans them out to the worker pool, and folds
// every result into runtime state, history, metrics and the published
// snapshot. No other goroutine touches per-service state.
package monitor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/GoogleCloudPlatform/statusprobe/pkg/check"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/config"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/history"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/metrics"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/probe"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/snapshot"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/worker"
)

const (
	// snapshotDebounce coalesces a burst of results into one snapshot write.
	snapshotDebounce = 250 * time.Millisecond
	// scheduleSpread randomizes first fire times so process start does not
	// probe every service at once.
	scheduleSpread = 2 * time.Second
	// DefaultGracePeriod bounds how long shutdown waits for in-flight
	// probes before aborting them.
	DefaultGracePeriod = 30 * time.Second
)

var errHistoryQueueFull = errors.New("history queue full")

// Runner executes one full probe cycle, retries included.
type Runner interface {
	Do(ctx context.Context, job probe.Job) check.Result
}

// Runtime is the mutable per-service state. It is created PENDING on
// configuration load and mutated only by the monitor loop.
type Runtime struct {
	Status              check.Status
	LastCheckTime       time.Time
	LastLatencyMillis   int64
	LastHTTPStatus      int
	LastFailureReason   string
	ConsecutiveFailures int
}

// DisplayStatus folds flap suppression into the user-facing status: a single
// FAIL outcome shows as DEGRADED until a second consecutive failure confirms
// the outage.
func (r Runtime) DisplayStatus() check.Status {
	if r.Status == check.StatusFail && r.ConsecutiveFailures < 2 {
		return check.StatusDegraded
	}
	return r.Status
}

type entry struct {
	svc      *config.Service
	params   config.Params
	runtime  Runtime
	nextFire time.Time
	inflight bool
}

func (e *entry) record() snapshot.Record {
	tags := e.svc.Tags
	if tags == nil {
		tags = []string{}
	}
	rec := snapshot.Record{
		Name:          e.svc.Name,
		Status:        e.runtime.DisplayStatus(),
		Tags:          tags,
		FailureReason: e.runtime.LastFailureReason,
	}
	if e.runtime.Status == check.StatusPending {
		return rec
	}
	latency := e.runtime.LastLatencyMillis
	lastCheck := check.FormatTimestamp(e.runtime.LastCheckTime)
	httpStatus := e.runtime.LastHTTPStatus
	rec.LatencyMillis = &latency
	rec.LastCheckTime = &lastCheck
	rec.HTTPStatus = &httpStatus
	return rec
}

// Options configure the monitor.
type Options struct {
	// GracePeriod bounds how long shutdown waits for in-flight probes.
	// Zero selects DefaultGracePeriod.
	GracePeriod time.Duration
	// OnReady is invoked once, after the initial snapshot has been written.
	OnReady func()
}

// Monitor drives the probe pipeline for one configuration.
type Monitor struct {
	logger  log.Logger
	metrics *metrics.Metrics
	opts    Options

	pool      *worker.Pool
	appender  *history.Appender
	publisher *snapshot.Publisher

	cfg     *config.Config
	entries map[string]*entry
	order   []string

	reloadc   chan *config.Config
	readyOnce sync.Once
}

// New assembles a monitor for cfg. The runner executes probe cycles; met
// receives all pipeline metrics. The worker pool, history writer and
// snapshot publisher are owned by the monitor and live exactly as long as
// Run.
func New(cfg *config.Config, runner Runner, met *metrics.Metrics, logger log.Logger, opts Options) *Monitor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	m := &Monitor{
		logger:    log.With(logger, "module", "monitor"),
		metrics:   met,
		opts:      opts,
		pool:      worker.New(cfg.Settings.GetWorkerPoolSize(), len(cfg.Pings), runner.Do, logger, met.TaskCompleted),
		appender:  history.NewAppender(cfg.Settings.GetHistoryFile(), 0, logger, met.CSVWrite),
		publisher: snapshot.NewPublisher(cfg.Settings.GetOutputDir(), logger),
		reloadc:   make(chan *config.Config, 1),
	}
	m.apply(cfg, time.Now())
	return m
}

// SnapshotPath returns where the published snapshot lives.
func (m *Monitor) SnapshotPath() string {
	return m.publisher.Path()
}

// ApplyConfig hands a validated configuration to the control loop. When
// reloads arrive faster than the loop consumes them, the latest wins.
func (m *Monitor) ApplyConfig(cfg *config.Config) {
	for {
		select {
		case m.reloadc <- cfg:
			return
		default:
		}
		select {
		case <-m.reloadc:
		default:
		}
	}
}

// Run executes the control loop until ctx is cancelled, then shuts the
// pipeline down in order: stop ticking, drain the pool, flush history, write
// a final snapshot.
func (m *Monitor) Run(ctx context.Context) error {
	m.metrics.SetPoolSize(m.pool.Size())

	var wg sync.WaitGroup
	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.pool.Run(poolCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		// The appender degrades to counting failed writes when the history
		// file cannot be opened; it never exits before Close.
		_ = m.appender.Run(context.Background())
	}()

	// The page renderer needs an artifact before the first results arrive.
	m.writeSnapshot()

	_ = level.Info(m.logger).Log("msg", "monitor started",
		"services", len(m.order), "poolSize", m.pool.Size())

	tick := time.NewTimer(m.timeUntilNext(time.Now()))
	defer stopTimer(tick)
	debounce := time.NewTimer(time.Hour)
	stopTimer(debounce)
	dirty := false

	for {
		select {
		case <-ctx.Done():
			err := m.shutdown(cancelPool)
			wg.Wait()
			return err

		case cfg := <-m.reloadc:
			m.apply(cfg, time.Now())
			m.writeSnapshot()
			resetTimer(tick, m.timeUntilNext(time.Now()))

		case res := <-m.pool.Results():
			m.handleResult(res)
			if !dirty {
				dirty = true
				resetTimer(debounce, snapshotDebounce)
			}

		case <-debounce.C:
			dirty = false
			m.writeSnapshot()

		case <-tick.C:
			if m.dispatch(ctx, time.Now()) && !dirty {
				dirty = true
				resetTimer(debounce, snapshotDebounce)
			}
			resetTimer(tick, m.timeUntilNext(time.Now()))
		}
	}
}

// shutdown drains the pipeline: in-flight probes may finish within the grace
// period, then they are aborted; history is flushed before the final
// snapshot so the two artifacts agree.
func (m *Monitor) shutdown(cancelPool context.CancelFunc) error {
	_ = level.Info(m.logger).Log("msg", "shutting down", "gracePeriod", m.opts.GracePeriod)
	m.pool.Shutdown()

	grace := time.NewTimer(m.opts.GracePeriod)
	defer stopTimer(grace)
drain:
	for {
		select {
		case res, ok := <-m.pool.Results():
			if !ok {
				break drain
			}
			m.handleResult(res)
		case <-grace.C:
			_ = level.Warn(m.logger).Log("msg", "grace period elapsed, aborting in-flight checks")
			cancelPool()
		}
	}

	m.appender.Close()
	<-m.appender.Done()
	m.writeSnapshot()
	_ = level.Info(m.logger).Log("msg", "shutdown complete")
	return nil
}

// apply installs cfg, diffing by service name: surviving services keep their
// runtime state, new ones start PENDING, removed ones drop runtime, schedule
// and in-flight marker.
func (m *Monitor) apply(cfg *config.Config, now time.Time) {
	prev := m.entries
	entries := make(map[string]*entry, len(cfg.Pings))
	order := make([]string, 0, len(cfg.Pings))

	var kept, added int
	for i := range cfg.Pings {
		svc := &cfg.Pings[i]
		params := cfg.ServiceParams(svc)
		e, ok := prev[svc.Name]
		if ok {
			if e.params.Interval != params.Interval {
				e.nextFire = now.Add(spread(params.Interval))
			}
			e.svc = svc
			e.params = params
			kept++
		} else {
			e = &entry{
				svc:      svc,
				params:   params,
				runtime:  Runtime{Status: check.StatusPending},
				nextFire: now.Add(spread(params.Interval)),
			}
			added++
		}
		entries[svc.Name] = e
		order = append(order, svc.Name)
	}
	removed := len(prev) - kept

	m.cfg = cfg
	m.entries = entries
	m.order = order

	if prev != nil {
		_ = level.Info(m.logger).Log("msg", "configuration applied",
			"services", len(order), "kept", kept, "added", added, "removed", removed)
	}
}

// dispatch enqueues a cycle for every due service. A service with a probe
// still in flight skips this cycle and keeps its cadence. The queue is sized
// for the population seen at startup; a reload can grow past it, so
// submission folds finished results in whenever the queue is full and the
// loop keeps consuming while it waits. Reports whether any results were
// handled that way, so the caller can arm the snapshot debounce.
func (m *Monitor) dispatch(ctx context.Context, now time.Time) (handled bool) {
	for _, name := range m.order {
		e := m.entries[name]
		if now.Before(e.nextFire) {
			continue
		}
		e.nextFire = now.Add(e.params.Interval)
		if e.inflight {
			_ = level.Debug(m.logger).Log("msg", "previous check still in flight, skipping cycle",
				"serviceName", name)
			continue
		}
		job := probe.Job{
			Service:          e.svc,
			Timeout:          e.params.Timeout,
			WarningThreshold: e.params.WarningThreshold,
			CorrelationID:    uuid.NewString(),
		}
		queued, drained := m.enqueue(ctx, job)
		if drained {
			handled = true
		}
		if !queued {
			// Shutdown or cancellation raced the tick.
			return handled
		}
		e.inflight = true
		_ = level.Debug(m.logger).Log("msg", "check scheduled",
			"serviceName", name, "correlationId", job.CorrelationID)
	}
	return handled
}

// enqueue submits one job, receiving results while the queue is full.
// Handling a result frees a worker blocked on the results channel to take
// queued work, so room always opens and loop and pool cannot deadlock.
func (m *Monitor) enqueue(ctx context.Context, job probe.Job) (queued, handled bool) {
	for {
		ok, open := m.pool.TryEnqueue(job)
		if ok {
			return true, handled
		}
		if !open {
			return false, handled
		}
		select {
		case res, more := <-m.pool.Results():
			if !more {
				return false, handled
			}
			m.handleResult(res)
			handled = true
		case <-ctx.Done():
			return false, handled
		}
	}
}

// handleResult folds one probe outcome into runtime state, history and
// metrics. Results for services removed by a reload are dropped.
func (m *Monitor) handleResult(res check.Result) {
	e, ok := m.entries[res.ServiceName]
	if !ok {
		_ = level.Debug(m.logger).Log("msg", "dropping result for removed service",
			"serviceName", res.ServiceName, "correlationId", res.CorrelationID)
		return
	}
	e.inflight = false

	rt := &e.runtime
	rt.Status = res.Status
	rt.LastCheckTime = res.Timestamp
	rt.LastLatencyMillis = res.LatencyMillis
	rt.LastHTTPStatus = res.HTTPStatus
	rt.LastFailureReason = res.FailureReason
	if res.Status == check.StatusFail {
		rt.ConsecutiveFailures++
	} else {
		rt.ConsecutiveFailures = 0
	}

	m.metrics.ObserveResult(res)
	if !m.appender.Append(res) {
		_ = level.Error(m.logger).Log("msg", "history queue full, dropping record",
			"serviceName", res.ServiceName, "correlationId", res.CorrelationID)
		m.metrics.CSVWrite(errHistoryQueueFull, 0)
	}

	logger := log.With(m.logger, "serviceName", res.ServiceName, "status", res.Status,
		"latencyMs", res.LatencyMillis, "httpStatus", res.HTTPStatus, "correlationId", res.CorrelationID)
	switch res.Status {
	case check.StatusFail:
		_ = level.Warn(logger).Log("msg", "check failed",
			"reason", res.FailureReason, "consecutiveFailures", rt.ConsecutiveFailures)
	case check.StatusDegraded:
		_ = level.Info(logger).Log("msg", "check degraded")
	default:
		_ = level.Debug(logger).Log("msg", "check passed")
	}
}

// writeSnapshot publishes the current projection and refreshes the
// failing-count gauge. The gauge counts raw FAIL runtimes; flap suppression
// only affects the user-facing projection.
func (m *Monitor) writeSnapshot() {
	failing := 0
	records := make([]snapshot.Record, 0, len(m.order))
	for _, name := range m.order {
		e := m.entries[name]
		if e.runtime.Status == check.StatusFail {
			failing++
		}
		records = append(records, e.record())
	}
	m.metrics.SetServicesFailing(failing)

	if err := m.publisher.Write(records); err != nil {
		_ = level.Error(m.logger).Log("msg", "snapshot write failed", "err", err)
		return
	}
	m.readyOnce.Do(func() {
		if m.opts.OnReady != nil {
			m.opts.OnReady()
		}
	})
}

func (m *Monitor) timeUntilNext(now time.Time) time.Duration {
	next := now.Add(time.Hour)
	for _, e := range m.entries {
		if e.nextFire.Before(next) {
			next = e.nextFire
		}
	}
	d := next.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func spread(interval time.Duration) time.Duration {
	window := scheduleSpread
	if interval < window {
		window = interval
	}
	if window <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(window)))
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
