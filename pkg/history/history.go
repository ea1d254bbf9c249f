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

// Package history persists probe results to an append-only RFC 4180 CSV
// file. The file is the system of record; it is never rewritten, only
// appended to, and each batch is synced before the next is taken.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/GoogleCloudPlatform/statusprobe/pkg/check"
)

// Header is the exact first line of a freshly created history file. It is
// written once; appends to an existing file never re-emit it.
const Header = "timestamp,service_name,status,latency_ms,http_status_code,failure_reason,correlation_id"

// DefaultQueueSize bounds how many results may wait for the writer loop.
const DefaultQueueSize = 1024

// FormatRecord renders one result as a CSV record with a trailing newline.
// Runtime-only PENDING results are coerced to FAIL before persisting.
func FormatRecord(r check.Result) string {
	fields := []string{
		check.FormatTimestamp(r.Timestamp),
		EscapeValue(r.ServiceName),
		string(r.PersistedStatus()),
		strconv.FormatInt(r.LatencyMillis, 10),
		strconv.Itoa(r.HTTPStatus),
		EscapeValue(r.FailureReason),
		EscapeValue(r.CorrelationID),
	}
	return strings.Join(fields, ",") + "\n"
}

// WriteFunc is notified after every write attempt: err is nil on success and
// records is the number of records that reached the file.
type WriteFunc func(err error, records int)

// Appender is the single writer for the history file. Results are enqueued
// without blocking the orchestrator's hot path and drained by Run in arrival
// order, so appends are totally ordered.
type Appender struct {
	path    string
	logger  log.Logger
	onWrite WriteFunc

	queue chan check.Result

	// openErr is set by Run before the first batch when the file could not
	// be opened; every batch is then reported as a failed write.
	openErr error

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

// NewAppender creates an appender for path. A non-positive queueSize selects
// DefaultQueueSize; onWrite may be nil.
func NewAppender(path string, queueSize int, logger log.Logger, onWrite WriteFunc) *Appender {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Appender{
		path:    path,
		logger:  log.With(logger, "module", "history"),
		onWrite: onWrite,
		queue:   make(chan check.Result, queueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Append enqueues one result. It reports false when the appender is closed
// or the queue is full; the record is then lost and the caller has already
// been told through the return value.
func (a *Appender) Append(r check.Result) bool {
	select {
	case <-a.quit:
		return false
	default:
	}
	select {
	case a.queue <- r:
		return true
	case <-a.quit:
		return false
	default:
		return false
	}
}

// AppendBatch enqueues results in order and returns how many were accepted.
func (a *Appender) AppendBatch(results []check.Result) int {
	for i, r := range results {
		if !a.Append(r) {
			return i
		}
	}
	return len(results)
}

// Close stops the writer after the queue drains. Safe to call more than
// once.
func (a *Appender) Close() {
	a.quitOnce.Do(func() {
		close(a.quit)
	})
}

// Done is closed once Run has drained the queue and closed the file.
func (a *Appender) Done() <-chan struct{} {
	return a.done
}

// Run opens (or creates) the history file and drains the queue until Close
// is called or ctx is cancelled. Queued results are coalesced into batches;
// each batch is synced before the next is taken. Failures never stop the
// loop: write errors are logged and reported through onWrite, and when the
// file itself cannot be opened the loop keeps draining and reports every
// batch as a failed write.
func (a *Appender) Run(ctx context.Context) error {
	defer close(a.done)

	f, err := a.open()
	if err != nil {
		_ = level.Error(a.logger).Log("msg", "history unavailable, records will be dropped", "err", err)
		a.openErr = err
	} else {
		defer f.Close()
	}

	for {
		select {
		case <-ctx.Done():
			a.drain(f)
			return nil
		case <-a.quit:
			a.drain(f)
			return nil
		case r := <-a.queue:
			a.writeBatch(f, a.collect(r))
		}
	}
}

func (a *Appender) open() (*os.File, error) {
	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", a.path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat history %s: %w", a.path, err)
	}
	if fi.Size() == 0 {
		if _, err := f.WriteString(Header + "\n"); err != nil {
			f.Close()
			return nil, fmt.Errorf("write history header: %w", err)
		}
	}
	return f, nil
}

// collect gathers everything already queued behind r into one batch.
func (a *Appender) collect(r check.Result) []check.Result {
	batch := []check.Result{r}
	for {
		select {
		case next := <-a.queue:
			batch = append(batch, next)
		default:
			return batch
		}
	}
}

func (a *Appender) drain(f *os.File) {
	for {
		select {
		case r := <-a.queue:
			a.writeBatch(f, a.collect(r))
		default:
			return
		}
	}
}

func (a *Appender) writeBatch(f *os.File, batch []check.Result) {
	if f == nil {
		a.reportWrite(a.openErr, 0)
		return
	}
	var b strings.Builder
	for _, r := range batch {
		b.WriteString(FormatRecord(r))
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = level.Error(a.logger).Log("msg", "history append failed", "records", len(batch), "err", err)
		a.reportWrite(err, 0)
		return
	}
	if err := f.Sync(); err != nil {
		_ = level.Error(a.logger).Log("msg", "history sync failed", "records", len(batch), "err", err)
		a.reportWrite(err, 0)
		return
	}
	a.reportWrite(nil, len(batch))
}

func (a *Appender) reportWrite(err error, records int) {
	if a.onWrite != nil {
		a.onWrite(err, records)
	}
}
