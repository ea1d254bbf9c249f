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

package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/statusprobe/pkg/check"
)

func TestObserveResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveResult(check.Result{
		ServiceName:   "A",
		Status:        check.StatusPass,
		LatencyMillis: 120,
	})

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP health_checks_total Total number of completed health checks by service and status.
# TYPE health_checks_total counter
health_checks_total{service_name="A",status="PASS"} 1
`), "health_checks_total"))

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP health_check_latency_seconds Health check latency in seconds by service.
# TYPE health_check_latency_seconds histogram
health_check_latency_seconds_bucket{service_name="A",le="0.1"} 0
health_check_latency_seconds_bucket{service_name="A",le="0.5"} 1
health_check_latency_seconds_bucket{service_name="A",le="1"} 1
health_check_latency_seconds_bucket{service_name="A",le="2"} 1
health_check_latency_seconds_bucket{service_name="A",le="5"} 1
health_check_latency_seconds_bucket{service_name="A",le="10"} 1
health_check_latency_seconds_bucket{service_name="A",le="+Inf"} 1
health_check_latency_seconds_sum{service_name="A"} 0.12
health_check_latency_seconds_count{service_name="A"} 1
`), "health_check_latency_seconds"))
}

func TestObserveResultCoercesPendingAndCountsErrors(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveResult(check.Result{
		ServiceName:   "B",
		Status:        check.StatusPending,
		LatencyMillis: 30,
		ErrorType:     check.ErrorTimeout,
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.checksTotal.WithLabelValues("B", "FAIL")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.errorsTotal.WithLabelValues("B", "TIMEOUT")))
}

func TestAttemptErrors(t *testing.T) {
	m := New(prometheus.NewRegistry())

	// Two failed intermediate attempts plus the final one: the scenario where
	// max_retries=2 yields three counted attempts.
	m.ObserveAttemptError("C", check.ErrorTimeout)
	m.ObserveAttemptError("C", check.ErrorTimeout)
	m.ObserveResult(check.Result{ServiceName: "C", Status: check.StatusFail, ErrorType: check.ErrorTimeout})

	assert.Equal(t, float64(3), testutil.ToFloat64(m.errorsTotal.WithLabelValues("C", "TIMEOUT")))

	// An empty error type is a no-op.
	m.ObserveAttemptError("C", "")
	assert.Equal(t, float64(3), testutil.ToFloat64(m.errorsTotal.WithLabelValues("C", "TIMEOUT")))
}

func TestGaugesAndCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetServicesFailing(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.servicesFailing))

	m.SetPoolSize(8)
	assert.Equal(t, float64(8), testutil.ToFloat64(m.poolSize))

	m.TaskCompleted()
	m.TaskCompleted()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.tasksCompleted))
}

func TestCSVWrite(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CSVWrite(nil, 2)
	m.CSVWrite(nil, 1)
	m.CSVWrite(errors.New("disk full"), 5)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.csvWrites.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.csvWrites.WithLabelValues("failure")))
	// Failed writes do not advance the record counter.
	assert.Equal(t, float64(3), testutil.ToFloat64(m.csvRecords))
}
