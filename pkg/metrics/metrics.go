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

// Package metrics holds the Prometheus collectors for the probe pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoogleCloudPlatform/statusprobe/pkg/check"
)

// LatencyBuckets are the histogram bounds for probe latency, in seconds.
var LatencyBuckets = []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0}

// Metrics is the collector set of the probe pipeline. One instance per
// process, registered on the registry served at /metrics.
type Metrics struct {
	checksTotal     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	servicesFailing prometheus.Gauge
	errorsTotal     *prometheus.CounterVec
	poolSize        prometheus.Gauge
	tasksCompleted  prometheus.Counter
	csvWrites       *prometheus.CounterVec
	csvRecords      prometheus.Counter
}

// New builds the collector set and registers it on reg (which may be nil in
// tests that only exercise recording).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "health_checks_total",
			Help: "Total number of completed health checks by service and status.",
		}, []string{"service_name", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "health_check_latency_seconds",
			Help:    "Health check latency in seconds by service.",
			Buckets: LatencyBuckets,
		}, []string{"service_name"}),
		servicesFailing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "services_failing",
			Help: "Number of services whose latest check failed.",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "health_check_errors_total",
			Help: "Total transport-level check errors by service and error type.",
		}, []string{"service_name", "error_type"}),
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worker_pool_size",
			Help: "Number of concurrent probe workers.",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worker_tasks_completed_total",
			Help: "Total probe jobs completed by the worker pool.",
		}),
		csvWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csv_writes_total",
			Help: "Total CSV history write operations by outcome.",
		}, []string{"status"}),
		csvRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csv_records_written_total",
			Help: "Total records appended to the CSV history.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.checksTotal,
			m.latency,
			m.servicesFailing,
			m.errorsTotal,
			m.poolSize,
			m.tasksCompleted,
			m.csvWrites,
			m.csvRecords,
		)
	}
	return m
}

// ObserveResult records the final outcome of one probe cycle.
func (m *Metrics) ObserveResult(r check.Result) {
	m.checksTotal.WithLabelValues(r.ServiceName, string(r.PersistedStatus())).Inc()
	m.latency.WithLabelValues(r.ServiceName).Observe(float64(r.LatencyMillis) / 1000)
	if r.ErrorType != "" {
		m.errorsTotal.WithLabelValues(r.ServiceName, string(r.ErrorType)).Inc()
	}
}

// ObserveAttemptError counts a failed intermediate attempt that the retry
// controller did not surface as the final result.
func (m *Metrics) ObserveAttemptError(service string, errType check.ErrorType) {
	if errType == "" {
		return
	}
	m.errorsTotal.WithLabelValues(service, string(errType)).Inc()
}

// SetServicesFailing updates the failing-count gauge.
func (m *Metrics) SetServicesFailing(n int) {
	m.servicesFailing.Set(float64(n))
}

// SetPoolSize records the resolved worker pool size.
func (m *Metrics) SetPoolSize(n int) {
	m.poolSize.Set(float64(n))
}

// TaskCompleted counts one finished worker job.
func (m *Metrics) TaskCompleted() {
	m.tasksCompleted.Inc()
}

// CSVWrite records the outcome of one history write of n records.
func (m *Metrics) CSVWrite(err error, n int) {
	if err != nil {
		m.csvWrites.WithLabelValues("failure").Inc()
		return
	}
	m.csvWrites.WithLabelValues("success").Inc()
	m.csvRecords.Add(float64(n))
}
