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

// Package probe executes HTTP health checks: a single-attempt engine plus a
// retry controller that wraps it with classifier-gated backoff.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/GoogleCloudPlatform/statusprobe/pkg/check"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/config"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/guard"
)

// MaxBodyBytes bounds how much of a response body is read. The bound is a
// correctness contract for text matching as well as a guard against
// oversized responses.
const MaxBodyBytes = 100 * 1024

const defaultUserAgent = "statusprobe"

// Job is one probe cycle for a service: the definition plus its effective
// parameters and the cycle's correlation ID.
type Job struct {
	Service          *config.Service
	Timeout          time.Duration
	WarningThreshold time.Duration
	CorrelationID    string
}

// Options configure a Prober.
type Options struct {
	Policy    guard.Policy
	UserAgent string
	// Client overrides the pooled default, mainly for tests.
	Client *http.Client
}

// Prober executes single HTTP attempts. It is safe for concurrent use; the
// underlying client pools connections.
type Prober struct {
	client    *http.Client
	policy    guard.Policy
	userAgent string
	logger    log.Logger
}

// New builds a Prober around a pooled client with redirects disabled, so
// redirect status codes stay visible to validation.
func New(opts Options, logger log.Logger) *Prober {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	client := opts.Client
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Prober{
		client:    client,
		policy:    opts.Policy,
		userAgent: userAgent,
		logger:    log.With(logger, "module", "probe"),
	}
}

// Do runs exactly one attempt and never returns an error: every failure mode
// is folded into the Result.
func (p *Prober) Do(ctx context.Context, job Job) check.Result {
	svc := job.Service
	res := check.Result{
		ServiceName:    svc.Name,
		Timestamp:      time.Now().UTC(),
		Method:         svc.Method,
		ExpectedStatus: svc.Expected.Status.Canonical(),
		CorrelationID:  job.CorrelationID,
	}
	if res.CorrelationID == "" {
		res.CorrelationID = uuid.NewString()
	}
	logger := log.With(p.logger, "serviceName", svc.Name, "correlationId", res.CorrelationID)

	target, err := url.Parse(svc.Resource)
	if err != nil {
		res.Status = check.StatusFail
		res.FailureReason = "Invalid URL"
		return res
	}
	if err := p.policy.Validate(target); err != nil {
		res.Status = check.StatusFail
		res.FailureReason = err.Error()
		_ = level.Warn(logger).Log("msg", "URL rejected by guard", "url", svc.Resource, "err", err)
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	req, err := p.buildRequest(ctx, svc)
	if err != nil {
		res.Status = check.StatusFail
		res.FailureReason = "Invalid request"
		_ = level.Warn(logger).Log("msg", "building request failed", "err", err)
		return res
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		res.LatencyMillis = time.Since(start).Milliseconds()
		res.Status = check.StatusFail
		res.ErrorType = check.Classify(err)
		res.FailureReason = res.ErrorType.Reason()
		_ = level.Debug(logger).Log("msg", "transport failure", "errorType", res.ErrorType, "err", err)
		return res
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	res.LatencyMillis = time.Since(start).Milliseconds()
	res.HTTPStatus = resp.StatusCode
	if readErr != nil {
		res.Status = check.StatusFail
		res.ErrorType = check.Classify(readErr)
		res.FailureReason = res.ErrorType.Reason()
		_ = level.Debug(logger).Log("msg", "body read failed", "errorType", res.ErrorType, "err", readErr)
		return res
	}

	p.validate(&res, svc, resp, body, job)
	_ = level.Debug(logger).Log("msg", "probe finished", "status", res.Status,
		"httpStatus", res.HTTPStatus, "latencyMs", res.LatencyMillis)
	return res
}

func (p *Prober) buildRequest(ctx context.Context, svc *config.Service) (*http.Request, error) {
	var body io.Reader
	if svc.Payload != nil {
		raw, err := json.Marshal(svc.Payload)
		if err != nil {
			return nil, fmt.Errorf("serialize payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, svc.Method, svc.Resource, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// Configured headers override the defaults; a repeated name adds another
	// value rather than replacing the earlier one.
	seen := make(map[string]bool, len(svc.Headers))
	for _, h := range svc.Headers {
		key := http.CanonicalHeaderKey(h.Name)
		if seen[key] {
			req.Header.Add(h.Name, h.Value)
			continue
		}
		req.Header.Set(h.Name, h.Value)
		seen[key] = true
	}
	return req, nil
}

// validate applies the configured clauses and the latency thresholds to a
// completed response. The first failing clause, in the order status, text,
// headers, determines the failure reason.
func (p *Prober) validate(res *check.Result, svc *config.Service, resp *http.Response, body []byte, job Job) {
	if svc.Expected.Text != nil {
		ok := bytes.Contains(body, []byte(*svc.Expected.Text))
		res.TextValid = &ok
	}
	if len(svc.Expected.Headers) > 0 {
		res.HeaderValid = make(map[string]bool, len(svc.Expected.Headers))
		for name, want := range svc.Expected.Headers {
			res.HeaderValid[name] = resp.Header.Get(name) == want
		}
	}

	switch {
	case resp.StatusCode != res.ExpectedStatus:
		res.Status = check.StatusFail
		res.FailureReason = fmt.Sprintf("Expected status %d, got %d", res.ExpectedStatus, resp.StatusCode)
	case res.TextValid != nil && !*res.TextValid:
		res.Status = check.StatusFail
		res.FailureReason = fmt.Sprintf("Expected text '%s' not found", *svc.Expected.Text)
	case firstHeaderMismatch(res.HeaderValid) != "":
		name := firstHeaderMismatch(res.HeaderValid)
		res.Status = check.StatusFail
		res.FailureReason = fmt.Sprintf("Expected header '%s' value '%s' not found", name, svc.Expected.Headers[name])
	case res.LatencyMillis > job.Timeout.Milliseconds():
		// The response completed but only after the effective timeout.
		res.Status = check.StatusFail
		res.ErrorType = check.ErrorTimeout
		res.FailureReason = check.ErrorTimeout.Reason()
	case res.LatencyMillis > job.WarningThreshold.Milliseconds():
		res.Status = check.StatusDegraded
	default:
		res.Status = check.StatusPass
	}
}

// firstHeaderMismatch returns the alphabetically first failed header
// expectation, keeping the reported reason deterministic.
func firstHeaderMismatch(results map[string]bool) string {
	var failed []string
	for name, ok := range results {
		if !ok {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		return ""
	}
	sort.Strings(failed)
	return failed[0]
}
