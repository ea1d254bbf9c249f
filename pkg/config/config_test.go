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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFull(t *testing.T) {
	cfg, err := Load(strings.NewReader(`
settings:
  check_interval: 30
  warning_threshold: 1.5
  timeout: 10s
  page_refresh: 60
  max_retries: 3
  worker_pool_size: 8
  history_file: out/history.csv
  output_dir: out/site
pings:
  - name: api
    protocol: HTTPS
    method: GET
    resource: https://api.example.com/health
    tags: [prod, core]
    expected:
      status: 200
      text: OK
      headers:
        Content-Type: application/json
  - name: ingest
    protocol: HTTP
    method: POST
    resource: http://ingest.example.com/v1/echo
    expected:
      status: [201, 200]
    headers:
      - name: X-Api-Version
        value: "2"
      - name: Accept
        value: application/json
    payload:
      kind: heartbeat
      seq: 1
    interval: 45
    warning_threshold: 2
    timeout: 6
`))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Settings.GetCheckInterval())
	assert.Equal(t, 1500*time.Millisecond, cfg.Settings.GetWarningThreshold())
	assert.Equal(t, 10*time.Second, cfg.Settings.GetTimeout())
	assert.Equal(t, 60*time.Second, cfg.Settings.GetPageRefresh())
	assert.Equal(t, 3, cfg.Settings.GetMaxRetries())
	assert.Equal(t, 8, cfg.Settings.GetWorkerPoolSize())
	assert.Equal(t, "out/history.csv", cfg.Settings.GetHistoryFile())
	assert.Equal(t, "out/site", cfg.Settings.GetOutputDir())

	require.Len(t, cfg.Pings, 2)

	text := "OK"
	if diff := cmp.Diff(Service{
		Name:     "api",
		Protocol: "HTTPS",
		Method:   "GET",
		Resource: "https://api.example.com/health",
		Tags:     []string{"prod", "core"},
		Expected: Expectation{
			Status:  StatusCodes{200},
			Text:    &text,
			Headers: map[string]string{"Content-Type": "application/json"},
		},
	}, cfg.Pings[0]); diff != "" {
		t.Fatalf("unexpected first service (-want,+got): %s", diff)
	}
	assert.Equal(t, 200, cfg.Pings[0].Expected.Status.Canonical())

	ingest := cfg.Pings[1]
	assert.Equal(t, StatusCodes{201, 200}, ingest.Expected.Status)
	assert.Equal(t, 201, ingest.Expected.Status.Canonical())
	require.Len(t, ingest.Headers, 2)
	assert.Equal(t, Header{Name: "X-Api-Version", Value: "2"}, ingest.Headers[0])
	assert.Equal(t, Header{Name: "Accept", Value: "application/json"}, ingest.Headers[1])
	payload, ok := ingest.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "heartbeat", payload["kind"])

	assert.Equal(t, Params{
		Interval:         30 * time.Second,
		WarningThreshold: 1500 * time.Millisecond,
		Timeout:          10 * time.Second,
	}, cfg.ServiceParams(&cfg.Pings[0]))
	assert.Equal(t, Params{
		Interval:         45 * time.Second,
		WarningThreshold: 2 * time.Second,
		Timeout:          6 * time.Second,
	}, cfg.ServiceParams(&cfg.Pings[1]))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(`
pings:
  - name: a
    protocol: HTTPS
    method: GET
    resource: https://example.com/
    expected:
      status: 200
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultCheckInterval, cfg.Settings.GetCheckInterval())
	assert.Equal(t, DefaultWarningThreshold, cfg.Settings.GetWarningThreshold())
	assert.Equal(t, DefaultTimeout, cfg.Settings.GetTimeout())
	assert.Equal(t, DefaultPageRefresh, cfg.Settings.GetPageRefresh())
	assert.Equal(t, DefaultMaxRetries, cfg.Settings.GetMaxRetries())
	assert.Equal(t, 0, cfg.Settings.GetWorkerPoolSize())
	assert.Equal(t, DefaultHistoryFile, cfg.Settings.GetHistoryFile())
	assert.Equal(t, DefaultOutputDir, cfg.Settings.GetOutputDir())
}

func TestLoadExplicitZeros(t *testing.T) {
	// Explicit zeros are kept where the range allows them, rather than being
	// replaced by defaults.
	cfg, err := Load(strings.NewReader(`
settings:
  warning_threshold: 0
  max_retries: 0
  worker_pool_size: 0
pings:
  - name: a
    protocol: HTTPS
    method: GET
    resource: https://example.com/
    expected:
      status: 200
`))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Settings.GetWarningThreshold())
	assert.Equal(t, 0, cfg.Settings.GetMaxRetries())
	assert.Equal(t, 0, cfg.Settings.GetWorkerPoolSize())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	for _, tc := range []struct {
		desc string
		doc  string
	}{
		{
			desc: "top level",
			doc: `
bogus: true
pings:
  - name: a
    protocol: HTTPS
    method: GET
    resource: https://example.com/
    expected:
      status: 200
`,
		},
		{
			desc: "per service",
			doc: `
pings:
  - name: a
    protocol: HTTPS
    method: GET
    resource: https://example.com/
    retries: 3
    expected:
      status: 200
`,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "parse configuration")
		})
	}
}

func TestLoadEmpty(t *testing.T) {
	_, err := Load(strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestValidateBoundaries(t *testing.T) {
	base := func(settings, expected string) string {
		return `
settings:` + settings + `
pings:
  - name: a
    protocol: HTTPS
    method: GET
    resource: https://example.com/
    expected:
      status: ` + expected + `
`
	}

	for _, tc := range []struct {
		desc    string
		doc     string
		wantErr string
	}{
		{desc: "check_interval at minimum", doc: base("\n  check_interval: 10", "200")},
		{desc: "check_interval below minimum", doc: base("\n  check_interval: 9", "200"),
			wantErr: "check_interval must be at least 10s"},
		{desc: "status lower bound", doc: base(" {}", "100")},
		{desc: "status upper bound", doc: base(" {}", "599")},
		{desc: "status below range", doc: base(" {}", "99"),
			wantErr: "expected.status[0] must be at least 100"},
		{desc: "status above range", doc: base(" {}", "600"),
			wantErr: "expected.status[0] must be at most 599"},
		{desc: "max_retries at maximum", doc: base("\n  max_retries: 10", "200")},
		{desc: "max_retries above maximum", doc: base("\n  max_retries: 11", "200"),
			wantErr: "max_retries must be between 0 and 10"},
		{desc: "worker_pool_size above maximum", doc: base("\n  worker_pool_size: 101", "200"),
			wantErr: "worker_pool_size must be between 0 and 100"},
		{desc: "page_refresh below minimum", doc: base("\n  page_refresh: 4", "200"),
			wantErr: "page_refresh must be at least 5s"},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.doc))
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateCollectsAllViolations(t *testing.T) {
	_, err := Load(strings.NewReader(`
settings:
  check_interval: 9
  worker_pool_size: 101
pings:
  - name: alpha
    protocol: FTP
    method: GET
    resource: https://a.example.com/
    expected:
      status: 600
  - name: alpha
    protocol: HTTPS
    method: GET
    resource: http://a.example.com/
    expected:
      status: 200
  - name: beta
    protocol: HTTP
    method: GET
    resource: http://b.example.com/
    expected:
      status: 200
    payload:
      x: 1
    warning_threshold: 11
    timeout: 11
`))
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	for _, want := range []string{
		"settings: check_interval must be at least 10s",
		"settings: worker_pool_size must be between 0 and 100",
		`service "alpha": protocol must be one of HTTP, HTTPS`,
		`service "alpha": expected.status[0] must be at most 599`,
		`service "alpha": duplicate service name`,
		`service "alpha": resource scheme "http" does not match protocol HTTPS`,
		`service "beta": payload requires method POST`,
		`service "beta": warning_threshold (11s) must be less than timeout (11s)`,
	} {
		assert.Contains(t, verr.Violations, want)
	}
}

func TestValidateMissingFields(t *testing.T) {
	_, err := Load(strings.NewReader(`
pings:
  - protocol: HTTPS
    method: GET
    resource: https://example.com/
    expected:
      status: 200
  - name: b
    protocol: HTTPS
    method: PUT
    resource: https://example.com/
`))
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Violations, "pings[0]: name is required")
	assert.Contains(t, verr.Violations, `service "b": method must be one of GET, HEAD, POST`)
	assert.Contains(t, verr.Violations, `service "b": expected.status is required`)
}

func TestDurationForms(t *testing.T) {
	cfg, err := Load(strings.NewReader(`
pings:
  - name: a
    protocol: HTTPS
    method: GET
    resource: https://example.com/
    expected:
      status: 200
    interval: 1m30s
    warning_threshold: 0.25
    timeout: 2
`))
	require.NoError(t, err)

	params := cfg.ServiceParams(&cfg.Pings[0])
	assert.Equal(t, 90*time.Second, params.Interval)
	assert.Equal(t, 250*time.Millisecond, params.WarningThreshold)
	assert.Equal(t, 2*time.Second, params.Timeout)
}

func TestDurationInvalid(t *testing.T) {
	_, err := Load(strings.NewReader(`
pings:
  - name: a
    protocol: HTTPS
    method: GET
    resource: https://example.com/
    expected:
      status: 200
    timeout: soon
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLint(t *testing.T) {
	dir := t.TempDir()
	write := func(name, doc string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
		return path
	}

	valid := write("valid.yaml", `
pings:
  - name: a
    protocol: HTTPS
    method: GET
    resource: https://a.example.com/
    expected:
      status: 200
`)
	invalid := write("invalid.yaml", `
pings:
  - name: a
    protocol: FTP
    method: GET
    resource: https://a.example.com/
    expected:
      status: 200
  - name: a
    protocol: HTTPS
    method: GET
    resource: https://a.example.com/
    expected:
      status: 200
`)

	var out strings.Builder
	assert.True(t, Lint(valid, &out))
	assert.Empty(t, out.String())

	out.Reset()
	assert.False(t, Lint(invalid, &out))
	assert.Equal(t, []string{
		`service "a": protocol must be one of HTTP, HTTPS`,
		`service "a": resource scheme "https" does not match protocol FTP`,
		`service "a": duplicate service name`,
	}, strings.Split(strings.TrimRight(out.String(), "\n"), "\n"))

	out.Reset()
	assert.False(t, Lint(filepath.Join(dir, "absent.yaml"), &out))
	assert.Contains(t, out.String(), "open configuration")
}
