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

package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoogleCloudPlatform/statusprobe/pkg/check"
)

func TestEscapeParseRoundTrip(t *testing.T) {
	values := []string{
		"plain",
		"",
		"has,comma",
		`has"quote`,
		"multi\nline",
		"crlf\r\nend",
		`"already,quoted"`,
		"trailing\r",
		"ünïcødé",
	}
	for _, v := range values {
		t.Run(fmt.Sprintf("%q", v), func(t *testing.T) {
			line := EscapeValue(v) + "," + EscapeValue("tail")
			fields, err := ParseLine(line)
			require.NoError(t, err)
			assert.Equal(t, []string{v, "tail"}, fields)
		})
	}
}

func TestParseLineRejectsMalformed(t *testing.T) {
	for _, line := range []string{
		`abc"def`,
		`"unterminated`,
		`"closed"junk,b`,
	} {
		_, err := ParseLine(line)
		assert.Error(t, err, "line %q", line)
	}
}

func TestFormatRecord(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 30, 0, 250_000_000, time.UTC)

	t.Run("escapes commas and quotes", func(t *testing.T) {
		r := check.Result{
			ServiceName:   `edge, "API"`,
			Timestamp:     ts,
			Status:        check.StatusFail,
			LatencyMillis: 1234,
			HTTPStatus:    503,
			FailureReason: "Expected status 200, got 503",
			CorrelationID: "6e1f1cb5-4efb-4a54-9f1c-111111111111",
		}
		want := `2026-03-01T10:30:00.250Z,"edge, ""API""",FAIL,1234,503,"Expected status 200, got 503",6e1f1cb5-4efb-4a54-9f1c-111111111111` + "\n"
		assert.Equal(t, want, FormatRecord(r))
	})

	t.Run("coerces pending to fail", func(t *testing.T) {
		r := check.Result{ServiceName: "a", Timestamp: ts, Status: check.StatusPending}
		assert.Contains(t, FormatRecord(r), ",FAIL,")
	})
}

type writeLog struct {
	mu       sync.Mutex
	records  int
	failures int
}

func (l *writeLog) record(err error, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.failures++
		return
	}
	l.records += n
}

func (l *writeLog) written() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records
}

func (l *writeLog) failed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

func result(name string, status check.Status) check.Result {
	return check.Result{
		ServiceName:   name,
		Timestamp:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Status:        status,
		LatencyMillis: 10,
		HTTPStatus:    200,
		CorrelationID: "0b8c8f1e-0000-4000-8000-000000000000",
	}
}

func runAppender(t *testing.T, a *Appender) {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- a.Run(context.Background()) }()
	t.Cleanup(func() {
		a.Close()
		require.NoError(t, <-errc)
	})
}

func TestAppenderWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "history.csv")

	var wl writeLog
	a := NewAppender(path, 16, nil, wl.record)
	runAppender(t, a)
	require.True(t, a.Append(result("a", check.StatusPass)))
	require.True(t, a.Append(result("b", check.StatusFail)))
	a.Close()
	<-a.Done()

	// A second appender over the same file must not re-emit the header.
	b := NewAppender(path, 16, nil, wl.record)
	runAppender(t, b)
	require.True(t, b.Append(result("c", check.StatusDegraded)))
	b.Close()
	<-b.Done()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, Header, lines[0])
	assert.Equal(t, 1, strings.Count(string(raw), "timestamp,"))
	assert.Contains(t, lines[1], ",a,PASS,")
	assert.Contains(t, lines[2], ",b,FAIL,")
	assert.Contains(t, lines[3], ",c,DEGRADED,")
	assert.Equal(t, 3, wl.written())
}

func TestAppenderPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	a := NewAppender(path, 64, nil, nil)
	runAppender(t, a)

	const n = 25
	for i := 0; i < n; i++ {
		require.True(t, a.Append(result(fmt.Sprintf("svc-%02d", i), check.StatusPass)))
	}
	a.Close()
	<-a.Done()

	records, corrupt, err := ReadRecords(path)
	require.NoError(t, err)
	assert.Empty(t, corrupt)
	require.Len(t, records, n)
	for i, rec := range records {
		assert.Equal(t, fmt.Sprintf("svc-%02d", i), rec.ServiceName)
	}
}

func TestAppenderRoundTripsAwkwardValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	a := NewAppender(path, 4, nil, nil)
	runAppender(t, a)

	r := result(`name,"with",everything`, check.StatusFail)
	r.FailureReason = "line one\nline two, \"quoted\""
	require.True(t, a.Append(r))
	a.Close()
	<-a.Done()

	records, corrupt, err := ReadRecords(path)
	require.NoError(t, err)
	assert.Empty(t, corrupt)
	require.Len(t, records, 1)
	assert.Equal(t, r.ServiceName, records[0].ServiceName)
	assert.Equal(t, r.FailureReason, records[0].FailureReason)
}

func TestAppendAfterCloseOrWhenFull(t *testing.T) {
	a := NewAppender(filepath.Join(t.TempDir(), "history.csv"), 2, nil, nil)

	// Run never starts, so the queue is exact.
	assert.True(t, a.Append(result("a", check.StatusPass)))
	assert.True(t, a.Append(result("b", check.StatusPass)))
	assert.False(t, a.Append(result("c", check.StatusPass)))

	a.Close()
	assert.False(t, a.Append(result("d", check.StatusPass)))
}

func TestRunKeepsDrainingWhenOpenFails(t *testing.T) {
	// A directory at the history path makes every open attempt fail; the
	// loop must keep draining and report the dropped batches, not exit.
	var wl writeLog
	a := NewAppender(t.TempDir(), 8, nil, wl.record)
	runAppender(t, a)

	require.True(t, a.Append(result("a", check.StatusPass)))
	require.True(t, a.Append(result("b", check.StatusFail)))

	a.Close()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("appender did not drain")
	}

	assert.GreaterOrEqual(t, wl.failed(), 1)
	assert.Equal(t, 0, wl.written())

	// Late appends after Close are still refused.
	assert.False(t, a.Append(result("c", check.StatusPass)))
}

func TestReadRecordsReportsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	content := Header + "\n" +
		"2026-03-01T00:00:00.000Z,a,PASS,10,200,,id1\n" +
		"not,enough,fields\n" +
		"2026-03-01T00:00:01.000Z,b,FAIL,0,0,\"multi\nline reason\",id2\n" +
		"2026-03-01T00:00:02.000Z,c,DEGRADED,notanint,200,,id3\n" +
		"2026-03-01T00:00:03.000Z,d,PENDING,5,200,,id4\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	records, corrupt, err := ReadRecords(path)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ServiceName)
	assert.Equal(t, "b", records[1].ServiceName)
	assert.Equal(t, "multi\nline reason", records[1].FailureReason)

	require.Len(t, corrupt, 3)
	assert.Equal(t, 3, corrupt[0].Position)
	assert.Equal(t, 5, corrupt[1].Position)
	assert.Equal(t, 6, corrupt[2].Position)
}

func TestReadRecordsMissingFile(t *testing.T) {
	_, _, err := ReadRecords(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}
