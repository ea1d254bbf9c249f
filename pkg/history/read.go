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
	"fmt"
	"os"
	"strconv"

	"github.com/GoogleCloudPlatform/statusprobe/pkg/check"
)

// Record is one parsed history row.
type Record struct {
	Timestamp     string
	ServiceName   string
	Status        check.Status
	LatencyMillis int64
	HTTPStatus    int
	FailureReason string
	CorrelationID string
}

// Corrupt flags a record that failed to parse. Position is 1-based over the
// file's logical records, the header included. Corrupt records are reported,
// never rewritten.
type Corrupt struct {
	Position int
	Err      error
}

// ReadRecords parses the history file at path and returns its records along
// with any corrupt entries.
func ReadRecords(path string) ([]Record, []Corrupt, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read history %s: %w", path, err)
	}

	var records []Record
	var corrupt []Corrupt
	for i, line := range splitRecords(string(raw)) {
		if i == 0 && line == Header {
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			corrupt = append(corrupt, Corrupt{Position: i + 1, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, corrupt, nil
}

func parseRecord(line string) (Record, error) {
	fields, err := ParseLine(line)
	if err != nil {
		return Record{}, err
	}
	if len(fields) != 7 {
		return Record{}, fmt.Errorf("expected 7 fields, got %d", len(fields))
	}

	status := check.Status(fields[2])
	switch status {
	case check.StatusPass, check.StatusDegraded, check.StatusFail:
	default:
		return Record{}, fmt.Errorf("invalid status %q", fields[2])
	}
	latency, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid latency_ms %q", fields[3])
	}
	httpStatus, err := strconv.Atoi(fields[4])
	if err != nil {
		return Record{}, fmt.Errorf("invalid http_status_code %q", fields[4])
	}

	return Record{
		Timestamp:     fields[0],
		ServiceName:   fields[1],
		Status:        status,
		LatencyMillis: latency,
		HTTPStatus:    httpStatus,
		FailureReason: fields[5],
		CorrelationID: fields[6],
	}, nil
}
