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

// Package snapshot renders the current-status JSON consumed by the page
// renderer. The file is rewritten whole on every publish; consumers never
// observe a partial document because the write goes through a temp file and
// an atomic rename.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-kit/log"

	"github.com/GoogleCloudPlatform/statusprobe/pkg/check"
)

// FileName is the snapshot file written inside the output directory.
const FileName = "status.json"

// Record is one service row in the snapshot. PENDING services carry null
// latency, last-check time and HTTP status; Tags is always an array, never
// null.
type Record struct {
	Name          string       `json:"name"`
	Status        check.Status `json:"status"`
	LatencyMillis *int64       `json:"latency_ms"`
	LastCheckTime *string      `json:"last_check_time"`
	Tags          []string     `json:"tags"`
	HTTPStatus    *int         `json:"http_status_code"`
	FailureReason string       `json:"failure_reason"`
}

// Sort orders records for display: FAIL first, then DEGRADED, PASS and
// PENDING. The sort is stable, so configuration order survives within each
// status block.
func Sort(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Status.Rank() < records[j].Status.Rank()
	})
}

// Publisher writes snapshots into a fixed output directory.
type Publisher struct {
	dir    string
	logger log.Logger
}

// NewPublisher returns a publisher writing to dir.
func NewPublisher(dir string, logger log.Logger) *Publisher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Publisher{
		dir:    dir,
		logger: log.With(logger, "module", "snapshot"),
	}
}

// Path returns the full path of the published snapshot file.
func (p *Publisher) Path() string {
	return filepath.Join(p.dir, FileName)
}

// Write sorts records and atomically replaces the snapshot file. The same
// input always produces the same bytes.
func (p *Publisher) Write(records []Record) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create output directory %s: %w", p.dir, err)
	}
	if records == nil {
		records = []Record{}
	}
	Sort(records)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(p.dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpName, p.Path()); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}
