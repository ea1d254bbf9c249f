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

package monitor

import (
	"github.com/GoogleCloudPlatform/statusprobe/pkg/check"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/config"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/history"
	"github.com/GoogleCloudPlatform/statusprobe/pkg/snapshot"
)

// SeedRecords projects the configured services onto the last persisted
// history record of each, producing a snapshot without probing. Services
// without history stay PENDING. The trailing FAIL streak per service decides
// flap suppression exactly as the live loop would.
func SeedRecords(cfg *config.Config, records []history.Record) []snapshot.Record {
	last := make(map[string]history.Record, len(cfg.Pings))
	streak := make(map[string]int, len(cfg.Pings))
	for _, rec := range records {
		last[rec.ServiceName] = rec
		if rec.Status == check.StatusFail {
			streak[rec.ServiceName]++
		} else {
			streak[rec.ServiceName] = 0
		}
	}

	out := make([]snapshot.Record, 0, len(cfg.Pings))
	for i := range cfg.Pings {
		svc := &cfg.Pings[i]
		tags := svc.Tags
		if tags == nil {
			tags = []string{}
		}
		rec, ok := last[svc.Name]
		if !ok {
			out = append(out, snapshot.Record{
				Name:   svc.Name,
				Status: check.StatusPending,
				Tags:   tags,
			})
			continue
		}
		rt := Runtime{
			Status:              rec.Status,
			ConsecutiveFailures: streak[svc.Name],
			LastFailureReason:   rec.FailureReason,
		}
		latency := rec.LatencyMillis
		httpStatus := rec.HTTPStatus
		lastCheck := rec.Timestamp
		out = append(out, snapshot.Record{
			Name:          svc.Name,
			Status:        rt.DisplayStatus(),
			LatencyMillis: &latency,
			LastCheckTime: &lastCheck,
			Tags:          tags,
			HTTPStatus:    &httpStatus,
			FailureReason: rec.FailureReason,
		})
	}
	return out
}
