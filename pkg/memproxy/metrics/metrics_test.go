// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: July 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/ealvarez/memproxy/pkg/memproxy/item"
)

func TestObserveItem_AddsAndResetsCounters(t *testing.T) {
	c := &item.Counters{}
	c.Hits.Store(3)
	c.Fills.Store(2)
	c.CacheErrors.Store(1)
	c.DecodeErrors.Store(1)
	c.BytesRead.Store(512)

	ObserveItem("users", c)

	if c.Hits.Load() != 0 || c.Fills.Load() != 0 {
		t.Fatalf("expected counters to be drained after ObserveItem, got hits=%d fills=%d", c.Hits.Load(), c.Fills.Load())
	}

	var m dto.Metric
	if err := itemHits.WithLabelValues("users").Write(&m); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.GetCounter().GetValue() != 3 {
		t.Fatalf("got %v want 3", m.GetCounter().GetValue())
	}
}

func TestObserveReplica_SetsGauges(t *testing.T) {
	ObserveReplica("server-a", 0.42, true)
	var m dto.Metric
	if err := replicaWeight.WithLabelValues("server-a").Write(&m); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.GetGauge().GetValue() != 0.42 {
		t.Fatalf("got %v want 0.42", m.GetGauge().GetValue())
	}

	ObserveReplica("server-b", 0, false)
	var m2 dto.Metric
	if err := replicaReachable.WithLabelValues("server-b").Write(&m2); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m2.GetGauge().GetValue() != 0 {
		t.Fatalf("got %v want 0", m2.GetGauge().GetValue())
	}
}

func TestObserveFailover_Increments(t *testing.T) {
	ObserveFailover("server-c")
	ObserveFailover("server-c")
	var m dto.Metric
	if err := replicaFailoversTotal.WithLabelValues("server-c").Write(&m); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.GetCounter().GetValue() != 2 {
		t.Fatalf("got %v want 2", m.GetCounter().GetValue())
	}
}
