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

package stats

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func TestServerStats_SamplesAndReportsUsage(t *testing.T) {
	var mu sync.Mutex
	usages := map[string]float64{"s1": 0.25, "s2": 0.75}

	sample := func(ctx context.Context, id string) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		return usages[id], nil
	}

	s := New(Config{
		ServerIDs: []string{"s1", "s2"},
		Sample:    sample,
		SleepMin:  10 * time.Millisecond,
		SleepMax:  20 * time.Millisecond,
		Rand:      rand.New(rand.NewSource(1)),
	})
	defer s.Shutdown()

	deadline := time.Now().Add(time.Second)
	for {
		u1, ok1 := s.GetMemUsage("s1")
		u2, ok2 := s.GetMemUsage("s2")
		if ok1 && ok2 {
			if u1 != 0.25 || u2 != 0.75 {
				t.Fatalf("got u1=%v u2=%v want 0.25 0.75", u1, u2)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for initial sample: ok1=%v ok2=%v", ok1, ok2)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestServerStats_UnreachableServerReportsNotOK(t *testing.T) {
	sample := func(ctx context.Context, id string) (float64, error) {
		return 0, errors.New("connection refused")
	}
	s := New(Config{
		ServerIDs: []string{"down"},
		Sample:    sample,
		SleepMin:  10 * time.Millisecond,
		SleepMax:  10 * time.Millisecond,
	})
	defer s.Shutdown()

	deadline := time.Now().Add(time.Second)
	for {
		_, ok := s.GetMemUsage("down")
		if !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected server to remain unreachable")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestServerStats_NotifyServerFailedWakesSampler(t *testing.T) {
	var mu sync.Mutex
	fail := true
	calls := 0

	sample := func(ctx context.Context, id string) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if fail {
			return 0, errors.New("down")
		}
		return 1.0, nil
	}

	s := New(Config{
		ServerIDs: []string{"s1"},
		Sample:    sample,
		SleepMin:  time.Hour,
		SleepMax:  time.Hour,
	})
	defer s.Shutdown()

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := s.GetMemUsage("s1"); !ok {
			mu.Lock()
			got := calls
			mu.Unlock()
			if got >= 1 {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for first sample")
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	fail = false
	mu.Unlock()
	s.NotifyServerFailed("s1")

	deadline = time.Now().Add(time.Second)
	for {
		if u, ok := s.GetMemUsage("s1"); ok {
			if u != 1.0 {
				t.Fatalf("got %v want 1.0", u)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for re-sample after NotifyServerFailed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestServerStats_ShutdownStopsWorker(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	sample := func(ctx context.Context, id string) (float64, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return 1, nil
	}
	s := New(Config{
		ServerIDs: []string{"s1"},
		Sample:    sample,
		SleepMin:  time.Millisecond,
		SleepMax:  2 * time.Millisecond,
	})
	time.Sleep(20 * time.Millisecond)
	s.Shutdown()

	mu.Lock()
	afterShutdown := calls
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	final := calls
	mu.Unlock()
	if final != afterShutdown {
		t.Fatalf("worker kept sampling after Shutdown: %d -> %d", afterShutdown, final)
	}
}
