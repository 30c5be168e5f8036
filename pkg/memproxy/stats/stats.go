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

// Package stats implements the background memory-usage sampler described in
// spec.md §5: one long-lived worker per ServerStats instance that polls each
// replica's memory usage on a random interval and exposes the latest
// weights, plus a "mark failed" signal the request path can use to wake it
// early. The two-goroutine lifecycle (Shutdown sets a closed flag and waits
// for the worker to close its done channel; no final sampling pass is made
// before exit) is grounded in the teacher's
// internal/ratelimiter/core/worker.go; the mutex+condvar wakeup loop is
// grounded in internal/ratelimiter/telemetry/churn/exporter.go's
// startOrUpdateExporter loop.
package stats

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// MemUsageFunc samples one server's current memory usage. Implementations
// typically issue INFO memory against the backing cache server; this package
// has no opinion on the protocol (spec.md §1 scopes that out as an external
// collaborator).
type MemUsageFunc func(ctx context.Context, serverID string) (float64, error)

type serverState struct {
	usage       *float64 // nil means "not reachable"
	nextWakeup  time.Time
	queued      bool
}

// Config configures a ServerStats instance.
type Config struct {
	ServerIDs []string
	Sample    MemUsageFunc
	// SleepMin, SleepMax bound the per-server poll interval.
	SleepMin time.Duration
	SleepMax time.Duration
	// Rand, if set, drives the random interval selection (for deterministic
	// tests). Defaults to a time-seeded source.
	Rand *rand.Rand
	// Logger receives sampling failures. Nil disables logging.
	Logger interface {
		Printf(format string, args ...interface{})
	}
}

// ServerStats runs one background worker that periodically samples every
// configured server's memory usage and reports per-server weights and
// reachability to the request path.
type ServerStats struct {
	cfg Config
	rnd *rand.Rand

	mu      sync.Mutex
	cond    *sync.Cond
	state   map[string]*serverState
	closed  bool
	wakeCh  chan struct{}
	doneCh  chan struct{}
}

// New constructs and starts a ServerStats worker for the given configuration.
func New(cfg Config) *ServerStats {
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s := &ServerStats{
		cfg:    cfg,
		rnd:    rnd,
		state:  make(map[string]*serverState, len(cfg.ServerIDs)),
		doneCh: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	now := time.Now()
	for _, id := range cfg.ServerIDs {
		s.state[id] = &serverState{nextWakeup: now}
	}
	go s.loop()
	return s
}

// GetMemUsage returns the last-sampled weight for id and whether it is
// currently considered reachable (nil usage means unreachable).
func (s *ServerStats) GetMemUsage(id string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[id]
	if !ok || st.usage == nil {
		return 0, false
	}
	return *st.usage, true
}

// NotifyServerFailed marks id's usage unknown and wakes the sampler so it is
// retried promptly instead of waiting out its remaining interval.
func (s *ServerStats) NotifyServerFailed(id string) {
	s.mu.Lock()
	if st, ok := s.state[id]; ok {
		st.usage = nil
		st.nextWakeup = time.Now()
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Shutdown stops the background worker and waits for it to exit.
func (s *ServerStats) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
	<-s.doneCh
}

func (s *ServerStats) loop() {
	defer close(s.doneCh)
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		due, wait := s.dueServersLocked()
		if len(due) == 0 {
			s.waitLocked(wait)
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		for _, id := range due {
			s.sampleOne(id)
		}
	}
}

// dueServersLocked returns the server ids whose nextWakeup has passed, and
// (if none are due yet) how long to wait for the earliest one. Caller holds
// s.mu.
func (s *ServerStats) dueServersLocked() ([]string, time.Duration) {
	now := time.Now()
	var due []string
	earliest := time.Time{}
	for id, st := range s.state {
		if !st.nextWakeup.After(now) {
			due = append(due, id)
			continue
		}
		if earliest.IsZero() || st.nextWakeup.Before(earliest) {
			earliest = st.nextWakeup
		}
	}
	if len(due) > 0 {
		return due, 0
	}
	if earliest.IsZero() {
		return nil, time.Second
	}
	return nil, time.Until(earliest)
}

// waitLocked blocks on the condition variable for up to d. Caller holds s.mu.
func (s *ServerStats) waitLocked(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()
	s.cond.Wait()
}

func (s *ServerStats) sampleOne(id string) {
	usage, err := s.cfg.Sample(context.Background(), id)
	interval := s.randomInterval()

	s.mu.Lock()
	st, ok := s.state[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if err != nil {
		st.usage = nil
	} else {
		v := usage
		st.usage = &v
	}
	st.nextWakeup = time.Now().Add(interval)
	s.mu.Unlock()

	if err != nil && s.cfg.Logger != nil {
		s.cfg.Logger.Printf("stats: sampling server %q failed: %v", id, err)
	}
}

func (s *ServerStats) randomInterval() time.Duration {
	lo, hi := s.cfg.SleepMin, s.cfg.SleepMax
	if lo <= 0 {
		lo = time.Second
	}
	if hi < lo {
		hi = lo
	}
	if hi == lo {
		return lo
	}
	span := hi - lo
	return lo + time.Duration(s.rnd.Int63n(int64(span)))
}
