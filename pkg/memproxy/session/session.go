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

// Package session implements the deferred-continuation scheduler that the
// pipeline and item layers use to order batched cache round-trips.
//
// A Session is a FIFO queue of zero-argument continuations plus an optional
// link to a lower-priority session. Execute drains the higher-priority link
// first (if dirty), then repeatedly snapshots and runs its own queue until a
// full pass adds nothing new. This lets pipeline-level gets flush completely
// before any item-level fill/set-back continuation runs, without an explicit
// barrier: fill and set-back are simply scheduled on the lower session.
package session

import "sync"

// Call is a single deferred unit of work.
type Call func()

// Session is a single link in a priority chain of deferred-call queues.
// Not safe for concurrent use from multiple goroutines: a Session (and the
// pipelines/items built on it) is meant to be driven by one request on one
// goroutine, per spec.
type Session struct {
	queue []Call
	dirty bool

	// higher is the back-reference used only to cascade execution upward;
	// the lower session owns nothing of it.
	higher *Session

	lowerOnce sync.Once
	lower     *Session
}

// New creates a standalone top-level session.
func New() *Session {
	return &Session{}
}

// AddNextCall appends f to the queue and marks this session, and every
// lower-priority session reachable from it, dirty. The walk stops at the
// first link that is already dirty (it and everything below it is already
// guaranteed to be drained by a subsequent Execute).
func (s *Session) AddNextCall(f Call) {
	s.queue = append(s.queue, f)
	cur := s
	for cur != nil && !cur.dirty {
		cur.dirty = true
		cur = cur.lower
	}
}

// Execute drains this session: if it is dirty, it first executes the
// higher-priority link (if dirty), then repeatedly snapshots the pending
// queue, clears it, and invokes each call in order, until one full pass adds
// no further work.
func (s *Session) Execute() {
	if !s.dirty {
		return
	}
	if s.higher != nil && s.higher.dirty {
		s.higher.Execute()
	}
	for s.dirty {
		calls := s.queue
		s.queue = nil
		s.dirty = false
		for _, c := range calls {
			c()
		}
	}
}

// GetLower returns (creating it once, lazily) a session strictly below this
// one in priority: calling Execute on the returned session drains this
// session first, as its very first step.
func (s *Session) GetLower() *Session {
	s.lowerOnce.Do(func() {
		s.lower = &Session{higher: s}
	})
	return s.lower
}

// IsDirty reports whether this session has unexecuted work pending. Exposed
// mainly for tests asserting the post-Execute invariant.
func (s *Session) IsDirty() bool {
	return s.dirty
}
