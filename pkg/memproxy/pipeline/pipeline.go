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

package pipeline

import (
	"context"
	"math/rand"
	"time"

	"github.com/ealvarez/memproxy/pkg/memproxy/session"
)

// Pipeline is the operation set a single-server pipeline exposes, matching
// spec.md §4.2 exactly. ProxyPipeline (pkg/memproxy/proxy) implements the
// same interface by multiplexing N of these.
type Pipeline interface {
	LeaseGet(ctx context.Context, key string) GetHandle
	LeaseSet(ctx context.Context, key string, cas uint64, data []byte) session.Func[LeaseSetOutcome]
	Delete(ctx context.Context, key string) session.Func[DeleteOutcome]
	// LowerSession returns the session fill/set-back continuations must be
	// scheduled on so they strictly follow this pipeline's own get-batch
	// flush (spec.md §4.3's rationale).
	LowerSession() *session.Session
	// Finish flushes any pending batch. Idempotent.
	Finish(ctx context.Context)
}

// Config configures TTL jitter and batch chunking for a Pipe.
type Config struct {
	// MinTTL, MaxTTL bound the uniformly-chosen TTL (seconds) for lease_set.
	MinTTL int
	MaxTTL int
	// MaxKeysPerBatch caps keys per GET/SET round-trip; larger batches chunk.
	MaxKeysPerBatch int
	Logger          Logger
	// Rand, if set, is used for TTL jitter instead of a package-seeded RNG.
	// Exposed so tests can pin TTL selection.
	Rand *rand.Rand
}

func (c Config) logger() Logger {
	if c.Logger == nil {
		return noopLogger{}
	}
	return c.Logger
}

// Pipe is the single-server pipeline implementation described in spec.md
// §4.2. It owns its pending batch exclusively; batches execute at most once.
type Pipe struct {
	client CacheClient
	sess   *session.Session
	cfg    Config
	rnd    *rand.Rand

	batch *pendingBatch // nil when IDLE
}

// New constructs a Pipe bound to client, scheduling its own work (and
// cascading lower-priority fill/set-back work) on sess.
func New(client CacheClient, sess *session.Session, cfg Config) *Pipe {
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.MaxKeysPerBatch <= 0 {
		cfg.MaxKeysPerBatch = 1000
	}
	if cfg.MaxTTL < cfg.MinTTL {
		cfg.MaxTTL = cfg.MinTTL
	}
	return &Pipe{client: client, sess: sess, cfg: cfg, rnd: rnd}
}

func (p *Pipe) currentBatch() *pendingBatch {
	if p.batch == nil {
		p.batch = newPendingBatch()
		p.scheduleFlush(p.batch)
	}
	return p.batch
}

// scheduleFlush arranges for b to be flushed exactly once: the first time any
// handle/deferred realized from it calls sess.Execute(), the continuation
// runs the flush (if not already completed by a Finish call).
func (p *Pipe) scheduleFlush(b *pendingBatch) {
	p.sess.AddNextCall(func() {
		if p.batch == b {
			p.batch = nil
		}
		b.flush(context.Background(), p.client, p.cfg.MaxKeysPerBatch)
	})
}

// GetHandle is realized by calling Result, which must drain whatever session
// owns the underlying batch before reading the outcome. Pipe and
// proxy.ProxyPipeline each have their own concrete handle type satisfying
// this, since a proxy's get may be retried against a different replica.
type GetHandle interface {
	Result() LeaseGetOutcome
}

// LeaseGetHandle is a back-reference into a batch owned by a Pipe, capturing
// (session, batch, index) per spec.md §9's note on handle lifetime: realizing it
// after the pipe is done simply observes the already-completed batch.
type LeaseGetHandle struct {
	sess  *session.Session
	batch *pendingBatch
	index int
}

// Result drains the owning session (flushing the batch if needed) then
// returns this key's outcome.
func (h *LeaseGetHandle) Result() LeaseGetOutcome {
	h.sess.Execute()
	return h.batch.getResults[h.index]
}

// LeaseGet appends key to the pending batch's get vector and returns a
// handle; the key's index is fixed at call time.
func (p *Pipe) LeaseGet(ctx context.Context, key string) GetHandle {
	b := p.currentBatch()
	idx := len(b.getKeys)
	b.getKeys = append(b.getKeys, key)
	return &LeaseGetHandle{sess: p.sess, batch: b, index: idx}
}

// LeaseSet chooses a TTL uniformly in [MinTTL, MaxTTL], appends the triple to
// the pending batch, and returns a deferred bound to the owning session.
func (p *Pipe) LeaseSet(ctx context.Context, key string, cas uint64, data []byte) session.Func[LeaseSetOutcome] {
	b := p.currentBatch()
	ttl := p.cfg.MinTTL
	if p.cfg.MaxTTL > p.cfg.MinTTL {
		ttl += p.rnd.Intn(p.cfg.MaxTTL - p.cfg.MinTTL + 1)
	}
	idx := len(b.sets)
	b.sets = append(b.sets, setEntry{key: key, cas: cas, value: data, ttl: ttl})
	return session.NewFunc(p.sess, func() LeaseSetOutcome {
		return b.setResults[idx]
	})
}

// Delete appends key to the pending batch's delete vector.
func (p *Pipe) Delete(ctx context.Context, key string) session.Func[DeleteOutcome] {
	b := p.currentBatch()
	idx := len(b.delKeys)
	b.delKeys = append(b.delKeys, key)
	return session.NewFunc(p.sess, func() DeleteOutcome {
		return b.delResults[idx]
	})
}

// LowerSession returns the session fill/set-back work should run on.
func (p *Pipe) LowerSession() *session.Session {
	return p.sess.GetLower()
}

// Finish flushes any pending batch immediately. Idempotent: a batch already
// flushed (or never started) is a no-op.
func (p *Pipe) Finish(ctx context.Context) {
	b := p.batch
	if b == nil {
		return
	}
	p.batch = nil
	b.flush(ctx, p.client, p.cfg.MaxKeysPerBatch)
}

var _ Pipeline = (*Pipe)(nil)
