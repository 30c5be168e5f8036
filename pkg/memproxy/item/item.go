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

package item

import (
	"context"
	"sync/atomic"

	"github.com/ealvarez/memproxy/pkg/memproxy/pipeline"
	"github.com/ealvarez/memproxy/pkg/memproxy/session"
)

// Result is what an Item's Get/GetMulti deferred resolves to.
type Result[V any] struct {
	Value V
	Err   error
}

// Filler is a caller-provided, per-key cache-aside loader. It returns a thunk
// ("a deferred" in spec terms): invoking it performs the actual fetch. The
// thunk is not called until the item layer's fill continuation realizes
// it, on the pipeline's lower session, which is what lets many concurrent
// misses coalesce (see MultiGetFiller).
type Filler[K any, V any] func(ctx context.Context, key K) func() (V, error)

// Counters mirrors spec.md §3's per-Item counters. Fields are read with
// Load(), or drained with Swap(0) by metrics.ObserveItem; the item layer
// itself runs single-threaded per request, but
// counters are atomic so a metrics exporter can read them concurrently,
// matching the teacher's core/metrics.go convention.
type Counters struct {
	Hits         atomic.Int64
	Fills        atomic.Int64
	CacheErrors  atomic.Int64
	DecodeErrors atomic.Int64
	BytesRead    atomic.Int64
}

// Item is a typed facade over a pipeline.Pipeline (spec.md §4.3).
type Item[K comparable, V any] struct {
	pipe   pipeline.Pipeline
	keyFn  func(K) string
	filler Filler[K, V]
	codec  Codec[V]
	logger pipeline.Logger

	Counters Counters
}

// Option configures optional Item behavior.
type Option[K comparable, V any] func(*Item[K, V])

// WithLogger sets the sink decode/cache errors are logged through.
func WithLogger[K comparable, V any](l pipeline.Logger) Option[K, V] {
	return func(it *Item[K, V]) { it.logger = l }
}

// New builds an Item bound to pipe, keyed by keyFn, falling back to filler on
// miss/decode-failure, encoding/decoding with codec.
func New[K comparable, V any](pipe pipeline.Pipeline, keyFn func(K) string, filler Filler[K, V], codec Codec[V], opts ...Option[K, V]) *Item[K, V] {
	it := &Item[K, V]{pipe: pipe, keyFn: keyFn, filler: filler, codec: codec}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

func (it *Item[K, V]) log(format string, args ...interface{}) {
	if it.logger != nil {
		it.logger.Printf(format, args...)
	}
}

// getState holds the eventually-resolved Result for one Get call; it is
// mutated only from continuations running on the item's lower session, so no
// locking is needed (spec.md §5: request-scope work is single-threaded
// cooperative).
type getState[V any] struct {
	result Result[V]
}

// Get computes keyStr = keyFn(key), issues a lease-get, and returns a
// deferred that (once the owning pipeline's lower session is drained)
// resolves to the decoded value — filling on a miss, a decode failure or a
// cache error, and setting back only when the miss was granted a lease, per
// spec.md §4.3.
func (it *Item[K, V]) Get(ctx context.Context, key K) session.Func[Result[V]] {
	keyStr := it.keyFn(key)
	handle := it.pipe.LeaseGet(ctx, keyStr)
	lower := it.pipe.LowerSession()
	state := &getState[V]{}

	lower.AddNextCall(func() {
		outcome := handle.Result()
		switch outcome.Status {
		case pipeline.LeaseGetFound:
			v, err := it.codec.Decode(outcome.Data)
			if err == nil {
				it.Counters.Hits.Add(1)
				it.Counters.BytesRead.Add(int64(len(outcome.Data)))
				state.result = Result[V]{Value: v}
				return
			}
			it.Counters.DecodeErrors.Add(1)
			it.log("item: decode error for key %q: %v", keyStr, err)
			it.fallThroughFill(ctx, key, keyStr, 0, state, lower)
		case pipeline.LeaseGetGranted:
			it.fallThroughFill(ctx, key, keyStr, outcome.CAS, state, lower)
		default: // ERROR
			it.Counters.CacheErrors.Add(1)
			it.log("item: cache error for key %q: %s", keyStr, outcome.Error)
			it.fallThroughFill(ctx, key, keyStr, 0, state, lower)
		}
	})

	return session.NewFunc(lower, func() Result[V] {
		return state.result
	})
}

// fallThroughFill invokes the filler eagerly (producing its thunk) and
// schedules realization + optional set-back on the same lower session, so
// they run strictly after every sibling get in this wave.
func (it *Item[K, V]) fallThroughFill(ctx context.Context, key K, keyStr string, cas uint64, state *getState[V], lower *session.Session) {
	it.Counters.Fills.Add(1)
	resolve := it.filler(ctx, key)

	lower.AddNextCall(func() {
		v, err := resolve()
		state.result = Result[V]{Value: v, Err: err}
		if err != nil || cas == 0 {
			return
		}
		lower.AddNextCall(func() {
			data, encErr := it.codec.Encode(v)
			if encErr != nil {
				it.log("item: encode error for key %q: %v", keyStr, encErr)
				return
			}
			setFn := it.pipe.LeaseSet(ctx, keyStr, cas, data)
			lower.AddNextCall(func() {
				out := setFn.Result()
				if out.Status == pipeline.LeaseSetError {
					it.log("item: lease-set error for key %q: %s", keyStr, out.Error)
				}
			})
		})
	})
}

// GetMulti applies Get per key and aggregates into a single deferred slice,
// aligned by index with keys (spec.md §4.3: "get_multi(keys) is exactly get
// applied per key with a single aggregate deferred").
func (it *Item[K, V]) GetMulti(ctx context.Context, keys []K) session.Func[[]Result[V]] {
	funcs := make([]session.Func[Result[V]], len(keys))
	for i, k := range keys {
		funcs[i] = it.Get(ctx, k)
	}
	lower := it.pipe.LowerSession()
	return session.NewFunc(lower, func() []Result[V] {
		out := make([]Result[V], len(funcs))
		for i, f := range funcs {
			out[i] = f.Result()
		}
		return out
	})
}
