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

package proxy

import (
	"math/rand"
	"sync"
	"time"
)

// ReplicatedRoute picks a weighted-random ordering of replicas per request,
// weighting each reachable replica by its reported memory usage (a higher
// value means a larger share) and flooring every reachable replica's share at
// minPercent before renormalizing (spec.md §4.5:
// "recompute_weights_with_min_percent" keeps a low-weight replica from ever
// reaching zero share, so it keeps getting exercised).
type ReplicatedRoute struct {
	serverIDs  []string
	stats      MemUsageSource
	minPercent float64 // 0..100

	mu  sync.Mutex
	rnd *rand.Rand
}

// ReplicatedRouteOption customizes a ReplicatedRoute at construction.
type ReplicatedRouteOption func(*ReplicatedRoute)

// WithRand pins the RNG (for deterministic tests).
func WithRand(r *rand.Rand) ReplicatedRouteOption {
	return func(rr *ReplicatedRoute) { rr.rnd = r }
}

// NewReplicatedRoute builds a route over serverIDs, weighting selection by
// stats and flooring every replica's share at minPercent (1.0 means 1%). An
// empty serverIDs panics: a route with nothing to route to is a construction
// bug, not a runtime condition (spec.md §4.5: "empty server_ids is
// rejected").
func NewReplicatedRoute(serverIDs []string, stats MemUsageSource, minPercent float64, opts ...ReplicatedRouteOption) *ReplicatedRoute {
	if len(serverIDs) == 0 {
		panic("proxy: NewReplicatedRoute requires at least one server id")
	}
	ids := append([]string{}, serverIDs...)
	rr := &ReplicatedRoute{
		serverIDs:  ids,
		stats:      stats,
		minPercent: minPercent,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(rr)
	}
	return rr
}

// NewSelector builds a weighted-random full ordering of serverIDs for one
// request. key is accepted to satisfy Route but unused here; ConsistentRoute
// is the key-aware alternative (spec.md §9).
func (rr *ReplicatedRoute) NewSelector(key string) Selector {
	weights := rr.computeWeights()
	order := weightedShuffle(rr.rnd, rr.serverIDs, weights, &rr.mu)
	return &orderedSelector{order: order, cursor: -1, excluded: map[string]bool{}}
}

// computeWeights derives a selection weight per server straight from its
// reported memory usage — weight is usage itself, unmodified (spec.md §4.5
// step 1: "collect (id, weight) pairs where weight is stats.get_mem_usage(id)").
// Unreachable servers get weight 0 but remain in the ordering (see
// weightedShuffle) so they are still tried last rather than dropped outright
// — a replica that comes back can still serve once everything ahead of it in
// the order has failed.
func (rr *ReplicatedRoute) computeWeights() []float64 {
	raw := make([]float64, len(rr.serverIDs))
	reachable := make([]bool, len(rr.serverIDs))
	var total float64
	anyReachable := false
	for i, id := range rr.serverIDs {
		usage, ok := rr.stats.GetMemUsage(id)
		if !ok {
			raw[i] = 0
			continue
		}
		anyReachable = true
		reachable[i] = true
		if usage < 0 {
			usage = 0
		}
		raw[i] = usage
		total += usage
	}
	if !anyReachable {
		// Nothing known to be reachable: fall back to a uniform distribution
		// across everyone rather than refusing to route at all.
		for i := range raw {
			raw[i] = 1
		}
		total = float64(len(raw))
	}
	weights := recomputeWeightsWithMinPercent(raw, total, rr.minPercent)
	if anyReachable {
		for i := range weights {
			if !reachable[i] {
				weights[i] = 0
			}
		}
	}
	return weights
}

// recomputeWeightsWithMinPercent normalizes raw weights to sum to 1, then
// floors every entry at minPercent/100 of the total share (capped at 1/n, n
// being the number of entries) and renormalizes,
// so no replica's effective probability ever reaches exactly zero while it
// remains in the candidate set.
func recomputeWeightsWithMinPercent(raw []float64, total, minPercent float64) []float64 {
	n := len(raw)
	out := make([]float64, n)
	if total <= 0 {
		for i := range out {
			out[i] = 1.0 / float64(n)
		}
		return out
	}
	floor := minPercent / 100.0
	if floor > 1.0/float64(n) {
		floor = 1.0 / float64(n)
	}
	var sum float64
	for i, w := range raw {
		share := w / total
		if share < floor {
			share = floor
		}
		out[i] = share
		sum += share
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// weightedShuffle produces a full permutation of items via sampling without
// replacement: repeatedly draw one remaining item proportional to its
// weight, append it, and renormalize over what's left.
func weightedShuffle(rnd *rand.Rand, items []string, weights []float64, mu *sync.Mutex) []string {
	mu.Lock()
	defer mu.Unlock()

	n := len(items)
	remainingItems := append([]string{}, items...)
	remainingWeights := append([]float64{}, weights...)
	order := make([]string, 0, n)

	for len(remainingItems) > 0 {
		var total float64
		for _, w := range remainingWeights {
			total += w
		}
		var pick int
		if total <= 0 {
			pick = rnd.Intn(len(remainingItems))
		} else {
			r := rnd.Float64() * total
			var acc float64
			pick = len(remainingItems) - 1
			for i, w := range remainingWeights {
				acc += w
				if r < acc {
					pick = i
					break
				}
			}
		}
		order = append(order, remainingItems[pick])
		remainingItems = append(remainingItems[:pick], remainingItems[pick+1:]...)
		remainingWeights = append(remainingWeights[:pick], remainingWeights[pick+1:]...)
	}
	return order
}

// orderedSelector walks a precomputed order. Next caches the currently
// chosen server (spec.md §4.5's select_server contract: repeated calls
// within one selector's lifetime return the same chosen server) and only
// advances past it once SetFailed marks it excluded — so every key routed
// through the same selector lands on the same replica until that replica
// actually fails.
type orderedSelector struct {
	order    []string
	cursor   int // index of the currently chosen server; -1 before the first Next
	excluded map[string]bool
}

// SetFailed excludes serverID and reports whether a non-excluded candidate
// remains at or after the current cursor (the cached choice included).
func (s *orderedSelector) SetFailed(serverID string) bool {
	s.excluded[serverID] = true
	start := s.cursor
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s.order); i++ {
		if !s.excluded[s.order[i]] {
			return true
		}
	}
	return false
}

// Next returns the cached chosen server if it is still live, else advances
// the cursor to the next non-excluded entry.
func (s *orderedSelector) Next() (string, bool) {
	if s.cursor >= 0 && s.cursor < len(s.order) && !s.excluded[s.order[s.cursor]] {
		return s.order[s.cursor], true
	}
	for s.cursor+1 < len(s.order) {
		s.cursor++
		if !s.excluded[s.order[s.cursor]] {
			return s.order[s.cursor], true
		}
	}
	return "", false
}

// Remaining returns every not-yet-excluded candidate, in ranked order.
func (s *orderedSelector) Remaining() []string {
	ids := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if !s.excluded[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

var _ Route = (*ReplicatedRoute)(nil)
