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

import "context"

// BatchFillFunc fetches the authoritative values for a batch of keys in one
// round-trip, e.g. a single SQL "WHERE id IN (...)" query.
type BatchFillFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, error)

// MultiGetFiller adapts a BatchFillFunc into a per-key Filler so that N
// independent misses accumulated within one wave of continuations coalesce
// into a single upstream fetch (spec.md §4.4). Two requests that both
// accumulate keys before either realizes share the resulting union batch's
// values — this is a deliberate, tested property (spec.md §4.4, scenario S6),
// not a race condition: the item/pipeline layers are single-threaded
// cooperative per spec.md §5.
type MultiGetFiller[K comparable, V any] struct {
	fill     BatchFillFunc[K, V]
	keyOf    func(V) K
	fallback V

	keys      []K
	result    map[K]V
	completed bool
}

// NewMultiGetFiller builds a filler around fill. keyOf extracts the key a
// fetched value belongs to (needed because fill returns []V, not a map).
// fallback is returned for any key fill's result omits.
func NewMultiGetFiller[K comparable, V any](fill BatchFillFunc[K, V], keyOf func(V) K, fallback V) *MultiGetFiller[K, V] {
	return &MultiGetFiller[K, V]{fill: fill, keyOf: keyOf, fallback: fallback}
}

// Filler returns the per-key adapter to hand to item.New.
func (m *MultiGetFiller[K, V]) Filler() Filler[K, V] {
	return func(ctx context.Context, key K) func() (V, error) {
		if m.completed {
			// The previous round already resolved; this key starts a fresh one.
			m.completed = false
			m.result = nil
		}
		m.keys = append(m.keys, key)

		return func() (V, error) {
			if !m.completed {
				values, err := m.fill(ctx, m.keys)
				m.keys = nil
				m.completed = true
				if err != nil {
					m.result = nil
					return m.fallback, err
				}
				result := make(map[K]V, len(values))
				for _, v := range values {
					result[m.keyOf(v)] = v
				}
				m.result = result
			}
			if v, ok := m.result[key]; ok {
				return v, nil
			}
			return m.fallback, nil
		}
	}
}
