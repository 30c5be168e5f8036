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
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// ConsistentRoute picks a replica ordering by rendezvous (highest random
// weight) hashing of the request key against each server id, instead of
// ReplicatedRoute's memory-weighted random draw. Because NewSelector's key
// argument is otherwise unused by ReplicatedRoute, this is the drop-in the
// interface was shaped to allow: the same key always ranks the same replica
// first, so repeated lookups for one key concentrate on one replica and its
// local cache, while still falling back through the rest of the ring on
// failure.
type ConsistentRoute struct {
	mu   sync.RWMutex
	ids  []string
	ring *rendezvous.Rendezvous
}

// NewConsistentRoute builds a ConsistentRoute over serverIDs. An empty
// serverIDs panics for the same reason as ReplicatedRoute.
func NewConsistentRoute(serverIDs []string) *ConsistentRoute {
	if len(serverIDs) == 0 {
		panic("proxy: NewConsistentRoute requires at least one server id")
	}
	ids := append([]string{}, serverIDs...)
	return &ConsistentRoute{
		ids:  ids,
		ring: rendezvous.New(ids, xxhash.Sum64String),
	}
}

// NewSelector ranks every configured replica by its rendezvous score for
// key, highest first, and returns a Selector over that order.
func (cr *ConsistentRoute) NewSelector(key string) Selector {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	remaining := append([]string{}, cr.ids...)
	order := make([]string, 0, len(remaining))
	ring := rendezvous.New(remaining, xxhash.Sum64String)
	for len(remaining) > 0 {
		pick := ring.Lookup(key)
		order = append(order, pick)
		ring.Remove(pick)
		for i, id := range remaining {
			if id == pick {
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}
	return &orderedSelector{order: order, cursor: -1, excluded: map[string]bool{}}
}

var _ Route = (*ConsistentRoute)(nil)
