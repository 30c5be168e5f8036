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

// Package proxy implements the replicated routing layer described in
// spec.md §4.5 and §4.6: a Route picks a weighted ordering of replicas for a
// request, a Selector walks that ordering while excluding replicas that have
// already failed within the same request, and ProxyPipeline multiplexes N
// single-server pipeline.Pipeline instances behind the same Pipeline
// interface the item layer already consumes.
package proxy

// MemUsageSource reports per-replica memory weight and reachability. The
// stats package's ServerStats satisfies this structurally; proxy never
// imports stats directly so a caller can substitute any other weight source.
type MemUsageSource interface {
	GetMemUsage(serverID string) (usage float64, ok bool)
	NotifyServerFailed(serverID string)
}

// Selector walks a request-scoped ordering of replica ids. A Route produces a
// fresh Selector per request (spec.md §4.5: "a new selector is built per
// logical request, not reused").
type Selector interface {
	// SetFailed excludes id from further consideration by this selector and
	// returns true if there is another replica left to try.
	SetFailed(serverID string) bool
	// Next returns the selector's currently chosen replica id. Repeated calls
	// return the same id until SetFailed excludes it, at which point Next
	// advances to the next candidate (spec.md §4.5's select_server contract) —
	// so every key routed through one selector concentrates on one replica
	// instead of scattering across the ranking. ok is false once every
	// candidate has been excluded.
	Next() (serverID string, ok bool)
	// Remaining returns every candidate not yet excluded, in ranked order,
	// without disturbing Next's cached choice. Fan-out operations that must
	// reach every live replica (e.g. Delete) use this instead of Next
	// (spec.md §4.6's select_servers_for_delete).
	Remaining() []string
}

// Route builds a Selector for one logical request, optionally taking the key
// into account (spec.md §9: "select_server takes an unused key argument so a
// consistent-hash Route can be dropped in later" — ConsistentRoute is that
// drop-in).
type Route interface {
	NewSelector(key string) Selector
}
