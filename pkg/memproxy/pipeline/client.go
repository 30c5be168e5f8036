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

import "context"

// CacheClient abstracts the minimal surface a single-server pipeline needs
// from a Redis-compatible transport. Implementations may wrap
// github.com/redis/go-redis/v9 (see internal/memproxyredis) or any
// equivalent; the pipeline package itself has no transport dependency, same
// separation the teacher draws between persistence.RedisEvaler and
// persistence.GoRedisEvaler.
//
// Each method receives one chunk of its op class, at most max-keys-per-batch
// entries long; chunking is the pipeline's responsibility (spec.md §4.2), not
// the client's.
type CacheClient interface {
	// LeaseGet runs the lease-get script (spec.md §6) for every key and
	// returns one outcome per key, aligned by index.
	LeaseGet(ctx context.Context, keys []string) ([]LeaseGetOutcome, error)

	// LeaseSet runs the lease-set script (spec.md §6) for every triple and
	// returns one outcome per triple, aligned by index. ttlSeconds is a
	// per-key TTL already resolved by the pipeline (uniform in
	// [min_ttl, max_ttl]).
	LeaseSet(ctx context.Context, keys []string, cas []uint64, values [][]byte, ttlSeconds []int) ([]LeaseSetOutcome, error)

	// Delete issues a DELETE per key and returns one outcome per key, aligned
	// by index.
	Delete(ctx context.Context, keys []string) ([]DeleteOutcome, error)
}

// Logger is the minimal sink pipeline (and the item/proxy layers) log
// through. A *log.Logger from the standard library satisfies this directly.
// This resolves spec.md §9 Open Question (c): no package-level logger, every
// component that can fail takes one explicitly.
type Logger interface {
	Printf(format string, args ...interface{})
}

// noopLogger discards everything; used when a caller passes a nil Logger.
type noopLogger struct{}

func (noopLogger) Printf(string, ...interface{}) {}
