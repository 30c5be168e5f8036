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

// setEntry is one pending lease-set triple.
type setEntry struct {
	key   string
	cas   uint64
	value []byte
	ttl   int
}

// pendingBatch is the per-flush accumulator described in spec.md §3: three
// ordered vectors (get keys, set triples, delete keys) plus a completed flag
// and an optional transport error. A batch is executed at most once; after
// execution, results are aligned 1:1 with their input vectors by index.
type pendingBatch struct {
	getKeys []string
	sets    []setEntry
	delKeys []string

	completed  bool
	err        error
	getResults []LeaseGetOutcome
	setResults []LeaseSetOutcome
	delResults []DeleteOutcome
}

func newPendingBatch() *pendingBatch {
	return &pendingBatch{}
}

// flush executes every pending op against client, in the order gets, sets,
// deletes, chunking each class at maxKeysPerBatch. Any transport error during
// any part of the flush marks the whole batch errored: every outcome for
// every op in the batch (not just the failing chunk) becomes an ERROR
// variant carrying the same message, per spec.md §4.2's error policy.
func (b *pendingBatch) flush(ctx context.Context, client CacheClient, maxKeysPerBatch int) {
	if b.completed {
		return
	}
	b.completed = true

	if err := b.flushGets(ctx, client, maxKeysPerBatch); err != nil {
		b.fail(err)
		return
	}
	if err := b.flushSets(ctx, client, maxKeysPerBatch); err != nil {
		b.fail(err)
		return
	}
	if err := b.flushDeletes(ctx, client, maxKeysPerBatch); err != nil {
		b.fail(err)
		return
	}
}

func (b *pendingBatch) fail(err error) {
	b.err = err
	msg := err.Error()

	b.getResults = make([]LeaseGetOutcome, len(b.getKeys))
	for i := range b.getResults {
		b.getResults[i] = LeaseGetOutcome{Status: LeaseGetError, Error: msg}
	}
	b.setResults = make([]LeaseSetOutcome, len(b.sets))
	for i := range b.setResults {
		b.setResults[i] = LeaseSetOutcome{Status: LeaseSetError, Error: msg}
	}
	b.delResults = make([]DeleteOutcome, len(b.delKeys))
	for i := range b.delResults {
		b.delResults[i] = DeleteOutcome{Status: DeleteError, Error: msg}
	}
}

func (b *pendingBatch) flushGets(ctx context.Context, client CacheClient, chunkSize int) error {
	if len(b.getKeys) == 0 {
		return nil
	}
	results := make([]LeaseGetOutcome, 0, len(b.getKeys))
	for _, chunk := range chunkStrings(b.getKeys, chunkSize) {
		out, err := client.LeaseGet(ctx, chunk)
		if err != nil {
			return err
		}
		results = append(results, out...)
	}
	b.getResults = results
	return nil
}

func (b *pendingBatch) flushSets(ctx context.Context, client CacheClient, chunkSize int) error {
	if len(b.sets) == 0 {
		return nil
	}
	results := make([]LeaseSetOutcome, 0, len(b.sets))
	for _, chunk := range chunkSetEntries(b.sets, chunkSize) {
		keys := make([]string, len(chunk))
		cas := make([]uint64, len(chunk))
		values := make([][]byte, len(chunk))
		ttls := make([]int, len(chunk))
		for i, e := range chunk {
			keys[i], cas[i], values[i], ttls[i] = e.key, e.cas, e.value, e.ttl
		}
		out, err := client.LeaseSet(ctx, keys, cas, values, ttls)
		if err != nil {
			return err
		}
		results = append(results, out...)
	}
	b.setResults = results
	return nil
}

func (b *pendingBatch) flushDeletes(ctx context.Context, client CacheClient, chunkSize int) error {
	if len(b.delKeys) == 0 {
		return nil
	}
	results := make([]DeleteOutcome, 0, len(b.delKeys))
	for _, chunk := range chunkStrings(b.delKeys, chunkSize) {
		out, err := client.Delete(ctx, chunk)
		if err != nil {
			return err
		}
		results = append(results, out...)
	}
	b.delResults = results
	return nil
}

func chunkStrings(keys []string, size int) [][]string {
	if size <= 0 || len(keys) <= size {
		return [][]string{keys}
	}
	var chunks [][]string
	for i := 0; i < len(keys); i += size {
		end := i + size
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[i:end])
	}
	return chunks
}

func chunkSetEntries(entries []setEntry, size int) [][]setEntry {
	if size <= 0 || len(entries) <= size {
		return [][]setEntry{entries}
	}
	var chunks [][]setEntry
	for i := 0; i < len(entries); i += size {
		end := i + size
		if end > len(entries) {
			end = len(entries)
		}
		chunks = append(chunks, entries[i:end])
	}
	return chunks
}
