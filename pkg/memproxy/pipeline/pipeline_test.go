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
	"errors"
	"testing"

	"github.com/ealvarez/memproxy/pkg/memproxy/session"
)

// fakeCacheClient records calls and returns scripted results, mirroring the
// teacher's fakeRedisEvaler in persistence/redis_test.go.
type fakeCacheClient struct {
	getCalls [][]string
	getFunc  func(keys []string) ([]LeaseGetOutcome, error)

	setCalls [][]string
	setFunc  func(keys []string, cas []uint64, values [][]byte, ttls []int) ([]LeaseSetOutcome, error)

	delCalls [][]string
	delFunc  func(keys []string) ([]DeleteOutcome, error)
}

func (f *fakeCacheClient) LeaseGet(ctx context.Context, keys []string) ([]LeaseGetOutcome, error) {
	f.getCalls = append(f.getCalls, append([]string{}, keys...))
	if f.getFunc != nil {
		return f.getFunc(keys)
	}
	out := make([]LeaseGetOutcome, len(keys))
	for i := range keys {
		out[i] = LeaseGetOutcome{Status: LeaseGetGranted, CAS: uint64(i + 1)}
	}
	return out, nil
}

func (f *fakeCacheClient) LeaseSet(ctx context.Context, keys []string, cas []uint64, values [][]byte, ttls []int) ([]LeaseSetOutcome, error) {
	f.setCalls = append(f.setCalls, append([]string{}, keys...))
	if f.setFunc != nil {
		return f.setFunc(keys, cas, values, ttls)
	}
	out := make([]LeaseSetOutcome, len(keys))
	for i := range keys {
		out[i] = LeaseSetOutcome{Status: LeaseSetOK}
	}
	return out, nil
}

func (f *fakeCacheClient) Delete(ctx context.Context, keys []string) ([]DeleteOutcome, error) {
	f.delCalls = append(f.delCalls, append([]string{}, keys...))
	if f.delFunc != nil {
		return f.delFunc(keys)
	}
	out := make([]DeleteOutcome, len(keys))
	for i := range keys {
		out[i] = DeleteOutcome{Status: DeleteOK}
	}
	return out, nil
}

func TestPipe_LeaseGet_BatchesIntoOneRoundTrip(t *testing.T) {
	client := &fakeCacheClient{}
	sess := session.New()
	p := New(client, sess, Config{MinTTL: 10, MaxTTL: 10})

	ctx := context.Background()
	h1 := p.LeaseGet(ctx, "k1")
	h2 := p.LeaseGet(ctx, "k2")
	h3 := p.LeaseGet(ctx, "k3")

	out3 := h3.Result()
	out1 := h1.Result()
	out2 := h2.Result()

	if len(client.getCalls) != 1 {
		t.Fatalf("got %d get round-trips want 1", len(client.getCalls))
	}
	if len(client.getCalls[0]) != 3 {
		t.Fatalf("got %v want 3 keys in one call", client.getCalls[0])
	}
	if out1.CAS != 1 || out2.CAS != 2 || out3.CAS != 3 {
		t.Fatalf("results not aligned by index: %v %v %v", out1, out2, out3)
	}
}

func TestPipe_LeaseGetThenLeaseSet_SameOrder(t *testing.T) {
	client := &fakeCacheClient{}
	sess := session.New()
	p := New(client, sess, Config{MinTTL: 5, MaxTTL: 5})
	ctx := context.Background()

	h := p.LeaseGet(ctx, "k1")
	out := h.Result()
	if out.Status != LeaseGetGranted {
		t.Fatalf("got %v want LEASE_GRANTED", out)
	}

	setFn := p.LeaseSet(ctx, "k1", out.CAS, []byte("hello"))
	setOut := setFn.Result()
	if setOut.Status != LeaseSetOK {
		t.Fatalf("got %v want OK", setOut)
	}
	if len(client.setCalls) != 1 || client.setCalls[0][0] != "k1" {
		t.Fatalf("expected single-key set call, got %v", client.setCalls)
	}
}

func TestPipe_Chunking(t *testing.T) {
	client := &fakeCacheClient{}
	sess := session.New()
	p := New(client, sess, Config{MaxKeysPerBatch: 2})
	ctx := context.Background()

	var handles []GetHandle
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		handles = append(handles, p.LeaseGet(ctx, k))
	}
	for i, h := range handles {
		out := h.Result()
		if out.Status != LeaseGetGranted {
			t.Fatalf("unexpected outcome for index %d: %v", i, out)
		}
	}
	if len(client.getCalls) != 3 {
		t.Fatalf("got %d chunks want 3 (2,2,1)", len(client.getCalls))
	}
	if len(client.getCalls[0]) != 2 || len(client.getCalls[1]) != 2 || len(client.getCalls[2]) != 1 {
		t.Fatalf("got chunk sizes %v %v %v", len(client.getCalls[0]), len(client.getCalls[1]), len(client.getCalls[2]))
	}
}

func TestPipe_TransportErrorFailsWholeBatch(t *testing.T) {
	client := &fakeCacheClient{
		getFunc: func(keys []string) ([]LeaseGetOutcome, error) {
			return nil, errors.New("connection reset")
		},
	}
	sess := session.New()
	p := New(client, sess, Config{})
	ctx := context.Background()

	h1 := p.LeaseGet(ctx, "k1")
	h2 := p.LeaseGet(ctx, "k2")

	o1 := h1.Result()
	o2 := h2.Result()
	if o1.Status != LeaseGetError || o2.Status != LeaseGetError {
		t.Fatalf("got %v %v want both ERROR", o1, o2)
	}
	if o1.Error == "" || o1.Error != o2.Error {
		t.Fatalf("expected same error message on both outcomes, got %q %q", o1.Error, o2.Error)
	}
}

func TestPipe_NewBatchStartsAfterFlush(t *testing.T) {
	client := &fakeCacheClient{}
	sess := session.New()
	p := New(client, sess, Config{})
	ctx := context.Background()

	p.LeaseGet(ctx, "k1").Result()
	p.LeaseGet(ctx, "k2").Result()

	if len(client.getCalls) != 2 {
		t.Fatalf("got %d round trips want 2 (one per Result call, fresh batch each time)", len(client.getCalls))
	}
}

func TestPipe_Finish_FlushesPendingBatch(t *testing.T) {
	client := &fakeCacheClient{}
	sess := session.New()
	p := New(client, sess, Config{})
	ctx := context.Background()

	h := p.LeaseGet(ctx, "k1")
	p.Finish(ctx)
	if len(client.getCalls) != 1 {
		t.Fatalf("expected Finish to flush immediately, got %d calls", len(client.getCalls))
	}
	out := h.Result()
	if out.Status != LeaseGetGranted {
		t.Fatalf("got %v", out)
	}
	// Finish must be idempotent.
	p.Finish(ctx)
	if len(client.getCalls) != 1 {
		t.Fatalf("expected Finish to be idempotent, got %d calls", len(client.getCalls))
	}
}

func TestPipe_Delete(t *testing.T) {
	client := &fakeCacheClient{
		delFunc: func(keys []string) ([]DeleteOutcome, error) {
			out := make([]DeleteOutcome, len(keys))
			for i := range keys {
				out[i] = DeleteOutcome{Status: DeleteNotFound}
			}
			return out, nil
		},
	}
	sess := session.New()
	p := New(client, sess, Config{})
	ctx := context.Background()

	d := p.Delete(ctx, "gone")
	out := d.Result()
	if out.Status != DeleteNotFound {
		t.Fatalf("got %v want NOT_FOUND", out)
	}
}
