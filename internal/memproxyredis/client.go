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

// Package memproxyredis implements pipeline.CacheClient against a Redis-
// compatible server using github.com/redis/go-redis/v9. It is the one
// package in this module allowed to know the wire format: the two atomic
// Lua scripts and the val:/cas: value envelope described in spec.md §6.
package memproxyredis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/ealvarez/memproxy/pkg/memproxy/pipeline"
)

// leaseGetScript runs per key: if the key holds a value, return it; else
// mint the next lease id from a shared counter, store "cas:<n>" with a short
// TTL, and return that marker (spec.md §6).
const leaseGetScript = `
local v = redis.call('GET', KEYS[1])
if v then
  return v
end
local c = redis.call('INCR', '__next_cas')
redis.call('SET', KEYS[1], 'cas:' .. c, 'EX', 3)
return 'cas:' .. c
`

// leaseSetScript runs per (key, cas, value, ttl) triple: the set only
// succeeds if the key still holds the matching lease marker (spec.md §6).
const leaseSetScript = `
local v = redis.call('GET', KEYS[1])
if not v then
  return 'NF'
end
if v ~= ('cas:' .. ARGV[1]) then
  return 'EX'
end
redis.call('SET', KEYS[1], 'val:' .. ARGV[2], 'EX', ARGV[3])
return 'OK'
`

// Evaler is the minimal surface this client needs from a Redis connection,
// narrow enough that *redis.Client, *redis.ClusterClient, and a miniredis-
// backed test client all satisfy it without an adapter.
type Evaler interface {
	redis.Scripter
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Pipeline() redis.Pipeliner
}

// Client implements pipeline.CacheClient against one Redis-compatible
// server.
type Client struct {
	conn Evaler
}

// New wraps conn as a pipeline.CacheClient.
func New(conn Evaler) *Client {
	return &Client{conn: conn}
}

// LeaseGet runs the lease-get script once per key, chunked into a single
// pipelined round-trip via go-redis's native Pipeline (spec.md §4.2's
// "transport's native multi-command pipelining").
func (c *Client) LeaseGet(ctx context.Context, keys []string) ([]pipeline.LeaseGetOutcome, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := c.conn.Pipeline()
	cmds := make([]*redis.Cmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Eval(ctx, leaseGetScript, []string{k})
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("memproxyredis: lease-get pipeline exec: %w", err)
	}
	out := make([]pipeline.LeaseGetOutcome, len(keys))
	for i, cmd := range cmds {
		raw, err := cmd.Text()
		if err != nil {
			out[i] = pipeline.LeaseGetOutcome{Status: pipeline.LeaseGetError, Error: err.Error()}
			continue
		}
		out[i] = decodeGetValue(raw)
	}
	return out, nil
}

// decodeGetValue applies the val:/cas: envelope rules of spec.md §6.
func decodeGetValue(raw string) pipeline.LeaseGetOutcome {
	switch {
	case strings.HasPrefix(raw, "val:"):
		return pipeline.LeaseGetOutcome{Status: pipeline.LeaseGetFound, Data: []byte(raw[len("val:"):])}
	case strings.HasPrefix(raw, "cas:"):
		n, err := strconv.ParseUint(raw[len("cas:"):], 10, 64)
		if err != nil {
			return pipeline.LeaseGetOutcome{Status: pipeline.LeaseGetError, Error: fmt.Sprintf("malformed cas value %q", raw)}
		}
		return pipeline.LeaseGetOutcome{Status: pipeline.LeaseGetGranted, CAS: n}
	default:
		return pipeline.LeaseGetOutcome{Status: pipeline.LeaseGetFound, Data: []byte(raw)}
	}
}

// LeaseSet runs the lease-set script once per (key, cas, value, ttl) triple,
// pipelined the same way as LeaseGet.
func (c *Client) LeaseSet(ctx context.Context, keys []string, cas []uint64, values [][]byte, ttlSeconds []int) ([]pipeline.LeaseSetOutcome, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := c.conn.Pipeline()
	cmds := make([]*redis.Cmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Eval(ctx, leaseSetScript, []string{k}, cas[i], string(values[i]), ttlSeconds[i])
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("memproxyredis: lease-set pipeline exec: %w", err)
	}
	out := make([]pipeline.LeaseSetOutcome, len(keys))
	for i, cmd := range cmds {
		raw, err := cmd.Text()
		if err != nil {
			out[i] = pipeline.LeaseSetOutcome{Status: pipeline.LeaseSetError, Error: err.Error()}
			continue
		}
		switch raw {
		case "OK":
			out[i] = pipeline.LeaseSetOutcome{Status: pipeline.LeaseSetOK}
		case "NF":
			out[i] = pipeline.LeaseSetOutcome{Status: pipeline.LeaseSetNotFound}
		case "EX":
			out[i] = pipeline.LeaseSetOutcome{Status: pipeline.LeaseSetCASMismatch}
		default:
			out[i] = pipeline.LeaseSetOutcome{Status: pipeline.LeaseSetError, Error: fmt.Sprintf("unexpected lease-set reply %q", raw)}
		}
	}
	return out, nil
}

// Delete issues direct DELETEs, one per key, in a single pipelined round
// trip (spec.md §4.2: "deletes are direct DELETE commands").
func (c *Client) Delete(ctx context.Context, keys []string) ([]pipeline.DeleteOutcome, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := c.conn.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Del(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("memproxyredis: delete pipeline exec: %w", err)
	}
	out := make([]pipeline.DeleteOutcome, len(keys))
	for i, cmd := range cmds {
		n, err := cmd.Result()
		if err != nil {
			out[i] = pipeline.DeleteOutcome{Status: pipeline.DeleteError, Error: err.Error()}
			continue
		}
		if n > 0 {
			out[i] = pipeline.DeleteOutcome{Status: pipeline.DeleteOK}
		} else {
			out[i] = pipeline.DeleteOutcome{Status: pipeline.DeleteNotFound}
		}
	}
	return out, nil
}

var _ pipeline.CacheClient = (*Client)(nil)

// MemUsage samples used_memory out of INFO memory, for wiring into
// stats.ServerStats (spec.md §1 scopes the telemetry transport itself out,
// but this module still needs a concrete sampler to exercise it).
func MemUsage(ctx context.Context, conn interface {
	Info(ctx context.Context, section ...string) *redis.StringCmd
}) (float64, error) {
	raw, err := conn.Info(ctx, "memory").Result()
	if err != nil {
		return 0, fmt.Errorf("memproxyredis: INFO memory: %w", err)
	}
	fields := map[string]float64{}
	for _, line := range strings.Split(raw, "\r\n") {
		name, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			fields[name] = v
		}
	}
	used, ok := fields["used_memory"]
	if !ok {
		return 0, errors.New("memproxyredis: used_memory not present in INFO memory output")
	}
	// maxmemory is 0 when unset (no cap configured); fall back to a fixed
	// divisor so usage still lands in a sane [0, ~1] range for ReplicatedRoute's
	// weighting instead of returning raw, unbounded byte counts.
	if max, ok := fields["maxmemory"]; ok && max > 0 {
		return used / max, nil
	}
	const noLimitDivisor = 1 << 30 // 1 GiB
	return used / noLimitDivisor, nil
}
