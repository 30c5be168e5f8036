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
	"context"

	"github.com/ealvarez/memproxy/pkg/memproxy/pipeline"
	"github.com/ealvarez/memproxy/pkg/memproxy/session"
)

// ServerPipelineFactory builds the single-server pipeline.Pipeline for one
// replica, bound to the given session. ProxyPipeline calls this lazily, at
// most once per replica per request, per spec.md §4.6.
type ServerPipelineFactory func(serverID string, sess *session.Session) pipeline.Pipeline

// ProxyPipeline multiplexes a Route's replica selection behind the same
// Pipeline interface pipeline.Pipe exposes, so item.Item can sit on top of
// either transparently (spec.md §4.6). Per key, it remembers which replica
// granted the outstanding lease so the follow-up LeaseSet lands on that same
// replica — the "single-flight-per-key" guarantee only holds if the set goes
// back to whoever handed out the lease.
type ProxyPipeline struct {
	route      Route
	newPipe    ServerPipelineFactory
	sess       *session.Session
	failer     MemUsageSource
	onFailover func(serverID string)

	selector Selector
	pipes    map[string]pipeline.Pipeline // lazily built, one per replica touched this request
	leaseOf  map[string]string            // key -> server id that granted its outstanding lease
	logger   pipeline.Logger
}

// ProxyOption customizes a ProxyPipeline at construction.
type ProxyOption func(*ProxyPipeline)

// WithFailoverObserver registers a callback invoked every time a replica
// returns ERROR and the proxy retries against another one. Intended for
// wiring pkg/memproxy/metrics' failover counter without making this package
// depend on it.
func WithFailoverObserver(f func(serverID string)) ProxyOption {
	return func(p *ProxyPipeline) { p.onFailover = f }
}

// WithLogger supplies a sink for retry/exhaustion diagnostics. A nil logger
// (the default) disables logging entirely, matching pipeline.Config's
// convention.
func WithLogger(l pipeline.Logger) ProxyOption {
	return func(p *ProxyPipeline) { p.logger = l }
}

func (p *ProxyPipeline) log(format string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// NewProxyPipeline builds a ProxyPipeline for one logical request. sess is
// the session all child pipelines and deferred continuations are scheduled
// on; failer (typically a stats.ServerStats) is notified when a replica
// returns a transport ERROR so its weight recovers once the replica is
// healthy again.
func NewProxyPipeline(route Route, newPipe ServerPipelineFactory, sess *session.Session, failer MemUsageSource, opts ...ProxyOption) *ProxyPipeline {
	p := &ProxyPipeline{
		route:   route,
		newPipe: newPipe,
		sess:    sess,
		failer:  failer,
		pipes:   map[string]pipeline.Pipeline{},
		leaseOf: map[string]string{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ProxyPipeline) pipeFor(serverID string) pipeline.Pipeline {
	if pp, ok := p.pipes[serverID]; ok {
		return pp
	}
	pp := p.newPipe(serverID, p.sess)
	p.pipes[serverID] = pp
	return pp
}

func (p *ProxyPipeline) selectorFor(key string) Selector {
	// spec.md §4.5: a fresh selector per logical request, not per key; but a
	// ProxyPipeline instance already scopes one logical request, so a single
	// selector built lazily on first use is shared across every key it sees
	// within that request.
	if p.selector == nil {
		p.selector = p.route.NewSelector(key)
	}
	return p.selector
}

// proxyGetHandle retries LeaseGet against successive replicas (per the
// request's selector) until one returns a non-ERROR outcome or the selector
// is exhausted. The first replica's child LeaseGet is issued synchronously
// by ProxyPipeline.LeaseGet, at construction time, not deferred to Result:
// spec.md §4.6 step 3 requires the child's lease_get to be appended to its
// pending batch immediately, so several keys that land on the same replica
// accumulate into one round-trip instead of each flushing its own.
type proxyGetHandle struct {
	p        *ProxyPipeline
	ctx      context.Context
	key      string
	sel      Selector
	serverID string
	handle   pipeline.GetHandle // nil once the selector is already exhausted

	resolved bool
	outcome  pipeline.LeaseGetOutcome
}

func (h *proxyGetHandle) Result() pipeline.LeaseGetOutcome {
	if h.resolved {
		return h.outcome
	}
	if h.handle == nil {
		h.outcome = pipeline.LeaseGetOutcome{Status: pipeline.LeaseGetError, Error: "proxy: all replicas exhausted"}
		h.resolved = true
		h.p.log("proxy: key %q exhausted all replicas", h.key)
		return h.outcome
	}
	for {
		out := h.handle.Result()
		if out.Status != pipeline.LeaseGetError {
			if out.Status == pipeline.LeaseGetGranted {
				h.p.leaseOf[h.key] = h.serverID
			}
			h.outcome = out
			h.resolved = true
			return h.outcome
		}
		h.p.log("proxy: replica %q returned ERROR for key %q: %s", h.serverID, h.key, out.Error)
		if h.p.failer != nil {
			h.p.failer.NotifyServerFailed(h.serverID)
		}
		if h.p.onFailover != nil {
			h.p.onFailover(h.serverID)
		}
		if !h.sel.SetFailed(h.serverID) {
			h.outcome = out
			h.resolved = true
			return h.outcome
		}
		serverID, ok := h.sel.Next()
		if !ok {
			h.outcome = out
			h.resolved = true
			return h.outcome
		}
		h.serverID = serverID
		h.handle = h.p.pipeFor(serverID).LeaseGet(h.ctx, h.key)
	}
}

// LeaseGet picks this key's replica from the request's selector and issues
// the child pipeline's LeaseGet immediately, so it lands in that replica's
// pending batch alongside any other key already routed there this request
// (spec.md §4.6 step 3). Retries on a later ERROR happen inside Result,
// since the outcome isn't known until the batch flushes.
func (p *ProxyPipeline) LeaseGet(ctx context.Context, key string) pipeline.GetHandle {
	sel := p.selectorFor(key)
	serverID, ok := sel.Next()
	if !ok {
		p.log("proxy: key %q exhausted all replicas", key)
		return &proxyGetHandle{
			p: p, ctx: ctx, key: key, sel: sel,
			resolved: true,
			outcome:  pipeline.LeaseGetOutcome{Status: pipeline.LeaseGetError, Error: "proxy: all replicas exhausted"},
		}
	}
	return &proxyGetHandle{
		p: p, ctx: ctx, key: key, sel: sel, serverID: serverID,
		handle: p.pipeFor(serverID).LeaseGet(ctx, key),
	}
}

// LeaseSet routes to whichever replica granted key's outstanding lease.
// leaseOf is only populated on a LEASE_GRANTED outcome (proxyGetHandle.Result),
// so a key whose LeaseGet never succeeded, or already had its lease
// consumed by a prior LeaseSet, has no recorded origin — a lease-set with
// no recorded origin is a caller bug, not something to paper over by
// guessing a replica (spec.md §9, Open Question (a)).
func (p *ProxyPipeline) LeaseSet(ctx context.Context, key string, cas uint64, data []byte) session.Func[pipeline.LeaseSetOutcome] {
	serverID, ok := p.leaseOf[key]
	if !ok {
		errOut := pipeline.LeaseSetOutcome{Status: pipeline.LeaseSetError, Error: "proxy: can not do lease set"}
		return session.NewFunc(p.sess, func() pipeline.LeaseSetOutcome { return errOut })
	}
	delete(p.leaseOf, key)
	return p.pipeFor(serverID).LeaseSet(ctx, key, cas, data)
}

// Delete fans out to every replica the route still considers live, per
// spec.md §4.6's cross-replica invalidation rule: a stale value can be
// cached on any replica a previous request's selector happened to land on,
// so a delete must reach all of them, not just whichever one this request's
// selector would have picked for a get. It reuses the request's own
// selector (select_servers_for_delete in spec.md §4.6) rather than building
// a fresh one, so replicas already known to have failed earlier in this
// request aren't retried here too; a replica that fails the delete itself
// is reported to failer/onFailover and excluded from the selector the same
// way a failed LeaseGet is.
func (p *ProxyPipeline) Delete(ctx context.Context, key string) session.Func[pipeline.DeleteOutcome] {
	sel := p.selectorFor(key)
	ids := sel.Remaining()
	funcs := make([]session.Func[pipeline.DeleteOutcome], len(ids))
	for i, id := range ids {
		funcs[i] = p.pipeFor(id).Delete(ctx, key)
	}
	return session.NewFunc(p.sess, func() pipeline.DeleteOutcome {
		best := pipeline.DeleteOutcome{Status: pipeline.DeleteNotFound}
		sawOK := false
		for i, f := range funcs {
			out := f.Result()
			switch out.Status {
			case pipeline.DeleteOK:
				sawOK = true
				best = out
			case pipeline.DeleteError:
				serverID := ids[i]
				p.log("proxy: replica %q returned ERROR deleting key %q: %s", serverID, key, out.Error)
				if p.failer != nil {
					p.failer.NotifyServerFailed(serverID)
				}
				if p.onFailover != nil {
					p.onFailover(serverID)
				}
				sel.SetFailed(serverID)
				if !sawOK {
					best = out
				}
			}
		}
		return best
	})
}

// LowerSession returns the session fill/set-back continuations should run
// on. Every child pipeline shares the same sess chain, so any already-built
// one answers identically; with none built yet it falls back to sess's own
// GetLower.
func (p *ProxyPipeline) LowerSession() *session.Session {
	for _, pp := range p.pipes {
		return pp.LowerSession()
	}
	return p.sess.GetLower()
}

// Finish flushes every child pipeline touched by this request.
func (p *ProxyPipeline) Finish(ctx context.Context) {
	for _, pp := range p.pipes {
		pp.Finish(ctx)
	}
}

var _ pipeline.Pipeline = (*ProxyPipeline)(nil)
