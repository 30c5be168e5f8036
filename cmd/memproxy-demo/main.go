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

// Package main wires a replicated memproxy cache in front of a toy "user"
// lookup service: N Redis-compatible replicas, a ReplicatedRoute or
// ConsistentRoute picking among them, a ServerStats sampler feeding the
// route's weights, and one HTTP handler per request building a fresh
// Session/ProxyPipeline/Item chain (spec.md's model is strictly
// one-session-per-logical-request; nothing here is shared across requests
// except the long-lived routing and stats objects).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"github.com/ealvarez/memproxy/internal/memproxyredis"
	"github.com/ealvarez/memproxy/pkg/memproxy/item"
	"github.com/ealvarez/memproxy/pkg/memproxy/metrics"
	"github.com/ealvarez/memproxy/pkg/memproxy/pipeline"
	"github.com/ealvarez/memproxy/pkg/memproxy/proxy"
	"github.com/ealvarez/memproxy/pkg/memproxy/session"
	"github.com/ealvarez/memproxy/pkg/memproxy/stats"
)

// user is the toy domain record this demo caches: fetched from an in-memory
// "database" (simulated, so the demo runs with no external dependencies
// beyond the Redis replicas themselves) and cached as JSON.
type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func main() {
	serverAddrs := flag.String("servers", "127.0.0.1:6379", "comma-separated Redis-compatible replica addresses")
	httpAddr := flag.String("http_addr", ":8080", "HTTP listen address")
	metricsAddr := flag.String("metrics_addr", ":9090", "Prometheus /metrics listen address")
	minPercent := flag.Float64("min_percent", 1.0, "minimum traffic share (percent) guaranteed to every reachable replica")
	consistent := flag.Bool("consistent_route", false, "use rendezvous-hash routing instead of memory-weighted random routing")
	minTTL := flag.Int("min_ttl_seconds", 30, "minimum lease-set TTL")
	maxTTL := flag.Int("max_ttl_seconds", 60, "maximum lease-set TTL (jittered uniformly with the minimum)")
	statsIntervalMin := flag.Duration("stats_interval_min", 2*time.Second, "minimum per-replica memory sampling interval")
	statsIntervalMax := flag.Duration("stats_interval_max", 5*time.Second, "maximum per-replica memory sampling interval")
	flag.Parse()

	serverIDs := strings.Split(*serverAddrs, ",")
	conns := make(map[string]*redis.Client, len(serverIDs))
	for _, id := range serverIDs {
		conns[id] = redis.NewClient(&redis.Options{Addr: id})
	}
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()

	sampler := stats.New(stats.Config{
		ServerIDs: serverIDs,
		Sample: func(ctx context.Context, id string) (float64, error) {
			return memproxyredis.MemUsage(ctx, conns[id])
		},
		SleepMin: *statsIntervalMin,
		SleepMax: *statsIntervalMax,
	})
	defer sampler.Shutdown()

	go reportReplicaWeights(sampler, serverIDs)

	var route proxy.Route
	if *consistent {
		route = proxy.NewConsistentRoute(serverIDs)
	} else {
		route = proxy.NewReplicatedRoute(serverIDs, sampler, *minPercent)
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	newServerPipe := func(serverID string, sess *session.Session) pipeline.Pipeline {
		client := memproxyredis.New(conns[serverID])
		return pipeline.New(client, sess, pipeline.Config{MinTTL: *minTTL, MaxTTL: *maxTTL, Logger: logger})
	}

	usersItemName := "users"

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		idStr := r.URL.Query().Get("id")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			http.Error(w, "invalid user id", http.StatusBadRequest)
			return
		}

		sess := session.New()
		proxyPipe := proxy.NewProxyPipeline(route, newServerPipe, sess, sampler,
			proxy.WithFailoverObserver(metrics.ObserveFailover),
			proxy.WithLogger(logger),
		)
		it := item.New[int, user](proxyPipe, userKey, fetchUserFromDB, item.JSONCodec[user](), item.WithLogger[int, user](logger))

		result := it.Get(r.Context(), id).Result()
		proxyPipe.Finish(r.Context())
		metrics.ObserveItem(usersItemName, &it.Counters)

		if result.Err != nil {
			http.Error(w, result.Err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result.Value)
	})

	httpServer := &http.Server{Addr: *httpAddr, Handler: mux}
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler()}

	go func() {
		log.Printf("memproxy demo listening on %s (replicas: %v)", *httpAddr, serverIDs)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nshutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	_ = metricsServer.Shutdown(ctx)
}

// userKey derives the cache key for a user id.
func userKey(id int) string { return "user:" + strconv.Itoa(id) }

// fetchUserFromDB simulates a backing store lookup. A real deployment would
// issue a SQL/gRPC call here; this demo has no external dependency besides
// the Redis replicas themselves.
func fetchUserFromDB(ctx context.Context, id int) func() (user, error) {
	return func() (user, error) {
		return user{ID: id, Name: fmt.Sprintf("user-data:%d", id), Age: 20 + id%60}, nil
	}
}

// reportReplicaWeights periodically snapshots sampler's view into the
// Prometheus gauges so /metrics reflects current routing weights.
func reportReplicaWeights(sampler *stats.ServerStats, serverIDs []string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		for _, id := range serverIDs {
			usage, ok := sampler.GetMemUsage(id)
			weight := 0.0
			if ok {
				weight = usage
			}
			metrics.ObserveReplica(id, weight, ok)
		}
	}
}
