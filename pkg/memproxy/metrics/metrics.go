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

// Package metrics exposes the Prometheus surface of this module: per-item
// hit/fill/error counters, per-replica memory weight gauges, and a counter
// for replica failover events. Labels are all drawn from small, caller-
// controlled sets (item names, configured server ids), never from request
// keys, so cardinality stays bounded.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ealvarez/memproxy/pkg/memproxy/item"
)

var (
	itemHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memproxy_item_hits_total",
		Help: "Cache hits per item, decoded and served without a fill.",
	}, []string{"item"})
	itemFills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memproxy_item_fills_total",
		Help: "Fills invoked per item after a lease grant or a decode/cache error.",
	}, []string{"item"})
	itemCacheErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memproxy_item_cache_errors_total",
		Help: "Lease-get outcomes that reported ERROR per item.",
	}, []string{"item"})
	itemDecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memproxy_item_decode_errors_total",
		Help: "Stored values that failed to decode per item.",
	}, []string{"item"})
	itemBytesRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memproxy_item_bytes_read_total",
		Help: "Bytes read from cache hits per item.",
	}, []string{"item"})

	replicaWeight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memproxy_replica_weight",
		Help: "Last-sampled selection weight (raw reported memory usage fraction) per replica.",
	}, []string{"server_id"})
	replicaReachable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memproxy_replica_reachable",
		Help: "1 if the replica's last sample succeeded, 0 otherwise.",
	}, []string{"server_id"})
	replicaFailoversTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memproxy_replica_failovers_total",
		Help: "Times a replica returned ERROR and the proxy retried against another.",
	}, []string{"server_id"})
)

func init() {
	prometheus.MustRegister(
		itemHits, itemFills, itemCacheErrors, itemDecodeErrors, itemBytesRead,
		replicaWeight, replicaReachable, replicaFailoversTotal,
	)
}

// ObserveItem snapshots an item's cumulative counters into the
// itemName-labeled series. Call periodically (e.g. alongside stats
// sampling) since item.Counters are plain atomics, not already
// Prometheus-backed.
func ObserveItem(itemName string, c *item.Counters) {
	itemHits.WithLabelValues(itemName).Add(float64(c.Hits.Swap(0)))
	itemFills.WithLabelValues(itemName).Add(float64(c.Fills.Swap(0)))
	itemCacheErrors.WithLabelValues(itemName).Add(float64(c.CacheErrors.Swap(0)))
	itemDecodeErrors.WithLabelValues(itemName).Add(float64(c.DecodeErrors.Swap(0)))
	itemBytesRead.WithLabelValues(itemName).Add(float64(c.BytesRead.Swap(0)))
}

// ObserveReplica records the latest weight sample for a replica.
func ObserveReplica(serverID string, weight float64, reachable bool) {
	replicaWeight.WithLabelValues(serverID).Set(weight)
	if reachable {
		replicaReachable.WithLabelValues(serverID).Set(1)
	} else {
		replicaReachable.WithLabelValues(serverID).Set(0)
	}
}

// ObserveFailover increments the failover counter for a replica that
// returned ERROR and was retried against another.
func ObserveFailover(serverID string) {
	replicaFailoversTotal.WithLabelValues(serverID).Inc()
}
