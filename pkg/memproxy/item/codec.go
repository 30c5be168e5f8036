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

// Package item layers typed, cache-aside fill semantics on top of a single
// pipeline.Pipeline (spec.md §4.3) and coalesces independent multi-key misses
// into one filler call (spec.md §4.4).
package item

import "encoding/json"

// Codec converts a typed value to/from the bytes stored under a lease.
type Codec[V any] struct {
	Encode func(v V) ([]byte, error)
	Decode func(data []byte) (V, error)
}

// JSONCodec builds a Codec[V] on stdlib encoding/json. No third-party JSON
// library appears anywhere in the example pack's dependency surface (see
// DESIGN.md), so this is the one ambient concern this module intentionally
// leaves on the standard library; original_source/memproxy/item.py's
// new_json_codec is the direct ancestor of this helper.
func JSONCodec[V any]() Codec[V] {
	return Codec[V]{
		Encode: func(v V) ([]byte, error) {
			return json.Marshal(v)
		},
		Decode: func(data []byte) (V, error) {
			var v V
			err := json.Unmarshal(data, &v)
			return v, err
		},
	}
}
