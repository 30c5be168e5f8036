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

// Package pipeline implements the lease-based single-server batching pipeline
// described in spec.md §4.2: lease_get/lease_set/delete calls accumulate into
// a pending batch and flush to a single backing cache server in one
// round-trip, encoded as two atomic Lua scripts plus direct DELETEs.
package pipeline

import "fmt"

// LeaseGetStatus tags the outcome of a single lease-get.
type LeaseGetStatus int

const (
	// LeaseGetFound means the key held a stored value.
	LeaseGetFound LeaseGetStatus = iota
	// LeaseGetGranted means the key was missing and the server granted a
	// lease (CAS) for the caller to fill and set back.
	LeaseGetGranted
	// LeaseGetError means the transport or the server reported a failure.
	LeaseGetError
)

// LeaseGetOutcome is the result of one lease-get for one key.
type LeaseGetOutcome struct {
	Status LeaseGetStatus
	Data   []byte // valid when Status == LeaseGetFound; may be empty
	CAS    uint64 // valid when Status == LeaseGetGranted; > 0
	Error  string // valid when Status == LeaseGetError
}

func (o LeaseGetOutcome) String() string {
	switch o.Status {
	case LeaseGetFound:
		return fmt.Sprintf("FOUND(%d bytes)", len(o.Data))
	case LeaseGetGranted:
		return fmt.Sprintf("LEASE_GRANTED(cas=%d)", o.CAS)
	default:
		return fmt.Sprintf("ERROR(%s)", o.Error)
	}
}

// LeaseSetStatus tags the outcome of a single lease-set.
type LeaseSetStatus int

const (
	LeaseSetOK LeaseSetStatus = iota
	LeaseSetNotFound
	LeaseSetCASMismatch
	LeaseSetError
)

// LeaseSetOutcome is the result of one lease-set for one key.
type LeaseSetOutcome struct {
	Status LeaseSetStatus
	Error  string // valid when Status == LeaseSetError
}

// DeleteStatus tags the outcome of a single delete.
type DeleteStatus int

const (
	DeleteOK DeleteStatus = iota
	DeleteNotFound
	DeleteError
)

// DeleteOutcome is the result of one delete for one key.
type DeleteOutcome struct {
	Status DeleteStatus
	Error  string // valid when Status == DeleteError
}
