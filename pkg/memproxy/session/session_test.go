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

package session

import "testing"

func TestSession_ExecuteDrainsOwnQueueFIFO(t *testing.T) {
	s := New()
	var order []int
	s.AddNextCall(func() { order = append(order, 1) })
	s.AddNextCall(func() { order = append(order, 2) })
	s.AddNextCall(func() { order = append(order, 3) })

	s.Execute()

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("got %v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v want %v", order, want)
		}
	}
	if s.IsDirty() {
		t.Fatalf("expected session to be clean after Execute")
	}
}

func TestSession_ExecuteIsIdempotentWhenClean(t *testing.T) {
	s := New()
	calls := 0
	s.AddNextCall(func() { calls++ })
	s.Execute()
	s.Execute()
	if calls != 1 {
		t.Fatalf("got %d calls want 1", calls)
	}
}

func TestSession_CallAddedDuringWaveRunsNextWave(t *testing.T) {
	s := New()
	var order []string
	s.AddNextCall(func() {
		order = append(order, "first")
		s.AddNextCall(func() {
			order = append(order, "second")
		})
	})
	s.Execute()
	want := []string{"first", "second"}
	if len(order) != 2 || order[0] != want[0] || order[1] != want[1] {
		t.Fatalf("got %v want %v", order, want)
	}
	if s.IsDirty() {
		t.Fatalf("expected session to be clean after Execute")
	}
}

func TestSession_HigherDrainsBeforeLower(t *testing.T) {
	higher := New()
	lower := higher.GetLower()

	var order []string
	higher.AddNextCall(func() { order = append(order, "higher") })
	lower.AddNextCall(func() { order = append(order, "lower") })

	lower.Execute()

	want := []string{"higher", "lower"}
	if len(order) != 2 || order[0] != want[0] || order[1] != want[1] {
		t.Fatalf("got %v want %v", order, want)
	}
	if higher.IsDirty() || lower.IsDirty() {
		t.Fatalf("expected both sessions clean after Execute")
	}
}

func TestSession_AddOnHigherMarksLowerDirtySoCascadeTriggers(t *testing.T) {
	higher := New()
	lower := higher.GetLower()

	// Nothing directly added to lower; only higher gets work.
	var ran bool
	higher.AddNextCall(func() { ran = true })

	if !lower.IsDirty() {
		t.Fatalf("expected AddNextCall on higher to mark lower dirty too")
	}

	// Draining lower must still flush higher's pending call.
	lower.Execute()
	if !ran {
		t.Fatalf("expected higher continuation to have run via lower.Execute()")
	}
}

func TestSession_GetLowerIsCached(t *testing.T) {
	s := New()
	a := s.GetLower()
	b := s.GetLower()
	if a != b {
		t.Fatalf("expected GetLower to return the same instance on repeated calls")
	}
}

func TestSession_MultiLevelCascade(t *testing.T) {
	top := New()
	mid := top.GetLower()
	bottom := mid.GetLower()

	var order []string
	top.AddNextCall(func() { order = append(order, "top") })
	mid.AddNextCall(func() { order = append(order, "mid") })
	bottom.AddNextCall(func() { order = append(order, "bottom") })

	bottom.Execute()

	want := []string{"top", "mid", "bottom"}
	if len(order) != 3 {
		t.Fatalf("got %v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v want %v", order, want)
		}
	}
}
