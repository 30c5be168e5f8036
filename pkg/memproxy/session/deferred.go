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

// Func is a deferred result bound to a session: calling Result drains sess
// (cascading through its higher-priority chain, per Execute's contract) and
// only then invokes resolve to read the now-settled value. Every pipeline and
// item API that returns "a deferred" in spec terms returns one of these.
type Func[T any] struct {
	sess    *Session
	resolve func() T
}

// NewFunc binds a resolver to the session that must be drained before the
// resolver is safe to call.
func NewFunc[T any](sess *Session, resolve func() T) Func[T] {
	return Func[T]{sess: sess, resolve: resolve}
}

// Result drains sess then returns the resolved value.
func (f Func[T]) Result() T {
	f.sess.Execute()
	return f.resolve()
}
