/*
 *
 * Copyright 2024 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package grpclb

import (
	"context"

	"google.golang.org/grpc/connectivity"

	"github.com/zjilvufe/grpc/internal/grpcsync"
)

// stateTracker holds the policy's aggregate connectivity state and its
// edge-triggered watchers. Methods are called with lbPolicy.mu held;
// notifications run on the serializer so no watcher ever observes the lock.
type stateTracker struct {
	state    connectivity.State
	err      error
	watchers []*stateWatcher
}

type stateWatcher struct {
	last   connectivity.State
	notify func(connectivity.State, error)
}

func (t *stateTracker) get() (connectivity.State, error) {
	return t.state, t.err
}

// set updates the tracked state and fires every watcher whose last observed
// state differs from it.
func (t *stateTracker) set(state connectivity.State, err error, serializer *grpcsync.CallbackSerializer) {
	t.state = state
	t.err = err
	remaining := t.watchers[:0]
	for _, w := range t.watchers {
		if w.last == state {
			remaining = append(remaining, w)
			continue
		}
		w := w
		serializer.TrySchedule(func(context.Context) { w.notify(state, err) })
	}
	// Drop fired watchers; they re-register if still interested.
	for i := len(remaining); i < len(t.watchers); i++ {
		t.watchers[i] = nil
	}
	t.watchers = remaining
}

// watch registers notify to fire once the state differs from last. If it
// already does, notify fires right away (still off the lock).
func (t *stateTracker) watch(last connectivity.State, notify func(connectivity.State, error), serializer *grpcsync.CallbackSerializer) {
	if t.state != last {
		state, err := t.state, t.err
		serializer.TrySchedule(func(context.Context) { notify(state, err) })
		return
	}
	t.watchers = append(t.watchers, &stateWatcher{last: last, notify: notify})
}
