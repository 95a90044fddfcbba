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
	"sync/atomic"

	"google.golang.org/grpc/connectivity"

	"github.com/zjilvufe/grpc/balancer"
)

// childRef is a reference-counted handle on a child policy. The supervisor
// holds one count while the child is installed; every in-flight pick holds
// another. The child is closed when the count drops to zero, so replacing a
// serving child never disrupts the picks it is still completing.
type childRef struct {
	policy balancer.Policy
	refs   int32
}

func newChildRef(p balancer.Policy) *childRef {
	return &childRef{policy: p, refs: 1}
}

func (r *childRef) acquire() {
	atomic.AddInt32(&r.refs, 1)
}

func (r *childRef) release() {
	if atomic.AddInt32(&r.refs, -1) == 0 {
		r.policy.Close()
	}
}

// handoverLocked builds a child policy from the stored server list and
// decides whether it replaces the current one. Called with mu held, with a
// freshly accepted non-empty server list in lb.serverList.
func (lb *lbPolicy) handoverLocked() {
	if lb.shuttingDown {
		return
	}

	addrs := processServerList(lb.serverList, lb.logger)
	if len(addrs) == 0 {
		return
	}

	builder := balancer.Get(lb.opts.ChildPolicy)
	if builder == nil {
		lb.logger.Errorf("Child policy %q is not registered. The previous child, if any, continues to be used.", lb.opts.ChildPolicy)
		return
	}
	child := builder.Build(balancer.BuildOptions{
		Target:         lb.target,
		Addresses:      addrs,
		ChannelFactory: lb.buildOpts.ChannelFactory,
		DialOptions:    lb.buildOpts.DialOptions,
	})
	if child == nil {
		lb.logger.Errorf("Failure creating a %q policy for serverlist update with %d entries. The previous child, if any, continues to be used. Future updates from the LB will attempt to create new instances.", lb.opts.ChildPolicy, len(addrs))
		return
	}

	newState, newErr := child.State()
	if !lb.updateConnectivityLocked(newState, newErr) {
		// The replacement is unusable. Dispose of it and keep serving from
		// the old child.
		child.Close()
		if lb.logger.V(2) {
			lb.logger.Infof("Keeping old child policy despite new serverlist: new child was in %v connectivity state", newState)
		}
		return
	}

	if lb.logger.V(2) {
		lb.logger.Infof("Created child policy %p to replace old child", child)
	}
	if lb.child != nil {
		lb.child.release()
	}
	ref := newChildRef(child)
	lb.child = ref
	lb.watchChildLocked(ref, newState)
	child.ExitIdle()

	// Flush requests that were waiting for a child, in arrival order. Each
	// pick takes its own hold on the child.
	for pp := lb.pendingPicks.drain(); pp != nil; pp = pp.next {
		ref.acquire()
		if lb.logger.V(2) {
			lb.logger.Infof("Pending pick about to pick from child %p", child)
		}
		lb.forwardPick(ref, pp.pick, true)
	}
	for pg := lb.pendingPings.drain(); pg != nil; pg = pg.next {
		ref.acquire()
		done := pg.done
		child.Ping(func(err error) {
			ref.release()
			lb.serializer.TrySchedule(func(context.Context) { done(err) })
		})
	}
}

// updateConnectivityLocked folds a child state into the aggregate and
// reports whether a child in that state may serve.
//
// The aggregate becomes the child's state for Idle, Connecting and Ready. A
// child reporting TransientFailure or Shutdown is rejected and the aggregate
// is left untouched. Shutdown is never set here; only Close does that.
func (lb *lbPolicy) updateConnectivityLocked(newState connectivity.State, newErr error) bool {
	switch newState {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return false
	}
	if lb.logger.V(2) {
		lb.logger.Infof("Setting aggregate state to %v from child policy state", newState)
	}
	lb.tracker.set(newState, newErr, lb.serializer)
	return true
}

// watchChildLocked re-arms the edge-triggered watch on the installed child.
func (lb *lbPolicy) watchChildLocked(ref *childRef, last connectivity.State) {
	ref.policy.WatchState(last, func(s connectivity.State, err error) {
		lb.onChildStateChange(ref, s, err)
	})
}

func (lb *lbPolicy) onChildStateChange(ref *childRef, s connectivity.State, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.shuttingDown || s == connectivity.Shutdown || lb.child != ref {
		// The child is going away, or already has: let the subscription
		// lapse.
		return
	}
	lb.updateConnectivityLocked(s, err)
	lb.watchChildLocked(ref, s)
}
