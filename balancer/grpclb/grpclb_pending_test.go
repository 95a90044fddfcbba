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
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zjilvufe/grpc/balancer"
)

func queuedFlags(head *pendingPick) []uint32 {
	var flags []uint32
	for pp := head; pp != nil; pp = pp.next {
		flags = append(flags, pp.pick.Flags)
	}
	return flags
}

func TestPickQueueFIFO(t *testing.T) {
	var q pickQueue
	for i := 0; i < 4; i++ {
		q.enqueue(&balancer.Pick{Flags: uint32(i)})
	}
	if diff := cmp.Diff([]uint32{0, 1, 2, 3}, queuedFlags(q.drain())); diff != "" {
		t.Fatalf("drain order mismatch (-want +got):\n%s", diff)
	}
	if q.drain() != nil {
		t.Fatal("second drain returned entries")
	}
}

func TestPickQueueCancelMatchingPreservesOrder(t *testing.T) {
	var q pickQueue
	for _, flags := range []uint32{0x1, 0x2, 0x3, 0x4, 0x5} {
		q.enqueue(&balancer.Pick{Flags: flags})
	}

	removed := q.cancelMatching(func(p *balancer.Pick) bool { return p.Flags&0x1 == 0x1 })
	var removedFlags []uint32
	for _, p := range removed {
		removedFlags = append(removedFlags, p.Flags)
	}
	if diff := cmp.Diff([]uint32{0x1, 0x3, 0x5}, removedFlags); diff != "" {
		t.Fatalf("removed picks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{0x2, 0x4}, queuedFlags(q.drain())); diff != "" {
		t.Fatalf("survivor order mismatch (-want +got):\n%s", diff)
	}
}

func TestPickQueueCancelByTargetIdentity(t *testing.T) {
	var q pickQueue
	p1 := &balancer.Pick{Flags: 1}
	p2 := &balancer.Pick{Flags: 1} // same flags, different identity
	q.enqueue(p1)
	q.enqueue(p2)

	removed := q.cancelMatching(func(p *balancer.Pick) bool { return p == p1 })
	if len(removed) != 1 || removed[0] != p1 {
		t.Fatalf("cancelMatching removed %v, want exactly p1", removed)
	}
	if head := q.drain(); head == nil || head.pick != p2 || head.next != nil {
		t.Fatal("queue should hold exactly p2 after cancelling p1")
	}
}

func TestPingQueueFIFO(t *testing.T) {
	var q pingQueue
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		q.enqueue(func(error) { order = append(order, i) })
	}
	for pg := q.drain(); pg != nil; pg = pg.next {
		pg.done(nil)
	}
	if diff := cmp.Diff([]int{0, 1, 2}, order); diff != "" {
		t.Fatalf("ping drain order mismatch (-want +got):\n%s", diff)
	}
}
