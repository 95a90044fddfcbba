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

import "github.com/zjilvufe/grpc/balancer"

// Pending picks and pings arrive before a child policy exists and wait for
// the first adoption. Both queues are FIFO so draining forwards requests in
// arrival order. All access is guarded by lbPolicy.mu.

type pendingPick struct {
	next *pendingPick
	pick *balancer.Pick
}

type pickQueue struct {
	head, tail *pendingPick
}

func (q *pickQueue) enqueue(p *balancer.Pick) {
	pp := &pendingPick{pick: p}
	if q.tail == nil {
		q.head, q.tail = pp, pp
		return
	}
	q.tail.next = pp
	q.tail = pp
}

// drain detaches and returns the queue's contents in arrival order.
func (q *pickQueue) drain() *pendingPick {
	head := q.head
	q.head, q.tail = nil, nil
	return head
}

// cancelMatching removes every pick the predicate matches and returns them in
// arrival order. Survivors keep their relative order.
func (q *pickQueue) cancelMatching(match func(*balancer.Pick) bool) []*balancer.Pick {
	var removed []*balancer.Pick
	var head, tail *pendingPick
	for pp := q.drain(); pp != nil; {
		next := pp.next
		pp.next = nil
		if match(pp.pick) {
			removed = append(removed, pp.pick)
		} else {
			if tail == nil {
				head, tail = pp, pp
			} else {
				tail.next = pp
				tail = pp
			}
		}
		pp = next
	}
	q.head, q.tail = head, tail
	return removed
}

type pendingPing struct {
	next *pendingPing
	done func(error)
}

type pingQueue struct {
	head, tail *pendingPing
}

func (q *pingQueue) enqueue(done func(error)) {
	pg := &pendingPing{done: done}
	if q.tail == nil {
		q.head, q.tail = pg, pg
		return
	}
	q.tail.next = pg
	q.tail = pg
}

func (q *pingQueue) drain() *pendingPing {
	head := q.head
	q.head, q.tail = nil, nil
	return head
}
