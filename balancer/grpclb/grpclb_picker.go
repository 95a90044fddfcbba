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
	"fmt"

	"google.golang.org/grpc/metadata"

	"github.com/zjilvufe/grpc/balancer"
)

// injectLBToken stores token as the single lb-token entry of the pick's
// initial metadata.
func injectLBToken(md metadata.MD, token string) {
	md.Set(lbTokenMetadataKey, token)
}

// forwardPick hands p to the child policy held by ref, which must have been
// acquired for this pick. The child works on a shadow of p so that p itself
// keeps identifying the request to CancelPick only while it is queued here.
//
// The returned completed/err pair follows the balancer.Policy.Pick contract.
// With notify set (drained pending picks, whose callers were already told
// the pick is deferred) every outcome, including a synchronous one, is
// delivered through p.Done instead.
func (lb *lbPolicy) forwardPick(ref *childRef, p *balancer.Pick, notify bool) (bool, error) {
	cp := &balancer.Pick{
		Metadata: p.Metadata,
		Flags:    p.Flags,
		Deadline: p.Deadline,
	}
	cp.Done = func(err error) {
		lb.finishPick(ref, p, cp, err, true)
	}
	completed, err := ref.policy.Pick(cp)
	if err != nil {
		if notify {
			lb.finishPick(ref, p, cp, err, true)
			return false, nil
		}
		ref.release()
		p.Backend = nil
		return false, err
	}
	if completed {
		lb.finishPick(ref, p, cp, nil, notify)
		return !notify, nil
	}
	return false, nil
}

// finishPick completes p from the child's result in cp: it attaches the LB
// token of the chosen backend to the initial metadata, releases the pick's
// hold on the child, and, when notify is set, hands the caller's
// continuation to the serializer. Token attachment happens before the caller
// can observe completion.
func (lb *lbPolicy) finishPick(ref *childRef, p, cp *balancer.Pick, err error, notify bool) {
	p.Backend = cp.Backend
	if p.Backend != nil {
		token, ok := lbToken(*p.Backend)
		if !ok {
			// Unreachable for lists that went through processServerList;
			// an address without even the empty token means corruption.
			panic(fmt.Sprintf("grpclb: no LB token for picked backend %q", p.Backend.Addr))
		}
		injectLBToken(p.Metadata, token)
	}
	if lb.logger.V(2) {
		lb.logger.Infof("Releasing child policy %p after pick", ref.policy)
	}
	ref.release()
	if notify {
		done := p.Done
		lb.serializer.TrySchedule(func(context.Context) { done(err) })
	}
}
