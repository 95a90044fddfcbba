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
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/status"

	"github.com/zjilvufe/grpc/internal/backoff"

	lbpb "github.com/zjilvufe/grpc/balancer/grpclb/grpc_lb_v1"
)

// Retry backoff parameters of the BalanceLoad call.
const (
	lbCallBackoffMultiplier = 1.6
	lbCallBackoffJitter     = 0.2
	lbCallMinBackoff        = 10 * time.Second
	lbCallMaxBackoff        = 60 * time.Second
)

// Globals to stub out in tests.
var (
	newLBClient = func(cc grpc.ClientConnInterface) lbpb.LoadBalancerClient {
		return lbpb.NewLoadBalancerClient(cc)
	}
	afterFunc = time.AfterFunc
)

type sessionState int

const (
	// sessionIdle: no call, no retry pending. The state before the first
	// pick and after shutdown.
	sessionIdle sessionState = iota
	// sessionStarting: a call is being opened and the initial request sent.
	sessionStarting
	// sessionStreaming: the initial request is out; server lists may arrive
	// at any time.
	sessionStreaming
	// sessionCooling: the call ended; a retry timer is pending.
	sessionCooling
)

// lbSession drives one streaming BalanceLoad call at a time and schedules
// the next attempt when the current one ends. Every attempt is owned by one
// goroutine: opening the stream and sending the initial request is the
// Starting phase, the Recv loop delivers responses, and the Recv error exit
// performs the end-of-call teardown. All fields are guarded by lb.mu; the
// goroutine and the retry timer re-check shuttingDown under it before
// touching anything.
type lbSession struct {
	lb      *lbPolicy
	backoff backoff.Strategy

	state      sessionState
	cancel     context.CancelFunc
	retries    int
	retryTimer *time.Timer
}

func (s *lbSession) resetBackoffLocked() {
	s.retries = 0
}

// startLocked begins a new call attempt. The call is bounded by the most
// recent pick's deadline, when there is one.
func (s *lbSession) startLocked() {
	lb := s.lb
	if lb.shuttingDown {
		return
	}
	ctx := context.Background()
	var cancel context.CancelFunc
	if dl := lb.deadline; !dl.IsZero() {
		ctx, cancel = context.WithDeadline(ctx, dl)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	s.state = sessionStarting
	s.cancel = cancel
	if lb.logger.V(2) {
		lb.logger.Infof("Query for backends")
	}
	go s.run(ctx)
}

// shutdownLocked cancels whatever the session is doing. An in-flight call is
// torn down by its own goroutine once the cancellation reaches it.
func (s *lbSession) shutdownLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = sessionIdle
}

func (s *lbSession) run(ctx context.Context) {
	stream, err := s.open(ctx)
	if err != nil {
		s.streamEnded(err)
		return
	}
	for {
		resp, err := stream.Recv()
		if err != nil {
			s.streamEnded(err)
			return
		}
		s.handleResponse(resp)
	}
}

func (s *lbSession) open(ctx context.Context) (lbpb.LoadBalancer_BalanceLoadClient, error) {
	stream, err := newLBClient(s.lb.lbChannel).BalanceLoad(ctx)
	if err != nil {
		return nil, err
	}
	req := &lbpb.LoadBalanceRequest{
		InitialRequest: &lbpb.InitialLoadBalanceRequest{Name: s.lb.target},
	}
	if err := stream.Send(req); err != nil {
		return nil, err
	}
	s.lb.mu.Lock()
	if !s.lb.shuttingDown {
		s.state = sessionStreaming
	}
	s.lb.mu.Unlock()
	return stream, nil
}

func (s *lbSession) handleResponse(resp *lbpb.LoadBalanceResponse) {
	lb := s.lb
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.shuttingDown {
		return
	}
	switch {
	case resp.InitialResponse != nil:
		ir := resp.InitialResponse
		if ir.LoadBalancerDelegate != "" {
			lb.logger.Warningf("Delegation to balancer %q requested; not supported, ignoring", ir.LoadBalancerDelegate)
		}
		if ir.ClientStatsReportInterval > 0 {
			lb.logger.Infof("Client load reports every %v requested; not supported, none will be sent", ir.ClientStatsReportInterval)
		}
	case resp.ServerList != nil:
		s.handleServerListLocked(resp.ServerList)
	default:
		// Semantically invalid but decodable. Drop the message and keep the
		// stream.
		lb.logger.Errorf("Invalid LB response received: %+v. Ignoring.", resp)
	}
}

func (s *lbSession) handleServerListLocked(sl *lbpb.ServerList) {
	lb := s.lb
	if lb.logger.V(2) {
		lb.logger.Infof("Serverlist with %d servers received", len(sl.Servers))
		for i, srv := range sl.Servers {
			lb.logger.Infof("Serverlist[%d]: %v", i, srv)
		}
	}

	if len(sl.Servers) == 0 {
		if lb.opts.DropBackendsOnEmptyList && lb.child != nil {
			lb.logger.Infof("Received empty server list; releasing existing backends")
			lb.child.release()
			lb.child = nil
			// Forget the released list so that the same list sent again
			// is adopted rather than ignored as a duplicate.
			lb.serverList = nil
			lb.tracker.set(connectivity.Connecting, nil, lb.serializer)
		} else if lb.logger.V(2) {
			lb.logger.Infof("Received empty server list. Picks will stay pending until a response with > 0 servers is received")
		}
		return
	}

	// A usable response resets the retry backoff. An empty or invalid one
	// does not, so a chatty but broken balancer still backs the client off.
	s.resetBackoffLocked()

	if sl.Equal(lb.serverList) {
		if lb.logger.V(2) {
			lb.logger.Infof("Incoming server list identical to current, ignoring.")
		}
		return
	}
	lb.serverList = sl
	lb.handoverLocked()
}

// streamEnded performs the end-of-call teardown and, unless the policy is
// shutting down, arms the retry timer. Stream failures never propagate to
// pick callers; they reappear only as the delay before the next attempt.
func (s *lbSession) streamEnded(err error) {
	lb := s.lb
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if st := status.Convert(err); lb.logger.V(2) {
		lb.logger.Infof("Status from LB server received: code=%v desc=%q", st.Code(), st.Message())
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if lb.shuttingDown {
		s.state = sessionIdle
		return
	}
	delay := s.backoff.Backoff(s.retries)
	s.retries++
	s.state = sessionCooling
	if lb.logger.V(2) {
		lb.logger.Infof("Connection to LB server lost; retrying in %v", delay)
	}
	s.retryTimer = afterFunc(delay, s.onRetryTimer)
}

func (s *lbSession) onRetryTimer() {
	lb := s.lb
	lb.mu.Lock()
	defer lb.mu.Unlock()
	s.retryTimer = nil
	if lb.shuttingDown || s.state != sessionCooling {
		return
	}
	lb.logger.Infof("Restarting call to LB server")
	s.startLocked()
}
