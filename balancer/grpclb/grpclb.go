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

// Package grpclb implements the load balancing policy that delegates backend
// selection to an external load balancer speaking the grpc.lb.v1 protocol.
//
// The policy opens a streaming BalanceLoad call to the LB service named by
// the balancer-marked addresses it was built with. Every server list the
// balancer sends is turned into a child policy (round robin by default) over
// the listed backends, each backend tagged with the LB token the balancer
// assigned it. Picks completed through this policy carry that token in their
// initial metadata under the "lb-token" key.
//
// Picks and pings that arrive before a usable server list are queued and
// drained, in arrival order, into the first child that is adopted. A child
// whose initial state is TransientFailure or Shutdown is discarded so that a
// serving child is never displaced by an unusable replacement. When the
// BalanceLoad stream breaks, the policy retries it with bounded exponential
// backoff; stream failures are never surfaced to pick callers.
package grpclb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/grpclog"
	"google.golang.org/grpc/resolver"
	"google.golang.org/grpc/resolver/manual"

	"github.com/zjilvufe/grpc/balancer"
	"github.com/zjilvufe/grpc/internal/backoff"
	internalgrpclog "github.com/zjilvufe/grpc/internal/grpclog"
	"github.com/zjilvufe/grpc/internal/grpcsync"

	lbpb "github.com/zjilvufe/grpc/balancer/grpclb/grpc_lb_v1"
)

// Name is the name of the grpclb policy.
const Name = "grpclb"

// lbChannelScheme is the resolver scheme of the internal channel to the LB
// service. The manual resolver registered under it is scoped to that channel
// only.
const lbChannelScheme = "grpclb-internal"

var logger = grpclog.Component("glb")

func init() {
	balancer.Register(NewBuilder(Options{}))
}

var (
	// errMissingMetadata is returned by Pick for picks that carry no initial
	// metadata to store the LB token in.
	errMissingMetadata = errors.New("grpclb: no metadata for the LB token; load reporting won't work without it")
	// errPolicyClosed is returned by Pick once the policy has been closed.
	errPolicyClosed = errors.New("grpclb: policy is closed")
	// errChannelShutdown is the error associated with the Shutdown aggregate
	// state.
	errChannelShutdown = errors.New("grpclb: channel shutdown")
)

// Options configures the grpclb policy beyond what balancer.BuildOptions
// carries. The builder registered under "grpclb" uses the zero value.
type Options struct {
	// ChildPolicy names the registered policy built over each received
	// server list. Defaults to "round_robin".
	ChildPolicy string

	// DropBackendsOnEmptyList makes an empty server list release the
	// serving child policy, treating the list as "no capacity available".
	// By default an empty list leaves the current backends in use and only
	// future lists change anything.
	DropBackendsOnEmptyList bool
}

// NewBuilder returns a builder for grpclb policies customized by opts.
func NewBuilder(opts Options) balancer.Builder {
	if opts.ChildPolicy == "" {
		opts.ChildPolicy = "round_robin"
	}
	return &lbBuilder{opts: opts}
}

type lbBuilder struct {
	opts Options
}

func (b *lbBuilder) Name() string { return Name }

// Build constructs a grpclb policy. It returns nil unless opts names a
// target and contains at least one balancer-marked address.
func (b *lbBuilder) Build(opts balancer.BuildOptions) balancer.Policy {
	if opts.Target == "" {
		logger.Error("grpclb: Build called without a target server name")
		return nil
	}
	var balancerAddrs []resolver.Address
	for _, a := range opts.Addresses {
		if balancer.IsBalancerAddress(a) {
			balancerAddrs = append(balancerAddrs, a)
		}
	}
	if len(balancerAddrs) == 0 {
		logger.Errorf("grpclb: Build called for %q without balancer addresses", opts.Target)
		return nil
	}

	lbChannel, lbTarget, err := dialLBChannel(opts, balancerAddrs)
	if err != nil {
		logger.Errorf("grpclb: failed to create the channel to the LB service at %q: %v", lbTarget, err)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	lb := &lbPolicy{
		target:           opts.Target,
		buildOpts:        opts,
		opts:             b.opts,
		lbChannel:        lbChannel,
		serializer:       grpcsync.NewCallbackSerializer(ctx),
		serializerCancel: cancel,
	}
	lb.logger = internalgrpclog.NewPrefixLogger(logger, fmt.Sprintf("[grpclb %p] ", lb))
	lb.tracker.state = connectivity.Idle
	lb.session = &lbSession{
		lb: lb,
		backoff: backoff.Exponential{Config: backoff.Config{
			BaseDelay:  lbCallMinBackoff,
			Multiplier: lbCallBackoffMultiplier,
			Jitter:     lbCallBackoffJitter,
			MaxDelay:   lbCallMaxBackoff,
		}},
	}
	lb.logger.Infof("Created for %q with LB channel over %q", opts.Target, lbTarget)
	return lb
}

// dialLBChannel creates the channel used to talk to the LB service. The
// balancer addresses are fed through a manual resolver with their balancer
// marker stripped and no LB policy selected, so the channel falls back to
// pick-first over them and can never recurse into grpclb.
func dialLBChannel(opts balancer.BuildOptions, balancerAddrs []resolver.Address) (*grpc.ClientConn, string, error) {
	stripped := make([]resolver.Address, len(balancerAddrs))
	uris := make([]string, len(balancerAddrs))
	for i, a := range balancerAddrs {
		a.BalancerAttributes = nil
		stripped[i] = a
		uris[i] = a.Addr
	}
	target := lbChannelScheme + ":///" + strings.Join(uris, ",")

	r := manual.NewBuilderWithScheme(lbChannelScheme)
	r.InitialState(resolver.State{Addresses: stripped})

	factory := opts.ChannelFactory
	if factory == nil {
		factory = grpc.NewClient
	}
	dialOpts := append([]grpc.DialOption{grpc.WithResolvers(r)}, opts.DialOptions...)
	cc, err := factory(target, dialOpts...)
	return cc, target, err
}

// lbPolicy is the grpclb policy proper. One mutex serializes every state
// transition: public operations, stream events, child state changes and
// retry-timer fires all funnel through mu. User-visible callbacks are run by
// the serializer, never under mu.
type lbPolicy struct {
	target    string
	buildOpts balancer.BuildOptions
	opts      Options
	lbChannel *grpc.ClientConn
	logger    *internalgrpclog.PrefixLogger

	serializer       *grpcsync.CallbackSerializer
	serializerCancel context.CancelFunc

	mu             sync.Mutex
	shuttingDown   bool
	startedPicking bool
	// deadline of the most recent pick; bounds the next LB call.
	deadline time.Time
	session  *lbSession
	// serverList is the last accepted (non-empty, decoded) server list.
	serverList *lbpb.ServerList
	// child is the serving child policy, nil until the first adoption.
	child        *childRef
	tracker      stateTracker
	pendingPicks pickQueue
	pendingPings pingQueue
}

var _ balancer.Policy = (*lbPolicy)(nil)

// Pick selects a backend for p, queueing it if no child policy is available
// yet. See balancer.Policy.
func (lb *lbPolicy) Pick(p *balancer.Pick) (bool, error) {
	if p.Metadata == nil {
		p.Backend = nil
		return false, errMissingMetadata
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.shuttingDown {
		p.Backend = nil
		return false, errPolicyClosed
	}
	lb.deadline = p.Deadline

	if lb.child != nil {
		if lb.logger.V(2) {
			lb.logger.Infof("About to pick from child policy %p", lb.child.policy)
		}
		lb.child.acquire()
		return lb.forwardPick(lb.child, p, false)
	}

	if lb.logger.V(2) {
		lb.logger.Infof("No child policy; adding to pending picks")
	}
	lb.pendingPicks.enqueue(p)
	if !lb.startedPicking {
		lb.startPickingLocked()
	}
	return false, nil
}

// Ping forwards to the child policy if one is available, else queues.
func (lb *lbPolicy) Ping(done func(error)) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.shuttingDown {
		lb.serializer.TrySchedule(func(context.Context) { done(errPolicyClosed) })
		return
	}
	if lb.child != nil {
		lb.child.policy.Ping(func(err error) {
			lb.serializer.TrySchedule(func(context.Context) { done(err) })
		})
		return
	}
	lb.pendingPings.enqueue(done)
	if !lb.startedPicking {
		lb.startPickingLocked()
	}
}

// CancelPick completes the enqueued pick p with an error wrapping reason.
// Picks already forwarded to the child policy are unaffected.
func (lb *lbPolicy) CancelPick(p *balancer.Pick, reason error) {
	lb.mu.Lock()
	removed := lb.pendingPicks.cancelMatching(func(pp *balancer.Pick) bool { return pp == p })
	lb.mu.Unlock()
	lb.completeCancelled(removed, reason)
}

// CancelPicks completes every enqueued pick whose Flags masked by mask equal
// needle.
func (lb *lbPolicy) CancelPicks(mask, needle uint32, reason error) {
	lb.mu.Lock()
	removed := lb.pendingPicks.cancelMatching(func(pp *balancer.Pick) bool {
		return pp.Flags&mask == needle
	})
	lb.mu.Unlock()
	lb.completeCancelled(removed, reason)
}

func (lb *lbPolicy) completeCancelled(picks []*balancer.Pick, reason error) {
	for _, p := range picks {
		p := p
		p.Backend = nil
		lb.serializer.TrySchedule(func(context.Context) {
			p.Done(fmt.Errorf("%w: %w", balancer.ErrPickCancelled, reason))
		})
	}
}

// ExitIdle starts the LB session if it has not been started yet.
func (lb *lbPolicy) ExitIdle() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.shuttingDown {
		return
	}
	if !lb.startedPicking {
		lb.startPickingLocked()
	}
}

// State returns the aggregate connectivity state.
func (lb *lbPolicy) State() (connectivity.State, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.tracker.get()
}

// WatchState registers an edge-triggered watcher on the aggregate state.
func (lb *lbPolicy) WatchState(last connectivity.State, notify func(connectivity.State, error)) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.tracker.watch(last, notify, lb.serializer)
}

// startPickingLocked flips startedPicking and starts the one LB session
// attempt that flip is allowed to start.
func (lb *lbPolicy) startPickingLocked() {
	lb.startedPicking = true
	lb.session.resetBackoffLocked()
	lb.session.startLocked()
}

// Close shuts the policy down. Pending picks complete with no backend and a
// nil error; the in-flight LB call, retry timer and child policy are
// released.
func (lb *lbPolicy) Close() {
	lb.mu.Lock()
	if lb.shuttingDown {
		lb.mu.Unlock()
		return
	}
	lb.shuttingDown = true
	picks := lb.pendingPicks.drain()
	pings := lb.pendingPings.drain()
	if lb.child != nil {
		lb.child.release()
		lb.child = nil
	}
	lb.tracker.set(connectivity.Shutdown, errChannelShutdown, lb.serializer)
	lb.session.shutdownLocked()
	lb.mu.Unlock()

	for pp := picks; pp != nil; pp = pp.next {
		p := pp.pick
		p.Backend = nil
		lb.serializer.TrySchedule(func(context.Context) { p.Done(nil) })
	}
	for pg := pings; pg != nil; pg = pg.next {
		done := pg.done
		lb.serializer.TrySchedule(func(context.Context) { done(nil) })
	}

	lb.lbChannel.Close()
	lb.serializerCancel()
}
