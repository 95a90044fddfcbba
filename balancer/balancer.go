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

// Package balancer defines the API for load balancing policies and a
// name-keyed registry for their builders.
//
// A Policy is driven by a client channel: the channel hands it picks and
// pings, observes its aggregate connectivity state, and closes it when the
// channel goes away. Policies may themselves delegate to other policies
// obtained from the registry; the grpclb policy delegates to "round_robin".
package balancer

import (
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/resolver"
)

var m = make(map[string]Builder)

// Register registers the policy builder to the registry. b.Name (lowercased)
// will be used as the name registered with this builder.
//
// NOTE: this function must only be called during initialization time (i.e. in
// an init() function), and is not thread-safe.
func Register(b Builder) {
	m[strings.ToLower(b.Name())] = b
}

// Get returns the builder registered with the given name. The lookup is
// case-insensitive. If no builder is registered with the name, nil will be
// returned.
func Get(name string) Builder {
	if b, ok := m[strings.ToLower(name)]; ok {
		return b
	}
	return nil
}

// ErrPickCancelled is wrapped by the error a cancelled pick completes with.
// Use errors.Is to distinguish cancellations from pick failures.
var ErrPickCancelled = errors.New("pick cancelled")

// A Pick asks a Policy to select a concrete backend for one outgoing RPC.
//
// The caller allocates the Pick, fills in the request fields, and hands it to
// Policy.Pick. The same *Pick value identifies the request to
// Policy.CancelPick for as long as it has not completed.
type Pick struct {
	// Metadata is the RPC's initial metadata. It must be non-nil: the LB
	// token of the chosen backend is appended to it before the pick is
	// reported complete.
	Metadata metadata.MD
	// Flags are the initial-metadata flags the pick was issued with. They
	// are the values matched by Policy.CancelPicks.
	Flags uint32
	// Deadline is the deadline of the RPC this pick is on behalf of.
	Deadline time.Time
	// Done is invoked exactly once when the pick completes asynchronously.
	// It is not invoked for picks Policy.Pick reports as synchronously
	// complete, nor for picks Policy.Pick rejects with an error.
	Done func(error)

	// Backend is the pick's output: the selected backend address, or nil
	// when the pick completed without selecting one. Valid once the pick is
	// complete.
	Backend *resolver.Address
}

// Policy is the interface implemented by load balancing policies.
//
// Unless stated otherwise, methods may be called concurrently and never block
// on network activity. Callbacks handed to a Policy (pick completions, ping
// notifications, state watchers) are always invoked outside the policy's
// internal locks; it is safe to call back into the Policy from them.
type Policy interface {
	// Pick selects a backend for p. If the selection completes synchronously
	// it returns completed=true with p.Backend populated and p.Done unused.
	// Otherwise the policy retains p and later completes it through p.Done.
	//
	// A non-nil error means the pick was rejected outright; p.Done does not
	// run and p must not be reused.
	Pick(p *Pick) (completed bool, err error)

	// Ping asks the policy to ping a live backend connection. done is
	// invoked with the outcome.
	Ping(done func(error))

	// CancelPick cancels the enqueued pick p, if it is still owned by the
	// policy, completing it with an error wrapping reason and a nil Backend.
	// Picks already handed to a downstream policy are not affected.
	CancelPick(p *Pick, reason error)

	// CancelPicks cancels every enqueued pick whose Flags masked by mask
	// equal needle.
	CancelPicks(mask, needle uint32, reason error)

	// ExitIdle asks the policy to leave its idle state and begin connecting.
	ExitIdle()

	// State returns the policy's current aggregate connectivity state along
	// with the error associated with it, if any.
	State() (connectivity.State, error)

	// WatchState registers a one-shot, edge-triggered watcher: notify runs
	// once, as soon as the aggregate state differs from last. Re-register
	// from the notification to keep watching.
	WatchState(last connectivity.State, notify func(connectivity.State, error))

	// Close shuts the policy down. Enqueued picks and pings complete with a
	// nil error and no backend. No callbacks are issued after the existing
	// ones have drained.
	Close()
}

// BuildOptions contains the inputs a Builder needs to assemble a Policy.
// It is the Go shape of the channel-args bundle the channel resolves for
// its LB policy.
type BuildOptions struct {
	// Target is the server name of the service the channel connects to.
	Target string

	// Addresses is the resolver's current address set. Addresses carrying
	// the balancer marker (see SetBalancerAddress) name LB services rather
	// than backends.
	Addresses []resolver.Address

	// ChannelFactory creates any client channel the policy needs, e.g. the
	// grpclb policy's channel to the LB service. A nil factory means
	// grpc.NewClient.
	ChannelFactory func(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error)

	// DialOptions are passed through to ChannelFactory.
	DialOptions []grpc.DialOption
}

// Builder creates a Policy.
type Builder interface {
	// Build returns a new Policy, or nil when opts cannot support one (for
	// example, a policy requiring balancer addresses built without any).
	Build(opts BuildOptions) Policy
	// Name returns the name this builder registers under.
	Name() string
}

type balancerAddrKey struct{}

// SetBalancerAddress returns a copy of addr marked as naming a load
// balancing service instead of a backend.
func SetBalancerAddress(addr resolver.Address) resolver.Address {
	addr.BalancerAttributes = addr.BalancerAttributes.WithValue(balancerAddrKey{}, true)
	return addr
}

// IsBalancerAddress reports whether addr carries the balancer marker.
func IsBalancerAddress(addr resolver.Address) bool {
	marked, _ := addr.BalancerAttributes.Value(balancerAddrKey{}).(bool)
	return marked
}
