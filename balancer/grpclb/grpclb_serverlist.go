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
	"net"
	"strconv"

	"google.golang.org/grpc/resolver"

	internalgrpclog "github.com/zjilvufe/grpc/internal/grpclog"

	lbpb "github.com/zjilvufe/grpc/balancer/grpclb/grpc_lb_v1"
)

// lbTokenMetadataKey is the initial-metadata key the LB token is sent under.
const lbTokenMetadataKey = "lb-token"

type lbTokenKey struct{}

// setLBToken attaches the backend's LB token to addr. Every address produced
// by processServerList carries the attribute, with the empty token standing
// in for servers the balancer sent without one.
func setLBToken(addr resolver.Address, token string) resolver.Address {
	addr.BalancerAttributes = addr.BalancerAttributes.WithValue(lbTokenKey{}, token)
	return addr
}

// lbToken returns the token attached to addr and whether one is attached at
// all.
func lbToken(addr resolver.Address) (string, bool) {
	token, ok := addr.BalancerAttributes.Value(lbTokenKey{}).(string)
	return token, ok
}

func isServerValid(s *lbpb.Server, idx int, log bool, logger *internalgrpclog.PrefixLogger) bool {
	if s.Port>>16 != 0 {
		if log {
			logger.Errorf("Invalid port %d at index %d of serverlist. Ignoring.", s.Port, idx)
		}
		return false
	}
	if l := len(s.IPAddress); l != net.IPv4len && l != net.IPv6len {
		if log {
			logger.Errorf("Expected IP to be 4 or 16 bytes, got %d at index %d of serverlist. Ignoring.", l, idx)
		}
		return false
	}
	return true
}

// parseServer renders the server's socket address in host:port form.
func parseServer(s *lbpb.Server) string {
	return net.JoinHostPort(net.IP(s.IPAddress).String(), strconv.Itoa(int(s.Port)))
}

// processServerList converts a decoded server list into resolver addresses
// with per-address LB tokens, dropping entries that fail validation. The
// returned slice is empty iff no entry is valid; callers treat that as "do
// not build a child policy". None of the produced addresses carry the
// balancer marker, so a child built over them cannot select grpclb again.
func processServerList(sl *lbpb.ServerList, logger *internalgrpclog.PrefixLogger) []resolver.Address {
	var addrs []resolver.Address
	for i, s := range sl.Servers {
		if !isServerValid(s, i, true, logger) {
			continue
		}
		addr := resolver.Address{Addr: parseServer(s)}
		if s.LoadBalanceToken == "" {
			logger.Infof("Missing LB token for backend address %q. The empty token will be used instead", addr.Addr)
		}
		addrs = append(addrs, setLBToken(addr, s.LoadBalanceToken))
	}
	return addrs
}
