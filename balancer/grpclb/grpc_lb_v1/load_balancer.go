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

// Package grpc_lb_v1 contains the wire types of the grpc.lb.v1 load balancing
// protocol and a client stub for its BalanceLoad streaming method.
//
// The messages are encoded with the low-level protowire package rather than
// generated code; the schema is small and frozen. Client load reporting
// (the client_stats branch of LoadBalanceRequest) is not supported.
package grpc_lb_v1

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// LoadBalanceRequest is the client -> balancer message. Exactly one is sent,
// first on the stream, carrying the initial request.
type LoadBalanceRequest struct {
	InitialRequest *InitialLoadBalanceRequest
}

// InitialLoadBalanceRequest names the target service load should be balanced
// for.
type InitialLoadBalanceRequest struct {
	// Name is the target's server name, e.g. "lb.test.google.com".
	Name string
}

// LoadBalanceResponse is one balancer -> client message. Exactly one of the
// fields is set.
type LoadBalanceResponse struct {
	InitialResponse *InitialLoadBalanceResponse
	ServerList      *ServerList
}

// InitialLoadBalanceResponse is the first message on a healthy stream.
type InitialLoadBalanceResponse struct {
	// LoadBalancerDelegate, when non-empty, redirects the client to a
	// different balancer.
	LoadBalancerDelegate string
	// ClientStatsReportInterval is the interval at which the balancer wants
	// client load reports. Zero when the balancer wants none.
	ClientStatsReportInterval time.Duration
}

// ServerList is a snapshot of the backends the client should use, in the
// order the balancer wants them used.
type ServerList struct {
	Servers []*Server
}

// Server is a single backend entry of a ServerList.
type Server struct {
	// IPAddress is the backend address in network byte order. 4 bytes for
	// IPv4, 16 for IPv6.
	IPAddress []byte
	// Port is the backend's port number.
	Port int32
	// LoadBalanceToken is an opaque token the client echoes back in the
	// initial metadata of calls routed at this backend.
	LoadBalanceToken string
	// Drop marks the entry as an instruction to drop a call picked onto it
	// rather than send it anywhere. It is only encoded and decoded here; the
	// grpclb policy does not act on it.
	Drop bool
}

// Equal reports whether sl and other carry the same sequence of
// (address, port, token) tuples. A nil list only equals another nil list.
func (sl *ServerList) Equal(other *ServerList) bool {
	if sl == nil || other == nil {
		return sl == other
	}
	if len(sl.Servers) != len(other.Servers) {
		return false
	}
	for i, s := range sl.Servers {
		o := other.Servers[i]
		if s.Port != o.Port || s.LoadBalanceToken != o.LoadBalanceToken {
			return false
		}
		if string(s.IPAddress) != string(o.IPAddress) {
			return false
		}
	}
	return true
}

func (s *Server) String() string {
	return fmt.Sprintf("{ip:%x port:%d token:%q drop:%v}", s.IPAddress, s.Port, s.LoadBalanceToken, s.Drop)
}

func (m *LoadBalanceRequest) marshal(b []byte) []byte {
	if m.InitialRequest != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.InitialRequest.marshal(nil))
	}
	return b
}

func (m *InitialLoadBalanceRequest) marshal(b []byte) []byte {
	if m.Name != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Name)
	}
	return b
}

func (m *LoadBalanceResponse) marshal(b []byte) []byte {
	if m.InitialResponse != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.InitialResponse.marshal(nil))
	}
	if m.ServerList != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.ServerList.marshal(nil))
	}
	return b
}

func (m *InitialLoadBalanceResponse) marshal(b []byte) []byte {
	if m.LoadBalancerDelegate != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.LoadBalancerDelegate)
	}
	if m.ClientStatsReportInterval != 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalDuration(nil, m.ClientStatsReportInterval))
	}
	return b
}

func (sl *ServerList) marshal(b []byte) []byte {
	for _, s := range sl.Servers {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, s.marshal(nil))
	}
	return b
}

func (s *Server) marshal(b []byte) []byte {
	if len(s.IPAddress) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, s.IPAddress)
	}
	if s.Port != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(s.Port)))
	}
	if s.LoadBalanceToken != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, s.LoadBalanceToken)
	}
	if s.Drop {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

// marshalDuration encodes d as a google.protobuf.Duration message.
func marshalDuration(b []byte, d time.Duration) []byte {
	secs := d / time.Second
	nanos := d - secs*time.Second
	if secs != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(secs))
	}
	if nanos != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(nanos))
	}
	return b
}

func (m *LoadBalanceRequest) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			m.InitialRequest = new(InitialLoadBalanceRequest)
			if err := m.InitialRequest.unmarshal(v); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (m *InitialLoadBalanceRequest) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			m.Name = string(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (m *LoadBalanceResponse) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			m.InitialResponse = new(InitialLoadBalanceResponse)
			if err := m.InitialResponse.unmarshal(v); err != nil {
				return err
			}
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			m.ServerList = new(ServerList)
			if err := m.ServerList.unmarshal(v); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (m *InitialLoadBalanceResponse) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			m.LoadBalancerDelegate = string(v)
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			d, err := unmarshalDuration(v)
			if err != nil {
				return err
			}
			m.ClientStatsReportInterval = d
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (sl *ServerList) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			s := new(Server)
			if err := s.unmarshal(v); err != nil {
				return err
			}
			sl.Servers = append(sl.Servers, s)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (s *Server) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			s.IPAddress = append([]byte(nil), v...)
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			s.Port = int32(v)
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			s.LoadBalanceToken = string(v)
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			s.Drop = v != 0
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func unmarshalDuration(b []byte) (time.Duration, error) {
	var secs, nanos uint64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			b = b[n:]
			secs = v
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			b = b[n:]
			nanos = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return time.Duration(secs)*time.Second + time.Duration(nanos), nil
}
