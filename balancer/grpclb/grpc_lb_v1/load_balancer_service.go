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

package grpc_lb_v1

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// BalanceLoadMethod is the full method name of the BalanceLoad streaming
// method.
const BalanceLoadMethod = "/grpc.lb.v1.LoadBalancer/BalanceLoad"

// Codec marshals the grpc.lb.v1 messages. It reports the standard "proto"
// name so the content-subtype on the wire stays "application/grpc+proto",
// which is what LB services expect. It must not be registered globally; pass
// it with grpc.ForceCodec / grpc.ForceServerCodec.
type Codec struct{}

type lbMessage interface {
	marshal(b []byte) []byte
	unmarshal(b []byte) error
}

// Marshal implements the grpc encoding.Codec interface.
func (Codec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(lbMessage)
	if !ok {
		return nil, fmt.Errorf("grpc_lb_v1: cannot marshal %T", v)
	}
	return msg.marshal(nil), nil
}

// Unmarshal implements the grpc encoding.Codec interface.
func (Codec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(lbMessage)
	if !ok {
		return fmt.Errorf("grpc_lb_v1: cannot unmarshal into %T", v)
	}
	return msg.unmarshal(data)
}

// Name implements the grpc encoding.Codec interface.
func (Codec) Name() string { return "proto" }

var balanceLoadStreamDesc = grpc.StreamDesc{
	StreamName:    "BalanceLoad",
	ServerStreams: true,
	ClientStreams: true,
}

// LoadBalancerClient is the client API of the grpc.lb.v1.LoadBalancer
// service.
type LoadBalancerClient interface {
	// BalanceLoad opens the bidirectional stream over which the client sends
	// its initial request and the balancer sends server lists.
	BalanceLoad(ctx context.Context, opts ...grpc.CallOption) (LoadBalancer_BalanceLoadClient, error)
}

// LoadBalancer_BalanceLoadClient is the client end of a BalanceLoad stream.
type LoadBalancer_BalanceLoadClient interface {
	Send(*LoadBalanceRequest) error
	Recv() (*LoadBalanceResponse, error)
	grpc.ClientStream
}

type loadBalancerClient struct {
	cc grpc.ClientConnInterface
}

// NewLoadBalancerClient returns a LoadBalancerClient issuing calls on cc.
func NewLoadBalancerClient(cc grpc.ClientConnInterface) LoadBalancerClient {
	return &loadBalancerClient{cc: cc}
}

func (c *loadBalancerClient) BalanceLoad(ctx context.Context, opts ...grpc.CallOption) (LoadBalancer_BalanceLoadClient, error) {
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	stream, err := c.cc.NewStream(ctx, &balanceLoadStreamDesc, BalanceLoadMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &loadBalancerBalanceLoadClient{ClientStream: stream}, nil
}

type loadBalancerBalanceLoadClient struct {
	grpc.ClientStream
}

func (x *loadBalancerBalanceLoadClient) Send(m *LoadBalanceRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *loadBalancerBalanceLoadClient) Recv() (*LoadBalanceResponse, error) {
	m := new(LoadBalanceResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadBalancerServer is the server API of the grpc.lb.v1.LoadBalancer
// service. Servers built with it must install Codec via
// grpc.ForceServerCodec.
type LoadBalancerServer interface {
	BalanceLoad(LoadBalancer_BalanceLoadServer) error
}

// LoadBalancer_BalanceLoadServer is the server end of a BalanceLoad stream.
type LoadBalancer_BalanceLoadServer interface {
	Send(*LoadBalanceResponse) error
	Recv() (*LoadBalanceRequest, error)
	grpc.ServerStream
}

type loadBalancerBalanceLoadServer struct {
	grpc.ServerStream
}

func (x *loadBalancerBalanceLoadServer) Send(m *LoadBalanceResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *loadBalancerBalanceLoadServer) Recv() (*LoadBalanceRequest, error) {
	m := new(LoadBalanceRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func balanceLoadHandler(srv any, stream grpc.ServerStream) error {
	return srv.(LoadBalancerServer).BalanceLoad(&loadBalancerBalanceLoadServer{ServerStream: stream})
}

// ServiceDesc is the grpc.ServiceDesc of the LoadBalancer service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "grpc.lb.v1.LoadBalancer",
	HandlerType: (*LoadBalancerServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "BalanceLoad",
			Handler:       balanceLoadHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

// RegisterLoadBalancerServer registers srv on s.
func RegisterLoadBalancerServer(s grpc.ServiceRegistrar, srv LoadBalancerServer) {
	s.RegisterService(&ServiceDesc, srv)
}
