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
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/resolver"
	"google.golang.org/grpc/test/bufconn"

	"github.com/zjilvufe/grpc/balancer"

	lbpb "github.com/zjilvufe/grpc/balancer/grpclb/grpc_lb_v1"
)

// e2eLBService is a real grpc.lb.v1.LoadBalancer service driven by the test.
type e2eLBService struct {
	reqCh  chan *lbpb.LoadBalanceRequest
	sendCh chan *lbpb.LoadBalanceResponse
}

func (s *e2eLBService) BalanceLoad(stream lbpb.LoadBalancer_BalanceLoadServer) error {
	req, err := stream.Recv()
	if err != nil {
		return err
	}
	s.reqCh <- req
	for {
		select {
		case resp := <-s.sendCh:
			if err := stream.Send(resp); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// TestBalanceLoadOverWire runs the policy against a real gRPC server hosting
// the LB service over an in-memory connection, covering the stream stubs and
// the wire codec end to end.
func TestBalanceLoadOverWire(t *testing.T) {
	ctx := testContext(t)

	lis := bufconn.Listen(1 << 20)
	svc := &e2eLBService{
		reqCh:  make(chan *lbpb.LoadBalanceRequest, 1),
		sendCh: make(chan *lbpb.LoadBalanceResponse, 1),
	}
	srv := grpc.NewServer(grpc.ForceServerCodec(lbpb.Codec{}))
	lbpb.RegisterLoadBalancerServer(srv, svc)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	children := &stubChildBuilder{name: "testbalanceloadoverwire_rr", initialState: connectivity.Ready}
	balancer.Register(children)

	p := NewBuilder(Options{ChildPolicy: children.name}).Build(balancer.BuildOptions{
		Target:    testTarget,
		Addresses: []resolver.Address{balancer.SetBalancerAddress(resolver.Address{Addr: "bufnet"})},
		ChannelFactory: func(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
			opts = append(opts, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}))
			return grpc.NewClient(target, opts...)
		},
		DialOptions: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	})
	if p == nil {
		t.Fatal("Build() returned no policy")
	}
	t.Cleanup(p.Close)

	tp := newTestPick(0)
	if completed, err := p.Pick(tp.pick); err != nil || completed {
		t.Fatalf("Pick() = (%v, %v), want deferred", completed, err)
	}

	select {
	case req := <-svc.reqCh:
		if req.InitialRequest == nil || req.InitialRequest.Name != testTarget {
			t.Fatalf("initial request = %+v, want name %q", req, testTarget)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the initial request on the wire")
	}

	svc.sendCh <- &lbpb.LoadBalanceResponse{
		ServerList: &lbpb.ServerList{Servers: []*lbpb.Server{
			{IPAddress: []byte{127, 0, 0, 1}, Port: 9999, LoadBalanceToken: "tok-e2e"},
		}},
	}

	if err := tp.wait(ctx, t); err != nil {
		t.Fatalf("pick completed with error %v", err)
	}
	if tp.pick.Backend == nil || tp.pick.Backend.Addr != "127.0.0.1:9999" {
		t.Fatalf("pick backend = %v, want 127.0.0.1:9999", tp.pick.Backend)
	}
	if got := tp.pick.Metadata.Get("lb-token"); len(got) != 1 || got[0] != "tok-e2e" {
		t.Fatalf("lb-token = %v, want [tok-e2e]", got)
	}
}
