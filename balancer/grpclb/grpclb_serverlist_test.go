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

	lbpb "github.com/zjilvufe/grpc/balancer/grpclb/grpc_lb_v1"
)

func TestProcessServerList(t *testing.T) {
	sl := &lbpb.ServerList{Servers: []*lbpb.Server{
		{IPAddress: []byte{10, 0, 0, 1}, Port: 80, LoadBalanceToken: "tok-a"},
		{IPAddress: []byte{10, 0, 0, 2}, Port: 1 << 16, LoadBalanceToken: "bad-port"},
		{IPAddress: []byte{10, 0, 0, 3, 0}, Port: 80, LoadBalanceToken: "bad-ip"},
		{IPAddress: []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}, Port: 443, LoadBalanceToken: "tok-v6"},
		{IPAddress: []byte{10, 0, 0, 4}, Port: 80},
	}}

	addrs := processServerList(sl, nil)

	var got [][2]string
	for _, a := range addrs {
		token, ok := lbToken(a)
		if !ok {
			t.Fatalf("address %q carries no token attribute", a.Addr)
		}
		got = append(got, [2]string{a.Addr, token})
	}
	want := [][2]string{
		{"10.0.0.1:80", "tok-a"},
		{"[::1]:443", "tok-v6"},
		{"10.0.0.4:80", ""}, // empty-token sentinel for a tokenless server
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decoded addresses mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessServerListAllInvalid(t *testing.T) {
	sl := &lbpb.ServerList{Servers: []*lbpb.Server{
		{IPAddress: []byte{1, 2, 3}, Port: 80},
		{IPAddress: []byte{10, 0, 0, 1}, Port: 70000},
	}}
	if addrs := processServerList(sl, nil); len(addrs) != 0 {
		t.Fatalf("processServerList() = %v, want empty for all-invalid list", addrs)
	}
}

func TestServerListEqual(t *testing.T) {
	mk := func(tokens ...string) *lbpb.ServerList {
		sl := &lbpb.ServerList{}
		for i, tok := range tokens {
			sl.Servers = append(sl.Servers, &lbpb.Server{
				IPAddress:        []byte{10, 0, 0, byte(i + 1)},
				Port:             80,
				LoadBalanceToken: tok,
			})
		}
		return sl
	}

	tests := []struct {
		name string
		a, b *lbpb.ServerList
		want bool
	}{
		{name: "both nil", a: nil, b: nil, want: true},
		{name: "nil vs empty", a: nil, b: mk(), want: false},
		{name: "equal", a: mk("t1", "t2"), b: mk("t1", "t2"), want: true},
		{name: "different token", a: mk("t1", "t2"), b: mk("t1", "t3"), want: false},
		{name: "different length", a: mk("t1"), b: mk("t1", "t2"), want: false},
		{
			name: "different order",
			a: &lbpb.ServerList{Servers: []*lbpb.Server{
				{IPAddress: []byte{10, 0, 0, 1}, Port: 80, LoadBalanceToken: "t1"},
				{IPAddress: []byte{10, 0, 0, 2}, Port: 80, LoadBalanceToken: "t2"},
			}},
			b: &lbpb.ServerList{Servers: []*lbpb.Server{
				{IPAddress: []byte{10, 0, 0, 2}, Port: 80, LoadBalanceToken: "t2"},
				{IPAddress: []byte{10, 0, 0, 1}, Port: 80, LoadBalanceToken: "t1"},
			}},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}
