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
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRequestWireFormat(t *testing.T) {
	req := &LoadBalanceRequest{InitialRequest: &InitialLoadBalanceRequest{Name: "foo.bar"}}
	got, err := Codec{}.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	// Field 1 (initial_request), nested field 1 (name) = "foo.bar".
	want := []byte{
		0x0a, 0x09,
		0x0a, 0x07, 'f', 'o', 'o', '.', 'b', 'a', 'r',
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Marshal() = %x, want %x", got, want)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &LoadBalanceResponse{
		ServerList: &ServerList{Servers: []*Server{
			{IPAddress: []byte{10, 0, 0, 1}, Port: 80, LoadBalanceToken: "tok-a"},
			{IPAddress: []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}, Port: 443, LoadBalanceToken: "tok-b", Drop: true},
			{IPAddress: []byte{10, 0, 0, 2}, Port: 8080},
		}},
	}
	wire, err := Codec{}.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	decoded := new(LoadBalanceResponse)
	if err := (Codec{}).Unmarshal(wire, decoded); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if diff := cmp.Diff(resp, decoded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestInitialResponseReportInterval(t *testing.T) {
	resp := &LoadBalanceResponse{
		InitialResponse: &InitialLoadBalanceResponse{
			ClientStatsReportInterval: 10*time.Second + 500*time.Millisecond,
		},
	}
	wire, err := Codec{}.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	decoded := new(LoadBalanceResponse)
	if err := (Codec{}).Unmarshal(wire, decoded); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if decoded.InitialResponse == nil {
		t.Fatal("initial response missing after round trip")
	}
	if got, want := decoded.InitialResponse.ClientStatsReportInterval, resp.InitialResponse.ClientStatsReportInterval; got != want {
		t.Fatalf("report interval = %v, want %v", got, want)
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	sl := (&ServerList{Servers: []*Server{
		{IPAddress: []byte{10, 0, 0, 1}, Port: 80, LoadBalanceToken: "t1"},
	}}).marshal(nil)
	// Unknown field 2 of ServerList (e.g. the retired expiration_interval).
	sl = protowire.AppendTag(sl, 2, protowire.BytesType)
	sl = protowire.AppendBytes(sl, []byte{0x08, 0x05})
	wire := protowire.AppendTag(nil, 2, protowire.BytesType)
	wire = protowire.AppendBytes(wire, sl)

	decoded := new(LoadBalanceResponse)
	if err := (Codec{}).Unmarshal(wire, decoded); err != nil {
		t.Fatalf("Unmarshal() failed on unknown field: %v", err)
	}
	if decoded.ServerList == nil || len(decoded.ServerList.Servers) != 1 {
		t.Fatalf("decoded = %+v, want one server", decoded)
	}
	if got := decoded.ServerList.Servers[0].LoadBalanceToken; got != "t1" {
		t.Fatalf("token = %q, want t1", got)
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	wire := protowire.AppendTag(nil, 2, protowire.BytesType)
	wire = protowire.AppendVarint(wire, 100) // claims 100 bytes, has none
	if err := (Codec{}).Unmarshal(wire, new(LoadBalanceResponse)); err == nil {
		t.Fatal("Unmarshal() succeeded on truncated input")
	}
}

func TestCodecRejectsForeignTypes(t *testing.T) {
	if _, err := (Codec{}).Marshal("not a message"); err == nil {
		t.Fatal("Marshal() accepted a foreign type")
	}
	if err := (Codec{}).Unmarshal(nil, 42); err == nil {
		t.Fatal("Unmarshal() accepted a foreign type")
	}
}
