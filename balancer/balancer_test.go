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

package balancer

import (
	"testing"

	"google.golang.org/grpc/resolver"
)

type stubBuilder struct {
	name string
}

func (b *stubBuilder) Name() string              { return b.name }
func (b *stubBuilder) Build(BuildOptions) Policy { return nil }

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	b := &stubBuilder{name: "Some-Policy"}
	Register(b)

	if got := Get("some-policy"); got != b {
		t.Fatalf("Get(%q) = %v, want the registered builder", "some-policy", got)
	}
	if got := Get("SOME-POLICY"); got != b {
		t.Fatalf("Get(%q) = %v, want the registered builder", "SOME-POLICY", got)
	}
	if got := Get("unregistered-policy"); got != nil {
		t.Fatalf("Get(unregistered) = %v, want nil", got)
	}
}

func TestBalancerAddressMarker(t *testing.T) {
	backend := resolver.Address{Addr: "10.0.0.1:80"}
	if IsBalancerAddress(backend) {
		t.Fatal("unmarked address reported as a balancer")
	}
	lb := SetBalancerAddress(resolver.Address{Addr: "10.0.0.2:1234"})
	if !IsBalancerAddress(lb) {
		t.Fatal("marked address not reported as a balancer")
	}
	// The marker must not leak onto the original value.
	if IsBalancerAddress(backend) {
		t.Fatal("marking one address affected another")
	}
}
