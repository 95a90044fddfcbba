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

// Package backoff implements the backoff strategy for clients.
//
// This is kept in internal until the project decides whether or not to allow
// alternative backoff strategies.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy defines the methodology for backing off after a call failure.
type Strategy interface {
	// Backoff returns the amount of time to wait before the next retry given
	// the number of consecutive failures.
	Backoff(retries int) time.Duration
}

// Config defines the parameters for the exponential backoff strategy.
type Config struct {
	// BaseDelay is the amount of time to backoff after the first failure.
	BaseDelay time.Duration
	// Multiplier is the factor with which to multiply backoffs after a
	// failed retry. Should ideally be greater than 1.
	Multiplier float64
	// Jitter is the factor with which backoffs are randomized.
	Jitter float64
	// MaxDelay is the upper bound of backoff delay.
	MaxDelay time.Duration
}

// Exponential implements exponential backoff algorithm as defined in
// https://github.com/grpc/grpc/blob/master/doc/connection-backoff.md.
type Exponential struct {
	// Config contains all options to configure the backoff algorithm.
	Config Config
}

// Backoff returns the amount of time to wait before the next retry given the
// number of retries.
func (bc Exponential) Backoff(retries int) time.Duration {
	if retries == 0 {
		return bc.Config.BaseDelay
	}
	backoff, max := float64(bc.Config.BaseDelay), float64(bc.Config.MaxDelay)
	for backoff < max && retries > 0 {
		backoff *= bc.Config.Multiplier
		retries--
	}
	if backoff >= max {
		// Saturated: return the cap exactly so successive delays never
		// decrease once it is reached.
		return bc.Config.MaxDelay
	}
	// Randomize backoff delays so that if a cluster of requests start at
	// the same time, they won't operate in lockstep. The delay stays within
	// [BaseDelay, MaxDelay] even after jitter.
	backoff *= 1 + bc.Config.Jitter*(rand.Float64()*2-1)
	if backoff > max {
		backoff = max
	}
	if backoff < float64(bc.Config.BaseDelay) {
		backoff = float64(bc.Config.BaseDelay)
	}
	return time.Duration(backoff)
}
