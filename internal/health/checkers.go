// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
)

// Pinger is implemented by backends that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker pings the configuration store.
type StoreChecker struct {
	name   string
	pinger Pinger
}

// NewStoreChecker returns a checker for p. A nil pinger reports healthy,
// since not every backend supports pinging.
func NewStoreChecker(name string, p Pinger) *StoreChecker {
	return &StoreChecker{name: name, pinger: p}
}

func (c *StoreChecker) Name() string { return c.name }

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	if c.pinger == nil {
		return CheckResult{Status: StatusHealthy, Message: "ping not supported"}
	}
	if err := c.pinger.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}

// RelayChecker reports whether the watch has announced itself. Until the
// first ready event the relay still serves requests, so it is only degraded.
type RelayChecker struct {
	state func() string
}

// NewRelayChecker builds a checker around a state getter such as
// func() string { return r.State().String() }.
func NewRelayChecker(state func() string) *RelayChecker {
	return &RelayChecker{state: state}
}

func (c *RelayChecker) Name() string { return "relay" }

func (c *RelayChecker) Check(context.Context) CheckResult {
	state := c.state()
	if state == "loaded" {
		return CheckResult{Status: StatusHealthy, Message: state}
	}
	return CheckResult{Status: StatusDegraded, Message: state}
}
