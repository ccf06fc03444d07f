// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// PingChecker wraps a Ping function such as a store's or a transport's.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
	// soft components report degraded instead of unhealthy.
	soft bool
}

// NewPingChecker fails readiness when ping fails.
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

// NewSoftPingChecker only degrades readiness when ping fails.
func NewSoftPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping, soft: true}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	if err := c.ping(ctx); err != nil {
		status := StatusUnhealthy
		if c.soft {
			status = StatusDegraded
		}
		return CheckResult{Status: status, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// BreakerChecker degrades while any backend circuit breaker is not closed.
type BreakerChecker struct {
	states func() map[string]string
}

// NewBreakerChecker reads breaker states from fn, keyed by backend target.
func NewBreakerChecker(fn func() map[string]string) *BreakerChecker {
	return &BreakerChecker{states: fn}
}

func (c *BreakerChecker) Name() string { return "backend_breakers" }

func (c *BreakerChecker) Check(ctx context.Context) CheckResult {
	var open []string
	for target, state := range c.states() {
		if state != "closed" {
			open = append(open, fmt.Sprintf("%s=%s", target, state))
		}
	}
	if len(open) == 0 {
		return CheckResult{Status: StatusHealthy}
	}
	sort.Strings(open)
	return CheckResult{Status: StatusDegraded, Message: strings.Join(open, ",")}
}
