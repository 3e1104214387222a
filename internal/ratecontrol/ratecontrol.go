// Package ratecontrol bounds the request rate against each external research
// provider. Long-poll adapters go through the same limiter for submissions
// and status polls.
package ratecontrol

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Default requests-per-minute budget applied to providers without an
// explicit override.
const defaultRPM = 60

// Controller hands out one rate limiter per provider.
type Controller struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	overrides map[string]int
}

// NewController creates a controller with optional per-provider RPM
// overrides.
func NewController(overrides map[string]int) *Controller {
	return &Controller{
		limiters:  make(map[string]*rate.Limiter),
		overrides: overrides,
	}
}

// Wait blocks until the provider's limiter permits another request, or the
// context is done.
func (c *Controller) Wait(ctx context.Context, provider string) error {
	return c.limiter(provider).Wait(ctx)
}

func (c *Controller) limiter(provider string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.limiters[provider]; ok {
		return l
	}
	rpm := defaultRPM
	if v, ok := c.overrides[provider]; ok && v > 0 {
		rpm = v
	}
	l := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	c.limiters[provider] = l
	return l
}
