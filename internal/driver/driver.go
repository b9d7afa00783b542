// Package driver defines the narrow interface between the execution engine
// and whatever fills external forms: a local simulator, or the remote
// worker pool.
package driver

import (
	"context"

	"github.com/raisekit/outreach-orchestrator/internal/domain"
)

// Driver performs one submission attempt against a candidate form location
type Driver interface {
	Submit(ctx context.Context, payload domain.Payload, formURL string) (*domain.Outcome, error)
}

// Func adapts a function to the Driver interface
type Func func(ctx context.Context, payload domain.Payload, formURL string) (*domain.Outcome, error)

// Submit implements Driver
func (f Func) Submit(ctx context.Context, payload domain.Payload, formURL string) (*domain.Outcome, error) {
	return f(ctx, payload, formURL)
}
