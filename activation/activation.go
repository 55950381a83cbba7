// Package activation resolves a product's activation module to a Provider
// and invokes it with a bounded timeout.
package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/redeem/id"
)

var (
	// ErrProviderNotFound is returned when no provider serves a module.
	ErrProviderNotFound = errors.New("activation: provider not found")
	// ErrTimeout is returned when a provider does not answer in time. The
	// outcome is unknown, so callers must not treat it as a failure.
	ErrTimeout = errors.New("activation: provider timed out")
)

// Request is what a provider receives for one activation attempt.
type Request struct {
	AttemptID   id.ActivationID
	OrderID     id.OrderID
	CustomerID  string
	ProductID   id.ProductID
	ProductName string
	ModuleID    string
	Payload     string
}

// Result is a provider's answer. Data is shown to the customer on success;
// ErrorMessage on failure.
type Result struct {
	Success      bool
	Data         string
	ErrorMessage string
}

// Provider performs the external automation for a product.
type Provider interface {
	Activate(ctx context.Context, req Request) (*Result, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (*Result, error)

// Activate implements Provider.
func (f ProviderFunc) Activate(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// Invoke calls p with a deadline of timeout. A provider error or panic becomes
// a failed Result; only an expired deadline is reported as ErrTimeout.
func Invoke(ctx context.Context, p Provider, req Request, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("activation: provider panic: %v", r)}
			}
		}()
		res, err := p.Activate(ctx, req)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return &Result{Success: false, ErrorMessage: out.err.Error()}, nil
		}
		if out.res == nil {
			return &Result{Success: false, ErrorMessage: "provider returned no result"}, nil
		}
		return out.res, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}
