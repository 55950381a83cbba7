package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Gateway for development and tests. Charges start
// pending; tests move them with SetStatus.
type Fake struct {
	mu       sync.Mutex
	seq      int
	statuses map[string]ChargeStatus
	failNext error
	delay    time.Duration

	createCalls int
	statusCalls int
}

// NewFake returns an empty fake gateway.
func NewFake() *Fake {
	return &Fake{statuses: make(map[string]ChargeStatus)}
}

// CreateCharge implements Gateway.
func (f *Fake) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	if err := f.takeFailure(); err != nil {
		return nil, err
	}

	f.seq++
	ref := fmt.Sprintf("ch_%06d", f.seq)
	f.statuses[ref] = StatusPending
	return &Charge{
		Reference: ref,
		PayCode:   fmt.Sprintf("PAY-%s-%s", ref, req.Amount.FormatMajor()),
	}, nil
}

// GetChargeStatus implements Gateway.
func (f *Fake) GetChargeStatus(ctx context.Context, chargeRef string) (ChargeStatus, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.statusCalls++
	if err := f.takeFailure(); err != nil {
		return "", err
	}

	s, ok := f.statuses[chargeRef]
	if !ok {
		return "", ErrUnknownCharge
	}
	return s, nil
}

// SetStatus moves a charge to status, creating it if needed.
func (f *Fake) SetStatus(chargeRef string, status ChargeStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[chargeRef] = status
}

// FailNext makes the next call return err.
func (f *Fake) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

// SetDelay makes every call block for d or until its context ends.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Calls returns how many create and status calls were made.
func (f *Fake) Calls() (create, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.statusCalls
}

func (f *Fake) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *Fake) wait(ctx context.Context) error {
	f.mu.Lock()
	d := f.delay
	f.mu.Unlock()

	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
