package observability_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/observability"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/plugin"
	"github.com/xraph/redeem/types"
)

type fakeMetric struct {
	mu       sync.Mutex
	count    float64
	observed []float64
}

func (m *fakeMetric) Inc() { m.Add(1) }

func (m *fakeMetric) Add(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count += v
}

func (m *fakeMetric) Observe(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed = append(m.observed, v)
}

type fakeFactory struct {
	metrics map[string]*fakeMetric
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{metrics: make(map[string]*fakeMetric)}
}

func (f *fakeFactory) get(name string) *fakeMetric {
	m, ok := f.metrics[name]
	if !ok {
		m = &fakeMetric{}
		f.metrics[name] = m
	}
	return m
}

func (f *fakeFactory) Counter(name string) observability.Counter {
	return f.get(name)
}

func (f *fakeFactory) Histogram(name string) observability.Histogram {
	return f.get(name)
}

func TestMetricsExtension(t *testing.T) {
	f := newFakeFactory()
	m := observability.NewMetricsExtension(f)
	ctx := context.Background()

	o := &order.Order{
		ID:       id.NewOrderID(),
		Product:  order.ProductSnapshot{Price: types.BRL(1000)},
		Degraded: true,
	}
	_ = m.OnOrderCreated(ctx, o)
	o.ManualApproval = true
	_ = m.OnOrderSettled(ctx, o, "admin")
	_ = m.OnCreditGranted(ctx, "cust_1", o.ID, types.BRL(1000))
	_ = m.OnActivationSucceeded(ctx, o, 1500*time.Millisecond)
	_ = m.OnReconcileCycle(ctx, plugin.CycleStats{Errors: 2, Elapsed: 40 * time.Millisecond})

	tests := []struct {
		name  string
		count float64
	}{
		{"redeem.order.created", 1},
		{"redeem.order.degraded", 1},
		{"redeem.order.settled", 1},
		{"redeem.order.manual_approval", 1},
		{"redeem.credit.granted", 1},
		{"redeem.activation.succeeded", 1},
		{"redeem.reconcile.cycles", 1},
		{"redeem.reconcile.errors", 2},
		{"redeem.order.rejected", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.get(tt.name).count; got != tt.count {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.count)
			}
		})
	}

	if obs := f.get("redeem.activation.latency_ms").observed; len(obs) != 1 || obs[0] != 1500 {
		t.Errorf("activation latency = %v", obs)
	}
	if obs := f.get("redeem.credit.amount_minor").observed; len(obs) != 1 || obs[0] != 1000 {
		t.Errorf("credit amount = %v", obs)
	}
}
