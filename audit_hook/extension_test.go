package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	audithook "github.com/xraph/redeem/audit_hook"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/order"
	"github.com/xraph/redeem/plugin"
	"github.com/xraph/redeem/types"
)

type sink struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (s *sink) record(_ context.Context, evt *audithook.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *sink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Action)
	}
	return out
}

func testOrder() *order.Order {
	return &order.Order{
		ID:         id.NewOrderID(),
		CustomerID: "cust_1",
		Product: order.ProductSnapshot{
			ProductID:          id.NewProductID(),
			Name:               "Basic 30 days",
			Price:              types.BRL(1000),
			ActivationModuleID: "iptv",
		},
		Status: order.StatusPaid,
	}
}

func TestExtensionRecordsLifecycle(t *testing.T) {
	s := &sink{}
	ext := audithook.New(audithook.RecorderFunc(s.record))
	ctx := context.Background()
	o := testOrder()

	if err := ext.OnOrderSettled(ctx, o, "webhook"); err != nil {
		t.Fatal(err)
	}
	if err := ext.OnCreditGranted(ctx, o.CustomerID, o.ID, types.BRL(1000)); err != nil {
		t.Fatal(err)
	}
	if err := ext.OnActivationFailed(ctx, o, "invalid login"); err != nil {
		t.Fatal(err)
	}

	got := s.actions()
	want := []string{audithook.ActionOrderSettled, audithook.ActionCreditGranted, audithook.ActionActivationFailed}
	if len(got) != len(want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("action[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	settled := s.events[0]
	if settled.ResourceID != o.ID.String() || settled.Metadata["source"] != "webhook" {
		t.Errorf("settled event = %+v", settled)
	}
	if granted := s.events[1]; granted.Metadata["amount"] != types.BRL(1000).String() {
		t.Errorf("granted amount = %v", granted.Metadata["amount"])
	}
	failed := s.events[2]
	if failed.Outcome != audithook.OutcomeFailure || failed.Reason != "invalid login" {
		t.Errorf("failed event = %+v", failed)
	}
}

func TestExtensionActionFilters(t *testing.T) {
	ctx := context.Background()
	o := testOrder()

	t.Run("Enabled", func(t *testing.T) {
		s := &sink{}
		ext := audithook.New(audithook.RecorderFunc(s.record),
			audithook.WithEnabledActions(audithook.ActionLedgerInconsistency),
		)
		_ = ext.OnOrderCreated(ctx, o)
		_ = ext.OnLedgerInconsistency(ctx, "cust_1", "credit mismatch")

		if got := s.actions(); len(got) != 1 || got[0] != audithook.ActionLedgerInconsistency {
			t.Errorf("actions = %v", got)
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		s := &sink{}
		ext := audithook.New(audithook.RecorderFunc(s.record),
			audithook.WithDisabledActions(audithook.ActionReconcileCycle),
		)
		_ = ext.OnReconcileCycle(ctx, plugin.CycleStats{Polled: 3})
		_ = ext.OnWebhookReceived(ctx, "payment.updated", "ch_1")

		if got := s.actions(); len(got) != 1 || got[0] != audithook.ActionWebhookReceived {
			t.Errorf("actions = %v", got)
		}
	})
}

func TestExtensionSwallowsRecorderErrors(t *testing.T) {
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	}))
	if err := ext.OnOrderExpired(context.Background(), testOrder()); err != nil {
		t.Errorf("recorder failure leaked into the engine: %v", err)
	}
}
