package gateway_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/redeem/gateway"
	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/types"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw      string
		want     gateway.ChargeStatus
		approved bool
		final    bool
	}{
		{"approved", gateway.StatusApproved, true, true},
		{"AUTHORIZED", gateway.StatusAuthorized, true, true},
		{"rejected", gateway.StatusRejected, false, true},
		{"cancelled", gateway.StatusCancelled, false, true},
		{"canceled", gateway.StatusCancelled, false, true},
		{"pending", gateway.StatusPending, false, false},
		{"in_process", gateway.ChargeStatus("in_process"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := gateway.ParseStatus(tt.raw)
			if got != tt.want {
				t.Errorf("ParseStatus(%q) = %q, want %q", tt.raw, got, tt.want)
			}
			if got.IsApproved() != tt.approved {
				t.Errorf("IsApproved = %v", got.IsApproved())
			}
			if got.IsFinal() != tt.final {
				t.Errorf("IsFinal = %v", got.IsFinal())
			}
		})
	}
}

func TestVerifier(t *testing.T) {
	v := gateway.NewVerifier("s3cret")
	body := []byte(`{"event_id":"e1","event_type":"payment","charge_reference":"ch_1"}`)
	sig := v.Sign(body)

	tests := []struct {
		name    string
		body    []byte
		sig     string
		wantErr bool
	}{
		{"valid", body, sig, false},
		{"valid with prefix", body, "sha256=" + sig, false},
		{"tampered body", []byte(string(body) + " "), sig, true},
		{"wrong signature", body, strings.Repeat("0", len(sig)), true},
		{"not hex", body, "zz", true},
		{"empty", body, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.body, tt.sig)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Verify err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, gateway.ErrInvalidSignature) {
				t.Errorf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}

	if err := gateway.NewVerifier("").Verify(body, sig); err == nil {
		t.Error("empty secret must reject")
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := gateway.ParseEvent([]byte(`{"event_id":"e1","event_type":"payment.updated","charge_reference":"ch_1"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.ChargeReference != "ch_1" || ev.Type != "payment.updated" {
		t.Errorf("unexpected event %+v", ev)
	}

	for _, body := range []string{`not json`, `{"event_id":"e1"}`} {
		if _, err := gateway.ParseEvent([]byte(body)); !errors.Is(err, gateway.ErrMalformedEvent) {
			t.Errorf("ParseEvent(%q) err = %v", body, err)
		}
	}
}

func TestFakeLifecycle(t *testing.T) {
	ctx := context.Background()
	f := gateway.NewFake()

	ch, err := f.CreateCharge(ctx, gateway.ChargeRequest{OrderID: id.NewOrderID(), Amount: types.BRL(1000)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ch.Reference == "" || ch.PayCode == "" {
		t.Fatalf("incomplete charge %+v", ch)
	}

	st, err := f.GetChargeStatus(ctx, ch.Reference)
	if err != nil || st != gateway.StatusPending {
		t.Fatalf("status = %q, %v", st, err)
	}

	f.SetStatus(ch.Reference, gateway.StatusApproved)
	st, _ = f.GetChargeStatus(ctx, ch.Reference)
	if st != gateway.StatusApproved {
		t.Errorf("status = %q", st)
	}

	if _, err := f.GetChargeStatus(ctx, "ch_missing"); !errors.Is(err, gateway.ErrUnknownCharge) {
		t.Errorf("unknown ref err = %v", err)
	}

	f.FailNext(gateway.ErrUnavailable)
	if _, err := f.GetChargeStatus(ctx, ch.Reference); !errors.Is(err, gateway.ErrUnavailable) {
		t.Errorf("FailNext not honored: %v", err)
	}
	if _, err := f.GetChargeStatus(ctx, ch.Reference); err != nil {
		t.Errorf("failure should apply once: %v", err)
	}

	create, status := f.Calls()
	if create != 1 || status != 5 {
		t.Errorf("calls = %d/%d", create, status)
	}
}

func TestFakeDelayHonorsContext(t *testing.T) {
	f := gateway.NewFake()
	f.SetDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := f.GetChargeStatus(ctx, "ch_1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPlaceholder(t *testing.T) {
	ch := gateway.Placeholder(id.NewOrderID(), types.BRL(1000))
	if ch.Reference != "" {
		t.Error("placeholder must not carry a reference")
	}
	if !strings.HasPrefix(ch.PayCode, "OFFLINE-") || !strings.HasSuffix(ch.PayCode, "10.00") {
		t.Errorf("pay code = %q", ch.PayCode)
	}
}
