package session_test

import (
	"testing"
	"time"

	"github.com/xraph/redeem/id"
	"github.com/xraph/redeem/session"
	"github.com/xraph/redeem/types"
)

func TestSilenceLease(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := session.New("c1", now)

	if s.IsSilenced(now) || s.LeaseExpired(now) {
		t.Fatal("fresh session is not silenced")
	}

	s.EnterSilence(now.Add(10 * time.Minute))

	tests := []struct {
		name     string
		at       time.Time
		silenced bool
		expired  bool
	}{
		{"at entry", now, true, false},
		{"just before deadline", now.Add(10*time.Minute - time.Nanosecond), true, false},
		{"at deadline", now.Add(10 * time.Minute), false, true},
		{"after deadline", now.Add(time.Hour), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.IsSilenced(tt.at); got != tt.silenced {
				t.Errorf("IsSilenced = %v, want %v", got, tt.silenced)
			}
			if got := s.LeaseExpired(tt.at); got != tt.expired {
				t.Errorf("LeaseExpired = %v, want %v", got, tt.expired)
			}
		})
	}

	s.ExitSilence(session.StateCreditMenu)
	if s.IsSilenced(now) {
		t.Error("session still silenced after exit")
	}
	if !s.SilenceUntil.IsZero() {
		t.Error("exit should clear the deadline")
	}
	if s.State != session.StateCreditMenu {
		t.Errorf("state = %s, want credit_menu", s.State)
	}
}

func TestReset(t *testing.T) {
	s := session.New("c1", time.Now())
	s.State = session.StateCreditMenu
	s.CurrentOrderID = id.NewOrderID()
	s.CreditOrderID = id.NewOrderID()
	s.AvailableCredit = types.BRL(1000)
	s.SetExtra(session.ExtraSelectedProduct, "prod_x")

	s.Reset()

	if s.State != session.StateNone {
		t.Errorf("state = %q", s.State)
	}
	if !s.CurrentOrderID.IsNil() || !s.CreditOrderID.IsNil() {
		t.Error("order pointers not cleared")
	}
	if s.HasCredit() {
		t.Error("credit not cleared")
	}
	if len(s.Extra) != 0 {
		t.Error("extra not cleared")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := session.New("c1", time.Now())
	s.SetExtra("k", "v")

	c := s.Clone()
	c.Extra["k"] = "changed"

	if s.Extra["k"] != "v" {
		t.Error("clone shares extra map")
	}
}

func TestSetExtraOnNilMap(t *testing.T) {
	s := &session.Session{}
	s.SetExtra("k", "v")
	if s.Extra["k"] != "v" {
		t.Error("SetExtra should allocate the map")
	}
	s.ClearSelection()
}
