package messaging_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/xraph/redeem/messaging"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := messaging.NewMemory()

	_ = m.SendMessage(ctx, "c1", "hello")
	_ = m.SendMessage(ctx, "c2", "other")
	_ = m.SendMessage(ctx, "c1", "again")

	got := m.Messages("c1")
	if len(got) != 2 || got[0].Text != "hello" || got[1].Text != "again" {
		t.Errorf("c1 messages = %+v", got)
	}
	if len(m.Messages("")) != 3 {
		t.Error("empty id should return all messages")
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	ch := messaging.NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	if err := ch.SendMessage(context.Background(), "c1", "paid"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "customer_id=c1") {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	if err := messaging.Discard.SendMessage(context.Background(), "c1", "x"); err != nil {
		t.Error(err)
	}
}
