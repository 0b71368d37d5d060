package events

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogEmitter_WritesStructuredEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	e := NewLogEmitter(zap.New(core), 16)

	amount := decimal.NewFromInt(500)
	e.Emit(context.Background(), Event{
		Kind:        WalletTopupApproved,
		Title:       "Wallet Top-up Approved",
		Message:     "credited",
		ReferenceID: "r1",
		UserID:      "u1",
		Username:    "alice",
		Amount:      &amount,
	})
	e.Close()

	deadline := time.Now().Add(2 * time.Second)
	for logs.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, logs.Len())

	entry := logs.All()[0]
	require.Equal(t, "credited", entry.Message)
	fields := entry.ContextMap()
	require.Equal(t, string(WalletTopupApproved), fields["kind"])
	require.Equal(t, "r1", fields["reference_id"])
	require.Equal(t, "500", fields["amount"])
}

func TestLogEmitter_DropsInsteadOfBlocking(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)
	e := &LogEmitter{ch: make(chan Event, 1), log: zap.New(core)}
	// no worker draining; second emit must return immediately
	done := make(chan struct{})
	go func() {
		e.Emit(context.Background(), Event{Kind: OrderApproved})
		e.Emit(context.Background(), Event{Kind: OrderApproved})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
}
