package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Kind identifies a notification routed to operators and downstream bots.
type Kind string

const (
	OrderApproved       Kind = "ORDER_APPROVED"
	OrderRejected       Kind = "ORDER_REJECTED"
	OrderAmountAdjusted Kind = "ORDER_AMOUNT_ADJUSTED"
	WalletTopupApproved Kind = "WALLET_TOPUP_APPROVED"
	WalletTopupRejected Kind = "WALLET_TOPUP_REJECTED"
	WithdrawApproved    Kind = "WITHDRAW_APPROVED"
	WithdrawRejected    Kind = "WITHDRAW_REJECTED"
	WithdrawExecuted    Kind = "WITHDRAW_EXECUTED"
	GameLoadSuccess     Kind = "GAME_LOAD_SUCCESS"
	GameLoadFailed      Kind = "GAME_LOAD_FAILED"
	WalletLoadApproved  Kind = "WALLET_LOAD_APPROVED"
	WalletLoadRejected  Kind = "WALLET_LOAD_REJECTED"
)

// Event is one state-transition notification.
type Event struct {
	Kind           Kind
	Title          string
	Message        string
	ReferenceKind  string
	ReferenceID    string
	UserID         string
	Username       string
	DisplayName    string
	Amount         *decimal.Decimal
	Extra          map[string]any
	RequiresAction bool
	EmittedAt      time.Time
}

// Emitter receives events after a transition commits. Emission is
// fire-and-forget: it must never block the caller and its failures are
// never allowed to affect the financial transition.
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// NopEmitter discards everything.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) {}

// LogEmitter writes events to a structured log from a background worker.
// The buffer drops on overflow rather than blocking a decision.
type LogEmitter struct {
	ch  chan Event
	log *zap.Logger
}

func NewLogEmitter(log *zap.Logger, buffer int) *LogEmitter {
	if buffer <= 0 {
		buffer = 256
	}
	e := &LogEmitter{ch: make(chan Event, buffer), log: log}
	go e.run()
	return e
}

func (e *LogEmitter) Emit(_ context.Context, ev Event) {
	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now().UTC()
	}
	select {
	case e.ch <- ev:
	default:
		e.log.Warn("event buffer full, dropping event",
			zap.String("kind", string(ev.Kind)),
			zap.String("reference_id", ev.ReferenceID))
	}
}

// Close stops the worker after draining buffered events.
func (e *LogEmitter) Close() {
	close(e.ch)
}

func (e *LogEmitter) run() {
	for ev := range e.ch {
		fields := []zap.Field{
			zap.String("kind", string(ev.Kind)),
			zap.String("title", ev.Title),
			zap.String("reference_kind", ev.ReferenceKind),
			zap.String("reference_id", ev.ReferenceID),
			zap.String("user_id", ev.UserID),
			zap.Bool("requires_action", ev.RequiresAction),
			zap.Time("emitted_at", ev.EmittedAt),
		}
		if ev.Username != "" {
			fields = append(fields, zap.String("username", ev.Username))
		}
		if ev.Amount != nil {
			fields = append(fields, zap.String("amount", ev.Amount.String()))
		}
		if len(ev.Extra) > 0 {
			fields = append(fields, zap.Any("extra", ev.Extra))
		}
		e.log.Info(ev.Message, fields...)
	}
}
