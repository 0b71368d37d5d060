package approval

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/kmendoza-dev/approvalcore/internal/domain"
)

// CounterUpdate names the user-row projections that move together with a
// balance delta. They are never written outside a balance mutation.
type CounterUpdate struct {
	Deposit    bool            // deposit_count+1, total_deposited+amount
	Withdrawal bool            // total_withdrawn+amount
	Bonus      decimal.Decimal // added to bonus_balance
}

// BalanceMutator applies a signed delta to a user's held balance inside the
// active transaction. It must lock the user row for the duration, reject
// any delta that would take the balance below zero before writing, and
// return the balance read and the balance written from that single locked
// read-modify-write. On ErrInsufficientBalance the current balance is still
// returned in before and nothing has been written.
type BalanceMutator interface {
	Apply(ctx context.Context, userID string, delta decimal.Decimal, counters CounterUpdate) (before, after decimal.Decimal, err error)
}

// LedgerWriter appends immutable balance-change records. Entries are never
// updated or deleted.
type LedgerWriter interface {
	Append(ctx context.Context, e *domain.LedgerEntry) error
}

// GameRegistry resolves game-load targets by name or id.
type GameRegistry interface {
	Resolve(ctx context.Context, nameOrID string) (*domain.Game, error)
}

// GameLoadRecorder persists an executed game load.
type GameLoadRecorder interface {
	Record(ctx context.Context, gl *domain.GameLoad) error
}

// PayoutReceipt is the external payout gateway's acknowledgement.
type PayoutReceipt struct {
	TransactionRef string
}

// PayoutAdapter hands a committed withdrawal debit to the external payout
// gateway. A non-nil error fails the request without re-crediting: the
// ledger debit stays committed and reversal is an explicit operator action.
type PayoutAdapter interface {
	Payout(ctx context.Context, user *domain.User, amount decimal.Decimal) (*PayoutReceipt, error)
}

// Executors bundles the transaction-scoped collaborators handed to a
// strategy. All persistence members operate on the same open transaction.
type Executors struct {
	Balances BalanceMutator
	Ledger   LedgerWriter
	Games    GameRegistry
	Loads    GameLoadRecorder
	Payouts  PayoutAdapter
}

// Strategy applies one request kind's financial side effect. Business
// rejections (insufficient balance, unknown game) return a failed
// ExecutionResult with a FailureCode and nil error; the transaction then
// commits with no balance writes. A non-nil error means the persistence
// layer itself failed and the whole unit must roll back.
type Strategy interface {
	Execute(ctx context.Context, req *domain.Request, user *domain.User, amount decimal.Decimal, exec Executors) (*domain.ExecutionResult, error)
}
