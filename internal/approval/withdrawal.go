package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kmendoza-dev/approvalcore/internal/domain"
)

// withdrawalStrategy debits the wallet, writes the debit ledger entry, then
// hands off to the payout gateway. The deduction is checked before any
// write; a payout failure after the deduction is surfaced as a failed
// execution with the debit left committed, never silently re-credited.
type withdrawalStrategy struct {
	now func() time.Time
}

func (s *withdrawalStrategy) Execute(ctx context.Context, req *domain.Request, user *domain.User, amount decimal.Decimal, exec Executors) (*domain.ExecutionResult, error) {
	before, after, err := exec.Balances.Apply(ctx, user.ID, amount.Neg(), CounterUpdate{Withdrawal: true})
	if errors.Is(err, ErrInsufficientBalance) {
		return &domain.ExecutionResult{
			Success:          false,
			Error:            fmt.Sprintf("insufficient balance for withdrawal: have %s, need %s", before, amount),
			FailureCode:      domain.CodeInsufficientBalance,
			AmountApplied:    amount,
			BalanceRemaining: &before,
			ExecutedAt:       s.now(),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("withdrawal debit failed: %w", err)
	}

	method := req.PaymentMethod
	if method == "" {
		method = "N/A"
	}
	entry := &domain.LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		Direction:     domain.DirectionDebit,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceKind: "withdrawal",
		ReferenceID:   req.ID,
		Description:   fmt.Sprintf("Withdrawal to %s", method),
	}
	if err := exec.Ledger.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("ledger append failed: %w", err)
	}

	receipt, payoutErr := exec.Payouts.Payout(ctx, user, amount)
	if payoutErr != nil {
		// The debit above stays committed; reversal is an operator action.
		return &domain.ExecutionResult{
			Success:          false,
			Error:            fmt.Sprintf("payout failed: %s", payoutErr),
			FailureCode:      domain.CodeExecutionFailed,
			AmountApplied:    amount,
			BalanceRemaining: &after,
			LedgerEntryID:    entry.ID,
			PayoutError:      payoutErr.Error(),
			ExecutedAt:       s.now(),
		}, nil
	}

	return &domain.ExecutionResult{
		Success:          true,
		AmountApplied:    amount,
		BalanceRemaining: &after,
		LedgerEntryID:    entry.ID,
		PayoutRef:        receipt.TransactionRef,
		ExecutedAt:       s.now(),
	}, nil
}

// ManualPayout acknowledges payouts with a generated reference. It stands
// in until a real gateway adapter is configured: operators settle the
// transfer out of band and the reference ties the two together.
type ManualPayout struct{}

func (ManualPayout) Payout(_ context.Context, _ *domain.User, _ decimal.Decimal) (*PayoutReceipt, error) {
	return &PayoutReceipt{TransactionRef: uuid.NewString()}, nil
}
