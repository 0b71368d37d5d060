package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kmendoza-dev/approvalcore/internal/domain"
)

// creditStrategy credits the wallet for top-ups and wallet load requests.
// It only fails when the persistence layer does.
type creditStrategy struct {
	now func() time.Time
}

func (s *creditStrategy) Execute(ctx context.Context, req *domain.Request, user *domain.User, amount decimal.Decimal, exec Executors) (*domain.ExecutionResult, error) {
	before, after, err := exec.Balances.Apply(ctx, user.ID, amount, CounterUpdate{
		Deposit: true,
		Bonus:   req.BonusAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("wallet credit failed: %w", err)
	}

	method := req.PaymentMethod
	if method == "" {
		method = "N/A"
	}
	refKind := "order"
	desc := fmt.Sprintf("Wallet top-up via %s", method)
	if req.Kind == domain.KindWalletLoad {
		refKind = "wallet_load"
		desc = fmt.Sprintf("Wallet load via %s", method)
	}

	entry := &domain.LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		Direction:     domain.DirectionCredit,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceKind: refKind,
		ReferenceID:   req.ID,
		Description:   desc,
	}
	if err := exec.Ledger.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("ledger append failed: %w", err)
	}

	return &domain.ExecutionResult{
		Success:          true,
		AmountApplied:    amount,
		BalanceRemaining: &after,
		LedgerEntryID:    entry.ID,
		ExecutedAt:       s.now(),
	}, nil
}
