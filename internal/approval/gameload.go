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

// gameLoadStrategy resolves the target game, debits the wallet, and records
// the load with freshly issued session credentials.
type gameLoadStrategy struct {
	now func() time.Time
}

func (s *gameLoadStrategy) Execute(ctx context.Context, req *domain.Request, user *domain.User, amount decimal.Decimal, exec Executors) (*domain.ExecutionResult, error) {
	game, err := exec.Games.Resolve(ctx, req.GameName)
	if errors.Is(err, ErrGameNotFound) {
		return &domain.ExecutionResult{
			Success:     false,
			Error:       fmt.Sprintf("game not found: %s", req.GameName),
			FailureCode: domain.CodeGameNotFound,
			GameName:    req.GameName,
			ExecutedAt:  s.now(),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("game lookup failed: %w", err)
	}

	before, after, err := exec.Balances.Apply(ctx, user.ID, amount.Neg(), CounterUpdate{})
	if errors.Is(err, ErrInsufficientBalance) {
		return &domain.ExecutionResult{
			Success:          false,
			Error:            fmt.Sprintf("insufficient balance for game load: have %s, need %s", before, amount),
			FailureCode:      domain.CodeInsufficientBalance,
			AmountApplied:    amount,
			BalanceRemaining: &before,
			GameName:         game.Name,
			ExecutedAt:       s.now(),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("game load debit failed: %w", err)
	}

	loadID := uuid.NewString()
	creds := &domain.GameCredentials{
		SessionID: uuid.NewString()[:8],
		GameToken: fmt.Sprintf("GT-%s", loadID[:8]),
		LoadedAt:  s.now(),
	}
	load := &domain.GameLoad{
		ID:            loadID,
		UserID:        user.ID,
		GameID:        game.ID,
		GameName:      game.Name,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Credentials:   creds,
	}
	if err := exec.Loads.Record(ctx, load); err != nil {
		return nil, fmt.Errorf("game load record failed: %w", err)
	}

	display := game.DisplayName
	if display == "" {
		display = game.Name
	}
	entry := &domain.LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		Direction:     domain.DirectionDebit,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceKind: "game_load",
		ReferenceID:   loadID,
		Description:   fmt.Sprintf("Game load: %s (Order: %s)", display, shortID(req.ID)),
	}
	if err := exec.Ledger.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("ledger append failed: %w", err)
	}

	return &domain.ExecutionResult{
		Success:          true,
		AmountApplied:    amount,
		BalanceRemaining: &after,
		LedgerEntryID:    entry.ID,
		LoadID:           loadID,
		GameName:         game.Name,
		GameDisplayName:  display,
		Credentials:      creds,
		ExecutedAt:       s.now(),
	}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
