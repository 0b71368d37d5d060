package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the canonical request lifecycle. PENDING_REVIEW is the only
// non-terminal value; no transition is permitted out of a terminal status.
type Status string

const (
	StatusPendingReview    Status = "PENDING_REVIEW"
	StatusApprovedExecuted Status = "APPROVED_EXECUTED"
	StatusApprovedFailed   Status = "APPROVED_FAILED"
	StatusRejected         Status = "REJECTED"
)

// Legacy rows carry several spellings of "waiting for review"; they are
// normalized on read and never written back.
var legacyPendingStatuses = map[string]struct{}{
	"pending":                {},
	"pending_review":         {},
	"initiated":              {},
	"awaiting_payment_proof": {},
}

// ParseStatus maps a raw stored status to the canonical set.
func ParseStatus(raw string) Status {
	if _, ok := legacyPendingStatuses[strings.ToLower(raw)]; ok {
		return StatusPendingReview
	}
	switch Status(raw) {
	case StatusPendingReview, StatusApprovedExecuted, StatusApprovedFailed, StatusRejected:
		return Status(raw)
	}
	return Status(raw)
}

// PendingSynonyms returns every stored spelling that counts as pending,
// for conditional writes that must still match legacy rows.
func PendingSynonyms() []string {
	out := []string{string(StatusPendingReview)}
	for s := range legacyPendingStatuses {
		out = append(out, s)
	}
	return out
}

func (s Status) Terminal() bool {
	switch s {
	case StatusApprovedExecuted, StatusApprovedFailed, StatusRejected:
		return true
	}
	return false
}

// RequestKind selects the execution strategy applied on approval.
type RequestKind string

const (
	KindWalletTopup RequestKind = "wallet_topup"
	KindGameLoad    RequestKind = "game_load"
	KindWithdrawal  RequestKind = "withdrawal"
	KindWalletLoad  RequestKind = "wallet_load"
)

// ParseKind normalizes the stored order kind; "deposit" is the legacy
// spelling of a wallet top-up.
func ParseKind(raw string) RequestKind {
	if strings.EqualFold(raw, "deposit") || raw == "" {
		return KindWalletTopup
	}
	return RequestKind(strings.ToLower(raw))
}

// Request is a unit of reviewer work: an order or a wallet load request
// awaiting an approve/reject decision.
type Request struct {
	ID            string          `json:"request_id"`
	UserID        string          `json:"user_id"`
	Kind          RequestKind     `json:"kind"`
	Status        Status          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	BonusAmount   decimal.Decimal `json:"bonus_amount"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	GameName      string          `json:"game_name,omitempty"`

	ExecutionAttempts int        `json:"execution_attempts"`
	CreatedAt         time.Time  `json:"created_at"`
	ApprovedBy        string     `json:"approved_by,omitempty"`
	ApprovedByKind    string     `json:"approved_by_kind,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	ExecutedAt        *time.Time `json:"executed_at,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`

	AmountAdjusted bool             `json:"amount_adjusted"`
	OriginalAmount *decimal.Decimal `json:"original_amount,omitempty"`
	AdjustedBy     string           `json:"adjusted_by,omitempty"`
	AdjustedAt     *time.Time       `json:"adjusted_at,omitempty"`

	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`
	ExecutionError  string           `json:"execution_error,omitempty"`
}

// User holds the mutable balance plus counters that change only as a side
// effect of a committed credit or debit, never independently.
type User struct {
	ID             string          `json:"user_id"`
	Username       string          `json:"username"`
	DisplayName    string          `json:"display_name,omitempty"`
	RealBalance    decimal.Decimal `json:"real_balance"`
	BonusBalance   decimal.Decimal `json:"bonus_balance"`
	DepositCount   int64           `json:"deposit_count"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
}

// Game is a load target resolvable by name or id.
type Game struct {
	ID          string `json:"game_id"`
	Name        string `json:"game_name"`
	DisplayName string `json:"display_name,omitempty"`
	Active      bool   `json:"is_active"`
}

// Bot is an automated reviewer principal. Capability flags gate which
// request flows it may decide.
type Bot struct {
	ID                    string `json:"bot_id"`
	Name                  string `json:"bot_name,omitempty"`
	Active                bool   `json:"is_active"`
	CanApprovePayments    bool   `json:"can_approve_payments"`
	CanApproveWalletLoads bool   `json:"can_approve_wallet_loads"`
}

// LedgerDirection is the sign of a ledger entry.
type LedgerDirection string

const (
	DirectionCredit LedgerDirection = "credit"
	DirectionDebit  LedgerDirection = "debit"
)

// LedgerEntry is an immutable audit record of one balance change.
// BalanceAfter = BalanceBefore +/- Amount, captured under the same row
// lock as the balance write it accounts for.
type LedgerEntry struct {
	ID            string          `json:"ledger_id"`
	UserID        string          `json:"user_id"`
	Direction     LedgerDirection `json:"direction"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	ReferenceKind string          `json:"reference_kind"`
	ReferenceID   string          `json:"reference_id"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}

// GameCredentials are the opaque session handles issued on a game load.
type GameCredentials struct {
	SessionID string    `json:"session_id"`
	GameToken string    `json:"game_token"`
	LoadedAt  time.Time `json:"loaded_at"`
}

// GameLoad records one executed game load.
type GameLoad struct {
	ID            string           `json:"load_id"`
	UserID        string           `json:"user_id"`
	GameID        string           `json:"game_id"`
	GameName      string           `json:"game_name"`
	Amount        decimal.Decimal  `json:"amount"`
	BalanceBefore decimal.Decimal  `json:"wallet_balance_before"`
	BalanceAfter  decimal.Decimal  `json:"wallet_balance_after"`
	Credentials   *GameCredentials `json:"game_credentials,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ExecutionResult is the serialized outcome of one strategy run; it is
// persisted verbatim on the request row.
type ExecutionResult struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	FailureCode string `json:"failure_code,omitempty"`

	AmountApplied    decimal.Decimal  `json:"amount_applied"`
	BalanceRemaining *decimal.Decimal `json:"balance_remaining,omitempty"`
	LedgerEntryID    string           `json:"ledger_entry_id,omitempty"`
	ExecutedAt       time.Time        `json:"executed_at"`

	// game load only
	LoadID          string           `json:"load_id,omitempty"`
	GameName        string           `json:"game_name,omitempty"`
	GameDisplayName string           `json:"game_display_name,omitempty"`
	Credentials     *GameCredentials `json:"game_credentials,omitempty"`

	// withdrawal only
	PayoutRef   string `json:"payout_ref,omitempty"`
	PayoutError string `json:"payout_error,omitempty"`
}

// Outcome codes returned by the decision engine.
const (
	CodeOK                  = "ok"
	CodeRejected            = "rejected"
	CodeUnauthorized        = "unauthorized"
	CodeNotFound            = "not_found"
	CodeAlreadyProcessed    = "already_processed"
	CodeInsufficientBalance = "insufficient_balance"
	CodeGameNotFound        = "game_not_found"
	CodeExecutionFailed     = "execution_failed"
)

// Outcome is the caller-visible result of a decision. Success is false for
// every non-applied decision, including idempotent replays.
type Outcome struct {
	Success bool           `json:"success"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}
