package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kmendoza-dev/approvalcore/internal/domain"
	"github.com/kmendoza-dev/approvalcore/internal/events"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "approval_decisions_total",
	Help: "Decision outcomes by action and result code",
}, []string{"action", "code"})

// Action is the reviewer's verdict.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Decision is one decide() invocation.
type Decision struct {
	RequestID       string
	Action          Action
	Actor           Actor
	Flow            Flow
	FinalAmount     *decimal.Decimal
	RejectionReason string
}

// TerminalUpdate carries every field written with a terminal status.
type TerminalUpdate struct {
	Status         domain.Status
	ApprovedBy     string
	ApprovedByKind string
	ApprovedAt     time.Time
	ExecutedAt     time.Time
	Amount         decimal.Decimal
	TotalAmount    decimal.Decimal
	AmountAdjusted bool
	OriginalAmount *decimal.Decimal
	AdjustedBy     string
	AdjustedAt     *time.Time
	Result         *domain.ExecutionResult
	ExecutionError string
}

// RejectUpdate carries the fields of a rejection write.
type RejectUpdate struct {
	Reason         string
	RejectedBy     string
	RejectedByKind string
	RejectedAt     time.Time
}

// ApproveFunc runs inside the store's open transaction and returns the
// terminal fields to commit with it. A non-nil error aborts the unit.
type ApproveFunc func(exec Executors) (*TerminalUpdate, error)

// Store is the persistence contract the engine orchestrates against.
//
// Approve must open one atomic unit that (1) claims the request with a
// conditional write matching only the pending status set — two concurrent
// claims on the same id must not both succeed — (2) runs fn with
// transaction-scoped executors, (3) writes fn's terminal fields, and (4)
// commits. claimed=false means the guard matched zero rows and nothing ran.
// A fn error rolls the whole unit back. Reject is the same conditional
// guard as a single terminal write. MarkFailed is the best-effort follow-up
// terminal write issued after an aborted unit; it must also be conditional
// on the pending set.
type Store interface {
	BotDirectory
	GetRequest(ctx context.Context, id string) (*domain.Request, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	Approve(ctx context.Context, requestID string, fn ApproveFunc) (claimed bool, err error)
	Reject(ctx context.Context, requestID string, upd RejectUpdate) (claimed bool, err error)
	MarkFailed(ctx context.Context, requestID string, upd TerminalUpdate) error
}

// Engine is the approval state machine: it validates the actor, guards
// idempotency, dispatches the kind's execution strategy inside the store's
// atomic unit, and emits events strictly after commit.
type Engine struct {
	store      Store
	auth       *Authorizer
	strategies map[domain.RequestKind]Strategy
	emitter    events.Emitter
	log        *zap.Logger
	now        func() time.Time
}

func NewEngine(store Store, emitter events.Emitter, log *zap.Logger) *Engine {
	now := func() time.Time { return time.Now().UTC() }
	return &Engine{
		store: store,
		auth:  NewAuthorizer(store, log),
		strategies: map[domain.RequestKind]Strategy{
			domain.KindWalletTopup: &creditStrategy{now: now},
			domain.KindWalletLoad:  &creditStrategy{now: now},
			domain.KindWithdrawal:  &withdrawalStrategy{now: now},
			domain.KindGameLoad:    &gameLoadStrategy{now: now},
		},
		emitter: emitter,
		log:     log,
		now:     now,
	}
}

// Decide applies one approve/reject decision. Business outcomes — including
// unauthorized actors, idempotent replays, and terminally failed executions
// — come back as an Outcome with a nil error; a non-nil error means the
// decision could not reach a conclusion and only ErrRetryable wraps are
// safe to retry.
func (e *Engine) Decide(ctx context.Context, d Decision) (*domain.Outcome, error) {
	log := e.log.With(
		zap.String("request_id", d.RequestID),
		zap.String("action", string(d.Action)),
		zap.String("actor_kind", string(d.Actor.Kind)),
		zap.String("actor_id", d.Actor.ID),
	)
	log.Info("processing decision")

	if d.Action != ActionApprove && d.Action != ActionReject {
		return nil, fmt.Errorf("unknown action %q", d.Action)
	}

	if err := e.auth.Authorize(ctx, d.Actor, d.Flow); err != nil {
		if errors.Is(err, ErrBotNotFound) || errors.Is(err, ErrBotInactive) || errors.Is(err, ErrBotForbidden) {
			return e.outcome(d.Action, &domain.Outcome{
				Success: false,
				Code:    domain.CodeUnauthorized,
				Message: err.Error(),
			}), nil
		}
		return nil, fmt.Errorf("authorization lookup failed: %w", err)
	}

	req, err := e.store.GetRequest(ctx, d.RequestID)
	if errors.Is(err, ErrRequestNotFound) {
		return e.outcome(d.Action, &domain.Outcome{
			Success: false,
			Code:    domain.CodeNotFound,
			Message: "Request not found",
		}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("request lookup failed: %w", err)
	}

	// Wallet load requests are only reachable through the wallet-load flow
	// and orders only through the order flow. The flow was already checked
	// against the actor's capability, so crossing them here would let a bot
	// decide a kind it was never authorized for.
	if (req.Kind == domain.KindWalletLoad) != (d.Flow == FlowWalletLoad) {
		return e.outcome(d.Action, &domain.Outcome{
			Success: false,
			Code:    domain.CodeNotFound,
			Message: "Request not found",
		}), nil
	}

	// Fast-path idempotency check. The authoritative guard is the
	// conditional write inside the store unit; this only short-circuits the
	// common replay without opening a transaction.
	if req.Status.Terminal() {
		return e.outcome(d.Action, alreadyProcessed(req.Status)), nil
	}

	user, err := e.store.GetUser(ctx, req.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return e.outcome(d.Action, &domain.Outcome{
			Success: false,
			Code:    domain.CodeNotFound,
			Message: "User not found",
		}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}

	if d.Action == ActionReject {
		out, err := e.reject(ctx, req, user, d)
		return e.outcome(d.Action, out), err
	}
	out, err := e.approve(ctx, log, req, user, d)
	return e.outcome(d.Action, out), err
}

func (e *Engine) approve(ctx context.Context, log *zap.Logger, req *domain.Request, user *domain.User, d Decision) (*domain.Outcome, error) {
	strategy, ok := e.strategies[req.Kind]
	if !ok {
		return nil, fmt.Errorf("%q: %w", req.Kind, ErrUnknownKind)
	}

	amount := req.Amount
	adjusted := false
	if d.FinalAmount != nil {
		amount = *d.FinalAmount
		adjusted = !amount.Equal(req.Amount)
	}

	now := e.now()
	base := TerminalUpdate{
		ApprovedBy:     d.Actor.ID,
		ApprovedByKind: string(d.Actor.Kind),
		ApprovedAt:     now,
		ExecutedAt:     now,
		Amount:         amount,
		TotalAmount:    amount.Add(req.BonusAmount),
		AmountAdjusted: adjusted,
	}
	if adjusted {
		orig := req.Amount
		base.OriginalAmount = &orig
		base.AdjustedBy = d.Actor.ID
		adjAt := now
		base.AdjustedAt = &adjAt
	}

	var result *domain.ExecutionResult
	claimed, err := e.store.Approve(ctx, req.ID, func(exec Executors) (*TerminalUpdate, error) {
		res, execErr := strategy.Execute(ctx, req, user, amount, exec)
		if execErr != nil {
			return nil, execErr
		}
		result = res
		upd := base
		upd.Result = res
		if res.Success {
			upd.Status = domain.StatusApprovedExecuted
		} else {
			upd.Status = domain.StatusApprovedFailed
			upd.ExecutionError = res.Error
		}
		return &upd, nil
	})

	if err != nil {
		if errors.Is(err, ErrRetryable) {
			// The claim never became durable; leave the request pending for
			// the retry instead of racing another caller to a failure write.
			log.Warn("approval unit hit transient store failure", zap.Error(err))
			return nil, err
		}
		log.Error("approval unit aborted", zap.Error(err))
		fail := base
		fail.Status = domain.StatusApprovedFailed
		fail.ExecutionError = err.Error()
		fail.Result = &domain.ExecutionResult{
			Success:       false,
			Error:         err.Error(),
			FailureCode:   domain.CodeExecutionFailed,
			AmountApplied: amount,
			ExecutedAt:    now,
		}
		if markErr := e.store.MarkFailed(ctx, req.ID, fail); markErr != nil {
			log.Error("follow-up failure write did not apply", zap.Error(markErr))
		}
		return &domain.Outcome{
			Success: false,
			Code:    domain.CodeExecutionFailed,
			Message: fmt.Sprintf("Execution failed: %s", err),
			Data: map[string]any{
				"request_id":      req.ID,
				"status":          domain.StatusApprovedFailed,
				"execution_error": err.Error(),
			},
		}, nil
	}

	if !claimed {
		return e.replayOutcome(ctx, req.ID), nil
	}

	if !result.Success {
		log.Warn("execution failed",
			zap.String("failure_code", result.FailureCode),
			zap.String("execution_error", result.Error))
		e.emitExecutionFailed(ctx, req, user, result)
		code := result.FailureCode
		if code == "" {
			code = domain.CodeExecutionFailed
		}
		return &domain.Outcome{
			Success: false,
			Code:    code,
			Message: fmt.Sprintf("Execution failed: %s", result.Error),
			Data: map[string]any{
				"request_id":      req.ID,
				"status":          domain.StatusApprovedFailed,
				"execution_error": result.Error,
			},
		}, nil
	}

	log.Info("request approved and executed",
		zap.String("kind", string(req.Kind)),
		zap.String("amount", amount.String()),
		zap.Bool("amount_adjusted", adjusted))
	e.emitApproved(ctx, req, user, d, amount, adjusted, result)

	return &domain.Outcome{
		Success: true,
		Code:    domain.CodeOK,
		Message: "Request approved and executed successfully",
		Data: map[string]any{
			"request_id":       req.ID,
			"kind":             req.Kind,
			"amount":           amount,
			"amount_adjusted":  adjusted,
			"status":           domain.StatusApprovedExecuted,
			"execution_result": result,
		},
	}, nil
}

func (e *Engine) reject(ctx context.Context, req *domain.Request, user *domain.User, d Decision) (*domain.Outcome, error) {
	reason := d.RejectionReason
	if reason == "" {
		reason = "Rejected by reviewer"
	}

	claimed, err := e.store.Reject(ctx, req.ID, RejectUpdate{
		Reason:         reason,
		RejectedBy:     d.Actor.ID,
		RejectedByKind: string(d.Actor.Kind),
		RejectedAt:     e.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("rejection write failed: %w", err)
	}
	if !claimed {
		return e.replayOutcome(ctx, req.ID), nil
	}

	amount := req.Amount
	e.emitter.Emit(ctx, events.Event{
		Kind:          rejectionEventKind(req.Kind),
		Title:         "Request Rejected",
		Message:       fmt.Sprintf("Request from @%s rejected. Reason: %s", user.Username, reason),
		ReferenceKind: referenceKind(req.Kind),
		ReferenceID:   req.ID,
		UserID:        user.ID,
		Username:      user.Username,
		DisplayName:   user.DisplayName,
		Amount:        &amount,
		Extra: map[string]any{
			"kind":        req.Kind,
			"rejected_by": d.Actor.ID,
			"actor_kind":  d.Actor.Kind,
			"reason":      reason,
		},
	})

	return &domain.Outcome{
		Success: true,
		Code:    domain.CodeRejected,
		Message: "Request rejected",
		Data: map[string]any{
			"request_id": req.ID,
			"kind":       req.Kind,
			"reason":     reason,
		},
	}, nil
}

// replayOutcome reports a lost claim race: another caller reached the
// terminal write first. The status is re-read for the caller's benefit.
func (e *Engine) replayOutcome(ctx context.Context, requestID string) *domain.Outcome {
	status := domain.Status("unknown")
	if cur, err := e.store.GetRequest(ctx, requestID); err == nil {
		status = cur.Status
	}
	return alreadyProcessed(status)
}

func alreadyProcessed(status domain.Status) *domain.Outcome {
	return &domain.Outcome{
		Success: false,
		Code:    domain.CodeAlreadyProcessed,
		Message: fmt.Sprintf("Request already %s", status),
		Data: map[string]any{
			"already_processed": true,
			"status":            status,
		},
	}
}

func (e *Engine) outcome(action Action, out *domain.Outcome) *domain.Outcome {
	if out != nil {
		decisionsTotal.WithLabelValues(string(action), out.Code).Inc()
	}
	return out
}

func (e *Engine) emitApproved(ctx context.Context, req *domain.Request, user *domain.User, d Decision, amount decimal.Decimal, adjusted bool, result *domain.ExecutionResult) {
	var origAmount any
	if adjusted {
		origAmount = req.Amount
	}
	e.emitter.Emit(ctx, events.Event{
		Kind:          approvalEventKind(req.Kind),
		Title:         "Request Approved & Executed",
		Message:       fmt.Sprintf("Request for @%s approved and executed by %s", user.Username, d.Actor.Kind),
		ReferenceKind: referenceKind(req.Kind),
		ReferenceID:   req.ID,
		UserID:        user.ID,
		Username:      user.Username,
		DisplayName:   user.DisplayName,
		Amount:        &amount,
		Extra: map[string]any{
			"kind":            req.Kind,
			"approved_by":     d.Actor.ID,
			"actor_kind":      d.Actor.Kind,
			"amount_adjusted": adjusted,
			"original_amount": origAmount,
			"final_status":    domain.StatusApprovedExecuted,
		},
	})

	if adjusted {
		e.emitter.Emit(ctx, events.Event{
			Kind:          events.OrderAmountAdjusted,
			Title:         "Request Amount Adjusted",
			Message:       fmt.Sprintf("Amount changed from %s to %s", req.Amount, amount),
			ReferenceKind: referenceKind(req.Kind),
			ReferenceID:   req.ID,
			UserID:        user.ID,
			Username:      user.Username,
			Amount:        &amount,
			Extra: map[string]any{
				"old_amount":  req.Amount,
				"new_amount":  amount,
				"adjusted_by": d.Actor.ID,
			},
		})
	}

	switch req.Kind {
	case domain.KindWalletTopup:
		e.emitter.Emit(ctx, events.Event{
			Kind:          events.WalletTopupApproved,
			Title:         "Wallet Top-up Executed",
			Message:       fmt.Sprintf("Wallet top-up of %s executed for %s, new balance %s", amount, displayName(user), balanceString(result)),
			ReferenceKind: referenceKind(req.Kind),
			ReferenceID:   req.ID,
			UserID:        user.ID,
			Username:      user.Username,
			DisplayName:   user.DisplayName,
			Amount:        &amount,
			Extra: map[string]any{
				"balance_remaining": result.BalanceRemaining,
				"ledger_entry_id":   result.LedgerEntryID,
			},
		})
	case domain.KindGameLoad:
		e.emitter.Emit(ctx, events.Event{
			Kind:          events.GameLoadSuccess,
			Title:         "Game Load Executed",
			Message:       fmt.Sprintf("Game %s loaded for %s, amount %s", result.GameDisplayName, displayName(user), amount),
			ReferenceKind: referenceKind(req.Kind),
			ReferenceID:   req.ID,
			UserID:        user.ID,
			Username:      user.Username,
			DisplayName:   user.DisplayName,
			Amount:        &amount,
			Extra: map[string]any{
				"load_id":           result.LoadID,
				"game_name":         result.GameName,
				"balance_remaining": result.BalanceRemaining,
			},
		})
	case domain.KindWithdrawal:
		e.emitter.Emit(ctx, events.Event{
			Kind:          events.WithdrawExecuted,
			Title:         "Withdrawal Executed",
			Message:       fmt.Sprintf("Withdrawal of %s executed for %s", amount, displayName(user)),
			ReferenceKind: referenceKind(req.Kind),
			ReferenceID:   req.ID,
			UserID:        user.ID,
			Username:      user.Username,
			DisplayName:   user.DisplayName,
			Amount:        &amount,
			Extra: map[string]any{
				"payout_ref":        result.PayoutRef,
				"balance_remaining": result.BalanceRemaining,
			},
		})
	}
}

func (e *Engine) emitExecutionFailed(ctx context.Context, req *domain.Request, user *domain.User, result *domain.ExecutionResult) {
	if req.Kind != domain.KindGameLoad {
		return
	}
	e.emitter.Emit(ctx, events.Event{
		Kind:           events.GameLoadFailed,
		Title:          "Game Load Failed",
		Message:        fmt.Sprintf("Game load execution failed for request %s: %s", shortID(req.ID), result.Error),
		ReferenceKind:  referenceKind(req.Kind),
		ReferenceID:    req.ID,
		UserID:         user.ID,
		Username:       user.Username,
		DisplayName:    user.DisplayName,
		RequiresAction: true,
		Extra: map[string]any{
			"failure_code":    result.FailureCode,
			"execution_error": result.Error,
		},
	})
}

func approvalEventKind(kind domain.RequestKind) events.Kind {
	switch kind {
	case domain.KindWalletTopup:
		return events.WalletTopupApproved
	case domain.KindWithdrawal:
		return events.WithdrawApproved
	case domain.KindWalletLoad:
		return events.WalletLoadApproved
	default:
		return events.OrderApproved
	}
}

func rejectionEventKind(kind domain.RequestKind) events.Kind {
	switch kind {
	case domain.KindWalletTopup:
		return events.WalletTopupRejected
	case domain.KindWithdrawal:
		return events.WithdrawRejected
	case domain.KindWalletLoad:
		return events.WalletLoadRejected
	default:
		return events.OrderRejected
	}
}

func referenceKind(kind domain.RequestKind) string {
	if kind == domain.KindWalletLoad {
		return "wallet_load"
	}
	return "order"
}

func balanceString(result *domain.ExecutionResult) string {
	if result.BalanceRemaining == nil {
		return "unknown"
	}
	return result.BalanceRemaining.String()
}

func displayName(u *domain.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
