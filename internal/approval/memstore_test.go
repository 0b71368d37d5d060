package approval

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kmendoza-dev/approvalcore/internal/domain"
	"github.com/kmendoza-dev/approvalcore/internal/events"
)

// memStore is an in-memory Store with the same atomicity contract as the
// pgx implementation: the claim, the strategy side effects, and the
// terminal write happen under one lock, and a callback error restores the
// pre-unit state.
type memStore struct {
	mu       sync.Mutex
	requests map[string]*domain.Request
	users    map[string]*domain.User
	bots     map[string]*domain.Bot
	games    map[string]*domain.Game
	ledger   []domain.LedgerEntry
	loads    []domain.GameLoad

	payouts    PayoutAdapter
	ledgerErr  error // injected Append failure
	balanceErr error // injected Apply failure
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		requests: map[string]*domain.Request{},
		users:    map[string]*domain.User{},
		bots:     map[string]*domain.Bot{},
		games:    map[string]*domain.Game{},
		payouts:  ManualPayout{},
	}
}

func (s *memStore) GetRequest(_ context.Context, id string) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *memStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) GetBot(_ context.Context, id string) (*domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, ErrBotNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) Approve(ctx context.Context, requestID string, fn ApproveFunc) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok || req.Status.Terminal() {
		return false, nil
	}

	// snapshot for rollback
	reqCopy := *req
	var userCopy *domain.User
	if u, ok := s.users[req.UserID]; ok {
		cp := *u
		userCopy = &cp
	}
	ledgerLen, loadsLen := len(s.ledger), len(s.loads)

	req.ExecutionAttempts++

	upd, err := fn(Executors{
		Balances: &memBalances{s: s},
		Ledger:   &memLedger{s: s},
		Games:    &memGames{s: s},
		Loads:    &memLoads{s: s},
		Payouts:  s.payouts,
	})
	if err != nil {
		*req = reqCopy
		if userCopy != nil {
			s.users[req.UserID] = userCopy
		}
		s.ledger = s.ledger[:ledgerLen]
		s.loads = s.loads[:loadsLen]
		return true, err
	}

	applyTerminal(req, upd)
	return true, nil
}

func (s *memStore) Reject(_ context.Context, requestID string, upd RejectUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok || req.Status.Terminal() {
		return false, nil
	}
	req.Status = domain.StatusRejected
	req.RejectionReason = upd.Reason
	req.ApprovedBy = upd.RejectedBy
	req.ApprovedByKind = upd.RejectedByKind
	at := upd.RejectedAt
	req.ApprovedAt = &at
	return true, nil
}

func (s *memStore) MarkFailed(_ context.Context, requestID string, upd TerminalUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return ErrRequestNotFound
	}
	if req.Status.Terminal() {
		return nil
	}
	applyTerminal(req, &upd)
	return nil
}

func applyTerminal(req *domain.Request, upd *TerminalUpdate) {
	req.Status = upd.Status
	req.ApprovedBy = upd.ApprovedBy
	req.ApprovedByKind = upd.ApprovedByKind
	at := upd.ApprovedAt
	req.ApprovedAt = &at
	ex := upd.ExecutedAt
	req.ExecutedAt = &ex
	req.Amount = upd.Amount
	req.AmountAdjusted = upd.AmountAdjusted
	req.OriginalAmount = upd.OriginalAmount
	req.AdjustedBy = upd.AdjustedBy
	req.AdjustedAt = upd.AdjustedAt
	req.ExecutionResult = upd.Result
	req.ExecutionError = upd.ExecutionError
}

type memBalances struct{ s *memStore }

func (b *memBalances) Apply(_ context.Context, userID string, delta decimal.Decimal, c CounterUpdate) (decimal.Decimal, decimal.Decimal, error) {
	if b.s.balanceErr != nil {
		return decimal.Zero, decimal.Zero, b.s.balanceErr
	}
	u, ok := b.s.users[userID]
	if !ok {
		return decimal.Zero, decimal.Zero, ErrUserNotFound
	}
	before := u.RealBalance
	after := before.Add(delta)
	if after.IsNegative() {
		return before, before, ErrInsufficientBalance
	}
	u.RealBalance = after
	if c.Deposit {
		u.DepositCount++
		u.TotalDeposited = u.TotalDeposited.Add(delta)
	}
	if c.Withdrawal {
		u.TotalWithdrawn = u.TotalWithdrawn.Add(delta.Abs())
	}
	u.BonusBalance = u.BonusBalance.Add(c.Bonus)
	return before, after, nil
}

type memLedger struct{ s *memStore }

func (l *memLedger) Append(_ context.Context, e *domain.LedgerEntry) error {
	if l.s.ledgerErr != nil {
		return l.s.ledgerErr
	}
	l.s.ledger = append(l.s.ledger, *e)
	return nil
}

type memGames struct{ s *memStore }

func (g *memGames) Resolve(_ context.Context, nameOrID string) (*domain.Game, error) {
	for _, game := range g.s.games {
		if game.Name == nameOrID || game.ID == nameOrID {
			cp := *game
			return &cp, nil
		}
	}
	return nil, ErrGameNotFound
}

type memLoads struct{ s *memStore }

func (l *memLoads) Record(_ context.Context, gl *domain.GameLoad) error {
	l.s.loads = append(l.s.loads, *gl)
	return nil
}

// failingPayout simulates a gateway outage.
type failingPayout struct{ err error }

func (p failingPayout) Payout(context.Context, *domain.User, decimal.Decimal) (*PayoutReceipt, error) {
	if p.err != nil {
		return nil, p.err
	}
	return nil, errors.New("gateway unavailable")
}

// captureEmitter records every emitted event for assertions.
type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(_ context.Context, e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureEmitter) all() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *captureEmitter) kinds() []events.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Kind, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Kind)
	}
	return out
}
