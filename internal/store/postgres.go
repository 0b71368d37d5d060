package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kmendoza-dev/approvalcore/internal/approval"
	"github.com/kmendoza-dev/approvalcore/internal/domain"
)

const requestColumns = `request_id, user_id, kind, status, amount, bonus_amount,
	payment_method, game_name, execution_attempts, created_at,
	approved_by, approved_by_kind, approved_at, executed_at, rejection_reason,
	amount_adjusted, original_amount, adjusted_by, adjusted_at,
	execution_result, execution_error`

// Store is the pgx-backed persistence layer. The approval unit of work
// (claim, strategy side effects, terminal write) runs in one database
// transaction with a bounded lock wait.
type Store struct {
	Db          *pgxpool.Pool
	payouts     approval.PayoutAdapter
	lockTimeout time.Duration
}

func NewStore(connString string, payouts approval.PayoutAdapter, lockTimeout time.Duration) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &Store{Db: pool, payouts: payouts, lockTimeout: lockTimeout}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// GetRequest loads one request by id, normalizing legacy status and kind
// spellings at the read boundary.
func (s *Store) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	row := s.Db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE request_id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, approval.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("request query failed: %w", err)
	}
	return req, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.Db.QueryRow(ctx,
		`SELECT user_id, username, COALESCE(display_name, ''), real_balance, bonus_balance,
			deposit_count, total_deposited, total_withdrawn
		 FROM users WHERE user_id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.RealBalance, &u.BonusBalance,
		&u.DepositCount, &u.TotalDeposited, &u.TotalWithdrawn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, approval.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user query failed: %w", err)
	}
	return &u, nil
}

func (s *Store) GetBot(ctx context.Context, id string) (*domain.Bot, error) {
	var b domain.Bot
	err := s.Db.QueryRow(ctx,
		`SELECT bot_id, COALESCE(bot_name, ''), is_active, can_approve_payments, can_approve_wallet_loads
		 FROM bots WHERE bot_id = $1`, id,
	).Scan(&b.ID, &b.Name, &b.Active, &b.CanApprovePayments, &b.CanApproveWalletLoads)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, approval.ErrBotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bot query failed: %w", err)
	}
	return &b, nil
}

// ListLedger returns a user's ledger entries, newest first.
func (s *Store) ListLedger(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	var exists bool
	if err := s.Db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, approval.ErrUserNotFound
	}

	rows, err := s.Db.Query(ctx,
		`SELECT ledger_id, user_id, direction, amount, balance_before, balance_after,
			reference_kind, reference_id, description, created_at
		 FROM wallet_ledger WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var dir string
		if err := rows.Scan(&e.ID, &e.UserID, &dir, &e.Amount, &e.BalanceBefore,
			&e.BalanceAfter, &e.ReferenceKind, &e.ReferenceID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Direction = domain.LedgerDirection(dir)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Approve runs the atomic approval unit. The claim is a conditional update
// that only matches rows still in the pending set; it takes the row lock,
// so a concurrent claimant blocks until this transaction commits and then
// matches zero rows. claimed=false means exactly that and nothing ran.
func (s *Store) Approve(ctx context.Context, requestID string, fn approval.ApproveFunc) (bool, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// lock_timeout does not accept bind parameters
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return false, fmt.Errorf("lock timeout setup failed: %w", err)
	}

	ct, err := tx.Exec(ctx,
		`UPDATE requests SET execution_attempts = execution_attempts + 1, updated_at = NOW()
		 WHERE request_id = $1 AND status = ANY($2)`,
		requestID, domain.PendingSynonyms())
	if err != nil {
		return false, classify(fmt.Errorf("claim failed: %w", err))
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	exec := approval.Executors{
		Balances: &txBalances{tx: tx},
		Ledger:   &txLedger{tx: tx},
		Games:    &txGames{tx: tx},
		Loads:    &txLoads{tx: tx},
		Payouts:  s.payouts,
	}

	upd, err := fn(exec)
	if err != nil {
		return true, classify(err)
	}

	if err := writeTerminal(ctx, tx, requestID, upd, false); err != nil {
		return true, classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return true, classify(fmt.Errorf("tx commit failed: %w", err))
	}
	return true, nil
}

// Reject is a single conditional terminal write; the status guard and the
// transition are one statement, so it needs no explicit transaction.
func (s *Store) Reject(ctx context.Context, requestID string, upd approval.RejectUpdate) (bool, error) {
	ct, err := s.Db.Exec(ctx,
		`UPDATE requests SET
			status = $2, rejection_reason = $3,
			approved_by = $4, approved_by_kind = $5, approved_at = $6,
			updated_at = NOW()
		 WHERE request_id = $1 AND status = ANY($7)`,
		requestID, domain.StatusRejected, upd.Reason,
		upd.RejectedBy, upd.RejectedByKind, upd.RejectedAt,
		domain.PendingSynonyms())
	if err != nil {
		return false, classify(fmt.Errorf("rejection write failed: %w", err))
	}
	return ct.RowsAffected() > 0, nil
}

// MarkFailed is the follow-up terminal write after an aborted approval
// unit. It stays guarded on the pending set: if another caller reached a
// terminal state in the meantime this is a no-op.
func (s *Store) MarkFailed(ctx context.Context, requestID string, upd approval.TerminalUpdate) error {
	if err := writeTerminal(ctx, s.Db, requestID, &upd, true); err != nil {
		return classify(err)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func writeTerminal(ctx context.Context, db execer, requestID string, upd *approval.TerminalUpdate, guarded bool) error {
	var resultJSON []byte
	if upd.Result != nil {
		b, err := json.Marshal(upd.Result)
		if err != nil {
			return fmt.Errorf("execution result marshal failed: %w", err)
		}
		resultJSON = b
	}

	sql := `UPDATE requests SET
			status = $2, approved_by = $3, approved_by_kind = $4, approved_at = $5,
			amount = $6, total_amount = $7,
			amount_adjusted = $8, original_amount = $9, adjusted_by = $10, adjusted_at = $11,
			executed_at = $12, execution_result = $13, execution_error = $14,
			updated_at = NOW()
		 WHERE request_id = $1`
	args := []any{
		requestID, upd.Status, upd.ApprovedBy, upd.ApprovedByKind, upd.ApprovedAt,
		upd.Amount, upd.TotalAmount,
		upd.AmountAdjusted, upd.OriginalAmount, nullStr(upd.AdjustedBy), upd.AdjustedAt,
		upd.ExecutedAt, resultJSON, nullStr(upd.ExecutionError),
	}
	if guarded {
		sql += ` AND status = ANY($15)`
		args = append(args, domain.PendingSynonyms())
	}

	if _, err := db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("terminal status write failed: %w", err)
	}
	return nil
}

// txBalances serializes balance mutations per user by locking the user row
// for the rest of the transaction. Counters move in the same statement as
// the balance, never independently.
type txBalances struct {
	tx pgx.Tx
}

func (b *txBalances) Apply(ctx context.Context, userID string, delta decimal.Decimal, c approval.CounterUpdate) (decimal.Decimal, decimal.Decimal, error) {
	var (
		before, bonus, deposited, withdrawn decimal.Decimal
		depositCount                        int64
	)
	err := b.tx.QueryRow(ctx,
		`SELECT real_balance, bonus_balance, deposit_count, total_deposited, total_withdrawn
		 FROM users WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&before, &bonus, &depositCount, &deposited, &withdrawn)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, decimal.Zero, approval.ErrUserNotFound
	}
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("balance lock failed: %w", err)
	}

	after := before.Add(delta)
	if after.IsNegative() {
		return before, before, approval.ErrInsufficientBalance
	}

	if c.Deposit {
		depositCount++
		deposited = deposited.Add(delta)
	}
	if c.Withdrawal {
		withdrawn = withdrawn.Add(delta.Abs())
	}
	bonus = bonus.Add(c.Bonus)

	_, err = b.tx.Exec(ctx,
		`UPDATE users SET real_balance = $2, bonus_balance = $3, deposit_count = $4,
			total_deposited = $5, total_withdrawn = $6, updated_at = NOW()
		 WHERE user_id = $1`,
		userID, after, bonus, depositCount, deposited, withdrawn)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("balance update failed: %w", err)
	}
	return before, after, nil
}

// txLedger appends to the immutable ledger; there is no update path.
type txLedger struct {
	tx pgx.Tx
}

func (l *txLedger) Append(ctx context.Context, e *domain.LedgerEntry) error {
	_, err := l.tx.Exec(ctx,
		`INSERT INTO wallet_ledger
			(ledger_id, user_id, direction, amount, balance_before, balance_after,
			 reference_kind, reference_id, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
		e.ID, e.UserID, e.Direction, e.Amount, e.BalanceBefore, e.BalanceAfter,
		e.ReferenceKind, e.ReferenceID, e.Description)
	if err != nil {
		return fmt.Errorf("ledger insert failed: %w", err)
	}
	return nil
}

type txGames struct {
	tx pgx.Tx
}

func (g *txGames) Resolve(ctx context.Context, nameOrID string) (*domain.Game, error) {
	var game domain.Game
	err := g.tx.QueryRow(ctx,
		`SELECT game_id, game_name, COALESCE(display_name, ''), is_active
		 FROM games WHERE game_name = $1 OR game_id = $1`, nameOrID,
	).Scan(&game.ID, &game.Name, &game.DisplayName, &game.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, approval.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("game query failed: %w", err)
	}
	return &game, nil
}

type txLoads struct {
	tx pgx.Tx
}

func (l *txLoads) Record(ctx context.Context, gl *domain.GameLoad) error {
	creds, err := json.Marshal(gl.Credentials)
	if err != nil {
		return fmt.Errorf("credentials marshal failed: %w", err)
	}
	_, err = l.tx.Exec(ctx,
		`INSERT INTO game_loads
			(load_id, user_id, game_id, game_name, amount,
			 wallet_balance_before, wallet_balance_after, status, game_credentials, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'completed', $8, NOW())`,
		gl.ID, gl.UserID, gl.GameID, gl.GameName, gl.Amount,
		gl.BalanceBefore, gl.BalanceAfter, creds)
	if err != nil {
		return fmt.Errorf("game load insert failed: %w", err)
	}
	return nil
}

// classify wraps transient lock/serialization failures in ErrRetryable so
// callers can distinguish them from permanent ones.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", approval.ErrRetryable, err)
		}
	}
	return err
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*domain.Request, error) {
	var (
		req                                domain.Request
		rawStatus, rawKind                 string
		paymentMethod, gameName            *string
		approvedBy, apprKind               *string
		rejectionReason, adjustedBy        *string
		executionError                     *string
		resultJSON                         []byte
		originalAmount                     *decimal.Decimal
		approvedAt, adjustedAt, executedAt *time.Time
	)
	err := row.Scan(&req.ID, &req.UserID, &rawKind, &rawStatus, &req.Amount, &req.BonusAmount,
		&paymentMethod, &gameName, &req.ExecutionAttempts, &req.CreatedAt,
		&approvedBy, &apprKind, &approvedAt, &executedAt, &rejectionReason,
		&req.AmountAdjusted, &originalAmount, &adjustedBy, &adjustedAt,
		&resultJSON, &executionError)
	if err != nil {
		return nil, err
	}

	req.Kind = domain.ParseKind(rawKind)
	req.Status = domain.ParseStatus(rawStatus)
	req.PaymentMethod = deref(paymentMethod)
	req.GameName = deref(gameName)
	req.ApprovedBy = deref(approvedBy)
	req.ApprovedByKind = deref(apprKind)
	req.ApprovedAt = approvedAt
	req.ExecutedAt = executedAt
	req.RejectionReason = deref(rejectionReason)
	req.OriginalAmount = originalAmount
	req.AdjustedBy = deref(adjustedBy)
	req.AdjustedAt = adjustedAt
	req.ExecutionError = deref(executionError)
	if len(resultJSON) > 0 {
		var res domain.ExecutionResult
		if err := json.Unmarshal(resultJSON, &res); err == nil {
			req.ExecutionResult = &res
		}
	}
	return &req, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
