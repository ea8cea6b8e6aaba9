package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"mortgage-exchange/internal/model"
)

var ErrInsufficientFunds = errors.New("db: insufficient wallet balance")

type Store struct{ DB *sql.DB }

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Migrate(dir string) error {
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, nil)
}

// Amounts are NUMERIC(78,0) in postgres and *big.Int in Go; they cross
// the driver boundary as decimal strings.

func bigArg(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

func scanBig(s string) *big.Int {
	out, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return out
}

// ── Users ────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, email, hash string, role model.Role) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash, role) VALUES ($1,$2,$3)
		 RETURNING id, email, password_hash, role, created_at`, email, hash, role,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at FROM users WHERE email=$1`, email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at FROM users WHERE id=$1`, id,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// ── Wallets ──────────────────────────────────────────

func (s *Store) CreateWallet(ctx context.Context, userID string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO wallets (user_id) VALUES ($1)`, userID)
	return err
}

func (s *Store) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	w := &model.Wallet{}
	var bal string
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, balance::text FROM wallets WHERE user_id=$1`, userID,
	).Scan(&w.UserID, &bal)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	w.Balance = scanBig(bal)
	return w, err
}

func (s *Store) DepositWallet(ctx context.Context, userID string, amount *big.Int) (*model.Wallet, error) {
	w := &model.Wallet{}
	var bal string
	err := s.DB.QueryRowContext(ctx,
		`UPDATE wallets SET balance = balance + $1::numeric WHERE user_id=$2
		 RETURNING user_id, balance::text`, bigArg(amount), userID,
	).Scan(&w.UserID, &bal)
	w.Balance = scanBig(bal)
	return w, err
}

// WalletCredit adds funds inside a transaction.
func WalletCredit(tx *sql.Tx, userID string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	_, err := tx.Exec(`UPDATE wallets SET balance = balance + $1::numeric WHERE user_id=$2`,
		bigArg(amount), userID)
	return err
}

// WalletDebit removes funds inside a transaction. The guard in the
// WHERE clause keeps balances non-negative without a separate read.
func WalletDebit(tx *sql.Tx, userID string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	res, err := tx.Exec(
		`UPDATE wallets SET balance = balance - $1::numeric
		 WHERE user_id=$2 AND balance >= $1::numeric`, bigArg(amount), userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// ── Pools ────────────────────────────────────────────

const poolCols = `id, slug, collateral, collateral_decimals,
	total_assets::text, total_shares::text, collateral_held::text,
	claim_head, claim_next, created_at`

func scanPool(row interface{ Scan(...any) error }) (*model.Pool, uint64, uint64, error) {
	p := &model.Pool{}
	var assets, shares, held string
	var claimHead, claimNext uint64
	err := row.Scan(&p.ID, &p.Slug, &p.Collateral, &p.CollateralDecimals,
		&assets, &shares, &held, &claimHead, &claimNext, &p.CreatedAt)
	if err != nil {
		return nil, 0, 0, err
	}
	p.TotalAssets = scanBig(assets)
	p.TotalShares = scanBig(shares)
	p.CollateralHeld = scanBig(held)
	return p, claimHead, claimNext, nil
}

func (s *Store) CreatePool(ctx context.Context, slug, collateral string, decimals uint32) (*model.Pool, error) {
	row := s.DB.QueryRowContext(ctx,
		`INSERT INTO pools (id, slug, collateral, collateral_decimals) VALUES ($1,$2,$3,$4)
		 RETURNING `+poolCols, uuid.NewString(), slug, collateral, decimals)
	p, _, _, err := scanPool(row)
	return p, err
}

func (s *Store) GetPool(ctx context.Context, id string) (*model.Pool, uint64, uint64, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+poolCols+` FROM pools WHERE id=$1`, id)
	p, head, next, err := scanPool(row)
	if err == sql.ErrNoRows {
		return nil, 0, 0, nil
	}
	return p, head, next, err
}

func (s *Store) GetPoolBySlug(ctx context.Context, slug string) (*model.Pool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+poolCols+` FROM pools WHERE slug=$1`, slug)
	p, _, _, err := scanPool(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *Store) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+poolCols+` FROM pools ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Pool
	for rows.Next() {
		p, _, _, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// UpdatePoolTotals persists the pool's accounting row after a commit.
func UpdatePoolTotals(tx *sql.Tx, p *model.Pool, claimHead, claimNext uint64) error {
	_, err := tx.Exec(
		`UPDATE pools SET total_assets=$1::numeric, total_shares=$2::numeric,
		 collateral_held=$3::numeric, claim_head=$4, claim_next=$5 WHERE id=$6`,
		bigArg(p.TotalAssets), bigArg(p.TotalShares), bigArg(p.CollateralHeld),
		claimHead, claimNext, p.ID)
	return err
}

// ── Loans ────────────────────────────────────────────

const loanCols = `token_id, pool_id, borrower,
	collateral_amount::text, collateral_converted::text, rate_bps,
	amount_borrowed::text, amount_prior::text, amount_converted::text,
	term_balance::text, term_paid::text, term_converted::text,
	penalty_accrued::text, penalty_paid::text, payments_missed,
	period_seconds, total_periods, has_payment_plan, term_start, status,
	created_at, updated_at`

func scanLoan(row interface{ Scan(...any) error }) (*model.LoanPosition, error) {
	p := &model.LoanPosition{}
	var colAmt, colConv, borrowed, prior, conv, termBal, termPaid, termConv, penAcc, penPaid string
	var periodSeconds int64
	err := row.Scan(&p.TokenID, &p.PoolID, &p.Borrower,
		&colAmt, &colConv, &p.RateBps,
		&borrowed, &prior, &conv,
		&termBal, &termPaid, &termConv,
		&penAcc, &penPaid, &p.PaymentsMissed,
		&periodSeconds, &p.TotalPeriods, &p.HasPaymentPlan, &p.TermStart, &p.Status,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.CollateralAmount = scanBig(colAmt)
	p.CollateralConverted = scanBig(colConv)
	p.AmountBorrowed = scanBig(borrowed)
	p.AmountPrior = scanBig(prior)
	p.AmountConverted = scanBig(conv)
	p.TermBalance = scanBig(termBal)
	p.TermPaid = scanBig(termPaid)
	p.TermConverted = scanBig(termConv)
	p.PenaltyAccrued = scanBig(penAcc)
	p.PenaltyPaid = scanBig(penPaid)
	p.PeriodDuration = time.Duration(periodSeconds) * time.Second
	return p, nil
}

func InsertLoan(tx *sql.Tx, p *model.LoanPosition) error {
	_, err := tx.Exec(
		`INSERT INTO loans (token_id, pool_id, borrower,
		   collateral_amount, collateral_converted, rate_bps,
		   amount_borrowed, amount_prior, amount_converted,
		   term_balance, term_paid, term_converted,
		   penalty_accrued, penalty_paid, payments_missed,
		   period_seconds, total_periods, has_payment_plan, term_start, status)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		p.TokenID, p.PoolID, p.Borrower,
		bigArg(p.CollateralAmount), bigArg(p.CollateralConverted), p.RateBps,
		bigArg(p.AmountBorrowed), bigArg(p.AmountPrior), bigArg(p.AmountConverted),
		bigArg(p.TermBalance), bigArg(p.TermPaid), bigArg(p.TermConverted),
		bigArg(p.PenaltyAccrued), bigArg(p.PenaltyPaid), p.PaymentsMissed,
		int64(p.PeriodDuration/time.Second), p.TotalPeriods, p.HasPaymentPlan, p.TermStart, p.Status)
	return err
}

func UpdateLoan(tx *sql.Tx, p *model.LoanPosition) error {
	_, err := tx.Exec(
		`UPDATE loans SET
		   collateral_amount=$1::numeric, collateral_converted=$2::numeric, rate_bps=$3,
		   amount_borrowed=$4::numeric, amount_prior=$5::numeric, amount_converted=$6::numeric,
		   term_balance=$7::numeric, term_paid=$8::numeric, term_converted=$9::numeric,
		   penalty_accrued=$10::numeric, penalty_paid=$11::numeric, payments_missed=$12,
		   total_periods=$13, term_start=$14, status=$15, updated_at=now()
		 WHERE token_id=$16`,
		bigArg(p.CollateralAmount), bigArg(p.CollateralConverted), p.RateBps,
		bigArg(p.AmountBorrowed), bigArg(p.AmountPrior), bigArg(p.AmountConverted),
		bigArg(p.TermBalance), bigArg(p.TermPaid), bigArg(p.TermConverted),
		bigArg(p.PenaltyAccrued), bigArg(p.PenaltyPaid), p.PaymentsMissed,
		p.TotalPeriods, p.TermStart, p.Status, p.TokenID)
	return err
}

func (s *Store) GetLoan(ctx context.Context, tokenID uint64) (*model.LoanPosition, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+loanCols+` FROM loans WHERE token_id=$1`, tokenID)
	p, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *Store) ListLoans(ctx context.Context, poolID string) ([]model.LoanPosition, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+loanCols+` FROM loans WHERE pool_id=$1 ORDER BY token_id`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.LoanPosition
	for rows.Next() {
		p, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// ── Queue Nodes ──────────────────────────────────────

func InsertQueueNode(tx *sql.Tx, n *model.QueueNode) error {
	_, err := tx.Exec(
		`INSERT INTO queue_nodes (token_id, pool_id, trigger_price, gas_fee, payer)
		 VALUES ($1,$2,$3,$4,$5)`,
		n.TokenID, n.PoolID, bigArg(n.TriggerPrice), bigArg(n.GasFee), n.Payer)
	return err
}

func DeleteQueueNode(tx *sql.Tx, tokenID uint64) error {
	_, err := tx.Exec(`DELETE FROM queue_nodes WHERE token_id=$1`, tokenID)
	return err
}

// ListQueueNodes returns a pool's queued positions in trigger-price
// order, ties by insertion time, matching the in-memory sort.
func (s *Store) ListQueueNodes(ctx context.Context, poolID string) ([]model.QueueNode, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT token_id, pool_id, trigger_price::text, gas_fee::text, payer, created_at
		 FROM queue_nodes WHERE pool_id=$1 ORDER BY trigger_price, created_at`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.QueueNode
	for rows.Next() {
		var n model.QueueNode
		var price, fee string
		if err := rows.Scan(&n.TokenID, &n.PoolID, &price, &fee, &n.Payer, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.TriggerPrice = scanBig(price)
		n.GasFee = scanBig(fee)
		out = append(out, n)
	}
	return out, nil
}

// ── Claims ───────────────────────────────────────────

func InsertClaim(tx *sql.Tx, c *model.WithdrawalClaim) error {
	_, err := tx.Exec(
		`INSERT INTO claims (pool_id, claim_index, account, shares, amount, gas_fee, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.PoolID, c.Index, c.Account, bigArg(c.Shares), bigArg(c.Amount), bigArg(c.GasFee), c.Timestamp)
	return err
}

func UpdateClaim(tx *sql.Tx, poolID string, index uint64, amount, shares *big.Int, empty bool) error {
	_, err := tx.Exec(
		`UPDATE claims SET amount=$1::numeric, shares=$2::numeric, empty=$3
		 WHERE pool_id=$4 AND claim_index=$5`,
		bigArg(amount), bigArg(shares), empty, poolID, index)
	return err
}

// ListClaims returns claims at or past the head index, in FIFO order,
// including soft-deleted slots so the in-memory range stays contiguous.
func (s *Store) ListClaims(ctx context.Context, poolID string, fromIndex uint64) ([]model.WithdrawalClaim, []bool, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT claim_index, account, shares::text, amount::text, gas_fee::text, empty, created_at
		 FROM claims WHERE pool_id=$1 AND claim_index >= $2 ORDER BY claim_index`, poolID, fromIndex)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var claims []model.WithdrawalClaim
	var empties []bool
	for rows.Next() {
		var c model.WithdrawalClaim
		var shares, amount, fee string
		var empty bool
		if err := rows.Scan(&c.Index, &c.Account, &shares, &amount, &fee, &empty, &c.Timestamp); err != nil {
			return nil, nil, err
		}
		c.PoolID = poolID
		c.Shares = scanBig(shares)
		c.Amount = scanBig(amount)
		c.GasFee = scanBig(fee)
		claims = append(claims, c)
		empties = append(empties, empty)
	}
	return claims, empties, nil
}

// ── Ledger Balances ──────────────────────────────────

func UpsertLedgerBalance(tx *sql.Tx, poolID, account string, shares *big.Int) error {
	_, err := tx.Exec(
		`INSERT INTO ledger_balances (pool_id, account, shares) VALUES ($1,$2,$3::numeric)
		 ON CONFLICT (pool_id, account) DO UPDATE SET shares = $3::numeric`,
		poolID, account, bigArg(shares))
	return err
}

func (s *Store) ListLedgerBalances(ctx context.Context, poolID string) (map[string]*big.Int, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT account, shares::text FROM ledger_balances WHERE pool_id=$1`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]*big.Int)
	for rows.Next() {
		var account, shares string
		if err := rows.Scan(&account, &shares); err != nil {
			return nil, err
		}
		out[account] = scanBig(shares)
	}
	return out, nil
}

// ── Pool Prices ──────────────────────────────────────

func (s *Store) UpsertPoolPrice(ctx context.Context, poolID string, price *big.Int) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO pool_prices (pool_id, price) VALUES ($1,$2::numeric)
		 ON CONFLICT (pool_id) DO UPDATE SET price = $2::numeric, updated_at = now()`,
		poolID, bigArg(price))
	return err
}

func (s *Store) GetPoolPrice(ctx context.Context, poolID string) (*big.Int, error) {
	var price string
	err := s.DB.QueryRowContext(ctx,
		`SELECT price::text FROM pool_prices WHERE pool_id=$1`, poolID).Scan(&price)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return scanBig(price), nil
}

// ── Platform Fee ─────────────────────────────────────

func AddPlatformFee(tx *sql.Tx, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	_, err := tx.Exec(`UPDATE platform_fee_wallet SET balance = balance + $1::numeric WHERE id=1`,
		bigArg(amount))
	return err
}

func (s *Store) GetPlatformFee(ctx context.Context) (*big.Int, error) {
	var bal string
	err := s.DB.QueryRowContext(ctx,
		`SELECT balance::text FROM platform_fee_wallet WHERE id=1`).Scan(&bal)
	if err != nil {
		return nil, err
	}
	return scanBig(bal), nil
}

// ── Event Log ────────────────────────────────────────

func AppendEvent(tx *sql.Tx, poolID *string, evType string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO event_log (pool_id, type, payload_json) VALUES ($1,$2,$3)`,
		poolID, evType, b)
	return err
}

func (s *Store) ListEvents(ctx context.Context, poolID *string, limit int) ([]model.EventLog, error) {
	q := `SELECT id, pool_id, type, payload_json, created_at FROM event_log`
	var args []any
	if poolID != nil {
		q += ` WHERE pool_id=$1`
		args = append(args, *poolID)
	}
	q += ` ORDER BY created_at DESC LIMIT ` + fmt.Sprintf("%d", limit)
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.EventLog
	for rows.Next() {
		var e model.EventLog
		var raw []byte
		if err := rows.Scan(&e.ID, &e.PoolID, &e.Type, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(raw, &e.PayloadJSON)
		out = append(out, e)
	}
	return out, nil
}
