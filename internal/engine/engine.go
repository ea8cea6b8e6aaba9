package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"mortgage-exchange/internal/db"
	"mortgage-exchange/internal/loan"
	"mortgage-exchange/internal/metrics"
	"mortgage-exchange/internal/model"
)

var (
	ErrInsufficientShares = errors.New("engine: insufficient share balance for claim")

	ErrUnknownLoan  = errors.New("engine: loan not found")
	ErrPoolMismatch = errors.New("engine: loan belongs to another pool")
	ErrNotBorrower  = errors.New("engine: caller is not the borrower")
	ErrNotPayer     = errors.New("engine: caller did not queue this position")
	ErrNoPrice      = errors.New("engine: no price marked for pool")
)

// PublishFunc broadcasts a WS message for a pool.
type PublishFunc func(poolID, msgType string, data any)

// ── Manager ──────────────────────────────────────────

type Manager struct {
	engines map[string]*PoolEngine
	mu      sync.RWMutex
	store   *db.Store
	publish PublishFunc
	opts    Options
	metrics *metrics.Registry
}

func NewManager(store *db.Store, pub PublishFunc, opts Options, reg *metrics.Registry) *Manager {
	return &Manager{
		engines: make(map[string]*PoolEngine),
		store:   store,
		publish: pub,
		opts:    opts,
		metrics: reg,
	}
}

func (m *Manager) Boot(ctx context.Context) error {
	pools, err := m.store.ListPools(ctx)
	if err != nil {
		return err
	}
	for _, p := range pools {
		if err := m.StartEngine(ctx, p.ID); err != nil {
			return fmt.Errorf("boot %s: %w", p.ID, err)
		}
	}
	log.Info().Int("pools", len(pools)).Msg("engine: booted pool engines")
	return nil
}

func (m *Manager) StartEngine(ctx context.Context, poolID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.engines[poolID]; ok {
		return nil
	}
	eng, err := newPoolEngine(ctx, poolID, m.store, m.publish, m.opts, m.metrics)
	if err != nil {
		return err
	}
	m.engines[poolID] = eng
	// Background context so the engine outlives the request that created it.
	go eng.run(context.Background())
	return nil
}

func (m *Manager) GetEngine(poolID string) *PoolEngine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engines[poolID]
}

// ── PoolEngine ───────────────────────────────────────

// PoolEngine serializes all mutation of one pool's state on a single
// goroutine, fed by a command channel. Matching and position transforms
// are therefore never re-entered mid-operation.
type PoolEngine struct {
	poolID  string
	st      *poolState
	cmdCh   chan func()
	store   *db.Store
	publish PublishFunc
	opts    Options
	metrics *metrics.Registry
}

func newPoolEngine(ctx context.Context, poolID string, store *db.Store, pub PublishFunc, opts Options, reg *metrics.Registry) (*PoolEngine, error) {
	pool, claimHead, _, err := store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, fmt.Errorf("pool %s not found", poolID)
	}
	st := newPoolState(*pool, claimHead)

	// Nodes arrive sorted, so each insert hints at the previous one and
	// the rebuild is linear.
	nodes, err := store.ListQueueNodes(ctx, poolID)
	if err != nil {
		return nil, err
	}
	var last uint64
	for _, n := range nodes {
		if err := st.trig.Insert(n.TokenID, n.TriggerPrice, last, n.GasFee, n.Payer); err != nil {
			return nil, fmt.Errorf("rebuild queue node %d: %w", n.TokenID, err)
		}
		last = n.TokenID
	}

	claims, empties, err := store.ListClaims(ctx, poolID, claimHead)
	if err != nil {
		return nil, err
	}
	st.claims.Restore(claimHead, claims, empties)
	for _, c := range st.claims.Pending() {
		st.reserveShares(c.Account, c.Shares)
	}

	balances, err := store.ListLedgerBalances(ctx, poolID)
	if err != nil {
		return nil, err
	}
	st.shares.Restore(balances)

	log.Info().
		Str("pool", poolID).
		Int("positions", st.trig.Size()).
		Uint64("claims", st.claims.Length()).
		Msg("engine: pool state loaded")

	return &PoolEngine{
		poolID:  poolID,
		st:      st,
		cmdCh:   make(chan func(), 64),
		store:   store,
		publish: pub,
		opts:    opts,
		metrics: reg,
	}, nil
}

func (e *PoolEngine) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmdCh:
			cmd()
		}
	}
}

// do runs fn on the engine goroutine and waits for it.
func (e *PoolEngine) do(fn func() error) error {
	errCh := make(chan error, 1)
	e.cmdCh <- func() { errCh <- fn() }
	return <-errCh
}

// commit finishes an operation: the in-memory state was already
// mutated, write was staged into tx, and a failed commit rolls the
// memory back so the two never diverge.
func (e *PoolEngine) commit(tx *sql.Tx, snap stateSnapshot) error {
	if err := tx.Commit(); err != nil {
		e.st.restore(snap)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (e *PoolEngine) persistTotals(tx *sql.Tx) error {
	e.st.syncPoolTotals()
	return db.UpdatePoolTotals(tx, &e.st.pool, e.st.claims.Head(), e.st.claims.Head()+e.st.claims.Length())
}

func (e *PoolEngine) publishQueues() {
	if e.publish == nil {
		return
	}
	e.publish(e.poolID, "queue_snapshot", model.QueueSnapshot{
		Positions: e.st.trig.Entries(50),
		Claims:    e.st.claims.Pending(),
	})
	if e.metrics != nil {
		e.metrics.QueueDepth.WithLabelValues(e.poolID, "positions").Set(float64(e.st.trig.Size()))
		e.metrics.QueueDepth.WithLabelValues(e.poolID, "claims").Set(float64(e.st.claims.Length()))
	}
}

func (e *PoolEngine) loadLoan(ctx context.Context, tokenID uint64) (*model.LoanPosition, error) {
	pos, err := e.store.GetLoan(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrUnknownLoan
	}
	if pos.PoolID != e.poolID {
		return nil, ErrPoolMismatch
	}
	return pos, nil
}

// ── Views ────────────────────────────────────────────

func (e *PoolEngine) Pool() model.Pool {
	var out model.Pool
	_ = e.do(func() error {
		out = e.st.pool
		out.TotalAssets = new(big.Int).Set(e.st.pool.TotalAssets)
		out.TotalShares = e.st.shares.TotalShares()
		out.CollateralHeld = new(big.Int).Set(e.st.pool.CollateralHeld)
		return nil
	})
	return out
}

func (e *PoolEngine) Queues() model.QueueSnapshot {
	var out model.QueueSnapshot
	_ = e.do(func() error {
		out = model.QueueSnapshot{
			Positions: e.st.trig.Entries(0),
			Claims:    e.st.claims.Pending(),
		}
		return nil
	})
	return out
}

func (e *PoolEngine) ShareBalance(account string) *big.Int {
	var out *big.Int
	_ = e.do(func() error {
		out = e.st.shares.BalanceOf(account)
		return nil
	})
	return out
}

// ── Lender operations ────────────────────────────────

// Deposit moves assets from the lender's wallet into the pool, minting
// shares at the pre-deposit ratio.
func (e *PoolEngine) Deposit(account string, amount *big.Int) (*big.Int, error) {
	var minted *big.Int
	err := e.do(func() error {
		if amount == nil || amount.Sign() <= 0 {
			return loan.ErrZeroAmount
		}
		ctx := context.Background()
		snap := e.st.snapshot()
		shares := e.st.shares.ToShares(amount)
		e.st.shares.Mint(account, shares)
		e.st.pool.TotalAssets.Add(e.st.pool.TotalAssets, amount)

		tx, err := e.store.BeginTx(ctx)
		if err != nil {
			e.st.restore(snap)
			return err
		}
		defer tx.Rollback()
		if err := db.WalletDebit(tx, account, amount); err != nil {
			e.st.restore(snap)
			return err
		}
		if err := db.UpsertLedgerBalance(tx, e.poolID, account, e.st.shares.BalanceOf(account)); err != nil {
			e.st.restore(snap)
			return err
		}
		if err := e.persistTotals(tx); err != nil {
			e.st.restore(snap)
			return err
		}
		_ = db.AppendEvent(tx, &e.poolID, "AssetsDeposited", map[string]any{
			"account": account, "amount": amount.String(), "shares": shares.String(),
		})
		if err := e.commit(tx, snap); err != nil {
			return err
		}
		minted = shares
		return nil
	})
	return minted, err
}

// EnqueueClaim appends a withdrawal claim priced at the current share
// ratio. The attached fee is held with the slot and refunded when the
// claim is fulfilled.
func (e *PoolEngine) EnqueueClaim(account string, amount *big.Int) (*model.WithdrawalClaim, error) {
	var out *model.WithdrawalClaim
	err := e.do(func() error {
		if amount == nil || amount.Sign() <= 0 {
			return loan.ErrZeroAmount
		}
		if e.opts.MinClaimAmount != nil && amount.Cmp(e.opts.MinClaimAmount) < 0 {
			return ErrBelowMinimum
		}
		ctx := context.Background()
		snap := e.st.snapshot()
		claim, err := e.st.enqueueClaim(account, amount, e.opts.ClaimFee, time.Now().UTC())
		if err != nil {
			return err
		}
		claim.PoolID = e.poolID

		tx, err := e.store.BeginTx(ctx)
		if err != nil {
			e.st.restore(snap)
			return err
		}
		defer tx.Rollback()
		if err := db.WalletDebit(tx, account, e.opts.ClaimFee); err != nil {
			e.st.restore(snap)
			return err
		}
		if err := db.InsertClaim(tx, &claim); err != nil {
			e.st.restore(snap)
			return err
		}
		if err := e.persistTotals(tx); err != nil {
			e.st.restore(snap)
			return err
		}
		_ = db.AppendEvent(tx, &e.poolID, "ClaimEnqueued", map[string]any{
			"index": claim.Index, "account": account,
			"amount": amount.String(), "shares": claim.Shares.String(),
		})
		if err := e.commit(tx, snap); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.ClaimsEnqueued.Inc()
		}
		out = &claim
		e.publishQueues()
		return nil
	})
	return out, err
}

// CancelClaim soft-deletes a pending claim. Nothing was escrowed so no
// payout is due, but yield the claim accrued while queued is burned off
// exactly as fulfillment would burn it, and the attached fee is
// forfeited to the platform.
func (e *PoolEngine) CancelClaim(account string, index uint64) error {
	return e.do(func() error {
		ctx := context.Background()
		snap := e.st.snapshot()
		cancelled, burned, err := e.st.cancelClaim(index, account)
		if err != nil {
			return err
		}
		tx, err := e.store.BeginTx(ctx)
		if err != nil {
			e.st.restore(snap)
			return err
		}
		defer tx.Rollback()
		if err := db.UpdateClaim(tx, e.poolID, index, big.NewInt(0), big.NewInt(0), true); err != nil {
			e.st.restore(snap)
			return err
		}
		if err := db.AddPlatformFee(tx, cancelled.GasFee); err != nil {
			e.st.restore(snap)
			return err
		}
		if err := db.UpsertLedgerBalance(tx, e.poolID, account, e.st.shares.BalanceOf(account)); err != nil {
			e.st.restore(snap)
			return err
		}
		if err := e.persistTotals(tx); err != nil {
			e.st.restore(snap)
			return err
		}
		_ = db.AppendEvent(tx, &e.poolID, "ClaimCancelled", map[string]any{
			"index": index, "account": account,
			"amount": cancelled.Amount.String(), "shares_burned": burned.String(),
		})
		if err := e.commit(tx, snap); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.ClaimsCancelled.Inc()
		}
		e.publishQueues()
		return nil
	})
}

// ── Position queue operations ────────────────────────

// InsertPosition queues a loan for conversion at its trigger price. The
// caller fronts the position fee, held with the node and refunded when
// the node leaves the queue.
func (e *PoolEngine) InsertPosition(caller string, req model.InsertPositionReq) error {
	return e.do(func() error {
		ctx := context.Background()
		price, ok := new(big.Int).SetString(req.TriggerPrice, 10)
		if !ok || price.Sign() <= 0 {
			return fmt.Errorf("engine: bad trigger price %q", req.TriggerPrice)
		}
		pos, err := e.loadLoan(ctx, req.TokenID)
		if err != nil {
			return err
		}
		if pos.Status != model.LoanActive {
			return loan.ErrPositionClosed
		}
		snap := e.st.snapshot()
		if err := e.st.trig.Insert(req.TokenID, price, req.HintPrev, e.opts.PositionFee, caller); err != nil {
			return err
		}
		tx, err := e.store.BeginTx(ctx)
		if err != nil {
			e.st.restore(snap)
			return err
		}
		defer tx.Rollback()
		if err := db.WalletDebit(tx, caller, e.opts.PositionFee); err != nil {
			e.st.restore(snap)
			return err
		}
		node := &model.QueueNode{
			TokenID: req.TokenID, PoolID: e.poolID,
			TriggerPrice: price, GasFee: e.opts.PositionFee, Payer: caller,
		}
		if err := db.InsertQueueNode(tx, node); err != nil {
			e.st.restore(snap)
			return err
		}
		_ = db.AppendEvent(tx, &e.poolID, "PositionQueued", map[string]any{
			"token_id": req.TokenID, "trigger_price": price.String(), "payer": caller,
		})
		if err := e.commit(tx, snap); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.PositionsInserted.Inc()
		}
		e.publishQueues()
		return nil
	})
}

// RemovePosition unlinks a queued position and refunds its fee to the
// payer that queued it.
func (e *PoolEngine) RemovePosition(caller string, tokenID uint64) error {
	return e.do(func() error {
		ctx := context.Background()
		snap := e.st.snapshot()
		fee, payer, err := e.st.trig.Remove(tokenID)
		if err != nil {
			return err
		}
		if payer != caller {
			e.st.restore(snap)
			return ErrNotPayer
		}
		tx, err := e.store.BeginTx(ctx)
		if err != nil {
			e.st.restore(snap)
			return err
		}
		defer tx.Rollback()
		if err := db.DeleteQueueNode(tx, tokenID); err != nil {
			e.st.restore(snap)
			return err
		}
		if err := db.WalletCredit(tx, payer, fee); err != nil {
			e.st.restore(snap)
			return err
		}
		_ = db.AppendEvent(tx, &e.poolID, "PositionRemoved", map[string]any{
			"token_id": tokenID, "payer": payer,
		})
		if err := e.commit(tx, snap); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.PositionsRemoved.Inc()
		}
		e.publishQueues()
		return nil
	})
}

// ── Processing ───────────────────────────────────────

// loanJournal backs the matching loop with store reads and buffers the
// writes for the batch transaction.
type loanJournal struct {
	ctx    context.Context
	eng    *PoolEngine
	cache  map[uint64]model.LoanPosition
	order  []uint64
	loaded map[uint64]model.LoanPosition
}

func newLoanJournal(ctx context.Context, eng *PoolEngine) *loanJournal {
	return &loanJournal{
		ctx:    ctx,
		eng:    eng,
		cache:  make(map[uint64]model.LoanPosition),
		loaded: make(map[uint64]model.LoanPosition),
	}
}

func (j *loanJournal) Get(tokenID uint64) (model.LoanPosition, error) {
	if pos, ok := j.cache[tokenID]; ok {
		return pos.Clone(), nil
	}
	if pos, ok := j.loaded[tokenID]; ok {
		return pos.Clone(), nil
	}
	pos, err := j.eng.loadLoan(j.ctx, tokenID)
	if err != nil {
		return model.LoanPosition{}, err
	}
	j.loaded[tokenID] = *pos
	return pos.Clone(), nil
}

func (j *loanJournal) Put(pos model.LoanPosition) {
	if _, dirty := j.cache[pos.TokenID]; !dirty {
		j.order = append(j.order, pos.TokenID)
	}
	j.cache[pos.TokenID] = pos.Clone()
}

func (j *loanJournal) flush(tx *sql.Tx) error {
	for _, id := range j.order {
		pos := j.cache[id]
		if err := db.UpdateLoan(tx, &pos); err != nil {
			return err
		}
	}
	return nil
}

// Process runs up to iterations units of matching work at the given
// price (the pool's marked price when priceOverride is nil). The whole
// batch settles atomically: on any failure both queues, the ledger, and
// the pool totals are rolled back untouched.
func (e *PoolEngine) Process(caller string, iterations uint64, priceOverride *big.Int) (*model.ProcessSummary, error) {
	var summary *model.ProcessSummary
	err := e.do(func() error {
		ctx := context.Background()
		start := time.Now()
		if iterations == 0 {
			iterations = e.opts.DefaultIterations
		}
		price := priceOverride
		if price == nil {
			marked, err := e.store.GetPoolPrice(ctx, e.poolID)
			if err != nil {
				return err
			}
			if marked == nil {
				return ErrNoPrice
			}
			price = marked
		}

		snap := e.st.snapshot()
		journal := newLoanJournal(ctx, e)
		out, err := runProcess(e.st, journal, iterations, price, time.Now().UTC(), e.opts)
		if err != nil {
			e.st.restore(snap)
			return err
		}

		tx, err := e.store.BeginTx(ctx)
		if err != nil {
			e.st.restore(snap)
			return err
		}
		defer tx.Rollback()

		fail := func(err error) error {
			e.st.restore(snap)
			return err
		}
		if err := journal.flush(tx); err != nil {
			return fail(err)
		}
		for _, tokenID := range out.PositionsPopped {
			if err := db.DeleteQueueNode(tx, tokenID); err != nil {
				return fail(err)
			}
		}
		for _, index := range out.ClaimsFulfilled {
			if err := db.UpdateClaim(tx, e.poolID, index, big.NewInt(0), big.NewInt(0), true); err != nil {
				return fail(err)
			}
		}
		// Rewrite the surviving head if the batch left it partially
		// filled.
		if head, empty, ok := e.st.claims.PeekHead(); ok && !empty {
			if err := db.UpdateClaim(tx, e.poolID, head.Index, head.Amount, head.Shares, false); err != nil {
				return fail(err)
			}
		}
		touched := map[string]bool{}
		for account, amount := range out.Credits {
			if err := db.WalletCredit(tx, account, amount); err != nil {
				return fail(err)
			}
			touched[account] = true
		}
		for _, s := range out.Settlements {
			touched[s.Account] = true
		}
		for account := range touched {
			if err := db.UpsertLedgerBalance(tx, e.poolID, account, e.st.shares.BalanceOf(account)); err != nil {
				return fail(err)
			}
		}
		if err := db.WalletCredit(tx, caller, out.FeeRefund); err != nil {
			return fail(err)
		}
		if err := e.persistTotals(tx); err != nil {
			return fail(err)
		}
		for _, s := range out.Settlements {
			_ = db.AppendEvent(tx, &e.poolID, "ClaimProcessed", map[string]any{
				"claim_index": s.ClaimIndex, "token_id": s.TokenID,
				"amount": s.AmountUsed.String(), "collateral": s.CollateralUsed.String(),
			})
		}
		for _, p := range out.Penalties {
			_ = db.AppendEvent(tx, &e.poolID, "PenaltyImposed", map[string]any{
				"token_id": p.TokenID, "amount": p.Amount.String(),
			})
		}
		if err := e.commit(tx, snap); err != nil {
			return err
		}

		if e.metrics != nil {
			e.metrics.ClaimsProcessed.Add(float64(len(out.ClaimsFulfilled)))
			e.metrics.PenaltiesImposed.Add(float64(len(out.Penalties)))
			e.metrics.PositionsRemoved.Add(float64(len(out.PositionsPopped)))
			e.metrics.ProcessDuration.Observe(time.Since(start).Seconds())
		}
		log.Info().
			Str("pool", e.poolID).
			Uint64("count", out.Count).
			Int("fulfilled", len(out.ClaimsFulfilled)).
			Int("popped", len(out.PositionsPopped)).
			Msg("engine: batch processed")
		summary = &model.ProcessSummary{
			Count:           out.Count,
			FeeRefund:       out.FeeRefund,
			ClaimsFulfilled: out.ClaimsFulfilled,
			PositionsPopped: out.PositionsPopped,
		}
		e.publishQueues()
		return nil
	})
	return summary, err
}

// ── Borrower operations ──────────────────────────────

// accrueThen normalizes penalty state for a position and hands the
// accrued view to op inside the engine goroutine. op stages its own
// writes; accrueThen owns snapshot and commit.
func (e *PoolEngine) accrueThen(tokenID uint64, op func(ctx context.Context, tx *sql.Tx, acc loan.Accrued) error) error {
	return e.do(func() error {
		ctx := context.Background()
		pos, err := e.loadLoan(ctx, tokenID)
		if err != nil {
			return err
		}
		acc := loan.AccruePenalties(*pos, time.Now().UTC(), e.opts.LateWindow, e.opts.PenaltyRateBps)

		snap := e.st.snapshot()
		tx, err := e.store.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := op(ctx, tx, acc); err != nil {
			e.st.restore(snap)
			return err
		}
		if acc.Imposed.Sign() > 0 {
			_ = db.AppendEvent(tx, &e.poolID, "PenaltyImposed", map[string]any{
				"token_id": tokenID, "amount": acc.Imposed.String(),
			})
			if e.metrics != nil {
				e.metrics.PenaltiesImposed.Inc()
			}
		}
		return e.commit(tx, snap)
	})
}

// Accrue persists penalty normalization without any payment attached.
func (e *PoolEngine) Accrue(tokenID uint64) error {
	return e.accrueThen(tokenID, func(ctx context.Context, tx *sql.Tx, acc loan.Accrued) error {
		return db.UpdateLoan(tx, &acc.Pos)
	})
}

// PeriodPay applies a borrower payment to the current term. The
// interest slice of the payment accrues to the pool as lender yield;
// overpayment never leaves the payer's wallet.
func (e *PoolEngine) PeriodPay(caller string, tokenID uint64, amount *big.Int) (*loan.PayResult, error) {
	var out *loan.PayResult
	err := e.accrueThen(tokenID, func(ctx context.Context, tx *sql.Tx, acc loan.Accrued) error {
		res, err := acc.PeriodPay(amount)
		if err != nil {
			return err
		}
		paid := new(big.Int).Sub(amount, res.Refund)
		interest := new(big.Int).Sub(paid, res.PrincipalPaid)
		e.st.pool.TotalAssets.Add(e.st.pool.TotalAssets, interest)

		if err := db.WalletDebit(tx, caller, paid); err != nil {
			return err
		}
		if err := db.UpdateLoan(tx, &res.Pos); err != nil {
			return err
		}
		if err := e.persistTotals(tx); err != nil {
			return err
		}
		_ = db.AppendEvent(tx, &e.poolID, "PaymentApplied", map[string]any{
			"token_id": tokenID, "paid": paid.String(),
			"principal": res.PrincipalPaid.String(), "refund": res.Refund.String(),
		})
		out = &res
		return nil
	})
	return out, err
}

// PenaltyPay applies a payment against accrued penalties only. Penalty
// revenue accrues to the pool.
func (e *PoolEngine) PenaltyPay(caller string, tokenID uint64, amount *big.Int) (*big.Int, error) {
	var paidOut *big.Int
	err := e.accrueThen(tokenID, func(ctx context.Context, tx *sql.Tx, acc loan.Accrued) error {
		pos, paid, _, err := acc.PenaltyPay(amount)
		if err != nil {
			return err
		}
		e.st.pool.TotalAssets.Add(e.st.pool.TotalAssets, paid)
		if err := db.WalletDebit(tx, caller, paid); err != nil {
			return err
		}
		if err := db.UpdateLoan(tx, &pos); err != nil {
			return err
		}
		if err := e.persistTotals(tx); err != nil {
			return err
		}
		_ = db.AppendEvent(tx, &e.poolID, "PenaltyPaid", map[string]any{
			"token_id": tokenID, "paid": paid.String(),
		})
		paidOut = paid
		return nil
	})
	return paidOut, err
}

// Redeem closes a fully settled position and releases it from the
// trigger queue if still listed there.
func (e *PoolEngine) Redeem(caller string, tokenID uint64) error {
	return e.accrueThen(tokenID, func(ctx context.Context, tx *sql.Tx, acc loan.Accrued) error {
		if acc.Pos.Borrower != caller {
			return ErrNotBorrower
		}
		pos, err := acc.Redeem()
		if err != nil {
			return err
		}
		if err := db.UpdateLoan(tx, &pos); err != nil {
			return err
		}
		if err := e.dropFromQueue(tx, tokenID); err != nil {
			return err
		}
		_ = db.AppendEvent(tx, &e.poolID, "LoanRedeemed", map[string]any{
			"token_id": tokenID, "collateral_released": pos.CollateralRemaining().String(),
		})
		return nil
	})
}

// Refinance rolls the remaining principal into a new term at a new
// rate, charging the refinance fee up front as pool yield.
func (e *PoolEngine) Refinance(caller string, tokenID uint64, newRateBps, newTotalPeriods uint64) (*big.Int, error) {
	var feeOut *big.Int
	err := e.accrueThen(tokenID, func(ctx context.Context, tx *sql.Tx, acc loan.Accrued) error {
		if acc.Pos.Borrower != caller {
			return ErrNotBorrower
		}
		pos, fee, err := acc.Refinance(e.opts.RefinanceRateBps, newRateBps, newTotalPeriods)
		if err != nil {
			return err
		}
		e.st.pool.TotalAssets.Add(e.st.pool.TotalAssets, fee)
		if err := db.WalletDebit(tx, caller, fee); err != nil {
			return err
		}
		if err := db.UpdateLoan(tx, &pos); err != nil {
			return err
		}
		if err := e.persistTotals(tx); err != nil {
			return err
		}
		_ = db.AppendEvent(tx, &e.poolID, "LoanRefinanced", map[string]any{
			"token_id": tokenID, "fee": fee.String(),
			"rate_bps": pos.RateBps, "total_periods": pos.TotalPeriods,
		})
		feeOut = fee
		return nil
	})
	return feeOut, err
}

// ExpandBalanceSheet grows a current position with fresh principal and
// collateral; the borrower draws the new principal from the pool.
func (e *PoolEngine) ExpandBalanceSheet(caller string, tokenID uint64, amountIn, collateralIn *big.Int, newRateBps uint64) error {
	return e.accrueThen(tokenID, func(ctx context.Context, tx *sql.Tx, acc loan.Accrued) error {
		if acc.Pos.Borrower != caller {
			return ErrNotBorrower
		}
		pos, err := acc.ExpandBalanceSheet(amountIn, collateralIn, newRateBps)
		if err != nil {
			return err
		}
		if err := db.WalletCredit(tx, caller, amountIn); err != nil {
			return err
		}
		if err := db.UpdateLoan(tx, &pos); err != nil {
			return err
		}
		_ = db.AppendEvent(tx, &e.poolID, "LoanExpanded", map[string]any{
			"token_id": tokenID, "amount_in": amountIn.String(),
			"rate_bps": pos.RateBps,
		})
		return nil
	})
}

// Foreclose closes a delinquent position: remaining pledged collateral
// is forfeited into the pool and the unrecovered principal is written
// off against pool assets.
func (e *PoolEngine) Foreclose(tokenID uint64) error {
	return e.accrueThen(tokenID, func(ctx context.Context, tx *sql.Tx, acc loan.Accrued) error {
		pos, err := acc.Foreclose(e.opts.MaxMissedPayments)
		if err != nil {
			return err
		}
		writeOff := loan.PrincipalRemaining(&pos)
		forfeit := pos.CollateralRemaining()
		pos.CollateralConverted = new(big.Int).Set(pos.CollateralAmount)

		e.st.pool.TotalAssets.Sub(e.st.pool.TotalAssets, writeOff)
		e.st.pool.CollateralHeld.Add(e.st.pool.CollateralHeld, forfeit)

		if err := db.UpdateLoan(tx, &pos); err != nil {
			return err
		}
		if err := e.dropFromQueue(tx, tokenID); err != nil {
			return err
		}
		if err := e.persistTotals(tx); err != nil {
			return err
		}
		_ = db.AppendEvent(tx, &e.poolID, "LoanForeclosed", map[string]any{
			"token_id": tokenID, "write_off": writeOff.String(),
			"collateral_forfeited": forfeit.String(),
		})
		return nil
	})
}

// dropFromQueue removes a closing position from the trigger queue,
// refunding the queued fee to its payer. A position that was never
// queued is a no-op.
func (e *PoolEngine) dropFromQueue(tx *sql.Tx, tokenID uint64) error {
	if !e.st.trig.Contains(tokenID) {
		return nil
	}
	fee, payer, err := e.st.trig.Remove(tokenID)
	if err != nil {
		return err
	}
	if err := db.DeleteQueueNode(tx, tokenID); err != nil {
		return err
	}
	return db.WalletCredit(tx, payer, fee)
}

// ── Origination ──────────────────────────────────────

// OriginateLoan writes a new loan position and advances the principal
// to the borrower. Pool assets are unchanged: cash became principal
// outstanding.
func (e *PoolEngine) OriginateLoan(req model.OriginateLoanReq) (*model.LoanPosition, error) {
	var out *model.LoanPosition
	err := e.do(func() error {
		ctx := context.Background()
		principal, ok := new(big.Int).SetString(req.Principal, 10)
		if !ok || principal.Sign() <= 0 {
			return fmt.Errorf("engine: bad principal %q", req.Principal)
		}
		collateral, ok := new(big.Int).SetString(req.Collateral, 10)
		if !ok || collateral.Sign() < 0 {
			return fmt.Errorf("engine: bad collateral %q", req.Collateral)
		}
		if req.TokenID == 0 {
			return ErrZeroTokenID
		}
		if req.TotalPeriods == 0 || req.PeriodSeconds <= 0 {
			return fmt.Errorf("engine: term must have at least one period")
		}
		now := time.Now().UTC()
		pos := &model.LoanPosition{
			TokenID:             req.TokenID,
			PoolID:              e.poolID,
			Borrower:            req.Borrower,
			CollateralAmount:    collateral,
			CollateralConverted: big.NewInt(0),
			RateBps:             req.RateBps,
			AmountBorrowed:      principal,
			AmountPrior:         big.NewInt(0),
			AmountConverted:     big.NewInt(0),
			TermBalance:         loan.CalculateTermBalance(principal, req.RateBps, req.TotalPeriods, req.TotalPeriods),
			TermPaid:            big.NewInt(0),
			TermConverted:       big.NewInt(0),
			PenaltyAccrued:      big.NewInt(0),
			PenaltyPaid:         big.NewInt(0),
			PeriodDuration:      time.Duration(req.PeriodSeconds) * time.Second,
			TotalPeriods:        req.TotalPeriods,
			HasPaymentPlan:      req.HasPaymentPlan,
			TermStart:           now,
			Status:              model.LoanActive,
		}
		tx, err := e.store.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := db.InsertLoan(tx, pos); err != nil {
			return err
		}
		if err := db.WalletCredit(tx, req.Borrower, principal); err != nil {
			return err
		}
		_ = db.AppendEvent(tx, &e.poolID, "LoanOriginated", map[string]any{
			"token_id": req.TokenID, "borrower": req.Borrower,
			"principal": principal.String(), "rate_bps": req.RateBps,
			"total_periods": req.TotalPeriods,
		})
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		out = pos
		return nil
	})
	return out, err
}

// MarkPrice stores the pool's current collateral price, the level the
// trigger queue is evaluated against.
func (e *PoolEngine) MarkPrice(price *big.Int) error {
	return e.do(func() error {
		if price == nil || price.Sign() <= 0 {
			return fmt.Errorf("engine: bad price")
		}
		ctx := context.Background()
		if err := e.store.UpsertPoolPrice(ctx, e.poolID, price); err != nil {
			return err
		}
		if e.publish != nil {
			e.publish(e.poolID, "price_marked", map[string]any{"price": price.String()})
		}
		return nil
	})
}
