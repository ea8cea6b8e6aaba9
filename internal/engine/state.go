package engine

import (
	"math/big"
	"time"

	"mortgage-exchange/internal/ledger"
	"mortgage-exchange/internal/model"
)

// Options carries the engine knobs loaded from configuration.
type Options struct {
	MinClaimAmount    *big.Int
	ClaimFee          *big.Int
	PositionFee       *big.Int
	PenaltyRateBps    uint64
	RefinanceRateBps  uint64
	MaxMissedPayments uint64
	LateWindow        time.Duration
	DefaultIterations uint64
}

// poolState is the in-memory working set for one pool: backing totals,
// both queues, and the share ledger. All mutation happens on the pool's
// engine goroutine; commits snapshot this first and restore on failure.
type poolState struct {
	pool   model.Pool
	trig   *TriggerQueue
	claims *ClaimQueue
	shares *ledger.SharesLedger
	// reserved tracks shares backing pending claims per account, so the
	// same shares can never back two claims at once.
	reserved map[string]*big.Int
}

func newPoolState(pool model.Pool, claimHead uint64) *poolState {
	st := &poolState{
		pool:     pool,
		trig:     NewTriggerQueue(),
		claims:   NewClaimQueue(claimHead),
		reserved: make(map[string]*big.Int),
	}
	st.shares = ledger.NewSharesLedger(st)
	return st
}

// TotalAssets implements ledger.BackingSource.
func (st *poolState) TotalAssets() *big.Int { return st.pool.TotalAssets }

// ── Share reservations ───────────────────────────────

func (st *poolState) reservedOf(account string) *big.Int {
	if r, ok := st.reserved[account]; ok {
		return new(big.Int).Set(r)
	}
	return big.NewInt(0)
}

func (st *poolState) reserveShares(account string, shares *big.Int) {
	if shares == nil || shares.Sign() <= 0 {
		return
	}
	st.reserved[account] = new(big.Int).Add(st.reservedOf(account), shares)
}

func (st *poolState) releaseShares(account string, shares *big.Int) {
	if shares == nil || shares.Sign() <= 0 {
		return
	}
	rem := new(big.Int).Sub(st.reservedOf(account), shares)
	if rem.Sign() <= 0 {
		delete(st.reserved, account)
		return
	}
	st.reserved[account] = rem
}

// availableShares is the balance not already backing a pending claim.
func (st *poolState) availableShares(account string) *big.Int {
	out := new(big.Int).Sub(st.shares.BalanceOf(account), st.reservedOf(account))
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

// enqueueClaim prices a claim at the current share ratio and reserves
// its shares so they cannot back another claim.
func (st *poolState) enqueueClaim(account string, amount, gasFee *big.Int, now time.Time) (model.WithdrawalClaim, error) {
	shares := st.shares.ToShares(amount)
	if st.availableShares(account).Cmp(shares) < 0 {
		return model.WithdrawalClaim{}, ErrInsufficientShares
	}
	claim := st.claims.Enqueue(account, amount, shares, gasFee, now)
	st.reserveShares(account, shares)
	return claim, nil
}

// cancelClaim soft-deletes a pending claim, releases its reservation
// and claws back any yield the claim accrued while it waited, the same
// forfeiture a fulfilled claim pays. Returns the shares burned.
func (st *poolState) cancelClaim(index uint64, account string) (model.WithdrawalClaim, *big.Int, error) {
	cancelled, err := st.claims.Cancel(index, account)
	if err != nil {
		return model.WithdrawalClaim{}, nil, err
	}
	st.releaseShares(account, cancelled.Shares)
	burned := st.shares.BurnExcessShares(account, cancelled.Shares, cancelled.Amount)
	return cancelled, burned, nil
}

// stateSnapshot captures everything a failed commit must roll back.
type stateSnapshot struct {
	totalAssets    *big.Int
	collateralHeld *big.Int
	trig           *TriggerQueue
	claims         *ClaimQueue
	balances       map[string]*big.Int
	totalShares    *big.Int
	reserved       map[string]*big.Int
}

func (st *poolState) snapshot() stateSnapshot {
	reserved := make(map[string]*big.Int, len(st.reserved))
	for account, shares := range st.reserved {
		reserved[account] = new(big.Int).Set(shares)
	}
	return stateSnapshot{
		totalAssets:    new(big.Int).Set(st.pool.TotalAssets),
		collateralHeld: new(big.Int).Set(st.pool.CollateralHeld),
		trig:           st.trig.Snapshot(),
		claims:         st.claims.Snapshot(),
		balances:       st.shares.Snapshot(),
		totalShares:    st.shares.TotalShares(),
		reserved:       reserved,
	}
}

func (st *poolState) restore(snap stateSnapshot) {
	st.pool.TotalAssets = snap.totalAssets
	st.pool.TotalShares = snap.totalShares
	st.pool.CollateralHeld = snap.collateralHeld
	st.trig = snap.trig
	st.claims = snap.claims
	st.shares.Restore(snap.balances)
	st.reserved = snap.reserved
}

// syncPoolTotals mirrors ledger supply into the pool row before persist.
func (st *poolState) syncPoolTotals() {
	st.pool.TotalShares = st.shares.TotalShares()
}
