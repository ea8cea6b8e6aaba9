// Package ledger implements rebasing share accounting: shares are the
// durable unit, and the asset value per share floats with the backing
// reported by the pool. All conversions floor so that cumulative asset
// payout can never exceed backing.
package ledger

import (
	"errors"
	"math/big"
)

var ErrInsufficientShares = errors.New("ledger: insufficient share balance")

// BackingSource reports the pool's current asset backing. It is owned
// by the caller; the ledger never stores a supply figure of its own.
type BackingSource interface {
	TotalAssets() *big.Int
}

// SharesLedger tracks per-account share balances against a floating
// backing. It is an explicit owned structure, passed by reference into
// whatever needs it, never ambient state.
type SharesLedger struct {
	backing     BackingSource
	totalShares *big.Int
	balances    map[string]*big.Int
}

func NewSharesLedger(backing BackingSource) *SharesLedger {
	return &SharesLedger{
		backing:     backing,
		totalShares: big.NewInt(0),
		balances:    make(map[string]*big.Int),
	}
}

func (l *SharesLedger) TotalShares() *big.Int { return new(big.Int).Set(l.totalShares) }

func (l *SharesLedger) BalanceOf(account string) *big.Int {
	if b, ok := l.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

// ToShares values assets in shares at the current ratio, floor rounded.
// An empty pool converts 1:1.
func (l *SharesLedger) ToShares(assets *big.Int) *big.Int {
	if assets == nil || assets.Sign() <= 0 {
		return big.NewInt(0)
	}
	supply := l.backing.TotalAssets()
	if l.totalShares.Sign() == 0 || supply.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	out := new(big.Int).Mul(assets, l.totalShares)
	return out.Quo(out, supply)
}

// ToAssets values shares in assets at the current ratio, floor rounded.
func (l *SharesLedger) ToAssets(shares *big.Int) *big.Int {
	if shares == nil || shares.Sign() <= 0 || l.totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(shares, l.backing.TotalAssets())
	return out.Quo(out, l.totalShares)
}

// Mint credits freshly created shares to an account.
func (l *SharesLedger) Mint(account string, shares *big.Int) {
	if shares == nil || shares.Sign() <= 0 {
		return
	}
	l.balances[account] = new(big.Int).Add(l.BalanceOf(account), shares)
	l.totalShares.Add(l.totalShares, shares)
}

// Burn destroys shares held by an account.
func (l *SharesLedger) Burn(account string, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return nil
	}
	bal := l.BalanceOf(account)
	if bal.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}
	l.balances[account] = bal.Sub(bal, shares)
	l.totalShares.Sub(l.totalShares, shares)
	return nil
}

// Transfer moves shares between accounts without changing totals.
func (l *SharesLedger) Transfer(from, to string, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return nil
	}
	bal := l.BalanceOf(from)
	if bal.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}
	l.balances[from] = bal.Sub(bal, shares)
	l.balances[to] = new(big.Int).Add(l.BalanceOf(to), shares)
	return nil
}

// BurnExcessShares claws back yield accrued while a shares/amount pair
// sat in a queue. It revalues amount as if that pair were already out
// of the pool, and burns whatever the held shares are worth beyond it,
// so queued claimants cannot capture yield earned purely by waiting.
// Returns the shares burned (possibly zero). Never fails.
func (l *SharesLedger) BurnExcessShares(holder string, shares, amount *big.Int) *big.Int {
	if shares == nil || shares.Sign() <= 0 {
		return big.NewInt(0)
	}
	exclShares := new(big.Int).Sub(l.totalShares, shares)
	exclSupply := new(big.Int).Sub(l.backing.TotalAssets(), amount)
	if exclShares.Sign() <= 0 || exclSupply.Sign() <= 0 {
		return big.NewInt(0)
	}
	recomputed := new(big.Int).Mul(amount, exclShares)
	recomputed.Quo(recomputed, exclSupply)
	if recomputed.Cmp(shares) >= 0 {
		return big.NewInt(0)
	}
	excess := new(big.Int).Sub(shares, recomputed)
	if bal := l.BalanceOf(holder); bal.Cmp(excess) < 0 {
		excess = bal
	}
	if excess.Sign() > 0 {
		_ = l.Burn(holder, excess)
	}
	return excess
}

// Restore rehydrates the ledger from persisted balances at boot.
func (l *SharesLedger) Restore(balances map[string]*big.Int) {
	l.totalShares = big.NewInt(0)
	l.balances = make(map[string]*big.Int, len(balances))
	for account, shares := range balances {
		if shares == nil || shares.Sign() <= 0 {
			continue
		}
		l.balances[account] = new(big.Int).Set(shares)
		l.totalShares.Add(l.totalShares, shares)
	}
}

// Snapshot deep-copies ledger state for rollback on failed commits.
func (l *SharesLedger) Snapshot() map[string]*big.Int {
	out := make(map[string]*big.Int, len(l.balances))
	for account, shares := range l.balances {
		out[account] = new(big.Int).Set(shares)
	}
	return out
}
