package engine

import (
	"errors"
	"math/big"
	"time"

	"mortgage-exchange/internal/loan"
	"mortgage-exchange/internal/model"
)

var (
	ErrInsufficientCapacity = errors.New("engine: queues cannot supply the requested iterations")
)

// loanSource abstracts position lookup during a process batch so the
// loop can be driven by a store-backed journal in production and a map
// in tests.
type loanSource interface {
	Get(tokenID uint64) (model.LoanPosition, error)
	Put(pos model.LoanPosition)
}

// settlement records one principal-for-collateral conversion between a
// queued position and the head claim.
type settlement struct {
	TokenID        uint64
	ClaimIndex     uint64
	Account        string
	AmountUsed     *big.Int
	CollateralUsed *big.Int
}

// penaltyEvent records penalty freshly accrued on a position during the
// batch.
type penaltyEvent struct {
	TokenID uint64
	Amount  *big.Int
}

// processOutcome is everything a process batch changed, for persistence
// and event publication after the in-memory pass succeeds.
type processOutcome struct {
	Count           uint64
	FeeRefund       *big.Int
	Settlements     []settlement
	ClaimsFulfilled []uint64
	PositionsPopped []uint64
	Penalties       []penaltyEvent
	// Credits are asset payouts owed to claim accounts.
	Credits map[string]*big.Int
}

func (o *processOutcome) credit(account string, amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	if cur, ok := o.Credits[account]; ok {
		cur.Add(cur, amount)
		return
	}
	o.Credits[account] = new(big.Int).Set(amount)
}

// collateralFor prices a term-balance amount in collateral units at
// the position's trigger price, floor rounded.
func collateralFor(amount *big.Int, decimals uint32, triggerPrice *big.Int) *big.Int {
	if triggerPrice == nil || triggerPrice.Sign() == 0 {
		return big.NewInt(0)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	out := new(big.Int).Mul(amount, scale)
	return out.Quo(out, triggerPrice)
}

// runProcess drains up to iterations units of work by interleaving the
// two queues: the head claim is matched against the first triggered
// position, converting principal to collateral until one side is
// exhausted. Work units are counted per interaction: advancing the
// claim head (fulfilled or empty), popping a position, and a partial
// settlement that leaves the claim at head each count one.
//
// The batch fails with ErrInsufficientCapacity when both queues run out
// before the requested iterations are spent; the caller rolls the state
// back, so a failed batch settles nothing.
func runProcess(st *poolState, loans loanSource, iterations uint64, currentPrice *big.Int, now time.Time, opts Options) (*processOutcome, error) {
	out := &processOutcome{
		FeeRefund: big.NewInt(0),
		Credits:   make(map[string]*big.Int),
	}

	for out.Count < iterations {
		if st.claims.Length() == 0 {
			break
		}
		headID := st.trig.FindFirstTriggered(currentPrice)
		if headID == 0 {
			break
		}

		claim, emptySlot, _ := st.claims.PeekHead()
		if emptySlot {
			st.claims.Dequeue()
			out.Count++
			continue
		}

		pos, err := loans.Get(headID)
		if err != nil {
			return nil, err
		}
		acc := loan.AccruePenalties(pos, now, opts.LateWindow, opts.PenaltyRateBps)
		if acc.Imposed.Sign() > 0 {
			loans.Put(acc.Pos)
			out.Penalties = append(out.Penalties, penaltyEvent{TokenID: headID, Amount: acc.Imposed})
		}

		principalRem := loan.PrincipalRemaining(&acc.Pos)
		if acc.Pos.Status != model.LoanActive || principalRem.Sign() == 0 {
			// Closed or drained position: skip it and move on.
			_, fee, err := st.trig.PopHead(headID)
			if err != nil {
				return nil, err
			}
			out.FeeRefund.Add(out.FeeRefund, fee)
			out.PositionsPopped = append(out.PositionsPopped, headID)
			out.Count++
			continue
		}

		// Claw back yield the claim accrued while queued, so the payout
		// is valued at the amount it was enqueued for.
		burned := st.shares.BurnExcessShares(claim.Account, claim.Shares, claim.Amount)
		if burned.Sign() > 0 {
			claim.Shares.Sub(claim.Shares, burned)
			st.claims.SetHeadRemainder(claim.Amount, claim.Shares)
			st.releaseShares(claim.Account, burned)
		}

		amountUsed := new(big.Int).Set(claim.Amount)
		if amountUsed.Cmp(principalRem) > 0 {
			amountUsed.Set(principalRem)
		}
		trigPrice, _ := st.trig.TriggerPrice(headID)
		// Collateral is released against the term-balance value of the
		// principal converting, not the raw principal, so the borrower
		// pays the interest factor in collateral too.
		paymentUsed := loan.PaymentEquivalent(&acc.Pos, amountUsed)
		collateralUsed := collateralFor(paymentUsed, st.pool.CollateralDecimals, trigPrice)
		if rem := acc.Pos.CollateralRemaining(); collateralUsed.Cmp(rem) > 0 {
			collateralUsed = rem
		}

		converted, _, err := acc.Convert(amountUsed, collateralUsed)
		if err != nil {
			return nil, err
		}
		loans.Put(converted)

		st.pool.TotalAssets.Sub(st.pool.TotalAssets, amountUsed)
		st.pool.CollateralHeld.Add(st.pool.CollateralHeld, collateralUsed)
		out.credit(claim.Account, amountUsed)
		out.Settlements = append(out.Settlements, settlement{
			TokenID:        headID,
			ClaimIndex:     claim.Index,
			Account:        claim.Account,
			AmountUsed:     new(big.Int).Set(amountUsed),
			CollateralUsed: collateralUsed,
		})

		if amountUsed.Cmp(claim.Amount) == 0 {
			// Claim fully satisfied: burn its remaining shares and
			// advance the head, refunding its fee.
			shares := claim.Shares
			if bal := st.shares.BalanceOf(claim.Account); bal.Cmp(shares) < 0 {
				shares = bal
			}
			if err := st.shares.Burn(claim.Account, shares); err != nil {
				return nil, err
			}
			st.releaseShares(claim.Account, claim.Shares)
			out.FeeRefund.Add(out.FeeRefund, claim.GasFee)
			st.claims.Dequeue()
			out.ClaimsFulfilled = append(out.ClaimsFulfilled, claim.Index)
			out.Count++
		} else {
			// Partial: burn the consumed slice of shares and re-base the
			// remainder at the post-payout ratio.
			consumed := new(big.Int).Mul(claim.Shares, amountUsed)
			consumed.Quo(consumed, claim.Amount)
			if bal := st.shares.BalanceOf(claim.Account); bal.Cmp(consumed) < 0 {
				consumed = bal
			}
			if err := st.shares.Burn(claim.Account, consumed); err != nil {
				return nil, err
			}
			remainder := new(big.Int).Sub(claim.Amount, amountUsed)
			rebased := st.shares.ToShares(remainder)
			st.claims.SetHeadRemainder(remainder, rebased)
			st.releaseShares(claim.Account, claim.Shares)
			st.reserveShares(claim.Account, rebased)
			out.Count++
		}

		if converted.Status != model.LoanActive || loan.PrincipalRemaining(&converted).Sign() == 0 {
			_, fee, err := st.trig.PopHead(headID)
			if err != nil {
				return nil, err
			}
			out.FeeRefund.Add(out.FeeRefund, fee)
			out.PositionsPopped = append(out.PositionsPopped, headID)
			out.Count++
		}
	}

	if out.Count < iterations {
		return nil, ErrInsufficientCapacity
	}
	return out, nil
}
