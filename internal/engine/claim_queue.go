package engine

import (
	"errors"
	"math/big"
	"time"

	"mortgage-exchange/internal/model"
)

var (
	ErrBelowMinimum          = errors.New("engine: claim amount below configured minimum")
	ErrInsufficientFee       = errors.New("engine: attached fee below configured claim fee")
	ErrNoSuchClaim           = errors.New("engine: claim index outside queue range")
	ErrNotClaimOwner         = errors.New("engine: caller does not own this claim")
	ErrClaimAlreadyCancelled = errors.New("engine: claim already cancelled or consumed")
)

// claimSlot tags occupancy explicitly so skip-on-match is a checked
// branch rather than a zero-amount sentinel.
type claimSlot struct {
	claim model.WithdrawalClaim
	empty bool
}

// ClaimQueue is the FIFO of pending withdrawal claims. Slots occupy the
// contiguous index range [head, head+length); cancellation soft-deletes
// a slot in place, and only head advancement during processing shrinks
// the range.
type ClaimQueue struct {
	slots  map[uint64]*claimSlot
	head   uint64
	length uint64
}

func NewClaimQueue(head uint64) *ClaimQueue {
	return &ClaimQueue{slots: make(map[uint64]*claimSlot), head: head}
}

func (q *ClaimQueue) Head() uint64   { return q.head }
func (q *ClaimQueue) Length() uint64 { return q.length }

// Enqueue appends a claim at head+length. Shares must be valued by the
// caller at the current ledger ratio before calling.
func (q *ClaimQueue) Enqueue(account string, amount, shares, gasFee *big.Int, now time.Time) model.WithdrawalClaim {
	claim := model.WithdrawalClaim{
		Index:     q.head + q.length,
		Account:   account,
		Shares:    new(big.Int).Set(shares),
		Amount:    new(big.Int).Set(amount),
		GasFee:    new(big.Int).Set(gasFee),
		Timestamp: now,
	}
	q.slots[claim.Index] = &claimSlot{claim: claim.Clone()}
	q.length++
	return claim
}

// Claim returns a copy of the slot at index. The second result is false
// for indexes outside the queue range; empty slots return ok with
// empty=true.
func (q *ClaimQueue) Claim(index uint64) (claim model.WithdrawalClaim, empty, ok bool) {
	slot, found := q.slots[index]
	if !found || index < q.head || index >= q.head+q.length {
		return model.WithdrawalClaim{}, false, false
	}
	return slot.claim.Clone(), slot.empty, true
}

// Cancel soft-deletes a claim in place. The slot stays allocated and
// marked empty; the attached fee is forfeited. Returns the claim as it
// stood so the caller can burn excess shares and return principal.
func (q *ClaimQueue) Cancel(index uint64, caller string) (model.WithdrawalClaim, error) {
	slot, found := q.slots[index]
	if !found || index < q.head || index >= q.head+q.length {
		return model.WithdrawalClaim{}, ErrNoSuchClaim
	}
	if slot.claim.Account != caller {
		return model.WithdrawalClaim{}, ErrNotClaimOwner
	}
	if slot.empty {
		return model.WithdrawalClaim{}, ErrClaimAlreadyCancelled
	}
	cancelled := slot.claim.Clone()
	slot.claim.Amount = big.NewInt(0)
	slot.claim.Shares = big.NewInt(0)
	slot.claim.GasFee = big.NewInt(0)
	slot.empty = true
	return cancelled, nil
}

// PeekHead returns the head slot without consuming it. ok is false when
// the queue is drained.
func (q *ClaimQueue) PeekHead() (claim model.WithdrawalClaim, empty, ok bool) {
	if q.length == 0 {
		return model.WithdrawalClaim{}, false, false
	}
	return q.Claim(q.head)
}

// Dequeue consumes the head slot, shrinking the queue range.
func (q *ClaimQueue) Dequeue() (model.WithdrawalClaim, bool) {
	if q.length == 0 {
		return model.WithdrawalClaim{}, false
	}
	slot := q.slots[q.head]
	delete(q.slots, q.head)
	q.head++
	q.length--
	return slot.claim.Clone(), true
}

// SetHeadRemainder rewrites the head claim after a partial fulfillment:
// the amount still owed and its share value at the current ledger
// ratio, re-basing the yield-forfeiture baseline going forward.
func (q *ClaimQueue) SetHeadRemainder(amount, shares *big.Int) {
	slot, found := q.slots[q.head]
	if !found || slot.empty {
		return
	}
	slot.claim.Amount = new(big.Int).Set(amount)
	slot.claim.Shares = new(big.Int).Set(shares)
}

// Restore rehydrates the queue from persisted slots at boot. Claims
// must be passed in index order; gaps are not expected.
func (q *ClaimQueue) Restore(head uint64, claims []model.WithdrawalClaim, empties []bool) {
	q.slots = make(map[uint64]*claimSlot, len(claims))
	q.head = head
	q.length = uint64(len(claims))
	for i, c := range claims {
		q.slots[c.Index] = &claimSlot{claim: c.Clone(), empty: empties[i]}
	}
}

// Pending lists the occupied claims in FIFO order.
func (q *ClaimQueue) Pending() []model.WithdrawalClaim {
	out := []model.WithdrawalClaim{}
	for i := q.head; i < q.head+q.length; i++ {
		if slot, ok := q.slots[i]; ok && !slot.empty {
			out = append(out, slot.claim.Clone())
		}
	}
	return out
}

// Snapshot deep-copies the queue for rollback on failed commits.
func (q *ClaimQueue) Snapshot() *ClaimQueue {
	out := &ClaimQueue{slots: make(map[uint64]*claimSlot, len(q.slots)), head: q.head, length: q.length}
	for i, slot := range q.slots {
		out.slots[i] = &claimSlot{claim: slot.claim.Clone(), empty: slot.empty}
	}
	return out
}
