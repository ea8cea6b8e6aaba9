package engine

import (
	"math/big"
	"testing"
	"time"

	"mortgage-exchange/internal/model"
)

func enqueue(q *ClaimQueue, account string, amount int64) model.WithdrawalClaim {
	return q.Enqueue(account, big.NewInt(amount), big.NewInt(amount), big.NewInt(5), time.Now())
}

func TestEnqueueAssignsSequentialIndexes(t *testing.T) {
	q := NewClaimQueue(7)
	a := enqueue(q, "alice", 100)
	b := enqueue(q, "bob", 200)

	if a.Index != 7 || b.Index != 8 {
		t.Fatalf("expected indexes 7,8, got %d,%d", a.Index, b.Index)
	}
	if q.Length() != 2 {
		t.Fatalf("expected length 2, got %d", q.Length())
	}
}

func TestCancelChecks(t *testing.T) {
	q := NewClaimQueue(0)
	enqueue(q, "alice", 100)

	if _, err := q.Cancel(5, "alice"); err != ErrNoSuchClaim {
		t.Fatalf("expected ErrNoSuchClaim, got %v", err)
	}
	if _, err := q.Cancel(0, "bob"); err != ErrNotClaimOwner {
		t.Fatalf("expected ErrNotClaimOwner, got %v", err)
	}
	cancelled, err := q.Cancel(0, "alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Amount.Int64() != 100 {
		t.Fatalf("expected cancelled amount 100, got %s", cancelled.Amount)
	}
	if _, err := q.Cancel(0, "alice"); err != ErrClaimAlreadyCancelled {
		t.Fatalf("expected ErrClaimAlreadyCancelled, got %v", err)
	}
	// The slot stays in the range, empty.
	if q.Length() != 1 {
		t.Fatalf("cancel must not shrink the queue, length %d", q.Length())
	}
	if _, empty, ok := q.Claim(0); !ok || !empty {
		t.Fatalf("expected empty slot at 0, got ok=%v empty=%v", ok, empty)
	}
}

func TestDequeueAdvancesHead(t *testing.T) {
	q := NewClaimQueue(0)
	enqueue(q, "alice", 100)
	enqueue(q, "bob", 200)

	claim, ok := q.Dequeue()
	if !ok || claim.Account != "alice" {
		t.Fatalf("expected alice first, got %v %v", claim.Account, ok)
	}
	if q.Head() != 1 || q.Length() != 1 {
		t.Fatalf("expected head 1 length 1, got %d %d", q.Head(), q.Length())
	}
	q.Dequeue()
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue on empty queue must report not ok")
	}
}

func TestSetHeadRemainder(t *testing.T) {
	q := NewClaimQueue(0)
	enqueue(q, "alice", 1000)

	q.SetHeadRemainder(big.NewInt(400), big.NewInt(380))
	head, empty, ok := q.PeekHead()
	if !ok || empty {
		t.Fatalf("expected live head, got ok=%v empty=%v", ok, empty)
	}
	if head.Amount.Int64() != 400 || head.Shares.Int64() != 380 {
		t.Fatalf("expected 400/380, got %s/%s", head.Amount, head.Shares)
	}
}

func TestPendingSkipsEmptySlots(t *testing.T) {
	q := NewClaimQueue(0)
	enqueue(q, "alice", 100)
	enqueue(q, "bob", 200)
	enqueue(q, "carol", 300)
	if _, err := q.Cancel(1, "bob"); err != nil {
		t.Fatal(err)
	}

	pending := q.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].Account != "alice" || pending[1].Account != "carol" {
		t.Fatalf("unexpected pending order: %v", pending)
	}
}

func TestRestoreRebuildsRange(t *testing.T) {
	q := NewClaimQueue(0)
	claims := []model.WithdrawalClaim{
		{Index: 4, Account: "alice", Amount: big.NewInt(100), Shares: big.NewInt(100), GasFee: big.NewInt(5)},
		{Index: 5, Account: "bob", Amount: big.NewInt(0), Shares: big.NewInt(0), GasFee: big.NewInt(0)},
		{Index: 6, Account: "carol", Amount: big.NewInt(300), Shares: big.NewInt(300), GasFee: big.NewInt(5)},
	}
	q.Restore(4, claims, []bool{false, true, false})

	if q.Head() != 4 || q.Length() != 3 {
		t.Fatalf("expected head 4 length 3, got %d %d", q.Head(), q.Length())
	}
	if _, empty, ok := q.Claim(5); !ok || !empty {
		t.Fatal("slot 5 should be restored empty")
	}
	if len(q.Pending()) != 2 {
		t.Fatalf("expected 2 pending after restore, got %d", len(q.Pending()))
	}
}

func TestClaimSnapshotIsIndependent(t *testing.T) {
	q := NewClaimQueue(0)
	enqueue(q, "alice", 100)

	snap := q.Snapshot()
	q.Dequeue()
	if snap.Length() != 1 || snap.Head() != 0 {
		t.Fatalf("snapshot mutated: head %d length %d", snap.Head(), snap.Length())
	}
	if head, _, ok := snap.PeekHead(); !ok || head.Account != "alice" {
		t.Fatal("snapshot lost its head claim")
	}
}
