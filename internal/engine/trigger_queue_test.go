package engine

import (
	"math/big"
	"testing"
)

func insertOK(t *testing.T, q *TriggerQueue, tokenID uint64, price int64, hint uint64) {
	t.Helper()
	if err := q.Insert(tokenID, big.NewInt(price), hint, big.NewInt(10), "payer"); err != nil {
		t.Fatalf("insert %d @ %d: %v", tokenID, price, err)
	}
}

func order(q *TriggerQueue) []uint64 {
	var out []uint64
	for _, e := range q.Entries(0) {
		out = append(out, e.TokenID)
	}
	return out
}

func TestInsertSortsByTriggerPrice(t *testing.T) {
	q := NewTriggerQueue()
	insertOK(t, q, 1, 50, 0)
	insertOK(t, q, 2, 30, 0)
	insertOK(t, q, 3, 70, 0)

	got := order(q)
	want := []uint64{2, 1, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
	if q.Head() != 2 {
		t.Fatalf("expected head 2, got %d", q.Head())
	}
}

func TestEqualPricesKeepInsertionOrder(t *testing.T) {
	q := NewTriggerQueue()
	insertOK(t, q, 1, 50, 0)
	insertOK(t, q, 2, 50, 0)
	insertOK(t, q, 3, 50, 0)

	got := order(q)
	want := []uint64{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected FIFO among equals %v, got %v", want, got)
		}
	}
}

func TestInsertRejectsBadInput(t *testing.T) {
	q := NewTriggerQueue()
	if err := q.Insert(0, big.NewInt(50), 0, big.NewInt(0), "p"); err != ErrZeroTokenID {
		t.Fatalf("expected ErrZeroTokenID, got %v", err)
	}
	insertOK(t, q, 1, 50, 0)
	if err := q.Insert(1, big.NewInt(60), 0, big.NewInt(0), "p"); err != ErrDuplicatePosition {
		t.Fatalf("expected ErrDuplicatePosition, got %v", err)
	}
	// Hint must exist.
	if err := q.Insert(2, big.NewInt(60), 99, big.NewInt(0), "p"); err != ErrBadHint {
		t.Fatalf("expected ErrBadHint for unknown hint, got %v", err)
	}
	// Hint must not be past the insertion point.
	if err := q.Insert(3, big.NewInt(40), 1, big.NewInt(0), "p"); err != ErrBadHint {
		t.Fatalf("expected ErrBadHint for hint past slot, got %v", err)
	}
}

func TestInsertWithValidHint(t *testing.T) {
	q := NewTriggerQueue()
	insertOK(t, q, 1, 10, 0)
	insertOK(t, q, 2, 30, 0)
	insertOK(t, q, 3, 50, 0)

	// Hint at the node just before the slot.
	insertOK(t, q, 4, 40, 2)
	got := order(q)
	want := []uint64{1, 2, 4, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	// A stale hint far before the slot still lands correctly.
	insertOK(t, q, 5, 45, 1)
	if got := order(q); got[3] != 5 {
		t.Fatalf("expected 5 at slot 3, got %v", got)
	}
}

func TestRemoveRefundsFeeToPayer(t *testing.T) {
	q := NewTriggerQueue()
	if err := q.Insert(1, big.NewInt(10), 0, big.NewInt(25), "alice"); err != nil {
		t.Fatal(err)
	}
	insertOK(t, q, 2, 20, 0)

	fee, payer, err := q.Remove(1)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if fee.Int64() != 25 || payer != "alice" {
		t.Fatalf("expected fee 25 to alice, got %s to %s", fee, payer)
	}
	if q.Head() != 2 {
		t.Fatalf("expected head 2 after remove, got %d", q.Head())
	}
	if _, _, err := q.Remove(1); err != ErrUnknownPosition {
		t.Fatalf("expected ErrUnknownPosition, got %v", err)
	}
}

func TestRemoveMiddleRelinks(t *testing.T) {
	q := NewTriggerQueue()
	insertOK(t, q, 1, 10, 0)
	insertOK(t, q, 2, 20, 0)
	insertOK(t, q, 3, 30, 0)

	if _, _, err := q.Remove(2); err != nil {
		t.Fatal(err)
	}
	got := order(q)
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("expected [1 3], got %v", got)
	}
}

func TestPopHead(t *testing.T) {
	q := NewTriggerQueue()
	insertOK(t, q, 1, 10, 0)
	insertOK(t, q, 2, 20, 0)

	if _, _, err := q.PopHead(2); err != ErrNotHead {
		t.Fatalf("expected ErrNotHead, got %v", err)
	}
	newHead, fee, err := q.PopHead(1)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if newHead != 2 || fee.Int64() != 10 {
		t.Fatalf("expected head 2 fee 10, got %d %s", newHead, fee)
	}
}

func TestFindFirstTriggered(t *testing.T) {
	q := NewTriggerQueue()
	if q.FindFirstTriggered(big.NewInt(100)) != 0 {
		t.Fatal("empty queue should not trigger")
	}
	insertOK(t, q, 1, 50, 0)

	if got := q.FindFirstTriggered(big.NewInt(49)); got != 0 {
		t.Fatalf("price below trigger should not fire, got %d", got)
	}
	if got := q.FindFirstTriggered(big.NewInt(50)); got != 1 {
		t.Fatalf("price at trigger should fire, got %d", got)
	}
	if got := q.FindFirstTriggered(big.NewInt(51)); got != 1 {
		t.Fatalf("price above trigger should fire, got %d", got)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	q := NewTriggerQueue()
	insertOK(t, q, 1, 10, 0)
	insertOK(t, q, 2, 20, 0)

	snap := q.Snapshot()
	if _, _, err := q.Remove(1); err != nil {
		t.Fatal(err)
	}
	if snap.Size() != 2 || snap.Head() != 1 {
		t.Fatalf("snapshot mutated: size %d head %d", snap.Size(), snap.Head())
	}
}
