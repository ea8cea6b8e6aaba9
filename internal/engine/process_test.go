package engine

import (
	"math/big"
	"testing"
	"time"

	"mortgage-exchange/internal/loan"
	"mortgage-exchange/internal/model"
)

type mapLoans struct{ loans map[uint64]model.LoanPosition }

func (m *mapLoans) Get(tokenID uint64) (model.LoanPosition, error) {
	pos, ok := m.loans[tokenID]
	if !ok {
		return model.LoanPosition{}, ErrUnknownLoan
	}
	return pos.Clone(), nil
}

func (m *mapLoans) Put(pos model.LoanPosition) { m.loans[pos.TokenID] = pos.Clone() }

func testOpts() Options {
	return Options{
		MinClaimAmount:    big.NewInt(1),
		ClaimFee:          big.NewInt(5),
		PositionFee:       big.NewInt(10),
		PenaltyRateBps:    1200,
		MaxMissedPayments: 3,
		LateWindow:        72 * time.Hour,
		DefaultIterations: 10,
	}
}

// zero-rate loan so principal and term balance coincide.
func testLoan(tokenID uint64, principal, collateral int64, start time.Time) model.LoanPosition {
	p := big.NewInt(principal)
	return model.LoanPosition{
		TokenID:             tokenID,
		PoolID:              "pool",
		Borrower:            "borrower",
		CollateralAmount:    big.NewInt(collateral),
		CollateralConverted: big.NewInt(0),
		AmountBorrowed:      new(big.Int).Set(p),
		AmountPrior:         big.NewInt(0),
		AmountConverted:     big.NewInt(0),
		TermBalance:         new(big.Int).Set(p),
		TermPaid:            big.NewInt(0),
		TermConverted:       big.NewInt(0),
		PenaltyAccrued:      big.NewInt(0),
		PenaltyPaid:         big.NewInt(0),
		PeriodDuration:      30 * 24 * time.Hour,
		TotalPeriods:        12,
		HasPaymentPlan:      true,
		TermStart:           start,
		Status:              model.LoanActive,
	}
}

func testState(assets int64) *poolState {
	st := newPoolState(model.Pool{
		ID:                 "pool",
		CollateralDecimals: 0,
		TotalAssets:        big.NewInt(assets),
		TotalShares:        big.NewInt(0),
		CollateralHeld:     big.NewInt(0),
	}, 0)
	st.shares.Mint("lender", big.NewInt(assets))
	return st
}

func TestProcessPartialClaimDrainsPosition(t *testing.T) {
	now := time.Now()
	st := testState(10_000)
	loans := &mapLoans{loans: map[uint64]model.LoanPosition{
		1: testLoan(1, 600, 1_000, now),
	}}

	st.claims.Enqueue("lender", big.NewInt(1_000), st.shares.ToShares(big.NewInt(1_000)), big.NewInt(5), now)
	if err := st.trig.Insert(1, big.NewInt(50), 0, big.NewInt(10), "keeper"); err != nil {
		t.Fatal(err)
	}

	out, err := runProcess(st, loans, 2, big.NewInt(50), now, testOpts())
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	// One unit for the partial settlement, one for popping the drained
	// position.
	if out.Count != 2 {
		t.Fatalf("expected count 2, got %d", out.Count)
	}
	if len(out.PositionsPopped) != 1 || out.PositionsPopped[0] != 1 {
		t.Fatalf("expected position 1 popped, got %v", out.PositionsPopped)
	}
	if len(out.ClaimsFulfilled) != 0 {
		t.Fatalf("claim should survive partially filled, got %v", out.ClaimsFulfilled)
	}
	if got := out.Credits["lender"]; got.Int64() != 600 {
		t.Fatalf("expected lender credited 600, got %s", got)
	}
	// Popped node's fee comes back to the batch caller.
	if out.FeeRefund.Int64() != 10 {
		t.Fatalf("expected fee refund 10, got %s", out.FeeRefund)
	}

	head, empty, ok := st.claims.PeekHead()
	if !ok || empty {
		t.Fatal("head claim should remain live")
	}
	if head.Amount.Int64() != 400 {
		t.Fatalf("expected 400 still owed, got %s", head.Amount)
	}
	if st.pool.TotalAssets.Int64() != 9_400 {
		t.Fatalf("expected assets 9400, got %s", st.pool.TotalAssets)
	}
	// 600 assets at trigger price 50 is 12 collateral units.
	if st.pool.CollateralHeld.Int64() != 12 {
		t.Fatalf("expected collateral held 12, got %s", st.pool.CollateralHeld)
	}

	pos := loans.loans[1]
	if loan.PrincipalRemaining(&pos).Sign() != 0 {
		t.Fatalf("position should be drained, remaining %s", loan.PrincipalRemaining(&pos))
	}
	if st.trig.Contains(1) {
		t.Fatal("drained position must leave the queue")
	}
}

func TestProcessFulfillsClaimAndKeepsPosition(t *testing.T) {
	now := time.Now()
	st := testState(10_000)
	loans := &mapLoans{loans: map[uint64]model.LoanPosition{
		1: testLoan(1, 600, 1_000, now),
	}}

	st.claims.Enqueue("lender", big.NewInt(300), st.shares.ToShares(big.NewInt(300)), big.NewInt(5), now)
	if err := st.trig.Insert(1, big.NewInt(50), 0, big.NewInt(10), "keeper"); err != nil {
		t.Fatal(err)
	}

	out, err := runProcess(st, loans, 1, big.NewInt(50), now, testOpts())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Count != 1 {
		t.Fatalf("expected count 1, got %d", out.Count)
	}
	if len(out.ClaimsFulfilled) != 1 {
		t.Fatalf("expected claim fulfilled, got %v", out.ClaimsFulfilled)
	}
	// Fulfilled claim refunds its own fee.
	if out.FeeRefund.Int64() != 5 {
		t.Fatalf("expected fee refund 5, got %s", out.FeeRefund)
	}
	if !st.trig.Contains(1) {
		t.Fatal("half-converted position must stay queued")
	}
	pos := loans.loans[1]
	if got := loan.PrincipalRemaining(&pos).Int64(); got != 300 {
		t.Fatalf("expected 300 principal remaining, got %d", got)
	}
	// The claimant's shares for the filled amount were burned.
	if got := st.shares.BalanceOf("lender").Int64(); got != 9_700 {
		t.Fatalf("expected 9700 shares left, got %d", got)
	}
}

func TestProcessInsufficientCapacity(t *testing.T) {
	now := time.Now()
	st := testState(10_000)
	loans := &mapLoans{loans: map[uint64]model.LoanPosition{
		1: testLoan(1, 600, 1_000, now),
	}}
	st.claims.Enqueue("lender", big.NewInt(600), st.shares.ToShares(big.NewInt(600)), big.NewInt(5), now)
	if err := st.trig.Insert(1, big.NewInt(50), 0, big.NewInt(10), "keeper"); err != nil {
		t.Fatal(err)
	}

	if _, err := runProcess(st, loans, 5, big.NewInt(50), now, testOpts()); err != ErrInsufficientCapacity {
		t.Fatalf("expected ErrInsufficientCapacity, got %v", err)
	}
}

func TestProcessStopsWhenNothingTriggered(t *testing.T) {
	now := time.Now()
	st := testState(10_000)
	loans := &mapLoans{loans: map[uint64]model.LoanPosition{
		1: testLoan(1, 600, 1_000, now),
	}}
	st.claims.Enqueue("lender", big.NewInt(600), st.shares.ToShares(big.NewInt(600)), big.NewInt(5), now)
	if err := st.trig.Insert(1, big.NewInt(50), 0, big.NewInt(10), "keeper"); err != nil {
		t.Fatal(err)
	}

	// Price below every trigger: no work can be done.
	if _, err := runProcess(st, loans, 1, big.NewInt(40), now, testOpts()); err != ErrInsufficientCapacity {
		t.Fatalf("expected ErrInsufficientCapacity, got %v", err)
	}
}

func TestProcessSkipsCancelledClaims(t *testing.T) {
	now := time.Now()
	st := testState(10_000)
	loans := &mapLoans{loans: map[uint64]model.LoanPosition{
		1: testLoan(1, 600, 1_000, now),
	}}
	st.claims.Enqueue("lender", big.NewInt(600), st.shares.ToShares(big.NewInt(600)), big.NewInt(5), now)
	if _, err := st.claims.Cancel(0, "lender"); err != nil {
		t.Fatal(err)
	}
	if err := st.trig.Insert(1, big.NewInt(50), 0, big.NewInt(10), "keeper"); err != nil {
		t.Fatal(err)
	}

	out, err := runProcess(st, loans, 1, big.NewInt(50), now, testOpts())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	// Skipping the empty slot is a unit of work; nothing settles.
	if out.Count != 1 || len(out.Settlements) != 0 {
		t.Fatalf("expected one skip and no settlements, got count=%d settlements=%v", out.Count, out.Settlements)
	}
	if st.claims.Length() != 0 {
		t.Fatalf("expected drained claim queue, length %d", st.claims.Length())
	}
}

func TestProcessPopsClosedPositions(t *testing.T) {
	now := time.Now()
	closed := testLoan(1, 600, 1_000, now)
	closed.Status = model.LoanRedeemed
	st := testState(10_000)
	loans := &mapLoans{loans: map[uint64]model.LoanPosition{
		1: closed,
		2: testLoan(2, 600, 1_000, now),
	}}
	st.claims.Enqueue("lender", big.NewInt(300), st.shares.ToShares(big.NewInt(300)), big.NewInt(5), now)
	if err := st.trig.Insert(1, big.NewInt(50), 0, big.NewInt(10), "keeper"); err != nil {
		t.Fatal(err)
	}
	if err := st.trig.Insert(2, big.NewInt(60), 0, big.NewInt(10), "keeper"); err != nil {
		t.Fatal(err)
	}

	out, err := runProcess(st, loans, 2, big.NewInt(60), now, testOpts())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	// First unit pops the closed head, second settles against the live
	// position behind it.
	if len(out.PositionsPopped) != 1 || out.PositionsPopped[0] != 1 {
		t.Fatalf("expected closed position popped, got %v", out.PositionsPopped)
	}
	if len(out.ClaimsFulfilled) != 1 {
		t.Fatalf("expected claim fulfilled by second position, got %v", out.ClaimsFulfilled)
	}
}

func TestProcessPricesCollateralAtPaymentEquivalent(t *testing.T) {
	now := time.Now()
	st := testState(200_000)
	pos := testLoan(1, 100_000, 10_000, now)
	pos.RateBps = 600
	pos.TotalPeriods = 36
	pos.TermBalance = loan.CalculateTermBalance(big.NewInt(100_000), 600, 36, 36)
	loans := &mapLoans{loans: map[uint64]model.LoanPosition{1: pos}}

	st.claims.Enqueue("lender", big.NewInt(100_000), st.shares.ToShares(big.NewInt(100_000)), big.NewInt(5), now)
	if err := st.trig.Insert(1, big.NewInt(50), 0, big.NewInt(10), "keeper"); err != nil {
		t.Fatal(err)
	}

	out, err := runProcess(st, loans, 2, big.NewInt(50), now, testOpts())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out.ClaimsFulfilled) != 1 || len(out.PositionsPopped) != 1 {
		t.Fatalf("expected full fill draining the position, got fulfilled=%v popped=%v",
			out.ClaimsFulfilled, out.PositionsPopped)
	}
	// Term balance is 118008 on 100000 principal, so the collateral
	// released covers the payment equivalent at price 50, not the raw
	// principal.
	if st.pool.CollateralHeld.Int64() != 2_360 {
		t.Fatalf("expected collateral held 2360, got %s", st.pool.CollateralHeld)
	}
	settled := loans.loans[1]
	if settled.TermConverted.Int64() != 118_008 {
		t.Fatalf("expected term converted 118008, got %s", settled.TermConverted)
	}
	if loan.PrincipalRemaining(&settled).Sign() != 0 {
		t.Fatalf("position should be drained, remaining %s", loan.PrincipalRemaining(&settled))
	}
	if got := out.Credits["lender"]; got.Int64() != 100_000 {
		t.Fatalf("expected lender credited 100000, got %s", got)
	}
	if st.pool.TotalAssets.Int64() != 100_000 {
		t.Fatalf("expected assets 100000, got %s", st.pool.TotalAssets)
	}
}

func TestProcessAccruesPenaltiesOnTouchedPositions(t *testing.T) {
	now := time.Now()
	st := testState(10_000)
	late := testLoan(1, 600, 1_000, now.Add(-2*30*24*time.Hour-10*24*time.Hour))
	loans := &mapLoans{loans: map[uint64]model.LoanPosition{1: late}}

	st.claims.Enqueue("lender", big.NewInt(300), st.shares.ToShares(big.NewInt(300)), big.NewInt(5), now)
	if err := st.trig.Insert(1, big.NewInt(50), 0, big.NewInt(10), "keeper"); err != nil {
		t.Fatal(err)
	}

	out, err := runProcess(st, loans, 1, big.NewInt(50), now, testOpts())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out.Penalties) != 1 || out.Penalties[0].TokenID != 1 {
		t.Fatalf("expected penalty event for token 1, got %v", out.Penalties)
	}
	pos := loans.loans[1]
	if pos.PenaltyRemaining().Sign() <= 0 {
		t.Fatal("penalty must persist on the position")
	}
	// Penalties do not block conversion.
	if len(out.ClaimsFulfilled) != 1 {
		t.Fatalf("expected claim fulfilled, got %v", out.ClaimsFulfilled)
	}
}
