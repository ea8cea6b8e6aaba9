package loan

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mortgage-exchange/internal/model"
)

var (
	day    = 24 * time.Hour
	period = 30 * day
)

func newTestLoan(principal int64, rateBps, totalPeriods uint64, start time.Time) model.LoanPosition {
	p := big.NewInt(principal)
	return model.LoanPosition{
		TokenID:             1,
		PoolID:              "pool",
		Borrower:            "alice",
		CollateralAmount:    big.NewInt(1_000_000),
		CollateralConverted: big.NewInt(0),
		RateBps:             rateBps,
		AmountBorrowed:      new(big.Int).Set(p),
		AmountPrior:         big.NewInt(0),
		AmountConverted:     big.NewInt(0),
		TermBalance:         CalculateTermBalance(p, rateBps, totalPeriods, totalPeriods),
		TermPaid:            big.NewInt(0),
		TermConverted:       big.NewInt(0),
		PenaltyAccrued:      big.NewInt(0),
		PenaltyPaid:         big.NewInt(0),
		PeriodDuration:      period,
		TotalPeriods:        totalPeriods,
		HasPaymentPlan:      true,
		TermStart:           start,
		Status:              model.LoanActive,
	}
}

func accrueAt(p model.LoanPosition, now time.Time) Accrued {
	return AccruePenalties(p, now, 72*time.Hour, 1200)
}

func TestCalculateTermBalance(t *testing.T) {
	// 100000 at 6% annual simple interest over 36 monthly periods:
	// 100000 * (120000 + 600*36) / 120000 = 118000, then rounded up to
	// the next multiple of 36.
	got := CalculateTermBalance(big.NewInt(100_000), 600, 36, 36)
	assert.Equal(t, int64(118_008), got.Int64())
	assert.Zero(t, new(big.Int).Mod(got, big.NewInt(36)).Sign())

	// Zero rate owes exactly the principal.
	got = CalculateTermBalance(big.NewInt(120_000), 0, 12, 12)
	assert.Equal(t, int64(120_000), got.Int64())

	assert.Zero(t, CalculateTermBalance(nil, 600, 12, 12).Sign())
	assert.Zero(t, CalculateTermBalance(big.NewInt(-5), 600, 12, 12).Sign())
}

func TestPeriodPayConservation(t *testing.T) {
	start := time.Now()
	pos := newTestLoan(120_000, 0, 12, start)

	res, err := accrueAt(pos, start).PeriodPay(big.NewInt(10_000))
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), res.Pos.TermPaid.Int64())
	assert.Zero(t, res.Refund.Sign())
	// Zero-rate loan: every unit of payment is principal.
	assert.Equal(t, int64(10_000), res.PrincipalPaid.Int64())
	assert.Equal(t, int64(110_000), res.Pos.TermRemaining().Int64())

	// The input position is never mutated.
	assert.Zero(t, pos.TermPaid.Sign())
}

func TestPeriodPayCapsAndRefunds(t *testing.T) {
	start := time.Now()
	pos := newTestLoan(120_000, 0, 12, start)
	pos.TermPaid = big.NewInt(119_000)

	res, err := accrueAt(pos, start).PeriodPay(big.NewInt(5_000))
	require.NoError(t, err)
	assert.Equal(t, int64(4_000), res.Refund.Int64())
	assert.Zero(t, res.Pos.TermRemaining().Sign())

	// Paying into a settled term is an overpayment, not a no-op.
	_, err = accrueAt(res.Pos, start).PeriodPay(big.NewInt(1))
	assert.ErrorIs(t, err, ErrCannotOverpay)
}

func TestPeriodPayBulletLoanRejectsPartial(t *testing.T) {
	start := time.Now()
	pos := newTestLoan(120_000, 0, 12, start)
	pos.HasPaymentPlan = false

	_, err := accrueAt(pos, start).PeriodPay(big.NewInt(50_000))
	assert.ErrorIs(t, err, ErrCannotPartialPrepay)

	res, err := accrueAt(pos, start).PeriodPay(big.NewInt(120_000))
	require.NoError(t, err)
	assert.Zero(t, res.Pos.TermRemaining().Sign())
}

func TestPeriodPayBlockedByPenalties(t *testing.T) {
	start := time.Now()
	pos := newTestLoan(120_000, 0, 12, start)
	pos.PenaltyAccrued = big.NewInt(500)

	_, err := accrueAt(pos, start).PeriodPay(big.NewInt(10_000))
	assert.ErrorIs(t, err, ErrUnpaidPenalties)
}

func TestAccruePenalties(t *testing.T) {
	start := time.Now().Add(-2*period - 10*day)
	pos := newTestLoan(120_000, 0, 12, start)

	// Two whole periods elapsed, none covered: penalty per missed
	// period is termBalance * rate / (periods * BPS) = 1200 each.
	acc := AccruePenalties(pos, time.Now(), 72*time.Hour, 1200)
	assert.Equal(t, uint64(2), acc.Pos.PaymentsMissed)
	assert.Equal(t, int64(2_400), acc.Imposed.Int64())
	assert.Equal(t, int64(2_400), acc.Pos.PenaltyRemaining().Int64())

	// Accruing again at the same instant imposes nothing new.
	again := AccruePenalties(acc.Pos, time.Now(), 72*time.Hour, 1200)
	assert.Zero(t, again.Imposed.Sign())
}

func TestGraceWindow(t *testing.T) {
	start := time.Now().Add(-period - 24*time.Hour)
	pos := newTestLoan(120_000, 0, 12, start)

	// One period elapsed but still inside the 72h grace window.
	acc := AccruePenalties(pos, time.Now(), 72*time.Hour, 1200)
	assert.Zero(t, acc.Imposed.Sign())
	assert.Zero(t, acc.Pos.PaymentsMissed)
}

func TestBulletLoanMissesNothingUntilMaturity(t *testing.T) {
	start := time.Now().Add(-11 * period)
	pos := newTestLoan(120_000, 0, 12, start)
	pos.HasPaymentPlan = false

	acc := AccruePenalties(pos, time.Now(), time.Hour, 1200)
	assert.Zero(t, acc.Pos.PaymentsMissed)

	// Past maturity and clear of the grace window: thirteen periods
	// elapsed on a twelve-period term is two missed payments.
	late := newTestLoan(120_000, 0, 12, time.Now().Add(-13*period-time.Hour))
	late.HasPaymentPlan = false
	acc = AccruePenalties(late, time.Now(), time.Hour, 1200)
	assert.Equal(t, uint64(2), acc.Pos.PaymentsMissed)
}

func TestPenaltyPay(t *testing.T) {
	start := time.Now()
	pos := newTestLoan(120_000, 0, 12, start)
	pos.PenaltyAccrued = big.NewInt(1_000)

	updated, paid, refund, err := accrueAt(pos, start).PenaltyPay(big.NewInt(1_500))
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), paid.Int64())
	assert.Equal(t, int64(500), refund.Int64())
	assert.Zero(t, updated.PenaltyRemaining().Sign())

	_, _, _, err = accrueAt(updated, start).PenaltyPay(big.NewInt(1))
	assert.ErrorIs(t, err, ErrCannotOverpayPenalty)
}

func TestRedeem(t *testing.T) {
	start := time.Now()
	pos := newTestLoan(120_000, 0, 12, start)

	_, err := accrueAt(pos, start).Redeem()
	assert.ErrorIs(t, err, ErrUnpaidPayments)

	pos.TermPaid = new(big.Int).Set(pos.TermBalance)
	closed, err := accrueAt(pos, start).Redeem()
	require.NoError(t, err)
	assert.Equal(t, model.LoanRedeemed, closed.Status)

	_, err = accrueAt(closed, start).Redeem()
	assert.ErrorIs(t, err, ErrPositionClosed)
}

func TestForecloseGuard(t *testing.T) {
	start := time.Now()
	pos := newTestLoan(120_000, 0, 12, start)
	pos.PaymentsMissed = 3

	_, err := accrueAt(pos, start).Foreclose(3)
	assert.ErrorIs(t, err, ErrNotForeclosable)

	closed, err := accrueAt(pos, start).Foreclose(2)
	require.NoError(t, err)
	assert.Equal(t, model.LoanForeclosed, closed.Status)
	// The guard path never mutated the original.
	assert.Equal(t, model.LoanActive, pos.Status)
}

func TestConvert(t *testing.T) {
	start := time.Now()
	pos := newTestLoan(120_000, 0, 12, start)

	updated, payment, err := accrueAt(pos, start).Convert(big.NewInt(30_000), big.NewInt(100_000))
	require.NoError(t, err)
	// Zero-rate loan: payment equivalent equals the principal slice.
	assert.Equal(t, int64(30_000), payment.Int64())
	assert.Equal(t, int64(30_000), updated.TermConverted.Int64())
	assert.Equal(t, int64(90_000), PrincipalRemaining(&updated).Int64())
	assert.Equal(t, int64(900_000), updated.CollateralRemaining().Int64())

	_, _, err = accrueAt(updated, start).Convert(big.NewInt(90_001), big.NewInt(0))
	assert.ErrorIs(t, err, ErrCannotOverConvert)
	_, _, err = accrueAt(updated, start).Convert(big.NewInt(1), big.NewInt(900_001))
	assert.ErrorIs(t, err, ErrCannotOverConvert)
}

func TestRefinance(t *testing.T) {
	start := time.Now()
	pos := newTestLoan(120_000, 0, 12, start)
	pos.TermPaid = big.NewInt(20_000)

	now := start.Add(time.Hour)
	updated, fee, err := AccruePenalties(pos, now, 72*time.Hour, 1200).Refinance(100, 600, 24)
	require.NoError(t, err)
	// 1% of the 100000 remaining principal.
	assert.Equal(t, int64(1_000), fee.Int64())
	assert.Equal(t, int64(100_000), TermPrincipal(&updated).Int64())
	assert.Equal(t, uint64(600), updated.RateBps)
	assert.Equal(t, uint64(24), updated.TotalPeriods)
	assert.Zero(t, updated.TermPaid.Sign())
	assert.Equal(t, now, updated.TermStart)
	assert.Equal(t,
		CalculateTermBalance(big.NewInt(100_000), 600, 24, 24).Int64(),
		updated.TermBalance.Int64())
}

func TestRefinanceBlockedWhenDelinquent(t *testing.T) {
	start := time.Now().Add(-2 * period)
	pos := newTestLoan(120_000, 0, 12, start)

	_, _, err := AccruePenalties(pos, time.Now(), time.Hour, 1200).Refinance(100, 600, 24)
	assert.ErrorIs(t, err, ErrUnpaidPenalties)
}

func TestExpandBalanceSheet(t *testing.T) {
	start := time.Now()
	pos := newTestLoan(100_000, 600, 12, start)

	now := start.Add(time.Hour)
	updated, err := AccruePenalties(pos, now, 72*time.Hour, 1200).
		ExpandBalanceSheet(big.NewInt(100_000), big.NewInt(500_000), 1200)
	require.NoError(t, err)
	// Weighted average of 600 over 100000 and 1200 over 100000.
	assert.Equal(t, uint64(900), updated.RateBps)
	assert.Equal(t, int64(200_000), updated.AmountBorrowed.Int64())
	assert.Equal(t, int64(200_000), TermPrincipal(&updated).Int64())
	assert.Equal(t, int64(1_500_000), updated.CollateralAmount.Int64())
	assert.Equal(t, now, updated.TermStart)
}

func TestPrincipalEquivalentRounding(t *testing.T) {
	start := time.Now()
	pos := newTestLoan(100_000, 600, 36, start)

	// A one-installment payment maps to a strictly smaller principal
	// slice on an interest-bearing loan.
	installment := new(big.Int).Div(pos.TermBalance, big.NewInt(36))
	principal := PrincipalEquivalent(&pos, installment)
	assert.True(t, principal.Cmp(installment) < 0)
	assert.True(t, principal.Sign() > 0)

	// Paying the whole term balance extinguishes the whole principal.
	assert.Equal(t, int64(100_000), PrincipalEquivalent(&pos, pos.TermBalance).Int64())
}
