package loan

import (
	"math/big"
	"time"

	"mortgage-exchange/internal/model"
)

// TermPrincipal is the principal the current term was written against:
// everything borrowed minus what prior terms carried over or converted.
func TermPrincipal(p *model.LoanPosition) *big.Int {
	out := new(big.Int).Sub(p.AmountBorrowed, p.AmountPrior)
	out.Sub(out, p.AmountConverted)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

// PrincipalEquivalent converts a term-balance payment into the slice of
// principal it extinguishes, via proportional allocation. Floor rounded;
// a zero term balance yields zero rather than faulting.
func PrincipalEquivalent(p *model.LoanPosition, payment *big.Int) *big.Int {
	return mulDiv(payment, TermPrincipal(p), p.TermBalance)
}

// PaymentEquivalent is the inverse mapping: the term-balance amount that
// corresponds to converting the given principal, capped at what remains
// owed this term.
func PaymentEquivalent(p *model.LoanPosition, principal *big.Int) *big.Int {
	tp := TermPrincipal(p)
	if tp.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(principal, p.TermBalance)
	out.Quo(out, tp)
	return minBig(out, p.TermRemaining())
}

// PrincipalRemaining is the amount borrowed not yet converted, carried
// prior, or paid off through the current term.
func PrincipalRemaining(p *model.LoanPosition) *big.Int {
	paid := new(big.Int).Add(p.TermPaid, p.TermConverted)
	out := new(big.Int).Sub(TermPrincipal(p), PrincipalEquivalent(p, paid))
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

// PeriodsSinceTermOrigination is the count of whole periods elapsed
// since term start, minus one while still inside the grace window of
// the most recent due date.
func PeriodsSinceTermOrigination(p *model.LoanPosition, now time.Time, lateWindow time.Duration) uint64 {
	if p.PeriodDuration <= 0 || !now.After(p.TermStart) {
		return 0
	}
	since := now.Sub(p.TermStart)
	elapsed := uint64(since / p.PeriodDuration)
	if elapsed > 0 && since%p.PeriodDuration < lateWindow {
		elapsed--
	}
	return elapsed
}

// missedPayments recomputes how many due payments the position has not
// covered. Positions on a payment plan owe one installment per elapsed
// period; payments and conversions buy back whole periods
// proportionally. Bullet loans owe nothing until the entire term has
// elapsed.
func missedPayments(p *model.LoanPosition, now time.Time, lateWindow time.Duration) uint64 {
	elapsed := PeriodsSinceTermOrigination(p, now, lateWindow)
	if !p.HasPaymentPlan {
		if elapsed < p.TotalPeriods {
			return 0
		}
		return elapsed - p.TotalPeriods + 1
	}
	if p.TermBalance == nil || p.TermBalance.Sign() == 0 {
		return 0
	}
	covered := new(big.Int).Add(p.TermPaid, p.TermConverted)
	covered.Mul(covered, new(big.Int).SetUint64(p.TotalPeriods))
	covered.Quo(covered, p.TermBalance)
	if !covered.IsUint64() || covered.Uint64() >= elapsed {
		return 0
	}
	return elapsed - covered.Uint64()
}

// ── Penalty normalization ────────────────────────────

// Accrued wraps a position whose missed-payment and penalty state has
// been freshened for the current time. Every mutating transform hangs
// off Accrued so stale penalty state cannot slip past a payment,
// foreclosure check, or conversion.
type Accrued struct {
	Pos model.LoanPosition
	// Imposed is the penalty newly accrued by this normalization.
	Imposed *big.Int

	now        time.Time
	lateWindow time.Duration
}

// AccruePenalties freshens missed-payment state and accrues the penalty
// for any additional missed periods since the last update:
//
//	termBalance * additionalMissed * penaltyRateBps / (totalPeriods * BPS)
func AccruePenalties(p model.LoanPosition, now time.Time, lateWindow time.Duration, penaltyRateBps uint64) Accrued {
	out := Accrued{Pos: p.Clone(), Imposed: big.NewInt(0), now: now, lateWindow: lateWindow}
	if p.Status != model.LoanActive {
		return out
	}
	current := missedPayments(&out.Pos, now, lateWindow)
	if current > out.Pos.PaymentsMissed {
		additional := current - out.Pos.PaymentsMissed
		if out.Pos.TotalPeriods > 0 {
			num := new(big.Int).Mul(out.Pos.TermBalance, new(big.Int).SetUint64(additional))
			num.Mul(num, new(big.Int).SetUint64(penaltyRateBps))
			den := new(big.Int).Mul(new(big.Int).SetUint64(out.Pos.TotalPeriods), basisPoints)
			out.Imposed = num.Quo(num, den)
			out.Pos.PenaltyAccrued = new(big.Int).Add(out.Pos.PenaltyAccrued, out.Imposed)
		}
		out.Pos.PaymentsMissed = current
	}
	return out
}

func (a Accrued) active() error {
	if a.Pos.Status != model.LoanActive {
		return ErrPositionClosed
	}
	return nil
}

// ── Transforms ───────────────────────────────────────

// PayResult reports the outcome of a period payment: the updated
// position, the principal slice the payment extinguished, and any
// overpayment refunded to the payer.
type PayResult struct {
	Pos           model.LoanPosition
	PrincipalPaid *big.Int
	Refund        *big.Int
}

// PeriodPay applies a payment against the current term balance. The
// payment is capped at what remains owed; the excess is refunded.
func (a Accrued) PeriodPay(amount *big.Int) (PayResult, error) {
	if err := a.active(); err != nil {
		return PayResult{}, err
	}
	p := a.Pos.Clone()
	if p.PenaltyRemaining().Sign() > 0 {
		return PayResult{}, ErrUnpaidPenalties
	}
	remaining := p.TermRemaining()
	if remaining.Sign() == 0 {
		if amount != nil && amount.Sign() > 0 {
			return PayResult{}, ErrCannotOverpay
		}
		return PayResult{Pos: p, PrincipalPaid: big.NewInt(0), Refund: big.NewInt(0)}, nil
	}
	if amount == nil || amount.Sign() <= 0 {
		return PayResult{}, ErrZeroAmount
	}
	if !p.HasPaymentPlan && amount.Cmp(remaining) < 0 {
		return PayResult{}, ErrCannotPartialPrepay
	}
	pay := minBig(amount, remaining)
	refund := new(big.Int).Sub(amount, pay)
	principal := PrincipalEquivalent(&p, pay)
	p.TermPaid = new(big.Int).Add(p.TermPaid, pay)
	p.PaymentsMissed = missedPayments(&p, a.now, a.lateWindow)
	return PayResult{Pos: p, PrincipalPaid: principal, Refund: refund}, nil
}

// PenaltyPay applies a payment against accrued penalties only.
func (a Accrued) PenaltyPay(amount *big.Int) (model.LoanPosition, *big.Int, *big.Int, error) {
	if err := a.active(); err != nil {
		return model.LoanPosition{}, nil, nil, err
	}
	p := a.Pos.Clone()
	if amount == nil || amount.Sign() <= 0 {
		return model.LoanPosition{}, nil, nil, ErrZeroAmount
	}
	remaining := p.PenaltyRemaining()
	if remaining.Sign() == 0 {
		return model.LoanPosition{}, nil, nil, ErrCannotOverpayPenalty
	}
	pay := minBig(amount, remaining)
	refund := new(big.Int).Sub(amount, pay)
	p.PenaltyPaid = new(big.Int).Add(p.PenaltyPaid, pay)
	return p, pay, refund, nil
}

// Redeem closes a position whose term and penalties are fully settled.
func (a Accrued) Redeem() (model.LoanPosition, error) {
	if err := a.active(); err != nil {
		return model.LoanPosition{}, err
	}
	p := a.Pos.Clone()
	if p.PenaltyRemaining().Sign() > 0 {
		return model.LoanPosition{}, ErrUnpaidPenalties
	}
	if p.TermRemaining().Sign() > 0 {
		return model.LoanPosition{}, ErrUnpaidPayments
	}
	p.Status = model.LoanRedeemed
	return p, nil
}

// Refinance closes out the current term and opens a new one on the
// remaining principal at a new rate and duration, charging an immediate
// fee proportional to principal remaining. Returns the fee charged.
func (a Accrued) Refinance(refinanceRateBps, newRateBps, newTotalPeriods uint64) (model.LoanPosition, *big.Int, error) {
	if err := a.active(); err != nil {
		return model.LoanPosition{}, nil, err
	}
	p := a.Pos.Clone()
	if p.TermRemaining().Sign() == 0 {
		return model.LoanPosition{}, nil, ErrNothingToRefinance
	}
	if p.PenaltyRemaining().Sign() > 0 {
		return model.LoanPosition{}, nil, ErrUnpaidPenalties
	}
	if p.PaymentsMissed > 0 {
		return model.LoanPosition{}, nil, ErrMissedPayments
	}
	principal := PrincipalRemaining(&p)
	fee := mulDiv(principal, new(big.Int).SetUint64(refinanceRateBps), basisPoints)
	// The fee is paid immediately: accrued and settled in one move so
	// the penalty ledger still records it.
	p.PenaltyAccrued = new(big.Int).Add(p.PenaltyAccrued, fee)
	p.PenaltyPaid = new(big.Int).Add(p.PenaltyPaid, fee)

	foldTerm(&p)
	openTerm(&p, principal, newRateBps, newTotalPeriods, a.now)
	return p, fee, nil
}

// Foreclose transitions a delinquent position to FORECLOSED.
func (a Accrued) Foreclose(maxMissedPayments uint64) (model.LoanPosition, error) {
	if err := a.active(); err != nil {
		return model.LoanPosition{}, err
	}
	p := a.Pos.Clone()
	if p.PaymentsMissed <= maxMissedPayments {
		return model.LoanPosition{}, ErrNotForeclosable
	}
	p.Status = model.LoanForeclosed
	return p, nil
}

// Convert extinguishes principal and collateral to satisfy withdrawal
// claims. The principal converting is booked against the term at its
// payment-equivalent value; missed-payment state is recomputed so the
// conversion neither excuses accrued penalties nor double-counts
// periods already covered by payments.
func (a Accrued) Convert(principalConverting, collateralConverting *big.Int) (model.LoanPosition, *big.Int, error) {
	if err := a.active(); err != nil {
		return model.LoanPosition{}, nil, err
	}
	p := a.Pos.Clone()
	if principalConverting.Cmp(PrincipalRemaining(&p)) > 0 ||
		collateralConverting.Cmp(p.CollateralRemaining()) > 0 {
		return model.LoanPosition{}, nil, ErrCannotOverConvert
	}
	payment := PaymentEquivalent(&p, principalConverting)
	p.TermConverted = new(big.Int).Add(p.TermConverted, payment)
	p.CollateralConverted = new(big.Int).Add(p.CollateralConverted, collateralConverting)
	p.PaymentsMissed = missedPayments(&p, a.now, a.lateWindow)
	return p, payment, nil
}

// ExpandBalanceSheet grows the position with fresh principal and
// collateral at a principal-weighted-average rate, resetting the term
// the same way a refinance does. The position must be fully current.
func (a Accrued) ExpandBalanceSheet(amountIn, collateralIn *big.Int, newRateBps uint64) (model.LoanPosition, error) {
	if err := a.active(); err != nil {
		return model.LoanPosition{}, err
	}
	p := a.Pos.Clone()
	if p.PenaltyRemaining().Sign() > 0 {
		return model.LoanPosition{}, ErrUnpaidPenalties
	}
	if missedPayments(&p, a.now, a.lateWindow) > 0 {
		return model.LoanPosition{}, ErrMissedPayments
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return model.LoanPosition{}, ErrZeroAmount
	}
	principal := PrincipalRemaining(&p)

	// Weighted-average rate over the combined principal.
	total := new(big.Int).Add(principal, amountIn)
	rate := p.RateBps
	if total.Sign() > 0 {
		weighted := new(big.Int).Mul(new(big.Int).SetUint64(p.RateBps), principal)
		weighted.Add(weighted, new(big.Int).Mul(new(big.Int).SetUint64(newRateBps), amountIn))
		weighted.Quo(weighted, total)
		rate = weighted.Uint64()
	} else {
		rate = newRateBps
	}

	// Fold the closing term against its own principal before the new
	// money is booked, or the proportional allocation would be diluted.
	foldTerm(&p)
	p.AmountBorrowed = new(big.Int).Add(p.AmountBorrowed, amountIn)
	p.CollateralAmount = new(big.Int).Add(p.CollateralAmount, collateralIn)
	openTerm(&p, total, rate, p.TotalPeriods, a.now)
	return p, nil
}

// foldTerm books the closing term's paid/converted principal into the
// carried totals.
func foldTerm(p *model.LoanPosition) {
	paid := PrincipalEquivalent(p, p.TermPaid)
	converted := PrincipalEquivalent(p, p.TermConverted)
	p.AmountPrior = new(big.Int).Add(p.AmountPrior, paid)
	p.AmountConverted = new(big.Int).Add(p.AmountConverted, converted)
}

// openTerm starts a fresh term on the given principal.
func openTerm(p *model.LoanPosition, newPrincipal *big.Int, rateBps, totalPeriods uint64, now time.Time) {
	p.RateBps = rateBps
	p.TotalPeriods = totalPeriods
	p.TermBalance = CalculateTermBalance(newPrincipal, rateBps, totalPeriods, totalPeriods)
	p.TermPaid = big.NewInt(0)
	p.TermConverted = big.NewInt(0)
	p.PaymentsMissed = 0
	p.TermStart = now
}
