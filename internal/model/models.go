package model

import (
	"math/big"
	"time"
)

// ── Enums ────────────────────────────────────────────

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type LoanStatus string

const (
	LoanActive     LoanStatus = "ACTIVE"
	LoanRedeemed   LoanStatus = "REDEEMED"
	LoanForeclosed LoanStatus = "FORECLOSED"
)

// ── Domain Objects ───────────────────────────────────

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type Wallet struct {
	UserID  string   `json:"user_id"`
	Balance *big.Int `json:"balance"`
}

// Pool groups loan positions backed by one collateral asset and the
// lenders funding them. TotalAssets is the pool backing that shares
// rebase against; TotalShares is the durable accounting unit.
type Pool struct {
	ID                 string    `json:"id"`
	Slug               string    `json:"slug"`
	Collateral         string    `json:"collateral"`
	CollateralDecimals uint32    `json:"collateral_decimals"`
	TotalAssets        *big.Int  `json:"total_assets"`
	TotalShares        *big.Int  `json:"total_shares"`
	CollateralHeld     *big.Int  `json:"collateral_held"`
	CreatedAt          time.Time `json:"created_at"`
}

// LoanPosition is one fixed-term, interest-bearing loan. Amounts are
// big integers in the pool's smallest asset unit. A position is mutated
// only through the loan package transforms and becomes immutable once
// Status leaves ACTIVE.
type LoanPosition struct {
	TokenID             uint64        `json:"token_id"`
	PoolID              string        `json:"pool_id"`
	Borrower            string        `json:"borrower"`
	CollateralAmount    *big.Int      `json:"collateral_amount"`
	CollateralConverted *big.Int      `json:"collateral_converted"`
	RateBps             uint64        `json:"rate_bps"`
	AmountBorrowed      *big.Int      `json:"amount_borrowed"`
	AmountPrior         *big.Int      `json:"amount_prior"`
	AmountConverted     *big.Int      `json:"amount_converted"`
	TermBalance         *big.Int      `json:"term_balance"`
	TermPaid            *big.Int      `json:"term_paid"`
	TermConverted       *big.Int      `json:"term_converted"`
	PenaltyAccrued      *big.Int      `json:"penalty_accrued"`
	PenaltyPaid         *big.Int      `json:"penalty_paid"`
	PaymentsMissed      uint64        `json:"payments_missed"`
	PeriodDuration      time.Duration `json:"period_duration"`
	TotalPeriods        uint64        `json:"total_periods"`
	HasPaymentPlan      bool          `json:"has_payment_plan"`
	TermStart           time.Time     `json:"term_start"`
	Status              LoanStatus    `json:"status"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// TermRemaining is what is still owed on the current term.
func (p *LoanPosition) TermRemaining() *big.Int {
	rem := new(big.Int).Sub(p.TermBalance, p.TermPaid)
	rem.Sub(rem, p.TermConverted)
	if rem.Sign() < 0 {
		return big.NewInt(0)
	}
	return rem
}

// PenaltyRemaining is accrued penalties not yet paid.
func (p *LoanPosition) PenaltyRemaining() *big.Int {
	rem := new(big.Int).Sub(p.PenaltyAccrued, p.PenaltyPaid)
	if rem.Sign() < 0 {
		return big.NewInt(0)
	}
	return rem
}

// CollateralRemaining is pledged collateral not yet converted.
func (p *LoanPosition) CollateralRemaining() *big.Int {
	rem := new(big.Int).Sub(p.CollateralAmount, p.CollateralConverted)
	if rem.Sign() < 0 {
		return big.NewInt(0)
	}
	return rem
}

// Clone returns a deep copy so transforms never alias caller state.
func (p LoanPosition) Clone() LoanPosition {
	out := p
	out.CollateralAmount = cloneBig(p.CollateralAmount)
	out.CollateralConverted = cloneBig(p.CollateralConverted)
	out.AmountBorrowed = cloneBig(p.AmountBorrowed)
	out.AmountPrior = cloneBig(p.AmountPrior)
	out.AmountConverted = cloneBig(p.AmountConverted)
	out.TermBalance = cloneBig(p.TermBalance)
	out.TermPaid = cloneBig(p.TermPaid)
	out.TermConverted = cloneBig(p.TermConverted)
	out.PenaltyAccrued = cloneBig(p.PenaltyAccrued)
	out.PenaltyPaid = cloneBig(p.PenaltyPaid)
	return out
}

// WithdrawalClaim is one FIFO slot awaiting fulfillment. Shares is the
// claim's share count valued at request time, the baseline for yield
// forfeiture. Amount decreases as the claim is partially fulfilled.
type WithdrawalClaim struct {
	Index     uint64    `json:"index"`
	PoolID    string    `json:"pool_id"`
	Account   string    `json:"account"`
	Shares    *big.Int  `json:"shares"`
	Amount    *big.Int  `json:"amount"`
	GasFee    *big.Int  `json:"gas_fee"`
	Timestamp time.Time `json:"timestamp"`
}

func (c WithdrawalClaim) Clone() WithdrawalClaim {
	out := c
	out.Shares = cloneBig(c.Shares)
	out.Amount = cloneBig(c.Amount)
	out.GasFee = cloneBig(c.GasFee)
	return out
}

// QueueNode is the persisted form of one trigger-queue entry. Order is
// reconstructed from (trigger_price, created_at) at boot, so links are
// not stored.
type QueueNode struct {
	TokenID      uint64    `json:"token_id"`
	PoolID       string    `json:"pool_id"`
	TriggerPrice *big.Int  `json:"trigger_price"`
	GasFee       *big.Int  `json:"gas_fee"`
	Payer        string    `json:"payer"`
	CreatedAt    time.Time `json:"created_at"`
}

type EventLog struct {
	ID          int64     `json:"id"`
	PoolID      *string   `json:"pool_id,omitempty"`
	Type        string    `json:"type"`
	PayloadJSON any       `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// ── API Types ────────────────────────────────────────

type OriginateLoanReq struct {
	TokenID        uint64 `json:"token_id"`
	Borrower       string `json:"borrower"`
	Collateral     string `json:"collateral_amount"`
	Principal      string `json:"principal"`
	RateBps        uint64 `json:"rate_bps"`
	TotalPeriods   uint64 `json:"total_periods"`
	PeriodSeconds  int64  `json:"period_seconds"`
	HasPaymentPlan bool   `json:"has_payment_plan"`
}

type InsertPositionReq struct {
	TokenID      uint64 `json:"token_id"`
	TriggerPrice string `json:"trigger_price"`
	HintPrev     uint64 `json:"hint_prev"`
}

type EnqueueClaimReq struct {
	Amount string `json:"amount"`
}

type ProcessReq struct {
	Iterations   uint64 `json:"iterations"`
	CurrentPrice string `json:"current_price,omitempty"`
}

type ProcessSummary struct {
	Count           uint64   `json:"count"`
	FeeRefund       *big.Int `json:"fee_refund"`
	ClaimsFulfilled []uint64 `json:"claims_fulfilled"`
	PositionsPopped []uint64 `json:"positions_popped"`
}

type QueueEntry struct {
	TokenID      uint64   `json:"token_id"`
	TriggerPrice *big.Int `json:"trigger_price"`
}

type QueueSnapshot struct {
	Positions []QueueEntry      `json:"positions"`
	Claims    []WithdrawalClaim `json:"claims"`
}

func cloneBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}
