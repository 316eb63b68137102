package debt

import (
	"errors"
	"math/big"

	"LendDesk/internal/ledger"
	fpmath "LendDesk/internal/math"
)

var (
	// ErrInvalidAmount is returned when a partial repayment is explicitly
	// requested with a non-positive amount.
	ErrInvalidAmount = errors.New("invalid repayment amount")

	// ErrPositionInactive is returned when the position has no outstanding
	// debt to repay.
	ErrPositionInactive = errors.New("position has no outstanding debt")
)

// RepaymentPlan splits a repayment into its settlement components.
//
// Invariants: InterestPayment + PrincipalPayment == NetAmount,
// InterestPayment <= the snapshot's accrued interest, and the protocol fee is
// charged on the interest portion only.
type RepaymentPlan struct {
	InterestPayment   *big.Int
	PrincipalPayment  *big.Int
	ProtocolFee       *big.Int
	NetAmount         *big.Int
	WillClosePosition bool
}

// TotalOutflow is the full amount leaving the borrower's wallet: the
// settlement itself plus the protocol fee routed to the fee recipient.
func (p RepaymentPlan) TotalOutflow() *big.Int {
	return new(big.Int).Add(p.NetAmount, p.ProtocolFee)
}

// Decompose splits a requested repayment against the given snapshot.
//
// A nil requested amount, or one at or above the total debt, yields a full
// repayment; anything else is clamped to the total debt so a plan can never
// overpay. Interest is settled before principal. The fee rate is a
// fixed-point fraction on fpmath.PrecisionScale and is floored exactly the
// way the chain floors it, since approval amounts derive from the result.
//
// Decompose is pure: same inputs, same plan, no hidden state.
func Decompose(snapshot ledger.DebtSnapshot, requested *big.Int, feeRate int64) (RepaymentPlan, error) {
	if !snapshot.HasDebt() {
		return RepaymentPlan{}, ErrPositionInactive
	}

	total := fpmath.Clone(snapshot.TotalDebt)
	interestOwed := fpmath.Clone(snapshot.AccruedInterest)

	var net *big.Int
	switch {
	case requested == nil:
		net = total
	case requested.Sign() <= 0:
		return RepaymentPlan{}, ErrInvalidAmount
	default:
		net = fpmath.Min(requested, total)
	}

	interestPayment := fpmath.Min(net, interestOwed)
	principalPayment := new(big.Int).Sub(net, interestPayment)
	fee := fpmath.ApplyRate(interestPayment, feeRate)

	return RepaymentPlan{
		InterestPayment:   interestPayment,
		PrincipalPayment:  principalPayment,
		ProtocolFee:       fee,
		NetAmount:         net,
		WillClosePosition: net.Cmp(total) >= 0,
	}, nil
}
