package position

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	fpmath "LendDesk/internal/math"
)

var (
	// ErrInactiveWithDebt flags a ledger read that violates the position
	// lifecycle: an inactive position must carry zero outstanding debt.
	ErrInactiveWithDebt = errors.New("inactive position with outstanding debt")

	// ErrNegativeAmount flags a ledger read with a negative balance field.
	ErrNegativeAmount = errors.New("negative amount")
)

// Position is a borrower's open loan as read from the chain. The chain owns
// this entity; the client never mutates it, only re-reads it.
type Position struct {
	ID       string
	Borrower common.Address

	// Asset symbols, resolved to token contracts via the asset registry.
	CollateralAsset string
	LoanAsset       string

	// Amounts in each asset's smallest unit.
	CollateralAmount *big.Int
	Principal        *big.Int

	// Annualized rate, fixed-point on fpmath.PrecisionScale.
	InterestRate int64

	CreatedAt          time.Time
	LastInterestUpdate time.Time

	IsActive bool
}

// Validate checks the invariants a well-formed ledger read must satisfy.
func (p *Position) Validate() error {
	if p.ID == "" {
		return errors.New("empty position id")
	}
	if p.CollateralAmount != nil && p.CollateralAmount.Sign() < 0 {
		return fmt.Errorf("collateral: %w", ErrNegativeAmount)
	}
	if p.Principal != nil && p.Principal.Sign() < 0 {
		return fmt.Errorf("principal: %w", ErrNegativeAmount)
	}
	if !p.IsActive && fpmath.IsPositive(p.Principal) {
		return ErrInactiveWithDebt
	}
	return nil
}

// HasDebt reports whether any principal remains. Accrued interest lives in
// the debt snapshot, not here.
func (p *Position) HasDebt() bool {
	return fpmath.IsPositive(p.Principal)
}

// EstimateAccrual returns the interest the position would accrue over the
// given window at its current rate, floored. This is a UX estimate only; the
// chain's own accrual remains authoritative.
func (p *Position) EstimateAccrual(window time.Duration) *big.Int {
	if !fpmath.IsPositive(p.Principal) || p.InterestRate <= 0 || window <= 0 {
		return new(big.Int)
	}
	perYear := fpmath.ApplyRate(p.Principal, p.InterestRate)
	out, err := fpmath.MulScale(perYear, int64(window/time.Second), 365*24*3600)
	if err != nil {
		return new(big.Int)
	}
	return out
}
