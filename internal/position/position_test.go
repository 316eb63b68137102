package position

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func validPosition() Position {
	return Position{
		ID:               "pos-1",
		Borrower:         common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		CollateralAsset:  "ETH",
		LoanAsset:        "USDC",
		CollateralAmount: big.NewInt(1e18),
		Principal:        big.NewInt(1000),
		InterestRate:     80_000,
		CreatedAt:        time.Now(),
		IsActive:         true,
	}
}

func TestValidate(t *testing.T) {
	p := validPosition()
	if err := p.Validate(); err != nil {
		t.Fatalf("valid position: %v", err)
	}

	p = validPosition()
	p.ID = ""
	if err := p.Validate(); err == nil {
		t.Error("empty id should fail")
	}

	p = validPosition()
	p.Principal = big.NewInt(-1)
	if err := p.Validate(); !errors.Is(err, ErrNegativeAmount) {
		t.Errorf("err = %v, want ErrNegativeAmount", err)
	}

	p = validPosition()
	p.IsActive = false
	if err := p.Validate(); !errors.Is(err, ErrInactiveWithDebt) {
		t.Errorf("err = %v, want ErrInactiveWithDebt", err)
	}

	// Closed position with zero principal is well formed.
	p = validPosition()
	p.IsActive = false
	p.Principal = big.NewInt(0)
	if err := p.Validate(); err != nil {
		t.Errorf("closed position: %v", err)
	}
}

func TestHasDebt(t *testing.T) {
	p := validPosition()
	if !p.HasDebt() {
		t.Error("principal 1000 should count as debt")
	}
	p.Principal = big.NewInt(0)
	if p.HasDebt() {
		t.Error("zero principal should not count as debt")
	}
	p.Principal = nil
	if p.HasDebt() {
		t.Error("nil principal should not count as debt")
	}
}

func TestEstimateAccrual(t *testing.T) {
	p := validPosition()
	p.Principal = big.NewInt(1_000_000)
	p.InterestRate = 80_000 // 8% per year

	// One year accrues the full 8%.
	got := p.EstimateAccrual(365 * 24 * time.Hour)
	if got.Int64() != 80_000 {
		t.Errorf("year accrual = %d, want 80000", got.Int64())
	}

	// Half a year floors half of it.
	got = p.EstimateAccrual(365 * 12 * time.Hour)
	if got.Int64() != 40_000 {
		t.Errorf("half-year accrual = %d, want 40000", got.Int64())
	}

	if p.EstimateAccrual(0).Sign() != 0 {
		t.Error("zero window accrues nothing")
	}

	p.Principal = big.NewInt(0)
	if p.EstimateAccrual(time.Hour).Sign() != 0 {
		t.Error("no principal accrues nothing")
	}
}
