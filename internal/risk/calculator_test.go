package risk_test

import (
	"errors"
	"math/big"
	"testing"

	fpmath "LendDesk/internal/math"
	"LendDesk/internal/risk"
)

// usd builds a whole-dollar price on the precision scale.
func usd(dollars int64) *big.Int {
	return big.NewInt(dollars * fpmath.PrecisionScale)
}

func ethInput(collateralUnits, loanUnits int64, collateralPrice *big.Int) risk.Input {
	return risk.Input{
		CollateralAmount:   big.NewInt(collateralUnits),
		CollateralPrice:    collateralPrice,
		CollateralDecimals: 0,
		LoanAmount:         big.NewInt(loanUnits),
		LoanPrice:          usd(1),
		LoanDecimals:       0,
		Params:             risk.ParamsFor("ETH"),
	}
}

func TestCompute_BasicMetrics(t *testing.T) {
	// 15 units at $100 against a $1000 debt: 150% collateralized.
	m, err := risk.Compute(ethInput(15, 1000, usd(100)))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if m.CollateralizationRatio.Int64() != 1_500_000 {
		t.Errorf("ratio: got %s, want 1_500_000", m.CollateralizationRatio)
	}
	// floor(1_500_000 * 1e6 / 1_250_000) = 1_200_000
	if m.HealthFactor.Int64() != 1_200_000 {
		t.Errorf("health factor: got %s, want 1_200_000", m.HealthFactor)
	}
	// liquidation at $83.333333 per collateral unit
	if m.LiquidationPrice.Int64() != 83_333_333 {
		t.Errorf("liquidation price: got %s, want 83_333_333", m.LiquidationPrice)
	}
	if m.PriceDropToLiquidation.Int64() != 100_000_000-83_333_333 {
		t.Errorf("price drop: got %s", m.PriceDropToLiquidation)
	}
	if m.Level != risk.LevelWarning {
		t.Errorf("level: got %s, want Warning", m.Level)
	}
}

func TestCompute_RatioMonotonicity(t *testing.T) {
	var prevRatio *big.Int
	// Increasing collateral value, fixed loan: ratio must not decrease.
	for units := int64(10); units <= 50; units += 10 {
		m, err := risk.Compute(ethInput(units, 1000, usd(100)))
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		if prevRatio != nil && m.CollateralizationRatio.Cmp(prevRatio) <= 0 {
			t.Errorf("ratio must increase with collateral value: %s after %s", m.CollateralizationRatio, prevRatio)
		}
		prevRatio = m.CollateralizationRatio
	}

	prevRatio = nil
	// Increasing loan value, fixed collateral: ratio must decrease.
	for loan := int64(500); loan <= 2500; loan += 500 {
		m, err := risk.Compute(ethInput(20, loan, usd(100)))
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		if prevRatio != nil && m.CollateralizationRatio.Cmp(prevRatio) >= 0 {
			t.Errorf("ratio must decrease with loan value: %s after %s", m.CollateralizationRatio, prevRatio)
		}
		prevRatio = m.CollateralizationRatio
	}
}

func TestCompute_HealthFactorBoundary(t *testing.T) {
	params := risk.ParamsFor("ETH")
	precision := big.NewInt(fpmath.PrecisionScale)

	// Sweep ratios around the threshold: HF >= 1.0 iff ratio >= threshold.
	for _, loan := range []int64{800, 1000, 1200, 1250, 1280, 1600, 2000} {
		// collateral fixed at $1250-equivalent, ratio = 1250e6*1e6/loanUSD
		m, err := risk.Compute(ethInput(125, loan, usd(10)))
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		atOrAbove := m.CollateralizationRatio.Cmp(big.NewInt(params.LiquidationThreshold)) >= 0
		hfAtOrAbove := m.HealthFactor.Cmp(precision) >= 0
		if atOrAbove != hfAtOrAbove {
			t.Errorf("loan=%d: ratio %s vs threshold disagrees with HF %s vs 1.0",
				loan, m.CollateralizationRatio, m.HealthFactor)
		}
	}
}

func TestCompute_ZeroCollateralIsDivisionByZero(t *testing.T) {
	_, err := risk.Compute(ethInput(0, 1000, usd(100)))
	if !errors.Is(err, fpmath.ErrDivisionByZero) {
		t.Fatalf("got %v, want ErrDivisionByZero", err)
	}
}

func TestCompute_ZeroDebtIsDebtFree(t *testing.T) {
	m, err := risk.Compute(ethInput(15, 0, usd(100)))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !m.DebtFree {
		t.Fatal("zero debt must be the DebtFree display case")
	}
	if m.Level != risk.LevelHealthy {
		t.Errorf("level: got %s, want Healthy", m.Level)
	}
	if m.CollateralizationRatio != nil {
		t.Error("ratio must be nil in the DebtFree case")
	}
}

func TestCompute_PriceDropClampedAtZero(t *testing.T) {
	// Price already below the liquidation price: drop reports 0, not negative.
	m, err := risk.Compute(ethInput(10, 1000, usd(50)))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if m.Level != risk.LevelLiquidatable {
		t.Errorf("level: got %s, want Liquidatable", m.Level)
	}
	if m.PriceDropToLiquidation.Sign() != 0 {
		t.Errorf("price drop: got %s, want 0", m.PriceDropToLiquidation)
	}
}

func TestClassify_BandsExhaustive(t *testing.T) {
	params := risk.ParamsFor("ETH")

	cases := []struct {
		ratio int64
		want  risk.Level
	}{
		{0, risk.LevelLiquidatable},
		{params.LiquidationThreshold - 1, risk.LevelLiquidatable},
		{params.LiquidationThreshold, risk.LevelCritical},
		{params.CriticalRatio - 1, risk.LevelCritical},
		{params.CriticalRatio, risk.LevelDanger},
		{params.DangerRatio - 1, risk.LevelDanger},
		{params.DangerRatio, risk.LevelWarning},
		{params.WarningRatio - 1, risk.LevelWarning},
		{params.WarningRatio, risk.LevelHealthy},
		{10_000_000, risk.LevelHealthy},
	}

	for _, tc := range cases {
		got := risk.Classify(big.NewInt(tc.ratio), params)
		if got != tc.want {
			t.Errorf("ratio %d: got %s, want %s", tc.ratio, got, tc.want)
		}
	}
}

func TestDefaultParams_Valid(t *testing.T) {
	for class, p := range risk.DefaultParams {
		if err := p.Validate(); err != nil {
			t.Errorf("params %s: %v", class, err)
		}
	}
	if risk.ParamsFor("UNKNOWN") == nil {
		t.Fatal("unknown asset class must fall back to conservative params")
	}
	if err := risk.ParamsFor("UNKNOWN").Validate(); err != nil {
		t.Errorf("fallback params: %v", err)
	}
}
