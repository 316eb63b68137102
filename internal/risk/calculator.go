package risk

import (
	"fmt"
	"math/big"

	fpmath "LendDesk/internal/math"
)

// Level is the coarse risk classification shown to the user. Levels are
// totally ordered from best to worst.
type Level int

const (
	LevelHealthy Level = iota
	LevelWarning
	LevelDanger
	LevelCritical
	LevelLiquidatable
)

func (l Level) String() string {
	switch l {
	case LevelHealthy:
		return "Healthy"
	case LevelWarning:
		return "Warning"
	case LevelDanger:
		return "Danger"
	case LevelCritical:
		return "Critical"
	case LevelLiquidatable:
		return "Liquidatable"
	default:
		return "Unknown"
	}
}

// Input carries everything a metrics computation needs. Prices are USD per
// whole asset unit on the fpmath.PrecisionScale; amounts are in each asset's
// smallest unit.
type Input struct {
	CollateralAmount   *big.Int
	CollateralPrice    *big.Int
	CollateralDecimals uint8

	// LoanAmount is the total outstanding debt, principal plus accrued
	// interest, so the metrics reflect what a liquidator would see.
	LoanAmount   *big.Int
	LoanPrice    *big.Int
	LoanDecimals uint8

	Params *Params
}

// Metrics are display values derived from current prices and position
// amounts. Never persisted; recomputed whenever an input changes.
type Metrics struct {
	CollateralizationRatio *big.Int
	HealthFactor           *big.Int
	LiquidationPrice       *big.Int
	PriceDropToLiquidation *big.Int
	Level                  Level

	// DebtFree marks the intentional "infinite health" display case: the
	// position has no debt, so ratio-derived fields are meaningless and nil.
	DebtFree bool
}

// AssetValueUSD converts an amount in an asset's smallest unit to a USD
// value on the precision scale, flooring: value = amount * price / 10^dec.
func AssetValueUSD(amount, price *big.Int, decimals uint8) *big.Int {
	if fpmath.IsZeroOrNil(amount) || fpmath.IsZeroOrNil(price) {
		return new(big.Int)
	}
	out, _ := fpmath.MulDiv(amount, price, fpmath.Pow10(decimals))
	return out
}

// Compute derives the full metric set. Pure and synchronous: no suspension
// points, no side effects.
//
// Zero debt is the DebtFree display case, not an error. Zero collateral with
// outstanding debt fails with fpmath.ErrDivisionByZero on the liquidation
// price: callers must treat that explicitly rather than receive an infinity.
func Compute(in Input) (Metrics, error) {
	params := in.Params
	if params == nil {
		params = fallbackParams
	}

	loanValue := AssetValueUSD(in.LoanAmount, in.LoanPrice, in.LoanDecimals)
	if loanValue.Sign() == 0 {
		return Metrics{
			Level:                  LevelHealthy,
			PriceDropToLiquidation: new(big.Int),
			DebtFree:               true,
		}, nil
	}

	collateralValue := AssetValueUSD(in.CollateralAmount, in.CollateralPrice, in.CollateralDecimals)

	// ratio = floor(collateralUSD * PRECISION / loanUSD)
	ratio, err := fpmath.MulDiv(collateralValue, fpmath.Precision, loanValue)
	if err != nil {
		return Metrics{}, fmt.Errorf("collateralization ratio: %w", err)
	}

	// healthFactor = floor(ratio * PRECISION / threshold); >= PRECISION
	// exactly when ratio >= threshold.
	healthFactor, err := fpmath.MulDiv(ratio, fpmath.Precision, big.NewInt(params.LiquidationThreshold))
	if err != nil {
		return Metrics{}, fmt.Errorf("health factor: %w", err)
	}

	// liquidationPrice = loanUSD * threshold * 10^colDecimals /
	// (collateralAmount * PRECISION), the collateral price at which the
	// ratio touches the threshold.
	if fpmath.IsZeroOrNil(in.CollateralAmount) {
		return Metrics{}, fmt.Errorf("liquidation price: %w", fpmath.ErrDivisionByZero)
	}
	numerator := new(big.Int).Mul(loanValue, big.NewInt(params.LiquidationThreshold))
	numerator.Mul(numerator, fpmath.Pow10(in.CollateralDecimals))
	denominator := new(big.Int).Mul(in.CollateralAmount, fpmath.Precision)
	liquidationPrice, err := fpmath.MulDiv(numerator, big.NewInt(1), denominator)
	if err != nil {
		return Metrics{}, fmt.Errorf("liquidation price: %w", err)
	}

	// Only meaningful above the liquidation price; at or below it the
	// position is already liquidatable and the drop is reported as zero,
	// never negative.
	drop := new(big.Int)
	if in.CollateralPrice != nil && in.CollateralPrice.Cmp(liquidationPrice) > 0 {
		drop.Sub(in.CollateralPrice, liquidationPrice)
	}

	return Metrics{
		CollateralizationRatio: ratio,
		HealthFactor:           healthFactor,
		LiquidationPrice:       liquidationPrice,
		PriceDropToLiquidation: drop,
		Level:                  Classify(ratio, params),
	}, nil
}

// Classify maps a non-negative collateralization ratio to exactly one band.
func Classify(ratio *big.Int, params *Params) Level {
	if params == nil {
		params = fallbackParams
	}
	switch {
	case ratio.Cmp(big.NewInt(params.WarningRatio)) >= 0:
		return LevelHealthy
	case ratio.Cmp(big.NewInt(params.DangerRatio)) >= 0:
		return LevelWarning
	case ratio.Cmp(big.NewInt(params.CriticalRatio)) >= 0:
		return LevelDanger
	case ratio.Cmp(big.NewInt(params.LiquidationThreshold)) >= 0:
		return LevelCritical
	default:
		return LevelLiquidatable
	}
}
