package risk

import "fmt"

// Params defines the collateralization bands for one collateral asset class.
// All ratios are fixed-point on the 1_000_000 precision scale: 1_500_000
// means 150% collateralization.
//
// Bands are contiguous and exhaustive over ratio >= 0:
//
//	ratio >= Warning            -> Healthy
//	Danger <= ratio < Warning   -> Warning
//	Critical <= ratio < Danger  -> Danger
//	Threshold <= ratio < Critical -> Critical
//	ratio < Threshold           -> Liquidatable
type Params struct {
	AssetClass string

	// LiquidationThreshold is the ratio at which the position becomes
	// eligible for liquidation.
	LiquidationThreshold int64

	WarningRatio  int64
	DangerRatio   int64
	CriticalRatio int64
}

// Validate rejects band orderings that would leave gaps or overlaps.
func (p *Params) Validate() error {
	if p.LiquidationThreshold <= 0 {
		return fmt.Errorf("asset class %s: liquidation threshold must be positive", p.AssetClass)
	}
	if !(p.WarningRatio > p.DangerRatio &&
		p.DangerRatio > p.CriticalRatio &&
		p.CriticalRatio > p.LiquidationThreshold) {
		return fmt.Errorf("asset class %s: bands must strictly descend warning > danger > critical > threshold", p.AssetClass)
	}
	return nil
}

var (
	// DefaultParams maps collateral asset classes to their bands. Volatile
	// collateral carries wider safety margins than stables.
	DefaultParams = map[string]*Params{
		"ETH": {
			AssetClass:           "ETH",
			LiquidationThreshold: 1_250_000, // 125%
			CriticalRatio:        1_350_000,
			DangerRatio:          1_500_000,
			WarningRatio:         1_800_000,
		},
		"WBTC": {
			AssetClass:           "WBTC",
			LiquidationThreshold: 1_250_000,
			CriticalRatio:        1_350_000,
			DangerRatio:          1_500_000,
			WarningRatio:         1_800_000,
		},
		"USDC": {
			AssetClass:           "USDC",
			LiquidationThreshold: 1_050_000, // 105%
			CriticalRatio:        1_080_000,
			DangerRatio:          1_120_000,
			WarningRatio:         1_200_000,
		},
		"DAI": {
			AssetClass:           "DAI",
			LiquidationThreshold: 1_050_000,
			CriticalRatio:        1_080_000,
			DangerRatio:          1_120_000,
			WarningRatio:         1_200_000,
		},
	}

	// fallbackParams covers collateral the registry has no entry for, using
	// the most conservative (volatile) bands.
	fallbackParams = &Params{
		AssetClass:           "DEFAULT",
		LiquidationThreshold: 1_250_000,
		CriticalRatio:        1_350_000,
		DangerRatio:          1_500_000,
		WarningRatio:         1_800_000,
	}
)

// ParamsFor returns the bands for a collateral asset class.
func ParamsFor(assetClass string) *Params {
	if p, ok := DefaultParams[assetClass]; ok {
		return p
	}
	return fallbackParams
}
