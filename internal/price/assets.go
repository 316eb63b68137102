package price

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Asset describes one entry in the fixed set of supported assets.
type Asset struct {
	Symbol   string
	Token    common.Address
	Decimals uint8

	// FallbackPrice is the documented static default, USD per whole unit on
	// the precision scale, served when the price source is unreachable.
	FallbackPrice *big.Int
}

// Supported is the fixed asset registry. The protocol contracts only accept
// these tokens, so the client does not discover assets dynamically.
var Supported = map[string]Asset{
	"ETH": {
		Symbol:        "ETH",
		Token:         common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		Decimals:      18,
		FallbackPrice: big.NewInt(2_500_000_000), // $2500
	},
	"WBTC": {
		Symbol:        "WBTC",
		Token:         common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"),
		Decimals:      8,
		FallbackPrice: big.NewInt(60_000_000_000), // $60000
	},
	"USDC": {
		Symbol:        "USDC",
		Token:         common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Decimals:      6,
		FallbackPrice: big.NewInt(1_000_000), // $1
	},
	"DAI": {
		Symbol:        "DAI",
		Token:         common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
		Decimals:      18,
		FallbackPrice: big.NewInt(1_000_000), // $1
	},
}

// Lookup resolves a symbol against the registry.
func Lookup(symbol string) (Asset, bool) {
	a, ok := Supported[symbol]
	return a, ok
}

// Symbols returns the registry's symbols in unspecified order.
func Symbols() []string {
	out := make([]string, 0, len(Supported))
	for s := range Supported {
		out = append(out, s)
	}
	return out
}
