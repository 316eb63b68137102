package price

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSource pulls prices from the oracle's HTTP endpoint:
// GET {base}/prices?symbols=DAI,ETH,... returning decimal strings on the
// precision scale.
type HTTPSource struct {
	baseURL string
	http    *http.Client
}

// NewHTTPSource builds a source for the given oracle base URL.
func NewHTTPSource(baseURL string, timeout time.Duration) (*HTTPSource, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("oracle base url is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type pricesWire struct {
	Prices map[string]string `json:"prices"`
}

func (s *HTTPSource) FetchPrices(ctx context.Context, symbols []string) (map[string]*big.Int, error) {
	endpoint := fmt.Sprintf("%s/prices?symbols=%s", s.baseURL, url.QueryEscape(strings.Join(symbols, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle returned status %s", resp.Status)
	}

	var wire pricesWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}

	out := make(map[string]*big.Int, len(wire.Prices))
	for symbol, raw := range wire.Prices {
		value, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("parse price for %s: %q", symbol, raw)
		}
		out[symbol] = value
	}
	return out, nil
}
