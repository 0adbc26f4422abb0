// Package rates keeps the EGP per USD exchange rate current.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rhledger/internal/core"
)

// DefaultSourceURL serves USD-based rates without an API key.
const DefaultSourceURL = "https://api.exchangerate-api.com/v4/latest/USD"

var ErrSourceUnavailable = errors.New("exchange rate source unavailable")

// Source fetches the latest rates quoted against base.
type Source interface {
	Fetch(ctx context.Context, base core.Currency) (map[core.Currency]float64, error)
}

// HTTPSource reads the exchangerate-api.com v4 payload.
type HTTPSource struct {
	url    string
	client *http.Client
}

type latestResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// NewHTTPSource returns a source for url. The url must serve USD-based rates.
func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if url == "" {
		url = DefaultSourceURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{url: url, client: client}
}

func (s *HTTPSource) Fetch(ctx context.Context, base core.Currency) (map[core.Currency]float64, error) {
	if base != core.CanonicalCurrency {
		return nil, fmt.Errorf("%w: base %s", core.ErrUnknownCurrency, base)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var body latestResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rate response: %w", err)
	}
	if body.Base != "" && !strings.EqualFold(body.Base, string(base)) {
		return nil, fmt.Errorf("%w: unexpected base %q", ErrSourceUnavailable, body.Base)
	}

	out := make(map[core.Currency]float64, len(core.Currencies()))
	for _, c := range core.Currencies() {
		if v, ok := body.Rates[string(c)]; ok && v > 0 {
			out[c] = v
		}
	}
	return out, nil
}
