package rates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"rhledger/internal/cache"
	"rhledger/internal/core"
	"rhledger/internal/log"
	"rhledger/internal/store"
)

// Origin says where the current rate came from.
type Origin string

const (
	OriginLive     Origin = "live"
	OriginStored   Origin = "stored"
	OriginCached   Origin = "cached"
	OriginFallback Origin = "fallback"
)

// Quote is the rate in use, EGP per USD.
type Quote struct {
	Currency  core.Currency `json:"currency"`
	Rate      float64       `json:"rate"`
	Origin    Origin        `json:"origin"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Provider serves the current EGP rate. Readers never block on the network
// and never see an error: without any good value the fallback is used.
type Provider struct {
	source   Source
	rates    store.RateStore
	cache    *cache.LRUCache[float64]
	fallback float64
	logger   *log.Logger
	now      func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	current Quote
}

// NewProvider builds a provider. rates may be nil when nothing is persisted.
// A non-positive fallback means core.DefaultEGPRate.
func NewProvider(source Source, rates store.RateStore, fallback float64, ttl time.Duration, logger *log.Logger) *Provider {
	fallback = core.EffectiveEGPRate(fallback)
	p := &Provider{
		source:   source,
		rates:    rates,
		cache:    cache.NewLRUCache[float64](len(core.Currencies()), ttl),
		fallback: fallback,
		logger:   logger.WithComponent(log.ComponentRates),
		now:      time.Now,
	}
	p.current = Quote{Currency: core.EGP, Rate: fallback, Origin: OriginFallback}
	return p
}

// EGPRate returns the rate to use for conversions right now.
func (p *Provider) EGPRate() float64 {
	return p.Current().Rate
}

func (p *Provider) Current() Quote {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Load seeds the provider from the persisted rate, without network access.
func (p *Provider) Load(ctx context.Context) Quote {
	if q, ok := p.fromStore(ctx); ok {
		p.set(q)
	}
	return p.Current()
}

// Refresh fetches a live rate. Concurrent callers share one request. On
// failure the provider falls back to the last rate it fetched itself, then
// the stored rate, then the configured default, and the error is returned.
func (p *Provider) Refresh(ctx context.Context) (Quote, error) {
	v, err, _ := p.group.Do("refresh", func() (any, error) {
		return p.refresh(ctx)
	})
	q, _ := v.(Quote)
	return q, err
}

func (p *Provider) refresh(ctx context.Context) (Quote, error) {
	rate, err := p.fetch(ctx)
	if err == nil {
		q := Quote{Currency: core.EGP, Rate: rate, Origin: OriginLive, UpdatedAt: p.now().UTC()}
		p.cache.Set(string(core.EGP), rate)
		if p.rates != nil {
			if serr := p.rates.SaveRate(ctx, core.EGP, rate); serr != nil {
				p.logger.WarnContext(ctx, "Failed to persist exchange rate", log.FieldError, serr)
			}
		}
		p.set(q)
		p.logger.InfoContext(ctx, "Exchange rate refreshed", log.FieldCurrency, core.EGP, log.FieldRate, rate)
		return q, nil
	}

	q := p.degrade(ctx)
	p.set(q)
	p.logger.WarnContext(ctx, "Live exchange rate unavailable",
		log.FieldError, err,
		log.FieldRate, q.Rate,
		log.FieldRateSource, q.Origin)
	return q, fmt.Errorf("refresh exchange rate: %w", err)
}

func (p *Provider) fetch(ctx context.Context) (float64, error) {
	if p.source == nil {
		return 0, ErrSourceUnavailable
	}
	rates, err := p.source.Fetch(ctx, core.CanonicalCurrency)
	if err != nil {
		return 0, err
	}
	rate, ok := rates[core.EGP]
	if !ok || rate != core.EffectiveEGPRate(rate) {
		return 0, fmt.Errorf("%w: no usable EGP rate", core.ErrInvalidRate)
	}
	return rate, nil
}

// degrade picks the best rate without the live source. The cache only holds
// rates fetched by this process, so it is never older than the stored one.
func (p *Provider) degrade(ctx context.Context) Quote {
	if v, at, ok := p.cache.GetStale(string(core.EGP)); ok && v > 0 {
		return Quote{Currency: core.EGP, Rate: v, Origin: OriginCached, UpdatedAt: at.UTC()}
	}
	if q, ok := p.fromStore(ctx); ok {
		return q
	}
	return Quote{Currency: core.EGP, Rate: p.fallback, Origin: OriginFallback}
}

func (p *Provider) fromStore(ctx context.Context) (Quote, bool) {
	if p.rates == nil {
		return Quote{}, false
	}
	rate, err := p.rates.LastRate(ctx, core.EGP)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.WarnContext(ctx, "Failed to load stored exchange rate", log.FieldError, err)
		}
		return Quote{}, false
	}
	if rate <= 0 {
		return Quote{}, false
	}
	return Quote{Currency: core.EGP, Rate: rate, Origin: OriginStored}, true
}

func (p *Provider) set(q Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = q
}

// Convert turns amount in from into to at the current rate.
func (p *Provider) Convert(amount float64, from, to core.Currency) (float64, error) {
	rate := p.EGPRate()
	usd, err := core.ToCanonical(amount, from, rate)
	if err != nil {
		return 0, err
	}
	return core.FromCanonical(usd, to, rate)
}
