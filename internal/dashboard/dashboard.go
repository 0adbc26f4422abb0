// Package dashboard keeps a live, read-only view of the ledger fed by store
// subscriptions.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rhledger/internal/core"
	"rhledger/internal/log"
	"rhledger/internal/store"
)

// Source is the subscription side of a store.
type Source interface {
	Subscribe(ctx context.Context, c core.Collection) (*store.Subscription[store.Snapshot], error)
	SubscribeMonthlyStats(ctx context.Context) (*store.Subscription[store.StatsSnapshot], error)
}

// RateSource reports the rate the view quotes alongside totals.
type RateSource interface {
	EGPRate() float64
}

// Summary is the dashboard payload: totals plus the settlement verdict.
type Summary struct {
	core.FinancialSummary
	Direction string    `json:"transfer_direction"`
	Transfer  float64   `json:"transfer_amount"`
	Message   string    `json:"transfer_message"`
	EGPRate   float64   `json:"egp_rate"`
	SARRate   float64   `json:"sar_rate"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Dashboard struct {
	source Source
	rates  RateSource
	split  float64
	logger *log.Logger

	mu        sync.RWMutex
	records   map[core.Collection][]core.Record
	stats     []core.MonthlyStat
	seen      map[string]bool
	updatedAt time.Time
}

// New returns a dashboard that settles with the given marketing split.
func New(source Source, rates RateSource, split float64, logger *log.Logger) (*Dashboard, error) {
	if err := core.ValidateSplit(split); err != nil {
		return nil, err
	}
	return &Dashboard{
		source:  source,
		rates:   rates,
		split:   split,
		logger:  logger.WithComponent(log.ComponentDashboard),
		records: make(map[core.Collection][]core.Record),
		seen:    make(map[string]bool),
	}, nil
}

// Run applies snapshots until ctx is done or the store closes. All state
// changes happen on this one goroutine; readers only take the lock.
func (d *Dashboard) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	projects, err := d.source.Subscribe(ctx, core.Projects)
	if err != nil {
		return fmt.Errorf("subscribe projects: %w", err)
	}
	defer projects.Unsubscribe()

	expenses, err := d.source.Subscribe(ctx, core.Expenses)
	if err != nil {
		return fmt.Errorf("subscribe expenses: %w", err)
	}
	defer expenses.Unsubscribe()

	financing, err := d.source.Subscribe(ctx, core.Financing)
	if err != nil {
		return fmt.Errorf("subscribe financing: %w", err)
	}
	defer financing.Unsubscribe()

	stats, err := d.source.SubscribeMonthlyStats(ctx)
	if err != nil {
		return fmt.Errorf("subscribe monthly stats: %w", err)
	}
	defer stats.Unsubscribe()

	d.logger.InfoContext(ctx, "Dashboard subscribed")

	for {
		var (
			snap store.Snapshot
			ok   bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok = <-projects.C:
		case snap, ok = <-expenses.C:
		case snap, ok = <-financing.C:
		case st, sok := <-stats.C:
			if !sok {
				return d.closed(ctx)
			}
			d.applyStats(st)
			continue
		}
		if !ok {
			return d.closed(ctx)
		}
		d.apply(snap)
	}
}

func (d *Dashboard) closed(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.ErrClosed
}

func (d *Dashboard) apply(snap store.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[snap.Collection] = snap.Records
	d.seen[string(snap.Collection)] = true
	d.updatedAt = time.Now().UTC()
	d.logger.Debug("Snapshot applied",
		"collection", snap.Collection,
		log.FieldVersion, snap.Version,
		"records", len(snap.Records))
}

func (d *Dashboard) applyStats(snap store.StatsSnapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats = snap.Stats
	d.seen["monthly_stats"] = true
	d.updatedAt = time.Now().UTC()
}

// Ready reports whether every feed delivered its first snapshot.
func (d *Dashboard) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.seen) == len(core.Collections())+1
}

// Summary recomputes totals from the latest snapshots. Before the first
// snapshot everything is zero.
func (d *Dashboard) Summary() Summary {
	d.mu.RLock()
	projects := d.records[core.Projects]
	expenses := d.records[core.Expenses]
	financing := d.records[core.Financing]
	updated := d.updatedAt
	d.mu.RUnlock()

	fs, err := core.BuildSummary(projects, expenses, financing, d.split)
	if err != nil {
		// The split was validated in New.
		d.logger.Error("Failed to build summary", log.FieldError, err)
	}

	return Summary{
		FinancialSummary: fs.Rounded(),
		Direction:        fs.Settlement.Direction().String(),
		Transfer:         core.Round2(fs.Settlement.Amount()),
		Message:          fs.Settlement.Message(),
		EGPRate:          d.egpRate(),
		SARRate:          core.SARPerUSD,
		UpdatedAt:        updated,
	}
}

// Records lists a collection newest first: active records, or only archived
// ones when archived is true.
func (d *Dashboard) Records(c core.Collection, archived bool) ([]core.Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownCollection, string(c))
	}
	d.mu.RLock()
	all := d.records[c]
	d.mu.RUnlock()

	var out []core.Record
	if archived {
		out = core.ArchivedOnly(all)
	} else {
		out = core.Active(all)
	}
	core.SortByTimestampDesc(out)
	return out, nil
}

// MonthlyStats returns the chart series in chronological order.
func (d *Dashboard) MonthlyStats() []core.MonthlyStat {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := append([]core.MonthlyStat{}, d.stats...)
	core.SortMonthly(out)
	return out
}

func (d *Dashboard) egpRate() float64 {
	if d.rates == nil {
		return core.DefaultEGPRate
	}
	return d.rates.EGPRate()
}

// IsClosed reports whether err means the dashboard stopped because the
// store went away rather than because it was cancelled.
func IsClosed(err error) bool {
	return errors.Is(err, store.ErrClosed)
}
