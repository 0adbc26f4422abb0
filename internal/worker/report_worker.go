// Package worker holds the background consumers of ledger change messages.
package worker

import (
	"context"
	"fmt"
	"time"

	"rhledger/internal/amqp"
	"rhledger/internal/core"
	"rhledger/internal/log"
	"rhledger/internal/sheets"
)

// Source is the read side the report is built from.
type Source interface {
	List(ctx context.Context, c core.Collection) ([]core.Record, error)
	ListMonthlyStats(ctx context.Context) ([]core.MonthlyStat, error)
}

type RateSource interface {
	EGPRate() float64
}

// ReportWorker exports the ledger report after changes and on a fixed
// interval. Bursts of changes collapse into one export.
type ReportWorker struct {
	source   Source
	writer   sheets.ReportWriter
	rates    RateSource
	split    float64
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time

	trigger chan struct{}
}

func NewReportWorker(source Source, writer sheets.ReportWriter, rates RateSource, split float64, interval time.Duration, logger *log.Logger) (*ReportWorker, error) {
	if err := core.ValidateSplit(split); err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid report interval %s", interval)
	}
	return &ReportWorker{
		source:   source,
		writer:   writer,
		rates:    rates,
		split:    split,
		interval: interval,
		logger:   logger.WithComponent(log.ComponentWorker),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}, nil
}

// HandleChangeMessage schedules an export. It never fails, so messages are
// always acknowledged; the periodic export covers anything missed.
func (w *ReportWorker) HandleChangeMessage(ctx context.Context, msg *amqp.ChangeMessage) error {
	w.logger.DebugContext(ctx, "Change received",
		log.FieldMessageID, msg.ID,
		log.FieldCollection, msg.Collection,
		log.FieldOperation, string(msg.Op))
	w.Trigger()
	return nil
}

// Trigger requests an export without blocking.
func (w *ReportWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run exports once at start, then on every trigger and tick until ctx is
// done. Export failures are logged and retried on the next round.
func (w *ReportWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.exportLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.exportLogged(ctx)
		case <-w.trigger:
			w.exportLogged(ctx)
		}
	}
}

func (w *ReportWorker) exportLogged(ctx context.Context) {
	if err := w.Export(ctx); err != nil && ctx.Err() == nil {
		w.logger.ErrorContext(ctx, "Report export failed", log.FieldError, err, log.FieldOperation, log.OpExport)
	}
}

// Export builds the report from the store and writes it.
func (w *ReportWorker) Export(ctx context.Context) error {
	r, err := w.BuildReport(ctx)
	if err != nil {
		return err
	}
	if err := w.writer.WriteReport(ctx, r); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// BuildReport reads every ledger and settles the totals.
func (w *ReportWorker) BuildReport(ctx context.Context) (sheets.Report, error) {
	lists := make(map[core.Collection][]core.Record, len(core.Collections()))
	for _, c := range core.Collections() {
		recs, err := w.source.List(ctx, c)
		if err != nil {
			return sheets.Report{}, fmt.Errorf("list %s: %w", c, err)
		}
		lists[c] = recs
	}
	stats, err := w.source.ListMonthlyStats(ctx)
	if err != nil {
		return sheets.Report{}, fmt.Errorf("list monthly stats: %w", err)
	}

	summary, err := core.BuildSummary(lists[core.Projects], lists[core.Expenses], lists[core.Financing], w.split)
	if err != nil {
		return sheets.Report{}, err
	}

	rate := core.DefaultEGPRate
	if w.rates != nil {
		rate = w.rates.EGPRate()
	}
	return sheets.Report{
		GeneratedAt: w.now().UTC(),
		EGPRate:     rate,
		Summary:     summary,
		Monthly:     stats,
	}, nil
}
