// Package memory keeps exported reports in process.
package memory

import (
	"context"
	"sync"

	"rhledger/internal/sheets"
)

// Writer records every report it is given.
type Writer struct {
	mu      sync.Mutex
	reports []sheets.Report
	err     error
}

func New() *Writer {
	return &Writer{}
}

func (w *Writer) WriteReport(ctx context.Context, r sheets.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.reports = append(w.reports, r)
	return nil
}

// FailWith makes later writes return err; nil restores them.
func (w *Writer) FailWith(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

// Last returns the most recent report.
func (w *Writer) Last() (sheets.Report, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.reports) == 0 {
		return sheets.Report{}, false
	}
	return w.reports[len(w.reports)-1], true
}

func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.reports)
}
