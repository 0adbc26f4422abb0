package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"rhledger/internal/amqp"
	"rhledger/internal/core"
	"rhledger/internal/log"
	sheetsmem "rhledger/internal/sheets/memory"
	"rhledger/internal/store/memory"
)

type fixedRate float64

func (r fixedRate) EGPRate() float64 { return float64(r) }

func seed(t *testing.T, st *memory.Store) {
	t.Helper()
	ctx := context.Background()
	recs := []struct {
		c   core.Collection
		rec core.Record
	}{
		{core.Projects, core.Record{Name: "a", Amount: 1000, Category: core.RegionEgypt}},
		{core.Projects, core.Record{Name: "c", Amount: 200, Category: core.RegionMAH}},
		{core.Expenses, core.Record{Name: "rent", Amount: 150, Category: core.ExpenseOperational}},
		{core.Financing, core.Record{Name: "loan", Amount: -40}},
	}
	for _, r := range recs {
		if _, err := st.Append(ctx, r.c, r.rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	m, _ := core.NewMonthlyStat("2026-02", 900, 300)
	if err := st.PutMonthlyStat(ctx, m); err != nil {
		t.Fatalf("put stat: %v", err)
	}
}

func TestBuildReport(t *testing.T) {
	st := memory.New()
	defer st.Close()
	seed(t, st)

	w, err := NewReportWorker(st, sheetsmem.New(), fixedRate(49), 0.7, time.Hour, log.Discard())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	r, err := w.BuildReport(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if r.Summary.TotalIncome != 1200 || r.Summary.TotalExpenses != 150 || r.Summary.FinancingDebit != 40 {
		t.Fatalf("unexpected summary %+v", r.Summary)
	}
	if r.EGPRate != 49 || len(r.Monthly) != 1 {
		t.Fatalf("unexpected report %+v", r)
	}
}

func TestNewReportWorkerValidates(t *testing.T) {
	if _, err := NewReportWorker(nil, nil, nil, 1.5, time.Hour, log.Discard()); !errors.Is(err, core.ErrInvalidSplit) {
		t.Fatalf("expected ErrInvalidSplit, got %v", err)
	}
	if _, err := NewReportWorker(nil, nil, nil, 0.7, 0, log.Discard()); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestRunExportsOnStartAndOnChange(t *testing.T) {
	st := memory.New()
	defer st.Close()
	out := sheetsmem.New()
	w, _ := NewReportWorker(st, out, nil, 0.7, time.Hour, log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, func() bool { return out.Count() >= 1 })
	seed(t, st)
	if err := w.HandleChangeMessage(ctx, amqp.NewChangeMessage("projects", "x", amqp.OpCreated)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	waitFor(t, func() bool {
		r, ok := out.Last()
		return ok && r.Summary.TotalIncome == 1200
	})

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExportFailureIsReturned(t *testing.T) {
	st := memory.New()
	defer st.Close()
	out := sheetsmem.New()
	out.FailWith(errors.New("quota exceeded"))
	w, _ := NewReportWorker(st, out, nil, 0.7, time.Hour, log.Discard())

	if err := w.Export(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	out.FailWith(nil)
	if err := w.Export(context.Background()); err != nil || out.Count() != 1 {
		t.Fatalf("export after recovery: %v, count %d", err, out.Count())
	}
}

func TestTriggerCoalesces(t *testing.T) {
	w, _ := NewReportWorker(nil, nil, nil, 0.7, time.Hour, log.Discard())
	for i := 0; i < 10; i++ {
		w.Trigger()
	}
	if len(w.trigger) != 1 {
		t.Fatalf("expected one pending trigger, got %d", len(w.trigger))
	}
}

type recordingRefresher struct {
	collections []core.Collection
	stats       int
}

func (r *recordingRefresher) Refresh(_ context.Context, c core.Collection) error {
	r.collections = append(r.collections, c)
	return nil
}

func (r *recordingRefresher) RefreshMonthlyStats(context.Context) error {
	r.stats++
	return nil
}

func TestChangeSyncer(t *testing.T) {
	ref := &recordingRefresher{}
	s := NewChangeSyncer(ref, "api-1", log.Discard())
	ctx := context.Background()

	msgs := []*amqp.ChangeMessage{
		{Collection: "projects", Op: amqp.OpCreated, Origin: "api-1"},
		{Collection: "projects", Op: amqp.OpCreated, Origin: "api-2"},
		{Collection: "financing", Op: amqp.OpArchived, Origin: "api-2"},
		{Collection: amqp.MonthlyStatsCollection, Op: amqp.OpUpserted, Origin: "api-2"},
		{Collection: "loans", Op: amqp.OpCreated, Origin: "api-2"},
	}
	for _, m := range msgs {
		if err := s.HandleChangeMessage(ctx, m); err != nil {
			t.Fatalf("handle %+v: %v", m, err)
		}
	}

	if len(ref.collections) != 2 || ref.collections[0] != core.Projects || ref.collections[1] != core.Financing {
		t.Fatalf("unexpected refreshes %v", ref.collections)
	}
	if ref.stats != 1 {
		t.Fatalf("expected one stats refresh, got %d", ref.stats)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
