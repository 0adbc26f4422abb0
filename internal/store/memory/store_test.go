package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"rhledger/internal/core"
	"rhledger/internal/store"
)

func next(t *testing.T, sub *store.Subscription[store.Snapshot]) store.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.C:
		if !ok {
			t.Fatalf("subscription closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
	return store.Snapshot{}
}

func TestStoreSubscribeSnapshots(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	sub, err := s.Subscribe(ctx, core.Projects)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if snap := next(t, sub); len(snap.Records) != 0 || snap.Version != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", snap)
	}

	id, err := s.Append(ctx, core.Projects, core.Record{Name: "villa", Amount: 100, Category: core.RegionEgypt})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	snap := next(t, sub)
	if len(snap.Records) != 1 || snap.Records[0].ID != id || snap.Records[0].Timestamp.IsZero() {
		t.Fatalf("unexpected snapshot after append: %+v", snap)
	}

	if err := s.Remove(ctx, core.Projects, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if snap := next(t, sub); len(snap.Records) != 0 || snap.Version != 2 {
		t.Fatalf("deleted record still present: %+v", snap)
	}
}

func TestStoreSubscribersAreIsolatedPerCollection(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	sub, _ := s.Subscribe(ctx, core.Expenses)
	defer sub.Unsubscribe()
	next(t, sub)

	if _, err := s.Append(ctx, core.Projects, core.Record{Name: "p", Amount: 1, Category: core.RegionMAH}); err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case snap := <-sub.C:
		t.Fatalf("expenses subscriber got a projects write: %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStorePatchKeepsFinancialFields(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, _ := s.Append(ctx, core.Financing, core.Record{Name: "loan", Amount: -250})
	before, _ := s.Get(ctx, core.Financing, id)

	if err := s.Patch(ctx, core.Financing, id, core.ArchivePatch(true)); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if err := s.Patch(ctx, core.Financing, id, core.AttachmentPatch("https://cdn.example/r.png")); err != nil {
		t.Fatalf("patch: %v", err)
	}
	after, _ := s.Get(ctx, core.Financing, id)
	if !after.Archived || after.Attachment == "" {
		t.Fatalf("patch not applied: %+v", after)
	}
	if after.Amount != before.Amount || !after.Timestamp.Equal(before.Timestamp) {
		t.Fatalf("immutable fields changed: before=%+v after=%+v", before, after)
	}

	if err := s.Patch(ctx, core.Financing, id, core.Patch{}); !errors.Is(err, core.ErrEmptyPatch) {
		t.Fatalf("expected ErrEmptyPatch, got %v", err)
	}
	if err := s.Patch(ctx, core.Financing, "missing", core.ArchivePatch(true)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreAppendValidates(t *testing.T) {
	s := New()
	_, err := s.Append(context.Background(), core.Expenses, core.Record{Name: "x", Amount: 5, Category: core.RegionEgypt})
	if !errors.Is(err, core.ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
	if err := s.Remove(context.Background(), core.Expenses, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))

	first, _ := s.Append(ctx, core.Financing, core.Record{Name: "a", Amount: 1})
	second, _ := s.Append(ctx, core.Financing, core.Record{Name: "b", Amount: 2})

	recs, _ := s.List(ctx, core.Financing)
	if len(recs) != 2 || recs[0].ID != second || recs[1].ID != first {
		t.Fatalf("unexpected order: %+v", recs)
	}
	if !recs[0].Timestamp.After(recs[1].Timestamp) {
		t.Fatalf("timestamps must be strictly increasing")
	}

	recs[0].Amount = 999
	again, _ := s.List(ctx, core.Financing)
	if again[0].Amount == 999 {
		t.Fatalf("List must return a copy")
	}
}

func TestStoreMonthlyStats(t *testing.T) {
	ctx := context.Background()
	s := New()
	sub, err := s.SubscribeMonthlyStats(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	<-sub.C

	feb, _ := core.NewMonthlyStat("2026-02", 10, 5)
	jan, _ := core.NewMonthlyStat("2026-01", 20, 5)
	_ = s.PutMonthlyStat(ctx, feb)
	_ = s.PutMonthlyStat(ctx, jan)

	stats, _ := s.ListMonthlyStats(ctx)
	if len(stats) != 2 || stats[0].ID != "2026-01" {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	select {
	case snap := <-sub.C:
		if len(snap.Stats) != 2 {
			t.Fatalf("expected latest snapshot with 2 stats, got %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}

	if err := s.DeleteMonthlyStat(ctx, "2026-03"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.PutMonthlyStat(ctx, core.MonthlyStat{ID: "bad"}); !errors.Is(err, core.ErrInvalidMonth) {
		t.Fatalf("expected ErrInvalidMonth, got %v", err)
	}
}

func TestStoreRates(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.LastRate(ctx, core.EGP); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SaveRate(ctx, core.EGP, 0); !errors.Is(err, core.ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
	_ = s.SaveRate(ctx, core.EGP, 50.1)
	if r, _ := s.LastRate(ctx, core.EGP); r != 50.1 {
		t.Fatalf("unexpected rate %v", r)
	}
}

func TestStoreCloseEndsSubscriptions(t *testing.T) {
	s := New()
	sub, _ := s.Subscribe(context.Background(), core.Projects)
	<-sub.C
	_ = s.Close()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
	if _, err := s.Append(context.Background(), core.Projects, core.Record{Name: "p", Amount: 1, Category: core.RegionMAH}); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
