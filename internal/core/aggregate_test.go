package core

import (
	"testing"
	"time"
)

func TestAggregateRegionScenario(t *testing.T) {
	records := []Record{
		{ID: "1", Name: "a", Amount: 1000, Category: RegionEgypt},
		{ID: "2", Name: "b", Amount: 500, Category: RegionSaudi, Archived: true},
		{ID: "3", Name: "c", Amount: 200, Category: RegionMAH},
	}

	got := Aggregate(records, ByCategory, true)
	if len(got) != 2 || got[RegionEgypt] != 1000 || got[RegionMAH] != 200 {
		t.Fatalf("unexpected totals: %v", got)
	}
	if _, ok := got[RegionSaudi]; ok {
		t.Fatalf("archived region must not appear: %v", got)
	}
	if total := GrandTotal(records); total != 1200 {
		t.Fatalf("grand total = %v, want 1200", total)
	}
}

func TestAggregateEmpty(t *testing.T) {
	for _, sel := range []Selector{ByCategory, BySign} {
		if got := Aggregate(nil, sel, true); len(got) != 0 {
			t.Fatalf("expected empty map, got %v", got)
		}
	}
	if got := Aggregate(nil, ByCategory, true)[RegionEgypt]; got != 0 {
		t.Fatalf("missing category should read as zero, got %v", got)
	}
	if got := GrandTotal(nil); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestAggregatePartitionConsistency(t *testing.T) {
	sets := [][]Record{
		{
			{Amount: 10.5, Category: ExpenseOperational},
			{Amount: 3.25, Category: ExpensePurchases},
			{Amount: 7, Category: ExpenseOperational, Archived: true},
		},
		{
			{Amount: 100},
			{Amount: -40.4},
			{Amount: -0.6},
			{Amount: 25, Archived: true},
		},
	}
	for i, records := range sets {
		for _, sel := range []Selector{ByCategory, BySign} {
			var sum float64
			for _, v := range Aggregate(records, sel, true) {
				sum += v
			}
			if !almostEqual(sum, GrandTotal(records)) {
				t.Fatalf("set %d: partition sum %v != grand total %v", i, sum, GrandTotal(records))
			}
		}
	}
}

func TestAggregateArchiveToggle(t *testing.T) {
	records := []Record{
		{ID: "1", Amount: 100, Category: RegionEgypt},
		{ID: "2", Amount: 50, Category: RegionEgypt},
	}
	records[1] = ArchivePatch(true).Apply(records[1])

	if got := Aggregate(records, ByCategory, true)[RegionEgypt]; got != 100 {
		t.Fatalf("active total = %v, want 100", got)
	}
	if got := Aggregate(records, ByCategory, false)[RegionEgypt]; got != 150 {
		t.Fatalf("archive-inclusive total = %v, want 150", got)
	}
}

func TestAggregateBySign(t *testing.T) {
	records := []Record{
		{Amount: 100},
		{Amount: -30},
		{Amount: -20},
	}
	got := Aggregate(records, BySign, true)
	if got[FinancingCredit] != 100 || got[FinancingDebit] != -50 {
		t.Fatalf("unexpected sign totals: %v", got)
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	a := []Record{{Amount: 0.1, Category: RegionMAH}, {Amount: 0.2, Category: RegionMAH}, {Amount: 0.3, Category: RegionMAH}}
	b := []Record{a[2], a[0], a[1]}
	if !almostEqual(Aggregate(a, ByCategory, true)[RegionMAH], Aggregate(b, ByCategory, true)[RegionMAH]) {
		t.Fatalf("totals depend on order")
	}
}

func TestActiveAndArchivedOnly(t *testing.T) {
	records := []Record{{ID: "1"}, {ID: "2", Archived: true}, {ID: "3"}}
	if got := Active(records); len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Fatalf("unexpected active: %v", got)
	}
	if got := ArchivedOnly(records); len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("unexpected archived: %v", got)
	}
}

func TestSortByTimestampDesc(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []Record{
		{ID: "a", Timestamp: base},
		{ID: "b", Timestamp: base.Add(time.Hour)},
		{ID: "c", Timestamp: base},
	}
	SortByTimestampDesc(records)
	if records[0].ID != "b" || records[1].ID != "c" || records[2].ID != "a" {
		t.Fatalf("unexpected order: %v %v %v", records[0].ID, records[1].ID, records[2].ID)
	}
}
