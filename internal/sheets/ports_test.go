package sheets

import (
	"testing"
	"time"

	"rhledger/internal/core"
)

func TestReportRows(t *testing.T) {
	fs, err := core.BuildSummary(
		[]core.Record{
			{Amount: 1000, Category: core.RegionEgypt},
			{Amount: 200, Category: core.RegionMAH},
			{Amount: 999, Category: core.RegionSaudi, Archived: true},
		},
		[]core.Record{{Amount: 50.555, Category: core.ExpensePurchases}},
		[]core.Record{{Amount: 300}, {Amount: -100}},
		0.7)
	if err != nil {
		t.Fatalf("build summary: %v", err)
	}
	m1, _ := core.NewMonthlyStat("2026-02", 10, 4)
	m0, _ := core.NewMonthlyStat("2026-01", 5, 1)

	rows := Report{
		GeneratedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EGPRate:     48.123,
		Summary:     fs,
		Monthly:     []core.MonthlyStat{m1, m0},
	}.Rows()

	find := func(label string) []any {
		for _, r := range rows {
			if len(r) > 0 && r[0] == label {
				return r
			}
		}
		t.Fatalf("row %q missing", label)
		return nil
	}

	if v := find("EGP per USD")[1]; v != 48.12 {
		t.Errorf("rate = %v", v)
	}
	if v := find("saudi")[1]; v != 0.0 {
		t.Errorf("archived income leaked: %v", v)
	}
	if v := find("Total income")[1]; v != 1200.0 {
		t.Errorf("total income = %v", v)
	}
	if v := find("Purchases")[1]; v != 50.56 {
		t.Errorf("purchases = %v", v)
	}
	if v := find("Financing debit")[1]; v != 100.0 {
		t.Errorf("debit = %v", v)
	}
	if v := find("Clearance")[1]; v != 480.0 {
		t.Errorf("clearance = %v", v)
	}

	last := rows[len(rows)-1]
	before := rows[len(rows)-2]
	if before[0] != "2026-01" || last[0] != "2026-02" || last[4] != 6.0 {
		t.Errorf("monthly table not chronological: %v %v", before, last)
	}
}

func TestReportRowsWithoutMonthly(t *testing.T) {
	rows := Report{}.Rows()
	for _, r := range rows {
		if len(r) > 0 && r[0] == "Month" {
			t.Fatalf("empty monthly data must not render a header")
		}
	}
}
