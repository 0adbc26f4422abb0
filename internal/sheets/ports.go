// Package sheets defines the report export port and the report layout
// shared by its adapters.
package sheets

import (
	"context"
	"time"

	"rhledger/internal/core"
)

// ReportWriter replaces the exported report with r.
type ReportWriter interface {
	WriteReport(ctx context.Context, r Report) error
}

// Report is a point-in-time export of the ledger.
type Report struct {
	GeneratedAt time.Time
	EGPRate     float64
	Summary     core.FinancialSummary
	Monthly     []core.MonthlyStat
}

// Rows lays the report out as spreadsheet rows. Figures are rounded to
// cents; the monthly table is chronological.
func (r Report) Rows() [][]any {
	s := r.Summary
	settle := s.Settlement
	rows := [][]any{
		{"Ledger report", r.GeneratedAt.UTC().Format(time.RFC3339)},
		{"EGP per USD", core.Round2(r.EGPRate)},
		{"SAR per USD", core.SARPerUSD},
		{},
		{"Income by region", "USD"},
	}
	for _, region := range core.Projects.Categories() {
		rows = append(rows, []any{string(region), core.Round2(s.IncomeByRegion[region])})
	}
	rows = append(rows,
		[]any{"Total income", core.Round2(s.TotalIncome)},
		[]any{"Operational expenses", core.Round2(s.TotalOperational)},
		[]any{"Purchases", core.Round2(s.TotalPurchases)},
		[]any{"Total expenses", core.Round2(s.TotalExpenses)},
		[]any{"Net profit", core.Round2(s.NetProfit)},
		[]any{"Financing credit", core.Round2(s.FinancingCredit)},
		[]any{"Financing debit", core.Round2(s.FinancingDebit)},
		[]any{"Net financing", core.Round2(s.TotalFinancing)},
		[]any{},
		[]any{"Marketing share", core.Round2(settle.MarketingShare)},
		[]any{"Main office share", core.Round2(settle.MainOfficeShare)},
		[]any{"Clearance", core.Round2(settle.Clearance)},
		[]any{"Transfer", settle.Message()},
	)

	if len(r.Monthly) > 0 {
		monthly := append([]core.MonthlyStat{}, r.Monthly...)
		core.SortMonthly(monthly)
		rows = append(rows, []any{}, []any{"Month", "Label", "Income", "Expenses", "Net"})
		for _, m := range monthly {
			rows = append(rows, []any{m.ID, m.Label, core.Round2(m.Income), core.Round2(m.Expenses), core.Round2(m.Net())})
		}
	}
	return rows
}
