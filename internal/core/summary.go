package core

import "math"

// FinancialSummary is the dashboard view over the current snapshots.
type FinancialSummary struct {
	IncomeByRegion   map[Category]float64 `json:"income_by_region"`
	TotalIncome      float64              `json:"total_income"`
	TotalOperational float64              `json:"total_operational"`
	TotalPurchases   float64              `json:"total_purchases"`
	TotalExpenses    float64              `json:"total_expenses"`
	NetProfit        float64              `json:"net_profit"`
	FinancingCredit  float64              `json:"financing_credit"`
	FinancingDebit   float64              `json:"financing_debit"`
	TotalFinancing   float64              `json:"total_financing"`
	Settlement       Settlement           `json:"settlement"`
}

// BuildSummary aggregates the three ledgers and derives the settlement.
// Archived records never count. Nil snapshots are treated as empty.
func BuildSummary(projects, expenses, financing []Record, marketingSplit float64) (FinancialSummary, error) {
	regions := Aggregate(projects, ByCategory, true)
	byRegion := make(map[Category]float64, len(Projects.Categories()))
	for _, region := range Projects.Categories() {
		byRegion[region] = regions[region]
	}

	expenseTotals := Aggregate(expenses, ByCategory, true)
	signs := Aggregate(financing, BySign, true)

	income := GrandTotal(projects)
	totalExpenses := GrandTotal(expenses)

	settlement, err := Settle(income, marketingSplit)
	if err != nil {
		return FinancialSummary{}, err
	}

	return FinancialSummary{
		IncomeByRegion:   byRegion,
		TotalIncome:      income,
		TotalOperational: expenseTotals[ExpenseOperational],
		TotalPurchases:   expenseTotals[ExpensePurchases],
		TotalExpenses:    totalExpenses,
		NetProfit:        income - totalExpenses,
		FinancingCredit:  signs[FinancingCredit],
		FinancingDebit:   math.Abs(signs[FinancingDebit]),
		TotalFinancing:   GrandTotal(financing),
		Settlement:       settlement,
	}, nil
}

// Rounded returns a copy with every figure rounded for display.
func (s FinancialSummary) Rounded() FinancialSummary {
	out := s
	out.IncomeByRegion = make(map[Category]float64, len(s.IncomeByRegion))
	for k, v := range s.IncomeByRegion {
		out.IncomeByRegion[k] = Round2(v)
	}
	out.TotalIncome = Round2(s.TotalIncome)
	out.TotalOperational = Round2(s.TotalOperational)
	out.TotalPurchases = Round2(s.TotalPurchases)
	out.TotalExpenses = Round2(s.TotalExpenses)
	out.NetProfit = Round2(s.NetProfit)
	out.FinancingCredit = Round2(s.FinancingCredit)
	out.FinancingDebit = Round2(s.FinancingDebit)
	out.TotalFinancing = Round2(s.TotalFinancing)
	out.Settlement.TotalIncome = Round2(s.Settlement.TotalIncome)
	out.Settlement.MarketingShare = Round2(s.Settlement.MarketingShare)
	out.Settlement.MainOfficeShare = Round2(s.Settlement.MainOfficeShare)
	out.Settlement.Clearance = Round2(s.Settlement.Clearance)
	return out
}
