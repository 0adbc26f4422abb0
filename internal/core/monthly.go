package core

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MonthlyStat is one bar of the month-over-month chart. ID is "YYYY-MM".
type MonthlyStat struct {
	ID       string  `json:"id"`
	Label    string  `json:"month_label"`
	Income   float64 `json:"income"`
	Expenses float64 `json:"expenses"`
}

var ErrInvalidMonth = errors.New("invalid month, expected YYYY-MM")

var arabicMonths = [12]string{
	"يناير", "فبراير", "مارس", "أبريل", "مايو", "يونيو",
	"يوليو", "أغسطس", "سبتمبر", "أكتوبر", "نوفمبر", "ديسمبر",
}

// ParseMonthID validates a "YYYY-MM" identifier.
func ParseMonthID(id string) (year, month int, err error) {
	id = strings.TrimSpace(id)
	if _, perr := time.Parse("2006-01", id); perr != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMonth, id)
	}
	year, _ = strconv.Atoi(id[:4])
	month, _ = strconv.Atoi(id[5:7])
	return year, month, nil
}

// MonthLabel renders the chart label: Arabic month name and two-digit year.
func MonthLabel(year, month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return fmt.Sprintf("%s %02d", arabicMonths[month-1], year%100)
}

// NewMonthlyStat validates inputs and fills in the label.
func NewMonthlyStat(id string, income, expenses float64) (MonthlyStat, error) {
	year, month, err := ParseMonthID(id)
	if err != nil {
		return MonthlyStat{}, err
	}
	if income < 0 || expenses < 0 || !isFinite(income) || !isFinite(expenses) {
		return MonthlyStat{}, ErrInvalidAmount
	}
	return MonthlyStat{
		ID:       strings.TrimSpace(id),
		Label:    MonthLabel(year, month),
		Income:   income,
		Expenses: expenses,
	}, nil
}

// Net is income minus expenses for the month.
func (m MonthlyStat) Net() float64 {
	return m.Income - m.Expenses
}

// SortMonthly orders stats chronologically; "YYYY-MM" sorts lexically.
func SortMonthly(stats []MonthlyStat) {
	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
}
