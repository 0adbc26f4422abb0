package core

import "sort"

// Selector picks the grouping key for a record.
type Selector func(Record) Category

// ByCategory groups by the stored category (project region, expense type).
func ByCategory(r Record) Category {
	return r.Category
}

// BySign groups financing records into credit and debit.
func BySign(r Record) Category {
	return SignOf(r.Amount)
}

// SelectorFor returns the natural grouping for a collection.
func SelectorFor(c Collection) Selector {
	if c == Financing {
		return BySign
	}
	return ByCategory
}

// Aggregate sums amounts per group. Archived records are skipped when
// excludeArchived is set. An empty input yields an empty map; a missing key
// reads as a zero total.
func Aggregate(records []Record, groupBy Selector, excludeArchived bool) map[Category]float64 {
	totals := make(map[Category]float64)
	for _, r := range records {
		if excludeArchived && r.Archived {
			continue
		}
		totals[groupBy(r)] += r.Amount
	}
	return totals
}

// GrandTotal sums every non-archived record regardless of category.
func GrandTotal(records []Record) float64 {
	var total float64
	for _, r := range records {
		if r.Archived {
			continue
		}
		total += r.Amount
	}
	return total
}

// Active returns the non-archived records, preserving order.
func Active(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if !r.Archived {
			out = append(out, r)
		}
	}
	return out
}

// ArchivedOnly returns the archived records, preserving order.
func ArchivedOnly(records []Record) []Record {
	out := make([]Record, 0)
	for _, r := range records {
		if r.Archived {
			out = append(out, r)
		}
	}
	return out
}

// InCategory filters records by the given selector value.
func InCategory(records []Record, groupBy Selector, cat Category) []Record {
	out := make([]Record, 0)
	for _, r := range records {
		if groupBy(r) == cat {
			out = append(out, r)
		}
	}
	return out
}

// SortByTimestampDesc orders records newest first, breaking ties by ID so
// the order is stable across snapshots.
func SortByTimestampDesc(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].ID > records[j].ID
		}
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}
