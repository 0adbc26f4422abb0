// Package core provides the ledger domain: records, currency conversion,
// aggregation and the inter-office settlement.
//
// This file contains amount parsing for user input and the display rounding
// helper. Stored values keep full float64 precision.
package core

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a user-entered amount to a float64.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators, rejects
// signs, and requires the value to be strictly positive.
//
// Examples:
//
//	ParseAmount("12.34")   -> 12.34, nil
//	ParseAmount("1500,5")  -> 1500.5, nil
//	ParseAmount("-3")      -> 0, ErrInvalidAmount
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.ContainsAny(s, "eE") {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return 0, ErrInvalidAmount
	}
	f, _ := d.Float64()
	if !isFinite(f) {
		return 0, ErrInvalidAmount
	}
	return f, nil
}

// Round2 rounds half away from zero to two decimal places. It is meant for
// response payloads only; never store its result.
func Round2(v float64) float64 {
	if !isFinite(v) {
		return 0
	}
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
