package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	USD Currency = "USD"
	SAR Currency = "SAR"
	EGP Currency = "EGP"

	// CanonicalCurrency is the unit every stored amount is expressed in.
	CanonicalCurrency = USD
)

const (
	// SARPerUSD is the riyal peg. It is not configurable at runtime.
	SARPerUSD = 3.75

	// DefaultEGPRate is used whenever no positive live rate is available.
	DefaultEGPRate = 47.65
)

// Currency is one of the closed set of input currencies.
type Currency string

var (
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrInvalidRate     = errors.New("invalid exchange rate")
)

// Currencies returns every supported currency in display order.
func Currencies() []Currency {
	return []Currency{USD, SAR, EGP}
}

// ParseCurrency maps a case-insensitive code to a Currency.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, s)
	}
	return c, nil
}

func (c Currency) Valid() bool {
	switch c {
	case USD, SAR, EGP:
		return true
	default:
		return false
	}
}

func (c Currency) String() string {
	return string(c)
}

// EffectiveEGPRate returns rate when it is usable, DefaultEGPRate otherwise.
func EffectiveEGPRate(rate float64) float64 {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return DefaultEGPRate
	}
	return rate
}

// unitsPerUSD returns how many units of c buy one US dollar.
func unitsPerUSD(c Currency, egpRate float64) (float64, error) {
	switch c {
	case USD:
		return 1, nil
	case SAR:
		return SARPerUSD, nil
	case EGP:
		return EffectiveEGPRate(egpRate), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, string(c))
	}
}

// ToCanonical converts a non-negative amount in currency c to US dollars.
// egpRate is EGP per USD; a non-positive rate falls back to DefaultEGPRate.
// The result is not rounded.
func ToCanonical(amount float64, c Currency, egpRate float64) (float64, error) {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, ErrInvalidAmount
	}
	units, err := unitsPerUSD(c, egpRate)
	if err != nil {
		return 0, err
	}
	return amount / units, nil
}

// FromCanonical converts a US dollar amount back to currency c for display.
// Signed amounts are allowed since financing records carry a sign.
func FromCanonical(amount float64, c Currency, egpRate float64) (float64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, ErrInvalidAmount
	}
	units, err := unitsPerUSD(c, egpRate)
	if err != nil {
		return 0, err
	}
	return amount * units, nil
}
