package core

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

func TestToCanonical(t *testing.T) {
	cases := []struct {
		amount float64
		cur    Currency
		rate   float64
		want   float64
	}{
		{100, USD, 50, 100},
		{375, SAR, 50, 100},
		{5000, EGP, 50, 100},
		{0, EGP, 50, 0},
		{DefaultEGPRate, EGP, 0, 1},   // missing rate
		{DefaultEGPRate, EGP, -3, 1},  // negative rate
		{DefaultEGPRate, EGP, math.NaN(), 1},
	}
	for i, tc := range cases {
		got, err := ToCanonical(tc.amount, tc.cur, tc.rate)
		if err != nil {
			t.Fatalf("case %d: unexpected error %v", i, err)
		}
		if !almostEqual(got, tc.want) {
			t.Fatalf("case %d: got %v want %v", i, got, tc.want)
		}
	}
}

func TestToCanonicalRejects(t *testing.T) {
	if _, err := ToCanonical(10, Currency("EUR"), 50); !errors.Is(err, ErrUnknownCurrency) {
		t.Fatalf("expected ErrUnknownCurrency, got %v", err)
	}
	if _, err := ToCanonical(-1, USD, 50); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := ToCanonical(math.Inf(1), USD, 50); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for Inf, got %v", err)
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	amounts := []float64{0, 0.01, 1, 3.75, 47.65, 1234.5678, 9999999.99}
	rates := []float64{1, 30.9, 47.5, 47.65, 50}
	for _, c := range Currencies() {
		for _, r := range rates {
			for _, a := range amounts {
				usd, err := ToCanonical(a, c, r)
				if err != nil {
					t.Fatalf("to canonical %v %s: %v", a, c, err)
				}
				back, err := FromCanonical(usd, c, r)
				if err != nil {
					t.Fatalf("from canonical %v %s: %v", usd, c, err)
				}
				if !almostEqual(back, a) {
					t.Errorf("round trip %v %s rate %v: got %v", a, c, r, back)
				}
			}
		}
	}
}

func TestFromCanonicalSigned(t *testing.T) {
	got, err := FromCanonical(-10, SAR, 0)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !almostEqual(got, -37.5) {
		t.Fatalf("got %v want -37.5", got)
	}
}

func TestParseCurrency(t *testing.T) {
	for _, in := range []string{"usd", " SAR ", "Egp"} {
		if _, err := ParseCurrency(in); err != nil {
			t.Fatalf("%q: unexpected error %v", in, err)
		}
	}
	for _, in := range []string{"", "EUR", "US D"} {
		if _, err := ParseCurrency(in); !errors.Is(err, ErrUnknownCurrency) {
			t.Fatalf("%q: expected ErrUnknownCurrency, got %v", in, err)
		}
	}
}
