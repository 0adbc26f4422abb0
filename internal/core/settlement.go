package core

import (
	"errors"
	"fmt"
	"math"
)

const (
	NoTransfer TransferDirection = iota
	// MarketingToMain means the marketing office owes the main office.
	MarketingToMain
	// MainToMarketing means the main office owes the marketing office.
	MainToMarketing
)

// DefaultMarketingSplit is the marketing office share of total income.
const DefaultMarketingSplit = 0.7

type (
	TransferDirection int

	// Settlement is the inter-office clearance derived from total income.
	// It is recomputed on every read and never persisted.
	Settlement struct {
		TotalIncome     float64 `json:"total_income"`
		MarketingSplit  float64 `json:"marketing_split"`
		MarketingShare  float64 `json:"marketing_share"`
		MainOfficeShare float64 `json:"main_office_share"`
		// Clearance is MarketingShare - MainOfficeShare. Positive: marketing
		// transfers to main. Negative: main transfers to marketing.
		Clearance float64 `json:"clearance"`
	}
)

var ErrInvalidSplit = errors.New("marketing split must be within [0, 1]")

// ValidateSplit checks a marketing split ratio.
func ValidateSplit(split float64) error {
	if math.IsNaN(split) || split < 0 || split > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSplit, split)
	}
	return nil
}

// Settle splits totalIncome between the two offices. A NaN or infinite
// income (data not loaded yet) is treated as zero.
func Settle(totalIncome, marketingSplit float64) (Settlement, error) {
	if err := ValidateSplit(marketingSplit); err != nil {
		return Settlement{}, err
	}
	if !isFinite(totalIncome) {
		totalIncome = 0
	}
	marketing := totalIncome * marketingSplit
	main := totalIncome * (1 - marketingSplit)
	return Settlement{
		TotalIncome:     totalIncome,
		MarketingSplit:  marketingSplit,
		MarketingShare:  marketing,
		MainOfficeShare: main,
		Clearance:       marketing - main,
	}, nil
}

// Direction reports which office has to transfer money.
func (s Settlement) Direction() TransferDirection {
	switch {
	case s.Clearance > 0:
		return MarketingToMain
	case s.Clearance < 0:
		return MainToMarketing
	default:
		return NoTransfer
	}
}

// Amount is the absolute value to transfer.
func (s Settlement) Amount() float64 {
	return math.Abs(s.Clearance)
}

// Message is the user-facing transfer instruction.
func (s Settlement) Message() string {
	switch s.Direction() {
	case MarketingToMain:
		return fmt.Sprintf("marketing office must transfer $%.2f to the main office", s.Amount())
	case MainToMarketing:
		return fmt.Sprintf("main office must transfer $%.2f to the marketing office", s.Amount())
	default:
		return "no transfer due"
	}
}

func (d TransferDirection) String() string {
	switch d {
	case MarketingToMain:
		return "marketing_to_main"
	case MainToMarketing:
		return "main_to_marketing"
	default:
		return "none"
	}
}
