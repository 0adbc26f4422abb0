package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	Projects  Collection = "projects"
	Expenses  Collection = "expenses"
	Financing Collection = "financing"
)

const (
	RegionEgypt Category = "egypt"
	RegionSaudi Category = "saudi"
	RegionMAH   Category = "mah"

	ExpenseOperational Category = "operational"
	ExpensePurchases   Category = "purchases"

	// Financing categories are derived from the amount sign and never stored.
	FinancingCredit Category = "credit"
	FinancingDebit  Category = "debit"
)

// MaxNameLength bounds record names, counted in runes.
const MaxNameLength = 200

type (
	// Collection names one of the record ledgers.
	Collection string

	// Category is a closed per-collection classification.
	Category string

	// Record is a single ledger entry. Amount is always in CanonicalCurrency.
	Record struct {
		ID         string    `json:"id"`
		Name       string    `json:"name"`
		Amount     float64   `json:"amount"`
		Category   Category  `json:"category,omitempty"`
		Timestamp  time.Time `json:"timestamp"`
		Archived   bool      `json:"archived"`
		Attachment string    `json:"attachment,omitempty"`
	}

	// Patch is the only partial update a stored record accepts. It has no
	// field for amount, category or timestamp: those never change after
	// creation. Nil pointers leave the field untouched; an empty Attachment
	// clears it.
	Patch struct {
		Archived   *bool
		Attachment *string
	}
)

var (
	ErrEmptyName          = errors.New("empty name")
	ErrNameTooLong        = fmt.Errorf("name too long (max %d characters)", MaxNameLength)
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrUnknownCollection  = errors.New("unknown collection")
	ErrEmptyPatch         = errors.New("empty patch")
	ErrFinancingZeroValue = errors.New("financing amount must be non-zero")
)

var linkPattern = regexp.MustCompile(`https?://[^\s]+`)

// Collections returns the record collections in dashboard order.
func Collections() []Collection {
	return []Collection{Projects, Expenses, Financing}
}

// ParseCollection validates a collection name.
func ParseCollection(s string) (Collection, error) {
	c := Collection(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCollection, s)
	}
	return c, nil
}

func (c Collection) Valid() bool {
	switch c {
	case Projects, Expenses, Financing:
		return true
	default:
		return false
	}
}

// Categories lists the categories a record of this collection can carry.
func (c Collection) Categories() []Category {
	switch c {
	case Projects:
		return []Category{RegionEgypt, RegionSaudi, RegionMAH}
	case Expenses:
		return []Category{ExpenseOperational, ExpensePurchases}
	case Financing:
		return []Category{FinancingCredit, FinancingDebit}
	default:
		return nil
	}
}

// Accepts reports whether cat belongs to the collection.
func (c Collection) Accepts(cat Category) bool {
	for _, v := range c.Categories() {
		if v == cat {
			return true
		}
	}
	return false
}

// SignOf derives the financing category from an amount.
func SignOf(amount float64) Category {
	if amount < 0 {
		return FinancingDebit
	}
	return FinancingCredit
}

// Validate checks a record before it is written to collection c.
func (r Record) Validate(c Collection) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, string(c))
	}
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if !isFinite(r.Amount) {
		return ErrInvalidAmount
	}
	if c == Financing {
		if r.Amount == 0 {
			return ErrFinancingZeroValue
		}
		if r.Category != "" && r.Category != SignOf(r.Amount) {
			return fmt.Errorf("%w: %q does not match amount sign", ErrInvalidCategory, r.Category)
		}
		return nil
	}
	if r.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !c.Accepts(r.Category) {
		return fmt.Errorf("%w: %q for %s", ErrInvalidCategory, r.Category, c)
	}
	return nil
}

// ValidateName rejects blank and overlong names.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// Links returns the http(s) URLs embedded in the record name.
func (r Record) Links() []string {
	return ExtractLinks(r.Name)
}

// ExtractLinks finds http(s) URLs in free text.
func ExtractLinks(s string) []string {
	return linkPattern.FindAllString(s, -1)
}

// Apply returns a copy of r with the patch applied.
func (p Patch) Apply(r Record) Record {
	if p.Archived != nil {
		r.Archived = *p.Archived
	}
	if p.Attachment != nil {
		r.Attachment = *p.Attachment
	}
	return r
}

func (p Patch) IsEmpty() bool {
	return p.Archived == nil && p.Attachment == nil
}

// ArchivePatch sets the archived flag.
func ArchivePatch(archived bool) Patch {
	return Patch{Archived: &archived}
}

// AttachmentPatch sets or, with an empty url, clears the attachment.
func AttachmentPatch(url string) Patch {
	return Patch{Attachment: &url}
}
