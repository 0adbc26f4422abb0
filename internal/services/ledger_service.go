// Package services holds the write-side use cases of the ledger.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"rhledger/internal/amqp"
	"rhledger/internal/attachments"
	"rhledger/internal/core"
	"rhledger/internal/log"
	"rhledger/internal/store"
)

// Publisher announces committed writes to other processes.
type Publisher interface {
	PublishChange(ctx context.Context, msg *amqp.ChangeMessage) error
}

// RateSource provides the EGP per USD rate used at write time.
type RateSource interface {
	EGPRate() float64
}

// Entry is user input for a new record. Amount is in Currency; financing
// amounts are signed, everything else must be positive.
type Entry struct {
	Name     string        `json:"name"`
	Amount   float64       `json:"amount"`
	Currency core.Currency `json:"currency,omitempty"`
	Category core.Category `json:"category,omitempty"`
}

var ErrNoAttachmentHost = errors.New("attachment uploads are not configured")

// LedgerService validates input, converts it to USD, writes it and
// announces the change. Announcement failures never fail a write.
type LedgerService struct {
	store     store.Store
	rates     RateSource
	host      attachments.Host
	publisher Publisher
	logger    *log.Logger
	events    *log.StructuredLogger
}

// NewLedgerService wires the service. host and publisher may be nil.
func NewLedgerService(st store.Store, rates RateSource, host attachments.Host, publisher Publisher, logger *log.Logger) *LedgerService {
	l := logger.WithComponent(log.ComponentLedger)
	return &LedgerService{
		store:     st,
		rates:     rates,
		host:      host,
		publisher: publisher,
		logger:    l,
		events:    log.NewStructuredLogger(l),
	}
}

func (s *LedgerService) AddProject(ctx context.Context, name string, amount float64, cur core.Currency, region core.Category) (core.Record, error) {
	return s.Add(ctx, core.Projects, Entry{Name: name, Amount: amount, Currency: cur, Category: region})
}

func (s *LedgerService) AddExpense(ctx context.Context, name string, amount float64, cur core.Currency, kind core.Category) (core.Record, error) {
	return s.Add(ctx, core.Expenses, Entry{Name: name, Amount: amount, Currency: cur, Category: kind})
}

// AddFinancing records a signed movement: positive is money in, negative out.
func (s *LedgerService) AddFinancing(ctx context.Context, name string, amount float64, cur core.Currency) (core.Record, error) {
	return s.Add(ctx, core.Financing, Entry{Name: name, Amount: amount, Currency: cur})
}

// Add stores a new record in collection c.
func (s *LedgerService) Add(ctx context.Context, c core.Collection, in Entry) (core.Record, error) {
	rec, err := s.prepare(c, in)
	if err != nil {
		return core.Record{}, err
	}

	id, err := s.store.Append(ctx, c, rec)
	if err != nil {
		return core.Record{}, fmt.Errorf("append %s record: %w", c, err)
	}
	rec.ID = id

	s.events.LogRecordWritten(ctx, log.OpCreate, string(c), id, rec.Amount, string(rec.Category))
	s.announce(ctx, string(c), id, amqp.OpCreated)

	if stored, err := s.store.Get(ctx, c, id); err == nil {
		return stored, nil
	}
	return rec, nil
}

// Replace is the only way to change a record's financial fields: the new
// version is appended and the old one removed. Archive state and the
// attachment carry over. If any step after the append fails, the new
// version is removed again so the store never holds both.
func (s *LedgerService) Replace(ctx context.Context, c core.Collection, id string, in Entry) (core.Record, error) {
	old, err := s.store.Get(ctx, c, id)
	if err != nil {
		return core.Record{}, fmt.Errorf("load %s record: %w", c, err)
	}

	rec, err := s.prepare(c, in)
	if err != nil {
		return core.Record{}, err
	}
	newID, err := s.store.Append(ctx, c, rec)
	if err != nil {
		return core.Record{}, fmt.Errorf("append %s record: %w", c, err)
	}
	rec.ID = newID

	var carry core.Patch
	if old.Archived {
		carry.Archived = &old.Archived
	}
	if old.Attachment != "" {
		carry.Attachment = &old.Attachment
	}
	if !carry.IsEmpty() {
		if err := s.store.Patch(ctx, c, newID, carry); err != nil {
			return core.Record{}, s.rollback(ctx, c, newID, fmt.Errorf("carry state to replacement: %w", err))
		}
		rec = carry.Apply(rec)
	}

	if err := s.store.Remove(ctx, c, id); err != nil {
		return core.Record{}, s.rollback(ctx, c, newID, fmt.Errorf("remove replaced record %s: %w", id, err))
	}

	s.events.LogRecordWritten(ctx, log.OpCreate, string(c), newID, rec.Amount, string(rec.Category))
	s.announce(ctx, string(c), newID, amqp.OpCreated)
	s.announce(ctx, string(c), id, amqp.OpDeleted)

	if stored, err := s.store.Get(ctx, c, newID); err == nil {
		return stored, nil
	}
	return rec, nil
}

// rollback removes a half-finished replacement and returns cause.
func (s *LedgerService) rollback(ctx context.Context, c core.Collection, newID string, cause error) error {
	if err := s.store.Remove(ctx, c, newID); err != nil {
		s.logger.ErrorContext(ctx, "Failed to roll back replacement",
			log.FieldCollection, c, log.FieldRecordID, newID, log.FieldError, err)
		return fmt.Errorf("%w (rollback failed: %v)", cause, err)
	}
	s.logger.WarnContext(ctx, "Replacement rolled back",
		log.FieldCollection, c, log.FieldRecordID, newID, log.FieldError, cause)
	return cause
}

// Delete hard-deletes a record.
func (s *LedgerService) Delete(ctx context.Context, c core.Collection, id string) error {
	if err := s.store.Remove(ctx, c, id); err != nil {
		return fmt.Errorf("delete %s record: %w", c, err)
	}
	s.logger.InfoContext(ctx, "Record deleted", log.FieldCollection, c, log.FieldRecordID, id)
	s.announce(ctx, string(c), id, amqp.OpDeleted)
	return nil
}

func (s *LedgerService) Archive(ctx context.Context, c core.Collection, id string) error {
	return s.patch(ctx, c, id, core.ArchivePatch(true), amqp.OpArchived)
}

func (s *LedgerService) Unarchive(ctx context.Context, c core.Collection, id string) error {
	return s.patch(ctx, c, id, core.ArchivePatch(false), amqp.OpUnarchived)
}

// AttachReceipt uploads a file and links it to the record. The record is
// only touched after the upload succeeded.
func (s *LedgerService) AttachReceipt(ctx context.Context, c core.Collection, id, filename, contentType string, r io.Reader) (string, error) {
	if s.host == nil {
		return "", ErrNoAttachmentHost
	}
	if _, err := s.store.Get(ctx, c, id); err != nil {
		return "", fmt.Errorf("load %s record: %w", c, err)
	}

	url, err := s.host.Upload(ctx, filename, contentType, r)
	if err != nil {
		s.logger.ErrorContext(ctx, "Attachment upload failed",
			log.FieldCollection, c, log.FieldRecordID, id, log.FieldError, err)
		return "", fmt.Errorf("upload attachment: %w", err)
	}

	if err := s.patch(ctx, c, id, core.AttachmentPatch(url), amqp.OpAttached); err != nil {
		return "", err
	}
	return url, nil
}

// RemoveAttachment clears the link. The hosted file is left in place.
func (s *LedgerService) RemoveAttachment(ctx context.Context, c core.Collection, id string) error {
	return s.patch(ctx, c, id, core.AttachmentPatch(""), amqp.OpDetached)
}

// SaveMonthlyStat upserts the figures for month id ("YYYY-MM").
func (s *LedgerService) SaveMonthlyStat(ctx context.Context, id string, income, expenses float64) (core.MonthlyStat, error) {
	m, err := core.NewMonthlyStat(id, income, expenses)
	if err != nil {
		return core.MonthlyStat{}, err
	}
	if err := s.store.PutMonthlyStat(ctx, m); err != nil {
		return core.MonthlyStat{}, fmt.Errorf("save monthly stat: %w", err)
	}
	s.logger.InfoContext(ctx, "Monthly stat saved", log.FieldMonth, m.ID)
	s.announce(ctx, amqp.MonthlyStatsCollection, m.ID, amqp.OpUpserted)
	return m, nil
}

func (s *LedgerService) DeleteMonthlyStat(ctx context.Context, id string) error {
	if _, _, err := core.ParseMonthID(id); err != nil {
		return err
	}
	if err := s.store.DeleteMonthlyStat(ctx, strings.TrimSpace(id)); err != nil {
		return fmt.Errorf("delete monthly stat: %w", err)
	}
	s.announce(ctx, amqp.MonthlyStatsCollection, id, amqp.OpDeleted)
	return nil
}

func (s *LedgerService) patch(ctx context.Context, c core.Collection, id string, p core.Patch, op amqp.Op) error {
	if err := s.store.Patch(ctx, c, id, p); err != nil {
		return fmt.Errorf("%s %s record: %w", op, c, err)
	}
	s.logger.InfoContext(ctx, "Record updated",
		log.FieldCollection, c, log.FieldRecordID, id, log.FieldOperation, string(op))
	s.announce(ctx, string(c), id, op)
	return nil
}

// prepare validates the entry and converts its amount to USD.
func (s *LedgerService) prepare(c core.Collection, in Entry) (core.Record, error) {
	if !c.Valid() {
		return core.Record{}, fmt.Errorf("%w: %q", core.ErrUnknownCollection, string(c))
	}
	cur := in.Currency
	if cur == "" {
		cur = core.CanonicalCurrency
	}
	if !cur.Valid() {
		return core.Record{}, fmt.Errorf("%w: %q", core.ErrUnknownCurrency, string(cur))
	}

	rec := core.Record{Name: strings.TrimSpace(in.Name), Category: in.Category}
	if err := core.ValidateName(rec.Name); err != nil {
		return core.Record{}, err
	}

	amount := in.Amount
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return core.Record{}, core.ErrInvalidAmount
	}
	if c == core.Financing {
		if amount == 0 {
			return core.Record{}, core.ErrFinancingZeroValue
		}
		// The sign is kept aside so conversion only sees a magnitude.
		usd, err := core.ToCanonical(math.Abs(amount), cur, s.egpRate())
		if err != nil {
			return core.Record{}, err
		}
		rec.Amount = math.Copysign(usd, amount)
		if rec.Category == "" {
			rec.Category = core.SignOf(rec.Amount)
		}
	} else {
		if amount <= 0 {
			return core.Record{}, core.ErrInvalidAmount
		}
		usd, err := core.ToCanonical(amount, cur, s.egpRate())
		if err != nil {
			return core.Record{}, err
		}
		rec.Amount = usd
	}

	if err := rec.Validate(c); err != nil {
		return core.Record{}, err
	}
	if c == core.Financing {
		rec.Category = ""
	}
	return rec, nil
}

func (s *LedgerService) egpRate() float64 {
	if s.rates == nil {
		return core.DefaultEGPRate
	}
	return s.rates.EGPRate()
}

func (s *LedgerService) announce(ctx context.Context, collection, id string, op amqp.Op) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishChange(ctx, amqp.NewChangeMessage(collection, id, op)); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish change message",
			log.FieldCollection, collection,
			log.FieldRecordID, id,
			log.FieldError, err)
	}
}
