// Package store defines the record store the ledger is built on and the
// subscription plumbing shared by its implementations.
package store

import (
	"context"
	"errors"

	"rhledger/internal/core"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrClosed   = errors.New("store closed")
)

// Ports for record persistence and live snapshots.
type (
	// RecordWriter performs the write operations. Amount, category and
	// timestamp are fixed by Append; Patch can only touch archive and
	// attachment state.
	RecordWriter interface {
		Append(ctx context.Context, c core.Collection, r core.Record) (id string, err error)
		Remove(ctx context.Context, c core.Collection, id string) error
		Patch(ctx context.Context, c core.Collection, id string, p core.Patch) error
	}

	RecordReader interface {
		List(ctx context.Context, c core.Collection) ([]core.Record, error)
		Get(ctx context.Context, c core.Collection, id string) (core.Record, error)
	}

	// RecordSubscriber delivers a full snapshot of a collection right away
	// and again after every successful write to it.
	RecordSubscriber interface {
		Subscribe(ctx context.Context, c core.Collection) (*Subscription[Snapshot], error)
	}

	MonthlyStats interface {
		PutMonthlyStat(ctx context.Context, m core.MonthlyStat) error
		DeleteMonthlyStat(ctx context.Context, id string) error
		ListMonthlyStats(ctx context.Context) ([]core.MonthlyStat, error)
		SubscribeMonthlyStats(ctx context.Context) (*Subscription[StatsSnapshot], error)
	}

	// RateStore keeps the last known exchange rate so a restart without
	// network access still converts with a recent value.
	RateStore interface {
		SaveRate(ctx context.Context, currency core.Currency, rate float64) error
		LastRate(ctx context.Context, currency core.Currency) (float64, error)
	}

	// Store is everything the ledger needs from persistence.
	Store interface {
		RecordWriter
		RecordReader
		RecordSubscriber
		MonthlyStats
		RateStore
		Close() error
	}
)

// Snapshot is a point-in-time copy of one collection.
type Snapshot struct {
	Collection core.Collection
	Records    []core.Record
	Version    uint64
}

// StatsSnapshot is a point-in-time copy of the monthly statistics.
type StatsSnapshot struct {
	Stats   []core.MonthlyStat
	Version uint64
}
