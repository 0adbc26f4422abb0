package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"rhledger/internal/core"
	"rhledger/internal/log"
	"rhledger/internal/store"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the durable record store. Writes are serialized so
// every published snapshot reflects exactly one committed change.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	logger  *log.Logger

	mu       sync.Mutex
	last     int64
	versions map[core.Collection]uint64
	statsVer uint64
	hubs     map[core.Collection]*store.Hub[store.Snapshot]
	stHub    store.Hub[store.StatsSnapshot]
	closed   bool
}

var _ store.Store = (*SQLiteRepository)(nil)

// busyTimeout is how long a write waits for another connection's lock. The
// API server and the report worker share one database file.
const busyTimeout = 5 * time.Second

// dsn applies the per-connection pragmas modernc.org/sqlite reads from the
// query string.
func dsn(dbPath string) string {
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		dbPath, busyTimeout.Milliseconds())
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{
		db:       db,
		queries:  New(db),
		logger:   logger.WithComponent(log.ComponentStorage),
		versions: make(map[core.Collection]uint64),
		hubs:     make(map[core.Collection]*store.Hub[store.Snapshot]),
	}
	for _, c := range core.Collections() {
		repo.hubs[c] = &store.Hub[store.Snapshot]{}
	}

	last, err := repo.queries.MaxCreatedAt(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read last timestamp: %w", err)
	}
	repo.last = last

	repo.logger.Info("SQLite store ready", "path", dbPath, log.FieldVersion, version)
	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, h := range r.hubs {
		h.Close()
	}
	r.stHub.Close()
	return r.db.Close()
}

func (r *SQLiteRepository) Append(ctx context.Context, c core.Collection, rec core.Record) (string, error) {
	if err := rec.Validate(c); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", store.ErrClosed
	}

	id := uuid.NewString()
	err := r.queries.InsertRecord(ctx, insertRecordParams{
		ID:         id,
		Collection: string(c),
		Name:       rec.Name,
		Amount:     rec.Amount,
		Category:   string(rec.Category),
		CreatedAt:  r.stamp(),
	})
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}

	r.logger.InfoContext(ctx, "Record saved",
		log.FieldCollection, c,
		log.FieldRecordID, id,
		log.FieldAmount, rec.Amount)

	r.publishLocked(ctx, c)
	return id, nil
}

func (r *SQLiteRepository) Remove(ctx context.Context, c core.Collection, id string) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnknownCollection, string(c))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return store.ErrClosed
	}

	n, err := r.queries.DeleteRecord(ctx, string(c), id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}

	r.publishLocked(ctx, c)
	return nil
}

// Patch applies archive and attachment changes in one transaction.
func (r *SQLiteRepository) Patch(ctx context.Context, c core.Collection, id string, p core.Patch) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnknownCollection, string(c))
	}
	if p.IsEmpty() {
		return core.ErrEmptyPatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return store.ErrClosed
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin patch: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	var n int64
	if p.Archived != nil {
		if n, err = q.SetArchived(ctx, string(c), id, *p.Archived); err != nil {
			return fmt.Errorf("set archived: %w", err)
		}
	}
	if p.Attachment != nil {
		if n, err = q.SetAttachment(ctx, string(c), id, *p.Attachment); err != nil {
			return fmt.Errorf("set attachment: %w", err)
		}
	}
	if n == 0 {
		return store.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit patch: %w", err)
	}

	r.publishLocked(ctx, c)
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, c core.Collection) ([]core.Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownCollection, string(c))
	}
	rows, err := r.queries.ListRecords(ctx, string(c))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}
	out := make([]core.Record, len(rows))
	for i, row := range rows {
		out[i] = row.toRecord()
	}
	return out, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, c core.Collection, id string) (core.Record, error) {
	row, err := r.queries.GetRecord(ctx, string(c), id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Record{}, store.ErrNotFound
	}
	if err != nil {
		return core.Record{}, fmt.Errorf("get record: %w", err)
	}
	return row.toRecord(), nil
}

func (r *SQLiteRepository) Subscribe(ctx context.Context, c core.Collection) (*store.Subscription[store.Snapshot], error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownCollection, string(c))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	recs, err := r.List(ctx, c)
	if err != nil {
		return nil, err
	}
	return r.hubs[c].Subscribe(ctx, store.Snapshot{Collection: c, Records: recs, Version: r.versions[c]})
}

// Refresh republishes a collection after a change made by another process
// sharing the database.
func (r *SQLiteRepository) Refresh(ctx context.Context, c core.Collection) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnknownCollection, string(c))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return store.ErrClosed
	}
	r.publishLocked(ctx, c)
	return nil
}

// RefreshMonthlyStats is Refresh for the monthly statistics.
func (r *SQLiteRepository) RefreshMonthlyStats(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return store.ErrClosed
	}
	r.publishStatsLocked(ctx)
	return nil
}

func (r *SQLiteRepository) PutMonthlyStat(ctx context.Context, m core.MonthlyStat) error {
	if _, _, err := core.ParseMonthID(m.ID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return store.ErrClosed
	}

	row := monthlyStatRow{ID: m.ID, Label: m.Label, Income: m.Income, Expenses: m.Expenses}
	if err := r.queries.UpsertMonthlyStat(ctx, row, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("upsert monthly stat: %w", err)
	}

	r.publishStatsLocked(ctx)
	return nil
}

func (r *SQLiteRepository) DeleteMonthlyStat(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return store.ErrClosed
	}

	n, err := r.queries.DeleteMonthlyStat(ctx, id)
	if err != nil {
		return fmt.Errorf("delete monthly stat: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}

	r.publishStatsLocked(ctx)
	return nil
}

func (r *SQLiteRepository) ListMonthlyStats(ctx context.Context) ([]core.MonthlyStat, error) {
	rows, err := r.queries.ListMonthlyStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list monthly stats: %w", err)
	}
	out := make([]core.MonthlyStat, len(rows))
	for i, row := range rows {
		out[i] = core.MonthlyStat{ID: row.ID, Label: row.Label, Income: row.Income, Expenses: row.Expenses}
	}
	return out, nil
}

func (r *SQLiteRepository) SubscribeMonthlyStats(ctx context.Context) (*store.Subscription[store.StatsSnapshot], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, err := r.ListMonthlyStats(ctx)
	if err != nil {
		return nil, err
	}
	return r.stHub.Subscribe(ctx, store.StatsSnapshot{Stats: stats, Version: r.statsVer})
}

func (r *SQLiteRepository) SaveRate(ctx context.Context, cur core.Currency, rate float64) error {
	if rate <= 0 {
		return core.ErrInvalidRate
	}
	if err := r.queries.UpsertRate(ctx, string(cur), rate, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("save rate: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) LastRate(ctx context.Context, cur core.Currency) (float64, error) {
	rate, err := r.queries.GetRate(ctx, string(cur))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load rate: %w", err)
	}
	return rate, nil
}

// stamp returns a strictly increasing unix-nano timestamp. Callers hold r.mu.
func (r *SQLiteRepository) stamp() int64 {
	now := time.Now().UnixNano()
	if now <= r.last {
		now = r.last + 1
	}
	r.last = now
	return now
}

func (r *SQLiteRepository) publishLocked(ctx context.Context, c core.Collection) {
	recs, err := r.List(ctx, c)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to load snapshot", log.FieldCollection, c, log.FieldError, err)
		return
	}
	r.versions[c]++
	r.hubs[c].Publish(store.Snapshot{Collection: c, Records: recs, Version: r.versions[c]})
}

func (r *SQLiteRepository) publishStatsLocked(ctx context.Context) {
	stats, err := r.ListMonthlyStats(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to load monthly stats snapshot", log.FieldError, err)
		return
	}
	r.statsVer++
	r.stHub.Publish(store.StatsSnapshot{Stats: stats, Version: r.statsVer})
}

func (row recordRow) toRecord() core.Record {
	return core.Record{
		ID:         row.ID,
		Name:       row.Name,
		Amount:     row.Amount,
		Category:   core.Category(row.Category),
		Timestamp:  time.Unix(0, row.CreatedAt).UTC(),
		Archived:   row.Archived,
		Attachment: row.Attachment,
	}
}
