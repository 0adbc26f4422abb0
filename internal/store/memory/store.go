// Package memory is an in-process record store used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"rhledger/internal/core"
	"rhledger/internal/store"
)

type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	last     time.Time
	records  map[core.Collection][]core.Record
	versions map[core.Collection]uint64
	stats    map[string]core.MonthlyStat
	statsVer uint64
	rates    map[core.Currency]float64
	closed   bool

	hubs  map[core.Collection]*store.Hub[store.Snapshot]
	stHub store.Hub[store.StatsSnapshot]
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		records:  make(map[core.Collection][]core.Record),
		versions: make(map[core.Collection]uint64),
		stats:    make(map[string]core.MonthlyStat),
		rates:    make(map[core.Currency]float64),
		hubs:     make(map[core.Collection]*store.Hub[store.Snapshot]),
	}
	for _, c := range core.Collections() {
		s.hubs[c] = &store.Hub[store.Snapshot]{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

// Append stores a new record with a fresh id and a server-side timestamp.
func (s *Store) Append(_ context.Context, c core.Collection, r core.Record) (string, error) {
	if err := r.Validate(c); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", store.ErrClosed
	}

	r.ID = uuid.NewString()
	r.Timestamp = s.stamp()
	s.records[c] = append(s.records[c], r)
	s.publish(c)
	return r.ID, nil
}

func (s *Store) Remove(_ context.Context, c core.Collection, id string) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnknownCollection, string(c))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	i := s.index(c, id)
	if i < 0 {
		return store.ErrNotFound
	}
	recs := s.records[c]
	s.records[c] = append(recs[:i:i], recs[i+1:]...)
	s.publish(c)
	return nil
}

func (s *Store) Patch(_ context.Context, c core.Collection, id string, p core.Patch) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnknownCollection, string(c))
	}
	if p.IsEmpty() {
		return core.ErrEmptyPatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	i := s.index(c, id)
	if i < 0 {
		return store.ErrNotFound
	}
	s.records[c][i] = p.Apply(s.records[c][i])
	s.publish(c)
	return nil
}

// List returns a copy of the collection, newest first.
func (s *Store) List(_ context.Context, c core.Collection) ([]core.Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownCollection, string(c))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyRecords(c), nil
}

func (s *Store) Get(_ context.Context, c core.Collection, id string) (core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(c, id)
	if i < 0 {
		return core.Record{}, store.ErrNotFound
	}
	return s.records[c][i], nil
}

// Subscribe returns a feed that starts with the current snapshot.
func (s *Store) Subscribe(ctx context.Context, c core.Collection) (*store.Subscription[store.Snapshot], error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownCollection, string(c))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hubs[c].Subscribe(ctx, s.snapshot(c))
}

func (s *Store) PutMonthlyStat(_ context.Context, m core.MonthlyStat) error {
	if _, _, err := core.ParseMonthID(m.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.stats[m.ID] = m
	s.publishStats()
	return nil
}

func (s *Store) DeleteMonthlyStat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if _, ok := s.stats[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.stats, id)
	s.publishStats()
	return nil
}

// ListMonthlyStats returns the stored months in chronological order.
func (s *Store) ListMonthlyStats(_ context.Context) ([]core.MonthlyStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyStats(), nil
}

func (s *Store) SubscribeMonthlyStats(ctx context.Context) (*store.Subscription[store.StatsSnapshot], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stHub.Subscribe(ctx, store.StatsSnapshot{Stats: s.copyStats(), Version: s.statsVer})
}

func (s *Store) SaveRate(_ context.Context, cur core.Currency, rate float64) error {
	if rate <= 0 {
		return core.ErrInvalidRate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[cur] = rate
	return nil
}

func (s *Store) LastRate(_ context.Context, cur core.Currency) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rate, ok := s.rates[cur]
	if !ok {
		return 0, store.ErrNotFound
	}
	return rate, nil
}

// Close ends every subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, h := range s.hubs {
		h.Close()
	}
	s.stHub.Close()
	return nil
}

// stamp returns a strictly increasing timestamp so ordering by time is total.
func (s *Store) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func (s *Store) index(c core.Collection, id string) int {
	for i, r := range s.records[c] {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) copyRecords(c core.Collection) []core.Record {
	out := append([]core.Record(nil), s.records[c]...)
	core.SortByTimestampDesc(out)
	return out
}

func (s *Store) copyStats() []core.MonthlyStat {
	out := make([]core.MonthlyStat, 0, len(s.stats))
	for _, m := range s.stats {
		out = append(out, m)
	}
	core.SortMonthly(out)
	return out
}

func (s *Store) snapshot(c core.Collection) store.Snapshot {
	return store.Snapshot{Collection: c, Records: s.copyRecords(c), Version: s.versions[c]}
}

func (s *Store) publish(c core.Collection) {
	s.versions[c]++
	s.hubs[c].Publish(s.snapshot(c))
}

func (s *Store) publishStats() {
	s.statsVer++
	s.stHub.Publish(store.StatsSnapshot{Stats: s.copyStats(), Version: s.statsVer})
}
