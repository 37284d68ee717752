// Package historicalstore implements the historical data access of spec
// §4.2/§6: range queries producing a lazy, time-ordered sequence of records
// per subscription, plus Earliest/Latest/SaveBulk. It is the only stable
// artifact the core treats as opaque persisted state (spec §6).
package historicalstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/vendor"
)

// Store is the historical data access surface.
type Store interface {
	Range(ctx context.Context, sub domain.Subscription, from, to time.Time) (vendor.HistoryIterator, error)
	Earliest(ctx context.Context, sub domain.Subscription) (time.Time, error)
	Latest(ctx context.Context, sub domain.Subscription) (time.Time, error)
	SaveBulk(ctx context.Context, sub domain.Subscription, records []domain.DataRecord) error
}

type memIterator struct {
	records []domain.DataRecord
	idx     int
}

func (it *memIterator) Next() bool {
	it.idx++
	return it.idx < len(it.records)
}
func (it *memIterator) Record() domain.DataRecord { return it.records[it.idx] }
func (it *memIterator) Err() error                { return nil }
func (it *memIterator) Close() error              { return nil }

// MemoryStore is an in-process historical store, used by tests and by
// ffserver. It is the only Store implementation in this module.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]domain.DataRecord // subscription key -> time-sorted records
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]domain.DataRecord)}
}

// SaveBulk appends records and keeps each subscription's slice sorted by
// TimeStart. A round-trip save+range over the inserted range returns the
// same records in time-sorted order (spec §8 round-trip property).
func (s *MemoryStore) SaveBulk(ctx context.Context, sub domain.Subscription, records []domain.DataRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sub.Key()
	merged := append(s.data[key], records...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].TimeStart.Before(merged[j].TimeStart) })
	s.data[key] = merged
	return nil
}

func (s *MemoryStore) Range(ctx context.Context, sub domain.Subscription, from, to time.Time) (vendor.HistoryIterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.data[sub.Key()]
	lo := sort.Search(len(all), func(i int) bool { return !all[i].TimeStart.Before(from) })
	hi := sort.Search(len(all), func(i int) bool { return all[i].TimeStart.After(to) })
	if lo >= hi {
		return &memIterator{idx: -1}, nil
	}
	window := append([]domain.DataRecord(nil), all[lo:hi]...)
	return &memIterator{records: window, idx: -1}, nil
}

func (s *MemoryStore) Earliest(ctx context.Context, sub domain.Subscription) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.data[sub.Key()]
	if len(all) == 0 {
		return time.Time{}, domain.ErrNotFound
	}
	return all[0].TimeStart, nil
}

func (s *MemoryStore) Latest(ctx context.Context, sub domain.Subscription) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.data[sub.Key()]
	if len(all) == 0 {
		return time.Time{}, domain.ErrNotFound
	}
	return all[len(all)-1].TimeStart, nil
}

var _ Store = (*MemoryStore)(nil)
