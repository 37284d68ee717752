// Package fx provides currency conversion for the ledger (spec §4.8): PnL
// realized in a symbol's own currency is converted to the account currency
// using the most recent rate at or before the fill time.
package fx

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
)

// Source answers conversion-rate queries as of a given instant.
type Source interface {
	// Rate returns the multiplier to convert one unit of from into to, using
	// the most recent observation at or before at. Identity (1) when
	// from==to.
	Rate(ctx context.Context, from, to string, at time.Time) (ffdecimal.Price, error)
}

type observation struct {
	at   time.Time
	rate ffdecimal.Price
}

// MemorySource is a simple time-series FX rate table, seeded by tests/config
// rather than a live pricing feed.
type MemorySource struct {
	mu   sync.RWMutex
	rate map[string][]observation // "FROM/TO" -> time-sorted observations
}

func NewMemorySource() *MemorySource {
	return &MemorySource{rate: make(map[string][]observation)}
}

func pairKey(from, to string) string { return from + "/" + to }

// Seed loads a rate observation, keeping each pair's series sorted by time.
func (s *MemorySource) Seed(from, to string, at time.Time, rate ffdecimal.Price) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(from, to)
	series := append(s.rate[key], observation{at: at, rate: rate})
	sort.Slice(series, func(i, j int) bool { return series[i].at.Before(series[j].at) })
	s.rate[key] = series
}

func (s *MemorySource) Rate(ctx context.Context, from, to string, at time.Time) (ffdecimal.Price, error) {
	if from == to {
		return ffdecimal.NewFromFloat(1), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if series, ok := s.rate[pairKey(from, to)]; ok {
		if rate, ok := latestAtOrBefore(series, at); ok {
			return rate, nil
		}
	}
	// Fall back to the inverse pair if the direct series has no observation.
	if series, ok := s.rate[pairKey(to, from)]; ok {
		if rate, ok := latestAtOrBefore(series, at); ok {
			if rate.Sign() == 0 {
				return ffdecimal.Zero, domain.NewError(domain.KindVendorError, fmt.Sprintf("fx: zero rate %s/%s", to, from))
			}
			return ffdecimal.NewFromFloat(1).Div(rate), nil
		}
	}
	return ffdecimal.Zero, domain.NewError(domain.KindNotFound, fmt.Sprintf("fx: no rate for %s/%s at or before %s", from, to, at))
}

func latestAtOrBefore(series []observation, at time.Time) (ffdecimal.Price, bool) {
	idx := sort.Search(len(series), func(i int) bool { return series[i].at.After(at) }) - 1
	if idx < 0 {
		return ffdecimal.Zero, false
	}
	return series[idx].rate, true
}

var _ Source = (*MemorySource)(nil)
