// Package budget persists token budget counters as expiring Redis integers.
// Keys look like {prefix}budget:{kind}:{provider}:daily:2026-05-01 or
// ...:monthly:2026-05; each expires a grace period after its window closes.
package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/filingbrief/internal/db"
)

// fallbackTTL applies to keys whose window cannot be parsed.
const fallbackTTL = 62 * 24 * time.Hour

type counterKV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Store keeps per-window counters for the budget trackers.
type Store struct {
	kv    counterKV
	grace time.Duration
	now   func() time.Time
}

// New creates a budget store. grace is how long a counter outlives its window,
// so usage reports can still read yesterday and last month.
func New(kv counterKV, grace time.Duration) *Store {
	return &Store{kv: kv, grace: grace, now: func() time.Time { return time.Now().UTC() }}
}

// IncrBy adds val to the counter. The first write of a window sets its expiry.
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	if err := s.kv.IncrBy(ctx, key, val); err != nil {
		return fmt.Errorf("budget incr %s: %w", key, err)
	}
	if err := s.kv.Expire(ctx, key, s.ttl(key), true); err != nil {
		return fmt.Errorf("budget expire %s: %w", key, err)
	}
	return nil
}

// Get returns the counter, or 0 when the window has no usage yet.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	raw, err := s.kv.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("budget get %s: %w", key, err)
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget get %s: corrupt counter %q: %w", key, raw, err)
	}
	return n, nil
}

func (s *Store) ttl(key string) time.Duration {
	end, ok := windowEnd(key)
	if !ok {
		return fallbackTTL
	}
	return max(end.Sub(s.now()), 0) + s.grace
}

// windowEnd parses the trailing ":daily:<date>" or ":monthly:<month>" segment.
func windowEnd(key string) (time.Time, bool) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return time.Time{}, false
	}
	head, stamp := key[:i], key[i+1:]
	switch {
	case strings.HasSuffix(head, ":daily"):
		day, err := time.Parse(time.DateOnly, stamp)
		if err != nil {
			return time.Time{}, false
		}
		return day.AddDate(0, 0, 1), true
	case strings.HasSuffix(head, ":monthly"):
		month, err := time.Parse("2006-01", stamp)
		if err != nil {
			return time.Time{}, false
		}
		return month.AddDate(0, 1, 0), true
	}
	return time.Time{}, false
}
