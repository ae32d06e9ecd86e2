// Package memory implements the two-tier memory manager: durable per-user
// global records and per-session records evicted after an idle period.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/filingbrief/internal/domain"
	dommem "github.com/kailas-cloud/filingbrief/internal/domain/memory"
	"github.com/kailas-cloud/filingbrief/internal/metrics"
)

const (
	// DefaultSessionTTL is the idle period after which session records are swept.
	DefaultSessionTTL = 30 * time.Minute
	// DefaultHistoryWindow bounds the stored conversation history per session.
	DefaultHistoryWindow = 20

	// sessionUserKey maps a session to the user that opened it.
	sessionUserKey = "user_id"
)

// Service is the memory manager.
type Service struct {
	repo          Repository
	locks         *keyedMutex
	sessionTTL    time.Duration
	historyWindow int
	logger        *zap.Logger
	now           func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithSessionTTL overrides the idle eviction period.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

// WithHistoryWindow overrides how many turns a session keeps.
func WithHistoryWindow(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyWindow = n
		}
	}
}

// New creates a memory manager.
func New(repo Repository, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		locks:         newKeyedMutex(),
		sessionTTL:    DefaultSessionTTL,
		historyWindow: DefaultHistoryWindow,
		logger:        logger,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SessionTTL returns the configured idle period.
func (s *Service) SessionTTL() time.Duration { return s.sessionTTL }

// GetGlobal returns a durable user record, or domain.ErrNotFound.
func (s *Service) GetGlobal(ctx context.Context, userID, key string) (dommem.Record, error) {
	return s.get(ctx, dommem.Global, userID, key)
}

// PutGlobal overwrites a durable user record.
func (s *Service) PutGlobal(ctx context.Context, userID, key string, value json.RawMessage) (dommem.Record, error) {
	return s.put(ctx, dommem.Global, userID, key, value)
}

// GetSession returns a session record, or domain.ErrNotFound.
func (s *Service) GetSession(ctx context.Context, sessionID, key string) (dommem.Record, error) {
	return s.get(ctx, dommem.Session, sessionID, key)
}

// PutSession writes a session record and refreshes its touched time.
func (s *Service) PutSession(ctx context.Context, sessionID, key string, value json.RawMessage) (dommem.Record, error) {
	return s.put(ctx, dommem.Session, sessionID, key, value)
}

// StartSession opens a fresh session scope for userID and sweeps idle sessions.
// A failed sweep is logged, not returned.
func (s *Service) StartSession(ctx context.Context, userID string) (string, error) {
	if err := dommem.ValidateOwner(userID); err != nil {
		return "", fmt.Errorf("user id: %v: %w", err, domain.ErrInvalidRequest)
	}
	id := uuid.NewString()
	user, _ := json.Marshal(userID)
	if _, err := s.put(ctx, dommem.Session, id, sessionUserKey, user); err != nil {
		return "", err
	}

	if n, err := s.Sweep(ctx); err != nil {
		s.logger.Warn("session sweep failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("swept idle sessions", zap.Int("records", n))
	}
	return id, nil
}

// SessionOwner returns the user that opened sessionID, or domain.ErrNotFound.
func (s *Service) SessionOwner(ctx context.Context, sessionID string) (string, error) {
	return s.getString(ctx, dommem.Session, sessionID, sessionUserKey)
}

// Sweep deletes every record of sessions idle longer than the TTL. A session's
// idle time is measured from its most recently touched record. Global records
// are never examined.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	recs, err := s.repo.List(ctx, dommem.Session, "")
	if err != nil {
		metrics.MemoryOpsTotal.WithLabelValues(string(dommem.Session), "sweep", "error").Inc()
		return 0, err
	}

	sessions := make(map[string][]dommem.Record)
	for _, r := range recs {
		sessions[r.Owner()] = append(sessions[r.Owner()], r)
	}

	now := s.now()
	removed := 0
	for id, rs := range sessions {
		if !idle(rs, now, s.sessionTTL) {
			continue
		}
		n, err := s.evict(ctx, id, now)
		removed += n
		if err != nil {
			metrics.MemoryOpsTotal.WithLabelValues(string(dommem.Session), "sweep", "error").Inc()
			metrics.MemorySweptTotal.Add(float64(removed))
			return removed, err
		}
	}
	metrics.MemoryOpsTotal.WithLabelValues(string(dommem.Session), "sweep", "ok").Inc()
	metrics.MemorySweptTotal.Add(float64(removed))
	return removed, nil
}

// evict re-reads the session under its lock so a write racing the sweep keeps it alive.
func (s *Service) evict(ctx context.Context, sessionID string, now time.Time) (int, error) {
	unlock := s.locks.Lock(lockKey(dommem.Session, sessionID))
	defer unlock()

	rs, err := s.repo.List(ctx, dommem.Session, sessionID)
	if err != nil {
		return 0, err
	}
	if !idle(rs, now, s.sessionTTL) {
		return 0, nil
	}
	for i, r := range rs {
		if err := s.repo.Delete(ctx, dommem.Session, sessionID, r.Key()); err != nil {
			return i, err
		}
	}
	return len(rs), nil
}

func idle(rs []dommem.Record, now time.Time, ttl time.Duration) bool {
	for _, r := range rs {
		if r.IdleFor(now) <= ttl {
			return false
		}
	}
	return len(rs) > 0
}

// PrimaryTicker returns the ticker the session last focused on, or "".
func (s *Service) PrimaryTicker(ctx context.Context, sessionID string) (string, error) {
	return s.optionalString(ctx, dommem.Session, sessionID, dommem.KeyPrimaryTicker)
}

// DefaultTicker returns the user's configured fallback ticker, or "".
func (s *Service) DefaultTicker(ctx context.Context, userID string) (string, error) {
	return s.optionalString(ctx, dommem.Global, userID, dommem.KeyDefaultTicker)
}

// SetPrimaryTicker records the session's current focus ticker.
func (s *Service) SetPrimaryTicker(ctx context.Context, sessionID, ticker string) error {
	v, _ := json.Marshal(strings.ToUpper(ticker))
	_, err := s.PutSession(ctx, sessionID, dommem.KeyPrimaryTicker, v)
	return err
}

// AppendTurn adds a turn to the session history, keeping the newest window.
func (s *Service) AppendTurn(ctx context.Context, sessionID string, turn dommem.Turn) error {
	unlock := s.locks.Lock(lockKey(dommem.Session, sessionID))
	defer unlock()

	turns, err := s.loadHistory(ctx, sessionID)
	if err != nil {
		return err
	}
	turns = append(turns, turn)
	if len(turns) > s.historyWindow {
		turns = turns[len(turns)-s.historyWindow:]
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	_, err = s.write(ctx, dommem.Session, sessionID, dommem.KeyHistory, data)
	return err
}

// History returns up to n most recent turns, oldest first. n <= 0 returns the whole window.
func (s *Service) History(ctx context.Context, sessionID string, n int) ([]dommem.Turn, error) {
	turns, err := s.loadHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns, nil
}

func (s *Service) loadHistory(ctx context.Context, sessionID string) ([]dommem.Turn, error) {
	rec, err := s.get(ctx, dommem.Session, sessionID, dommem.KeyHistory)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var turns []dommem.Turn
	if err := json.Unmarshal(rec.Value(), &turns); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return turns, nil
}

// SaveAnalysis stores the latest brief summary for the user and ticker.
func (s *Service) SaveAnalysis(ctx context.Context, userID string, a dommem.AnalysisSummary) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	_, err = s.PutGlobal(ctx, userID, dommem.KeyAnalysisPrefix+strings.ToUpper(a.Ticker), data)
	return err
}

// Analysis returns the saved summary for ticker, or domain.ErrNotFound.
func (s *Service) Analysis(ctx context.Context, userID, ticker string) (dommem.AnalysisSummary, error) {
	rec, err := s.GetGlobal(ctx, userID, dommem.KeyAnalysisPrefix+strings.ToUpper(ticker))
	if err != nil {
		return dommem.AnalysisSummary{}, err
	}
	var a dommem.AnalysisSummary
	if err := json.Unmarshal(rec.Value(), &a); err != nil {
		return dommem.AnalysisSummary{}, fmt.Errorf("decode analysis: %w", err)
	}
	return a, nil
}

func (s *Service) get(ctx context.Context, ns dommem.Namespace, owner, key string) (dommem.Record, error) {
	if err := dommem.ValidateOwner(owner); err != nil {
		return dommem.Record{}, fmt.Errorf("%v: %w", err, domain.ErrInvalidRequest)
	}
	if err := dommem.ValidateSegment("key", key); err != nil {
		return dommem.Record{}, fmt.Errorf("%v: %w", err, domain.ErrInvalidRequest)
	}
	rec, err := s.repo.Get(ctx, ns, owner, key)
	s.observe(ns, "get", err)
	return rec, err
}

func (s *Service) put(ctx context.Context, ns dommem.Namespace, owner, key string, value json.RawMessage) (dommem.Record, error) {
	unlock := s.locks.Lock(lockKey(ns, owner))
	defer unlock()
	return s.write(ctx, ns, owner, key, value)
}

// write assumes the caller holds the (ns, owner) lock.
func (s *Service) write(ctx context.Context, ns dommem.Namespace, owner, key string, value json.RawMessage) (dommem.Record, error) {
	rec, err := dommem.NewRecord(ns, owner, key, value, s.now())
	if err != nil {
		return dommem.Record{}, fmt.Errorf("%v: %w", err, domain.ErrInvalidRequest)
	}
	err = s.repo.Put(ctx, rec)
	s.observe(ns, "put", err)
	if err != nil {
		return dommem.Record{}, err
	}
	return rec, nil
}

func (s *Service) getString(ctx context.Context, ns dommem.Namespace, owner, key string) (string, error) {
	rec, err := s.get(ctx, ns, owner, key)
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(rec.Value(), &v); err != nil {
		return "", fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

func (s *Service) optionalString(ctx context.Context, ns dommem.Namespace, owner, key string) (string, error) {
	v, err := s.getString(ctx, ns, owner, key)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (s *Service) observe(ns dommem.Namespace, op string, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		status = "miss"
	default:
		status = "error"
	}
	metrics.MemoryOpsTotal.WithLabelValues(string(ns), op, status).Inc()
}

func lockKey(ns dommem.Namespace, owner string) string {
	return string(ns) + ":" + owner
}
