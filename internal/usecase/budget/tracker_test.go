package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/filingbrief/internal/domain"
)

type mockStore struct {
	mu     sync.Mutex
	data   map[string]int64
	getErr error
	setErr error
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]int64)}
}

func (m *mockStore) IncrBy(_ context.Context, key string, val int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] += val
	return nil
}

func (m *mockStore) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return 0, m.getErr
	}
	return m.data[key], nil
}

func newTracker(daily, monthly int64, action Action) *Tracker {
	return NewTracker(KindEmbedding, "openai", "fb:", Limits{Daily: daily, Monthly: monthly, Action: action}, zap.NewNop())
}

func TestTracker_RejectWhenExceeded(t *testing.T) {
	bt := newTracker(100, 0, ActionReject)
	bt.Record(100)

	err := bt.Check(context.Background())
	if !errors.Is(err, domain.ErrTokenBudgetExceeded) {
		t.Fatalf("expected ErrTokenBudgetExceeded, got %v", err)
	}
}

func TestTracker_WarnWhenExceeded(t *testing.T) {
	bt := newTracker(100, 0, ActionWarn)
	bt.Record(200)

	if err := bt.Check(context.Background()); err != nil {
		t.Fatalf("expected nil error for warn action, got %v", err)
	}
}

func TestTracker_DefaultActionIsWarn(t *testing.T) {
	bt := newTracker(10, 0, "")
	bt.Record(50)

	if err := bt.Check(context.Background()); err != nil {
		t.Fatalf("expected warn by default, got %v", err)
	}
}

func TestTracker_MonthlyReject(t *testing.T) {
	bt := newTracker(0, 500, ActionReject)
	bt.Record(500)

	if err := bt.Check(context.Background()); !errors.Is(err, domain.ErrTokenBudgetExceeded) {
		t.Fatalf("expected ErrTokenBudgetExceeded for monthly limit, got %v", err)
	}
}

func TestTracker_UnlimitedWhenZero(t *testing.T) {
	bt := newTracker(0, 0, ActionReject)
	bt.Record(999999999)

	if err := bt.Check(context.Background()); err != nil {
		t.Fatalf("expected nil error for unlimited budget, got %v", err)
	}
	if bt.RemainingDaily() != -1 || bt.RemainingMonthly() != -1 {
		t.Errorf("expected -1 remaining, got %d/%d", bt.RemainingDaily(), bt.RemainingMonthly())
	}
}

func TestTracker_Remaining(t *testing.T) {
	bt := newTracker(1000, 10000, ActionWarn)
	bt.Record(300)

	if got := bt.RemainingDaily(); got != 700 {
		t.Errorf("expected daily remaining 700, got %d", got)
	}
	if got := bt.RemainingMonthly(); got != 9700 {
		t.Errorf("expected monthly remaining 9700, got %d", got)
	}

	bt.Record(5000)
	if got := bt.RemainingDaily(); got != 0 {
		t.Errorf("expected daily remaining clamped to 0, got %d", got)
	}
}

func TestTracker_RecordIgnoresNonPositive(t *testing.T) {
	bt := newTracker(1000, 0, ActionWarn)
	bt.Record(0)
	bt.Record(-5)

	if bt.DailyUsed() != 0 {
		t.Errorf("expected 0 used, got %d", bt.DailyUsed())
	}
}

func TestTracker_DayRolloverResetsDaily(t *testing.T) {
	now := time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)
	bt := newTracker(100, 1000, ActionReject)
	bt.now = func() time.Time { return now }
	bt.lastDayReset = truncateToDay(now)
	bt.lastMonthReset = truncateToMonth(now)

	bt.Record(100)
	if err := bt.Check(context.Background()); err == nil {
		t.Fatal("expected rejection before rollover")
	}

	now = now.Add(2 * time.Hour)
	if err := bt.Check(context.Background()); err != nil {
		t.Fatalf("expected reset after rollover, got %v", err)
	}
	if bt.MonthlyUsed() != 0 {
		t.Errorf("expected monthly reset on April 1st, got %d", bt.MonthlyUsed())
	}
}

func TestTracker_WithStore_LoadsValues(t *testing.T) {
	store := newMockStore()
	bt := newTracker(1000, 10000, ActionReject)
	now := bt.now()
	store.data[bt.dailyKey(now)] = 300
	store.data[bt.monthlyKey(now)] = 5000

	bt.WithStore(context.Background(), store)

	if bt.DailyUsed() != 300 {
		t.Errorf("expected daily_used=300, got %d", bt.DailyUsed())
	}
	if bt.MonthlyUsed() != 5000 {
		t.Errorf("expected monthly_used=5000, got %d", bt.MonthlyUsed())
	}
}

func TestTracker_Record_PersistsToStore(t *testing.T) {
	store := newMockStore()
	bt := newTracker(10000, 100000, ActionWarn)
	bt.WithStore(context.Background(), store)

	bt.Record(100)
	bt.Record(200)

	now := bt.now()
	store.mu.Lock()
	daily := store.data[bt.dailyKey(now)]
	monthly := store.data[bt.monthlyKey(now)]
	store.mu.Unlock()

	if daily != 300 || monthly != 300 {
		t.Errorf("expected store 300/300, got %d/%d", daily, monthly)
	}
}

func TestTracker_WithStore_LoadError(t *testing.T) {
	store := newMockStore()
	store.getErr = errors.New("connection refused")

	bt := newTracker(1000, 10000, ActionReject)
	bt.WithStore(context.Background(), store)

	if bt.DailyUsed() != 0 || bt.MonthlyUsed() != 0 {
		t.Errorf("expected zero usage on load error, got %d/%d", bt.DailyUsed(), bt.MonthlyUsed())
	}
}

func TestTracker_Record_StoreWriteError(t *testing.T) {
	store := newMockStore()
	bt := newTracker(1000, 10000, ActionWarn)
	bt.WithStore(context.Background(), store)

	store.mu.Lock()
	store.setErr = errors.New("write timeout")
	store.mu.Unlock()

	bt.Record(50)

	if bt.DailyUsed() != 50 {
		t.Errorf("expected daily_used=50 even with store error, got %d", bt.DailyUsed())
	}
}

func TestTracker_KeyFormat(t *testing.T) {
	bt := NewTracker(KindLLM, "anthropic", "fb:", Limits{}, zap.NewNop())
	ts := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

	if got := bt.dailyKey(ts); got != "fb:budget:llm:anthropic:daily:2026-02-07" {
		t.Errorf("daily key = %q", got)
	}
	if got := bt.monthlyKey(ts); got != "fb:budget:llm:anthropic:monthly:2026-02" {
		t.Errorf("monthly key = %q", got)
	}
}
