package budget

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/filingbrief/internal/db"
)

type fakeKV struct {
	values  map[string][]byte
	getErr  error
	incrErr error
	expires map[string]time.Duration
	nx      bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: map[string][]byte{}, expires: map[string]time.Duration{}}
}

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.values[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeKV) IncrBy(_ context.Context, key string, _ int64) error {
	if f.incrErr != nil {
		return f.incrErr
	}
	f.values[key] = []byte("1")
	return nil
}

func (f *fakeKV) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	f.nx = nx
	f.expires[key] = ttl
	return nil
}

func TestIncrBy_ExpiresAfterWindowCloses(t *testing.T) {
	kv := newFakeKV()
	s := New(kv, 24*time.Hour)
	s.now = func() time.Time { return time.Date(2026, 5, 31, 18, 0, 0, 0, time.UTC) }

	tests := []struct {
		key  string
		want time.Duration
	}{
		{"fb:budget:llm:anthropic:daily:2026-05-31", 6*time.Hour + 24*time.Hour},
		{"fb:budget:llm:anthropic:monthly:2026-05", 6*time.Hour + 24*time.Hour},
		{"fb:budget:embedding:openai:monthly:2026-06", 30*24*time.Hour + 6*time.Hour + 24*time.Hour},
		{"fb:budget:embedding:openai:daily:2026-05-30", 24 * time.Hour},
		{"fb:budget:embedding:openai:weekly:22", fallbackTTL},
		{"fb:budget:embedding:openai:daily:yesterday", fallbackTTL},
	}
	for _, tt := range tests {
		if err := s.IncrBy(context.Background(), tt.key, 10); err != nil {
			t.Fatalf("IncrBy %s: %v", tt.key, err)
		}
		if got := kv.expires[tt.key]; got != tt.want {
			t.Errorf("%s: ttl = %v, want %v", tt.key, got, tt.want)
		}
	}
	if !kv.nx {
		t.Error("expiry must be set with NX")
	}
}

func TestIncrBy_Error(t *testing.T) {
	kv := newFakeKV()
	kv.incrErr = errors.New("down")
	if err := New(kv, time.Hour).IncrBy(context.Background(), "k", 1); err == nil {
		t.Fatal("expected error")
	}
	if len(kv.expires) != 0 {
		t.Error("expire must not run after a failed increment")
	}
}

func TestGet(t *testing.T) {
	kv := newFakeKV()
	kv.values["k"] = []byte("1234")
	kv.values["bad"] = []byte("x")
	s := New(kv, time.Hour)
	ctx := context.Background()

	if v, err := s.Get(ctx, "k"); err != nil || v != 1234 {
		t.Errorf("Get = %d, %v", v, err)
	}
	if v, err := s.Get(ctx, "missing"); err != nil || v != 0 {
		t.Errorf("missing key: %d, %v", v, err)
	}
	if _, err := s.Get(ctx, "bad"); err == nil {
		t.Error("expected parse error")
	}

	kv.getErr = errors.New("timeout")
	if _, err := s.Get(ctx, "k"); err == nil {
		t.Error("expected store error")
	}
}
