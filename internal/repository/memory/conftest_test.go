package memory

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/kailas-cloud/filingbrief/internal/db"
)

// fakeKV is an in-memory kv with failure injection. Keys with a TTL expire
// once the clock moves past their deadline.
type fakeKV struct {
	mu       sync.Mutex
	data     map[string][]byte
	ttls     map[string]time.Duration
	deadline map[string]time.Time
	clock    time.Time
	expires  int
	err      error
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		data:     map[string][]byte{},
		ttls:     map[string]time.Duration{},
		deadline: map[string]time.Time{},
		clock:    testNow,
	}
}

func (f *fakeKV) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(d)
	for k, at := range f.deadline {
		if !f.clock.Before(at) {
			delete(f.data, k)
			delete(f.ttls, k)
			delete(f.deadline, k)
		}
	}
}

func (f *fakeKV) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.expires++
	if _, ok := f.data[key]; !ok {
		return nil
	}
	if _, has := f.ttls[key]; nx && has {
		return nil
	}
	f.ttls[key] = ttl
	f.deadline[key] = f.clock.Add(ttl)
	return nil
}

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeKV) GetMulti(_ context.Context, keys []string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = f.data[k]
	}
	return out, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	delete(f.ttls, key)
	delete(f.deadline, key)
	return nil
}

func (f *fakeKV) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	f.ttls[key] = ttl
	f.deadline[key] = f.clock.Add(ttl)
	return nil
}

func (f *fakeKV) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.data, key)
	delete(f.ttls, key)
	delete(f.deadline, key)
	return nil
}

func (f *fakeKV) Scan(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var keys []string
	for k := range f.data {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
