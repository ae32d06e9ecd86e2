// Package memory persists memory records in key-value stores. Each namespace
// has its own backend and lifetime: global records never expire, session
// records carry a TTL as a backstop to the idle sweep.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/filingbrief/internal/db"
	"github.com/kailas-cloud/filingbrief/internal/domain"
	dommem "github.com/kailas-cloud/filingbrief/internal/domain/memory"
)

// kv is the consumer interface for memory backends (ISP).
type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	GetMulti(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// sessionKV is a kv whose keys can have their expiry refreshed.
type sessionKV interface {
	kv
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// envelope is the stored form of a record.
type envelope struct {
	Value     json.RawMessage `json:"value"`
	TouchedAt time.Time       `json:"touched_at"`
}

// policy binds a namespace to its backend and lifetime.
type policy struct {
	store  kv
	ttl    time.Duration // zero: never expires
	expire sessionKV     // set when ttl > 0
}

// Repo stores memory records under {prefix}mem:{namespace}:{owner}:{key}.
type Repo struct {
	prefix   string
	policies map[dommem.Namespace]policy
}

// New creates a memory repository. sessionTTL is applied to every session
// write and re-armed on the session's other keys; global writes never expire.
func New(global kv, session sessionKV, prefix string, sessionTTL time.Duration) *Repo {
	return &Repo{
		prefix: prefix,
		policies: map[dommem.Namespace]policy{
			dommem.Global:  {store: global},
			dommem.Session: {store: session, ttl: sessionTTL, expire: session},
		},
	}
}

// Get returns the record, or domain.ErrNotFound.
func (r *Repo) Get(ctx context.Context, ns dommem.Namespace, owner, key string) (dommem.Record, error) {
	p, err := r.policy(ns)
	if err != nil {
		return dommem.Record{}, err
	}
	k := r.key(ns, owner, key)
	data, err := p.store.Get(ctx, k)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return dommem.Record{}, fmt.Errorf("memory %s: %w", k, domain.ErrNotFound)
		}
		return dommem.Record{}, unavailable("get", k, err)
	}
	return decode(ns, owner, key, data)
}

// Put writes the record with a single SET, overwriting any previous value.
func (r *Repo) Put(ctx context.Context, rec dommem.Record) error {
	p, err := r.policy(rec.Namespace())
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope{Value: rec.Value(), TouchedAt: rec.TouchedAt()})
	if err != nil {
		return fmt.Errorf("marshal memory record: %w", err)
	}
	k := r.key(rec.Namespace(), rec.Owner(), rec.Key())
	if p.ttl > 0 {
		err = p.store.SetWithTTL(ctx, k, data, p.ttl)
	} else {
		err = p.store.Set(ctx, k, data)
	}
	if err != nil {
		return unavailable("set", k, err)
	}
	if p.ttl > 0 && p.expire != nil {
		return r.rearm(ctx, p, rec.Namespace(), rec.Owner(), k)
	}
	return nil
}

// rearm extends every other key of owner to the full TTL, so records written
// once (the session owner) live as long as the most recent write.
func (r *Repo) rearm(ctx context.Context, p policy, ns dommem.Namespace, owner, written string) error {
	pattern := r.prefix + "mem:" + string(ns) + ":" + owner + ":*"
	keys, err := p.store.Scan(ctx, pattern)
	if err != nil {
		return unavailable("scan", pattern, err)
	}
	for _, k := range keys {
		if k == written {
			continue
		}
		if err := p.expire.Expire(ctx, k, p.ttl, false); err != nil {
			return unavailable("expire", k, err)
		}
	}
	return nil
}

// Delete removes a record. Missing records are not an error.
func (r *Repo) Delete(ctx context.Context, ns dommem.Namespace, owner, key string) error {
	p, err := r.policy(ns)
	if err != nil {
		return err
	}
	k := r.key(ns, owner, key)
	if err := p.store.Del(ctx, k); err != nil {
		return unavailable("del", k, err)
	}
	return nil
}

// List returns every record in the namespace, optionally restricted to one owner.
// Records that vanish or fail to decode between scan and read are skipped.
func (r *Repo) List(ctx context.Context, ns dommem.Namespace, owner string) ([]dommem.Record, error) {
	p, err := r.policy(ns)
	if err != nil {
		return nil, err
	}
	base := r.prefix + "mem:" + string(ns) + ":"
	pattern := base + "*"
	if owner != "" {
		pattern = base + owner + ":*"
	}

	keys, err := p.store.Scan(ctx, pattern)
	if err != nil {
		return nil, unavailable("scan", pattern, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := p.store.GetMulti(ctx, keys)
	if err != nil {
		return nil, unavailable("mget", pattern, err)
	}

	out := make([]dommem.Record, 0, len(keys))
	for i, k := range keys {
		if i >= len(values) || values[i] == nil {
			continue
		}
		recOwner, recKey, ok := strings.Cut(strings.TrimPrefix(k, base), ":")
		if !ok {
			continue
		}
		rec, err := decode(ns, recOwner, recKey, values[i])
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Repo) policy(ns dommem.Namespace) (policy, error) {
	p, ok := r.policies[ns]
	if !ok || p.store == nil {
		return policy{}, fmt.Errorf("no backend for namespace %q", ns)
	}
	return p, nil
}

func (r *Repo) key(ns dommem.Namespace, owner, key string) string {
	return r.prefix + "mem:" + string(ns) + ":" + owner + ":" + key
}

func decode(ns dommem.Namespace, owner, key string, data []byte) (dommem.Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return dommem.Record{}, fmt.Errorf("decode memory record %s/%s: %w", owner, key, err)
	}
	return dommem.Reconstruct(ns, owner, key, env.Value, env.TouchedAt), nil
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("memory %s %s: %w: %w", op, key, domain.ErrMemoryStoreUnavailable, err)
}
