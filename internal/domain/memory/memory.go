package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Namespace tags a memory record as durable (Global) or ephemeral (Session).
type Namespace string

// Namespaces.
const (
	Global  Namespace = "global"
	Session Namespace = "session"
)

// Valid reports whether n is a known namespace.
func (n Namespace) Valid() bool { return n == Global || n == Session }

// MaxKeyLength bounds record keys.
const MaxKeyLength = 128

// Well-known keys.
const (
	KeyPrimaryTicker  = "primary_ticker"
	KeyHistory        = "history"
	KeyDefaultTicker  = "default_ticker"
	KeyAnalysisPrefix = "analysis:"
)

// Record is a single memory entry. Owner is a user id for Global and a session id for Session.
type Record struct {
	namespace Namespace
	owner     string
	key       string
	value     json.RawMessage
	touchedAt time.Time
}

// NewRecord validates and creates a Record. Value must be valid JSON.
func NewRecord(ns Namespace, owner, key string, value json.RawMessage, touchedAt time.Time) (Record, error) {
	if !ns.Valid() {
		return Record{}, fmt.Errorf("unknown namespace %q", ns)
	}
	if err := ValidateOwner(owner); err != nil {
		return Record{}, err
	}
	if err := ValidateSegment("key", key); err != nil {
		return Record{}, err
	}
	if !json.Valid(value) {
		return Record{}, errors.New("record value must be valid JSON")
	}
	return Record{namespace: ns, owner: owner, key: key, value: value, touchedAt: touchedAt.UTC()}, nil
}

// Reconstruct hydrates a Record from storage.
func Reconstruct(ns Namespace, owner, key string, value json.RawMessage, touchedAt time.Time) Record {
	return Record{namespace: ns, owner: owner, key: key, value: value, touchedAt: touchedAt}
}

// Namespace returns the record namespace.
func (r Record) Namespace() Namespace { return r.namespace }

// Owner returns the user or session id.
func (r Record) Owner() string { return r.owner }

// Key returns the record key.
func (r Record) Key() string { return r.key }

// Value returns the raw JSON value.
func (r Record) Value() json.RawMessage { return r.value }

// TouchedAt returns the last write time.
func (r Record) TouchedAt() time.Time { return r.touchedAt }

// IdleFor reports how long the record has gone untouched as of now.
func (r Record) IdleFor(now time.Time) time.Duration { return now.Sub(r.touchedAt) }

// ValidateSegment checks an owner or key for use inside a storage key.
func ValidateSegment(name, s string) error {
	if s == "" {
		return fmt.Errorf("%s is required", name)
	}
	if len(s) > MaxKeyLength {
		return fmt.Errorf("%s exceeds %d characters", name, MaxKeyLength)
	}
	if strings.ContainsAny(s, " \t\r\n*?[]") {
		return fmt.Errorf("%s contains invalid characters", name)
	}
	return nil
}

// ValidateOwner checks a user or session id. Owners may not contain ':' since
// the key after the owner segment may.
func ValidateOwner(owner string) error {
	if err := ValidateSegment("owner", owner); err != nil {
		return err
	}
	if strings.Contains(owner, ":") {
		return errors.New("owner contains invalid characters")
	}
	return nil
}

// Turn is one entry of a session's conversation history.
type Turn struct {
	Query     string    `json:"query"`
	Summary   string    `json:"summary"`
	Tickers   []string  `json:"tickers"`
	Timestamp time.Time `json:"timestamp"`
}

// AnalysisSummary is the durable per-user record of the last brief for a ticker.
type AnalysisSummary struct {
	Query       string    `json:"query"`
	Ticker      string    `json:"ticker"`
	Summary     string    `json:"summary"`
	Findings    int       `json:"findings"`
	GeneratedAt time.Time `json:"generated_at"`
}
