// Package filter holds the retrieval pre-filter: a conjunction of tag equality
// and inclusive numeric bounds. Stores translate it to their own query syntax.
package filter

import (
	"errors"
	"fmt"
)

// MaxConditions caps one expression.
const MaxConditions = 16

// Expression ANDs its conditions. The zero value matches everything.
type Expression struct {
	conds []Condition
}

// All builds an expression from conditions.
func All(conds ...Condition) (Expression, error) {
	if len(conds) > MaxConditions {
		return Expression{}, fmt.Errorf("filter has %d conditions, max %d", len(conds), MaxConditions)
	}
	for i, c := range conds {
		if c.key == "" {
			return Expression{}, fmt.Errorf("condition %d: zero value", i)
		}
	}
	return Expression{conds: conds}, nil
}

func (e Expression) Conditions() []Condition { return e.conds }
func (e Expression) IsEmpty() bool           { return len(e.conds) == 0 }

// Condition is either a tag equality or a numeric range on one field.
type Condition struct {
	key    string
	tag    string
	lo, hi *float64
}

// Tag matches documents whose tag field equals value.
func Tag(key, value string) (Condition, error) {
	if key == "" || value == "" {
		return Condition{}, errors.New("tag condition needs a key and a value")
	}
	return Condition{key: key, tag: value}, nil
}

// Between matches lo <= field <= hi. A zero bound is open; fiscal years and
// the other numeric chunk fields are never zero.
func Between(key string, lo, hi float64) (Condition, error) {
	if key == "" {
		return Condition{}, errors.New("range condition needs a key")
	}
	if lo == 0 && hi == 0 {
		return Condition{}, fmt.Errorf("range %s: both bounds open", key)
	}
	if lo != 0 && hi != 0 && lo > hi {
		return Condition{}, fmt.Errorf("range %s: %g > %g", key, lo, hi)
	}
	c := Condition{key: key}
	if lo != 0 {
		c.lo = &lo
	}
	if hi != 0 {
		c.hi = &hi
	}
	return c, nil
}

func (c Condition) Key() string { return c.key }

// TagValue returns the value of a tag condition, "" for ranges.
func (c Condition) TagValue() string { return c.tag }

func (c Condition) IsTag() bool { return c.tag != "" }

// Bounds returns the range limits; nil means unbounded on that side.
func (c Condition) Bounds() (lo, hi *float64) { return c.lo, c.hi }
