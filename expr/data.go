// Package expr implements the value model and the expression engine consumed
// by the expression data model: tagged variant values with shared, lockable
// containers, a closed operator set, a small expression grammar and a
// compiled AST cache keyed by source id.
package expr

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// SourceID identifies a piece of source text for AST cache lookups.
type SourceID uint64

var sourceCounter atomic.Uint64

// NextSourceID allocates a process-unique source id.
func NextSourceID() SourceID {
	return SourceID(sourceCounter.Add(1))
}

// Data is a value of the expression engine. The closed variant set is:
// None, Null, Integer, Double, String, Boolean, *Array, *Map, Error and
// Source. Scalar variants are immutable values; *Array and *Map are shared
// by reference and guard interior mutation with a mutex.
type Data interface {
	isData()
	// String renders the value the way log and toString display it.
	String() string
}

// None marks an absent or uninitialised value.
type None struct{}

// Null is the present-but-empty value.
type Null struct{}

// Integer is a signed 64-bit integer. Arithmetic saturates.
type Integer int64

// Double is an IEEE-754 binary64 value.
type Double float64

// String is a UTF-8 string value.
type String string

// Boolean is a boolean value.
type Boolean bool

// Error carries a diagnostic produced by an operation.
type Error string

// Source carries source text plus a unique id used as AST cache key.
type Source struct {
	Code string
	ID   SourceID
}

// NewSource wraps source text with a fresh id.
func NewSource(code string) Source {
	return Source{Code: code, ID: NextSourceID()}
}

// Empty reports whether the source holds no text.
func (s Source) Empty() bool { return len(s.Code) == 0 }

func (None) isData()    {}
func (Null) isData()    {}
func (Integer) isData() {}
func (Double) isData()  {}
func (String) isData()  {}
func (Boolean) isData() {}
func (Error) isData()   {}
func (Source) isData()  {}
func (*Array) isData()  {}
func (*Map) isData()    {}

func (None) String() string      { return "" }
func (Null) String() string      { return "null" }
func (v Integer) String() string { return strconv.FormatInt(int64(v), 10) }
func (v Double) String() string  { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v String) String() string  { return string(v) }
func (v Boolean) String() string { return strconv.FormatBool(bool(v)) }
func (v Error) String() string   { return "error: " + string(v) }
func (v Source) String() string  { return v.Code }

// Array is a shared list of values, insertion order significant.
type Array struct {
	mu    sync.Mutex
	items []Data
}

// NewArray creates an array holding the given items.
func NewArray(items ...Data) *Array {
	a := &Array{}
	a.items = append(a.items, items...)
	return a
}

func (a *Array) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// At returns the item at index i or an error when out of range.
func (a *Array) At(i int) (Data, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i < 0 || i >= len(a.items) {
		return None{}, fmt.Errorf("index %d out of range (length %d)", i, len(a.items))
	}
	return a.items[i], nil
}

// SetAt replaces the item at index i. Assigning to the index one past the
// end appends, matching first-write extension of lists.
func (a *Array) SetAt(i int, v Data) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case i >= 0 && i < len(a.items):
		a.items[i] = v
	case i == len(a.items):
		a.items = append(a.items, v)
	default:
		return fmt.Errorf("index %d out of range (length %d)", i, len(a.items))
	}
	return nil
}

// Append adds v at the end.
func (a *Array) Append(v Data) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, v)
}

// Items returns a snapshot of the item slice. Mutating the snapshot does not
// affect the array; the shared element values are not copied.
func (a *Array) Items() []Data {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Data, len(a.items))
	copy(out, a.items)
	return out
}

func (a *Array) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, it := range a.Items() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(display(it))
	}
	b.WriteByte(']')
	return b.String()
}

// Map is a shared mapping from string to value. Iteration follows insertion
// order; equality does not depend on it.
type Map struct {
	mu     sync.Mutex
	keys   []string
	values map[string]Data
}

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{values: map[string]Data{}}
}

func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// Get returns the value bound to key.
func (m *Map) Get(key string) (Data, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

// Set binds key to v, appending to the key order on first write.
func (m *Map) Set(key string, v Data) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *Map) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			b.WriteByte(',')
		}
		v, _ := m.Get(k)
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(display(v))
	}
	b.WriteByte('}')
	return b.String()
}

// display renders nested values; strings gain quotes inside containers.
func display(d Data) string {
	if s, ok := d.(String); ok {
		return "'" + string(s) + "'"
	}
	return d.String()
}

// IsNumeric reports whether d is Integer or Double.
func IsNumeric(d Data) bool {
	switch d.(type) {
	case Integer, Double:
		return true
	}
	return false
}

// AsNumber converts a numeric or boolean value, or a string that parses as a
// float, to float64. Everything else yields NaN.
func AsNumber(d Data) float64 {
	switch v := d.(type) {
	case Integer:
		return float64(v)
	case Double:
		return float64(v)
	case Boolean:
		if v {
			return 1
		}
		return 0
	case String:
		if f, err := strconv.ParseFloat(string(v), 64); err == nil {
			return f
		}
	}
	return math.NaN()
}

// ToBoolean coerces per ECMAScript ToBoolean: false for 0, NaN, the empty
// string, Null, None and Error values; containers and sources are true.
func ToBoolean(d Data) bool {
	switch v := d.(type) {
	case nil, None, Null:
		return false
	case Boolean:
		return bool(v)
	case Integer:
		return v != 0
	case Double:
		return v != 0 && !math.IsNaN(float64(v))
	case String:
		return len(v) != 0
	case Error:
		return false
	case *Array, *Map, Source:
		return true
	}
	return false
}

// IsEmpty reports whether the value is absent, null, an empty string or an
// empty container.
func IsEmpty(d Data) bool {
	switch v := d.(type) {
	case nil, None, Null:
		return true
	case String:
		return len(v) == 0
	case *Array:
		return v.Len() == 0
	case *Map:
		return v.Len() == 0
	}
	return false
}

// Equal compares two values structurally. Shared containers are compared by
// reference identity first, which also keeps self-comparison free of
// double-locking.
func Equal(a, b Data) bool {
	switch l := a.(type) {
	case None:
		_, ok := b.(None)
		return ok
	case Null:
		_, ok := b.(Null)
		return ok
	case Boolean:
		r, ok := b.(Boolean)
		return ok && l == r
	case String:
		r, ok := b.(String)
		return ok && l == r
	case Error:
		r, ok := b.(Error)
		return ok && l == r
	case Source:
		r, ok := b.(Source)
		return ok && l.Code == r.Code
	case Integer:
		switch r := b.(type) {
		case Integer:
			return l == r
		case Double:
			return float64(l) == float64(r)
		}
		return false
	case Double:
		switch r := b.(type) {
		case Integer:
			return float64(l) == float64(r)
		case Double:
			return l == r
		}
		return false
	case *Array:
		r, ok := b.(*Array)
		if !ok {
			return false
		}
		if l == r {
			return true
		}
		li, ri := l.Items(), r.Items()
		if len(li) != len(ri) {
			return false
		}
		for i := range li {
			if !Equal(li[i], ri[i]) {
				return false
			}
		}
		return true
	case *Map:
		r, ok := b.(*Map)
		if !ok {
			return false
		}
		if l == r {
			return true
		}
		lk, rk := l.Keys(), r.Keys()
		if len(lk) != len(rk) {
			return false
		}
		sort.Strings(lk)
		sort.Strings(rk)
		for i := range lk {
			if lk[i] != rk[i] {
				return false
			}
			lv, _ := l.Get(lk[i])
			rv, _ := r.Get(lk[i])
			if !Equal(lv, rv) {
				return false
			}
		}
		return true
	}
	return false
}

// DeepCopy clones d, copying shared containers recursively. Events carry
// pass-by-value semantics on dequeue, which is where this is used.
func DeepCopy(d Data) Data {
	switch v := d.(type) {
	case *Array:
		items := v.Items()
		out := make([]Data, len(items))
		for i, it := range items {
			out[i] = DeepCopy(it)
		}
		return NewArray(out...)
	case *Map:
		out := NewMap()
		for _, k := range v.Keys() {
			mv, _ := v.Get(k)
			out.Set(k, DeepCopy(mv))
		}
		return out
	default:
		return d
	}
}
