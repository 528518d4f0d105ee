package canon

import (
	"fmt"
	"sort"
)

// Value is a sealed interface over the canonical value types.
// Only Null, String, Int, Float, Bool, List, and Object implement it.
type Value interface {
	canonValue()
}

// Null is the single marker for a semantically absent value.
// A missing key and an explicit null in a source document both become Null.
type Null struct{}

func (Null) canonValue() {}

// String is emitted as-is, UTF-8, with JSON string escaping only.
type String string

func (String) canonValue() {}

// Int is an integer emitted in base-10.
type Int int64

func (Int) canonValue() {}

// Float is a finite float64. NaN and infinities are rejected by Marshal.
type Float float64

func (Float) canonValue() {}

// Bool is true or false.
type Bool bool

func (Bool) canonValue() {}

// List preserves source order.
type List []Value

func (List) canonValue() {}

// Field is one key/value entry of an Object.
type Field struct {
	Key   string
	Value Value
}

// Object is an ordered mapping. Marshal emits fields in slice order.
type Object []Field

func (Object) canonValue() {}

// F is shorthand for building a Field.
// Example: canon.Object{canon.F("id", canon.String("x")), canon.F("n", canon.Int(1))}
func F(key string, v Value) Field {
	return Field{Key: key, Value: v}
}

// Keys returns field keys in emission order.
func (o Object) Keys() []string {
	keys := make([]string, len(o))
	for i, f := range o {
		keys[i] = f.Key
	}
	return keys
}

// Project builds an Object holding exactly keys, in the given order, taking
// values from src. A key missing from src and a key whose value is nil both
// produce Null, so the two source shapes canonicalize identically.
func Project(src map[string]any, keys []string) (Object, error) {
	obj := make(Object, 0, len(keys))
	for _, k := range keys {
		raw, ok := src[k]
		if !ok || raw == nil {
			obj = append(obj, F(k, Null{}))
			continue
		}
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		obj = append(obj, F(k, v))
	}
	return obj, nil
}

// SortedKeys returns the keys of m in ascending code point order.
// Byte-wise comparison of UTF-8 strings is code point order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
