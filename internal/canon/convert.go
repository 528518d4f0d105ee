package canon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// FromAny converts decoded YAML or JSON data into a Value.
//
// Maps become Objects with keys in ascending code point order. That ordering
// is a projection decision made here, at the conversion boundary; Marshal
// itself never sorts. Types outside the supported set return an error
// wrapping ErrUnsupportedType.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return fromUint(uint64(val))
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		return fromUint(val)
	case float32:
		return fromFloat(float64(val))
	case float64:
		return fromFloat(val)
	case json.Number:
		return fromNumber(val)
	case []any:
		list := make(List, len(val))
		for i, elem := range val {
			cv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			list[i] = cv
		}
		return list, nil
	case []string:
		list := make(List, len(val))
		for i, s := range val {
			list[i] = String(s)
		}
		return list, nil
	case map[string]any:
		obj := make(Object, 0, len(val))
		for _, k := range SortedKeys(val) {
			cv, err := FromAny(val[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			obj = append(obj, F(k, cv))
		}
		return obj, nil
	case map[string]string:
		obj := make(Object, 0, len(val))
		for _, k := range SortedKeys(val) {
			obj = append(obj, F(k, String(val[k])))
		}
		return obj, nil
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, elem := range val {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w: non-string map key %v (%T)", ErrUnsupportedType, k, k)
			}
			m[ks] = elem
		}
		return FromAny(m)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("integer %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

// fromFloat keeps integral values that arrived as float64 (JSON decoders do
// this) as floats. Numeric identity is the caller's responsibility.
func fromFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite float %v", f)
	}
	return Float(f), nil
}

func fromNumber(n json.Number) (Value, error) {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return Int(i), nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", n, err)
	}
	return fromFloat(f)
}

// FromJSON decodes a single JSON document into a Value. Numbers are read as
// json.Number so integers survive beyond 2^53 and never turn into floats.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode json: trailing data after value")
	}
	return FromAny(raw)
}
