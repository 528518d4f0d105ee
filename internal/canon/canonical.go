package canon

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Algo identifies this canonical form. It is recorded in every signature
// envelope next to the digest so a future change is detectable.
const Algo = "json-c14n-v1"

// ErrUnsupportedType is returned when a value outside the canonical type set
// reaches the canonicalizer.
var ErrUnsupportedType = errors.New("unsupported type for canonical form")

// Marshal produces the canonical bytes for v.
//
// Rules:
//  1. Object fields are emitted in the Object's own order.
//  2. Null is the literal null; a nil Value is treated as Null.
//  3. Strings are UTF-8 as-is. Only '"', '\\' and U+0000-U+001F are escaped.
//     Invalid UTF-8 is an error.
//  4. Integers are base-10. Floats use the shortest round-trip digits.
//  5. Separators are ',' and ':' with no whitespace and no trailing newline.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustMarshal is like Marshal but panics on error.
// Use only in tests or when the value is known to be valid.
func MustMarshal(v Value) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func encode(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case String:
		return encodeString(buf, string(val))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Float:
		s, err := formatFloat(float64(val))
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case List:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		seen := make(map[string]struct{}, len(val))
		for i, f := range val {
			if _, dup := seen[f.Key]; dup {
				return fmt.Errorf("duplicate key %q", f.Key)
			}
			seen[f.Key] = struct{}{}
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, f.Key); err != nil {
				return fmt.Errorf("key %q: %w", f.Key, err)
			}
			buf.WriteByte(':')
			if err := encode(buf, f.Value); err != nil {
				return fmt.Errorf("%s: %w", f.Key, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return nil
}

const hexDigits = "0123456789abcdef"

// encodeString writes s as a JSON string. The escape set is the one
// Python's json.dumps(ensure_ascii=False) uses, which is what produced the
// digests already stored in capsule files.
func encodeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("invalid UTF-8 in string %q", s)
	}
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[c>>4])
				buf.WriteByte(hexDigits[c&0xf])
				continue
			}
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
	return nil
}

// formatFloat renders f in shortest round-trip form. Decimal exponents in
// [-4, 16) use fixed notation and always carry a '.', anything else uses
// d.ddde±XX, as Python's float repr does.
func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite float %v", f)
	}
	if f == 0 {
		if math.Signbit(f) {
			return "-0.0", nil
		}
		return "0.0", nil
	}

	sci := strconv.FormatFloat(f, 'e', -1, 64)
	mant, expPart, _ := strings.Cut(sci, "e")
	exp, err := strconv.Atoi(expPart)
	if err != nil {
		return "", fmt.Errorf("format float %v: %w", f, err)
	}

	if exp >= -4 && exp < 16 {
		s := strconv.FormatFloat(f, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s, nil
	}

	sign := "+"
	if exp < 0 {
		sign = "-"
		exp = -exp
	}
	return fmt.Sprintf("%se%s%02d", mant, sign, exp), nil
}
