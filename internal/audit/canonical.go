package audit

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// ErrUnsupportedValue is returned for values with no canonical form.
var ErrUnsupportedValue = errors.New("audit: unsupported value")

// Date is a calendar day without a time component.
type Date struct {
	t time.Time
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	return d.t.Format(time.DateOnly)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

var (
	timeType        = reflect.TypeFor[time.Time]()
	textMarshalType = reflect.TypeFor[encoding.TextMarshaler]()
)

// Canonicalize reduces v to a tree of JSON-native values with a single
// textual form: strings, booleans, json.Number, nil, map[string]any and
// []any. Applying it to its own output is a no-op.
//
// Numbers are normalized so that they survive a round-trip through a JSONB
// column unchanged: integers keep their digits, other numbers are written in
// shortest plain decimal notation.
func Canonicalize(v any) (any, error) {
	return canonicalize(reflect.ValueOf(v))
}

func canonicalize(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}

	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return canonicalize(rv.Elem())
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Implements(textMarshalType) && !rv.Type().Elem().Implements(textMarshalType) {
			return marshalText(rv.Interface().(encoding.TextMarshaler))
		}
		return canonicalize(rv.Elem())
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
	}

	if rv.CanInterface() {
		switch x := rv.Interface().(type) {
		case time.Time:
			return FormatTimestamp(x), nil
		case Date:
			return x.String(), nil
		case json.Number:
			return normalizeNumber(x)
		case json.RawMessage:
			return canonicalizeJSON(x)
		case []byte:
			return base64.StdEncoding.EncodeToString(x), nil
		case encoding.TextMarshaler:
			return marshalText(x)
		}
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return json.Number(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return json.Number(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float(), rv.Type().Bits())
	case reflect.Map:
		return canonicalizeMap(rv)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(rv.Bytes()), nil
		}
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			item, err := canonicalize(rv.Index(i))
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = item
		}
		return out, nil
	case reflect.Struct:
		if rv.Type() == timeType {
			return FormatTimestamp(rv.Interface().(time.Time)), nil
		}
		if !rv.CanInterface() {
			return nil, fmt.Errorf("%w: unexported %s", ErrUnsupportedValue, rv.Type())
		}
		raw, err := json.Marshal(rv.Interface())
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedValue, rv.Type(), err)
		}
		return canonicalizeJSON(raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Type())
	}
}

func canonicalizeMap(rv reflect.Value) (any, error) {
	if rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("%w: map key %s", ErrUnsupportedValue, rv.Type().Key())
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		item, err := canonicalize(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		out[key] = item
	}
	return out, nil
}

func canonicalizeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrUnsupportedValue, err)
	}
	return canonicalize(reflect.ValueOf(decoded))
}

func marshalText(m encoding.TextMarshaler) (any, error) {
	text, err := m.MarshalText()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return string(text), nil
}

func formatFloat(f float64, bits int) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: non-finite number", ErrUnsupportedValue)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return json.Number(strconv.FormatInt(int64(f), 10)), nil
	}
	return json.Number(strconv.FormatFloat(f, 'f', -1, bits)), nil
}

func normalizeNumber(n json.Number) (any, error) {
	s := string(n)
	if isIntegerLiteral(s) {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return json.Number(strconv.FormatInt(i, 10)), nil
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid number %q", ErrUnsupportedValue, s)
	}
	return formatFloat(f, 64)
}

func isIntegerLiteral(s string) bool {
	if s == "" || s == "-" {
		return false
	}
	if s[0] == '-' {
		s = s[1:]
	}
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// EncodeCanonical canonicalizes v and encodes it as compact JSON with sorted
// object keys and no HTML escaping.
func EncodeCanonical(v any) ([]byte, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonical); err != nil {
		return nil, fmt.Errorf("encode canonical json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
