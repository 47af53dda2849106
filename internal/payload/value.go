// Package payload models event data as a closed set of JSON-safe values.
//
// Business code hands arbitrary Go values to Normalize, which converts them
// into a Value tree or rejects them. Only Values are ever serialized, so the
// wire format never depends on reflection over unknown types.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"sentinal-relay/internal/domain/call"
	sentinal_errors "sentinal-relay/pkg/errors"

	"github.com/google/uuid"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged union. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	i    int64
	f    float64
	b    bool
	list []Value
	m    *Map
}

func Null() Value { return Value{} }
func String(s string) Value { return Value{kind: KindString, str: s} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

func MapValue(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string variant.
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInt
}

func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsList() ([]Value, bool) {
	return v.list, v.kind == KindList
}

func (v Value) AsMap() (*Map, bool) {
	return v.m, v.kind == KindMap
}

// Text renders scalars as plain text, the way ids are read back out of payloads.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("%w: non-finite float", sentinal_errors.ErrUnsupportedValue)
		}
		return []byte(strconv.FormatFloat(v.f, 'g', -1, 64)), nil
	case KindBool:
		return []byte(strconv.FormatBool(v.b)), nil
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			raw, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(raw)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		return v.m.MarshalJSON()
	}
	return nil, fmt.Errorf("%w: kind %d", sentinal_errors.ErrUnsupportedValue, v.kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	parsed, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Normalize converts an arbitrary Go value into the closed Value set.
func Normalize(in any) (Value, error) {
	switch x := in.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case *Map:
		return MapValue(x), nil
	case Map:
		return MapValue(&x), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return normalizeUint(uint64(x))
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return normalizeUint(x)
	case float32:
		return normalizeFloat(float64(x))
	case float64:
		return normalizeFloat(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %q", sentinal_errors.ErrUnsupportedValue, x)
		}
		return normalizeFloat(f)
	case time.Time:
		return String(x.UTC().Format(time.RFC3339Nano)), nil
	case *time.Time:
		if x == nil {
			return Null(), nil
		}
		return String(x.UTC().Format(time.RFC3339Nano)), nil
	case time.Duration:
		return Int(int64(x / time.Second)), nil
	case uuid.UUID:
		return String(x.String()), nil
	case *uuid.UUID:
		if x == nil {
			return Null(), nil
		}
		return String(x.String()), nil
	case uuid.NullUUID:
		if !x.Valid {
			return Null(), nil
		}
		return String(x.UUID.String()), nil
	case *string:
		if x == nil {
			return Null(), nil
		}
		return String(*x), nil
	case *int64:
		if x == nil {
			return Null(), nil
		}
		return Int(*x), nil
	case *int:
		if x == nil {
			return Null(), nil
		}
		return Int(int64(*x)), nil
	case *bool:
		if x == nil {
			return Null(), nil
		}
		return Bool(*x), nil
	case call.Status:
		return String(string(x)), nil
	case call.Type:
		return String(string(x)), nil
	case []Value:
		return List(x...), nil
	case []string:
		items := make([]Value, len(x))
		for i, s := range x {
			items[i] = String(s)
		}
		return List(items...), nil
	case []uuid.UUID:
		items := make([]Value, len(x))
		for i, id := range x {
			items[i] = String(id.String())
		}
		return List(items...), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := Normalize(item)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]string:
		m := NewMap()
		for _, k := range sortedKeys(x) {
			m.Set(k, String(x[k]))
		}
		return MapValue(m), nil
	case map[string]any:
		m := NewMap()
		for _, k := range sortedKeys(x) {
			v, err := Normalize(x[k])
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			m.Set(k, v)
		}
		return MapValue(m), nil
	}
	return Value{}, fmt.Errorf("%w: %T", sentinal_errors.ErrUnsupportedValue, in)
}

func normalizeUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, fmt.Errorf("%w: uint64 overflow", sentinal_errors.ErrUnsupportedValue)
	}
	return Int(int64(u)), nil
}

func normalizeFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("%w: non-finite float", sentinal_errors.ErrUnsupportedValue)
	}
	return Float(f), nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case json.Delim:
		switch t {
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return List(items...), nil
		case '{':
			m := NewMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("payload: object key %v is not a string", keyTok)
				}
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				m.Set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return MapValue(m), nil
		}
	}
	return Value{}, fmt.Errorf("payload: unexpected token %v", tok)
}
