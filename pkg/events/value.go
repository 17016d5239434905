package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// Value is a loosely-typed scalar carried in metadata and error context maps.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

func StringValue(s string) Value  { return Value{kind: KindString, str: s} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, b: b} }
func NullValue() Value            { return Value{} }

func (v Value) Kind() Kind { return v.kind }

// AsString returns the string payload when the value is a string.
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsNumber returns the numeric payload when the value is a number.
func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// AsBool returns the boolean payload when the value is a bool.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// String renders the value for human-facing text such as alert bodies.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "null"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	value, err := valueFromToken(tok)
	if err != nil {
		return err
	}

	*v = value
	return nil
}

func valueFromToken(tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(t), nil
	case float64:
		return NumberValue(t), nil
	case bool:
		return BoolValue(t), nil
	case json.Delim:
		return Value{}, fmt.Errorf("nested %s values are not supported", t)
	default:
		return Value{}, fmt.Errorf("unsupported value token %T", tok)
	}
}

// Field is one key/value pair of a Fields map.
type Field struct {
	Key   string
	Value Value
}

// Fields is an insertion-ordered string-keyed map of scalar values.
//
// Methods never mutate the receiver's backing storage; With returns a copy so
// events holding a Fields value stay immutable once constructed.
type Fields struct {
	items []Field
}

// NewFields builds a map from pairs, later duplicates replacing earlier ones in place.
func NewFields(pairs ...Field) Fields {
	var f Fields
	for _, pair := range pairs {
		f = f.With(pair.Key, pair.Value)
	}
	return f
}

// With returns a copy of f with key set to value.
func (f Fields) With(key string, value Value) Fields {
	items := make([]Field, len(f.items), len(f.items)+1)
	copy(items, f.items)

	for i := range items {
		if items[i].Key == key {
			items[i].Value = value
			return Fields{items: items}
		}
	}

	return Fields{items: append(items, Field{Key: key, Value: value})}
}

func (f Fields) Get(key string) (Value, bool) {
	for _, item := range f.items {
		if item.Key == key {
			return item.Value, true
		}
	}
	return Value{}, false
}

func (f Fields) Len() int { return len(f.items) }

// All iterates pairs in insertion order.
func (f Fields) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for _, item := range f.items {
			if !yield(item.Key, item.Value) {
				return
			}
		}
	}
}

func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, item := range f.items {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(item.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		value, err := item.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = Fields{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("fields must be a JSON object")
	}

	var out Fields
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %T", keyTok)
		}

		valueTok, err := dec.Token()
		if err != nil {
			return err
		}
		value, err := valueFromToken(valueTok)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}

		out = out.With(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*f = out
	return nil
}
