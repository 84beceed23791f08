package entity

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInteger
	KindDouble
	KindBoolean
	KindArray
	KindObject
)

// Value is a node of an entity's attribute tree.
type Value struct {
	Kind   Kind
	Str    string
	Int    int64
	Float  float64
	Bool   bool
	Array  []Value
	Object *Object
}

func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Integer(i int64) Value { return Value{Kind: KindInteger, Int: i} }
func Double(f float64) Value { return Value{Kind: KindDouble, Float: f} }
func Boolean(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }
func Array(items ...Value) Value { return Value{Kind: KindArray, Array: items} }
func ObjectValue(o *Object) Value { return Value{Kind: KindObject, Object: o} }

// Text renders scalar values the way they are stored in a TEXT column.
// Arrays and objects are rendered as JSON.
func (v Value) Text() (string, error) {
	switch v.Kind {
	case KindNull:
		return "", nil
	case KindString:
		return v.Str, nil
	case KindInteger:
		return strconv.FormatInt(v.Int, 10), nil
	case KindDouble:
		return strconv.FormatFloat(v.Float, 'f', -1, 64), nil
	case KindBoolean:
		return strconv.FormatBool(v.Bool), nil
	default:
		b, err := v.MarshalJSON()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// MarshalJSON writes the plain JSON form of the value. Objects become JSON
// objects with their type name under "type" followed by their attributes
// in order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		b, err := json.Marshal(v.Str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindInteger:
		buf.WriteString(strconv.FormatInt(v.Int, 10))
	case KindDouble:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(strconv.FormatFloat(v.Float, 'f', -1, 64))
	case KindBoolean:
		buf.WriteString(strconv.FormatBool(v.Bool))
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.Array {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		if v.Object == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('{')
		name, _ := json.Marshal(v.Object.TypeName)
		buf.WriteString(`"type":`)
		buf.Write(name)
		for _, attr := range v.Object.Attributes {
			key, err := json.Marshal(attr.Name)
			if err != nil {
				return err
			}
			buf.WriteByte(',')
			buf.Write(key)
			buf.WriteByte(':')
			if err := attr.Value.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown value kind %d", v.Kind)
	}
	return nil
}

// UnmarshalJSON decodes the entity dump form: JSON scalars and arrays map
// to the matching kinds, JSON objects are decoded as nested Objects.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}

	switch data[0] {
	case 'n':
		*v = Value{Kind: KindNull}
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Boolean(b)
	case '[':
		var items []Value
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*v = Array(items...)
	case '{':
		obj := &Object{}
		if err := json.Unmarshal(data, obj); err != nil {
			return err
		}
		*v = ObjectValue(obj)
	default:
		text := string(data)
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			*v = Integer(i)
			return nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", text, err)
		}
		*v = Double(f)
	}
	return nil
}
