package duty

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/rotisserie/eris"
)

type ValueKind uint8

const (
	ValueInvalid ValueKind = iota
	ValueInt
	ValueFloat
	ValueBool
	ValueString
)

func (k ValueKind) String() string {
	switch k {
	case ValueInt:
		return "int"
	case ValueFloat:
		return "float"
	case ValueBool:
		return "bool"
	case ValueString:
		return "string"
	case ValueInvalid:
		return "invalid"
	}
	return "invalid"
}

// Value is a variable scalar: exactly one of int64, float64, bool or string. The zero Value is
// invalid and stands for an absent literal.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
	b    bool
	s    string
}

func Int(v int64) Value     { return Value{kind: ValueInt, i: v} }
func Float(v float64) Value { return Value{kind: ValueFloat, f: v} }
func Bool(v bool) Value     { return Value{kind: ValueBool, b: v} }
func String(v string) Value { return Value{kind: ValueString, s: v} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) Valid() bool { return v.kind != ValueInvalid }

func (v Value) Int() (int64, bool) { return v.i, v.kind == ValueInt }

func (v Value) Float() (float64, bool) { return v.f, v.kind == ValueFloat }

func (v Value) Bool() (bool, bool) { return v.b, v.kind == ValueBool }

func (v Value) Str() (string, bool) { return v.s, v.kind == ValueString }

// Numeric widens int and float values to float64.
func (v Value) Numeric() (float64, bool) {
	switch v.kind {
	case ValueInt:
		return float64(v.i), true
	case ValueFloat:
		return v.f, true
	case ValueBool, ValueString, ValueInvalid:
	}
	return 0, false
}

// Increment adds one to a numeric value, preserving its kind.
func (v Value) Increment() (Value, bool) {
	switch v.kind {
	case ValueInt:
		return Int(v.i + 1), true
	case ValueFloat:
		return Float(v.f + 1), true
	case ValueBool, ValueString, ValueInvalid:
	}
	return v, false
}

func (v Value) String() string {
	switch v.kind {
	case ValueInt:
		return strconv.FormatInt(v.i, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.b)
	case ValueString:
		return v.s
	case ValueInvalid:
	}
	return "<nil>"
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case ValueFloat:
		data, err := json.Marshal(v.f)
		if err != nil {
			return nil, eris.Wrap(err, "invalid float value")
		}
		// Integral floats keep a fraction so they decode back as floats.
		if !bytes.ContainsAny(data, ".eE") {
			data = append(data, ".0"...)
		}
		return data, nil
	case ValueBool:
		return []byte(strconv.FormatBool(v.b)), nil
	case ValueString:
		return json.Marshal(v.s)
	case ValueInvalid:
	}
	return []byte("null"), nil
}

// UnmarshalJSON maps integral JSON numbers to ValueInt and every other number to ValueFloat.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return eris.New("empty value")
	}

	switch data[0] {
	case 'n':
		*v = Value{}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return eris.Wrap(err, "invalid boolean value")
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "invalid string value")
		}
		*v = String(s)
		return nil
	}

	text := string(data)
	if !bytes.ContainsAny(data, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			*v = Int(i)
			return nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return eris.Errorf("value %s is not a number, boolean or string", text)
	}
	*v = Float(f)
	return nil
}

// JSONSchema describes Value for schema reflection.
func (Value) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "integer"},
			{Type: "number"},
			{Type: "boolean"},
			{Type: "string"},
			{Type: "null"},
		},
	}
}
