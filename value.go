package loom

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/everydev1618/goloom/ast"
)

// Kind tags the runtime value domain. Every consumption site switches
// exhaustively over these.
type Kind string

const (
	KindNull     Kind = "null"
	KindText     Kind = "text"
	KindNumber   Kind = "number"
	KindBool     Kind = "bool"
	KindJSON     Kind = "json"
	KindArray    Kind = "array"
	KindModelRef Kind = "model"
	KindToolRef  Kind = "tool"
	KindFuncRef  Kind = "func"
)

// Value is one dynamically typed runtime value. Kind selects the payload
// field; the zero Value is null.
type Value struct {
	Kind   Kind            `json:"kind"`
	Text   string          `json:"text,omitempty"`
	Number float64         `json:"number,omitempty"`
	Bool   bool            `json:"bool,omitempty"`
	JSON   json.RawMessage `json:"json,omitempty"`
	Array  []Value         `json:"array,omitempty"`

	// Ref names the referenced model, tool, or function for the
	// reference kinds.
	Ref string `json:"ref,omitempty"`
}

func NullValue() Value            { return Value{Kind: KindNull} }
func TextValue(s string) Value    { return Value{Kind: KindText, Text: s} }
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Number: n} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func ArrayValue(vs ...Value) Value {
	return Value{Kind: KindArray, Array: vs}
}

func JSONValue(raw json.RawMessage) Value {
	return Value{Kind: KindJSON, JSON: raw}
}

func FuncRef(name string) Value  { return Value{Kind: KindFuncRef, Ref: name} }
func ModelRef(name string, config json.RawMessage) Value {
	return Value{Kind: KindModelRef, Ref: name, JSON: config}
}

// IsNull reports whether v is the null value. The zero Value counts.
func (v Value) IsNull() bool {
	return v.Kind == KindNull || v.Kind == ""
}

// Truthy follows the language's boolean coercion: null and the empty or
// zero payloads are false, everything else true.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNull, "":
		return false
	case KindText:
		return v.Text != ""
	case KindNumber:
		return v.Number != 0
	case KindBool:
		return v.Bool
	case KindJSON:
		s := strings.TrimSpace(string(v.JSON))
		return s != "" && s != "null" && s != "false"
	case KindArray:
		return len(v.Array) > 0
	case KindModelRef, KindToolRef, KindFuncRef:
		return true
	default:
		return false
	}
}

// Equal is deep structural equality across the value domain.
func (v Value) Equal(other Value) bool {
	if v.IsNull() || other.IsNull() {
		return v.IsNull() == other.IsNull()
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindText:
		return v.Text == other.Text
	case KindNumber:
		return v.Number == other.Number
	case KindBool:
		return v.Bool == other.Bool
	case KindJSON:
		return string(v.JSON) == string(other.JSON)
	case KindArray:
		if len(v.Array) != len(other.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(other.Array[i]) {
				return false
			}
		}
		return true
	case KindModelRef, KindToolRef, KindFuncRef:
		return v.Ref == other.Ref
	default:
		return false
	}
}

// Display renders a value the way the context assembler and tool results
// show it. Numbers drop a trailing .0 so whole values read naturally.
func (v Value) Display() string {
	switch v.Kind {
	case KindNull, "":
		return "null"
	case KindText:
		return v.Text
	case KindNumber:
		return formatNumber(v.Number)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindJSON:
		return string(v.JSON)
	case KindArray:
		parts := make([]string, len(v.Array))
		for i, elem := range v.Array {
			if elem.Kind == KindText {
				parts[i] = strconv.Quote(elem.Text)
			} else {
				parts[i] = elem.Display()
			}
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindModelRef:
		return "<model " + v.Ref + ">"
	case KindToolRef:
		return "<tool " + v.Ref + ">"
	case KindFuncRef:
		return "<function " + v.Ref + ">"
	default:
		return "<unknown>"
	}
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// Coerce converts v to the declared type ann. The empty annotation binds
// unchanged. Failure is a *TypeCoercionError; a failed coercion never
// stores a partial value.
func Coerce(v Value, ann ast.TypeAnnotation) (Value, error) {
	switch ann {
	case ast.TypeNone:
		return v, nil

	case ast.TypeText, ast.TypePrompt:
		switch v.Kind {
		case KindText:
			return Value{Kind: KindText, Text: v.Text}, nil
		case KindNumber, KindBool, KindNull, "":
			return TextValue(v.Display()), nil
		}

	case ast.TypeNumber:
		switch v.Kind {
		case KindNumber:
			return v, nil
		case KindText:
			n, err := strconv.ParseFloat(strings.TrimSpace(v.Text), 64)
			if err == nil {
				return NumberValue(n), nil
			}
		}

	case ast.TypeBoolean:
		switch v.Kind {
		case KindBool:
			return v, nil
		case KindText:
			b, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(v.Text)))
			if err == nil {
				return BoolValue(b), nil
			}
		}

	case ast.TypeJSON:
		switch v.Kind {
		case KindJSON:
			return v, nil
		case KindText:
			raw := strings.TrimSpace(v.Text)
			if json.Valid([]byte(raw)) {
				return JSONValue(json.RawMessage(raw)), nil
			}
		default:
			raw, err := json.Marshal(encodeJSONPayload(v))
			if err == nil {
				return JSONValue(raw), nil
			}
		}

	case ast.TypeArray:
		switch v.Kind {
		case KindArray:
			return v, nil
		case KindText, KindJSON:
			raw := v.Text
			if v.Kind == KindJSON {
				raw = string(v.JSON)
			}
			var elems []any
			if err := json.Unmarshal([]byte(raw), &elems); err == nil {
				arr := make([]Value, len(elems))
				for i, e := range elems {
					arr[i] = FromAny(e)
				}
				return ArrayValue(arr...), nil
			}
		}

	case ast.TypeModel:
		if v.Kind == KindModelRef || v.Kind == KindJSON {
			return v, nil
		}
	}

	return Value{}, &TypeCoercionError{Target: string(ann), Value: summarize(v)}
}

func summarize(v Value) string {
	s := v.Display()
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return fmt.Sprintf("%s value %q", v.Kind, s)
}

// FromAny converts a decoded JSON value (or a plain Go scalar handed in
// by a host tool) into the engine's value domain.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return NullValue()
	case string:
		return TextValue(t)
	case bool:
		return BoolValue(t)
	case float64:
		return NumberValue(t)
	case int:
		return NumberValue(float64(t))
	case int64:
		return NumberValue(float64(t))
	case json.RawMessage:
		return JSONValue(t)
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			arr[i] = FromAny(e)
		}
		return ArrayValue(arr...)
	case map[string]any:
		raw, err := json.Marshal(t)
		if err != nil {
			return NullValue()
		}
		return JSONValue(raw)
	default:
		return TextValue(fmt.Sprint(t))
	}
}

// encodeJSONPayload renders a value as a JSON-marshalable Go value.
func encodeJSONPayload(v Value) any {
	switch v.Kind {
	case KindNull, "":
		return nil
	case KindText:
		return v.Text
	case KindNumber:
		return v.Number
	case KindBool:
		return v.Bool
	case KindJSON:
		return v.JSON
	case KindArray:
		elems := make([]any, len(v.Array))
		for i, e := range v.Array {
			elems[i] = encodeJSONPayload(e)
		}
		return elems
	default:
		return v.Display()
	}
}

// checkEncodable validates that v round-trips through the serializer.
// NaN and infinities have no JSON encoding; malformed raw JSON would
// corrupt the document.
func checkEncodable(v Value) error {
	switch v.Kind {
	case KindNumber:
		if math.IsNaN(v.Number) || math.IsInf(v.Number, 0) {
			return &UnsupportedValueError{Detail: "non-finite number " + strconv.FormatFloat(v.Number, 'g', -1, 64)}
		}
	case KindJSON:
		if !json.Valid(v.JSON) {
			return &UnsupportedValueError{Detail: "malformed json payload"}
		}
	case KindArray:
		for _, elem := range v.Array {
			if err := checkEncodable(elem); err != nil {
				return err
			}
		}
	}
	return nil
}
