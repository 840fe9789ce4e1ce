// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package projectdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the declared shape of a flag or remote config value.
type Kind int

const (
	KindBoolean Kind = iota
	KindString
	KindNumber
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "BOOLEAN"
	case KindString:
		return "STRING"
	case KindNumber:
		return "NUMBER"
	case KindJSON:
		return "JSON"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind accepts the wire names of a kind, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BOOLEAN", "BOOL":
		return KindBoolean, nil
	case "STRING":
		return KindString, nil
	case "NUMBER":
		return KindNumber, nil
	case "JSON":
		return KindJSON, nil
	}
	return 0, fmt.Errorf("%w: unknown value type %q", ErrInvalidSnapshot, s)
}

// Value is a tagged flag or remote config payload. The zero Value is
// a Boolean false.
type Value struct {
	kind Kind
	b    bool
	s    string
	n    float64
	j    json.RawMessage
}

func BoolValue(b bool) Value { return Value{kind: KindBoolean, b: b} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, n: n} }

// JSONValue wraps raw JSON. Invalid JSON is stored as null.
func JSONValue(raw json.RawMessage) Value {
	if len(bytes.TrimSpace(raw)) == 0 || !json.Valid(raw) {
		return Value{kind: KindJSON, j: json.RawMessage("null")}
	}
	return Value{kind: KindJSON, j: append(json.RawMessage(nil), raw...)}
}

// ZeroValue is the default returned for names missing from a store.
func ZeroValue(k Kind) Value {
	switch k {
	case KindString:
		return StringValue("")
	case KindNumber:
		return NumberValue(0)
	case KindJSON:
		return JSONValue(nil)
	default:
		return BoolValue(false)
	}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBoolean
}

func (v Value) Str() (string, bool) {
	return v.s, v.kind == KindString
}

func (v Value) Number() (float64, bool) {
	return v.n, v.kind == KindNumber
}

func (v Value) JSON() (json.RawMessage, bool) {
	if v.kind != KindJSON {
		return nil, false
	}
	return append(json.RawMessage(nil), v.j...), true
}

// Any returns the payload as a plain Go value. JSON payloads are decoded.
func (v Value) Any() any {
	switch v.kind {
	case KindBoolean:
		return v.b
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	case KindJSON:
		var out any
		if err := json.Unmarshal(v.j, &out); err != nil {
			return nil
		}
		return out
	}
	panic(fmt.Sprintf("projectdata: unhandled kind %d", v.kind))
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBoolean:
		return v.b == o.b
	case KindString:
		return v.s == o.s
	case KindNumber:
		return v.n == o.n
	default:
		return bytes.Equal(v.j, o.j)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBoolean:
		return json.Marshal(v.b)
	case KindString:
		return json.Marshal(v.s)
	case KindNumber:
		return json.Marshal(v.n)
	case KindJSON:
		if len(v.j) == 0 {
			return []byte("null"), nil
		}
		return v.j, nil
	}
	return nil, fmt.Errorf("projectdata: unhandled kind %d", v.kind)
}

// ParseValue converts a string-encoded value, as stored by the dashboard
// or written into an override cookie, into the given kind.
func ParseValue(kind Kind, s string) (Value, error) {
	switch kind {
	case KindBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a boolean", ErrInvalidSnapshot, s)
		}
		return BoolValue(b), nil
	case KindString:
		return StringValue(s), nil
	case KindNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a number", ErrInvalidSnapshot, s)
		}
		return NumberValue(n), nil
	case KindJSON:
		if !json.Valid([]byte(s)) {
			return Value{}, fmt.Errorf("%w: %q is not valid JSON", ErrInvalidSnapshot, s)
		}
		return JSONValue(json.RawMessage(s)), nil
	}
	return Value{}, fmt.Errorf("%w: unknown kind %d", ErrInvalidSnapshot, kind)
}

// decodeValue reads a wire value. When declared is nil the kind is
// inferred from the JSON token.
func decodeValue(raw json.RawMessage, declared *Kind) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}

	if declared == nil {
		switch raw[0] {
		case 't', 'f':
			var b bool
			if err := json.Unmarshal(raw, &b); err != nil {
				return Value{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
			}
			return BoolValue(b), nil
		case '"':
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return Value{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
			}
			return StringValue(s), nil
		case '{', '[', 'n':
			return JSONValue(raw), nil
		default:
			var n float64
			if err := json.Unmarshal(raw, &n); err != nil {
				return Value{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
			}
			return NumberValue(n), nil
		}
	}

	// String-encoded payloads are how typed values are persisted.
	if raw[0] == '"' && *declared != KindString {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		return ParseValue(*declared, s)
	}

	switch *declared {
	case KindBoolean:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, fmt.Errorf("%w: expected boolean, got %s", ErrInvalidSnapshot, raw)
		}
		return BoolValue(b), nil
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, fmt.Errorf("%w: expected string, got %s", ErrInvalidSnapshot, raw)
		}
		return StringValue(s), nil
	case KindNumber:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return Value{}, fmt.Errorf("%w: expected number, got %s", ErrInvalidSnapshot, raw)
		}
		return NumberValue(n), nil
	case KindJSON:
		return JSONValue(raw), nil
	}
	return Value{}, fmt.Errorf("%w: unknown kind %d", ErrInvalidSnapshot, *declared)
}
