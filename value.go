// value.go: Tagged variant values for strata
//
// The engine never inspects value contents; it only needs structural
// equality and a canonical wire form. A Value pairs a type signature with a
// canonical JSON encoding of the datum. Values are immutable after
// construction and safe to share between threads.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/agilira/go-errors"
)

// Value type signatures. The signature alphabet mirrors the classic variant
// basic types plus the string array.
const (
	SigBool       = "b"
	SigByte       = "y"
	SigInt16      = "n"
	SigUint16     = "q"
	SigInt32      = "i"
	SigUint32     = "u"
	SigInt64      = "x"
	SigUint64     = "t"
	SigDouble     = "d"
	SigString     = "s"
	SigStringList = "as"
)

// Value is an opaque typed datum: a type signature plus a canonical JSON
// encoding of the payload. Equality is structural (signature and encoding).
type Value struct {
	sig  string
	data string
}

// Signature returns the value's type signature.
func (v *Value) Signature() string {
	return v.sig
}

// Equal reports structural equality with other. A nil Value is equal only to
// another nil Value.
func (v *Value) Equal(other *Value) bool {
	if v == nil || other == nil {
		return v == other
	}
	return v.sig == other.sig && v.data == other.data
}

// String renders the value as a typed literal, e.g. "i32:7" or `str:"hi"`.
func (v *Value) String() string {
	if v == nil {
		return "reset"
	}
	switch v.sig {
	case SigBool:
		return "bool:" + v.data
	case SigByte:
		return "byte:" + v.data
	case SigInt16:
		return "i16:" + v.data
	case SigUint16:
		return "u16:" + v.data
	case SigInt32:
		return "i32:" + v.data
	case SigUint32:
		return "u32:" + v.data
	case SigInt64:
		return "i64:" + v.data
	case SigUint64:
		return "u64:" + v.data
	case SigDouble:
		return "double:" + v.data
	case SigString:
		return "str:" + v.data
	case SigStringList:
		return "strv:" + v.data
	default:
		return v.sig + ":" + v.data
	}
}

func newValue(sig string, payload interface{}) *Value {
	data, err := json.Marshal(payload)
	if err != nil {
		// Only reachable for non-finite floats; store them as strings so the
		// wire form stays valid JSON.
		data, _ = json.Marshal(fmt.Sprint(payload))
	}
	return &Value{sig: sig, data: string(data)}
}

// BoolValue wraps a bool.
func BoolValue(b bool) *Value { return newValue(SigBool, b) }

// ByteValue wraps a byte.
func ByteValue(b byte) *Value { return newValue(SigByte, b) }

// Int16Value wraps an int16.
func Int16Value(i int16) *Value { return newValue(SigInt16, i) }

// Uint16Value wraps a uint16.
func Uint16Value(u uint16) *Value { return newValue(SigUint16, u) }

// Int32Value wraps an int32.
func Int32Value(i int32) *Value { return newValue(SigInt32, i) }

// Uint32Value wraps a uint32.
func Uint32Value(u uint32) *Value { return newValue(SigUint32, u) }

// Int64Value wraps an int64.
func Int64Value(i int64) *Value { return newValue(SigInt64, i) }

// Uint64Value wraps a uint64.
func Uint64Value(u uint64) *Value { return newValue(SigUint64, u) }

// DoubleValue wraps a float64.
func DoubleValue(d float64) *Value { return newValue(SigDouble, d) }

// StringValue wraps a string.
func StringValue(s string) *Value { return newValue(SigString, s) }

// StringListValue wraps a list of strings.
func StringListValue(list []string) *Value { return newValue(SigStringList, list) }

// Bool returns the payload of a SigBool value.
func (v *Value) Bool() (bool, bool) {
	if v == nil || v.sig != SigBool {
		return false, false
	}
	var b bool
	if json.Unmarshal([]byte(v.data), &b) != nil {
		return false, false
	}
	return b, true
}

// Int32 returns the payload of a SigInt32 value.
func (v *Value) Int32() (int32, bool) {
	if v == nil || v.sig != SigInt32 {
		return 0, false
	}
	var i int32
	if json.Unmarshal([]byte(v.data), &i) != nil {
		return 0, false
	}
	return i, true
}

// Int64 returns the payload of any integer-signature value widened to int64.
func (v *Value) Int64() (int64, bool) {
	if v == nil {
		return 0, false
	}
	switch v.sig {
	case SigByte, SigInt16, SigUint16, SigInt32, SigUint32, SigInt64, SigUint64:
		var i int64
		if json.Unmarshal([]byte(v.data), &i) != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// Double returns the payload of a SigDouble value.
func (v *Value) Double() (float64, bool) {
	if v == nil || v.sig != SigDouble {
		return 0, false
	}
	var d float64
	if json.Unmarshal([]byte(v.data), &d) != nil {
		return 0, false
	}
	return d, true
}

// Str returns the payload of a SigString value.
func (v *Value) Str() (string, bool) {
	if v == nil || v.sig != SigString {
		return "", false
	}
	var s string
	if json.Unmarshal([]byte(v.data), &s) != nil {
		return "", false
	}
	return s, true
}

// StringList returns the payload of a SigStringList value.
func (v *Value) StringList() ([]string, bool) {
	if v == nil || v.sig != SigStringList {
		return nil, false
	}
	var list []string
	if json.Unmarshal([]byte(v.data), &list) != nil {
		return nil, false
	}
	return list, true
}

// wireValue is the self-describing JSON form used by changeset serialisation
// and the database files.
type wireValue struct {
	Sig  string          `json:"sig"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (v *Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireValue{Sig: v.sig, Data: json.RawMessage(v.data)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, ErrCodeInvalidValue, "malformed serialised value")
	}
	if w.Sig == "" {
		return errors.New(ErrCodeInvalidValue, "serialised value carries no type signature")
	}
	// Re-encode through the canonical path so equality stays structural.
	canonical, err := valueFromWire(w.Sig, w.Data)
	if err != nil {
		return err
	}
	*v = *canonical
	return nil
}

// valueFromWire rebuilds a Value from a signature and raw JSON payload,
// normalising the encoding.
func valueFromWire(sig string, data json.RawMessage) (*Value, error) {
	switch sig {
	case SigBool:
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "boolean payload expected")
		}
		return BoolValue(b), nil
	case SigByte, SigInt16, SigUint16, SigInt32, SigUint32, SigInt64:
		var i int64
		if err := json.Unmarshal(data, &i); err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "integer payload expected")
		}
		return newValue(sig, i), nil
	case SigUint64:
		var u uint64
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "integer payload expected")
		}
		return Uint64Value(u), nil
	case SigDouble:
		var d float64
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "double payload expected")
		}
		return DoubleValue(d), nil
	case SigString:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "string payload expected")
		}
		return StringValue(s), nil
	case SigStringList:
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "string list payload expected")
		}
		return StringListValue(list), nil
	default:
		return nil, errors.New(ErrCodeInvalidValue, "unknown type signature").
			WithContext("signature", sig)
	}
}

// ParseValue parses a typed literal of the form "<type>:<payload>", the
// inverse of Value.String. Used by the CLI and by tests.
func ParseValue(literal string) (*Value, error) {
	kind, payload, ok := strings.Cut(literal, ":")
	if !ok {
		return nil, errors.New(ErrCodeInvalidValue, "value literal must look like <type>:<payload>").
			WithContext("literal", literal)
	}
	switch kind {
	case "bool":
		b, err := strconv.ParseBool(payload)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "invalid boolean literal")
		}
		return BoolValue(b), nil
	case "byte":
		u, err := strconv.ParseUint(payload, 10, 8)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "invalid byte literal")
		}
		return ByteValue(byte(u)), nil
	case "i16":
		i, err := strconv.ParseInt(payload, 10, 16)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "invalid i16 literal")
		}
		return Int16Value(int16(i)), nil
	case "u16":
		u, err := strconv.ParseUint(payload, 10, 16)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "invalid u16 literal")
		}
		return Uint16Value(uint16(u)), nil
	case "i32":
		i, err := strconv.ParseInt(payload, 10, 32)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "invalid i32 literal")
		}
		return Int32Value(int32(i)), nil
	case "u32":
		u, err := strconv.ParseUint(payload, 10, 32)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "invalid u32 literal")
		}
		return Uint32Value(uint32(u)), nil
	case "i64":
		i, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "invalid i64 literal")
		}
		return Int64Value(i), nil
	case "u64":
		u, err := strconv.ParseUint(payload, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "invalid u64 literal")
		}
		return Uint64Value(u), nil
	case "double":
		d, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "invalid double literal")
		}
		return DoubleValue(d), nil
	case "str":
		// A JSON-quoted payload (the form String prints) is unquoted; any
		// other payload is taken verbatim.
		var s string
		if strings.HasPrefix(payload, `"`) && json.Unmarshal([]byte(payload), &s) == nil {
			return StringValue(s), nil
		}
		return StringValue(payload), nil
	case "strv":
		var list []string
		if err := json.Unmarshal([]byte(payload), &list); err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidValue, "strv payload must be a JSON string array")
		}
		return StringListValue(list), nil
	default:
		return nil, errors.New(ErrCodeInvalidValue, "unknown value literal type").
			WithContext("type", kind)
	}
}
