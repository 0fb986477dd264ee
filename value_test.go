// value_test.go - Tagged variant value tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"encoding/json"
	"testing"
)

func TestValueEquality(t *testing.T) {
	if !Int32Value(7).Equal(Int32Value(7)) {
		t.Error("equal int32 values compare unequal")
	}
	if Int32Value(7).Equal(Int32Value(8)) {
		t.Error("different int32 values compare equal")
	}
	if Int32Value(7).Equal(Int64Value(7)) {
		t.Error("values of different signatures compare equal")
	}
	if Int32Value(7).Equal(nil) {
		t.Error("a value compares equal to nil")
	}
	var a, b *Value
	if !a.Equal(b) {
		t.Error("two nil values compare unequal")
	}
}

func TestValueAccessors(t *testing.T) {
	if v, ok := Int32Value(-3).Int32(); !ok || v != -3 {
		t.Errorf("Int32() = (%d, %v)", v, ok)
	}
	if v, ok := StringValue("hi").Str(); !ok || v != "hi" {
		t.Errorf("Str() = (%q, %v)", v, ok)
	}
	if v, ok := BoolValue(true).Bool(); !ok || !v {
		t.Errorf("Bool() = (%v, %v)", v, ok)
	}
	if v, ok := DoubleValue(1.5).Double(); !ok || v != 1.5 {
		t.Errorf("Double() = (%v, %v)", v, ok)
	}
	if v, ok := Uint64Value(42).Int64(); !ok || v != 42 {
		t.Errorf("Int64() widening = (%d, %v)", v, ok)
	}
	if list, ok := StringListValue([]string{"a", "b"}).StringList(); !ok || len(list) != 2 {
		t.Errorf("StringList() = (%v, %v)", list, ok)
	}
	if _, ok := StringValue("hi").Int32(); ok {
		t.Error("Int32() succeeded on a string value")
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	for _, original := range []*Value{
		BoolValue(true),
		ByteValue(255),
		Int16Value(-5),
		Uint16Value(5),
		Int32Value(-100000),
		Uint32Value(100000),
		Int64Value(-1 << 40),
		Uint64Value(1 << 40),
		DoubleValue(3.25),
		StringValue("héllo"),
		StringListValue([]string{"x", "", "z"}),
	} {
		data, err := json.Marshal(original)
		if err != nil {
			t.Fatalf("marshal %s failed: %v", original, err)
		}
		var decoded Value
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal %s failed: %v", data, err)
		}
		if !decoded.Equal(original) {
			t.Errorf("round trip changed %s into %s", original, &decoded)
		}
	}
}

func TestValueUnmarshalRejectsJunk(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"data": 1}`), &v); err == nil {
		t.Error("missing signature was accepted")
	}
	if err := json.Unmarshal([]byte(`{"sig": "zz", "data": 1}`), &v); err == nil {
		t.Error("unknown signature was accepted")
	}
	if err := json.Unmarshal([]byte(`{"sig": "i", "data": "nope"}`), &v); err == nil {
		t.Error("mistyped payload was accepted")
	}
}

func TestParseValue(t *testing.T) {
	cases := []struct {
		literal string
		want    *Value
	}{
		{"bool:true", BoolValue(true)},
		{"byte:9", ByteValue(9)},
		{"i16:-2", Int16Value(-2)},
		{"u16:2", Uint16Value(2)},
		{"i32:-7", Int32Value(-7)},
		{"u32:7", Uint32Value(7)},
		{"i64:-900", Int64Value(-900)},
		{"u64:900", Uint64Value(900)},
		{"double:0.5", DoubleValue(0.5)},
		{"str:plain text", StringValue("plain text")},
		{`strv:["a","b"]`, StringListValue([]string{"a", "b"})},
	}
	for _, tc := range cases {
		got, err := ParseValue(tc.literal)
		if err != nil {
			t.Errorf("ParseValue(%q) failed: %v", tc.literal, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseValue(%q) = %s, want %s", tc.literal, got, tc.want)
		}
	}

	for _, bad := range []string{"", "i32", "i32:abc", "mystery:1", "byte:300"} {
		if _, err := ParseValue(bad); err == nil {
			t.Errorf("ParseValue(%q) succeeded", bad)
		}
	}
}

func TestValueString(t *testing.T) {
	if got := Int32Value(7).String(); got != "i32:7" {
		t.Errorf("String() = %q", got)
	}
	var v *Value
	if got := v.String(); got != "reset" {
		t.Errorf("nil String() = %q", got)
	}
}
