package bridge

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/wippyai/hostbridge/eventloop"
	"github.com/wippyai/hostbridge/resource"
)

type point struct {
	X, Y int
}

func TestDebugString(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "null"},
		{"undefined", resource.Undefined, "undefined"},
		{"true", true, "true"},
		{"integer", 100.0, "100"},
		{"fraction", 1.5, "1.5"},
		{"int", 7, "7"},
		{"large", 1e21, "1e+21"},
		{"small", 1e-7, "1e-7"},
		{"nan", math.NaN(), "NaN"},
		{"neg inf", math.Inf(-1), "-Infinity"},
		{"string", "hi", `"hi"`},
		{"slice", []any{1.0, "a", nil}, `[1, "a", null]`},
		{"empty slice", []string{}, "[]"},
		{"bytes", []byte{1, 2}, "Uint8Array"},
		{"error", errors.New("boom"), "Error: boom"},
		{"map", map[string]any{"a": 1}, `Object({"a":1})`},
		{"anonymous struct", struct{ X int }{1}, `Object({"X":1})`},
		{"named struct", point{1, 2}, "point"},
		{"pointer", &point{}, "point"},
		{"promise", eventloop.Resolved(nil, 1), "Promise"},
		{"unencodable", map[string]any{"c": make(chan int)}, "Object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DebugString(tt.in); got != tt.want {
				t.Errorf("DebugString(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDebugString_Cycles(t *testing.T) {
	self := []any{nil}
	self[0] = self
	if got := DebugString(self); got != "[[...]]" {
		t.Errorf("self-referencing slice = %q", got)
	}

	a := []any{1.0, nil}
	b := []any{a}
	a[1] = b
	if got := DebugString(a); got != "[1, [[...]]]" {
		t.Errorf("mutual cycle = %q", got)
	}

	shared := []any{"x"}
	if got := DebugString([]any{shared, shared}); got != `[["x"], ["x"]]` {
		t.Errorf("repeated sibling = %q", got)
	}

	var deep any = 0.0
	for i := 0; i < 100; i++ {
		deep = [1]any{deep}
	}
	if got := DebugString(deep); !strings.Contains(got, "[...]") {
		t.Errorf("deep nesting was not cut off: %d bytes", len(got))
	}
}

func TestDebugString_Function(t *testing.T) {
	got := DebugString(TestDebugString)
	if got != "Function(bridge.TestDebugString)" {
		t.Errorf("DebugString(func) = %q", got)
	}
}
