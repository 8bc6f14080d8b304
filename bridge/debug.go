package bridge

import (
	"math"
	"reflect"
	"runtime"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/wippyai/hostbridge/closure"
	"github.com/wippyai/hostbridge/resource"
)

// DebugString renders a host value for diagnostics:
//
//	numbers, bools    verbatim ("1.5", "true")
//	nil, Undefined    "null", "undefined"
//	strings           quoted without escaping
//	functions         "Function" or "Function(name)"
//	slices, arrays    "[a, b]" with elements rendered recursively; a slice
//	                  already being rendered, or nesting deeper than
//	                  maxDebugDepth, is "[...]"
//	errors            "Error: message"
//	maps, anonymous   "Object(<json>)", or "Object" when not encodable
//	named types       the type name
func DebugString(v any) string {
	return debugString(v, nil, 0)
}

const maxDebugDepth = 32

// debugString tracks the data pointers of the slices on the current path.
func debugString(v any, path map[uintptr]struct{}, depth int) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case resource.UndefinedValue:
		return "undefined"
	case bool:
		return strconv.FormatBool(x)
	case string:
		return `"` + x + `"`
	case error:
		return "Error: " + x.Error()
	case *closure.Closure:
		return "Function"
	case []byte:
		return "Uint8Array"
	}
	if n, ok := Number(v); ok {
		return formatNumber(n)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		if fn := runtime.FuncForPC(rv.Pointer()); fn != nil {
			name := fn.Name()
			if i := strings.LastIndexByte(name, '/'); i >= 0 {
				name = name[i+1:]
			}
			return "Function(" + name + ")"
		}
		return "Function"
	case reflect.Slice, reflect.Array:
		if depth >= maxDebugDepth {
			return "[...]"
		}
		if rv.Kind() == reflect.Slice && rv.Len() > 0 {
			ptr := rv.Pointer()
			if _, ok := path[ptr]; ok {
				return "[...]"
			}
			if path == nil {
				path = make(map[uintptr]struct{})
			}
			path[ptr] = struct{}{}
			defer delete(path, ptr)
		}
		var b strings.Builder
		b.WriteByte('[')
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(debugString(rv.Index(i).Interface(), path, depth+1))
		}
		b.WriteByte(']')
		return b.String()
	}

	if name := className(rv.Type()); name != "" {
		return name
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "Object"
	}
	return "Object(" + string(data) + ")"
}

// className returns the name of a named non-map type, dereferencing pointers.
func className(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Map || t.Name() == "" {
		return ""
	}
	return t.Name()
}

// formatNumber prints a float the way a script engine would: integers
// without a fraction, exponents for very large or small magnitudes.
func formatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "NaN"
	case math.IsInf(n, 1):
		return "Infinity"
	case math.IsInf(n, -1):
		return "-Infinity"
	}
	abs := math.Abs(n)
	if abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		s := strconv.FormatFloat(n, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[0]
		exp = strings.TrimLeft(exp[1:], "0")
		return mant + "e" + string(sign) + exp
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func typeOf(v any) string {
	if v == nil {
		return "null"
	}
	return reflect.TypeOf(v).String()
}
