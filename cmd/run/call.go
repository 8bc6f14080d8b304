package main

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hostbridge/bridge"
	"github.com/wippyai/hostbridge/engine"
	"github.com/wippyai/hostbridge/eventloop"
	"github.com/wippyai/hostbridge/resource"
)

// awaitTimeout bounds how long a returned promise is driven.
const awaitTimeout = 30 * time.Second

// parseArgs converts input into call arguments for params. A quoted string
// is copied into module memory and passed as (ptr, len); anything else is a
// comma-separated list of numbers.
func parseArgs(ctx context.Context, inst *engine.Instance, params []api.ValueType, input string) ([]uint64, error) {
	input = strings.TrimSpace(input)
	if s, err := strconv.Unquote(input); err == nil {
		if len(params) != 2 || params[0] != api.ValueTypeI32 || params[1] != api.ValueTypeI32 {
			return nil, fmt.Errorf("a string argument needs an (i32, i32) function, got %d params", len(params))
		}
		span, err := inst.PassString(ctx, s)
		if err != nil {
			return nil, err
		}
		return []uint64{api.EncodeU32(span.Ptr), api.EncodeU32(span.Len)}, nil
	}
	return parseNumbers(params, input)
}

func parseNumbers(params []api.ValueType, input string) ([]uint64, error) {
	var fields []string
	if input != "" {
		fields = strings.Split(input, ",")
	}
	if len(fields) != len(params) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(params), len(fields))
	}
	args := make([]uint64, len(params))
	for i, f := range fields {
		f = strings.TrimSpace(f)
		switch params[i] {
		case api.ValueTypeI32:
			v, err := strconv.ParseInt(f, 0, 64)
			if err != nil || v < math.MinInt32 || v > math.MaxUint32 {
				return nil, fmt.Errorf("argument %d: %q is not an i32", i, f)
			}
			args[i] = api.EncodeU32(uint32(v))
		case api.ValueTypeI64:
			v, err := strconv.ParseInt(f, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %q is not an i64", i, f)
			}
			args[i] = api.EncodeI64(v)
		case api.ValueTypeF32:
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %q is not an f32", i, f)
			}
			args[i] = api.EncodeF32(float32(v))
		case api.ValueTypeF64:
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %q is not an f64", i, f)
			}
			args[i] = api.EncodeF64(v)
		default:
			return nil, fmt.Errorf("argument %d: unsupported type %s", i, api.ValueTypeName(params[i]))
		}
	}
	return args, nil
}

// formatResults renders raw results. A single i32 result that names a live
// handle is shown with the value behind it; a promise is awaited first.
func formatResults(ctx context.Context, inst *engine.Instance, results []api.ValueType, raw []uint64) string {
	if len(raw) == 0 {
		return "()"
	}
	parts := make([]string, len(raw))
	for i, r := range raw {
		parts[i] = formatNumber(results[i], r)
	}
	out := strings.Join(parts, ", ")
	if len(raw) != 1 || results[0] != api.ValueTypeI32 {
		return out
	}

	h := api.DecodeU32(raw[0])
	if h < uint32(resource.HandleUndefined) {
		return out
	}
	v, err := inst.Value(h)
	if err != nil {
		return out
	}
	if p, ok := v.(*eventloop.Promise); ok {
		actx, cancel := context.WithTimeout(ctx, awaitTimeout)
		defer cancel()
		settled, err := inst.Await(actx, p)
		if err != nil {
			return fmt.Sprintf("%s (handle: promise rejected: %v)", out, err)
		}
		return fmt.Sprintf("%s (handle: promise resolved: %s)", out, bridge.DebugString(settled))
	}
	return fmt.Sprintf("%s (handle: %s)", out, bridge.DebugString(v))
}

func formatNumber(t api.ValueType, raw uint64) string {
	switch t {
	case api.ValueTypeI32:
		return strconv.FormatInt(int64(api.DecodeI32(raw)), 10)
	case api.ValueTypeF32:
		return strconv.FormatFloat(float64(api.DecodeF32(raw)), 'g', -1, 32)
	case api.ValueTypeF64:
		return strconv.FormatFloat(api.DecodeF64(raw), 'g', -1, 64)
	default:
		return strconv.FormatInt(int64(raw), 10)
	}
}

func signature(e engine.Export) string {
	names := func(ts []api.ValueType) string {
		s := make([]string, len(ts))
		for i, t := range ts {
			s[i] = api.ValueTypeName(t)
		}
		return strings.Join(s, ", ")
	}
	sig := e.Name + "(" + names(e.Params) + ")"
	if len(e.Results) > 0 {
		sig += " -> " + names(e.Results)
	}
	return sig
}

func statsLine(s bridge.Stats) string {
	return fmt.Sprintf("handles %d live (%d allocs, %d releases) • closures %d live, %d destroyed, %d pending • strings %d in, %d out",
		s.Heap.Live, s.Heap.Allocs, s.Heap.Releases,
		s.Closures.Live, s.Closures.Destroyed, s.Closures.Pending,
		s.Marshal.Decoded, s.Marshal.Encoded)
}
