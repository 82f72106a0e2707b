package sandbox

import (
	"fmt"
	"math"

	"github.com/Shopify/go-lua"
)

// pushValue converts a Go value into a Lua value on top of the stack.
// Observations are maps and numeric slices, so those are the shapes
// supported here.
func pushValue(l *lua.State, v any) error {
	switch val := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(val)
	case int:
		l.PushInteger(val)
	case int64:
		l.PushInteger(int(val))
	case float64:
		l.PushNumber(val)
	case string:
		l.PushString(val)
	case []float64:
		l.NewTable()
		for i, n := range val {
			l.PushNumber(n)
			l.RawSetInt(-2, i+1)
		}
	case []int:
		l.NewTable()
		for i, n := range val {
			l.PushInteger(n)
			l.RawSetInt(-2, i+1)
		}
	case []any:
		l.NewTable()
		for i, item := range val {
			if err := pushValue(l, item); err != nil {
				l.Pop(1)
				return err
			}
			l.RawSetInt(-2, i+1)
		}
	case map[string]float64:
		l.NewTable()
		for k, n := range val {
			l.PushNumber(n)
			l.SetField(-2, k)
		}
	case map[string]any:
		l.NewTable()
		for k, item := range val {
			if err := pushValue(l, item); err != nil {
				l.Pop(1)
				return err
			}
			l.SetField(-2, k)
		}
	default:
		return fmt.Errorf("unsupported observation value %T", v)
	}
	return nil
}

// toGoValue converts the Lua value at index into a Go value.
func toGoValue(l *lua.State, index int) any {
	switch l.TypeOf(index) {
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return normalizeNumber(n)
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeTable:
		return tableToGoValue(l, index)
	default:
		return nil
	}
}

// tableToGoValue converts a Lua table into either a []any (contiguous
// 1-based integer keys) or a map[string]any.
func tableToGoValue(l *lua.State, index int) any {
	index = l.AbsIndex(index)

	isArray := true
	maxIndex := 0
	count := 0
	l.PushNil()
	for l.Next(index) {
		if isArray {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := l.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			l.RawGetInt(index, i)
			result = append(result, toGoValue(l, -1))
			l.Pop(1)
		}
		return result
	}

	result := map[string]any{}
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) == lua.TypeString {
			key, _ := l.ToString(-2)
			result[key] = toGoValue(l, -1)
		}
		l.Pop(1)
	}
	return result
}

// normalizeNumber keeps whole Lua numbers as Go ints so discrete
// actions survive the boundary.
func normalizeNumber(value float64) any {
	if math.Mod(value, 1) == 0 {
		return int(value)
	}
	return value
}
