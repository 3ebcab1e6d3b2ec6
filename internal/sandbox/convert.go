package sandbox

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// toStarlark converts a warehouse cell value.
func toStarlark(value any) starlark.Value {
	switch typed := value.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return typed
	case bool:
		return starlark.Bool(typed)
	case int:
		return starlark.MakeInt(typed)
	case int8:
		return starlark.MakeInt64(int64(typed))
	case int16:
		return starlark.MakeInt64(int64(typed))
	case int32:
		return starlark.MakeInt64(int64(typed))
	case int64:
		return starlark.MakeInt64(typed)
	case uint8:
		return starlark.MakeUint64(uint64(typed))
	case uint16:
		return starlark.MakeUint64(uint64(typed))
	case uint32:
		return starlark.MakeUint64(uint64(typed))
	case uint64:
		return starlark.MakeUint64(typed)
	case float32:
		return starlark.Float(typed)
	case float64:
		return starlark.Float(typed)
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return starlark.MakeInt64(i)
		}
		if f, err := typed.Float64(); err == nil {
			return starlark.Float(f)
		}
		return starlark.String(typed.String())
	case *big.Rat:
		f, _ := typed.Float64()
		return starlark.Float(f)
	case string:
		return starlark.String(typed)
	case []byte:
		return starlark.String(string(typed))
	case time.Time:
		return starlark.String(typed.UTC().Format(time.RFC3339Nano))
	case []any:
		values := make([]starlark.Value, 0, len(typed))
		for _, item := range typed {
			values = append(values, toStarlark(item))
		}
		return starlark.NewList(values)
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(keys))
		for _, key := range keys {
			_ = dict.SetKey(starlark.String(key), toStarlark(typed[key]))
		}
		return dict
	case fmt.Stringer:
		return starlark.String(typed.String())
	default:
		return starlark.String(fmt.Sprint(typed))
	}
}

// toGo converts a script value into plain JSON-encodable Go values.
func toGo(value starlark.Value) any {
	switch typed := value.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(typed)
	case starlark.Int:
		if i, ok := typed.Int64(); ok {
			return i
		}
		return typed.String()
	case starlark.Float:
		f := float64(typed)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case starlark.String:
		return string(typed)
	case *starlark.List:
		return iterableToGo(typed)
	case starlark.Tuple:
		return iterableToGo(typed)
	case *starlark.Set:
		return iterableToGo(typed)
	case *starlark.Dict:
		out := make(map[string]any, typed.Len())
		for _, item := range typed.Items() {
			out[labelOf(item[0])] = toGo(item[1])
		}
		return out
	case *frame:
		rows := make([]any, 0, len(typed.rows))
		for i := range typed.rows {
			rows = append(rows, toGo(typed.rowDict(i)))
		}
		columns := make([]any, 0, len(typed.columns))
		for _, column := range typed.columns {
			columns = append(columns, column)
		}
		return map[string]any{"columns": columns, "rows": rows}
	default:
		return value.String()
	}
}

func iterableToGo(iterable starlark.Iterable) []any {
	out := []any{}
	iter := iterable.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		out = append(out, toGo(item))
	}
	return out
}

func labelOf(value starlark.Value) string {
	if s, ok := starlark.AsString(value); ok {
		return s
	}
	return value.String()
}

// builtinSum is sum(iterable, start=0).
func builtinSum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}
	values := []starlark.Value{start}
	iter := iterable.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		values = append(values, item)
	}
	total := values[0]
	for _, value := range values[1:] {
		next, err := starlark.Binary(syntax.PLUS, total, value)
		if err != nil {
			return nil, fmt.Errorf("sum: %w", err)
		}
		total = next
	}
	return total, nil
}

var helperModule = &starlarkstruct.Module{
	Name: "tbl",
	Members: starlark.StringDict{
		"mean":   starlark.NewBuiltin("mean", helperMean),
		"median": starlark.NewBuiltin("median", helperMedian),
		"round":  starlark.NewBuiltin("round", helperRound),
	},
}

func numbers(name string, iterable starlark.Iterable) ([]float64, error) {
	var out []float64
	iter := iterable.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		if item == starlark.None {
			continue
		}
		f, ok := starlark.AsFloat(item)
		if !ok {
			return nil, fmt.Errorf("%s: non-numeric value %s", name, item.Type())
		}
		out = append(out, f)
	}
	return out, nil
}

func helperMean(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &iterable); err != nil {
		return nil, err
	}
	values, err := numbers(b.Name(), iterable)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return starlark.None, nil
	}
	var total float64
	for _, value := range values {
		total += value
	}
	return starlark.Float(total / float64(len(values))), nil
}

func helperMedian(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &iterable); err != nil {
		return nil, err
	}
	values, err := numbers(b.Name(), iterable)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return starlark.None, nil
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return starlark.Float(values[mid]), nil
	}
	return starlark.Float((values[mid-1] + values[mid]) / 2), nil
}

func helperRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	digits := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &x, "ndigits?", &digits); err != nil {
		return nil, err
	}
	f, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("round: non-numeric value %s", x.Type())
	}
	scale := math.Pow(10, float64(digits))
	return starlark.Float(math.Round(f*scale) / scale), nil
}
