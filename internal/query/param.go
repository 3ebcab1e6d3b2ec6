package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ParamType is the wire type of a query parameter.
type ParamType string

const (
	ParamBool    ParamType = "BOOL"
	ParamInt64   ParamType = "INT64"
	ParamFloat64 ParamType = "FLOAT64"
	ParamString  ParamType = "STRING"
)

// Param is a named scalar tagged with its wire type. Build one with
// BoolParam, IntParam, FloatParam or StringParam.
type Param struct {
	Name string
	Type ParamType

	b bool
	i int64
	f float64
	s string
}

func BoolParam(name string, value bool) Param {
	return Param{Name: name, Type: ParamBool, b: value}
}

func IntParam(name string, value int64) Param {
	return Param{Name: name, Type: ParamInt64, i: value}
}

func FloatParam(name string, value float64) Param {
	return Param{Name: name, Type: ParamFloat64, f: value}
}

func StringParam(name string, value string) Param {
	return Param{Name: name, Type: ParamString, s: value}
}

// Value returns the Go value matching Type.
func (p Param) Value() any {
	switch p.Type {
	case ParamBool:
		return p.b
	case ParamInt64:
		return p.i
	case ParamFloat64:
		return p.f
	default:
		return p.s
	}
}

func (p Param) String() string {
	switch p.Type {
	case ParamBool:
		return strconv.FormatBool(p.b)
	case ParamInt64:
		return strconv.FormatInt(p.i, 10)
	case ParamFloat64:
		return strconv.FormatFloat(p.f, 'g', -1, 64)
	default:
		return p.s
	}
}

// ParamFromValue converts a decoded JSON value. Integral numbers become
// INT64, other numbers FLOAT64; anything non-scalar is rejected.
func ParamFromValue(name string, value any) (Param, error) {
	switch typed := value.(type) {
	case bool:
		return BoolParam(name, typed), nil
	case int:
		return IntParam(name, int64(typed)), nil
	case int64:
		return IntParam(name, typed), nil
	case float64:
		if typed == math.Trunc(typed) && math.Abs(typed) < 1<<53 {
			return IntParam(name, int64(typed)), nil
		}
		return FloatParam(name, typed), nil
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return IntParam(name, i), nil
		}
		f, err := typed.Float64()
		if err != nil {
			return Param{}, fmt.Errorf("parameter %q: %w", name, err)
		}
		return FloatParam(name, f), nil
	case string:
		return StringParam(name, typed), nil
	default:
		return Param{}, fmt.Errorf("parameter %q: unsupported value type %T", name, value)
	}
}

// ParseParams decodes a JSON object of name -> scalar into params sorted by name.
func ParseParams(raw string) ([]Param, error) {
	if raw == "" {
		return nil, nil
	}
	values := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	return ParamsFromRaw(values)
}

func ParamsFromRaw(values map[string]json.RawMessage) ([]Param, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]Param, 0, len(names))
	for _, name := range names {
		decoder := json.NewDecoder(bytes.NewReader(values[name]))
		decoder.UseNumber()
		var decoded any
		if err := decoder.Decode(&decoded); err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		param, err := ParamFromValue(name, decoded)
		if err != nil {
			return nil, err
		}
		params = append(params, param)
	}
	return params, nil
}
