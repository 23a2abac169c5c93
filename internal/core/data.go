package core

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// TIDKey is the data key holding the worker unit's thread id.
const TIDKey = "tid"

// Data is the workload-scoped value map a state machine operates on.
// Nested objects are map[string]any; lists are []any.
type Data map[string]any

func (d Data) Get(key string) (any, bool) {
	v, ok := d[key]
	return v, ok
}

func (d Data) Set(key string, value any) {
	d[key] = value
}

// TID returns the thread id attached by the worker, or -1.
func (d Data) TID() int {
	if n, ok := d.Int(TIDKey); ok {
		return n
	}
	return -1
}

// Int returns the value under key as an int when it holds any integral number.
func (d Data) Int(key string) (int, bool) {
	switch v := d[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case uint:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}

// Copy returns a deep copy. Nested maps and slices are never shared.
func (d Data) Copy() Data {
	if d == nil {
		return Data{}
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = copyValue(v)
	}
	return out
}

// Merge deep-merges src into dst and returns dst. Values from src win; when
// both sides hold objects under the same key they are merged recursively.
// src is never aliased by the result.
func Merge(dst, src Data) Data {
	if dst == nil {
		dst = Data{}
	}
	for k, sv := range src {
		if sm, ok := asMap(sv); ok {
			if dm, ok := asMap(dst[k]); ok {
				dst[k] = map[string]any(Merge(Data(dm), Data(sm)))
				continue
			}
		}
		dst[k] = copyValue(sv)
	}
	return dst
}

// Decode fills out (a pointer to a struct) from the data, converting loosely
// typed values such as float64 counts into ints.
func (d Data) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrap(dec.Decode(map[string]any(d)), "decoding workload data")
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Data:
		return map[string]any(m), true
	}
	return nil, false
}

func copyValue(v any) any {
	if m, ok := asMap(v); ok {
		return map[string]any(Data(m).Copy())
	}
	if s, ok := v.([]any); ok {
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}
