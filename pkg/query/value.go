package query

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/spf13/cast"
)

// Value is the result of evaluating an expression. Only Null, Bool, Number,
// String, List and Map implement it.
type Value interface {
	Type() string
	Native() interface{}
}

type Null struct{}

type Bool bool

type Number float64

type String string

type List []Value

type Map map[string]Value

func (Null) Type() string   { return "null" }
func (Bool) Type() string   { return "boolean" }
func (Number) Type() string { return "number" }
func (String) Type() string { return "string" }
func (List) Type() string   { return "array" }
func (Map) Type() string    { return "object" }

func (Null) Native() interface{}     { return nil }
func (b Bool) Native() interface{}   { return bool(b) }
func (n Number) Native() interface{} { return float64(n) }
func (s String) Native() interface{} { return string(s) }

func (l List) Native() interface{} {
	out := make([]interface{}, len(l))
	for i, v := range l {
		out[i] = v.Native()
	}
	return out
}

func (m Map) Native() interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v.Native()
	}
	return out
}

// SortedKeys returns the map keys in byte order, which is the iteration
// order used by keys, values and object output.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromNative converts decoded JSON or YAML data into a Value. Integer types,
// json.Number and map[interface{}]interface{} (older YAML decoders) are
// accepted; anything else is rendered with fmt.
func FromNative(v interface{}) Value {
	switch u := v.(type) {
	case nil:
		return Null{}
	case Value:
		return u
	case bool:
		return Bool(u)
	case string:
		return String(u)
	case float64:
		return Number(u)
	case json.Number:
		f, err := u.Float64()
		if err != nil {
			return String(u.String())
		}
		return Number(f)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32:
		return Number(cast.ToFloat64(u))
	case []interface{}:
		l := make(List, len(u))
		for i, e := range u {
			l[i] = FromNative(e)
		}
		return l
	case []string:
		l := make(List, len(u))
		for i, e := range u {
			l[i] = String(e)
		}
		return l
	case []map[string]interface{}:
		l := make(List, len(u))
		for i, e := range u {
			l[i] = FromNative(e)
		}
		return l
	case map[string]interface{}:
		m := make(Map, len(u))
		for k, e := range u {
			m[k] = FromNative(e)
		}
		return m
	case map[interface{}]interface{}:
		m := make(Map, len(u))
		for k, e := range u {
			m[cast.ToString(k)] = FromNative(e)
		}
		return m
	}

	return String(fmt.Sprintf("%v", v))
}

// Truthy follows jq: only false and null are falsy.
func Truthy(v Value) bool {
	switch u := v.(type) {
	case Null:
		return false
	case Bool:
		return bool(u)
	}
	return true
}

// ToString renders a value the way string interpolation and tostring do:
// strings are kept as is, everything else is encoded as JSON.
func ToString(v Value) string {
	if s, ok := v.(String); ok {
		return string(s)
	}
	return toJSON(v)
}

func toJSON(v Value) string {
	if n, ok := v.(Number); ok {
		return formatNumber(float64(n))
	}
	b, err := json.Marshal(v.Native())
	if err != nil {
		return "null"
	}
	return string(b)
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e17 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', 17, 64)
}

// typeOrder is jq's ordering of values of different types.
func typeOrder(v Value) int {
	switch u := v.(type) {
	case Null:
		return 0
	case Bool:
		if u {
			return 2
		}
		return 1
	case Number:
		return 3
	case String:
		return 4
	case List:
		return 5
	case Map:
		return 6
	}
	return 7
}

// Compare orders two values: negative when a < b, zero when equal.
func Compare(a, b Value) int {
	oa, ob := typeOrder(a), typeOrder(b)
	if oa != ob {
		return oa - ob
	}

	switch u := a.(type) {
	case Number:
		w := b.(Number)
		switch {
		case u < w:
			return -1
		case u > w:
			return 1
		}
		return 0

	case String:
		w := b.(String)
		switch {
		case u < w:
			return -1
		case u > w:
			return 1
		}
		return 0

	case List:
		w := b.(List)
		for i := 0; i < len(u) && i < len(w); i++ {
			if c := Compare(u[i], w[i]); c != 0 {
				return c
			}
		}
		return len(u) - len(w)

	case Map:
		w := b.(Map)
		ka, kb := u.SortedKeys(), w.SortedKeys()
		if c := Compare(stringList(ka), stringList(kb)); c != 0 {
			return c
		}
		for _, k := range ka {
			if c := Compare(u[k], w[k]); c != 0 {
				return c
			}
		}
		return 0
	}

	return 0
}

// Equal reports deep equality.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

func stringList(keys []string) List {
	l := make(List, len(keys))
	for i, k := range keys {
		l[i] = String(k)
	}
	return l
}
