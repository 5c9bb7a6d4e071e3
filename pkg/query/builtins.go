package query

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

var builtinArity = map[string][]int{
	"length":         {0},
	"keys":           {0},
	"values":         {0},
	"has":            {1},
	"map":            {1},
	"select":         {1},
	"empty":          {0},
	"not":            {0},
	"type":           {0},
	"add":            {0},
	"tostring":       {0},
	"tonumber":       {0},
	"ascii_downcase": {0},
	"ascii_upcase":   {0},
	"split":          {1},
	"join":           {1},
	"test":           {1},
	"sub":            {2},
	"gsub":           {2},
	"startswith":     {1},
	"endswith":       {1},
	"ltrimstr":       {1},
	"rtrimstr":       {1},
	"contains":       {1},
	"first":          {0, 1},
	"last":           {0},
	"any":            {0},
	"all":            {0},
	"tojson":         {0},
	"fromjson":       {0},
	"error":          {0, 1},
	"to_entries":     {0},
	"from_entries":   {0},
	"sort":           {0},
	"unique":         {0},
	"flatten":        {0},
	"min":            {0},
	"max":            {0},
	"floor":          {0},
}

var regexBuiltins = map[string]struct{}{
	"test": {},
	"sub":  {},
	"gsub": {},
}

func callBuiltin(n *callNode, in Value) ([]Value, error) {
	switch n.name {
	case "empty":
		return nil, nil

	case "map":
		elems, err := iterate(in)
		if err != nil {
			return nil, err
		}
		out := List{}
		for _, e := range elems {
			vals, err := eval(n.args[0], e)
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
		}
		return []Value{out}, nil

	case "select":
		conds, err := eval(n.args[0], in)
		if err != nil {
			return nil, err
		}
		var out []Value
		for _, c := range conds {
			if Truthy(c) {
				out = append(out, in)
			}
		}
		return out, nil

	case "values":
		if _, isNull := in.(Null); isNull {
			return nil, nil
		}
		return []Value{in}, nil

	case "first":
		if len(n.args) == 1 {
			vals, err := eval(n.args[0], in)
			if err != nil || len(vals) == 0 {
				return nil, err
			}
			return vals[:1], nil
		}
		v, err := index(in, Number(0))
		if err != nil {
			return nil, err
		}
		return []Value{v}, nil

	case "last":
		v, err := index(in, Number(-1))
		if err != nil {
			return nil, err
		}
		return []Value{v}, nil

	case "error":
		if len(n.args) == 0 {
			return nil, runtimeError("%s", ToString(in))
		}
		msgs, err := eval(n.args[0], in)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			return nil, nil
		}
		return nil, runtimeError("%s", ToString(msgs[0]))
	}

	if len(n.args) == 0 {
		v, err := builtin0(n.name, in)
		if err != nil {
			return nil, err
		}
		return []Value{v}, nil
	}

	var out []Value
	err := eachArgs(n.args, in, nil, func(args []Value) error {
		v, err := builtinN(n, in, args)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// eachArgs calls fn once per combination of argument outputs.
func eachArgs(args []node, in Value, acc []Value, fn func([]Value) error) error {
	if len(args) == 0 {
		return fn(acc)
	}

	vals, err := eval(args[0], in)
	if err != nil {
		return err
	}
	for _, v := range vals {
		next := append(append([]Value{}, acc...), v)
		if err := eachArgs(args[1:], in, next, fn); err != nil {
			return err
		}
	}
	return nil
}

func builtin0(name string, in Value) (Value, error) {
	switch name {
	case "length":
		switch t := in.(type) {
		case Null:
			return Number(0), nil
		case Number:
			return Number(math.Abs(float64(t))), nil
		case String:
			return Number(utf8.RuneCountInString(string(t))), nil
		case List:
			return Number(len(t)), nil
		case Map:
			return Number(len(t)), nil
		}
		return nil, typeMismatch("%s has no length", in.Type())

	case "keys":
		switch t := in.(type) {
		case Map:
			return stringList(t.SortedKeys()), nil
		case List:
			out := make(List, len(t))
			for i := range t {
				out[i] = Number(i)
			}
			return out, nil
		}
		return nil, typeMismatch("%s has no keys", in.Type())

	case "not":
		return Bool(!Truthy(in)), nil

	case "type":
		return String(in.Type()), nil

	case "add":
		elems, err := iterate(in)
		if err != nil {
			return nil, err
		}
		var acc Value = Null{}
		for _, e := range elems {
			acc, err = add(acc, e)
			if err != nil {
				return nil, err
			}
		}
		return acc, nil

	case "tostring":
		return String(ToString(in)), nil

	case "tonumber":
		switch t := in.(type) {
		case Number:
			return t, nil
		case String:
			f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
			if err != nil {
				return nil, runtimeError("cannot parse %q as a number", string(t))
			}
			return Number(f), nil
		}
		return nil, typeMismatch("%s cannot be parsed as a number", in.Type())

	case "ascii_downcase", "ascii_upcase":
		s, ok := in.(String)
		if !ok {
			return nil, typeMismatch("%s cannot be case converted", in.Type())
		}
		if name == "ascii_downcase" {
			return String(strings.ToLower(string(s))), nil
		}
		return String(strings.ToUpper(string(s))), nil

	case "any", "all":
		elems, err := iterate(in)
		if err != nil {
			return nil, err
		}
		want := name == "any"
		for _, e := range elems {
			if Truthy(e) == want {
				return Bool(want), nil
			}
		}
		return Bool(!want), nil

	case "tojson":
		return String(toJSON(in)), nil

	case "fromjson":
		s, ok := in.(String)
		if !ok {
			return nil, typeMismatch("%s cannot be parsed as JSON", in.Type())
		}
		var v interface{}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, runtimeError("invalid JSON text: %s", err)
		}
		return FromNative(v), nil

	case "to_entries":
		m, ok := in.(Map)
		if !ok {
			return nil, typeMismatch("%s has no entries", in.Type())
		}
		out := make(List, 0, len(m))
		for _, k := range m.SortedKeys() {
			out = append(out, Map{"key": String(k), "value": m[k]})
		}
		return out, nil

	case "from_entries":
		l, ok := in.(List)
		if !ok {
			return nil, typeMismatch("%s cannot be turned into an object", in.Type())
		}
		out := Map{}
		for _, e := range l {
			entry, ok := e.(Map)
			if !ok {
				return nil, typeMismatch("entries must be objects, not %s", e.Type())
			}
			k := entry["key"]
			if k == nil {
				k = entry["name"]
			}
			switch key := k.(type) {
			case String:
				out[string(key)] = valueOrNull(entry["value"])
			case Number, Bool:
				out[ToString(key)] = valueOrNull(entry["value"])
			default:
				return nil, typeMismatch("entry keys must be strings")
			}
		}
		return out, nil

	case "sort", "unique":
		l, ok := in.(List)
		if !ok {
			return nil, typeMismatch("%s cannot be sorted", in.Type())
		}
		out := make(List, len(l))
		copy(out, l)
		sort.SliceStable(out, func(i, j int) bool { return Compare(out[i], out[j]) < 0 })
		if name == "unique" {
			uniq := List{}
			for i, v := range out {
				if i == 0 || !Equal(v, out[i-1]) {
					uniq = append(uniq, v)
				}
			}
			return uniq, nil
		}
		return out, nil

	case "min", "max":
		l, ok := in.(List)
		if !ok {
			return nil, typeMismatch("%s has no %s", in.Type(), name)
		}
		if len(l) == 0 {
			return Null{}, nil
		}
		best := l[0]
		for _, v := range l[1:] {
			c := Compare(v, best)
			if (name == "min" && c < 0) || (name == "max" && c >= 0) {
				best = v
			}
		}
		return best, nil

	case "flatten":
		l, ok := in.(List)
		if !ok {
			return nil, typeMismatch("%s cannot be flattened", in.Type())
		}
		return flatten(l), nil

	case "floor":
		n, ok := in.(Number)
		if !ok {
			return nil, typeMismatch("%s number required", in.Type())
		}
		return Number(math.Floor(float64(n))), nil
	}

	return nil, runtimeError("%s/0 is not defined", name)
}

func builtinN(n *callNode, in Value, args []Value) (Value, error) {
	switch n.name {
	case "has":
		switch t := in.(type) {
		case Map:
			k, ok := args[0].(String)
			if !ok {
				return nil, typeMismatch("cannot check whether object has a key of type %s", args[0].Type())
			}
			_, found := t[string(k)]
			return Bool(found), nil
		case List:
			k, ok := args[0].(Number)
			if !ok {
				return nil, typeMismatch("cannot check whether array has a key of type %s", args[0].Type())
			}
			return Bool(k >= 0 && float64(k) < float64(len(t))), nil
		}
		return nil, typeMismatch("cannot check whether %s has a key", in.Type())

	case "split":
		s, sok := in.(String)
		sep, pok := args[0].(String)
		if !sok || !pok {
			return nil, typeMismatch("split input and separator must be strings")
		}
		return splitString(s, sep), nil

	case "join":
		elems, err := iterate(in)
		if err != nil {
			return nil, err
		}
		sep, ok := args[0].(String)
		if !ok {
			return nil, typeMismatch("join separator must be a string, not %s", args[0].Type())
		}
		parts := make([]string, 0, len(elems))
		for _, e := range elems {
			switch v := e.(type) {
			case Null:
				parts = append(parts, "")
			case String:
				parts = append(parts, string(v))
			case Number, Bool:
				parts = append(parts, ToString(v))
			default:
				return nil, typeMismatch("cannot join with %s", e.Type())
			}
		}
		return String(strings.Join(parts, string(sep))), nil

	case "test", "sub", "gsub":
		s, ok := in.(String)
		if !ok {
			return nil, typeMismatch("%s cannot be matched, as it is not a string", in.Type())
		}
		re, err := regexFor(n, args[0])
		if err != nil {
			return nil, err
		}
		if n.name == "test" {
			return Bool(re.MatchString(string(s))), nil
		}
		repl, ok := args[1].(String)
		if !ok {
			return nil, typeMismatch("replacement must be a string, not %s", args[1].Type())
		}
		if n.name == "gsub" {
			return String(re.ReplaceAllLiteralString(string(s), string(repl))), nil
		}
		loc := re.FindStringIndex(string(s))
		if loc == nil {
			return s, nil
		}
		return String(string(s)[:loc[0]] + string(repl) + string(s)[loc[1]:]), nil

	case "startswith", "endswith":
		s, sok := in.(String)
		a, aok := args[0].(String)
		if !sok || !aok {
			return nil, typeMismatch("%s() requires string inputs", n.name)
		}
		if n.name == "startswith" {
			return Bool(strings.HasPrefix(string(s), string(a))), nil
		}
		return Bool(strings.HasSuffix(string(s), string(a))), nil

	case "ltrimstr", "rtrimstr":
		s, sok := in.(String)
		a, aok := args[0].(String)
		if !sok || !aok {
			return in, nil
		}
		if n.name == "ltrimstr" {
			return String(strings.TrimPrefix(string(s), string(a))), nil
		}
		return String(strings.TrimSuffix(string(s), string(a))), nil

	case "contains":
		ok, err := contains(in, args[0])
		if err != nil {
			return nil, err
		}
		return Bool(ok), nil
	}

	return nil, runtimeError("%s/%d is not defined", n.name, len(args))
}

func regexFor(n *callNode, pattern Value) (*regexp.Regexp, error) {
	if n.re != nil {
		return n.re, nil
	}
	p, ok := pattern.(String)
	if !ok {
		return nil, typeMismatch("%s cannot be used as a regular expression", pattern.Type())
	}
	re, err := regexp.Compile(string(p))
	if err != nil {
		return nil, runtimeError("invalid regular expression %q: %s", string(p), err)
	}
	return re, nil
}

func contains(a, b Value) (bool, error) {
	if typeOrder(a) != typeOrder(b) {
		if _, ok := a.(Bool); ok {
			if _, ok := b.(Bool); ok {
				return Equal(a, b), nil
			}
		}
		return false, typeMismatch("%s and %s cannot have their containment checked", a.Type(), b.Type())
	}

	switch x := a.(type) {
	case String:
		return strings.Contains(string(x), string(b.(String))), nil
	case List:
		for _, want := range b.(List) {
			found := false
			for _, have := range x {
				if ok, _ := contains(have, want); ok {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		}
		return true, nil
	case Map:
		for k, want := range b.(Map) {
			have, ok := x[k]
			if !ok {
				return false, nil
			}
			if ok, _ := contains(have, want); !ok {
				return false, nil
			}
		}
		return true, nil
	}

	return Equal(a, b), nil
}

func flatten(l List) List {
	out := List{}
	for _, v := range l {
		if inner, ok := v.(List); ok {
			out = append(out, flatten(inner)...)
			continue
		}
		out = append(out, v)
	}
	return out
}

func valueOrNull(v Value) Value {
	if v == nil {
		return Null{}
	}
	return v
}
