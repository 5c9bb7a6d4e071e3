package query

import (
	"math"
	"strings"
)

func eval(n node, in Value) ([]Value, error) {
	switch t := n.(type) {
	case *identityNode:
		return []Value{in}, nil

	case *literalNode:
		return []Value{t.value}, nil

	case *indexNode:
		return evalIndex(t, in)

	case *sliceNode:
		return evalSlice(t, in)

	case *iterateNode:
		targets, err := eval(t.target, in)
		if err != nil {
			return nil, err
		}
		var out []Value
		for _, target := range targets {
			vals, err := iterate(target)
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
		}
		return out, nil

	case *tryNode:
		out, err := eval(t.body, in)
		if err != nil {
			return nil, nil
		}
		return out, nil

	case *stringNode:
		return evalString(t.parts, in, "")

	case *arrayNode:
		if t.body == nil {
			return []Value{List{}}, nil
		}
		vals, err := eval(t.body, in)
		if err != nil {
			return nil, err
		}
		l := make(List, len(vals))
		copy(l, vals)
		return []Value{l}, nil

	case *objectNode:
		return evalObject(t.entries, in, Map{})

	case *pipeNode:
		lefts, err := eval(t.left, in)
		if err != nil {
			return nil, err
		}
		var out []Value
		for _, l := range lefts {
			vals, err := eval(t.right, l)
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
		}
		return out, nil

	case *commaNode:
		lefts, err := eval(t.left, in)
		if err != nil {
			return nil, err
		}
		rights, err := eval(t.right, in)
		if err != nil {
			return nil, err
		}
		return append(lefts, rights...), nil

	case *binaryNode:
		return evalBinary(t, in)

	case *andNode:
		return evalLogical(t.left, t.right, in, false)

	case *orNode:
		return evalLogical(t.left, t.right, in, true)

	case *altNode:
		lefts, err := eval(t.left, in)
		if err == nil {
			var out []Value
			for _, l := range lefts {
				if Truthy(l) {
					out = append(out, l)
				}
			}
			if len(out) > 0 {
				return out, nil
			}
		}
		return eval(t.right, in)

	case *negNode:
		vals, err := eval(t.operand, in)
		if err != nil {
			return nil, err
		}
		out := make([]Value, len(vals))
		for i, v := range vals {
			n, ok := v.(Number)
			if !ok {
				return nil, typeMismatch("%s cannot be negated", v.Type())
			}
			out[i] = -n
		}
		return out, nil

	case *ifNode:
		return evalIf(t, 0, in)

	case *callNode:
		return callBuiltin(t, in)
	}

	return nil, runtimeError("unsupported expression node %T", n)
}

func evalIndex(n *indexNode, in Value) ([]Value, error) {
	targets, err := eval(n.target, in)
	if err != nil {
		return nil, err
	}
	keys, err := eval(n.key, in)
	if err != nil {
		return nil, err
	}

	var out []Value
	for _, target := range targets {
		for _, key := range keys {
			v, err := index(target, key)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// index never fails on null or absent keys; that is what keeps path
// navigation over partial provider payloads safe.
func index(target, key Value) (Value, error) {
	switch t := target.(type) {
	case Null:
		switch key.(type) {
		case String, Number, Null:
			return Null{}, nil
		}
	case Map:
		if k, ok := key.(String); ok {
			if v, ok := t[string(k)]; ok {
				return v, nil
			}
			return Null{}, nil
		}
	case List:
		if k, ok := key.(Number); ok {
			i := int(math.Floor(float64(k)))
			if i < 0 {
				i += len(t)
			}
			if i < 0 || i >= len(t) {
				return Null{}, nil
			}
			return t[i], nil
		}
	}

	return nil, typeMismatch("cannot index %s with %s", target.Type(), key.Type())
}

func iterate(v Value) ([]Value, error) {
	switch t := v.(type) {
	case Null:
		return nil, nil
	case List:
		return []Value(t), nil
	case Map:
		out := make([]Value, 0, len(t))
		for _, k := range t.SortedKeys() {
			out = append(out, t[k])
		}
		return out, nil
	}
	return nil, typeMismatch("cannot iterate over %s", v.Type())
}

func evalSlice(n *sliceNode, in Value) ([]Value, error) {
	targets, err := eval(n.target, in)
	if err != nil {
		return nil, err
	}

	bound := func(b node) (Value, error) {
		if b == nil {
			return Null{}, nil
		}
		vals, err := eval(b, in)
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			return Null{}, nil
		}
		return vals[0], nil
	}

	from, err := bound(n.from)
	if err != nil {
		return nil, err
	}
	to, err := bound(n.to)
	if err != nil {
		return nil, err
	}

	out := make([]Value, 0, len(targets))
	for _, target := range targets {
		v, err := slice(target, from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func slice(target, from, to Value) (Value, error) {
	var length int
	switch t := target.(type) {
	case Null:
		return Null{}, nil
	case List:
		length = len(t)
	case String:
		length = len([]rune(string(t)))
	default:
		return nil, typeMismatch("cannot slice %s", target.Type())
	}

	clamp := func(v Value, def int) (int, error) {
		switch b := v.(type) {
		case Null:
			return def, nil
		case Number:
			i := int(math.Floor(float64(b)))
			if i < 0 {
				i += length
			}
			if i < 0 {
				i = 0
			}
			if i > length {
				i = length
			}
			return i, nil
		}
		return 0, typeMismatch("slice bounds must be numbers, not %s", v.Type())
	}

	start, err := clamp(from, 0)
	if err != nil {
		return nil, err
	}
	end, err := clamp(to, length)
	if err != nil {
		return nil, err
	}
	if end < start {
		end = start
	}

	if s, ok := target.(String); ok {
		return String(string([]rune(string(s))[start:end])), nil
	}

	l := target.(List)
	out := make(List, end-start)
	copy(out, l[start:end])
	return out, nil
}

// evalString produces one string per combination of interpolated outputs.
func evalString(parts []node, in Value, prefix string) ([]Value, error) {
	if len(parts) == 0 {
		return []Value{String(prefix)}, nil
	}

	vals, err := eval(parts[0], in)
	if err != nil {
		return nil, err
	}

	var out []Value
	for _, v := range vals {
		rest, err := evalString(parts[1:], in, prefix+ToString(v))
		if err != nil {
			return nil, err
		}
		out = append(out, rest...)
	}
	return out, nil
}

func evalObject(entries []objectEntry, in Value, acc Map) ([]Value, error) {
	if len(entries) == 0 {
		return []Value{acc}, nil
	}

	keys, err := eval(entries[0].key, in)
	if err != nil {
		return nil, err
	}
	vals, err := eval(entries[0].value, in)
	if err != nil {
		return nil, err
	}

	var out []Value
	for _, k := range keys {
		ks, ok := k.(String)
		if !ok {
			return nil, typeMismatch("object keys must be strings, not %s", k.Type())
		}
		for _, v := range vals {
			next := make(Map, len(acc)+1)
			for ak, av := range acc {
				next[ak] = av
			}
			next[string(ks)] = v
			rest, err := evalObject(entries[1:], in, next)
			if err != nil {
				return nil, err
			}
			out = append(out, rest...)
		}
	}
	return out, nil
}

func evalLogical(left, right node, in Value, isOr bool) ([]Value, error) {
	lefts, err := eval(left, in)
	if err != nil {
		return nil, err
	}

	var out []Value
	for _, l := range lefts {
		lt := Truthy(l)
		if isOr && lt {
			out = append(out, Bool(true))
			continue
		}
		if !isOr && !lt {
			out = append(out, Bool(false))
			continue
		}
		rights, err := eval(right, in)
		if err != nil {
			return nil, err
		}
		for _, r := range rights {
			out = append(out, Bool(Truthy(r)))
		}
	}
	return out, nil
}

func evalIf(n *ifNode, branch int, in Value) ([]Value, error) {
	if branch >= len(n.branches) {
		if n.orElse == nil {
			return []Value{in}, nil
		}
		return eval(n.orElse, in)
	}

	conds, err := eval(n.branches[branch].cond, in)
	if err != nil {
		return nil, err
	}

	var out []Value
	for _, c := range conds {
		var vals []Value
		if Truthy(c) {
			vals, err = eval(n.branches[branch].then, in)
		} else {
			vals, err = evalIf(n, branch+1, in)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

func evalBinary(n *binaryNode, in Value) ([]Value, error) {
	rights, err := eval(n.right, in)
	if err != nil {
		return nil, err
	}
	lefts, err := eval(n.left, in)
	if err != nil {
		return nil, err
	}

	var out []Value
	for _, r := range rights {
		for _, l := range lefts {
			v, err := binaryOp(n.op, l, r)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func binaryOp(op tokenType, l, r Value) (Value, error) {
	switch op {
	case tokenEq:
		return Bool(Equal(l, r)), nil
	case tokenNeq:
		return Bool(!Equal(l, r)), nil
	case tokenLt:
		return Bool(Compare(l, r) < 0), nil
	case tokenLte:
		return Bool(Compare(l, r) <= 0), nil
	case tokenGt:
		return Bool(Compare(l, r) > 0), nil
	case tokenGte:
		return Bool(Compare(l, r) >= 0), nil
	case tokenPlus:
		return add(l, r)
	case tokenMinus:
		return subtract(l, r)
	case tokenStar:
		return multiply(l, r)
	case tokenSlash:
		return divide(l, r)
	case tokenPercent:
		return modulo(l, r)
	}
	return nil, runtimeError("unknown operator")
}

func add(l, r Value) (Value, error) {
	if _, ok := l.(Null); ok {
		return r, nil
	}
	if _, ok := r.(Null); ok {
		return l, nil
	}

	switch a := l.(type) {
	case Number:
		if b, ok := r.(Number); ok {
			return a + b, nil
		}
	case String:
		if b, ok := r.(String); ok {
			return a + b, nil
		}
	case List:
		if b, ok := r.(List); ok {
			out := make(List, 0, len(a)+len(b))
			out = append(out, a...)
			return append(out, b...), nil
		}
	case Map:
		if b, ok := r.(Map); ok {
			out := make(Map, len(a)+len(b))
			for k, v := range a {
				out[k] = v
			}
			for k, v := range b {
				out[k] = v
			}
			return out, nil
		}
	}

	return nil, typeMismatch("%s and %s cannot be added", l.Type(), r.Type())
}

func subtract(l, r Value) (Value, error) {
	switch a := l.(type) {
	case Number:
		if b, ok := r.(Number); ok {
			return a - b, nil
		}
	case List:
		if b, ok := r.(List); ok {
			out := List{}
			for _, e := range a {
				keep := true
				for _, x := range b {
					if Equal(e, x) {
						keep = false
						break
					}
				}
				if keep {
					out = append(out, e)
				}
			}
			return out, nil
		}
	}

	return nil, typeMismatch("%s and %s cannot be subtracted", l.Type(), r.Type())
}

func multiply(l, r Value) (Value, error) {
	switch a := l.(type) {
	case Number:
		switch b := r.(type) {
		case Number:
			return a * b, nil
		case String:
			return repeat(b, a)
		}
	case String:
		if b, ok := r.(Number); ok {
			return repeat(a, b)
		}
	case Map:
		if b, ok := r.(Map); ok {
			return deepMerge(a, b), nil
		}
	}

	return nil, typeMismatch("%s and %s cannot be multiplied", l.Type(), r.Type())
}

// maxRepeatLen caps the length of a string built by string * number.
const maxRepeatLen = 1 << 20

func repeat(s String, n Number) (Value, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, runtimeError("cannot repeat a string %v times", f)
	}
	if f <= 0 {
		return Null{}, nil
	}

	count := math.Ceil(f)
	if count*float64(len(s)) > maxRepeatLen {
		return nil, runtimeError(
			"repeating a string of length %d %v times exceeds %d bytes",
			len(s),
			count,
			maxRepeatLen,
		)
	}

	return String(strings.Repeat(string(s), int(count))), nil
}

func deepMerge(a, b Map) Map {
	out := make(Map, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		am, aok := out[k].(Map)
		bm, bok := v.(Map)
		if aok && bok {
			out[k] = deepMerge(am, bm)
			continue
		}
		out[k] = v
	}
	return out
}

func divide(l, r Value) (Value, error) {
	switch a := l.(type) {
	case Number:
		if b, ok := r.(Number); ok {
			if b == 0 {
				return nil, runtimeError("%s and %s cannot be divided because the divisor is zero", formatNumber(float64(a)), formatNumber(float64(b)))
			}
			return a / b, nil
		}
	case String:
		if b, ok := r.(String); ok {
			return splitString(a, b), nil
		}
	}

	return nil, typeMismatch("%s and %s cannot be divided", l.Type(), r.Type())
}

func modulo(l, r Value) (Value, error) {
	a, aok := l.(Number)
	b, bok := r.(Number)
	if !aok || !bok {
		return nil, typeMismatch("%s and %s cannot be divided", l.Type(), r.Type())
	}

	bi := int64(b)
	if bi == 0 {
		return nil, runtimeError("%s and %s cannot be divided because the divisor is zero", formatNumber(float64(a)), formatNumber(float64(b)))
	}
	return Number(int64(a) % bi), nil
}

func splitString(s, sep String) List {
	if s == "" {
		return List{}
	}
	parts := strings.Split(string(s), string(sep))
	out := make(List, len(parts))
	for i, p := range parts {
		out[i] = String(p)
	}
	return out
}
