package query

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseJSON(t *testing.T, doc string) Value {
	t.Helper()

	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(doc), &v))
	return FromNative(v)
}

func run(t *testing.T, src string, input Value) Value {
	t.Helper()

	e, err := Compile(src)
	require.NoError(t, err, "compile %q", src)

	v, err := e.Evaluate(input)
	require.NoError(t, err, "evaluate %q", src)
	return v
}

const projectDoc = `{
  "path_with_namespace": "team / repo",
  "name": "repo",
  "id": 42,
  "web_link": "http://x",
  "description": "d",
  "archived": false,
  "topics": ["go", "sync"],
  "namespace": {"name": "team", "full_path": "team"},
  "members": [{"username": "ann", "level": 40}, {"username": "bob", "level": 30}]
}`

func TestEvaluate_PathNavigation(t *testing.T) {
	input := mustParseJSON(t, projectDoc)

	tests := []struct {
		name     string
		src      string
		expected Value
	}{
		{"identity field", ".name", String("repo")},
		{"nested field", ".namespace.full_path", String("team")},
		{"quoted key", `."web_link"`, String("http://x")},
		{"bracket key", `.["description"]`, String("d")},
		{"array index", ".topics[0]", String("go")},
		{"negative index", ".topics[-1]", String("sync")},
		{"out of range index", ".topics[9]", Null{}},
		{"missing key", ".missing", Null{}},
		{"missing intermediate keys", ".missing.deeper.still", Null{}},
		{"index into null", ".missing[0]", Null{}},
		{"number", ".id", Number(42)},
		{"boolean", ".archived", Bool(false)},
		{"slice", ".topics[1:]", List{String("sync")}},
		{"string slice", ".name[0:2]", String("re")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, run(t, tt.src, input))
		})
	}
}

func TestEvaluate_NullNavigationNeverFails(t *testing.T) {
	paths := []string{".a", ".a.b", ".a.b.c", ".a[0].b", `.a["b"].c`, ".a[]", ".a[].b"}
	inputs := []Value{Null{}, Map{}, Map{"a": Null{}}, Map{"b": Number(1)}}

	for _, src := range paths {
		e, err := Compile(src)
		require.NoError(t, err)

		for _, in := range inputs {
			_, err := e.Evaluate(in)
			assert.NoError(t, err, "%s on %v", src, in)
		}
	}
}

func TestEvaluate_Iteration(t *testing.T) {
	input := mustParseJSON(t, projectDoc)

	e, err := Compile(".members[].username")
	require.NoError(t, err)

	all, err := e.EvaluateAll(input)
	require.NoError(t, err)
	assert.Equal(t, []Value{String("ann"), String("bob")}, all)

	assert.Equal(t,
		List{String("ann"), String("bob")},
		run(t, "[.members[].username]", input),
	)
	assert.Equal(t,
		List{String("ann")},
		run(t, "[.members[] | select(.level >= 40) | .username]", input),
	)
	assert.Equal(t, List{}, run(t, "[.nothing[]]", input))
}

func TestEvaluate_Construction(t *testing.T) {
	input := mustParseJSON(t, projectDoc)

	v := run(t, `{url: .web_link, "ns": .namespace.name, name, (.name): 1}`, input)
	assert.Equal(t, Map{
		"url":  String("http://x"),
		"ns":   String("team"),
		"name": String("repo"),
		"repo": Number(1),
	}, v)

	assert.Equal(t, List{Number(1), String("a"), Null{}}, run(t, `[1, "a", null]`, input))
	assert.Equal(t, List{}, run(t, "[]", input))
	assert.Equal(t, Map{}, run(t, "{}", input))
}

func TestEvaluate_StringInterpolation(t *testing.T) {
	input := mustParseJSON(t, projectDoc)

	assert.Equal(t, String("team/repo#42"), run(t, `"\(.namespace.name)/\(.name)#\(.id)"`, input))
	assert.Equal(t, String("topics: [\"go\",\"sync\"]"), run(t, `"topics: \(.topics)"`, input))
	assert.Equal(t, String("x(y)"), run(t, `"x\("(y)")"`, input))
}

func TestEvaluate_Operators(t *testing.T) {
	input := mustParseJSON(t, projectDoc)

	tests := []struct {
		src      string
		expected Value
	}{
		{".id + 1", Number(43)},
		{".id - 2 * 3", Number(36)},
		{"(.id - 2) / 4", Number(10)},
		{".id % 5", Number(2)},
		{".name + \"-x\"", String("repo-x")},
		{".missing + 1", Number(1)},
		{".topics + [\"x\"]", List{String("go"), String("sync"), String("x")}},
		{".id == 42", Bool(true)},
		{".name != \"repo\"", Bool(false)},
		{".id > 41 and .id < 43", Bool(true)},
		{".archived or .id == 1", Bool(false)},
		{".archived | not", Bool(true)},
		{".missing // \"fallback\"", String("fallback")},
		{".name // \"fallback\"", String("repo")},
		{"-.id", Number(-42)},
		{"if .archived then \"old\" elif .id > 10 then \"big\" else \"small\" end", String("big")},
		{"if .archived then 1 end", input},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.expected, run(t, tt.src, input))
		})
	}
}

func TestEvaluate_Builtins(t *testing.T) {
	input := mustParseJSON(t, projectDoc)

	tests := []struct {
		src      string
		expected Value
	}{
		{`.path_with_namespace | gsub(" "; "")`, String("team/repo")},
		{`.path_with_namespace | sub(" "; "")`, String("team/ repo")},
		{`.name | test("^re")`, Bool(true)},
		{".topics | length", Number(2)},
		{".name | length", Number(4)},
		{".missing | length", Number(0)},
		{".namespace | keys", List{String("full_path"), String("name")}},
		{`.namespace | has("name")`, Bool(true)},
		{`.topics | join(",")`, String("go,sync")},
		{`"a,b" | split(",")`, List{String("a"), String("b")}},
		{".members | map(.level) | add", Number(70)},
		{".topics | first", String("go")},
		{".topics | last", String("sync")},
		{".id | tostring", String("42")},
		{`"12" | tonumber`, Number(12)},
		{".name | ascii_upcase", String("REPO")},
		{`.name | startswith("re")`, Bool(true)},
		{`.name | endswith("po")`, Bool(true)},
		{`.name | ltrimstr("re")`, String("po")},
		{`.topics | contains(["go"])`, Bool(true)},
		{".namespace | type", String("object")},
		{"[.members[].level] | max", Number(40)},
		{"[3, 1, 2, 1] | unique", List{Number(1), Number(2), Number(3)}},
		{"[[1, [2]], 3] | flatten", List{Number(1), Number(2), Number(3)}},
		{".namespace | to_entries | map(.key)", List{String("full_path"), String("name")}},
		{`[{"key": "a", "value": 1}] | from_entries`, Map{"a": Number(1)}},
		{"[true, false] | any", Bool(true)},
		{"[true, false] | all", Bool(false)},
		{"first(.topics[])", String("go")},
		{`.topics | tojson`, String(`["go","sync"]`)},
		{"[.missing, .name | values]", List{String("repo")}},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.expected, run(t, tt.src, input))
		})
	}
}

func TestEvaluate_TypeMismatch(t *testing.T) {
	input := mustParseJSON(t, projectDoc)

	for _, src := range []string{
		".name + 1",
		".id + \"x\"",
		".name.first",
		".id[0]",
		".name[]",
		".topics - \"go\"",
		"-.name",
	} {
		t.Run(src, func(t *testing.T) {
			e, err := Compile(src)
			require.NoError(t, err)

			_, err = e.Evaluate(input)
			require.Error(t, err)

			var ee *EvalError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, ErrTypeMismatch, ee.Kind)
		})
	}
}

func TestEvaluate_RuntimeErrors(t *testing.T) {
	for _, src := range []string{".id / 0", `error("boom")`, `"abc" | tonumber`} {
		t.Run(src, func(t *testing.T) {
			e, err := Compile(src)
			require.NoError(t, err)

			_, err = e.Evaluate(Map{"id": Number(1)})

			var ee *EvalError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, ErrRuntime, ee.Kind)
		})
	}
}

func TestEvaluate_TrySuppressesErrors(t *testing.T) {
	v := run(t, `[.name.first?, "ok"]`, Map{"name": String("x")})
	assert.Equal(t, List{String("ok")}, v)

	v = run(t, `(.name + 1)? // "fallback"`, Map{"name": String("x")})
	assert.Equal(t, String("fallback"), v)
}

func TestEvaluate_NoOutputIsNull(t *testing.T) {
	assert.Equal(t, Null{}, run(t, "empty", Map{}))
	assert.Equal(t, Null{}, run(t, ".[] | select(. > 5)", List{Number(1)}))
}

func TestCompile_SyntaxErrors(t *testing.T) {
	for _, src := range []string{
		"",
		".a |",
		"{a: }",
		"[1, 2",
		`"unterminated`,
		"unknownfn",
		"length(1)",
		".a = 1",
		"if . then 1",
		`test("(")`,
		`"\(  )"`,
		"1 == 2 == 3",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Compile(src)
			require.Error(t, err)

			var se *SyntaxError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, src, se.Source)
		})
	}
}

func TestExpr_Constant(t *testing.T) {
	e := MustCompile(`"project"`)
	v, ok := e.Constant()
	require.True(t, ok)
	assert.Equal(t, String("project"), v)

	_, ok = MustCompile(".kind").Constant()
	assert.False(t, ok)

	_, ok = MustCompile(`"\(.kind)"`).Constant()
	assert.False(t, ok)
}

func TestCompiler_CachesBySource(t *testing.T) {
	c, err := NewCompiler(8)
	require.NoError(t, err)

	a, err := c.Compile(".name")
	require.NoError(t, err)
	b, err := c.Compile(".name")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, c.Len())

	_, err = c.Compile(".name |")
	require.Error(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestEvaluate_ConcurrentUse(t *testing.T) {
	e := MustCompile(`{id: .id, name: (.name | ascii_upcase)}`)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := e.Evaluate(Map{"id": Number(i), "name": String("n")})
			assert.NoError(t, err)
			assert.Equal(t, Map{"id": Number(i), "name": String("N")}, v)
		}(i)
	}
	wg.Wait()
}

func TestFromNative(t *testing.T) {
	v := FromNative(map[string]interface{}{
		"i":    int(3),
		"i64":  int64(4),
		"n":    json.Number("5.5"),
		"list": []interface{}{"a", nil, true},
		"yaml": map[interface{}]interface{}{"k": "v"},
	})

	assert.Equal(t, Map{
		"i":    Number(3),
		"i64":  Number(4),
		"n":    Number(5.5),
		"list": List{String("a"), Null{}, Bool(true)},
		"yaml": Map{"k": String("v")},
	}, v)

	assert.Equal(t, map[string]interface{}{"a": []interface{}{1.0, "x"}}, Map{"a": List{Number(1), String("x")}}.Native())
}

func TestStringRepeatBounds(t *testing.T) {
	input := mustParseJSON(t, `{"name": "ab", "huge": 1e19, "big": 1000000, "half": 2.5}`)

	assert.Equal(t, String("ababab"), run(t, `.name * .half`, input))
	assert.Equal(t, String("abab"), run(t, `2 * .name`, input))
	assert.Equal(t, Null{}, run(t, `.name * 0`, input))
	assert.Equal(t, Null{}, run(t, `.name * (0 - 3)`, input))

	for _, src := range []string{`.name * .huge`, `.huge * .name`, `.name * .big`} {
		_, err := MustCompile(src).Evaluate(input)

		var ee *EvalError
		require.ErrorAs(t, err, &ee, src)
		assert.Equal(t, ErrRuntime, ee.Kind, src)
	}
}

func TestHasOutOfRangeIndex(t *testing.T) {
	input := mustParseJSON(t, `[1, 2]`)

	assert.Equal(t, Bool(true), run(t, `has(1)`, input))
	assert.Equal(t, Bool(false), run(t, `has(2)`, input))
	assert.Equal(t, Bool(false), run(t, `has(1e19)`, input))
	assert.Equal(t, Bool(false), run(t, `has(0 - 1)`, input))
}
