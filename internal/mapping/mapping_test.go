package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/newrelic/nr-catalog-sync/pkg/catalog"
	"github.com/newrelic/nr-catalog-sync/pkg/query"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gitlabMapping = `
resources:
  - kind: project
    selector:
      query: "true"
    port:
      entity:
        mappings:
          identifier: .path_with_namespace | gsub(" "; "")
          title: .name
          blueprint: '"project"'
          properties:
            url: .web_link
            description: .description
            namespace: .namespace.name
            full_path: .namespace.full_path
          relations:
            group: .namespace.full_path
`

const gitlabProject = `{
  "path_with_namespace": "team / repo",
  "name": "repo",
  "web_link": "http://x",
  "description": "d",
  "namespace": {"name": "team", "full_path": "team"}
}`

func mustLoad(t *testing.T, doc string) *Config {
	t.Helper()

	c, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	return c
}

func mustObject(t *testing.T, doc string) query.Value {
	t.Helper()

	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(doc), &v))
	return query.FromNative(v)
}

func TestMap_GitLabProject(t *testing.T) {
	c := mustLoad(t, gitlabMapping)
	require.Empty(t, c.Invalid)

	resources := c.Resources("project")
	require.Len(t, resources, 1)

	obj := mustObject(t, gitlabProject)

	ok, err := resources[0].Selector.Includes(obj)
	require.NoError(t, err)
	require.True(t, ok)

	entity, fieldErrors, err := resources[0].Mapping.Map(obj, nil)
	require.NoError(t, err)
	assert.Empty(t, fieldErrors)

	want := &catalog.Entity{
		Identifier: "team/repo",
		Blueprint:  "project",
		Title:      "repo",
		Properties: map[string]interface{}{
			"url":         "http://x",
			"description": "d",
			"namespace":   "team",
			"full_path":   "team",
		},
		Relations: map[string]catalog.RelationValue{
			"group": catalog.Single("team"),
		},
	}

	if diff := cmp.Diff(want, entity); diff != "" {
		t.Errorf("entity mismatch (-want +got):\n%s", diff)
	}
}

func TestMap_MissingIdentifier(t *testing.T) {
	c := mustLoad(t, gitlabMapping)
	obj := mustObject(t, `{"name": "repo", "web_link": "http://x"}`)

	entity, _, err := c.Resources("project")[0].Mapping.Map(obj, nil)
	assert.Nil(t, entity)

	var me *MappingError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, MISSING_REQUIRED_FIELD, me.Kind)
	assert.Equal(t, "identifier", me.Field)
}

func TestMap_MissingBlueprint(t *testing.T) {
	c := mustLoad(t, `
resources:
  - kind: issue
    port:
      entity:
        mappings:
          identifier: .id | tostring
          blueprint: .type
`)

	_, _, err := c.Resources("issue")[0].Mapping.Map(mustObject(t, `{"id": 4}`), nil)

	var me *MappingError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, MISSING_REQUIRED_FIELD, me.Kind)
	assert.Equal(t, "blueprint", me.Field)
}

func TestMap_StrictAndNonStrictPropertyFailure(t *testing.T) {
	doc := func(strict string) string {
		return `
resources:
  - kind: project
    strict: ` + strict + `
    port:
      entity:
        mappings:
          identifier: .id
          blueprint: '"project"'
          properties:
            ok: .name
            broken: .name + 1
`
	}

	obj := mustObject(t, `{"id": "p1", "name": "repo"}`)

	strict := mustLoad(t, doc("true")).Resources("project")[0]
	entity, _, err := strict.Mapping.Map(obj, nil)
	assert.Nil(t, entity)

	var me *MappingError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, STRICT_PROPERTY_FAILURE, me.Kind)
	assert.Equal(t, "properties.broken", me.Field)

	var ee *query.EvalError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, query.ErrTypeMismatch, ee.Kind)

	lenient := mustLoad(t, doc("false")).Resources("project")[0]
	entity, fieldErrors, err := lenient.Mapping.Map(obj, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ok": "repo"}, entity.Properties)
	require.Len(t, fieldErrors, 1)
	assert.Equal(t, "properties.broken", fieldErrors[0].Field)
}

func TestMap_StrictTitleFailureKeepsEntity(t *testing.T) {
	c := mustLoad(t, `
resources:
  - kind: project
    strict: true
    port:
      entity:
        mappings:
          identifier: .id
          title: .tags
          blueprint: '"project"'
          properties:
            name: .name
`)

	entity, fieldErrors, err := c.Resources("project")[0].Mapping.Map(
		mustObject(t, `{"id": "p1", "name": "repo", "tags": ["a"]}`),
		nil,
	)
	require.NoError(t, err)
	require.NotNil(t, entity)
	assert.Equal(t, "p1", entity.Identifier)
	assert.Empty(t, entity.Title)
	assert.Equal(t, map[string]interface{}{"name": "repo"}, entity.Properties)

	require.Len(t, fieldErrors, 1)
	assert.Equal(t, "title", fieldErrors[0].Field)
}

func TestMap_TitleAndNullProperties(t *testing.T) {
	c := mustLoad(t, `
resources:
  - kind: issue
    port:
      entity:
        mappings:
          identifier: .key
          title: .iid
          blueprint: '"issue"'
          properties:
            missing: .nope.deeper
            labels: .labels
`)

	entity, fieldErrors, err := c.Resources("issue")[0].Mapping.Map(
		mustObject(t, `{"key": "i-1", "iid": 12, "labels": ["a", "b"]}`),
		nil,
	)
	require.NoError(t, err)
	assert.Empty(t, fieldErrors)
	assert.Equal(t, "12", entity.Title)
	assert.Equal(t, map[string]interface{}{"labels": []interface{}{"a", "b"}}, entity.Properties)
}

func TestMap_RelationCardinality(t *testing.T) {
	c := mustLoad(t, `
resources:
  - kind: merge-request
    port:
      entity:
        mappings:
          identifier: .id
          blueprint: '"mr"'
          relations:
            project: .project
            reviewers: .reviewers
            author: .authors
            nothing: .none
`)

	schema := Schema{
		"mr": {
			Identifier: "mr",
			Relations: map[string]catalog.Relation{
				"project":   {Target: "project"},
				"reviewers": {Target: "user", Many: true},
				"author":    {Target: "user"},
				"nothing":   {Target: "user", Many: true},
			},
		},
	}

	obj := mustObject(t, `{
		"id": "mr-1",
		"project": "team/repo",
		"reviewers": "alice",
		"authors": ["bob", "carol"]
	}`)

	entity, fieldErrors, err := c.Resources("merge-request")[0].Mapping.Map(obj, schema)
	require.NoError(t, err)

	assert.Equal(t, map[string]catalog.RelationValue{
		"project":   catalog.Single("team/repo"),
		"reviewers": catalog.Many("alice"),
	}, entity.Relations)

	require.Len(t, fieldErrors, 1)
	assert.Equal(t, "relations.author", fieldErrors[0].Field)

	// without a schema entry the shape of the result decides
	entity, fieldErrors, err = c.Resources("merge-request")[0].Mapping.Map(obj, nil)
	require.NoError(t, err)
	assert.Empty(t, fieldErrors)
	assert.Equal(t, catalog.Single("alice"), entity.Relations["reviewers"])
	assert.Equal(t, catalog.Many("bob", "carol"), entity.Relations["author"])
}

func TestMap_UnknownRelation(t *testing.T) {
	c := mustLoad(t, `
resources:
  - kind: project
    port:
      entity:
        mappings:
          identifier: .id
          blueprint: '"project"'
          relations:
            owner: .owner
`)

	schema := Schema{"project": {Identifier: "project"}}

	entity, fieldErrors, err := c.Resources("project")[0].Mapping.Map(
		mustObject(t, `{"id": "p", "owner": "x"}`),
		schema,
	)
	require.NoError(t, err)
	assert.Empty(t, entity.Relations)
	require.Len(t, fieldErrors, 1)
	assert.Equal(t, "relations.owner", fieldErrors[0].Field)
}

func TestSelector_Includes(t *testing.T) {
	tests := []struct {
		query   string
		obj     string
		include bool
		err     bool
	}{
		{query: `.archived == false`, obj: `{"archived": false}`, include: true},
		{query: `.archived == false`, obj: `{"archived": true}`},
		{query: `.name`, obj: `{"name": "x"}`},
		{query: `null`, obj: `{}`},
		{query: `.name | test("^svc-")`, obj: `{"name": "svc-a"}`, include: true},
		{query: `.name | test("^svc-")`, obj: `{"name": 3}`, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			s := &Selector{Query: query.MustCompile(tt.query)}
			ok, err := s.Includes(mustObject(t, tt.obj))
			assert.Equal(t, tt.include, ok)
			if tt.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_InvalidResourcesBlockOnlyTheirKind(t *testing.T) {
	c := mustLoad(t, `
resources:
  - kind: project
    port:
      entity:
        mappings:
          identifier: .id
          blueprint: '"project"'
  - kind: issue
    port:
      entity:
        mappings:
          identifier: .id | nosuchfn
          blueprint: '"issue"'
  - kind: group
    port:
      entity:
        mappings:
          blueprint: '"group"'
  - port:
      entity:
        mappings:
          identifier: .id
          blueprint: '"x"'
`)

	assert.Equal(t, []string{"project", "issue", "group"}, c.Kinds())
	assert.Len(t, c.Resources("project"), 1)
	assert.Empty(t, c.Resources("issue"))
	assert.NoError(t, c.KindError("project"))

	require.Len(t, c.Invalid, 3)

	var ce *ConfigError
	require.ErrorAs(t, c.KindError("issue"), &ce)
	assert.Equal(t, "identifier", ce.Field)
	assert.Equal(t, 1, ce.Resource)

	var se *query.SyntaxError
	assert.ErrorAs(t, c.KindError("issue"), &se)

	require.ErrorAs(t, c.KindError("group"), &ce)
	assert.Equal(t, "identifier", ce.Field)

	assert.Equal(t, "kind", c.Invalid[2].Field)
}

func TestLoad_JSONDocumentAndBlueprints(t *testing.T) {
	c := mustLoad(t, `{"resources": [
  {"kind": "project", "port": {"entity": {"mappings": {"identifier": ".id", "blueprint": "\"project\""}}}},
  {"kind": "project", "port": {"entity": {"mappings": {"identifier": ".id", "blueprint": ".type"}}}},
  {"kind": "project", "port": {"entity": {"mappings": {"identifier": ".id", "blueprint": "\"repo\""}}}}
]}`)

	require.Empty(t, c.Invalid)
	assert.Len(t, c.Resources("project"), 3)
	assert.Equal(t, []string{"project", "repo"}, c.Blueprints("project"))
}

func TestLoad_MalformedDocument(t *testing.T) {
	_, err := Load(strings.NewReader("resources: [\n"))
	assert.Error(t, err)
}

func TestStore_ReloadKeepsPreviousOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(gitlabMapping), 0o644))

	logger := log.New()
	logger.SetOutput(io.Discard)

	s, err := NewStore(path, logger)
	require.NoError(t, err)

	first := s.Current()
	assert.Equal(t, []string{"project"}, first.Kinds())

	require.NoError(t, os.WriteFile(path, []byte("resources: [\n"), 0o644))
	assert.Error(t, s.Reload())
	assert.Same(t, first, s.Current())

	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(gitlabMapping, "kind: project", "kind: repo")), 0o644))
	require.NoError(t, s.Reload())
	assert.Equal(t, []string{"repo"}, s.Current().Kinds())

	// the first snapshot is unaffected by the reload
	assert.Equal(t, []string{"project"}, first.Kinds())
}

func TestStore_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(gitlabMapping), 0o644))

	logger := log.New()
	logger.SetOutput(io.Discard)

	s, err := NewStore(path, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	updated := strings.ReplaceAll(gitlabMapping, "kind: project", "kind: repo")

	assert.Eventually(t, func() bool {
		// rewrite until the watcher has been registered and picked it up
		_ = os.WriteFile(path, []byte(updated), 0o644)
		kinds := s.Current().Kinds()
		return len(kinds) == 1 && kinds[0] == "repo"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestStaticStore(t *testing.T) {
	c := mustLoad(t, gitlabMapping)
	s := StaticStore(c)
	assert.Same(t, c, s.Current())

	err := s.Reload()
	assert.Error(t, err)
	assert.False(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadFile_ExampleMapping(t *testing.T) {
	c, err := LoadFile(filepath.Join("..", "..", "configs", "mapping.yaml"))
	require.NoError(t, err)
	require.Empty(t, c.Invalid)

	assert.Equal(t, []string{"group", "project", "merge-request"}, c.Kinds())

	mr := mustObject(t, `{
  "project_id": 4,
  "iid": 12,
  "state": "opened",
  "title": "Fix it",
  "references": {"full": "team/repo!12"}
}`)

	r := c.Resources("merge-request")[0]
	ok, err := r.Selector.Includes(mr)
	require.NoError(t, err)
	require.True(t, ok)

	entity, _, err := r.Mapping.Map(mr, nil)
	require.NoError(t, err)
	assert.Equal(t, "4-12", entity.Identifier)
	assert.Equal(t, "team/repo", entity.Relations["service"].Target())
}
