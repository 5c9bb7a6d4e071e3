package gitlab

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/newrelic/nr-catalog-sync/internal/provider"
	"github.com/newrelic/nr-catalog-sync/pkg/interop"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *GitLabProvider {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := log.New()
	logger.SetOutput(io.Discard)

	v := viper.New()
	v.Set("apiUrl", srv.URL+"/api/v4/")
	v.Set("token", "secret")
	v.Set("pageSize", 2)
	v.Set("params.project", map[string]interface{}{"search": "svc"})

	p, err := New(&interop.Interop{Logger: logger}, v)
	require.NoError(t, err)
	return p.(*GitLabProvider)
}

func TestFetch_FollowsLinkHeader(t *testing.T) {
	var srvURL string

	glp := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v4/projects", r.URL.Path)

		switch r.URL.Query().Get("page") {
		case "":
			assert.Equal(t, "2", r.URL.Query().Get("per_page"))
			assert.Equal(t, "true", r.URL.Query().Get("membership"))
			assert.Equal(t, "svc", r.URL.Query().Get("search"))
			w.Header().Set("Link", fmt.Sprintf(
				`<%s/api/v4/projects?page=2&per_page=2>; rel="next", <%s/api/v4/projects?page=2&per_page=2>; rel="last"`,
				srvURL,
				srvURL,
			))
			w.Write([]byte(`[{"id": 1, "path_with_namespace": "team/a"}, {"id": 2, "path_with_namespace": "team/b"}]`))
		case "2":
			w.Write([]byte(`[{"id": 3, "path_with_namespace": "team/c"}]`))
		default:
			t.Errorf("unexpected page %s", r.URL.Query().Get("page"))
		}
	})
	srvURL = glp.ApiURL[:len(glp.ApiURL)-len("/api/v4")]

	var pages [][]provider.RawObject
	err := glp.Fetch(context.Background(), "project", func(page []provider.RawObject) error {
		pages = append(pages, page)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, pages, 2)
	assert.Len(t, pages[0], 2)
	assert.Len(t, pages[1], 1)
	assert.Equal(t, "project", pages[1][0].Kind)
	assert.Equal(t, "team/c", pages[1][0].Data["path_with_namespace"])
}

func TestFetch_ErrorReasons(t *testing.T) {
	tests := []struct {
		status int
		reason provider.Reason
	}{
		{http.StatusUnauthorized, provider.REASON_AUTH},
		{http.StatusForbidden, provider.REASON_AUTH},
		{http.StatusTooManyRequests, provider.REASON_RATE_LIMIT},
		{http.StatusInternalServerError, provider.REASON_OTHER},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			glp := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			err := glp.Fetch(context.Background(), "issue", func([]provider.RawObject) error {
				t.Error("emit must not be called")
				return nil
			})

			var pe *provider.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.reason, pe.Reason)
			assert.Equal(t, "issue", pe.Kind)
		})
	}
}

func TestFetch_NetworkError(t *testing.T) {
	glp := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {})
	glp.ApiURL = "http://127.0.0.1:1"

	err := glp.Fetch(context.Background(), "group", func([]provider.RawObject) error { return nil })

	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.REASON_NETWORK, pe.Reason)
}

func TestFetch_UnknownKind(t *testing.T) {
	glp := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {})

	err := glp.Fetch(context.Background(), "pipeline", func([]provider.RawObject) error { return nil })

	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, provider.REASON_OTHER, pe.Reason)
}

func TestFetch_EmitErrorStops(t *testing.T) {
	calls := 0
	glp := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls += 1
		w.Header().Set("Link", `<http://unused/next>; rel="next"`)
		w.Write([]byte(`[{"id": 1}]`))
	})

	stop := fmt.Errorf("stop")
	err := glp.Fetch(context.Background(), "group", func([]provider.RawObject) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(&interop.Interop{Logger: log.New()}, viper.New())
	assert.Error(t, err)
}
