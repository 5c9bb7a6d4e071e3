package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/newrelic/nr-catalog-sync/internal/provider"
	"github.com/newrelic/nr-catalog-sync/pkg/interop"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
)

const (
	defaultApiURL   = "https://gitlab.com/api/v4"
	defaultPageSize = 100
)

// endpoints maps the resource kinds this provider serves to list endpoints.
var endpoints = map[string]string{
	"project":       "/projects",
	"group":         "/groups",
	"issue":         "/issues",
	"merge-request": "/merge_requests",
}

// defaultParams are added to every list request of a kind.
var defaultParams = map[string]url.Values{
	"project":       {"membership": {"true"}, "archived": {"false"}},
	"group":         {"all_available": {"false"}},
	"issue":         {"scope": {"all"}},
	"merge-request": {"scope": {"all"}},
}

type GitLabProvider struct {
	Interop  *interop.Interop
	ApiURL   string
	Token    string
	PageSize int
	Params   map[string]url.Values
	client   *http.Client
}

func init() {
	provider.RegisterProvider("gitlab", New)
}

func New(i *interop.Interop, v *viper.Viper) (provider.Provider, error) {
	v.AutomaticEnv()
	v.SetEnvPrefix("NR_CATALOG_GITLAB")

	apiUrl := v.GetString("apiUrl")
	if apiUrl == "" {
		apiUrl = defaultApiURL
	}

	token := v.GetString("token")
	if token == "" {
		return nil, fmt.Errorf("missing gitlab api token")
	}

	pageSize := v.GetInt("pageSize")
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	params := map[string]url.Values{}
	for kind := range endpoints {
		extra := v.GetStringMapString("params." + kind)
		if len(extra) == 0 {
			continue
		}

		values := url.Values{}
		for k, val := range extra {
			values.Set(k, val)
		}
		params[kind] = values
	}

	timeout := v.GetDuration("timeout")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	glp := &GitLabProvider{
		Interop:  i,
		ApiURL:   strings.TrimSuffix(apiUrl, "/"),
		Token:    token,
		PageSize: pageSize,
		Params:   params,
	}

	glp.client = glp.createHttpClient(timeout)

	return glp, nil
}

func (glp *GitLabProvider) Fetch(
	ctx context.Context,
	kind string,
	emit provider.EmitFn,
) error {
	path, ok := endpoints[kind]
	if !ok {
		return &provider.ProviderError{
			Kind:   kind,
			Reason: provider.REASON_OTHER,
			Err:    fmt.Errorf("gitlab provider does not serve kind %s", kind),
		}
	}

	query := url.Values{}
	for k, v := range defaultParams[kind] {
		query[k] = v
	}
	for k, v := range glp.Params[kind] {
		query[k] = v
	}
	query.Set("per_page", fmt.Sprint(glp.PageSize))

	nextUrl := glp.ApiURL + path + "?" + query.Encode()
	pages := 0

	for nextUrl != "" {
		var items []map[string]interface{}

		next, err := glp.getPaginatedResults(ctx, kind, nextUrl, &items)
		if err != nil {
			return err
		}

		pages += 1
		glp.Interop.Logger.Tracef(
			"read page %d of %s with %d items",
			pages,
			kind,
			len(items),
		)

		page := make([]provider.RawObject, 0, len(items))
		for _, item := range items {
			page = append(page, provider.RawObject{Kind: kind, Data: item})
		}

		if err := emit(page); err != nil {
			return err
		}

		nextUrl = next
	}

	return nil
}

func (glp *GitLabProvider) createHttpClient(timeout time.Duration) *http.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: glp.Token})

	client := oauth2.NewClient(context.Background(), ts)
	client.Timeout = timeout

	return client
}
