package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2/clientcredentials"
)

// Client talks to the catalog REST API.
type Client struct {
	ApiURL string
	Logger *log.Logger
	http   *retryablehttp.Client
}

type ClientConfig struct {
	ApiURL       string
	ClientID     string
	ClientSecret string
	TokenURL     string
	RetryMax     int
	Timeout      time.Duration
}

type entitiesSearchRequest struct {
	Owner     string `json:"owner"`
	Blueprint string `json:"blueprint,omitempty"`
	Cursor    string `json:"cursor,omitempty"`
}

type entitiesSearchResponse struct {
	Entities []*Entity `json:"entities"`
	Next     string    `json:"next"`
}

type blueprintResponse struct {
	Blueprint Blueprint `json:"blueprint"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func NewClient(config ClientConfig, logger *log.Logger) (*Client, error) {
	if config.ApiURL == "" {
		return nil, fmt.Errorf("missing catalog api url")
	}

	if logger == nil {
		logger = log.New()
	}

	apiUrl := strings.TrimSuffix(config.ApiURL, "/")

	rc := retryablehttp.NewClient()
	rc.Logger = &leveledLogger{logger}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if config.RetryMax != 0 {
		rc.RetryMax = max(config.RetryMax, 0)
	}

	if config.ClientID != "" {
		if config.ClientSecret == "" {
			return nil, fmt.Errorf("missing catalog client secret")
		}

		tokenUrl := config.TokenURL
		if tokenUrl == "" {
			tokenUrl = apiUrl + "/v1/auth/access_token"
		}

		oauthConfig := &clientcredentials.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			TokenURL:     tokenUrl,
		}

		rc.HTTPClient = oauthConfig.Client(context.Background())
	}

	if config.Timeout > 0 {
		rc.HTTPClient.Timeout = config.Timeout
	}

	return &Client{ApiURL: apiUrl, Logger: logger, http: rc}, nil
}

func (c *Client) GetBlueprint(ctx context.Context, name string) (*Blueprint, error) {
	resp := &blueprintResponse{}
	key := Key{Blueprint: name}

	err := c.do(
		ctx,
		"get blueprint",
		key,
		http.MethodGet,
		fmt.Sprintf("/v1/blueprints/%s", url.PathEscape(name)),
		nil,
		resp,
	)
	if err != nil {
		return nil, err
	}

	if resp.Blueprint.Identifier == "" {
		resp.Blueprint.Identifier = name
	}

	return &resp.Blueprint, nil
}

// ListEntities returns every entity carrying the owner tag. An empty
// blueprint lists across all blueprints.
func (c *Client) ListEntities(
	ctx context.Context,
	blueprint string,
	owner string,
) ([]*Entity, error) {
	var entities []*Entity

	req := entitiesSearchRequest{Owner: owner, Blueprint: blueprint}

	for done := false; !done; {
		resp := &entitiesSearchResponse{}

		err := c.do(
			ctx,
			"list entities",
			Key{Blueprint: blueprint},
			http.MethodPost,
			"/v1/entities/search",
			req,
			resp,
		)
		if err != nil {
			return nil, err
		}

		c.Logger.Tracef(
			"read %d entities owned by %s (cursor %q)",
			len(resp.Entities),
			owner,
			req.Cursor,
		)

		entities = append(entities, resp.Entities...)
		req.Cursor = resp.Next
		done = resp.Next == ""
	}

	return entities, nil
}

func (c *Client) CreateEntity(ctx context.Context, entity *Entity) error {
	return c.do(
		ctx,
		"create entity",
		entity.Key(),
		http.MethodPost,
		fmt.Sprintf("/v1/blueprints/%s/entities", url.PathEscape(entity.Blueprint)),
		entity,
		nil,
	)
}

func (c *Client) UpdateEntity(ctx context.Context, entity *Entity) error {
	return c.do(
		ctx,
		"update entity",
		entity.Key(),
		http.MethodPut,
		entityPath(entity.Key()),
		entity,
		nil,
	)
}

func (c *Client) DeleteEntity(ctx context.Context, key Key) error {
	return c.do(
		ctx,
		"delete entity",
		key,
		http.MethodDelete,
		entityPath(key),
		nil,
		nil,
	)
}

func entityPath(key Key) string {
	return fmt.Sprintf(
		"/v1/blueprints/%s/entities/%s",
		url.PathEscape(key.Blueprint),
		url.PathEscape(key.Identifier),
	)
}

func (c *Client) do(
	ctx context.Context,
	op string,
	key Key,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	var reader io.Reader

	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &CatalogError{Kind: ERROR_VALIDATION, Op: op, Key: key, Err: err}
		}
		reader = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequest(method, c.ApiURL+path, reader)
	if err != nil {
		return &CatalogError{Kind: ERROR_UNAVAILABLE, Op: op, Key: key, Err: err}
	}

	req = req.WithContext(ctx)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/json")

	c.Logger.Debugf("making catalog request %s %s...", method, path)

	// With the passthrough error handler a final retryable status comes
	// back as both a response and an error; the response wins.
	resp, err := c.http.Do(req)
	if resp == nil {
		return &CatalogError{Kind: ERROR_UNAVAILABLE, Op: op, Key: key, Err: err}
	}

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &CatalogError{Kind: ERROR_UNAVAILABLE, Op: op, Key: key, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &CatalogError{
			Kind:    kindForStatus(resp.StatusCode),
			Op:      op,
			Key:     key,
			Status:  resp.StatusCode,
			Message: errorMessage(data, resp.Status),
		}
	}

	if result == nil || len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, result); err != nil {
		return &CatalogError{
			Kind:   ERROR_UNAVAILABLE,
			Op:     op,
			Key:    key,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("invalid response body: %w", err),
		}
	}

	return nil
}

func errorMessage(data []byte, status string) string {
	var e errorResponse
	if err := json.Unmarshal(data, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return status
}

// leveledLogger adapts logrus to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger *log.Logger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Error(msg)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Trace(msg)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Warn(msg)
}

func fields(keysAndValues []interface{}) log.Fields {
	f := log.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
