package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/newrelic/nr-catalog-sync/internal/provider"
)

var (
	linkRE *regexp.Regexp
)

func init() {
	linkRE = regexp.MustCompile(`<([^>]+)>\s*;\s*rel\s*=\s*"([^"]+)"`)
}

func (glp *GitLabProvider) getPaginatedResults(
	ctx context.Context,
	kind string,
	url string,
	result interface{},
) (string, error) {
	glp.Interop.Logger.Debugf(
		"making gitlab request using URL %s...",
		url,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", provider.Wrap(kind, provider.REASON_OTHER, err)
	}

	req.Header.Add("Accept", "application/json")

	resp, err := glp.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", provider.Wrap(kind, provider.REASON_NETWORK, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &provider.ProviderError{
			Kind:   kind,
			Reason: reasonForStatus(resp.StatusCode),
			Err:    fmt.Errorf("fetch results failed: %s", resp.Status),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", provider.Wrap(kind, provider.REASON_NETWORK, err)
	}

	glp.Interop.Logger.Tracef(
		"read %d bytes, unmarshaling JSON...",
		len(body),
	)

	err = json.Unmarshal(body, result)
	if err != nil {
		return "", provider.Wrap(kind, provider.REASON_OTHER, err)
	}

	linkHeader := resp.Header.Get("Link")
	if linkHeader != "" {
		all := linkRE.FindAllStringSubmatch(linkHeader, -1)
		for _, tag := range all {
			if tag[2] == "next" {
				return tag[1], nil
			}
		}
	}

	return "", nil
}

func reasonForStatus(status int) provider.Reason {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return provider.REASON_AUTH
	case http.StatusTooManyRequests:
		return provider.REASON_RATE_LIMIT
	}
	return provider.REASON_OTHER
}
