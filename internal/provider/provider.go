package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/newrelic/nr-catalog-sync/pkg/interop"
	"github.com/spf13/viper"
)

// RawObject is one provider-native object of a resource kind.
type RawObject struct {
	Kind string
	Data map[string]interface{}
}

// EmitFn receives fetched objects one page at a time. Returning an error
// stops the fetch.
type EmitFn func([]RawObject) error

type Provider interface {
	Fetch(ctx context.Context, kind string, emit EmitFn) error
}

type Reason string

const (
	REASON_NETWORK    Reason = "network"
	REASON_AUTH       Reason = "auth"
	REASON_RATE_LIMIT Reason = "rate-limit"
	REASON_OTHER      Reason = "other"
)

// ProviderError aborts the sync pass of one kind.
type ProviderError struct {
	Kind   string
	Reason Reason
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("fetch %s failed (%s): %s", e.Kind, e.Reason, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Wrap turns err into a *ProviderError for kind unless it already is one or
// it is a context error.
func Wrap(kind string, reason Reason, err error) error {
	if err == nil {
		return nil
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &ProviderError{Kind: kind, Reason: reason, Err: err}
}

type InitFn func(*interop.Interop, *viper.Viper) (Provider, error)

var (
	initFns      map[string]InitFn
	providerLock sync.Mutex
)

// GetProvider creates the provider named by provider.type in the
// configuration.
func GetProvider(i *interop.Interop) (Provider, error) {
	v := i.Config
	if v == nil {
		v = viper.GetViper()
	}

	if !v.IsSet("provider") {
		return nil, fmt.Errorf("missing provider in config")
	}

	providerType := v.GetString("provider.type")
	if providerType == "" {
		return nil, fmt.Errorf("missing provider type")
	}

	i.Logger.Debugf("getting provider for type %s...", providerType)

	providerLock.Lock()
	defer providerLock.Unlock()

	fn, ok := initFns[providerType]
	if !ok {
		return nil, fmt.Errorf("invalid provider: %s", providerType)
	}

	i.Logger.Debugf("initializing provider...")
	return fn(i, v.Sub("provider"))
}

func RegisterProvider(t string, initFn InitFn) {
	providerLock.Lock()
	defer providerLock.Unlock()

	if initFns == nil {
		initFns = make(map[string]InitFn)
	}

	initFns[t] = initFn
}

// Static serves fixed objects per kind in pages of PageSize.
type Static struct {
	Objects  map[string][]map[string]interface{}
	PageSize int
	Err      map[string]error
}

func (s *Static) Fetch(ctx context.Context, kind string, emit EmitFn) error {
	if err := s.Err[kind]; err != nil {
		return Wrap(kind, REASON_OTHER, err)
	}

	return EmitPages(ctx, kind, s.Objects[kind], s.PageSize, emit)
}

// EmitPages wraps items as objects of kind and hands them to emit in pages.
func EmitPages(
	ctx context.Context,
	kind string,
	items []map[string]interface{},
	pageSize int,
	emit EmitFn,
) error {
	if pageSize <= 0 {
		pageSize = 100
	}

	for start := 0; start < len(items); start += pageSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+pageSize, len(items))
		page := make([]RawObject, 0, end-start)
		for _, item := range items[start:end] {
			page = append(page, RawObject{Kind: kind, Data: item})
		}

		if err := emit(page); err != nil {
			return err
		}
	}

	return nil
}
