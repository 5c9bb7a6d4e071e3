package provider

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/newrelic/nr-catalog-sync/pkg/interop"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProvider(t *testing.T) {
	logger := log.New()
	logger.SetOutput(io.Discard)

	var got *viper.Viper
	RegisterProvider("test", func(i *interop.Interop, v *viper.Viper) (Provider, error) {
		got = v
		return &Static{}, nil
	})

	v := viper.New()
	i := &interop.Interop{Logger: logger, Config: v}

	_, err := GetProvider(i)
	assert.Error(t, err)

	v.Set("provider.type", "nope")
	_, err = GetProvider(i)
	assert.Error(t, err)

	v.Set("provider.type", "test")
	v.Set("provider.dir", "fixtures")
	p, err := GetProvider(i)
	require.NoError(t, err)
	assert.IsType(t, &Static{}, p)
	assert.Equal(t, "fixtures", got.GetString("dir"))
}

func TestStatic_Pages(t *testing.T) {
	s := &Static{
		Objects: map[string][]map[string]interface{}{
			"project": {{"id": 1}, {"id": 2}, {"id": 3}},
		},
		PageSize: 2,
	}

	var sizes []int
	err := s.Fetch(context.Background(), "project", func(page []RawObject) error {
		sizes = append(sizes, len(page))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, sizes)

	err = s.Fetch(context.Background(), "empty", func(page []RawObject) error {
		t.Error("no pages expected")
		return nil
	})
	assert.NoError(t, err)
}

func TestStatic_ErrorAndCancellation(t *testing.T) {
	s := &Static{
		Objects: map[string][]map[string]interface{}{"project": {{"id": 1}}},
		Err:     map[string]error{"issue": errors.New("down")},
	}

	err := s.Fetch(context.Background(), "issue", func([]RawObject) error { return nil })
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "issue", pe.Kind)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Fetch(ctx, "project", func([]RawObject) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("k", REASON_OTHER, nil))
	assert.Equal(t, context.Canceled, Wrap("k", REASON_NETWORK, context.Canceled))

	inner := &ProviderError{Kind: "k", Reason: REASON_AUTH, Err: errors.New("x")}
	assert.Same(t, inner, Wrap("k", REASON_OTHER, inner))

	var pe *ProviderError
	require.ErrorAs(t, Wrap("k", REASON_RATE_LIMIT, errors.New("slow down")), &pe)
	assert.Equal(t, REASON_RATE_LIMIT, pe.Reason)
}
