package proxy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProviderKeyedAndFallback(t *testing.T) {
	t.Parallel()

	p, err := New(Config{Template: "http://groups-RESIDENTIAL,session-{session}:pw@proxy.example.com:8000"})
	require.NoError(t, err)
	require.True(t, p.Enabled())

	keyed, err := p.URLFor("dir_abc123")
	require.NoError(t, err)
	require.Equal(t, "http://groups-RESIDENTIAL,session-dir_abc123:pw@proxy.example.com:8000", keyed)

	unkeyed, err := p.URLFor("")
	require.NoError(t, err)
	require.Equal(t, "http://groups-RESIDENTIAL:pw@proxy.example.com:8000", unkeyed)
}

func TestProviderRejectsBadKeys(t *testing.T) {
	t.Parallel()

	p, err := New(Config{Template: "http://session-{session}:pw@proxy.example.com:8000", Fallback: "http://proxy.example.com:8000"})
	require.NoError(t, err)

	_, err = p.URLFor("has space")
	require.True(t, errors.Is(err, ErrInvalidSessionKey))

	fallback, err := p.URLFor("")
	require.NoError(t, err)
	require.Equal(t, "http://proxy.example.com:8000", fallback)
}

func TestProviderWithoutPlaceholderOrConfig(t *testing.T) {
	t.Parallel()

	static, err := New(Config{Template: "http://proxy.example.com:8000"})
	require.NoError(t, err)
	got, err := static.URLFor("any")
	require.NoError(t, err)
	require.Equal(t, "http://proxy.example.com:8000", got)

	direct, err := New(Config{})
	require.NoError(t, err)
	require.False(t, direct.Enabled())
	got, err = direct.URLFor("any")
	require.NoError(t, err)
	require.Empty(t, got)

	var nilProvider *Provider
	got, err = nilProvider.URLFor("any")
	require.NoError(t, err)
	require.Empty(t, got)
}
