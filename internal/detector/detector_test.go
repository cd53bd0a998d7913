package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeuristic_BlockedStatuses(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	for _, code := range []int{401, 403, 429, 503} {
		require.True(t, h.IsBlocked(code, []byte("<html>...")), "status %d", code)
	}
	require.False(t, h.IsBlocked(404, []byte("not found")))
}

func TestHeuristic_ChallengePage(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	require.True(t, h.IsBlocked(200, []byte("Attention Required! | Cloudflare")))
	require.True(t, h.IsBlocked(200, []byte("<p>Sorry, you have been blocked</p>")))
	require.True(t, h.IsBlocked(200, []byte("<footer>CF-RAY: 8a1b2c · Cloudflare</footer>")))
}

func TestHeuristic_PlainPage(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	require.False(t, h.IsBlocked(200, []byte("<html><body>Dr. Smith</body></html>")))
	// edge-network marker alone is not a block
	require.False(t, h.IsBlocked(200, []byte("<script src=\"https://cdnjs.cloudflare.com/x.js\"></script>")))
}

func TestHeuristic_OnlyInspectsPrefix(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("a", 100) + "sorry, you have been blocked"
	require.False(t, NewHeuristic(50).IsBlocked(200, []byte(body)))
	require.True(t, NewHeuristic(200).IsBlocked(200, []byte(body)))
}

func TestPackageLevelIsBlocked(t *testing.T) {
	t.Parallel()

	require.True(t, IsBlocked(429, nil))
	require.False(t, IsBlocked(200, nil))
}
