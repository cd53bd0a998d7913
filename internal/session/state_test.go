package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
	"github.com/JakeFAU/directory-crawler/internal/id/uuid"
)

func TestLoadFillsMissingFields(t *testing.T) {
	t.Parallel()

	s, err := Load(nil, uuid.New(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, s.SessionID())
	require.Contains(t, UserAgents, s.UserAgent())
	require.Empty(t, s.BuildID())
	require.Empty(t, s.CookieHeader())
	require.NotNil(t, s.Snapshot().Cookies)
}

func TestLoadKeepsPersistedIdentity(t *testing.T) {
	t.Parallel()

	snap := &crawler.SessionSnapshot{
		SessionID: "dir_persisted",
		UserAgent: "persisted-agent",
		BuildID:   "build-123",
		Cookies:   []crawler.Cookie{{Name: "cf_clearance", Value: "abc"}, {Name: "sid", Value: "1"}},
	}
	ids := uuid.New()
	s, err := Load(snap, ids, nil)
	require.NoError(t, err)
	require.Equal(t, "dir_persisted", s.SessionID())
	require.Equal(t, "persisted-agent", s.UserAgent())
	require.Equal(t, "build-123", s.BuildID())
	require.Equal(t, "cf_clearance=abc; sid=1", s.CookieHeader())

	rotated, err := s.Rotate()
	require.NoError(t, err)
	require.NotEqual(t, "dir_persisted", rotated)
}

func TestRotateClearsJarKeepsBuildID(t *testing.T) {
	t.Parallel()

	s, err := Load(nil, uuid.New(), nil)
	require.NoError(t, err)
	s.SetBuildID("build-1")
	s.MergeCookies([]string{"a=1; Path=/", "b=2"})
	before := s.SessionID()

	seen := map[string]struct{}{before: {}}
	for i := 0; i < 20; i++ {
		id, err := s.Rotate()
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
	require.NotEqual(t, before, s.SessionID())
	require.Zero(t, s.CookieCount())
	require.Empty(t, s.CookieHeader())
	require.Equal(t, "build-1", s.BuildID())
	require.Contains(t, UserAgents, s.UserAgent())
}

func TestRotateFromOnlyRotatesOnce(t *testing.T) {
	t.Parallel()

	s, err := Load(nil, uuid.New(), nil)
	require.NoError(t, err)
	prev := s.SessionID()

	var wg sync.WaitGroup
	var mu sync.Mutex
	rotations := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.RotateFrom(prev)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				rotations++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, rotations)
	require.NotEqual(t, prev, s.SessionID())
}

func TestMergeCookiesUpsertsInInsertionOrder(t *testing.T) {
	t.Parallel()

	s, err := Load(nil, uuid.New(), nil)
	require.NoError(t, err)

	n := s.MergeCookies([]string{
		"__cf_bm=one; path=/; HttpOnly",
		"=orphan",
		"novalue",
		"session=xyz",
		"  __cf_bm = two ; Secure",
		"",
	})
	require.Equal(t, 3, n)
	require.Equal(t, "__cf_bm=two; session=xyz", s.CookieHeader())

	s.PutCookies([]crawler.Cookie{{Name: "browser", Value: "1"}, {Name: " ", Value: "skip"}})
	require.Equal(t, "__cf_bm=two; session=xyz; browser=1", s.CookieHeader())
}

func TestParseSetCookie(t *testing.T) {
	t.Parallel()

	name, value, ok := ParseSetCookie("a=b=c; Max-Age=10")
	require.True(t, ok)
	require.Equal(t, "a", name)
	require.Equal(t, "b=c", value)

	_, _, ok = ParseSetCookie("=x")
	require.False(t, ok)
	_, _, ok = ParseSetCookie("; a=b")
	require.False(t, ok)
}

func TestSettersIgnoreBlank(t *testing.T) {
	t.Parallel()

	s, err := Load(nil, uuid.New(), []string{"only-agent"})
	require.NoError(t, err)
	require.Equal(t, "only-agent", s.UserAgent())
	s.SetUserAgent("  ")
	s.SetBuildID("")
	require.Equal(t, "only-agent", s.UserAgent())
	require.Empty(t, s.BuildID())
	s.SetUserAgent("real-browser")
	require.Equal(t, "real-browser", s.UserAgent())
}
