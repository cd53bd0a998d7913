// Package session owns the rotating identity shared by every fetch in a run:
// cookie jar, user agent, session id and the content build identifier.
//
// A single State is created per run and handed to the transport and the
// browser bootstrap. All mutation is serialized behind a mutex; readers get
// consistent per-field snapshots.
package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

// UserAgents is the fixed pool identities are drawn from.
var UserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.5; rv:127.0) Gecko/20100101 Firefox/127.0",
}

// IDSource mints session ids that are unique within the run.
type IDSource interface {
	NewID() (string, error)
	Reserve(id string)
}

// State is the mutable identity bundle.
type State struct {
	mu        sync.RWMutex
	sessionID string
	userAgent string
	cookies   []crawler.Cookie
	index     map[string]int
	buildID   string

	ids    IDSource
	agents []string
}

// Load builds a State from a persisted snapshot, filling any missing field
// with a fresh random choice. A nil snapshot yields a brand-new identity.
func Load(snapshot *crawler.SessionSnapshot, ids IDSource, agents []string) (*State, error) {
	if len(agents) == 0 {
		agents = UserAgents
	}
	s := &State{
		index:  make(map[string]int),
		ids:    ids,
		agents: agents,
	}
	if snapshot != nil {
		s.sessionID = snapshot.SessionID
		s.userAgent = snapshot.UserAgent
		s.buildID = snapshot.BuildID
		for _, c := range snapshot.Cookies {
			s.upsertLocked(c.Name, c.Value)
		}
	}
	if s.userAgent == "" {
		s.userAgent = pick(agents)
	}
	if s.sessionID == "" {
		id, err := ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("new session id: %w", err)
		}
		s.sessionID = id
	} else {
		ids.Reserve(s.sessionID)
	}
	return s, nil
}

// SessionID returns the current session id.
func (s *State) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// UserAgent returns the current user agent.
func (s *State) UserAgent() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userAgent
}

// BuildID returns the content build identifier, or "" if unknown.
func (s *State) BuildID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buildID
}

// SetBuildID stores a non-empty build identifier.
func (s *State) SetBuildID(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	s.mu.Lock()
	s.buildID = id
	s.mu.Unlock()
}

// SetUserAgent replaces the user agent with the one a real browser reported.
func (s *State) SetUserAgent(ua string) {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return
	}
	s.mu.Lock()
	s.userAgent = ua
	s.mu.Unlock()
}

// Rotate replaces the session id, clears the cookie jar and re-draws the
// user agent. The build identifier is kept: it belongs to the site, not the
// identity.
func (s *State) Rotate() (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("new session id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateLocked(id)
	return id, nil
}

// RotateFrom rotates only if the session id is still prev. It returns false
// when another caller already rotated away from prev.
func (s *State) RotateFrom(prev string) (bool, error) {
	s.mu.RLock()
	current := s.sessionID
	s.mu.RUnlock()
	if current != prev {
		return false, nil
	}
	id, err := s.ids.NewID()
	if err != nil {
		return false, fmt.Errorf("new session id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != prev {
		return false, nil
	}
	s.rotateLocked(id)
	return true, nil
}

func (s *State) rotateLocked(id string) {
	s.sessionID = id
	s.cookies = nil
	s.index = make(map[string]int)
	s.userAgent = pick(s.agents)
}

// MergeCookies upserts the name=value pair of each Set-Cookie header.
// Malformed entries are ignored. It returns how many pairs were stored.
func (s *State) MergeCookies(setCookie []string) int {
	if len(setCookie) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := 0
	for _, line := range setCookie {
		name, value, ok := ParseSetCookie(line)
		if !ok {
			continue
		}
		s.upsertLocked(name, value)
		merged++
	}
	return merged
}

// PutCookies upserts already-parsed cookies, e.g. from a browser.
func (s *State) PutCookies(cookies []crawler.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cookies {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		s.upsertLocked(strings.TrimSpace(c.Name), c.Value)
	}
}

// CookieCount reports how many cookies are held.
func (s *State) CookieCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cookies)
}

// CookieHeader serializes the jar in insertion order as "a=1; b=2".
func (s *State) CookieHeader() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.cookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(s.cookies))
	for _, c := range s.cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Snapshot returns a persistable copy of the identity.
func (s *State) Snapshot() crawler.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return crawler.SessionSnapshot{
		SessionID: s.sessionID,
		UserAgent: s.userAgent,
		Cookies:   append([]crawler.Cookie{}, s.cookies...),
		BuildID:   s.buildID,
	}
}

func (s *State) upsertLocked(name, value string) {
	if i, ok := s.index[name]; ok {
		s.cookies[i].Value = value
		return
	}
	s.index[name] = len(s.cookies)
	s.cookies = append(s.cookies, crawler.Cookie{Name: name, Value: value})
}

// ParseSetCookie extracts the name/value pair preceding the first attribute
// delimiter of a Set-Cookie header.
func ParseSetCookie(line string) (string, string, bool) {
	first, _, _ := strings.Cut(line, ";")
	idx := strings.Index(first, "=")
	if idx <= 0 {
		return "", "", false
	}
	name := strings.TrimSpace(first[:idx])
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(first[idx+1:]), true
}

func pick(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(pool))))
	if err != nil {
		return pool[0]
	}
	return pool[n.Int64()]
}
