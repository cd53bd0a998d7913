// Package uuid generates session identifiers.
package uuid

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultPrefix marks identifiers minted by this crawler.
const DefaultPrefix = "dir_"

// Generator mints session ids that never repeat within one process lifetime.
type Generator struct {
	prefix string

	mu     sync.Mutex
	issued map[string]struct{}
}

// New creates a Generator using DefaultPrefix.
func New() *Generator {
	return NewWithPrefix(DefaultPrefix)
}

// NewWithPrefix creates a Generator with a custom prefix.
func NewWithPrefix(prefix string) *Generator {
	return &Generator{
		prefix: prefix,
		issued: make(map[string]struct{}),
	}
}

// Reserve marks an externally supplied id as used so it is never minted again.
func (g *Generator) Reserve(id string) {
	if id == "" {
		return
	}
	g.mu.Lock()
	g.issued[id] = struct{}{}
	g.mu.Unlock()
}

// NewID returns a fresh, never-before-issued session id. The id contains only
// characters proxy providers accept in session keys.
func (g *Generator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		raw, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate uuid7: %w", err)
		}
		id := g.prefix + strings.ReplaceAll(raw.String(), "-", "")
		if _, seen := g.issued[id]; seen {
			continue
		}
		g.issued[id] = struct{}{}
		return id, nil
	}
}
