package engine

import (
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator produces session tokens. A token identifies one binding
// session across traces, logs, and the CLI.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator is the production token source. The v7 layout leads with
// a timestamp, so sorting tokens lexically orders sessions by when they
// were opened; `graft trace --list` relies on that instead of joining
// against the events table.
type UUIDv7Generator struct{}

// Generate returns a fresh hyphenated UUID. Stateless; callable from any
// goroutine.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator hands out a predetermined token sequence. The harness
// installs one ("s1", "s2", ... in binding declaration order) so golden
// traces stay byte-stable across runs.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedGenerator creates a generator over the given sequence.
func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

// Generate returns the next token in sequence. Running past the end
// panics: a run that opens more sessions than it declared tokens for is
// misconfigured, and a silent fallback would only surface later as a
// confusing golden diff.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: out of tokens")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
