// Package ids allocates record ids that are unique across every peer without
// coordination.
package ids

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator allocates ids of the form "<prefix>-<unique>".
type Generator interface {
	NewID(prefix string) string
}

// UUIDv7Generator generates time-sortable ids.
//
// UUIDv7 carries a 48-bit millisecond timestamp followed by 74 random bits,
// so two offline tills allocating in the same millisecond still collide with
// negligible probability. Ids sort by creation time, which keeps order ids
// readable in listings.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns prefix-<uuidv7>.
//
// Panics if UUID generation fails (the system random source is broken).
func (UUIDv7Generator) NewID(prefix string) string {
	return prefix + "-" + uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order, ignoring
// the prefix.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// NewID returns the next predetermined id.
//
// Panics if all ids have been consumed, which catches a test that allocates
// more ids than it expects.
func (g *FixedGenerator) NewID(string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// SequenceGenerator returns prefix-1, prefix-2, ... with one counter per
// prefix. Used for deterministic scenario runs.
type SequenceGenerator struct {
	mu   sync.Mutex
	tag  string
	next map[string]int
}

// NewSequenceGenerator creates a sequence generator. A non-empty tag is
// inserted after the prefix so that several peers can run side by side
// without colliding.
func NewSequenceGenerator(tag string) *SequenceGenerator {
	return &SequenceGenerator{tag: tag, next: make(map[string]int)}
}

// NewID returns the next id for prefix.
func (g *SequenceGenerator) NewID(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next[prefix]++
	if g.tag == "" {
		return fmt.Sprintf("%s-%d", prefix, g.next[prefix])
	}
	return fmt.Sprintf("%s-%s-%d", prefix, g.tag, g.next[prefix])
}
