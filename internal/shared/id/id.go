// Package id provides centralized ID generation for the backend.
//
// All server-generated identifiers are prefixed ULIDs: lexicographically
// sortable, unique, and readable in logs (conn_*, term_*, req_*). Separate
// Go types keep channel, terminal, and request IDs from being mixed up at
// compile time.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ChannelID identifies one client's persistent connection.
type ChannelID string

// TerminalID identifies a terminal session.
type TerminalID string

// RequestID identifies an API request.
type RequestID string

const (
	ChannelPrefix  = "conn"
	TerminalPrefix = "term"
	RequestPrefix  = "req"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string.
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewChannelID generates a new channel ID.
func NewChannelID() ChannelID {
	return ChannelID(Default().GenerateWithPrefix(ChannelPrefix))
}

// NewTerminalID generates a new terminal session ID.
func NewTerminalID() TerminalID {
	return TerminalID(Default().GenerateWithPrefix(TerminalPrefix))
}

// NewRequestID generates a new request ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id ChannelID) String() string  { return string(id) }
func (id TerminalID) String() string { return string(id) }
func (id RequestID) String() string  { return string(id) }

// IsValid checks if an ID string is a valid ULID.
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Parse parses a ULID string.
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the creation time from a ULID.
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
