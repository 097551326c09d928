package terminal

import (
	"context"
	"sync"
	"time"
)

// State is a terminal session's lifecycle state. The machine is
// CREATED -> RUNNING -> {EXITED | KILLED}, and both end states are terminal.
type State string

const (
	StateCreated State = "CREATED"
	StateRunning State = "RUNNING"
	StateExited  State = "EXITED"
	StateKilled  State = "KILLED"
)

// Owner is the channel that owns a terminal session. Output and exit
// notifications go to the owner only, never to the room.
type Owner interface {
	ID() string
	UserID() string
	Send(frame []byte) bool
}

// AccessChecker decides whether a user may open terminals in a project. Same
// gate as room join.
type AccessChecker interface {
	CheckProjectAccess(ctx context.Context, projectID, userID string) (bool, error)
}

// Liveness reports whether a channel is still registered with the presence
// layer. The manager consults it when committing a new session: a create
// whose access check was in flight while the owner disconnected must not
// register a subprocess nobody will ever tear down.
type Liveness interface {
	Connected(channelID string) bool
}

// Record is the minimal session metadata handed to the storage hook.
type Record struct {
	TerminalID string
	ProjectID  string
	UserID     string
	Shell      string
	WorkingDir string
}

// Recorder persists terminal session metadata. Persistence failures are
// logged, never fatal to the session.
type Recorder interface {
	TerminalStarted(ctx context.Context, rec Record) error
	TerminalExited(ctx context.Context, terminalID string, exitCode int) error
	TerminalClosed(ctx context.Context, terminalID string) error
}

// Info is the public representation of a session.
type Info struct {
	TerminalID     string    `json:"terminal_id"`
	OwnerChannelID string    `json:"owner_channel_id"`
	OwnerUserID    string    `json:"owner_user_id"`
	ProjectID      string    `json:"project_id"`
	Shell          string    `json:"shell"`
	WorkingDir     string    `json:"working_dir"`
	Cols           int       `json:"cols"`
	Rows           int       `json:"rows"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
}

// Config holds terminal manager configuration.
type Config struct {
	Shell          string
	WorkspaceRoot  string
	MaxPerChannel  int
	ScrollbackSize int
	InputPerSecond int
	InputBurst     int
}

func (c Config) withDefaults() Config {
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = "/tmp/codehive-workspaces"
	}
	if c.MaxPerChannel <= 0 {
		c.MaxPerChannel = 8
	}
	if c.ScrollbackSize <= 0 {
		c.ScrollbackSize = 256 * 1024
	}
	if c.InputPerSecond <= 0 {
		c.InputPerSecond = 200
	}
	if c.InputBurst <= 0 {
		c.InputBurst = 2 * c.InputPerSecond
	}
	return c
}

// Buffer is a thread-safe ring buffer holding a session's recent output for
// scrollback replay. Oldest bytes are overwritten when full.
type Buffer struct {
	data []byte
	size int
	head int
	tail int
	full bool
	mu   sync.RWMutex
}

// NewBuffer creates a ring buffer of the given capacity.
func NewBuffer(size int) *Buffer {
	return &Buffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends data, overwriting the oldest bytes when the ring is full.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		b.data[b.tail] = c
		b.tail = (b.tail + 1) % b.size
		if b.full {
			b.head = b.tail
		} else if b.tail == b.head {
			b.full = true
		}
	}
	return len(p), nil
}

// Bytes returns a copy of the buffered output, oldest first. The buffer is
// not drained: scrollback can be replayed more than once.
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full && b.head == b.tail {
		return nil
	}
	if b.full {
		out := make([]byte, b.size)
		n := copy(out, b.data[b.head:])
		copy(out[n:], b.data[:b.tail])
		return out
	}
	out := make([]byte, b.tail-b.head)
	copy(out, b.data[b.head:b.tail])
	return out
}

// Reset discards all buffered output.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.head = 0
	b.tail = 0
	b.full = false
	b.mu.Unlock()
}
