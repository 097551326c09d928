package terminal

import (
	"encoding/base64"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/time/rate"
)

// Session is one interactive subprocess bound to exactly one owning channel.
// The process handle is owned by the session and released exactly once, on
// whichever of kill or natural exit happens first.
type Session struct {
	id             string
	ownerChannelID string
	ownerUserID    string
	projectID      string
	shell          string
	workingDir     string
	createdAt      time.Time

	limiter    *rate.Limiter
	scrollback *Buffer

	mu    sync.RWMutex
	state State
	cols  int
	rows  int
	cmd   *exec.Cmd
	ptmx  *os.File
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// attach stores the spawned process and moves CREATED to RUNNING. It fails
// when the session was torn down while the spawn was in flight.
func (s *Session) attach(cmd *exec.Cmd, ptmx *os.File) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cmd = cmd
	s.ptmx = ptmx
	if s.state != StateCreated {
		return false
	}
	s.state = StateRunning
	return true
}

// markExited moves RUNNING to EXITED. Returns false if the session was
// already killed.
func (s *Session) markExited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return false
	}
	s.state = StateExited
	return true
}

// kill force-terminates the subprocess and moves the session to KILLED.
// Fire-and-forget: it does not wait for exit confirmation. Returns the state
// the session held when the kill took effect; a session already in a
// terminal state is left untouched and reports that state.
func (s *Session) kill() State {
	s.mu.Lock()
	if s.state == StateExited || s.state == StateKilled {
		prior := s.state
		s.mu.Unlock()
		return prior
	}
	prior := s.state
	s.state = StateKilled
	cmd := s.cmd
	ptmx := s.ptmx
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
	if ptmx != nil {
		ptmx.Close()
	}
	// No buffered replay after close.
	s.scrollback.Reset()
	return prior
}

func (s *Session) info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Info{
		TerminalID:     s.id,
		OwnerChannelID: s.ownerChannelID,
		OwnerUserID:    s.ownerUserID,
		ProjectID:      s.projectID,
		Shell:          s.shell,
		WorkingDir:     s.workingDir,
		Cols:           s.cols,
		Rows:           s.rows,
		State:          s.state,
		CreatedAt:      s.createdAt,
	}
}

type outputFrame struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminal_id"`
	Data       string `json:"data"`
	Timestamp  int64  `json:"timestamp"`
}

type exitFrame struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminal_id"`
	ExitCode   int    `json:"exit_code"`
	Timestamp  int64  `json:"timestamp"`
}

func encodeOutput(terminalID string, data []byte) []byte {
	frame, _ := sonic.Marshal(outputFrame{
		Type:       "terminal_output",
		TerminalID: terminalID,
		Data:       base64.StdEncoding.EncodeToString(data),
		Timestamp:  time.Now().UnixMilli(),
	})
	return frame
}

func encodeExit(terminalID string, exitCode int) []byte {
	frame, _ := sonic.Marshal(exitFrame{
		Type:       "terminal_exit",
		TerminalID: terminalID,
		ExitCode:   exitCode,
		Timestamp:  time.Now().UnixMilli(),
	})
	return frame
}
