package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/codehive/backend/internal/infrastructure/logging"
	"github.com/codehive/backend/internal/infrastructure/monitoring"
	"github.com/codehive/backend/internal/shared/errs"
	"github.com/codehive/backend/internal/shared/id"
)

// Manager owns the full lifecycle of terminal sessions: spawn, input, output
// streaming, resize, termination, and disconnect-triggered cleanup. The
// session map is mutated only through these entry points.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byOwner  map[string]map[string]*Session

	access   AccessChecker
	recorder Recorder
	liveness Liveness
	cfg      Config
	metrics  *monitoring.Metrics
	log      *logging.Logger
}

// NewManager creates a terminal session manager.
func NewManager(cfg Config, access AccessChecker, recorder Recorder, metrics *monitoring.Metrics, log *logging.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		byOwner:  make(map[string]map[string]*Session),
		access:   access,
		recorder: recorder,
		cfg:      cfg.withDefaults(),
		metrics:  metrics,
		log:      log,
	}
}

// SetLiveness wires the presence-side liveness check. Mirrors the registry's
// SetTerminalCloser; both sides exist before either knows about the other.
func (m *Manager) SetLiveness(l Liveness) {
	m.liveness = l
}

// Create spawns one interactive subprocess rooted at the project's working
// directory and registers a RUNNING session owned by the requesting channel.
// If spawning fails no partial state survives.
func (m *Manager) Create(ctx context.Context, owner Owner, terminalID, projectID string, cols, rows int) (*Info, error) {
	allowed, err := m.access.CheckProjectAccess(ctx, projectID, owner.UserID())
	if err != nil {
		return nil, errs.Internal("access check failed: %v", err)
	}
	if !allowed {
		return nil, errs.AccessDenied("no access to project %s", projectID)
	}

	if terminalID == "" {
		terminalID = id.NewTerminalID().String()
	}
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	shell := m.cfg.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
	}

	workingDir := filepath.Join(m.cfg.WorkspaceRoot, projectID)
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		return nil, errs.SpawnFailure("prepare working directory: %v", err)
	}

	session := &Session{
		id:             terminalID,
		ownerChannelID: owner.ID(),
		ownerUserID:    owner.UserID(),
		projectID:      projectID,
		shell:          shell,
		workingDir:     workingDir,
		createdAt:      time.Now(),
		state:          StateCreated,
		cols:           cols,
		rows:           rows,
		limiter:        rate.NewLimiter(rate.Limit(m.cfg.InputPerSecond), m.cfg.InputBurst),
		scrollback:     NewBuffer(m.cfg.ScrollbackSize),
	}

	// Reserve the slot before spawning so the ID is unique, but keep the
	// spawn itself outside the lock. The liveness check must sit inside the
	// same critical section: the disconnect cascade purges the presence
	// record first and takes m.mu second, so it either fails this check or
	// finds the reserved slot and kills it.
	m.mu.Lock()
	if m.liveness != nil && !m.liveness.Connected(owner.ID()) {
		m.mu.Unlock()
		return nil, errs.NotInitialized("channel %s is not registered", owner.ID())
	}
	if _, exists := m.sessions[terminalID]; exists {
		m.mu.Unlock()
		return nil, errs.Internal("terminal %s already exists", terminalID)
	}
	owned := m.byOwner[owner.ID()]
	if len(owned) >= m.cfg.MaxPerChannel {
		m.mu.Unlock()
		return nil, errs.Internal("terminal limit reached for channel %s", owner.ID())
	}
	if owned == nil {
		owned = make(map[string]*Session)
		m.byOwner[owner.ID()] = owned
	}
	m.sessions[terminalID] = session
	owned[terminalID] = session
	m.mu.Unlock()

	cmd := exec.Command(shell)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", fmt.Sprintf("CODEHIVE_PROJECT=%s", projectID))

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		m.remove(terminalID)
		m.metrics.TerminalSpawnErrs.Inc()
		return nil, errs.SpawnFailure("failed to start pty: %v", err)
	}

	if !session.attach(cmd, ptmx) {
		// Owner disconnected while the spawn was in flight.
		cmd.Process.Kill()
		ptmx.Close()
		return nil, errs.NotInitialized("channel %s torn down during spawn", owner.ID())
	}

	if err := m.recorder.TerminalStarted(ctx, Record{
		TerminalID: terminalID,
		ProjectID:  projectID,
		UserID:     owner.UserID(),
		Shell:      shell,
		WorkingDir: workingDir,
	}); err != nil {
		m.log.Warn("persist terminal session", zap.String("terminal_id", terminalID), zap.Error(err))
	}

	go m.readOutput(session, owner)
	go m.waitExit(session, owner)

	m.metrics.TerminalsActive.Inc()
	m.metrics.TerminalsTotal.Inc()
	m.log.Info("terminal created",
		zap.String("terminal_id", terminalID),
		zap.String("project_id", projectID),
		zap.String("owner", owner.ID()),
	)

	info := session.info()
	return &info, nil
}

// Input writes bytes to the subprocess's stdin. Calls from a non-owner, or
// against a non-RUNNING session, are silently dropped: transport disconnect
// races make them expected client state, not errors.
func (m *Manager) Input(channelID, terminalID string, data []byte) {
	session := m.ownedSession(channelID, terminalID)
	if session == nil || session.State() != StateRunning {
		return
	}
	if !session.limiter.Allow() {
		m.log.Warn("terminal input throttled", zap.String("terminal_id", terminalID))
		return
	}

	session.mu.RLock()
	ptmx := session.ptmx
	session.mu.RUnlock()
	if ptmx == nil {
		return
	}
	if _, err := ptmx.Write(data); err != nil {
		m.log.Debug("terminal input write", zap.String("terminal_id", terminalID), zap.Error(err))
	}
}

// Resize changes the subprocess's terminal dimensions. A failed resize is a
// no-op, not an error.
func (m *Manager) Resize(channelID, terminalID string, cols, rows int) {
	session := m.ownedSession(channelID, terminalID)
	if session == nil || session.State() != StateRunning || cols <= 0 || rows <= 0 {
		return
	}

	session.mu.Lock()
	session.cols = cols
	session.rows = rows
	ptmx := session.ptmx
	session.mu.Unlock()

	if ptmx == nil {
		return
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		m.log.Debug("terminal resize unsupported", zap.String("terminal_id", terminalID), zap.Error(err))
	}
}

// Close terminates a session on the owner's request: the process receives a
// termination signal, the session is marked KILLED, and bookkeeping is
// released immediately without waiting for exit confirmation.
func (m *Manager) Close(ctx context.Context, channelID, terminalID string) error {
	m.mu.Lock()
	session, ok := m.sessions[terminalID]
	if !ok {
		m.mu.Unlock()
		return errs.NotInitialized("terminal %s not found", terminalID)
	}
	if session.ownerChannelID != channelID {
		m.mu.Unlock()
		return errs.AccessDenied("terminal %s is not owned by channel %s", terminalID, channelID)
	}
	m.removeLocked(terminalID, session)
	m.mu.Unlock()

	// A reservation killed before attach never incremented the gauge.
	if session.kill() == StateRunning {
		m.metrics.TerminalsActive.Dec()
	}
	if err := m.recorder.TerminalClosed(ctx, terminalID); err != nil {
		m.log.Warn("deactivate terminal record", zap.String("terminal_id", terminalID), zap.Error(err))
	}

	m.log.Info("terminal closed", zap.String("terminal_id", terminalID))
	return nil
}

// CloseOwned force-terminates every session owned by the channel. This is the
// disconnect cascade that keeps subprocesses from outliving their client.
func (m *Manager) CloseOwned(channelID string) {
	m.mu.Lock()
	owned := m.byOwner[channelID]
	sessions := make([]*Session, 0, len(owned))
	for terminalID, session := range owned {
		delete(m.sessions, terminalID)
		sessions = append(sessions, session)
	}
	delete(m.byOwner, channelID)
	m.mu.Unlock()

	for _, session := range sessions {
		if session.kill() == StateRunning {
			m.metrics.TerminalsActive.Dec()
		}
		if err := m.recorder.TerminalClosed(context.Background(), session.id); err != nil {
			m.log.Warn("deactivate terminal record", zap.String("terminal_id", session.id), zap.Error(err))
		}
	}

	if len(sessions) > 0 {
		m.log.Info("terminals torn down with channel",
			zap.String("channel_id", channelID),
			zap.Int("count", len(sessions)),
		)
	}
}

// Scrollback returns the session's buffered recent output. Owner-only.
func (m *Manager) Scrollback(channelID, terminalID string) ([]byte, error) {
	m.mu.RLock()
	session, ok := m.sessions[terminalID]
	m.mu.RUnlock()

	if !ok {
		return nil, errs.NotInitialized("terminal %s not found", terminalID)
	}
	if session.ownerChannelID != channelID {
		return nil, errs.AccessDenied("terminal %s is not owned by channel %s", terminalID, channelID)
	}
	return session.scrollback.Bytes(), nil
}

// Get returns session info. Owner-only.
func (m *Manager) Get(channelID, terminalID string) (*Info, error) {
	m.mu.RLock()
	session, ok := m.sessions[terminalID]
	m.mu.RUnlock()

	if !ok {
		return nil, errs.NotInitialized("terminal %s not found", terminalID)
	}
	if session.ownerChannelID != channelID {
		return nil, errs.AccessDenied("terminal %s is not owned by channel %s", terminalID, channelID)
	}
	info := session.info()
	return &info, nil
}

// Sessions returns info for every registered session.
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, session := range m.sessions {
		infos = append(infos, session.info())
	}
	return infos
}

// readOutput streams subprocess output to the owning channel only. Output
// queued after the session leaves RUNNING is discarded here, at the listener
// boundary.
func (m *Manager) readOutput(session *Session, owner Owner) {
	session.mu.RLock()
	ptmx := session.ptmx
	session.mu.RUnlock()
	if ptmx == nil {
		return
	}

	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			frame := encodeOutput(session.id, chunk)

			// Check and send under the session lock: kill marks KILLED
			// under the write lock, so once it returns no further chunk
			// can slip through here.
			session.mu.RLock()
			running := session.state == StateRunning
			if running {
				session.scrollback.Write(chunk)
				if !owner.Send(frame) {
					m.metrics.MessagesDropped.Inc()
				}
				m.metrics.TerminalOutputB.Add(float64(n))
			}
			session.mu.RUnlock()
			if !running {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// waitExit reaps the subprocess. A natural exit transitions the session to
// EXITED and notifies the owner with the exit code; a killed session was
// already handled.
func (m *Manager) waitExit(session *Session, owner Owner) {
	session.mu.RLock()
	cmd := session.cmd
	session.mu.RUnlock()
	if cmd == nil {
		return
	}

	cmd.Wait()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if !session.markExited() {
		return
	}

	session.mu.RLock()
	ptmx := session.ptmx
	session.mu.RUnlock()
	if ptmx != nil {
		ptmx.Close()
	}

	m.metrics.TerminalsActive.Dec()
	if !owner.Send(encodeExit(session.id, exitCode)) {
		m.metrics.MessagesDropped.Inc()
	}
	if err := m.recorder.TerminalExited(context.Background(), session.id, exitCode); err != nil {
		m.log.Warn("record terminal exit", zap.String("terminal_id", session.id), zap.Error(err))
	}

	m.log.Info("terminal exited",
		zap.String("terminal_id", session.id),
		zap.Int("exit_code", exitCode),
	)
}

func (m *Manager) ownedSession(channelID, terminalID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[terminalID]
	if !ok || session.ownerChannelID != channelID {
		return nil
	}
	return session
}

func (m *Manager) remove(terminalID string) {
	m.mu.Lock()
	if session, ok := m.sessions[terminalID]; ok {
		m.removeLocked(terminalID, session)
	}
	m.mu.Unlock()
}

func (m *Manager) removeLocked(terminalID string, session *Session) {
	delete(m.sessions, terminalID)
	if owned := m.byOwner[session.ownerChannelID]; owned != nil {
		delete(owned, terminalID)
		if len(owned) == 0 {
			delete(m.byOwner, session.ownerChannelID)
		}
	}
}
