package presence

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/codehive/backend/internal/infrastructure/logging"
	"github.com/codehive/backend/internal/infrastructure/monitoring"
	"github.com/codehive/backend/internal/shared/errs"
)

// Channel is one client's persistent bidirectional connection. Implementations
// must make Send non-blocking (drop on a full queue) and Close idempotent.
type Channel interface {
	ID() string
	UserID() string
	Username() string
	Send(frame []byte) bool
	Close()
}

// AccessChecker decides whether a user may enter a project room. It is an
// external collaborator: the registry never caches its answers.
type AccessChecker interface {
	CheckProjectAccess(ctx context.Context, projectID, userID string) (bool, error)
}

// TerminalCloser terminates every terminal session owned by a channel. The
// terminal manager implements this; the registry invokes it on teardown.
type TerminalCloser interface {
	CloseOwned(channelID string)
}

// Occupant is the public identity of a channel inside a room.
type Occupant struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
}

type connection struct {
	ch        Channel
	lastSeen  time.Time
	projectID string // "" when the channel is in no room
}

// Registry tracks every live channel's identity, room membership, and
// last-activity timestamp. A channel belongs to at most one room at any
// instant. All mutation goes through the exported methods; the maps are never
// exposed.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
	rooms map[string]map[string]*connection

	access    AccessChecker
	terminals TerminalCloser

	metrics *monitoring.Metrics
	log     *logging.Logger
	clock   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(access AccessChecker, metrics *monitoring.Metrics, log *logging.Logger) *Registry {
	return &Registry{
		conns:   make(map[string]*connection),
		rooms:   make(map[string]map[string]*connection),
		access:  access,
		metrics: metrics,
		log:     log,
		clock:   time.Now,
	}
}

// SetTerminalCloser wires the terminal manager into the teardown cascade.
// Must be called before any channel registers.
func (r *Registry) SetTerminalCloser(tc TerminalCloser) {
	r.terminals = tc
}

// Register creates the identity record for an authenticated channel.
func (r *Registry) Register(ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[ch.ID()]; exists {
		return errs.Internal("channel %s already registered", ch.ID())
	}
	r.conns[ch.ID()] = &connection{ch: ch, lastSeen: r.clock()}
	return nil
}

// Join moves the channel into the project's room, leaving any previous room
// first. Returns the room's occupant list (joiner included) on success.
func (r *Registry) Join(ctx context.Context, channelID, projectID string) ([]Occupant, error) {
	r.mu.RLock()
	conn, ok := r.conns[channelID]
	if !ok {
		r.mu.RUnlock()
		return nil, errs.NotInitialized("channel %s is not registered", channelID)
	}
	userID := conn.ch.UserID()
	r.mu.RUnlock()

	// Access check happens outside the lock: it may hit external storage.
	allowed, err := r.access.CheckProjectAccess(ctx, projectID, userID)
	if err != nil {
		return nil, errs.Internal("access check failed: %v", err)
	}
	if !allowed {
		return nil, errs.AccessDenied("no access to project %s", projectID)
	}

	var (
		joined    []Channel
		left      []Channel
		leftRoom  string
		occupants []Occupant
		joiner    Channel
	)

	r.mu.Lock()
	conn, ok = r.conns[channelID]
	if !ok {
		// Torn down while the access check ran.
		r.mu.Unlock()
		return nil, errs.NotInitialized("channel %s is not registered", channelID)
	}

	if conn.projectID == projectID {
		occupants = r.occupantsLocked(projectID)
		r.mu.Unlock()
		return occupants, nil
	}

	if conn.projectID != "" {
		leftRoom = conn.projectID
		left = r.removeFromRoomLocked(conn, channelID)
	}

	room := r.rooms[projectID]
	if room == nil {
		room = make(map[string]*connection)
		r.rooms[projectID] = room
	}
	room[channelID] = conn
	conn.projectID = projectID
	conn.lastSeen = r.clock()

	for chID, other := range room {
		if chID != channelID {
			joined = append(joined, other.ch)
		}
	}
	occupants = r.occupantsLocked(projectID)
	joiner = conn.ch
	r.metrics.RoomsActive.Set(float64(len(r.rooms)))
	r.mu.Unlock()

	if leftRoom != "" {
		r.notify(left, noticeLeft, leftRoom, joiner)
	}
	r.notify(joined, noticeJoined, projectID, joiner)

	r.log.Debug("channel joined room",
		zap.String("channel_id", channelID),
		zap.String("project_id", projectID),
	)
	return occupants, nil
}

// Leave removes the channel from its current room. A channel in no room is a
// no-op, not an error.
func (r *Registry) Leave(channelID string) {
	r.mu.Lock()
	conn, ok := r.conns[channelID]
	if !ok || conn.projectID == "" {
		r.mu.Unlock()
		return
	}
	room := conn.projectID
	remaining := r.removeFromRoomLocked(conn, channelID)
	leaver := conn.ch
	r.mu.Unlock()

	r.notify(remaining, noticeLeft, room, leaver)
}

// Heartbeat refreshes the channel's last-activity timestamp.
func (r *Registry) Heartbeat(channelID string) time.Time {
	now := r.clock()
	r.mu.Lock()
	if conn, ok := r.conns[channelID]; ok {
		conn.lastSeen = now
	}
	r.mu.Unlock()
	return now
}

// Disconnect is the single teardown path for a channel: leave the room,
// terminate owned terminals, purge the identity record. Once the record is
// gone no further requests on the channel are accepted. Reports whether a
// record was actually torn down, so a sweep racing an explicit disconnect
// does not double-count.
func (r *Registry) Disconnect(channelID string) bool {
	r.mu.Lock()
	conn, ok := r.conns[channelID]
	if !ok {
		r.mu.Unlock()
		return false
	}

	var (
		remaining []Channel
		room      string
	)
	if conn.projectID != "" {
		room = conn.projectID
		remaining = r.removeFromRoomLocked(conn, channelID)
	}
	delete(r.conns, channelID)
	ch := conn.ch
	r.mu.Unlock()

	if room != "" {
		r.notify(remaining, noticeLeft, room, ch)
	}
	if r.terminals != nil {
		r.terminals.CloseOwned(channelID)
	}
	ch.Close()

	r.log.Info("channel disconnected",
		zap.String("channel_id", channelID),
		zap.String("user_id", ch.UserID()),
	)
	return true
}

// Sweep disconnects every channel whose last activity predates cutoff and
// returns the reaped channel IDs.
func (r *Registry) Sweep(cutoff time.Time) []string {
	r.mu.RLock()
	var stale []string
	for chID, conn := range r.conns {
		if conn.lastSeen.Before(cutoff) {
			stale = append(stale, chID)
		}
	}
	r.mu.RUnlock()

	reaped := make([]string, 0, len(stale))
	for _, chID := range stale {
		if r.Disconnect(chID) {
			r.metrics.ChannelsReaped.Inc()
			reaped = append(reaped, chID)
		}
	}
	return reaped
}

// RoomOf returns the channel's current room.
func (r *Registry) RoomOf(channelID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[channelID]
	if !ok || conn.projectID == "" {
		return "", false
	}
	return conn.projectID, true
}

// RoomMembers returns every channel in the room except the excluded one.
func (r *Registry) RoomMembers(projectID, exclude string) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[projectID]
	members := make([]Channel, 0, len(room))
	for chID, conn := range room {
		if chID != exclude {
			members = append(members, conn.ch)
		}
	}
	return members
}

// Identity returns the occupant record for a live channel.
func (r *Registry) Identity(channelID string) (Occupant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[channelID]
	if !ok {
		return Occupant{}, false
	}
	return Occupant{
		ChannelID: channelID,
		UserID:    conn.ch.UserID(),
		Username:  conn.ch.Username(),
	}, true
}

// Connected reports whether the channel is still registered. The terminal
// manager uses it as its liveness check when committing a session.
func (r *Registry) Connected(channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[channelID]
	return ok
}

// Rooms returns the occupant count per active room.
func (r *Registry) Rooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make(map[string]int, len(r.rooms))
	for projectID, room := range r.rooms {
		rooms[projectID] = len(room)
	}
	return rooms
}

// Channels returns the IDs of all live channels. Used to drain on shutdown.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for chID := range r.conns {
		ids = append(ids, chID)
	}
	return ids
}

// removeFromRoomLocked detaches conn from its room and returns the remaining
// occupants. Caller holds r.mu.
func (r *Registry) removeFromRoomLocked(conn *connection, channelID string) []Channel {
	room := r.rooms[conn.projectID]
	delete(room, channelID)

	var remaining []Channel
	for _, other := range room {
		remaining = append(remaining, other.ch)
	}
	if len(room) == 0 {
		delete(r.rooms, conn.projectID)
	}
	conn.projectID = ""
	r.metrics.RoomsActive.Set(float64(len(r.rooms)))
	return remaining
}

func (r *Registry) occupantsLocked(projectID string) []Occupant {
	room := r.rooms[projectID]
	occupants := make([]Occupant, 0, len(room))
	for chID, conn := range room {
		occupants = append(occupants, Occupant{
			ChannelID: chID,
			UserID:    conn.ch.UserID(),
			Username:  conn.ch.Username(),
		})
	}
	return occupants
}

const (
	noticeJoined = "user_joined"
	noticeLeft   = "user_left"
)

type roomNotice struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

// notify fans a join/leave notice out to the given channels, sender excluded
// by construction.
func (r *Registry) notify(targets []Channel, noticeType, projectID string, about Channel) {
	if len(targets) == 0 {
		return
	}
	frame, err := sonic.Marshal(roomNotice{
		Type:      noticeType,
		ProjectID: projectID,
		UserID:    about.UserID(),
		Username:  about.Username(),
		Timestamp: r.clock().UnixMilli(),
	})
	if err != nil {
		r.log.Error("encode room notice", zap.Error(err))
		return
	}
	for _, target := range targets {
		if !target.Send(frame) {
			r.metrics.MessagesDropped.Inc()
		}
	}
}
