package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/codehive/backend/internal/infrastructure/logging"
	"github.com/codehive/backend/internal/infrastructure/monitoring"
	"github.com/codehive/backend/internal/shared/errs"
)

type fakeChannel struct {
	id, userID, username string

	// onClose, when set, runs after the channel is marked closed. Lets
	// tests interleave registry calls with a teardown in progress.
	onClose func()

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeChannel) ID() string       { return f.id }
func (f *fakeChannel) UserID() string   { return f.userID }
func (f *fakeChannel) Username() string { return f.username }

func (f *fakeChannel) Send(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	if f.onClose != nil {
		f.onClose()
	}
}

func (f *fakeChannel) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeAccess struct {
	denied map[string]bool
}

func (f *fakeAccess) CheckProjectAccess(ctx context.Context, projectID, userID string) (bool, error) {
	return !f.denied[projectID+"/"+userID], nil
}

type fakeTerminals struct {
	mu     sync.Mutex
	closed []string
}

func (f *fakeTerminals) CloseOwned(channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, channelID)
}

func newTestRegistry(access *fakeAccess) (*Registry, *fakeTerminals) {
	metrics := monitoring.NewMetricsWithRegistry(prometheus.NewRegistry())
	reg := NewRegistry(access, metrics, logging.NewDevelopment())
	terms := &fakeTerminals{}
	reg.SetTerminalCloser(terms)
	return reg, terms
}

func register(t *testing.T, reg *Registry, id, userID, username string) *fakeChannel {
	t.Helper()
	ch := &fakeChannel{id: id, userID: userID, username: username}
	if err := reg.Register(ch); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return ch
}

func TestJoinReturnsOccupants(t *testing.T) {
	reg, _ := newTestRegistry(&fakeAccess{})
	ctx := context.Background()

	a := register(t, reg, "conn-a", "user-a", "alice")
	register(t, reg, "conn-b", "user-b", "bob")

	occupants, err := reg.Join(ctx, a.id, "proj-1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(occupants) != 1 || occupants[0].UserID != "user-a" {
		t.Errorf("Expected only the joiner in occupants, got %+v", occupants)
	}

	occupants, err = reg.Join(ctx, "conn-b", "proj-1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(occupants) != 2 {
		t.Errorf("Expected two occupants, got %+v", occupants)
	}
}

func TestJoinDeniedMakesNoStateChange(t *testing.T) {
	reg, _ := newTestRegistry(&fakeAccess{denied: map[string]bool{"proj-1/user-a": true}})
	a := register(t, reg, "conn-a", "user-a", "alice")

	_, err := reg.Join(context.Background(), a.id, "proj-1")
	if !errs.Is(err, errs.CodeAccessDenied) {
		t.Fatalf("Expected ACCESS_DENIED, got %v", err)
	}
	if _, in := reg.RoomOf(a.id); in {
		t.Error("Denied join must not place the channel in a room")
	}
}

func TestJoinNotifiesOthersOnly(t *testing.T) {
	reg, _ := newTestRegistry(&fakeAccess{})
	ctx := context.Background()

	a := register(t, reg, "conn-a", "user-a", "alice")
	b := register(t, reg, "conn-b", "user-b", "bob")

	reg.Join(ctx, a.id, "proj-1")
	aFrames := a.frameCount()

	reg.Join(ctx, b.id, "proj-1")
	if a.frameCount() != aFrames+1 {
		t.Error("Existing occupant should receive one join notice")
	}
	if b.frameCount() != 0 {
		t.Error("Joiner should not receive its own join notice")
	}
}

func TestSingleRoomInvariant(t *testing.T) {
	reg, _ := newTestRegistry(&fakeAccess{})
	ctx := context.Background()
	a := register(t, reg, "conn-a", "user-a", "alice")

	reg.Join(ctx, a.id, "proj-1")
	reg.Join(ctx, a.id, "proj-2")

	room, ok := reg.RoomOf(a.id)
	if !ok || room != "proj-2" {
		t.Errorf("Expected channel in proj-2, got %q", room)
	}
	if members := reg.RoomMembers("proj-1", ""); len(members) != 0 {
		t.Errorf("Channel must leave the previous room, proj-1 still has %d members", len(members))
	}
}

func TestRoomSwitchNotifiesOldRoom(t *testing.T) {
	reg, _ := newTestRegistry(&fakeAccess{})
	ctx := context.Background()
	a := register(t, reg, "conn-a", "user-a", "alice")
	b := register(t, reg, "conn-b", "user-b", "bob")

	reg.Join(ctx, a.id, "proj-1")
	reg.Join(ctx, b.id, "proj-1")

	before := a.frameCount()
	reg.Join(ctx, b.id, "proj-2")
	if a.frameCount() != before+1 {
		t.Error("Old room should receive a leave notice on room switch")
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(&fakeAccess{})
	ctx := context.Background()
	a := register(t, reg, "conn-a", "user-a", "alice")

	reg.Join(ctx, a.id, "proj-1")
	reg.Leave(a.id)
	reg.Leave(a.id) // second call is a no-op

	if _, in := reg.RoomOf(a.id); in {
		t.Error("Channel should be in no room after leave")
	}
}

func TestDisconnectCascades(t *testing.T) {
	reg, terms := newTestRegistry(&fakeAccess{})
	ctx := context.Background()
	a := register(t, reg, "conn-a", "user-a", "alice")
	b := register(t, reg, "conn-b", "user-b", "bob")

	reg.Join(ctx, a.id, "proj-1")
	reg.Join(ctx, b.id, "proj-1")

	reg.Disconnect(a.id)

	if _, ok := reg.Identity(a.id); ok {
		t.Error("Identity record must be purged on disconnect")
	}
	if len(terms.closed) != 1 || terms.closed[0] != a.id {
		t.Errorf("Terminal cascade not invoked: %v", terms.closed)
	}
	if !a.isClosed() {
		t.Error("Underlying channel should be closed")
	}
	if members := reg.RoomMembers("proj-1", ""); len(members) != 1 {
		t.Errorf("Room should retain only the other occupant, got %d", len(members))
	}

	// A second disconnect is a no-op.
	reg.Disconnect(a.id)
	if len(terms.closed) != 1 {
		t.Error("Disconnect must not cascade twice")
	}
}

func TestJoinAfterDisconnectRejected(t *testing.T) {
	reg, _ := newTestRegistry(&fakeAccess{})
	a := register(t, reg, "conn-a", "user-a", "alice")

	reg.Disconnect(a.id)

	_, err := reg.Join(context.Background(), a.id, "proj-1")
	if !errs.Is(err, errs.CodeNotInitialized) {
		t.Errorf("Expected NOT_INITIALIZED after teardown, got %v", err)
	}
}

func TestHeartbeatAndSweep(t *testing.T) {
	reg, terms := newTestRegistry(&fakeAccess{})
	ctx := context.Background()

	now := time.Now()
	reg.clock = func() time.Time { return now }

	a := register(t, reg, "conn-a", "user-a", "alice")
	b := register(t, reg, "conn-b", "user-b", "bob")
	reg.Join(ctx, a.id, "proj-1")
	reg.Join(ctx, b.id, "proj-1")

	// Only b heartbeats after the clock advances.
	now = now.Add(2 * time.Minute)
	reg.Heartbeat(b.id)

	reaped := reg.Sweep(now.Add(-time.Minute))
	if len(reaped) != 1 || reaped[0] != a.id {
		t.Fatalf("Expected only conn-a reaped, got %v", reaped)
	}
	if !a.isClosed() {
		t.Error("Reaped channel should be closed")
	}
	if len(terms.closed) != 1 || terms.closed[0] != a.id {
		t.Errorf("Reap must cascade into terminal cleanup: %v", terms.closed)
	}
	if _, ok := reg.Identity(b.id); !ok {
		t.Error("Fresh channel must survive the sweep")
	}
}

func TestDisconnectReportsTeardown(t *testing.T) {
	reg, _ := newTestRegistry(&fakeAccess{})
	a := register(t, reg, "conn-a", "user-a", "alice")

	if !reg.Disconnect(a.id) {
		t.Error("First disconnect should tear the channel down")
	}
	if reg.Disconnect(a.id) {
		t.Error("Repeated disconnect must report a no-op")
	}
	if reg.Disconnect("conn-ghost") {
		t.Error("Disconnecting an unknown channel must report a no-op")
	}
}

func TestSweepSkipsAlreadyDisconnected(t *testing.T) {
	metrics := monitoring.NewMetricsWithRegistry(prometheus.NewRegistry())
	reg := NewRegistry(&fakeAccess{}, metrics, logging.NewDevelopment())
	reg.SetTerminalCloser(&fakeTerminals{})

	now := time.Now()
	reg.clock = func() time.Time { return now }

	a := register(t, reg, "conn-a", "user-a", "alice")
	b := register(t, reg, "conn-b", "user-b", "bob")

	// Tearing down either channel drags the other down with it, standing in
	// for an explicit disconnect landing between the sweep's stale scan and
	// its disconnect loop.
	a.onClose = func() { reg.Disconnect(b.id) }
	b.onClose = func() { reg.Disconnect(a.id) }

	now = now.Add(2 * time.Minute)
	reaped := reg.Sweep(now.Add(-time.Minute))

	if len(reaped) != 1 {
		t.Fatalf("Exactly one channel is reaped, the other was already gone: %v", reaped)
	}
	if got := testutil.ToFloat64(metrics.ChannelsReaped); got != 1 {
		t.Errorf("Expected 1 counted reap, got %v", got)
	}
	if reg.Connected(a.id) || reg.Connected(b.id) {
		t.Error("Both channels must be gone after the sweep")
	}
}
