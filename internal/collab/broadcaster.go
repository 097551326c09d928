// Package collab fans editing events out to project-room collaborators.
//
// Delivery is at-most-once: no retry, no buffered replay, and no ordering
// guarantee between events from different senders. Receivers apply
// last-write-wins locally.
package collab

import (
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/codehive/backend/internal/infrastructure/logging"
	"github.com/codehive/backend/internal/infrastructure/monitoring"
	"github.com/codehive/backend/internal/presence"
)

// Broadcaster relays room events between collaborators. Membership is always
// resolved through the presence registry at relay time.
type Broadcaster struct {
	presence *presence.Registry
	metrics  *monitoring.Metrics
	log      *logging.Logger
	clock    func() time.Time
}

// NewBroadcaster creates a broadcaster over the given registry.
func NewBroadcaster(reg *presence.Registry, metrics *monitoring.Metrics, log *logging.Logger) *Broadcaster {
	return &Broadcaster{
		presence: reg,
		metrics:  metrics,
		log:      log,
		clock:    time.Now,
	}
}

// Relay delivers the event to every other occupant of the sender's room.
// Events for a room the sender does not occupy, and events with malformed
// payloads, are dropped: disconnect races make both expected client states,
// not errors. Returns the number of recipients.
func (b *Broadcaster) Relay(sender presence.Channel, projectID string, kind Kind, rawPayload []byte) int {
	room, ok := b.presence.RoomOf(sender.ID())
	if !ok || room != projectID {
		b.log.Debug("dropping event for room the sender does not occupy",
			zap.String("channel_id", sender.ID()),
			zap.String("project_id", projectID),
			zap.String("kind", string(kind)),
		)
		return 0
	}

	payload, path, err := decodePayload(kind, rawPayload)
	if err != nil {
		b.log.Debug("dropping malformed event payload",
			zap.String("channel_id", sender.ID()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return 0
	}

	frame, err := sonic.Marshal(Envelope{
		Type:       string(kind),
		ProjectID:  projectID,
		Path:       path,
		Payload:    payload,
		SenderID:   sender.UserID(),
		SenderName: sender.Username(),
		Timestamp:  b.clock().UnixMilli(),
	})
	if err != nil {
		b.log.Error("encode event envelope", zap.Error(err))
		return 0
	}

	members := b.presence.RoomMembers(projectID, sender.ID())
	delivered := 0
	for _, member := range members {
		if member.Send(frame) {
			delivered++
		} else {
			b.metrics.MessagesDropped.Inc()
		}
	}
	b.metrics.RecordBroadcast(string(kind))
	return delivered
}
