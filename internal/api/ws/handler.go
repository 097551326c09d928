package ws

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codehive/backend/internal/auth"
	"github.com/codehive/backend/internal/collab"
	"github.com/codehive/backend/internal/infrastructure/logging"
	"github.com/codehive/backend/internal/infrastructure/monitoring"
	"github.com/codehive/backend/internal/presence"
	"github.com/codehive/backend/internal/shared/errs"
	"github.com/codehive/backend/internal/shared/id"
	"github.com/codehive/backend/internal/terminal"
)

// Handler upgrades authenticated HTTP requests to websocket channels and
// dispatches the wire protocol onto the presence, collab and terminal layers.
type Handler struct {
	auth        *auth.Authenticator
	registry    *presence.Registry
	broadcaster *collab.Broadcaster
	terminals   *terminal.Manager
	metrics     *monitoring.Metrics
	log         *logging.Logger
	sendBuffer  int
	upgrader    websocket.Upgrader
}

// NewHandler builds the websocket handler. sendBuffer sizes each client's
// outbound queue.
func NewHandler(
	authenticator *auth.Authenticator,
	registry *presence.Registry,
	broadcaster *collab.Broadcaster,
	terminals *terminal.Manager,
	metrics *monitoring.Metrics,
	log *logging.Logger,
	sendBuffer int,
) *Handler {
	return &Handler{
		auth:        authenticator,
		registry:    registry,
		broadcaster: broadcaster,
		terminals:   terminals,
		metrics:     metrics,
		log:         log.Named("ws"),
		sendBuffer:  sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from the editor origin; access
			// control happens at the credential check, not the origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleConnection verifies the caller's credential, upgrades the socket and
// runs the read loop until the peer goes away. Authentication failures are
// rejected with HTTP 401 before the upgrade, so no channel state exists for
// unauthenticated callers.
func (h *Handler) HandleConnection(c *gin.Context) {
	identity, err := h.auth.Authenticate(c.Request.Context(), credential(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": err.Error(),
			"code":  string(errs.CodeOf(err)),
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	channelID := id.NewChannelID().String()
	client := newClient(channelID, identity.UserID, identity.Username, conn, h.sendBuffer, h.log)

	if err := h.registry.Register(client); err != nil {
		h.log.Error("channel registration failed",
			zap.String("channel_id", channelID),
			zap.Error(err))
		conn.Close()
		return
	}

	h.metrics.ChannelsActive.Inc()
	h.metrics.ChannelsTotal.Inc()
	h.log.Info("channel connected",
		zap.String("channel_id", channelID),
		zap.String("user_id", identity.UserID),
		zap.String("username", identity.Username),
	)

	go client.writePump()
	client.Send(encodeSystem("connected", channelID, identity.UserID, identity.Username))

	defer func() {
		h.registry.Disconnect(channelID)
		h.metrics.ChannelsActive.Dec()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("read error", zap.String("channel_id", channelID), zap.Error(err))
			}
			return
		}
		h.dispatch(client, data)
	}
}

// dispatch routes one inbound message. A panic in a handler is confined to
// the message that caused it: the channel answers with an internal error and
// keeps serving.
func (h *Handler) dispatch(client *Client, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic handling message",
				zap.String("channel_id", client.ID()),
				zap.Any("panic", r),
			)
			client.Send(encodeError(errs.Internal("internal error")))
		}
	}()

	var msg Message
	if err := sonic.Unmarshal(data, &msg); err != nil {
		client.Send(encodeError(errs.Internal("malformed message")))
		return
	}
	h.metrics.RecordMessage(msg.Type)

	ctx := context.Background()

	switch msg.Type {
	case "join_project":
		occupants, err := h.registry.Join(ctx, client.ID(), msg.ProjectID)
		if err != nil {
			client.Send(encodeError(err))
			return
		}
		client.Send(encodeJoinOK(msg.ProjectID, occupants))

	case "leave_project":
		h.registry.Leave(client.ID())
		client.Send(encodeAck("leave_ok"))

	case "heartbeat":
		seen := h.registry.Heartbeat(client.ID())
		client.Send(encodeHeartbeatAck(seen))

	case "terminal_create":
		info, err := h.terminals.Create(ctx, client, msg.TerminalID, msg.ProjectID, msg.Cols, msg.Rows)
		if err != nil {
			client.Send(encodeError(err))
			return
		}
		client.Send(encodeTerminalCreated(info))

	case "terminal_input":
		h.terminals.Input(client.ID(), msg.TerminalID, decodeInput(msg.Data))

	case "terminal_resize":
		h.terminals.Resize(client.ID(), msg.TerminalID, msg.Cols, msg.Rows)

	case "terminal_close":
		if err := h.terminals.Close(ctx, client.ID(), msg.TerminalID); err != nil {
			client.Send(encodeError(err))
			return
		}
		client.Send(encodeTerminalClosed(msg.TerminalID))

	case "terminal_scrollback":
		data, err := h.terminals.Scrollback(client.ID(), msg.TerminalID)
		if err != nil {
			client.Send(encodeError(err))
			return
		}
		client.Send(encodeScrollback(msg.TerminalID, base64.StdEncoding.EncodeToString(data)))

	default:
		if kind, ok := collab.ParseKind(msg.Type); ok {
			h.broadcaster.Relay(client, msg.ProjectID, kind, msg.Payload)
			return
		}
		client.Send(encodeError(errs.Internal("unknown message type %q", msg.Type)))
	}
}

// credential extracts the caller's token from the Authorization header or,
// for browser websocket clients that cannot set headers, the token query
// parameter.
func credential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// decodeInput accepts terminal keystrokes as base64 and falls back to the
// raw string for clients that send plain text.
func decodeInput(data string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(data); err == nil {
		return decoded
	}
	return []byte(data)
}
