package ws

import (
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"

	"github.com/codehive/backend/internal/presence"
	"github.com/codehive/backend/internal/shared/errs"
	"github.com/codehive/backend/internal/terminal"
)

// Message is the inbound wire envelope. Fields beyond Type are populated
// per message kind; unused fields stay zero.
type Message struct {
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	TerminalID string          `json:"terminal_id,omitempty"`
	Cols       int             `json:"cols,omitempty"`
	Rows       int             `json:"rows,omitempty"`
	Data       string          `json:"data,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type systemFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

type joinOKFrame struct {
	Type      string              `json:"type"`
	ProjectID string              `json:"project_id"`
	Occupants []presence.Occupant `json:"occupants"`
	Timestamp int64               `json:"timestamp"`
}

type ackFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type errorFrame struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type terminalCreatedFrame struct {
	Type     string         `json:"type"`
	Terminal *terminal.Info `json:"terminal"`
}

type terminalAckFrame struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminal_id"`
	Timestamp  int64  `json:"timestamp"`
}

type scrollbackFrame struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminal_id"`
	Data       string `json:"data"`
}

func encodeSystem(message, channelID, userID, username string) []byte {
	return mustEncode(systemFrame{
		Type:      "system",
		Message:   message,
		ChannelID: channelID,
		UserID:    userID,
		Username:  username,
		Timestamp: time.Now().UnixMilli(),
	})
}

func encodeJoinOK(projectID string, occupants []presence.Occupant) []byte {
	return mustEncode(joinOKFrame{
		Type:      "join_ok",
		ProjectID: projectID,
		Occupants: occupants,
		Timestamp: time.Now().UnixMilli(),
	})
}

func encodeAck(frameType string) []byte {
	return mustEncode(ackFrame{Type: frameType, Timestamp: time.Now().UnixMilli()})
}

func encodeHeartbeatAck(seen time.Time) []byte {
	return mustEncode(ackFrame{Type: "heartbeat_ack", Timestamp: seen.UnixMilli()})
}

func encodeError(err error) []byte {
	code := errs.CodeOf(err)
	return mustEncode(errorFrame{
		Type:      "error",
		Code:      string(code),
		Message:   err.Error(),
		Timestamp: time.Now().UnixMilli(),
	})
}

func encodeTerminalCreated(info *terminal.Info) []byte {
	return mustEncode(terminalCreatedFrame{Type: "terminal_created", Terminal: info})
}

func encodeTerminalClosed(terminalID string) []byte {
	return mustEncode(terminalAckFrame{
		Type:       "terminal_closed",
		TerminalID: terminalID,
		Timestamp:  time.Now().UnixMilli(),
	})
}

func encodeScrollback(terminalID string, data string) []byte {
	return mustEncode(scrollbackFrame{
		Type:       "terminal_scrollback",
		TerminalID: terminalID,
		Data:       data,
	})
}

// mustEncode marshals outbound frames. Frame structs contain only
// marshalable fields, so an error here is a programming bug.
func mustEncode(v interface{}) []byte {
	data, err := sonic.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
