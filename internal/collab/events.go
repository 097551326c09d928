package collab

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Kind identifies a room event type. Each kind carries an explicit payload
// shape; loosely-typed payloads are rejected at the relay boundary so sender
// and receiver cannot drift.
type Kind string

const (
	KindFileChange      Kind = "file_change"
	KindCursorMove      Kind = "cursor_move"
	KindTextChange      Kind = "text_change"
	KindSelectionChange Kind = "selection_change"
)

// ParseKind maps a wire message type to an event kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindFileChange, KindCursorMove, KindTextChange, KindSelectionChange:
		return Kind(s), true
	}
	return "", false
}

// FileChangePayload is a whole-file mutation. Receivers apply last-write-wins.
type FileChangePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CursorMovePayload is a collaborator's cursor position within a file.
type CursorMovePayload struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// TextChangePayload is an in-buffer edit delta, doubling as the typing
// indicator for the sender.
type TextChangePayload struct {
	Path  string `json:"path"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// SelectionChangePayload is a collaborator's selection range within a file.
type SelectionChangePayload struct {
	Path        string `json:"path"`
	StartLine   int    `json:"start_line"`
	StartColumn int    `json:"start_column"`
	EndLine     int    `json:"end_line"`
	EndColumn   int    `json:"end_column"`
}

// Envelope is the delivered form of a room event.
type Envelope struct {
	Type       string      `json:"type"`
	ProjectID  string      `json:"project_id"`
	Path       string      `json:"path"`
	Payload    interface{} `json:"payload"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Timestamp  int64       `json:"timestamp"`
}

// decodePayload validates raw payload bytes against the kind's shape and
// returns the typed payload plus its target path.
func decodePayload(kind Kind, raw []byte) (interface{}, string, error) {
	switch kind {
	case KindFileChange:
		var p FileChangePayload
		if err := sonic.Unmarshal(raw, &p); err != nil {
			return nil, "", err
		}
		if p.Path == "" {
			return nil, "", fmt.Errorf("file_change payload missing path")
		}
		return p, p.Path, nil

	case KindCursorMove:
		var p CursorMovePayload
		if err := sonic.Unmarshal(raw, &p); err != nil {
			return nil, "", err
		}
		if p.Path == "" {
			return nil, "", fmt.Errorf("cursor_move payload missing path")
		}
		if p.Line < 0 || p.Column < 0 {
			return nil, "", fmt.Errorf("cursor_move position out of range")
		}
		return p, p.Path, nil

	case KindTextChange:
		var p TextChangePayload
		if err := sonic.Unmarshal(raw, &p); err != nil {
			return nil, "", err
		}
		if p.Path == "" {
			return nil, "", fmt.Errorf("text_change payload missing path")
		}
		if p.Start < 0 || p.End < p.Start {
			return nil, "", fmt.Errorf("text_change range invalid")
		}
		return p, p.Path, nil

	case KindSelectionChange:
		var p SelectionChangePayload
		if err := sonic.Unmarshal(raw, &p); err != nil {
			return nil, "", err
		}
		if p.Path == "" {
			return nil, "", fmt.Errorf("selection_change payload missing path")
		}
		return p, p.Path, nil
	}
	return nil, "", fmt.Errorf("unknown event kind %q", kind)
}
