// Package agent implements the agent session orchestrator: it owns the
// lifecycle of the locally-spawned agent runtime process, multiplexes many
// logical conversations across many working directories through that single
// process, consumes its event stream, resolves subagent sessions to their
// parents, and implements undo/redo on top of the runtime's revert
// primitive.
//
// The orchestrator talks to a set of collaborators it does not own: the
// persistence store, the git layer, the desktop notifier, and the UI event
// sink. All of them are interfaces here so the orchestrator can be driven
// entirely by fakes in tests.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mosaicdev/mosaic/internal/store"
)

// EventChannel is the sink channel all normalized session events are sent on.
const EventChannel = "session:event"

// SelectedModelKey is the settings key holding the persisted model choice.
const SelectedModelKey = "selected_model"

// syntheticTitlePrefix marks titles the runtime generated itself; such
// titles never drive a branch auto-rename.
const syntheticTitlePrefix = "New session -"

// Store is the persistence collaborator.
type Store interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	GetSession(id string) (*store.Session, error)
	UpdateSession(s *store.Session) error
	WorktreeBySessionID(sessionID string) (*store.Worktree, error)
	UpdateWorktree(w *store.Worktree) error
	GetProject(id string) (*store.Project, error)
}

// Git is the git collaborator used by the one-shot branch auto-rename.
type Git interface {
	BranchExists(ctx context.Context, repoPath, branch string) (bool, error)
	RenameBranch(ctx context.Context, repoPath, oldName, newName string) error
}

// Notifier delivers desktop notifications.
type Notifier interface {
	SessionComplete(sessionName string) error
}

// Focus reports whether the host UI window currently has focus. Completion
// notifications are suppressed while it does.
type Focus interface {
	Focused() bool
}

// Sink receives normalized events for the UI.
type Sink interface {
	Send(channel string, payload any)
}

// Config controls how the agent runtime subprocess is launched.
type Config struct {
	// Command is the runtime executable. Default "opencode".
	Command string
	// Args are passed to Command. The default asks for an ephemeral port so
	// the listening address must be parsed from the readiness line.
	Args []string
	// ReadyMarker is the prefix of the stdout line announcing the listening
	// address.
	ReadyMarker string
	// ReadyTimeout bounds the wait for the readiness line. Default 10s.
	ReadyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Command == "" {
		c.Command = "opencode"
	}
	if c.Args == nil {
		c.Args = []string{"serve", "--hostname", "127.0.0.1", "--port", "0"}
	}
	if c.ReadyMarker == "" {
		c.ReadyMarker = "opencode server listening on"
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	return c
}

// StreamEvent is the normalized event forwarded to the UI sink.
//
// ChildSessionID is set only when the event was resolved through the
// child-to-parent cache rather than a direct mapping; its presence is the
// sole signal the UI needs to route content into a sub-conversation view.
type StreamEvent struct {
	Type           string          `json:"type"`
	SessionID      string          `json:"sessionId"`
	Payload        json.RawMessage `json:"payload"`
	ChildSessionID string          `json:"childSessionId,omitempty"`
	Status         json.RawMessage `json:"status,omitempty"`
}

// ReconnectResult is returned by Reconnect. Success is false when the remote
// session could not be recovered; that is a result, not an error.
type ReconnectResult struct {
	Success       bool            `json:"success"`
	Status        json.RawMessage `json:"status,omitempty"`
	RevertMessage string          `json:"revertMessageId,omitempty"`
}

// RewindResult is returned by Undo and Redo. MessageID is the authoritative
// revert pointer after the operation ("" means the conversation head), Diff
// the runtime-reported diff for that pointer, and Prompt the restored user
// prompt text (undo only).
type RewindResult struct {
	MessageID string `json:"messageId,omitempty"`
	Diff      string `json:"diff,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
}
