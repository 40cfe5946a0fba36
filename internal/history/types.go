package history

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports that the session has no metadata entry.
	ErrNotFound = errors.New("session not found")
	// ErrEmptyName rejects a blank display name.
	ErrEmptyName = errors.New("name cannot be empty")
)

// Turn is one immutable transcript entry. Citation and AudioURL are
// set on assistant turns only.
type Turn struct {
	Role     string `json:"role"`
	Text     string `json:"text"`
	Citation string `json:"citation,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SessionInfo describes one conversation thread for listing.
type SessionInfo struct {
	ID           string    `json:"session_id"`
	Name         string    `json:"name"`
	LastModified time.Time `json:"last_modified"`
}

// DefaultName is the id-derived display name used until a session is
// renamed or auto-titled.
func DefaultName(sessionID string) string {
	if len(sessionID) > 8 {
		return sessionID[:8]
	}
	return sessionID
}

// Store persists per-user conversation transcripts and session
// metadata. All operations are scoped to a single user partition.
type Store interface {
	// CreateSession allocates a new session with an empty transcript and
	// an id-derived default name.
	CreateSession(ctx context.Context, userID string) (SessionInfo, error)
	// ListSessions returns the user's sessions, most recently modified
	// first. Sessions created implicitly by a first turn are included
	// under their default name.
	ListSessions(ctx context.Context, userID string) ([]SessionInfo, error)
	// History returns the session transcript in append order; a session
	// that was never written yields an empty transcript.
	History(ctx context.Context, userID, sessionID string) ([]Turn, error)
	// AppendTurns extends the transcript; the whole batch lands
	// atomically from the caller's perspective.
	AppendTurns(ctx context.Context, userID, sessionID string, turns []Turn) error
	// SessionExists reports whether the session has a transcript or a
	// metadata entry.
	SessionExists(ctx context.Context, userID, sessionID string) (bool, error)
	// Rename changes the display name; ErrNotFound without a metadata
	// entry, ErrEmptyName on a blank name.
	Rename(ctx context.Context, userID, sessionID, name string) error
	// SetName stores a display name unconditionally (auto-titling).
	SetName(ctx context.Context, userID, sessionID, name string) error
	// Delete removes the transcript and metadata entry; deleting an
	// unknown session is not an error.
	Delete(ctx context.Context, userID, sessionID string) error
	Close() error
}

// NewSessionID returns a fresh opaque session id.
func NewSessionID() string { return newHexID() }
