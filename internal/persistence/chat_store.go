package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session or message lookup has no match.
var ErrNotFound = errors.New("persistence: not found")

// ErrForbidden is returned when a caller's userID does not own the session
// it is trying to read or mutate.
var ErrForbidden = errors.New("persistence: forbidden")

// ChatSession is one orchestrated conversation's durable record: its turn
// history lives in ChatMessage rows, while Summary/SummarizedCount track how
// much of that history the Summary Selector has already folded down.
type ChatSession struct {
	ID                 string
	Name               string
	UserID             *int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastMessagePreview string
	Model              string
	Summary            string
	SummarizedCount    int
}

// ChatMessage is a single turn in a ChatSession's transcript. Role is
// "user", "assistant", or "system".
type ChatMessage struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// ChatStore persists chat sessions and their message transcripts. userID is
// nil for unauthenticated/admin access, which bypasses ownership checks;
// otherwise every operation on a session owned by a different user fails
// with ErrForbidden.
type ChatStore interface {
	Init(ctx context.Context) error

	EnsureSession(ctx context.Context, userID *int64, id, name string) (ChatSession, error)
	CreateSession(ctx context.Context, userID *int64, name string) (ChatSession, error)
	GetSession(ctx context.Context, userID *int64, id string) (ChatSession, error)
	ListSessions(ctx context.Context, userID *int64) ([]ChatSession, error)
	RenameSession(ctx context.Context, userID *int64, id, name string) (ChatSession, error)
	DeleteSession(ctx context.Context, userID *int64, id string) error

	ListMessages(ctx context.Context, userID *int64, sessionID string, limit int) ([]ChatMessage, error)
	AppendMessages(ctx context.Context, userID *int64, sessionID string, messages []ChatMessage, preview string, model string) error

	UpdateSummary(ctx context.Context, userID *int64, sessionID string, summary string, summarizedCount int) error
}

// hasAccess reports whether userID may act on a session owned by owner. A
// nil userID is treated as an admin/internal caller with unrestricted
// access; a session with a nil owner is accessible only to such a caller.
func hasAccess(userID *int64, owner *int64) bool {
	if userID == nil {
		return true
	}
	if owner == nil {
		return false
	}
	return *userID == *owner
}
