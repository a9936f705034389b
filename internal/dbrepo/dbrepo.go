// Package dbrepo is the durable record store behind the session store
// (§6.5): the `sessions` row a token resolves to, and the `templates` row
// its template id resolves to. The engine reads both on connect and writes
// back only current_step, status, metadata, updated_at on sessions.
package dbrepo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/screenverify/engine/internal/session"
)

// ErrNotFound is returned by SessionRepository/TemplateRepository lookups
// when the row does not exist.
var ErrNotFound = errors.New("dbrepo: not found")

// StatusExpired marks a row as expired independent of ExpiresAt — set by
// whatever out-of-scope process revokes a session early (§4.1 step 1).
const StatusExpired = "expired"

// SessionRow is the persisted `sessions` record (§6.5).
type SessionRow struct {
	ID         string
	Token      string
	TemplateID string
	Status     string
	CurrentStep int
	Metadata   json.RawMessage
	UsedAt     time.Time
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Expired reports whether the row's expiry has passed, or its status has
// been marked expired directly (§4.1 step 1: "the row's expiry is in the
// past or status indicates expired").
func (r *SessionRow) Expired(now time.Time) bool {
	return r.Status == StatusExpired || (!r.ExpiresAt.IsZero() && now.After(r.ExpiresAt))
}

// SessionMetadata is the shape persisted into SessionRow.Metadata: the
// committed extraction list incrementally (§4.3), plus the terminal trust
// bundle on completion (§4.4 step 6).
type SessionMetadata struct {
	ExtractedData []session.ExtractedPair `json:"extractedData,omitempty"`
	CompletedAt   string                   `json:"completedAt,omitempty"`
	Trust         json.RawMessage          `json:"trust,omitempty"`
}

// SessionRepository reads and writes the `sessions` table (§6.5).
type SessionRepository interface {
	GetByToken(ctx context.Context, token string) (*SessionRow, error)
	// UpdateProgress persists the fields the engine is allowed to mutate:
	// current_step, status, metadata, updated_at.
	UpdateProgress(ctx context.Context, id string, currentStep int, status string, metadata json.RawMessage, now time.Time) error
}

// TemplateRepository reads the `templates` table (§6.5). The engine never
// writes templates — that is the out-of-scope CRUD layer (spec.md §1). It
// satisfies session.TemplateLoader so the engine can depend on the narrower
// interface.
type TemplateRepository interface {
	LoadTemplate(id string) (*session.Template, error)
}
