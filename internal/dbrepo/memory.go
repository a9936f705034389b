package dbrepo

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/screenverify/engine/internal/session"
)

// MemorySessionRepository is an in-process fake SessionRepository for tests
// and for the mock/dev CLI mode, mirroring the teacher's in-memory
// session.Store pattern.
type MemorySessionRepository struct {
	mu   sync.Mutex
	rows map[string]SessionRow // keyed by token
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{rows: make(map[string]SessionRow)}
}

// Put seeds or replaces a row, keyed by its token. Test helper.
func (r *MemorySessionRepository) Put(row SessionRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[row.Token] = row
}

func (r *MemorySessionRepository) GetByToken(ctx context.Context, token string) (*SessionRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := row
	return &cp, nil
}

func (r *MemorySessionRepository) UpdateProgress(ctx context.Context, id string, currentStep int, status string, metadata json.RawMessage, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, row := range r.rows {
		if row.ID == id {
			row.CurrentStep = currentStep
			row.Status = status
			row.Metadata = metadata
			row.UpdatedAt = now
			r.rows[token] = row
			return nil
		}
	}
	return ErrNotFound
}

// MemoryTemplateRepository is an in-process fake TemplateRepository.
type MemoryTemplateRepository struct {
	mu        sync.Mutex
	templates map[string]*session.Template
}

func NewMemoryTemplateRepository() *MemoryTemplateRepository {
	return &MemoryTemplateRepository{templates: make(map[string]*session.Template)}
}

// Put seeds or replaces a template. Test helper.
func (r *MemoryTemplateRepository) Put(tmpl *session.Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tmpl.ID] = tmpl
}

func (r *MemoryTemplateRepository) LoadTemplate(id string) (*session.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tmpl, ok := r.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tmpl, nil
}
