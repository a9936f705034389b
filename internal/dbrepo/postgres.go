package dbrepo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/screenverify/engine/internal/session"
)

// PostgresSessionRepository is the production SessionRepository, backed by
// a pgx connection pool (§6.5).
type PostgresSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSessionRepository(pool *pgxpool.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool}
}

func (r *PostgresSessionRepository) GetByToken(ctx context.Context, token string) (*SessionRow, error) {
	const q = `
		SELECT id, token, template_id, status, current_step, metadata, used_at, expires_at, created_at, updated_at
		FROM sessions
		WHERE token = $1
	`
	var row SessionRow
	err := r.pool.QueryRow(ctx, q, token).Scan(
		&row.ID, &row.Token, &row.TemplateID, &row.Status, &row.CurrentStep,
		&row.Metadata, &row.UsedAt, &row.ExpiresAt, &row.CreatedAt, &row.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *PostgresSessionRepository) UpdateProgress(ctx context.Context, id string, currentStep int, status string, metadata json.RawMessage, now time.Time) error {
	const q = `
		UPDATE sessions
		SET current_step = $2, status = $3, metadata = $4, updated_at = $5
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, q, id, currentStep, status, metadata, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresTemplateRepository is the production TemplateRepository.
type PostgresTemplateRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresTemplateRepository(pool *pgxpool.Pool) *PostgresTemplateRepository {
	return &PostgresTemplateRepository{pool: pool}
}

func (r *PostgresTemplateRepository) LoadTemplate(id string) (*session.Template, error) {
	const q = `SELECT id, name, platform, steps FROM templates WHERE id = $1`
	ctx := context.Background()

	var (
		tmpl  session.Template
		steps json.RawMessage
	)
	err := r.pool.QueryRow(ctx, q, id).Scan(&tmpl.ID, &tmpl.Name, &tmpl.Platform, &steps)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &tmpl.Steps); err != nil {
		return nil, err
	}
	return &tmpl, nil
}
