package quotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alen95ae/stellarmotion-sub005/internal/inventory"
	"github.com/alen95ae/stellarmotion-sub005/internal/platform/db"
)

// Store abstracts quotation persistence.
type Store interface {
	Create(ctx context.Context, q Quotation) error
	Get(ctx context.Context, id string) (*Quotation, error)
	List(ctx context.Context, page, perPage int) ([]Quotation, int, error)
	Transition(ctx context.Context, id string, from, to Status) error
	UpdateLines(ctx context.Context, id string, lines []inventory.QuotationLine) error
	Delete(ctx context.Context, id string) error
}

// Repository persists quotations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, codigo, estado, sucursal, lineas, created_at, updated_at`

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var (
		q      Quotation
		status string
		lines  []byte
	)
	if err := row.Scan(&q.ID, &q.Code, &status, &q.Branch, &lines, &q.CreatedAt, &q.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("quotations: scan: %w", err)
	}
	q.Status = Status(status)
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &q.Lines); err != nil {
			return nil, fmt.Errorf("quotations: decode lineas for %s: %w", q.ID, err)
		}
	}
	return &q, nil
}

// Create inserts a new quotation.
func (r *Repository) Create(ctx context.Context, q Quotation) error {
	lines, err := json.Marshal(q.Lines)
	if err != nil {
		return fmt.Errorf("quotations: encode lineas: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO cotizaciones (id, codigo, estado, sucursal, lineas, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		q.ID, q.Code, string(q.Status), q.Branch, lines, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("quotations: insert: %w", err)
	}
	return nil
}

// Get fetches a quotation by id.
func (r *Repository) Get(ctx context.Context, id string) (*Quotation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+columns+` FROM cotizaciones WHERE id=$1`, id)
	return scanQuotation(row)
}

// List returns quotations newest first plus the total count.
func (r *Repository) List(ctx context.Context, page, perPage int) ([]Quotation, int, error) {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cotizaciones`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("quotations: count: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM cotizaciones ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("quotations: list: %w", err)
	}
	defer rows.Close()
	var out []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("quotations: list: %w", err)
	}
	return out, total, nil
}

// Transition moves a quotation between statuses, verifying the precondition
// under a row lock so two concurrent triggers cannot both pass the check.
func (r *Repository) Transition(ctx context.Context, id string, from, to Status) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var current string
		if err := tx.QueryRow(ctx, `SELECT estado FROM cotizaciones WHERE id=$1 FOR UPDATE`, id).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("quotations: lock row: %w", err)
		}
		if Status(current) != from {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
		}
		if _, err := tx.Exec(ctx, `UPDATE cotizaciones SET estado=$2, updated_at=$3 WHERE id=$1`,
			id, string(to), time.Now().UTC()); err != nil {
			return fmt.Errorf("quotations: update status: %w", err)
		}
		return nil
	})
}

// UpdateLines replaces a quotation's lines.
func (r *Repository) UpdateLines(ctx context.Context, id string, lines []inventory.QuotationLine) error {
	payload, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("quotations: encode lineas: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE cotizaciones SET lineas=$2, updated_at=$3 WHERE id=$1`,
		id, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("quotations: update lines: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a quotation.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM cotizaciones WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("quotations: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
