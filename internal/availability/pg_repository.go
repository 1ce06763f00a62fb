package availability

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mindhaven/telehealth-scheduling/internal/db"
)

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var days []int32

	err := row.Scan(
		&t.ID,
		&t.PsychologistID,
		&days,
		&t.StartMinute,
		&t.EndMinute,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	t.DaysOfWeek = make([]time.Weekday, 0, len(days))
	for _, d := range days {
		t.DaysOfWeek = append(t.DaysOfWeek, time.Weekday(d))
	}
	return &t, nil
}

func daysToInt32(days []time.Weekday) []int32 {
	out := make([]int32, 0, len(days))
	for _, d := range days {
		out = append(out, int32(d))
	}
	return out
}

func (r *PgRepository) CreateTemplate(ctx context.Context, t *Template) (*Template, error) {
	id := t.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability_templates (id, psychologist_id, days_of_week, start_minute, end_minute, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, now(), now())
		RETURNING id, psychologist_id, days_of_week, start_minute, end_minute, is_active, created_at, updated_at
	`, id, t.PsychologistID, daysToInt32(t.DaysOfWeek), t.StartMinute, t.EndMinute)

	return scanTemplate(row)
}

func (r *PgRepository) DeactivateTemplate(ctx context.Context, templateID, psychologistID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE availability_templates
		SET is_active = false,
		    updated_at = now()
		WHERE id = $1
		  AND psychologist_id = $2
	`, templateID, psychologistID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *PgRepository) ListActiveTemplates(ctx context.Context, psychologistID uuid.UUID) ([]Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, psychologist_id, days_of_week, start_minute, end_minute, is_active, created_at, updated_at
		FROM availability_templates
		WHERE psychologist_id = $1
		  AND is_active = true
		ORDER BY start_minute
	`, psychologistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetTemplateByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, psychologist_id, days_of_week, start_minute, end_minute, is_active, created_at, updated_at
		FROM availability_templates
		WHERE id = $1
	`, id)
	return scanTemplate(row)
}
