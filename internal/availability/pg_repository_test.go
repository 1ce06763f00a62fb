package availability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgCreateTemplate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgRepository(mock)
	psy := uuid.New()
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO availability_templates").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "psychologist_id", "days_of_week", "start_minute", "end_minute",
			"is_active", "created_at", "updated_at",
		}).AddRow(id, psy, []int32{1, 3}, 600, 960, true, now, now))

	created, err := repo.CreateTemplate(context.Background(), &Template{
		PsychologistID: psy,
		DaysOfWeek:     []time.Weekday{time.Monday, time.Wednesday},
		StartMinute:    600,
		EndMinute:      960,
	})
	require.NoError(t, err)
	assert.Equal(t, id, created.ID)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, created.DaysOfWeek)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgDeactivateTemplateNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgRepository(mock)
	tplID, psy := uuid.New(), uuid.New()

	mock.ExpectExec("UPDATE availability_templates").
		WithArgs(tplID, psy).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.DeactivateTemplate(context.Background(), tplID, psy)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgDeactivateTemplateIdempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgRepository(mock)
	tplID, psy := uuid.New(), uuid.New()

	// The row matches even when already inactive, so repeated calls succeed.
	mock.ExpectExec("UPDATE availability_templates").
		WithArgs(tplID, psy).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.DeactivateTemplate(context.Background(), tplID, psy))
	require.NoError(t, mock.ExpectationsWereMet())
}
