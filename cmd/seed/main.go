package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/mindhaven/telehealth-scheduling/internal/db"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Str("service", "seed").Logger()

func main() {
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	psychologists, err := seedPsychologists(context.Background(), pool, 50)
	if err != nil {
		log.Fatal().Err(err).Msg("seed psychologists")
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedTemplates(context.Background(), pool, psychologists); err != nil {
		log.Fatal().Err(err).Msg("seed templates")
	}

	log.Info().Msg("seed complete")
}

func seedPsychologists(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding psychologists")

	specialties := []string{
		"Cognitive Behavioral Therapy",
		"Family Therapy",
		"Trauma & PTSD",
		"Anxiety & Depression",
		"Addiction Counseling",
		"Child & Adolescent",
		"Couples Therapy",
		"Grief Counseling",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO psychologists (id, name, email, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, gofakeit.Name(), gofakeit.Email(), spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info().Msg("psychologists seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded batch")
	}

	log.Info().Msg("patients seeded")
	return nil
}

// seedTemplates gives every psychologist a morning and an afternoon window
// on a random set of weekdays. The two windows never overlap, so the
// template overlap invariant holds by construction.
func seedTemplates(ctx context.Context, pool *pgxpool.Pool, psychologists []uuid.UUID) error {
	log.Info().Int("psychologists", len(psychologists)).Msg("seeding availability templates")

	windows := []struct{ start, end int }{
		{9 * 60, 12 * 60},
		{13 * 60, 17 * 60},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, pid := range psychologists {
		days := randomWeekdays()
		for _, w := range windows {
			if gofakeit.Bool() && w.start == 9*60 {
				// Some psychologists only work afternoons.
				continue
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO availability_templates
					(id, psychologist_id, days_of_week, start_minute, end_minute, is_active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, true, now(), now())
			`, uuid.New(), pid, days, w.start, w.end)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Msg("availability templates seeded")
	return nil
}

func randomWeekdays() []int32 {
	// Monday through Friday, each kept with 70% probability, at least one.
	var days []int32
	for d := int32(1); d <= 5; d++ {
		if gofakeit.Number(0, 9) < 7 {
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		days = []int32{int32(gofakeit.Number(1, 5))}
	}
	return days
}
