package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"contest-session-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// SubmissionRepository persists the append-only submission records.
// The one-record-per-(contest, taker) invariant is enforced twice: the
// service pre-checks with Exists, and the unique index on
// (contest_id, taker_key) makes the insert itself refuse duplicates, so
// the narrow race between the client finalize and the backstop resolves
// to a single row either way.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

func (r *SubmissionRepository) Create(ctx context.Context, record domain.SubmissionRecord) error {
	answers, err := json.Marshal(record.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	flags, err := json.Marshal(record.CheatingFlags)
	if err != nil {
		return fmt.Errorf("marshal cheating flags: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO submissions
			(id, contest_id, taker_key, user_id, guest_name, guest_email, guest_phone,
			 score, total_questions, answers, cheating_flags, submitted_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (contest_id, taker_key) DO NOTHING`,
		record.ID, record.ContestID, record.TakerKey, record.UserID,
		record.GuestName, record.GuestEmail, record.GuestPhone,
		record.Score, record.TotalQuestions, answers, flags,
		record.SubmittedAt, string(record.Status),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadySubmitted
	}
	return nil
}

func (r *SubmissionRepository) Exists(ctx context.Context, contestID, takerKey string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM submissions WHERE contest_id=$1 AND taker_key=$2)`,
		contestID, takerKey,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check submission: %w", err)
	}
	return exists, nil
}

func (r *SubmissionRepository) ListByContest(ctx context.Context, contestID string) ([]domain.SubmissionRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, contest_id, taker_key, user_id, guest_name, guest_email, guest_phone,
		       score, total_questions, answers, cheating_flags, submitted_at, status
		FROM submissions WHERE contest_id=$1`,
		contestID,
	)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var records []domain.SubmissionRecord
	for rows.Next() {
		var (
			record       domain.SubmissionRecord
			answersRaw   []byte
			flagsRaw     []byte
			statusString string
		)
		if err := rows.Scan(
			&record.ID, &record.ContestID, &record.TakerKey, &record.UserID,
			&record.GuestName, &record.GuestEmail, &record.GuestPhone,
			&record.Score, &record.TotalQuestions, &answersRaw, &flagsRaw,
			&record.SubmittedAt, &statusString,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if err := json.Unmarshal(answersRaw, &record.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
		if err := json.Unmarshal(flagsRaw, &record.CheatingFlags); err != nil {
			return nil, fmt.Errorf("unmarshal cheating flags: %w", err)
		}
		record.Status = domain.SubmissionStatus(statusString)
		records = append(records, record)
	}
	return records, rows.Err()
}
