package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"contest-session-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ContestLoader loads contest JSONB from Postgres.
type ContestLoader struct {
	pool *pgxpool.Pool
}

func NewContestLoader(pool *pgxpool.Pool) *ContestLoader {
	return &ContestLoader{pool: pool}
}

func (l *ContestLoader) LoadContest(ctx context.Context, contestID string) (domain.Contest, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM contests WHERE id=$1`, contestID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Contest{}, domain.ErrContestNotFound
	}
	if err != nil {
		return domain.Contest{}, fmt.Errorf("load contest: %w", err)
	}
	var contest domain.Contest
	if err := json.Unmarshal(raw, &contest); err != nil {
		return domain.Contest{}, fmt.Errorf("unmarshal contest: %w", err)
	}
	return contest, nil
}
