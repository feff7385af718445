package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"contest-session-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ContestLoader fetches contest content from a backing store (e.g., Postgres).
type ContestLoader interface {
	LoadContest(ctx context.Context, contestID string) (domain.Contest, error)
}

// ContestRepository caches whole contests as JSON in Redis
// (SET contest:{contestID} {json}) and falls back to a loader on cache
// miss. The full document (prompts and answer key included) is cached
// because an attempt snapshots its question set at start and must never
// refetch mid-attempt.
type ContestRepository struct {
	client *redis.Client
	loader ContestLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewContestRepository(client *redis.Client, loader ContestLoader, ttl time.Duration) *ContestRepository {
	return &ContestRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ContestRepository) GetContest(ctx context.Context, contestID string) (domain.Contest, error) {
	cacheKey := r.key(contestID)

	if contest, ok := r.fromCache(ctx, cacheKey); ok {
		return contest, nil
	}

	result, err, _ := r.sf.Do(contestID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if contest, ok := r.fromCache(ctx, cacheKey); ok {
			return contest, nil
		}

		contest, err := r.loader.LoadContest(ctx, contestID)
		if err != nil {
			return domain.Contest{}, err
		}

		if data, err := json.Marshal(contest); err == nil {
			_ = r.client.Set(ctx, cacheKey, data, r.ttlWithJitter()).Err()
		}
		return contest, nil
	})
	if err != nil {
		return domain.Contest{}, err
	}
	return result.(domain.Contest), nil
}

func (r *ContestRepository) fromCache(ctx context.Context, cacheKey string) (domain.Contest, bool) {
	data, err := r.client.Get(ctx, cacheKey).Bytes()
	if err != nil {
		return domain.Contest{}, false
	}
	var contest domain.Contest
	if err := json.Unmarshal(data, &contest); err != nil {
		return domain.Contest{}, false
	}
	return contest, true
}

func (r *ContestRepository) key(contestID string) string {
	return "contest:" + contestID
}

func (r *ContestRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
