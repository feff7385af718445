package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"contest-session-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ContestLoader fetches contest content from a backing store (e.g., Postgres).
type ContestLoader interface {
	LoadContest(ctx context.Context, contestID string) (domain.Contest, error)
}

// ContestRepository caches contests with TTL to avoid repeated DB hits.
type ContestRepository struct {
	loader ContestLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedContest
}

type cachedContest struct {
	contest   domain.Contest
	expiresAt time.Time
}

func NewContestRepository(loader ContestLoader, ttl time.Duration) *ContestRepository {
	return &ContestRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedContest),
	}
}

func (r *ContestRepository) GetContest(ctx context.Context, contestID string) (domain.Contest, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[contestID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.contest, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(contestID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[contestID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.contest, nil
		}
		r.mu.RUnlock()

		contest, err := r.loader.LoadContest(ctx, contestID)
		if err != nil {
			return domain.Contest{}, err
		}

		r.mu.Lock()
		r.cache[contestID] = cachedContest{
			contest:   contest,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return contest, nil
	})
	if err != nil {
		return domain.Contest{}, err
	}
	return result.(domain.Contest), nil
}

func (r *ContestRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticContestLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticContestLoader struct {
	contests map[string]domain.Contest
}

func NewStaticContestLoader(contests map[string]domain.Contest) *StaticContestLoader {
	return &StaticContestLoader{contests: contests}
}

func (l *StaticContestLoader) LoadContest(_ context.Context, contestID string) (domain.Contest, error) {
	if contest, ok := l.contests[contestID]; ok {
		return contest, nil
	}
	return domain.Contest{}, domain.ErrContestNotFound
}
