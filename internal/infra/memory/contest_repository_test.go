package memory

import (
	"context"
	"testing"
	"time"

	"contest-session-service/internal/domain"
)

func TestContestRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		ContestLoader: NewStaticContestLoader(map[string]domain.Contest{
			"contest-1": sampleContest(),
		}),
	}
	repo := NewContestRepository(loader, time.Minute)

	if _, err := repo.GetContest(context.Background(), "contest-1"); err != nil {
		t.Fatalf("get contest: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := repo.GetContest(context.Background(), "contest-1"); err != nil {
		t.Fatalf("get contest 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestContestRepositoryUnknownContest(t *testing.T) {
	repo := NewContestRepository(NewStaticContestLoader(nil), time.Minute)
	if _, err := repo.GetContest(context.Background(), "missing"); err != domain.ErrContestNotFound {
		t.Fatalf("expected ErrContestNotFound, got %v", err)
	}
}

type countingLoader struct {
	ContestLoader
	calls int
}

func (l *countingLoader) LoadContest(ctx context.Context, contestID string) (domain.Contest, error) {
	l.calls++
	return l.ContestLoader.LoadContest(ctx, contestID)
}

func sampleContest() domain.Contest {
	return domain.Contest{
		ID:              "contest-1",
		DurationSeconds: 300,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
				Points: 1,
			},
		},
	}
}
