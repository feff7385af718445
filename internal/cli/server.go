package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contest-session-service/internal/app"
	"contest-session-service/internal/config"
	"contest-session-service/internal/domain"
	"contest-session-service/internal/infra/memory"
	pgloader "contest-session-service/internal/infra/postgres"
	redisinfra "contest-session-service/internal/infra/redis"
	transport "contest-session-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the contest session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	sessionTTL := config.TTLDuration(cfg.Session.TTL, 6*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.ContestLoader = memory.NewStaticContestLoader(sampleContests())
	if pool != nil {
		loader = pgloader.NewContestLoader(pool)
	}

	contestTTL := config.TTLDuration(cfg.Contest.TTL, 10*time.Minute)
	var contests app.ContestRepository
	if redisClient != nil {
		contests = redisinfra.NewContestRepository(redisClient, loader, contestTTL)
	} else {
		contests = memory.NewContestRepository(loader, contestTTL)
	}

	var attempts app.AttemptStore
	if redisClient != nil {
		attempts = redisinfra.NewAttemptStore(redisClient, sessionTTL)
	} else {
		attempts = memory.NewAttemptStore()
	}

	var submissions app.SubmissionRepository
	if pool != nil {
		submissions = pgloader.NewSubmissionRepository(pool)
	} else {
		submissions = memory.NewSubmissionRepository()
	}

	defaults := app.Defaults{
		DurationSeconds: cfg.Contest.DefaultDuration,
		MaxWarnings:     cfg.Contest.MaxWarnings,
		GraceSeconds:    cfg.Contest.GracePeriod,
	}
	backstop := app.NewBackstop(attempts, submissions)
	service := app.NewAttemptService(attempts, contests, submissions, backstop, defaults)

	wsHandler := transport.NewWSHandler(service)
	backstopHandler := transport.NewBackstopHandler(backstop, attempts, defaults.GraceSeconds)
	leaderboardHandler := transport.NewLeaderboardHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.Handle("/api/auto-submit", backstopHandler)
	mux.Handle("/api/leaderboard", leaderboardHandler)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting contest session service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleContests provides minimal contest data; swap the loader for the
// Postgres-backed one in production.
func sampleContests() map[string]domain.Contest {
	return map[string]domain.Contest{
		"contest-1": {
			ID:              "contest-1",
			Title:           "General Knowledge Sprint",
			DurationSeconds: 300,
			MaxWarnings:     2,
			GraceSeconds:    30,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					Points: 1,
				},
				{
					ID:     "q2",
					Prompt: "Which planet is closest to the sun?",
					Options: []domain.Option{
						{ID: "o1", Text: "Venus", Correct: false},
						{ID: "o2", Text: "Mercury", Correct: true},
						{ID: "o3", Text: "Mars", Correct: false},
						{ID: "o4", Text: "Earth", Correct: false},
					},
					Points: 2,
				},
			},
		},
	}
}
