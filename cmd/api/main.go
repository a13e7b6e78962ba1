package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/nova/internal/config"
	"github.com/zhouzirui/nova/internal/handler"
	uploadhandler "github.com/zhouzirui/nova/internal/handler/upload"
	"github.com/zhouzirui/nova/internal/logging"
	"github.com/zhouzirui/nova/internal/metrics"
	"github.com/zhouzirui/nova/internal/middleware"
	"github.com/zhouzirui/nova/internal/model/catalog"
	"github.com/zhouzirui/nova/internal/service/ai"
	authsvc "github.com/zhouzirui/nova/internal/service/auth"
	"github.com/zhouzirui/nova/internal/service/chat"
	taskservice "github.com/zhouzirui/nova/internal/service/task"
	feedbackstore "github.com/zhouzirui/nova/internal/storage/feedback"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(logging.DefaultConfig())
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, using process environment only")
	}

	services := catalog.NewMemoryStore(catalog.Seed())
	history := chat.NewService(chat.DefaultLimit)
	m := metrics.New()

	answerer := newAnswerer(ctx, cfg, services, log)

	authService := authsvc.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	for _, u := range cfg.Auth.Users {
		if err := authService.AddUser(u.Username, u.Password, u.Name, u.Email); err != nil {
			log.Fatal().Err(err).Str("username", u.Username).Msg("failed to register user")
		}
	}
	if cfg.Auth.JWTSecret == config.DevSecret {
		log.Warn().Msg("AUTH_JWT_SECRET not set, signing tokens with the development secret")
	}

	repo := newFeedbackRepository(ctx, cfg.Redis, log)
	defer repo.Close()

	runner := taskservice.NewRunner(answerer, services, taskservice.Config{
		Timeout:   cfg.Task.Timeout,
		Retention: cfg.Task.Retention,
	},
		taskservice.WithLogger(log.With().Str("component", "runner").Logger()),
		taskservice.WithHistory(history),
		taskservice.WithObserver(m),
	)
	defer runner.Close()

	uploads, err := uploadhandler.New(cfg.Upload.Dir, cfg.Upload.MaxBytes, m, log.With().Str("component", "upload").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare upload storage")
	}

	limiter := middleware.NewRateLimiter(log, middleware.RateLimiterOptions{
		Limit: rate.Limit(cfg.RateLimit.RPS),
		Burst: cfg.RateLimit.Burst,
	})
	defer limiter.Close()

	router := handler.NewRouter(handler.Deps{
		Auth:     authService,
		Services: services,
		Tasks:    runner,
		Feedback: repo,
		Uploads:  uploads,
		Metrics:  m,
		Limiter:  limiter,
		Log:      log,
	})

	startServer(ctx, cfg.Server, router, log)
}

func newAnswerer(ctx context.Context, cfg *config.Config, services catalog.Store, log zerolog.Logger) taskservice.Answerer {
	if !cfg.AI.Enabled() {
		log.Warn().Msg("Ark credentials not configured, answering with canned responses")
		return ai.NewCanned(services, cfg.Task.StepDelay)
	}
	svc, err := ai.NewService(ctx, services, cfg.AI, log.With().Str("component", "ai").Logger())
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize AI service, answering with canned responses")
		return ai.NewCanned(services, cfg.Task.StepDelay)
	}
	log.Info().Bool("stream", svc.StreamingEnabled()).Msg("AI service initialized")
	return svc
}

func newFeedbackRepository(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) feedbackstore.Repository {
	if !cfg.Enabled() {
		log.Info().Msg("REDIS_URL not set, keeping feedback in memory")
		return feedbackstore.NewMemoryRepository()
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	repo, err := feedbackstore.NewRedisRepository(pingCtx, cfg.URL)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, keeping feedback in memory")
		return feedbackstore.NewMemoryRepository()
	}
	log.Info().Msg("feedback stored in redis")
	return repo
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log zerolog.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", serverCfg.Addr).Msg("nova backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
