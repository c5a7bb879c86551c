package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mtdlab/stackplan/internal/auth"
	"github.com/mtdlab/stackplan/internal/config"
	"github.com/mtdlab/stackplan/internal/handler"
	"github.com/mtdlab/stackplan/internal/logger"
	"github.com/mtdlab/stackplan/internal/middleware"
	"github.com/mtdlab/stackplan/internal/repository/postgres"
	redisrepo "github.com/mtdlab/stackplan/internal/repository/redis"
	"github.com/mtdlab/stackplan/internal/service"
	"github.com/mtdlab/stackplan/internal/solver"
	"github.com/mtdlab/stackplan/pkg/mip"
)

func main() {
	logger.Init()
	cfg := config.Load()
	log.Info().Str("databaseURL", cfg.DatabaseURL).Msg("Config loaded")

	// Database
	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()
	if err := postgres.InitSchema(db); err != nil {
		log.Fatal().Err(err).Msg("Schema init failed")
	}

	// Redis
	redisClient, err := redisrepo.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer redisClient.Close()

	// Repos
	runRepo := postgres.NewRunRepo(db)
	marginalRepo := postgres.NewMarginalRepo(db)

	// Auth
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret)
	googleOAuth := auth.NewGoogleOAuth(
		os.Getenv("GOOGLE_CLIENT_ID"),
		os.Getenv("GOOGLE_CLIENT_SECRET"),
		os.Getenv("GOOGLE_REDIRECT_URL"),
		os.Getenv("OAUTH_ALLOWED_DOMAIN"),
	)

	// WebSocket hub
	wsHub := handler.NewHub()

	// Solver stack
	backend := mip.NewBranchBound(mip.Options{MaxNodes: cfg.SolverNodes})
	orch := solver.New(backend, cfg.SolveWorkers)
	solveSvc := service.NewSolveService(orch, runRepo, marginalRepo, redisClient, wsHub)

	// Handlers
	authHandler := handler.NewAuthHandler(googleOAuth, jwtMgr)
	runHandler := handler.NewRunHandler(solveSvc)
	wsHandler := handler.NewWSHandler(wsHub, jwtMgr)

	// Router
	mux := http.NewServeMux()
	authMw := auth.Middleware(jwtMgr)

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth (public)
	mux.HandleFunc("GET /auth/google/login", authHandler.GoogleLogin)
	mux.HandleFunc("GET /auth/google/callback", authHandler.GoogleCallback)
	mux.HandleFunc("POST /auth/refresh", authHandler.RefreshToken)
	mux.HandleFunc("GET /auth/dev", authHandler.DevLogin)

	// Protected API routes
	api := http.NewServeMux()
	api.HandleFunc("POST /runs", runHandler.CreateRun)
	api.HandleFunc("GET /runs", runHandler.ListRuns)
	api.HandleFunc("GET /runs/{id}", runHandler.GetRun)

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", authMw(api)))

	// WebSocket (auth via query param, not middleware)
	mux.HandleFunc("GET /api/v1/ws", wsHandler.ServeWS)

	// Apply global middleware
	root := middleware.Chain(mux, middleware.Logger, middleware.CORS("*"), middleware.JSON)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // solves run inside the request
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}
