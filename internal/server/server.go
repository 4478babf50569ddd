package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bynomo/bynomo/internal/config"
	"github.com/bynomo/bynomo/internal/metrics"
	"github.com/bynomo/bynomo/internal/middleware"
	"github.com/bynomo/bynomo/internal/routes"
	"github.com/bynomo/bynomo/internal/treasury"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// db and cache may be nil in development.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, chain treasury.Backend, logger *slog.Logger) (*Server, error) {
	// Withdrawals block until the payout confirms, so the write timeout has
	// to outlast the confirmation wait.
	writeTimeout := 30 * time.Second
	if wait := cfg.ConfirmTimeout + 30*time.Second; wait > writeTimeout {
		writeTimeout = wait
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		ErrorHandler: middleware.ErrorHandler(logger),
	})

	err := routes.Setup(app, routes.Deps{
		Cfg:     cfg,
		DB:      db,
		Cache:   cache,
		Chain:   chain,
		Metrics: metrics.New(),
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg}, nil
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server. In-flight withdrawals keep
// running until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
