package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bynomo/bynomo/internal/config"
	"github.com/bynomo/bynomo/internal/deposit"
	"github.com/bynomo/bynomo/internal/fee"
	"github.com/bynomo/bynomo/internal/ledger"
	"github.com/bynomo/bynomo/internal/lock"
	"github.com/bynomo/bynomo/internal/metrics"
	"github.com/bynomo/bynomo/internal/middleware"
	"github.com/bynomo/bynomo/internal/notification"
	"github.com/bynomo/bynomo/internal/reconciliation"
	"github.com/bynomo/bynomo/internal/treasury"
	"github.com/bynomo/bynomo/internal/wallet"
	"github.com/bynomo/bynomo/internal/withdrawal"
)

// Deps aggregates shared dependencies required to wire routes. DB and Cache
// may be nil in development, where in-memory backends are used instead.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Chain   treasury.Backend
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Chain == nil {
		return fmt.Errorf("chain client is required")
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Health and metrics
	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	// Backends
	var (
		ledgerBackend ledger.Gateway
		journal       reconciliation.Journal
		locker        lock.Locker
	)
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresGateway(d.DB)
		journal = reconciliation.NewPostgresJournal(d.DB)
	} else {
		d.Logger.Warn("DATABASE_URL not set, using in-memory ledger and journal")
		ledgerBackend = ledger.NewInMemory()
		journal = reconciliation.NewInMemory()
	}
	if d.Cache != nil {
		locker = lock.NewRedisLocker(d.Cache)
	} else {
		locker = lock.NewMemoryLocker()
	}

	signer, err := treasury.NewSigner(context.Background(), d.Chain, d.Cfg.TreasuryKey, treasury.Options{
		GasReserve:      d.Cfg.GasReserve,
		ConfirmTimeout:  d.Cfg.ConfirmTimeout,
		PollInterval:    d.Cfg.ReceiptPollInterval,
		ExpectedChainID: d.Cfg.ChainID,
		OnBalance:       d.Metrics.SetTreasuryBalance,
	}, d.Logger)
	if err != nil {
		return fmt.Errorf("treasury signer: %w", err)
	}
	d.Logger.Info("treasury signer ready",
		slog.String("address", signer.Address().Hex()),
		slog.String("chain_id", signer.ChainID().String()),
	)

	// Services and handlers
	notifier := notification.NewLoggerNotifier(d.Logger)
	reconSvc := reconciliation.NewService(journal, notifier, d.Metrics, d.Logger)

	withdrawSvc, err := withdrawal.NewService(withdrawal.Deps{
		Ledger:          ledgerBackend,
		Treasury:        signer,
		Fees:            fee.NewPolicy(d.Cfg.FixedFeeRate),
		Locker:          locker,
		LockTTL:         d.Cfg.AccountLockTTL,
		Journal:         reconSvc,
		Notifier:        notifier,
		Metrics:         d.Metrics,
		Logger:          d.Logger,
		DefaultCurrency: d.Cfg.DefaultCurrency,
	})
	if err != nil {
		return err
	}

	depositDeps := deposit.Deps{
		Ledger:          ledgerBackend,
		Journal:         reconSvc,
		Metrics:         d.Metrics,
		Logger:          d.Logger,
		DefaultCurrency: d.Cfg.DefaultCurrency,
	}
	if d.Cfg.VerifyDepositsOnChain {
		depositDeps.Verifier = signer
	}
	depositSvc, err := deposit.NewService(depositDeps)
	if err != nil {
		return err
	}

	walletSvc := wallet.NewService(ledgerBackend, d.Cfg.DefaultCurrency)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	idempotent := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	RegisterBalanceRoutes(api, BalanceHandlers{
		Withdraw: withdrawal.NewHandler(withdrawSvc, d.Logger),
		Deposit:  deposit.NewHandler(depositSvc, d.Logger),
		Wallet:   wallet.NewHandler(walletSvc),
	}, middleware.WithdrawRateLimit(d.Cache, d.Cfg.WithdrawRateLimit), idempotent)
	RegisterTreasuryRoutes(api, signer, d.Cfg.DefaultCurrency, d.Logger)
	RegisterSessionRoutes(api)

	// Operator routes
	admin := api.Group("/admin", middleware.AdminAuth(d.Cfg.AdminKeyHash))
	RegisterReconciliationRoutes(admin, reconciliation.NewHandler(reconSvc))

	// Warm the balance gauge; a failure only leaves it unset.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := signer.Balance(ctx); err != nil {
			d.Logger.Warn("treasury balance unavailable at startup", slog.Any("error", err))
		}
	}()

	return nil
}
