package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/habms/habms/internal/config"
	"github.com/habms/habms/internal/domain/identity"
	"github.com/habms/habms/internal/domain/scheduling"
	"github.com/habms/habms/internal/platform/auth"
	"github.com/habms/habms/internal/platform/db"
	"github.com/habms/habms/internal/platform/dispatch"
	"github.com/habms/habms/internal/platform/middleware"
	"github.com/habms/habms/internal/platform/session"
	"github.com/habms/habms/internal/platform/transport"
	"github.com/habms/habms/internal/platform/websocket"
	"github.com/habms/habms/migrations"
)

const (
	shutdownTimeout = 10 * time.Second
	httpTimeout     = 30 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "habms-server",
		Short: "Hospital appointment booking server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the line protocol and HTTP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, _ := cmd.Flags().GetBool("seed")
			return runServer(seed)
		},
	}
	cmd.Flags().Bool("seed", false, "Seed the administrator and sample doctors before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			ctx := context.Background()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format(time.RFC3339)
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema")
	cmd.AddCommand(statusCmd)

	return cmd
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// stores groups the repositories behind the services. pool is nil for the
// memory store.
type stores struct {
	ledger  scheduling.Ledger
	doctors scheduling.DoctorRepository
	users   identity.UserRepository
	pool    *pgxpool.Pool
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		mem := scheduling.NewMemStore()
		return &stores{
			ledger:  mem,
			doctors: mem.Doctors(),
			users:   identity.NewUserRepoMem(),
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	return &stores{
		ledger:  scheduling.NewLedgerPG(pool),
		doctors: scheduling.NewDoctorRepoPG(pool),
		users:   identity.NewUserRepoPG(pool),
		pool:    pool,
	}, nil
}

// app is the wired set of services shared by both transports.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	stores     *stores
	identity   *identity.Service
	scheduling *scheduling.Service
	tokens     *auth.TokenIssuer
	hub        *websocket.Hub
	dispatcher *dispatch.Dispatcher
}

func newApp(cfg *config.Config, st *stores, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	key, err := auth.SigningKey(cfg.TokenSigningKey)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		stores:     st,
		identity:   identity.NewService(st.users),
		scheduling: scheduling.NewService(st.ledger, st.doctors, logger),
		tokens:     auth.NewTokenIssuer(key, cfg.TokenTTL),
		hub:        websocket.NewHub(logger),
	}
	a.scheduling.SetPublisher(a.hub)
	a.scheduling.SetAccounts(a.identity)
	a.identity.SetReleaser(a.scheduling)

	d := dispatch.New(logger)
	d.Handle(session.ActionPing, dispatch.Ping)
	d.Register(
		identity.NewHandler(a.identity, a.tokens),
		scheduling.NewHandler(a.scheduling, loc),
		websocket.NewActions(a.hub),
	)
	for _, action := range session.Actions() {
		if !d.Has(action) {
			return nil, fmt.Errorf("action %q has no handler", action)
		}
	}
	a.dispatcher = d
	return a, nil
}

// newEcho builds the HTTP surface. The returned websocket handler must be
// closed on shutdown.
func (a *app) newEcho() (*echo.Echo, *websocket.Handler) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())

	e.GET("/health", db.LivenessHandler(a.cfg.Store))
	if a.stores.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.stores.pool))
	}

	api := e.Group("/api/v1")
	api.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		BurstSize:         a.cfg.RateLimitBurst,
		IdleTTL:           a.cfg.ConnIdleTimeout,
	}))
	api.Use(middleware.RequestTimeout(httpTimeout))
	scheduling.NewHTTPHandler(a.scheduling).RegisterRoutes(api, auth.JWTMiddleware(a.tokens))

	ws := websocket.NewHandler(a.hub, a.dispatcher, a.logger, a.cfg.ConnIdleTimeout)
	ws.RegisterRoutes(e)

	return e, ws
}

func (a *app) newLineServer() *transport.Server {
	return transport.NewServer(transport.Options{
		Addr:        a.cfg.ListenAddr,
		IdleTimeout: a.cfg.ConnIdleTimeout,
		RateLimit:   rate.Limit(a.cfg.RateLimitRPS),
		Burst:       a.cfg.RateLimitBurst,
	}, a.dispatcher, a.logger)
}

func runServer(seed bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open store")
		return err
	}
	if st.pool != nil {
		defer st.pool.Close()
		logger.Info().Msg("connected to database")
	} else {
		logger.Warn().Msg("using in-memory store; data is lost on exit")
	}

	a, err := newApp(cfg, st, logger)
	if err != nil {
		return err
	}
	if cfg.TokenSigningKey == "" {
		logger.Warn().Msg("TOKEN_SIGNING_KEY not set; bearer tokens will not survive a restart")
	}

	if seed {
		if err := seedData(ctx, a, time.Now()); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	e, ws := a.newEcho()
	lines := a.newLineServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return lines.Run(gctx)
	})
	g.Go(func() error {
		addr := ":" + cfg.HTTPPort
		logger.Info().Str("addr", addr).Msg("starting http server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		ws.Close()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
