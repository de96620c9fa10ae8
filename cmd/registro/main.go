package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vxs/registro/internal/config"
	"github.com/vxs/registro/internal/domain/audit"
	"github.com/vxs/registro/internal/domain/patient"
	"github.com/vxs/registro/internal/platform/branding"
	"github.com/vxs/registro/internal/platform/db"
	"github.com/vxs/registro/internal/platform/metrics"
	"github.com/vxs/registro/internal/platform/middleware"
	"github.com/vxs/registro/internal/platform/session"
	"github.com/vxs/registro/migrations"
)

const metricsNamespace = "registro"

func main() {
	rootCmd := &cobra.Command{
		Use:           "registro",
		Short:         "Patient registry API for Valentina por Siempre",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the registry API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres schema",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			migrator, closePool, err := openMigrator(ctx)
			if err != nil {
				return err
			}
			defer closePool()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			migrator, closePool, err := openMigrator(ctx)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func openMigrator(ctx context.Context) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required for migrations")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: 2, ConnectTimeout: cfg.StoreTimeout})
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrations.FS), pool.Close, nil
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		state, at := "pending", ""
		if s.Applied {
			state = "applied"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format(time.RFC3339)
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, state, at)
	}
}

func runServer() error {
	bootLogger := newLogger(os.Getenv("ENV"))

	cfg, err := loadConfig()
	if err != nil {
		bootLogger.Error().Err(err).Msg("failed to load config")
		return err
	}
	logger := newLogger(cfg.Env)

	loc, _ := cfg.Location()
	accessKeys, _ := cfg.Keys()
	signingKey, _ := cfg.SigningKey()
	if signingKey == nil {
		logger.Warn().Msg("SESSION_SIGNING_KEY not set, sessions will not survive a restart")
	}

	collector := metrics.NewCollector(metricsNamespace)

	ctx := context.Background()
	be, err := openBackend(ctx, cfg, logger, collector)
	if err != nil {
		logger.Error().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open store")
		return err
	}
	defer be.close()

	sessions, err := session.NewManager(signingKey)
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}
	sessions.SetIdleTTL(cfg.SessionIdleTTL)
	collector.Registerer().MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "sessions_active",
		Help:      "Number of live sessions.",
	}, func() float64 { return float64(sessions.Count()) }))

	e := newServer(cfg, logger, collector)

	// Routes
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/store", be.health)
	e.GET("/metrics", echo.WrapHandler(collector.Handler()))

	api := e.Group("/api/v1")
	authed := api.Group("", session.RequireSession(sessions), middleware.AccessLog(logger, sessionUser, accessCounter(collector)))

	sessionHandler := session.NewHandler(session.NewGate(accessKeys), sessions, logger)
	sessionHandler.SetObserver(collector)
	sessionHandler.RegisterRoutes(api, authed)

	branding.NewHandler(branding.NewLogo(cfg.LogoPath), logger).RegisterRoutes(api)

	auditSvc := audit.NewService(be.edits, loc)
	audit.NewHandler(auditSvc, logger).RegisterRoutes(authed)

	patientSvc := patient.NewService(be.patients, auditSvc, logger,
		patient.WithEvents(collector),
		patient.WithLocation(loc),
	)
	patient.NewHandler(patientSvc, logger, cfg.ExportFilename).RegisterRoutes(authed)

	// Start
	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("backend", be.name).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with the global middleware chain.
func newServer(cfg *config.Config, logger zerolog.Logger, collector *metrics.Collector) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(collector.Middleware())
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:        3600,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RateLimitRPS > 0 {
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimitRPS
		rl.BurstSize = cfg.RateLimitBurst
		e.Use(middleware.RateLimit(rl))
	}
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, skipTimeout))
	return e
}

func sessionUser(c echo.Context) string {
	if s := session.FromContext(c.Request().Context()); s != nil {
		return s.UserName
	}
	return ""
}

// accessCounter feeds access entries into the patient access counter.
func accessCounter(collector *metrics.Collector) middleware.AccessRecorder {
	return middleware.AccessRecorderFunc(func(entry middleware.AccessEntry) error {
		collector.PatientAccessed(entry.Action, entry.Status)
		return nil
	})
}

func skipTimeout(c echo.Context) bool {
	return strings.HasPrefix(c.Path(), "/health") || c.Path() == "/metrics"
}
