package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	auth "github.com/goliatone/go-session-auth"
	"github.com/goliatone/go-session-auth/config"
	"github.com/goliatone/go-session-auth/mailer"
	"github.com/goliatone/go-session-auth/ratelimit"
	"github.com/goliatone/go-session-auth/repository"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
)

const envFile = ".env"

type App struct {
	config  *config.Config
	secrets *config.SecretsProvider
	db      *bun.DB
	repo    repository.Manager
	limiter auth.Limiter
	sweeper *ratelimit.Memory
	service *auth.AuthService
	srv     router.Server[*fiber.App]
	cron    *cron.Cron
	logger  *glog.BaseLogger
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	cfg, err := config.Load(envFile)
	if err != nil {
		panic(err)
	}

	level := glog.Info
	if cfg.Debug {
		level = glog.Trace
	}

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(level),
		glog.WithName("authd"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)

	if cfg.Debug {
		fmt.Println("============")
		fmt.Println(print.MaybeHighlightJSON(redacted(cfg)))
		fmt.Println("============")
	}

	app := &App{config: cfg, logger: lgr}

	ctx := context.Background()

	if err := WithSecrets(ctx, app); err != nil {
		panic(err)
	}

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithAuthService(ctx, app); err != nil {
		panic(err)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		panic(err)
	}

	if err := WithScheduler(ctx, app); err != nil {
		panic(err)
	}

	go func() {
		if err := app.srv.Serve(cfg.HTTPAddr); err != nil {
			app.GetLogger("http").Error("server stopped", "error", err)
		}
	}()

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())

	shutdown(app)
}

func WithSecrets(_ context.Context, app *App) error {
	secrets, err := config.NewSecretsProvider(app.config, envFile)
	if err != nil {
		return fmt.Errorf("token secrets: %w", err)
	}
	app.secrets = secrets

	// SIGHUP reloads the secrets from the env file
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGHUP)
		for range ch {
			if err := app.secrets.Reload(); err != nil {
				app.GetLogger("config").Error("secrets reload rejected", "error", err)
				continue
			}
			app.GetLogger("config").Info("secrets reloaded")
		}
	}()

	return nil
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.config.Persistence()

	var (
		sqldb   *sql.DB
		dialect schema.Dialect
		err     error
	)
	switch cfg.GetDriver() {
	case config.DriverPostgres:
		sqldb, err = sql.Open("pgx", cfg.GetDSN())
		dialect = pgdialect.New()
	default:
		sqldb, err = sql.Open(sqliteshim.ShimName, cfg.GetDSN())
		if err == nil {
			sqldb.SetMaxOpenConns(1)
		}
		dialect = sqlitedialect.New()
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.GetDriver(), err)
	}

	persistence.RegisterModel((*auth.User)(nil))
	persistence.RegisterModel((*auth.Session)(nil))

	client, err := persistence.New(cfg, sqldb, dialect)
	if err != nil {
		return fmt.Errorf("persistence: %w", err)
	}

	client.SetLogger(app.GetLogger("persistence"))

	migrationsFS, err := fs.Sub(auth.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return err
	}
	client.RegisterDialectMigrations(
		migrationsFS,
		persistence.WithDialectSourceLabel("data/sql/migrations"),
		persistence.WithValidationTargets(config.DriverPostgres, config.DriverSQLite),
	)
	if err := client.ValidateDialects(ctx); err != nil {
		return fmt.Errorf("validate migrations: %w", err)
	}

	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if report := client.Report(); report != nil && !report.IsZero() {
		app.GetLogger("persistence").Info("migrations applied", "report", report.String())
	}

	repo := repository.NewManager(client.DB())
	repo.MustValidate()

	app.db = client.DB()
	app.repo = repo

	return nil
}

func WithAuthService(_ context.Context, app *App) error {
	cfg := app.config

	var sender mailer.Sender = mailer.NewLogSender(app.GetLogger("mailer"))
	if cfg.AMQPURL != "" {
		sender = mailer.NewAMQPSender(cfg.AMQPURL, cfg.MailQueue, app.GetLogger("mailer"))
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		app.limiter = ratelimit.NewRedis(client, cfg.LimitAttempts, cfg.LimitWindow, "auth")
	} else {
		memory := ratelimit.NewMemory(cfg.LimitAttempts, cfg.LimitWindow)
		app.limiter = memory
		app.sweeper = memory
	}

	app.service = auth.NewAuthService(
		app.repo.Users(),
		app.repo.Sessions(),
		mailer.New(sender),
		app.secrets,
		auth.WithLogger(app.GetLogger("auth")),
		auth.WithLimiter(app.limiter),
		auth.WithIssuer(cfg.Issuer),
		auth.WithAudience(cfg.Audience...),
		auth.WithRequireConfirmedEmail(cfg.RequireConfirmedEmail),
		auth.WithHashidUserIDs(cfg.HashidUserIDs),
		auth.WithActivitySink(activityLogger(app.GetLogger("auth:activity"))),
	)

	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: app.config.Debug,
			StrictRouting:     false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	controller := auth.NewHTTPController(
		app.service,
		auth.WithControllerLogger(app.GetLogger("auth:http")),
		auth.WithControllerDebug(app.config.Debug),
	)
	controller.RegisterRoutes(srv.Router())

	app.srv = srv

	return nil
}

func WithScheduler(ctx context.Context, app *App) error {
	c := cron.New(cron.WithSeconds())
	logger := app.GetLogger("cron")

	_, err := c.AddFunc(app.config.PurgeSchedule, func() {
		purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		before := time.Now().Add(-app.config.Secrets.Refresh.TTL)
		removed, err := app.repo.Sessions().PurgeIdle(purgeCtx, before)
		if err != nil {
			logger.Error("purge idle sessions failed", "error", err)
			return
		}
		logger.Info("purged idle sessions", "count", removed, "before", before)

		if app.sweeper != nil {
			app.sweeper.Sweep()
		}
	})
	if err != nil {
		return fmt.Errorf("schedule purge %q: %w", app.config.PurgeSchedule, err)
	}

	c.Start()
	app.cron = c

	return nil
}

func shutdown(app *App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := app.GetLogger("app")

	if err := app.srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	<-app.cron.Stop().Done()
	app.service.Wait()

	if err := app.db.Close(); err != nil {
		logger.Error("close db", "error", err)
	}
}

func activityLogger(logger glog.Logger) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		logger.Info("activity",
			"event", event.EventType,
			"user_id", event.UserID,
			"session_id", event.SessionID,
		)
		return nil
	})
}

func redacted(cfg *config.Config) map[string]any {
	return map[string]any{
		"driver":                  cfg.Persistence().GetDriver(),
		"issuer":                  cfg.Issuer,
		"audience":                cfg.Audience,
		"http_addr":               cfg.HTTPAddr,
		"require_confirmed_email": cfg.RequireConfirmedEmail,
		"hashid_user_ids":         cfg.HashidUserIDs,
		"mail_queue":              cfg.MailQueue,
		"amqp":                    cfg.AMQPURL != "",
		"redis":                   cfg.RedisAddr != "",
		"limit_attempts":          cfg.LimitAttempts,
		"limit_window":            cfg.LimitWindow.String(),
		"purge_schedule":          cfg.PurgeSchedule,
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
