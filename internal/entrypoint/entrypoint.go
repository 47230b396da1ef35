package entrypoint

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mrlokans/secrets/internal/audit"
	"github.com/mrlokans/secrets/internal/auth"
	"github.com/mrlokans/secrets/internal/config"
	"github.com/mrlokans/secrets/internal/crypto"
	"github.com/mrlokans/secrets/internal/database"
	auditrepo "github.com/mrlokans/secrets/internal/database/audit"
	"github.com/mrlokans/secrets/internal/database/users"
	"github.com/mrlokans/secrets/internal/federation"
	"github.com/mrlokans/secrets/internal/federation/providers"
	http_controllers "github.com/mrlokans/secrets/internal/http"
	"github.com/mrlokans/secrets/internal/logging"
	"github.com/mrlokans/secrets/internal/scheduler"
	"github.com/mrlokans/secrets/internal/tasks"
	"github.com/mrlokans/secrets/internal/tokenstore"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

// App holds the wired service and everything that has to be released when
// it stops.
type App struct {
	Router *http_controllers.Router
	DB     *database.Database
	Users  *users.Repository

	closers   []func(ctx context.Context)
	taskStart func()
}

// Start launches background workers.
func (a *App) Start() {
	if a.taskStart != nil {
		a.taskStart()
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
}

func (a *App) onClose(fn func(ctx context.Context)) {
	a.closers = append(a.closers, fn)
}

// secretBytes accepts a hex secret as produced by GenerateSessionSecret and
// falls back to the raw bytes. The result is always 32 bytes.
func secretBytes(secret string) []byte {
	if decoded, err := hex.DecodeString(secret); err == nil && len(decoded) == 32 {
		return decoded
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// subkey derives a purpose-bound key from secret so one configured secret
// never keys two different MACs.
func subkey(secret []byte, purpose string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(purpose))
	return mac.Sum(nil)
}

// stateSecret keys the handshake state cookie. Without FEDERATION_STATE_SECRET
// it is derived from the session secret and differs from the CSRF key.
func stateSecret(cfg config.Federation, sessionSecret []byte) []byte {
	if cfg.StateSecret != "" {
		return secretBytes(cfg.StateSecret)
	}
	return subkey(sessionSecret, "federation-state")
}

// OpenDatabase connects to the configured store.
func OpenDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.Database, error) {
	return database.Open(ctx, cfg.Database, logger.Named("database"))
}

// NewEncryptor resolves the data key, creating the key file on first start.
func NewEncryptor(cfg *config.Config, logger *zap.Logger) (*crypto.Encryptor, error) {
	key, created, err := crypto.LoadOrCreateKey(cfg.Crypto.EncryptionKey, cfg.Crypto.KeyFilePath)
	if err != nil {
		return nil, err
	}
	if created {
		logger.Info("generated new encryption key", zap.String("path", cfg.Crypto.KeyFilePath))
	}
	return crypto.NewEncryptorFromBase64(key)
}

// NewAuthService builds the local credential strategy over repo.
func NewAuthService(cfg *config.Config, repo *users.Repository, enc *crypto.Encryptor, logger *zap.Logger) (*auth.Service, error) {
	hasher, err := auth.NewHasher(auth.HasherConfigFrom(cfg.Auth))
	if err != nil {
		return nil, fmt.Errorf("invalid password hashing configuration: %w", err)
	}
	return auth.NewService(repo, hasher, enc, logger), nil
}

// Build wires every component from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, version string) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{}
	defer func() {
		if err != nil {
			app.Close(context.Background())
		}
	}()

	db, err := OpenDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.DB = db
	app.onClose(func(context.Context) {
		if err := db.Close(); err != nil {
			logger.Error("error closing database", zap.Error(err))
		}
	})

	enc, err := NewEncryptor(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	repo := users.NewRepository(db.DB)
	app.Users = repo

	authService, err := NewAuthService(cfg, repo, enc, logger)
	if err != nil {
		return nil, err
	}

	auditService := audit.NewService(auditrepo.NewRepository(db.DB), logger)
	app.onClose(func(context.Context) { auditService.Wait() })

	sqlDB, err := db.SQLDB()
	if err != nil {
		return nil, fmt.Errorf("failed to get SQL DB for sessions: %w", err)
	}
	sessionStore, err := auth.NewSQLiteSessionStore(sqlDB)
	if err != nil {
		return nil, err
	}
	app.onClose(func(context.Context) { sessionStore.StopCleanup() })
	sessions := auth.NewSessionManager(sessionStore, repo, cfg.Auth)

	sessionSecret := cfg.Auth.SessionSecret
	if sessionSecret == "" {
		sessionSecret, err = auth.GenerateSessionSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		logger.Warn("generated session secret; set AUTH_SESSION_SECRET to keep forms valid across restarts")
	}
	csrfSecret := secretBytes(sessionSecret)

	var strategy *federation.Strategy
	if enabled := providers.FromConfig(cfg.Federation); len(enabled) > 0 {
		states, err := federation.NewStateCodec(stateSecret(cfg.Federation, csrfSecret), cfg.Federation.StateTTL)
		if err != nil {
			return nil, err
		}
		strategy = federation.NewStrategy(federation.StrategyConfig{
			Registry:        federation.NewRegistry(enabled...),
			Users:           repo,
			Tokens:          tokenstore.New(db.DB, enc),
			States:          states,
			ExchangeTimeout: cfg.Federation.ExchangeTimeout,
			Logger:          logger,
		})
		logger.Info("federated sign-in enabled", zap.Strings("providers", strategy.Providers()))
	}

	routerCfg := http_controllers.RouterConfig{
		AuthService:        authService,
		Sessions:           sessions,
		Auditor:            auditService,
		AuditReader:        auditService,
		Database:           db,
		Logger:             logger,
		Federation:         strategy,
		RateLimit:          auth.RateLimitConfigFrom(cfg.Auth),
		CSRFSecret:         csrfSecret,
		SecureCookies:      cfg.Auth.SecureCookies,
		TemplatesPath:      cfg.UI.TemplatesPath,
		StaticPath:         cfg.UI.StaticPath,
		AuditRetentionDays: cfg.Audit.RetentionDays,
		Version:            version,
	}

	// Audit retention runs through the task queue when it is enabled and
	// inline otherwise.
	var enqueuer scheduler.CleanupEnqueuer = scheduler.EnqueuerFunc(func(days int) error {
		deleted, err := auditService.DeleteOldEvents(context.Background(), time.Duration(days)*24*time.Hour)
		if err == nil {
			logger.Info("cleaned up audit events", zap.Int64("deleted", deleted))
		}
		return err
	})

	if cfg.Tasks.Enabled {
		taskClient, err := tasks.NewClient(cfg.Database.Path, tasks.ConfigFrom(cfg.Tasks), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize task queue: %w", err)
		}
		app.onClose(func(context.Context) {
			if err := taskClient.Close(); err != nil {
				logger.Error("error closing task client", zap.Error(err))
			}
		})

		taskClient.Register(tasks.NewCleanupAuditEventsQueue(auditService, logger))

		taskCtx, taskCancel := context.WithCancel(context.Background())
		app.taskStart = func() { go taskClient.Start(taskCtx) }
		app.onClose(func(ctx context.Context) {
			taskClient.Stop(ctx)
			taskCancel()
		})

		enqueuer = taskClient
		routerCfg.TaskQueue = taskClient
	}

	cleanup := scheduler.NewAuditCleanupScheduler(enqueuer, cfg.Audit.CleanupSchedule, cfg.Audit.RetentionDays, logger)
	if err := cleanup.Start(context.Background()); err != nil {
		return nil, err
	}
	app.onClose(func(context.Context) { cleanup.Stop() })

	hasUsers, err := authService.HasUsers(ctx)
	if err != nil {
		logger.Warn("could not count users", zap.Error(err))
	} else if !hasUsers {
		logger.Info("no users found; register at /register or run the create-user command")
	}

	app.Router = http_controllers.NewRouter(routerCfg)
	app.onClose(func(context.Context) { app.Router.Close() })

	return app, nil
}

// Serve runs the HTTP server until SIGINT or SIGTERM, then shuts down
// gracefully within the configured timeout.
func Serve(handler http.Handler, cfg *config.Config, logger *zap.Logger, onShutdown ShutdownFunc) error {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-quit:
	}
	logger.Info("shutting down server", zap.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Stop background work after in-flight requests have finished
	if onShutdown != nil {
		onShutdown(ctx)
	}

	logger.Info("server exiting")
	return nil
}

// Run builds the service from cfg and serves it.
func Run(cfg *config.Config, version string) error {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting secrets", zap.String("version", version))

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}

	app, err := Build(context.Background(), cfg, logger, version)
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		return err
	}
	app.Start()

	return Serve(app.Router, cfg, logger, app.Close)
}
