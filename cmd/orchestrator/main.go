package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arkeep-io/persona-orchestrator/internal/api"
	"github.com/arkeep-io/persona-orchestrator/internal/bus"
	"github.com/arkeep-io/persona-orchestrator/internal/credential"
	"github.com/arkeep-io/persona-orchestrator/internal/db"
	"github.com/arkeep-io/persona-orchestrator/internal/dispatcher"
	"github.com/arkeep-io/persona-orchestrator/internal/eventproc"
	"github.com/arkeep-io/persona-orchestrator/internal/repository"
	"github.com/arkeep-io/persona-orchestrator/internal/token"
	"github.com/arkeep-io/persona-orchestrator/internal/triggersched"
	"github.com/arkeep-io/persona-orchestrator/internal/workerpool"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

var (
	version = "dev"
	commit  = "none"
)

type config struct {
	httpAddr    string
	wsAddr      string
	dbDriver    string
	dbDSN       string
	masterKey   string
	workerToken string
	teamKeyHash string
	jwtSecret   string
	logLevel    string
	busBrokers  string

	// Additional wiring for the Token Provider's OAuth refresh grant (§4.5).
	// Not named in the canonical env-var list since the authorization-code
	// exchange itself is out of scope (§1); left empty, the Token Provider
	// is still constructed but never holds a token until something external
	// calls Provider.Set.
	oauthClientID     string
	oauthClientSecret string
	oauthTokenURL     string
	staticBearerToken string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "persona-orchestrator — multi-tenant persona execution orchestrator",
		Long: `orchestrator coordinates a pool of remote worker processes that each run
one persona execution at a time, dispatching work from direct HTTP submits,
a message bus, and internal event/trigger ticks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("ORCHESTRATOR_HTTP_ADDR", ":8080"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.wsAddr, "ws-addr", envOrDefault("ORCHESTRATOR_WS_ADDR", ":8081"), "Worker Pool WebSocket listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("ORCHESTRATOR_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("ORCHESTRATOR_DB_DSN", "./orchestrator.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.masterKey, "master-key", envOrDefault("ORCHESTRATOR_MASTER_KEY", ""), "Master secret key for encrypting credentials at rest (required)")
	root.PersistentFlags().StringVar(&cfg.workerToken, "worker-token", envOrDefault("ORCHESTRATOR_WORKER_TOKEN", ""), "Shared secret workers present to join the pool (required)")
	root.PersistentFlags().StringVar(&cfg.teamKeyHash, "team-key-hash", envOrDefault("ORCHESTRATOR_TEAM_KEY_HASH", ""), "Argon2id hash of the team API key guarding /api/* (empty disables auth, dev only)")
	root.PersistentFlags().StringVar(&cfg.jwtSecret, "jwt-secret", envOrDefault("ORCHESTRATOR_JWT_SECRET", ""), "HMAC secret for optional project-scoping JWTs (empty disables project scoping)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("ORCHESTRATOR_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.busBrokers, "bus-brokers", envOrDefault("ORCHESTRATOR_BUS_BROKERS", ""), "Comma-separated Kafka broker list (empty uses a no-op bus client)")
	root.PersistentFlags().StringVar(&cfg.oauthClientID, "oauth-client-id", envOrDefault("ORCHESTRATOR_OAUTH_CLIENT_ID", ""), "OAuth2 client ID for the Token Provider's refresh grant")
	root.PersistentFlags().StringVar(&cfg.oauthClientSecret, "oauth-client-secret", envOrDefault("ORCHESTRATOR_OAUTH_CLIENT_SECRET", ""), "OAuth2 client secret for the Token Provider's refresh grant")
	root.PersistentFlags().StringVar(&cfg.oauthTokenURL, "oauth-token-url", envOrDefault("ORCHESTRATOR_OAUTH_TOKEN_URL", ""), "OAuth2 token endpoint for the Token Provider's refresh grant")
	root.PersistentFlags().StringVar(&cfg.staticBearerToken, "static-bearer-token", envOrDefault("ORCHESTRATOR_STATIC_BEARER_TOKEN", ""), "Static bearer token used when no OAuth token is available")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("orchestrator %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.masterKey == "" {
		return fmt.Errorf("master key is required — set --master-key or ORCHESTRATOR_MASTER_KEY")
	}
	if cfg.workerToken == "" {
		return fmt.Errorf("worker token is required — set --worker-token or ORCHESTRATOR_WORKER_TOKEN")
	}

	logger.Info("starting persona orchestrator",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("ws_addr", cfg.wsAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Encryption ---
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.masterKey))
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- 2. Database ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- 3. Repositories ---
	personaRepo := repository.NewPersonaRepository(gormDB)
	toolRepo := repository.NewToolRepository(gormDB)
	credentialRepo := repository.NewCredentialRepository(gormDB)
	eventRepo := repository.NewEventRepository(gormDB)
	subscriptionRepo := repository.NewSubscriptionRepository(gormDB)
	triggerRepo := repository.NewTriggerRepository(gormDB)
	executionRepo := repository.NewExecutionRepository(gormDB)

	// --- 4. Token Provider ---
	tokenProvider := buildTokenProvider(cfg, logger)

	// --- 5. Credential Materializer ---
	credentials := credential.New(credentialRepo)

	// --- 6. Message bus ---
	busClient := buildBusClient(cfg, logger)
	if err := busClient.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect message bus: %w", err)
	}
	defer busClient.Disconnect(context.Background())

	// --- 7. Dispatcher ---
	dispatch, err := dispatcher.New(dispatcher.Config{
		TokenProvider: tokenProvider,
		StaticToken:   cfg.staticBearerToken,
		Credentials:   credentials,
		Personas:      personaRepo,
		Tools:         toolRepo,
		Executions:    executionRepo,
		Bus:           busClient,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	// --- 8. Worker Pool ---
	pool := workerpool.New(cfg.workerToken, dispatch, logger)
	dispatch.SetPool(pool)
	dispatch.Start()
	defer dispatch.Shutdown()

	if err := subscribeExecRequests(busClient, dispatch, logger); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", bus.TopicExecRequest, err)
	}

	// --- 9. Token Provider warm refresh ---
	tokenSched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create token scheduler: %w", err)
	}
	if err := tokenProvider.RegisterWarmRefresh(tokenSched); err != nil {
		return fmt.Errorf("failed to register token warm refresh: %w", err)
	}
	tokenSched.Start()
	defer func() {
		if err := tokenSched.Shutdown(); err != nil {
			logger.Warn("token scheduler shutdown error", zap.Error(err))
		}
	}()

	// --- 10. Event Processor tick ---
	processor, err := eventproc.New(eventproc.Config{
		Events:        eventRepo,
		Subscriptions: subscriptionRepo,
		Personas:      personaRepo,
		Tools:         toolRepo,
		Executions:    executionRepo,
		Dispatcher:    dispatch,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create event processor: %w", err)
	}
	processor.Start()
	defer processor.Shutdown()

	// --- 11. Trigger Scheduler tick ---
	triggerSched, err := triggersched.New(triggersched.Config{
		Triggers: triggerRepo,
		Events:   eventRepo,
		Personas: personaRepo,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create trigger scheduler: %w", err)
	}
	triggerSched.Start()
	defer triggerSched.Shutdown()

	// --- 12. Worker Pool WebSocket listener ---
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/", pool.HandleConn)
	wsSrv := &http.Server{Addr: cfg.wsAddr, Handler: wsMux}

	go func() {
		logger.Info("worker pool listening", zap.String("addr", cfg.wsAddr))
		if err := wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker pool listener error", zap.Error(err))
			cancel()
		}
	}()

	// --- 13. HTTP API server ---
	router := api.NewRouter(api.RouterConfig{
		Dispatcher:  dispatch,
		Executions:  executionRepo,
		Logger:      logger,
		TeamKeyHash: cfg.teamKeyHash,
		JWTSecret:   cfg.jwtSecret,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down persona orchestrator")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	pool.Shutdown("orchestrator shutting down", 10*time.Second)

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("worker pool listener graceful shutdown error", zap.Error(err))
	}

	logger.Info("persona orchestrator stopped")
	return nil
}

// buildTokenProvider constructs the Token Provider. Its oauth2.Config is
// built from whatever OAuth flags are set; when they are empty the Provider
// still works as a holder that starts empty and returns ("", false) until
// something external (the out-of-scope authorization-code flow) calls Set.
func buildTokenProvider(cfg *config, logger *zap.Logger) *token.Provider {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.oauthClientID,
		ClientSecret: cfg.oauthClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.oauthTokenURL},
	}
	return token.New(oauthCfg, nil, logger)
}

// buildBusClient returns a Kafka-backed bus client when brokers are
// configured, or a no-op client otherwise, per §6's explicit fallback clause.
func buildBusClient(cfg *config, logger *zap.Logger) bus.Client {
	if cfg.busBrokers == "" {
		logger.Info("no bus brokers configured, using no-op message bus client")
		return bus.NewNoopClient()
	}
	brokers := strings.Split(cfg.busBrokers, ",")
	return bus.NewKafkaClient(brokers, "persona-orchestrator", logger)
}

// execRequestMessage mirrors the payload external producers publish onto
// persona.exec.v1 to trigger a submit, per §6.
type execRequestMessage struct {
	ProjectID string                 `json:"projectId"`
	PersonaID string                 `json:"personaId,omitempty"`
	Prompt    string                 `json:"prompt,omitempty"`
	InputData map[string]interface{} `json:"inputData,omitempty"`
	TimeoutMs int64                  `json:"timeoutMs,omitempty"`
}

// subscribeExecRequests wires the bus's exec-request topic to a Dispatcher
// submit, satisfying §6's "persona.exec.v1 (consumed: triggers submits when
// a request message arrives)".
func subscribeExecRequests(busClient bus.Client, dispatch *dispatcher.Dispatcher, logger *zap.Logger) error {
	return busClient.Subscribe(bus.TopicExecRequest, func(ctx context.Context, topic string, key, value []byte) {
		var msg execRequestMessage
		if err := json.Unmarshal(value, &msg); err != nil {
			logger.Warn("failed to parse exec request message, dropping", zap.Error(err))
			return
		}

		req := dispatcher.Request{
			ProjectID: msg.ProjectID,
			Prompt:    msg.Prompt,
			InputData: msg.InputData,
			TimeoutMs: msg.TimeoutMs,
		}
		if msg.PersonaID != "" {
			id, err := uuid.Parse(msg.PersonaID)
			if err != nil {
				logger.Warn("exec request message has invalid personaId, dropping", zap.Error(err))
				return
			}
			req.PersonaID = &id
		}
		dispatch.Submit(ctx, req)
	})
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
