package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/coinledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/coinledger/internal/intake"
	"github.com/MarkoPoloResearchLab/coinledger/internal/notify"
	"github.com/MarkoPoloResearchLab/coinledger/internal/oplog"
	"github.com/MarkoPoloResearchLab/coinledger/internal/traces"
	"github.com/MarkoPoloResearchLab/coinledger/internal/walletcache"
	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	envPrefix = "LEDGERD"

	flagEnvFile           = "env-file"
	flagDatabaseURL       = "database-url"
	flagStoreBackend      = "store-backend"
	flagListenAddr        = "listen-addr"
	flagAllowedOrigins    = "allowed-origins"
	flagJWTSigningKey     = "jwt-signing-key"
	flagJWTIssuer         = "jwt-issuer"
	flagJWTCookieName     = "jwt-cookie-name"
	flagAdminRole         = "admin-role"
	flagPaystackSecret    = "paystack-secret"
	flagPaystackBaseURL   = "paystack-base-url"
	flagNOWPaymentsSecret = "nowpayments-ipn-secret"
	flagCronSecret        = "cron-secret"
	flagRedisAddr         = "redis-addr"
	flagRedisPassword     = "redis-password"
	flagRedisDB           = "redis-db"
	flagWalletCacheTTL    = "wallet-cache-ttl"
	flagOTLPEndpoint      = "otlp-endpoint"
	flagConflictRetries   = "conflict-retries"
	flagRequestTimeout    = "request-timeout"

	defaultEnvFile         = ".env"
	defaultDatabaseURL     = "sqlite:///tmp/coinledger.db"
	defaultListenAddr      = ":8080"
	defaultWalletCacheTTL  = 30 * time.Second
	defaultConflictRetries = 5
	defaultRequestTimeout  = 5 * time.Second
	conflictRetryDelay     = 20 * time.Millisecond
	redisPingTimeout       = 2 * time.Second
)

type runtimeConfig struct {
	DatabaseURL       string
	StoreBackend      string
	HTTP              httpapi.Config
	PaystackSecret    string
	PaystackBaseURL   string
	NOWPaymentsSecret string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	WalletCacheTTL    time.Duration
	OTLPEndpoint      string
	ConflictRetries   int
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "ledgerd",
		Short:         "Coin wallet, escrow and payment intake HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	persistent := cmd.PersistentFlags()
	persistent.String(flagEnvFile, defaultEnvFile, "optional dotenv file loaded before reading the environment")
	persistent.String(flagDatabaseURL, defaultDatabaseURL, "postgres:// or sqlite:// connection string")

	flags := cmd.Flags()
	flags.String(flagStoreBackend, backendGorm, "store implementation: gorm or pgx")
	flags.String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	flags.String(flagAllowedOrigins, "", "comma-separated CORS origins")
	flags.String(flagJWTSigningKey, "", "tauth session signing key")
	flags.String(flagJWTIssuer, "", "tauth session issuer")
	flags.String(flagJWTCookieName, "", "tauth session cookie name")
	flags.String(flagAdminRole, "", "session role allowed to review verifications and payouts")
	flags.String(flagPaystackSecret, "", "Paystack secret key (webhook HMAC and verify API)")
	flags.String(flagPaystackBaseURL, intake.DefaultPaystackBaseURL, "Paystack API base URL")
	flags.String(flagNOWPaymentsSecret, "", "NOWPayments IPN secret")
	flags.String(flagCronSecret, "", "bearer secret for cron endpoints")
	flags.String(flagRedisAddr, "", "redis address for the wallet cache; empty disables it")
	flags.String(flagRedisPassword, "", "redis password")
	flags.Int(flagRedisDB, 0, "redis database index")
	flags.Duration(flagWalletCacheTTL, defaultWalletCacheTTL, "wallet cache entry lifetime")
	flags.String(flagOTLPEndpoint, "", "OTLP gRPC endpoint; empty disables tracing")
	flags.Int(flagConflictRetries, defaultConflictRetries, "compare-and-swap attempts before surfacing a conflict")
	flags.Duration(flagRequestTimeout, defaultRequestTimeout, "per-request ledger timeout")

	cmd.AddCommand(newMigrateCommand())
	return cmd
}

// newSettings loads the optional dotenv file and binds flags and LEDGERD_* variables.
func newSettings(cmd *cobra.Command) (*viper.Viper, error) {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return nil, err
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	settings := viper.New()
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	if err := settings.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if err := settings.BindEnv(flagDatabaseURL, envPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}
	return settings, nil
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	settings, err := newSettings(cmd)
	if err != nil {
		return err
	}

	cfg.DatabaseURL = settings.GetString(flagDatabaseURL)
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(settings.GetString(flagStoreBackend)))
	cfg.HTTP = httpapi.Config{
		ListenAddr:        settings.GetString(flagListenAddr),
		AllowedOrigins:    httpapi.ParseAllowedOrigins(settings.GetString(flagAllowedOrigins)),
		SessionSigningKey: settings.GetString(flagJWTSigningKey),
		SessionIssuer:     settings.GetString(flagJWTIssuer),
		SessionCookieName: settings.GetString(flagJWTCookieName),
		AdminRole:         settings.GetString(flagAdminRole),
		CronSecret:        settings.GetString(flagCronSecret),
		RequestTimeout:    settings.GetDuration(flagRequestTimeout),
	}
	cfg.PaystackSecret = settings.GetString(flagPaystackSecret)
	cfg.PaystackBaseURL = settings.GetString(flagPaystackBaseURL)
	cfg.NOWPaymentsSecret = settings.GetString(flagNOWPaymentsSecret)
	cfg.RedisAddr = settings.GetString(flagRedisAddr)
	cfg.RedisPassword = settings.GetString(flagRedisPassword)
	cfg.RedisDB = settings.GetInt(flagRedisDB)
	cfg.WalletCacheTTL = settings.GetDuration(flagWalletCacheTTL)
	cfg.OTLPEndpoint = settings.GetString(flagOTLPEndpoint)
	cfg.ConflictRetries = settings.GetInt(flagConflictRetries)

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("database url is required")
	}
	if cfg.StoreBackend != backendGorm && cfg.StoreBackend != backendPGX {
		return fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
	if cfg.ConflictRetries <= 0 {
		return fmt.Errorf("conflict retries must be positive")
	}
	return cfg.HTTP.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	storage, err := openBackend(ctx, cfg.StoreBackend, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer storage.close()

	options := []ledger.ServiceOption{
		ledger.WithOperationLogger(oplog.New(logger)),
		ledger.WithNotifier(notify.NewEmitter(storage.notifications, logger)),
		ledger.WithConflictRetry(cfg.ConflictRetries, conflictRetryDelay),
	}
	var cache *walletcache.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = client.Close() }()
		pingCtx, cancelPing := context.WithTimeout(ctx, redisPingTimeout)
		if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
			logger.Warn("redis unreachable, wallet reads fall back to the store", zap.Error(pingErr))
		}
		cancelPing()
		cache = walletcache.New(client, cfg.WalletCacheTTL, logger)
		options = append(options, ledger.WithWalletObserver(cache))
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := ledger.NewService(storage.store, clock, options...)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}

	deps := httpapi.Dependencies{
		Ledger:        service,
		Notifications: storage.notifications,
		Logger:        logger,
	}
	if cache != nil {
		deps.Wallets = walletcache.NewReader(cache, service)
	}
	if cfg.PaystackSecret != "" {
		deps.Webhooks = append(deps.Webhooks, intake.NewPaystackWebhook(cfg.PaystackSecret))
		deps.Verifier = intake.NewPaystackClient(cfg.PaystackBaseURL, cfg.PaystackSecret, nil)
	}
	if cfg.NOWPaymentsSecret != "" {
		deps.Webhooks = append(deps.Webhooks, intake.NewNOWPaymentsWebhook(cfg.NOWPaymentsSecret))
	}
	if len(deps.Webhooks) == 0 {
		logger.Warn("no payment provider secrets configured; webhooks are disabled")
	}

	logger.Info("ledgerd starting", zap.String("store_backend", cfg.StoreBackend), zap.Bool("wallet_cache", cache != nil))
	return httpapi.Run(ctx, cfg.HTTP, deps)
}
