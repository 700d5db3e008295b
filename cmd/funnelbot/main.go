package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zaimline/funnelbot/internal/attribution"
	"github.com/zaimline/funnelbot/internal/content"
	"github.com/zaimline/funnelbot/internal/followup"
	"github.com/zaimline/funnelbot/internal/funnel"
	"github.com/zaimline/funnelbot/internal/models"
	"github.com/zaimline/funnelbot/internal/scheduler"
	"github.com/zaimline/funnelbot/internal/session"
	"github.com/zaimline/funnelbot/internal/store"
	"github.com/zaimline/funnelbot/internal/telegram"
	"github.com/zaimline/funnelbot/internal/tracking"
	"github.com/zaimline/funnelbot/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for funnelbot state data
	DefaultStateDir = "/var/lib/funnelbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "funnelbot.db"
	// DefaultContentFileName is the default content bundle filename
	DefaultContentFileName = "content.json"
	// DefaultSweepInterval is how often the follow-up engine scans the registry
	DefaultSweepInterval = time.Minute
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	if *flags.botToken == "" {
		slog.Error("BOT_TOKEN is required")
		os.Exit(1)
	}

	// Ensure the state directory exists before opening a SQLite database in it
	if err := os.MkdirAll(*flags.stateDir, 0o755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping funnelbot")
	if err := run(ctx, flags); err != nil && err != context.Canceled {
		slog.Error("funnelbot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("funnelbot exited successfully")
}

func run(ctx context.Context, flags Flags) error {
	provider, err := content.NewProvider(*flags.contentPath)
	if err != nil {
		return err
	}

	registry, err := openRegistry(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer registry.Close()

	sessions, closeSessions, err := openSessions(ctx, flags)
	if err != nil {
		return err
	}
	defer closeSessions()

	links := attribution.NewBuilder(
		attribution.WithUserBase(*flags.offerBase),
		attribution.WithTrackingBase(*flags.trackingBase),
		attribution.WithSource(*flags.trackingSource),
	)

	bot, err := telegram.NewBot(
		telegram.WithToken(*flags.botToken),
		telegram.WithDebug(*flags.debug),
	)
	if err != nil {
		return err
	}

	machineOpts := []funnel.MachineOption{
		funnel.WithRegistry(registry),
		funnel.WithImageDir(*flags.imageDir),
	}
	if *flags.trackingEnabled {
		tracker := tracking.NewClient()
		defer tracker.Close()
		machineOpts = append(machineOpts, funnel.WithTracker(tracker))
	} else {
		slog.Info("Click tracking disabled")
	}
	machine := funnel.NewMachine(provider, sessions, links, bot, machineOpts...)

	engine := followup.NewEngine(registry, provider, bot.SendPlainText)
	defer engine.Stop()

	sweeper, err := scheduler.New(DefaultSweepInterval, engine.Sweep)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	return bot.Run(ctx, machine)
}

// openRegistry selects the database backend from the DSN shape.
func openRegistry(dsn string) (store.Registry, error) {
	switch backend := store.DetectDSNType(dsn); backend {
	case "postgres":
		slog.Info("Opening Postgres registry")
		return store.NewPostgresRegistry(store.WithDSN(dsn))
	case "sqlite3":
		slog.Info("Opening SQLite registry", "path", dsn)
		return store.NewSQLiteRegistry(store.WithDSN(dsn))
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownBackend, backend)
	}
}

// openSessions returns a Redis-backed session store when REDIS_ADDR is set
// and an in-process LRU otherwise.
func openSessions(ctx context.Context, flags Flags) (*session.Manager, func(), error) {
	if *flags.redisAddr != "" {
		slog.Info("Using Redis session store", "addr", *flags.redisAddr)
		rs, err := session.NewRedisStore(ctx,
			session.WithRedisAddr(*flags.redisAddr),
			session.WithRedisPassword(*flags.redisPassword),
			session.WithRedisDB(*flags.redisDB),
			session.WithTTL(*flags.sessionTTL),
		)
		if err != nil {
			return nil, nil, err
		}
		return session.NewManager(rs), func() { rs.Close() }, nil
	}

	slog.Info("Using in-memory session store", "capacity", *flags.sessionCapacity)
	ls := session.NewLRUStore(
		session.WithCapacity(*flags.sessionCapacity),
		session.WithTTL(*flags.sessionTTL),
	)
	return session.NewManager(ls), func() {}, nil
}

// Config holds environment configuration
type Config struct {
	BotToken        string
	ContentPath     string
	ImageDir        string
	StateDir        string
	DatabaseDSN     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	OfferBase       string
	TrackingBase    string
	TrackingSource  string
	TrackingEnabled bool
	SessionCapacity int
	SessionTTL      time.Duration
	Debug           bool
}

// Flags holds command line flag values
type Flags struct {
	botToken        *string
	contentPath     *string
	imageDir        *string
	stateDir        *string
	dbDSN           *string
	redisAddr       *string
	redisPassword   *string
	redisDB         *int
	offerBase       *string
	trackingBase    *string
	trackingSource  *string
	trackingEnabled *bool
	sessionCapacity *int
	sessionTTL      *time.Duration
	debug           *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		BotToken:        os.Getenv("BOT_TOKEN"),
		ContentPath:     os.Getenv("CONTENT_PATH"),
		ImageDir:        os.Getenv("IMAGE_DIR"),
		StateDir:        os.Getenv("FUNNELBOT_STATE_DIR"),
		DatabaseDSN:     os.Getenv("DATABASE_URL"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         util.ParseIntEnv("REDIS_DB", 0),
		OfferBase:       os.Getenv("OFFER_BASE_URL"),
		TrackingBase:    os.Getenv("TRACKING_BASE_URL"),
		TrackingSource:  os.Getenv("TRACKING_SOURCE"),
		TrackingEnabled: util.ParseBoolEnv("TRACKING_ENABLED", true),
		SessionCapacity: util.ParseIntEnv("SESSION_CAPACITY", session.DefaultCapacity),
		SessionTTL:      util.ParseDurationEnv("SESSION_TTL", session.DefaultTTL),
		Debug:           util.ParseBoolEnv("DEBUG", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No FUNNELBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Default the registry to a SQLite file in the state directory
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL set, using SQLite in state dir", "path", config.DatabaseDSN)
	}

	// Default the content bundle to the state directory
	if config.ContentPath == "" {
		config.ContentPath = filepath.Join(config.StateDir, DefaultContentFileName)
		slog.Debug("No CONTENT_PATH set, using state dir", "path", config.ContentPath)
	}

	return config
}

// parseCommandLineFlags parses command line flags, layering them over the
// environment configuration.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		botToken:        flag.String("token", config.BotToken, "Telegram bot API token (env BOT_TOKEN)"),
		contentPath:     flag.String("content", config.ContentPath, "path to the content bundle JSON (env CONTENT_PATH)"),
		imageDir:        flag.String("images", config.ImageDir, "directory holding screen images (env IMAGE_DIR)"),
		stateDir:        flag.String("state-dir", config.StateDir, "state directory (env FUNNELBOT_STATE_DIR)"),
		dbDSN:           flag.String("db", config.DatabaseDSN, "database DSN: Postgres URL or SQLite path (env DATABASE_URL)"),
		redisAddr:       flag.String("redis-addr", config.RedisAddr, "Redis address for session storage; empty uses in-memory (env REDIS_ADDR)"),
		redisPassword:   flag.String("redis-password", config.RedisPassword, "Redis password (env REDIS_PASSWORD)"),
		redisDB:         flag.Int("redis-db", config.RedisDB, "Redis database number (env REDIS_DB)"),
		offerBase:       flag.String("offer-base", config.OfferBase, "base URL for offer links (env OFFER_BASE_URL)"),
		trackingBase:    flag.String("tracking-base", config.TrackingBase, "base URL for click tracking (env TRACKING_BASE_URL)"),
		trackingSource:  flag.String("tracking-source", config.TrackingSource, "source tag added to built links (env TRACKING_SOURCE)"),
		trackingEnabled: flag.Bool("tracking", config.TrackingEnabled, "enable fire-and-forget click tracking (env TRACKING_ENABLED)"),
		sessionCapacity: flag.Int("session-capacity", config.SessionCapacity, "in-memory session cache capacity (env SESSION_CAPACITY)"),
		sessionTTL:      flag.Duration("session-ttl", config.SessionTTL, "session idle expiry (env SESSION_TTL)"),
		debug:           flag.Bool("debug", config.Debug, "enable Telegram API request tracing (env DEBUG)"),
	}
	flag.Parse()
	return flags
}
