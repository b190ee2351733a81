package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BridgeWell/CareFlow/internal/api"
	"github.com/BridgeWell/CareFlow/internal/flow"
	"github.com/BridgeWell/CareFlow/internal/genai"
	"github.com/BridgeWell/CareFlow/internal/lockfile"
	"github.com/BridgeWell/CareFlow/internal/scheduler"
	"github.com/BridgeWell/CareFlow/internal/store"
	"github.com/BridgeWell/CareFlow/internal/tasks"
	"github.com/BridgeWell/CareFlow/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CareFlow state data
	DefaultStateDir = "/var/lib/careflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "careflow.db"
	// DefaultSweepInterval is the cadence of the background task sweep
	DefaultSweepInterval = time.Minute
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping CareFlow with configured modules")
	if err := run(flags, config); err != nil {
		slog.Error("CareFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CareFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL       string
	StateDir          string
	OpenAIKey         string
	APIAddr           string
	Model             string
	HighTierModel     string
	SweepInterval     time.Duration
	TaskTimeout       time.Duration
	StallTimeout      time.Duration
	BackgroundEnabled bool
	MaxBackground     int

	CommunicatorPromptFile string
	AnalystPromptFile      string
}

// Flags holds command line flag values
type Flags struct {
	stateDir  *string
	dbDSN     *string
	openaiKey *string
	apiAddr   *string
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
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StateDir:          os.Getenv("CAREFLOW_STATE_DIR"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		APIAddr:           os.Getenv("API_ADDR"),
		Model:             os.Getenv("CAREFLOW_MODEL"),
		HighTierModel:     os.Getenv("CAREFLOW_HIGH_TIER_MODEL"),
		SweepInterval:     util.ParseDurationEnv("CAREFLOW_SWEEP_INTERVAL", DefaultSweepInterval),
		TaskTimeout:       util.ParseDurationEnv("CAREFLOW_TASK_TIMEOUT", tasks.DefaultTaskTimeout),
		StallTimeout:      util.ParseDurationEnv("CAREFLOW_STALL_TIMEOUT", flow.DefaultStallTimeout),
		BackgroundEnabled: util.ParseBoolEnv("CAREFLOW_BACKGROUND_ANALYSIS", true),
		MaxBackground:     util.ParseIntEnv("CAREFLOW_MAX_BACKGROUND_TASKS", flow.DefaultMaxBackgroundTasks),

		CommunicatorPromptFile: os.Getenv("CAREFLOW_COMMUNICATOR_PROMPT"),
		AnalystPromptFile:      os.Getenv("CAREFLOW_ANALYST_PROMPT"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CAREFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CAREFLOW_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"sweep_interval", config.SweepInterval,
		"task_timeout", config.TaskTimeout,
		"background_enabled", config.BackgroundEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for CareFlow data (overrides $CAREFLOW_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN or SQLite path (overrides $DATABASE_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore selects the storage backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags, config Config) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if config.Model != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(config.Model))
	}
	if config.HighTierModel != "" {
		genaiOpts = append(genaiOpts, genai.WithHighTierModel(config.HighTierModel))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}

// run wires the modules together and serves until interrupted.
func run(flags Flags, config Config) error {
	// File-backed storage means the state directory must be exclusive to
	// this instance.
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		lock, err := lockfile.AcquireLock(filepath.Dir(*flags.dbDSN))
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	genaiClient, err := genai.NewClient(buildGenAIOptions(flags, config)...)
	if err != nil {
		return err
	}

	communicator := flow.NewCommunicator(genaiClient, config.CommunicatorPromptFile)
	if config.CommunicatorPromptFile != "" {
		if err := communicator.LoadSystemPrompt(); err != nil {
			slog.Warn("Falling back to built-in communicator prompt", "error", err)
		}
	}
	analyst := flow.NewAnalyst(genaiClient, config.AnalystPromptFile)
	if config.AnalystPromptFile != "" {
		if err := analyst.LoadSystemPrompt(); err != nil {
			slog.Warn("Falling back to built-in analyst prompt", "error", err)
		}
	}

	taskManager := tasks.NewManager(config.TaskTimeout)
	orchestrator := flow.NewOrchestrator(st, communicator, analyst, taskManager, flow.OrchestratorConfig{
		StallTimeout:       config.StallTimeout,
		MaxBackgroundTasks: config.MaxBackground,
		BackgroundEnabled:  config.BackgroundEnabled,
		Risk:               flow.DefaultRiskConfig(),
	})

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	sched.AddEvery(config.SweepInterval, taskManager.Sweep)
	slog.Debug("Background task sweep scheduled", "interval", config.SweepInterval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(orchestrator, st, buildAPIOptions(flags)...)
	return server.Run(ctx)
}
