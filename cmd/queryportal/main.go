package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/queryportal/queryportal/internal/config"
	"github.com/queryportal/queryportal/internal/database"
	"github.com/queryportal/queryportal/internal/executor"
	"github.com/queryportal/queryportal/internal/logging"
	"github.com/queryportal/queryportal/internal/notification"
	"github.com/queryportal/queryportal/internal/pool"
	"github.com/queryportal/queryportal/internal/sandbox"
	"github.com/queryportal/queryportal/internal/web"
	"github.com/queryportal/queryportal/internal/workflow"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	port         int
	bind         string
	allowSubnet  string
	dbPath       string
	instancesCfg string
	verbosity    int
	dev          bool

	// Timeout flags (advanced)
	queryTimeout  time.Duration
	scriptTimeout time.Duration
	connTimeout   time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "queryportal",
		Short: "Query Portal - Database query approval and execution server",
		Long:  `Query Portal is an approval-gated gateway for running queries and scripts against managed Postgres and MongoDB instances.`,
		RunE:  run,
	}

	// Flags
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP server port (required, or set PORT env var)")
	rootCmd.Flags().StringVarP(&bind, "bind", "b", "", "IP address to bind to (e.g., 127.0.0.1, 0.0.0.0)")
	rootCmd.Flags().StringVarP(&allowSubnet, "allow-subnet", "a", "", "CIDR subnet allowed to connect (e.g., 192.168.1.0/24)")
	rootCmd.Flags().StringVarP(&dbPath, "db", "d", "./queryportal.db", "SQLite database path (or set DB_PATH env var)")
	rootCmd.Flags().StringVarP(&instancesCfg, "config", "c", "./instances.yaml", "Instance catalog YAML path (or set CONFIG_PATH env var)")
	rootCmd.Flags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")
	rootCmd.Flags().BoolVar(&dev, "dev", false, "Development mode (relaxed cookie security)")

	// Advanced timeout flags
	rootCmd.Flags().DurationVar(&queryTimeout, "query-timeout", 60*time.Second, "Deadline for a single query round trip")
	rootCmd.Flags().DurationVar(&scriptTimeout, "script-timeout", 30*time.Second, "Wall-clock budget for a sandboxed script run")
	rootCmd.Flags().DurationVar(&connTimeout, "connection-test-timeout", 10*time.Second, "Deadline for instance connectivity probes")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("queryportal %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Check for PORT env var if flag not set
	if port == 0 {
		if envPort := os.Getenv("PORT"); envPort != "" {
			if _, err := fmt.Sscanf(envPort, "%d", &port); err != nil {
				return fmt.Errorf("invalid PORT environment variable %q: %w", envPort, err)
			}
		}
	}

	// Check for path env vars if using defaults
	if dbPath == "./queryportal.db" {
		if envDB := os.Getenv("DB_PATH"); envDB != "" {
			dbPath = envDB
		}
	}
	if instancesCfg == "./instances.yaml" {
		if envCfg := os.Getenv("CONFIG_PATH"); envCfg != "" {
			instancesCfg = envCfg
		}
	}

	// Validate port
	if port == 0 {
		return fmt.Errorf("--port flag or PORT environment variable is required")
	}

	// Validate bind address if provided
	if bind != "" {
		if ip := net.ParseIP(bind); ip == nil {
			return fmt.Errorf("invalid bind address: %s", bind)
		}
	}

	// Validate and parse allow-subnet if provided
	var allowedNet *net.IPNet
	if allowSubnet != "" {
		_, parsedNet, err := net.ParseCIDR(allowSubnet)
		if err != nil {
			return fmt.Errorf("invalid allow-subnet CIDR: %s", allowSubnet)
		}
		allowedNet = parsedNet
	}

	// Setup console logging early; the rotating file writer is added once the
	// database settings are available.
	setupLogging(verbosity)

	// Warn if binding to all interfaces without an allow list
	if (bind == "" || bind == "0.0.0.0" || bind == "::") && allowSubnet == "" {
		log.Warn().Msg("Server is accessible from all interfaces without subnet restrictions. Consider using --bind or --allow-subnet for security.")
	}

	log.Info().
		Str("version", version).
		Int("port", port).
		Str("bind", bind).
		Str("allow_subnet", allowSubnet).
		Str("database", dbPath).
		Str("config", instancesCfg).
		Msg("Starting Query Portal")

	// Initialize database
	db, err := database.New(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	if err := db.InitializeDefaults(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize default settings")
	}

	// Re-apply logging with the stored level and a rotating file next to the
	// database. The -v flag always wins over the stored level.
	loader := config.NewLoader(db)
	logFile := logging.FilePathForDB(dbPath)
	logging.Apply(logLevel(verbosity, loader), loader, logFile)

	// Load the instance catalog
	instances, err := config.NewStore(instancesCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load instance catalog")
	}
	log.Info().Int("instances", len(instances.Current().Instances)).Msg("Loaded instance catalog")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reload the catalog on file changes
	if err := instances.Watch(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to watch instance catalog, live reload disabled")
	}

	// Connection pools are created lazily on first use and torn down on exit
	pools := pool.NewManager()
	defer func() {
		if err := pools.Release(); err != nil {
			log.Error().Err(err).Msg("Failed to release connection pools")
		}
	}()

	// Script runtime
	runtime, err := sandbox.NewRuntime(loader.String("scripts.python_binary", "python3"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize script runtime")
	}
	defer runtime.Close()

	// Execution orchestrator
	timeouts := &config.TimeoutConfig{
		Query:          queryTimeout,
		Script:         scriptTimeout,
		ConnectionTest: connTimeout,
	}
	orchestrator := executor.New(instances, pools, runtime, timeouts)

	// Workflow manager (approval lifecycle + scheduled store maintenance)
	workflowMgr := workflow.NewManager(db, instances, orchestrator, loader)
	if err := workflowMgr.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start workflow manager")
	}
	defer workflowMgr.Stop()

	// Notification manager; providers come from stored settings
	notificationMgr := notification.NewManager()
	defer notificationMgr.Stop()
	notificationMgr.ApplySettings(loader)
	workflowMgr.SetNotifier(notification.NewRequestEvents(notificationMgr))

	// Create web server with bind address and allowed subnet
	server := web.NewServer(db, instances, workflowMgr, orchestrator, pools, port, bind, allowedNet, dev)
	server.SetNotificationManager(notificationMgr)
	server.SetLogFile(logFile)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Query Portal stopped")
	return nil
}

// logLevel resolves the effective log level from the -v flag and the stored
// log.level setting.
func logLevel(verbosity int, loader *config.Loader) string {
	switch verbosity {
	case 0:
		return loader.String("log.level", "info")
	case 1:
		return "debug"
	default: // 2+
		return "trace"
	}
}

func setupLogging(verbosity int) {
	// Pretty console output
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}

	switch verbosity {
	case 0:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case 1:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default: // 2+
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}
