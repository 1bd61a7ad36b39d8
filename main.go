package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/adpilot/pkg/adapters/ads"
	"github.com/ekaya-inc/adpilot/pkg/config"
	"github.com/ekaya-inc/adpilot/pkg/database"
	"github.com/ekaya-inc/adpilot/pkg/logging"
	"github.com/ekaya-inc/adpilot/pkg/metrics"
	"github.com/ekaya-inc/adpilot/pkg/repositories"
	"github.com/ekaya-inc/adpilot/pkg/services"
	"github.com/ekaya-inc/adpilot/pkg/workerpool"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	configPath  string
	reviewer    string
	metricsFile string
)

// app holds everything a command needs. It is built once per invocation.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *database.DB
	registry *prometheus.Registry

	queue     services.ApprovalQueue
	pipeline  services.ExecutionPipeline
	proposals services.ProposalService
	activity  services.ActivityRecorder
	sessions  ads.SessionFactory
	pool      *workerpool.Pool
}

var current *app

var rootCmd = &cobra.Command{
	Use:   "adpilot",
	Short: "Review and apply advertising campaign changes",
	Long: `adpilot queues bid and harvest proposals as change records, lets an
operator approve or reject them, and applies approved changes to Amazon Ads
through the MCP endpoint.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&reviewer, "reviewer", os.Getenv("USER"), "name recorded with reviews and applies")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit (textfile collector format)")

	rootCmd.AddCommand(versionCmd, migrateCmd)
	registerChangeCommands(rootCmd)
	registerEngineCommands(rootCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Annotations: map[string]string{
		skipSetupAnnotation: "true",
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		sqlDB := current.db.SQLDB()
		defer sqlDB.Close()

		if err := database.RunMigrations(sqlDB, current.logger); err != nil {
			return err
		}
		version, dirty, err := database.MigrationVersion(sqlDB, current.logger)
		if err != nil {
			return err
		}
		color.Green("Schema at version %d (dirty=%v)", version, dirty)
		return nil
	},
}

const skipSetupAnnotation = "adpilot/skip-setup"

// skipSetup reports whether cmd runs without config or database: version and
// cobra's generated help and completion commands.
func skipSetup(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipSetupAnnotation] == "true" || c.Name() == "help" || c.Name() == "completion" {
			return true
		}
	}
	return false
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Env == "local" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func setup(cmd *cobra.Command, args []string) error {
	if skipSetup(cmd) {
		return nil
	}

	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadFrom(configPath, Version)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	db, err := database.NewConnection(cmd.Context(), &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
		MinConnections: cfg.Database.MaxIdleConns,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w",
			logging.SanitizeConnectionString(cfg.Database.URL()), err)
	}

	// Collectors go to a private registry so --metrics-file writes only ours.
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	changeRepo := repositories.NewChangeRecordRepository(db)
	activityRepo := repositories.NewActivityRepository(db)

	activity := services.NewActivityRecorder(activityRepo, logger)
	sessions := ads.NewMCPSessionFactory(cfg.Ads, Version,
		ads.NewStaticCredentialResolver(uuid.Nil, cfg.Ads), logger)

	current = &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		registry: registry,
		activity: activity,
		sessions: sessions,
		pool:     workerpool.New(workerpool.Config{MaxConcurrent: cfg.Optimizer.Concurrency}, logger),
		queue: services.NewApprovalQueue(&services.ApprovalQueueDeps{
			ChangeRepo: changeRepo,
			Activity:   activity,
			Metrics:    m,
			Logger:     logger,
		}),
		pipeline: services.NewExecutionPipeline(&services.ExecutionPipelineDeps{
			ChangeRepo:            changeRepo,
			Sessions:              sessions,
			Activity:              activity,
			Metrics:               m,
			ErrorMessageMaxLength: cfg.Pipeline.ErrorMessageMaxLength,
			Logger:                logger,
		}),
		proposals: services.NewProposalService(&services.ProposalServiceDeps{
			ChangeRepo: changeRepo,
			Activity:   activity,
			Metrics:    m,
			Logger:     logger,
		}),
	}

	logger.Debug("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("ads_region", cfg.Ads.Region),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)))
	return nil
}

func teardown(cmd *cobra.Command, args []string) {
	if current == nil {
		return
	}
	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, current.registry); err != nil {
			current.logger.Warn("Failed to write metrics file", zap.String("path", metricsFile), zap.Error(err))
		}
	}
	current.db.Close()
	_ = current.logger.Sync()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		stop()
		os.Exit(1)
	}
}
