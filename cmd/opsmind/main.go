package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/opsmind/opsmind/internal/pipeline"
	"github.com/opsmind/opsmind/pkg/config"
	"github.com/opsmind/opsmind/pkg/connector/registry"
	"github.com/opsmind/opsmind/pkg/logger"

	// Import all available connectors to register them
	_ "github.com/opsmind/opsmind/pkg/connector/sources/jira"
)

var version = "0.1.0"

// AppConfig is the top-level YAML configuration.
type AppConfig struct {
	Logging logger.Config          `yaml:"logging"`
	Metrics MetricsConfig          `yaml:"metrics"`
	Sources []*config.SourceConfig `yaml:"sources"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	viper.SetEnvPrefix("OPSMIND")
	viper.AutomaticEnv()
	viper.SetDefault("config", "opsmind.yaml")
	viper.SetDefault("metrics_addr", ":9090")

	root := &cobra.Command{
		Use:   "opsmind",
		Short: "OpsMind - realtime operational context engine",
		Long: `OpsMind aggregates incident history, issue-tracker exports and live
JIRA activity into one queryable context store. Connectors poll their
upstream systems continuously; static CSV datasets are loaded once at
startup.`,
	}

	var configFile string
	root.PersistentFlags().StringVarP(&configFile, "config", "c", viper.GetString("config"), "Path to YAML configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("OpsMind v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sources",
		Short: "List connector types and configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Available connector types:")
			for _, name := range registry.List() {
				fmt.Printf("  - %s\n", name)
			}

			app, err := loadAppConfig(configFile)
			if err != nil {
				return err
			}
			fmt.Println("\nConfigured sources:")
			for _, src := range app.Sources {
				state := "disabled"
				if src.Enabled {
					state = "enabled"
				}
				fmt.Printf("  - %s (%s, priority %d, %s)\n", src.Name, src.Kind, src.Priority, state)
			}
			return nil
		},
	})

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start all sources and serve until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManager(configFile)
		},
	}
	root.AddCommand(runCmd)

	var queryLimit int
	queryCmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Run a one-shot context query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(configFile, args[0], queryLimit)
		},
	}
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "l", 20, "Maximum number of context items to return")
	root.AddCommand(queryCmd)

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show source and connector status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(configFile)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadAppConfig reads and validates the YAML configuration.
func loadAppConfig(path string) (*AppConfig, error) {
	var app AppConfig
	if err := config.Load(path, &app); err != nil {
		return nil, err
	}
	for _, src := range app.Sources {
		if err := src.Validate(); err != nil {
			return nil, fmt.Errorf("invalid source configuration: %w", err)
		}
	}
	return &app, nil
}

// buildManager initializes logging and constructs a started data manager.
func buildManager(ctx context.Context, app *AppConfig) (*pipeline.DataManager, error) {
	if err := logger.Init(app.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	dm := pipeline.NewDataManager()
	for _, src := range app.Sources {
		if err := dm.AddSource(src); err != nil {
			return nil, fmt.Errorf("failed to add source %s: %w", src.Name, err)
		}
	}
	if err := dm.Start(ctx); err != nil {
		return nil, err
	}
	return dm, nil
}

// runManager starts everything and blocks until SIGINT/SIGTERM.
func runManager(configFile string) error {
	app, err := loadAppConfig(configFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	dm, err := buildManager(ctx, app)
	if err != nil {
		return err
	}

	log := logger.Get().With(zap.String("component", "opsmind-cli"))

	var metricsServer *http.Server
	if app.Metrics.Enabled {
		addr := app.Metrics.Addr
		if addr == "" {
			addr = viper.GetString("metrics_addr")
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: addr, Handler: mux}
		go func() {
			log.Info("serving metrics", zap.String("addr", addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	log.Info("opsmind running", zap.Int("sources", len(app.Sources)))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	dm.Stop(shutdownCtx)
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	return logger.Sync()
}

// runQuery starts the sources, runs one query and prints the result as JSON.
func runQuery(configFile, text string, limit int) error {
	app, err := loadAppConfig(configFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	dm, err := buildManager(ctx, app)
	if err != nil {
		return err
	}
	defer dm.Stop(ctx)

	result := dm.Query(text, limit)
	return printJSON(result)
}

// runStatus starts the sources and prints a status snapshot.
func runStatus(configFile string) error {
	app, err := loadAppConfig(configFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	dm, err := buildManager(ctx, app)
	if err != nil {
		return err
	}
	defer dm.Stop(ctx)

	return printJSON(dm.Status())
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
