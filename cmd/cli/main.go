package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labforge/sample-ingest/config"
	"github.com/labforge/sample-ingest/internal/stores/document"
	"github.com/labforge/sample-ingest/internal/stores/lims"
	"github.com/labforge/sample-ingest/internal/stores/warehouse"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sample-ingest",
	Short: "Sample Ingest CLI - Laboratory test result ingestion tool",
	Long: `A CLI tool for ingesting CSV test result files from lighthouse testing
centres. Validated samples are replicated to the canonical document store, the
reporting warehouse, and the LIMS automation database, and every processed file
is archived with an import record.`,
	PersistentPreRunE: persistentPreRun,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml or ./config.yaml)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		// Config is optional for some commands, don't fail here
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
	}
}

// persistentPreRun runs before each command and initializes the logger
func persistentPreRun(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" {
		return nil
	}

	logger = initLogger()

	needsStores := cmd.Name() == "ingest" || cmd.Name() == "reclassify" || cmd.Name() == "init"
	if needsStores && cfg == nil {
		return fmt.Errorf("config required for %s command but not loaded", cmd.Name())
	}

	return nil
}

func initLogger() *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if cfg != nil && cfg.Logging.Level != "" {
		if parsedLevel, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			level = parsedLevel
		}
	}

	// Always use console format for CLI unless json is asked for
	var output io.Writer
	if cfg != nil && cfg.Logging.Format == "json" {
		output = os.Stdout
	} else {
		noColor := false
		if cfg != nil {
			noColor = cfg.Logging.NoColor
		}
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: noColor}
	}

	log := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return &log
}

// canonicalStore builds the canonical store from config. No I/O happens
// until the first operation.
func canonicalStore() *document.Store {
	return document.New(cfg.Canonical.URI, cfg.Canonical.Database, cfg.Canonical.Timeout)
}

func warehouseStore() *warehouse.Store {
	return warehouse.New(cfg.Warehouse.DSN)
}

func limsStore() *lims.Store {
	return lims.New(cfg.LIMS.DSN)
}

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
