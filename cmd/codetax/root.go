package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"codetax/internal/config"
	"codetax/internal/slogutil"
	"codetax/internal/version"
)

var (
	verbosity    int
	quietFlag    bool
	configFlag   string
	logFileFlag  string
	taxonomyFlag string
)

// per-invocation state set up by setup
var (
	cfg     *config.Config
	logger  = slogutil.NewDiscardLogger()
	workDir string
	logFile *os.File
)

var rootCmd = &cobra.Command{
	Use:   "codetax",
	Short: "codetax - classify code by pattern taxonomies",
	Long: `codetax searches source trees with a hierarchy of regular-expression rules
and labels every match with the epics it belongs to. Matches can be listed,
summarised per epic, or counted week by week across git history.`,
	Version:           version.Info(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			_ = logFile.Close()
			logFile = nil
		}
	},
}

func init() {
	rootCmd.SetVersionTemplate("codetax version {{.Version}}\n")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (repeatable)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress all logging")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: .codetax/config.json)")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "Also write logs to this file")
	rootCmd.PersistentFlags().StringVarP(&taxonomyFlag, "taxonomy", "t", "", "Taxonomy file (overrides taxonomy.file)")
}

// setup loads configuration and builds the logger for every command
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if workDir, err = os.Getwd(); err != nil {
		return err
	}

	if configFlag != "" {
		cfg, err = config.LoadConfigFile(configFlag)
	} else {
		cfg, err = config.LoadConfig(workDir)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if taxonomyFlag != "" {
		cfg.Taxonomy.File = taxonomyFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slogutil.LevelFromString(cfg.Logging.Level)
	if verbosity > 0 || quietFlag {
		level = slogutil.LevelFromVerbosity(verbosity, quietFlag)
	}

	path := logFileFlag
	if path == "" {
		path = cfg.Logging.File
	}
	if path == "" {
		logger = slogutil.NewLogger(cmd.ErrOrStderr(), level)
	} else {
		fileHandler, f, err := slogutil.NewFileHandler(path, slogutil.LevelFromVerbosity(2, false))
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
		stderr := slogutil.NewHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
		logger = slog.New(slogutil.NewTeeHandler(stderr, fileHandler))
	}

	logger.Debug("Loaded config", "taxonomy", cfg.Taxonomy.File, "backend", cfg.Search.Backend)
	return nil
}
