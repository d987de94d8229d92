package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ethpandaops/trendoor/pkg/config"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFiles []string
	logLevel string
	log      *logrus.Logger
	cfg      *config.Config
	logFile  io.Closer
)

func main() {
	log = logrus.New()
	// stdout is reserved for command output such as the build id.
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	err := rootCmd.Execute()

	if logFile != nil {
		_ = logFile.Close()
	}

	if err != nil {
		log.WithError(err).Fatal("Failed to execute command")
	}
}

var rootCmd = &cobra.Command{
	Use:   "trendoor",
	Short: "Test outcome recorder and trend reporter",
	Long: `Trendoor records the outcome of every test phase into a local or shared
database, keeps a rolling week of builds and renders a summary of the latest
results with per-test trends over the last builds.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFiles...)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		cfg = loaded

		level := cfg.Global.LogLevel
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}

		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}

		log.SetLevel(parsed)

		if cfg.Global.LogFile != "" {
			lj := &lumberjack.Logger{
				Filename:   cfg.Global.LogFile,
				MaxSize:    cfg.Global.LogMaxSizeMB,
				MaxBackups: cfg.Global.LogMaxBackups,
			}

			log.SetOutput(io.MultiWriter(os.Stderr, lj))
			logFile = lj
		}

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trendoor %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&cfgFiles, "config", nil,
		"config file path (repeatable, merged in order)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel,
		"log level ("+strings.Join(logLevels(), ", ")+")")

	rootCmd.AddCommand(versionCmd)
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}
