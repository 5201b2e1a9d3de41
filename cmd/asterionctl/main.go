package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"asterion/pkg/asterion"
)

var (
	configPath string
	logLevel   string
	storeKind  string
	dbPath     string

	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:           "asterionctl",
	Short:         "Manage populations of game-playing neural nets",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("bad log level %q: %w", logLevel, err)
		}
		log.SetLevel(level)
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "asterion.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "run history store kind (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "run history database path (overrides config)")

	rootCmd.AddCommand(
		newConfigCmd(),
		newPopulationCmd(),
		newModelCmd(),
		newRunCmd(),
		newRunsCmd(),
		newStatusCmd(),
		newKillCmd(),
		newHeadlessCmd(),
		newStopCmd(),
	)
}

// newClient builds the embedding API client from config plus the global
// store overrides.
func newClient(cfg Config) (*asterion.Client, error) {
	kind := cfg.Store.Kind
	if storeKind != "" {
		kind = storeKind
	}
	path := cfg.Store.Path
	if dbPath != "" {
		path = dbPath
	}
	return asterion.New(asterion.Options{
		StoreKind: kind,
		DBPath:    path,
		Logger:    log,
	})
}
