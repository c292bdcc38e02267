// draftsync command line
// Serves a shared document store and drives writing sessions against it
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nainya/draftsync/internal/config"
	"github.com/nainya/draftsync/internal/logger"
	"github.com/nainya/draftsync/internal/metrics"
	"github.com/nainya/draftsync/pkg/docstore"
)

// Version is set at build time
var Version = "dev"

var (
	envFile string

	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:           "draftsync",
	Short:         "Multi-device writing sessions with lease-gated autosave",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		loaded, err := config.Load(files...)
		if err != nil {
			return err
		}
		cfg = loaded

		logger.InitGlobalLogger(logger.Config{
			Level:  cfg.LogLevel,
			Pretty: cfg.LogPretty,
			Output: os.Stderr,
		})
		log = logger.GetGlobalLogger()
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("draftsync", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "optional .env file")
	rootCmd.AddCommand(versionCmd)
}

// openStore connects to the configured backend and instruments it
func openStore(m *metrics.Metrics) (docstore.Store, error) {
	var (
		store docstore.Store
		err   error
	)

	switch cfg.StoreBackend {
	case config.BackendMemory:
		store = docstore.NewMemoryStore()
	case config.BackendSQLite:
		store, err = docstore.OpenSQLite(cfg.DBPath)
	case config.BackendGRPC:
		store, err = docstore.DialGRPC(cfg.StoreAddr)
	case config.BackendHTTP:
		store = docstore.NewHTTPStore(cfg.StoreAddr)
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}

	return docstore.Instrument(store, m, log.StoreLogger(cfg.StoreBackend)), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
