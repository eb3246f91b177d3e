// Command prologd runs the Prolog query service and talks to it.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cognicore/prologd/internal/logging"
	"github.com/cognicore/prologd/pkg/prologd/rpc"
)

var (
	verbose bool
	addr    string
	timeout time.Duration

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "prologd",
	Short: "Prolog query service",
	Long: `prologd keeps a pool of Prolog engines over one shared database and
answers queries on them over HTTP.

Start the service with "prologd serve", then use "prologd query" or
"prologd console" against it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(logging.Options{Level: level})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:8642", "Service address")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Client request timeout (0: none)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(journalCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// transport returns a client for the service at --addr
func transport() *rpc.Transport {
	return rpc.NewTransport(addr, &http.Client{Timeout: timeout})
}
