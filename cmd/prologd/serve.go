package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/cognicore/prologd/internal/logging"
	"github.com/cognicore/prologd/pkg/prologd"
	"github.com/cognicore/prologd/pkg/prologd/config"
)

var (
	serveConfig         string
	serveEngines        int
	serveStack          string
	serveRequestTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the query service",
	Long: `Starts the Prolog runtime, consults the configured knowledge files and
serves queries until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	fs := serveCmd.Flags()
	fs.StringVarP(&serveConfig, "config", "c", "", "YAML configuration file")
	fs.IntVar(&serveEngines, "engines", 0, "Number of pooled engines")
	fs.StringVar(&serveStack, "stack", "", "Size of each engine stack, e.g. 256MiB")
	fs.DurationVar(&serveRequestTimeout, "request-timeout", 0, "Bound on one blocking read (0: wait for the query)")
}

// loadServeConfig reads --config, or returns the defaults. Flags set on
// the command line override the file.
func loadServeConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if serveConfig != "" {
		var err error
		cfg, err = config.Load(serveConfig)
		if err != nil {
			return config.Config{}, err
		}
	}
	if err := applyFlags(cmd.Flags(), &cfg); err != nil {
		return config.Config{}, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, cfg.Validate()
}

// applyFlags copies the serve flags present on the command line onto cfg
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "addr":
			cfg.Server.Listen = f.Value.String()
		case "engines":
			cfg.Prolog.NumEngines, err = fs.GetInt(f.Name)
		case "request-timeout":
			cfg.Server.RequestTimeout, err = fs.GetDuration(f.Name)
		case "stack":
			var size uint64
			if size, err = humanize.ParseBytes(f.Value.String()); err != nil {
				err = fmt.Errorf("--stack: %w", err)
				return
			}
			mb := size >> 20
			cfg.Prolog.Stacks = config.Stacks{Global: mb, Local: mb, Trail: mb}
		}
	})
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(logging.Options{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := prologd.New(ctx, prologd.Options{Config: cfg, Logger: log})
	if err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error("shutdown", zap.Error(err))
		}
	}()

	if err := svc.Run(ctx); err != nil {
		return err
	}
	log.Info("shutdown signal received")
	return nil
}
