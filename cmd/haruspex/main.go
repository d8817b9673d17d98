// cmd/haruspex/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalnine/haruspex/internal/analyzer"
	"github.com/signalnine/haruspex/internal/classifier"
	"github.com/signalnine/haruspex/internal/config"
	"github.com/signalnine/haruspex/internal/notify"
	"github.com/signalnine/haruspex/internal/pihole"
	"github.com/signalnine/haruspex/internal/state"
	"github.com/signalnine/haruspex/internal/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "haruspex",
	Short: "DNS query risk auditing via LLM",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single analysis cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *app) error {
			return app.runCycle(ctx)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run analysis cycles on an interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *app) error {
			return app.watch(ctx)
		})
	},
}

var findingsLimit int

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "Print recent findings from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *app) error {
			return app.printFindings()
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "haruspex.yaml", "path to config file")
	findingsCmd.Flags().IntVarP(&findingsLimit, "limit", "n", 20, "number of findings to show")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(findingsCmd)
}

// app holds the wired components for one process.
type app struct {
	cfg        *config.Config
	store      *storage.Store
	controller *analyzer.Controller
	logger     *zap.Logger
}

func withApp(fn func(context.Context, *app) error) error {
	// Secrets may live in a .env next to the config; missing file is fine
	godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", zap.String("path", configPath), zap.Error(err))
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}
	if !cfg.SMTPConfigured() {
		logger.Warn("SMTP not fully configured, notifications will be logged failures")
	}

	store, err := storage.Open(cfg.Storage.DBPath, logger)
	if err != nil {
		logger.Error("failed to open findings database", zap.Error(err))
		return err
	}
	defer store.Close()

	var endpoints []classifier.Endpoint
	for _, ep := range cfg.Classifier.Endpoints {
		endpoints = append(endpoints, classifier.Endpoint{
			URL:    ep.URL,
			Model:  ep.Model,
			APIKey: ep.APIKey,
		})
	}

	controller := analyzer.NewController(
		pihole.NewClient(cfg.Pihole, logger),
		classifier.NewClient(endpoints, cfg.Classifier.BatchSize, logger),
		store,
		notify.NewMailer(cfg.SMTP, cfg.SMTPConfigured(), logger),
		&state.File{Path: cfg.State.WatermarkFile},
		cfg.Alerts.Categories,
		cfg.Alerts.Separator,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return fn(ctx, &app{cfg: cfg, store: store, controller: controller, logger: logger})
}

// runCycle runs one cycle under the advisory lock. An aborted cycle is a
// non-zero exit so schedulers notice.
func (a *app) runCycle(ctx context.Context) error {
	release, err := state.AcquireLock(a.cfg.State.LockFile)
	if err != nil {
		if errors.Is(err, state.ErrLocked) {
			a.logger.Warn("skipping cycle, lock held by another invocation", zap.Error(err))
			return nil
		}
		return err
	}
	defer release()

	report := a.controller.RunCycle(ctx)
	if report.State == analyzer.StateAborted {
		return errors.New("analysis cycle aborted")
	}
	return nil
}

// watch runs cycles on the poll interval until the context is cancelled.
// Runs immediately on start, like a fresh scheduler invocation would.
func (a *app) watch(ctx context.Context) error {
	a.logger.Info("watch starting", zap.Duration("poll_interval", a.cfg.PollInterval))

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	if err := a.runCycle(ctx); err != nil {
		a.logger.Error("cycle failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("watch shutting down")
			return nil
		case <-ticker.C:
			if err := a.runCycle(ctx); err != nil {
				a.logger.Error("cycle failed", zap.Error(err))
			}
		}
	}
}

func (a *app) printFindings() error {
	findings, err := a.store.RecentFindings(findingsLimit)
	if err != nil {
		return err
	}

	for _, f := range findings {
		client := "Unknown"
		if f.ClientIP != nil {
			client = *f.ClientIP
		}
		reason := "N/A"
		if f.Reason != nil {
			reason = *f.Reason
		}
		fmt.Printf("%s  %-15s  %-40s  %-25s  %s  %s\n",
			time.Unix(int64(f.QueryTimestamp), 0).Format("2006-01-02 15:04:05"),
			client, f.Domain, f.Category, f.Source, reason)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
