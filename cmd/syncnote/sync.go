package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/config"
	"github.com/MarcoPoloResearchLab/syncnote/internal/logging"
	"github.com/MarcoPoloResearchLab/syncnote/internal/remote"
	"github.com/MarcoPoloResearchLab/syncnote/internal/store"
	"github.com/MarcoPoloResearchLab/syncnote/internal/syncengine"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push local changes and pull remote ones",
		Long:  "Runs one sync cycle, or one cycle per interval until interrupted when --interval is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int("interval", 0, "Seconds between sync cycles; 0 runs a single cycle")
	bindLocalFlag(cmd, config.KeySyncIntervalSeconds, "interval")
	return cmd
}

func runSync(ctx context.Context, out io.Writer) error {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(clientConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	localStore, err := store.OpenSQLite(clientConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer localStore.Close()

	client, err := remote.NewHTTPClient(remote.HTTPClientConfig{
		BaseURL:          clientConfig.RemoteBaseURL,
		Timeout:          clientConfig.RemoteTimeout,
		MaxResponseBytes: clientConfig.RemoteMaxResponseBytes,
		Tokens:           remote.StaticToken(clientConfig.RemoteToken),
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	broadcaster := syncengine.NewStatusBroadcaster()
	coordinator, err := syncengine.NewCoordinator(syncengine.CoordinatorConfig{
		Store:  localStore,
		Remote: client,
		Logger: logger,
		Status: broadcaster,
	})
	if err != nil {
		return err
	}

	if clientConfig.SyncInterval == 0 {
		report, err := coordinator.Sync(ctx)
		printReport(out, report)
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, cleanup := broadcaster.Subscribe(signalCtx)
	defer cleanup()
	go logStatus(logger, stream)

	ticker := time.NewTicker(clientConfig.SyncInterval)
	defer ticker.Stop()

	logger.Info("sync loop starting", zap.Duration("interval", clientConfig.SyncInterval))
	for {
		report, err := coordinator.TrySync(signalCtx)
		switch {
		case errors.Is(err, syncengine.ErrBusy):
		case signalCtx.Err() != nil:
			logger.Info("sync loop stopped")
			return nil
		default:
			printReport(out, report)
		}

		select {
		case <-signalCtx.Done():
			logger.Info("sync loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// logStatus writes each sync status event to the logger until the stream closes.
func logStatus(logger *zap.Logger, stream <-chan syncengine.StatusMessage) {
	for message := range stream {
		fields := []zap.Field{zap.String("event", message.EventType), zap.Time("at", message.Timestamp)}
		if message.Report != nil {
			fields = append(fields,
				zap.Bool("succeeded", message.Report.Succeeded()),
				zap.Int("pushed", message.Report.Push.Created+message.Report.Push.Updated+message.Report.Push.Deleted),
				zap.Int("push_failed", message.Report.Push.Failed),
				zap.Int("adopted", message.Report.Pull.Adopted))
		}
		if message.Err != nil {
			logger.Warn("sync status", append(fields, zap.Error(message.Err))...)
			continue
		}
		logger.Info("sync status", fields...)
	}
}

func printReport(out io.Writer, report syncengine.CycleReport) {
	status := "ok"
	if !report.Succeeded() {
		status = "incomplete"
	}
	fmt.Fprintf(out, "%s pushed created=%d updated=%d deleted=%d failed=%d pulled adopted=%d kept=%d purged=%d\n",
		status,
		report.Push.Created,
		report.Push.Updated,
		report.Push.Deleted,
		report.Push.Failed,
		report.Pull.Adopted,
		report.Pull.Kept,
		report.Pull.Purged,
	)
}
