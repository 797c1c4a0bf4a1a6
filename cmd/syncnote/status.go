package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/config"
	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
	"github.com/MarcoPoloResearchLab/syncnote/internal/store"
	"github.com/MarcoPoloResearchLab/syncnote/internal/syncengine"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show records waiting for push and the last pull checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runStatus(ctx context.Context, out io.Writer) error {
	clientConfig, err := config.LoadLocal(viper.GetViper())
	if err != nil {
		return err
	}

	localStore, err := store.OpenSQLite(clientConfig.DatabasePath, zap.NewNop())
	if err != nil {
		return err
	}
	defer localStore.Close()

	snapshot, err := syncengine.Inspect(ctx, localStore)
	if err != nil {
		return err
	}

	for _, kind := range notes.PushOrder {
		fmt.Fprintf(out, "pending %-10s %d\n", kind, snapshot.Pending[kind])
	}
	if snapshot.Checkpoint == nil {
		fmt.Fprintln(out, "last pull  never")
	} else {
		fmt.Fprintf(out, "last pull  %s\n", snapshot.Checkpoint.UTC().Format(time.RFC3339))
	}
	return nil
}
