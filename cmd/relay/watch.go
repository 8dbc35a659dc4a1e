package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/civicase/relay/internal/monitor"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch every queue and alert when message flow stalls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, closeLog, err := buildLogger(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			client, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer client.Close(context.WithoutCancel(cmd.Context()))

			interval, _ := cmd.Flags().GetDuration("interval")
			watcher := monitor.NewWatcher(client.Manifests(), client.Messages(), interval, log)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			err = watcher.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().Duration("interval", time.Minute, "time between scans")
	return cmd
}
