package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/civicase/relay/internal/broker"
)

func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <queue>...",
		Short: "Register one or more queues in STOPPED state",
		Args:  cobra.MinimumNArgs(1),
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
			defer client.Close(cmd.Context())

			timer, _ := cmd.Flags().GetInt("timer")
			controller := broker.NewController(client.Manifests(), log)
			for _, queue := range args {
				if _, err := controller.Create(cmd.Context(), queue, timer); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queue %q created\n", queue)
			}
			return nil
		},
	}
	cmd.Flags().Int("timer", 0, "poll interval override in seconds (0 = pool default)")
	return cmd
}

func newDropCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drop <queue>",
		Short: "Delete a queue manifest and mark all its messages DELETED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue := args[0]
			ok, err := confirm(cmd, fmt.Sprintf("drop queue %q and delete its messages?", queue))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}

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
			defer client.Close(cmd.Context())

			purged, err := client.Messages().PurgeQueue(cmd.Context(), queue)
			if err != nil {
				return err
			}
			controller := broker.NewController(client.Manifests(), log)
			if err := controller.Drop(cmd.Context(), queue); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue %q dropped, %d messages deleted\n", queue, purged)
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	return cmd
}

func newListQueuesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-queues",
		Short: "List every queue manifest with status and message counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer client.Close(cmd.Context())

			manifests, err := client.Manifests().List(cmd.Context())
			if err != nil {
				return err
			}

			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "QUEUE\tSTATUS\tWORKER\tHEARTBEAT\tPENDING\tFAILED\tCOMMENT")
			for _, m := range manifests {
				counts, err := client.Messages().CountByStatus(cmd.Context(), m.Name)
				if err != nil {
					return err
				}
				var pending int64
				for status, n := range counts {
					if !status.Terminal() && status != broker.StatusFailure {
						pending += n
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					m.Name, m.Status, m.ConnectedWorker,
					m.HeartbeatAge(now).Round(time.Second),
					pending, counts[broker.StatusFailure], m.Comment)
			}
			return w.Flush()
		},
	}
}

func newRepairCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair <queue>",
		Short: "Force a queue manifest back to STOPPED after a crashed worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue := args[0]
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
			defer client.Close(cmd.Context())

			m, err := client.Manifests().Get(cmd.Context(), queue)
			if err != nil {
				return err
			}
			if m.Status == broker.ManifestStopped {
				fmt.Fprintf(cmd.OutOrStdout(), "queue %q is already STOPPED\n", queue)
				return nil
			}

			age := m.HeartbeatAge(time.Now()).Round(time.Second)
			ok, err := confirm(cmd, fmt.Sprintf(
				"queue %q is %s (worker %q, heartbeat %s old); force it to STOPPED?",
				queue, m.Status, m.ConnectedWorker, age))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}

			controller := broker.NewController(client.Manifests(), log)
			if err := controller.Stop(cmd.Context(), queue, "repaired by operator", true); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue %q repaired; heartbeat was %s old\n", queue, age)
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	return cmd
}
