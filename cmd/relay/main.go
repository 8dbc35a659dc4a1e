// Command relay is the administrative CLI of the relay message broker: queue
// management, the polling worker pool, the AMQP consumer, and monitoring.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/civicase/relay/internal/config"
	"github.com/civicase/relay/internal/logging"
	"github.com/civicase/relay/internal/store"
)

func main() {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "relay",
		Short:         "Relay queue broker",
		Long:          "Relay moves case-management events between applications through persisted message queues, over a polling store or RabbitMQ.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "", "log level: debug|info|warn|error (default from RELAY_LOG_LEVEL)")
	root.PersistentFlags().String("log-file", "", "append logs to this file instead of stderr")

	root.AddCommand(
		newCreateCommand(),
		newDropCommand(),
		newListQueuesCommand(),
		newRepairCommand(),
		newStartCommand(),
		newStartRabbitCommand(),
		newWatchCommand(),
		newMonitorCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

// loadConfig builds the runtime configuration and validates it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildLogger assembles the process logger, letting CLI flags override the
// environment configuration.
func buildLogger(cmd *cobra.Command, cfg *config.Config) (logging.Logger, func(), error) {
	level := cfg.LogLevel
	if flag, _ := cmd.Flags().GetString("log-level"); flag != "" {
		level = flag
	}
	file := cfg.LogFile
	if flag, _ := cmd.Flags().GetString("log-file"); flag != "" {
		file = flag
	}

	var out io.Writer = os.Stderr
	closer := func() {}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closer = func() { _ = f.Close() }
	}

	log := logging.New(logging.Options{
		Level:  level,
		Format: cfg.LogFormat,
		Output: out,
	})
	return log, closer, nil
}

// openStore connects to MongoDB and ensures the indexes exist.
func openStore(ctx context.Context, cfg *config.Config) (*store.Client, error) {
	client, err := store.Open(ctx, cfg.MongoURL, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureIndexes(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	return client, nil
}

// confirm asks for an explicit "yes" on stdin unless the --yes flag was set.
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return true, nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s [yes/no]: ", prompt)
	var answer string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &answer); err != nil {
		return false, nil
	}
	return answer == "yes" || answer == "y", nil
}
