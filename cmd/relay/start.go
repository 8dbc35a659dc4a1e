package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/civicase/relay/internal/broker"
	"github.com/civicase/relay/internal/ids"
	"github.com/civicase/relay/internal/logging"
	"github.com/civicase/relay/internal/rabbit"
)

func newStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <queue>...",
		Short: "Run the polling worker pool over the given queues",
		Long: "start locks each queue manifest and processes pending messages round-robin.\n" +
			"The first interrupt drains the in-flight batch and releases the manifests;\n" +
			"a second interrupt aborts immediately and leaves the manifests locked.",
		Args: cobra.MinimumNArgs(1),
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

			timer := cfg.Timer
			if seconds, _ := cmd.Flags().GetInt("timer"); seconds > 0 {
				timer = time.Duration(seconds) * time.Second
			}
			batchSize := cfg.BatchSize
			if size, _ := cmd.Flags().GetInt("batch-size"); size > 0 {
				batchSize = size
			}

			if pidFile, _ := cmd.Flags().GetString("pid"); pidFile != "" {
				if err := writePIDFile(pidFile); err != nil {
					return err
				}
				defer os.Remove(pidFile)
			}

			handlersPath, _ := cmd.Flags().GetString("handlers")
			registry, err := loadRegistry(handlersPath)
			if err != nil {
				return err
			}
			processors := builtinProcessors(log)

			client, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer client.Close(context.WithoutCancel(cmd.Context()))

			metrics := broker.NewMetrics(prometheus.NewRegistry())
			manifests := client.Manifests()
			messages := client.Messages()
			controller := broker.NewController(manifests, log)
			executor := broker.NewExecutor(registry, processors, messages, metrics, log)

			workers := make([]*broker.Worker, 0, len(args))
			for _, queue := range args {
				id := fmt.Sprintf("%s-%d-%s", hostname(), os.Getpid(), queue)
				workers = append(workers, broker.NewWorker(
					id, queue, controller, manifests, messages, executor, metrics, log))
			}
			pool := broker.NewPool(workers, timer, batchSize, log)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go handleSignals(pool, cancel, log)

			err = pool.Run(ctx)
			if errors.Is(err, broker.ErrColdShutdown) {
				fmt.Fprintln(cmd.ErrOrStderr(),
					"cold shutdown: queue manifests left locked, run `relay repair` before restarting")
			}
			return err
		},
	}
	cmd.Flags().Int("timer", 0, "seconds between pool rounds (default from RELAY_TIMER)")
	cmd.Flags().Int("batch-size", 0, "messages fetched per tick (default from RELAY_BATCH_SIZE)")
	cmd.Flags().String("handlers", "handlers.json", "JSON file with handler definitions")
	cmd.Flags().String("pid", "", "write the process id to this file")
	return cmd
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// handleSignals drives the two-stage shutdown: the first SIGINT/SIGTERM
// starts the warm drain, the second cancels the context to abort cold.
func handleSignals(pool *broker.Pool, cancel context.CancelFunc, log logging.Logger) {
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	for s := range sig {
		if cold := pool.RequestStop("signal " + s.String()); cold {
			log.Warn("second signal, aborting without releasing manifests", nil)
			cancel()
			return
		}
		log.Info("draining, send the signal again to abort immediately", nil)
	}
}

func newStartRabbitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start-rabbit <queue>",
		Short: "Consume a queue over RabbitMQ",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue := args[0]
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.RabbitURL == "" {
				return errors.New("start-rabbit: RELAY_RABBIT_URL is not configured")
			}
			log, closeLog, err := buildLogger(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			handlersPath, _ := cmd.Flags().GetString("handlers")
			registry, err := loadRegistry(handlersPath)
			if err != nil {
				return err
			}
			processors := builtinProcessors(log)

			client, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer client.Close(context.WithoutCancel(cmd.Context()))

			conn, err := rabbit.Dial(cfg.RabbitURL, log)
			if err != nil {
				return err
			}
			defer conn.Close()

			// Declaring the topology before consuming makes the command safe
			// to start against a fresh broker.
			if _, err := rabbit.NewProducer(conn, cfg.Exchange, []string{queue}, true, log); err != nil {
				return err
			}

			metrics := broker.NewMetrics(prometheus.NewRegistry())
			executor := rabbit.NewExecutor(registry, processors, client.Messages(), metrics, log)
			consumer := rabbit.NewWorkerChannel(conn, queue, executor, client.Messages(), log)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if once, _ := cmd.Flags().GetBool("once"); once {
				handled, err := consumer.ConsumeOne(ctx)
				if err != nil {
					return err
				}
				if !handled {
					fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				}
				return nil
			}

			err = consumer.Consume(ctx)
			if errors.Is(err, rabbit.ErrWorkerExit) {
				log.Info("consumer stopped", logging.Fields{"queue": queue})
				return nil
			}
			return err
		},
	}
	cmd.Flags().Bool("once", false, "process at most one delivery and exit")
	cmd.Flags().String("handlers", "handlers.json", "JSON file with handler definitions")
	return cmd
}

func hostname() string {
	host, err := os.Hostname()
	if err != nil {
		return ids.New()
	}
	return host
}
