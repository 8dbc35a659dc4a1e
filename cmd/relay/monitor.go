package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/civicase/relay/internal/broker"
	"github.com/civicase/relay/internal/monitor"
)

func newMonitorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve queue health reports and Prometheus metrics over HTTP",
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

			addr := cfg.MonitorAddr
			if flag, _ := cmd.Flags().GetString("addr"); flag != "" {
				addr = flag
			}

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			metrics := broker.NewMetrics(registry)

			checker := monitor.NewChecker(
				client.Manifests(), client.Messages(), metrics,
				cfg.HeartbeatWarn, cfg.HeartbeatError)
			server := monitor.NewServer(addr, checker, registry, log)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return server.Run(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from RELAY_MONITOR_ADDR)")
	return cmd
}
