package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chatroom/pkg/channel"
	"chatroom/pkg/channel/telegram"
	"chatroom/pkg/config"
	"chatroom/pkg/gateway"

	"github.com/spf13/cobra"
)

var gatewayPort int

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Serve chat sessions over messaging channels",
	Long: `Connects every enabled channel (currently Telegram) to the backend, one
chat session per conversation. Health is served on /healthz and readiness,
which needs a running channel and a reachable backend, on /readyz.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "cmd.gateway", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		if cmd.Flags().Changed("port") {
			a.cfg.Gateway.Port = gatewayPort
		}

		adapters, err := enabledAdapters(a.cfg, a.log)
		if err != nil {
			return fmt.Errorf("gateway configuration invalid: %w", err)
		}

		svc, err := gateway.NewService(ctx, a.cfg, a.client, a.store, adapters, a.recorder, a.log)
		if err != nil {
			return err
		}

		a.log.Info("Gateway starting",
			"channels", enabledChannelNames(adapters),
			"backend", a.cfg.Backend.Type,
			"host", a.cfg.Backend.Host,
			"port", a.cfg.Gateway.Port,
		)
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		a.log.Info("Gateway stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.Flags().IntVarP(&gatewayPort, "port", "p", config.DefaultGatewayPort, "health server port (overrides gateway.port)")
}

// enabledAdapters builds one adapter per enabled channel section.
func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	var adapters []channel.Adapter

	if tg := cfg.Channels.Telegram; tg.Enabled {
		adapter, err := telegram.NewAdapter(tg, log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram channel: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, len(adapters))
	for i, adapter := range adapters {
		names[i] = adapter.Name()
	}

	return strings.Join(names, ",")
}
