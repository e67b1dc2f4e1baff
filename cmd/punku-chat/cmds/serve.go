package cmds

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/punku-chat/pkg/hostbridge"
	"github.com/go-go-golems/punku-chat/pkg/widget"
	"github.com/go-go-golems/punku-chat/pkg/widget/events"
)

func newServeCommand(st *rootState) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a widget and expose it to a host page over a websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.settings(true)
			if err != nil {
				return err
			}
			if addr != "" {
				s.Bridge.Addr = addr
			}
			a, err := openApp(s)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			bus, err := events.BuildBus(s.Events)
			if err != nil {
				return err
			}
			defer func() { _ = bus.Close() }()

			registry := widget.NewRegistry()
			opts := a.widgetOptions()
			opts.Events = bus
			opts.Registry = registry
			ctrl, err := widget.NewController(a.client, a.store, opts)
			if err != nil {
				return err
			}
			defer ctrl.Dispose()
			log.Info().Str("component", "cli").Strs("handles", registry.Keys()).Msg("widget published")

			cfg := s.SessionConfig()
			srv := hostbridge.NewServer(bus, registry,
				hostbridge.WithWriteTimeout(s.Bridge.WriteTimeout),
				hostbridge.WithCleanup(s.Bridge.CleanupInterval, func() int {
					return a.store.CleanupExpiredSessions(cfg)
				}),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, s.Bridge.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from bridge.addr)")
	return cmd
}
