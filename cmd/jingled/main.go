package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Jingle/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cfg *config.Config
	root := &cobra.Command{
		Use:           "jingled",
		Short:         "Jingle call control: switchboard, relay and agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			return setupLogging(cfg.Log)
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "switchboard",
			Short: "Route stanzas between accounts and serve the relay service",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runSwitchboard(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "agent",
			Short: "Run an account that answers and places calls",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runAgent(cmd.Context(), cfg, nil)
			},
		},
		callCommand(&cfg),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("jingled failed")
		os.Exit(1)
	}
}

func callCommand(cfg **config.Config) *cobra.Command {
	var video bool
	cmd := &cobra.Command{
		Use:   "call <jid>",
		Short: "Place one call and stay in it until it ends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), *cfg, &outbound{to: args[0], video: video})
		},
	}
	cmd.Flags().BoolVar(&video, "video", false, "offer a video line too")
	return cmd
}
