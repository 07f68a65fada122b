package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/dataland/internal/config"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run the event consumer without the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, config.ModeConsume)
		if err != nil {
			return err
		}
		defer env.Close()

		return env.newConsumer().Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}
