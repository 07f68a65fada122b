package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dataland/internal/config"
	"github.com/sells-group/dataland/internal/resilience"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and requeue dead-lettered events",
}

// -- dlq list --

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered events",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeConsume)
		if err != nil {
			return err
		}
		defer env.Close()

		eventType, _ := cmd.Flags().GetString("type")
		errorType, _ := cmd.Flags().GetString("error-type")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := env.Queue.ListDLQ(ctx, resilience.DLQFilter{
			MessageType: eventType,
			ErrorType:   errorType,
			Limit:       limit,
		})
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No dead-lettered events.")
			return nil
		}

		formatDLQ(os.Stdout, entries)
		return nil
	},
}

// -- dlq retry --

var dlqRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Requeue a dead-lettered event for redelivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeConsume)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Queue.RequeueDLQ(ctx, args[0]); err != nil {
			return eris.Wrapf(err, "dlq retry %s", args[0])
		}
		remaining, err := env.Queue.CountDLQ(ctx)
		if err != nil {
			return eris.Wrap(err, "dlq count")
		}
		zap.L().Info("event requeued", zap.String("id", args[0]), zap.Int("remaining", remaining))
		return nil
	},
}

func formatDLQ(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tERROR_TYPE\tRETRIES\tFAILED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t----------\t-------\t------\t-----")

	for _, e := range entries {
		msg := e.Error
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			e.ID,
			e.MessageType,
			e.ErrorType,
			e.RetryCount,
			e.MaxRetries,
			e.LastFailedAt.Format("2006-01-02 15:04"),
			msg,
		)
	}
	_ = w.Flush()
}

func init() {
	dlqListCmd.Flags().String("type", "", "filter by event type")
	dlqListCmd.Flags().String("error-type", "", "filter by error type (transient, permanent, malformed)")
	dlqListCmd.Flags().Int("limit", 50, "maximum entries to show")
	dlqCmd.AddCommand(dlqListCmd, dlqRetryCmd)
	rootCmd.AddCommand(dlqCmd)
}
