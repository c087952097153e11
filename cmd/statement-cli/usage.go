package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show today's conversion allowance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		usage, err := newController(nil).Usage(ctx)
		if err != nil {
			printError("%v", err)
			return err
		}

		printField("Tier", usage.Tier)
		printField("Used", usage.Used)
		printField("Limit", usage.Limit)
		printField("Remaining", usage.Remaining)
		if usage.ResetAt != nil {
			printField("Resets at", usage.ResetAt.Local().Format(time.RFC1123))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
}
