package main

import (
	"context"
	"os"

	"statement-converter/internal/client"
	"statement-converter/pkg/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	endpoint string
	token    string
	noColor  bool
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "statement-cli",
	Short: "Convert bank statement PDFs through a statement converter server",
	Long: `statement-cli uploads bank statement PDFs to a statement converter server and
saves the extracted transactions as CSV, JSON or a spreadsheet file.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&endpoint, "endpoint", "e", envOr("STATEMENT_CONVERTER_URL", "http://localhost:8080"), "server base URL")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", os.Getenv("STATEMENT_CONVERTER_TOKEN"), "bearer token for the authenticated allowance")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log requests to stderr")
}

func newController(onChange func(client.State)) *client.Controller {
	log := zap.NewNop()
	if verbose {
		if l, err := logger.New("debug"); err == nil {
			log = l
		}
	}

	return client.NewController(endpoint, client.Options{
		TokenSource: func(context.Context) (string, error) {
			return token, nil
		},
		OnChange:    onChange,
		UploadPause: -1,
		Logger:      log,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
