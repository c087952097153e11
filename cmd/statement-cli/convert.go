package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"statement-converter/internal/client"
	"statement-converter/internal/models"

	"github.com/spf13/cobra"
)

var (
	convertFormat  string
	convertOutput  string
	convertTimeout time.Duration
)

var convertCmd = &cobra.Command{
	Use:   "convert <statement.pdf>",
	Short: "Convert a bank statement PDF",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertFormat, "format", "f", string(models.FormatCSV), "output format: csv, json or xlsx")
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "output path (default: next to the input file)")
	convertCmd.Flags().DurationVar(&convertTimeout, "timeout", 3*time.Minute, "overall request timeout")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	inputPath := args[0]
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", inputPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, convertTimeout)
	defer cancel()

	format := models.ParseOutputFormat(convertFormat)
	bar, onChange := newProgress()
	controller := newController(onChange)

	result, err := controller.Convert(ctx, filepath.Base(inputPath), data, format)
	if err != nil {
		_ = bar.Exit()
		fmt.Fprintln(os.Stderr)
		var serverErr *client.ServerError
		if errors.As(err, &serverErr) {
			printError("%s", serverErr.Message)
		} else {
			printError("%s", controller.State().Error)
		}
		return err
	}
	_ = bar.Finish()

	outputPath := convertOutput
	if outputPath == "" {
		outputPath = filepath.Join(filepath.Dir(inputPath), client.ResultFileName(filepath.Base(inputPath), format))
	}
	if err := os.WriteFile(outputPath, result.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outputPath, err)
	}

	printSuccess("Converted %d transactions", result.TransactionCount)
	printField("Saved to", outputPath)
	printField("Remaining", result.RemainingConversions)
	return nil
}
