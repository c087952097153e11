package main

import (
	"fmt"
	"os"

	"statement-converter/internal/client"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	labelColor   = color.New(color.FgCyan)
)

var stepLabels = map[client.Step]string{
	client.StepUploading:  "Uploading",
	client.StepParsing:    "Reading PDF",
	client.StepExtracting: "Extracting transactions",
	client.StepGenerating: "Generating file",
	client.StepComplete:   "Done",
}

// newProgress renders controller milestones on stderr.
func newProgress() (*progressbar.ProgressBar, func(client.State)) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(stepLabels[client.StepUploading]),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(!color.NoColor),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
	)

	return bar, func(s client.State) {
		if s.Failed() {
			return
		}
		bar.Describe(stepLabels[s.Step])
		_ = bar.Set(s.Progress)
	}
}

func printSuccess(format string, args ...interface{}) {
	successColor.Fprint(os.Stdout, "✓ ")
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprint(os.Stderr, "✗ ")
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

func printField(label string, value interface{}) {
	labelColor.Fprintf(os.Stdout, "%-12s", label+":")
	fmt.Fprintf(os.Stdout, " %v\n", value)
}
