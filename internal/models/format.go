package models

import (
	"regexp"
	"strings"
)

// OutputFormat is a requested download kind.
type OutputFormat string

const (
	FormatCSV  OutputFormat = "csv"
	FormatJSON OutputFormat = "json"
	FormatXLSX OutputFormat = "xlsx"
)

// ParseOutputFormat maps a form value to a format. Unknown or empty values fall back to CSV.
func ParseOutputFormat(s string) OutputFormat {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON
	case FormatXLSX:
		return FormatXLSX
	default:
		return FormatCSV
	}
}

var pdfSuffix = regexp.MustCompile(`(?i)\.pdf$`)

// OutputFileName derives the download name: a trailing ".pdf" is dropped (any case) and the
// format's extension is appended. An empty base becomes "statement".
func OutputFileName(uploadName string, format OutputFormat) string {
	base := pdfSuffix.ReplaceAllString(uploadName, "")
	if base == "" {
		base = "statement"
	}
	return base + "." + string(format)
}
