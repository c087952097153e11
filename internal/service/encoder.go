package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"statement-converter/internal/models"
)

const (
	mediaTypeCSV  = "text/csv"
	mediaTypeJSON = "application/json"
	// the spreadsheet flavour is tab separated text served under the spreadsheet media type
	mediaTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var tableHeader = []string{"Date", "Description", "Debit", "Credit", "Balance"}

// EncodedFile is an encoded transaction list ready to be served.
type EncodedFile struct {
	Data      []byte
	MediaType string
	Extension string
}

// Encode renders transactions in format. Unknown formats are encoded as CSV. An empty list
// produces header-only tabular output or "[]".
func Encode(transactions []models.Transaction, format models.OutputFormat) (EncodedFile, error) {
	switch format {
	case models.FormatJSON:
		data, err := encodeJSON(transactions)
		if err != nil {
			return EncodedFile{}, err
		}
		return EncodedFile{Data: data, MediaType: mediaTypeJSON, Extension: "json"}, nil
	case models.FormatXLSX:
		return EncodedFile{Data: encodeTSV(transactions), MediaType: mediaTypeXLSX, Extension: "xlsx"}, nil
	default:
		return EncodedFile{Data: encodeCSV(transactions), MediaType: mediaTypeCSV, Extension: "csv"}, nil
	}
}

func encodeJSON(transactions []models.Transaction) ([]byte, error) {
	if transactions == nil {
		transactions = []models.Transaction{}
	}
	data, err := json.MarshalIndent(transactions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return data, nil
}

// encodeCSV always quotes the description and quotes the date only when it needs it.
// Lines are joined with "\n" and there is no trailing newline.
func encodeCSV(transactions []models.Transaction) []byte {
	lines := make([]string, 0, len(transactions)+1)
	lines = append(lines, strings.Join(tableHeader, ","))

	for _, tx := range transactions {
		lines = append(lines, strings.Join([]string{
			csvField(tx.Date),
			quoteCSV(tx.Description),
			models.FormatAmount(tx.Debit),
			models.FormatAmount(tx.Credit),
			models.FormatAmount(tx.Balance),
		}, ","))
	}

	return []byte(strings.Join(lines, "\n"))
}

func quoteCSV(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func csvField(s string) string {
	if strings.ContainsAny(s, ",\"\r\n") {
		return quoteCSV(s)
	}
	return s
}

var tsvReplacer = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ")

// encodeTSV writes fields unquoted; tabs and line breaks inside text are flattened to spaces.
func encodeTSV(transactions []models.Transaction) []byte {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(tableHeader, "\t"))

	for _, tx := range transactions {
		buf.WriteByte('\n')
		buf.WriteString(strings.Join([]string{
			tsvReplacer.Replace(tx.Date),
			tsvReplacer.Replace(tx.Description),
			models.FormatAmount(tx.Debit),
			models.FormatAmount(tx.Credit),
			models.FormatAmount(tx.Balance),
		}, "\t"))
	}

	return buf.Bytes()
}
