package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Transaction is one statement row as extracted by the model. Rows decoded from model output
// keep their original JSON so they can be re-emitted without coercion.
type Transaction struct {
	Date        string
	Description string
	Debit       *float64
	Credit      *float64
	Balance     *float64

	raw json.RawMessage
}

type transactionWire struct {
	Date        string   `json:"date"`
	Description string   `json:"description"`
	Debit       *float64 `json:"debit"`
	Credit      *float64 `json:"credit"`
	Balance     *float64 `json:"balance"`
}

type transactionFields struct {
	Date        json.RawMessage `json:"date"`
	Description json.RawMessage `json:"description"`
	Debit       json.RawMessage `json:"debit"`
	Credit      json.RawMessage `json:"credit"`
	Balance     json.RawMessage `json:"balance"`
}

// UnmarshalJSON accepts numbers or numeric strings for amounts; anything else is treated as
// absent.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var f transactionFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	*t = Transaction{
		Date:        parseText(f.Date),
		Description: parseText(f.Description),
		Debit:       parseAmount(f.Debit),
		Credit:      parseAmount(f.Credit),
		Balance:     parseAmount(f.Balance),
		raw:         append(json.RawMessage(nil), data...),
	}
	return nil
}

// MarshalJSON re-emits the extracted object verbatim when available.
func (t Transaction) MarshalJSON() ([]byte, error) {
	if len(t.raw) > 0 {
		return t.raw, nil
	}
	return json.Marshal(transactionWire{
		Date:        t.Date,
		Description: t.Description,
		Debit:       t.Debit,
		Credit:      t.Credit,
		Balance:     t.Balance,
	})
}

func parseText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	// numbers and booleans keep their literal text
	if len(trimmed) > 0 && trimmed[0] != '{' && trimmed[0] != '[' {
		return string(trimmed)
	}
	return ""
}

func parseAmount(raw json.RawMessage) *float64 {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var n float64
	if err := json.Unmarshal(trimmed, &n); err == nil {
		return &n
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// FormatAmount renders an amount as plain locale-independent decimal, empty when absent.
func FormatAmount(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
