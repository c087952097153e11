package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"statement-converter/internal/models"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// Extractor turns the raw bytes of a PDF statement into transactions. Failures are always
// *ExtractionError. Unparseable model output is not a failure and yields an empty slice.
type Extractor interface {
	Extract(ctx context.Context, pdf []byte) ([]models.Transaction, error)
}

const extractionSystemPrompt = `You are a financial document parser specializing in bank statements. Extract ALL transactions from the provided bank statement.

For each transaction, extract:
- date: The transaction date in YYYY-MM-DD format
- description: The transaction description/merchant name
- debit: The debit amount as a number (null if not a debit)
- credit: The credit amount as a number (null if not a credit)
- balance: The running balance after the transaction as a number (null if not shown)

Return ONLY a valid JSON array of transactions. No markdown, no explanation, just the JSON array.
If you cannot extract any transactions, return an empty array [].

Example output format:
[{"date":"2024-01-15","description":"GROCERY STORE","debit":45.50,"credit":null,"balance":1234.50}]`

// errEmptyCompletion is reported when a provider answers without any candidate.
var errEmptyCompletion = errors.New("no completion returned")

const extractionUserPrompt = "Extract all transactions from this bank statement. Return only the JSON array."

const transactionsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["date", "description"],
    "properties": {
      "date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
      "description": {"type": "string"},
      "debit": {"type": ["number", "null"]},
      "credit": {"type": ["number", "null"]},
      "balance": {"type": ["number", "null"]}
    }
  }
}`

var transactionsSchemaCompiled = jsonschema.MustCompileString("transactions.schema.json", transactionsSchema)

// stripCodeFence removes a markdown code fence the model may wrap its answer in.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
	} else {
		content = strings.TrimPrefix(content, "```")
	}
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// parseTransactions interprets the model's reply. Anything other than a JSON array becomes an
// empty result. Array elements that are not objects are dropped. Schema violations are only
// logged because amounts are coerced leniently afterwards.
func parseTransactions(content string, logger *zap.Logger) []models.Transaction {
	cleaned := stripCodeFence(content)
	if cleaned == "" {
		logger.Warn("Model returned empty content")
		return []models.Transaction{}
	}

	var generic interface{}
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		logger.Warn("Model output is not valid JSON",
			zap.Error(err),
			zap.Int("content_length", len(cleaned)),
		)
		return []models.Transaction{}
	}

	if _, ok := generic.([]interface{}); !ok {
		logger.Warn("Model output is not a JSON array")
		return []models.Transaction{}
	}

	if err := transactionsSchemaCompiled.Validate(generic); err != nil {
		logger.Warn("Model output does not match the transaction schema", zap.Error(err))
	}

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &elements); err != nil {
		logger.Warn("Failed to split model output", zap.Error(err))
		return []models.Transaction{}
	}

	transactions := make([]models.Transaction, 0, len(elements))
	for i, raw := range elements {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			logger.Warn("Skipping non-object array element", zap.Int("index", i))
			continue
		}

		var tx models.Transaction
		if err := json.Unmarshal(trimmed, &tx); err != nil {
			logger.Warn("Skipping malformed transaction", zap.Int("index", i), zap.Error(err))
			continue
		}
		transactions = append(transactions, tx)
	}

	logger.Info("Transactions parsed", zap.Int("count", len(transactions)))
	return transactions
}
