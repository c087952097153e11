package service

import (
	"context"
	"fmt"
	"strings"

	"statement-converter/internal/models"
	"statement-converter/pkg/config"

	"cloud.google.com/go/vertexai/genai"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// VertexExtractor sends the statement inline to a Gemini model on Vertex AI.
type VertexExtractor struct {
	model  *genai.GenerativeModel
	logger *zap.Logger
}

func NewVertexExtractor(client *genai.Client, cfg *config.VertexConfig, maxTokens int, logger *zap.Logger) *VertexExtractor {
	model := client.GenerativeModel(cfg.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(extractionSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.1),
		MaxOutputTokens:  genai.Ptr(int32(maxTokens)),
	}

	return &VertexExtractor{model: model, logger: logger}
}

func (e *VertexExtractor) Extract(ctx context.Context, pdf []byte) ([]models.Transaction, error) {
	resp, err := e.model.GenerateContent(ctx,
		genai.Blob{MIMEType: "application/pdf", Data: pdf},
		genai.Text(extractionUserPrompt),
	)
	if err != nil {
		e.logger.Error("Vertex AI extraction failed", zap.Error(err))
		return nil, classifyVertexError(err)
	}

	content := responseText(resp)
	if content == "" {
		content = "[]"
	}
	return parseTransactions(content, e.logger), nil
}

// classifyVertexError maps gRPC status codes onto the extraction taxonomy.
func classifyVertexError(err error) *ExtractionError {
	switch status.Code(err) {
	case codes.ResourceExhausted:
		return &ExtractionError{Kind: ExtractionRateLimited, Err: fmt.Errorf("vertex: %w", err)}
	case codes.PermissionDenied, codes.FailedPrecondition:
		return &ExtractionError{Kind: ExtractionQuotaExhausted, Err: fmt.Errorf("vertex: %w", err)}
	default:
		return upstreamFailure(fmt.Errorf("vertex: %w", err))
	}
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}
