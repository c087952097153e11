package handlers

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"statement-converter/internal/dto"
	"statement-converter/internal/models"
	"statement-converter/internal/service"
	"statement-converter/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	HeaderTransactionsCount    = "X-Transactions-Count"
	HeaderRemainingConversions = "X-Remaining-Conversions"
)

type ConversionHandler struct {
	conversions *service.ConversionService
	identities  *service.IdentityResolver
	logger      *zap.Logger
}

func NewConversionHandler(conversions *service.ConversionService, identities *service.IdentityResolver, logger *zap.Logger) *ConversionHandler {
	return &ConversionHandler{
		conversions: conversions,
		identities:  identities,
		logger:      logger,
	}
}

// Convert godoc
// @Summary Convert a bank statement
// @Description Extracts transactions from a PDF bank statement and returns them as CSV, JSON or a tab-separated spreadsheet. Every call counts against the caller's daily allowance.
// @Tags conversion
// @Accept multipart/form-data
// @Produce text/csv,application/json,application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param file formData file true "PDF bank statement, at most 10MB"
// @Param format formData string false "Output format" Enums(csv, json, xlsx) default(csv)
// @Security Bearer
// @Success 200 {file} file "Encoded transactions"
// @Header 200 {integer} X-Transactions-Count "Number of extracted transactions"
// @Header 200 {integer} X-Remaining-Conversions "Conversions left in the current window"
// @Failure 400 {object} dto.ErrorResponse
// @Failure 422 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /convert [post]
func (h *ConversionHandler) Convert(c *fiber.Ctx) error {
	req := service.ConversionRequest{
		Identity:  h.identities.Resolve(middleware.SubjectID(c), middleware.ClientAddressOf(c)),
		Format:    models.ParseOutputFormat(c.FormValue("format")),
		RequestID: requestID(c),
	}

	if file, err := c.FormFile("file"); err == nil {
		req.Upload = &service.Upload{
			FileName:    file.Filename,
			ContentType: file.Header.Get(fiber.HeaderContentType),
			Size:        file.Size,
			Open: func() (io.ReadCloser, error) {
				return file.Open()
			},
		}
	}

	result, err := h.conversions.Convert(c.UserContext(), req)
	if err != nil {
		return writeConversionError(c, err)
	}

	c.Set(fiber.HeaderContentType, result.MediaType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, strings.ReplaceAll(result.FileName, `"`, "")))
	c.Set(HeaderTransactionsCount, strconv.Itoa(result.TransactionCount))
	c.Set(HeaderRemainingConversions, strconv.Itoa(result.RemainingQuota))

	return c.Status(fiber.StatusOK).Send(result.Data)
}

func writeConversionError(c *fiber.Ctx, err error) error {
	var cerr *service.ConversionError
	if !errors.As(err, &cerr) {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error:   "Conversion failed",
			Message: "Something went wrong while converting your statement. Please try again.",
		})
	}

	return c.Status(cerr.StatusCode()).JSON(dto.ErrorResponse{
		Error:     cerr.Title,
		Message:   cerr.Message,
		Remaining: cerr.Remaining,
		Limit:     cerr.Limit,
	})
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string)
	return id
}
