package middleware

import (
	"strings"

	"statement-converter/pkg/auth"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const localSubjectID = "subjectID"

// OptionalAuth stores the subject of a valid bearer token. Requests without a token, or with
// one that fails verification, continue anonymously; the middleware never rejects.
func OptionalAuth(jwtManager *auth.JWTManager, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return c.Next()
		}

		claims, err := jwtManager.ValidateToken(token)
		if err != nil {
			logger.Debug("Ignoring bearer token", zap.Error(err))
			return c.Next()
		}

		c.Locals(localSubjectID, claims.Subject)
		return c.Next()
	}
}

// SubjectID returns the verified subject, empty for anonymous callers.
func SubjectID(c *fiber.Ctx) string {
	subject, _ := c.Locals(localSubjectID).(string)
	return subject
}

func bearerToken(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
