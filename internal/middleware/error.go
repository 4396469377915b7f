package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/gridcat/internal/logging"
	"github.com/soltixdb/gridcat/internal/models"
)

// errorCode turns a status into the machine-readable code of the response,
// e.g. 404 -> NOT_FOUND
func errorCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "ERROR"
	}
	return strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_", "'", "").Replace(text))
}

// ErrorHandler renders handler errors as models.ErrorResponse. Errors that
// are not *fiber.Error are reported as 500 without leaking their text.
func ErrorHandler(logger *logging.Logger) fiber.ErrorHandler {
	logger = logging.OrGlobal(logger)
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		}

		log := logger.WithContext(c.UserContext())
		if code >= fiber.StatusInternalServerError {
			log.Error("Request error", "path", c.Path(), "method", c.Method(), "status", code, "error", err)
		} else {
			log.Debug("Request rejected", "path", c.Path(), "method", c.Method(), "status", code, "error", err)
		}

		return c.Status(code).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    errorCode(code),
				Message: message,
				Path:    c.Path(),
			},
		})
	}
}
