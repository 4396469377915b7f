package logging

import (
	"slices"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// MiddlewareConfig configures request logging
type MiddlewareConfig struct {
	// SkipPaths are not logged (health probes, metric scrapes)
	SkipPaths []string
}

// DefaultMiddlewareConfig skips /health and /metrics
func DefaultMiddlewareConfig() MiddlewareConfig {
	return MiddlewareConfig{SkipPaths: []string{"/health", "/metrics"}}
}

// FiberMiddleware logs every request with a request id taken from
// X-Request-ID or generated.
func FiberMiddleware(logger *Logger, cfg MiddlewareConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(fiber.HeaderXRequestID, requestID)

		ctx := WithRequestID(c.UserContext(), requestID)
		c.SetUserContext(WithLogger(ctx, logger))

		if slices.Contains(cfg.SkipPaths, c.Path()) {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()

		fields := []interface{}{
			"method", c.Method(),
			"path", c.Path(),
			"ip", c.IP(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID,
		}

		switch {
		case err != nil:
			logger.Error("Request failed", append(fields, "error", err)...)
		case status >= fiber.StatusInternalServerError:
			logger.Error("Server error", fields...)
		case status >= fiber.StatusBadRequest:
			logger.Warn("Client error", fields...)
		default:
			logger.Debug("Request completed", fields...)
		}
		return err
	}
}
