package validation

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxReasonLength     int
	MaxContentRefLength int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects malformed payloads before they reach the handlers. It
// checks shape only; protocol rules (skip eligibility, step identity) belong
// to the session manager and evidence store.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxReasonLength == 0 {
		cfg.MaxReasonLength = 200
	}
	if cfg.MaxContentRefLength == 0 {
		cfg.MaxContentRefLength = 2048
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get("Content-Type")
			if contentType != "" && !typeAllowed(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()

		if c.Method() == fiber.MethodPost && strings.HasSuffix(path, "/skip") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			reason, ok := req["reason"].(string)
			if !ok || reason == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "reason is required and must be a string",
				})
			}

			if len(reason) > cfg.MaxReasonLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "reason exceeds maximum length",
				})
			}
		}

		if c.Method() == fiber.MethodPost && strings.HasSuffix(path, "/evidence") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			contentRef, ok := req["content_ref"].(string)
			if !ok || contentRef == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "content_ref is required and must be a string",
				})
			}

			if len(contentRef) > cfg.MaxContentRefLength {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "content_ref exceeds maximum length",
				})
			}

			if !isValidContentRef(contentRef) {
				cfg.Logger.Warn("Rejected evidence content reference",
					zap.String("ip", c.IP()),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "content_ref must be an http(s) URL",
				})
			}
		}

		return c.Next()
	}
}

func typeAllowed(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func isValidContentRef(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	return u.Host != ""
}
