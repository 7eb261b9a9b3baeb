package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseISOTime accepts the ISO 8601 forms clients commonly send. Values
// without a zone are UTC.
func parseISOTime(raw string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// queryTime reads the first non-empty parameter among names. It returns nil
// when none is set and the offending value when parsing fails.
func queryTime(c *fiber.Ctx, names ...string) (*time.Time, string, bool) {
	for _, name := range names {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, ok := parseISOTime(raw)
		if !ok {
			return nil, raw, false
		}
		return &t, "", true
	}
	return nil, "", true
}

func flatError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(dto.ErrorResponse{Error: message})
}
