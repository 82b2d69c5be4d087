package handlers

import (
	"strconv"

	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// respondError maps a service error onto its status code. Server-side
// failures are logged and their details withheld from the client.
func respondError(c fiber.Ctx, err error) error {
	status := apperrors.HTTPStatus(apperrors.KindOf(err))
	if status >= fiber.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("Request failed")
	}

	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   apperrors.PublicMessage(err),
	})
}

func badRequest(c fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// pagination reads page and limit query values.
func pagination(c fiber.Ctx, defaultLimit, maxLimit int) (page, limit, offset int) {
	page = 1
	limit = defaultLimit
	if p, err := strconv.Atoi(c.Query("page", "1")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultLimit))); err == nil && l > 0 && l <= maxLimit {
		limit = l
	}
	return page, limit, (page - 1) * limit
}

func paginationMap(page, limit, total int) fiber.Map {
	totalPages := total / limit
	if total%limit != 0 {
		totalPages++
	}
	return fiber.Map{
		"page":        page,
		"limit":       limit,
		"total":       total,
		"total_pages": totalPages,
	}
}
