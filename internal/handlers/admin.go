package handlers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/boscod/parkmate/internal/services"
	"github.com/boscod/parkmate/internal/store"
	"github.com/gofiber/fiber/v3"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type AdminHandler struct {
	authService *services.AuthService
	jwtService  *services.JWTService
	codeService *services.CodeService
}

func NewAdminHandler(authService *services.AuthService, jwtService *services.JWTService, codeService *services.CodeService) *AdminHandler {
	return &AdminHandler{
		authService: authService,
		jwtService:  jwtService,
		codeService: codeService,
	}
}

// LoginRequest represents the login payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles administrator authentication
func (h *AdminHandler) Login(c fiber.Ctx) error {
	var req LoginRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	ctx := context.Background()
	token, admin, err := h.authService.Login(ctx, req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}

	h.setAuthCookie(c, token)

	return c.JSON(fiber.Map{
		"success": true,
		"user":    admin.ToResponse(),
		"token":   token,
	})
}

// Logout clears the auth cookie
func (h *AdminHandler) Logout(c fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		SameSite: "Lax",
	})

	return c.JSON(fiber.Map{
		"success": true,
	})
}

// ListCodes returns the code catalogue, optionally filtered by ?used=true|false.
func (h *AdminHandler) ListCodes(c fiber.Ctx) error {
	page, limit, offset := pagination(c, 50, 200)

	filter := store.CodeFilter{Limit: limit, Offset: offset}
	if raw := c.Query("used"); raw != "" {
		used, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "used must be true or false")
		}
		filter.Used = &used
	}

	codes, total, err := h.codeService.ListCodes(context.Background(), filter)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"codes":      codes,
		"pagination": paginationMap(page, limit, total),
	})
}

// ExportCodes downloads every code as an xlsx workbook.
func (h *AdminHandler) ExportCodes(c fiber.Ctx) error {
	data, err := h.codeService.ExportCodes(context.Background())
	if err != nil {
		return respondError(c, err)
	}

	filename := fmt.Sprintf("activation-codes-%s.xlsx", time.Now().Format("20060102"))
	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Send(data)
}

// setAuthCookie sets the authentication cookie
func (h *AdminHandler) setAuthCookie(c fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(h.jwtService.GetExpiry()),
		HTTPOnly: true,
		SameSite: "Lax",
	})
}
