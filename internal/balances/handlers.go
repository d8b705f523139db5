package balances

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/workpact/workpact/internal/pagination"
)

// Handler provides HTTP endpoints for balance queries.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new balance handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up balance routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payees/:id/balance", h.GetBalance)
	r.GET("/payees/:id/entries", h.GetHistory)
}

// GetBalance handles GET /payees/:id/balance?kind=professional
func (h *Handler) GetBalance(c *gin.Context) {
	payeeID := c.Param("id")
	kind := c.DefaultQuery("kind", KindProfessional)

	switch kind {
	case KindProfessional, KindFirmPool, KindPlatform:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind", "message": "kind must be professional, firm_pool, or platform"})
		return
	}

	bal, err := h.service.GetBalance(c.Request.Context(), payeeID, kind)
	if err != nil {
		h.logger.Error("failed to get balance", "payee", payeeID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "balance_error"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

// GetHistory handles GET /payees/:id/entries?limit=50&cursor=...
func (h *Handler) GetHistory(c *gin.Context) {
	payeeID := c.Param("id")

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit must be 1-500"})
			return
		}
		limit = n
	}

	entries, next, err := h.service.GetHistory(c.Request.Context(), payeeID, c.Query("cursor"), limit)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
			return
		}
		h.logger.Error("failed to get history", "payee", payeeID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries":    entries,
		"count":      len(entries),
		"nextCursor": next,
		"hasMore":    next != "",
	})
}
