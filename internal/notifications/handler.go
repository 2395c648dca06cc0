package notifications

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carboniq/farm-portal/farm-portal-backend/internal/auth"
	"carboniq/farm-portal/farm-portal-backend/internal/notifications/websocket"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

type Handler struct {
	service Service
	manager *websocket.Manager
	logger  *zap.Logger
}

func NewHandler(service Service, manager *websocket.Manager, logger *zap.Logger) *Handler {
	return &Handler{service: service, manager: manager, logger: logger}
}

// RegisterRoutes mounts the notification log; the group must already require auth
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/notifications", h.List)
}

// RegisterWebSocket mounts the socket endpoint behind the given auth middleware,
// normally auth.RequireSocketAuth
func (h *Handler) RegisterWebSocket(r gin.IRouter, requireAuth gin.HandlerFunc) {
	r.GET("/ws", requireAuth, h.Connect)
}

func (h *Handler) Connect(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "redirect": auth.LoginPath})
		return
	}

	conn, err := h.manager.HandleConnection(c.Writer, c.Request, userID.String())
	if err != nil {
		// the upgrader has already written the response
		h.logger.Warn("WebSocket connection failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	h.logger.Debug("WebSocket connected", zap.String("user_id", userID.String()), zap.String("connection_id", conn.ID))
}

func (h *Handler) List(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "redirect": auth.LoginPath})
		return
	}

	limit := boundedInt(c.Query("limit"), defaultLimit, 1, maxLimit)
	offset := boundedInt(c.Query("offset"), 0, 0, 1<<20)

	items, err := h.service.ListForUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list notifications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notifications"})
		return
	}
	c.JSON(http.StatusOK, ListResponse{Notifications: items, Limit: limit, Offset: offset})
}

func boundedInt(raw string, def, min, max int) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
