package marketplace

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the public marketplace routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	market := router.Group("/marketplace")
	{
		market.GET("/farms", h.Browse)
		market.GET("/export", h.Export)
	}
}

func queryFrom(c *gin.Context) Query {
	return Query{
		Search: c.Query("search"),
		Crop:   c.Query("crop"),
		Sort:   ParseSortMode(c.Query("sort")),
	}
}

func (h *Handler) Browse(c *gin.Context) {
	resp, err := h.service.Browse(c.Request.Context(), queryFrom(c))
	if err != nil {
		h.logger.Error("Failed to browse marketplace", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load marketplace"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", FormatCSV)
	file, err := h.service.Export(c.Request.Context(), format, queryFrom(c))
	if errors.Is(err, ErrUnsupportedFormat) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("Failed to export marketplace", zap.String("format", format), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export marketplace"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", file.FileName))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
