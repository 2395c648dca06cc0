package farms

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"carboniq/farm-portal/farm-portal-backend/internal/auth"
)

const maxPhotoSize = 10 << 20

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers farm routes on a group that already requires authentication
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	farms := router.Group("/farms")
	{
		farms.POST("", h.CreateFarm)
		farms.GET("", h.ListFarms)
		farms.GET("/summary", h.Summary)
		farms.POST("/validate-step", h.ValidateStep)
		farms.GET("/:id", h.GetFarm)
		farms.GET("/:id/history", h.StatusHistory)
		farms.POST("/:id/verify", h.VerifyFarm)
		farms.POST("/:id/photos", h.UploadPhoto)
		farms.GET("/:id/photos", h.ListPhotos)
		farms.GET("/:id/certificate", h.Certificate)
	}
}

// RegisterPublicRoutes registers the certificate lookup that needs no session
func (h *Handler) RegisterPublicRoutes(router *gin.RouterGroup) {
	router.GET("/certificates/verify", h.VerifyCertificate)
}

func (h *Handler) CreateFarm(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req CreateFarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	farm, err := h.service.CreateFarm(c.Request.Context(), userID, req)
	if err != nil {
		h.fail(c, "Failed to create farm", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"farm": farm, "verification": outcomeOf(farm)})
}

func (h *Handler) ListFarms(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	farms, err := h.service.ListFarms(c.Request.Context(), userID, ListFilter{Status: c.Query("status")})
	if err != nil {
		h.fail(c, "Failed to list farms", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"farms": farms, "count": len(farms)})
}

func (h *Handler) Summary(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, "Failed to summarize farms", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) ValidateStep(c *gin.Context) {
	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	errs := ValidateStep(req.Step, req.CreateFarmRequest)
	c.JSON(http.StatusOK, gin.H{"valid": len(errs) == 0, "errors": errs.Fields()})
}

func (h *Handler) GetFarm(c *gin.Context) {
	userID, farmID, ok := h.ids(c)
	if !ok {
		return
	}

	farm, err := h.service.GetFarm(c.Request.Context(), userID, farmID)
	if err != nil {
		h.fail(c, "Failed to get farm", err)
		return
	}
	c.JSON(http.StatusOK, farm)
}

func (h *Handler) StatusHistory(c *gin.Context) {
	userID, farmID, ok := h.ids(c)
	if !ok {
		return
	}

	history, err := h.service.StatusHistory(c.Request.Context(), userID, farmID)
	if err != nil {
		h.fail(c, "Failed to get status history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (h *Handler) VerifyFarm(c *gin.Context) {
	userID, farmID, ok := h.ids(c)
	if !ok {
		return
	}

	farm, err := h.service.ReverifyFarm(c.Request.Context(), userID, farmID)
	if err != nil {
		h.fail(c, "Failed to verify farm", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"farm": farm, "verification": outcomeOf(farm)})
}

func (h *Handler) UploadPhoto(c *gin.Context) {
	userID, farmID, ok := h.ids(c)
	if !ok {
		return
	}

	header, err := c.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return
	}
	if header.Size > maxPhotoSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "photo exceeds 10MB"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read photo"})
		return
	}
	defer file.Close()

	photo, err := h.service.AddPhoto(c.Request.Context(), userID, farmID, PhotoUpload{
		Type:        PhotoType(c.DefaultPostForm("photo_type", string(PhotoGeneral))),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		h.fail(c, "Failed to upload photo", err)
		return
	}
	c.JSON(http.StatusCreated, photo)
}

func (h *Handler) ListPhotos(c *gin.Context) {
	userID, farmID, ok := h.ids(c)
	if !ok {
		return
	}

	photos, err := h.service.ListPhotos(c.Request.Context(), userID, farmID)
	if err != nil {
		h.fail(c, "Failed to list photos", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"photos": photos})
}

func (h *Handler) Certificate(c *gin.Context) {
	userID, farmID, ok := h.ids(c)
	if !ok {
		return
	}

	doc, err := h.service.Certificate(c.Request.Context(), userID, farmID)
	if err != nil {
		h.fail(c, "Failed to generate certificate", err)
		return
	}
	data, err := io.ReadAll(doc)
	if err != nil {
		h.fail(c, "Failed to generate certificate", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=certificate-%s.pdf", farmID))
	c.Data(http.StatusOK, "application/pdf", data)
}

// VerifyCertificate answers whether the signature printed on a certificate is genuine
func (h *Handler) VerifyCertificate(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	check, err := h.service.VerifyCertificate(c.Request.Context(), token)
	if errors.Is(err, ErrInvalidCertificate) {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	if err != nil {
		h.fail(c, "Failed to verify certificate", err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (h *Handler) ids(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return uuid.Nil, uuid.Nil, false
	}
	farmID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid farm ID"})
		return uuid.Nil, uuid.Nil, false
	}
	return userID, farmID, true
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	var verrs ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": verrs.Fields()})
	case errors.Is(err, ErrFarmNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotVerified):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrStorageDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
