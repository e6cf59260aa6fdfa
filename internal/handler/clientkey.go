package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/handler/dto"
	"github.com/makkenzo/entitlement-service-api/internal/ierr"
	"github.com/makkenzo/entitlement-service-api/internal/service"
	"go.uber.org/zap"
)

type ClientKeyHandler struct {
	service *service.ClientKeyService
	logger  *zap.Logger
}

func NewClientKeyHandler(service *service.ClientKeyService, logger *zap.Logger) *ClientKeyHandler {
	return &ClientKeyHandler{
		service: service,
		logger:  logger.Named("ClientKeyHandler"),
	}
}

func (h *ClientKeyHandler) Create(c *gin.Context) {
	var req dto.CreateClientKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind create client key request", zap.Error(err))
		_ = c.Error(fmt.Errorf("%w: %w", ierr.ErrValidation, err))
		return
	}

	issued, err := h.service.CreateClientKey(c.Request.Context(), req.Description)
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.logger.Info("Client key created via handler", zap.String("id", issued.Key.ID.String()))
	c.JSON(http.StatusCreated, dto.CreateClientKeyResponse{
		ID:          issued.Key.ID,
		FullKey:     issued.FullKey,
		Prefix:      issued.Key.Prefix,
		Description: issued.Key.Description,
	})
}

func (h *ClientKeyHandler) List(c *gin.Context) {
	keys, err := h.service.ListClientKeys(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := make([]*dto.ClientKeyResponse, len(keys))
	for i, key := range keys {
		resp[i] = &dto.ClientKeyResponse{
			ID:          key.ID,
			Prefix:      key.Prefix,
			Description: key.Description,
			IsEnabled:   key.IsEnabled,
			CreatedAt:   key.CreatedAt,
			LastUsedAt:  key.LastUsedAt,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ClientKeyHandler) Revoke(c *gin.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Warn("Invalid UUID format for revoke client key", zap.String("id_param", idStr))
		_ = c.Error(fmt.Errorf("%w: invalid client key id format", ierr.ErrValidation))
		return
	}

	if err := h.service.RevokeClientKey(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}

	h.logger.Info("Client key revoked via handler", zap.String("id", id.String()))
	c.Status(http.StatusNoContent)
}
