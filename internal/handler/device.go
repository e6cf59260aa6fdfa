package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/makkenzo/entitlement-service-api/internal/handler/dto"
	"github.com/makkenzo/entitlement-service-api/internal/ierr"
	"github.com/makkenzo/entitlement-service-api/internal/service"
	"go.uber.org/zap"
)

type DeviceHandler struct {
	service *service.EntitlementService
	logger  *zap.Logger
}

func NewDeviceHandler(service *service.EntitlementService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		service: service,
		logger:  logger.Named("DeviceHandler"),
	}
}

func (h *DeviceHandler) Register(c *gin.Context) {
	var req dto.RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Failed to bind register request", zap.Error(err))
		_ = c.Error(fmt.Errorf("%w: %w", ierr.ErrValidation, err))
		return
	}

	st, err := h.service.Register(c.Request.Context(), req.DeviceID, req.DisplayName)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := dto.NewRegisterDeviceResponse(st)
	if st.Created {
		c.JSON(http.StatusCreated, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *DeviceHandler) Status(c *gin.Context) {
	st, err := h.service.Status(c.Request.Context(), c.Param("deviceID"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewDeviceStatusResponse(st))
}

func (h *DeviceHandler) RequestExtension(c *gin.Context) {
	var req dto.ExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Failed to bind extension request", zap.Error(err))
		_ = c.Error(fmt.Errorf("%w: %w", ierr.ErrValidation, err))
		return
	}

	kr, err := h.service.RequestExtension(c.Request.Context(), req.DeviceID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, dto.ExtensionResponse{Accepted: true, RequestID: kr.ID})
}

func (h *DeviceHandler) Activate(c *gin.Context) {
	var req dto.ActivateRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		h.logger.Debug("Failed to bind activate request", zap.Error(err))
		_ = c.Error(fmt.Errorf("%w: %w", ierr.ErrValidation, err))
		return
	}

	act, err := h.service.ActivateLicense(c.Request.Context(), req.DeviceID, req.Code)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.ActivateResponse{
		DeviceStatusResponse: dto.NewDeviceStatusResponse(act.Status),
		GrantID:              act.GrantID,
		GrantExpiresAt:       act.GrantExpiresAt,
	})
}

// ActivationRateKey keys the redemption limiter on the device named in the body.
func ActivationRateKey(c *gin.Context) string {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		return ""
	}
	return req.DeviceID
}
