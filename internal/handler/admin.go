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

type AdminHandler struct {
	service *service.AdminService
	logger  *zap.Logger
}

func NewAdminHandler(service *service.AdminService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		service: service,
		logger:  logger.Named("AdminHandler"),
	}
}

func (h *AdminHandler) GenerateKeys(c *gin.Context) {
	var req dto.GenerateKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind generate keys request", zap.Error(err))
		_ = c.Error(fmt.Errorf("%w: %w", ierr.ErrValidation, err))
		return
	}

	res, err := h.service.GenerateKeys(c.Request.Context(), service.GenerateKeysParams{
		Count:        req.Count,
		DurationDays: req.DurationDays,
		KeyExpiry:    req.KeyExpiry,
		Note:         req.Note,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusCreated
	if res.Failed > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, dto.NewGenerateKeysResponse(res))
}

func (h *AdminHandler) ListKeys(c *gin.Context) {
	var req dto.ListKeysRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(fmt.Errorf("%w: %w", ierr.ErrValidation, err))
		return
	}

	keys, err := h.service.ListKeys(c.Request.Context(), req.Query, req.Limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := make([]*dto.LicenseKeyResponse, len(keys))
	for i, k := range keys {
		resp[i] = dto.NewLicenseKeyResponse(k)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) ListDevices(c *gin.Context) {
	var req dto.ListLimitRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(fmt.Errorf("%w: %w", ierr.ErrValidation, err))
		return
	}

	devices, err := h.service.ListDevices(c.Request.Context(), req.Limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := make([]*dto.DeviceResponse, len(devices))
	for i, d := range devices {
		resp[i] = dto.NewDeviceResponse(d)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) GetDevice(c *gin.Context) {
	detail, err := h.service.GetDevice(c.Request.Context(), c.Param("deviceID"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewDeviceDetailResponse(detail))
}

func (h *AdminHandler) ExtendTrial(c *gin.Context) {
	var req dto.ExtendTrialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(fmt.Errorf("%w: %w", ierr.ErrValidation, err))
		return
	}

	ov, err := h.service.ExtendTrial(c.Request.Context(), c.Param("deviceID"), req.Days)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewDeviceResponse(ov))
}

func (h *AdminHandler) CloseTrial(c *gin.Context) {
	ov, err := h.service.CloseTrial(c.Request.Context(), c.Param("deviceID"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewDeviceResponse(ov))
}

func (h *AdminHandler) RevokeGrant(c *gin.Context) {
	id, ok := h.parseID(c, "grantID")
	if !ok {
		return
	}

	ov, err := h.service.RevokeGrant(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.logger.Info("Grant revoked via handler", zap.String("grant_id", id.String()))
	c.JSON(http.StatusOK, dto.NewDeviceResponse(ov))
}

func (h *AdminHandler) ListKeyRequests(c *gin.Context) {
	var req dto.ListKeyRequestsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(fmt.Errorf("%w: %w", ierr.ErrValidation, err))
		return
	}

	requests, err := h.service.ListKeyRequests(c.Request.Context(), req.Status, req.Limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := make([]*dto.KeyRequestResponse, len(requests))
	for i, r := range requests {
		resp[i] = dto.NewKeyRequestResponse(r)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) UpdateKeyRequest(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateKeyRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(fmt.Errorf("%w: %w", ierr.ErrValidation, err))
		return
	}

	updated, err := h.service.UpdateKeyRequest(c.Request.Context(), id, req.Status, req.Note)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewKeyRequestResponse(updated))
}

func (h *AdminHandler) Summary(c *gin.Context) {
	summary, err := h.service.Summary(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to build summary", zap.Error(err))
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSummaryResponse(summary))
}

func (h *AdminHandler) parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.logger.Debug("Invalid UUID path parameter", zap.String("param", param), zap.String("value", raw))
		_ = c.Error(fmt.Errorf("%w: invalid %s format", ierr.ErrValidation, param))
		return uuid.Nil, false
	}
	return id, true
}
