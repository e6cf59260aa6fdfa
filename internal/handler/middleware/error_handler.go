package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/makkenzo/entitlement-service-api/internal/handler/dto"
	"github.com/makkenzo/entitlement-service-api/internal/ierr"
	"go.uber.org/zap"
)

const (
	CodeValidation   = "validation_error"
	CodeUnauth       = "unauthenticated"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal_error"
	internalErrorMsg = "An unexpected error occurred."
)

func ErrorHandlerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("ErrorHandler")
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status, errResponse := mapError(err)

		if status >= http.StatusInternalServerError {
			log.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		} else {
			log.Debug("Request rejected", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
		}

		if c.Writer.Written() {
			return
		}
		c.AbortWithStatusJSON(status, errResponse)
	}
}

func mapError(err error) (int, dto.APIErrorResponse) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return http.StatusBadRequest, dto.APIErrorResponse{
			Code:    CodeValidation,
			Message: "Input validation failed.",
			Details: buildValidationErrors(ve),
		}
	}

	switch {
	case errors.Is(err, ierr.ErrInvalidKey):
		return http.StatusNotFound, redemptionError(ierr.ErrInvalidKey, "License key does not exist.")
	case errors.Is(err, ierr.ErrKeyExpired):
		return http.StatusGone, redemptionError(ierr.ErrKeyExpired, "License key has expired.")
	case errors.Is(err, ierr.ErrKeyAlreadyUsed):
		return http.StatusConflict, redemptionError(ierr.ErrKeyAlreadyUsed, "License key has already been redeemed.")
	case errors.Is(err, ierr.ErrInvalidKeyDuration):
		return http.StatusUnprocessableEntity, redemptionError(ierr.ErrInvalidKeyDuration, "License key has no usable duration.")
	case errors.Is(err, ierr.ErrInternalServer):
		return http.StatusInternalServerError, dto.APIErrorResponse{Code: CodeInternal, Message: internalErrorMsg}
	case errors.Is(err, ierr.ErrValidation):
		return http.StatusBadRequest, dto.APIErrorResponse{Code: CodeValidation, Message: err.Error()}
	case errors.Is(err, ierr.ErrUnauthorized), errors.Is(err, ierr.ErrInvalidCredentials), errors.Is(err, ierr.ErrInvalidToken):
		return http.StatusUnauthorized, dto.APIErrorResponse{Code: CodeUnauth, Message: "Authentication required or failed."}
	case errors.Is(err, ierr.ErrForbidden):
		return http.StatusForbidden, dto.APIErrorResponse{Code: CodeForbidden, Message: "Access denied."}
	case errors.Is(err, ierr.ErrNotFound):
		return http.StatusNotFound, dto.APIErrorResponse{Code: CodeNotFound, Message: "The requested resource was not found."}
	case errors.Is(err, ierr.ErrConflict):
		return http.StatusConflict, dto.APIErrorResponse{Code: CodeConflict, Message: err.Error()}
	case errors.Is(err, ierr.ErrRateLimited):
		return http.StatusTooManyRequests, dto.APIErrorResponse{Code: CodeRateLimited, Message: "Too many requests, slow down."}
	}
	return http.StatusInternalServerError, dto.APIErrorResponse{Code: CodeInternal, Message: internalErrorMsg}
}

func redemptionError(code error, message string) dto.APIErrorResponse {
	return dto.APIErrorResponse{Code: code.Error(), Message: message}
}

func buildValidationErrors(ve validator.ValidationErrors) []dto.FieldError {
	details := make([]dto.FieldError, len(ve))
	for i, fe := range ve {
		details[i] = dto.FieldError{
			Field:   fe.Field(),
			Message: getValidationErrorMsg(fe),
		}
	}
	return details
}

func getValidationErrorMsg(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Field '%s' is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("Field '%s' must be one of [%s]", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("Field '%s' must be greater than or equal to %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("Field '%s' must be less than or equal to %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("Field '%s' must be greater than %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("Field '%s' must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("Field '%s' failed validation on the '%s' tag", fe.Field(), fe.Tag())
	}
}
