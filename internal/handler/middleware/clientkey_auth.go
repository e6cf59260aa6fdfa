package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/makkenzo/entitlement-service-api/internal/domain/clientkey"
	"github.com/makkenzo/entitlement-service-api/internal/ierr"
	"github.com/makkenzo/entitlement-service-api/internal/util"
	"go.uber.org/zap"
)

const ClientKeyHeader = "X-Client-Key"

// ClientKeyAuthMiddleware admits only requests carrying an enabled client key.
func ClientKeyAuthMiddleware(repo clientkey.Repository, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("ClientKeyAuthMiddleware")
	return func(c *gin.Context) {
		keyFromHeader := c.GetHeader(ClientKeyHeader)
		if keyFromHeader == "" {
			log.Debug("Client key header is missing", zap.String("header", ClientKeyHeader))
			_ = c.Error(fmt.Errorf("%w: client key required", ierr.ErrUnauthorized))
			c.Abort()
			return
		}

		parts := strings.SplitN(keyFromHeader, "_", 3)
		if len(parts) < 3 || parts[0] != clientkey.KeyScheme {
			log.Warn("Invalid client key format received")
			_ = c.Error(fmt.Errorf("%w: invalid client key format", ierr.ErrUnauthorized))
			c.Abort()
			return
		}
		prefix := parts[1]

		keyRecord, err := repo.FindByPrefix(c.Request.Context(), prefix)
		if err != nil {
			if errors.Is(err, clientkey.ErrNotFound) {
				log.Warn("Client key not found or disabled", zap.String("prefix", prefix))
				_ = c.Error(fmt.Errorf("%w: %v", ierr.ErrUnauthorized, ierr.ErrClientKeyNotFound))
				c.Abort()
				return
			}
			log.Error("Failed to query client key repository", zap.String("prefix", prefix), zap.Error(err))
			_ = c.Error(fmt.Errorf("%w: %v", ierr.ErrInternalServer, err))
			c.Abort()
			return
		}

		receivedKeyHash := util.HashClientKey(keyFromHeader)
		if subtle.ConstantTimeCompare([]byte(receivedKeyHash), []byte(keyRecord.KeyHash)) != 1 {
			log.Warn("Client key hash mismatch", zap.String("prefix", prefix), zap.String("key_id", keyRecord.ID.String()))
			_ = c.Error(fmt.Errorf("%w: %v", ierr.ErrUnauthorized, ierr.ErrClientKeyNotFound))
			c.Abort()
			return
		}

		go func(id uuid.UUID, l *zap.Logger) {
			ctxAsync, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := repo.UpdateLastUsed(ctxAsync, id, time.Now().UTC()); err != nil {
				l.Error("Failed to update client key last used time asynchronously", zap.String("key_id", id.String()), zap.Error(err))
			}
		}(keyRecord.ID, log)

		log.Debug("Client key validated", zap.String("prefix", prefix))
		c.Next()
	}
}
