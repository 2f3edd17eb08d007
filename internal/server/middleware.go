package server

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/knowledgeflow-backend/internal/apierrors"
	"github.com/yungbote/knowledgeflow-backend/internal/convert"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/security"
)

// AuthMiddleware guards routes with appid/key pairs. Credentials arrive
// in headers or, for clients that cannot set headers, query params.
type AuthMiddleware struct {
	log       *logger.Logger
	cfg       convert.AuthSettings
	validator *security.AppKeyValidator
}

func NewAuthMiddleware(log *logger.Logger, cfg convert.AuthSettings, validator *security.AppKeyValidator) *AuthMiddleware {
	return &AuthMiddleware{
		log:       log.With("service", "AuthMiddleware"),
		cfg:       cfg,
		validator: validator,
	}
}

func (m *AuthMiddleware) RequireAppKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.cfg.Required {
			c.Next()
			return
		}
		appid := c.GetHeader(m.cfg.HeaderAppID)
		if appid == "" {
			appid = c.Query("appid")
		}
		key := c.GetHeader(m.cfg.HeaderKey)
		if key == "" {
			key = c.Query("key")
		}
		if appid == "" || key == "" {
			abortWithError(c, apierrors.New(apierrors.CodeAuthMissing, ""))
			return
		}
		if m.validator == nil || !m.validator.IsValid(appid, key) {
			m.log.Warn("Rejected request with invalid app key", "appid", appid, "path", c.FullPath())
			abortWithError(c, apierrors.New(apierrors.CodeAuthInvalid, ""))
			return
		}
		c.Next()
	}
}
