// Package middleware contains the gin middleware for the gateway: session
// token verification and request observability.
package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Largonarco/RateX/pkg/constants"
	"github.com/Largonarco/RateX/pkg/errors"
	"github.com/Largonarco/RateX/pkg/logger"
)

// Auth verifies the session tokens issued by the external auth subsystem
// (HS256, signed with JWT_SECRET). The gateway only verifies, it never
// issues. With no secret configured the middleware passes everything
// through, which keeps local development key-free.
func Auth(jwtSecret string, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtSecret == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == "" || tokenString == header {
			renderAuthError(c, errors.ErrUnauthorized("missing bearer token"))
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.ErrUnauthorized("unexpected signing method")
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			log.Warn(c.Request.Context(), "session token rejected", logger.Err(err))
			renderAuthError(c, errors.ErrUnauthorized("invalid session token"))
			return
		}

		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			ctx := context.WithValue(c.Request.Context(), constants.ContextKeyUserID, sub)
			c.Request = c.Request.WithContext(ctx)
		}

		c.Next()
	}
}

func renderAuthError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errors.HTTPStatusOf(err), errors.ToErrorResponse(err))
}
