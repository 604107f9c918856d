package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/meetroom/internal/adapters/auth"
	"github.com/dkeye/meetroom/internal/core"
	"github.com/dkeye/meetroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const userKey = "user"

// IdentityMiddleware rejects requests without a valid bearer token with 401
// and stores the resolved user on the context.
func IdentityMiddleware(resolver core.IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := resolver.Resolve(c.Request.Context(), auth.TokenFromRequest(c.Request))
		if err != nil {
			log.Debug().Err(err).Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("unauthenticated request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  "unauthenticated",
				"detail": "a valid bearer token is required",
			})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.User {
	u, _ := c.Get(userKey)
	user, _ := u.(domain.User)
	return user
}

// writeError maps domain errors onto status codes with an {error, detail} body.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	detail := "internal error"
	switch {
	case errors.Is(err, domain.ErrValidation):
		status, code, detail = http.StatusBadRequest, "validation_error", err.Error()
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			detail = verr.Reason
		}
	case errors.Is(err, domain.ErrCapacityExceeded):
		status, code, detail = http.StatusBadRequest, "capacity_exceeded", "room is full"
	case errors.Is(err, domain.ErrForbidden):
		status, code, detail = http.StatusForbidden, "forbidden", "not allowed"
	case errors.Is(err, domain.ErrNotFound):
		status, code, detail = http.StatusNotFound, "not_found", "not found"
	default:
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": code, "detail": detail})
}
