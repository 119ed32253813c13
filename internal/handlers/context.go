package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	apperrors "github.com/soulline/lifeline/pkg/errors"
	"github.com/soulline/lifeline/pkg/response"

	"github.com/soulline/lifeline/internal/identity"
	"github.com/soulline/lifeline/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// mustActor returns the authenticated actor or writes a 401 and reports false.
func mustActor(c *gin.Context) (identity.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return identity.Actor{}, false
	}
	return actor, true
}
