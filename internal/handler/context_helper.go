package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/univops/registrar-api/internal/middleware"
	"github.com/univops/registrar-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func actorFromContext(c *gin.Context) models.Actor {
	return models.ActorFromClaims(claimsFromContext(c))
}
