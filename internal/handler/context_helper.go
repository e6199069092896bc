package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campusiq-api/internal/middleware"
	"github.com/noah-isme/campusiq-api/internal/models"
	appErrors "github.com/noah-isme/campusiq-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		return nil
	}
	return claims
}

// requestID parses the :id path parameter.
func requestID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "invalid request id")
	}
	return id, nil
}
