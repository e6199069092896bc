package dto

import (
	"time"

	"github.com/noah-isme/campusiq-api/internal/models"
)

// DashboardResponse summarises a user's submitted and received requests.
type DashboardResponse struct {
	UserID      string               `json:"user_id"`
	Role        models.Role          `json:"role"`
	Counts      models.RequestCounts `json:"counts"`
	GeneratedAt time.Time            `json:"generated_at"`
}
