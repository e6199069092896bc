package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campusiq-api/internal/models"
)

const actorColumns = `u.id, u.username, u.full_name, u.email, p.role, p.department`

// UserRepository resolves directory users and their profiles. Users without a profile are invisible.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// ResolveActor returns the active user with role and department, or sql.ErrNoRows.
func (r *UserRepository) ResolveActor(ctx context.Context, userID string) (*models.Actor, error) {
	query := `SELECT ` + actorColumns + ` FROM users u
	JOIN user_profiles p ON p.user_id = u.id
	WHERE u.id = $1 AND u.active LIMIT 1`
	var actor models.Actor
	if err := r.db.GetContext(ctx, &actor, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("resolve actor %s: %w", userID, err)
	}
	return &actor, nil
}

// FindByRoleAndDepartment lists active users holding role in department, ordered by username.
func (r *UserRepository) FindByRoleAndDepartment(ctx context.Context, role models.Role, department models.Department) ([]models.Actor, error) {
	query := `SELECT ` + actorColumns + ` FROM users u
	JOIN user_profiles p ON p.user_id = u.id
	WHERE p.role = $1 AND p.department = $2 AND u.active
	ORDER BY u.username, u.id`
	var actors []models.Actor
	if err := r.db.SelectContext(ctx, &actors, query, role, department); err != nil {
		return nil, fmt.Errorf("find %s users in %s: %w", role, department, err)
	}
	return actors, nil
}
