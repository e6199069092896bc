package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/noah-isme/campusiq-api/internal/models"
	appErrors "github.com/noah-isme/campusiq-api/pkg/errors"
)

type actorDirectory interface {
	ResolveActor(ctx context.Context, userID string) (*models.Actor, error)
	FindByRoleAndDepartment(ctx context.Context, role models.Role, department models.Department) ([]models.Actor, error)
}

func authorizationError(message string) error {
	return appErrors.Clone(appErrors.ErrAuthorization, message)
}

func invalidTransition(message string) error {
	return appErrors.Clone(appErrors.ErrInvalidTransition, message)
}

func validationError(message string) error {
	return appErrors.Clone(appErrors.ErrValidation, message)
}

func internalError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// storeError maps repository failures. Errors already in the taxonomy pass through.
func storeError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "request not found")
	}
	return internalError(err, message)
}

// resolveCaller loads the acting user. Unknown callers are NotFound.
func resolveCaller(ctx context.Context, dir actorDirectory, userID string) (*models.Actor, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, appErrors.ErrUnauthorized
	}
	actor, err := dir.ResolveActor(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, internalError(err, "failed to resolve user")
	}
	return actor, nil
}

// resolveTarget loads a user a request is handed to. Targets without a usable profile are invalid input.
func resolveTarget(ctx context.Context, dir actorDirectory, userID string) (*models.Actor, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, validationError("target user is required")
	}
	target, err := dir.ResolveActor(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, validationError("target user not found")
		}
		return nil, internalError(err, "failed to resolve target user")
	}
	if !target.Role.Valid() || !target.Department.Valid() {
		return nil, validationError("target user has no role or department")
	}
	return target, nil
}

// handOver moves ownership of req. It is the primitive shared by forward, reassign and escalation.
func handOver(req *models.PermissionRequest, assignee *models.Actor, level models.Role, deadline *time.Time, now time.Time) {
	req.AssigneeID = assignee.UserID
	req.CurrentLevel = level
	req.EscalateAt = deadline
	req.UpdatedAt = now
}

// conclude records a terminal decision.
func conclude(req *models.PermissionRequest, status models.RequestStatus, now time.Time) {
	req.Status = status
	req.EscalateAt = nil
	req.UpdatedAt = now
}

func historyEntry(action models.HistoryAction, from models.Role, to *models.Role, actor *models.Actor, note string, now time.Time) *models.RequestHistory {
	entry := &models.RequestHistory{
		Action:    action,
		FromRole:  from,
		ToRole:    to,
		Note:      note,
		CreatedAt: now,
	}
	if actor != nil {
		id := actor.UserID
		entry.ActorID = &id
	}
	return entry
}

func rolePtr(r models.Role) *models.Role {
	return &r
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
