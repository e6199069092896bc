package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campusiq-api/internal/dto"
	"github.com/noah-isme/campusiq-api/internal/models"
	"github.com/noah-isme/campusiq-api/internal/repository"
	appErrors "github.com/noah-isme/campusiq-api/pkg/errors"
	"github.com/noah-isme/campusiq-api/pkg/logger"
)

type requestStore interface {
	Create(ctx context.Context, req *models.PermissionRequest, entry *models.RequestHistory) error
	GetByID(ctx context.Context, id int64) (*models.PermissionRequest, error)
	WithTransaction(ctx context.Context, id int64, fn repository.MutateFunc) (*models.PermissionRequest, error)
	WithBatch(ctx context.Context, ids []int64, fn repository.MutateFunc) (*repository.BatchResult, error)
	History(ctx context.Context, requestID int64) ([]models.RequestHistory, error)
	ListSubmitted(ctx context.Context, studentID string) ([]models.PermissionRequest, error)
	ListReceived(ctx context.Context, assigneeID string) ([]models.PermissionRequest, error)
}

type dashboardInvalidator interface {
	Invalidate(ctx context.Context, userIDs ...string)
}

// WorkflowServiceParams groups constructor dependencies.
type WorkflowServiceParams struct {
	Store     requestStore
	Directory actorDirectory
	Hierarchy *RoleHierarchy
	Policy    DeadlinePolicy
	Notifier  Notifier
	Dashboard dashboardInvalidator
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
}

// WorkflowService applies request transitions with authorization and invariant checks.
type WorkflowService struct {
	store     requestStore
	directory actorDirectory
	hierarchy *RoleHierarchy
	policy    DeadlinePolicy
	notifier  Notifier
	dashboard dashboardInvalidator
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewWorkflowService constructs the workflow engine.
func NewWorkflowService(params WorkflowServiceParams) *WorkflowService {
	log := params.Logger
	if log == nil {
		log = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	hierarchy := params.Hierarchy
	if hierarchy == nil {
		hierarchy = NewRoleHierarchy(true)
	}
	policy := params.Policy
	if policy.hierarchy == nil {
		policy.hierarchy = hierarchy
	}
	return &WorkflowService{
		store:     params.Store,
		directory: params.Directory,
		hierarchy: hierarchy,
		policy:    policy,
		notifier:  notifier,
		dashboard: params.Dashboard,
		metrics:   params.Metrics,
		validator: validate,
		logger:    log,
		now:       time.Now,
	}
}

// Create submits a new request from studentID to the chosen target.
func (s *WorkflowService) Create(ctx context.Context, studentID string, payload dto.CreatePermissionRequest) (*models.PermissionRequest, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}
	student, err := resolveCaller(ctx, s.directory, studentID)
	if err != nil {
		return nil, err
	}
	if !s.hierarchy.CanEscalate(student.Role) {
		return nil, validationError("role cannot submit requests")
	}
	target, err := resolveTarget(ctx, s.directory, payload.TargetUserID)
	if err != nil {
		return nil, err
	}
	if !s.hierarchy.IsReachable(student.Role, target.Role) {
		return nil, validationError("target role is not reachable from " + string(student.Role))
	}
	if target.Department != student.Department {
		return nil, validationError("target user belongs to another department")
	}
	title := strings.TrimSpace(payload.Title)
	reason := strings.TrimSpace(payload.Reason)
	if title == "" || reason == "" {
		return nil, validationError("title and reason are required")
	}
	from, err := time.Parse(dto.DateLayout, payload.FromDate)
	if err != nil {
		return nil, validationError("from_date must be YYYY-MM-DD")
	}
	to, err := time.Parse(dto.DateLayout, payload.ToDate)
	if err != nil {
		return nil, validationError("to_date must be YYYY-MM-DD")
	}
	if from.After(to) {
		return nil, validationError("from_date must not be after to_date")
	}

	now := s.now().UTC()
	req := &models.PermissionRequest{
		StudentID:    student.UserID,
		AssigneeID:   target.UserID,
		Title:        title,
		Reason:       reason,
		FromDate:     from,
		ToDate:       to,
		Status:       models.StatusPending,
		CurrentLevel: target.Role,
		IsUrgent:     payload.IsUrgent,
		EscalateAt:   s.policy.Initial(target.Role, payload.IsUrgent, payload.UrgentMinutes, now),
		AppliedAt:    now,
		UpdatedAt:    now,
	}
	entry := historyEntry(models.ActionCreated, student.Role, rolePtr(target.Role), student, "", now)
	if err := s.store.Create(ctx, req, entry); err != nil {
		return nil, internalError(err, "failed to create request")
	}

	s.committed(ctx, models.ActionCreated, req, student, student.UserID, target.UserID)
	s.notifier.Notify(ctx, EventRequestAssigned, req, target, student, "")
	return req, nil
}

// Forward hands the request to a user of a next-level role in the actor's department.
func (s *WorkflowService) Forward(ctx context.Context, actorID string, id int64, payload dto.ForwardRequest) (*models.PermissionRequest, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid forward payload")
	}
	actor, err := resolveCaller(ctx, s.directory, actorID)
	if err != nil {
		return nil, err
	}
	role, roleOK := models.ParseRole(payload.TargetRole)
	target, targetErr := resolveTarget(ctx, s.directory, payload.TargetUserID)

	req, err := s.store.WithTransaction(ctx, id, func(req *models.PermissionRequest) (repository.Change, error) {
		if actor.Role == models.RoleStudent {
			return repository.Change{}, authorizationError("students cannot forward requests")
		}
		if req.AssigneeID != actor.UserID {
			return repository.Change{}, authorizationError("request is not assigned to you")
		}
		if err := s.checkForwardTarget(actor, role, roleOK, target, targetErr); err != nil {
			return repository.Change{}, err
		}
		return s.forward(req, actor, role, target), nil
	})
	if err != nil {
		return nil, storeError(err, "failed to forward request")
	}

	s.afterForward(ctx, req, actor, target)
	return req, nil
}

func (s *WorkflowService) checkForwardTarget(actor *models.Actor, role models.Role, roleOK bool, target *models.Actor, targetErr error) error {
	if !roleOK {
		return validationError("unknown target role")
	}
	if !s.hierarchy.IsReachable(actor.Role, role) {
		return validationError(string(actor.Role) + " cannot forward to " + string(role))
	}
	if targetErr != nil {
		return targetErr
	}
	if target.Role != role {
		return validationError("target user does not hold role " + string(role))
	}
	if target.Department != actor.Department {
		return validationError("target user belongs to another department")
	}
	return nil
}

// forward mutates a locked request. Forwarding reopens a request whose status drifted.
func (s *WorkflowService) forward(req *models.PermissionRequest, actor *models.Actor, role models.Role, target *models.Actor) repository.Change {
	now := s.now().UTC()
	from := req.CurrentLevel
	deadline := s.policy.AfterForward(req, role, now)
	req.Status = models.StatusPending
	handOver(req, target, role, deadline, now)
	return repository.Change{
		Save:    true,
		History: []*models.RequestHistory{historyEntry(models.ActionForwarded, from, rolePtr(role), actor, "", now)},
	}
}

func (s *WorkflowService) afterForward(ctx context.Context, req *models.PermissionRequest, actor, target *models.Actor) {
	s.committed(ctx, models.ActionForwarded, req, actor, req.StudentID, actor.UserID, target.UserID)
	s.notifyUser(ctx, EventRequestForwarded, req, req.StudentID, actor, "")
	s.notifier.Notify(ctx, EventRequestAssigned, req, target, actor, "")
}

// Approve concludes a pending request positively.
func (s *WorkflowService) Approve(ctx context.Context, actorID string, id int64, payload dto.DecisionRequest) (*models.PermissionRequest, error) {
	return s.decide(ctx, actorID, id, payload, models.StatusApproved, models.ActionApproved, EventRequestApproved)
}

// Reject concludes a pending request negatively.
func (s *WorkflowService) Reject(ctx context.Context, actorID string, id int64, payload dto.DecisionRequest) (*models.PermissionRequest, error) {
	return s.decide(ctx, actorID, id, payload, models.StatusRejected, models.ActionRejected, EventRequestRejected)
}

func (s *WorkflowService) decide(ctx context.Context, actorID string, id int64, payload dto.DecisionRequest, status models.RequestStatus, action models.HistoryAction, event NotificationEvent) (*models.PermissionRequest, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	actor, err := resolveCaller(ctx, s.directory, actorID)
	if err != nil {
		return nil, err
	}
	note := strings.TrimSpace(payload.Note)

	req, err := s.store.WithTransaction(ctx, id, func(req *models.PermissionRequest) (repository.Change, error) {
		if req.AssigneeID != actor.UserID {
			return repository.Change{}, authorizationError("request is not assigned to you")
		}
		if req.Status.Terminal() {
			return repository.Change{}, invalidTransition("request is already " + string(req.Status))
		}
		now := s.now().UTC()
		from := req.CurrentLevel
		conclude(req, status, now)
		return repository.Change{
			Save:    true,
			History: []*models.RequestHistory{historyEntry(action, from, nil, actor, note, now)},
		}, nil
	})
	if err != nil {
		return nil, storeError(err, "failed to record decision")
	}

	s.committed(ctx, action, req, actor, req.StudentID, req.AssigneeID)
	s.notifyUser(ctx, event, req, req.StudentID, actor, note)
	return req, nil
}

// Reassign hands a pending request sideways within the department. Status is kept and
// the deadline follows AfterReassign.
func (s *WorkflowService) Reassign(ctx context.Context, actorID string, id int64, payload dto.ReassignRequest) (*models.PermissionRequest, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reassign payload")
	}
	actor, err := resolveCaller(ctx, s.directory, actorID)
	if err != nil {
		return nil, err
	}
	target, targetErr := resolveTarget(ctx, s.directory, payload.TargetUserID)

	req, err := s.store.WithTransaction(ctx, id, func(req *models.PermissionRequest) (repository.Change, error) {
		if req.AssigneeID != actor.UserID {
			return repository.Change{}, authorizationError("request is not assigned to you")
		}
		if req.Status != models.StatusPending {
			return repository.Change{}, invalidTransition("only pending requests can be reassigned")
		}
		switch {
		case targetErr != nil:
			return repository.Change{}, targetErr
		case target.Same(actor):
			return repository.Change{}, validationError("cannot reassign to yourself")
		case target.Role == models.RoleStudent:
			return repository.Change{}, validationError("cannot reassign to a student")
		case target.Department != actor.Department:
			return repository.Change{}, validationError("target user belongs to another department")
		}
		now := s.now().UTC()
		from := req.CurrentLevel
		handOver(req, target, target.Role, s.policy.AfterReassign(req, target.Role, now), now)
		return repository.Change{
			Save:    true,
			History: []*models.RequestHistory{historyEntry(models.ActionReassigned, from, rolePtr(target.Role), actor, "", now)},
		}, nil
	})
	if err != nil {
		return nil, storeError(err, "failed to reassign request")
	}

	s.committed(ctx, models.ActionReassigned, req, actor, req.StudentID, actor.UserID, target.UserID)
	s.notifier.Notify(ctx, EventRequestAssigned, req, target, actor, "")
	s.notifyUser(ctx, EventRequestReassigned, req, req.StudentID, actor, "")
	return req, nil
}

// BulkForward forwards every listed request the actor owns and that is still pending, in one transaction.
func (s *WorkflowService) BulkForward(ctx context.Context, actorID string, payload dto.BulkForwardRequest) (*dto.BulkForwardResult, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk forward payload")
	}
	actor, err := resolveCaller(ctx, s.directory, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent {
		return nil, authorizationError("students cannot forward requests")
	}
	role, roleOK := models.ParseRole(payload.TargetRole)
	target, targetErr := resolveTarget(ctx, s.directory, payload.TargetUserID)
	if err := s.checkForwardTarget(actor, role, roleOK, target, targetErr); err != nil {
		return nil, err
	}

	result, err := s.store.WithBatch(ctx, dedupeIDs(payload.RequestIDs), func(req *models.PermissionRequest) (repository.Change, error) {
		if req.AssigneeID != actor.UserID || req.Status != models.StatusPending {
			return repository.Change{}, repository.ErrSkip
		}
		return s.forward(req, actor, role, target), nil
	})
	if err != nil {
		return nil, storeError(err, "failed to forward requests")
	}

	for _, req := range result.Updated {
		s.afterForward(ctx, req, actor, target)
	}
	s.logger.Info("bulk forward completed",
		zap.String(logger.ActorKey, actor.UserID),
		zap.Int("updated", len(result.Updated)),
		zap.Int64s("skipped", result.Skipped),
	)
	return &dto.BulkForwardResult{Updated: len(result.Updated), Skipped: result.Skipped}, nil
}

// Delete withdraws a pending request. The audit trail is kept and gains a closing entry.
func (s *WorkflowService) Delete(ctx context.Context, actorID string, id int64) error {
	actor, err := resolveCaller(ctx, s.directory, actorID)
	if err != nil {
		return err
	}

	req, err := s.store.WithTransaction(ctx, id, func(req *models.PermissionRequest) (repository.Change, error) {
		if req.StudentID != actor.UserID {
			return repository.Change{}, authorizationError("only the requester can delete a request")
		}
		if req.Status.Terminal() {
			return repository.Change{}, invalidTransition("only pending requests can be deleted")
		}
		now := s.now().UTC()
		return repository.Change{
			Delete:  true,
			History: []*models.RequestHistory{historyEntry(models.ActionRejected, req.CurrentLevel, nil, actor, models.NoteDeletedByRequester, now)},
		}, nil
	})
	if err != nil {
		return storeError(err, "failed to delete request")
	}

	s.committed(ctx, models.ActionRejected, req, actor, req.StudentID, req.AssigneeID)
	s.notifyUser(ctx, EventRequestDeleted, req, req.AssigneeID, actor, models.NoteDeletedByRequester)
	return nil
}

// Track returns the audit trail to the requester or the current assignee.
func (s *WorkflowService) Track(ctx context.Context, actorID string, id int64) (*dto.TrackResponse, error) {
	actor, err := resolveCaller(ctx, s.directory, actorID)
	if err != nil {
		return nil, err
	}

	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.trackDeleted(ctx, actor, id)
		}
		return nil, internalError(err, "failed to load request")
	}
	if req.StudentID != actor.UserID && req.AssigneeID != actor.UserID {
		return nil, authorizationError("only the requester or the assignee can track this request")
	}
	history, err := s.store.History(ctx, id)
	if err != nil {
		return nil, internalError(err, "failed to load history")
	}
	return &dto.TrackResponse{RequestID: req.ID, Code: req.Code, Request: req, History: nonNilHistory(history)}, nil
}

// trackDeleted serves the surviving history of a withdrawn request to its requester.
func (s *WorkflowService) trackDeleted(ctx context.Context, actor *models.Actor, id int64) (*dto.TrackResponse, error) {
	history, err := s.store.History(ctx, id)
	if err != nil {
		return nil, internalError(err, "failed to load history")
	}
	if len(history) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
	}
	owner := ""
	for _, entry := range history {
		if entry.Action == models.ActionCreated && entry.ActorID != nil {
			owner = *entry.ActorID
			break
		}
	}
	if owner != actor.UserID {
		return nil, authorizationError("only the requester can track a deleted request")
	}
	return &dto.TrackResponse{RequestID: id, Code: models.FormatRequestCode(id), Deleted: true, History: history}, nil
}

// ForwardOptions lists the roles the assignee may forward to and, for a chosen role, the candidate users.
func (s *WorkflowService) ForwardOptions(ctx context.Context, actorID string, id int64, rawRole string) (*dto.ForwardOptionsResponse, error) {
	actor, err := resolveCaller(ctx, s.directory, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent {
		return nil, authorizationError("students cannot forward requests")
	}
	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "failed to load request")
	}
	if req.AssigneeID != actor.UserID {
		return nil, authorizationError("request is not assigned to you")
	}

	resp := &dto.ForwardOptionsResponse{AllowedRoles: s.hierarchy.NextRoles(actor.Role), Users: []models.Actor{}}
	if role, ok := models.ParseRole(rawRole); ok && s.hierarchy.IsReachable(actor.Role, role) {
		users, err := s.directory.FindByRoleAndDepartment(ctx, role, actor.Department)
		if err != nil {
			return nil, internalError(err, "failed to list users")
		}
		resp.SelectedRole = role
		if users != nil {
			resp.Users = users
		}
	}
	return resp, nil
}

// RecipientOptions lists, per reachable role, the same-department users a new request can be sent to.
func (s *WorkflowService) RecipientOptions(ctx context.Context, actorID string) (*dto.RecipientOptionsResponse, error) {
	actor, err := resolveCaller(ctx, s.directory, actorID)
	if err != nil {
		return nil, err
	}
	resp := &dto.RecipientOptionsResponse{Department: actor.Department, Roles: []dto.RoleRecipients{}}
	for _, role := range s.hierarchy.NextRoles(actor.Role) {
		users, err := s.directory.FindByRoleAndDepartment(ctx, role, actor.Department)
		if err != nil {
			return nil, internalError(err, "failed to list users")
		}
		if users == nil {
			users = []models.Actor{}
		}
		resp.Roles = append(resp.Roles, dto.RoleRecipients{Role: role, Users: users})
	}
	return resp, nil
}

// ListSubmitted returns the caller's own requests.
func (s *WorkflowService) ListSubmitted(ctx context.Context, actorID string) ([]models.PermissionRequest, error) {
	actor, err := resolveCaller(ctx, s.directory, actorID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListSubmitted(ctx, actor.UserID)
	if err != nil {
		return nil, internalError(err, "failed to list submitted requests")
	}
	return nonNilRequests(list), nil
}

// ListReceived returns the requests assigned to the caller.
func (s *WorkflowService) ListReceived(ctx context.Context, actorID string) ([]models.PermissionRequest, error) {
	actor, err := resolveCaller(ctx, s.directory, actorID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListReceived(ctx, actor.UserID)
	if err != nil {
		return nil, internalError(err, "failed to list received requests")
	}
	return nonNilRequests(list), nil
}

func (s *WorkflowService) committed(ctx context.Context, action models.HistoryAction, req *models.PermissionRequest, actor *models.Actor, touched ...string) {
	s.logger.Info("request transition committed",
		zap.Int64("request_id", req.ID),
		zap.String("code", req.Code),
		zap.String("action", string(action)),
		zap.String(logger.ActorKey, actor.UserID),
	)
	s.metrics.RecordTransition(string(action))
	if s.dashboard != nil {
		s.dashboard.Invalidate(ctx, touched...)
	}
}

// notifyUser resolves the recipient after commit; lookup failures only cost the notification.
func (s *WorkflowService) notifyUser(ctx context.Context, event NotificationEvent, req *models.PermissionRequest, userID string, actor *models.Actor, note string) {
	recipient, err := s.directory.ResolveActor(ctx, userID)
	if err != nil {
		s.logger.Warn("notification recipient unresolved",
			zap.String("event", string(event)),
			zap.Int64("request_id", req.ID),
			zap.String("recipient_id", userID),
			zap.Error(err),
		)
		return
	}
	s.notifier.Notify(ctx, event, req, recipient, actor, note)
}

func nonNilRequests(list []models.PermissionRequest) []models.PermissionRequest {
	if list == nil {
		return []models.PermissionRequest{}
	}
	return list
}

func nonNilHistory(list []models.RequestHistory) []models.RequestHistory {
	if list == nil {
		return []models.RequestHistory{}
	}
	return list
}
