package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campusiq-api/internal/models"
	"github.com/noah-isme/campusiq-api/internal/repository"
)

var errNothingToDo = errors.New("request no longer qualifies")

type escalationStore interface {
	WithTransaction(ctx context.Context, id int64, fn repository.MutateFunc) (*models.PermissionRequest, error)
	ListDueForEscalation(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ListUrgentWarningCandidates(ctx context.Context, now, until time.Time, limit int) ([]int64, error)
	ListMissingDeadline(ctx context.Context, levels []models.Role, limit int) ([]int64, error)
}

type sweepLocker interface {
	Acquire(ctx context.Context) (string, bool, error)
	Release(ctx context.Context, token string) error
}

// EscalationConfig tunes the sweep.
type EscalationConfig struct {
	Interval      time.Duration
	WarningWindow time.Duration
	RetryGrace    time.Duration
	BatchSize     int
}

// EscalationResult counts what one sweep did.
type EscalationResult struct {
	Warned    int  `json:"warned"`
	Escalated int  `json:"escalated"`
	Deferred  int  `json:"deferred"`
	Exhausted int  `json:"exhausted"`
	Repaired  int  `json:"repaired"`
	Skipped   int  `json:"skipped"`
	Failed    int  `json:"failed"`
	LockHeld  bool `json:"lock_held,omitempty"`
}

func (r *EscalationResult) outcomes() map[string]int {
	return map[string]int{
		"warned":    r.Warned,
		"escalated": r.Escalated,
		"deferred":  r.Deferred,
		"exhausted": r.Exhausted,
		"repaired":  r.Repaired,
		"skipped":   r.Skipped,
		"failed":    r.Failed,
	}
}

type sweepOutcome int

const (
	outcomeSkipped sweepOutcome = iota
	outcomeWarned
	outcomeEscalated
	outcomeDeferred
	outcomeExhausted
	outcomeRepaired
)

func (r *EscalationResult) add(o sweepOutcome) {
	switch o {
	case outcomeWarned:
		r.Warned++
	case outcomeEscalated:
		r.Escalated++
	case outcomeDeferred:
		r.Deferred++
	case outcomeExhausted:
		r.Exhausted++
	case outcomeRepaired:
		r.Repaired++
	default:
		r.Skipped++
	}
}

// EscalationServiceParams groups constructor dependencies.
type EscalationServiceParams struct {
	Store     escalationStore
	Directory actorDirectory
	Hierarchy *RoleHierarchy
	Policy    DeadlinePolicy
	Notifier  Notifier
	Dashboard dashboardInvalidator
	Locker    sweepLocker
	Metrics   *MetricsService
	Logger    *zap.Logger
	Config    EscalationConfig
}

// EscalationService sends urgent warnings and escalates overdue requests. Each request is handled
// in its own transaction so one failure never aborts the sweep.
type EscalationService struct {
	store     escalationStore
	directory actorDirectory
	hierarchy *RoleHierarchy
	policy    DeadlinePolicy
	notifier  Notifier
	dashboard dashboardInvalidator
	locker    sweepLocker
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       EscalationConfig
	now       func() time.Time
}

// NewEscalationService constructs the scheduler.
func NewEscalationService(params EscalationServiceParams) *EscalationService {
	cfg := params.Config
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.WarningWindow <= 0 {
		cfg.WarningWindow = 10 * time.Minute
	}
	if cfg.RetryGrace <= 0 {
		cfg.RetryGrace = 30 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	log := params.Logger
	if log == nil {
		log = zap.NewNop()
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
	return &EscalationService{
		store:     params.Store,
		directory: params.Directory,
		hierarchy: hierarchy,
		policy:    policy,
		notifier:  notifier,
		dashboard: params.Dashboard,
		locker:    params.Locker,
		metrics:   params.Metrics,
		logger:    log,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start runs a sweep every interval until ctx is cancelled. The returned channel closes when the loop exits.
func (s *EscalationService) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(s.cfg.Interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunEscalations(ctx); err != nil && ctx.Err() == nil {
					s.logger.Warn("escalation sweep failed", zap.Error(err))
				}
			}
		}
	}()
	s.logger.Info("escalation scheduler started", zap.Duration("interval", s.cfg.Interval))
	return done
}

// RunEscalations performs one sweep: urgent warnings, overdue escalations and deadline repair.
func (s *EscalationService) RunEscalations(ctx context.Context) (*EscalationResult, error) {
	started := time.Now()
	result := &EscalationResult{}

	if s.locker != nil {
		token, ok, err := s.locker.Acquire(ctx)
		if err != nil {
			s.metrics.RecordSweep("lock_error", time.Since(started), nil)
			return nil, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			result.LockHeld = true
			s.metrics.RecordSweep("lock_held", time.Since(started), nil)
			s.logger.Debug("escalation sweep skipped, lock held elsewhere")
			return result, nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), token); err != nil {
				s.logger.Warn("release sweep lock failed", zap.Error(err))
			}
		}()
	}

	now := s.now().UTC()
	passes := []struct {
		name string
		list func() ([]int64, error)
		item func(int64) (sweepOutcome, error)
	}{
		{"warning", func() ([]int64, error) {
			return s.store.ListUrgentWarningCandidates(ctx, now, now.Add(s.cfg.WarningWindow), s.cfg.BatchSize)
		}, func(id int64) (sweepOutcome, error) { return s.warn(ctx, id, now) }},
		{"escalation", func() ([]int64, error) {
			return s.store.ListDueForEscalation(ctx, now, s.cfg.BatchSize)
		}, func(id int64) (sweepOutcome, error) { return s.escalate(ctx, id, now) }},
		{"repair", func() ([]int64, error) {
			return s.store.ListMissingDeadline(ctx, s.hierarchy.EscalatingLevels(), s.cfg.BatchSize)
		}, func(id int64) (sweepOutcome, error) { return s.repair(ctx, id, now) }},
	}

	for _, pass := range passes {
		if err := ctx.Err(); err != nil {
			s.metrics.RecordSweep("cancelled", time.Since(started), result.outcomes())
			return result, err
		}
		ids, err := pass.list()
		if err != nil {
			result.Failed++
			s.logger.Warn("escalation pass listing failed", zap.String("pass", pass.name), zap.Error(err))
			continue
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				s.metrics.RecordSweep("cancelled", time.Since(started), result.outcomes())
				return result, err
			}
			outcome, err := pass.item(id)
			if err != nil {
				result.Failed++
				s.logger.Warn("escalation item failed",
					zap.String("pass", pass.name),
					zap.Int64("request_id", id),
					zap.Error(err),
				)
				continue
			}
			result.add(outcome)
		}
	}

	s.metrics.RecordSweep("completed", time.Since(started), result.outcomes())
	s.logger.Info("escalation sweep finished",
		zap.Int("warned", result.Warned),
		zap.Int("escalated", result.Escalated),
		zap.Int("deferred", result.Deferred),
		zap.Int("exhausted", result.Exhausted),
		zap.Int("repaired", result.Repaired),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("took", time.Since(started)),
	)
	return result, nil
}

// warn sends the single reminder an urgent request gets before its deadline.
func (s *EscalationService) warn(ctx context.Context, id int64, now time.Time) (sweepOutcome, error) {
	var recipient *models.Actor
	var note string
	req, err := s.store.WithTransaction(ctx, id, func(req *models.PermissionRequest) (repository.Change, error) {
		if req.Status != models.StatusPending || !req.IsUrgent || req.WarningSentAt != nil || req.EscalateAt == nil {
			return repository.Change{}, errNothingToDo
		}
		if !req.EscalateAt.After(now) || req.EscalateAt.After(now.Add(s.cfg.WarningWindow)) {
			return repository.Change{}, errNothingToDo
		}
		assignee, err := s.directory.ResolveActor(ctx, req.AssigneeID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.Change{}, errNothingToDo
			}
			return repository.Change{}, fmt.Errorf("resolve assignee: %w", err)
		}
		if !assignee.HasContact() {
			return repository.Change{}, errNothingToDo
		}
		minutes := int(math.Ceil(req.EscalateAt.Sub(now).Minutes()))
		note = fmt.Sprintf("%d minutes remaining before escalation", minutes)
		req.WarningSentAt = &now
		req.UpdatedAt = now
		recipient = assignee
		return repository.Change{
			Save:    true,
			History: []*models.RequestHistory{historyEntry(models.ActionUrgentWarningSent, req.CurrentLevel, nil, nil, note, now)},
		}, nil
	})
	if err != nil {
		return s.itemError(err)
	}

	s.metrics.RecordTransition(string(models.ActionUrgentWarningSent))
	s.notifier.Notify(ctx, EventUrgentWarning, req, recipient, nil, note)
	return outcomeWarned, nil
}

// escalate moves an overdue request to the first next role, picking a user from the student's department.
func (s *EscalationService) escalate(ctx context.Context, id int64, now time.Time) (sweepOutcome, error) {
	outcome := outcomeSkipped
	var candidate *models.Actor
	var student *models.Actor
	var previous string

	req, err := s.store.WithTransaction(ctx, id, func(req *models.PermissionRequest) (repository.Change, error) {
		if req.Status != models.StatusPending || req.EscalateAt == nil || req.EscalateAt.After(now) {
			return repository.Change{}, errNothingToDo
		}
		next, ok := s.hierarchy.EscalationTarget(req.CurrentLevel)
		if !ok {
			req.EscalateAt = nil
			req.UpdatedAt = now
			outcome = outcomeExhausted
			return repository.Change{Save: true}, nil
		}

		owner, err := s.directory.ResolveActor(ctx, req.StudentID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return repository.Change{}, fmt.Errorf("resolve student: %w", err)
		}
		var candidates []models.Actor
		if owner != nil {
			candidates, err = s.directory.FindByRoleAndDepartment(ctx, next, owner.Department)
			if err != nil {
				return repository.Change{}, fmt.Errorf("find %s candidates: %w", next, err)
			}
		}
		if len(candidates) == 0 {
			retry := now.Add(s.cfg.RetryGrace)
			req.EscalateAt = &retry
			req.UpdatedAt = now
			outcome = outcomeDeferred
			return repository.Change{Save: true}, nil
		}

		pick := candidates[0]
		from := req.CurrentLevel
		previous = req.AssigneeID
		handOver(req, &pick, next, s.policy.Normal(next, now), now)
		candidate = &pick
		student = owner
		outcome = outcomeEscalated
		return repository.Change{
			Save:    true,
			History: []*models.RequestHistory{historyEntry(models.ActionAutoEscalated, from, rolePtr(next), nil, models.NoteAutoEscalated, now)},
		}, nil
	})
	if err != nil {
		return s.itemError(err)
	}

	switch outcome {
	case outcomeEscalated:
		s.logger.Info("request auto escalated",
			zap.Int64("request_id", req.ID),
			zap.String("code", req.Code),
			zap.String("to_role", string(req.CurrentLevel)),
			zap.String("assignee_id", req.AssigneeID),
		)
		s.metrics.RecordTransition(string(models.ActionAutoEscalated))
		if s.dashboard != nil {
			s.dashboard.Invalidate(ctx, req.StudentID, previous, req.AssigneeID)
		}
		s.notifier.Notify(ctx, EventRequestEscalated, req, student, nil, models.NoteAutoEscalated)
		s.notifier.Notify(ctx, EventRequestAssigned, req, candidate, nil, models.NoteAutoEscalated)
	case outcomeDeferred:
		s.logger.Info("escalation deferred, no candidate in department",
			zap.Int64("request_id", req.ID),
			zap.Timep("retry_at", req.EscalateAt),
		)
	case outcomeExhausted:
		s.logger.Info("escalation chain exhausted", zap.Int64("request_id", req.ID), zap.String("level", string(req.CurrentLevel)))
	}
	return outcome, nil
}

// repair restores a missing deadline on legacy rows from their application time.
func (s *EscalationService) repair(ctx context.Context, id int64, now time.Time) (sweepOutcome, error) {
	_, err := s.store.WithTransaction(ctx, id, func(req *models.PermissionRequest) (repository.Change, error) {
		if req.Status != models.StatusPending || req.EscalateAt != nil {
			return repository.Change{}, errNothingToDo
		}
		deadline := s.policy.Repair(req)
		if deadline == nil {
			return repository.Change{}, errNothingToDo
		}
		req.EscalateAt = deadline
		req.UpdatedAt = now
		return repository.Change{Save: true}, nil
	})
	if err != nil {
		return s.itemError(err)
	}
	return outcomeRepaired, nil
}

// itemError treats rows that vanished or changed since listing as skipped.
func (s *EscalationService) itemError(err error) (sweepOutcome, error) {
	if errors.Is(err, errNothingToDo) || errors.Is(err, sql.ErrNoRows) {
		return outcomeSkipped, nil
	}
	return outcomeSkipped, err
}
