package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/campusiq-api/internal/models"
	"github.com/noah-isme/campusiq-api/internal/repository"
	"github.com/noah-isme/campusiq-api/pkg/config"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testPolicy(h *RoleHierarchy) DeadlinePolicy {
	return NewDeadlinePolicy(h, config.EscalationConfig{
		NormalDeadline:   24 * time.Hour,
		UrgentMinMinutes: 10,
		UrgentMaxMinutes: 360,
	})
}

// memRequestStore mimics the row-locking repository with a single mutex.
type memRequestStore struct {
	mu        sync.Mutex
	nextID    int64
	nextHist  int64
	requests  map[int64]*models.PermissionRequest
	history   []models.RequestHistory
	failTx    error
	noContact map[string]bool
}

func newMemRequestStore() *memRequestStore {
	return &memRequestStore{requests: make(map[int64]*models.PermissionRequest)}
}

func (s *memRequestStore) appendHistory(requestID int64, entry *models.RequestHistory) {
	s.nextHist++
	entry.ID = s.nextHist
	entry.RequestID = requestID
	s.history = append(s.history, *entry)
}

func (s *memRequestStore) Create(_ context.Context, req *models.PermissionRequest, entry *models.RequestHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	req.ID = s.nextID
	req.Code = models.FormatRequestCode(req.ID)
	s.requests[req.ID] = req.Clone()
	if entry != nil {
		s.appendHistory(req.ID, entry)
	}
	return nil
}

// seed stores req as-is, bypassing workflow rules.
func (s *memRequestStore) seed(req *models.PermissionRequest) *models.PermissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	req.ID = s.nextID
	req.Code = models.FormatRequestCode(req.ID)
	if req.Status == "" {
		req.Status = models.StatusPending
	}
	s.requests[req.ID] = req.Clone()
	return req
}

func (s *memRequestStore) get(id int64) *models.PermissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id].Clone()
}

func (s *memRequestStore) GetByID(_ context.Context, id int64) (*models.PermissionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return req.Clone(), nil
}

func (s *memRequestStore) apply(req *models.PermissionRequest, change repository.Change) {
	for _, entry := range change.History {
		s.appendHistory(req.ID, entry)
	}
	switch {
	case change.Delete:
		delete(s.requests, req.ID)
	case change.Save:
		s.requests[req.ID] = req.Clone()
	}
}

func (s *memRequestStore) WithTransaction(_ context.Context, id int64, fn repository.MutateFunc) (*models.PermissionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTx != nil {
		return nil, s.failTx
	}
	stored, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	req := stored.Clone()
	change, err := fn(req)
	if err != nil {
		return nil, err
	}
	s.apply(req, change)
	return req, nil
}

func (s *memRequestStore) WithBatch(_ context.Context, ids []int64, fn repository.MutateFunc) (*repository.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type staged struct {
		req    *models.PermissionRequest
		change repository.Change
	}
	var pending []staged
	result := &repository.BatchResult{Skipped: []int64{}}
	for _, id := range ids {
		stored, ok := s.requests[id]
		if !ok {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		req := stored.Clone()
		change, err := fn(req)
		if errors.Is(err, repository.ErrSkip) {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		pending = append(pending, staged{req: req, change: change})
	}
	for _, p := range pending {
		s.apply(p.req, p.change)
		result.Updated = append(result.Updated, p.req)
	}
	return result, nil
}

func (s *memRequestStore) History(_ context.Context, requestID int64) ([]models.RequestHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RequestHistory
	for _, entry := range s.history {
		if entry.RequestID == requestID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *memRequestStore) filter(keep func(*models.PermissionRequest) bool) []models.PermissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PermissionRequest
	for _, req := range s.requests {
		if keep(req) {
			out = append(out, *req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func requestIDs(list []models.PermissionRequest) []int64 {
	out := make([]int64, 0, len(list))
	for _, req := range list {
		out = append(out, req.ID)
	}
	return out
}

func (s *memRequestStore) ListSubmitted(_ context.Context, studentID string) ([]models.PermissionRequest, error) {
	return s.filter(func(r *models.PermissionRequest) bool { return r.StudentID == studentID }), nil
}

func (s *memRequestStore) ListReceived(_ context.Context, assigneeID string) ([]models.PermissionRequest, error) {
	return s.filter(func(r *models.PermissionRequest) bool { return r.AssigneeID == assigneeID }), nil
}

func (s *memRequestStore) ListDueForEscalation(_ context.Context, now time.Time, _ int) ([]int64, error) {
	return requestIDs(s.filter(func(r *models.PermissionRequest) bool {
		return r.Status == models.StatusPending && r.EscalateAt != nil && !r.EscalateAt.After(now)
	})), nil
}

func (s *memRequestStore) ListUrgentWarningCandidates(_ context.Context, now, until time.Time, limit int) ([]int64, error) {
	list := s.filter(func(r *models.PermissionRequest) bool {
		return r.Status == models.StatusPending && r.IsUrgent && r.WarningSentAt == nil &&
			r.EscalateAt != nil && r.EscalateAt.After(now) && !r.EscalateAt.After(until) &&
			!s.noContact[r.AssigneeID]
	})
	sort.SliceStable(list, func(i, j int) bool { return list[i].EscalateAt.Before(*list[j].EscalateAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return requestIDs(list), nil
}

func (s *memRequestStore) ListMissingDeadline(_ context.Context, levels []models.Role, _ int) ([]int64, error) {
	allowed := make(map[models.Role]bool, len(levels))
	for _, l := range levels {
		allowed[l] = true
	}
	return requestIDs(s.filter(func(r *models.PermissionRequest) bool {
		return r.Status == models.StatusPending && r.EscalateAt == nil && allowed[r.CurrentLevel]
	})), nil
}

func (s *memRequestStore) historyFor(requestID int64) []models.RequestHistory {
	list, _ := s.History(context.Background(), requestID)
	return list
}

type memDirectory struct {
	users []models.Actor
}

func (d *memDirectory) ResolveActor(_ context.Context, userID string) (*models.Actor, error) {
	for i := range d.users {
		if d.users[i].UserID == userID {
			actor := d.users[i]
			return &actor, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (d *memDirectory) FindByRoleAndDepartment(_ context.Context, role models.Role, department models.Department) ([]models.Actor, error) {
	var out []models.Actor
	for _, u := range d.users {
		if u.Role == role && u.Department == department {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func newTestDirectory() *memDirectory {
	actor := func(id, username string, role models.Role, dept models.Department) models.Actor {
		return models.Actor{UserID: id, Username: username, FullName: "User " + username, Email: username + "@campus.test", Role: role, Department: dept}
	}
	return &memDirectory{users: []models.Actor{
		actor("stu-1", "asha", models.RoleStudent, models.DepartmentCSE),
		actor("stu-2", "bala", models.RoleStudent, models.DepartmentCSE),
		actor("stu-ece", "chitra", models.RoleStudent, models.DepartmentECE),
		actor("proc-1", "dev", models.RoleProctor, models.DepartmentCSE),
		actor("proc-2", "esha", models.RoleProctor, models.DepartmentCSE),
		actor("staff-1", "farid", models.RoleStaff, models.DepartmentCSE),
		actor("hod-1", "gita", models.RoleHOD, models.DepartmentCSE),
		actor("hod-ece", "hari", models.RoleHOD, models.DepartmentECE),
		actor("dean-1", "indu", models.RoleDean, models.DepartmentCSE),
		actor("prin-1", "jai", models.RolePrincipal, models.DepartmentCSE),
	}}
}

type notification struct {
	event     NotificationEvent
	requestID int64
	recipient string
	system    bool
	note      string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(_ context.Context, event NotificationEvent, req *models.PermissionRequest, recipient, actor *models.Actor, note string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	rec := notification{event: event, requestID: req.ID, system: actor == nil, note: note}
	if recipient != nil {
		rec.recipient = recipient.UserID
	}
	n.sent = append(n.sent, rec)
}

func (n *recordingNotifier) events() []NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationEvent, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.event)
	}
	return out
}

func (n *recordingNotifier) recipients(event NotificationEvent) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.event == event {
			out = append(out, s.recipient)
		}
	}
	return out
}

type recordingInvalidator struct {
	mu      sync.Mutex
	touched []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, userIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, userIDs...)
}
