package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campusiq-api/internal/models"
)

type lockStub struct {
	held     bool
	err      error
	acquired int
	released []string
}

func (l *lockStub) Acquire(context.Context) (string, bool, error) {
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	l.acquired++
	return "token", true, nil
}

func (l *lockStub) Release(_ context.Context, token string) error {
	l.released = append(l.released, token)
	return nil
}

type escalationFixture struct {
	svc       *EscalationService
	store     *memRequestStore
	dir       *memDirectory
	notifier  *recordingNotifier
	dashboard *recordingInvalidator
	lock      *lockStub
}

func newEscalationFixture(t *testing.T) *escalationFixture {
	t.Helper()
	h := NewRoleHierarchy(true)
	f := &escalationFixture{
		store:     newMemRequestStore(),
		dir:       newTestDirectory(),
		notifier:  &recordingNotifier{},
		dashboard: &recordingInvalidator{},
		lock:      &lockStub{},
	}
	f.svc = NewEscalationService(EscalationServiceParams{
		Store:     f.store,
		Directory: f.dir,
		Hierarchy: h,
		Policy:    testPolicy(h),
		Notifier:  f.notifier,
		Dashboard: f.dashboard,
		Locker:    f.lock,
		Config:    EscalationConfig{WarningWindow: 10 * time.Minute, RetryGrace: 30 * time.Minute},
	})
	f.svc.now = func() time.Time { return testNow }
	return f
}

func pendingAt(student, assignee string, level models.Role, escalateAt *time.Time) *models.PermissionRequest {
	return &models.PermissionRequest{
		StudentID:    student,
		AssigneeID:   assignee,
		Title:        "Hospital visit",
		Reason:       "Follow-up appointment",
		FromDate:     testNow,
		ToDate:       testNow,
		CurrentLevel: level,
		EscalateAt:   escalateAt,
		AppliedAt:    testNow.Add(-48 * time.Hour),
		UpdatedAt:    testNow.Add(-48 * time.Hour),
	}
}

func TestRunEscalationsMovesOverdueRequestUpTheChain(t *testing.T) {
	f := newEscalationFixture(t)
	req := f.store.seed(pendingAt("stu-1", "proc-1", models.RoleProctor, at(testNow.Add(-time.Minute))))

	result, err := f.svc.RunEscalations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Escalated)
	assert.Zero(t, result.Failed)

	stored := f.store.get(req.ID)
	assert.Equal(t, "hod-1", stored.AssigneeID)
	assert.Equal(t, models.RoleHOD, stored.CurrentLevel)
	assert.Equal(t, models.StatusPending, stored.Status)
	require.NotNil(t, stored.EscalateAt)
	assert.Equal(t, testNow.Add(24*time.Hour), *stored.EscalateAt)

	history := f.store.historyFor(req.ID)
	require.Len(t, history, 1)
	assert.Equal(t, models.ActionAutoEscalated, history[0].Action)
	assert.Nil(t, history[0].ActorID)
	assert.Equal(t, models.RoleProctor, history[0].FromRole)
	require.NotNil(t, history[0].ToRole)
	assert.Equal(t, models.RoleHOD, *history[0].ToRole)
	assert.Equal(t, models.NoteAutoEscalated, history[0].Note)

	assert.Equal(t, []string{"stu-1"}, f.notifier.recipients(EventRequestEscalated))
	assert.Equal(t, []string{"hod-1"}, f.notifier.recipients(EventRequestAssigned))
	assert.ElementsMatch(t, []string{"stu-1", "proc-1", "hod-1"}, f.dashboard.touched)
	assert.Equal(t, []string{"token"}, f.lock.released)
}

func TestRunEscalationsIsIdempotentForTheSameInstant(t *testing.T) {
	f := newEscalationFixture(t)
	req := f.store.seed(pendingAt("stu-1", "proc-1", models.RoleProctor, at(testNow.Add(-time.Minute))))

	_, err := f.svc.RunEscalations(context.Background())
	require.NoError(t, err)
	second, err := f.svc.RunEscalations(context.Background())
	require.NoError(t, err)

	assert.Zero(t, second.Escalated)
	assert.Len(t, f.store.historyFor(req.ID), 1)
	assert.Equal(t, "hod-1", f.store.get(req.ID).AssigneeID)
}

func TestRunEscalationsDefersWhenDepartmentHasNoCandidate(t *testing.T) {
	f := newEscalationFixture(t)
	req := f.store.seed(pendingAt("stu-ece", "hod-ece", models.RoleHOD, at(testNow.Add(-time.Hour))))

	result, err := f.svc.RunEscalations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deferred)

	stored := f.store.get(req.ID)
	assert.Equal(t, "hod-ece", stored.AssigneeID)
	assert.Equal(t, models.RoleHOD, stored.CurrentLevel)
	require.NotNil(t, stored.EscalateAt)
	assert.Equal(t, testNow.Add(30*time.Minute), *stored.EscalateAt)
	assert.Equal(t, testNow, stored.UpdatedAt)
	assert.Empty(t, f.store.historyFor(req.ID))
	assert.Empty(t, f.notifier.events())
}

func TestRunEscalationsClearsDeadlineAtTopOfChain(t *testing.T) {
	f := newEscalationFixture(t)
	req := f.store.seed(pendingAt("stu-1", "prin-1", models.RolePrincipal, at(testNow.Add(-time.Hour))))

	result, err := f.svc.RunEscalations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Exhausted)

	stored := f.store.get(req.ID)
	assert.Nil(t, stored.EscalateAt)
	assert.Equal(t, testNow, stored.UpdatedAt)
	assert.Equal(t, "prin-1", stored.AssigneeID)
	assert.Empty(t, f.store.historyFor(req.ID))
}

func TestRunEscalationsIgnoresDecidedRequests(t *testing.T) {
	f := newEscalationFixture(t)
	req := pendingAt("stu-1", "proc-1", models.RoleProctor, at(testNow.Add(-time.Hour)))
	req.Status = models.StatusApproved
	f.store.seed(req)

	result, err := f.svc.RunEscalations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Escalated)
	assert.Equal(t, "proc-1", f.store.get(req.ID).AssigneeID)
}

func TestRunEscalationsSendsUrgentWarningOnce(t *testing.T) {
	f := newEscalationFixture(t)
	req := pendingAt("stu-1", "proc-1", models.RoleProctor, at(testNow.Add(7*time.Minute)))
	req.IsUrgent = true
	f.store.seed(req)

	first, err := f.svc.RunEscalations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Warned)

	stored := f.store.get(req.ID)
	require.NotNil(t, stored.WarningSentAt)
	assert.Equal(t, testNow, *stored.WarningSentAt)
	history := f.store.historyFor(req.ID)
	require.Len(t, history, 1)
	assert.Equal(t, models.ActionUrgentWarningSent, history[0].Action)
	assert.Nil(t, history[0].ActorID)
	assert.Contains(t, history[0].Note, "7 minutes")
	assert.Equal(t, []string{"proc-1"}, f.notifier.recipients(EventUrgentWarning))

	second, err := f.svc.RunEscalations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Warned)
	assert.Len(t, f.store.historyFor(req.ID), 1)
}

func TestRunEscalationsSkipsWarningForAssigneeWithoutEmail(t *testing.T) {
	f := newEscalationFixture(t)
	for i := range f.dir.users {
		if f.dir.users[i].UserID == "proc-1" {
			f.dir.users[i].Email = ""
		}
	}
	req := pendingAt("stu-1", "proc-1", models.RoleProctor, at(testNow.Add(5*time.Minute)))
	req.IsUrgent = true
	f.store.seed(req)

	result, err := f.svc.RunEscalations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Warned)
	assert.Equal(t, 1, result.Skipped)
	assert.Nil(t, f.store.get(req.ID).WarningSentAt)
	assert.Empty(t, f.store.historyFor(req.ID))
}

func TestRunEscalationsWarnsPastContactlessBacklog(t *testing.T) {
	f := newEscalationFixture(t)
	f.svc.cfg.BatchSize = 2
	f.store.noContact = map[string]bool{"proc-1": true}
	for i := 1; i <= 3; i++ {
		stuck := pendingAt("stu-1", "proc-1", models.RoleProctor, at(testNow.Add(time.Duration(i)*time.Minute)))
		stuck.IsUrgent = true
		f.store.seed(stuck)
	}
	req := pendingAt("stu-2", "proc-2", models.RoleProctor, at(testNow.Add(8*time.Minute)))
	req.IsUrgent = true
	f.store.seed(req)

	result, err := f.svc.RunEscalations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Warned)
	assert.NotNil(t, f.store.get(req.ID).WarningSentAt)
	assert.Equal(t, []string{"proc-2"}, f.notifier.recipients(EventUrgentWarning))
}

func TestRunEscalationsRepairsMissingDeadline(t *testing.T) {
	f := newEscalationFixture(t)
	req := f.store.seed(pendingAt("stu-1", "hod-1", models.RoleHOD, nil))
	top := f.store.seed(pendingAt("stu-1", "prin-1", models.RolePrincipal, nil))

	result, err := f.svc.RunEscalations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Repaired)

	stored := f.store.get(req.ID)
	require.NotNil(t, stored.EscalateAt)
	assert.Equal(t, req.AppliedAt.Add(24*time.Hour), *stored.EscalateAt)
	assert.Equal(t, testNow, stored.UpdatedAt)
	assert.Empty(t, f.store.historyFor(req.ID))
	assert.Nil(t, f.store.get(top.ID).EscalateAt)
}

func TestRunEscalationsReturnsEarlyWhenLockHeld(t *testing.T) {
	f := newEscalationFixture(t)
	f.lock.held = true
	req := f.store.seed(pendingAt("stu-1", "proc-1", models.RoleProctor, at(testNow.Add(-time.Minute))))

	result, err := f.svc.RunEscalations(context.Background())
	require.NoError(t, err)
	assert.True(t, result.LockHeld)
	assert.Equal(t, "proc-1", f.store.get(req.ID).AssigneeID)
	assert.Empty(t, f.lock.released)
}

func TestRunEscalationsPropagatesLockError(t *testing.T) {
	f := newEscalationFixture(t)
	f.lock.err = errors.New("redis down")

	_, err := f.svc.RunEscalations(context.Background())
	require.Error(t, err)
}

func TestRunEscalationsCountsItemFailuresAndContinues(t *testing.T) {
	f := newEscalationFixture(t)
	f.store.seed(pendingAt("stu-1", "proc-1", models.RoleProctor, at(testNow.Add(-time.Minute))))
	f.store.failTx = errors.New("deadlock detected")

	result, err := f.svc.RunEscalations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Escalated)
}

func TestRunEscalationsStopsOnCancelledContext(t *testing.T) {
	f := newEscalationFixture(t)
	f.store.seed(pendingAt("stu-1", "proc-1", models.RoleProctor, at(testNow.Add(-time.Minute))))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.RunEscalations(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
