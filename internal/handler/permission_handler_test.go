package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campusiq-api/internal/dto"
	"github.com/noah-isme/campusiq-api/internal/middleware"
	"github.com/noah-isme/campusiq-api/internal/models"
	"github.com/noah-isme/campusiq-api/internal/service"
	appErrors "github.com/noah-isme/campusiq-api/pkg/errors"
)

type responseEnvelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination map[string]interface{} `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var env responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

type fakeWorkflow struct {
	lastActor    string
	lastID       int64
	lastCreate   dto.CreatePermissionRequest
	lastForward  dto.ForwardRequest
	lastDecision dto.DecisionRequest
	lastBulk     dto.BulkForwardRequest
	lastRole     string
	err          error
}

func (f *fakeWorkflow) request() *models.PermissionRequest {
	return &models.PermissionRequest{ID: f.lastID, Code: models.FormatRequestCode(f.lastID), Status: models.StatusPending}
}

func (f *fakeWorkflow) Create(_ context.Context, studentID string, payload dto.CreatePermissionRequest) (*models.PermissionRequest, error) {
	f.lastActor, f.lastCreate, f.lastID = studentID, payload, 1
	return f.request(), f.err
}

func (f *fakeWorkflow) Forward(_ context.Context, actorID string, id int64, payload dto.ForwardRequest) (*models.PermissionRequest, error) {
	f.lastActor, f.lastID, f.lastForward = actorID, id, payload
	if f.err != nil {
		return nil, f.err
	}
	return f.request(), nil
}

func (f *fakeWorkflow) Reassign(_ context.Context, actorID string, id int64, _ dto.ReassignRequest) (*models.PermissionRequest, error) {
	f.lastActor, f.lastID = actorID, id
	return f.request(), f.err
}

func (f *fakeWorkflow) Approve(_ context.Context, actorID string, id int64, payload dto.DecisionRequest) (*models.PermissionRequest, error) {
	f.lastActor, f.lastID, f.lastDecision = actorID, id, payload
	if f.err != nil {
		return nil, f.err
	}
	req := f.request()
	req.Status = models.StatusApproved
	return req, nil
}

func (f *fakeWorkflow) Reject(_ context.Context, actorID string, id int64, payload dto.DecisionRequest) (*models.PermissionRequest, error) {
	f.lastActor, f.lastID, f.lastDecision = actorID, id, payload
	req := f.request()
	req.Status = models.StatusRejected
	return req, f.err
}

func (f *fakeWorkflow) BulkForward(_ context.Context, actorID string, payload dto.BulkForwardRequest) (*dto.BulkForwardResult, error) {
	f.lastActor, f.lastBulk = actorID, payload
	return &dto.BulkForwardResult{Updated: 1, Skipped: []int64{9}}, f.err
}

func (f *fakeWorkflow) Delete(_ context.Context, actorID string, id int64) error {
	f.lastActor, f.lastID = actorID, id
	return f.err
}

func (f *fakeWorkflow) Track(_ context.Context, actorID string, id int64) (*dto.TrackResponse, error) {
	f.lastActor, f.lastID = actorID, id
	return &dto.TrackResponse{RequestID: id, Code: models.FormatRequestCode(id), History: []models.RequestHistory{}}, f.err
}

func (f *fakeWorkflow) ForwardOptions(_ context.Context, actorID string, id int64, role string) (*dto.ForwardOptionsResponse, error) {
	f.lastActor, f.lastID, f.lastRole = actorID, id, role
	return &dto.ForwardOptionsResponse{AllowedRoles: []models.Role{models.RoleHOD}}, f.err
}

func (f *fakeWorkflow) RecipientOptions(_ context.Context, actorID string) (*dto.RecipientOptionsResponse, error) {
	f.lastActor = actorID
	return &dto.RecipientOptionsResponse{Department: models.DepartmentCSE}, f.err
}

func (f *fakeWorkflow) ListSubmitted(_ context.Context, actorID string) ([]models.PermissionRequest, error) {
	f.lastActor = actorID
	return []models.PermissionRequest{{ID: 1}, {ID: 2}}, f.err
}

func (f *fakeWorkflow) ListReceived(_ context.Context, actorID string) ([]models.PermissionRequest, error) {
	f.lastActor = actorID
	return []models.PermissionRequest{}, f.err
}

type fakeExporter struct {
	format string
	err    error
}

func (f *fakeExporter) ExportTrack(_ context.Context, _ string, _ int64, format string) (*service.ExportResult, error) {
	f.format = format
	if f.err != nil {
		return nil, f.err
	}
	return &service.ExportResult{Filename: "req-000003_audit.csv", ContentType: "text/csv", Data: []byte("a,b\n")}, nil
}

func newTestContext(method, target, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	if body != "" {
		c.Request = httptest.NewRequest(method, target, strings.NewReader(body))
		c.Request.Header.Set("Content-Type", "application/json")
	} else {
		c.Request = httptest.NewRequest(method, target, nil)
	}
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, rec
}

var hodClaims = &models.JWTClaims{UserID: "hod-1", Role: models.RoleHOD}

func TestPermissionHandlerCreate(t *testing.T) {
	wf := &fakeWorkflow{}
	h := NewPermissionHandler(wf, nil)
	c, rec := newTestContext(http.MethodPost, "/requests", `{"target_user_id":"proc-1","title":"Trip","reason":"Family","from_date":"2026-03-03","to_date":"2026-03-04","is_urgent":true,"urgent_minutes":30}`, &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})

	h.Create(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "stu-1", wf.lastActor)
	assert.Equal(t, "proc-1", wf.lastCreate.TargetUserID)
	require.NotNil(t, wf.lastCreate.UrgentMinutes)
	assert.Equal(t, 30, *wf.lastCreate.UrgentMinutes)
}

func TestPermissionHandlerRequiresClaims(t *testing.T) {
	h := NewPermissionHandler(&fakeWorkflow{}, nil)
	c, rec := newTestContext(http.MethodGet, "/requests/submitted", "", nil)

	h.Submitted(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPermissionHandlerRejectsMalformedJSON(t *testing.T) {
	h := NewPermissionHandler(&fakeWorkflow{}, nil)
	c, rec := newTestContext(http.MethodPost, "/requests/bulk-forward", `{"request_ids":`, hodClaims)

	h.BulkForward(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, appErrors.ErrValidation.Code, env.Error.Code)
}

func TestPermissionHandlerForwardParsesID(t *testing.T) {
	wf := &fakeWorkflow{}
	h := NewPermissionHandler(wf, nil)

	c, rec := newTestContext(http.MethodPost, "/requests/abc/forward", `{"target_role":"dean","target_user_id":"dean-1"}`, hodClaims)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}
	h.Forward(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = newTestContext(http.MethodPost, "/requests/42/forward", `{"target_role":"dean","target_user_id":"dean-1"}`, hodClaims)
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	h.Forward(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), wf.lastID)
	assert.Equal(t, "dean", wf.lastForward.TargetRole)
}

func TestPermissionHandlerMapsWorkflowErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{appErrors.Clone(appErrors.ErrAuthorization, "not yours"), http.StatusForbidden},
		{appErrors.Clone(appErrors.ErrInvalidTransition, "already approved"), http.StatusConflict},
		{appErrors.Clone(appErrors.ErrNotFound, "request not found"), http.StatusNotFound},
		{appErrors.Clone(appErrors.ErrValidation, "bad role"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		wf := &fakeWorkflow{err: tc.err}
		h := NewPermissionHandler(wf, nil)
		c, rec := newTestContext(http.MethodPost, "/requests/5/approve", "", hodClaims)
		c.Params = gin.Params{{Key: "id", Value: "5"}}

		h.Approve(c)

		assert.Equal(t, tc.status, rec.Code)
		env := decodeEnvelope(t, rec)
		require.NotNil(t, env.Error)
		assert.Equal(t, tc.err.(*appErrors.Error).Code, env.Error.Code)
	}
}

func TestPermissionHandlerDecisionWithNote(t *testing.T) {
	wf := &fakeWorkflow{}
	h := NewPermissionHandler(wf, nil)
	c, rec := newTestContext(http.MethodPost, "/requests/5/reject", `{"note":"insufficient reason"}`, hodClaims)
	c.Params = gin.Params{{Key: "id", Value: "5"}}

	h.Reject(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "insufficient reason", wf.lastDecision.Note)
	var req models.PermissionRequest
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &req))
	assert.Equal(t, models.StatusRejected, req.Status)
}

func TestPermissionHandlerDelete(t *testing.T) {
	wf := &fakeWorkflow{}
	h := NewPermissionHandler(wf, nil)
	c, rec := newTestContext(http.MethodDelete, "/requests/8", "", &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "8"}}

	h.Delete(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(8), wf.lastID)
}

func TestPermissionHandlerListsIncludePagination(t *testing.T) {
	h := NewPermissionHandler(&fakeWorkflow{}, nil)
	c, rec := newTestContext(http.MethodGet, "/requests/submitted", "", &models.JWTClaims{UserID: "stu-1"})

	h.Submitted(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, float64(2), env.Pagination["total_count"])
}

func TestPermissionHandlerForwardOptionsPassesRole(t *testing.T) {
	wf := &fakeWorkflow{}
	h := NewPermissionHandler(wf, nil)
	c, rec := newTestContext(http.MethodGet, "/requests/3/forward-options?role=hod", "", &models.JWTClaims{UserID: "proc-1"})
	c.Params = gin.Params{{Key: "id", Value: "3"}}

	h.ForwardOptions(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hod", wf.lastRole)
}

func TestPermissionHandlerExportTrack(t *testing.T) {
	exporter := &fakeExporter{}
	h := NewPermissionHandler(&fakeWorkflow{}, exporter)
	c, rec := newTestContext(http.MethodGet, "/requests/3/track/export?format=csv", "", &models.JWTClaims{UserID: "stu-1"})
	c.Params = gin.Params{{Key: "id", Value: "3"}}

	h.ExportTrack(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "csv", exporter.format)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "req-000003_audit.csv")
	assert.Equal(t, "a,b\n", rec.Body.String())
}

type fakeDashboard struct {
	resp *dto.DashboardResponse
	hit  bool
	err  error
}

func (f *fakeDashboard) Summary(context.Context, string) (*dto.DashboardResponse, bool, error) {
	return f.resp, f.hit, f.err
}

func TestDashboardHandlerSummary(t *testing.T) {
	h := NewDashboardHandler(&fakeDashboard{resp: &dto.DashboardResponse{UserID: "hod-1", Counts: models.RequestCounts{ReceivedPending: 4}}, hit: true})
	c, rec := newTestContext(http.MethodGet, "/dashboard", "", hodClaims)

	h.Summary(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, true, env.Meta["cache_hit"])
	var resp dto.DashboardResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, 4, resp.Counts.ReceivedPending)
}

type fakeRunner struct {
	result *service.EscalationResult
	err    error
}

func (f fakeRunner) RunEscalations(context.Context) (*service.EscalationResult, error) {
	return f.result, f.err
}

func TestEscalationHandlerRun(t *testing.T) {
	h := NewEscalationHandler(fakeRunner{result: &service.EscalationResult{Escalated: 2}})
	c, rec := newTestContext(http.MethodPost, "/escalations/run", "", &models.JWTClaims{UserID: "prin-1", Role: models.RolePrincipal})
	h.Run(c)
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewEscalationHandler(fakeRunner{result: &service.EscalationResult{LockHeld: true}})
	c, rec = newTestContext(http.MethodPost, "/escalations/run", "", nil)
	h.Run(c)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return assert.AnError },
	})
	c, rec := newTestContext(http.MethodGet, "/ready", "", nil)

	h.Ready(c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}
