package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campusiq-api/internal/dto"
	"github.com/noah-isme/campusiq-api/internal/models"
	appErrors "github.com/noah-isme/campusiq-api/pkg/errors"
)

type trackerStub struct {
	resp *dto.TrackResponse
	err  error
}

func (s trackerStub) Track(context.Context, string, int64) (*dto.TrackResponse, error) {
	return s.resp, s.err
}

func sampleTrack() *dto.TrackResponse {
	actor := "proc-1"
	hod := models.RoleHOD
	proctor := models.RoleProctor
	student := "stu-1"
	return &dto.TrackResponse{
		RequestID: 12,
		Code:      "REQ-000012",
		Request:   &models.PermissionRequest{ID: 12, Title: "Conference", Status: models.StatusPending, CurrentLevel: models.RoleHOD},
		History: []models.RequestHistory{
			{ID: 1, RequestID: 12, Action: models.ActionCreated, FromRole: models.RoleStudent, ToRole: &proctor, ActorID: &student, CreatedAt: testNow},
			{ID: 2, RequestID: 12, Action: models.ActionForwarded, FromRole: models.RoleProctor, ToRole: &hod, ActorID: &actor, CreatedAt: testNow.Add(time.Hour)},
			{ID: 3, RequestID: 12, Action: models.ActionAutoEscalated, FromRole: models.RoleHOD, ToRole: &hod, Note: models.NoteAutoEscalated, CreatedAt: testNow.Add(2 * time.Hour)},
		},
	}
}

func TestExportTrackCSV(t *testing.T) {
	svc := NewExportService(trackerStub{resp: sampleTrack()}, newTestDirectory(), nil, nil, nil)
	svc.now = func() time.Time { return testNow }

	result, err := svc.ExportTrack(context.Background(), "stu-1", 12, "")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, "req-000012_audit_20260302_090000.csv", result.Filename)

	lines := strings.Split(strings.TrimSpace(string(result.Data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Timestamp,Action,From,To,Actor,Note", lines[0])
	assert.Contains(t, lines[1], "created,STUDENT,PROCTOR,User asha (asha)")
	assert.Contains(t, lines[2], "forwarded,PROCTOR,HOD,User dev (dev)")
	assert.Contains(t, lines[3], "auto_escalated,HOD,HOD,system,Auto escalated by system")
}

func TestExportTrackPDF(t *testing.T) {
	svc := NewExportService(trackerStub{resp: sampleTrack()}, nil, nil, nil, nil)

	result, err := svc.ExportTrack(context.Background(), "stu-1", 12, "PDF")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, strings.HasPrefix(string(result.Data), "%PDF"))
	assert.True(t, strings.HasSuffix(result.Filename, ".pdf"))
}

func TestExportTrackRejectsUnknownFormat(t *testing.T) {
	svc := NewExportService(trackerStub{resp: sampleTrack()}, nil, nil, nil, nil)

	_, err := svc.ExportTrack(context.Background(), "stu-1", 12, "xlsx")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestExportTrackPropagatesTrackErrors(t *testing.T) {
	denied := appErrors.Clone(appErrors.ErrAuthorization, "nope")
	svc := NewExportService(trackerStub{err: denied}, nil, nil, nil, nil)

	_, err := svc.ExportTrack(context.Background(), "stu-2", 12, "csv")
	assert.Equal(t, denied, err)
}
