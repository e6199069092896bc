package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campusiq-api/internal/dto"
	"github.com/noah-isme/campusiq-api/pkg/export"
)

// ExportFormat selects the rendered file type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ParseExportFormat normalises raw input. Empty input defaults to CSV.
func ParseExportFormat(raw string) (ExportFormat, bool) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ExportFormatCSV:
		return ExportFormatCSV, true
	case ExportFormatPDF:
		return ExportFormatPDF, true
	}
	return "", false
}

type trackProvider interface {
	Track(ctx context.Context, actorID string, id int64) (*dto.TrackResponse, error)
}

type tableRenderer interface {
	Render(table export.Table) ([]byte, error)
	ContentType() string
}

// ExportResult is a rendered file ready to stream.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders audit trails for compliance.
type ExportService struct {
	tracker   trackProvider
	directory actorResolver
	renderers map[ExportFormat]tableRenderer
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the defaults.
func NewExportService(tracker trackProvider, directory actorResolver, logger *zap.Logger, csv, pdf tableRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter(1.6, 1.1, 1, 1, 1.4, 2.4)
	}
	return &ExportService{
		tracker:   tracker,
		directory: directory,
		renderers: map[ExportFormat]tableRenderer{ExportFormatCSV: csv, ExportFormatPDF: pdf},
		logger:    logger,
		now:       time.Now,
	}
}

// ExportTrack renders the request's audit trail. Access rules are those of Track.
func (s *ExportService) ExportTrack(ctx context.Context, actorID string, id int64, rawFormat string) (*ExportResult, error) {
	format, ok := ParseExportFormat(rawFormat)
	if !ok {
		return nil, validationError("format must be csv or pdf")
	}
	track, err := s.tracker.Track(ctx, actorID, id)
	if err != nil {
		return nil, err
	}

	table := s.buildTrackTable(ctx, track)
	renderer := s.renderers[format]
	data, err := renderer.Render(table)
	if err != nil {
		return nil, internalError(err, "failed to render export")
	}
	s.logger.Info("audit trail exported",
		zap.Int64("request_id", track.RequestID),
		zap.String("format", string(format)),
		zap.Int("entries", len(track.History)),
	)
	return &ExportResult{
		Filename:    fmt.Sprintf("%s_audit_%s.%s", strings.ToLower(track.Code), s.now().UTC().Format("20060102_150405"), format),
		ContentType: renderer.ContentType(),
		Data:        data,
	}, nil
}

func (s *ExportService) buildTrackTable(ctx context.Context, track *dto.TrackResponse) export.Table {
	table := export.Table{
		Title:   fmt.Sprintf("Audit Trail %s", track.Code),
		Headers: []string{"Timestamp", "Action", "From", "To", "Actor", "Note"},
		Rows:    make([][]string, 0, len(track.History)),
	}
	switch {
	case track.Deleted:
		table.Subtitle = "Request withdrawn by requester"
	case track.Request != nil:
		table.Subtitle = fmt.Sprintf("%s | status %s | level %s", track.Request.Title,
			strings.ToUpper(string(track.Request.Status)), strings.ToUpper(string(track.Request.CurrentLevel)))
	}

	names := make(map[string]string)
	for _, entry := range track.History {
		to := ""
		if entry.ToRole != nil {
			to = strings.ToUpper(string(*entry.ToRole))
		}
		table.Rows = append(table.Rows, []string{
			entry.CreatedAt.UTC().Format(time.RFC3339),
			string(entry.Action),
			strings.ToUpper(string(entry.FromRole)),
			to,
			s.actorName(ctx, entry.ActorID, names),
			entry.Note,
		})
	}
	return table
}

func (s *ExportService) actorName(ctx context.Context, id *string, seen map[string]string) string {
	if id == nil {
		return "system"
	}
	if name, ok := seen[*id]; ok {
		return name
	}
	name := *id
	if s.directory != nil {
		if actor, err := s.directory.ResolveActor(ctx, *id); err == nil {
			name = fmt.Sprintf("%s (%s)", actor.DisplayName(), actor.Username)
		}
	}
	seen[*id] = name
	return name
}
