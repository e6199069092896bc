package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/campusiq-api/internal/models"
)

// ErrSkip tells WithBatch to leave a request out of the transaction.
var ErrSkip = errors.New("skip request")

// Change describes what a locked read-modify-write wants persisted.
type Change struct {
	Save    bool
	Delete  bool
	History []*models.RequestHistory
}

// MutateFunc inspects and edits a locked request.
type MutateFunc func(req *models.PermissionRequest) (Change, error)

// BatchResult reports the outcome of WithBatch.
type BatchResult struct {
	Updated []*models.PermissionRequest
	Skipped []int64
}

const requestColumns = `r.id, r.request_code, r.student_id, r.assignee_id, r.title, r.reason, r.from_date, r.to_date,
       r.status, r.current_level, r.is_urgent, r.escalate_at, r.warning_sent_at, r.applied_at, r.updated_at`

const autoEscalatedColumn = `EXISTS (SELECT 1 FROM request_history h
       WHERE h.request_id = r.id AND h.action = 'auto_escalated') AS auto_escalated`

const historyColumns = `id, request_id, action, from_role, to_role, actor_id, note, created_at`

// PermissionRequestRepository persists permission requests and their audit trail.
type PermissionRequestRepository struct {
	db *sqlx.DB
}

// NewPermissionRequestRepository constructs the repository.
func NewPermissionRequestRepository(db *sqlx.DB) *PermissionRequestRepository {
	return &PermissionRequestRepository{db: db}
}

// Create inserts the request, assigns its code and records the first history entry atomically.
func (r *PermissionRequestRepository) Create(ctx context.Context, req *models.PermissionRequest, entry *models.RequestHistory) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create request tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insert = `INSERT INTO permission_requests
	(student_id, assignee_id, title, reason, from_date, to_date, status, current_level, is_urgent, escalate_at, warning_sent_at, applied_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`
	if err = tx.QueryRowxContext(ctx, insert,
		req.StudentID, req.AssigneeID, req.Title, req.Reason, req.FromDate, req.ToDate,
		req.Status, req.CurrentLevel, req.IsUrgent, req.EscalateAt, req.WarningSentAt, req.AppliedAt, req.UpdatedAt,
	).Scan(&req.ID); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	code := models.FormatRequestCode(req.ID)
	const assignCode = `UPDATE permission_requests SET request_code = $2 WHERE id = $1 AND request_code IS NULL`
	if _, err = tx.ExecContext(ctx, assignCode, req.ID, code); err != nil {
		return fmt.Errorf("assign request code: %w", err)
	}
	req.Code = code

	if entry != nil {
		entry.RequestID = req.ID
		if err = insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create request: %w", err)
	}
	return nil
}

// GetByID fetches a request without locking.
func (r *PermissionRequestRepository) GetByID(ctx context.Context, id int64) (*models.PermissionRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM permission_requests r WHERE r.id = $1`
	var req models.PermissionRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get request %d: %w", id, err)
	}
	return &req, nil
}

// WithTransaction locks one request, hands it to fn and persists the returned change.
// Errors from fn are returned unchanged and roll the transaction back.
func (r *PermissionRequestRepository) WithTransaction(ctx context.Context, id int64, fn MutateFunc) (req *models.PermissionRequest, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin request tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `SELECT ` + requestColumns + ` FROM permission_requests r WHERE r.id = $1 FOR UPDATE`
	var locked models.PermissionRequest
	if err = tx.GetContext(ctx, &locked, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("lock request %d: %w", id, err)
	}

	change, err := fn(&locked)
	if err != nil {
		return nil, err
	}
	if err = applyChange(ctx, tx, &locked, change); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit request %d: %w", id, err)
	}
	return &locked, nil
}

// WithBatch locks every listed request in id order and commits all accepted changes as one unit.
// Ids that do not exist or for which fn returns ErrSkip are reported as skipped.
func (r *PermissionRequestRepository) WithBatch(ctx context.Context, ids []int64, fn MutateFunc) (result *BatchResult, err error) {
	result = &BatchResult{Skipped: []int64{}}
	if len(ids) == 0 {
		return result, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `SELECT ` + requestColumns + ` FROM permission_requests r WHERE r.id = ANY($1) ORDER BY r.id FOR UPDATE`
	var rows []models.PermissionRequest
	if err = tx.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("lock batch: %w", err)
	}
	byID := make(map[int64]*models.PermissionRequest, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}

	for _, id := range ids {
		locked, ok := byID[id]
		if !ok {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		change, ferr := fn(locked)
		if ferr != nil {
			if errors.Is(ferr, ErrSkip) {
				result.Skipped = append(result.Skipped, id)
				continue
			}
			return nil, ferr
		}
		if err = applyChange(ctx, tx, locked, change); err != nil {
			return nil, err
		}
		result.Updated = append(result.Updated, locked)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return result, nil
}

func applyChange(ctx context.Context, tx *sqlx.Tx, req *models.PermissionRequest, change Change) error {
	for _, entry := range change.History {
		entry.RequestID = req.ID
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}
	if change.Delete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM permission_requests WHERE id = $1`, req.ID); err != nil {
			return fmt.Errorf("delete request %d: %w", req.ID, err)
		}
		return nil
	}
	if !change.Save {
		return nil
	}
	const update = `UPDATE permission_requests SET assignee_id = $2, status = $3, current_level = $4,
	escalate_at = $5, warning_sent_at = $6, updated_at = $7 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update,
		req.ID, req.AssigneeID, req.Status, req.CurrentLevel, req.EscalateAt, req.WarningSentAt, req.UpdatedAt,
	); err != nil {
		return fmt.Errorf("update request %d: %w", req.ID, err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, entry *models.RequestHistory) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO request_history (request_id, action, from_role, to_role, actor_id, note, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	if err := tx.QueryRowxContext(ctx, query,
		entry.RequestID, entry.Action, entry.FromRole, entry.ToRole, entry.ActorID, entry.Note, entry.CreatedAt,
	).Scan(&entry.ID); err != nil {
		return fmt.Errorf("append history for request %d: %w", entry.RequestID, err)
	}
	return nil
}

// History returns the audit trail of a request in creation order. It survives deletion of the request.
func (r *PermissionRequestRepository) History(ctx context.Context, requestID int64) ([]models.RequestHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM request_history WHERE request_id = $1 ORDER BY created_at, id`
	var entries []models.RequestHistory
	if err := r.db.SelectContext(ctx, &entries, query, requestID); err != nil {
		return nil, fmt.Errorf("list history for request %d: %w", requestID, err)
	}
	return entries, nil
}

// ListSubmitted returns a student's requests, newest first.
func (r *PermissionRequestRepository) ListSubmitted(ctx context.Context, studentID string) ([]models.PermissionRequest, error) {
	query := `SELECT ` + requestColumns + `, ` + autoEscalatedColumn + `
	FROM permission_requests r WHERE r.student_id = $1 ORDER BY r.applied_at DESC, r.id DESC`
	var list []models.PermissionRequest
	if err := r.db.SelectContext(ctx, &list, query, studentID); err != nil {
		return nil, fmt.Errorf("list submitted requests: %w", err)
	}
	return list, nil
}

// ListReceived returns the requests assigned to a user: urgent pending first, then pending, approved
// and rejected; auto-escalated ones lead within each group.
func (r *PermissionRequestRepository) ListReceived(ctx context.Context, assigneeID string) ([]models.PermissionRequest, error) {
	query := `SELECT ` + requestColumns + `, ` + autoEscalatedColumn + `
	FROM permission_requests r WHERE r.assignee_id = $1
	ORDER BY CASE
	         WHEN r.status = 'pending' AND r.is_urgent THEN 0
	         WHEN r.status = 'pending' THEN 1
	         WHEN r.status = 'approved' THEN 2
	         ELSE 3
	       END,
	       auto_escalated DESC, r.applied_at DESC, r.id DESC`
	var list []models.PermissionRequest
	if err := r.db.SelectContext(ctx, &list, query, assigneeID); err != nil {
		return nil, fmt.Errorf("list received requests: %w", err)
	}
	return list, nil
}

// Counts aggregates dashboard figures. Received pending only counts requests still at the user's level.
func (r *PermissionRequestRepository) Counts(ctx context.Context, userID string, role models.Role) (*models.RequestCounts, error) {
	const query = `SELECT
	COUNT(*) FILTER (WHERE student_id = $1) AS submitted_total,
	COUNT(*) FILTER (WHERE student_id = $1 AND status = 'pending') AS submitted_pending,
	COUNT(*) FILTER (WHERE student_id = $1 AND status = 'approved') AS submitted_approved,
	COUNT(*) FILTER (WHERE student_id = $1 AND status = 'rejected') AS submitted_rejected,
	COUNT(*) FILTER (WHERE assignee_id = $1 AND status = 'pending' AND current_level = $2) AS received_pending,
	COUNT(*) FILTER (WHERE assignee_id = $1 AND status = 'approved') AS received_approved,
	COUNT(*) FILTER (WHERE assignee_id = $1 AND status = 'rejected') AS received_rejected
	FROM permission_requests WHERE student_id = $1 OR assignee_id = $1`
	var counts models.RequestCounts
	if err := r.db.GetContext(ctx, &counts, query, userID, role); err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	return &counts, nil
}

// ListDueForEscalation returns pending requests whose deadline has passed.
func (r *PermissionRequestRepository) ListDueForEscalation(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	const query = `SELECT id FROM permission_requests
	WHERE status = 'pending' AND escalate_at IS NOT NULL AND escalate_at <= $1
	ORDER BY escalate_at, id LIMIT $2`
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, now, limit); err != nil {
		return nil, fmt.Errorf("list due requests: %w", err)
	}
	return ids, nil
}

// ListUrgentWarningCandidates returns unwarned urgent requests whose deadline falls inside (now, until].
// Requests whose assignee has no e-mail address are left out so they cannot fill the batch.
func (r *PermissionRequestRepository) ListUrgentWarningCandidates(ctx context.Context, now, until time.Time, limit int) ([]int64, error) {
	const query = `SELECT pr.id FROM permission_requests pr
	JOIN users u ON u.id = pr.assignee_id
	WHERE pr.status = 'pending' AND pr.is_urgent AND pr.warning_sent_at IS NULL
	  AND pr.escalate_at > $1 AND pr.escalate_at <= $2
	  AND btrim(u.email) <> ''
	ORDER BY pr.escalate_at, pr.id LIMIT $3`
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, now, until, limit); err != nil {
		return nil, fmt.Errorf("list warning candidates: %w", err)
	}
	return ids, nil
}

// ListMissingDeadline returns pending requests without a deadline at one of the given levels.
func (r *PermissionRequestRepository) ListMissingDeadline(ctx context.Context, levels []models.Role, limit int) ([]int64, error) {
	if len(levels) == 0 {
		return nil, nil
	}
	raw := make([]string, len(levels))
	for i, level := range levels {
		raw[i] = string(level)
	}
	const query = `SELECT id FROM permission_requests
	WHERE status = 'pending' AND escalate_at IS NULL AND current_level = ANY($1)
	ORDER BY id LIMIT $2`
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, pq.Array(raw), limit); err != nil {
		return nil, fmt.Errorf("list requests missing deadline: %w", err)
	}
	return ids, nil
}
