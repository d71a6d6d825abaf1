package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"swapstation-ops/internal/alerts/application"
	alerts "swapstation-ops/internal/alerts/domain"
)

const alertColumns = `alert_id, station_id, alert_type, severity, status, title, description,
	recommended_action, metadata, decision_id, executed_at, executed_by, dismissed_at,
	dismissed_by, dismissal_reason, created_at, updated_at`

// AlertRepository is a Postgres repository for alerts and their decisions.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// ExistsPending reports whether a PENDING alert of the type exists for the station.
func (r *AlertRepository) ExistsPending(ctx context.Context, stationID string, alertType alerts.AlertType) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alert repo: nil db")
	}
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1 FROM alerts
	WHERE station_id = $1 AND alert_type = $2 AND status = $3
)`, stationID, string(alertType), string(alerts.StatusPending)).Scan(&exists)
	return exists, err
}

// Create inserts a new alert.
func (r *AlertRepository) Create(ctx context.Context, alert alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert.ID == "" || alert.StationID == "" || alert.Type == "" {
		return errors.New("alert repo: missing fields")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.CreatedAt
	}
	meta, err := encodeMetadata(alert.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO alerts (
	alert_id, station_id, alert_type, severity, status, title, description,
	recommended_action, metadata, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11
)`,
		alert.ID,
		alert.StationID,
		string(alert.Type),
		string(alert.Severity),
		string(alert.Status),
		alert.Title,
		alert.Description,
		alert.RecommendedAction,
		meta,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	return err
}

// GetByID fetches an alert by id.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+alertColumns+`
FROM alerts
WHERE alert_id = $1`, id)
	return scanAlert(row)
}

// List returns alerts newest first and the total matching count.
func (r *AlertRepository) List(ctx context.Context, filter application.ListFilter) ([]alerts.Alert, int, error) {
	if r == nil || r.db == nil {
		return nil, 0, errors.New("alert repo: nil db")
	}
	where := ""
	args := []any{}
	if filter.Status != "" {
		where = "WHERE status = $1"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s
FROM alerts
%s
ORDER BY created_at DESC, alert_id DESC
LIMIT $%d`, alertColumns, where, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

// CommitDecision locks the alert row, inserts the decision and then moves the
// alert out of PENDING, all in one transaction.
func (r *AlertRepository) CommitDecision(ctx context.Context, decision alerts.Decision, update alerts.StatusUpdate) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if update.Status != alerts.StatusExecuted && update.Status != alerts.StatusDismissed {
		return fmt.Errorf("alert repo: unsupported target status %q", update.Status)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM alerts WHERE alert_id = $1 FOR UPDATE`, update.AlertID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return alerts.ErrNotFound
	}
	if err != nil {
		return err
	}
	if alerts.Status(current) != alerts.StatusPending {
		return &alerts.ConflictError{Status: alerts.Status(current)}
	}

	meta, err := encodeMetadata(decision.Metadata)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO alert_decisions (
	decision_id, alert_id, decision, status, user_id, reason, metadata, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`,
		decision.ID,
		decision.AlertID,
		string(decision.Decision),
		string(decision.Status),
		decision.UserID,
		nullableString(decision.Reason),
		meta,
		decision.Timestamp,
	); err != nil {
		return err
	}

	if update.Status == alerts.StatusExecuted {
		_, err = tx.ExecContext(ctx, `
UPDATE alerts
SET status = $1, decision_id = $2, updated_at = $3, executed_at = $3, executed_by = $4
WHERE alert_id = $5`,
			string(update.Status), update.DecisionID, update.At, update.UserID, update.AlertID)
	} else {
		_, err = tx.ExecContext(ctx, `
UPDATE alerts
SET status = $1, decision_id = $2, updated_at = $3, dismissed_at = $3, dismissed_by = $4,
	dismissal_reason = $5
WHERE alert_id = $6`,
			string(update.Status), update.DecisionID, update.At, update.UserID,
			nullableString(update.DismissalReason), update.AlertID)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// CountPending counts PENDING alerts.
func (r *AlertRepository) CountPending(ctx context.Context) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("alert repo: nil db")
	}
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE status = $1`, string(alerts.StatusPending)).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*alerts.Alert, error) {
	var (
		alert                                    alerts.Alert
		alertType, severity, status              string
		meta                                     []byte
		decisionID, executedBy, dismissedBy, why sql.NullString
		executedAt, dismissedAt                  sql.NullTime
	)
	if err := row.Scan(
		&alert.ID,
		&alert.StationID,
		&alertType,
		&severity,
		&status,
		&alert.Title,
		&alert.Description,
		&alert.RecommendedAction,
		&meta,
		&decisionID,
		&executedAt,
		&executedBy,
		&dismissedAt,
		&dismissedBy,
		&why,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.Type = alerts.AlertType(alertType)
	alert.Severity = alerts.Severity(severity)
	alert.Status = alerts.Status(status)
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	alert.DecisionID = decisionID.String
	alert.ExecutedBy = executedBy.String
	alert.DismissedBy = dismissedBy.String
	alert.DismissalReason = why.String
	alert.ExecutedAt = timePtr(executedAt)
	alert.DismissedAt = timePtr(dismissedAt)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &alert.Metadata); err != nil {
			return nil, fmt.Errorf("alert repo: decode metadata: %w", err)
		}
	}
	return &alert, nil
}

func encodeMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("alert repo: encode metadata: %w", err)
	}
	return raw, nil
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
