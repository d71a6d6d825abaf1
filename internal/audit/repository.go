package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultLimit = 100

// Repository writes audit logs.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry = normalize(entry, time.Now())
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("audit repo: encode details: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO audit_logs (
	id, action_type, status, user_id, alert_id, decision_id, station_id,
	details, error_message, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, entry.ID, string(entry.ActionType), string(entry.Status), entry.UserID,
		nullable(entry.AlertID), nullable(entry.DecisionID), nullable(entry.StationID),
		details, nullable(entry.ErrorMessage), entry.Timestamp)
	return err
}

// List returns entries newest first, filtered by alert id or by action type and range.
func (r *Repository) List(ctx context.Context, q Query) ([]Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("audit repo: nil db")
	}
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if q.AlertID != "" {
		add("alert_id = $%d", q.AlertID)
	}
	if q.ActionType != "" {
		add("action_type = $%d", string(q.ActionType))
	}
	if !q.From.IsZero() {
		add("created_at >= $%d", q.From.UTC())
	}
	if !q.To.IsZero() {
		add("created_at <= $%d", q.To.UTC())
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, action_type, status, user_id, alert_id, decision_id, station_id,
	details, error_message, created_at
FROM audit_logs
%s
ORDER BY created_at DESC
LIMIT $%d`, where, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var (
			entry                                  Entry
			actionType, status                     string
			alertID, decisionID, stationID, errMsg sql.NullString
			details                                []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&actionType,
			&status,
			&entry.UserID,
			&alertID,
			&decisionID,
			&stationID,
			&details,
			&errMsg,
			&entry.Timestamp,
		); err != nil {
			return nil, err
		}
		entry.ActionType = ActionType(actionType)
		entry.Status = Status(status)
		entry.AlertID = alertID.String
		entry.DecisionID = decisionID.String
		entry.StationID = stationID.String
		entry.ErrorMessage = errMsg.String
		entry.Timestamp = entry.Timestamp.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, err
			}
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PurgeBefore deletes entries older than cutoff.
func (r *Repository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("audit repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
