package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	alerts "swapstation-ops/internal/alerts/domain"
)

// DecisionRepository reads alert decisions.
type DecisionRepository struct {
	db *sql.DB
}

// NewDecisionRepository constructs a repository.
func NewDecisionRepository(db *sql.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// ListByAlerts returns decisions grouped by alert id, newest first.
func (r *DecisionRepository) ListByAlerts(ctx context.Context, alertIDs []string) (map[string][]alerts.Decision, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("decision repo: nil db")
	}
	out := make(map[string][]alerts.Decision)
	if len(alertIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT decision_id, alert_id, decision, status, user_id, reason, metadata, created_at
FROM alert_decisions
WHERE alert_id = ANY($1)
ORDER BY created_at DESC`, alertIDs)
	if err != nil {
		return nil, err
	}
	decisions, err := scanDecisions(rows)
	if err != nil {
		return nil, err
	}
	for _, d := range decisions {
		out[d.AlertID] = append(out[d.AlertID], d)
	}
	return out, nil
}

// ListByUser returns a user's decisions newest first.
func (r *DecisionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]alerts.Decision, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("decision repo: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT decision_id, alert_id, decision, status, user_id, reason, metadata, created_at
FROM alert_decisions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return scanDecisions(rows)
}

func scanDecisions(rows *sql.Rows) ([]alerts.Decision, error) {
	defer rows.Close()
	result := make([]alerts.Decision, 0)
	for rows.Next() {
		var (
			d            alerts.Decision
			kind, status string
			reason       sql.NullString
			meta         []byte
		)
		if err := rows.Scan(&d.ID, &d.AlertID, &kind, &status, &d.UserID, &reason, &meta, &d.Timestamp); err != nil {
			return nil, err
		}
		d.Decision = alerts.DecisionKind(kind)
		d.Status = alerts.Status(status)
		d.Reason = reason.String
		d.Timestamp = d.Timestamp.UTC()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &d.Metadata); err != nil {
				return nil, err
			}
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
