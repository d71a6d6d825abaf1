package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"swapstation-ops/internal/alerts/application"
	alerts "swapstation-ops/internal/alerts/domain"
)

// AlertRepository keeps alerts and decisions in memory. It serves local runs
// without a database and the service tests.
type AlertRepository struct {
	mu        sync.RWMutex
	alerts    map[string]alerts.Alert
	order     []string
	decisions []alerts.Decision
}

// NewAlertRepository constructs an empty repository.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{alerts: make(map[string]alerts.Alert)}
}

func (r *AlertRepository) ExistsPending(ctx context.Context, stationID string, alertType alerts.AlertType) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.alerts {
		if a.StationID == stationID && a.Type == alertType && a.Status == alerts.StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (r *AlertRepository) Create(ctx context.Context, alert alerts.Alert) error {
	if alert.ID == "" || alert.StationID == "" {
		return errors.New("alert repo: missing fields")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; ok {
		return errors.New("alert repo: duplicate id")
	}
	r.alerts[alert.ID] = alert
	r.order = append(r.order, alert.ID)
	return nil
}

func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *AlertRepository) List(ctx context.Context, filter application.ListFilter) ([]alerts.Alert, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := make([]alerts.Alert, 0, len(r.order))
	// newest first; insertion order breaks createdAt ties
	for i := len(r.order) - 1; i >= 0; i-- {
		a := r.alerts[r.order[i]]
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		matched = append(matched, a)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (r *AlertRepository) CommitDecision(ctx context.Context, decision alerts.Decision, update alerts.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[update.AlertID]
	if !ok {
		return alerts.ErrNotFound
	}
	if a.Status != alerts.StatusPending {
		return &alerts.ConflictError{Status: a.Status}
	}
	a.Apply(update)
	r.alerts[a.ID] = a
	r.decisions = append(r.decisions, decision)
	return nil
}

func (r *AlertRepository) CountPending(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.alerts {
		if a.Status == alerts.StatusPending {
			n++
		}
	}
	return n, nil
}

// ListByAlerts returns decisions per alert, newest first.
func (r *AlertRepository) ListByAlerts(ctx context.Context, alertIDs []string) (map[string][]alerts.Decision, error) {
	want := make(map[string]struct{}, len(alertIDs))
	for _, id := range alertIDs {
		want[id] = struct{}{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]alerts.Decision)
	for i := len(r.decisions) - 1; i >= 0; i-- {
		d := r.decisions[i]
		if _, ok := want[d.AlertID]; ok {
			out[d.AlertID] = append(out[d.AlertID], d)
		}
	}
	return out, nil
}

// ListByUser returns a user's decisions, newest first.
func (r *AlertRepository) ListByUser(ctx context.Context, userID string, limit int) ([]alerts.Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]alerts.Decision, 0)
	for i := len(r.decisions) - 1; i >= 0; i-- {
		if r.decisions[i].UserID != userID {
			continue
		}
		out = append(out, r.decisions[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Decisions returns every stored decision, oldest first.
func (r *AlertRepository) Decisions() []alerts.Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]alerts.Decision(nil), r.decisions...)
}
