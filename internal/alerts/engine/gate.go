package engine

import (
	"context"
	"errors"

	alerts "swapstation-ops/internal/alerts/domain"
)

// PendingChecker reports whether a PENDING alert already exists.
type PendingChecker interface {
	ExistsPending(ctx context.Context, stationID string, alertType alerts.AlertType) (bool, error)
}

// Gate suppresses candidates that already have a PENDING alert.
// The check is a plain read; it does not reserve the slot.
type Gate struct {
	checker PendingChecker
}

// NewGate constructs a gate.
func NewGate(checker PendingChecker) (*Gate, error) {
	if checker == nil {
		return nil, errors.New("engine: nil pending checker")
	}
	return &Gate{checker: checker}, nil
}

// Admit reports whether candidate may be created for the station.
func (g *Gate) Admit(ctx context.Context, stationID string, candidate Candidate) (bool, error) {
	exists, err := g.checker.ExistsPending(ctx, stationID, candidate.Type)
	if err != nil {
		return false, err
	}
	return !exists, nil
}
