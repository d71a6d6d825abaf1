package notify

import (
	"context"

	"swapstation-ops/internal/alerts/application"
)

// MultiNotifier fans an event out to several notifiers in order.
type MultiNotifier struct {
	notifiers []application.AlertNotifier
}

// NewMultiNotifier constructs a MultiNotifier; nil entries are dropped.
func NewMultiNotifier(notifiers ...application.AlertNotifier) *MultiNotifier {
	kept := make([]application.AlertNotifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			kept = append(kept, n)
		}
	}
	return &MultiNotifier{notifiers: kept}
}

// Notify forwards the event to every notifier.
func (m *MultiNotifier) Notify(ctx context.Context, event application.AlertEvent) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		notifier.Notify(ctx, event)
	}
}

// Len reports how many notifiers are attached.
func (m *MultiNotifier) Len() int {
	if m == nil {
		return 0
	}
	return len(m.notifiers)
}
