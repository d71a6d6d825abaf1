package audit

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultBuffer       = 256
	defaultWriteTimeout = 5 * time.Second
)

// Recorder writes entries in the background. Recording never blocks the caller;
// when the queue is full the entry is dropped and logged.
type Recorder struct {
	sink    Logger
	log     logrus.FieldLogger
	queue   chan Entry
	timeout time.Duration
	now     func() time.Time
}

// RecorderOption customizes the recorder.
type RecorderOption func(*Recorder)

// WithBuffer sets the queue size. Zero makes Record write synchronously.
func WithBuffer(size int) RecorderOption {
	return func(r *Recorder) {
		if size <= 0 {
			r.queue = nil
			return
		}
		r.queue = make(chan Entry, size)
	}
}

// WithWriteTimeout bounds each sink write.
func WithWriteTimeout(timeout time.Duration) RecorderOption {
	return func(r *Recorder) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// NewRecorder constructs a recorder writing to sink.
func NewRecorder(sink Logger, log logrus.FieldLogger, opts ...RecorderOption) (*Recorder, error) {
	if sink == nil {
		return nil, errors.New("audit: nil sink")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Recorder{
		sink:    sink,
		log:     log.WithField("component", "audit"),
		queue:   make(chan Entry, defaultBuffer),
		timeout: defaultWriteTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record enqueues an entry.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if r == nil {
		return
	}
	entry = normalize(entry, r.now())
	if r.queue == nil {
		r.write(ctx, entry)
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.log.WithFields(logrus.Fields{
			"action_type": entry.ActionType,
			"alert_id":    entry.AlertID,
		}).Warn("audit queue full, entry dropped")
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	if r == nil || r.queue == nil {
		return nil
	}
	for {
		select {
		case entry := <-r.queue:
			r.write(ctx, entry)
		case <-ctx.Done():
			r.flush()
			return nil
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case entry := <-r.queue:
			r.write(context.Background(), entry)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, entry Entry) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.sink.Log(writeCtx, entry); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"action_type": entry.ActionType,
			"alert_id":    entry.AlertID,
		}).Warn("audit write failed")
	}
}
