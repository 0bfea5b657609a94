package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/kloros/memoryd/pkg/model"
)

// Recorder writes operational telemetry back into the event store. The
// maintenance engine is therefore also a producer of rows it may later clean
// up.
type Recorder struct {
	events EventStore
	logger *slog.Logger
}

// NewRecorder builds an EventLogger over the given event store.
func NewRecorder(events EventStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{events: events, logger: logger}
}

// LogEvent stores one telemetry event. Failures are reported to the caller;
// they are operational records, not critical state.
func (r *Recorder) LogEvent(ctx context.Context, eventType model.EventType, content string, metadata map[string]any) error {
	_, err := r.events.StoreEvent(ctx, model.Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Content:   content,
		Metadata:  metadata,
	})
	if err != nil {
		r.logger.Warn("telemetry event not stored", "type", eventType, "err", err)
	}
	return err
}

var _ model.EventLogger = (*Recorder)(nil)
