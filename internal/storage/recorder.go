package storage

import (
	"context"

	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/logging"
)

// StatusRecorder is the part of a snapshot store that keeps status reports.
type StatusRecorder interface {
	RecordStatus(report []byte) error
}

// RecordStatuses stores the payload of every system-status observation until
// ctx is cancelled or observed is closed.
func RecordStatuses(ctx context.Context, observed <-chan events.Event, recorder StatusRecorder, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-observed:
			if !ok {
				return
			}
			if event.Kind != events.SystemStatus || len(event.Payload) == 0 {
				continue
			}
			if err := recorder.RecordStatus(event.Payload); err != nil {
				logger.Warn(err)
			}
		}
	}
}
