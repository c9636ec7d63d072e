package session

import (
	"context"
	"time"

	"github.com/pithecene-io/sluice/adapter"
)

// publishTimeout bounds one adapter publish.
const publishTimeout = 10 * time.Second

// publish queues ev for the adapter. It never blocks the dispatch side:
// when the queue is full the event is dropped and counted.
func (s *Session) publish(ev *adapter.Event) {
	if s.cfg.Publisher == nil {
		return
	}
	ev.ContractVersion = adapter.ContractVersion
	ev.SessionID = s.id
	ev.Role = string(s.cfg.Role)
	ev.Timestamp = s.cfg.Now().UTC().Format(time.RFC3339)
	select {
	case s.events <- ev:
	default:
		s.metrics.IncAdapterPublishFailure()
		s.logger.Warn("adapter queue full, event dropped", map[string]any{
			"event_type": ev.EventType,
			"channel":    ev.Channel,
		})
	}
}

// publishLoop hands queued events to the adapter until ctx is done.
// Adapter failures are logged and counted, never fatal.
func (s *Session) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := s.cfg.Publisher.Publish(pctx, ev)
			cancel()
			if err != nil {
				s.metrics.IncAdapterPublishFailure()
				s.logger.Warn("adapter publish failed", map[string]any{
					"event_type": ev.EventType,
					"channel":    ev.Channel,
					"error":      err.Error(),
				})
			}
		}
	}
}
