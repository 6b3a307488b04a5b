package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/avykov/telescan/internal/store"
	"github.com/avykov/telescan/internal/telegram"
)

// ClientSlot exposes the live connection of a governed slot.
type ClientSlot interface {
	Client() telegram.Client
}

// SourceStore loads the monitored source set.
type SourceStore interface {
	SourcesByState(ctx context.Context, active, seeded bool) ([]store.Source, error)
}

// Monitor subscribes to the live-event stream and routes each event of a
// known, backfill-complete source through the ingestion routine. Events
// are processed one at a time.
type Monitor struct {
	slot    ClientSlot
	sources SourceStore
	ing     *Ingestor
	logger  *slog.Logger

	mu       sync.Mutex
	bySource map[int64]*store.Source
}

func NewMonitor(slot ClientSlot, sources SourceStore, ing *Ingestor, logger *slog.Logger) *Monitor {
	return &Monitor{
		slot:    slot,
		sources: sources,
		ing:     ing,
		logger:  logger,
	}
}

// Serve implements suture.Service: it loads the active seeded sources
// once, registers the event handler and blocks until shutdown.
func (m *Monitor) Serve(ctx context.Context) error {
	sources, err := m.sources.SourcesByState(ctx, true, true)
	if err != nil {
		return fmt.Errorf("load monitored sources: %w", err)
	}

	m.mu.Lock()
	m.bySource = make(map[int64]*store.Source, len(sources))
	for i := range sources {
		m.bySource[sources[i].ID] = &sources[i]
	}
	m.mu.Unlock()

	m.slot.Client().OnNewMessage(func(msg telegram.RawMessage) {
		m.handle(ctx, msg)
	})
	m.logger.Info("monitoring started", "sources", len(sources))

	<-ctx.Done()
	return ctx.Err()
}

func (m *Monitor) handle(ctx context.Context, msg telegram.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Private {
		m.logger.Warn("dropping private message", "chat_id", msg.ChatID, "message_id", msg.ID)
		return
	}
	if !msg.Channel {
		m.logger.Warn("dropping non-channel message", "chat_id", msg.ChatID, "message_id", msg.ID)
		return
	}
	src, ok := m.bySource[msg.ChatID]
	if !ok {
		m.logger.Warn("message from unmapped chat", "chat_id", msg.ChatID, "message_id", msg.ID)
		return
	}

	// A failed event is isolated; the stream keeps flowing.
	if err := m.ing.Ingest(ctx, msg, src); err != nil {
		m.logger.Error("failed to ingest live message",
			"source_id", src.ID,
			"message_id", msg.ID,
			"error", err,
		)
	}
}

func (m *Monitor) String() string { return "monitor" }
