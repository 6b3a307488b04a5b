// Package pipeline drives ingestion: live monitoring and historical
// seeding both funnel every raw message through the same routine of
// exact-id skip, validity, cleanup, classification, sender resolution,
// near-duplicate matching and persistence.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/avykov/telescan/internal/classify"
	"github.com/avykov/telescan/internal/dedup"
	"github.com/avykov/telescan/internal/resolver"
	"github.com/avykov/telescan/internal/store"
	"github.com/avykov/telescan/internal/telegram"
)

// MessageStore is the persistence surface the ingestion routine writes to.
type MessageStore interface {
	MessageExists(ctx context.Context, sourceID, messageID int64) (bool, error)
	SaveMessage(ctx context.Context, m *store.Message) error
}

// LogPublisher mirrors notable ingestion events onto the control bus.
type LogPublisher interface {
	PublishLog(level, message string)
}

type Ingestor struct {
	store    MessageStore
	registry *classify.Registry
	dedup    *dedup.Engine
	resolver *resolver.Resolver
	bus      LogPublisher
	logger   *slog.Logger
}

func NewIngestor(s MessageStore, registry *classify.Registry, engine *dedup.Engine, res *resolver.Resolver, bus LogPublisher, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:    s,
		registry: registry,
		dedup:    engine,
		resolver: res,
		bus:      bus,
		logger:   logger,
	}
}

// Ingest runs the shared per-message routine. A failed write is logged
// and abandoned rather than propagated: the unique-key check makes
// re-ingestion on a later run safe. Resolver and dedup errors propagate
// to the caller, which decides whether the run continues.
func (ing *Ingestor) Ingest(ctx context.Context, msg telegram.RawMessage, src *store.Source) error {
	exists, err := ing.store.MessageExists(ctx, src.ID, msg.ID)
	if err != nil {
		return fmt.Errorf("check message: %w", err)
	}
	if exists {
		ing.logger.Debug("message already saved", "source_id", src.ID, "message_id", msg.ID)
		return nil
	}

	cls := ing.registry.For(src.ID)
	if !cls.IsValid(msg.Text) {
		ing.logger.Debug("invalid message", "source_id", src.ID, "message_id", msg.ID)
		return nil
	}

	cleaned := cls.Cleanup(msg.Text)
	preType := cls.Classify(msg.Text)

	user, err := ing.resolver.Resolve(ctx, msg, src, cls)
	if err != nil {
		return fmt.Errorf("resolve sender: %w", err)
	}

	origin, err := ing.dedup.FindOrigin(ctx, src.ID, cleaned)
	if err != nil {
		return fmt.Errorf("find duplicate origin: %w", err)
	}

	m := &store.Message{
		ID:        uuid.New(),
		SourceID:  src.ID,
		MessageID: msg.ID,
		PreType:   preType,
		MessageAt: msg.Date,
	}
	if user != nil {
		userID := user.ID
		m.FromID = &userID
	}
	if origin != nil {
		originID := origin.ID
		m.DuplicateID = &originID
	} else {
		m.Text = &cleaned
	}

	if err := ing.store.SaveMessage(ctx, m); err != nil {
		// The write is abandoned; the unique-key check re-runs next time
		// this message is seen.
		ing.logger.Error("failed to save message", "source_id", src.ID, "message_id", msg.ID, "error", err)
		return nil
	}

	ing.logger.Debug("message saved",
		"source_id", src.ID,
		"message_id", msg.ID,
		"pre_type", preType,
		"duplicate", origin != nil,
	)
	if ing.bus != nil {
		ing.bus.PublishLog("info", fmt.Sprintf("[%d] [%d] message saved", src.ID, msg.ID))
	}
	return nil
}
