package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/avykov/telescan/internal/store"
	"github.com/avykov/telescan/internal/telegram"
)

// seedLookback is how far back a source's first backfill reaches when no
// message is stored yet.
const seedLookbackMonths = 6

// HistorySlot is the governed call surface seeding needs.
type HistorySlot interface {
	Entity(ctx context.Context, identifier string) (*telegram.Entity, error)
	JoinChannel(ctx context.Context, username string) error
	History(ctx context.Context, chatID int64, opts telegram.HistoryOptions) (telegram.HistoryIter, error)
}

// SeederStore is the persistence surface for backfill bookkeeping.
type SeederStore interface {
	SourceByID(ctx context.Context, id int64) (*store.Source, error)
	SourcesByState(ctx context.Context, active, seeded bool) ([]store.Source, error)
	LatestMessage(ctx context.Context, sourceID int64) (*store.Message, error)
	MarkSeeded(ctx context.Context, sourceID int64) error
}

// Seeder backfills one source at a time: join if needed, compute the
// cursor, walk the forward-ordered history, ingest, mark seeded.
type Seeder struct {
	slot      HistorySlot
	store     SeederStore
	ing       *Ingestor
	pageDelay time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu sync.Mutex // sources are seeded strictly sequentially
}

func NewSeeder(slot HistorySlot, s SeederStore, ing *Ingestor, pageDelay time.Duration, logger *slog.Logger) *Seeder {
	if pageDelay <= 0 {
		pageDelay = 2 * time.Second
	}
	return &Seeder{
		slot:      slot,
		store:     s,
		ing:       ing,
		pageDelay: pageDelay,
		now:       time.Now,
		logger:    logger,
	}
}

// SeedSource runs one backfill pass for the named source. An unknown or
// inactive source is logged and skipped; transient errors abort the rest
// of this run, which resumes from the persisted cursor on the next
// trigger.
func (s *Seeder) SeedSource(ctx context.Context, sourceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seed(ctx, sourceID)
}

// SeedAll sweeps every active source whose backfill has not completed.
func (s *Seeder) SeedAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sources, err := s.store.SourcesByState(ctx, true, false)
	if err != nil {
		return fmt.Errorf("load unseeded sources: %w", err)
	}
	if len(sources) == 0 {
		s.logger.Info("no sources to seed")
		return nil
	}
	for i := range sources {
		if err := s.seed(ctx, sources[i].ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) seed(ctx context.Context, sourceID int64) error {
	src, err := s.store.SourceByID(ctx, sourceID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("seed trigger for unknown source", "source_id", sourceID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load source %d: %w", sourceID, err)
	}
	if !src.IsActive {
		s.logger.Warn("seed trigger for inactive source", "source_id", sourceID)
		return nil
	}

	s.logger.Info("seeding source", "source_id", src.ID, "title", src.Title)

	if err := s.joinIfNeeded(ctx, src); err != nil {
		return err
	}

	cursor, err := s.cursor(ctx, src.ID)
	if err != nil {
		return err
	}
	s.logger.Debug("backfill cursor computed", "source_id", src.ID, "cursor", cursor)

	iter, err := s.slot.History(ctx, src.ID, telegram.HistoryOptions{
		Since:        cursor,
		PerPageDelay: s.pageDelay,
	})
	if err != nil {
		return fmt.Errorf("open history for source %d: %w", src.ID, err)
	}

	count := 0
	for {
		msg, ok, err := iter.Next(ctx)
		if err != nil {
			return fmt.Errorf("history page for source %d: %w", src.ID, err)
		}
		if !ok {
			break
		}
		// Defensive guard: a forward-ordered stream must never go back
		// behind the cursor.
		if msg.Date.Before(cursor) {
			s.logger.Warn("history item behind cursor, stopping backfill",
				"source_id", src.ID,
				"message_id", msg.ID,
				"message_at", msg.Date,
			)
			break
		}
		if msg.Text == "" {
			continue
		}
		if err := s.ing.Ingest(ctx, msg, src); err != nil {
			return err
		}
		count++
	}

	if err := s.store.MarkSeeded(ctx, src.ID); err != nil {
		return err
	}
	s.logger.Info("source seeded", "source_id", src.ID, "messages", count)
	return nil
}

// joinIfNeeded validates that the claimed account can see the source,
// joining by username when it cannot.
func (s *Seeder) joinIfNeeded(ctx context.Context, src *store.Source) error {
	_, err := s.slot.Entity(ctx, strconv.FormatInt(src.ID, 10))
	if err == nil {
		return nil
	}
	if !errors.Is(err, telegram.ErrNotFound) {
		return fmt.Errorf("validate source %d: %w", src.ID, err)
	}
	if err := s.slot.JoinChannel(ctx, src.Username); err != nil {
		return fmt.Errorf("join source %s: %w", src.Username, err)
	}
	return nil
}

// cursor is one millisecond past the newest stored message, or the
// lookback horizon when the source has no messages yet.
func (s *Seeder) cursor(ctx context.Context, sourceID int64) (time.Time, error) {
	last, err := s.store.LatestMessage(ctx, sourceID)
	if errors.Is(err, store.ErrNotFound) {
		return s.now().AddDate(0, -seedLookbackMonths, 0), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("latest message for source %d: %w", sourceID, err)
	}
	return last.MessageAt.Add(time.Millisecond), nil
}
