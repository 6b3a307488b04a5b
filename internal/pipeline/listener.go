package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
)

// Subscriber is the control-bus surface the listener needs.
type Subscriber interface {
	Subscribe(subject string, handler func(subject string, data []byte)) error
}

// SeedListener turns control-bus messages (bare source-id strings) into
// backfill runs. The seeder's own lock keeps runs sequential even when
// triggers arrive back to back.
type SeedListener struct {
	bus     Subscriber
	subject string
	seeder  *Seeder
	logger  *slog.Logger
}

func NewSeedListener(bus Subscriber, subject string, seeder *Seeder, logger *slog.Logger) *SeedListener {
	return &SeedListener{
		bus:     bus,
		subject: subject,
		seeder:  seeder,
		logger:  logger,
	}
}

// Serve implements suture.Service.
func (l *SeedListener) Serve(ctx context.Context) error {
	err := l.bus.Subscribe(l.subject, func(_ string, data []byte) {
		// Triggers arrive as bare or JSON-quoted source ids.
		raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
		sourceID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			l.logger.Warn("ignoring malformed seed trigger", "payload", raw)
			return
		}
		if err := l.seeder.SeedSource(ctx, sourceID); err != nil {
			l.logger.Error("seeding failed", "source_id", sourceID, "error", err)
		}
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return ctx.Err()
}

func (l *SeedListener) String() string { return "seed-listener" }
