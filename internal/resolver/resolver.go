// Package resolver maps a message's sender to a persisted user. Failed
// lookups are memoed by identifier so an unresolvable mention never costs
// a second network fetch.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/avykov/telescan/internal/classify"
	"github.com/avykov/telescan/internal/store"
	"github.com/avykov/telescan/internal/telegram"
)

// Store is the user-persistence surface.
type Store interface {
	UserByID(ctx context.Context, id int64) (*store.User, error)
	UserByUsername(ctx context.Context, username string) (*store.User, error)
	SaveUser(ctx context.Context, u *store.User) error
	MemoExists(ctx context.Context, identifier string) (bool, error)
	SaveMemo(ctx context.Context, identifier string) error
}

// EntityFetcher is the governed network lookup, normally a slot's
// governor.
type EntityFetcher interface {
	Entity(ctx context.Context, identifier string) (*telegram.Entity, error)
}

type Resolver struct {
	store  Store
	fetch  EntityFetcher
	logger *slog.Logger
}

func New(s Store, fetch EntityFetcher, logger *slog.Logger) *Resolver {
	return &Resolver{store: s, fetch: fetch, logger: logger}
}

// Resolve finds the message's sender: by explicit sender id when the
// platform provides one, otherwise by a handle mentioned in the cleaned
// text. Returns nil with no error when no sender can be determined.
func (r *Resolver) Resolve(ctx context.Context, msg telegram.RawMessage, src *store.Source, cls *classify.Classifier) (*store.User, error) {
	if msg.SenderID != 0 {
		user, err := r.resolveIdentifier(ctx, src, strconv.FormatInt(msg.SenderID, 10), false)
		if err != nil || user != nil {
			return user, err
		}
	}

	hint := cls.SenderHint(cls.Cleanup(msg.Text))
	if hint == "" {
		return nil, nil
	}
	return r.resolveIdentifier(ctx, src, strings.ToLower(hint), true)
}

func (r *Resolver) resolveIdentifier(ctx context.Context, src *store.Source, identifier string, byUsername bool) (*store.User, error) {
	memoed, err := r.store.MemoExists(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if memoed {
		r.logger.Warn("identifier previously unresolvable", "source_id", src.ID, "identifier", identifier)
		return nil, nil
	}

	user, err := r.lookupLocal(ctx, identifier, byUsername)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	r.logger.Debug("user not found locally, fetching", "source_id", src.ID, "identifier", identifier)
	ent, err := r.fetch.Entity(ctx, identifier)
	if err != nil {
		if errors.Is(err, telegram.ErrNotFound) {
			return nil, r.memo(ctx, identifier)
		}
		return nil, err
	}
	if ent == nil || ent.Kind != telegram.KindUser {
		return nil, r.memo(ctx, identifier)
	}

	user = &store.User{
		ID:        ent.ID,
		Premium:   ent.Premium,
		FirstName: ent.FirstName,
		LastName:  ent.LastName,
		Username:  strings.ToLower(ent.Username),
		Phone:     ent.Phone,
	}
	if ent.PhotoID != 0 {
		photoID := ent.PhotoID
		user.PhotoID = &photoID
	}
	if err := r.store.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	r.logger.Debug("user saved", "source_id", src.ID, "user_id", user.ID)
	return user, nil
}

func (r *Resolver) lookupLocal(ctx context.Context, identifier string, byUsername bool) (*store.User, error) {
	if byUsername {
		return r.store.UserByUsername(ctx, identifier)
	}
	id, err := strconv.ParseInt(identifier, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse sender id %q: %w", identifier, err)
	}
	return r.store.UserByID(ctx, id)
}

func (r *Resolver) memo(ctx context.Context, identifier string) error {
	if err := r.store.SaveMemo(ctx, identifier); err != nil {
		return err
	}
	return nil
}
