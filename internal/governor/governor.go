// Package governor wraps one client slot. Every outbound call goes
// through Execute: quota check before, counter increment after claim,
// and flood-wait recovery by rotating to a different account with one
// transparent retry per rotation, bounded by the pool size.
package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/avykov/telescan/internal/sessionpool"
	"github.com/avykov/telescan/internal/store"
	"github.com/avykov/telescan/internal/telegram"
)

// Pool is the session-pool surface the governor drives. All account
// mutation goes through it; the governor never touches quota fields
// directly.
type Pool interface {
	Claim(ctx context.Context) (*store.SessionAccount, error)
	Next(ctx context.Context, exclude map[int64]struct{}) (*store.SessionAccount, error)
	Release(ctx context.Context, acc *store.SessionAccount) error
	Eligible(ctx context.Context, acc *store.SessionAccount) (bool, error)
	RecordRequest(ctx context.Context, acc *store.SessionAccount) error
	Size(ctx context.Context) (int, error)
}

// Decrypter turns a stored account secret into a usable password.
type Decrypter interface {
	Decrypt(cipherHex, ivHex string) (string, error)
}

type Config struct {
	Slot    string        // "monitoring" or "seeder"
	Backoff time.Duration // wait between pool re-checks when exhausted (default 1h)

	// Politeness delay bounds before entity lookups.
	EntityDelayMin time.Duration
	EntityDelayMax time.Duration
}

type Governor struct {
	slot    string
	pool    Pool
	factory telegram.Factory
	secrets Decrypter
	code    telegram.CodeFunc
	backoff time.Duration
	logger  *slog.Logger

	delayMin time.Duration
	delayMax time.Duration
	sleep    func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	account *store.SessionAccount
	client  telegram.Client
}

func New(cfg Config, pool Pool, factory telegram.Factory, secrets Decrypter, code telegram.CodeFunc, logger *slog.Logger) *Governor {
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Hour
	}
	if cfg.EntityDelayMin <= 0 {
		cfg.EntityDelayMin = 2 * time.Second
	}
	if cfg.EntityDelayMax < cfg.EntityDelayMin {
		cfg.EntityDelayMax = 6 * time.Second
	}
	return &Governor{
		slot:     cfg.Slot,
		pool:     pool,
		factory:  factory,
		secrets:  secrets,
		code:     code,
		backoff:  cfg.Backoff,
		logger:   logger,
		delayMin: cfg.EntityDelayMin,
		delayMax: cfg.EntityDelayMax,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start claims the slot's initial account and connects its client.
// An authentication failure here is fatal for the slot and propagates
// to process startup.
func (g *Governor) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	acc, err := g.claimFirst(ctx)
	if err != nil {
		return err
	}
	client, err := g.connect(ctx, acc)
	if err != nil {
		_ = g.pool.Release(ctx, acc)
		return err
	}
	g.account = acc
	g.client = client
	g.logger.Info("slot connected", "slot", g.slot, "account", acc.SessionName, "phone", acc.Phone)
	return nil
}

// Stop disconnects the slot's client and releases its account.
func (g *Governor) Stop(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		if err := g.client.Disconnect(ctx); err != nil {
			g.logger.Warn("disconnect failed", "slot", g.slot, "error", err)
		}
	}
	if g.account != nil {
		if err := g.pool.Release(ctx, g.account); err != nil {
			g.logger.Warn("release failed", "slot", g.slot, "error", err)
		}
	}
}

// Client exposes the live connection for subscription registration,
// which is not a rate-limited call.
func (g *Governor) Client() telegram.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client
}

// Account reports the currently bound account, for status surfaces.
func (g *Governor) Account() *store.SessionAccount {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.account
}

// Execute runs one governed call. The callback receives the slot's
// current client, which changes across rotations. Non-rate-limit errors
// propagate unchanged.
func (g *Governor) Execute(ctx context.Context, call func(ctx context.Context, c telegram.Client) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.account == nil {
		return errors.New("governor: slot not started")
	}

	ok, err := g.pool.Eligible(ctx, g.account)
	if err != nil {
		return err
	}
	if !ok {
		g.logger.Debug("active session exhausted, rotating", "slot", g.slot, "account", g.account.SessionName)
		if err := g.rotate(ctx, nil); err != nil {
			return err
		}
	}

	if err := g.pool.RecordRequest(ctx, g.account); err != nil {
		return err
	}
	g.logger.Debug("executing request",
		"slot", g.slot,
		"account", g.account.SessionName,
		"request_count", g.account.RequestCount,
	)

	err = call(ctx, g.client)
	if err == nil {
		return nil
	}

	// Flood-wait recovery: rotate and retry once per rotation, never
	// revisiting an account within the same call, bounded by pool size.
	maxRotations, serr := g.pool.Size(ctx)
	if serr != nil {
		return fmt.Errorf("pool size: %w", serr)
	}
	tried := make(map[int64]struct{})
	for rotations := 0; ; rotations++ {
		fw, isFloodWait := telegram.AsFloodWait(err)
		if !isFloodWait {
			return err
		}
		if rotations >= maxRotations {
			return fmt.Errorf("flood wait persists after %d rotations: %w", rotations, err)
		}
		g.logger.Warn("flood wait, switching account",
			"slot", g.slot,
			"account", g.account.SessionName,
			"suggested_wait", fw.RetryAfter,
		)
		tried[g.account.ID] = struct{}{}
		if err := g.rotate(ctx, tried); err != nil {
			return err
		}
		if err := g.pool.RecordRequest(ctx, g.account); err != nil {
			return err
		}
		err = call(ctx, g.client)
		if err == nil {
			return nil
		}
	}
}

// rotate disconnects the current client, releases its account, claims the
// next eligible account and connects a fresh client. When the pool is
// exhausted it backs off a fixed interval and re-evaluates indefinitely.
// Callers hold g.mu.
func (g *Governor) rotate(ctx context.Context, exclude map[int64]struct{}) error {
	if g.client != nil {
		if err := g.client.Disconnect(ctx); err != nil {
			g.logger.Warn("disconnect failed", "slot", g.slot, "error", err)
		}
	}
	if g.account != nil {
		if err := g.pool.Release(ctx, g.account); err != nil {
			g.logger.Warn("release failed", "slot", g.slot, "error", err)
		}
	}
	g.account = nil
	g.client = nil

	for {
		acc, err := g.pool.Next(ctx, exclude)
		if errors.Is(err, sessionpool.ErrNoEligibleSession) {
			g.logger.Warn("no eligible session, backing off", "slot", g.slot, "backoff", g.backoff)
			if err := g.sleep(ctx, g.backoff); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		client, err := g.connect(ctx, acc)
		if err != nil {
			_ = g.pool.Release(ctx, acc)
			return err
		}
		g.account = acc
		g.client = client
		g.logger.Info("switched account", "slot", g.slot, "account", acc.SessionName, "phone", acc.Phone)
		return nil
	}
}

func (g *Governor) claimFirst(ctx context.Context) (*store.SessionAccount, error) {
	for {
		acc, err := g.pool.Claim(ctx)
		if errors.Is(err, sessionpool.ErrNoEligibleSession) {
			g.logger.Warn("no eligible session, backing off", "slot", g.slot, "backoff", g.backoff)
			if err := g.sleep(ctx, g.backoff); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return acc, nil
	}
}

func (g *Governor) connect(ctx context.Context, acc *store.SessionAccount) (telegram.Client, error) {
	client, err := g.factory.NewClient(ctx, acc.SessionName)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", acc.SessionName, err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", acc.SessionName, err)
	}

	authed, err := client.IsAuthenticated(ctx)
	if err != nil {
		return nil, fmt.Errorf("check authorization for %s: %w", acc.SessionName, err)
	}
	if !authed {
		password, err := g.secrets.Decrypt(acc.Password, acc.PasswordIV)
		if err != nil {
			return nil, fmt.Errorf("decrypt password for %s: %w", acc.SessionName, err)
		}
		err = client.Authenticate(ctx, acc.Phone,
			func(context.Context) (string, error) { return password, nil },
			g.code,
		)
		if err != nil {
			return nil, fmt.Errorf("authenticate %s: %w", acc.SessionName, err)
		}
	}
	return client, nil
}

// Entity resolves an identifier through the governed slot, with a small
// randomized pause so lookups do not burst.
func (g *Governor) Entity(ctx context.Context, identifier string) (*telegram.Entity, error) {
	var ent *telegram.Entity
	err := g.Execute(ctx, func(ctx context.Context, c telegram.Client) error {
		if err := g.politeness(ctx); err != nil {
			return err
		}
		e, err := c.Entity(ctx, identifier)
		if err != nil {
			return err
		}
		ent = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ent, nil
}

// JoinChannel joins a channel through the governed slot.
func (g *Governor) JoinChannel(ctx context.Context, username string) error {
	g.logger.Info("joining source", "slot", g.slot, "username", username)
	return g.Execute(ctx, func(ctx context.Context, c telegram.Client) error {
		return c.JoinChannel(ctx, username)
	})
}

// History opens a governed history stream. Obtaining the stream counts
// against quota; the per-page delay in opts throttles iteration itself.
func (g *Governor) History(ctx context.Context, chatID int64, opts telegram.HistoryOptions) (telegram.HistoryIter, error) {
	var iter telegram.HistoryIter
	err := g.Execute(ctx, func(ctx context.Context, c telegram.Client) error {
		it, err := c.History(ctx, chatID, opts)
		if err != nil {
			return err
		}
		iter = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return iter, nil
}

func (g *Governor) politeness(ctx context.Context) error {
	span := g.delayMax - g.delayMin
	d := g.delayMin
	if span > 0 {
		d += rand.N(span)
	}
	if d <= 0 {
		return nil
	}
	return g.sleep(ctx, d)
}
