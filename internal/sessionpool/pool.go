// Package sessionpool owns the set of credentialed accounts: eligibility
// under the quota window, claim/release, and round-robin rotation. All
// quota mutation funnels through here and writes through to the store
// immediately.
package sessionpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avykov/telescan/internal/store"
)

// ErrNoEligibleSession means no active account currently has quota left.
var ErrNoEligibleSession = errors.New("sessionpool: no eligible session")

// Store is the credential-store surface the pool needs.
type Store interface {
	ActiveAccounts(ctx context.Context) ([]store.SessionAccount, error)
	TryClaim(ctx context.Context, id int64) (bool, error)
	ReleaseAccount(ctx context.Context, id int64) error
	ReleaseAllAccounts(ctx context.Context) error
	ResetQuota(ctx context.Context, id int64, at time.Time) error
	RecordRequest(ctx context.Context, id int64, at time.Time) error
}

type Config struct {
	RequestCap  int           // max requests per quota window (default 190)
	QuotaWindow time.Duration // rolling reset window (default 24h)
}

type Pool struct {
	store  Store
	cap    int
	window time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cursor int // round-robin position, advances independently of claims
}

func New(s Store, cfg Config, logger *slog.Logger) *Pool {
	if cfg.RequestCap <= 0 {
		cfg.RequestCap = 190
	}
	if cfg.QuotaWindow <= 0 {
		cfg.QuotaWindow = 24 * time.Hour
	}
	return &Pool{
		store:  s,
		cap:    cfg.RequestCap,
		window: cfg.QuotaWindow,
		logger: logger,
		now:    time.Now,
	}
}

// Eligible applies the quota-reset rule and reports whether the account
// may issue another request. When the window has elapsed the counter is
// reset to zero and written through before the comparison.
func (p *Pool) Eligible(ctx context.Context, acc *store.SessionAccount) (bool, error) {
	now := p.now()
	if now.Sub(acc.LastRequestAt) > p.window {
		p.logger.Info("resetting request count", "account", acc.SessionName, "phone", acc.Phone)
		if err := p.store.ResetQuota(ctx, acc.ID, now); err != nil {
			return false, err
		}
		acc.RequestCount = 0
		acc.LastRequestAt = now
	}
	return acc.IsActive && acc.RequestCount < p.cap, nil
}

// Claim selects the first eligible unclaimed account, least-used first,
// and marks it used. Returns ErrNoEligibleSession when the pool is
// exhausted.
func (p *Pool) Claim(ctx context.Context) (*store.SessionAccount, error) {
	accounts, err := p.store.ActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	for i := range accounts {
		acc := &accounts[i]
		if acc.IsUsed {
			continue
		}
		claimed, err := p.tryClaimEligible(ctx, acc)
		if err != nil {
			return nil, err
		}
		if claimed {
			return acc, nil
		}
	}
	return nil, ErrNoEligibleSession
}

// Next returns the next eligible account distinct from the excluded set,
// walking the pool round-robin from an explicit cursor. The cursor
// advances on every candidate inspected, so repeated rotations do not
// re-evaluate the same account forever.
func (p *Pool) Next(ctx context.Context, exclude map[int64]struct{}) (*store.SessionAccount, error) {
	accounts, err := p.store.ActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoEligibleSession
	}

	p.mu.Lock()
	start := p.cursor
	p.mu.Unlock()

	for i := 1; i <= len(accounts); i++ {
		idx := (start + i) % len(accounts)
		p.mu.Lock()
		p.cursor = idx
		p.mu.Unlock()

		acc := &accounts[idx]
		if _, excluded := exclude[acc.ID]; excluded {
			continue
		}
		if acc.IsUsed {
			continue
		}
		claimed, err := p.tryClaimEligible(ctx, acc)
		if err != nil {
			return nil, err
		}
		if claimed {
			return acc, nil
		}
	}
	return nil, ErrNoEligibleSession
}

func (p *Pool) tryClaimEligible(ctx context.Context, acc *store.SessionAccount) (bool, error) {
	ok, err := p.Eligible(ctx, acc)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	claimed, err := p.store.TryClaim(ctx, acc.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		// Lost the race to another slot; move on.
		return false, nil
	}
	acc.IsUsed = true
	return true, nil
}

// Release returns a claimed account to the pool.
func (p *Pool) Release(ctx context.Context, acc *store.SessionAccount) error {
	if err := p.store.ReleaseAccount(ctx, acc.ID); err != nil {
		return err
	}
	acc.IsUsed = false
	return nil
}

// ReleaseAll clears every claim, used at startup to recover from a
// previous process that died while holding accounts.
func (p *Pool) ReleaseAll(ctx context.Context) error {
	return p.store.ReleaseAllAccounts(ctx)
}

// RecordRequest counts one outbound call against the account's quota.
func (p *Pool) RecordRequest(ctx context.Context, acc *store.SessionAccount) error {
	now := p.now()
	if err := p.store.RecordRequest(ctx, acc.ID, now); err != nil {
		return err
	}
	acc.RequestCount++
	acc.LastRequestAt = now
	return nil
}

// Size reports the number of active accounts, bounding rotation retries.
func (p *Pool) Size(ctx context.Context) (int, error) {
	accounts, err := p.store.ActiveAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	return len(accounts), nil
}
