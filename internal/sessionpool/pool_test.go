package sessionpool

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/avykov/telescan/internal/store"
)

type fakeStore struct {
	accounts  []store.SessionAccount
	denyClaim map[int64]bool // TryClaim reports a lost race
	resets    []int64
	records   []int64
	released  []int64
}

func (f *fakeStore) ActiveAccounts(_ context.Context) ([]store.SessionAccount, error) {
	out := make([]store.SessionAccount, len(f.accounts))
	copy(out, f.accounts)
	return out, nil
}

func (f *fakeStore) TryClaim(_ context.Context, id int64) (bool, error) {
	if f.denyClaim[id] {
		return false, nil
	}
	for i := range f.accounts {
		if f.accounts[i].ID == id {
			if f.accounts[i].IsUsed {
				return false, nil
			}
			f.accounts[i].IsUsed = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ReleaseAccount(_ context.Context, id int64) error {
	f.released = append(f.released, id)
	for i := range f.accounts {
		if f.accounts[i].ID == id {
			f.accounts[i].IsUsed = false
		}
	}
	return nil
}

func (f *fakeStore) ReleaseAllAccounts(_ context.Context) error {
	for i := range f.accounts {
		f.accounts[i].IsUsed = false
	}
	return nil
}

func (f *fakeStore) ResetQuota(_ context.Context, id int64, at time.Time) error {
	f.resets = append(f.resets, id)
	for i := range f.accounts {
		if f.accounts[i].ID == id {
			f.accounts[i].RequestCount = 0
			f.accounts[i].LastRequestAt = at
		}
	}
	return nil
}

func (f *fakeStore) RecordRequest(_ context.Context, id int64, at time.Time) error {
	f.records = append(f.records, id)
	for i := range f.accounts {
		if f.accounts[i].ID == id {
			f.accounts[i].RequestCount++
			f.accounts[i].LastRequestAt = at
		}
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func account(id int64, count int, last time.Time) store.SessionAccount {
	return store.SessionAccount{
		ID:            id,
		SessionName:   "session" + string(rune('a'+id)),
		IsActive:      true,
		RequestCount:  count,
		LastRequestAt: last,
	}
}

func TestEligible_ResetsAfterWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{accounts: []store.SessionAccount{
		account(1, 190, now.Add(-25*time.Hour)),
	}}
	p := New(fs, Config{}, testLogger())
	p.now = func() time.Time { return now }

	acc := &fs.accounts[0]
	ok, err := p.Eligible(context.Background(), acc)
	if err != nil {
		t.Fatalf("Eligible: %v", err)
	}
	if !ok {
		t.Error("expected account eligible after window reset")
	}
	if acc.RequestCount != 0 {
		t.Errorf("expected count reset to 0, got %d", acc.RequestCount)
	}
	if len(fs.resets) != 1 || fs.resets[0] != 1 {
		t.Errorf("expected reset written through for account 1, got %v", fs.resets)
	}
}

func TestEligible_ExhaustedInsideWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{accounts: []store.SessionAccount{
		account(1, 190, now.Add(-time.Hour)),
	}}
	p := New(fs, Config{}, testLogger())
	p.now = func() time.Time { return now }

	ok, err := p.Eligible(context.Background(), &fs.accounts[0])
	if err != nil {
		t.Fatalf("Eligible: %v", err)
	}
	if ok {
		t.Error("expected account ineligible at the request cap")
	}
	if len(fs.resets) != 0 {
		t.Errorf("expected no reset inside window, got %v", fs.resets)
	}
}

func TestClaim_LeastUsedFirst(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	// The store returns accounts ordered by request count ascending.
	fs := &fakeStore{accounts: []store.SessionAccount{
		account(3, 5, now),
		account(1, 50, now),
		account(2, 100, now),
	}}
	p := New(fs, Config{}, testLogger())
	p.now = func() time.Time { return now }

	acc, err := p.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if acc.ID != 3 {
		t.Errorf("expected least-used account 3, got %d", acc.ID)
	}
	if !acc.IsUsed {
		t.Error("expected claimed account marked used")
	}
}

func TestClaim_SkipsUsedAndLostRaces(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{
		accounts: []store.SessionAccount{
			account(1, 0, now),
			account(2, 0, now),
			account(3, 0, now),
		},
		denyClaim: map[int64]bool{2: true},
	}
	fs.accounts[0].IsUsed = true
	p := New(fs, Config{}, testLogger())
	p.now = func() time.Time { return now }

	acc, err := p.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if acc.ID != 3 {
		t.Errorf("expected account 3 after skipping used and lost race, got %d", acc.ID)
	}
}

func TestClaim_Exhausted(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{accounts: []store.SessionAccount{
		account(1, 190, now),
	}}
	p := New(fs, Config{}, testLogger())
	p.now = func() time.Time { return now }

	_, err := p.Claim(context.Background())
	if !errors.Is(err, ErrNoEligibleSession) {
		t.Errorf("expected ErrNoEligibleSession, got %v", err)
	}
}

func TestNext_RoundRobinAdvances(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{accounts: []store.SessionAccount{
		account(1, 0, now),
		account(2, 0, now),
		account(3, 0, now),
	}}
	p := New(fs, Config{}, testLogger())
	p.now = func() time.Time { return now }

	first, err := p.Next(context.Background(), nil)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := p.Release(context.Background(), first); err != nil {
		t.Fatalf("Release: %v", err)
	}
	second, err := p.Next(context.Background(), nil)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if second.ID == first.ID {
		t.Errorf("expected rotation to advance past account %d", first.ID)
	}
}

func TestNext_ExcludesTriedAccounts(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{accounts: []store.SessionAccount{
		account(1, 0, now),
		account(2, 0, now),
	}}
	p := New(fs, Config{}, testLogger())
	p.now = func() time.Time { return now }

	exclude := map[int64]struct{}{1: {}}
	acc, err := p.Next(context.Background(), exclude)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if acc.ID != 2 {
		t.Errorf("expected excluded account skipped, got %d", acc.ID)
	}

	exclude[2] = struct{}{}
	if err := p.Release(context.Background(), acc); err != nil {
		t.Fatalf("Release: %v", err)
	}
	_, err = p.Next(context.Background(), exclude)
	if !errors.Is(err, ErrNoEligibleSession) {
		t.Errorf("expected ErrNoEligibleSession with all accounts excluded, got %v", err)
	}
}

func TestRecordRequest_WritesThrough(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{accounts: []store.SessionAccount{
		account(1, 10, now),
	}}
	p := New(fs, Config{}, testLogger())
	p.now = func() time.Time { return now }

	acc := &fs.accounts[0]
	snapshot := *acc
	if err := p.RecordRequest(context.Background(), &snapshot); err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}
	if snapshot.RequestCount != 11 {
		t.Errorf("expected in-memory count 11, got %d", snapshot.RequestCount)
	}
	if len(fs.records) != 1 || fs.records[0] != 1 {
		t.Errorf("expected write-through for account 1, got %v", fs.records)
	}
}
