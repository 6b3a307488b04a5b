package resolver

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/avykov/telescan/internal/classify"
	"github.com/avykov/telescan/internal/store"
	"github.com/avykov/telescan/internal/telegram"
)

type fakeStore struct {
	usersByID       map[int64]*store.User
	usersByUsername map[string]*store.User
	memos           map[string]bool
	saved           []*store.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		usersByID:       make(map[int64]*store.User),
		usersByUsername: make(map[string]*store.User),
		memos:           make(map[string]bool),
	}
}

func (f *fakeStore) UserByID(_ context.Context, id int64) (*store.User, error) {
	if u, ok := f.usersByID[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) UserByUsername(_ context.Context, username string) (*store.User, error) {
	if u, ok := f.usersByUsername[username]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) SaveUser(_ context.Context, u *store.User) error {
	f.saved = append(f.saved, u)
	f.usersByID[u.ID] = u
	if u.Username != "" {
		f.usersByUsername[u.Username] = u
	}
	return nil
}

func (f *fakeStore) MemoExists(_ context.Context, identifier string) (bool, error) {
	return f.memos[identifier], nil
}

func (f *fakeStore) SaveMemo(_ context.Context, identifier string) error {
	f.memos[identifier] = true
	return nil
}

type fakeFetcher struct {
	entities map[string]*telegram.Entity
	err      error
	calls    []string
}

func (f *fakeFetcher) Entity(_ context.Context, identifier string) (*telegram.Entity, error) {
	f.calls = append(f.calls, identifier)
	if f.err != nil {
		return nil, f.err
	}
	if ent, ok := f.entities[identifier]; ok {
		return ent, nil
	}
	return nil, telegram.ErrNotFound
}

func testClassifier(t *testing.T) *classify.Classifier {
	t.Helper()
	r, err := classify.NewRegistry(nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r.For(0)
}

func testResolver(t *testing.T, fs *fakeStore, ff *fakeFetcher) *Resolver {
	t.Helper()
	return New(fs, ff, slog.New(slog.DiscardHandler))
}

func rawMsg(senderID int64, text string) telegram.RawMessage {
	return telegram.RawMessage{ID: 10, ChatID: 1, SenderID: senderID, Text: text, Date: time.Now(), Channel: true}
}

func testSource() *store.Source {
	return &store.Source{ID: 1, Title: "test", Username: "test_channel", IsActive: true}
}

func TestResolve_SenderIDLocalHit(t *testing.T) {
	fs := newFakeStore()
	fs.usersByID[500] = &store.User{ID: 500, Username: "known"}
	ff := &fakeFetcher{}
	r := testResolver(t, fs, ff)

	user, err := r.Resolve(context.Background(), rawMsg(500, "hello"), testSource(), testClassifier(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user == nil || user.ID != 500 {
		t.Errorf("expected local user 500, got %v", user)
	}
	if len(ff.calls) != 0 {
		t.Errorf("expected no network fetch on local hit, got %v", ff.calls)
	}
}

func TestResolve_SenderIDFetchAndSave(t *testing.T) {
	fs := newFakeStore()
	ff := &fakeFetcher{entities: map[string]*telegram.Entity{
		"500": {ID: 500, Kind: telegram.KindUser, Username: "NewUser", FirstName: "New", Premium: true, PhotoID: 77},
	}}
	r := testResolver(t, fs, ff)

	user, err := r.Resolve(context.Background(), rawMsg(500, "hello"), testSource(), testClassifier(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user == nil || user.ID != 500 {
		t.Fatalf("expected fetched user, got %v", user)
	}
	if user.Username != "newuser" {
		t.Errorf("expected lower-cased username, got %q", user.Username)
	}
	if user.PhotoID == nil || *user.PhotoID != 77 {
		t.Errorf("expected photo id 77, got %v", user.PhotoID)
	}
	if len(fs.saved) != 1 {
		t.Errorf("expected user persisted, got %d saves", len(fs.saved))
	}
}

func TestResolve_MemoSkipsFetch(t *testing.T) {
	fs := newFakeStore()
	fs.memos["500"] = true
	ff := &fakeFetcher{}
	r := testResolver(t, fs, ff)

	user, err := r.Resolve(context.Background(), rawMsg(500, "hello"), testSource(), testClassifier(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil for memoed identifier, got %v", user)
	}
	if len(ff.calls) != 0 {
		t.Errorf("expected no fetch for memoed identifier, got %v", ff.calls)
	}
}

func TestResolve_UnresolvableGetsMemoed(t *testing.T) {
	fs := newFakeStore()
	ff := &fakeFetcher{}
	r := testResolver(t, fs, ff)

	user, err := r.Resolve(context.Background(), rawMsg(500, "hello"), testSource(), testClassifier(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil for unresolvable sender, got %v", user)
	}
	if !fs.memos["500"] {
		t.Error("expected failed lookup memoed")
	}

	// Second pass hits the memo, not the network.
	ff.calls = nil
	if _, err := r.Resolve(context.Background(), rawMsg(500, "hello"), testSource(), testClassifier(t)); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(ff.calls) != 0 {
		t.Errorf("expected no second fetch, got %v", ff.calls)
	}
}

func TestResolve_NonUserEntityMemoed(t *testing.T) {
	fs := newFakeStore()
	ff := &fakeFetcher{entities: map[string]*telegram.Entity{
		"some_channel": {ID: 900, Kind: telegram.KindChannel, Username: "some_channel"},
	}}
	r := testResolver(t, fs, ff)

	user, err := r.Resolve(context.Background(), rawMsg(0, "apply via @some_channel"), testSource(), testClassifier(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil for channel mention, got %v", user)
	}
	if !fs.memos["some_channel"] {
		t.Error("expected channel mention memoed")
	}
}

func TestResolve_MentionFallback(t *testing.T) {
	fs := newFakeStore()
	fs.usersByUsername["hr_contact"] = &store.User{ID: 600, Username: "hr_contact"}
	ff := &fakeFetcher{}
	r := testResolver(t, fs, ff)

	user, err := r.Resolve(context.Background(), rawMsg(0, "Write to @HR_Contact"), testSource(), testClassifier(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user == nil || user.ID != 600 {
		t.Errorf("expected user via lower-cased mention, got %v", user)
	}
}

func TestResolve_NoSenderNoMention(t *testing.T) {
	fs := newFakeStore()
	ff := &fakeFetcher{}
	r := testResolver(t, fs, ff)

	user, err := r.Resolve(context.Background(), rawMsg(0, "no contacts in this text"), testSource(), testClassifier(t))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil without sender or mention, got %v", user)
	}
	if len(ff.calls) != 0 {
		t.Errorf("expected no fetch, got %v", ff.calls)
	}
}

func TestResolve_TransientFetchErrorPropagates(t *testing.T) {
	fs := newFakeStore()
	boom := errors.New("connection reset")
	ff := &fakeFetcher{err: boom}
	r := testResolver(t, fs, ff)

	_, err := r.Resolve(context.Background(), rawMsg(500, "hello"), testSource(), testClassifier(t))
	if !errors.Is(err, boom) {
		t.Errorf("expected transient error to propagate, got %v", err)
	}
	if fs.memos["500"] {
		t.Error("transient errors must not be memoed")
	}
}
