//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_AccountClaimLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	acc := &SessionAccount{
		FirstName:   "Integration",
		Phone:       "+7" + uuid.New().String()[:9],
		SessionName: "itest-" + uuid.New().String()[:8],
		Password:    "00",
		PasswordIV:  "00",
	}
	if err := s.SaveAccount(ctx, acc); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}

	claimed, err := s.TryClaim(ctx, acc.ID)
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to win")
	}

	// A second claim on a held account must lose.
	claimed, err = s.TryClaim(ctx, acc.ID)
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if claimed {
		t.Error("expected second claim to lose")
	}

	if err := s.ReleaseAccount(ctx, acc.ID); err != nil {
		t.Fatalf("ReleaseAccount: %v", err)
	}
	claimed, err = s.TryClaim(ctx, acc.ID)
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if !claimed {
		t.Error("expected claim to win after release")
	}
	if err := s.ReleaseAccount(ctx, acc.ID); err != nil {
		t.Fatalf("ReleaseAccount: %v", err)
	}

	if err := s.RecordRequest(ctx, acc.ID, time.Now()); err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}
	got, err := s.AccountByPhone(ctx, acc.Phone)
	if err != nil {
		t.Fatalf("AccountByPhone: %v", err)
	}
	if got.RequestCount != 1 {
		t.Errorf("expected request count 1, got %d", got.RequestCount)
	}

	if err := s.ResetQuota(ctx, acc.ID, time.Now()); err != nil {
		t.Fatalf("ResetQuota: %v", err)
	}
	got, err = s.AccountByPhone(ctx, acc.Phone)
	if err != nil {
		t.Fatalf("AccountByPhone: %v", err)
	}
	if got.RequestCount != 0 {
		t.Errorf("expected request count reset, got %d", got.RequestCount)
	}
}

func TestIntegration_MessageRoundtrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Requires a source row; skip when the fixture is absent.
	sources, err := s.SourcesByState(ctx, true, true)
	if err != nil {
		t.Fatalf("SourcesByState: %v", err)
	}
	if len(sources) == 0 {
		t.Skip("no active seeded source fixture")
	}
	src := sources[0]

	messageID := time.Now().UnixNano()
	text := "integration test message"
	m := &Message{
		SourceID:  src.ID,
		MessageID: messageID,
		Text:      &text,
		MessageAt: time.Now().UTC(),
	}
	if err := s.SaveMessage(ctx, m); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if m.ID == uuid.Nil {
		t.Fatal("expected id assigned on save")
	}

	exists, err := s.MessageExists(ctx, src.ID, messageID)
	if err != nil {
		t.Fatalf("MessageExists: %v", err)
	}
	if !exists {
		t.Error("expected saved message to exist")
	}

	latest, err := s.LatestMessage(ctx, src.ID)
	if err != nil {
		t.Fatalf("LatestMessage: %v", err)
	}
	if latest.MessageID != messageID {
		t.Errorf("expected latest message %d, got %d", messageID, latest.MessageID)
	}
}

func TestIntegration_UserUpsertAndMemo(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id := time.Now().UnixNano()
	u := &User{ID: id, FirstName: "Test", Username: "ITest_User"}
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	got, err := s.UserByUsername(ctx, "itest_user")
	if err != nil {
		t.Fatalf("UserByUsername: %v", err)
	}
	if got.ID != id {
		t.Errorf("expected user %d, got %d", id, got.ID)
	}

	u.FirstName = "Updated"
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatalf("SaveUser upsert: %v", err)
	}
	got, err = s.UserByID(ctx, id)
	if err != nil {
		t.Fatalf("UserByID: %v", err)
	}
	if got.FirstName != "Updated" {
		t.Errorf("expected upserted name, got %q", got.FirstName)
	}

	_, err = s.UserByID(ctx, -1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	memo := "itest-memo-" + uuid.New().String()[:8]
	exists, err := s.MemoExists(ctx, memo)
	if err != nil {
		t.Fatalf("MemoExists: %v", err)
	}
	if exists {
		t.Fatal("fresh memo must not exist")
	}
	if err := s.SaveMemo(ctx, memo); err != nil {
		t.Fatalf("SaveMemo: %v", err)
	}
	// Second save hits the conflict path and stays silent.
	if err := s.SaveMemo(ctx, memo); err != nil {
		t.Fatalf("SaveMemo conflict: %v", err)
	}
	exists, err = s.MemoExists(ctx, memo)
	if err != nil {
		t.Fatalf("MemoExists: %v", err)
	}
	if !exists {
		t.Error("expected memo stored")
	}
}
