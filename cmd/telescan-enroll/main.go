// Command telescan-enroll provisions a scraper account: it encrypts the
// account password and stores the credential row the session pool reads.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/avykov/telescan/internal/config"
	"github.com/avykov/telescan/internal/secrets"
	"github.com/avykov/telescan/internal/store"
)

func main() {
	var (
		firstName   = flag.String("name", "", "account holder first name")
		phone       = flag.String("phone", "", "account phone number")
		sessionName = flag.String("session", "", "session file name (without extension)")
		password    = flag.String("password", "", "two-factor password, stored encrypted")
	)
	flag.Parse()

	if *firstName == "" || *phone == "" || *sessionName == "" {
		fmt.Fprintln(os.Stderr, "usage: telescan-enroll -name NAME -phone PHONE -session SESSION [-password PASSWORD]")
		os.Exit(2)
	}

	cfg := config.Load()
	handler := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(handler))

	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if cfg.EncryptionKey == "" {
		slog.Error("ENCRYPTION_KEY is required")
		os.Exit(1)
	}

	ctx := context.Background()

	box, err := secrets.New(cfg.EncryptionKey)
	if err != nil {
		slog.Error("invalid encryption key", "error", err)
		os.Exit(1)
	}

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if _, err := db.AccountByPhone(ctx, *phone); err == nil {
		slog.Error("account already enrolled", "phone", *phone)
		os.Exit(1)
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Error("failed to check existing account", "error", err)
		os.Exit(1)
	}

	cipherHex, ivHex, err := box.Encrypt(*password)
	if err != nil {
		slog.Error("failed to encrypt password", "error", err)
		os.Exit(1)
	}

	acc := &store.SessionAccount{
		FirstName:   *firstName,
		Phone:       *phone,
		SessionName: *sessionName,
		Password:    cipherHex,
		PasswordIV:  ivHex,
	}
	if err := db.SaveAccount(ctx, acc); err != nil {
		slog.Error("failed to save account", "error", err)
		os.Exit(1)
	}
	slog.Info("account enrolled", "id", acc.ID, "phone", acc.Phone, "session", acc.SessionName)
}
