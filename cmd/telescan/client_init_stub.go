//go:build !mtproto

package main

import (
	"errors"
	"log/slog"

	"github.com/avykov/telescan/internal/config"
	"github.com/avykov/telescan/internal/telegram"
)

// newClientFactory is a stub for builds without an MTProto client.
func newClientFactory(_ config.Config, _ *slog.Logger) (telegram.Factory, error) {
	return nil, errors.New("built without an MTProto client; rebuild with -tags mtproto")
}
