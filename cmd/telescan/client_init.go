//go:build mtproto

package main

import (
	"errors"
	"log/slog"

	"github.com/avykov/telescan/internal/config"
	"github.com/avykov/telescan/internal/telegram"
	"github.com/avykov/telescan/internal/telegram/mtproto"
)

func newClientFactory(cfg config.Config, logger *slog.Logger) (telegram.Factory, error) {
	if cfg.AppID == 0 || cfg.AppHash == "" {
		return nil, errors.New("TG_APP_ID and TG_APP_HASH are required")
	}
	return mtproto.NewFactory(cfg.AppID, cfg.AppHash, cfg.SessionsDir, logger), nil
}
