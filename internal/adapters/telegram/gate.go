package telegram

import (
	"context"
	"errors"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-journal-bot/internal/domain"
	"tg-journal-bot/internal/infra/metrics"
)

// Gate управляет персональным разрешением писать в общий чат.
// Разрешение реализовано как per-member overwrite: Grant снимает дефолтное
// ограничение чата для участника, Revoke возвращает его. Оба вызова
// идемпотентны на стороне Telegram.
type Gate struct {
	bot          *tgbotapi.BotAPI
	sharedChatID int64
	log          zerolog.Logger
}

var _ domain.AccessGate = (*Gate)(nil)

// NewGate создаёт гейт для общего чата.
func NewGate(bot *tgbotapi.BotAPI, sharedChatID int64, log zerolog.Logger) *Gate {
	return &Gate{bot: bot, sharedChatID: sharedChatID, log: log}
}

// Grant выдаёт участнику право писать в общий чат.
func (g *Gate) Grant(ctx context.Context, tgUserID int64) error {
	allowed := true
	return g.restrict(ctx, tgUserID, "grant", &tgbotapi.ChatPermissions{
		CanSendMessages:       allowed,
		CanSendMediaMessages:  allowed,
		CanSendOtherMessages:  allowed,
		CanAddWebPagePreviews: allowed,
	})
}

// Revoke возвращает участника к дефолтному ограничению общего чата.
func (g *Gate) Revoke(ctx context.Context, tgUserID int64) error {
	return g.restrict(ctx, tgUserID, "revoke", &tgbotapi.ChatPermissions{})
}

func (g *Gate) restrict(ctx context.Context, tgUserID int64, operation string, permissions *tgbotapi.ChatPermissions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	cfg := tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: g.sharedChatID,
			UserID: tgUserID,
		},
		Permissions: permissions,
	}
	_, err := g.bot.Request(cfg)
	metrics.ObserveNetworkRequest("access_gate", operation, strconv.FormatInt(g.sharedChatID, 10), start, err)
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == 400 || apiErr.Code == 403) {
			g.log.Warn().
				Err(err).
				Int64("tg_user_id", tgUserID).
				Str("operation", operation).
				Msg("участник недоступен, разрешение не изменено")
			return domain.ErrMemberUnavailable
		}
		return err
	}

	if operation == "grant" {
		metrics.AccessGranted.Inc()
	} else {
		metrics.AccessRevoked.Inc()
	}
	return nil
}
