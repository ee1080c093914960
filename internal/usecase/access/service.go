package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-journal-bot/internal/domain"
	"tg-journal-bot/internal/infra/metrics"
)

// Recomputer пересчитывает суточный итог пользователя из записей.
type Recomputer interface {
	Recompute(ctx context.Context, user domain.User, at time.Time) (domain.DailyStats, error)
}

// Service сводит фактические разрешения общего чата к вычисленной
// элигибельности. Переживает потерянные события: периодическая сверка
// пересчитывает всех пользователей и досылает недостающие изменения.
type Service struct {
	users      domain.UserRepo
	recomputer Recomputer
	gate       domain.AccessGate
	cache      domain.Cache
	loc        *time.Location
	log        zerolog.Logger
	now        func() time.Time
}

// NewService создаёт сервис сверки доступа.
func NewService(users domain.UserRepo, recomputer Recomputer, gate domain.AccessGate, cache domain.Cache, loc *time.Location, log zerolog.Logger) *Service {
	return &Service{users: users, recomputer: recomputer, gate: gate, cache: cache, loc: loc, log: log, now: time.Now}
}

// ReconcileUser пересчитывает итог пользователя и приводит его разрешение в
// общем чате к вычисленному состоянию. Недоступность участника в чате не
// считается сбоем: разрешение досведётся, когда он вернётся.
func (s *Service) ReconcileUser(ctx context.Context, tgUserID int64, at time.Time) error {
	user, err := s.users.GetByTGID(ctx, tgUserID)
	if err != nil {
		return fmt.Errorf("чтение пользователя: %w", err)
	}

	stats, err := s.recomputer.Recompute(ctx, user, at)
	if err != nil {
		return fmt.Errorf("пересчёт итога: %w", err)
	}

	if stats.HasAccess {
		err = s.gate.Grant(ctx, user.TGUserID)
	} else {
		err = s.gate.Revoke(ctx, user.TGUserID)
	}
	if errors.Is(err, domain.ErrMemberUnavailable) {
		s.log.Warn().Int64("tg_user_id", user.TGUserID).Bool("has_access", stats.HasAccess).
			Msg("участник недоступен, разрешение не применено")
		return nil
	}
	if err != nil {
		return fmt.Errorf("применение разрешения: %w", err)
	}
	return nil
}

// ReconcileAll прогоняет сверку по всем пользователям с журнальными чатами.
// Сбой одного пользователя логируется и не прерывает проход.
func (s *Service) ReconcileAll(ctx context.Context, at time.Time) error {
	users, err := s.users.ListWithJournalChat(ctx)
	if err != nil {
		return fmt.Errorf("список пользователей: %w", err)
	}

	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.ReconcileUser(ctx, user.TGUserID, at); err != nil {
			metrics.ReconcileUserErrors.Inc()
			s.log.Error().Err(err).Int64("tg_user_id", user.TGUserID).Msg("сверка пользователя не удалась")
		}
	}

	metrics.ReconcileSweeps.Inc()
	return nil
}

// EnsureDailyReset один раз в календарный день отзывает доступ у всех.
// Замок в Redis не даёт нескольким экземплярам повторить сброс; TTL в 48 часов
// переживает день целиком и освобождает ключ следующим днём.
func (s *Service) EnsureDailyReset(ctx context.Context, at time.Time) error {
	day := domain.DayStart(at, s.loc)
	key := "access:daily_reset:" + day.Format("2006-01-02")

	return s.cache.Once(key, 48*time.Hour, func() error {
		users, err := s.users.ListWithJournalChat(ctx)
		if err != nil {
			return fmt.Errorf("список пользователей: %w", err)
		}
		for _, user := range users {
			err := s.gate.Revoke(ctx, user.TGUserID)
			if err != nil && !errors.Is(err, domain.ErrMemberUnavailable) {
				// Сброс должен дойти до каждого: лучше повторить весь
				// проход следующим тиком, чем оставить доступ на сутки.
				return fmt.Errorf("отзыв доступа %d: %w", user.TGUserID, err)
			}
		}
		metrics.DailyResets.Inc()
		s.log.Info().Str("day", day.Format("2006-01-02")).Int("users", len(users)).
			Msg("суточный сброс доступа выполнен")
		return nil
	})
}

// Run крутит периодическую сверку до отмены контекста. Каждый тик сначала
// выполняется суточный сброс (если день сменился), затем полная сверка.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	at := s.now()
	if err := s.EnsureDailyReset(ctx, at); err != nil {
		s.log.Error().Err(err).Msg("суточный сброс не удался")
	}
	if err := s.ReconcileAll(ctx, at); err != nil {
		s.log.Error().Err(err).Msg("полная сверка не удалась")
	}
}
