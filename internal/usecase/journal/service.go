package journal

import (
	"context"
	"fmt"
	"time"

	"tg-journal-bot/internal/domain"
	"tg-journal-bot/internal/infra/metrics"
)

// Service реализует учёт журнальных записей и пересчёт суточных итогов.
type Service struct {
	entries   domain.EntryRepo
	stats     domain.StatsRepo
	threshold int
	loc       *time.Location
	now       func() time.Time
}

// NewService создаёт сервис журналинга. threshold — суточная норма слов.
func NewService(entries domain.EntryRepo, stats domain.StatsRepo, threshold int, loc *time.Location) *Service {
	return &Service{entries: entries, stats: stats, threshold: threshold, loc: loc, now: time.Now}
}

// Threshold возвращает суточную норму слов.
func (s *Service) Threshold() int { return s.threshold }

// Location возвращает зону, в которой считаются календарные дни.
func (s *Service) Location() *time.Location { return s.loc }

// RecordResult описывает исход записи одного сообщения.
type RecordResult struct {
	// Stats — суточный итог пользователя после записи.
	Stats domain.DailyStats
	// Recorded false, если сообщение пропущено (пустое, чужое, дубль).
	Recorded bool
	// Words — число слов в записанном сообщении.
	Words int
	// CrossedThreshold true, если именно это сообщение добрало норму.
	CrossedThreshold bool
}

// RecordMessage сохраняет сообщение журнального чата и пересчитывает итог дня.
// Сообщения не от владельца чата, пустые по словам и уже сохранённые дубли
// пропускаются без изменения итога.
func (s *Service) RecordMessage(ctx context.Context, user domain.User, event domain.MessageEvent) (RecordResult, error) {
	if event.TGUserID != user.TGUserID {
		return RecordResult{}, nil
	}

	// Пустое по словам сообщение не трогает ни записи, ни итог дня.
	words := domain.CountWords(event.Text)
	if words == 0 {
		return RecordResult{}, nil
	}

	inserted, err := s.entries.SaveEntry(ctx, domain.JournalEntry{
		UserID:    user.ID,
		TGUserID:  user.TGUserID,
		TGMsgID:   event.TGMsgID,
		ChatID:    event.ChatID,
		Username:  event.Username,
		Content:   event.Text,
		WordCount: words,
	})
	if err != nil {
		return RecordResult{}, fmt.Errorf("сохранение записи: %w", err)
	}

	stats, err := s.Recompute(ctx, user, s.now())
	if err != nil {
		return RecordResult{}, err
	}
	if !inserted {
		return RecordResult{Stats: stats}, nil
	}

	metrics.ObserveEntry(words)
	return RecordResult{
		Stats:            stats,
		Recorded:         true,
		Words:            words,
		CrossedThreshold: stats.TotalWords >= s.threshold && stats.TotalWords-words < s.threshold,
	}, nil
}

// Recompute пересчитывает суточный итог пользователя за день момента at.
// Итог всегда выводится заново из записей, а не инкрементится: повторный
// пересчёт по тем же записям даёт тот же результат.
func (s *Service) Recompute(ctx context.Context, user domain.User, at time.Time) (domain.DailyStats, error) {
	from, to := domain.DayBounds(at, s.loc)

	entries, err := s.entries.ListUserEntriesBetween(ctx, user.ID, from, to)
	if err != nil {
		return domain.DailyStats{}, fmt.Errorf("записи за день: %w", err)
	}

	total := 0
	for _, entry := range entries {
		total += entry.WordCount
	}

	stats, err := s.stats.UpsertDailyStats(ctx, domain.DailyStats{
		UserID:      user.ID,
		TGUserID:    user.TGUserID,
		Date:        from,
		TotalWords:  total,
		HasAccess:   total >= s.threshold,
		LastUpdated: s.now().UTC(),
	})
	if err != nil {
		return domain.DailyStats{}, fmt.Errorf("сохранение итога дня: %w", err)
	}
	return stats, nil
}
