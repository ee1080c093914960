package journal

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"tg-journal-bot/internal/domain"
)

// Фиксированные часы: и сервис, и заглушки штампуют одно и то же время,
// чтобы записи попадали в окно пересчёта дня.
var testClock = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

type stubEntryRepo struct {
	entries []domain.JournalEntry
	nextID  int64
	saveErr error
}

func (s *stubEntryRepo) SaveEntry(ctx context.Context, entry domain.JournalEntry) (bool, error) {
	if s.saveErr != nil {
		return false, s.saveErr
	}
	for _, existing := range s.entries {
		if existing.ChatID == entry.ChatID && existing.TGMsgID == entry.TGMsgID {
			return false, nil
		}
	}
	s.nextID++
	entry.ID = s.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = testClock
	}
	s.entries = append(s.entries, entry)
	return true, nil
}

func (s *stubEntryRepo) ListUserEntriesBetween(ctx context.Context, userID int64, from, to time.Time) ([]domain.JournalEntry, error) {
	var out []domain.JournalEntry
	for _, entry := range s.entries {
		if entry.UserID != userID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *stubEntryRepo) ListEntriesBetween(ctx context.Context, from, to time.Time) ([]domain.JournalEntry, error) {
	var out []domain.JournalEntry
	for _, entry := range s.entries {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

type stubStatsRepo struct {
	stats map[string]domain.DailyStats
}

func newStubStatsRepo() *stubStatsRepo {
	return &stubStatsRepo{stats: map[string]domain.DailyStats{}}
}

func statsKey(userID int64, date time.Time) string {
	return fmt.Sprintf("%d/%s", userID, date.Format("2006-01-02"))
}

func (s *stubStatsRepo) UpsertDailyStats(ctx context.Context, stats domain.DailyStats) (domain.DailyStats, error) {
	key := statsKey(stats.UserID, stats.Date)
	if existing, ok := s.stats[key]; ok {
		stats.HasAccess = stats.HasAccess || existing.HasAccess
	}
	s.stats[key] = stats
	return stats, nil
}

func (s *stubStatsRepo) GetDailyStats(ctx context.Context, userID int64, date time.Time) (domain.DailyStats, bool, error) {
	stats, ok := s.stats[statsKey(userID, date)]
	return stats, ok, nil
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("слово ", n))
}

func newTestService(entries *stubEntryRepo, stats *stubStatsRepo) *Service {
	svc := NewService(entries, stats, 500, time.UTC)
	svc.now = func() time.Time { return testClock }
	return svc
}

func TestRecordMessageAccumulatesWords(t *testing.T) {
	entries := &stubEntryRepo{}
	svc := newTestService(entries, newStubStatsRepo())
	user := domain.User{ID: 1, TGUserID: 100}

	first, err := svc.RecordMessage(context.Background(), user, domain.MessageEvent{
		TGUserID: 100, TGMsgID: 1, ChatID: -5, Text: words(480),
	})
	if err != nil {
		t.Fatalf("первая запись: %v", err)
	}
	if !first.Recorded || first.Words != 480 {
		t.Fatalf("ожидалась запись 480 слов, получено %+v", first)
	}
	if first.Stats.HasAccess || first.CrossedThreshold {
		t.Fatalf("480 слов не должны давать доступ: %+v", first)
	}

	second, err := svc.RecordMessage(context.Background(), user, domain.MessageEvent{
		TGUserID: 100, TGMsgID: 2, ChatID: -5, Text: words(30),
	})
	if err != nil {
		t.Fatalf("вторая запись: %v", err)
	}
	if second.Stats.TotalWords != 510 {
		t.Fatalf("ожидалось 510 слов суммарно, получено %d", second.Stats.TotalWords)
	}
	if !second.Stats.HasAccess || !second.CrossedThreshold {
		t.Fatalf("вторая запись должна пересекать порог: %+v", second)
	}
}

func TestRecordMessageSkipsDuplicates(t *testing.T) {
	entries := &stubEntryRepo{}
	svc := newTestService(entries, newStubStatsRepo())
	user := domain.User{ID: 1, TGUserID: 100}
	event := domain.MessageEvent{TGUserID: 100, TGMsgID: 7, ChatID: -5, Text: words(50)}

	if _, err := svc.RecordMessage(context.Background(), user, event); err != nil {
		t.Fatalf("первая доставка: %v", err)
	}
	repeat, err := svc.RecordMessage(context.Background(), user, event)
	if err != nil {
		t.Fatalf("повторная доставка: %v", err)
	}
	if repeat.Recorded {
		t.Fatalf("дубль не должен записываться")
	}
	if repeat.Stats.TotalWords != 50 {
		t.Fatalf("итог не должен меняться от дубля, получено %d", repeat.Stats.TotalWords)
	}
}

func TestRecordMessageIgnoresEmptyAndForeign(t *testing.T) {
	entries := &stubEntryRepo{}
	stats := newStubStatsRepo()
	svc := newTestService(entries, stats)
	user := domain.User{ID: 1, TGUserID: 100}

	empty, err := svc.RecordMessage(context.Background(), user, domain.MessageEvent{
		TGUserID: 100, TGMsgID: 1, ChatID: -5, Text: "   \n\t ",
	})
	if err != nil {
		t.Fatalf("пустое сообщение: %v", err)
	}
	if empty.Recorded || len(entries.entries) != 0 {
		t.Fatalf("пустое сообщение не должно записываться")
	}
	if len(stats.stats) != 0 {
		t.Fatalf("пустое сообщение не должно трогать итог дня: %+v", stats.stats)
	}

	foreign, err := svc.RecordMessage(context.Background(), user, domain.MessageEvent{
		TGUserID: 200, TGMsgID: 2, ChatID: -5, Text: words(10),
	})
	if err != nil {
		t.Fatalf("чужое сообщение: %v", err)
	}
	if foreign.Recorded || len(entries.entries) != 0 {
		t.Fatalf("чужое сообщение не должно записываться")
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	entries := &stubEntryRepo{}
	stats := newStubStatsRepo()
	svc := newTestService(entries, stats)
	user := domain.User{ID: 1, TGUserID: 100}

	if _, err := svc.RecordMessage(context.Background(), user, domain.MessageEvent{
		TGUserID: 100, TGMsgID: 1, ChatID: -5, Text: words(600),
	}); err != nil {
		t.Fatalf("запись: %v", err)
	}

	first, err := svc.Recompute(context.Background(), user, svc.now())
	if err != nil {
		t.Fatalf("первый пересчёт: %v", err)
	}
	second, err := svc.Recompute(context.Background(), user, svc.now())
	if err != nil {
		t.Fatalf("второй пересчёт: %v", err)
	}
	if first.TotalWords != second.TotalWords || first.HasAccess != second.HasAccess {
		t.Fatalf("пересчёт не идемпотентен: %+v против %+v", first, second)
	}
	if second.TotalWords != 600 || !second.HasAccess {
		t.Fatalf("ожидалось 600 слов и доступ, получено %+v", second)
	}
}
