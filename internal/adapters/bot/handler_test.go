package bot

import (
	"context"
	"errors"
	"testing"

	"tg-journal-bot/internal/domain"
	"tg-journal-bot/internal/usecase/journal"
)

type stubUserRepo struct {
	byChat   map[int64]domain.User
	getErr   error
	upserted []domain.TelegramProfile
}

func (s *stubUserRepo) UpsertByTGID(ctx context.Context, profile domain.TelegramProfile) (domain.User, error) {
	s.upserted = append(s.upserted, profile)
	return domain.User{ID: 1, TGUserID: profile.TGUserID, Username: profile.Username}, nil
}

func (s *stubUserRepo) GetByTGID(ctx context.Context, tgUserID int64) (domain.User, error) {
	return domain.User{}, domain.ErrUserNotFound
}

func (s *stubUserRepo) GetByJournalChat(ctx context.Context, chatID int64) (domain.User, error) {
	if s.getErr != nil {
		return domain.User{}, s.getErr
	}
	user, ok := s.byChat[chatID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *stubUserRepo) BindJournalChat(ctx context.Context, userID, chatID int64) (bool, error) {
	return false, nil
}

func (s *stubUserRepo) ClearJournalChat(ctx context.Context, userID int64) error { return nil }

func (s *stubUserRepo) ListWithJournalChat(ctx context.Context) ([]domain.User, error) {
	return nil, nil
}

func TestResolveOwnerDistinguishesMissingFromFailure(t *testing.T) {
	users := &stubUserRepo{byChat: map[int64]domain.User{-100500: {ID: 7, TGUserID: 100}}}
	h := &Handler{users: users}

	owner, isJournal, err := h.resolveOwner(context.Background(), -100500)
	if err != nil || !isJournal || owner.ID != 7 {
		t.Fatalf("привязанный чат: owner=%+v isJournal=%v err=%v", owner, isJournal, err)
	}

	_, isJournal, err = h.resolveOwner(context.Background(), -100999)
	if err != nil || isJournal {
		t.Fatalf("непривязанный чат не должен быть ошибкой: isJournal=%v err=%v", isJournal, err)
	}

	users.getErr = errors.New("соединение с БД потеряно")
	_, _, err = h.resolveOwner(context.Background(), -100500)
	if err == nil {
		t.Fatalf("сбой хранилища должен подниматься наверх")
	}
	if errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("сбой хранилища нельзя сводить к отсутствию пользователя: %v", err)
	}
}

func TestEnsureKnownUpsertsUser(t *testing.T) {
	users := &stubUserRepo{}
	h := &Handler{users: users}

	h.ensureKnown(context.Background(), domain.MessageEvent{TGUserID: 100, Username: "alice"})
	if len(users.upserted) != 1 {
		t.Fatalf("ожидался один апсерт, получено %d", len(users.upserted))
	}
	if users.upserted[0].TGUserID != 100 || users.upserted[0].Username != "alice" {
		t.Fatalf("неожиданный профиль: %+v", users.upserted[0])
	}
}

func TestParseCommand(t *testing.T) {
	command, payload := parseCommand("/ask как прошёл день?")
	if command != "/ask" || payload != "как прошёл день?" {
		t.Fatalf("неожиданный разбор: %q %q", command, payload)
	}

	command, payload = parseCommand("/ask@journal_bot  вопрос ")
	if command != "/ask" || payload != "вопрос" {
		t.Fatalf("упоминание бота должно отбрасываться: %q %q", command, payload)
	}

	command, payload = parseCommand("обычный текст")
	if command != "" || payload != "обычный текст" {
		t.Fatalf("текст без команды: %q %q", command, payload)
	}
}

func TestBuildProgressMessage(t *testing.T) {
	below := buildProgressMessage(journal.RecordResult{
		Words: 120,
		Stats: domain.DailyStats{TotalWords: 320},
	}, 500)
	if below != "Записано 120 слов. Сегодня 320 из 500, осталось 180." {
		t.Fatalf("прогресс до нормы: %q", below)
	}

	crossed := buildProgressMessage(journal.RecordResult{
		Words:            30,
		CrossedThreshold: true,
		Stats:            domain.DailyStats{TotalWords: 510, HasAccess: true},
	}, 500)
	if crossed != "Норма дня набрана: 510 из 500 слов. Доступ в общий чат открывается." {
		t.Fatalf("пересечение порога: %q", crossed)
	}

	after := buildProgressMessage(journal.RecordResult{
		Words: 40,
		Stats: domain.DailyStats{TotalWords: 550, HasAccess: true},
	}, 500)
	if after != "Записано 40 слов. Сегодня уже 550 — норма выполнена." {
		t.Fatalf("после нормы: %q", after)
	}
}
