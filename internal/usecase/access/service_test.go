package access

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-journal-bot/internal/domain"
)

type stubUserRepo struct {
	users []domain.User
}

func (s *stubUserRepo) UpsertByTGID(ctx context.Context, profile domain.TelegramProfile) (domain.User, error) {
	return domain.User{}, errors.New("не используется")
}

func (s *stubUserRepo) GetByTGID(ctx context.Context, tgUserID int64) (domain.User, error) {
	for _, user := range s.users {
		if user.TGUserID == tgUserID {
			return user, nil
		}
	}
	return domain.User{}, fmt.Errorf("пользователь %d не найден", tgUserID)
}

func (s *stubUserRepo) GetByJournalChat(ctx context.Context, chatID int64) (domain.User, error) {
	return domain.User{}, errors.New("не используется")
}

func (s *stubUserRepo) BindJournalChat(ctx context.Context, userID, chatID int64) (bool, error) {
	return false, errors.New("не используется")
}

func (s *stubUserRepo) ClearJournalChat(ctx context.Context, userID int64) error {
	return errors.New("не используется")
}

func (s *stubUserRepo) ListWithJournalChat(ctx context.Context) ([]domain.User, error) {
	return s.users, nil
}

type stubRecomputer struct {
	totals map[int64]int
	fails  map[int64]bool
}

func (s *stubRecomputer) Recompute(ctx context.Context, user domain.User, at time.Time) (domain.DailyStats, error) {
	if s.fails[user.TGUserID] {
		return domain.DailyStats{}, errors.New("пересчёт сломан")
	}
	total := s.totals[user.TGUserID]
	return domain.DailyStats{
		UserID:     user.ID,
		TGUserID:   user.TGUserID,
		TotalWords: total,
		HasAccess:  total >= 500,
	}, nil
}

type stubGate struct {
	state       map[int64]bool
	grants      int
	revokes     int
	unavailable map[int64]bool
	failNext    bool
}

func newStubGate() *stubGate {
	return &stubGate{state: map[int64]bool{}, unavailable: map[int64]bool{}}
}

func (s *stubGate) Grant(ctx context.Context, tgUserID int64) error {
	if s.unavailable[tgUserID] {
		return domain.ErrMemberUnavailable
	}
	s.grants++
	s.state[tgUserID] = true
	return nil
}

func (s *stubGate) Revoke(ctx context.Context, tgUserID int64) error {
	if s.failNext {
		s.failNext = false
		return errors.New("телеграм недоступен")
	}
	if s.unavailable[tgUserID] {
		return domain.ErrMemberUnavailable
	}
	s.revokes++
	s.state[tgUserID] = false
	return nil
}

type stubCache struct {
	fired map[string]bool
}

func newStubCache() *stubCache {
	return &stubCache{fired: map[string]bool{}}
}

func (s *stubCache) Once(key string, ttl time.Duration, fn func() error) error {
	if s.fired[key] {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	s.fired[key] = true
	return nil
}

func (s *stubCache) Set(key string, value []byte, ttl time.Duration) error { return nil }

func (s *stubCache) Get(key string) ([]byte, error) { return nil, errors.New("пусто") }

func journalUser(id, tgID int64) domain.User {
	chatID := -1000 - id
	return domain.User{ID: id, TGUserID: tgID, JournalChatID: &chatID}
}

func newTestService(users *stubUserRepo, rec *stubRecomputer, gate *stubGate, cache *stubCache) *Service {
	return NewService(users, rec, gate, cache, time.UTC, zerolog.Nop())
}

func TestReconcileUserAppliesComputedState(t *testing.T) {
	users := &stubUserRepo{users: []domain.User{journalUser(1, 100), journalUser(2, 200)}}
	rec := &stubRecomputer{totals: map[int64]int{100: 620, 200: 120}}
	gate := newStubGate()
	svc := newTestService(users, rec, gate, newStubCache())

	if err := svc.ReconcileUser(context.Background(), 100, time.Now()); err != nil {
		t.Fatalf("сверка достигшего нормы: %v", err)
	}
	if err := svc.ReconcileUser(context.Background(), 200, time.Now()); err != nil {
		t.Fatalf("сверка не достигшего нормы: %v", err)
	}

	if !gate.state[100] {
		t.Fatalf("пользователь 100 должен получить доступ")
	}
	if gate.state[200] {
		t.Fatalf("пользователь 200 не должен иметь доступ")
	}
}

func TestReconcileUserSkipsUnavailableMember(t *testing.T) {
	users := &stubUserRepo{users: []domain.User{journalUser(1, 100)}}
	rec := &stubRecomputer{totals: map[int64]int{100: 620}}
	gate := newStubGate()
	gate.unavailable[100] = true
	svc := newTestService(users, rec, gate, newStubCache())

	if err := svc.ReconcileUser(context.Background(), 100, time.Now()); err != nil {
		t.Fatalf("недоступный участник не должен ломать сверку: %v", err)
	}
	if gate.grants != 0 {
		t.Fatalf("доступ не должен был примениться")
	}
}

func TestReconcileAllContinuesOnFailure(t *testing.T) {
	users := &stubUserRepo{users: []domain.User{journalUser(1, 100), journalUser(2, 200), journalUser(3, 300)}}
	rec := &stubRecomputer{
		totals: map[int64]int{100: 620, 300: 700},
		fails:  map[int64]bool{200: true},
	}
	gate := newStubGate()
	svc := newTestService(users, rec, gate, newStubCache())

	if err := svc.ReconcileAll(context.Background(), time.Now()); err != nil {
		t.Fatalf("сбой одного пользователя не должен прерывать проход: %v", err)
	}
	if !gate.state[100] || !gate.state[300] {
		t.Fatalf("остальные пользователи должны быть сведены: %+v", gate.state)
	}
}

func TestReconcileAllConverges(t *testing.T) {
	users := &stubUserRepo{users: []domain.User{journalUser(1, 100), journalUser(2, 200)}}
	rec := &stubRecomputer{totals: map[int64]int{100: 620, 200: 120}}
	gate := newStubGate()
	// Стартуем с дрейфом: разрешения противоположны элигибельности.
	gate.state[100] = false
	gate.state[200] = true
	svc := newTestService(users, rec, gate, newStubCache())

	if err := svc.ReconcileAll(context.Background(), time.Now()); err != nil {
		t.Fatalf("первый проход: %v", err)
	}
	want := map[int64]bool{100: true, 200: false}
	for tgID, expected := range want {
		if gate.state[tgID] != expected {
			t.Fatalf("после первого прохода %d: %v, ожидалось %v", tgID, gate.state[tgID], expected)
		}
	}

	if err := svc.ReconcileAll(context.Background(), time.Now()); err != nil {
		t.Fatalf("второй проход: %v", err)
	}
	for tgID, expected := range want {
		if gate.state[tgID] != expected {
			t.Fatalf("второй проход изменил состояние %d", tgID)
		}
	}
}

func TestDailyResetRunsOncePerDay(t *testing.T) {
	users := &stubUserRepo{users: []domain.User{journalUser(1, 100), journalUser(2, 200)}}
	gate := newStubGate()
	gate.state[100] = true
	gate.state[200] = true
	svc := newTestService(users, &stubRecomputer{}, gate, newStubCache())

	day := time.Date(2024, 3, 15, 0, 5, 0, 0, time.UTC)
	if err := svc.EnsureDailyReset(context.Background(), day); err != nil {
		t.Fatalf("первый сброс: %v", err)
	}
	if gate.revokes != 2 {
		t.Fatalf("ожидалось 2 отзыва, было %d", gate.revokes)
	}

	if err := svc.EnsureDailyReset(context.Background(), day.Add(3*time.Hour)); err != nil {
		t.Fatalf("повторный сброс того же дня: %v", err)
	}
	if gate.revokes != 2 {
		t.Fatalf("повтор в тот же день не должен отзывать снова, было %d", gate.revokes)
	}

	if err := svc.EnsureDailyReset(context.Background(), day.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("сброс следующего дня: %v", err)
	}
	if gate.revokes != 4 {
		t.Fatalf("следующий день должен сбросить заново, было %d отзывов", gate.revokes)
	}
}

func TestDailyResetRetriesAfterFailure(t *testing.T) {
	users := &stubUserRepo{users: []domain.User{journalUser(1, 100)}}
	gate := newStubGate()
	gate.failNext = true
	svc := newTestService(users, &stubRecomputer{}, gate, newStubCache())

	day := time.Date(2024, 3, 15, 0, 5, 0, 0, time.UTC)
	if err := svc.EnsureDailyReset(context.Background(), day); err == nil {
		t.Fatalf("ожидалась ошибка первого сброса")
	}
	if err := svc.EnsureDailyReset(context.Background(), day.Add(time.Minute)); err != nil {
		t.Fatalf("повтор после сбоя: %v", err)
	}
	if gate.revokes != 1 {
		t.Fatalf("повтор должен довести сброс до конца, отзывов %d", gate.revokes)
	}
}
