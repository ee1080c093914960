package inquiry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"tg-journal-bot/internal/domain"
	"tg-journal-bot/internal/infra/metrics"
)

// ErrNoAccess возвращается, когда спрашивающий не набрал суточную норму.
var ErrNoAccess = errors.New("суточная норма слов не набрана")

// ErrNoEntries возвращается, когда за сегодня ещё нет ни одной записи.
var ErrNoEntries = errors.New("за сегодня нет записей")

// ErrEmptyQuestion возвращается на пустой вопрос.
var ErrEmptyQuestion = errors.New("вопрос пуст")

// Service отвечает на вопросы по сегодняшним записям сообщества.
// Доступ к команде привязан к той же элигибельности, что и общий чат.
type Service struct {
	users     domain.UserRepo
	entries   domain.EntryRepo
	stats     domain.StatsRepo
	completer domain.Completer
	loc       *time.Location
	now       func() time.Time
}

// NewService создаёт сервис вопросов по журналам.
func NewService(users domain.UserRepo, entries domain.EntryRepo, stats domain.StatsRepo, completer domain.Completer, loc *time.Location) *Service {
	return &Service{users: users, entries: entries, stats: stats, completer: completer, loc: loc, now: time.Now}
}

// Ask проверяет элигибельность спрашивающего, собирает сегодняшние записи
// всех участников и передаёт их модели вместе с вопросом. Без доступа запрос
// до модели не доходит.
func (s *Service) Ask(ctx context.Context, tgUserID int64, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	user, err := s.users.GetByTGID(ctx, tgUserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		metrics.ObserveInquiry("no_access")
		return "", ErrNoAccess
	}
	if err != nil {
		metrics.ObserveInquiry("error")
		return "", fmt.Errorf("чтение пользователя: %w", err)
	}

	from, to := domain.DayBounds(s.now(), s.loc)
	stats, found, err := s.stats.GetDailyStats(ctx, user.ID, from)
	if err != nil {
		metrics.ObserveInquiry("error")
		return "", fmt.Errorf("чтение итога дня: %w", err)
	}
	if !found || !stats.HasAccess {
		metrics.ObserveInquiry("no_access")
		return "", ErrNoAccess
	}

	entries, err := s.entries.ListEntriesBetween(ctx, from, to)
	if err != nil {
		metrics.ObserveInquiry("error")
		return "", fmt.Errorf("записи за день: %w", err)
	}
	if len(entries) == 0 {
		metrics.ObserveInquiry("no_entries")
		return "", ErrNoEntries
	}

	answer, err := s.completer.Complete(ctx, buildPrompt(entries, question))
	if err != nil {
		metrics.ObserveInquiry("error")
		return "", fmt.Errorf("запрос к модели: %w", err)
	}

	metrics.ObserveInquiry("ok")
	return answer, nil
}

// buildPrompt группирует записи по авторам, внутри автора — хронологически,
// и приклеивает вопрос в конце.
func buildPrompt(entries []domain.JournalEntry, question string) string {
	byUser := make(map[int64][]domain.JournalEntry)
	var order []int64
	for _, entry := range entries {
		if _, ok := byUser[entry.UserID]; !ok {
			order = append(order, entry.UserID)
		}
		byUser[entry.UserID] = append(byUser[entry.UserID], entry)
	}

	var blocks []string
	for _, userID := range order {
		userEntries := byUser[userID]
		sort.SliceStable(userEntries, func(i, j int) bool {
			return userEntries[i].CreatedAt.Before(userEntries[j].CreatedAt)
		})

		var b strings.Builder
		b.WriteString("Записи автора ")
		if name := userEntries[0].Username; name != "" {
			b.WriteString("@" + name)
		} else {
			fmt.Fprintf(&b, "#%d", userID)
		}
		b.WriteString(":\n")
		for _, entry := range userEntries {
			b.WriteString(entry.Content)
			b.WriteString("\n")
		}
		blocks = append(blocks, strings.TrimRight(b.String(), "\n"))
	}

	return strings.Join(blocks, "\n\n---\n\n") + "\n\nВопрос: " + question
}
