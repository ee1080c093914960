package domain

import (
	"strings"
	"time"
)

// User описывает участника журналинга.
type User struct {
	ID            int64
	TGUserID      int64
	Username      string
	JournalChatID *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasJournalChat сообщает, привязан ли к пользователю журнальный чат.
func (u User) HasJournalChat() bool {
	return u.JournalChatID != nil && *u.JournalChatID != 0
}

// JournalEntry представляет одно сохранённое сообщение журнала.
// Записи неизменяемы: после вставки они не редактируются и не удаляются.
type JournalEntry struct {
	ID        int64
	UserID    int64
	TGUserID  int64
	TGMsgID   int64
	ChatID    int64
	Username  string
	Content   string
	WordCount int
	CreatedAt time.Time
}

// DailyStats хранит производный суточный итог пользователя.
// TotalWords всегда равен сумме word_count записей пользователя за день:
// это кэш чистой функции над JournalEntry, а не независимый счётчик.
type DailyStats struct {
	UserID      int64
	TGUserID    int64
	Date        time.Time
	TotalWords  int
	HasAccess   bool
	LastUpdated time.Time
}

// DayStart возвращает начало календарного дня момента t в зоне loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// DayBounds возвращает границы календарного дня [start, end) для момента t в зоне loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	start := DayStart(t, loc)
	return start, start.AddDate(0, 0, 1)
}

// CountWords считает слова по пробельным разделителям.
func CountWords(content string) int {
	return len(strings.Fields(content))
}
