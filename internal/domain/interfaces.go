package domain

import (
	"context"
	"errors"
	"time"
)

// ErrMemberUnavailable возвращается гейтом, когда участник недоступен в общем
// чате (вышел, забанен) или у бота нет прав менять его разрешения. Такие
// ошибки логируются и не считаются сбоем сверки.
var ErrMemberUnavailable = errors.New("участник недоступен в общем чате")

// ErrUserNotFound возвращается репозиторием, когда пользователь отсутствует.
// Вызывающий код отличает по нему «нет такого пользователя» от сбоя хранилища.
var ErrUserNotFound = errors.New("пользователь не найден")

// TelegramProfile содержит идентичность автора входящего сообщения.
type TelegramProfile struct {
	TGUserID int64
	Username string
}

// UserRepo управляет пользователями и привязкой журнальных чатов.
type UserRepo interface {
	UpsertByTGID(ctx context.Context, profile TelegramProfile) (User, error)
	GetByTGID(ctx context.Context, tgUserID int64) (User, error)
	GetByJournalChat(ctx context.Context, chatID int64) (User, error)
	// BindJournalChat выставляет journal_chat_id только если он сейчас NULL
	// и возвращает true при успехе. False означает проигрыш гонки.
	BindJournalChat(ctx context.Context, userID, chatID int64) (bool, error)
	ClearJournalChat(ctx context.Context, userID int64) error
	ListWithJournalChat(ctx context.Context) ([]User, error)
}

// EntryRepo управляет журнальными записями.
type EntryRepo interface {
	// SaveEntry вставляет запись и возвращает false, если сообщение
	// с таким (chat_id, tg_msg_id) уже было сохранено.
	SaveEntry(ctx context.Context, entry JournalEntry) (bool, error)
	ListUserEntriesBetween(ctx context.Context, userID int64, from, to time.Time) ([]JournalEntry, error)
	ListEntriesBetween(ctx context.Context, from, to time.Time) ([]JournalEntry, error)
}

// StatsRepo управляет суточными итогами.
type StatsRepo interface {
	UpsertDailyStats(ctx context.Context, stats DailyStats) (DailyStats, error)
	// GetDailyStats возвращает found=false, если строки за дату ещё нет.
	GetDailyStats(ctx context.Context, userID int64, date time.Time) (DailyStats, bool, error)
}

// JournalChat описывает созданный приватный чат-журнал.
type JournalChat struct {
	// ChatID в формате Bot API (отрицательный идентификатор супергруппы).
	ChatID int64
	// InviteLink — персональная ссылка, по которой пользователь входит в чат.
	InviteLink string
}

// ChatAdmin создаёт и удаляет приватные журнальные чаты через рабочий аккаунт.
type ChatAdmin interface {
	CreateJournalChat(ctx context.Context, title string) (JournalChat, error)
	DeleteChat(ctx context.Context, chatID int64) error
	// ChatExists проверяет, что чат ещё существует и доступен.
	ChatExists(ctx context.Context, chatID int64) (bool, error)
	// FindChatByTitle ищет существующий чат с ожидаемым именем; found=false,
	// если такого нет.
	FindChatByTitle(ctx context.Context, title string) (JournalChat, bool, error)
	// InviteLink выпускает свежую инвайт-ссылку для существующего чата.
	InviteLink(ctx context.Context, chatID int64) (string, error)
}

// AccessGate управляет персональным разрешением в общем чате.
// Grant и Revoke идемпотентны: повторный вызов оставляет то же состояние.
type AccessGate interface {
	Grant(ctx context.Context, tgUserID int64) error
	Revoke(ctx context.Context, tgUserID int64) error
}

// Completer выполняет один текстовый запрос к LLM.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
