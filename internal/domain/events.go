package domain

// EventKind перечисляет виды входящих сообщений.
// Вид определяется один раз на апдейт, дальше обработчик ветвится по тегу.
type EventKind int

const (
	// EventOther — сообщение вне зоны интереса бота.
	EventOther EventKind = iota
	// EventPrivate — личное сообщение боту (первый контакт, команды).
	EventPrivate
	// EventJournal — сообщение в журнальном чате пользователя.
	EventJournal
	// EventShared — сообщение в общем чате (команда /ask).
	EventShared
)

// MessageEvent описывает входящее сообщение после классификации.
type MessageEvent struct {
	Kind     EventKind
	TGUserID int64
	Username string
	TGMsgID  int64
	ChatID   int64
	Text     string
}

// ClassifyChat возвращает вид события по идентичности чата.
// Журнальность чата определяется привязкой в хранилище, а не именем.
func ClassifyChat(chatID, sharedChatID int64, isPrivate, isJournal bool) EventKind {
	switch {
	case isPrivate:
		return EventPrivate
	case chatID == sharedChatID:
		return EventShared
	case isJournal:
		return EventJournal
	default:
		return EventOther
	}
}
