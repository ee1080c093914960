package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-journal-bot/internal/adapters/telegram"
	"tg-journal-bot/internal/domain"
	"tg-journal-bot/internal/infra/metrics"
	"tg-journal-bot/internal/usecase/inquiry"
	"tg-journal-bot/internal/usecase/journal"
	"tg-journal-bot/internal/usecase/provision"
)

// Handler обслуживает вебхук бота: личные сообщения, журнальные чаты и
// команды общего чата.
type Handler struct {
	bot          *tgbotapi.BotAPI
	log          zerolog.Logger
	sharedChatID int64
	users        domain.UserRepo
	journalUC    *journal.Service
	provisionUC  *provision.Service
	inquiryUC    *inquiry.Service
	grants       domain.GrantQueue
}

// NewHandler создаёт обработчик.
func NewHandler(bot *tgbotapi.BotAPI, log zerolog.Logger, sharedChatID int64, users domain.UserRepo, journalUC *journal.Service, provisionUC *provision.Service, inquiryUC *inquiry.Service, grants domain.GrantQueue) *Handler {
	return &Handler{
		bot:          bot,
		log:          log,
		sharedChatID: sharedChatID,
		users:        users,
		journalUC:    journalUC,
		provisionUC:  provisionUC,
		inquiryUC:    inquiryUC,
		grants:       grants,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil || upd.Message.From == nil || upd.Message.From.IsBot {
		return
	}
	h.handleMessage(ctx, upd.Message)
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	event := domain.MessageEvent{
		TGUserID: msg.From.ID,
		Username: msg.From.UserName,
		TGMsgID:  int64(msg.MessageID),
		ChatID:   msg.Chat.ID,
		Text:     messageText(msg),
	}

	isPrivate := msg.Chat.IsPrivate()
	var owner domain.User
	isJournal := false
	if !isPrivate && msg.Chat.ID != h.sharedChatID {
		var err error
		owner, isJournal, err = h.resolveOwner(ctx, msg.Chat.ID)
		if err != nil {
			h.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("не удалось определить владельца чата")
			h.reply(msg.Chat.ID, "Не удалось сохранить запись. Отправьте её ещё раз.")
			return
		}
	}

	event.Kind = domain.ClassifyChat(msg.Chat.ID, h.sharedChatID, isPrivate, isJournal)
	switch event.Kind {
	case domain.EventPrivate:
		h.handlePrivate(ctx, event)
	case domain.EventShared:
		h.handleShared(ctx, event)
	case domain.EventJournal:
		h.handleJournal(ctx, owner, event)
	default:
		// Чат не привязан ни к одному журналу: не наша зона.
	}
}

// resolveOwner ищет владельца журнального чата. Отсутствие привязки — не
// ошибка: такой чат просто не наш. Сбой хранилища поднимается наверх, чтобы
// сообщение не было молча выброшено.
func (h *Handler) resolveOwner(ctx context.Context, chatID int64) (domain.User, bool, error) {
	owner, err := h.users.GetByJournalChat(ctx, chatID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("поиск владельца чата %d: %w", chatID, err)
	}
	return owner, true, nil
}

func (h *Handler) handlePrivate(ctx context.Context, event domain.MessageEvent) {
	command, _ := parseCommand(event.Text)
	switch command {
	case "/start":
		h.handleStart(ctx, event)
	default:
		// Пользователь регистрируется первым же личным сообщением, даже
		// если журнальный чат ещё не создан.
		h.ensureKnown(ctx, event)
		if command == "/help" {
			h.reply(event.ChatID, h.buildHelpMessage())
			return
		}
		h.reply(event.ChatID, "Записи принимаются в вашем журнальном чате. Отправьте /start, чтобы получить ссылку, или /help для справки.")
	}
}

// ensureKnown создаёт или обновляет пользователя по личному сообщению.
// Провижининг чата здесь не запускается, /start остаётся явным шагом.
func (h *Handler) ensureKnown(ctx context.Context, event domain.MessageEvent) {
	_, err := h.users.UpsertByTGID(ctx, domain.TelegramProfile{TGUserID: event.TGUserID, Username: event.Username})
	if err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", event.TGUserID).Msg("не удалось сохранить пользователя")
	}
}

func (h *Handler) handleStart(ctx context.Context, event domain.MessageEvent) {
	result, err := h.provisionUC.Provision(ctx, domain.TelegramProfile{TGUserID: event.TGUserID, Username: event.Username})
	if err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", event.TGUserID).Msg("провижининг не удался")
		h.reply(event.ChatID, "Не удалось подготовить журнальный чат. Попробуйте позже.")
		return
	}

	if result.Created {
		h.reply(event.ChatID, h.buildWelcomeMessage(result.Chat.InviteLink))
		// Приветствие в свежем журнале: бот уже администратор чата.
		h.reply(result.Chat.ChatID, fmt.Sprintf("Это ваш личный журнал. Пишите сюда; %d слов за день открывают общий чат.", h.journalUC.Threshold()))
		return
	}
	h.reply(event.ChatID, fmt.Sprintf("Ваш журнальный чат уже создан: %s", result.Chat.InviteLink))
}

func (h *Handler) handleJournal(ctx context.Context, owner domain.User, event domain.MessageEvent) {
	result, err := h.journalUC.RecordMessage(ctx, owner, event)
	if err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", event.TGUserID).Msg("запись не сохранена")
		h.reply(event.ChatID, "Не удалось сохранить запись. Отправьте её ещё раз.")
		return
	}
	if !result.Recorded {
		// Пустые сообщения и повторные доставки не комментируем.
		return
	}

	h.reply(event.ChatID, buildProgressMessage(result, h.journalUC.Threshold()))

	if result.Stats.HasAccess {
		h.enqueueGrant(ctx, event.TGUserID, result.Stats.Date)
	}
}

// enqueueGrant ставит задачу на выдачу доступа. Сбой очереди не фатален:
// периодическая сверка выдаст доступ следующим проходом.
func (h *Handler) enqueueGrant(ctx context.Context, tgUserID int64, date time.Time) {
	job := domain.GrantJob{
		ID:          uuid.NewString(),
		UserTGID:    tgUserID,
		Date:        date,
		RequestedAt: time.Now().UTC(),
		Cause:       domain.GrantCauseEntry,
	}
	if err := h.grants.Enqueue(ctx, job); err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Msg("не удалось поставить задачу выдачи доступа")
	}
}

func (h *Handler) handleShared(ctx context.Context, event domain.MessageEvent) {
	command, payload := parseCommand(event.Text)
	if command != "/ask" {
		return
	}

	answer, err := h.inquiryUC.Ask(ctx, event.TGUserID, payload)
	switch {
	case errors.Is(err, inquiry.ErrEmptyQuestion):
		h.reply(event.ChatID, "Использование: /ask <вопрос по сегодняшним записям>")
	case errors.Is(err, inquiry.ErrNoAccess):
		h.reply(event.ChatID, fmt.Sprintf("Команда доступна после %d слов в журнале за сегодня.", h.journalUC.Threshold()))
	case errors.Is(err, inquiry.ErrNoEntries):
		h.reply(event.ChatID, "Сегодня ещё никто ничего не написал — спросить не о чем.")
	case err != nil:
		h.log.Error().Err(err).Int64("tg_user_id", event.TGUserID).Msg("вопрос не обработан")
		h.reply(event.ChatID, "Не удалось получить ответ. Попробуйте позже.")
	default:
		h.reply(event.ChatID, answer)
	}
}

func (h *Handler) reply(chatID int64, text string) {
	for _, part := range telegram.SplitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			h.log.Error().Err(err).Msg("не удалось отправить сообщение")
			return
		}
	}
}

func (h *Handler) buildWelcomeMessage(inviteLink string) string {
	return strings.Join([]string{
		"Добро пожаловать в журнальное сообщество!",
		"",
		fmt.Sprintf("Ваш личный журнальный чат: %s", inviteLink),
		"",
		fmt.Sprintf("Правила простые: пишите в журнал каждый день. Как только за день наберётся %d слов, откроется доступ в общий чат. В полночь счётчик обнуляется.", h.journalUC.Threshold()),
	}, "\n")
}

func (h *Handler) buildHelpMessage() string {
	return strings.Join([]string{
		"/start — получить ссылку на личный журнальный чат",
		"/help — эта справка",
		"",
		fmt.Sprintf("Порог дня: %d слов. Каждое сообщение в журнале засчитывается, бот отвечает текущим прогрессом.", h.journalUC.Threshold()),
		"В общем чате доступна команда /ask — вопрос по сегодняшним записям участников.",
	}, "\n")
}

// messageText возвращает текст сообщения, для медиа — подпись.
func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

// parseCommand выделяет команду и полезную нагрузку. Упоминание бота в
// команде (/ask@journal_bot) отбрасывается.
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	command, payload, _ := strings.Cut(text, " ")
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}
	return command, strings.TrimSpace(payload)
}

// buildProgressMessage собирает ответ на записанное сообщение журнала.
func buildProgressMessage(result journal.RecordResult, threshold int) string {
	if result.CrossedThreshold {
		return fmt.Sprintf("Норма дня набрана: %d из %d слов. Доступ в общий чат открывается.", result.Stats.TotalWords, threshold)
	}
	if result.Stats.HasAccess {
		return fmt.Sprintf("Записано %d слов. Сегодня уже %d — норма выполнена.", result.Words, result.Stats.TotalWords)
	}
	remaining := threshold - result.Stats.TotalWords
	return fmt.Sprintf("Записано %d слов. Сегодня %d из %d, осталось %d.", result.Words, result.Stats.TotalWords, threshold, remaining)
}
