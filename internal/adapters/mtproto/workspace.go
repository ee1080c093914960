package mtproto

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"tg-journal-bot/internal/domain"
	"tg-journal-bot/internal/infra/metrics"
)

// botAPIChannelBase — смещение идентификаторов супергрупп в Bot API.
// MTProto отдаёт положительный channel id, Bot API — -100XXXXXXXXXX.
const botAPIChannelBase int64 = 1000000000000

// ErrChatGone возвращается, когда чат удалён или рабочий аккаунт его не видит.
var ErrChatGone = errors.New("журнальный чат недоступен")

// Workspace управляет журнальными супергруппами от имени рабочего аккаунта.
// Бот-токены не умеют создавать чаты, поэтому создание, удаление и выпуск
// инвайт-ссылок идут через MTProto-сессию обычного аккаунта.
type Workspace struct {
	client      *telegram.Client
	botUsername string
	log         zerolog.Logger
}

var _ domain.ChatAdmin = (*Workspace)(nil)

// NewWorkspace создаёт MTProto клиент рабочего аккаунта. Сессия должна быть
// заранее авторизована и лежать в переданном SessionStorage.
func NewWorkspace(apiID int, apiHash, botUsername string, storage session.Storage, log zerolog.Logger) *Workspace {
	client := telegram.NewClient(apiID, apiHash, telegram.Options{SessionStorage: storage})
	return &Workspace{client: client, botUsername: strings.TrimPrefix(botUsername, "@"), log: log}
}

// run выполняет операцию внутри жизненного цикла клиента.
func (w *Workspace) run(ctx context.Context, operation string, fn func(ctx context.Context, api *tg.Client) error) error {
	start := time.Now()
	err := w.client.Run(ctx, func(ctx context.Context) error {
		status, err := w.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("статус авторизации: %w", err)
		}
		if !status.Authorized {
			return errors.New("mtproto-сессия не авторизована")
		}
		return fn(ctx, w.client.API())
	})
	metrics.ObserveNetworkRequest("workspace", operation, "mtproto", start, err)
	return err
}

// CreateJournalChat создаёт приватную супергруппу, заводит туда бота с правами
// администратора и выпускает инвайт-ссылку для владельца журнала.
func (w *Workspace) CreateJournalChat(ctx context.Context, title string) (domain.JournalChat, error) {
	var chat domain.JournalChat
	err := w.run(ctx, "create_chat", func(ctx context.Context, api *tg.Client) error {
		updates, err := api.ChannelsCreateChannel(ctx, &tg.ChannelsCreateChannelRequest{
			Megagroup: true,
			Title:     title,
			About:     "Личный журнал. Пишите сюда свои записи.",
		})
		if err != nil {
			return fmt.Errorf("создание супергруппы: %w", err)
		}

		channel, err := channelFromUpdates(updates, title)
		if err != nil {
			return err
		}
		input := channel.AsInput()

		if err := w.installBot(ctx, api, input); err != nil {
			// Чат без бота бесполезен: записи в нём никто не увидит.
			if _, delErr := api.ChannelsDeleteChannel(ctx, input); delErr != nil {
				w.log.Error().Err(delErr).Int64("channel_id", channel.ID).
					Msg("не удалось удалить чат после ошибки добавления бота")
			}
			return err
		}

		link, err := exportInvite(ctx, api, input)
		if err != nil {
			return err
		}

		chat = domain.JournalChat{ChatID: toBotAPIChatID(channel.ID), InviteLink: link}
		return nil
	})
	return chat, err
}

// DeleteChat удаляет супергруппу целиком.
func (w *Workspace) DeleteChat(ctx context.Context, chatID int64) error {
	return w.run(ctx, "delete_chat", func(ctx context.Context, api *tg.Client) error {
		input, err := w.resolveChannel(ctx, api, chatID)
		if err != nil {
			if errors.Is(err, ErrChatGone) {
				return nil
			}
			return err
		}
		if _, err := api.ChannelsDeleteChannel(ctx, input); err != nil {
			return fmt.Errorf("удаление супергруппы: %w", err)
		}
		return nil
	})
}

// ChatExists проверяет, что чат ещё числится в диалогах рабочего аккаунта.
func (w *Workspace) ChatExists(ctx context.Context, chatID int64) (bool, error) {
	exists := false
	err := w.run(ctx, "chat_exists", func(ctx context.Context, api *tg.Client) error {
		_, err := w.resolveChannel(ctx, api, chatID)
		if errors.Is(err, ErrChatGone) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// FindChatByTitle ищет уже созданный журнальный чат по точному названию.
// Нужен для случая, когда чат создан, а привязка в БД не успела записаться.
func (w *Workspace) FindChatByTitle(ctx context.Context, title string) (domain.JournalChat, bool, error) {
	var chat domain.JournalChat
	found := false
	err := w.run(ctx, "find_chat", func(ctx context.Context, api *tg.Client) error {
		channel, err := w.findChannel(ctx, api, func(c *tg.Channel) bool { return c.Title == title })
		if errors.Is(err, ErrChatGone) {
			return nil
		}
		if err != nil {
			return err
		}
		link, err := exportInvite(ctx, api, channel.AsInput())
		if err != nil {
			return err
		}
		chat = domain.JournalChat{ChatID: toBotAPIChatID(channel.ID), InviteLink: link}
		found = true
		return nil
	})
	return chat, found, err
}

// InviteLink выпускает свежую инвайт-ссылку для существующего чата.
func (w *Workspace) InviteLink(ctx context.Context, chatID int64) (string, error) {
	var link string
	err := w.run(ctx, "invite_link", func(ctx context.Context, api *tg.Client) error {
		input, err := w.resolveChannel(ctx, api, chatID)
		if err != nil {
			return err
		}
		link, err = exportInvite(ctx, api, input)
		return err
	})
	return link, err
}

// installBot приглашает бота в чат и делает его администратором, чтобы он
// видел все сообщения без упоминаний.
func (w *Workspace) installBot(ctx context.Context, api *tg.Client, channel *tg.InputChannel) error {
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: w.botUsername})
	if err != nil {
		return fmt.Errorf("резолв бота @%s: %w", w.botUsername, err)
	}
	var bot *tg.InputUser
	for _, u := range resolved.Users {
		if user, ok := u.(*tg.User); ok && user.Bot {
			bot = user.AsInput()
			break
		}
	}
	if bot == nil {
		return fmt.Errorf("@%s не найден или не является ботом", w.botUsername)
	}

	if _, err := api.ChannelsInviteToChannel(ctx, &tg.ChannelsInviteToChannelRequest{
		Channel: channel,
		Users:   []tg.InputUserClass{bot},
	}); err != nil {
		return fmt.Errorf("приглашение бота: %w", err)
	}

	if _, err := api.ChannelsEditAdmin(ctx, &tg.ChannelsEditAdminRequest{
		Channel: channel,
		UserID:  bot,
		AdminRights: tg.ChatAdminRights{
			ChangeInfo:     false,
			DeleteMessages: true,
			InviteUsers:    true,
			PinMessages:    true,
		},
		Rank: "journal",
	}); err != nil {
		return fmt.Errorf("назначение бота администратором: %w", err)
	}
	return nil
}

// resolveChannel находит InputChannel по идентификатору из Bot API.
// Access hash берётся из диалогов рабочего аккаунта.
func (w *Workspace) resolveChannel(ctx context.Context, api *tg.Client, chatID int64) (*tg.InputChannel, error) {
	channelID := fromBotAPIChatID(chatID)
	channel, err := w.findChannel(ctx, api, func(c *tg.Channel) bool { return c.ID == channelID })
	if err != nil {
		return nil, err
	}
	return channel.AsInput(), nil
}

// findChannel перебирает диалоги рабочего аккаунта в поиске супергруппы.
func (w *Workspace) findChannel(ctx context.Context, api *tg.Client, match func(*tg.Channel) bool) (*tg.Channel, error) {
	const pageSize = 100
	offsetDate := 0
	offsetID := 0
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}

	for {
		raw, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("чтение диалогов: %w", err)
		}

		var chats []tg.ChatClass
		var dialogs []tg.DialogClass
		switch d := raw.(type) {
		case *tg.MessagesDialogs:
			chats, dialogs = d.Chats, d.Dialogs
		case *tg.MessagesDialogsSlice:
			chats, dialogs = d.Chats, d.Dialogs
		default:
			return nil, ErrChatGone
		}

		for _, c := range chats {
			channel, ok := c.(*tg.Channel)
			if !ok || channel.Left {
				continue
			}
			if match(channel) {
				return channel, nil
			}
		}

		if len(dialogs) < pageSize {
			return nil, ErrChatGone
		}
		last, ok := dialogs[len(dialogs)-1].(*tg.Dialog)
		if !ok {
			return nil, ErrChatGone
		}
		offsetPeer = peerToInput(last.Peer, chats)
		offsetID = last.TopMessage
	}
}

func peerToInput(peer tg.PeerClass, chats []tg.ChatClass) tg.InputPeerClass {
	channelPeer, ok := peer.(*tg.PeerChannel)
	if !ok {
		return &tg.InputPeerEmpty{}
	}
	for _, c := range chats {
		if channel, ok := c.(*tg.Channel); ok && channel.ID == channelPeer.ChannelID {
			return channel.AsInputPeer()
		}
	}
	return &tg.InputPeerEmpty{}
}

func channelFromUpdates(updates tg.UpdatesClass, title string) (*tg.Channel, error) {
	container, ok := updates.(*tg.Updates)
	if !ok {
		return nil, fmt.Errorf("неожиданный ответ создания чата: %T", updates)
	}
	for _, c := range container.Chats {
		if channel, ok := c.(*tg.Channel); ok && channel.Title == title {
			return channel, nil
		}
	}
	return nil, errors.New("созданный чат отсутствует в ответе")
}

func exportInvite(ctx context.Context, api *tg.Client, channel *tg.InputChannel) (string, error) {
	invite, err := api.MessagesExportChatInvite(ctx, &tg.MessagesExportChatInviteRequest{
		Peer: &tg.InputPeerChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
	})
	if err != nil {
		return "", fmt.Errorf("выпуск инвайт-ссылки: %w", err)
	}
	exported, ok := invite.(*tg.ChatInviteExported)
	if !ok {
		return "", fmt.Errorf("неожиданный тип инвайта: %T", invite)
	}
	return exported.Link, nil
}

func toBotAPIChatID(channelID int64) int64 {
	return -(botAPIChannelBase + channelID)
}

func fromBotAPIChatID(chatID int64) int64 {
	return -chatID - botAPIChannelBase
}
