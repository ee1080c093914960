package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"tg-journal-bot/internal/domain"
)

// ErrBindingMissing возвращается, когда после проигрыша гонки у пользователя
// так и не оказалось привязанного чата. На практике означает сбой победителя.
var ErrBindingMissing = errors.New("журнальный чат не привязан после гонки")

// Service выдаёт каждому участнику ровно один журнальный чат.
type Service struct {
	users domain.UserRepo
	admin domain.ChatAdmin
	log   zerolog.Logger
}

// NewService создаёт сервис провижининга журнальных чатов.
func NewService(users domain.UserRepo, admin domain.ChatAdmin, log zerolog.Logger) *Service {
	return &Service{users: users, admin: admin, log: log}
}

// Result описывает исход провижининга.
type Result struct {
	User domain.User
	Chat domain.JournalChat
	// Created true, если чат был создан этим вызовом.
	Created bool
}

// ChatTitle возвращает детерминированное имя журнального чата пользователя.
// Имя строится от tg_user_id, чтобы чат находился поиском даже после смены
// username.
func ChatTitle(tgUserID int64) string {
	return fmt.Sprintf("Журнал %d", tgUserID)
}

// Provision гарантирует пользователю привязанный журнальный чат.
// Последовательность устойчива к гонке параллельных вызовов: чат привязывается
// атомарным CAS, проигравший вызов удаляет свой чат и возвращает чат
// победителя. Устаревшая привязка на удалённый чат сбрасывается и чат
// создаётся заново.
func (s *Service) Provision(ctx context.Context, profile domain.TelegramProfile) (Result, error) {
	user, err := s.users.UpsertByTGID(ctx, profile)
	if err != nil {
		return Result{}, fmt.Errorf("регистрация пользователя: %w", err)
	}

	if user.HasJournalChat() {
		exists, err := s.admin.ChatExists(ctx, *user.JournalChatID)
		if err != nil {
			return Result{}, fmt.Errorf("проверка чата: %w", err)
		}
		if exists {
			link, err := s.admin.InviteLink(ctx, *user.JournalChatID)
			if err != nil {
				return Result{}, fmt.Errorf("инвайт существующего чата: %w", err)
			}
			return Result{User: user, Chat: domain.JournalChat{ChatID: *user.JournalChatID, InviteLink: link}}, nil
		}

		// Чат удалили мимо бота: сбрасываем привязку и создаём заново.
		s.log.Warn().Int64("tg_user_id", profile.TGUserID).Int64("chat_id", *user.JournalChatID).
			Msg("привязанный журнальный чат исчез, пересоздаём")
		if err := s.users.ClearJournalChat(ctx, user.ID); err != nil {
			return Result{}, fmt.Errorf("сброс привязки: %w", err)
		}
		user.JournalChatID = nil
	}

	title := ChatTitle(profile.TGUserID)

	// Чат мог быть создан ранее, но привязка не записалась (сбой между
	// шагами). Тогда усыновляем существующий чат вместо создания нового.
	if chat, found, err := s.admin.FindChatByTitle(ctx, title); err != nil {
		return Result{}, fmt.Errorf("поиск существующего чата: %w", err)
	} else if found {
		return s.bind(ctx, user, chat, false)
	}

	chat, err := s.admin.CreateJournalChat(ctx, title)
	if err != nil {
		return Result{}, fmt.Errorf("создание чата: %w", err)
	}
	return s.bind(ctx, user, chat, true)
}

// bind привязывает чат через CAS. Проигравший удаляет свой чат и отдаёт
// привязку победителя: выживает ровно один чат.
func (s *Service) bind(ctx context.Context, user domain.User, chat domain.JournalChat, created bool) (Result, error) {
	bound, err := s.users.BindJournalChat(ctx, user.ID, chat.ChatID)
	if err != nil {
		return Result{}, fmt.Errorf("привязка чата: %w", err)
	}
	if bound {
		chatID := chat.ChatID
		user.JournalChatID = &chatID
		return Result{User: user, Chat: chat, Created: created}, nil
	}

	// Гонка проиграна: параллельный вызов успел привязать свой чат.
	if created {
		if err := s.admin.DeleteChat(ctx, chat.ChatID); err != nil {
			s.log.Error().Err(err).Int64("chat_id", chat.ChatID).
				Msg("не удалось удалить проигравший чат")
		}
	}

	winner, err := s.users.GetByTGID(ctx, user.TGUserID)
	if err != nil {
		return Result{}, fmt.Errorf("чтение победителя гонки: %w", err)
	}
	if !winner.HasJournalChat() {
		return Result{}, ErrBindingMissing
	}
	link, err := s.admin.InviteLink(ctx, *winner.JournalChatID)
	if err != nil {
		return Result{}, fmt.Errorf("инвайт чата победителя: %w", err)
	}
	return Result{User: winner, Chat: domain.JournalChat{ChatID: *winner.JournalChatID, InviteLink: link}}, nil
}
