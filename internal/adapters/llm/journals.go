package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"tg-journal-bot/internal/domain"
	"tg-journal-bot/internal/infra/openai"
)

// ErrEmptyAnswer возвращается, когда модель прислала пустой ответ.
var ErrEmptyAnswer = errors.New("модель вернула пустой ответ")

const systemPrompt = "Ты помощник закрытого журнального сообщества. " +
	"Тебе передают сегодняшние записи участников и вопрос одного из них. " +
	"Отвечай по содержанию записей, коротко и по делу. " +
	"Если записи не содержат ответа, честно скажи об этом."

// Completer отвечает на вопросы по журнальным записям через Chat Completions.
type Completer struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

var _ domain.Completer = (*Completer)(nil)

// NewCompleter создаёт адаптер поверх OpenAI клиента.
func NewCompleter(client *openai.Client, model string, log zerolog.Logger) *Completer {
	return &Completer{client: client, model: model, log: log}
}

// Complete выполняет один запрос и возвращает текст ответа.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: prompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyAnswer
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}
