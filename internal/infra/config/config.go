package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
		APIID      int    `envconfig:"TG_API_ID"`
		APIHash    string `envconfig:"TG_API_HASH"`
	} `envconfig:""`

	MTProto struct {
		SessionName string `envconfig:"MTPROTO_SESSION_NAME" default:"workspace"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Journal struct {
		SharedChatID      int64         `envconfig:"SHARED_CHAT_ID"`
		DailyWords        int           `envconfig:"DAILY_WORD_REQUIREMENT" default:"500"`
		Timezone          string        `envconfig:"TIMEZONE" default:"Europe/Amsterdam"`
		ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"5m"`
	} `envconfig:""`

	Queues struct {
		Grant string `envconfig:"GRANT_QUEUE_KEY" default:"grant_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Validate проверяет обязательные параметры один раз при старте.
func (c AppConfig) Validate() error {
	var missing []string
	if c.Telegram.Token == "" {
		missing = append(missing, "TG_BOT_TOKEN")
	}
	if c.PGDSN == "" {
		missing = append(missing, "PG_DSN")
	}
	if c.Journal.SharedChatID == 0 {
		missing = append(missing, "SHARED_CHAT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("не заданы обязательные переменные: %s", strings.Join(missing, ", "))
	}
	if c.Journal.DailyWords <= 0 {
		return fmt.Errorf("DAILY_WORD_REQUIREMENT должен быть положительным, получено %d", c.Journal.DailyWords)
	}
	if _, err := time.LoadLocation(c.Journal.Timezone); err != nil {
		return fmt.Errorf("некорректный часовой пояс %q: %w", c.Journal.Timezone, err)
	}
	if c.Journal.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL должен быть положительным")
	}
	return nil
}

// Location возвращает настроенную тайм-зону. Вызывать после Validate.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Journal.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
