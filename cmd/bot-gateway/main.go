package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"tg-journal-bot/internal/adapters/bot"
	"tg-journal-bot/internal/adapters/llm"
	"tg-journal-bot/internal/adapters/mtproto"
	"tg-journal-bot/internal/adapters/repo"
	"tg-journal-bot/internal/domain"
	"tg-journal-bot/internal/infra/config"
	"tg-journal-bot/internal/infra/db"
	applog "tg-journal-bot/internal/infra/log"
	"tg-journal-bot/internal/infra/metrics"
	"tg-journal-bot/internal/infra/openai"
	"tg-journal-bot/internal/infra/queue"
	"tg-journal-bot/internal/usecase/inquiry"
	"tg-journal-bot/internal/usecase/journal"
	"tg-journal-bot/internal/usecase/provision"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "bot-gateway")
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("gateway: некорректная конфигурация")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	migrateCtx, migrateCancel := context.WithTimeout(ctx, 30*time.Second)
	err = repoAdapter.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: миграция схемы не удалась")
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось создать бота")
	}

	if cfg.Telegram.WebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL + "/bot/webhook")
		if err != nil {
			logger.Fatal().Err(err).Msg("gateway: некорректный адрес вебхука")
		}
		if _, err := botAPI.Request(wh); err != nil {
			logger.Fatal().Err(err).Msg("gateway: не удалось установить вебхук")
		}
	}

	sessionStorage := mtproto.NewRepoSessionStorage(repoAdapter, cfg.MTProto.SessionName)
	workspace := mtproto.NewWorkspace(cfg.Telegram.APIID, cfg.Telegram.APIHash, botAPI.Self.UserName, sessionStorage, logger)

	if cfg.RabbitURL == "" {
		logger.Fatal().Msg("gateway: не указан адрес RabbitMQ (RABBITMQ_URL)")
	}
	grantQueue, err := queue.NewAMQPGrantQueue(cfg.RabbitURL, cfg.Queues.Grant)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось инициализировать очередь RabbitMQ")
	}
	defer grantQueue.Close()

	if cfg.OpenAI.APIKey == "" {
		logger.Fatal().Msg("gateway: не указан ключ OpenAI (OPENAI_API_KEY)")
	}
	openaiClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	completer := llm.NewCompleter(openaiClient, cfg.OpenAI.Model, logger)

	loc := cfg.Location()
	journalService := journal.NewService(repoAdapter, repoAdapter, cfg.Journal.DailyWords, loc)
	provisionService := provision.NewService(repoAdapter, workspace, logger)
	inquiryService := inquiry.NewService(repoAdapter, repoAdapter, repoAdapter, completer, loc)

	h := bot.NewHandler(botAPI, logger, cfg.Journal.SharedChatID, repoAdapter, journalService, provisionService, inquiryService, grantQueue)

	r := chi.NewRouter()
	r.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: r}
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("gateway: запущен")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("gateway: HTTP сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("gateway: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

var _ domain.UserRepo = (*repo.Postgres)(nil)
var _ domain.EntryRepo = (*repo.Postgres)(nil)
var _ domain.StatsRepo = (*repo.Postgres)(nil)
var _ domain.GrantQueue = (*queue.AMQPGrantQueue)(nil)
