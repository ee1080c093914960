package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-journal-bot/internal/adapters/repo"
	"tg-journal-bot/internal/adapters/telegram"
	"tg-journal-bot/internal/domain"
	"tg-journal-bot/internal/infra/cache"
	"tg-journal-bot/internal/infra/config"
	"tg-journal-bot/internal/infra/db"
	applog "tg-journal-bot/internal/infra/log"
	"tg-journal-bot/internal/infra/metrics"
	"tg-journal-bot/internal/infra/queue"
	"tg-journal-bot/internal/usecase/access"
	"tg-journal-bot/internal/usecase/journal"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "reconciler")
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("reconciler: некорректная конфигурация")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9091")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler: не удалось создать бота")
	}
	gate := telegram.NewGate(botAPI, cfg.Journal.SharedChatID, logger)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("reconciler: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	cacheAdapter := cache.NewRedis(redisClient)

	if cfg.RabbitURL == "" {
		logger.Fatal().Msg("reconciler: не указан адрес RabbitMQ (RABBITMQ_URL)")
	}
	grantQueue, err := queue.NewAMQPGrantQueue(cfg.RabbitURL, cfg.Queues.Grant)
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler: не удалось инициализировать очередь RabbitMQ")
	}
	defer grantQueue.Close()

	loc := cfg.Location()
	journalService := journal.NewService(repoAdapter, repoAdapter, cfg.Journal.DailyWords, loc)
	accessService := access.NewService(repoAdapter, journalService, gate, cacheAdapter, loc, logger)

	go func() {
		if err := accessService.Run(ctx, cfg.Journal.ReconcileInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("reconciler: цикл сверки остановлен")
		}
	}()

	worker := &grantWorker{log: logger, queue: grantQueue, access: accessService}

	logger.Info().Msg("reconciler: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("reconciler: остановлен")
}

// grantWorker обрабатывает задачи выдачи доступа из очереди.
type grantWorker struct {
	log    zerolog.Logger
	queue  domain.GrantQueue
	access *access.Service
}

func (w *grantWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("reconciler: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Int64("user", job.UserTGID).
			Str("cause", string(job.Cause)).
			Logger()

		if job.ID == "" {
			jobLog.Error().Msg("reconciler: задача без идентификатора, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("reconciler: не удалось подтвердить задачу")
			}
			continue
		}

		// Сверка идемпотентна: повторная доставка той же задачи безопасна,
		// отдельный реестр статусов не нужен.
		// Очередь даёт задаче одну повторную доставку; если и она не
		// прошла, доступ доведёт периодическая сверка.
		if err := w.access.ReconcileUser(ctx, job.UserTGID, time.Now()); err != nil {
			jobLog.Error().Err(err).Msg("reconciler: задача завершилась ошибкой")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("reconciler: не удалось отклонить задачу")
			}
			time.Sleep(time.Second)
			continue
		}

		jobLog.Info().Msg("reconciler: доступ сведён")
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("reconciler: не удалось подтвердить задачу")
		}
	}
}

var _ domain.UserRepo = (*repo.Postgres)(nil)
var _ domain.StatsRepo = (*repo.Postgres)(nil)
var _ domain.AccessGate = (*telegram.Gate)(nil)
var _ domain.Cache = (*cache.RedisCache)(nil)
