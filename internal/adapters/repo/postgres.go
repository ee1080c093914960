package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-journal-bot/internal/domain"
	"tg-journal-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo  = (*Postgres)(nil)
	_ domain.EntryRepo = (*Postgres)(nil)
	_ domain.StatsRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// UpsertByTGID реализует domain.UserRepo.
func (p *Postgres) UpsertByTGID(ctx context.Context, profile domain.TelegramProfile) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	username := strings.TrimSpace(profile.Username)

	var (
		user    domain.User
		chatID  sql.NullInt64
		nameSQL sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (tg_user_id, username)
VALUES ($1, NULLIF($2,''))
ON CONFLICT (tg_user_id) DO UPDATE SET username = COALESCE(NULLIF(EXCLUDED.username,''), users.username), updated_at = now()
RETURNING id, tg_user_id, username, journal_chat_id, created_at, updated_at
`, profile.TGUserID, username).Scan(&user.ID, &user.TGUserID, &nameSQL, &chatID, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return domain.User{}, err
	}
	applyUserNullables(&user, nameSQL, chatID)
	return user, nil
}

// GetByTGID возвращает пользователя по Telegram ID.
func (p *Postgres) GetByTGID(ctx context.Context, tgUserID int64) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		user    domain.User
		chatID  sql.NullInt64
		nameSQL sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, tg_user_id, username, journal_chat_id, created_at, updated_at
FROM users WHERE tg_user_id=$1
`, tgUserID).Scan(&user.ID, &user.TGUserID, &nameSQL, &chatID, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get_by_tgid", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	applyUserNullables(&user, nameSQL, chatID)
	return user, nil
}

// GetByJournalChat возвращает владельца журнального чата.
func (p *Postgres) GetByJournalChat(ctx context.Context, chatID int64) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		user     domain.User
		chatNull sql.NullInt64
		nameSQL  sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, tg_user_id, username, journal_chat_id, created_at, updated_at
FROM users WHERE journal_chat_id=$1
`, chatID).Scan(&user.ID, &user.TGUserID, &nameSQL, &chatNull, &user.CreatedAt, &user.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get_by_journal_chat", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	applyUserNullables(&user, nameSQL, chatNull)
	return user, nil
}

// BindJournalChat выставляет journal_chat_id, только если он сейчас NULL.
// Возвращает true при успехе; false означает, что другой писатель успел раньше.
func (p *Postgres) BindJournalChat(ctx context.Context, userID, chatID int64) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE users SET journal_chat_id=$2, updated_at=now()
WHERE id=$1 AND journal_chat_id IS NULL
`, userID, chatID)
	metrics.ObserveNetworkRequest("postgres", "users_bind_journal_chat", "users", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// ClearJournalChat сбрасывает привязку журнального чата.
func (p *Postgres) ClearJournalChat(ctx context.Context, userID int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE users SET journal_chat_id=NULL, updated_at=now() WHERE id=$1`, userID)
	metrics.ObserveNetworkRequest("postgres", "users_clear_journal_chat", "users", start, err)
	return err
}

// ListWithJournalChat возвращает всех пользователей с привязанным журнальным чатом.
func (p *Postgres) ListWithJournalChat(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, tg_user_id, username, journal_chat_id, created_at, updated_at
FROM users WHERE journal_chat_id IS NOT NULL
ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "users_list_with_journal_chat", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		var (
			u       domain.User
			chatID  sql.NullInt64
			nameSQL sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.TGUserID, &nameSQL, &chatID, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		applyUserNullables(&u, nameSQL, chatID)
		users = append(users, u)
	}
	return users, rows.Err()
}

func applyUserNullables(u *domain.User, username sql.NullString, chatID sql.NullInt64) {
	if username.Valid {
		u.Username = username.String
	}
	if chatID.Valid {
		id := chatID.Int64
		u.JournalChatID = &id
	}
}

// SaveEntry вставляет журнальную запись. Повторная доставка того же сообщения
// не создаёт вторую запись: конфликт по (chat_id, tg_msg_id) игнорируется.
func (p *Postgres) SaveEntry(ctx context.Context, entry domain.JournalEntry) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
INSERT INTO journal_entries (user_id, tg_user_id, tg_msg_id, chat_id, username, content, word_count)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7)
ON CONFLICT (chat_id, tg_msg_id) DO NOTHING
`, entry.UserID, entry.TGUserID, entry.TGMsgID, entry.ChatID, entry.Username, entry.Content, entry.WordCount)
	metrics.ObserveNetworkRequest("postgres", "journal_entries_insert", "journal_entries", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// ListUserEntriesBetween возвращает записи пользователя за интервал [from, to).
func (p *Postgres) ListUserEntriesBetween(ctx context.Context, userID int64, from, to time.Time) ([]domain.JournalEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, tg_user_id, tg_msg_id, chat_id, username, content, word_count, created_at
FROM journal_entries
WHERE user_id=$1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at
`, userID, from, to)
	metrics.ObserveNetworkRequest("postgres", "journal_entries_list_user", "journal_entries", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListEntriesBetween возвращает записи всех пользователей за интервал [from, to).
func (p *Postgres) ListEntriesBetween(ctx context.Context, from, to time.Time) ([]domain.JournalEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, tg_user_id, tg_msg_id, chat_id, username, content, word_count, created_at
FROM journal_entries
WHERE created_at >= $1 AND created_at < $2
ORDER BY user_id, created_at
`, from, to)
	metrics.ObserveNetworkRequest("postgres", "journal_entries_list_all", "journal_entries", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]domain.JournalEntry, error) {
	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e       domain.JournalEntry
			nameSQL sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.TGUserID, &e.TGMsgID, &e.ChatID, &nameSQL, &e.Content, &e.WordCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		if nameSQL.Valid {
			e.Username = nameSQL.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpsertDailyStats перезаписывает суточный итог. has_access не регрессирует
// внутри дня: прежнее true сохраняется даже при меньшем новом значении.
func (p *Postgres) UpsertDailyStats(ctx context.Context, stats domain.DailyStats) (domain.DailyStats, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var saved domain.DailyStats
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO daily_stats (user_id, tg_user_id, date, total_words, has_access, last_updated)
VALUES ($1,$2,$3,$4,$5,now())
ON CONFLICT (user_id, date) DO UPDATE
    SET total_words = EXCLUDED.total_words,
        has_access = daily_stats.has_access OR EXCLUDED.has_access,
        last_updated = now()
RETURNING user_id, tg_user_id, date, total_words, has_access, last_updated
`, stats.UserID, stats.TGUserID, stats.Date, stats.TotalWords, stats.HasAccess).Scan(
		&saved.UserID, &saved.TGUserID, &saved.Date, &saved.TotalWords, &saved.HasAccess, &saved.LastUpdated)
	metrics.ObserveNetworkRequest("postgres", "daily_stats_upsert", "daily_stats", start, err)
	return saved, err
}

// GetDailyStats возвращает суточный итог; found=false, если строки ещё нет.
func (p *Postgres) GetDailyStats(ctx context.Context, userID int64, date time.Time) (domain.DailyStats, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var stats domain.DailyStats
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT user_id, tg_user_id, date, total_words, has_access, last_updated
FROM daily_stats WHERE user_id=$1 AND date=$2
`, userID, date).Scan(&stats.UserID, &stats.TGUserID, &stats.Date, &stats.TotalWords, &stats.HasAccess, &stats.LastUpdated)
	metrics.ObserveNetworkRequest("postgres", "daily_stats_get", "daily_stats", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DailyStats{}, false, nil
	}
	if err != nil {
		return domain.DailyStats{}, false, err
	}
	return stats, true, nil
}

// LoadMTProtoSession загружает сохранённую MTProto-сессию рабочего аккаунта.
func (p *Postgres) LoadMTProtoSession(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	var data []byte
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT data FROM mtproto_sessions WHERE name = $1`, name).Scan(&data)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_load", "mtproto_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	clone := make([]byte, len(data))
	copy(clone, data)
	return clone, nil
}

// StoreMTProtoSession сохраняет MTProto-сессию рабочего аккаунта.
func (p *Postgres) StoreMTProtoSession(ctx context.Context, name string, data []byte) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	tmp := make([]byte, len(data))
	copy(tmp, data)

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO mtproto_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, name, tmp)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_store", "mtproto_sessions", start, err)
	return err
}

// Migrate создаёт схему, если её ещё нет.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    tg_user_id BIGINT NOT NULL UNIQUE,
    username TEXT,
    journal_chat_id BIGINT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS journal_entries (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    tg_user_id BIGINT NOT NULL,
    tg_msg_id BIGINT NOT NULL,
    chat_id BIGINT NOT NULL,
    username TEXT,
    content TEXT NOT NULL,
    word_count INT NOT NULL CHECK (word_count >= 1),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (chat_id, tg_msg_id)
)`,
		`CREATE INDEX IF NOT EXISTS journal_entries_user_created_idx ON journal_entries (user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS daily_stats (
    user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    tg_user_id BIGINT NOT NULL,
    date DATE NOT NULL,
    total_words INT NOT NULL DEFAULT 0,
    has_access BOOLEAN NOT NULL DEFAULT false,
    last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, date)
)`,
		`CREATE TABLE IF NOT EXISTS mtproto_sessions (
    name TEXT PRIMARY KEY,
    data BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	}
	for _, stmt := range statements {
		start := time.Now()
		_, err := p.pool.Exec(ctx, stmt)
		metrics.ObserveNetworkRequest("postgres", "migrate", "schema", start, err)
		if err != nil {
			return fmt.Errorf("миграция схемы: %w", err)
		}
	}
	return nil
}
