package mtproto

import (
	"context"

	"github.com/gotd/td/session"
)

// SessionRepo хранит байты авторизованной MTProto-сессии по имени.
type SessionRepo interface {
	LoadMTProtoSession(ctx context.Context, name string) ([]byte, error)
	StoreMTProtoSession(ctx context.Context, name string, data []byte) error
}

// RepoSessionStorage адаптирует SessionRepo к session.Storage,
// чтобы gotd читал и писал сессию рабочего аккаунта в Postgres.
type RepoSessionStorage struct {
	repo SessionRepo
	name string
}

var _ session.Storage = (*RepoSessionStorage)(nil)

// NewRepoSessionStorage создаёт хранилище для именованной сессии.
func NewRepoSessionStorage(repo SessionRepo, name string) *RepoSessionStorage {
	return &RepoSessionStorage{repo: repo, name: name}
}

// LoadSession загружает сессию; session.ErrNotFound пробрасывается из репозитория.
func (s *RepoSessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	return s.repo.LoadMTProtoSession(ctx, s.name)
}

// StoreSession сохраняет сессию после каждого обновления ключей.
func (s *RepoSessionStorage) StoreSession(ctx context.Context, data []byte) error {
	return s.repo.StoreMTProtoSession(ctx, s.name, data)
}
