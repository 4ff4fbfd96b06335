package restq

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// CredentialProvider supplies the bearer credential attached to outgoing
// requests. An empty token with a nil error means "no credential": the
// request proceeds without an Authorization header. A non-nil error aborts
// the request before anything is sent.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticCredentials is a CredentialProvider returning a fixed token.
type StaticCredentials string

// Token implements CredentialProvider.
func (s StaticCredentials) Token(context.Context) (string, error) {
	return string(s), nil
}

// TokenStore is the persistent key-value home of the session credential.
// It is read on every outgoing request and cleared on 401.
type TokenStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// StoreCredentials adapts a TokenStore into a CredentialProvider.
type StoreCredentials struct {
	store TokenStore
}

// NewStoreCredentials returns a provider reading from store on every call.
func NewStoreCredentials(store TokenStore) *StoreCredentials {
	return &StoreCredentials{store: store}
}

// Token implements CredentialProvider.
func (s *StoreCredentials) Token(ctx context.Context) (string, error) {
	return s.store.Get(ctx)
}

// MemoryTokenStore keeps the credential in process memory.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryTokenStore returns an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// Get implements TokenStore.
func (m *MemoryTokenStore) Get(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, nil
}

// Set implements TokenStore.
func (m *MemoryTokenStore) Set(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

// Clear implements TokenStore.
func (m *MemoryTokenStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

// RedisTokenStore persists the credential in Redis under a fixed key, for
// processes that share a session across restarts or replicas.
type RedisTokenStore struct {
	rdb *redis.Client
	key string
}

// NewRedisTokenStore returns a store writing to key on rdb.
func NewRedisTokenStore(rdb *redis.Client, key string) *RedisTokenStore {
	if key == "" {
		key = "restq:credential"
	}
	return &RedisTokenStore{rdb: rdb, key: key}
}

// Get implements TokenStore. A missing key yields an empty token.
func (r *RedisTokenStore) Get(ctx context.Context) (string, error) {
	token, err := r.rdb.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// Set implements TokenStore.
func (r *RedisTokenStore) Set(ctx context.Context, token string) error {
	return r.rdb.Set(ctx, r.key, token, 0).Err()
}

// Clear implements TokenStore.
func (r *RedisTokenStore) Clear(ctx context.Context) error {
	return r.rdb.Del(ctx, r.key).Err()
}
