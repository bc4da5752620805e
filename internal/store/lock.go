package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lock is an advisory, self-expiring lock held through SET NX with a TTL.
// Only the holder's token can release it, so a holder whose lock already
// expired cannot release a successor's.
type Lock struct {
	store Store
	key   string
	token string
}

// AcquireLock returns ErrLockContention when another holder owns key.
func AcquireLock(ctx context.Context, s Store, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := s.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockContention
	}
	return &Lock{store: s, key: key, token: token}, nil
}

func (l *Lock) Key() string {
	return l.key
}

// Release uses a fresh context so a cancelled request still frees the lock.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := l.store.CompareAndDelete(releaseCtx, l.key, l.token)
	return err
}
