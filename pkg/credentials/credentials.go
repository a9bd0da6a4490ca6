// Package credentials keeps the signed-in user's token pair, the only state
// that survives a restart.
package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JordyChamba/feedsync/pkg/constants"
)

// Pair is what a login or a refresh returns.
type Pair struct {
	AccessToken  string
	RefreshToken string
	UserID       int64
	Username     string
}

func (p Pair) IsZero() bool {
	return p.AccessToken == ""
}

// Store persists one Pair. Load returns constants.ErrNoCredential when
// nothing is stored.
type Store interface {
	Load(ctx context.Context) (Pair, error)
	Save(ctx context.Context, p Pair) error
	Clear(ctx context.Context) error
}

type MemoryStore struct {
	mu   sync.Mutex
	pair Pair
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pair.IsZero() {
		return Pair{}, constants.ErrNoCredential
	}
	return m.pair, nil
}

func (m *MemoryStore) Save(_ context.Context, p Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = p
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = Pair{}
	return nil
}

// Current loads the stored pair and checks that its access token is still
// usable at now. A missing pair or an expired token wraps
// constants.ErrUnauthorized.
func Current(ctx context.Context, s Store, now time.Time) (Pair, *Claims, error) {
	p, err := s.Load(ctx)
	if err != nil {
		return Pair{}, nil, fmt.Errorf("%w: %w", constants.ErrUnauthorized, err)
	}
	claims, err := ParseUnverified(p.AccessToken)
	if err != nil {
		return Pair{}, nil, fmt.Errorf("%w: %w", constants.ErrUnauthorized, err)
	}
	if claims.ExpiredAt(now) {
		return Pair{}, nil, fmt.Errorf("%w: access token expired at %s", constants.ErrUnauthorized, claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	if p.UserID == 0 {
		p.UserID = claims.UserID
	}
	return p, claims, nil
}
