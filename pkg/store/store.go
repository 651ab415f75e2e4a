// Package store provides Service Actions backends for the chat router.
package store

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/dd0wney/cluso-chat/pkg/chat"
)

const (
	// BcryptCost is the default cost factor for password hashes
	BcryptCost = 12
	// DefaultSetting is the inbox limit of a new account
	DefaultSetting = "50"
)

// Backend names accepted by Open
const (
	KindMemory   = "memory"
	KindPostgres = "postgres"
)

var (
	ErrUnknownBackend     = errors.New("unknown store backend")
	ErrPasswordHashFailed = errors.New("failed to hash password")
)

// Store is a chat.Actions backend with a lifecycle
type Store interface {
	chat.Actions
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PGStore)(nil)
)

// Open creates the backend named kind. dsn is only used by postgres; a cost
// outside the bcrypt range falls back to BcryptCost.
func Open(ctx context.Context, kind, dsn string, cost int) (Store, error) {
	switch kind {
	case KindMemory, "":
		return NewMemoryStore(cost), nil
	case KindPostgres:
		return NewPGStore(ctx, dsn, cost)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
}

func hashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPasswordHashFailed, err)
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func validCost(cost int) int {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return BcryptCost
	}
	return cost
}
