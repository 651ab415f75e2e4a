package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dd0wney/cluso-chat/pkg/chat"
)

type account struct {
	Username     string
	PasswordHash string
	Email        string
	Setting      string
	CreatedAt    time.Time
	LastLogin    time.Time
}

type storedMessage struct {
	chat.Message
	Pending bool
}

// MemoryStore keeps accounts and messages in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*account
	messages []*storedMessage
	cost     int
	now      func() time.Time
}

// NewMemoryStore creates an empty store hashing passwords with the given bcrypt cost
func NewMemoryStore(cost int) *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*account),
		cost:     validCost(cost),
		now:      time.Now,
	}
}

// Register creates an account
func (s *MemoryStore) Register(ctx context.Context, username, password, email string) error {
	// Hash outside the lock
	hash, err := hashPassword(password, s.cost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[username]; exists {
		return fmt.Errorf("%w: %s", chat.ErrUserExists, username)
	}
	s.accounts[username] = &account{
		Username:     username,
		PasswordHash: hash,
		Email:        email,
		Setting:      DefaultSetting,
		CreatedAt:    s.now(),
	}
	return nil
}

// Authenticate checks a password and records the login
func (s *MemoryStore) Authenticate(ctx context.Context, username, password string) error {
	s.mu.RLock()
	acct, ok := s.accounts[username]
	var hash string
	if ok {
		hash = acct.PasswordHash
	}
	s.mu.RUnlock()

	if !ok || !checkPassword(hash, password) {
		return chat.ErrBadCredentials
	}

	s.mu.Lock()
	if acct, ok := s.accounts[username]; ok {
		acct.LastLogin = s.now()
	}
	s.mu.Unlock()
	return nil
}

// ListUsers returns every username in lexical order
func (s *MemoryStore) ListUsers(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.accounts))
	for name := range s.accounts {
		users = append(users, name)
	}
	sort.Strings(users)
	return users, nil
}

// MessageHistory returns delivered messages involving username in arrival order
func (s *MemoryStore) MessageHistory(ctx context.Context, username string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []chat.Message
	for _, m := range s.messages {
		if !m.Pending && (m.Sender == username || m.Recipient == username) {
			out = append(out, m.Message)
		}
	}
	return out, nil
}

// StoreMessage appends msg
func (s *MemoryStore) StoreMessage(ctx context.Context, msg chat.Message, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, &storedMessage{Message: msg, Pending: pending})
	return nil
}

// FetchPending returns up to limit pending messages for username and marks them delivered
func (s *MemoryStore) FetchPending(ctx context.Context, username string, limit int) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []chat.Message
	for _, m := range s.messages {
		if len(out) >= limit {
			break
		}
		if m.Pending && m.Recipient == username {
			m.Pending = false
			out = append(out, m.Message)
		}
	}
	return out, nil
}

// DeleteAccount removes the account. Its messages stay in the history of
// the other party.
func (s *MemoryStore) DeleteAccount(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[username]; !ok {
		return fmt.Errorf("%w: %s", chat.ErrUserNotFound, username)
	}
	delete(s.accounts, username)
	s.messages = slices.DeleteFunc(s.messages, func(m *storedMessage) bool {
		return m.Pending && m.Recipient == username
	})
	return nil
}

// SaveSetting stores the user's setting
func (s *MemoryStore) SaveSetting(ctx context.Context, username, setting string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[username]
	if !ok {
		return fmt.Errorf("%w: %s", chat.ErrUserNotFound, username)
	}
	acct.Setting = setting
	return nil
}

// GetSetting returns the user's setting
func (s *MemoryStore) GetSetting(ctx context.Context, username string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[username]
	if !ok {
		return "", fmt.Errorf("%w: %s", chat.ErrUserNotFound, username)
	}
	return acct.Setting, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }
