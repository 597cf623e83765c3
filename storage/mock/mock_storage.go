// Package mock provides mock implementations of storage interfaces for testing.
//
// Every mock has working map-backed defaults; tests override individual
// *Func fields to inject failures.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oidc-provider/storage"
)

// MockCodeStore is a mock implementation of CodeStore for testing
type MockCodeStore struct {
	mu          sync.Mutex
	codes       map[string]*storage.AuthorizationCode
	SaveFunc    func(ctx context.Context, code *storage.AuthorizationCode) error
	ConsumeFunc func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	SweepFunc   func(ctx context.Context) (int, error)
	CallCounts  map[string]int
}

// NewMockCodeStore creates a new mock code store
func NewMockCodeStore() *MockCodeStore {
	m := &MockCodeStore{
		codes:      make(map[string]*storage.AuthorizationCode),
		CallCounts: make(map[string]int),
	}

	m.SaveFunc = func(_ context.Context, code *storage.AuthorizationCode) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.codes[code.Code]; ok {
			return storage.ErrCodeCollision
		}
		m.codes[code.Code] = code
		return nil
	}

	m.ConsumeFunc = func(_ context.Context, code string) (*storage.AuthorizationCode, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		rec, ok := m.codes[code]
		if !ok {
			return nil, storage.ErrCodeNotFound
		}
		delete(m.codes, code)
		return rec, nil
	}

	m.SweepFunc = func(_ context.Context) (int, error) {
		return 0, nil
	}

	return m
}

func (m *MockCodeStore) count(name string) {
	m.mu.Lock()
	m.CallCounts[name]++
	m.mu.Unlock()
}

// Save calls SaveFunc
func (m *MockCodeStore) Save(ctx context.Context, code *storage.AuthorizationCode) error {
	m.count("Save")
	return m.SaveFunc(ctx, code)
}

// Consume calls ConsumeFunc
func (m *MockCodeStore) Consume(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.count("Consume")
	return m.ConsumeFunc(ctx, code)
}

// Sweep calls SweepFunc
func (m *MockCodeStore) Sweep(ctx context.Context) (int, error) {
	m.count("Sweep")
	return m.SweepFunc(ctx)
}

// Len returns the number of stored codes
func (m *MockCodeStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.codes)
}

// MockSessionStore is a mock implementation of SessionStore for testing
type MockSessionStore struct {
	mu                sync.Mutex
	sessions          map[string]*storage.Session
	SaveSessionFunc   func(ctx context.Context, session *storage.Session) error
	GetSessionFunc    func(ctx context.Context, id string) (*storage.Session, error)
	DeleteSessionFunc func(ctx context.Context, id string) error
}

// NewMockSessionStore creates a new mock session store
func NewMockSessionStore() *MockSessionStore {
	m := &MockSessionStore{sessions: make(map[string]*storage.Session)}

	m.SaveSessionFunc = func(_ context.Context, session *storage.Session) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.sessions[session.ID] = session
		return nil
	}
	m.GetSessionFunc = func(_ context.Context, id string) (*storage.Session, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		s, ok := m.sessions[id]
		if !ok {
			return nil, storage.ErrSessionNotFound
		}
		return s, nil
	}
	m.DeleteSessionFunc = func(_ context.Context, id string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.sessions, id)
		return nil
	}

	return m
}

// SaveSession calls SaveSessionFunc
func (m *MockSessionStore) SaveSession(ctx context.Context, session *storage.Session) error {
	return m.SaveSessionFunc(ctx, session)
}

// GetSession calls GetSessionFunc
func (m *MockSessionStore) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	return m.GetSessionFunc(ctx, id)
}

// DeleteSession calls DeleteSessionFunc
func (m *MockSessionStore) DeleteSession(ctx context.Context, id string) error {
	return m.DeleteSessionFunc(ctx, id)
}

// MockUserStore is a mock implementation of UserStore for testing
type MockUserStore struct {
	ValidateCredentialsFunc func(ctx context.Context, login, secret string) (*storage.User, error)
	GetUserFunc             func(ctx context.Context, id string) (*storage.User, error)
}

// NewMockUserStore creates a user store that resolves only the given users
// and accepts any secret for them.
func NewMockUserStore(users ...*storage.User) *MockUserStore {
	byID := make(map[string]*storage.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	return &MockUserStore{
		ValidateCredentialsFunc: func(_ context.Context, login, _ string) (*storage.User, error) {
			u, ok := byID[login]
			if !ok || !u.IsActive {
				return nil, storage.ErrInvalidCredentials
			}
			return u, nil
		},
		GetUserFunc: func(_ context.Context, id string) (*storage.User, error) {
			u, ok := byID[id]
			if !ok {
				return nil, storage.ErrUserNotFound
			}
			return u, nil
		},
	}
}

// ValidateCredentials calls ValidateCredentialsFunc
func (m *MockUserStore) ValidateCredentials(ctx context.Context, login, secret string) (*storage.User, error) {
	return m.ValidateCredentialsFunc(ctx, login, secret)
}

// GetUser calls GetUserFunc
func (m *MockUserStore) GetUser(ctx context.Context, id string) (*storage.User, error) {
	return m.GetUserFunc(ctx, id)
}

// MockClientRegistry is a mock implementation of ClientRegistry for testing
type MockClientRegistry struct {
	GetClientFunc   func(ctx context.Context, clientID string) (*storage.Client, error)
	ListClientsFunc func(ctx context.Context) ([]*storage.Client, error)
}

// NewMockClientRegistry creates a registry serving the given clients
func NewMockClientRegistry(clients ...*storage.Client) *MockClientRegistry {
	byID := make(map[string]*storage.Client, len(clients))
	for _, c := range clients {
		byID[c.ClientID] = c
	}

	return &MockClientRegistry{
		GetClientFunc: func(_ context.Context, clientID string) (*storage.Client, error) {
			c, ok := byID[clientID]
			if !ok {
				return nil, storage.ErrClientNotFound
			}
			return c, nil
		},
		ListClientsFunc: func(_ context.Context) ([]*storage.Client, error) {
			return clients, nil
		},
	}
}

// GetClient calls GetClientFunc
func (m *MockClientRegistry) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return m.GetClientFunc(ctx, clientID)
}

// ListClients calls ListClientsFunc
func (m *MockClientRegistry) ListClients(ctx context.Context) ([]*storage.Client, error) {
	return m.ListClientsFunc(ctx)
}

var (
	_ storage.CodeStore      = (*MockCodeStore)(nil)
	_ storage.SessionStore   = (*MockSessionStore)(nil)
	_ storage.UserStore      = (*MockUserStore)(nil)
	_ storage.ClientRegistry = (*MockClientRegistry)(nil)
)
