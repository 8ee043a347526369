package testutil

import (
	"context"
	"sync"

	"github.com/MikeSquared-Agency/quill/internal/events"
	"github.com/MikeSquared-Agency/quill/internal/transcript"
)

// MockStore is a thread-safe in-memory implementation of store.SessionStore
// for testing.
type MockStore struct {
	mu sync.Mutex

	Sessions map[string]map[string][]transcript.RunRecord // user_id -> session_id -> runs
	Order    map[string][]string                          // user_id -> session ids in insertion order
	Journal  []events.Envelope

	GetErr    error
	ListErr   error
	DeleteErr error
	InsertErr error

	InsertCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{
		Sessions: make(map[string]map[string][]transcript.RunRecord),
		Order:    make(map[string][]string),
	}
}

// SetSession seeds a session's run history.
func (m *MockStore) SetSession(userID, sessionID string, runs []transcript.RunRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Sessions[userID] == nil {
		m.Sessions[userID] = make(map[string][]transcript.RunRecord)
	}
	if _, exists := m.Sessions[userID][sessionID]; !exists {
		m.Order[userID] = append(m.Order[userID], sessionID)
	}
	m.Sessions[userID][sessionID] = runs
}

func (m *MockStore) GetRunRecords(_ context.Context, userID, sessionID string) ([]transcript.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return m.Sessions[userID][sessionID], nil
}

func (m *MockStore) ListSessionIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	// Newest first, mirroring the pgx store's ordering.
	order := m.Order[userID]
	ids := make([]string, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		ids = append(ids, order[i])
	}
	return ids, nil
}

func (m *MockStore) DeleteSession(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.Sessions[userID], sessionID)
	order := m.Order[userID]
	for i, id := range order {
		if id == sessionID {
			m.Order[userID] = append(order[:i], order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MockStore) DeleteAllSessions(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.Sessions, userID)
	delete(m.Order, userID)
	return nil
}

func (m *MockStore) InsertRunEvents(_ context.Context, envs []events.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertCalls++
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.Journal = append(m.Journal, envs...)
	return nil
}

func (m *MockStore) Close() {}

// JournalLen returns the number of journaled envelopes.
func (m *MockStore) JournalLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Journal)
}

// GetInsertCalls returns how many times InsertRunEvents was called.
func (m *MockStore) GetInsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InsertCalls
}
