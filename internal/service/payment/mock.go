package payment

import (
	"context"
	"sync"
)

// MockInitiator: конфигурируемая заглушка Initiator для тестов.
type MockInitiator struct {
	mu sync.Mutex

	Result Result
	Err    error

	Calls    int
	Requests []Request
}

// NewMockInitiator возвращает mock с redirect-сценарием по умолчанию.
func NewMockInitiator(redirectURL string) *MockInitiator {
	return &MockInitiator{Result: Result{RedirectURL: redirectURL}}
}

// Initiate возвращает заранее настроенный результат и запоминает запрос.
func (m *MockInitiator) Initiate(_ context.Context, req Request) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	m.Requests = append(m.Requests, req)
	return m.Result, m.Err
}

// CallCount возвращает число вызовов Initiate.
func (m *MockInitiator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// LastRequest возвращает последний запрос или пустой Request.
func (m *MockInitiator) LastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return Request{}
	}
	return m.Requests[len(m.Requests)-1]
}

var _ Initiator = (*MockInitiator)(nil)
