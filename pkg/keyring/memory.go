package keyring

import "sync"

// Memory is an in-process Keyring used in tests and on systems without a
// secret service daemon. Secrets do not survive the process.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemory returns an empty in-memory keyring.
func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

func key(service, account string) string {
	return service + "\x00" + account
}

func (m *Memory) Set(service, account string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(secret))
	copy(cp, secret)
	m.items[key(service, account)] = cp
	return nil
}

func (m *Memory) Get(service, account string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	secret, ok := m.items[key(service, account)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(secret))
	copy(cp, secret)
	return cp, nil
}

func (m *Memory) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key(service, account))
	return nil
}
