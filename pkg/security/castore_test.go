package security

import "sync"

// memCAStore is an in-memory CAStore stand-in for unit tests; the real
// implementation is the coordination tree (pkg/store), which is exercised
// separately in its own package's tests.
type memCAStore struct {
	mu   sync.Mutex
	data []byte
}

func newMemCAStore(_ string) (*memCAStore, error) {
	return &memCAStore{}, nil
}

func (s *memCAStore) SaveCA(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *memCAStore) GetCA() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, nil
}

func (s *memCAStore) Close() error { return nil }
