package offline

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Entry is one cached response.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Storage keeps cached responses grouped into versioned namespaces.
type Storage interface {
	Namespaces(ctx context.Context) ([]string, error)
	// Get reports ok=false on a miss.
	Get(ctx context.Context, namespace, key string) (*Entry, bool, error)
	Put(ctx context.Context, namespace, key string, entry *Entry) error
	DeleteNamespace(ctx context.Context, namespace string) error
}

// MemoryStorage is a process-local Storage.
type MemoryStorage struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]*Entry
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{namespaces: make(map[string]map[string]*Entry)}
}

func (m *MemoryStorage) Namespaces(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.namespaces))
	for ns := range m.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStorage) Get(_ context.Context, namespace, key string) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.namespaces[namespace][key]
	if !ok {
		return nil, false, nil
	}
	return entry.clone(), true, nil
}

func (m *MemoryStorage) Put(_ context.Context, namespace, key string, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]*Entry)
		m.namespaces[namespace] = ns
	}
	ns[key] = entry.clone()
	return nil
}

func (m *MemoryStorage) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespace)
	return nil
}

func (e *Entry) clone() *Entry {
	out := *e
	out.Header = e.Header.Clone()
	out.Body = append([]byte(nil), e.Body...)
	return &out
}
