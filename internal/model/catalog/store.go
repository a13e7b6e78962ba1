package catalog

// Store exposes the service catalog.
type Store interface {
	List() []Service
	FindByID(id string) (Service, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Service
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied services.
func NewMemoryStore(items []Service) *MemoryStore {
	return &MemoryStore{items: append([]Service(nil), items...)}
}

// List returns the configured services.
func (s *MemoryStore) List() []Service {
	return append([]Service(nil), s.items...)
}

// FindByID looks up a service by identifier.
func (s *MemoryStore) FindByID(id string) (Service, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Service{}, false
}
