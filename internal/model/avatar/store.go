package avatar

// Store exposes avatar lookup for handlers and the conversation store.
type Store interface {
	List() []Avatar
	FindByID(id string) (Avatar, bool)
	Default() (Avatar, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Avatar
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied avatars.
func NewMemoryStore(items []Avatar) *MemoryStore {
	return &MemoryStore{items: append([]Avatar(nil), items...)}
}

// List returns the configured avatars.
func (s *MemoryStore) List() []Avatar {
	return append([]Avatar(nil), s.items...)
}

// FindByID looks up an avatar by identifier.
func (s *MemoryStore) FindByID(id string) (Avatar, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Avatar{}, false
}

// Default returns the first avatar, which the UI shows before any selection.
func (s *MemoryStore) Default() (Avatar, bool) {
	if len(s.items) == 0 {
		return Avatar{}, false
	}
	return s.items[0], true
}
