package preset

// Store exposes preset retrieval for handlers and the turn service.
type Store interface {
	List() []Preset
	FindByID(id string) (Preset, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Preset
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied presets.
// A later preset replaces an earlier one with the same ID.
func NewMemoryStore(items ...[]Preset) *MemoryStore {
	store := &MemoryStore{}
	for _, group := range items {
		for _, item := range group {
			store.put(item)
		}
	}
	return store
}

func (s *MemoryStore) put(item Preset) {
	for i := range s.items {
		if s.items[i].ID == item.ID {
			s.items[i] = item
			return
		}
	}
	s.items = append(s.items, item)
}

// List returns the presets in registration order.
func (s *MemoryStore) List() []Preset {
	return append([]Preset(nil), s.items...)
}

// FindByID looks up a preset by identifier.
func (s *MemoryStore) FindByID(id string) (Preset, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Preset{}, false
}

// Resolve returns the preset for id, falling back to the general assistant.
func Resolve(store Store, id string) Preset {
	if p, ok := store.FindByID(id); ok {
		return p
	}
	if p, ok := store.FindByID(GeneralID); ok {
		return p
	}
	return Preset{ID: GeneralID, Name: "General Assistant", Prompt: generalPrompt}
}
