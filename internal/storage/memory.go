package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. Data is lost on exit.
type MemStore struct {
	defaults Defaults

	mu       sync.RWMutex
	users    map[string]UserConfig
	dict     []DictEntry
	speakers []Speaker
	nextID   int64
}

// NewMemStore returns an empty MemStore that creates users from defaults.
func NewMemStore(defaults Defaults) *MemStore {
	return &MemStore{
		defaults: defaults,
		users:    make(map[string]UserConfig),
		nextID:   1,
	}
}

// UserConfigOrDefault implements Store.
func (m *MemStore) UserConfigOrDefault(_ context.Context, userID string) (UserConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.users[userID]
	if !ok {
		cfg = m.defaults.UserConfig(userID)
		m.users[userID] = cfg
	}
	return cloneUserConfig(cfg), nil
}

// UpdateUserConfig implements Store.
func (m *MemStore) UpdateUserConfig(_ context.Context, cfg UserConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[cfg.UserID] = cloneUserConfig(cfg)
	return nil
}

// Dict implements Store.
func (m *MemStore) Dict(context.Context) ([]DictEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.dict), nil
}

// AddDictEntry implements Store.
func (m *MemStore) AddDictEntry(_ context.Context, e DictEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.dict {
		if m.dict[i].Word == e.Word {
			m.dict[i].Read = e.Read
			return nil
		}
	}
	m.dict = append(m.dict, e)
	return nil
}

// RemoveDictEntry implements Store.
func (m *MemStore) RemoveDictEntry(_ context.Context, word string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.IndexFunc(m.dict, func(e DictEntry) bool { return e.Word == word })
	if i < 0 {
		return false, nil
	}
	m.dict = slices.Delete(m.dict, i, i+1)
	return true, nil
}

// Speakers implements Store.
func (m *MemStore) Speakers(context.Context) ([]Speaker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.speakers)
	sortSpeakers(out)
	return out, nil
}

// Speaker implements Store.
func (m *MemStore) Speaker(_ context.Context, id int64) (Speaker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.speakers {
		if s.ID == id {
			return s, nil
		}
	}
	return Speaker{}, ErrNotFound
}

// ReplaceSpeakers implements Store.
func (m *MemStore) ReplaceSpeakers(_ context.Context, gen tts.Generator, speakers []tts.Speaker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make(map[int64]int64) // style id -> catalogue id
	kept := m.speakers[:0:0]
	for _, s := range m.speakers {
		if s.Generator == gen {
			existing[s.StyleID] = s.ID
			continue
		}
		kept = append(kept, s)
	}
	for _, sp := range speakers {
		sp.Generator = gen
		id, ok := existing[sp.StyleID]
		if !ok {
			id = m.nextID
			m.nextID++
		}
		delete(existing, sp.StyleID)
		kept = append(kept, Speaker{ID: id, Speaker: sp})
	}
	m.speakers = kept
	return nil
}

// Ping implements Store.
func (m *MemStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *MemStore) Close() error { return nil }

func cloneUserConfig(cfg UserConfig) UserConfig {
	if cfg.ReadNickname != nil {
		n := *cfg.ReadNickname
		cfg.ReadNickname = &n
	}
	return cfg
}

func sortSpeakers(s []Speaker) {
	slices.SortFunc(s, func(a, b Speaker) int {
		if c := cmp.Compare(a.Generator, b.Generator); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
