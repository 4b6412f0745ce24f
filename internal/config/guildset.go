package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// GuildSet is the persisted set of guilds the bot has been activated in. It
// only decides where slash commands are registered. Safe for concurrent use.
type GuildSet struct {
	path string

	mu  sync.Mutex
	ids map[string]struct{}
}

type guildFile struct {
	Guilds []string `yaml:"guilds"`
}

// LoadGuildSet reads the guild file at path. A missing file yields an empty
// set that is created on the first [GuildSet.Add].
func LoadGuildSet(path string) (*GuildSet, error) {
	gs := &GuildSet{path: path, ids: make(map[string]struct{})}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return gs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read guild set: %w", err)
	}
	var f guildFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse guild set %q: %w", path, err)
	}
	for _, id := range f.Guilds {
		if id != "" {
			gs.ids[id] = struct{}{}
		}
	}
	return gs, nil
}

// IDs returns the guild ids in sorted order.
func (g *GuildSet) IDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sortedLocked()
}

// Contains reports whether id is in the set.
func (g *GuildSet) Contains(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.ids[id]
	return ok
}

// Add inserts id and persists the set. It reports whether id was new.
func (g *GuildSet) Add(id string) (bool, error) {
	if id == "" {
		return false, errors.New("config: empty guild id")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.ids[id]; ok {
		return false, nil
	}
	g.ids[id] = struct{}{}
	if err := g.saveLocked(); err != nil {
		delete(g.ids, id)
		return false, err
	}
	return true, nil
}

func (g *GuildSet) sortedLocked() []string {
	out := make([]string, 0, len(g.ids))
	for id := range g.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// saveLocked writes the file atomically via a temporary file and rename.
func (g *GuildSet) saveLocked() error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(guildFile{Guilds: g.sortedLocked()}); err != nil {
		return fmt.Errorf("config: encode guild set: %w", err)
	}
	_ = enc.Close()

	dir := filepath.Dir(g.path)
	tmp, err := os.CreateTemp(dir, ".guilds-*.yaml")
	if err != nil {
		return fmt.Errorf("config: save guild set: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("config: save guild set: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: save guild set: %w", err)
	}
	if err := os.Rename(tmp.Name(), g.path); err != nil {
		return fmt.Errorf("config: save guild set: %w", err)
	}
	return nil
}
