package apps

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// StaticStore serves a fixed set of apps loaded at startup.
type StaticStore struct {
	mu    sync.RWMutex
	byKey map[string]App
	byID  map[string]App
}

// NewStaticStore validates apps, applies defaults, and indexes them by id and key.
func NewStaticStore(d Defaults, list ...App) (*StaticStore, error) {
	s := &StaticStore{
		byKey: make(map[string]App, len(list)),
		byID:  make(map[string]App, len(list)),
	}
	for _, a := range list {
		if err := Validate(a); err != nil {
			return nil, err
		}
		if _, dup := s.byID[a.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidApp, a.ID)
		}
		if _, dup := s.byKey[a.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidApp, a.Key)
		}
		a = a.WithDefaults(d)
		s.byID[a.ID] = a
		s.byKey[a.Key] = a
	}
	return s, nil
}

// FindByKey returns the app with the given public key.
func (s *StaticStore) FindByKey(ctx context.Context, key string) (App, error) {
	if err := ctx.Err(); err != nil {
		return App{}, err
	}
	s.mu.RLock()
	a, ok := s.byKey[strings.TrimSpace(key)]
	s.mu.RUnlock()
	if !ok {
		return App{}, ErrAppNotFound
	}
	return a.clone(), nil
}

// FindByID returns the app with the given id.
func (s *StaticStore) FindByID(ctx context.Context, id string) (App, error) {
	if err := ctx.Err(); err != nil {
		return App{}, err
	}
	s.mu.RLock()
	a, ok := s.byID[strings.TrimSpace(id)]
	s.mu.RUnlock()
	if !ok {
		return App{}, ErrAppNotFound
	}
	return a.clone(), nil
}

// Len returns the number of configured apps.
func (s *StaticStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// LoadFile reads a YAML document of the form `apps: [...]`.
// Apps omitting `enabled` are enabled.
func LoadFile(path string) ([]App, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML decodes an apps document.
func ParseYAML(data []byte) ([]App, error) {
	var raw struct {
		Apps []yaml.Node `yaml:"apps"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("apps yaml: %w", err)
	}

	out := make([]App, 0, len(raw.Apps))
	for i := range raw.Apps {
		a := App{Enabled: true}
		if err := raw.Apps[i].Decode(&a); err != nil {
			return nil, fmt.Errorf("apps yaml: entry %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}
