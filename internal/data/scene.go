package data

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/reciperage/syncd/internal/scene"
	"gopkg.in/yaml.v3"
)

// SceneEntry is one row of scene_list.yaml.
type SceneEntry struct {
	Name         string   `yaml:"name"`
	RequiresSync bool     `yaml:"requires_sync"`
	Dependencies []string `yaml:"dependencies"`
	Timeout      string   `yaml:"timeout"` // Go duration, empty = server default
	Mode         string   `yaml:"mode"`    // single | additive
	Note         string   `yaml:"note"`
}

// SceneTable is the loadable scene catalog. It implements scene.Catalog.
type SceneTable struct {
	scenes map[string]scene.Payload
}

// LoadSceneTable loads scene_list.yaml. Every dependency must name another
// entry and dependency chains must not loop.
func LoadSceneTable(path string) (*SceneTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene list: %w", err)
	}
	var entries []SceneEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse scene list: %w", err)
	}
	return buildSceneTable(entries)
}

func buildSceneTable(entries []SceneEntry) (*SceneTable, error) {
	t := &SceneTable{scenes: make(map[string]scene.Payload, len(entries))}
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("scene entry without a name")
		}
		if _, dup := t.scenes[e.Name]; dup {
			return nil, fmt.Errorf("scene %q listed twice", e.Name)
		}
		mode, err := scene.ParseLoadMode(e.Mode)
		if err != nil {
			return nil, fmt.Errorf("scene %q: %w", e.Name, err)
		}
		var timeout time.Duration
		if e.Timeout != "" {
			if timeout, err = time.ParseDuration(e.Timeout); err != nil || timeout <= 0 {
				return nil, fmt.Errorf("scene %q: bad timeout %q", e.Name, e.Timeout)
			}
		}
		t.scenes[e.Name] = scene.Payload{
			Name:         e.Name,
			RequiresSync: e.RequiresSync,
			Dependencies: append([]string(nil), e.Dependencies...),
			Timeout:      timeout,
			Mode:         mode,
		}
	}
	for name, p := range t.scenes {
		for _, dep := range p.Dependencies {
			if _, ok := t.scenes[dep]; !ok {
				return nil, fmt.Errorf("scene %q depends on unknown scene %q", name, dep)
			}
		}
	}
	if err := t.checkCycles(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *SceneTable) checkCycles() error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(t.scenes))
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("scene dependency cycle: %v", append(path, name))
		case done:
			return nil
		}
		state[name] = visiting
		for _, dep := range t.scenes[name].Dependencies {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}
	for _, name := range t.Names() {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the payload for name.
func (t *SceneTable) Resolve(name string) (scene.Payload, bool) {
	p, ok := t.scenes[name]
	return p, ok
}

// Names returns every scene name in sorted order.
func (t *SceneTable) Names() []string {
	names := make([]string, 0, len(t.scenes))
	for name := range t.scenes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the total number of scenes loaded.
func (t *SceneTable) Count() int {
	return len(t.scenes)
}
