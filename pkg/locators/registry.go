package locators

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry resolves logical names like "common.text_link" to locators.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Locator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Locator)}
}

// Default returns a registry preloaded with the Common locators.
func Default() *Registry {
	r := NewRegistry()
	r.Set("common.text_link", Common.TextLink)
	r.Set("common.content_link", Common.ContentLink)
	r.Set("common.views_link", Common.ViewsLink)
	r.Set("common.menu_elements", Common.MenuElements)
	r.Set("common.image_button", Common.ImageButton)
	r.Set("common.text_field", Common.TextField)
	return r
}

// Set adds or replaces an entry.
func (r *Registry) Set(name string, loc Locator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = loc
}

// Lookup returns the locator registered under name.
func (r *Registry) Lookup(name string) (Locator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.entries[name]
	if !ok {
		return Locator{}, fmt.Errorf("no locator named %q", name)
	}
	return loc, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fileEntry accepts both the mapping form and the two-element list form:
//
//	common.text_link: {strategy: accessibility id, value: Text}
//	common.text_link: [accessibility id, Text]
type fileEntry struct {
	Locator
}

func (e *fileEntry) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Strategy string `yaml:"strategy"`
		Value    string `yaml:"value"`
	}
	switch node.Kind {
	case yaml.SequenceNode:
		var pair []string
		if err := node.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("line %d: locator list must have exactly 2 items", node.Line)
		}
		raw.Strategy, raw.Value = pair[0], pair[1]
	case yaml.MappingNode:
		if err := node.Decode(&raw); err != nil {
			return err
		}
	default:
		return fmt.Errorf("line %d: locator must be a mapping or a list", node.Line)
	}

	strategy, err := ParseStrategy(raw.Strategy)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	e.Locator = New(strategy, raw.Value)
	return e.Locator.Validate()
}

// Load overlays entries from YAML data onto the registry.
func (r *Registry) Load(data []byte) error {
	var file map[string]fileEntry
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse locators: %w", err)
	}
	for name, entry := range file {
		r.Set(name, entry.Locator)
	}
	return nil
}

// LoadFile overlays entries from a YAML file onto the registry.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided locator file
	if err != nil {
		return err
	}
	return r.Load(data)
}
