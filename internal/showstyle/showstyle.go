// Package showstyle loads show configuration: the source layers pieces
// play on and the actions an operator can trigger.
//
// A show style is one YAML file per ID in the studio's show_style_dir:
//
//	id: news
//	name: Evening News
//	source_layers:
//	  - id: cam
//	    name: Camera
//	    output_layer: pgm
//	  - id: gfx-lower
//	    name: Lower Third
//	    output_layer: pgm
//	    allow_disable: true
//	actions:
//	  - id: lower-third
//	    handler: insert-piece
//	    label: Lower third
//	    options:
//	      source_layer: gfx-lower
//	      duration_ms: 8000
//
// An action's handler names a registered action implementation; options are
// passed to it unchanged.
package showstyle

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned when no file exists for a show style ID.
	ErrNotFound = errors.New("showstyle: not found")

	// ErrInvalid is returned for a show style that fails validation.
	ErrInvalid = errors.New("showstyle: invalid")
)

// SourceLayer is a logical input that pieces play on.
type SourceLayer struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	OutputLayerID string `yaml:"output_layer" json:"output_layer"`

	// AllowDisable lets the operator skip pieces on this layer with
	// disable-next-piece.
	AllowDisable bool `yaml:"allow_disable" json:"allow_disable"`
	IsHidden     bool `yaml:"is_hidden" json:"is_hidden"`
}

// Action is an operator-triggerable action.
type Action struct {
	ID      string         `yaml:"id" json:"id"`
	Label   string         `yaml:"label" json:"label"`
	Handler string         `yaml:"handler" json:"handler"`
	Options map[string]any `yaml:"options" json:"options,omitempty"`
}

// ShowStyle is the resolved configuration of one show format.
type ShowStyle struct {
	ID           string        `yaml:"id" json:"id"`
	Name         string        `yaml:"name" json:"name"`
	SourceLayers []SourceLayer `yaml:"source_layers" json:"source_layers"`
	Actions      []Action      `yaml:"actions" json:"actions"`
}

// SourceLayer returns the layer with the given ID.
func (s *ShowStyle) SourceLayer(id string) (SourceLayer, bool) {
	for _, l := range s.SourceLayers {
		if l.ID == id {
			return l, true
		}
	}
	return SourceLayer{}, false
}

// Action returns the action with the given ID.
func (s *ShowStyle) Action(id string) (Action, bool) {
	for _, a := range s.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// Validate checks that IDs are present and unique.
func (s *ShowStyle) Validate() error {
	var errs []string
	if strings.TrimSpace(s.ID) == "" {
		errs = append(errs, "id is required")
	}

	layers := make(map[string]bool, len(s.SourceLayers))
	for i, l := range s.SourceLayers {
		switch {
		case l.ID == "":
			errs = append(errs, fmt.Sprintf("source_layers[%d]: id is required", i))
		case layers[l.ID]:
			errs = append(errs, fmt.Sprintf("source_layers[%d]: duplicate id %q", i, l.ID))
		}
		layers[l.ID] = true
	}

	actions := make(map[string]bool, len(s.Actions))
	for i, a := range s.Actions {
		switch {
		case a.ID == "":
			errs = append(errs, fmt.Sprintf("actions[%d]: id is required", i))
		case actions[a.ID]:
			errs = append(errs, fmt.Sprintf("actions[%d]: duplicate id %q", i, a.ID))
		}
		actions[a.ID] = true
		if a.Handler == "" {
			errs = append(errs, fmt.Sprintf("actions[%d]: handler is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// Parse decodes and validates a show style document.
func Parse(data []byte) (*ShowStyle, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalid)
	}
	var s ShowStyle
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: decoding: %w", ErrInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Loader reads show styles from a directory and caches them by ID.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Loader struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*ShowStyle
}

// NewLoader creates a Loader over dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: make(map[string]*ShowStyle)}
}

// Register adds a show style directly, bypassing the filesystem.
func (l *Loader) Register(s *ShowStyle) error {
	if err := s.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.cache[s.ID] = s
	l.mu.Unlock()
	return nil
}

// Get returns the show style with the given ID, reading <dir>/<id>.yaml
// (or .yml) on first use.
func (l *Loader) Get(id string) (*ShowStyle, error) {
	l.mu.RLock()
	s, ok := l.cache[id]
	l.mu.RUnlock()
	if ok {
		return s, nil
	}

	if id == "" || strings.ContainsAny(id, `/\`) || l.dir == "" {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	var data []byte
	var err error
	for _, ext := range []string{".yaml", ".yml"} {
		data, err = os.ReadFile(filepath.Join(l.dir, id+ext))
		if err == nil || !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("showstyle: reading %s: %w", id, err)
	}

	s, err = Parse(data)
	if err != nil {
		return nil, fmt.Errorf("showstyle %s: %w", id, err)
	}
	if s.ID != id {
		return nil, fmt.Errorf("%w: file %s declares id %q", ErrInvalid, id, s.ID)
	}

	l.mu.Lock()
	l.cache[id] = s
	l.mu.Unlock()
	return s, nil
}

// Invalidate drops every cached show style so the next Get rereads disk.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.cache = make(map[string]*ShowStyle)
	l.mu.Unlock()
}
