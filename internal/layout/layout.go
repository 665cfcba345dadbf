// Package layout persists per-printer dashboard layouts, keyed by the
// printer's serial number
package layout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DirName is the layouts directory under the config dir
	DirName = "layouts"
)

// Panel ids understood by the dashboard renderer
const (
	PanelStatus       = "status"
	PanelTemperatures = "temperatures"
	PanelJob          = "job"
	PanelMaterial     = "material"
	PanelSpool        = "spool"
	PanelCounters     = "counters"
)

// KnownPanels lists every panel id in default order
var KnownPanels = []string{PanelStatus, PanelTemperatures, PanelJob, PanelMaterial, PanelSpool, PanelCounters}

// Layout is the dashboard arrangement for one printer
type Layout struct {
	// Panels are the visible panels, in display order
	Panels    []string  `json:"panels"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Default returns the layout used when nothing was saved
func Default() *Layout {
	panels := make([]string, len(KnownPanels))
	copy(panels, KnownPanels)
	return &Layout{Panels: panels}
}

// Visible reports whether panel is shown
func (l *Layout) Visible(panel string) bool {
	for _, p := range l.Panels {
		if p == panel {
			return true
		}
	}
	return false
}

// Validate rejects unknown or duplicate panel ids
func (l *Layout) Validate() error {
	seen := make(map[string]bool, len(l.Panels))
	for _, p := range l.Panels {
		if !isKnown(p) {
			return fmt.Errorf("unknown panel %q (known: %s)", p, strings.Join(KnownPanels, ", "))
		}
		if seen[p] {
			return fmt.Errorf("panel %q listed twice", p)
		}
		seen[p] = true
	}
	return nil
}

func isKnown(panel string) bool {
	for _, k := range KnownPanels {
		if k == panel {
			return true
		}
	}
	return false
}

// Store reads and writes layouts as one JSON file per printer
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory layouts are stored in
func (s *Store) Dir() string {
	return s.dir
}

// Load returns the saved layout for key, or the default layout if none
// was saved
func (s *Store) Load(key string) (*Layout, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}

	l := &Layout{}
	if err := json.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("failed to parse layout for %s: %w", key, err)
	}
	return l, nil
}

// Save writes the layout for key, replacing any previous file atomically
func (s *Store) Save(key string, l *Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create layout directory: %w", err)
	}

	l.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}

	path := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".layout-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write layout: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write layout: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace layout: %w", err)
	}
	return nil
}

// path maps a key to a file name, replacing characters that are unsafe in
// file names
func (s *Store) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
	if safe == "" || strings.Trim(safe, ".") == "" {
		safe = "_"
	}
	return filepath.Join(s.dir, safe+".json")
}
