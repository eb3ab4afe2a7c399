// Package course loads golf course geometry from TOML files. The context
// classifier needs each hole's nominal length and green position to tell
// a tee shot from a putt.
package course

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Hole is one hole's geometry.
type Hole struct {
	Number   int     `toml:"number"`
	Par      int     `toml:"par"`
	LengthM  float64 `toml:"length_m"`
	GreenLat float64 `toml:"green_lat"`
	GreenLon float64 `toml:"green_lon"`
}

// Course is a named layout of holes.
type Course struct {
	ID    string `toml:"id"`
	Name  string `toml:"name"`
	Holes []Hole `toml:"holes"`
}

// Validate checks a loaded course definition.
func (c *Course) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("course: missing id")
	}
	if len(c.Holes) == 0 {
		return fmt.Errorf("course %s: no holes", c.ID)
	}
	seen := make(map[int]bool, len(c.Holes))
	for _, h := range c.Holes {
		if h.Number <= 0 {
			return fmt.Errorf("course %s: invalid hole number %d", c.ID, h.Number)
		}
		if seen[h.Number] {
			return fmt.Errorf("course %s: duplicate hole %d", c.ID, h.Number)
		}
		seen[h.Number] = true
		if h.LengthM <= 0 {
			return fmt.Errorf("course %s hole %d: invalid length %.1f", c.ID, h.Number, h.LengthM)
		}
	}
	return nil
}

// Hole returns the geometry for a hole number, or false when unknown.
func (c *Course) Hole(number int) (Hole, bool) {
	for _, h := range c.Holes {
		if h.Number == number {
			return h, true
		}
	}
	return Hole{}, false
}

// Registry holds loaded courses keyed by ID.
type Registry struct {
	mu      sync.RWMutex
	courses map[string]*Course
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{courses: make(map[string]*Course)}
}

// LoadDir parses every *.toml course file in dir. Invalid files are
// skipped with the error reported in the returned slice; valid courses
// still register.
func (r *Registry) LoadDir(dir string) (int, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, []error{fmt.Errorf("read course dir: %w", err)}
	}

	var errs []error
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		course, err := LoadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.Add(course)
		loaded++
	}
	return loaded, errs
}

// LoadFile parses and validates one course file.
func LoadFile(path string) (*Course, error) {
	var course Course
	if _, err := toml.DecodeFile(path, &course); err != nil {
		return nil, fmt.Errorf("parse course %s: %w", path, err)
	}
	if err := course.Validate(); err != nil {
		return nil, err
	}
	return &course, nil
}

// Add registers a course, replacing any previous one with the same ID.
func (r *Registry) Add(c *Course) {
	r.mu.Lock()
	r.courses[c.ID] = c
	r.mu.Unlock()
}

// Get returns a course by ID.
func (r *Registry) Get(id string) (*Course, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.courses[id]
	return c, ok
}

// Len returns the number of registered courses.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.courses)
}
