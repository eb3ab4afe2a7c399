package course

import (
	"os"
	"path/filepath"
	"testing"
)

const validCourse = `
id = "links-01"
name = "Seaside Links"

[[holes]]
number = 1
par = 4
length_m = 350.0
green_lat = 37.4419
green_lon = -122.1430

[[holes]]
number = 2
par = 3
length_m = 160.0
green_lat = 37.4425
green_lon = -122.1442
`

func writeCourse(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeCourse(t, t.TempDir(), "links.toml", validCourse)

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.ID != "links-01" || len(c.Holes) != 2 {
		t.Errorf("course = %+v", c)
	}

	h, ok := c.Hole(2)
	if !ok || h.Par != 3 || h.LengthM != 160.0 {
		t.Errorf("Hole(2) = %+v, ok=%v", h, ok)
	}
	if _, ok := c.Hole(19); ok {
		t.Error("unknown hole should report false")
	}
}

func TestValidateRejectsBadCourses(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"missing id", "name = \"x\"\n[[holes]]\nnumber = 1\nlength_m = 100.0"},
		{"no holes", "id = \"c\"\nname = \"x\""},
		{"bad hole number", "id = \"c\"\n[[holes]]\nnumber = 0\nlength_m = 100.0"},
		{"duplicate hole", "id = \"c\"\n[[holes]]\nnumber = 1\nlength_m = 100.0\n[[holes]]\nnumber = 1\nlength_m = 90.0"},
		{"zero length", "id = \"c\"\n[[holes]]\nnumber = 1\nlength_m = 0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCourse(t, t.TempDir(), "bad.toml", tt.toml)
			if _, err := LoadFile(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadDirSkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	writeCourse(t, dir, "good.toml", validCourse)
	writeCourse(t, dir, "bad.toml", "id = \"broken\"")
	writeCourse(t, dir, "notes.txt", "not a course")

	r := NewRegistry()
	loaded, errs := r.LoadDir(dir)
	if loaded != 1 {
		t.Errorf("loaded = %d, want 1", loaded)
	}
	if len(errs) != 1 {
		t.Errorf("errs = %d, want 1", len(errs))
	}
	if _, ok := r.Get("links-01"); !ok {
		t.Error("valid course should register despite the invalid sibling")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryAddReplaces(t *testing.T) {
	r := NewRegistry()
	r.Add(&Course{ID: "c", Name: "old", Holes: []Hole{{Number: 1, LengthM: 100}}})
	r.Add(&Course{ID: "c", Name: "new", Holes: []Hole{{Number: 1, LengthM: 100}}})

	c, ok := r.Get("c")
	if !ok || c.Name != "new" {
		t.Errorf("Get = %+v, want the replacement", c)
	}
}
