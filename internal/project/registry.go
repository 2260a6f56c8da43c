// Package project keeps the registry of indexed projects in
// projects.toml.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"connidx/internal/content"
	cerrors "connidx/internal/errors"
)

// FileName is the registry file inside the data directory.
const FileName = "projects.toml"

// Project is one registered source tree.
type Project struct {
	// ID is the project_id used in every table.
	ID string `toml:"id"`

	// UID is an immutable identifier assigned on registration.
	UID string `toml:"uid"`

	// Root is the absolute path of the project tree.
	Root string `toml:"root"`

	// Include and Exclude are doublestar globs over relative paths.
	Include []string `toml:"include,omitempty"`
	Exclude []string `toml:"exclude,omitempty"`

	AddedAt time.Time `toml:"added_at"`
}

// Filter returns the file filter of the project.
func (p *Project) Filter() content.Filter {
	return content.Filter{Include: p.Include, Exclude: p.Exclude}
}

// Registry is the in-memory form of projects.toml.
type Registry struct {
	path string

	UpdatedAt time.Time `toml:"updated_at"`
	Projects  []Project `toml:"projects"`
}

// Path returns the registry file path below a data directory.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Load reads the registry at path. A missing file yields an empty
// registry.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}
	if _, err := toml.DecodeFile(path, r); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return r, nil
}

// Save writes the registry back to its file.
func (r *Registry) Save() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	f, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("failed to create registry file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(r); err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	return nil
}

// Add registers a project. root is made absolute.
func (r *Registry) Add(id, root string, include, exclude []string) (*Project, error) {
	if id == "" {
		return nil, fmt.Errorf("project id must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid project root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("invalid project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", abs)
	}

	for _, p := range r.Projects {
		if p.ID == id {
			return nil, fmt.Errorf("project %q already exists", id)
		}
	}

	p := Project{
		ID:      id,
		UID:     uuid.New().String(),
		Root:    abs,
		Include: include,
		Exclude: exclude,
		AddedAt: time.Now().UTC(),
	}
	r.Projects = append(r.Projects, p)
	r.UpdatedAt = time.Now().UTC()
	return &r.Projects[len(r.Projects)-1], nil
}

// Remove unregisters a project.
func (r *Registry) Remove(id string) error {
	for i, p := range r.Projects {
		if p.ID == id {
			r.Projects = append(r.Projects[:i], r.Projects[i+1:]...)
			r.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return notFound(id)
}

// Get returns the project with id.
func (r *Registry) Get(id string) (*Project, error) {
	for i := range r.Projects {
		if r.Projects[i].ID == id {
			return &r.Projects[i], nil
		}
	}
	return nil, notFound(id)
}

// List returns the projects sorted by id.
func (r *Registry) List() []Project {
	out := append([]Project(nil), r.Projects...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the sorted project ids.
func (r *Registry) IDs() []string {
	var ids []string
	for _, p := range r.List() {
		ids = append(ids, p.ID)
	}
	return ids
}

// Roots maps every project id to its root, the shape content.NewFS takes.
func (r *Registry) Roots() map[string]string {
	out := make(map[string]string, len(r.Projects))
	for _, p := range r.Projects {
		out[p.ID] = p.Root
	}
	return out
}

func notFound(id string) error {
	return cerrors.New(cerrors.ProjectNotFound, fmt.Sprintf("project %q is not registered", id), nil)
}
