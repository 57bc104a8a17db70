// Package state records the deployments started or followed from this
// machine in a JSON file under the user's launchpad directory.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/launchpad-dev/launchpad-cli/pkg/deployment"
)

const (
	// StateFileName is the name of the state file inside the state directory
	StateFileName = "state.json"
	// StoreVersion is written into every saved state file
	StoreVersion = 1
	// MaxHistoryEntries is the maximum number of deployments to keep
	MaxHistoryEntries = 50
)

// ErrNotFound is returned when a deployment or project is not recorded
var ErrNotFound = errors.New("not found in local state")

// Manager loads and saves the state file. Every mutation goes through
// Update, which holds both an in-process mutex and a file lock.
type Manager struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// DefaultDir returns $HOME/.launchpad
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".launchpad"), nil
}

// NewManager creates a manager storing its file in dir
func NewManager(dir string) *Manager {
	return &Manager{dir: dir, now: time.Now}
}

// Default creates a manager for DefaultDir
func Default() (*Manager, error) {
	dir, err := DefaultDir()
	if err != nil {
		return nil, err
	}
	return NewManager(dir), nil
}

// Path returns the state file location
func (m *Manager) Path() string {
	return filepath.Join(m.dir, StateFileName)
}

// Load reads the state file. A missing file yields an empty store.
func (m *Manager) Load() (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

// Update loads the store, applies fn and saves the result, all under the
// state lock. Nothing is written when fn returns an error.
func (m *Manager) Update(ctx context.Context, operation string, fn func(*Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	lock := newFileLock(filepath.Join(m.dir, LockFileName))
	if err := lock.acquire(ctx, operation); err != nil {
		return err
	}
	defer lock.release()

	store, err := m.load()
	if err != nil {
		return err
	}
	if err := fn(store); err != nil {
		return err
	}

	store.Version = StoreVersion
	store.LastUpdated = m.now().UTC()
	store.prune(MaxHistoryEntries)
	return saveJSON(m.Path(), store)
}

// AddProject records a project, replacing any existing entry with the same id
func (m *Manager) AddProject(ctx context.Context, p Project) error {
	return m.Update(ctx, "add-project", func(s *Store) error {
		p.UpdatedAt = m.now().UTC()
		s.Projects[p.ID] = &p
		return nil
	})
}

// UpdateProjectStatus sets the status of a recorded project
func (m *Manager) UpdateProjectStatus(ctx context.Context, id string, status deployment.Status) error {
	return m.Update(ctx, "update-project", func(s *Store) error {
		p, ok := s.Projects[id]
		if !ok {
			return fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		p.Status = status
		p.UpdatedAt = m.now().UTC()
		return nil
	})
}

// AddDeployment records a new deployment as the most recent one and makes
// it current. Its project is created on first sight.
func (m *Manager) AddDeployment(ctx context.Context, rec DeploymentRecord) error {
	if rec.ID == "" {
		return errors.New("deployment id is required")
	}
	return m.Update(ctx, "add-deployment", func(s *Store) error {
		now := m.now().UTC()
		if rec.StartedAt.IsZero() {
			rec.StartedAt = now
		}
		if rec.User == "" {
			rec.User = GetCurrentUser()
		}
		s.removeDeployment(rec.ID)
		s.Deployments = append([]*DeploymentRecord{&rec}, s.Deployments...)
		s.CurrentDeployment = rec.ID

		if rec.ProjectID != "" {
			p, ok := s.Projects[rec.ProjectID]
			if !ok {
				p = &Project{ID: rec.ProjectID}
				s.Projects[rec.ProjectID] = p
			}
			p.LastDeployment = rec.ID
			p.Status = rec.Status
			p.UpdatedAt = now
		}
		return nil
	})
}

// UpdateDeployment applies fn to a recorded deployment. Reaching a terminal
// status stamps FinishedAt and Duration and updates the project status.
func (m *Manager) UpdateDeployment(ctx context.Context, id string, fn func(*DeploymentRecord)) error {
	return m.Update(ctx, "update-deployment", func(s *Store) error {
		rec := s.Deployment(id)
		if rec == nil {
			return fmt.Errorf("deployment %s: %w", id, ErrNotFound)
		}
		wasFinished := rec.Finished()
		fn(rec)

		now := m.now().UTC()
		if rec.Finished() && !wasFinished {
			rec.FinishedAt = now
			rec.Duration = now.Sub(rec.StartedAt)
		}
		if p, ok := s.Projects[rec.ProjectID]; ok && p.LastDeployment == rec.ID {
			p.Status = rec.Status
			p.UpdatedAt = now
		}
		return nil
	})
}

// SetCurrentDeployment marks id as the deployment commands default to
func (m *Manager) SetCurrentDeployment(ctx context.Context, id string) error {
	return m.Update(ctx, "set-current", func(s *Store) error {
		if id != "" && s.Deployment(id) == nil {
			return fmt.Errorf("deployment %s: %w", id, ErrNotFound)
		}
		s.CurrentDeployment = id
		return nil
	})
}

// Current returns the current deployment, or ErrNotFound
func (m *Manager) Current() (*DeploymentRecord, error) {
	store, err := m.Load()
	if err != nil {
		return nil, err
	}
	if rec := store.Deployment(store.CurrentDeployment); rec != nil {
		return rec, nil
	}
	return nil, fmt.Errorf("current deployment: %w", ErrNotFound)
}

// ListDeployments lists recorded deployments with optional filtering, newest first
func (m *Manager) ListDeployments(opts *HistoryOptions) ([]*DeploymentRecord, error) {
	store, err := m.Load()
	if err != nil {
		return nil, err
	}
	return store.Filter(opts), nil
}

// Deployment returns the record for id, or nil
func (s *Store) Deployment(id string) *DeploymentRecord {
	if id == "" {
		return nil
	}
	for _, d := range s.Deployments {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// Filter applies opts to the recorded deployments
func (s *Store) Filter(opts *HistoryOptions) []*DeploymentRecord {
	if opts == nil {
		opts = &HistoryOptions{Limit: 10, IncludeFailed: true}
	}

	var result []*DeploymentRecord
	for _, dep := range s.Deployments {
		if opts.Status != "" && dep.Status != opts.Status {
			continue
		}
		if opts.ProjectID != "" && dep.ProjectID != opts.ProjectID {
			continue
		}
		if !opts.Since.IsZero() && dep.StartedAt.Before(opts.Since) {
			continue
		}
		if !opts.IncludeFailed && opts.Status == "" &&
			(dep.Status == deployment.StatusFailed || dep.Status == deployment.StatusCancelled) {
			continue
		}
		result = append(result, dep)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result
}

func (s *Store) removeDeployment(id string) {
	kept := s.Deployments[:0]
	for _, d := range s.Deployments {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	s.Deployments = kept
}

// prune drops the oldest deployments beyond max. The current deployment is
// never dropped.
func (s *Store) prune(max int) {
	if len(s.Deployments) <= max {
		return
	}
	kept := s.Deployments[:max]
	if s.CurrentDeployment != "" && s.Deployment(s.CurrentDeployment) != nil {
		found := false
		for _, d := range kept {
			if d.ID == s.CurrentDeployment {
				found = true
				break
			}
		}
		if !found {
			kept = append(kept[:max-1], s.Deployment(s.CurrentDeployment))
		}
	}
	s.Deployments = kept
}

func (m *Manager) load() (*Store, error) {
	store := &Store{}
	if err := loadJSON(m.Path(), store); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.Path(), err)
	}
	if store.Projects == nil {
		store.Projects = make(map[string]*Project)
	}
	return store, nil
}

// saveJSON writes data atomically: a temp file in the same directory is
// renamed over path.
func saveJSON(path string, data any) error {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, bytes, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func loadJSON(path string, target any) error {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, target)
}

// GetCurrentUser returns the current system user for deployment tracking
func GetCurrentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// FormatDeploymentID shortens a deployment ID for tables
func FormatDeploymentID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// FormatDuration formats a duration for display
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}
