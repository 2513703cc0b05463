// Package store persists application state: projects, worktrees, sessions
// and the key-value settings map. State lives in a single JSON file that is
// loaded at startup and written through on every mutation.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicdev/mosaic/internal/errors"
)

// Session is an application-level conversation.
type Session struct {
	ID         string    `json:"id"`
	WorktreeID string    `json:"worktree_id"`
	Name       string    `json:"name"`
	Title      string    `json:"title,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Worktree is a git worktree a session runs in.
type Worktree struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	Branch        string    `json:"branch"`
	BranchRenamed bool      `json:"branch_renamed,omitempty"` // one-shot auto-rename flag
	CreatedAt     time.Time `json:"created_at"`
}

// Project is a repository registered with the application.
type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Path         string `json:"path"`
	BranchPrefix string `json:"branch_prefix,omitempty"`
}

// Store holds all persisted application state.
type Store struct {
	Projects  []Project         `json:"projects"`
	Worktrees []Worktree        `json:"worktrees"`
	Sessions  []Session         `json:"sessions"`
	Settings  map[string]string `json:"settings"`

	mu       sync.RWMutex
	filePath string
}

// DefaultPath returns the default store file under the user's home directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mosaic", "state.json"), nil
}

// Load reads the store from path, returning an empty store if the file does
// not exist yet.
func Load(path string) (*Store, error) {
	s := &Store{
		Projects:  []Project{},
		Worktrees: []Worktree{},
		Sessions:  []Session{},
		Settings:  make(map[string]string),
		filePath:  path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.E(errors.Op("store.Load"), errors.KindIO, err)
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, errors.E(errors.Op("store.Load"), errors.KindConfig, "corrupt store file", err)
	}
	s.ensureInitialized()
	return s, nil
}

func (s *Store) ensureInitialized() {
	if s.Projects == nil {
		s.Projects = []Project{}
	}
	if s.Worktrees == nil {
		s.Worktrees = []Worktree{}
	}
	if s.Sessions == nil {
		s.Sessions = []Session{}
	}
	if s.Settings == nil {
		s.Settings = make(map[string]string)
	}
}

// Save writes the store to disk.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, data, 0644)
}

// GetSetting returns the value for key, or "" when unset.
func (s *Store) GetSetting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Settings[key], nil
}

// SetSetting stores key=value and persists.
func (s *Store) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Settings[key] = value
	return s.saveLocked()
}

// AddProject registers a project and persists.
func (s *Store) AddProject(name, path, branchPrefix string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Project{ID: uuid.NewString(), Name: name, Path: path, BranchPrefix: branchPrefix}
	s.Projects = append(s.Projects, p)
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProject returns the project with the given id.
func (s *Store) GetProject(id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.Projects {
		if s.Projects[i].ID == id {
			p := s.Projects[i]
			return &p, nil
		}
	}
	return nil, errors.E(errors.Op("store.GetProject"), errors.KindNotFound, "project "+id+" not found")
}

// AddWorktree registers a worktree and persists.
func (s *Store) AddWorktree(projectID, name, path, branch string) (*Worktree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := Worktree{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      name,
		Path:      path,
		Branch:    branch,
		CreatedAt: time.Now(),
	}
	s.Worktrees = append(s.Worktrees, w)
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWorktree returns the worktree with the given id.
func (s *Store) GetWorktree(id string) (*Worktree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.Worktrees {
		if s.Worktrees[i].ID == id {
			w := s.Worktrees[i]
			return &w, nil
		}
	}
	return nil, errors.E(errors.Op("store.GetWorktree"), errors.KindNotFound, "worktree "+id+" not found")
}

// WorktreeBySessionID returns the worktree the given session runs in.
func (s *Store) WorktreeBySessionID(sessionID string) (*Worktree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.Sessions {
		if s.Sessions[i].ID == sessionID {
			wtID := s.Sessions[i].WorktreeID
			for j := range s.Worktrees {
				if s.Worktrees[j].ID == wtID {
					w := s.Worktrees[j]
					return &w, nil
				}
			}
			break
		}
	}
	return nil, errors.E(errors.Op("store.WorktreeBySessionID"), errors.KindNotFound, "no worktree for session "+sessionID)
}

// UpdateWorktree replaces the stored worktree with the same ID and persists.
func (s *Store) UpdateWorktree(w *Worktree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Worktrees {
		if s.Worktrees[i].ID == w.ID {
			s.Worktrees[i] = *w
			return s.saveLocked()
		}
	}
	return errors.E(errors.Op("store.UpdateWorktree"), errors.KindNotFound, "worktree "+w.ID+" not found")
}

// AddSession registers a session and persists.
func (s *Store) AddSession(worktreeID, name string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	sess := Session{
		ID:         uuid.NewString(),
		WorktreeID: worktreeID,
		Name:       name,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.Sessions = append(s.Sessions, sess)
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession returns the session with the given id.
func (s *Store) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.Sessions {
		if s.Sessions[i].ID == id {
			sess := s.Sessions[i]
			return &sess, nil
		}
	}
	return nil, errors.E(errors.Op("store.GetSession"), errors.KindNotFound, "session "+id+" not found")
}

// UpdateSession replaces the stored session with the same ID and persists.
func (s *Store) UpdateSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Sessions {
		if s.Sessions[i].ID == sess.ID {
			sess.UpdatedAt = time.Now()
			s.Sessions[i] = *sess
			return s.saveLocked()
		}
	}
	return errors.E(errors.Op("store.UpdateSession"), errors.KindNotFound, "session "+sess.ID+" not found")
}
