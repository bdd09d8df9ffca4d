package turn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	turnFileMode = 0644
	turnDirMode  = 0755
)

// Store persists turns to disk, one JSON file per turn under
// <workspace>/state/turns/. Every phase transition is saved so suspended
// turns survive a process restart.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a turn store rooted at the workspace state directory.
func NewStore(workspace string) *Store {
	return &Store{dir: filepath.Join(workspace, "state", "turns")}
}

// Save writes a turn record atomically.
func (s *Store) Save(t *Turn) error {
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("save turn: missing id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal turn %s: %w", t.ID, err)
	}

	if err := os.MkdirAll(s.dir, turnDirMode); err != nil {
		return fmt.Errorf("create turn store dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.dir, "turn-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp turn file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(encoded); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp turn file: %w", err)
	}
	if err := tmpFile.Chmod(turnFileMode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp turn file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp turn file: %w", err)
	}

	if err := os.Rename(tmpPath, s.turnPath(t.ID)); err != nil {
		return fmt.Errorf("replace turn file: %w", err)
	}
	return nil
}

// Load reads one turn by id. Returns ErrTurnNotFound for unknown ids.
func (s *Store) Load(id string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.turnPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTurnNotFound, id)
		}
		return nil, fmt.Errorf("read turn %s: %w", id, err)
	}

	var t Turn
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse turn %s: %w", id, err)
	}
	return &t, nil
}

// Exists reports whether a turn record is on disk.
func (s *Store) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := os.Stat(s.turnPath(id))
	return err == nil
}

// ListSuspended returns all persisted turns parked in AwaitingApproval,
// ordered by suspension time.
func (s *Store) ListSuspended() ([]*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read turn store dir: %w", err)
	}

	var suspended []*Turn
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var t Turn
		if err := json.Unmarshal(raw, &t); err != nil {
			continue
		}
		if t.Phase == PhaseAwaitingApproval {
			suspended = append(suspended, &t)
		}
	}

	sort.Slice(suspended, func(i, j int) bool {
		if suspended[i].Suspension == nil || suspended[j].Suspension == nil {
			return suspended[i].ID < suspended[j].ID
		}
		return suspended[i].Suspension.SuspendedAt.Before(suspended[j].Suspension.SuspendedAt)
	})
	return suspended, nil
}

func (s *Store) turnPath(id string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
	return filepath.Join(s.dir, safe+".json")
}
