package taskhub

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// currentSchemaVersion is stamped on every saved snapshot. Version 1
// predates per-space/per-list status lists.
const currentSchemaVersion = 2

type persistedState struct {
	SchemaVersion int            `json:"schemaVersion"`
	Tasks         []Task         `json:"tasks"`
	Spaces        []Space        `json:"spaces"`
	Folders       []Folder       `json:"folders"`
	Lists         []List         `json:"lists"`
	Tags          []Tag          `json:"tags"`
	Docs          []Doc          `json:"docs"`
	Dashboards    []Dashboard    `json:"dashboards"`
	Clips         []Clip         `json:"clips"`
	Notifications []Notification `json:"notifications"`
	Agents        []Agent        `json:"agents"`
	Views         []SavedView    `json:"views"`
	ActiveTimer   *ActiveTimer   `json:"activeTimer,omitempty"`
}

type StateBackend interface {
	Load() (*persistedState, error)
	Save(state *persistedState) error
}

type stateBackendCloser interface {
	Close() error
}

// defaultMigrate upgrades snapshots written by older versions. It is the
// identity transform for current-version data; for anything older it seeds
// the fields that did not exist yet instead of failing the load.
func defaultMigrate(state *persistedState, fromVersion int) error {
	if state == nil {
		return nil
	}
	if fromVersion >= currentSchemaVersion {
		return nil
	}
	for i := range state.Spaces {
		if len(state.Spaces[i].Statuses) == 0 {
			state.Spaces[i].Statuses = DefaultStatuses()
		}
	}
	for i := range state.Tasks {
		if state.Tasks[i].Subtasks == nil {
			state.Tasks[i].Subtasks = []Subtask{}
		}
	}
	state.SchemaVersion = currentSchemaVersion
	return nil
}

type JSONFileStateBackend struct {
	Path string
}

func NewJSONFileStateBackend(path string) *JSONFileStateBackend {
	return &JSONFileStateBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileStateBackend) Load() (*persistedState, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot persistedState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (b *JSONFileStateBackend) Save(state *persistedState) error {
	if b == nil || strings.TrimSpace(b.Path) == "" || state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}

type InMemoryStateBackend struct {
	mu       sync.Mutex
	snapshot *persistedState
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{}
}

func (b *InMemoryStateBackend) Load() (*persistedState, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	data, err := json.Marshal(b.snapshot)
	if err != nil {
		return nil, err
	}
	var clone persistedState
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

func (b *InMemoryStateBackend) Save(state *persistedState) error {
	if b == nil || state == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	var clone persistedState
	if err := json.Unmarshal(data, &clone); err != nil {
		return err
	}
	b.snapshot = &clone
	return nil
}
