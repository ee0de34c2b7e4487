package taskhub

import (
	"encoding/json"
	"log"
	"time"
)

// SharedSnapshot is the full remote view of shared collections, fetched on
// demand for reconciliation.
type SharedSnapshot struct {
	Spaces  []Space  `json:"spaces"`
	Folders []Folder `json:"folders"`
	Lists   []List   `json:"lists"`
	Tasks   []Task   `json:"tasks"`
}

// remoteWins is the whole-entity last-write-wins rule: the remote copy
// replaces the local one only when strictly newer, or when the local record
// predates timestamps entirely (recovering older persisted data). Concurrent
// edits to different fields therefore lose one side wholesale; that is the
// accepted trade-off of entity-granularity merging.
func remoteWins(localUpdated, remoteUpdated time.Time) bool {
	if localUpdated.IsZero() && !remoteUpdated.IsZero() {
		return true
	}
	return remoteUpdated.After(localUpdated)
}

// MergeSharedSnapshot reconciles each remote collection into local state
// independently: unknown ids are inserted, known ids resolved by
// remoteWins.
func (s *Store) MergeSharedSnapshot(snap SharedSnapshot) {
	s.mu.Lock()
	for _, remote := range snap.Spaces {
		if sp, ok := s.findSpaceLocked(remote.ID); ok {
			if remoteWins(sp.UpdatedAt, remote.UpdatedAt) {
				*sp = cloneSpace(remote)
			}
			continue
		}
		s.spaces = append(s.spaces, cloneSpace(remote))
	}
	for _, remote := range snap.Folders {
		if f, ok := s.findFolderLocked(remote.ID); ok {
			if remoteWins(f.UpdatedAt, remote.UpdatedAt) {
				*f = remote
			}
			continue
		}
		s.folders = append(s.folders, remote)
	}
	for _, remote := range snap.Lists {
		if l, ok := s.findListLocked(remote.ID); ok {
			if remoteWins(l.UpdatedAt, remote.UpdatedAt) {
				*l = cloneList(remote)
			}
			continue
		}
		s.lists = append(s.lists, cloneList(remote))
	}
	for _, remote := range snap.Tasks {
		if i, ok := s.findTaskLocked(remote.ID); ok {
			if remoteWins(s.tasks[i].UpdatedAt, remote.UpdatedAt) {
				s.tasks[i] = cloneTask(remote)
			}
			continue
		}
		s.tasks = append(s.tasks, cloneTask(remote))
	}
	s.normalizeCollectionsLocked()
	s.recountLocked()
	_ = s.saveLocked()
	s.mu.Unlock()
}

// SharedSnapshotFor builds the outbound view of the local shared spaces.
func (s *Store) SharedSnapshotFor() SharedSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := SharedSnapshot{Spaces: []Space{}, Folders: []Folder{}, Lists: []List{}, Tasks: []Task{}}
	shared := map[string]bool{}
	for i := range s.spaces {
		if s.spaces[i].IsShared {
			shared[s.spaces[i].ID] = true
			snap.Spaces = append(snap.Spaces, cloneSpace(s.spaces[i]))
		}
	}
	for i := range s.folders {
		if shared[s.folders[i].SpaceID] {
			snap.Folders = append(snap.Folders, s.folders[i])
		}
	}
	for i := range s.lists {
		if shared[s.lists[i].SpaceID] {
			snap.Lists = append(snap.Lists, cloneList(s.lists[i]))
		}
	}
	for i := range s.tasks {
		if shared[s.tasks[i].SpaceID] {
			snap.Tasks = append(snap.Tasks, cloneTask(s.tasks[i]))
		}
	}
	return snap
}

// ApplyRemoteUpdate merges one inbound live-channel event into local state.
// Unknown entity ids insert; known ids shallow-merge the incoming fields
// over the local copy. Remote deletes cascade the same way the direct
// delete operations do.
func (s *Store) ApplyRemoteUpdate(ev ChannelEvent) {
	switch ev.Type {
	case "task":
		var incoming Task
		if err := json.Unmarshal(ev.Data, &incoming); err != nil {
			log.Printf("taskhub: drop malformed remote task: %v", err)
			return
		}
		if incoming.ID == "" {
			return
		}
		s.mu.Lock()
		if i, ok := s.findTaskLocked(incoming.ID); ok {
			merged := s.tasks[i]
			// Decoding onto the existing copy applies only the fields the
			// remote payload actually carries.
			if err := json.Unmarshal(ev.Data, &merged); err == nil {
				s.tasks[i] = merged
			}
		} else {
			if incoming.Subtasks == nil {
				incoming.Subtasks = []Subtask{}
			}
			s.tasks = append([]Task{incoming}, s.tasks...)
		}
		s.recountLocked()
		_ = s.saveLocked()
		s.mu.Unlock()
	case "task_delete":
		id := remoteID(ev.Data)
		if id == "" {
			return
		}
		s.mu.Lock()
		if i, ok := s.findTaskLocked(id); ok {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
		}
		s.recountLocked()
		_ = s.saveLocked()
		s.mu.Unlock()
	case "list":
		var incoming List
		if err := json.Unmarshal(ev.Data, &incoming); err != nil {
			log.Printf("taskhub: drop malformed remote list: %v", err)
			return
		}
		if incoming.ID == "" {
			return
		}
		s.mu.Lock()
		if l, ok := s.findListLocked(incoming.ID); ok {
			merged := cloneList(*l)
			if err := json.Unmarshal(ev.Data, &merged); err == nil {
				*l = merged
			}
		} else {
			s.lists = append(s.lists, cloneList(incoming))
		}
		s.recountLocked()
		_ = s.saveLocked()
		s.mu.Unlock()
	case "list_delete":
		// Cascades to the list's tasks, matching the authoritative
		// DeleteList path rather than removing the list alone.
		id := remoteID(ev.Data)
		if id == "" {
			return
		}
		s.mu.Lock()
		lists := s.lists[:0]
		for _, l := range s.lists {
			if l.ID != id {
				lists = append(lists, l)
			}
		}
		s.lists = lists
		tasks := s.tasks[:0]
		for _, t := range s.tasks {
			if t.ListID != id {
				tasks = append(tasks, t)
			}
		}
		s.tasks = tasks
		s.recountLocked()
		_ = s.saveLocked()
		s.mu.Unlock()
	case "folder":
		var incoming Folder
		if err := json.Unmarshal(ev.Data, &incoming); err != nil || incoming.ID == "" {
			return
		}
		s.mu.Lock()
		if f, ok := s.findFolderLocked(incoming.ID); ok {
			merged := *f
			if err := json.Unmarshal(ev.Data, &merged); err == nil {
				*f = merged
			}
		} else {
			s.folders = append(s.folders, incoming)
		}
		_ = s.saveLocked()
		s.mu.Unlock()
	case "notification":
		var incoming Notification
		if err := json.Unmarshal(ev.Data, &incoming); err != nil {
			return
		}
		s.mu.Lock()
		s.notifications = append([]Notification{incoming}, s.notifications...)
		notifier := s.notifier
		_ = s.saveLocked()
		s.mu.Unlock()
		if notifier != nil {
			notifier.Notify(incoming)
		}
	default:
		log.Printf("taskhub: ignoring remote update type %q", ev.Type)
	}
}

// ApplyPropagated applies a collaborator's pushed mutation on the owning
// replica, resolved by the same last-write-wins rule as reconciliation.
func (s *Store) ApplyPropagated(req PropagateRequest) error {
	switch req.Type {
	case "task":
		var incoming Task
		if err := json.Unmarshal(req.Data, &incoming); err != nil {
			return ErrInvalidInput
		}
		if incoming.ID == "" {
			return ErrInvalidInput
		}
		s.mu.Lock()
		if i, ok := s.findTaskLocked(incoming.ID); ok {
			if remoteWins(s.tasks[i].UpdatedAt, incoming.UpdatedAt) {
				s.tasks[i] = cloneTask(incoming)
			}
		} else {
			if incoming.Subtasks == nil {
				incoming.Subtasks = []Subtask{}
			}
			s.tasks = append([]Task{incoming}, s.tasks...)
		}
		s.recountLocked()
		_ = s.saveLocked()
		s.mu.Unlock()
		return nil
	case "list":
		var incoming List
		if err := json.Unmarshal(req.Data, &incoming); err != nil {
			return ErrInvalidInput
		}
		if incoming.ID == "" {
			return ErrInvalidInput
		}
		s.mu.Lock()
		if l, ok := s.findListLocked(incoming.ID); ok {
			if remoteWins(l.UpdatedAt, incoming.UpdatedAt) {
				*l = cloneList(incoming)
			}
		} else {
			s.lists = append(s.lists, cloneList(incoming))
		}
		s.recountLocked()
		_ = s.saveLocked()
		s.mu.Unlock()
		return nil
	case "folder":
		var incoming Folder
		if err := json.Unmarshal(req.Data, &incoming); err != nil {
			return ErrInvalidInput
		}
		if incoming.ID == "" {
			return ErrInvalidInput
		}
		s.mu.Lock()
		if f, ok := s.findFolderLocked(incoming.ID); ok {
			if remoteWins(f.UpdatedAt, incoming.UpdatedAt) {
				*f = incoming
			}
		} else {
			s.folders = append(s.folders, incoming)
		}
		_ = s.saveLocked()
		s.mu.Unlock()
		return nil
	default:
		return ErrInvalidInput
	}
}

func remoteID(data json.RawMessage) string {
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.ID
}
