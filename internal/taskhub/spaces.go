package taskhub

import "time"

// Space, folder and list lifecycle. Deletes cascade: a space takes its
// folders, lists and tasks with it; a list takes its tasks; a folder only
// reparents its lists back to the space root.

type SpacePatch struct {
	Name       *string `json:"name,omitempty"`
	Icon       *string `json:"icon,omitempty"`
	Color      *string `json:"color,omitempty"`
	IsDefault  *bool   `json:"isDefault,omitempty"`
	OwnerID    *string `json:"ownerId,omitempty"`
	IsShared   *bool   `json:"isShared,omitempty"`
	Permission *string `json:"permission,omitempty"`
}

func (s *Store) AddSpace(sp Space) string {
	s.mu.Lock()
	ts := now()
	sp.ID = newID()
	sp.CreatedAt = ts
	sp.UpdatedAt = ts
	if len(sp.Statuses) == 0 {
		sp.Statuses = DefaultStatuses()
	}
	s.spaces = append(s.spaces, sp)
	_ = s.saveLocked()
	s.mu.Unlock()
	return sp.ID
}

func (s *Store) UpdateSpace(id string, patch SpacePatch) {
	s.mu.Lock()
	sp, ok := s.findSpaceLocked(id)
	if !ok {
		s.mu.Unlock()
		return
	}
	if patch.Name != nil {
		sp.Name = *patch.Name
	}
	if patch.Icon != nil {
		sp.Icon = *patch.Icon
	}
	if patch.Color != nil {
		sp.Color = *patch.Color
	}
	if patch.IsDefault != nil {
		sp.IsDefault = *patch.IsDefault
	}
	if patch.OwnerID != nil {
		sp.OwnerID = *patch.OwnerID
	}
	if patch.IsShared != nil {
		sp.IsShared = *patch.IsShared
	}
	if patch.Permission != nil {
		sp.Permission = *patch.Permission
	}
	sp.UpdatedAt = now()
	_ = s.saveLocked()
	s.mu.Unlock()
}

func (s *Store) DeleteSpace(id string) error {
	s.mu.Lock()
	found := false
	spaces := s.spaces[:0]
	for _, sp := range s.spaces {
		if sp.ID == id {
			found = true
			continue
		}
		spaces = append(spaces, sp)
	}
	if !found {
		s.spaces = spaces
		s.mu.Unlock()
		return ErrNotFound
	}
	s.spaces = spaces
	folders := s.folders[:0]
	for _, f := range s.folders {
		if f.SpaceID != id {
			folders = append(folders, f)
		}
	}
	s.folders = folders
	lists := s.lists[:0]
	for _, l := range s.lists {
		if l.SpaceID != id {
			lists = append(lists, l)
		}
	}
	s.lists = lists
	tasks := s.tasks[:0]
	for _, t := range s.tasks {
		if t.SpaceID != id {
			tasks = append(tasks, t)
		}
	}
	s.tasks = tasks
	s.recountLocked()
	_ = s.saveLocked()
	s.mu.Unlock()
	return nil
}

// --- folders ---

type FolderPatch struct {
	Name     *string `json:"name,omitempty"`
	Color    *string `json:"color,omitempty"`
	Icon     *string `json:"icon,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

func (s *Store) AddFolder(f Folder) string {
	s.mu.Lock()
	ts := now()
	f.ID = newID()
	f.CreatedAt = ts
	f.UpdatedAt = ts
	s.folders = append(s.folders, f)
	items := s.outboxItemLocked("folder", f.SpaceID, f, false)
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
	return f.ID
}

func (s *Store) UpdateFolder(id string, patch FolderPatch) {
	s.mu.Lock()
	f, ok := s.findFolderLocked(id)
	if !ok {
		s.mu.Unlock()
		return
	}
	if patch.Name != nil {
		f.Name = *patch.Name
	}
	if patch.Color != nil {
		f.Color = *patch.Color
	}
	if patch.Icon != nil {
		f.Icon = *patch.Icon
	}
	if patch.Archived != nil {
		f.Archived = *patch.Archived
	}
	f.UpdatedAt = now()
	items := s.outboxItemLocked("folder", f.SpaceID, *f, false)
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
}

// DeleteFolder reparents the folder's lists to the space root instead of
// deleting them.
func (s *Store) DeleteFolder(id string) error {
	s.mu.Lock()
	found := false
	folders := s.folders[:0]
	for _, f := range s.folders {
		if f.ID == id {
			found = true
			continue
		}
		folders = append(folders, f)
	}
	s.folders = folders
	if !found {
		s.mu.Unlock()
		return ErrNotFound
	}
	ts := now()
	for i := range s.lists {
		if s.lists[i].FolderID == id {
			s.lists[i].FolderID = ""
			s.lists[i].UpdatedAt = ts
		}
	}
	_ = s.saveLocked()
	s.mu.Unlock()
	return nil
}

// DuplicateFolder copies the folder and every list under it, reparenting the
// copied lists and their copied tasks to the new ids with fresh timestamps.
func (s *Store) DuplicateFolder(id string) (string, error) {
	s.mu.Lock()
	src, ok := s.findFolderLocked(id)
	if !ok {
		s.mu.Unlock()
		return "", ErrNotFound
	}
	ts := now()
	dup := *src
	dup.ID = newID()
	dup.Name = dup.Name + " (Copy)"
	dup.CreatedAt = ts
	dup.UpdatedAt = ts
	s.folders = append(s.folders, dup)
	for _, l := range append([]List{}, s.lists...) {
		if l.FolderID == id {
			s.duplicateListLocked(l, dup.ID, ts)
		}
	}
	s.recountLocked()
	_ = s.saveLocked()
	s.mu.Unlock()
	return dup.ID, nil
}

// --- lists ---

type ListPatch struct {
	Name     *string `json:"name,omitempty"`
	FolderID *string `json:"folderId,omitempty"`
}

func (s *Store) AddList(l List) string {
	s.mu.Lock()
	ts := now()
	l.ID = newID()
	l.CreatedAt = ts
	l.UpdatedAt = ts
	s.lists = append(s.lists, l)
	items := s.outboxItemLocked("list", l.SpaceID, l, true)
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
	return l.ID
}

func (s *Store) UpdateList(id string, patch ListPatch) {
	s.mu.Lock()
	l, ok := s.findListLocked(id)
	if !ok {
		s.mu.Unlock()
		return
	}
	if patch.Name != nil {
		l.Name = *patch.Name
	}
	if patch.FolderID != nil {
		l.FolderID = *patch.FolderID
	}
	l.UpdatedAt = now()
	items := s.outboxItemLocked("list", l.SpaceID, cloneList(*l), true)
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
}

// DeleteList cascades to the list's tasks.
func (s *Store) DeleteList(id string) error {
	s.mu.Lock()
	found := false
	spaceID := ""
	lists := s.lists[:0]
	for _, l := range s.lists {
		if l.ID == id {
			found = true
			spaceID = l.SpaceID
			continue
		}
		lists = append(lists, l)
	}
	s.lists = lists
	if !found {
		s.mu.Unlock()
		return ErrNotFound
	}
	tasks := s.tasks[:0]
	for _, t := range s.tasks {
		if t.ListID == id {
			continue
		}
		tasks = append(tasks, t)
	}
	s.tasks = tasks
	s.recountLocked()
	items := s.outboxItemLocked("list_delete", spaceID, map[string]string{"id": id}, true)
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
	return nil
}

// DuplicateList copies the list and its tasks under new ids.
func (s *Store) DuplicateList(id string) (string, error) {
	s.mu.Lock()
	src, ok := s.findListLocked(id)
	if !ok {
		s.mu.Unlock()
		return "", ErrNotFound
	}
	newListID := s.duplicateListLocked(cloneList(*src), src.FolderID, now())
	s.recountLocked()
	_ = s.saveLocked()
	s.mu.Unlock()
	return newListID, nil
}

func (s *Store) duplicateListLocked(src List, folderID string, ts time.Time) string {
	dup := src
	dup.ID = newID()
	dup.Name = dup.Name + " (Copy)"
	dup.FolderID = folderID
	dup.CreatedAt = ts
	dup.UpdatedAt = ts
	dup.Statuses = append([]Status{}, src.Statuses...)
	s.lists = append(s.lists, dup)
	for _, t := range append([]Task{}, s.tasks...) {
		if t.ListID != src.ID {
			continue
		}
		copyTask := cloneTask(t)
		copyTask.ID = newID()
		copyTask.ListID = dup.ID
		copyTask.CreatedAt = ts
		copyTask.UpdatedAt = ts
		for j := range copyTask.Subtasks {
			copyTask.Subtasks[j].ID = newID()
			copyTask.Subtasks[j].CreatedAt = ts
			copyTask.Subtasks[j].UpdatedAt = ts
		}
		s.tasks = append([]Task{copyTask}, s.tasks...)
	}
	return dup.ID
}

// AddStatus appends to a space's or list's status set. Older persisted data
// may lack an explicit status list; it is seeded from the defaults first.
func (s *Store) AddStatus(targetID string, isSpace bool, st Status) {
	s.mu.Lock()
	if st.ID == "" {
		st.ID = newID()
	}
	if isSpace {
		if sp, ok := s.findSpaceLocked(targetID); ok {
			if len(sp.Statuses) == 0 {
				sp.Statuses = DefaultStatuses()
			}
			sp.Statuses = append(sp.Statuses, st)
			sp.UpdatedAt = now()
		}
	} else {
		if l, ok := s.findListLocked(targetID); ok {
			if len(l.Statuses) == 0 {
				l.Statuses = DefaultStatuses()
			}
			l.Statuses = append(l.Statuses, st)
			l.UpdatedAt = now()
		}
	}
	_ = s.saveLocked()
	s.mu.Unlock()
}

// StatusesFor resolves the effective status set for a list (list overrides
// space overrides defaults).
func (s *Store) StatusesFor(spaceID, listID string) []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.findListLocked(listID); ok && len(l.Statuses) > 0 {
		return append([]Status{}, l.Statuses...)
	}
	if sp, ok := s.findSpaceLocked(spaceID); ok && len(sp.Statuses) > 0 {
		return append([]Status{}, sp.Statuses...)
	}
	return DefaultStatuses()
}
