package taskhub

import "strings"

// --- tags ---

func (s *Store) AddTag(name, color string) string {
	s.mu.Lock()
	tag := Tag{ID: newID(), Name: name, Color: color, CreatedAt: now()}
	s.tags = append(s.tags, tag)
	_ = s.saveLocked()
	s.mu.Unlock()
	return tag.ID
}

func (s *Store) UpdateTag(id string, name, color string) {
	s.mu.Lock()
	for i := range s.tags {
		if s.tags[i].ID == id {
			if name != "" {
				s.tags[i].Name = name
			}
			if color != "" {
				s.tags[i].Color = color
			}
			break
		}
	}
	_ = s.saveLocked()
	s.mu.Unlock()
}

// DeleteTag removes the tag only; task tag-id lists keep the dangling id and
// readers resolve it to nothing.
func (s *Store) DeleteTag(id string) error {
	s.mu.Lock()
	found := false
	tags := s.tags[:0]
	for _, tag := range s.tags {
		if tag.ID == id {
			found = true
			continue
		}
		tags = append(tags, tag)
	}
	s.tags = tags
	_ = s.saveLocked()
	s.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	return nil
}

// TagByName does a case-insensitive name lookup.
func (s *Store) TagByName(name string) (Tag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tag := range s.tags {
		if strings.EqualFold(tag.Name, name) {
			return tag, true
		}
	}
	return Tag{}, false
}

// --- docs ---

type DocPatch struct {
	Name    *string `json:"name,omitempty"`
	Content *string `json:"content,omitempty"`
}

func (s *Store) AddDoc(d Doc) string {
	s.mu.Lock()
	ts := now()
	d.ID = newID()
	d.CreatedAt = ts
	d.UpdatedAt = ts
	if d.AuthorID == "" {
		d.AuthorID = s.currentUser.ID
		d.AuthorName = s.currentUser.Name
	}
	s.docs = append(s.docs, d)
	_ = s.saveLocked()
	s.mu.Unlock()
	return d.ID
}

func (s *Store) UpdateDoc(id string, patch DocPatch) {
	s.mu.Lock()
	for i := range s.docs {
		if s.docs[i].ID != id {
			continue
		}
		if patch.Name != nil {
			s.docs[i].Name = *patch.Name
		}
		if patch.Content != nil {
			s.docs[i].Content = *patch.Content
		}
		s.docs[i].UpdatedAt = now()
		break
	}
	_ = s.saveLocked()
	s.mu.Unlock()
}

func (s *Store) DeleteDoc(id string) error {
	s.mu.Lock()
	found := false
	docs := s.docs[:0]
	for _, d := range s.docs {
		if d.ID == id {
			found = true
			continue
		}
		docs = append(docs, d)
	}
	s.docs = docs
	_ = s.saveLocked()
	s.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	return nil
}

// --- dashboards ---

func (s *Store) AddDashboard(d Dashboard) string {
	s.mu.Lock()
	ts := now()
	d.ID = newID()
	d.CreatedAt = ts
	d.UpdatedAt = ts
	if d.Items == nil {
		d.Items = []DashboardItem{}
	}
	if d.OwnerID == "" {
		d.OwnerID = s.currentUser.ID
	}
	s.dashboards = append(s.dashboards, d)
	_ = s.saveLocked()
	s.mu.Unlock()
	return d.ID
}

func (s *Store) AddDashboardItem(dashboardID string, item DashboardItem) string {
	s.mu.Lock()
	item.ID = newID()
	for i := range s.dashboards {
		if s.dashboards[i].ID == dashboardID {
			s.dashboards[i].Items = append(s.dashboards[i].Items, item)
			s.dashboards[i].UpdatedAt = now()
			break
		}
	}
	_ = s.saveLocked()
	s.mu.Unlock()
	return item.ID
}

func (s *Store) DeleteDashboard(id string) error {
	s.mu.Lock()
	found := false
	dashboards := s.dashboards[:0]
	for _, d := range s.dashboards {
		if d.ID == id {
			found = true
			continue
		}
		dashboards = append(dashboards, d)
	}
	s.dashboards = dashboards
	_ = s.saveLocked()
	s.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	return nil
}

// --- clips ---

func (s *Store) AddClip(c Clip) string {
	s.mu.Lock()
	c.ID = newID()
	c.CreatedAt = now()
	if c.OwnerID == "" {
		c.OwnerID = s.currentUser.ID
	}
	if c.Comments == nil {
		c.Comments = []Comment{}
	}
	s.clips = append(s.clips, c)
	_ = s.saveLocked()
	s.mu.Unlock()
	return c.ID
}

func (s *Store) AddClipComment(clipID string, c Comment) string {
	s.mu.Lock()
	c.ID = newID()
	c.CreatedAt = now()
	if c.AuthorID == "" {
		c.AuthorID = s.currentUser.ID
		c.AuthorName = s.currentUser.Name
	}
	for i := range s.clips {
		if s.clips[i].ID == clipID {
			s.clips[i].Comments = append(s.clips[i].Comments, c)
			break
		}
	}
	_ = s.saveLocked()
	s.mu.Unlock()
	return c.ID
}

func (s *Store) SetClipTranscript(clipID, transcript string) {
	s.mu.Lock()
	for i := range s.clips {
		if s.clips[i].ID == clipID {
			s.clips[i].Transcript = transcript
			break
		}
	}
	_ = s.saveLocked()
	s.mu.Unlock()
}

func (s *Store) DeleteClip(id string) error {
	s.mu.Lock()
	found := false
	clips := s.clips[:0]
	for _, c := range s.clips {
		if c.ID == id {
			found = true
			continue
		}
		clips = append(clips, c)
	}
	s.clips = clips
	_ = s.saveLocked()
	s.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	return nil
}

// --- saved views ---

type SavedViewPatch struct {
	Name    *string `json:"name,omitempty"`
	Pinned  *bool   `json:"pinned,omitempty"`
	Private *bool   `json:"private,omitempty"`
}

func (s *Store) AddSavedView(v SavedView) string {
	s.mu.Lock()
	ts := now()
	v.ID = newID()
	v.CreatedAt = ts
	v.UpdatedAt = ts
	s.views = append(s.views, v)
	_ = s.saveLocked()
	s.mu.Unlock()
	return v.ID
}

func (s *Store) UpdateSavedView(id string, patch SavedViewPatch) {
	s.mu.Lock()
	for i := range s.views {
		if s.views[i].ID != id {
			continue
		}
		if patch.Name != nil {
			s.views[i].Name = *patch.Name
		}
		if patch.Pinned != nil {
			s.views[i].Pinned = *patch.Pinned
		}
		if patch.Private != nil {
			s.views[i].Private = *patch.Private
		}
		s.views[i].UpdatedAt = now()
		break
	}
	_ = s.saveLocked()
	s.mu.Unlock()
}

func (s *Store) DeleteSavedView(id string) error {
	s.mu.Lock()
	found := false
	views := s.views[:0]
	for _, v := range s.views {
		if v.ID == id {
			found = true
			continue
		}
		views = append(views, v)
	}
	s.views = views
	_ = s.saveLocked()
	s.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	return nil
}

// --- notifications ---

// addNotificationLocked prepends and returns the broadcast side effect.
func (s *Store) addNotificationLocked(n Notification) []OutboxItem {
	n.ID = newID()
	n.CreatedAt = now()
	s.notifications = append([]Notification{n}, s.notifications...)
	return s.outboxItemLocked("notification", "", n, true)
}

func (s *Store) AddNotification(n Notification) string {
	s.mu.Lock()
	items := s.addNotificationLocked(n)
	_ = s.saveLocked()
	var id string
	if len(s.notifications) > 0 {
		id = s.notifications[0].ID
	}
	s.mu.Unlock()
	s.dispatch(items)
	return id
}

func (s *Store) MarkNotificationRead(id string) {
	s.mu.Lock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			break
		}
	}
	_ = s.saveLocked()
	s.mu.Unlock()
}

func (s *Store) MarkAllNotificationsRead() {
	s.mu.Lock()
	for i := range s.notifications {
		s.notifications[i].Read = true
	}
	_ = s.saveLocked()
	s.mu.Unlock()
}

func (s *Store) ClearNotifications() {
	s.mu.Lock()
	s.notifications = []Notification{}
	_ = s.saveLocked()
	s.mu.Unlock()
}

// --- agents ---

type AgentPatch struct {
	Name    *string       `json:"name,omitempty"`
	Enabled *bool         `json:"enabled,omitempty"`
	Trigger *AgentTrigger `json:"trigger,omitempty"`
	Action  *AgentAction  `json:"action,omitempty"`
}

func (s *Store) AddAgent(a Agent) string {
	s.mu.Lock()
	ts := now()
	a.ID = newID()
	a.CreatedAt = ts
	a.UpdatedAt = ts
	if a.CreatedBy == "" {
		a.CreatedBy = s.currentUser.ID
	}
	s.agents = append(s.agents, a)
	_ = s.saveLocked()
	s.mu.Unlock()
	return a.ID
}

func (s *Store) UpdateAgent(id string, patch AgentPatch) {
	s.mu.Lock()
	for i := range s.agents {
		if s.agents[i].ID != id {
			continue
		}
		if patch.Name != nil {
			s.agents[i].Name = *patch.Name
		}
		if patch.Enabled != nil {
			s.agents[i].Enabled = *patch.Enabled
		}
		if patch.Trigger != nil {
			s.agents[i].Trigger = *patch.Trigger
		}
		if patch.Action != nil {
			s.agents[i].Action = *patch.Action
		}
		s.agents[i].UpdatedAt = now()
		break
	}
	_ = s.saveLocked()
	s.mu.Unlock()
}

func (s *Store) DeleteAgent(id string) error {
	s.mu.Lock()
	found := false
	agents := s.agents[:0]
	for _, a := range s.agents {
		if a.ID == id {
			found = true
			continue
		}
		agents = append(agents, a)
	}
	s.agents = agents
	_ = s.saveLocked()
	s.mu.Unlock()
	if !found {
		return ErrNotFound
	}
	return nil
}
