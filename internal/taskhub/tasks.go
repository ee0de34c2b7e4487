package taskhub

import (
	"strings"
	"time"
)

// AddTask inserts at the head of the collection (most-recent-first) and
// returns the new id. Broadcast, propagation and agent evaluation follow the
// local mutation; none of them can fail it.
func (s *Store) AddTask(t Task) string {
	s.mu.Lock()
	ts := now()
	t.ID = newID()
	t.CreatedAt = ts
	t.UpdatedAt = ts
	if t.Status == "" {
		t.Status = DefaultStatuses()[0].Name
	}
	if t.Subtasks == nil {
		t.Subtasks = []Subtask{}
	}
	s.tasks = append([]Task{t}, s.tasks...)
	s.recountLocked()
	items := s.outboxItemLocked("task", t.SpaceID, t, true)
	items = append(items, s.assignmentNotificationLocked(t)...)
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
	s.queueAgentEvaluation(TriggerTaskCreated, t.ID, OriginUser)
	return t.ID
}

// UpdateTask merges the patch and refreshes UpdatedAt. Unknown ids are a
// silent no-op.
func (s *Store) UpdateTask(id string, patch TaskPatch) {
	s.updateTask(id, patch, OriginUser)
}

func (s *Store) updateTask(id string, patch TaskPatch, origin Origin) {
	s.mu.Lock()
	i, ok := s.findTaskLocked(id)
	if !ok {
		s.mu.Unlock()
		return
	}
	t := &s.tasks[i]
	prevStatus := t.Status
	prevAssignee := t.Assignee

	if patch.Name != nil {
		t.Name = *patch.Name
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.SpaceID != nil {
		t.SpaceID = *patch.SpaceID
	}
	if patch.ListID != nil {
		t.ListID = *patch.ListID
	}
	if patch.Assignee != nil {
		t.Assignee = *patch.Assignee
	}
	if patch.StartDate != nil {
		start := *patch.StartDate
		t.StartDate = &start
	}
	if patch.DueDate != nil {
		due := *patch.DueDate
		t.DueDate = &due
		delete(s.dueNotified, t.ID)
	}
	if patch.TagIDs != nil {
		t.TagIDs = append([]string{}, (*patch.TagIDs)...)
	}
	if patch.LinkedDocID != nil {
		t.LinkedDocID = *patch.LinkedDocID
	}
	if patch.CustomFields != nil {
		fields := make(map[string]string, len(*patch.CustomFields))
		for k, v := range *patch.CustomFields {
			fields[k] = v
		}
		t.CustomFields = fields
	}
	t.UpdatedAt = now()

	statusChanged := patch.Status != nil && t.Status != prevStatus
	s.recountLocked()
	updated := cloneTask(*t)
	items := s.outboxItemLocked("task", updated.SpaceID, updated, true)
	if patch.Assignee != nil && updated.Assignee != prevAssignee {
		items = append(items, s.assignmentNotificationLocked(updated)...)
	}
	if statusChanged && s.statusCategoryLocked(updated) == StatusCategoryDone {
		items = append(items, s.addNotificationLocked(Notification{
			Type:    NotificationTaskCompleted,
			Title:   "Task completed",
			Message: updated.Name,
			TaskID:  updated.ID,
		})...)
	}
	_ = s.saveLocked()
	s.mu.Unlock()

	s.dispatch(items)
	s.queueAgentEvaluation(TriggerTaskUpdated, id, origin)
	if statusChanged {
		s.queueAgentEvaluation(TriggerStatusChanged, id, origin)
	}
}

// DeleteTask removes the task. Relationships on other tasks pointing at it
// are left dangling; readers tolerate unknown target ids.
func (s *Store) DeleteTask(id string) error {
	s.mu.Lock()
	i, ok := s.findTaskLocked(id)
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	spaceID := s.tasks[i].SpaceID
	s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	if s.activeTimer != nil && s.activeTimer.TaskID == id {
		s.activeTimer = nil
	}
	delete(s.dueNotified, id)
	s.recountLocked()
	items := s.outboxItemLocked("task_delete", spaceID, map[string]string{"id": id}, true)
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
	return nil
}

// DuplicateTask deep-copies with a fresh id, " (Copy)" name suffix, fresh
// timestamps and regenerated subtask ids.
func (s *Store) DuplicateTask(id string) (string, error) {
	s.mu.Lock()
	i, ok := s.findTaskLocked(id)
	if !ok {
		s.mu.Unlock()
		return "", ErrNotFound
	}
	ts := now()
	dup := cloneTask(s.tasks[i])
	dup.ID = newID()
	dup.Name = dup.Name + " (Copy)"
	dup.CreatedAt = ts
	dup.UpdatedAt = ts
	for j := range dup.Subtasks {
		dup.Subtasks[j].ID = newID()
		dup.Subtasks[j].CreatedAt = ts
		dup.Subtasks[j].UpdatedAt = ts
	}
	s.tasks = append([]Task{dup}, s.tasks...)
	s.recountLocked()
	items := s.outboxItemLocked("task", dup.SpaceID, dup, true)
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
	s.queueAgentEvaluation(TriggerTaskCreated, dup.ID, OriginUser)
	return dup.ID, nil
}

// --- subtasks ---

type SubtaskPatch struct {
	Name     *string    `json:"name,omitempty"`
	Status   *string    `json:"status,omitempty"`
	Priority *Priority  `json:"priority,omitempty"`
	Assignee *string    `json:"assignee,omitempty"`
	DueDate  *time.Time `json:"dueDate,omitempty"`
}

func (s *Store) AddSubtask(taskID string, st Subtask) string {
	s.mu.Lock()
	i, ok := s.findTaskLocked(taskID)
	if !ok {
		s.mu.Unlock()
		return ""
	}
	ts := now()
	st.ID = newID()
	st.CreatedAt = ts
	st.UpdatedAt = ts
	if st.Status == "" {
		st.Status = DefaultStatuses()[0].Name
	}
	t := &s.tasks[i]
	t.Subtasks = append(t.Subtasks, st)
	t.UpdatedAt = ts
	items := s.outboxItemLocked("task", t.SpaceID, cloneTask(*t), true)
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
	return st.ID
}

func (s *Store) UpdateSubtask(taskID, subtaskID string, patch SubtaskPatch) {
	s.mu.Lock()
	i, ok := s.findTaskLocked(taskID)
	if !ok {
		s.mu.Unlock()
		return
	}
	t := &s.tasks[i]
	ts := now()
	for j := range t.Subtasks {
		if t.Subtasks[j].ID != subtaskID {
			continue
		}
		st := &t.Subtasks[j]
		if patch.Name != nil {
			st.Name = *patch.Name
		}
		if patch.Status != nil {
			st.Status = *patch.Status
		}
		if patch.Priority != nil {
			st.Priority = *patch.Priority
		}
		if patch.Assignee != nil {
			st.Assignee = *patch.Assignee
		}
		if patch.DueDate != nil {
			due := *patch.DueDate
			st.DueDate = &due
		}
		st.UpdatedAt = ts
		break
	}
	t.UpdatedAt = ts
	items := s.outboxItemLocked("task", t.SpaceID, cloneTask(*t), true)
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
}

func (s *Store) DeleteSubtask(taskID, subtaskID string) {
	s.mu.Lock()
	i, ok := s.findTaskLocked(taskID)
	if !ok {
		s.mu.Unlock()
		return
	}
	t := &s.tasks[i]
	for j := range t.Subtasks {
		if t.Subtasks[j].ID == subtaskID {
			t.Subtasks = append(t.Subtasks[:j], t.Subtasks[j+1:]...)
			break
		}
	}
	t.UpdatedAt = now()
	items := s.outboxItemLocked("task", t.SpaceID, cloneTask(*t), true)
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
}

// --- comments ---

// AddComment appends to the task's comment trail. Comments are append-only.
func (s *Store) AddComment(taskID string, c Comment) string {
	s.mu.Lock()
	i, ok := s.findTaskLocked(taskID)
	if !ok {
		s.mu.Unlock()
		return ""
	}
	c.ID = newID()
	c.CreatedAt = now()
	if c.AuthorID == "" {
		c.AuthorID = s.currentUser.ID
		c.AuthorName = s.currentUser.Name
	}
	t := &s.tasks[i]
	t.Comments = append(t.Comments, c)
	t.UpdatedAt = c.CreatedAt
	items := s.outboxItemLocked("task", t.SpaceID, cloneTask(*t), true)
	if c.AuthorID != s.currentUser.ID {
		items = append(items, s.addNotificationLocked(Notification{
			Type:    NotificationCommentAdded,
			Title:   "New comment",
			Message: c.AuthorName + " commented on " + t.Name,
			TaskID:  t.ID,
		})...)
	}
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
	return c.ID
}

// --- relationships ---

func (s *Store) AddRelationship(taskID string, relType RelationshipType, targetTaskID string) string {
	s.mu.Lock()
	i, ok := s.findTaskLocked(taskID)
	if !ok {
		s.mu.Unlock()
		return ""
	}
	rel := Relationship{
		ID:           newID(),
		Type:         relType,
		TargetTaskID: targetTaskID,
		CreatedAt:    now(),
	}
	t := &s.tasks[i]
	t.Relationships = append(t.Relationships, rel)
	t.UpdatedAt = rel.CreatedAt
	items := s.outboxItemLocked("task", t.SpaceID, cloneTask(*t), true)
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
	return rel.ID
}

func (s *Store) DeleteRelationship(taskID, relationshipID string) {
	s.mu.Lock()
	i, ok := s.findTaskLocked(taskID)
	if !ok {
		s.mu.Unlock()
		return
	}
	t := &s.tasks[i]
	for j := range t.Relationships {
		if t.Relationships[j].ID == relationshipID {
			t.Relationships = append(t.Relationships[:j], t.Relationships[j+1:]...)
			break
		}
	}
	t.UpdatedAt = now()
	items := s.outboxItemLocked("task", t.SpaceID, cloneTask(*t), true)
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
}

// --- timer ---

// StartTimer records the running timer. At most one timer runs process-wide;
// starting a second one stops the first and books its time entry.
func (s *Store) StartTimer(taskID string) {
	s.mu.Lock()
	var items []OutboxItem
	if s.activeTimer != nil {
		items = s.stopTimerLocked()
	}
	s.activeTimer = &ActiveTimer{TaskID: taskID, StartedAt: now()}
	_ = s.saveLocked()
	s.mu.Unlock()
	s.dispatch(items)
}

// StopTimer closes the running session and books a TimeEntry on the timed
// task, floored at one minute.
func (s *Store) StopTimer() (TimeEntry, bool) {
	s.mu.Lock()
	if s.activeTimer == nil {
		s.mu.Unlock()
		return TimeEntry{}, false
	}
	taskID := s.activeTimer.TaskID
	items := s.stopTimerLocked()
	_ = s.saveLocked()
	var entry TimeEntry
	found := false
	if i, ok := s.findTaskLocked(taskID); ok {
		entries := s.tasks[i].TimeEntries
		if len(entries) > 0 {
			entry = entries[len(entries)-1]
			found = true
		}
	}
	s.mu.Unlock()
	s.dispatch(items)
	return entry, found
}

func (s *Store) stopTimerLocked() []OutboxItem {
	timer := s.activeTimer
	s.activeTimer = nil
	if timer == nil {
		return nil
	}
	i, ok := s.findTaskLocked(timer.TaskID)
	if !ok {
		return nil
	}
	ts := now()
	minutes := int(ts.Sub(timer.StartedAt) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	t := &s.tasks[i]
	t.TimeEntries = append(t.TimeEntries, TimeEntry{
		ID:      newID(),
		Minutes: minutes,
		Date:    ts,
		UserID:  s.currentUser.ID,
	})
	t.UpdatedAt = ts
	return s.outboxItemLocked("task", t.SpaceID, cloneTask(*t), true)
}

func (s *Store) assignmentNotificationLocked(t Task) []OutboxItem {
	if strings.TrimSpace(t.Assignee) == "" || t.Assignee == s.currentUser.ID {
		return nil
	}
	return s.addNotificationLocked(Notification{
		Type:    NotificationTaskAssigned,
		Title:   "Task assigned",
		Message: t.Name,
		TaskID:  t.ID,
	})
}
