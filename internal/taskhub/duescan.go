package taskhub

import "time"

const dueSoonWindow = 24 * time.Hour

func (s *Store) dueScanLoop() {
	ticker := time.NewTicker(s.dueScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.ScanDueTasks()
		}
	}
}

// ScanDueTasks emits due_soon and overdue notifications, at most one per
// task per state transition.
func (s *Store) ScanDueTasks() {
	ts := now()
	s.mu.Lock()
	var items []OutboxItem
	for i := range s.tasks {
		t := &s.tasks[i]
		if t.DueDate == nil {
			continue
		}
		if s.statusCategoryLocked(*t) == StatusCategoryDone || s.statusCategoryLocked(*t) == StatusCategoryClosed {
			continue
		}
		var state NotificationType
		switch {
		case t.DueDate.Before(ts):
			state = NotificationOverdue
		case t.DueDate.Sub(ts) <= dueSoonWindow:
			state = NotificationDueSoon
		default:
			continue
		}
		if s.dueNotified[t.ID] == state {
			continue
		}
		s.dueNotified[t.ID] = state
		title := "Due soon"
		if state == NotificationOverdue {
			title = "Overdue"
		}
		items = append(items, s.addNotificationLocked(Notification{
			Type:    state,
			Title:   title,
			Message: t.Name,
			TaskID:  t.ID,
		})...)
	}
	if len(items) > 0 {
		_ = s.saveLocked()
	}
	s.mu.Unlock()
	s.dispatch(items)
}
