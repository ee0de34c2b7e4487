package taskhub

import (
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type StatusCategory string

const (
	StatusCategoryTodo       StatusCategory = "todo"
	StatusCategoryInProgress StatusCategory = "inprogress"
	StatusCategoryDone       StatusCategory = "done"
	StatusCategoryClosed     StatusCategory = "closed"
)

type Status struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Color    string         `json:"color"`
	Category StatusCategory `json:"category"`
}

// EverythingSpaceID is the virtual aggregate space. It is never stored; task
// queries against it match every space.
const EverythingSpaceID = "everything"

func DefaultStatuses() []Status {
	return []Status{
		{ID: "todo", Name: "TO DO", Color: "#87909e", Category: StatusCategoryTodo},
		{ID: "inprogress", Name: "IN PROGRESS", Color: "#5f55ee", Category: StatusCategoryInProgress},
		{ID: "complete", Name: "COMPLETE", Color: "#008844", Category: StatusCategoryDone},
	}
}

type Subtask struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	Priority  Priority   `json:"priority,omitempty"`
	Assignee  string     `json:"assignee,omitempty"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type Comment struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

type TimeEntry struct {
	ID      string    `json:"id"`
	Minutes int       `json:"minutes"`
	Date    time.Time `json:"date"`
	UserID  string    `json:"userId"`
}

type RelationshipType string

const (
	RelationshipWaiting  RelationshipType = "waiting"
	RelationshipBlocking RelationshipType = "blocking"
	RelationshipLinked   RelationshipType = "linked"
	RelationshipCustom   RelationshipType = "custom"
)

// Relationship is a one-way edge to another task. The target id may dangle
// after a delete; readers resolve it to "unknown" rather than erroring.
type Relationship struct {
	ID           string           `json:"id"`
	Type         RelationshipType `json:"type"`
	TargetTaskID string           `json:"targetTaskId"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type Task struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Status        string            `json:"status"`
	Priority      Priority          `json:"priority,omitempty"`
	SpaceID       string            `json:"spaceId"`
	ListID        string            `json:"listId,omitempty"`
	Assignee      string            `json:"assignee,omitempty"`
	StartDate     *time.Time        `json:"startDate,omitempty"`
	DueDate       *time.Time        `json:"dueDate,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	TagIDs        []string          `json:"tagIds,omitempty"`
	Subtasks      []Subtask         `json:"subtasks"`
	Comments      []Comment         `json:"comments,omitempty"`
	TimeEntries   []TimeEntry       `json:"timeEntries,omitempty"`
	Relationships []Relationship    `json:"relationships,omitempty"`
	LinkedDocID   string            `json:"linkedDocId,omitempty"`
	CustomFields  map[string]string `json:"customFields,omitempty"`
}

// TaskPatch is a partial task update. Nil fields are left untouched.
type TaskPatch struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	SpaceID     *string    `json:"spaceId,omitempty"`
	ListID      *string    `json:"listId,omitempty"`
	Assignee    *string    `json:"assignee,omitempty"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	TagIDs      *[]string  `json:"tagIds,omitempty"`
	LinkedDocID *string    `json:"linkedDocId,omitempty"`
	// CustomFields replaces the whole map when present.
	CustomFields *map[string]string `json:"customFields,omitempty"`
}

type Space struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Icon       string    `json:"icon,omitempty"`
	Color      string    `json:"color,omitempty"`
	IsDefault  bool      `json:"isDefault,omitempty"`
	TaskCount  int       `json:"taskCount"`
	Statuses   []Status  `json:"statuses,omitempty"`
	OwnerID    string    `json:"ownerId,omitempty"`
	IsShared   bool      `json:"isShared,omitempty"`
	Permission string    `json:"permission,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SpaceID   string    `json:"spaceId"`
	Color     string    `json:"color,omitempty"`
	Icon      string    `json:"icon,omitempty"`
	Archived  bool      `json:"archived,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type List struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SpaceID   string    `json:"spaceId"`
	FolderID  string    `json:"folderId,omitempty"`
	TaskCount int       `json:"taskCount"`
	Statuses  []Status  `json:"statuses,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

type Doc struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Content    string    `json:"content"`
	SpaceID    string    `json:"spaceId,omitempty"`
	ListID     string    `json:"listId,omitempty"`
	AuthorID   string    `json:"authorId,omitempty"`
	AuthorName string    `json:"authorName,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type DashboardItem struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Size string `json:"size,omitempty"`
}

type Dashboard struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	SpaceID   string          `json:"spaceId,omitempty"`
	ListID    string          `json:"listId,omitempty"`
	Items     []DashboardItem `json:"items"`
	OwnerID   string          `json:"ownerId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type ClipType string

const (
	ClipVideo ClipType = "video"
	ClipVoice ClipType = "voice"
)

type Clip struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	MediaRef        string    `json:"mediaRef"`
	DurationSeconds int       `json:"durationSeconds,omitempty"`
	Type            ClipType  `json:"type"`
	OwnerID         string    `json:"ownerId,omitempty"`
	Comments        []Comment `json:"comments,omitempty"`
	Transcript      string    `json:"transcript,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

type NotificationType string

const (
	NotificationDueSoon       NotificationType = "due_soon"
	NotificationOverdue       NotificationType = "overdue"
	NotificationTaskAssigned  NotificationType = "task_assigned"
	NotificationTaskCompleted NotificationType = "task_completed"
	NotificationCommentAdded  NotificationType = "comment_added"
	NotificationMention       NotificationType = "mention"
	// NotificationAgentAlert is emitted by the send_notification agent action.
	NotificationAgentAlert NotificationType = "agent_alert"
)

type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	TaskID    string           `json:"taskId,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}

type AgentTriggerType string

const (
	TriggerTaskCreated   AgentTriggerType = "task_created"
	TriggerTaskUpdated   AgentTriggerType = "task_updated"
	TriggerStatusChanged AgentTriggerType = "status_changed"
)

type AgentActionType string

const (
	ActionLaunchAutopilot  AgentActionType = "launch_autopilot"
	ActionSendNotification AgentActionType = "send_notification"
	ActionUpdateTask       AgentActionType = "update_task"
)

type AgentTrigger struct {
	Type       AgentTriggerType `json:"type"`
	Conditions string           `json:"conditions,omitempty"`
}

type AgentAction struct {
	Type         AgentActionType `json:"type"`
	Instructions string          `json:"instructions,omitempty"`
}

type Agent struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Enabled   bool         `json:"enabled"`
	Trigger   AgentTrigger `json:"trigger"`
	Action    AgentAction  `json:"action"`
	CreatedBy string       `json:"createdBy,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type SavedView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ViewType    string    `json:"viewType"`
	SpaceID     string    `json:"spaceId,omitempty"`
	ListID      string    `json:"listId,omitempty"`
	Pinned      bool      `json:"pinned,omitempty"`
	Private     bool      `json:"private,omitempty"`
	DashboardID string    `json:"dashboardId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// User identifies the local operator; authored comments and shared mutations
// carry it.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Origin tags where a mutation came from. Automation-origin updates never
// re-trigger agent evaluation, which breaks agent-calls-agent recursion.
type Origin string

const (
	OriginUser       Origin = "user"
	OriginAutomation Origin = "automation"
)

func newID() string {
	return uuid.NewString()
}
