package taskhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidState   = errors.New("invalid state")
	ErrQueueFull      = errors.New("queue full")
	ErrNotImplemented = errors.New("not implemented")
)

// ChannelEvent is one live-channel message payload. Outbound mutations are
// emitted as realtime_update events; inbound shared_update events carry the
// same shape.
type ChannelEvent struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	SpaceID string          `json:"spaceId,omitempty"`
}

// PropagateRequest is the best-effort push of a shared-space mutation to the
// owning replica.
type PropagateRequest struct {
	OwnerID string          `json:"ownerId"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

// Broadcaster emits live-channel events to connected collaborators.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev ChannelEvent) error
}

// Propagator pushes shared-space mutations to the remote owner.
type Propagator interface {
	Propagate(ctx context.Context, req PropagateRequest) error
}

// PlatformNotifier surfaces incoming remote notifications to the platform
// (OS alert, webhook, ...). Implementations own the permission check.
type PlatformNotifier interface {
	Notify(n Notification)
}

// OutboxItem is one queued side effect of a local mutation. Mutations append
// items and return; workers drain them. Failures are logged and dropped.
type OutboxItem struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SpaceID   string          `json:"spaceId,omitempty"`
	OwnerID   string          `json:"ownerId,omitempty"`
	Broadcast bool            `json:"broadcast"`
	Propagate bool            `json:"propagate"`
	Data      json.RawMessage `json:"data"`
}

type OutboxQueue interface {
	TryEnqueue(item OutboxItem) bool
	Enqueue(ctx context.Context, item OutboxItem) bool
	Dequeue(ctx context.Context) (OutboxItem, bool)
	Depth() int
	Capacity() int
	Close() error
}

type outboxSnapshotter interface {
	SnapshotOutbox() []OutboxItem
}

// MigrateFunc upgrades a persisted snapshot loaded at an older schema
// version. It must leave the state usable at the current version.
type MigrateFunc func(state *persistedState, fromVersion int) error

type ActiveTimer struct {
	TaskID    string    `json:"taskId"`
	StartedAt time.Time `json:"startedAt"`
}

type StoreOptions struct {
	StateFile       string
	StateBackend    StateBackend
	Migrate         MigrateFunc
	Outbox          OutboxQueue
	OutboxSize      int
	OutboxWorkers   int
	DispatchTimeout time.Duration
	Broadcaster     Broadcaster
	Propagator      Propagator
	Notifier        PlatformNotifier
	AI              AIConfig
	AIProvider      AIProvider
	CurrentUser     User
	DueScanInterval time.Duration
	DisableWorkers  bool
}

// Store owns every domain collection. It is the single source of truth: all
// mutations run as one critical section, then hand their side effects to the
// outbox workers.
type Store struct {
	mu      sync.RWMutex
	queueMu sync.Mutex

	tasks         []Task
	spaces        []Space
	folders       []Folder
	lists         []List
	tags          []Tag
	docs          []Doc
	dashboards    []Dashboard
	clips         []Clip
	notifications []Notification
	agents        []Agent
	views         []SavedView
	activeTimer   *ActiveTimer

	stateBackend StateBackend
	migrate      MigrateFunc

	outbox       OutboxQueue
	queuedOutbox map[string]struct{}
	broadcaster  Broadcaster
	propagator   Propagator
	notifier     PlatformNotifier

	aiMu       sync.RWMutex
	aiConfig   AIConfig
	aiProvider AIProvider

	agentEvals chan agentEvaluation

	currentUser     User
	dispatchTimeout time.Duration
	dueScanInterval time.Duration
	dueNotified     map[string]NotificationType

	closed      chan struct{}
	queueCtx    context.Context
	queueCancel context.CancelFunc
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

func NewStore() *Store {
	return NewStoreWithOptions(StoreOptions{})
}

func NewStoreWithOptions(opts StoreOptions) *Store {
	outboxSize := opts.OutboxSize
	if outboxSize <= 0 {
		outboxSize = 1024
	}
	outbox := opts.Outbox
	if outbox == nil {
		outbox = NewInMemoryOutboxQueue(outboxSize)
	}
	outboxWorkers := opts.OutboxWorkers
	if outboxWorkers <= 0 {
		outboxWorkers = 1
	}
	dispatchTimeout := opts.DispatchTimeout
	if dispatchTimeout <= 0 {
		dispatchTimeout = 10 * time.Second
	}
	stateBackend := opts.StateBackend
	if stateBackend == nil && strings.TrimSpace(opts.StateFile) != "" {
		stateBackend = NewJSONFileStateBackend(opts.StateFile)
	}
	migrate := opts.Migrate
	if migrate == nil {
		migrate = defaultMigrate
	}
	provider := opts.AIProvider
	if provider == nil && opts.AI.Provider != "" {
		built, err := NewAIProvider(opts.AI, nil)
		if err != nil {
			log.Printf("taskhub: ai provider disabled: %v", err)
		} else {
			provider = built
		}
	}
	queueCtx, queueCancel := context.WithCancel(context.Background())

	s := &Store{
		tasks:           []Task{},
		spaces:          []Space{},
		folders:         []Folder{},
		lists:           []List{},
		tags:            []Tag{},
		docs:            []Doc{},
		dashboards:      []Dashboard{},
		clips:           []Clip{},
		notifications:   []Notification{},
		agents:          []Agent{},
		views:           []SavedView{},
		stateBackend:    stateBackend,
		migrate:         migrate,
		outbox:          outbox,
		queuedOutbox:    map[string]struct{}{},
		broadcaster:     opts.Broadcaster,
		propagator:      opts.Propagator,
		notifier:        opts.Notifier,
		aiConfig:        opts.AI,
		aiProvider:      provider,
		currentUser:     opts.CurrentUser,
		dispatchTimeout: dispatchTimeout,
		agentEvals:      make(chan agentEvaluation, 256),
		dueScanInterval: opts.DueScanInterval,
		dueNotified:     map[string]NotificationType{},
		closed:          make(chan struct{}),
		queueCtx:        queueCtx,
		queueCancel:     queueCancel,
	}
	s.seedQueuedIndexFromOutbox()
	if err := s.loadFromBackend(); err != nil {
		log.Printf("taskhub: load state failed: %v", err)
	}
	if !opts.DisableWorkers {
		s.wg.Add(outboxWorkers)
		for i := 0; i < outboxWorkers; i++ {
			go func() {
				defer s.wg.Done()
				s.outboxWorker()
			}()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.agentWorker()
		}()
		if s.dueScanInterval > 0 {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.dueScanLoop()
			}()
		}
	}
	return s
}

func (s *Store) seedQueuedIndexFromOutbox() {
	if s.outbox == nil {
		return
	}
	if snapshotter, ok := s.outbox.(outboxSnapshotter); ok {
		for _, item := range snapshotter.SnapshotOutbox() {
			if strings.TrimSpace(item.ID) == "" {
				continue
			}
			s.queuedOutbox[item.ID] = struct{}{}
		}
	}
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.queueCancel != nil {
			s.queueCancel()
		}
		if s.outbox != nil {
			_ = s.outbox.Close()
		}
		s.wg.Wait()
		if closer, ok := s.stateBackend.(stateBackendCloser); ok {
			_ = closer.Close()
		}
	})
}

func (s *Store) CurrentUser() User {
	return s.currentUser
}

// SetAIConfig swaps the automation provider at runtime (config hot reload).
func (s *Store) SetAIConfig(cfg AIConfig) {
	provider, err := NewAIProvider(cfg, nil)
	if err != nil {
		log.Printf("taskhub: ai config rejected: %v", err)
		return
	}
	s.aiMu.Lock()
	s.aiConfig = cfg
	s.aiProvider = provider
	s.aiMu.Unlock()
}

func (s *Store) SetAIProvider(provider AIProvider) {
	s.aiMu.Lock()
	s.aiProvider = provider
	s.aiMu.Unlock()
}

func (s *Store) currentAIProvider() AIProvider {
	s.aiMu.RLock()
	defer s.aiMu.RUnlock()
	return s.aiProvider
}

// SetBroadcaster wires the live channel after the store is built; the channel
// client needs the store first for inbound dispatch.
func (s *Store) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	s.broadcaster = b
	s.mu.Unlock()
}

func (s *Store) SetPropagator(p Propagator) {
	s.mu.Lock()
	s.propagator = p
	s.mu.Unlock()
}

// --- outbox dispatch ---

func (s *Store) dispatch(items []OutboxItem) {
	for _, item := range items {
		s.enqueueOutbox(item)
	}
}

func (s *Store) enqueueOutbox(item OutboxItem) {
	if item.ID == "" || s.outbox == nil {
		return
	}
	select {
	case <-s.closed:
		return
	default:
	}
	s.queueMu.Lock()
	if _, exists := s.queuedOutbox[item.ID]; exists {
		s.queueMu.Unlock()
		return
	}
	s.queuedOutbox[item.ID] = struct{}{}
	s.queueMu.Unlock()
	if s.outbox.TryEnqueue(item) {
		return
	}
	go func() {
		if !s.outbox.Enqueue(s.queueCtx, item) {
			s.queueMu.Lock()
			delete(s.queuedOutbox, item.ID)
			s.queueMu.Unlock()
		}
	}()
}

func (s *Store) outboxWorker() {
	for {
		item, ok := s.outbox.Dequeue(s.queueCtx)
		if !ok {
			return
		}
		s.queueMu.Lock()
		delete(s.queuedOutbox, item.ID)
		s.queueMu.Unlock()
		s.processOutboxItem(item)
	}
}

func (s *Store) processOutboxItem(item OutboxItem) {
	s.mu.RLock()
	broadcaster := s.broadcaster
	propagator := s.propagator
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(s.queueCtx, s.dispatchTimeout)
	defer cancel()
	if item.Broadcast && broadcaster != nil {
		ev := ChannelEvent{Type: item.Type, Data: item.Data, SpaceID: item.SpaceID}
		if err := broadcaster.Broadcast(ctx, ev); err != nil {
			log.Printf("taskhub: broadcast %s failed: %v", item.Type, err)
		}
	}
	if item.Propagate && propagator != nil {
		req := PropagateRequest{OwnerID: item.OwnerID, Type: propagateType(item.Type), Data: item.Data}
		if err := propagator.Propagate(ctx, req); err != nil {
			log.Printf("taskhub: propagate %s failed: %v", req.Type, err)
		}
	}
}

// propagateType folds delete events onto their entity type; the owner applies
// deletes from the payload, the wire type stays task|folder|list.
func propagateType(eventType string) string {
	switch eventType {
	case "task", "task_delete":
		return "task"
	case "list", "list_delete":
		return "list"
	case "folder", "folder_delete":
		return "folder"
	default:
		return eventType
	}
}

// outboxItemLocked builds the queued side effect for a mutation in spaceID.
// Propagation only applies when the space is shared with a known owner.
func (s *Store) outboxItemLocked(eventType, spaceID string, payload any, broadcast bool) []OutboxItem {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("taskhub: marshal outbox %s failed: %v", eventType, err)
		return nil
	}
	item := OutboxItem{
		ID:        newID(),
		Type:      eventType,
		SpaceID:   spaceID,
		Broadcast: broadcast,
		Data:      data,
	}
	if sp, ok := s.findSpaceLocked(spaceID); ok && sp.IsShared && sp.OwnerID != "" {
		item.OwnerID = sp.OwnerID
		item.Propagate = true
	}
	if !item.Broadcast && !item.Propagate {
		return nil
	}
	return []OutboxItem{item}
}

// --- persistence ---

func (s *Store) loadFromBackend() error {
	if s.stateBackend == nil {
		return nil
	}
	snapshot, err := s.stateBackend.Load()
	if err != nil {
		return err
	}
	if snapshot == nil {
		return nil
	}
	fromVersion := snapshot.SchemaVersion
	if s.migrate != nil {
		if err := s.migrate(snapshot, fromVersion); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = snapshot.Tasks
	s.spaces = snapshot.Spaces
	s.folders = snapshot.Folders
	s.lists = snapshot.Lists
	s.tags = snapshot.Tags
	s.docs = snapshot.Docs
	s.dashboards = snapshot.Dashboards
	s.clips = snapshot.Clips
	s.notifications = snapshot.Notifications
	s.agents = snapshot.Agents
	s.views = snapshot.Views
	s.activeTimer = snapshot.ActiveTimer
	s.normalizeCollectionsLocked()
	return nil
}

func (s *Store) normalizeCollectionsLocked() {
	if s.tasks == nil {
		s.tasks = []Task{}
	}
	if s.spaces == nil {
		s.spaces = []Space{}
	}
	if s.folders == nil {
		s.folders = []Folder{}
	}
	if s.lists == nil {
		s.lists = []List{}
	}
	if s.tags == nil {
		s.tags = []Tag{}
	}
	if s.docs == nil {
		s.docs = []Doc{}
	}
	if s.dashboards == nil {
		s.dashboards = []Dashboard{}
	}
	if s.clips == nil {
		s.clips = []Clip{}
	}
	if s.notifications == nil {
		s.notifications = []Notification{}
	}
	if s.agents == nil {
		s.agents = []Agent{}
	}
	if s.views == nil {
		s.views = []SavedView{}
	}
	for i := range s.tasks {
		if s.tasks[i].Subtasks == nil {
			s.tasks[i].Subtasks = []Subtask{}
		}
	}
}

func (s *Store) saveLocked() error {
	if s.stateBackend == nil {
		return nil
	}
	snapshot := &persistedState{
		SchemaVersion: currentSchemaVersion,
		Tasks:         s.tasks,
		Spaces:        s.spaces,
		Folders:       s.folders,
		Lists:         s.lists,
		Tags:          s.tags,
		Docs:          s.docs,
		Dashboards:    s.dashboards,
		Clips:         s.clips,
		Notifications: s.notifications,
		Agents:        s.agents,
		Views:         s.views,
		ActiveTimer:   s.activeTimer,
	}
	if err := s.stateBackend.Save(snapshot); err != nil {
		log.Printf("taskhub: save state failed: %v", err)
		return err
	}
	return nil
}

// --- lookups ---

func (s *Store) findTaskLocked(id string) (int, bool) {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func (s *Store) findSpaceLocked(id string) (*Space, bool) {
	for i := range s.spaces {
		if s.spaces[i].ID == id {
			return &s.spaces[i], true
		}
	}
	return nil, false
}

func (s *Store) findFolderLocked(id string) (*Folder, bool) {
	for i := range s.folders {
		if s.folders[i].ID == id {
			return &s.folders[i], true
		}
	}
	return nil, false
}

func (s *Store) findListLocked(id string) (*List, bool) {
	for i := range s.lists {
		if s.lists[i].ID == id {
			return &s.lists[i], true
		}
	}
	return nil, false
}

func (s *Store) recountLocked() {
	for i := range s.spaces {
		count := 0
		for j := range s.tasks {
			if s.tasks[j].SpaceID == s.spaces[i].ID {
				count++
			}
		}
		s.spaces[i].TaskCount = count
	}
	for i := range s.lists {
		count := 0
		for j := range s.tasks {
			if s.tasks[j].ListID == s.lists[i].ID {
				count++
			}
		}
		s.lists[i].TaskCount = count
	}
}

// statusCategoryLocked resolves a task status label against the owning
// list's statuses, falling back to the space's, then to the defaults.
func (s *Store) statusCategoryLocked(t Task) StatusCategory {
	statuses := DefaultStatuses()
	if sp, ok := s.findSpaceLocked(t.SpaceID); ok && len(sp.Statuses) > 0 {
		statuses = sp.Statuses
	}
	if l, ok := s.findListLocked(t.ListID); ok && len(l.Statuses) > 0 {
		statuses = l.Statuses
	}
	for _, st := range statuses {
		if strings.EqualFold(st.Name, t.Status) {
			return st.Category
		}
	}
	return ""
}

// --- read accessors (copies, callers never see live slices) ---

func (s *Store) Task(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.findTaskLocked(id); ok {
		return cloneTask(s.tasks[i]), true
	}
	return Task{}, false
}

func (s *Store) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for i := range s.tasks {
		out = append(out, cloneTask(s.tasks[i]))
	}
	return out
}

// TasksForSpace resolves the "everything" pseudo-space to all tasks.
func (s *Store) TasksForSpace(spaceID string) []Task {
	if spaceID == "" || spaceID == EverythingSpaceID {
		return s.Tasks()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Task{}
	for i := range s.tasks {
		if s.tasks[i].SpaceID == spaceID {
			out = append(out, cloneTask(s.tasks[i]))
		}
	}
	return out
}

func (s *Store) TasksForList(listID string) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Task{}
	for i := range s.tasks {
		if s.tasks[i].ListID == listID {
			out = append(out, cloneTask(s.tasks[i]))
		}
	}
	return out
}

func (s *Store) Space(id string) (Space, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sp, ok := s.findSpaceLocked(id); ok {
		return cloneSpace(*sp), true
	}
	return Space{}, false
}

func (s *Store) Spaces() []Space {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Space, 0, len(s.spaces))
	for i := range s.spaces {
		out = append(out, cloneSpace(s.spaces[i]))
	}
	return out
}

func (s *Store) Folders() []Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Folder{}, s.folders...)
}

func (s *Store) List(id string) (List, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.findListLocked(id); ok {
		return cloneList(*l), true
	}
	return List{}, false
}

func (s *Store) Lists() []List {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]List, 0, len(s.lists))
	for i := range s.lists {
		out = append(out, cloneList(s.lists[i]))
	}
	return out
}

func (s *Store) Tags() []Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Tag{}, s.tags...)
}

func (s *Store) Doc(id string) (Doc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.docs {
		if s.docs[i].ID == id {
			return s.docs[i], true
		}
	}
	return Doc{}, false
}

func (s *Store) Docs() []Doc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Doc{}, s.docs...)
}

func (s *Store) Dashboards() []Dashboard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Dashboard, 0, len(s.dashboards))
	for i := range s.dashboards {
		d := s.dashboards[i]
		d.Items = append([]DashboardItem{}, d.Items...)
		out = append(out, d)
	}
	return out
}

func (s *Store) Clips() []Clip {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Clip, 0, len(s.clips))
	for i := range s.clips {
		c := s.clips[i]
		c.Comments = append([]Comment{}, c.Comments...)
		out = append(out, c)
	}
	return out
}

func (s *Store) Notifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Notification{}, s.notifications...)
}

func (s *Store) Agent(id string) (Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.agents {
		if s.agents[i].ID == id {
			return s.agents[i], true
		}
	}
	return Agent{}, false
}

func (s *Store) Agents() []Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Agent{}, s.agents...)
}

func (s *Store) SavedViews() []SavedView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SavedView{}, s.views...)
}

func (s *Store) ActiveTimer() (ActiveTimer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeTimer == nil {
		return ActiveTimer{}, false
	}
	return *s.activeTimer, true
}

type BackendStatus struct {
	StateBackend   string `json:"stateBackend"`
	SchemaVersion  int    `json:"schemaVersion"`
	OutboxDepth    int    `json:"outboxDepth"`
	OutboxCapacity int    `json:"outboxCapacity"`
	TaskCount      int    `json:"taskCount"`
	SpaceCount     int    `json:"spaceCount"`
	TimerRunning   bool   `json:"timerRunning"`
}

func (s *Store) GetBackendStatus() BackendStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := BackendStatus{
		StateBackend:  "none",
		SchemaVersion: currentSchemaVersion,
		TaskCount:     len(s.tasks),
		SpaceCount:    len(s.spaces),
		TimerRunning:  s.activeTimer != nil,
	}
	if s.stateBackend != nil {
		status.StateBackend = fmt.Sprintf("%T", s.stateBackend)
	}
	if s.outbox != nil {
		status.OutboxDepth = s.outbox.Depth()
		status.OutboxCapacity = s.outbox.Capacity()
	}
	return status
}

func cloneTask(t Task) Task {
	t.TagIDs = append([]string{}, t.TagIDs...)
	t.Subtasks = append([]Subtask{}, t.Subtasks...)
	t.Comments = append([]Comment{}, t.Comments...)
	t.TimeEntries = append([]TimeEntry{}, t.TimeEntries...)
	t.Relationships = append([]Relationship{}, t.Relationships...)
	if t.CustomFields != nil {
		fields := make(map[string]string, len(t.CustomFields))
		for k, v := range t.CustomFields {
			fields[k] = v
		}
		t.CustomFields = fields
	}
	return t
}

func cloneSpace(sp Space) Space {
	sp.Statuses = append([]Status{}, sp.Statuses...)
	return sp
}

func cloneList(l List) List {
	l.Statuses = append([]Status{}, l.Statuses...)
	return l
}

func now() time.Time {
	return time.Now().UTC()
}
