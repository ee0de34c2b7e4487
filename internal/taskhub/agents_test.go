package taskhub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type scriptedAIProvider struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	prompts  []string
}

func (p *scriptedAIProvider) Generate(ctx context.Context, prompt, system string) (string, error) {
	_ = ctx
	_ = system
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.prompts = append(p.prompts, prompt)
	return p.response, p.err
}

func (p *scriptedAIProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// gatedAIProvider blocks Generate until release is closed, so tests can hold
// a model call in flight.
type gatedAIProvider struct {
	started chan struct{}
	release chan struct{}
}

func (p *gatedAIProvider) Generate(ctx context.Context, prompt, system string) (string, error) {
	_ = prompt
	_ = system
	select {
	case p.started <- struct{}{}:
	default:
	}
	select {
	case <-p.release:
		return `{"comment":"done"}`, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func waitForTask(t *testing.T, store *Store, id string, ready func(Task) bool) Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := store.Task(id); ok && ready(got) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := store.Task(id)
	t.Fatalf("task never reached the expected state: %+v", got)
	return Task{}
}

func agentAlertCount(notes []Notification) int {
	count := 0
	for _, n := range notes {
		if n.Type == NotificationAgentAlert {
			count++
		}
	}
	return count
}

func TestMatchesCondition(t *testing.T) {
	task := Task{Name: "New HR onboarding checklist", Description: "collect signed forms"}
	cases := []struct {
		conditions string
		want       bool
	}{
		{"", true},
		{"about HR onboarding", true},
		{"task about billing", false},
		{"signed paperwork", true},
		{"when this that with", false},
		// Short tokens fall back to a literal substring match.
		{"hr", true},
		{"qa", false},
		{"new hr", true},
	}
	for _, tc := range cases {
		if got := MatchesCondition(tc.conditions, task); got != tc.want {
			t.Fatalf("MatchesCondition(%q) = %v, want %v", tc.conditions, got, tc.want)
		}
	}
}

func TestAgentConditionFiltersTasks(t *testing.T) {
	store := NewStore()
	t.Cleanup(store.Close)

	spaceID := store.AddSpace(Space{Name: "Finance"})
	store.AddAgent(Agent{
		Name:    "Invoice watcher",
		Enabled: true,
		Trigger: AgentTrigger{Type: TriggerTaskCreated, Conditions: "invoice payment"},
		Action:  AgentAction{Type: ActionSendNotification, Instructions: "invoice task arrived"},
	})

	store.AddTask(Task{Name: "Plan offsite", SpaceID: spaceID})
	taskID := store.AddTask(Task{Name: "Pay supplier invoice", SpaceID: spaceID})

	var alert Notification
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, ok := notificationOfType(store.Notifications(), NotificationAgentAlert); ok {
			alert = n
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if alert.ID == "" {
		t.Fatalf("agent did not fire on a matching task")
	}
	if alert.Title != "Invoice watcher" || alert.Message != "invoice task arrived" || alert.TaskID != taskID {
		t.Fatalf("unexpected agent alert %+v", alert)
	}
	// Evaluations drain in order, so by now the non-matching task has been
	// evaluated too and must not have produced a second alert.
	if count := agentAlertCount(store.Notifications()); count != 1 {
		t.Fatalf("expected 1 agent alert, got %d", count)
	}
}

func TestDisabledAgentsNeverFire(t *testing.T) {
	store := NewStore()
	t.Cleanup(store.Close)

	spaceID := store.AddSpace(Space{Name: "Work"})
	agentID := store.AddAgent(Agent{
		Name:    "Sleeper",
		Enabled: false,
		Trigger: AgentTrigger{Type: TriggerTaskCreated},
		Action:  AgentAction{Type: ActionSendNotification},
	})
	store.AddTask(Task{Name: "anything", SpaceID: spaceID})
	time.Sleep(200 * time.Millisecond)
	if _, ok := notificationOfType(store.Notifications(), NotificationAgentAlert); ok {
		t.Fatalf("disabled agent fired")
	}

	enabled := true
	store.UpdateAgent(agentID, AgentPatch{Enabled: &enabled})
	store.AddTask(Task{Name: "anything else", SpaceID: spaceID})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := notificationOfType(store.Notifications(), NotificationAgentAlert); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("enabled agent did not fire")
}

func TestAutopilotAppliesModelResult(t *testing.T) {
	provider := &scriptedAIProvider{response: "```json\n" + `{
		"priority": "urgent",
		"status": "IN PROGRESS",
		"dueDate": "2026-09-15",
		"tags": ["Finance", "Q3"],
		"subtasks": ["Collect receipts", "File report"],
		"comment": "Scheduled and tagged.",
		"docName": "Expense policy"
	}` + "\n```"}
	store := NewStoreWithOptions(StoreOptions{AIProvider: provider})
	t.Cleanup(store.Close)

	spaceID := store.AddSpace(Space{Name: "Finance"})
	agentID := store.AddAgent(Agent{
		Name:    "Expense autopilot",
		Enabled: true,
		Trigger: AgentTrigger{Type: TriggerTaskCreated},
		Action:  AgentAction{Type: ActionLaunchAutopilot, Instructions: "triage expense tasks"},
	})

	taskID := store.AddTask(Task{Name: "Submit expense report", SpaceID: spaceID})
	// The field patch is the autopilot's final step; once it lands the rest
	// of the run has completed.
	got := waitForTask(t, store, taskID, func(got Task) bool {
		return got.Priority == PriorityUrgent
	})
	if provider.callCount() != 1 {
		t.Fatalf("expected 1 model call, got %d", provider.callCount())
	}
	if got.Status != "IN PROGRESS" {
		t.Fatalf("status not applied: %q", got.Status)
	}
	if got.DueDate == nil || got.DueDate.Format("2006-01-02") != "2026-09-15" {
		t.Fatalf("due date not applied: %v", got.DueDate)
	}
	if len(got.TagIDs) != 2 {
		t.Fatalf("expected 2 tags attached, got %d", len(got.TagIDs))
	}
	if _, ok := store.TagByName("finance"); !ok {
		t.Fatalf("missing tag must be created")
	}
	if len(got.Subtasks) != 2 || got.Subtasks[0].Name != "Collect receipts" {
		t.Fatalf("subtasks not created: %+v", got.Subtasks)
	}
	if got.LinkedDocID == "" {
		t.Fatalf("doc not linked to the task")
	}
	doc, ok := store.Doc(got.LinkedDocID)
	if !ok || doc.Name != "Expense policy" {
		t.Fatalf("linked doc missing: %+v", doc)
	}
	if len(got.Comments) != 1 {
		t.Fatalf("expected 1 audit comment, got %d", len(got.Comments))
	}
	if got.Comments[0].AuthorID != "agent:"+agentID || got.Comments[0].Text != "Scheduled and tagged." {
		t.Fatalf("unexpected audit comment %+v", got.Comments[0])
	}
}

func TestAutopilotCommentOnlyResult(t *testing.T) {
	provider := &scriptedAIProvider{response: `{"comment":"ok"}`}
	store := NewStoreWithOptions(StoreOptions{AIProvider: provider})
	t.Cleanup(store.Close)

	spaceID := store.AddSpace(Space{Name: "Work"})
	agentID := store.AddAgent(Agent{
		Name:    "Commenter",
		Enabled: true,
		Trigger: AgentTrigger{Type: TriggerTaskCreated},
		Action:  AgentAction{Type: ActionLaunchAutopilot, Instructions: "just comment"},
	})

	taskID := store.AddTask(Task{Name: "leave my fields alone", SpaceID: spaceID})
	got := waitForTask(t, store, taskID, func(got Task) bool {
		return len(got.Comments) == 1
	})
	if provider.callCount() != 1 {
		t.Fatalf("expected 1 model call, got %d", provider.callCount())
	}
	if got.Comments[0].Text != "ok" || got.Comments[0].AuthorID != "agent:"+agentID {
		t.Fatalf("unexpected comment %+v", got.Comments[0])
	}
	// A comment-only result must not touch any task field.
	if got.Priority != "" || got.Status != "TO DO" || got.Assignee != "" {
		t.Fatalf("comment-only run mutated fields: %+v", got)
	}
	if got.DueDate != nil || got.StartDate != nil {
		t.Fatalf("comment-only run set dates: %+v", got)
	}
	if len(got.TagIDs) != 0 || len(got.Subtasks) != 0 || got.LinkedDocID != "" {
		t.Fatalf("comment-only run attached entities: %+v", got)
	}

	time.Sleep(200 * time.Millisecond)
	final, _ := store.Task(taskID)
	if len(final.Comments) != 1 || provider.callCount() != 1 {
		t.Fatalf("comment-only run re-entered: %d comments, %d calls", len(final.Comments), provider.callCount())
	}
}

func TestMutationsDoNotBlockOnModel(t *testing.T) {
	provider := &gatedAIProvider{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	store := NewStoreWithOptions(StoreOptions{AIProvider: provider})
	t.Cleanup(store.Close)

	spaceID := store.AddSpace(Space{Name: "Work"})
	store.AddAgent(Agent{
		Name:    "Slow model",
		Enabled: true,
		Trigger: AgentTrigger{Type: TriggerTaskCreated},
		Action:  AgentAction{Type: ActionLaunchAutopilot, Instructions: "take your time"},
	})

	start := time.Now()
	taskID := store.AddTask(Task{Name: "do not wait for me", SpaceID: spaceID})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("AddTask blocked for %s while the model was busy", elapsed)
	}

	select {
	case <-provider.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("model call never started")
	}
	close(provider.release)

	got := waitForTask(t, store, taskID, func(got Task) bool {
		return len(got.Comments) == 1
	})
	if got.Comments[0].Text != "done" {
		t.Fatalf("unexpected autopilot comment %+v", got.Comments[0])
	}
}

func TestAutopilotRecursionGuard(t *testing.T) {
	provider := &scriptedAIProvider{response: `{"priority":"high","comment":"bumped"}`}
	store := NewStoreWithOptions(StoreOptions{AIProvider: provider})
	t.Cleanup(store.Close)

	spaceID := store.AddSpace(Space{Name: "Work"})
	taskID := store.AddTask(Task{Name: "escalate me", SpaceID: spaceID})
	store.AddAgent(Agent{
		Name:    "Bumper",
		Enabled: true,
		Trigger: AgentTrigger{Type: TriggerTaskUpdated},
		Action:  AgentAction{Type: ActionLaunchAutopilot, Instructions: "bump priority"},
	})

	desc := "needs attention"
	store.UpdateTask(taskID, TaskPatch{Description: &desc})
	waitForTask(t, store, taskID, func(got Task) bool {
		return got.Priority == PriorityHigh
	})

	// The autopilot's own patch is an automation-origin update and must not
	// re-enter agent evaluation.
	time.Sleep(200 * time.Millisecond)
	if provider.callCount() != 1 {
		t.Fatalf("expected exactly 1 model call, got %d", provider.callCount())
	}
}

func TestAutopilotBlockingRelationship(t *testing.T) {
	provider := &scriptedAIProvider{response: `{"blockingTaskName":"database migration","comment":"linked blocker"}`}
	store := NewStoreWithOptions(StoreOptions{AIProvider: provider})
	t.Cleanup(store.Close)

	spaceID := store.AddSpace(Space{Name: "Eng"})
	blockerID := store.AddTask(Task{Name: "Run database migration", SpaceID: spaceID})
	store.AddAgent(Agent{
		Name:    "Linker",
		Enabled: true,
		Trigger: AgentTrigger{Type: TriggerTaskCreated, Conditions: "deploy"},
		Action:  AgentAction{Type: ActionLaunchAutopilot, Instructions: "find blockers"},
	})

	taskID := store.AddTask(Task{Name: "Deploy new schema", SpaceID: spaceID})
	got := waitForTask(t, store, taskID, func(got Task) bool {
		return len(got.Relationships) == 1
	})
	rel := got.Relationships[0]
	if rel.Type != RelationshipBlocking || rel.TargetTaskID != blockerID {
		t.Fatalf("unexpected relationship %+v", rel)
	}
}

func TestAutopilotFailureLeavesAuditComment(t *testing.T) {
	provider := &scriptedAIProvider{err: errors.New("model unavailable")}
	store := NewStoreWithOptions(StoreOptions{AIProvider: provider})
	t.Cleanup(store.Close)

	spaceID := store.AddSpace(Space{Name: "Work"})
	store.AddAgent(Agent{
		Name:    "Flaky",
		Enabled: true,
		Trigger: AgentTrigger{Type: TriggerTaskCreated},
		Action:  AgentAction{Type: ActionLaunchAutopilot, Instructions: "do things"},
	})

	taskID := store.AddTask(Task{Name: "doomed", SpaceID: spaceID})
	got := waitForTask(t, store, taskID, func(got Task) bool {
		return len(got.Comments) == 1
	})
	if !strings.HasPrefix(got.Comments[0].Text, "Autopilot failed:") {
		t.Fatalf("unexpected failure comment %q", got.Comments[0].Text)
	}
	if got.Priority != "" {
		t.Fatalf("failed run must not mutate the task")
	}
}

func TestAutopilotWithoutProviderFailsSoft(t *testing.T) {
	store := NewStore()
	t.Cleanup(store.Close)

	spaceID := store.AddSpace(Space{Name: "Work"})
	store.AddAgent(Agent{
		Name:    "Orphan",
		Enabled: true,
		Trigger: AgentTrigger{Type: TriggerTaskCreated},
		Action:  AgentAction{Type: ActionLaunchAutopilot},
	})
	taskID := store.AddTask(Task{Name: "no model", SpaceID: spaceID})
	got := waitForTask(t, store, taskID, func(got Task) bool {
		return len(got.Comments) == 1
	})
	if !strings.Contains(got.Comments[0].Text, "no ai provider configured") {
		t.Fatalf("expected provider-missing failure comment, got %+v", got.Comments)
	}
}

func TestStatusChangeTriggersDedicatedAgents(t *testing.T) {
	store := NewStore()
	t.Cleanup(store.Close)

	spaceID := store.AddSpace(Space{Name: "Work"})
	taskID := store.AddTask(Task{Name: "track me", SpaceID: spaceID})
	store.AddAgent(Agent{
		Name:    "Status watcher",
		Enabled: true,
		Trigger: AgentTrigger{Type: TriggerStatusChanged},
		Action:  AgentAction{Type: ActionSendNotification, Instructions: "status moved"},
	})

	desc := "still todo"
	store.UpdateTask(taskID, TaskPatch{Description: &desc})
	time.Sleep(200 * time.Millisecond)
	if _, ok := notificationOfType(store.Notifications(), NotificationAgentAlert); ok {
		t.Fatalf("status_changed agent fired without a status change")
	}

	status := "IN PROGRESS"
	store.UpdateTask(taskID, TaskPatch{Status: &status})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := notificationOfType(store.Notifications(), NotificationAgentAlert); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status_changed agent did not fire")
}

func TestParseAutopilotResult(t *testing.T) {
	fenced := "```json\n{\"comment\":\"ok\"}\n```"
	result, err := ParseAutopilotResult(fenced)
	if err != nil {
		t.Fatalf("fenced response rejected: %v", err)
	}
	if result.Comment == nil || *result.Comment != "ok" {
		t.Fatalf("comment not decoded: %+v", result)
	}

	if _, err := ParseAutopilotResult("not json at all"); err == nil {
		t.Fatalf("expected error for non-json response")
	}
	if _, err := ParseAutopilotResult(`{"priority":"critical"}`); err == nil {
		t.Fatalf("expected schema rejection for out-of-enum priority")
	}
	if _, err := ParseAutopilotResult(`{"tags":"finance"}`); err == nil {
		t.Fatalf("expected schema rejection for wrong tags type")
	}
}
