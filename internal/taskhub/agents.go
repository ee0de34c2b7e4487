package taskhub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// autopilotSchema bounds what the model is allowed to hand back. Unknown
// keys pass through unused; wrong types fail validation and take the
// failure path.
const autopilotSchema = `{
	"type": "object",
	"properties": {
		"priority": {"type": "string", "enum": ["low", "medium", "high", "urgent"]},
		"status": {"type": "string"},
		"dueDate": {"type": "string"},
		"startDate": {"type": "string"},
		"assignee": {"type": "string"},
		"tags": {"type": "array", "items": {"type": "string"}},
		"subtasks": {"type": "array", "items": {"type": "string"}},
		"comment": {"type": "string"},
		"docName": {"type": "string"},
		"blockingTaskName": {"type": "string"}
	}
}`

const autopilotSystemPrompt = "You are a task automation assistant. Respond with a single JSON object only."

var (
	autopilotSchemaOnce     sync.Once
	autopilotSchemaCompiled *jsonschema.Schema
	autopilotSchemaErr      error
)

func compiledAutopilotSchema() (*jsonschema.Schema, error) {
	autopilotSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(autopilotSchema))
		if err != nil {
			autopilotSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("autopilot.json", doc); err != nil {
			autopilotSchemaErr = err
			return
		}
		autopilotSchemaCompiled, autopilotSchemaErr = compiler.Compile("autopilot.json")
	})
	return autopilotSchemaCompiled, autopilotSchemaErr
}

// AutopilotResult is the validated shape of the model's response. Every
// field is optional; absent fields leave the task untouched.
type AutopilotResult struct {
	Priority         *string  `json:"priority,omitempty"`
	Status           *string  `json:"status,omitempty"`
	DueDate          *string  `json:"dueDate,omitempty"`
	StartDate        *string  `json:"startDate,omitempty"`
	Assignee         *string  `json:"assignee,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	Subtasks         []string `json:"subtasks,omitempty"`
	Comment          *string  `json:"comment,omitempty"`
	DocName          *string  `json:"docName,omitempty"`
	BlockingTaskName *string  `json:"blockingTaskName,omitempty"`
}

var conditionStopwords = map[string]bool{
	"task": true, "about": true, "when": true, "this": true,
	"that": true, "with": true, "from": true,
}

// MatchesCondition implements keyword matching over the task text: tokens
// of length <= 3 and stopwords are dropped, any surviving keyword matching
// as a substring succeeds. When nothing survives, the whole condition
// string is tried literally.
func MatchesCondition(conditions string, t Task) bool {
	cond := strings.ToLower(strings.TrimSpace(conditions))
	if cond == "" {
		return true
	}
	text := strings.ToLower(t.Name + " " + t.Description)
	var keywords []string
	for _, word := range strings.Fields(cond) {
		if len(word) <= 3 || conditionStopwords[word] {
			continue
		}
		keywords = append(keywords, word)
	}
	if len(keywords) == 0 {
		return strings.Contains(text, cond)
	}
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

// agentEvaluation is one queued trigger firing. Mutations enqueue and
// return; the agent worker drains the queue in order, so the model call
// never blocks a mutating caller.
type agentEvaluation struct {
	trigger AgentTriggerType
	taskID  string
}

// queueAgentEvaluation hands a trigger to the agent worker. Automation-origin
// mutations are never evaluated, so an agent's own updates cannot re-trigger
// agents. A full queue drops the evaluation; agent actions are best-effort
// like every other mutation side effect.
func (s *Store) queueAgentEvaluation(trigger AgentTriggerType, taskID string, origin Origin) {
	if origin == OriginAutomation {
		return
	}
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.agentEvals <- agentEvaluation{trigger: trigger, taskID: taskID}:
	default:
		log.Printf("taskhub: agent evaluation queue full, dropping %s for task %s", trigger, taskID)
	}
}

func (s *Store) agentWorker() {
	for {
		select {
		case <-s.queueCtx.Done():
			return
		case ev := <-s.agentEvals:
			s.evaluateAgents(ev.trigger, ev.taskID)
		}
	}
}

// evaluateAgents runs every enabled agent whose trigger matches against the
// task's fresh state.
func (s *Store) evaluateAgents(trigger AgentTriggerType, taskID string) {
	s.mu.RLock()
	var candidates []Agent
	for _, a := range s.agents {
		if a.Enabled && a.Trigger.Type == trigger {
			candidates = append(candidates, a)
		}
	}
	s.mu.RUnlock()
	for _, agent := range candidates {
		t, ok := s.Task(taskID)
		if !ok {
			return
		}
		if !MatchesCondition(agent.Trigger.Conditions, t) {
			continue
		}
		s.executeAgentAction(agent, t)
	}
}

func (s *Store) executeAgentAction(agent Agent, t Task) {
	switch agent.Action.Type {
	case ActionLaunchAutopilot:
		s.runAutopilot(agent, t)
	case ActionSendNotification:
		message := strings.TrimSpace(agent.Action.Instructions)
		if message == "" {
			message = t.Name
		}
		s.AddNotification(Notification{
			Type:    NotificationAgentAlert,
			Title:   agent.Name,
			Message: message,
			TaskID:  t.ID,
		})
	case ActionUpdateTask:
		// Declared in the model but has no executor: free-text instructions
		// cannot be applied without the autopilot path.
		log.Printf("taskhub: agent %s action update_task has no executor", agent.ID)
	default:
		log.Printf("taskhub: agent %s has unknown action %q", agent.ID, agent.Action.Type)
	}
}

// runAutopilot asks the configured model for structured task mutations and
// applies them. Any failure is recorded as an audit comment on the task;
// nothing propagates to the caller.
func (s *Store) runAutopilot(agent Agent, t Task) {
	provider := s.currentAIProvider()
	if provider == nil {
		s.addAutopilotFailure(agent, t.ID, fmt.Errorf("no ai provider configured"))
		return
	}
	ctx, cancel := context.WithTimeout(s.queueCtx, s.autopilotTimeout())
	defer cancel()
	raw, err := provider.Generate(ctx, s.buildAutopilotPrompt(agent, t), autopilotSystemPrompt)
	if err != nil {
		s.addAutopilotFailure(agent, t.ID, err)
		return
	}
	result, err := ParseAutopilotResult(raw)
	if err != nil {
		s.addAutopilotFailure(agent, t.ID, err)
		return
	}
	s.applyAutopilotResult(agent, t, result)
}

func (s *Store) autopilotTimeout() time.Duration {
	s.aiMu.RLock()
	defer s.aiMu.RUnlock()
	if s.aiConfig.Timeout > 0 {
		return s.aiConfig.Timeout
	}
	return 60 * time.Second
}

func (s *Store) buildAutopilotPrompt(agent Agent, t Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", t.Name)
	if t.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", t.Description)
	}
	fmt.Fprintf(&b, "Priority: %s\nStatus: %s\n", t.Priority, t.Status)
	if t.Assignee != "" {
		fmt.Fprintf(&b, "Assignee: %s\n", t.Assignee)
	}
	fmt.Fprintf(&b, "Today: %s\n", now().Format("2006-01-02"))
	tags := s.Tags()
	if len(tags) > 0 {
		names := make([]string, 0, len(tags))
		for _, tag := range tags {
			names = append(names, tag.Name)
		}
		fmt.Fprintf(&b, "Known tags: %s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(&b, "\nInstructions: %s\n", agent.Action.Instructions)
	b.WriteString("\nReturn a JSON object with any of these keys: priority, status, dueDate, startDate, assignee, tags, subtasks, comment, docName, blockingTaskName.")
	return b.String()
}

// ParseAutopilotResult strips code fences, validates the payload against
// the autopilot schema and decodes it.
func ParseAutopilotResult(raw string) (AutopilotResult, error) {
	cleaned := stripCodeFence(raw)
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(cleaned))
	if err != nil {
		return AutopilotResult{}, fmt.Errorf("model response is not valid json: %w", err)
	}
	schema, err := compiledAutopilotSchema()
	if err != nil {
		return AutopilotResult{}, err
	}
	if err := schema.Validate(doc); err != nil {
		return AutopilotResult{}, fmt.Errorf("model response rejected: %w", err)
	}
	var result AutopilotResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return AutopilotResult{}, err
	}
	return result, nil
}

func stripCodeFence(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}

func (s *Store) applyAutopilotResult(agent Agent, t Task, result AutopilotResult) {
	patch := TaskPatch{}
	changed := false

	if result.Priority != nil && Priority(*result.Priority) != t.Priority {
		p := Priority(*result.Priority)
		patch.Priority = &p
		changed = true
	}
	if result.Status != nil && *result.Status != t.Status {
		patch.Status = result.Status
		changed = true
	}
	if result.DueDate != nil {
		if due, ok := parseFlexibleDate(*result.DueDate); ok && (t.DueDate == nil || !t.DueDate.Equal(due)) {
			patch.DueDate = &due
			changed = true
		}
	}
	if result.StartDate != nil {
		if start, ok := parseFlexibleDate(*result.StartDate); ok && (t.StartDate == nil || !t.StartDate.Equal(start)) {
			patch.StartDate = &start
			changed = true
		}
	}
	if result.Assignee != nil && *result.Assignee != t.Assignee {
		patch.Assignee = result.Assignee
		changed = true
	}

	if len(result.Tags) > 0 {
		tagIDs := append([]string{}, t.TagIDs...)
		onTask := map[string]bool{}
		for _, id := range tagIDs {
			onTask[id] = true
		}
		added := false
		for _, name := range result.Tags {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			tag, ok := s.TagByName(name)
			id := tag.ID
			if !ok {
				id = s.AddTag(name, randomTagColor())
			}
			if !onTask[id] {
				tagIDs = append(tagIDs, id)
				onTask[id] = true
				added = true
			}
		}
		if added {
			patch.TagIDs = &tagIDs
			changed = true
		}
	}

	for _, name := range result.Subtasks {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s.AddSubtask(t.ID, Subtask{Name: name, Status: "TO DO"})
	}

	if result.DocName != nil && strings.TrimSpace(*result.DocName) != "" {
		docID := s.AddDoc(Doc{
			Name:       strings.TrimSpace(*result.DocName),
			Content:    fmt.Sprintf("# %s\n\nCreated by %s for task %q.\n", strings.TrimSpace(*result.DocName), agent.Name, t.Name),
			SpaceID:    t.SpaceID,
			ListID:     t.ListID,
			AuthorID:   "agent:" + agent.ID,
			AuthorName: agent.Name,
		})
		patch.LinkedDocID = &docID
		changed = true
	}

	if result.BlockingTaskName != nil {
		if target, ok := s.findTaskByFuzzyName(*result.BlockingTaskName, t.ID); ok {
			s.AddRelationship(t.ID, RelationshipBlocking, target.ID)
		}
	}

	auditText := "Autopilot ran: " + agent.Action.Instructions
	if result.Comment != nil && strings.TrimSpace(*result.Comment) != "" {
		auditText = *result.Comment
	}
	s.AddComment(t.ID, Comment{
		AuthorID:   "agent:" + agent.ID,
		AuthorName: agent.Name,
		Text:       auditText,
	})

	if changed {
		s.updateTask(t.ID, patch, OriginAutomation)
	}
}

func (s *Store) addAutopilotFailure(agent Agent, taskID string, cause error) {
	s.AddComment(taskID, Comment{
		AuthorID:   "agent:" + agent.ID,
		AuthorName: agent.Name,
		Text:       fmt.Sprintf("Autopilot failed: %v", cause),
	})
}

func (s *Store) findTaskByFuzzyName(name, excludeID string) (Task, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Task{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.tasks {
		if s.tasks[i].ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(s.tasks[i].Name), needle) {
			return cloneTask(s.tasks[i]), true
		}
	}
	return Task{}, false
}

func parseFlexibleDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

var tagColorPalette = []string{
	"#e14f62", "#f2994a", "#f2c94c", "#27ae60",
	"#2d9cdb", "#5f55ee", "#9b51e0", "#87909e",
}

func randomTagColor() string {
	return tagColorPalette[rand.Intn(len(tagColorPalette))]
}
