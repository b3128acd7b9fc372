package notify

import "genflow/internal/model"

// EventType identifies the kind of an event pushed to subscribers.
type EventType string

const (
	EventTaskCreated        EventType = "TASK_CREATED"
	EventTasksStatusUpdate  EventType = "TASKS_STATUS_UPDATE"
	EventTaskCompleted      EventType = "TASK_COMPLETED"
	EventGenerationsUpdated EventType = "GENERATIONS_UPDATED"
	EventTasksCascaded      EventType = "TASKS_CASCADED"
)

// Event is a typed message delivered to every subscriber.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// TaskCreated is the payload of EventTaskCreated.
type TaskCreated struct {
	ProjectID string     `json:"projectId"`
	Task      model.Task `json:"task"`
}

// TasksStatusUpdate is the payload of EventTasksStatusUpdate.
type TasksStatusUpdate struct {
	ProjectID string       `json:"projectId"`
	Tasks     []model.Task `json:"tasks"`
}

// TaskCompleted is the payload of EventTaskCompleted.
type TaskCompleted struct {
	TaskID    string `json:"taskId"`
	ProjectID string `json:"projectId"`
}

// GenerationsUpdated is the payload of EventGenerationsUpdated.
type GenerationsUpdated struct {
	ProjectID string `json:"projectId"`
	ShotID    string `json:"shotId"`
}

// TasksCascaded is the payload of EventTasksCascaded.
type TasksCascaded struct {
	ProjectID    string           `json:"projectId"`
	SourceTaskID string           `json:"sourceTaskId"`
	Status       model.TaskStatus `json:"status"`
	TaskIDs      []string         `json:"taskIds"`
}

func NewTaskCreated(t model.Task) Event {
	return Event{Type: EventTaskCreated, Payload: TaskCreated{ProjectID: t.ProjectID, Task: t}}
}

func NewTasksStatusUpdate(projectID string, tasks []model.Task) Event {
	return Event{Type: EventTasksStatusUpdate, Payload: TasksStatusUpdate{ProjectID: projectID, Tasks: tasks}}
}

func NewTaskCompleted(taskID, projectID string) Event {
	return Event{Type: EventTaskCompleted, Payload: TaskCompleted{TaskID: taskID, ProjectID: projectID}}
}

func NewGenerationsUpdated(projectID, shotID string) Event {
	return Event{Type: EventGenerationsUpdated, Payload: GenerationsUpdated{ProjectID: projectID, ShotID: shotID}}
}

func NewTasksCascaded(projectID, sourceTaskID string, status model.TaskStatus, taskIDs []string) Event {
	return Event{Type: EventTasksCascaded, Payload: TasksCascaded{
		ProjectID:    projectID,
		SourceTaskID: sourceTaskID,
		Status:       status,
		TaskIDs:      taskIDs,
	}}
}

// ProjectID returns the project the event is scoped to, empty if unknown.
func (e Event) ProjectID() string {
	switch p := e.Payload.(type) {
	case TaskCreated:
		return p.ProjectID
	case TasksStatusUpdate:
		return p.ProjectID
	case TaskCompleted:
		return p.ProjectID
	case GenerationsUpdated:
		return p.ProjectID
	case TasksCascaded:
		return p.ProjectID
	default:
		return ""
	}
}
