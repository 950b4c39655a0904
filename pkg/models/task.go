package models

import "time"

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// Valid reports whether s is one of the four known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusBlocked:
		return true
	}
	return false
}

// Active reports whether a task in this status still needs work.
func (s TaskStatus) Active() bool {
	return s == TaskStatusPending || s == TaskStatusInProgress
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities: critical > high > medium > low.
// Unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

func (p Priority) Valid() bool {
	return p.Rank() > 0
}

type CodeSnippet struct {
	Content   string `json:"content"`
	Language  string `json:"language,omitempty"`
	Path      string `json:"path,omitempty"`
	StartLine int    `json:"startLine,omitempty"`
	EndLine   int    `json:"endLine,omitempty"`
}

// TaskContext is free-form contextual metadata. It only ever grows.
type TaskContext struct {
	Repository   string        `json:"repository,omitempty"`
	Branch       string        `json:"branch,omitempty"`
	Files        []string      `json:"files"`
	Commits      []string      `json:"commits"`
	CodeSnippets []CodeSnippet `json:"codeSnippets"`
}

type Stage struct {
	Name      string    `json:"name"`
	Completed bool      `json:"completed"`
	Timestamp time.Time `json:"timestamp"`
}

type Progress struct {
	Percentage int     `json:"percentage"`
	Stages     []Stage `json:"stages"`
}

// CompletedStages returns how many stages are marked completed.
func (p Progress) CompletedStages() int {
	n := 0
	for _, s := range p.Stages {
		if s.Completed {
			n++
		}
	}
	return n
}

// Metadata holds the approval bookkeeping of a task. Extra is the side table
// for attributes that have no typed field.
type Metadata struct {
	Approved          bool              `json:"approved"`
	ApprovedAt        *time.Time        `json:"approvedAt,omitempty"`
	CompletionDetails string            `json:"completionDetails,omitempty"`
	RequestCompleted  bool              `json:"requestCompleted"`
	Extra             map[string]string `json:"extra,omitempty"`
}

type Task struct {
	ID           string      `json:"id"`
	RequestID    string      `json:"requestId"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Status       TaskStatus  `json:"status"`
	Priority     Priority    `json:"priority"`
	AssignedTo   string      `json:"assignedTo,omitempty"`
	Tags         []string    `json:"tags"`
	Context      TaskContext `json:"context"`
	Progress     Progress    `json:"progress"`
	Dependencies []string    `json:"dependencies"`
	Metadata     Metadata    `json:"metadata"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	CompletedAt  *time.Time  `json:"completedAt"`

	// Version is bumped by the store on every write.
	Version int64 `json:"version"`
}

// Clone returns a deep copy so mutations can be staged without touching the
// caller's record.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Tags = append([]string(nil), t.Tags...)
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.Context.Files = append([]string(nil), t.Context.Files...)
	c.Context.Commits = append([]string(nil), t.Context.Commits...)
	c.Context.CodeSnippets = append([]CodeSnippet(nil), t.Context.CodeSnippets...)
	c.Progress.Stages = append([]Stage(nil), t.Progress.Stages...)
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	if t.Metadata.ApprovedAt != nil {
		ts := *t.Metadata.ApprovedAt
		c.Metadata.ApprovedAt = &ts
	}
	if t.Metadata.Extra != nil {
		c.Metadata.Extra = make(map[string]string, len(t.Metadata.Extra))
		for k, v := range t.Metadata.Extra {
			c.Metadata.Extra[k] = v
		}
	}
	return &c
}
