package models

// TaskSpec describes one task submitted with a new request.
type TaskSpec struct {
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Priority     Priority     `json:"priority,omitempty"`
	Context      *TaskContext `json:"context,omitempty"`
	AssignedTo   string       `json:"assignedTo,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Dependencies []string     `json:"dependencies,omitempty"`
}

// TaskSummary is the compact listing returned when a request is registered.
type TaskSummary struct {
	TaskID string     `json:"taskId"`
	Title  string     `json:"title"`
	Status TaskStatus `json:"status"`
}

// ProgressEntry is one line of a request progress report.
type ProgressEntry struct {
	TaskID     string     `json:"taskId"`
	Title      string     `json:"title"`
	Status     TaskStatus `json:"status"`
	Percentage int        `json:"progress"`
	Approved   bool       `json:"approved"`
}

// Report builds the progress report for tasks, keeping their order.
func Report(tasks []*Task) []ProgressEntry {
	entries := make([]ProgressEntry, 0, len(tasks))
	for _, t := range tasks {
		entries = append(entries, ProgressEntry{
			TaskID:     t.ID,
			Title:      t.Title,
			Status:     t.Status,
			Percentage: t.Progress.Percentage,
			Approved:   t.Metadata.Approved,
		})
	}
	return entries
}

type CreateRequestResult struct {
	RequestID string        `json:"requestId"`
	Tasks     []TaskSummary `json:"tasks"`
	Message   string        `json:"message"`
}

type NextTaskResult struct {
	AllDone     bool            `json:"all_tasks_done,omitempty"`
	TaskID      string          `json:"taskId,omitempty"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Status      TaskStatus      `json:"status,omitempty"`
	Context     *TaskContext    `json:"context,omitempty"`
	Progress    []ProgressEntry `json:"progress"`
	Message     string          `json:"message,omitempty"`
}

type MarkDoneResult struct {
	TaskID        string          `json:"taskId"`
	Status        TaskStatus      `json:"status"`
	Progress      []ProgressEntry `json:"progress"`
	Message       string          `json:"message"`
	NeedsApproval bool            `json:"needs_approval"`
}

type ApproveTaskResult struct {
	TaskID   string          `json:"taskId"`
	Status   string          `json:"status"`
	Progress []ProgressEntry `json:"progress"`
	Message  string          `json:"message"`
}

type ApproveRequestResult struct {
	RequestID string          `json:"requestId"`
	Status    string          `json:"status"`
	Progress  []ProgressEntry `json:"progress"`
	Message   string          `json:"message"`
	Completed bool            `json:"completed"`
}
