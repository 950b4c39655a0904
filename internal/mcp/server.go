package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/internal/workflow"
	"github.com/ldi/taskflow/pkg/models"
)

const (
	DefaultName    = "taskflow"
	DefaultVersion = "0.1.0"
)

// NewServer creates a new MCP server exposing the workflow operations as
// tools.
func NewServer(svc *workflow.Service, log *zap.Logger, name, version string) *server.MCPServer {
	if name == "" {
		name = DefaultName
	}
	if version == "" {
		version = DefaultVersion
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := server.NewMCPServer(name, version)
	h := &handlers{svc: svc, log: log}

	// Request lifecycle
	s.AddTool(mcp.NewTool("request_planning",
		mcp.WithDescription("Register a new request and plan its tasks. All tasks start pending."),
		mcp.WithString("originalRequest", mcp.Description("The original request text"), mcp.Required()),
		mcp.WithArray("tasks",
			mcp.Description("Tasks to create, each with title, description and optional priority and context"),
			mcp.Required(),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":       map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"priority":    map[string]any{"type": "string", "enum": []string{"low", "medium", "high", "critical"}},
					"context":     map[string]any{"type": "object"},
				},
				"required": []string{"title", "description"},
			}),
		),
		mcp.WithString("splitDetails", mcp.Description("Notes on how the request was split into tasks")),
	), h.requestPlanning)

	s.AddTool(mcp.NewTool("get_next_task",
		mcp.WithDescription("Get the task to work on next for a request. A pending task is started before it is returned."),
		mcp.WithString("requestId", mcp.Description("Request ID"), mcp.Required()),
	), h.getNextTask)

	s.AddTool(mcp.NewTool("mark_task_done",
		mcp.WithDescription("Mark a task of a request as done. The task then awaits approval."),
		mcp.WithString("requestId", mcp.Description("Request ID"), mcp.Required()),
		mcp.WithString("taskId", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("completedDetails", mcp.Description("Summary of the work done")),
	), h.markTaskDone)

	s.AddTool(mcp.NewTool("approve_task_completion",
		mcp.WithDescription("Approve a completed task."),
		mcp.WithString("requestId", mcp.Description("Request ID"), mcp.Required()),
		mcp.WithString("taskId", mcp.Description("Task ID"), mcp.Required()),
	), h.approveTask)

	s.AddTool(mcp.NewTool("approve_request_completion",
		mcp.WithDescription("Approve a whole request once every task is completed."),
		mcp.WithString("requestId", mcp.Description("Request ID"), mcp.Required()),
	), h.approveRequest)

	s.AddTool(mcp.NewTool("get_progress_report",
		mcp.WithDescription("Get the progress report of a request."),
		mcp.WithString("requestId", mcp.Description("Request ID"), mcp.Required()),
	), h.progressReport)

	// Task management
	s.AddTool(mcp.NewTool("update_task_status",
		mcp.WithDescription("Force a task into a status."),
		mcp.WithString("taskId", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("status", mcp.Description("New status (pending|in_progress|completed|blocked)"), mcp.Required()),
	), h.updateTaskStatus)

	s.AddTool(mcp.NewTool("set_task_percentage",
		mcp.WithDescription("Set the progress percentage of a task without stages. 100 completes the task."),
		mcp.WithString("taskId", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithNumber("percentage", mcp.Description("Percentage (clamped to 0-100)"), mcp.Required()),
	), h.setPercentage)

	s.AddTool(mcp.NewTool("add_task_stage",
		mcp.WithDescription("Append a progress stage to a task."),
		mcp.WithString("taskId", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("name", mcp.Description("Stage name"), mcp.Required()),
		mcp.WithBoolean("completed", mcp.Description("Whether the stage is already completed")),
	), h.addStage)

	s.AddTool(mcp.NewTool("update_task_stage",
		mcp.WithDescription("Update a progress stage by its position."),
		mcp.WithString("taskId", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithNumber("index", mcp.Description("Zero-based stage index"), mcp.Required()),
		mcp.WithString("name", mcp.Description("New stage name")),
		mcp.WithBoolean("completed", mcp.Description("New completion flag")),
	), h.updateStage)

	s.AddTool(mcp.NewTool("update_task_context",
		mcp.WithDescription("Merge repository, branch, files, commits and code snippets into a task's context."),
		mcp.WithString("taskId", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithString("repository", mcp.Description("Repository")),
		mcp.WithString("branch", mcp.Description("Branch")),
		mcp.WithArray("files", mcp.Description("File paths to add"), mcp.WithStringItems()),
		mcp.WithArray("commits", mcp.Description("Commit ids to add"), mcp.WithStringItems()),
		mcp.WithArray("codeSnippets", mcp.Description("Code snippets to add ({content, language, path, startLine, endLine})")),
	), h.updateContext)

	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a single task by ID."),
		mcp.WithString("taskId", mcp.Description("Task ID"), mcp.Required()),
	), h.getTask)

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks with optional filters."),
		mcp.WithString("requestId", mcp.Description("Filter by request")),
		mcp.WithString("status", mcp.Description("Filter by status")),
		mcp.WithString("priority", mcp.Description("Filter by priority")),
		mcp.WithString("repository", mcp.Description("Filter by repository")),
		mcp.WithString("branch", mcp.Description("Filter by branch")),
		mcp.WithString("file", mcp.Description("Filter by a file in the task context")),
		mcp.WithString("assignedTo", mcp.Description("Filter by assignee")),
	), h.listTasks)

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

type handlers struct {
	svc *workflow.Service
	log *zap.Logger
}

func (h *handlers) fail(tool string, err error) (*mcp.CallToolResult, error) {
	h.log.Debug("tool failed", zap.String("tool", tool), zap.Error(err))
	return mcp.NewToolResultError(err.Error()), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func arguments(request mcp.CallToolRequest) map[string]any {
	args, _ := request.Params.Arguments.(map[string]any)
	return args
}

// decodeArg re-decodes a structured argument into dst.
func decodeArg(args map[string]any, key string, dst any) error {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return store.InvalidArgumentf("invalid %s: %v", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return store.InvalidArgumentf("invalid %s: %v", key, err)
	}
	return nil
}

func requireString(request mcp.CallToolRequest, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v := mcp.ParseString(request, k, "")
		if v == "" {
			return nil, store.InvalidArgumentf("%s is required", k)
		}
		out[k] = v
	}
	return out, nil
}

func (h *handlers) requestPlanning(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if _, ok := args["tasks"].([]any); !ok {
		return h.fail("request_planning", store.InvalidArgumentf("tasks must be a list"))
	}
	var specs []models.TaskSpec
	if err := decodeArg(args, "tasks", &specs); err != nil {
		return h.fail("request_planning", err)
	}

	res, err := h.svc.CreateRequest(ctx, mcp.ParseString(request, "originalRequest", ""), specs)
	if err != nil {
		return h.fail("request_planning", err)
	}
	return jsonResult(res)
}

func (h *handlers) getNextTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.svc.GetNextTask(ctx, mcp.ParseString(request, "requestId", ""))
	if err != nil {
		return h.fail("get_next_task", err)
	}
	return jsonResult(res)
}

func (h *handlers) markTaskDone(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.svc.MarkTaskDone(ctx,
		mcp.ParseString(request, "requestId", ""),
		mcp.ParseString(request, "taskId", ""),
		mcp.ParseString(request, "completedDetails", ""),
	)
	if err != nil {
		return h.fail("mark_task_done", err)
	}
	return jsonResult(res)
}

func (h *handlers) approveTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.svc.ApproveTask(ctx,
		mcp.ParseString(request, "requestId", ""),
		mcp.ParseString(request, "taskId", ""),
	)
	if err != nil {
		return h.fail("approve_task_completion", err)
	}
	return jsonResult(res)
}

func (h *handlers) approveRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.svc.ApproveRequest(ctx, mcp.ParseString(request, "requestId", ""))
	if err != nil {
		return h.fail("approve_request_completion", err)
	}
	return jsonResult(res)
}

func (h *handlers) progressReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID := mcp.ParseString(request, "requestId", "")
	report, err := h.svc.GetProgressReport(ctx, requestID)
	if err != nil {
		return h.fail("get_progress_report", err)
	}
	return jsonResult(map[string]any{"requestId": requestID, "progress": report})
}

func (h *handlers) updateTaskStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in, err := requireString(request, "taskId", "status")
	if err != nil {
		return h.fail("update_task_status", err)
	}
	t, err := h.svc.SetStatus(ctx, in["taskId"], models.TaskStatus(in["status"]))
	if err != nil {
		return h.fail("update_task_status", err)
	}
	return jsonResult(t)
}

func (h *handlers) setPercentage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, ok := arguments(request)["percentage"].(float64); !ok {
		return h.fail("set_task_percentage", store.InvalidArgumentf("percentage must be a number"))
	}
	t, err := h.svc.SetPercentage(ctx, mcp.ParseString(request, "taskId", ""), mcp.ParseInt(request, "percentage", 0))
	if err != nil {
		return h.fail("set_task_percentage", err)
	}
	return jsonResult(t)
}

func (h *handlers) addStage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, err := h.svc.AddStage(ctx,
		mcp.ParseString(request, "taskId", ""),
		mcp.ParseString(request, "name", ""),
		mcp.ParseBoolean(request, "completed", false),
	)
	if err != nil {
		return h.fail("add_task_stage", err)
	}
	return jsonResult(t)
}

func (h *handlers) updateStage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	if _, ok := args["index"].(float64); !ok {
		return h.fail("update_task_stage", store.InvalidArgumentf("index must be a number"))
	}

	var upd workflow.StageUpdate
	if name, ok := args["name"].(string); ok {
		upd.Name = &name
	}
	if completed, ok := args["completed"].(bool); ok {
		upd.Completed = &completed
	}

	t, err := h.svc.UpdateStage(ctx, mcp.ParseString(request, "taskId", ""), mcp.ParseInt(request, "index", -1), upd)
	if err != nil {
		return h.fail("update_task_stage", err)
	}
	return jsonResult(t)
}

func (h *handlers) updateContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	upd := workflow.ContextUpdate{
		Repository: mcp.ParseString(request, "repository", ""),
		Branch:     mcp.ParseString(request, "branch", ""),
	}
	for key, dst := range map[string]any{
		"files":        &upd.Files,
		"commits":      &upd.Commits,
		"codeSnippets": &upd.CodeSnippets,
	} {
		if err := decodeArg(args, key, dst); err != nil {
			return h.fail("update_task_context", err)
		}
	}

	t, err := h.svc.UpdateContext(ctx, mcp.ParseString(request, "taskId", ""), upd)
	if err != nil {
		return h.fail("update_task_context", err)
	}
	return jsonResult(t)
}

func (h *handlers) getTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, err := h.svc.GetTask(ctx, mcp.ParseString(request, "taskId", ""))
	if err != nil {
		return h.fail("get_task", err)
	}
	return jsonResult(t)
}

func (h *handlers) listTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.Filter{
		RequestID:  mcp.ParseString(request, "requestId", ""),
		Status:     models.TaskStatus(mcp.ParseString(request, "status", "")),
		Priority:   models.Priority(mcp.ParseString(request, "priority", "")),
		Repository: mcp.ParseString(request, "repository", ""),
		Branch:     mcp.ParseString(request, "branch", ""),
		File:       mcp.ParseString(request, "file", ""),
		AssignedTo: mcp.ParseString(request, "assignedTo", ""),
	}
	tasks, err := h.svc.ListTasks(ctx, filter)
	if err != nil {
		return h.fail("list_tasks", err)
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	return jsonResult(map[string]any{"tasks": tasks, "count": len(tasks)})
}
