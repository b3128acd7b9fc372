package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"genflow/internal/core"
	"genflow/internal/model"
)

const (
	serverName    = "genflow"
	serverVersion = "1.0.0"
)

// MCPServer exposes the task lifecycle operations as MCP tools.
type MCPServer struct {
	svc    *core.Service
	logger *slog.Logger
	srv    *server.MCPServer
}

// NewMCPServer creates a new MCP server instance with every tool registered.
func NewMCPServer(svc *core.Service, logger *slog.Logger) *MCPServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &MCPServer{
		svc:    svc,
		logger: logger.With("svc", "mcp.Server"),
		srv: server.NewMCPServer(
			serverName,
			serverVersion,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// ServeStdio serves the MCP protocol on stdin and stdout until ctx is done.
func (s *MCPServer) ServeStdio(ctx context.Context) error {
	s.logger.Info("MCP server starting on stdio")
	stdio := server.NewStdioServer(s.srv)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns the streamable HTTP transport of the server.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.srv, server.WithStateLess(true))
}

func (s *MCPServer) registerTools() {
	s.srv.AddTool(mcp.NewTool("task_create",
		mcp.WithDescription("Create a task. It starts Pending, or inherits a Cancelled or Failed status from a dependency."),
		mcp.WithString("task_type",
			mcp.Required(),
			mcp.Description("Task type, for example travel_orchestrator, travel_segment, stitch or single_image"),
		),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project the task belongs to"),
		),
		mcp.WithObject("params",
			mcp.Description("Orchestration payload passed to the worker. Use shot_id to target a shot."),
		),
		mcp.WithArray("dependant_on",
			mcp.Description("IDs of the tasks this task depends on"),
			mcp.WithStringItems(),
		),
	), s.handleCreateTask)

	s.srv.AddTool(mcp.NewTool("task_get",
		mcp.WithDescription("Get a task by ID"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleGetTask)

	s.srv.AddTool(mcp.NewTool("task_list",
		mcp.WithDescription("List the tasks of a project"),
		mcp.WithString("project_id",
			mcp.Required(),
			mcp.Description("Project ID"),
		),
		mcp.WithString("status",
			mcp.Description("Only list tasks in this status"),
			mcp.Enum(statusNames()...),
		),
	), s.handleListTasks)

	s.srv.AddTool(mcp.NewTool("task_cancel",
		mcp.WithDescription("Cancel a task and every task that depends on it. The external worker is not stopped."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithString("reason",
			mcp.Description("Why the task is cancelled"),
		),
	), s.handleCancelTask)

	s.srv.AddTool(mcp.NewTool("task_update_status",
		mcp.WithDescription("Report a status change for a task, as a worker does"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithString("status",
			mcp.Required(),
			mcp.Description("New status"),
			mcp.Enum(statusNames()...),
		),
		mcp.WithString("output_location",
			mcp.Description("Where the produced artifact lives"),
		),
		mcp.WithString("reason",
			mcp.Description("Status reason, usually set on failure"),
		),
	), s.handleUpdateStatus)

	s.logger.Debug("MCP tools registered", "count", 5)
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskType := strings.TrimSpace(mcp.ParseString(request, "task_type", ""))
	projectID := strings.TrimSpace(mcp.ParseString(request, "project_id", ""))
	if taskType == "" || projectID == "" {
		return mcp.NewToolResultError("task_type and project_id are required"), nil
	}

	var params model.Params
	if raw, ok := request.GetArguments()["params"].(map[string]any); ok {
		params = raw
	}

	task, err := s.svc.CreateTask(ctx, core.CreateTaskInput{
		Type:        model.TaskType(taskType),
		Params:      params,
		ProjectID:   projectID,
		DependantOn: request.GetStringSlice("dependant_on", nil),
	})
	if err != nil {
		return toolError("create task", err), nil
	}

	return taskResult(fmt.Sprintf("Task created: %s (%s)", task.ID, task.Status), task)
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	task, err := s.svc.GetTask(ctx, taskID)
	if err != nil {
		return toolError("get task", err), nil
	}
	return taskResult(fmt.Sprintf("Task %s is %s", task.ID, task.Status), task)
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := strings.TrimSpace(mcp.ParseString(request, "project_id", ""))
	if projectID == "" {
		return mcp.NewToolResultError("project_id is required"), nil
	}

	var statuses []model.TaskStatus
	if raw := mcp.ParseString(request, "status", ""); raw != "" {
		st, err := model.ParseTaskStatus(raw)
		if err != nil {
			return toolError("list tasks", err), nil
		}
		statuses = append(statuses, st)
	}

	tasks, err := s.svc.ListTasks(ctx, projectID, statuses...)
	if err != nil {
		return toolError("list tasks", err), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d tasks in project %s:\n", len(tasks), projectID)
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s  %-20s  %s", t.ID, t.Type, t.Status)
		if len(t.DependantOn) > 0 {
			fmt.Fprintf(&b, "  after %s", strings.Join(t.DependantOn, ","))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleCancelTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	reason := strings.TrimSpace(mcp.ParseString(request, "reason", ""))

	task, err := s.svc.CancelTask(ctx, taskID, reason)
	if err != nil {
		return toolError("cancel task", err), nil
	}
	return taskResult(fmt.Sprintf("Task cancelled: %s. Dependent tasks are being cancelled.", task.ID), task)
}

func (s *MCPServer) handleUpdateStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	status, err := model.ParseTaskStatus(mcp.ParseString(request, "status", ""))
	if err != nil {
		return toolError("update task status", err), nil
	}

	upd := model.StatusUpdate{
		Status: status,
		Reason: strings.TrimSpace(mcp.ParseString(request, "reason", "")),
	}
	if loc := strings.TrimSpace(mcp.ParseString(request, "output_location", "")); loc != "" {
		upd.OutputLocation = &loc
	}

	task, err := s.svc.SetStatus(ctx, taskID, upd)
	if err != nil {
		return toolError("update task status", err), nil
	}
	return taskResult(fmt.Sprintf("Task %s is now %s", task.ID, task.Status), task)
}

func taskResult(summary string, task *model.Task) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return mcp.NewToolResultText(summary + "\n" + string(data)), nil
}

func toolError(op string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("%s: not found: %v", op, err))
	case errors.Is(err, model.ErrInvalidTransition):
		return mcp.NewToolResultError(fmt.Sprintf("%s: transition not allowed: %v", op, err))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
	}
}

func statusNames() []string {
	return []string{
		string(model.TaskStatusPending),
		string(model.TaskStatusQueued),
		string(model.TaskStatusInProgress),
		string(model.TaskStatusComplete),
		string(model.TaskStatusFailed),
		string(model.TaskStatusCancelled),
	}
}
