package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/scheduler"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/store"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/task"
	"github.com/nextlevelbuilder/schedule-task-mcp/internal/timeutil"
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Create a scheduled task. trigger_config depends on trigger_type: "+
			"interval takes any of seconds/minutes/hours/days (positive numbers); "+
			"cron takes a five-field expression evaluated in the server timezone; "+
			"date takes an ISO-8601 run_date and/or delay_seconds/delay_minutes/delay_hours/delay_days. "+
			"When agent_prompt is set, each fire asks the connected client to generate text from it via MCP sampling."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Human-readable task name")),
		mcp.WithString("trigger_type", mcp.Required(), mcp.Enum("interval", "cron", "date"),
			mcp.Description("Kind of schedule driving the task")),
		mcp.WithObject("trigger_config", mcp.Required(),
			mcp.Description("Trigger parameters matching trigger_type")),
		mcp.WithString("agent_prompt", mcp.Description("Prompt sent to the client on every fire")),
		mcp.WithString("mcp_server", mcp.Description("Legacy target server name, recorded but not invoked")),
		mcp.WithString("mcp_tool", mcp.Description("Legacy target tool name, recorded but not invoked")),
		mcp.WithString("mcp_arguments", mcp.Description("Legacy tool arguments as a JSON string")),
	), s.handle("create_task", s.handleCreateTask))

	s.mcp.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List all scheduled tasks ordered by creation time."),
		mcp.WithString("status", mcp.Enum("scheduled", "running", "paused", "completed", "error"),
			mcp.Description("Only return tasks in this lifecycle state")),
	), s.handle("list_tasks", s.handleListTasks))

	s.mcp.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Fetch one task with its run history."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
	), s.handle("get_task", s.handleGetTask))

	s.mcp.AddTool(mcp.NewTool("update_task",
		mcp.WithDescription("Update fields of an existing task. Changing trigger_type requires a matching trigger_config."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
		mcp.WithString("name", mcp.Description("New task name")),
		mcp.WithString("trigger_type", mcp.Enum("interval", "cron", "date"),
			mcp.Description("New trigger kind")),
		mcp.WithObject("trigger_config", mcp.Description("New trigger parameters")),
		mcp.WithString("agent_prompt", mcp.Description("New prompt, empty to clear")),
		mcp.WithString("mcp_server", mcp.Description("Legacy target server name")),
		mcp.WithString("mcp_tool", mcp.Description("Legacy target tool name")),
		mcp.WithString("mcp_arguments", mcp.Description("Legacy tool arguments as a JSON string")),
	), s.handle("update_task", s.handleUpdateTask))

	s.mcp.AddTool(mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task and its run history."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
	), s.handle("delete_task", s.handleDeleteTask))

	s.mcp.AddTool(mcp.NewTool("pause_task",
		mcp.WithDescription("Disable a task; its timers are cancelled until resumed."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
	), s.handle("pause_task", s.handlePauseTask))

	s.mcp.AddTool(mcp.NewTool("resume_task",
		mcp.WithDescription("Re-enable a paused task and recompute its next run."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
	), s.handle("resume_task", s.handleResumeTask))

	s.mcp.AddTool(mcp.NewTool("execute_task",
		mcp.WithDescription("Run a task immediately, regardless of its schedule."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
	), s.handle("execute_task", s.handleExecuteTask))

	s.mcp.AddTool(mcp.NewTool("clear_task_history",
		mcp.WithDescription("Remove all run history entries and reset last-run state."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task identifier")),
	), s.handle("clear_task_history", s.handleClearTaskHistory))

	s.mcp.AddTool(mcp.NewTool("get_current_time",
		mcp.WithDescription("Return the server's current time in its configured timezone."),
		mcp.WithString("format", mcp.Enum("iso", "readable"),
			mcp.Description("iso for ISO-8601 with offset, readable for YYYY-MM-DD HH:MM:SS")),
	), s.handle("get_current_time", s.handleGetCurrentTime))
}

// handle contains panics from tool handlers so a bad call can never take
// down the shared transport.
func (s *Server) handle(name string, fn server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (res *mcp.CallToolResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("tool handler panicked", "tool", name, "panic", r)
				res, err = errResult(fmt.Sprintf("%v", r), string(debug.Stack())), nil
			}
		}()
		return fn(ctx, req)
	}
}

// fail maps internal errors onto the error envelope.
func (s *Server) fail(err error) *mcp.CallToolResult {
	if errors.Is(err, store.ErrNotFound) {
		return errResult("Task not found", "")
	}
	return errResult(err.Error(), "")
}

func (s *Server) handleCreateTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	p := scheduler.CreateParams{}
	var err error
	if p.Name, err = requireString(args, "name"); err != nil {
		return s.fail(err), nil
	}
	if p.TriggerType, err = requireString(args, "trigger_type"); err != nil {
		return s.fail(err), nil
	}
	if p.TriggerConfig, err = objectArg(args, "trigger_config"); err != nil {
		return s.fail(err), nil
	}
	if p.AgentPrompt, err = stringArg(args, "agent_prompt"); err != nil {
		return s.fail(err), nil
	}
	if p.MCPServer, err = stringArg(args, "mcp_server"); err != nil {
		return s.fail(err), nil
	}
	if p.MCPTool, err = stringArg(args, "mcp_tool"); err != nil {
		return s.fail(err), nil
	}
	if p.MCPArguments, err = jsonText(args, "mcp_arguments"); err != nil {
		return s.fail(err), nil
	}

	t, err := s.sched.Create(ctx, p)
	if err != nil {
		return s.fail(err), nil
	}
	return okResult(taskEnvelope{Success: true, Task: s.sched.Describe(t)}), nil
}

func (s *Server) handleListTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := stringArg(req.GetArguments(), "status")
	if err != nil {
		return s.fail(err), nil
	}
	tasks, err := s.sched.List(ctx, status)
	if err != nil {
		return s.fail(err), nil
	}
	described := make([]*task.Described, 0, len(tasks))
	for _, t := range tasks {
		described = append(described, s.sched.Describe(t))
	}
	return okResult(listEnvelope{Success: true, Count: len(described), Tasks: described}), nil
}

func (s *Server) handleGetTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req.GetArguments(), "task_id")
	if err != nil {
		return s.fail(err), nil
	}
	t, err := s.sched.Get(ctx, id)
	if err != nil {
		return s.fail(err), nil
	}
	return okResult(taskEnvelope{Success: true, Task: s.sched.Describe(t)}), nil
}

func (s *Server) handleUpdateTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, err := requireString(args, "task_id")
	if err != nil {
		return s.fail(err), nil
	}

	p := scheduler.UpdateParams{}
	if p.Name, err = optionalString(args, "name"); err != nil {
		return s.fail(err), nil
	}
	if p.TriggerType, err = optionalString(args, "trigger_type"); err != nil {
		return s.fail(err), nil
	}
	if p.TriggerConfig, err = objectArg(args, "trigger_config"); err != nil {
		return s.fail(err), nil
	}
	if p.AgentPrompt, err = optionalString(args, "agent_prompt"); err != nil {
		return s.fail(err), nil
	}
	if p.MCPServer, err = optionalString(args, "mcp_server"); err != nil {
		return s.fail(err), nil
	}
	if p.MCPTool, err = optionalString(args, "mcp_tool"); err != nil {
		return s.fail(err), nil
	}
	if v, ok := args["mcp_arguments"]; ok && v != nil {
		text, err := jsonText(args, "mcp_arguments")
		if err != nil {
			return s.fail(err), nil
		}
		p.MCPArguments = &text
	}

	t, err := s.sched.Update(ctx, id, p)
	if err != nil {
		return s.fail(err), nil
	}
	return okResult(taskEnvelope{Success: true, Task: s.sched.Describe(t)}), nil
}

func (s *Server) handleDeleteTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req.GetArguments(), "task_id")
	if err != nil {
		return s.fail(err), nil
	}
	if err := s.sched.Delete(ctx, id); err != nil {
		return s.fail(err), nil
	}
	return okResult(messageEnvelope{Success: true, Message: fmt.Sprintf("Task %s deleted", id)}), nil
}

func (s *Server) handlePauseTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req.GetArguments(), "task_id")
	if err != nil {
		return s.fail(err), nil
	}
	t, err := s.sched.Pause(ctx, id)
	if err != nil {
		return s.fail(err), nil
	}
	return okResult(taskEnvelope{Success: true, Task: s.sched.Describe(t)}), nil
}

func (s *Server) handleResumeTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req.GetArguments(), "task_id")
	if err != nil {
		return s.fail(err), nil
	}
	t, err := s.sched.Resume(ctx, id)
	if err != nil {
		return s.fail(err), nil
	}
	return okResult(taskEnvelope{Success: true, Task: s.sched.Describe(t)}), nil
}

func (s *Server) handleExecuteTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req.GetArguments(), "task_id")
	if err != nil {
		return s.fail(err), nil
	}
	t, err := s.sched.Execute(ctx, id)
	if err != nil {
		return s.fail(err), nil
	}
	return okResult(messageEnvelope{Success: true, Message: t.LastMessage}), nil
}

func (s *Server) handleClearTaskHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req.GetArguments(), "task_id")
	if err != nil {
		return s.fail(err), nil
	}
	t, err := s.sched.ClearHistory(ctx, id)
	if err != nil {
		return s.fail(err), nil
	}
	return okResult(taskEnvelope{Success: true, Task: s.sched.Describe(t)}), nil
}

func (s *Server) handleGetCurrentTime(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := stringArg(req.GetArguments(), "format")
	if err != nil {
		return s.fail(err), nil
	}
	if format == "" {
		format = "iso"
	}

	zone := s.sched.Zone()
	now := time.Now()
	var rendered string
	switch format {
	case "iso":
		rendered = now.In(zone).Format(timeutil.WireFormat)
	case "readable":
		rendered = timeutil.FormatLocal(now, zone)
	default:
		return s.fail(task.Validationf("invalid format %q (expected iso or readable)", format)), nil
	}
	return okResult(timeEnvelope{Success: true, Time: rendered, Timezone: zone.String(), Format: format}), nil
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", task.Validationf("%s is required", key)
	}
	str, ok := v.(string)
	if !ok {
		return "", task.Validationf("%s must be a string", key)
	}
	return str, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	str, ok := v.(string)
	if !ok {
		return "", task.Validationf("%s must be a string", key)
	}
	return str, nil
}

func optionalString(args map[string]any, key string) (*string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	str, ok := v.(string)
	if !ok {
		return nil, task.Validationf("%s must be a string", key)
	}
	return &str, nil
}

func objectArg(args map[string]any, key string) (map[string]any, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, task.Validationf("%s must be an object", key)
	}
	return m, nil
}

// jsonText accepts either a pre-serialized string or any JSON value and
// normalizes it to text.
func jsonText(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	if str, ok := v.(string); ok {
		return str, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", task.Validationf("%s is not serializable", key)
	}
	return string(data), nil
}
