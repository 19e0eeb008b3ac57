package task

import (
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/timeutil"
)

// Described is the wire projection of a task: every timestamp appears twice,
// once absolute (UTC, millisecond precision) and once rendered in the
// configured display zone, plus a human-readable trigger summary.
type Described struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name,omitempty"`
	TriggerType        TriggerType         `json:"trigger_type"`
	TriggerConfig      TriggerConfig       `json:"trigger_config"`
	TriggerSummary     string              `json:"trigger_summary"`
	TriggerConfigLocal *TriggerConfigLocal `json:"trigger_config_local,omitempty"`
	AgentPrompt        string              `json:"agent_prompt,omitempty"`
	MCPServer          string              `json:"mcp_server,omitempty"`
	MCPTool            string              `json:"mcp_tool,omitempty"`
	MCPArguments       string              `json:"mcp_arguments,omitempty"`
	Enabled            bool                `json:"enabled"`
	Status             Status              `json:"status"`
	CreatedAt          string              `json:"created_at"`
	CreatedAtLocal     string              `json:"created_at_local"`
	UpdatedAt          string              `json:"updated_at"`
	UpdatedAtLocal     string              `json:"updated_at_local"`
	LastRun            string              `json:"last_run,omitempty"`
	LastRunLocal       string              `json:"last_run_local,omitempty"`
	LastStatus         Outcome             `json:"last_status,omitempty"`
	LastMessage        string              `json:"last_message,omitempty"`
	NextRun            string              `json:"next_run,omitempty"`
	NextRunLocal       string              `json:"next_run_local,omitempty"`
	History            []DescribedEntry    `json:"history"`
}

// TriggerConfigLocal carries the zone-rendered view of a date trigger.
type TriggerConfigLocal struct {
	RunDateLocal string `json:"run_date_local"`
}

// DescribedEntry is one history record in the wire projection.
type DescribedEntry struct {
	RunAt      string  `json:"run_at"`
	RunAtLocal string  `json:"run_at_local"`
	Status     Outcome `json:"status"`
	Message    string  `json:"message,omitempty"`
}

// Describe projects a task for presentation. loc selects the display zone;
// nil falls back to UTC.
func Describe(t *Task, loc *time.Location) *Described {
	d := &Described{
		ID:             t.ID,
		Name:           t.Name,
		TriggerType:    t.TriggerType,
		TriggerConfig:  t.TriggerConfig,
		TriggerSummary: TriggerSummary(t.TriggerType, t.TriggerConfig, loc),
		AgentPrompt:    t.AgentPrompt,
		MCPServer:      t.MCPServer,
		MCPTool:        t.MCPTool,
		MCPArguments:   t.MCPArguments,
		Enabled:        t.Enabled,
		Status:         t.Status,
		CreatedAt:      timeutil.FormatWire(t.CreatedAt),
		CreatedAtLocal: timeutil.FormatLocal(t.CreatedAt, loc),
		UpdatedAt:      timeutil.FormatWire(t.UpdatedAt),
		UpdatedAtLocal: timeutil.FormatLocal(t.UpdatedAt, loc),
		LastStatus:     t.LastStatus,
		LastMessage:    t.LastMessage,
		History:        make([]DescribedEntry, 0, len(t.History)),
	}
	if t.TriggerType == TriggerDate && t.TriggerConfig.RunDate != nil {
		d.TriggerConfigLocal = &TriggerConfigLocal{
			RunDateLocal: timeutil.FormatLocal(*t.TriggerConfig.RunDate, loc),
		}
	}
	if t.LastRun != nil {
		d.LastRun = timeutil.FormatWire(*t.LastRun)
		d.LastRunLocal = timeutil.FormatLocal(*t.LastRun, loc)
	}
	if t.NextRun != nil {
		d.NextRun = timeutil.FormatWire(*t.NextRun)
		d.NextRunLocal = timeutil.FormatLocal(*t.NextRun, loc)
	}
	for _, e := range t.History {
		d.History = append(d.History, DescribedEntry{
			RunAt:      timeutil.FormatWire(e.RunAt),
			RunAtLocal: timeutil.FormatLocal(e.RunAt, loc),
			Status:     e.Status,
			Message:    e.Message,
		})
	}
	return d
}

// TriggerSummary renders a short human-readable description of a trigger:
// "每30分钟" for intervals, "Cron: <expr>" for cron, "一次性 @ <local>" for
// date triggers.
func TriggerSummary(tt TriggerType, cfg TriggerConfig, loc *time.Location) string {
	switch tt {
	case TriggerInterval:
		var b strings.Builder
		b.WriteString("每")
		writeUnit(&b, cfg.Days, "天")
		writeUnit(&b, cfg.Hours, "小时")
		writeUnit(&b, cfg.Minutes, "分钟")
		writeUnit(&b, cfg.Seconds, "秒")
		return b.String()
	case TriggerCron:
		return "Cron: " + cfg.Expression
	case TriggerDate:
		if cfg.RunDate == nil {
			return "一次性"
		}
		return "一次性 @ " + timeutil.FormatLocal(*cfg.RunDate, loc)
	}
	return string(tt)
}

func writeUnit(b *strings.Builder, v float64, unit string) {
	if v <= 0 {
		return
	}
	b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	b.WriteString(unit)
}
