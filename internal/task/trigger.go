package task

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/timeutil"
)

// TriggerType selects one of the three trigger families.
type TriggerType string

const (
	TriggerInterval TriggerType = "interval"
	TriggerCron     TriggerType = "cron"
	TriggerDate     TriggerType = "date"
)

// ParseTriggerType validates a wire-level trigger type string.
func ParseTriggerType(s string) (TriggerType, error) {
	switch TriggerType(s) {
	case TriggerInterval, TriggerCron, TriggerDate:
		return TriggerType(s), nil
	}
	return "", Validationf("invalid trigger_type %q (expected interval, cron or date)", s)
}

// TriggerConfig is the canonical, already-validated trigger configuration.
// Only the fields for the owning trigger type are set; the rest stay zero.
// Date triggers always carry an absolute RunDate: relative delays are
// resolved at registration and never persisted.
type TriggerConfig struct {
	// interval
	Seconds float64
	Minutes float64
	Hours   float64
	Days    float64

	// cron
	Expression string

	// date
	RunDate *time.Time
}

type triggerConfigJSON struct {
	Seconds    float64 `json:"seconds,omitempty"`
	Minutes    float64 `json:"minutes,omitempty"`
	Hours      float64 `json:"hours,omitempty"`
	Days       float64 `json:"days,omitempty"`
	Expression string  `json:"expression,omitempty"`
	RunDate    string  `json:"run_date,omitempty"`
}

// MarshalJSON renders the config in its wire shape. RunDate is formatted in
// UTC with millisecond precision so persisted rows round-trip byte-equal.
func (c TriggerConfig) MarshalJSON() ([]byte, error) {
	out := triggerConfigJSON{
		Seconds:    c.Seconds,
		Minutes:    c.Minutes,
		Hours:      c.Hours,
		Days:       c.Days,
		Expression: c.Expression,
	}
	if c.RunDate != nil {
		out.RunDate = timeutil.FormatWire(*c.RunDate)
	}
	return json.Marshal(out)
}

func (c *TriggerConfig) UnmarshalJSON(data []byte) error {
	var in triggerConfigJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = TriggerConfig{
		Seconds:    in.Seconds,
		Minutes:    in.Minutes,
		Hours:      in.Hours,
		Days:       in.Days,
		Expression: in.Expression,
	}
	if in.RunDate != "" {
		t, err := timeutil.ParseWire(in.RunDate)
		if err != nil {
			return err
		}
		u := t.UTC()
		c.RunDate = &u
	}
	return nil
}

// Duration assembles the interval period. The sum is rounded to whole
// milliseconds with a one-millisecond floor.
func (c TriggerConfig) Duration() time.Duration {
	ms := c.Seconds*1000 + c.Minutes*60_000 + c.Hours*3_600_000 + c.Days*86_400_000
	d := time.Duration(math.Round(ms)) * time.Millisecond
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// ParseTriggerConfig validates raw registration arguments for the given
// trigger type and returns the canonical config. Date triggers are
// materialized against now: a relative delay becomes an absolute run date,
// and a run date that is not in the future is pushed forward (now plus the
// delay when one was supplied, now plus one second otherwise).
func ParseTriggerConfig(tt TriggerType, raw map[string]any, now time.Time) (TriggerConfig, error) {
	return parseTriggerConfig(tt, raw, now, true)
}

// CoerceTriggerConfig is the lenient variant used when importing persisted
// records: shapes are still validated, but a past run date is kept as-is so
// normalization can mark the task completed instead of rescheduling it.
func CoerceTriggerConfig(tt TriggerType, raw map[string]any, now time.Time) (TriggerConfig, error) {
	return parseTriggerConfig(tt, raw, now, false)
}

func parseTriggerConfig(tt TriggerType, raw map[string]any, now time.Time, materialize bool) (TriggerConfig, error) {
	if raw == nil {
		return TriggerConfig{}, Validationf("trigger_config is required")
	}
	switch tt {
	case TriggerInterval:
		return parseInterval(raw)
	case TriggerCron:
		return parseCron(raw)
	case TriggerDate:
		return parseDate(raw, now, materialize)
	}
	return TriggerConfig{}, Validationf("invalid trigger_type %q (expected interval, cron or date)", tt)
}

func parseInterval(raw map[string]any) (TriggerConfig, error) {
	var cfg TriggerConfig
	for k, v := range raw {
		switch k {
		case "seconds", "minutes", "hours", "days":
		default:
			return cfg, Validationf("unknown interval field %q", k)
		}
		n, ok := numberValue(v)
		if !ok {
			return cfg, Validationf("interval field %q must be a number", k)
		}
		if n <= 0 {
			return cfg, Validationf("interval field %q must be positive", k)
		}
		switch k {
		case "seconds":
			cfg.Seconds = n
		case "minutes":
			cfg.Minutes = n
		case "hours":
			cfg.Hours = n
		case "days":
			cfg.Days = n
		}
	}
	if cfg.Seconds == 0 && cfg.Minutes == 0 && cfg.Hours == 0 && cfg.Days == 0 {
		return cfg, Validationf("interval trigger needs at least one of seconds, minutes, hours or days")
	}
	return cfg, nil
}

func parseCron(raw map[string]any) (TriggerConfig, error) {
	var cfg TriggerConfig
	for k := range raw {
		if k != "expression" {
			return cfg, Validationf("unknown cron field %q", k)
		}
	}
	expr, _ := raw["expression"].(string)
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return cfg, Validationf("cron trigger needs an expression")
	}
	if len(strings.Fields(expr)) != 5 {
		return cfg, Validationf("cron expression %q must have five fields (minute hour day month weekday)", expr)
	}
	if !gronx.New().IsValid(expr) {
		return cfg, Validationf("invalid cron expression %q", expr)
	}
	cfg.Expression = expr
	return cfg, nil
}

func parseDate(raw map[string]any, now time.Time, materialize bool) (TriggerConfig, error) {
	var cfg TriggerConfig
	var runDate *time.Time
	var delay time.Duration
	hasDelay := false
	for k, v := range raw {
		switch k {
		case "run_date":
			s, ok := v.(string)
			if !ok {
				return cfg, Validationf("date field run_date must be an ISO-8601 string")
			}
			t, err := timeutil.ParseWire(s)
			if err != nil {
				return cfg, Validationf("invalid run_date %q", s)
			}
			runDate = &t
		case "delay_seconds", "delay_minutes", "delay_hours", "delay_days":
			n, ok := numberValue(v)
			if !ok {
				return cfg, Validationf("date field %q must be a number", k)
			}
			if n < 0 {
				return cfg, Validationf("date field %q must not be negative", k)
			}
			delay += time.Duration(n * float64(delayUnit(k)))
			hasDelay = true
		default:
			return cfg, Validationf("unknown date field %q", k)
		}
	}
	if runDate == nil && !hasDelay {
		return cfg, Validationf("date trigger needs run_date or one of delay_seconds, delay_minutes, delay_hours, delay_days")
	}

	target := now.Add(delay)
	if runDate != nil {
		target = *runDate
	}
	if materialize && !target.After(now) {
		if hasDelay && delay > 0 {
			target = now.Add(delay)
		} else {
			target = now.Add(time.Second)
		}
	}
	u := target.UTC()
	cfg.RunDate = &u
	return cfg, nil
}

func delayUnit(k string) time.Duration {
	switch k {
	case "delay_seconds":
		return time.Second
	case "delay_minutes":
		return time.Minute
	case "delay_hours":
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
