package presence

import (
	"regexp"
	"sort"
	"time"
)

// Reconstruction constants. The lookback window and slot tolerance are fixed
// properties of the dashboard, not configuration.
const (
	Lookback        = 24 * time.Hour
	DefaultInterval = 30 * time.Minute
	DedupWindow     = 60 * time.Second
	SlotTolerance   = 10 * time.Minute
	StaleAfter      = 45 * time.Minute
)

// Quiet window during which no heartbeats are expected regardless of the
// agent's configured active hours. Hours 1 through 6 inclusive.
const (
	quietStartHour = 1
	quietEndHour   = 6
)

// Status is the overall health judgment for the background agent.
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusStale   Status = "stale"
	StatusUnknown Status = "unknown"
)

// ActiveHours is the agent's configured working window, in local hours.
type ActiveHours struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// AgentConfig mirrors the agent's own config file. Only Every and
// ActiveHours affect reconstruction; Model and Target are passed through
// for display.
type AgentConfig struct {
	Every       string      `json:"every"`
	ActiveHours ActiveHours `json:"activeHours"`
	Model       string      `json:"model,omitempty"`
	Target      string      `json:"target,omitempty"`
}

// Event is a single known execution of the periodic agent.
type Event struct {
	Time   time.Time `json:"time"`
	Source string    `json:"source"`
}

// Slot is one expected checkpoint in the lookback window.
type Slot struct {
	Time      time.Time `json:"slotTime"`
	Satisfied bool      `json:"satisfied"`
}

// Result is the reconstructed presence picture for the agent.
type Result struct {
	Config        AgentConfig `json:"config"`
	Interval      string      `json:"interval"`
	LastHeartbeat *time.Time  `json:"lastHeartbeat"`
	Status        Status      `json:"status"`
	History       []Slot      `json:"history24h"`
}

// Sources holds whatever heartbeat evidence could be loaded. Any field may
// be zero; reconstruction degrades gracefully.
type Sources struct {
	LastRun  *time.Time
	History  []time.Time
	LogLines []string
	Legacy   *time.Time
	Config   *AgentConfig
}

// Log lines written by the agent look like
// "2024-06-01T10:30:00Z [heartbeat] started".
var heartbeatLine = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\S+)\s+\[heartbeat\]\s+started`)

// ParseInterval parses a compact duration string such as "30m". Any parse
// failure, zero, or negative value falls back to the default interval.
func ParseInterval(every string) time.Duration {
	d, err := time.ParseDuration(every)
	if err != nil || d <= 0 {
		return DefaultInterval
	}
	return d
}

// Reconstruct merges the available heartbeat evidence into a deduplicated
// event list, buckets expected slots over the lookback window, and judges
// overall health. The caller captures now once so slot boundaries stay
// internally consistent.
func Reconstruct(now time.Time, src Sources) Result {
	cfg := AgentConfig{Every: "30m"}
	if src.Config != nil {
		cfg = *src.Config
	}
	interval := ParseInterval(cfg.Every)

	events := collectEvents(now, src)

	var last *time.Time
	switch {
	case src.LastRun != nil:
		t := *src.LastRun
		last = &t
	case len(events) > 0:
		t := events[0].Time
		last = &t
	case src.Legacy != nil:
		t := *src.Legacy
		last = &t
	}

	slotCount := int(Lookback / interval)
	slots := make([]Slot, 0, slotCount)
	for i := 0; i < slotCount; i++ {
		slotTime := now.Add(-time.Duration(i) * interval)
		slots = append(slots, Slot{
			Time:      slotTime,
			Satisfied: anyWithin(events, slotTime, SlotTolerance),
		})
	}

	return Result{
		Config:        cfg,
		Interval:      interval.String(),
		LastHeartbeat: last,
		Status:        judge(now, last, cfg),
		History:       slots,
	}
}

// collectEvents gathers candidates in priority order (history list, last-run
// record, log lines), keeping only events inside the lookback window and
// discarding any candidate within the dedup window of an already-accepted
// event from any source.
func collectEvents(now time.Time, src Sources) []Event {
	var events []Event
	accept := func(t time.Time, source string) {
		if now.Sub(t) > Lookback {
			return
		}
		for _, e := range events {
			if absDiff(e.Time, t) < DedupWindow {
				return
			}
		}
		events = append(events, Event{Time: t, Source: source})
	}

	for _, t := range src.History {
		accept(t, "history")
	}
	if src.LastRun != nil {
		accept(*src.LastRun, "lastRun")
	}
	for _, line := range src.LogLines {
		if t, ok := parseLogLine(line); ok {
			accept(t, "log")
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Time.After(events[j].Time)
	})
	return events
}

// judge derives the overall status. The fixed quiet window and the
// configured active-hours window are independent conditions; either one
// suppresses staleness.
func judge(now time.Time, last *time.Time, cfg AgentConfig) Status {
	if last == nil {
		return StatusUnknown
	}
	hour := now.Hour()
	if hour >= quietStartHour && hour <= quietEndHour {
		return StatusHealthy
	}
	if !withinActiveHours(hour, cfg.ActiveHours) {
		return StatusHealthy
	}
	if now.Sub(*last) > StaleAfter {
		return StatusStale
	}
	return StatusHealthy
}

// withinActiveHours reports whether hour falls inside the configured window.
// A zero window means always active. Start > End wraps past midnight.
func withinActiveHours(hour int, w ActiveHours) bool {
	if w.Start == 0 && w.End == 0 {
		return true
	}
	if w.Start <= w.End {
		return hour >= w.Start && hour < w.End
	}
	return hour >= w.Start || hour < w.End
}

func parseLogLine(line string) (time.Time, bool) {
	m := heartbeatLine.FindStringSubmatch(line)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func anyWithin(events []Event, t time.Time, tolerance time.Duration) bool {
	for _, e := range events {
		if absDiff(e.Time, t) <= tolerance {
			return true
		}
	}
	return false
}

func absDiff(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
