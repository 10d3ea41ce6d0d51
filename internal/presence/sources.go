package presence

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"time"
)

// FileSet names the on-disk artifacts the agent writes. Any path may be
// empty or point at a missing file.
type FileSet struct {
	LastRunPath     string
	HistoryPath     string
	LogPath         string
	LegacyStatePath string
	AgentConfigPath string
}

// LoadSources reads every available heartbeat artifact. A missing file,
// unreadable file, or malformed payload makes that source absent; loading
// never fails as a whole.
func LoadSources(fs FileSet, logger *slog.Logger) Sources {
	var src Sources

	if t, ok := loadLastRun(fs.LastRunPath, logger); ok {
		src.LastRun = &t
	}
	src.History = loadHistory(fs.HistoryPath, logger)
	src.LogLines = loadLogLines(fs.LogPath, logger)
	if t, ok := loadLegacyState(fs.LegacyStatePath, logger); ok {
		src.Legacy = &t
	}
	src.Config = loadAgentConfig(fs.AgentConfigPath, logger)

	return src
}

func loadLastRun(path string, logger *slog.Logger) (time.Time, bool) {
	if path == "" {
		return time.Time{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}
	var record struct {
		LastRun string `json:"lastRun"`
	}
	if err := json.Unmarshal(data, &record); err != nil {
		logger.Debug("ignoring malformed last-run record", "path", path, "error", err)
		return time.Time{}, false
	}
	return parseTimestamp(record.LastRun)
}

func loadHistory(path string, logger *slog.Logger) []time.Time {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Debug("ignoring malformed history list", "path", path, "error", err)
		return nil
	}
	times := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		if t, ok := parseTimestamp(s); ok {
			times = append(times, t)
		}
	}
	return times
}

func loadLogLines(path string, logger *slog.Logger) []string {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if heartbeatLine.MatchString(line) {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("log scan stopped early", "path", path, "error", err)
	}
	return lines
}

func loadLegacyState(path string, logger *slog.Logger) (time.Time, bool) {
	if path == "" {
		return time.Time{}, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}
	var state struct {
		LastHeartbeatTime string `json:"lastHeartbeatTime"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Debug("ignoring malformed legacy state", "path", path, "error", err)
		return time.Time{}, false
	}
	return parseTimestamp(state.LastHeartbeatTime)
}

func loadAgentConfig(path string, logger *slog.Logger) *AgentConfig {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cfg AgentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Debug("ignoring malformed agent config", "path", path, "error", err)
		return nil
	}
	return &cfg
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
