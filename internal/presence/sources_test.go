package presence

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSources(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fs := FileSet{
		LastRunPath: writeFile(t, dir, "last-run.json", `{"lastRun":"2024-06-03T11:30:00Z"}`),
		HistoryPath: writeFile(t, dir, "history.json", `["2024-06-03T10:00:00Z","2024-06-03T10:30:00Z","bogus"]`),
		LogPath: writeFile(t, dir, "agent.log",
			"2024-06-03T09:00:00Z [heartbeat] started\n"+
				"2024-06-03T09:05:00Z some unrelated line\n"+
				"2024-06-03T09:30:00Z [heartbeat] started\n"),
		LegacyStatePath: writeFile(t, dir, "state.json", `{"lastHeartbeatTime":"2024-06-03T08:00:00Z"}`),
		AgentConfigPath: writeFile(t, dir, "config.json", `{"every":"15m","activeHours":{"start":7,"end":23},"model":"m1","target":"#ops"}`),
	}

	src := LoadSources(fs, logger)

	require.NotNil(t, src.LastRun)
	assert.Len(t, src.History, 2, "unparseable history entries are skipped")
	assert.Len(t, src.LogLines, 2, "only heartbeat lines are kept")
	require.NotNil(t, src.Legacy)
	require.NotNil(t, src.Config)
	assert.Equal(t, "15m", src.Config.Every)
	assert.Equal(t, 7, src.Config.ActiveHours.Start)
}

func TestLoadSourcesAllMissing(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	fs := FileSet{
		LastRunPath:     "/nonexistent/last-run.json",
		HistoryPath:     "/nonexistent/history.json",
		LogPath:         "/nonexistent/agent.log",
		LegacyStatePath: "/nonexistent/state.json",
		AgentConfigPath: "/nonexistent/config.json",
	}

	src := LoadSources(fs, logger)

	assert.Nil(t, src.LastRun)
	assert.Empty(t, src.History)
	assert.Empty(t, src.LogLines)
	assert.Nil(t, src.Legacy)
	assert.Nil(t, src.Config)

	// Absent evidence still produces a usable result.
	result := Reconstruct(noon, src)
	assert.Equal(t, StatusUnknown, result.Status)
}

func TestLoadSourcesMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fs := FileSet{
		LastRunPath:     writeFile(t, dir, "last-run.json", `{not json`),
		HistoryPath:     writeFile(t, dir, "history.json", `{"wrong":"shape"}`),
		LegacyStatePath: writeFile(t, dir, "state.json", `[]`),
		AgentConfigPath: writeFile(t, dir, "config.json", `nope`),
	}

	src := LoadSources(fs, logger)
	assert.Nil(t, src.LastRun)
	assert.Empty(t, src.History)
	assert.Nil(t, src.Legacy)
	assert.Nil(t, src.Config)
}
