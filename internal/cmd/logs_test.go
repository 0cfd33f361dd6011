package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRecord(t *testing.T) {
	line := `{"time":"2026-03-01T12:00:00Z","level":"INFO","msg":"Experiment finished","gpu_id":"0,1","exit_code":3}`

	got := formatRecord(line)
	assert.Contains(t, got, "INFO")
	assert.Contains(t, got, "Experiment finished")
	assert.Contains(t, got, "gpu_id=0,1")
	assert.Contains(t, got, "exit_code=3")
	assert.NotContains(t, got, "msg=")

	assert.Equal(t, "not json", formatRecord("not json"))
}

func TestLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hsml-launch.log")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd\n"), 0644))

	lines, err := lastLines(path, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, lines)

	lines, err = lastLines(path, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, lines)

	lines, err = lastLines(path, 0)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestLogs(t *testing.T) {
	dataDir := t.TempDir()
	logDir := filepath.Join(dataDir, "logs")
	require.NoError(t, os.MkdirAll(logDir, 0755))

	records := []string{
		`{"time":"2026-03-01T12:00:00Z","level":"DEBUG","msg":"Started child","pid":41}`,
		`{"time":"2026-03-01T12:00:01Z","level":"INFO","msg":"Experiment finished","exit_code":0}`,
		`{"time":"2026-03-01T12:00:02Z","level":"WARN","msg":"Failed to record launch","error":"disk full"}`,
	}
	require.NoError(t, os.WriteFile(filepath.Join(logDir, "hsml-launch.log"),
		[]byte(strings.Join(records, "\n")+"\n"), 0644))

	stdout, _, err := execute(t, "logs", "-t", "2", "--cwd", t.TempDir(), "--data-dir", dataDir)
	require.NoError(t, err)

	assert.NotContains(t, stdout, "Started child")
	assert.Contains(t, stdout, "Experiment finished")
	assert.Contains(t, stdout, "error=disk full")
	assert.Equal(t, 2, strings.Count(stdout, "\n"))
}

func TestLogs_NoFile(t *testing.T) {
	dataDir := t.TempDir()

	stdout, _, err := execute(t, "logs", "--cwd", t.TempDir(), "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No log file at "+filepath.Join(dataDir, "logs", "hsml-launch.log"))
}
