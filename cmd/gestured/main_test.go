package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/eventstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestExplicitConfigMustExist(t *testing.T) {
	_, err := execute(t, "export", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestExportListsAndDumpsRecordings(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "events.db")
	cfgPath := filepath.Join(dir, "gesture.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("event_store:\n  path: "+dbPath+"\n"), 0o644))

	cfg := config.Default()
	cfg.EventStore.Path = dbPath
	store, err := eventstore.Open(context.Background(), cfg.EventStore, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	body := "timestamp,xAccel,yAccel,zAccel,xRot,yRot,zRot,gesture\n1,0,0,-1,0,0,0,hello\n"
	require.NoError(t, store.Put(context.Background(), "1700000000_sensor_data.csv", []byte(body)))
	require.NoError(t, store.Close())

	out, err := execute(t, "export", "--config", cfgPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.True(t, strings.HasPrefix(lines[1], "1700000000_sensor_data.csv"))

	out, err = execute(t, "export", "--config", cfgPath, "1700000000_sensor_data.csv")
	require.NoError(t, err)
	assert.Equal(t, body, out)

	target := filepath.Join(dir, "out.csv")
	_, err = execute(t, "export", "--config", cfgPath, "-o", target, "1700000000_sensor_data.csv")
	require.NoError(t, err)
	written, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, body, string(written))

	_, err = execute(t, "export", "--config", cfgPath, "missing.csv")
	assert.ErrorIs(t, err, eventstore.ErrRecordingNotFound)
}

func TestNewLoggerLevels(t *testing.T) {
	assert.True(t, newLogger("debug").Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, newLogger("info").Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, newLogger("error").Enabled(context.Background(), slog.LevelWarn))
}
