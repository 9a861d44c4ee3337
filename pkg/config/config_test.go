package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFrom(t *testing.T) {
	dir := t.TempDir()
	appPath := writeFile(t, dir, "config.json", `{
		"store": {"base_url": "http://localhost:8338", "token": "secret", "workspace": "workspace:dev"},
		"llm": [{"type": "ollama", "models": ["llama3"]}],
		"agents": [{"name": "assistant", "system_prompt": "help", "subscriptions": [], "capabilities": {"can_create_breadcrumbs": true}}]
	}`)
	sysPath := writeFile(t, dir, "system.json", `{"execute_timeout_ms": 5000, "log_level": "debug"}`)

	cfg, sys, err := LoadFrom(appPath, sysPath)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8338", cfg.Store.BaseURL)
	assert.Equal(t, "workspace:dev", cfg.Store.Workspace)
	require.Len(t, cfg.Agents, 1)
	assert.True(t, cfg.Agents[0].Capabilities.CanCreateBreadcrumbs)

	assert.Equal(t, 5000, sys.ExecuteTimeoutMs)
	assert.Equal(t, "debug", sys.LogLevel)
	assert.Equal(t, 3, sys.MaxRetries, "unset fields keep defaults")
}

func TestLoadFromRejectsMissingStore(t *testing.T) {
	dir := t.TempDir()
	appPath := writeFile(t, dir, "config.json", `{"llm": [{"type": "ollama", "models": ["m"]}]}`)

	_, _, err := LoadFrom(appPath, filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.base_url")
}

func TestLoadFromRejectsMissingLLM(t *testing.T) {
	dir := t.TempDir()
	appPath := writeFile(t, dir, "config.json", `{"store": {"base_url": "http://x"}}`)

	_, _, err := LoadFrom(appPath, filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm")
}

func TestWatchSignalsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := Watch(ctx, path)

	// A write burst must collapse into a single debounced signal.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(`{"n":`+strconv.Itoa(i)+`}`), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case _, ok := <-changes:
		require.True(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a change signal")
	}

	select {
	case <-changes:
		t.Fatal("burst must produce one signal")
	case <-time.After(watchDebounce + 200*time.Millisecond):
	}
}

func TestSystemConfigFallsBackToDefaults(t *testing.T) {
	sys := LoadSystemConfig("does-not-exist.json")
	assert.Equal(t, DefaultSystemConfig(), sys)

	dir := t.TempDir()
	broken := writeFile(t, dir, "system.json", `{not json`)
	sys = LoadSystemConfig(broken)
	assert.Equal(t, DefaultSystemConfig(), sys)
}
