package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotmemory/pkg/config"
	"github.com/dotsetgreg/dotmemory/pkg/memory"
)

// offlineConfigFile writes a config that needs no network or credentials.
func offlineConfigFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "memories")
	cfg.Extraction.Provider = config.ProviderHeuristic
	cfg.Embedding.Provider = config.EmbeddingChargram
	cfg.Logging.Level = "error"
	path := filepath.Join(dir, "config.json")
	require.NoError(t, config.SaveConfig(path, cfg))
	return path
}

func runWithConfig(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	full := append([]string{"--config", cfgPath, "--user", "alice", "--session", "s1"}, args...)
	out, err := runRootCommandForTest(full...)
	require.NoError(t, err, out)
	return out
}

func TestCLI_AddListSearchStats(t *testing.T) {
	cfgPath := offlineConfigFile(t)

	out := runWithConfig(t, cfgPath, "add", "User prefers green tea in the afternoon", "--category", "preferences", "--importance", "high")
	assert.Contains(t, out, "Stored 1 memory")
	runWithConfig(t, cfgPath, "add", "Drafting the quarterly planning doc", "--category", "projects", "--type", "session")

	out = runWithConfig(t, cfgPath, "list")
	assert.Contains(t, out, "User prefers green tea in the afternoon")
	assert.NotContains(t, out, "quarterly")

	out = runWithConfig(t, cfgPath, "list", "--bucket", "session", "--query", "PLANNING")
	assert.Contains(t, out, "Drafting the quarterly planning doc")

	out = runWithConfig(t, cfgPath, "search", "tea")
	assert.Contains(t, out, "Preferences: User prefers green tea in the afternoon")

	out = runWithConfig(t, cfgPath, "stats")
	var stats memory.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.UserMemories)
	assert.Equal(t, 1, stats.SessionMemories)
	assert.Equal(t, 2, stats.TotalMemories)
	assert.False(t, stats.VectorEnabled)
}

func TestCLI_AddRejectsInvalidMemory(t *testing.T) {
	cfgPath := offlineConfigFile(t)
	_, err := runRootCommandForTest("--config", cfgPath, "--user", "alice", "add", "short", "--category", "preferences")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory rejected")
}

func TestCLI_SubmitExtracts(t *testing.T) {
	cfgPath := offlineConfigFile(t)
	out := runWithConfig(t, cfgPath, "submit",
		"--message", "user:Please remember this for later: my name is Ada.",
		"--response", "Nice to meet you Ada, I will remember that.")
	assert.Contains(t, out, "Extraction finished")

	out = runWithConfig(t, cfgPath, "list", "--query", "ada")
	assert.Contains(t, out, "Ada")
}

func TestCLI_SubmitRejectsBadMessage(t *testing.T) {
	cfgPath := offlineConfigFile(t)
	_, err := runRootCommandForTest("--config", cfgPath, "submit", "--message", "no separator")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role:content")
}

func TestCLI_ExportClearImport(t *testing.T) {
	cfgPath := offlineConfigFile(t)
	runWithConfig(t, cfgPath, "add", "User lives near the harbour in Lisbon", "--category", "personal_facts")

	exportPath := filepath.Join(t.TempDir(), "export.json")
	out := runWithConfig(t, cfgPath, "export", "--out", exportPath)
	assert.Contains(t, out, "Exported 1 user and 0 session memories")

	raw, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	var exp memory.Export
	require.NoError(t, json.Unmarshal(raw, &exp))
	assert.Equal(t, memory.ExportVersion, exp.Version)
	require.Len(t, exp.UserMemories, 1)

	runWithConfig(t, cfgPath, "clear", "user")
	assert.Contains(t, runWithConfig(t, cfgPath, "list"), "No memories")

	runWithConfig(t, cfgPath, "import", exportPath)
	out = runWithConfig(t, cfgPath, "list")
	assert.Contains(t, out, "User lives near the harbour in Lisbon")
}

func TestCLI_ImportRejectsGarbage(t *testing.T) {
	cfgPath := offlineConfigFile(t)
	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[1,2,3]`), 0o600))

	_, err := runRootCommandForTest("--config", cfgPath, "--user", "alice", "import", bad)
	assert.ErrorIs(t, err, memory.ErrInvalidImport)
}

func TestCLI_InitWritesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg", "config.json")

	var buf bytes.Buffer
	require.NoError(t, runInit(&buf, path, false))
	assert.FileExists(t, path)
	assert.Contains(t, buf.String(), path)

	err := runInit(&buf, path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	require.NoError(t, runInit(&buf, path, true))
}

func TestCLI_MissingCredentialsIsConfigurationError(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "memories")
	cfg.Providers.OpenAI.APIKey = ""
	path := filepath.Join(dir, "config.json")
	require.NoError(t, config.SaveConfig(path, cfg))
	t.Setenv("OPENAI_API_KEY", "")

	_, err := runRootCommandForTest("--config", path, "--user", "alice", "stats")
	assert.ErrorIs(t, err, memory.ErrConfiguration)
}

func TestBackup_OnceWritesExport(t *testing.T) {
	cfgPath := offlineConfigFile(t)
	runWithConfig(t, cfgPath, "add", "User is learning to play the cello", "--category", "skills")

	dir := t.TempDir()
	out := runWithConfig(t, cfgPath, "backup", "--dir", dir, "--once")
	assert.Contains(t, out, "Backup written to")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "dotmemory-alice-"))
}

func TestBackup_Validation(t *testing.T) {
	cfgPath := offlineConfigFile(t)

	_, err := runRootCommandForTest("--config", cfgPath, "backup", "--once")
	assert.EqualError(t, err, "--dir is required")

	_, err = runRootCommandForTest("--config", cfgPath, "backup", "--dir", t.TempDir())
	assert.EqualError(t, err, "either --once or --cron must be provided")

	_, err = runRootCommandForTest("--config", cfgPath, "backup", "--dir", t.TempDir(), "--cron", "not a cron")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestCronNext(t *testing.T) {
	next, err := cronNext("0 3 * * *")
	require.NoError(t, err)

	ref := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	at, err := next(ref)
	require.NoError(t, err)
	assert.True(t, at.After(ref))
	assert.Equal(t, 3, at.Hour())
	assert.Equal(t, 0, at.Minute())
}

func TestRunBackupSchedule_FiresUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	next := func(ref time.Time) (time.Time, error) { return ref.Add(5 * time.Millisecond), nil }
	done := make(chan error, 1)
	go func() {
		done <- runBackupSchedule(ctx, next, func(time.Time) error {
			if runs.Add(1) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("schedule did not stop after cancel")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestPruneBackups(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		name := backupFileName("alice", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o600))
	}
	other := backupFileName("alice-bob", base)
	require.NoError(t, os.WriteFile(filepath.Join(dir, other), []byte("{}"), 0o600))
	// Older than every "alice" export, so it would be pruned first if the
	// "alice-" prefix matched it.
	neighbour := backupFileName("alice-1", base.Add(-time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(dir, neighbour), []byte("{}"), 0o600))

	require.NoError(t, pruneBackups(dir, "alice", 2))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{
		backupFileName("alice", base.Add(3*time.Hour)),
		backupFileName("alice", base.Add(4*time.Hour)),
		other,
		neighbour,
	}, names)
}

func TestConsole_Exec(t *testing.T) {
	cfgPath := offlineConfigFile(t)
	opts := &globalOptions{configPath: cfgPath, userID: "alice", sessionID: "s1"}
	rt, err := opts.openRuntime(context.Background())
	require.NoError(t, err)
	defer rt.Service.Close()

	var out bytes.Buffer
	c := &console{svc: rt.Service, out: &out}
	ctx := context.Background()

	assert.True(t, c.exec(ctx, "add preferences medium User enjoys long bike rides"))
	assert.Contains(t, out.String(), "Stored 1 memory")

	out.Reset()
	assert.True(t, c.exec(ctx, "search bike"))
	assert.Contains(t, out.String(), "User enjoys long bike rides")

	out.Reset()
	assert.True(t, c.exec(ctx, "list session"))
	assert.Contains(t, out.String(), "No memories")

	out.Reset()
	assert.True(t, c.exec(ctx, "frobnicate"))
	assert.Contains(t, out.String(), "Unknown command")

	assert.False(t, c.exec(ctx, "exit"))
}

func TestSimpleInteractiveMode(t *testing.T) {
	cfgPath := offlineConfigFile(t)
	opts := &globalOptions{configPath: cfgPath, userID: "alice", sessionID: "s1"}
	rt, err := opts.openRuntime(context.Background())
	require.NoError(t, err)
	defer rt.Service.Close()

	var out bytes.Buffer
	in := strings.NewReader("help\nstats\nquit\n")
	simpleInteractiveMode(context.Background(), &console{svc: rt.Service, out: &out}, in)

	assert.Contains(t, out.String(), "Commands:")
	assert.Contains(t, out.String(), `"total_memories": 0`)
	assert.Contains(t, out.String(), "Goodbye!")
}
