package session

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetor-ai/praetor/pkg/catalog"
	"github.com/praetor-ai/praetor/pkg/config"
	"github.com/praetor-ai/praetor/pkg/risk"
)

func newTestStore(t *testing.T, mutate ...func(*config.SessionConfig)) (*Store, config.PathsConfig) {
	t.Helper()
	cfg := config.SessionConfig{}
	cfg.SetDefaults()
	for _, m := range mutate {
		m(&cfg)
	}
	paths := config.PathsConfig{
		Outputs:  filepath.Join(t.TempDir(), "outputs"),
		Sessions: filepath.Join(t.TempDir(), "sessions"),
	}
	s, err := NewStore(cfg, paths)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, paths
}

func commandInteraction(n int, tool string, success bool) Interaction {
	return Interaction{
		Timestamp:  time.Date(2026, 8, 24, 10+n%4, 0, 0, 0, time.UTC),
		Input:      fmt.Sprintf("request %d", n),
		Intent:     "command_request",
		Command:    fmt.Sprintf("%s -n %d", tool, n),
		Tool:       tool,
		Success:    success,
		DurationMS: 100,
	}
}

func TestCreateAndGet(t *testing.T) {
	s, _ := newTestStore(t)

	info, err := s.Create(catalog.RoleStudent, ModeInteractive)
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)

	got, err := s.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.RoleStudent, got.Role)
	assert.Equal(t, ModeInteractive, got.Mode)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAppendAndHistoryNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	info, err := s.Create(catalog.RoleStudent, ModeQuick)
	require.NoError(t, err)

	require.NoError(t, s.Append(info.ID, Interaction{Input: "hello", Intent: "general_conversation"}))
	require.NoError(t, s.Append(info.ID, commandInteraction(1, "nmap", true)))
	require.NoError(t, s.Append(info.ID, commandInteraction(2, "gobuster", false)))

	conv, err := s.History(info.ID, KindConversation, 0)
	require.NoError(t, err)
	require.Len(t, conv, 3)
	assert.Equal(t, "request 2", conv[0].Input, "history must be newest first")
	assert.Equal(t, "hello", conv[2].Input)

	cmds, err := s.History(info.ID, KindCommands, 0)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "gobuster", cmds[0].Tool)

	limited, err := s.History(info.ID, KindConversation, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "request 2", limited[0].Input)
}

func TestCapsEvictOldestFirst(t *testing.T) {
	s, _ := newTestStore(t, func(c *config.SessionConfig) {
		c.ConvCap = 5
		c.CmdCap = 3
	})
	info, err := s.Create(catalog.RolePenetrationTester, ModeQuick)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(info.ID, commandInteraction(i, "nmap", true)))
	}

	conv, err := s.History(info.ID, KindConversation, 0)
	require.NoError(t, err)
	assert.Len(t, conv, 5)
	assert.Equal(t, "request 9", conv[0].Input)
	assert.Equal(t, "request 5", conv[4].Input, "oldest entries evicted first")

	cmds, err := s.History(info.ID, KindCommands, 0)
	require.NoError(t, err)
	assert.Len(t, cmds, 3)
	assert.Equal(t, "request 7", cmds[2].Input)
}

func TestInteractionCountNeverDecreasesWithinCap(t *testing.T) {
	s, _ := newTestStore(t)
	info, err := s.Create(catalog.RoleStudent, ModeQuick)
	require.NoError(t, err)

	last := 0
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Append(info.ID, Interaction{Input: fmt.Sprintf("m%d", i)}))
		conv, err := s.History(info.ID, KindConversation, 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(conv), last)
		last = len(conv)
	}
}

func TestAnalytics(t *testing.T) {
	s, _ := newTestStore(t)
	info, err := s.Create(catalog.RoleForensicExpert, ModeInteractive)
	require.NoError(t, err)

	require.NoError(t, s.Append(info.ID, commandInteraction(0, "nmap", true)))      // hour 10
	require.NoError(t, s.Append(info.ID, commandInteraction(1, "nmap", true)))      // hour 11
	require.NoError(t, s.Append(info.ID, commandInteraction(2, "gobuster", false))) // hour 12
	require.NoError(t, s.Append(info.ID, Interaction{
		Timestamp: time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC),
		Input:     "what is a SYN scan",
		Intent:    "explanation_request",
	}))

	a, err := s.Analytics(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, a.ToolCounts["nmap"])
	assert.Equal(t, 1, a.ToolCounts["gobuster"])
	assert.InDelta(t, 2.0/3.0, a.SuccessRate, 1e-9)
	assert.InDelta(t, 100.0, a.AvgDurationMS, 1e-9)
	assert.Equal(t, 2, a.PerHour[10])
	assert.Equal(t, 1, a.PerHour[11])
	assert.Equal(t, 1, a.PerHour[12])
}

func TestStatusSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	info, err := s.Create(catalog.RoleStudent, ModeQuick)
	require.NoError(t, err)

	require.NoError(t, s.Append(info.ID, commandInteraction(0, "nmap", true)))
	require.NoError(t, s.Append(info.ID, commandInteraction(1, "gobuster", true)))
	require.NoError(t, s.Append(info.ID, commandInteraction(2, "nmap", true)))

	status, err := s.Status(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, status.CommandCount)
	assert.Equal(t, []string{"gobuster", "nmap"}, status.ToolsUsed)
}

func TestRecentTools(t *testing.T) {
	s, _ := newTestStore(t)
	info, err := s.Create(catalog.RoleStudent, ModeQuick)
	require.NoError(t, err)

	require.NoError(t, s.Append(info.ID, commandInteraction(0, "nmap", true)))
	require.NoError(t, s.Append(info.ID, commandInteraction(1, "gobuster", true)))
	require.NoError(t, s.Append(info.ID, commandInteraction(2, "nmap", true)))

	tools := s.RecentTools(info.ID, 5)
	assert.Equal(t, []string{"nmap", "gobuster"}, tools, "newest first, deduplicated")
}

func TestPersistenceSurvivesRestart(t *testing.T) {
	cfg := config.SessionConfig{}
	cfg.SetDefaults()
	paths := config.PathsConfig{
		Outputs:  filepath.Join(t.TempDir(), "outputs"),
		Sessions: filepath.Join(t.TempDir(), "sessions"),
	}

	first, err := NewStore(cfg, paths)
	require.NoError(t, err)

	info, err := first.Create(catalog.RolePenetrationTester, ModeSuggester)
	require.NoError(t, err)
	require.NoError(t, first.Append(info.ID, commandInteraction(0, "nmap", true)))
	require.NoError(t, first.Append(info.ID, Interaction{
		Input:  "blocked attempt",
		Intent: "command_request",
		Risk:   &risk.Verdict{Level: catalog.LevelCritical, Action: catalog.ActionBlock, Reason: "recursive delete"},
	}))
	first.Close()

	second, err := NewStore(cfg, paths)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.RolePenetrationTester, got.Role)
	assert.Equal(t, ModeSuggester, got.Mode)

	conv, err := second.History(info.ID, KindConversation, 0)
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, "blocked attempt", conv[0].Input)
	require.NotNil(t, conv[0].Risk)
	assert.Equal(t, catalog.ActionBlock, conv[0].Risk.Action)

	// Appending after restart keeps working.
	require.NoError(t, second.Append(info.ID, commandInteraction(3, "gobuster", true)))
}

func TestDeleteRemovesShardAndArtifacts(t *testing.T) {
	s, paths := newTestStore(t)
	info, err := s.Create(catalog.RoleStudent, ModeQuick)
	require.NoError(t, err)

	artifactDir := paths.OutputDir(info.ID)
	require.NoError(t, os.MkdirAll(artifactDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(artifactDir, "e1.stdout"), []byte("x"), 0o644))

	require.NoError(t, s.Delete(info.ID))
	_, err = s.Get(info.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.NoFileExists(t, paths.SessionLogPath(info.ID))
	assert.NoDirExists(t, artifactDir)
	assert.ErrorIs(t, s.Delete(info.ID), ErrSessionNotFound)
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	s, _ := newTestStore(t, func(c *config.SessionConfig) {
		c.TTLSeconds = 3600
	})

	stale, err := s.Create(catalog.RoleStudent, ModeQuick)
	require.NoError(t, err)
	fresh, err := s.Create(catalog.RoleStudent, ModeQuick)
	require.NoError(t, err)

	var expired []string
	s.OnExpire(func(id string) { expired = append(expired, id) })

	st, err := s.get(stale.ID)
	require.NoError(t, err)
	st.mu.Lock()
	st.info.LastActivity = time.Now().UTC().Add(-2 * time.Hour)
	st.mu.Unlock()

	s.sweep()

	_, err = s.Get(stale.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.Get(fresh.ID)
	assert.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, expired)
}
