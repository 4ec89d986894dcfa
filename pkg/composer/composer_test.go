package composer

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetor-ai/praetor/pkg/catalog"
	"github.com/praetor-ai/praetor/pkg/config"
	"github.com/praetor-ai/praetor/pkg/llm"
)

func fixtureStore(t *testing.T) *catalog.Store {
	t.Helper()
	dir := t.TempDir()
	perTool := filepath.Join(dir, "registry.d")
	prompts := filepath.Join(dir, "prompts")
	require.NoError(t, os.MkdirAll(perTool, 0o755))
	require.NoError(t, os.MkdirAll(prompts, 0o755))

	write := func(path, content string) {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write(filepath.Join(dir, "tools.yaml"), `tools:
  - name: nmap
    category: network
    risk_baseline: low
    keywords: [scan, ports, network, host]
  - name: gobuster
    category: web
    risk_baseline: medium
    keywords: [directories, enumerate, web, wordlist]
`)
	write(filepath.Join(perTool, "nmap.yaml"), `base_command: nmap
parameters:
  - name: scan_type
    kind: flag
    flag: -sS
    aliases: [syn]
  - name: timing
    kind: flag
    flag: -T4
  - name: port_range
    kind: flag
    flag: -p
    requires_value: true
    validator: "regex:^[0-9,-]+$"
  - name: target
    kind: positional
    required: true
    validator: "type:host"
workflow: [nmap, -sS, -T4, "[TARGET]"]
`)
	write(filepath.Join(perTool, "gobuster.yaml"), `base_command: gobuster
parameters:
  - name: mode
    kind: positional
    required: true
    default: dir
  - name: url
    kind: flag
    flag: -u
    requires_value: true
    required: true
    validator: "type:url"
  - name: wordlist
    kind: flag
    flag: -w
    requires_value: true
    default: /usr/share/wordlists/common.txt
`)
	write(filepath.Join(dir, "risk_patterns.yaml"), `patterns:
  - pattern: '^rm\s+-rf\s+/'
    level: critical
    action: block
    description: recursive delete
`)

	store, err := catalog.Load(config.PathsConfig{
		ToolRegistry:      filepath.Join(dir, "tools.yaml"),
		RiskPatterns:      filepath.Join(dir, "risk_patterns.yaml"),
		PerToolRegistries: perTool,
		Prompts:           prompts,
	})
	require.NoError(t, err)
	return store
}

// replies maps template name to canned model output; calls counts per
// template.
type stubLLM struct {
	replies map[string]string
	err     error
	calls   map[string]*atomic.Int64
}

func newStubLLM(replies map[string]string) *stubLLM {
	s := &stubLLM{replies: replies, calls: make(map[string]*atomic.Int64)}
	for name := range replies {
		s.calls[name] = &atomic.Int64{}
	}
	return s
}

func (s *stubLLM) Generate(ctx context.Context, template string, bindings map[string]string, opts ...llm.Option) (string, error) {
	if c, ok := s.calls[template]; ok {
		c.Add(1)
	}
	if s.err != nil {
		return "", s.err
	}
	return s.replies[template], nil
}

func TestSelectToolLiteralMention(t *testing.T) {
	stub := newStubLLM(map[string]string{"selection_prompt": "1"})
	c := New(fixtureStore(t), stub)

	tool, err := c.SelectTool(context.Background(), Request{
		Input: "run NMAP against the lab host",
		Role:  catalog.RoleStudent,
	})
	require.NoError(t, err)
	assert.Equal(t, "nmap", tool.Name)
	assert.Equal(t, int64(0), stub.calls["selection_prompt"].Load(),
		"a single literal mention must not call the model")
}

func TestSelectToolAmbiguousMentionUsesMenu(t *testing.T) {
	stub := newStubLLM(map[string]string{"selection_prompt": "2"})
	c := New(fixtureStore(t), stub)

	tool, err := c.SelectTool(context.Background(), Request{
		Input: "should I use nmap or gobuster for this web host scan",
		Role:  catalog.RolePenetrationTester,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stub.calls["selection_prompt"].Load())
	assert.NotNil(t, tool)
}

func TestSelectToolMenuReplies(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr error
	}{
		{"valid index", "1", nil},
		{"index with period", "1.", nil},
		{"none", "none", ErrNoToolFound},
		{"out of range", "7", ErrNoToolFound},
		{"negative", "-1", ErrNoToolFound},
		{"garbage", "the second one", ErrNoToolFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStubLLM(map[string]string{"selection_prompt": tt.reply})
			c := New(fixtureStore(t), stub)

			// the query matches both fixture tools, so the menu is needed
			_, err := c.SelectTool(context.Background(), Request{
				Input: "scan the web host ports",
				Role:  catalog.RoleStudent,
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSelectToolNoCandidates(t *testing.T) {
	stub := newStubLLM(map[string]string{"selection_prompt": "1"})
	c := New(fixtureStore(t), stub)

	_, err := c.SelectTool(context.Background(), Request{
		Input: "write me a poem about spring",
		Role:  catalog.RoleStudent,
	})
	assert.ErrorIs(t, err, ErrNoToolFound)
	assert.Equal(t, int64(0), stub.calls["selection_prompt"].Load())
}

func TestSelectToolLLMUnavailable(t *testing.T) {
	stub := newStubLLM(map[string]string{"selection_prompt": ""})
	stub.err = llm.ErrTimeout
	c := New(fixtureStore(t), stub)

	_, err := c.SelectTool(context.Background(), Request{
		Input: "scan the web host ports",
		Role:  catalog.RoleStudent,
	})
	assert.ErrorIs(t, err, ErrLLMUnavailable)
}

func TestSelectToolSingleCandidateSkipsModel(t *testing.T) {
	// Only nmap matches, so selection works through a model outage.
	stub := newStubLLM(map[string]string{"selection_prompt": ""})
	stub.err = llm.ErrTimeout
	c := New(fixtureStore(t), stub)

	tool, err := c.SelectTool(context.Background(), Request{
		Input: "scan ports on 127.0.0.1",
		Role:  catalog.RoleStudent,
	})
	require.NoError(t, err)
	assert.Equal(t, "nmap", tool.Name)
}

func TestComposeFallsBackToWorkflowOnModelOutage(t *testing.T) {
	stub := newStubLLM(map[string]string{"command_prompt": ""})
	stub.err = llm.ErrUnavailable
	store := fixtureStore(t)
	c := New(store, stub)
	tool, err := store.LookupTool("nmap")
	require.NoError(t, err)

	cmd, err := c.Compose(context.Background(), tool, Request{
		Input: "scan ports on 127.0.0.1",
		Role:  catalog.RoleStudent,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"nmap", "-sS", "-T4", "127.0.0.1"}, cmd.Argv)
}

func TestComposeFallbackWithoutWorkflowFails(t *testing.T) {
	stub := newStubLLM(map[string]string{"command_prompt": ""})
	stub.err = llm.ErrUnavailable
	store := fixtureStore(t)
	c := New(store, stub)
	tool, err := store.LookupTool("gobuster")
	require.NoError(t, err)

	_, err = c.Compose(context.Background(), tool, Request{
		Input: "enumerate directories",
		Role:  catalog.RolePenetrationTester,
	})
	assert.ErrorIs(t, err, ErrLLMUnavailable)
}

func TestComposeHappyPath(t *testing.T) {
	stub := newStubLLM(map[string]string{
		"command_prompt": `{"argv":["nmap","-sS","-T4","127.0.0.1"],"placeholders":[],"explanation":"SYN scan of localhost"}`,
	})
	c := New(fixtureStore(t), stub)
	store := fixtureStore(t)
	tool, err := store.LookupTool("nmap")
	require.NoError(t, err)

	cmd, err := c.Compose(context.Background(), tool, Request{
		Input: "scan ports on 127.0.0.1",
		Role:  catalog.RoleStudent,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"nmap", "-sS", "-T4", "127.0.0.1"}, cmd.Argv)
	assert.Equal(t, "nmap", cmd.Tool)
	assert.Equal(t, "SYN scan of localhost", cmd.Explanation)
}

func TestComposeFillsPlaceholderFromDefault(t *testing.T) {
	stub := newStubLLM(map[string]string{
		"command_prompt": `{"argv":["gobuster","dir","-u","http://example.com","-w","[WORDLIST]"],"placeholders":["WORDLIST"]}`,
	})
	store := fixtureStore(t)
	c := New(store, stub)
	tool, err := store.LookupTool("gobuster")
	require.NoError(t, err)

	cmd, err := c.Compose(context.Background(), tool, Request{Input: "enumerate dirs", Role: catalog.RolePenetrationTester})
	require.NoError(t, err)
	assert.Equal(t, "/usr/share/wordlists/common.txt", cmd.Argv[5])
}

func TestComposeUnresolvedPlaceholder(t *testing.T) {
	stub := newStubLLM(map[string]string{
		"command_prompt": `{"argv":["nmap","-sS","[TARGET]"],"placeholders":["TARGET"]}`,
	})
	store := fixtureStore(t)
	c := New(store, stub)
	tool, err := store.LookupTool("nmap")
	require.NoError(t, err)

	_, err = c.Compose(context.Background(), tool, Request{Input: "scan something", Role: catalog.RoleStudent})
	var unresolved *UnresolvedPlaceholderError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "TARGET", unresolved.Name)
}

func TestComposeRejectsMalformedReply(t *testing.T) {
	stub := newStubLLM(map[string]string{"command_prompt": "sure, run nmap -sS 127.0.0.1"})
	store := fixtureStore(t)
	c := New(store, stub)
	tool, err := store.LookupTool("nmap")
	require.NoError(t, err)

	_, err = c.Compose(context.Background(), tool, Request{Input: "scan", Role: catalog.RoleStudent})
	assert.ErrorIs(t, err, ErrLLMUnavailable)
}

func TestValidate(t *testing.T) {
	store := fixtureStore(t)
	nmap, err := store.LookupTool("nmap")
	require.NoError(t, err)
	gobuster, err := store.LookupTool("gobuster")
	require.NoError(t, err)

	tests := []struct {
		name    string
		tool    *catalog.ToolSpec
		argv    []string
		wantErr string
	}{
		{"valid nmap", nmap, []string{"nmap", "-sS", "-T4", "127.0.0.1"}, ""},
		{"valid with port range", nmap, []string{"nmap", "-p", "1-1024", "127.0.0.1"}, ""},
		{"empty argv", nmap, nil, "empty argv"},
		{"wrong base command", nmap, []string{"masscan", "127.0.0.1"}, "base command"},
		{"shell metachar semicolon", nmap, []string{"nmap", "127.0.0.1;rm"}, "metachar"},
		{"shell metachar pipe", nmap, []string{"nmap", "127.0.0.1|tee"}, "metachar"},
		{"shell metachar subshell", nmap, []string{"nmap", "$(whoami)"}, "metachar"},
		{"undeclared flag", nmap, []string{"nmap", "-oX", "127.0.0.1"}, "not declared"},
		{"flag missing value", nmap, []string{"nmap", "127.0.0.1", "-p"}, "requires a value"},
		{"validator rejects value", nmap, []string{"nmap", "-p", "all", "127.0.0.1"}, "validation failed"},
		{"undeclared positional", nmap, []string{"nmap", "127.0.0.1", "10.0.0.1"}, "positional not declared"},
		{"bad host", nmap, []string{"nmap", "not a host"}, "validation failed"},
		{"missing required url", gobuster, []string{"gobuster", "dir"}, "missing required parameter url"},
		{"required with default satisfied", gobuster, []string{"gobuster", "-u", "http://example.com"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.tool, tt.argv)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestComposeMissingRequired(t *testing.T) {
	stub := newStubLLM(map[string]string{
		"command_prompt": `{"argv":["gobuster","dir"],"placeholders":[]}`,
	})
	store := fixtureStore(t)
	c := New(store, stub)
	tool, err := store.LookupTool("gobuster")
	require.NoError(t, err)

	_, err = c.Compose(context.Background(), tool, Request{Input: "enumerate", Role: catalog.RoleStudent})
	var missing *MissingRequiredError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "url", missing.Name)
}

func TestSuggest(t *testing.T) {
	stub := newStubLLM(map[string]string{
		"suggest_prompt": `{"suggestions":[
			{"argv":["gobuster","dir","-u","http://example.com"],"explanation":"directory scan"},
			{"argv":["gobuster","dir","-u","http://example.com","-w","[WORDLIST]"],"explanation":"with wordlist"},
			{"argv":["gobuster","dir","-u","not a url"],"explanation":"invalid, must be dropped"},
			{"argv":["dirb","http://example.com"],"explanation":"wrong base, must be dropped"}
		]}`,
	})
	c := New(fixtureStore(t), stub)

	suggestions, err := c.Suggest(context.Background(), Request{
		Input: "enumerate web directories on gobuster",
		Role:  catalog.RolePenetrationTester,
	})
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	assert.Equal(t, "directory scan", suggestions[0].Explanation)
	assert.Equal(t, "/usr/share/wordlists/common.txt", suggestions[1].Argv[5])
}

func TestProposeEndToEnd(t *testing.T) {
	stub := newStubLLM(map[string]string{
		"command_prompt": `{"argv":["nmap","-sS","-T4","127.0.0.1"],"placeholders":[]}`,
	})
	c := New(fixtureStore(t), stub)

	cmd, err := c.Propose(context.Background(), Request{
		Input: "scan ports on 127.0.0.1 with nmap",
		Role:  catalog.RoleStudent,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"nmap", "-sS", "-T4", "127.0.0.1"}, cmd.Argv)
}
