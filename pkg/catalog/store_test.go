package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetor-ai/praetor/pkg/config"
)

const masterFixture = `tools:
  - name: nmap
    category: network
    risk_baseline: low
    keywords: [scan, ports, network, host, discovery]
  - name: gobuster
    category: web
    risk_baseline: medium
    keywords: [directories, enumerate, web, brute, wordlist]
  - name: volatility
    category: forensics
    risk_baseline: safe
    keywords: [memory, dump, forensics, analysis]
  - name: ghosttool
    category: network
    risk_baseline: low
    keywords: [phantom]
`

const nmapFixture = `base_command: nmap
parameters:
  - name: scan_type
    kind: flag
    flag: -sS
    aliases: [syn, stealth]
    description: TCP SYN scan
  - name: timing
    kind: flag
    flag: -T4
    aliases: [fast, aggressive]
    description: timing template
  - name: port_range
    kind: flag
    flag: -p
    requires_value: true
    aliases: [ports]
    validator: "regex:^[0-9,-]+$"
    description: port selection
  - name: target
    kind: positional
    required: true
    aliases: [host, address]
    validator: "type:host"
    description: scan target
`

const gobusterFixture = `base_command: gobuster
parameters:
  - name: mode
    kind: positional
    required: true
    default: dir
    description: enumeration mode
  - name: url
    kind: flag
    flag: -u
    requires_value: true
    required: true
    validator: "type:url"
    description: target URL
  - name: wordlist
    kind: flag
    flag: -w
    requires_value: true
    default: /usr/share/wordlists/common.txt
    description: wordlist path
`

const volatilityFixture = `base_command: vol
parameters:
  - name: file
    kind: flag
    flag: -f
    requires_value: true
    required: true
    description: memory image
`

const patternsFixture = `patterns:
  - pattern: '^rm\s+-rf\s+/'
    level: critical
    action: block
    description: recursive delete of filesystem root
    alternatives: ["rm -rf <specific-directory>"]
  - pattern: 'mkfs\.'
    level: critical
    action: block
    description: filesystem format
  - pattern: '\bnc\b.*-e\s'
    level: high
    action: require-confirm
    description: reverse shell
  - pattern: '^nmap\b.*-sS'
    level: low
    action: allow
    description: SYN scan
  - pattern: 'curl\b.*\|\s*(ba)?sh'
    level: high
    action: require-confirm
    description: pipe remote script to shell
`

// writeFixtureCatalog lays a complete catalog tree under dir and returns the
// matching paths config. Tool files listed in missing are not written.
func writeFixtureCatalog(t *testing.T, dir string, missing ...string) config.PathsConfig {
	t.Helper()

	perTool := filepath.Join(dir, "registry.d")
	prompts := filepath.Join(dir, "prompts")
	require.NoError(t, os.MkdirAll(perTool, 0o755))
	require.NoError(t, os.MkdirAll(prompts, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tools.yaml"), []byte(masterFixture), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "risk_patterns.yaml"), []byte(patternsFixture), 0o644))

	skip := make(map[string]bool)
	for _, m := range missing {
		skip[m] = true
	}
	files := map[string]string{
		"nmap":       nmapFixture,
		"gobuster":   gobusterFixture,
		"volatility": volatilityFixture,
	}
	for name, content := range files {
		if skip[name] {
			continue
		}
		require.NoError(t, os.WriteFile(filepath.Join(perTool, name+".yaml"), []byte(content), 0o644))
	}

	templates := map[string]string{
		"triage_prompt":  "Classify the request.\nRole: {{role}}\nRequest: {{input}}\nReply with one intent.",
		"risk_prompt":    "Assess: {{command}}\nRole: {{role}}\nRecent tools: {{recent_tools}}\nReply JSON {\"level\":...,\"reason\":...}.",
		"command_prompt": "Tool: {{tool}}\nRequest: {{input}}\nParameters:\n{{parameters}}\nReply JSON {\"argv\":[...],\"placeholders\":[...]}.",
	}
	for name, text := range templates {
		require.NoError(t, os.WriteFile(filepath.Join(prompts, name+".tmpl"), []byte(text), 0o644))
	}

	return config.PathsConfig{
		ToolRegistry:      filepath.Join(dir, "tools.yaml"),
		RiskPatterns:      filepath.Join(dir, "risk_patterns.yaml"),
		PerToolRegistries: perTool,
		Prompts:           prompts,
	}
}

func TestLoad(t *testing.T) {
	paths := writeFixtureCatalog(t, t.TempDir())

	store, err := Load(paths)
	require.NoError(t, err)

	// ghosttool has no per-tool file, so it must be unselectable.
	assert.Equal(t, []string{"gobuster", "nmap", "volatility"}, store.ToolNames())
	assert.Contains(t, store.Unselectable(), "ghosttool")

	nmap, err := store.LookupTool("nmap")
	require.NoError(t, err)
	assert.Equal(t, "nmap", nmap.BaseCommand)
	assert.Equal(t, LevelLow, nmap.RiskBaseline)
	assert.Equal(t, "network", nmap.Category)
	assert.Len(t, nmap.Parameters, 4)

	_, err = store.LookupTool("ghosttool")
	assert.ErrorIs(t, err, ErrToolNotFound)

	_, err = store.LookupTool("nonexistent")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestLoadMissingPatternDBIsFatal(t *testing.T) {
	paths := writeFixtureCatalog(t, t.TempDir())
	paths.RiskPatterns = filepath.Join(t.TempDir(), "absent.yaml")

	_, err := Load(paths)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "risk pattern database")
}

func TestPatternsSortedBySeverity(t *testing.T) {
	paths := writeFixtureCatalog(t, t.TempDir())
	store, err := Load(paths)
	require.NoError(t, err)

	patterns := store.Patterns()
	require.NotEmpty(t, patterns)
	for i := 1; i < len(patterns); i++ {
		assert.GreaterOrEqual(t, patterns[i-1].Level.Rank(), patterns[i].Level.Rank(),
			"patterns must be sorted by descending severity")
	}

	// Stable sort keeps file order within a severity tier.
	assert.Equal(t, `^rm\s+-rf\s+/`, patterns[0].Pattern)
	assert.Equal(t, `mkfs\.`, patterns[1].Pattern)
}

func TestTemplateRender(t *testing.T) {
	paths := writeFixtureCatalog(t, t.TempDir())
	store, err := Load(paths)
	require.NoError(t, err)

	tmpl, err := store.Template("triage_prompt")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"role", "input"}, tmpl.Slots())

	out, err := tmpl.Render(map[string]string{"role": "Student", "input": "scan ports"})
	require.NoError(t, err)
	assert.Contains(t, out, "Role: Student")
	assert.Contains(t, out, "Request: scan ports")

	_, err = tmpl.Render(map[string]string{"role": "Student"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input")

	_, err = store.Template("nonexistent")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestParamLookup(t *testing.T) {
	paths := writeFixtureCatalog(t, t.TempDir())
	store, err := Load(paths)
	require.NoError(t, err)

	nmap, err := store.LookupTool("nmap")
	require.NoError(t, err)

	p, ok := nmap.Param("syn")
	require.True(t, ok)
	assert.Equal(t, "scan_type", p.Name)

	p, ok = nmap.ParamForFlag("-p")
	require.True(t, ok)
	assert.Equal(t, "port_range", p.Name)
	assert.True(t, p.RequiresValue)

	_, ok = nmap.ParamForFlag("-oX")
	assert.False(t, ok)

	positionals := nmap.Positionals()
	require.Len(t, positionals, 1)
	assert.Equal(t, "target", positionals[0].Name)
}

func TestValidateValue(t *testing.T) {
	tests := []struct {
		name      string
		validator string
		value     string
		wantErr   bool
	}{
		{"empty validator accepts", "", "anything", false},
		{"regex match", "regex:^[0-9,-]+$", "1-1024", false},
		{"regex mismatch", "regex:^[0-9,-]+$", "all", true},
		{"int ok", "type:int", "42", false},
		{"int bad", "type:int", "4x", true},
		{"port ok", "type:port", "443", false},
		{"port zero", "type:port", "0", true},
		{"port overflow", "type:port", "70000", true},
		{"host ip", "type:host", "127.0.0.1", false},
		{"host name", "type:host", "scanme.nmap.org", false},
		{"host bad", "type:host", "not a host", true},
		{"url ok", "type:url", "http://example.com", false},
		{"url bad", "type:url", "example", true},
		{"unknown type", "type:float", "1.5", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParamSpec{Name: "x", Validator: tt.validator}
			err := p.ValidateValue(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMaxLevel(t *testing.T) {
	assert.Equal(t, LevelHigh, MaxLevel(LevelLow, LevelHigh))
	assert.Equal(t, LevelHigh, MaxLevel(LevelHigh, LevelLow))
	assert.Equal(t, LevelCritical, MaxLevel(LevelCritical, LevelCritical))
	assert.Equal(t, LevelSafe, MaxLevel(LevelSafe, LevelSafe))
}
