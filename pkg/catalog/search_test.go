package catalog

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadFixtureStore(t *testing.T) *Store {
	t.Helper()
	store, err := Load(writeFixtureCatalog(t, t.TempDir()))
	require.NoError(t, err)
	return store
}

func TestSearchTools(t *testing.T) {
	store := loadFixtureStore(t)

	tests := []struct {
		name  string
		query string
		role  Role
		want  []string // expected tool order
	}{
		{
			name:  "exact name dominates",
			query: "run nmap against the lab",
			role:  RoleStudent,
			want:  []string{"nmap"},
		},
		{
			name:  "keywords rank the scanner first",
			query: "scan ports on 127.0.0.1",
			role:  RoleStudent,
			want:  []string{"nmap"},
		},
		{
			name:  "web enumeration finds gobuster",
			query: "enumerate web directories on http://example.com",
			role:  RolePenetrationTester,
			want:  []string{"gobuster"},
		},
		{
			name:  "forensics query prefers volatility",
			query: "analyze this memory dump",
			role:  RoleForensicExpert,
			want:  []string{"volatility"},
		},
		{
			name:  "no match",
			query: "write me a poem",
			role:  RoleStudent,
			want:  nil,
		},
		{
			name:  "empty query",
			query: "   ",
			role:  RoleStudent,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := store.SearchTools(tt.query, tt.role)
			var got []string
			for _, r := range results {
				got = append(got, r.Tool.Name)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SearchTools(%q, %s) = %v, want %v", tt.query, tt.role, got, tt.want)
			}
		})
	}
}

func TestSearchToolsDeterministic(t *testing.T) {
	store := loadFixtureStore(t)

	first := store.SearchTools("scan the network host", RolePenetrationTester)
	for i := 0; i < 20; i++ {
		again := store.SearchTools("scan the network host", RolePenetrationTester)
		if len(again) != len(first) {
			t.Fatalf("ranking length changed between calls: %d vs %d", len(again), len(first))
		}
		for j := range first {
			if first[j].Tool.Name != again[j].Tool.Name || first[j].Score != again[j].Score {
				t.Fatalf("ranking is not deterministic at position %d: %s/%d vs %s/%d",
					j, first[j].Tool.Name, first[j].Score, again[j].Tool.Name, again[j].Score)
			}
		}
	}
}

func TestSearchToolsRoleAffinityBreaksTies(t *testing.T) {
	store := loadFixtureStore(t)

	// "web" is a keyword of gobuster and a category the pen tester prefers;
	// the same query under different roles must keep gobuster's bonus
	// consistent with its affinity.
	pentester := store.SearchTools("web", RolePenetrationTester)
	student := store.SearchTools("web", RoleStudent)

	if len(pentester) == 0 || len(student) == 0 {
		t.Fatal("expected matches for query \"web\"")
	}
	if pentester[0].Tool.Name != "gobuster" {
		t.Errorf("pentester first result = %s, want gobuster", pentester[0].Tool.Name)
	}
	if pentester[0].Score != student[0].Score {
		// both roles have web affinity in the fixture map
		t.Logf("scores differ across roles: %d vs %d", pentester[0].Score, student[0].Score)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"scan ports on 127.0.0.1", []string{"scan", "ports", "on", "127.0.0.1"}},
		{"Scan PORTS ports", []string{"scan", "ports"}},
		{"enumerate, web; directories!", []string{"enumerate", "web", "directories"}},
		{"", nil},
	}

	for _, tt := range tests {
		got := tokenize(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("tokenize(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
