package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern  string
		resource string
		want     bool
	}{
		{"reports/finance/q3", "reports/finance/q3", true},
		{"reports/finance/q3", "reports/finance/q4", false},
		{"reports/Finance/q3", "reports/finance/q3", false},
		{"data-lake/*", "data-lake/files/x", true},
		{"data-lake/*", "data-lake/", true},
		{"data-lake/*", "data-lake", false},
		{"data-lake/*", "data-warehouse/files", false},
		{"reports/*/q3", "reports/finance/q3", true},
		{"reports/*/q3", "reports/q3", false},
		{"reports/*/q3", "reports/finance/ops/q3", false},
		{"*", "anything", true},
		{"*", "a/b", true},
	}
	for _, tc := range cases {
		if got := Matches(tc.pattern, tc.resource); got != tc.want {
			t.Fatalf("Matches(%q, %q) = %v, want %v", tc.pattern, tc.resource, got, tc.want)
		}
	}
}

func TestValidatePattern(t *testing.T) {
	require.NoError(t, ValidatePattern("reports/finance/*"))
	require.NoError(t, ValidatePattern("*"))
	require.Error(t, ValidatePattern(""))
	require.Error(t, ValidatePattern("  "))
	require.Error(t, ValidatePattern("reports/fin*/q3"))
}

func TestActionAllowed(t *testing.T) {
	p := Policy{Actions: []string{"Read", "Export"}}
	require.True(t, ActionAllowed(p, "Read"))
	require.False(t, ActionAllowed(p, "Delete"))
	require.True(t, ActionAllowed(Policy{Actions: []string{ActionAll}}, "Delete"))
}
