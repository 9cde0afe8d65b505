package routes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := New(Config{
		Public:    []string{"/", "/login", "/signup", "/courses"},
		Protected: []string{"/dashboard", "/learn", "/courses/enrolled"},
		Exempt:    []string{"/static/", "/favicon.ico", "/api"},
	})
	require.NoError(t, err)
	return tbl
}

func TestClassify(t *testing.T) {
	tbl := testTable(t)

	tests := []struct {
		path string
		want Class
	}{
		{"/", Public},
		{"", Public},
		{"/login", Public},
		{"/login/start", Public},
		{"/loginx", Unclassified},
		{"/dashboard", Protected},
		{"/dashboard/settings", Protected},
		{"/dashboardx", Unclassified},
		{"/learn/graphs/bfs", Protected},
		{"/courses", Public},
		{"/courses/enrolled", Protected},
		{"/courses/enrolled/42", Protected},
		{"/static/app.css", Exempt},
		{"/favicon.ico", Exempt},
		{"/api/anything", Exempt},
		{"/about", Unclassified},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, tbl.Classify(tt.path))
		})
	}
}

func TestRootMatchesOnlyItself(t *testing.T) {
	tbl := MustNew(Config{Public: []string{"/"}})
	assert.Equal(t, Public, tbl.Classify("/"))
	assert.Equal(t, Unclassified, tbl.Classify("/anything"))
}

func TestNew_RejectsPrefixInBothSets(t *testing.T) {
	_, err := New(Config{
		Public:    []string{"/", "/login"},
		Protected: []string{"/dashboard", "/login"},
	})
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "/login", cfgErr.Prefix)
}

func TestNew_RejectsBadPrefixes(t *testing.T) {
	for _, bad := range []string{"", "  ", "dashboard"} {
		_, err := New(Config{Protected: []string{bad}})
		var cfgErr *ConfigurationError
		assert.True(t, errors.As(err, &cfgErr), "prefix %q should be rejected", bad)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	tbl := testTable(t)
	p := tbl.Protected()
	p[0] = "/mutated"
	assert.Equal(t, Protected, tbl.Classify("/dashboard"))
}
