package static

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadIncidents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "incidents.csv",
		"number,short_description,priority\n"+
			"INC001,Database down,1 - Critical\n"+
			"INC002,Slow responses,3 - Moderate\n")

	rows, err := LoadIncidents(filepath.Join(dir, "incidents.csv"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "INC001", rows[0]["number"])
	assert.Equal(t, "Slow responses", rows[1]["short_description"])
}

func TestLoadIncidentsMissingFile(t *testing.T) {
	_, err := LoadIncidents(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}

func TestLoadIncidentsShortRecordPadsEmpty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "incidents.csv",
		"number,short_description,priority\nINC001,Database down\n")

	rows, err := LoadIncidents(filepath.Join(dir, "incidents.csv"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0]["priority"])
}

func TestLoadIssueExportOptionalTables(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, issuesFile,
		"key,summary\nOPS-1,Broken deploy\nOPS-2,Flaky healthcheck\n")
	writeFile(t, dir, commentsFile,
		"issue_key,body\nOPS-1,rolled back\n")
	// changelog and issue links intentionally absent

	c, err := LoadIssueExport(dir)
	require.NoError(t, err)
	assert.Len(t, c.Issues, 2)
	assert.Len(t, c.Comments, 1)
	assert.Empty(t, c.Changelog)
	assert.Empty(t, c.IssueLinks)
}

func TestLoadIssueExportRequiresIssues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, commentsFile, "issue_key,body\nOPS-1,hello\n")

	_, err := LoadIssueExport(dir)
	require.Error(t, err)
}

func TestLoadEmptyFileYieldsNoRows(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.csv", "")

	rows, err := LoadIncidents(filepath.Join(dir, "empty.csv"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
