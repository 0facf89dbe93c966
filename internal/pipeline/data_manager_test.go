package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsmind/opsmind/pkg/config"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func incidentSource(t *testing.T, name string, priority int, rows string) *config.SourceConfig {
	t.Helper()
	path := writeCSV(t, t.TempDir(), "incidents.csv",
		"number,incident_state,category,u_symptom,priority,closed_code,short_description,description\n"+rows)
	return &config.SourceConfig{
		Name:     name,
		Kind:     config.SourceIncidentsCSV,
		Enabled:  true,
		Priority: priority,
		Path:     path,
	}
}

func TestQueryRequiresRunningManager(t *testing.T) {
	dm := NewDataManager()
	result := dm.Query("database", 10)
	assert.Equal(t, "error", result.Status)
}

func TestQueryWithZeroSourcesSucceedsEmpty(t *testing.T) {
	dm := NewDataManager()
	require.NoError(t, dm.Start(context.Background()))
	defer dm.Stop(context.Background())

	result := dm.Query("database", 10)
	assert.Equal(t, "success", result.Status)
	assert.Empty(t, result.Context)
	assert.Zero(t, result.TotalFound)
	assert.False(t, result.HasRealtime)
}

func TestQueryScoresByOccurrenceCount(t *testing.T) {
	dm := NewDataManager()
	require.NoError(t, dm.AddSource(incidentSource(t, "incidents", 1,
		"INC001,Active,db,,1,,database outage,the database crashed\n"+
			"INC002,Active,net,,2,,network blip,packet loss on switch\n")))
	require.NoError(t, dm.Start(context.Background()))
	defer dm.Stop(context.Background())

	// INC001 mentions "database", INC002 never.
	result := dm.Query("database", 10)
	require.Equal(t, "success", result.Status)
	require.Len(t, result.Context, 1)
	assert.Equal(t, "INC001", result.Context[0].ID)
	assert.Positive(t, result.Context[0].Score)
}

func TestQueryOccurrenceCountRanksHigher(t *testing.T) {
	dm := NewDataManager()
	require.NoError(t, dm.AddSource(incidentSource(t, "incidents", 1,
		"INC001,,,,,,timeout on login,request timeout observed\n"+
			"INC002,,,,,,slow login,one timeout recorded\n")))
	require.NoError(t, dm.Start(context.Background()))
	defer dm.Stop(context.Background())

	result := dm.Query("timeout", 10)
	require.Len(t, result.Context, 2)
	// Two occurrences beat one at equal priority.
	assert.Equal(t, "INC001", result.Context[0].ID)
	assert.Equal(t, "INC002", result.Context[1].ID)
	assert.Greater(t, result.Context[0].Score, result.Context[1].Score)
}

func TestQueryPriorityWeighting(t *testing.T) {
	dm := NewDataManager()
	require.NoError(t, dm.AddSource(incidentSource(t, "low", 1,
		"INC001,,,,,,database down,\n")))
	require.NoError(t, dm.AddSource(incidentSource(t, "high", 5,
		"INC002,,,,,,database degraded,\n")))
	require.NoError(t, dm.Start(context.Background()))
	defer dm.Stop(context.Background())

	// Same occurrence count, so the priority-5 source wins 5x.
	result := dm.Query("database", 10)
	require.Len(t, result.Context, 2)
	assert.Equal(t, "INC002", result.Context[0].ID)
	assert.Equal(t, 5*result.Context[1].Score, result.Context[0].Score)
}

func TestQueryLimitAndTotalFound(t *testing.T) {
	dm := NewDataManager()
	require.NoError(t, dm.AddSource(incidentSource(t, "incidents", 1,
		"INC001,,,,,,disk full,\nINC002,,,,,,disk almost full,\nINC003,,,,,,disk io errors,\n")))
	require.NoError(t, dm.Start(context.Background()))
	defer dm.Stop(context.Background())

	result := dm.Query("disk", 2)
	assert.Len(t, result.Context, 2)
	assert.Equal(t, 3, result.TotalFound)
}

func TestDisabledSourceIsNotLoaded(t *testing.T) {
	dm := NewDataManager()
	src := incidentSource(t, "incidents", 1, "INC001,,,,,,database down,\n")
	src.Enabled = false
	require.NoError(t, dm.AddSource(src))
	require.NoError(t, dm.Start(context.Background()))
	defer dm.Stop(context.Background())

	result := dm.Query("database", 10)
	assert.Equal(t, "success", result.Status)
	assert.Empty(t, result.Context)
	assert.NotContains(t, result.ActiveSources, "incidents")
}

func TestStartToleratesMissingStaticFile(t *testing.T) {
	dm := NewDataManager()
	require.NoError(t, dm.AddSource(&config.SourceConfig{
		Name:     "ghost",
		Kind:     config.SourceIncidentsCSV,
		Enabled:  true,
		Priority: 1,
		Path:     filepath.Join(t.TempDir(), "missing.csv"),
	}))
	require.NoError(t, dm.AddSource(incidentSource(t, "incidents", 1,
		"INC001,,,,,,database down,\n")))

	require.NoError(t, dm.Start(context.Background()))
	defer dm.Stop(context.Background())

	// The broken source is skipped, the healthy one still serves.
	result := dm.Query("database", 10)
	require.Len(t, result.Context, 1)

	status := dm.Status()
	assert.Equal(t, 0, status.Sources["ghost"].RecordCount)
	assert.Equal(t, 1, status.Sources["incidents"].RecordCount)
}

func TestIssueExportProjection(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "jira_issues.csv",
		"key,summary,description,status.name,priority.name,assignee.displayName,reporter.displayName,updated\n"+
			"OPS-1,Broken deploy,pipeline failed,Open,High,Dana,Sam,2026-08-29T10:00:00Z\n")
	writeCSV(t, dir, "jira_comments.csv",
		"id,issue_key,author.displayName,body,created\n"+
			"501,OPS-1,Sam,reverted the deploy,2026-08-29T11:00:00Z\n")

	dm := NewDataManager()
	require.NoError(t, dm.AddSource(&config.SourceConfig{
		Name:     "jira_export",
		Kind:     config.SourceIssuesCSV,
		Enabled:  true,
		Priority: 2,
		Path:     dir,
	}))
	require.NoError(t, dm.Start(context.Background()))
	defer dm.Stop(context.Background())

	result := dm.Query("deploy", 10)
	require.Len(t, result.Context, 2)

	byID := map[string]ScoredItem{}
	for _, item := range result.Context {
		byID[item.ID] = item
	}

	issue := byID["OPS-1"]
	assert.Equal(t, ContextTypeIssue, issue.Type)
	assert.Equal(t, "Broken deploy pipeline failed", issue.Content)
	assert.Equal(t, "Open", issue.Fields["status"])

	comment := byID["comment-501"]
	assert.Equal(t, ContextTypeComment, comment.Type)
	assert.Equal(t, "reverted the deploy", comment.Content)
	assert.Equal(t, "OPS-1", comment.Fields["issue_key"])
}

func TestStatusReportsSources(t *testing.T) {
	dm := NewDataManager()
	require.NoError(t, dm.AddSource(incidentSource(t, "incidents", 3,
		"INC001,,,,,,database down,\n")))
	require.NoError(t, dm.Start(context.Background()))
	defer dm.Stop(context.Background())

	status := dm.Status()
	assert.True(t, status.Running)
	assert.Equal(t, 1, status.TotalSources)
	assert.Equal(t, 1, status.EnabledSources)
	require.Contains(t, status.Sources, "incidents")
	assert.Equal(t, 3, status.Sources["incidents"].Priority)
	assert.Equal(t, config.SourceIncidentsCSV, status.Sources["incidents"].Kind)
	assert.Nil(t, status.Realtime)
}
