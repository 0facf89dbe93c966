// Package static loads the offline CSV datasets (incident history and
// issue-tracker exports) that seed the context store alongside the
// realtime connectors.
package static

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/opsmind/opsmind/pkg/errors"
	"github.com/opsmind/opsmind/pkg/logger"
)

// Export file names expected inside an issue-export directory.
const (
	issuesFile     = "jira_issues.csv"
	commentsFile   = "jira_comments.csv"
	changelogFile  = "jira_changelog.csv"
	issueLinksFile = "jira_issuelinks.csv"
)

// Row is one CSV record keyed by column header. Missing cells are
// empty strings, never absent keys.
type Row map[string]string

// Collections groups the tables of an issue-tracker export.
type Collections struct {
	Issues     []Row
	Comments   []Row
	Changelog  []Row
	IssueLinks []Row
}

// LoadIncidents reads the incident history CSV. The file is required;
// a missing or malformed file is an error.
func LoadIncidents(path string) ([]Row, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to load incident data")
	}
	logger.Info("loaded incident records",
		zap.Int("count", len(rows)), zap.String("path", path))
	return rows, nil
}

// LoadIssueExport reads an issue-tracker export directory. The issues
// table is required; comments, changelog and issue links are optional
// and degrade to empty tables with a warning.
func LoadIssueExport(dir string) (*Collections, error) {
	issues, err := readCSV(filepath.Join(dir, issuesFile))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to load issue export")
	}

	c := &Collections{Issues: issues}
	c.Comments = readOptional(filepath.Join(dir, commentsFile), "comments")
	c.Changelog = readOptional(filepath.Join(dir, changelogFile), "changelog")
	c.IssueLinks = readOptional(filepath.Join(dir, issueLinksFile), "issue links")

	logger.Info("loaded issue export",
		zap.Int("issues", len(c.Issues)),
		zap.Int("comments", len(c.Comments)),
		zap.Int("changelog", len(c.Changelog)),
		zap.Int("issue_links", len(c.IssueLinks)))
	return c, nil
}

func readOptional(path, what string) []Row {
	rows, err := readCSV(path)
	if err != nil {
		logger.Warn("could not load optional table",
			zap.String("table", what), zap.String("path", path), zap.Error(err))
		return nil
	}
	return rows
}

// readCSV parses a header-first CSV into rows. Short records pad with
// empty strings; extra cells are dropped.
func readCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		row := make(Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
