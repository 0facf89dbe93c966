package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsmind/opsmind/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_JIRA_TOKEN", "secret-token")

	path := writeConfig(t, `
name: jira_prod
kind: jira_realtime
enabled: true
connector:
  name: jira_prod
  type: jira
  connection:
    api_token: ${TEST_JIRA_TOKEN}
`)

	var src SourceConfig
	require.NoError(t, Load(path, &src))
	assert.Equal(t, "jira_prod", src.Name)
	assert.Equal(t, "secret-token", src.Connector.Param("api_token"))
}

func TestLoadUnsetVarExpandsEmpty(t *testing.T) {
	path := writeConfig(t, "name: ${DEFINITELY_UNSET_OPSMIND_VAR}\n")

	var src SourceConfig
	require.NoError(t, Load(path, &src))
	assert.Empty(t, src.Name)
}

func TestLoadMissingFileIsConfigError(t *testing.T) {
	var src SourceConfig
	err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &src)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestLoadMalformedYAMLIsConfigError(t *testing.T) {
	path := writeConfig(t, "name: [unclosed\n")

	var src SourceConfig
	err := Load(path, &src)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
