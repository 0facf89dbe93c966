package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opsmind/opsmind/pkg/errors"
)

// Load reads a YAML file into out, expanding ${VAR} references from
// the environment first. Credentials such as the JIRA API token stay
// out of config files this way.
func Load(path string, out interface{}) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the CLI flag
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "reading config file "+path)
	}

	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "parsing config file "+path)
	}
	return nil
}

// expandEnv replaces every ${VAR} with the variable's value. Unset
// variables expand to the empty string so Validate can report the
// missing parameter instead of the raw placeholder leaking through.
func expandEnv(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		content = content[:start] + os.Getenv(content[start+2:end]) + content[end+1:]
	}
	return content
}
