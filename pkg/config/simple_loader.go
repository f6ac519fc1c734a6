// YAML loading with environment variable substitution.
package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/qhzhou/Kylin/pkg/errors"
)

// Load reads the YAML file at filePath into out. ${VAR} references are
// replaced with the environment first.
func Load(filePath string, out interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the CLI
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "read config file").
			WithDetail("path", filePath)
	}

	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "parse config YAML").
			WithDetail("path", filePath)
	}
	return nil
}

// Save writes in to filePath as YAML.
func Save(filePath string, in interface{}) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "marshal config YAML")
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeConfig, "write config file").
			WithDetail("path", filePath)
	}
	return nil
}

// substituteEnvVars replaces each ${VAR} with the value of VAR, empty when
// unset. Substituted values are not scanned again, and an unterminated ${
// is kept as is.
func substituteEnvVars(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.IndexByte(content[start:], '}')
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
