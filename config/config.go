// Package config loads the probe suite's configuration file. The file
// is a JSON (or YAML) object keyed by test tag; presence of a tag
// enables that group. Group-specific shapes are parsed by each group
// package from its own json.RawMessage slice.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// GlobalConfig maps test tag to that group's raw (still-unparsed)
// configuration object.
type GlobalConfig map[string]json.RawMessage

// Error wraps a config load/parse failure with the path that caused
// it — a fatal, pre-test-run condition distinct from any per-probe
// error.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("config %s: %v", e.Path, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// candidateNames are tried in order when no explicit path is given.
var candidateNames = []string{"config.json", "config.yaml", "config.yml"}

// Discover finds the first existing config file in dir.
func Discover(dir string) (string, error) {
	for _, name := range candidateNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found in %s (looked for %s)", dir, strings.Join(candidateNames, ", "))
}

// Load reads and parses path, dispatching on file extension: ".yaml"
// and ".yml" go through YAML, everything else through JSON.
func Load(path string) (GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &Error{Path: path, Err: fmt.Errorf("parse yaml: %w", err)}
		}
		cfg, err := toRawMessages(raw)
		if err != nil {
			return nil, &Error{Path: path, Err: err}
		}
		return cfg, nil
	}

	var cfg GlobalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("parse json: %w", err)}
	}
	return cfg, nil
}

func toRawMessages(raw map[string]interface{}) (GlobalConfig, error) {
	out := make(GlobalConfig, len(raw))
	for k, v := range raw {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("re-encode key %q: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}
