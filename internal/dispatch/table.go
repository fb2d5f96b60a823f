package dispatch

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/medic/internal/action"
)

// Table maps canonical action names to a dispatch target: a webhook URL in
// webhook mode, a job id in rundeck mode.
type Table map[string]string

// Validate requires a non-empty target for every canonical action.
func (t Table) Validate() error {
	var errs []error
	for _, name := range action.Names {
		if strings.TrimSpace(t[name]) == "" {
			errs = append(errs, fmt.Errorf("no dispatch target configured for action %q", name))
		}
	}
	return errors.Join(errs...)
}

// Resolve returns the table key and target for name. It tries the exact
// name, then the hyphenated and underscored spellings, then falls back to
// action.Resolve so dispatch routes every name to the action it was
// validated against. It never fails on a valid table.
func (t Table) Resolve(name string) (key, target string) {
	for _, candidate := range []string{
		name,
		strings.ReplaceAll(name, "_", "-"),
		strings.ReplaceAll(name, "-", "_"),
	} {
		if v, ok := t[candidate]; ok && v != "" {
			return candidate, v
		}
	}

	key, _ = action.Resolve(name)
	return key, t[key]
}

// Merge returns a copy of t with entries from other layered on top. Keys
// are canonicalized to the underscore spelling.
func (t Table) Merge(other Table) Table {
	out := make(Table, len(t)+len(other))
	for _, src := range []Table{t, other} {
		for k, v := range src {
			if strings.TrimSpace(v) == "" {
				continue
			}
			out[canonicalKey(k)] = strings.TrimSpace(v)
		}
	}
	return out
}

func canonicalKey(k string) string {
	k = strings.TrimSpace(k)
	if s, ok := action.Lookup(k); ok {
		return s.Name
	}
	return strings.ReplaceAll(k, "-", "_")
}

// tableFile is the YAML layout of an endpoints file:
//
//	endpoints:
//	  cleanup-disk: https://hooks.example/cleanup
//	  restart_service: https://hooks.example/restart
type tableFile struct {
	Endpoints map[string]string `yaml:"endpoints"`
}

// LoadTable reads an endpoints YAML file. Keys may use either spelling.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse endpoints file %s: %w", path, err)
	}
	return Table{}.Merge(Table(f.Endpoints)), nil
}
