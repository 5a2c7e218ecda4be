package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// envFileVar names an extra env file applied after .env and .env.local.
// Unlike those two, it must exist.
const envFileVar = "CRELAY_ENV_FILE"

type envSource struct {
	path     string
	required bool
}

type envAssignment struct {
	key   string
	value string
	line  int
}

// loadDotEnvFiles applies env files found in cwd. Variables already present
// in environ win over every file; later files win over earlier ones.
func loadDotEnvFiles(cwd string, environ []string, setenv func(string, string) error) error {
	if strings.TrimSpace(cwd) == "" {
		return nil
	}
	if setenv == nil {
		return fmt.Errorf("setenv is required")
	}

	inherited := make(map[string]string, len(environ))
	for _, pair := range environ {
		if key, value, ok := strings.Cut(pair, "="); ok {
			inherited[key] = value
		}
	}

	sources := []envSource{
		{path: filepath.Join(cwd, ".env")},
		{path: filepath.Join(cwd, ".env.local")},
	}
	if extra := strings.TrimSpace(inherited[envFileVar]); extra != "" {
		if !filepath.IsAbs(extra) {
			extra = filepath.Join(cwd, extra)
		}
		sources = append(sources, envSource{path: extra, required: true})
	}

	for _, src := range sources {
		assignments, err := readEnvFile(src)
		if err != nil {
			return err
		}
		for _, a := range assignments {
			if _, set := inherited[a.key]; set {
				continue
			}
			if err := setenv(a.key, a.value); err != nil {
				return fmt.Errorf("%s:%d: set %s: %w", src.path, a.line, a.key, err)
			}
		}
	}
	return nil
}

func readEnvFile(src envSource) ([]envAssignment, error) {
	payload, err := os.ReadFile(src.path)
	if errors.Is(err, os.ErrNotExist) && !src.required {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}

	var out []envAssignment
	for i, raw := range strings.Split(string(payload), "\n") {
		key, value, ok, err := parseDotEnvLine(raw)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", src.path, i+1, err)
		}
		if ok {
			out = append(out, envAssignment{key: key, value: value, line: i + 1})
		}
	}
	return out, nil
}

// parseDotEnvLine reports ok=false for blank and comment lines.
func parseDotEnvLine(raw string) (key, value string, ok bool, err error) {
	line := strings.TrimSpace(raw)
	if line == "" || line[0] == '#' {
		return "", "", false, nil
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false, fmt.Errorf("expected KEY=VALUE")
	}
	key = strings.TrimSpace(key)
	if !validEnvKey(key) {
		return "", "", false, fmt.Errorf("invalid key %q", key)
	}
	value = strings.TrimSpace(value)

	switch {
	case len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"':
		unquoted, err := strconv.Unquote(value)
		if err != nil {
			return "", "", false, fmt.Errorf("invalid quoted value for %q", key)
		}
		return key, unquoted, true, nil
	case len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'':
		return key, value[1 : len(value)-1], true, nil
	}
	if before, _, hasComment := strings.Cut(value, " #"); hasComment {
		value = strings.TrimSpace(before)
	}
	return key, value, true, nil
}

func validEnvKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
