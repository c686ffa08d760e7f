package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

var envVarPatterns = struct {
	withDefault *regexp.Regexp
	braced      *regexp.Regexp
}{
	withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
}

// expandEnvVars substitutes ${VAR} and ${VAR:-default} references.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if len(parts) == 3 {
			if val := os.Getenv(parts[1]); val != "" {
				return val
			}
			return parts[2]
		}
		return match
	})

	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	return s
}

// LoadEnvFiles loads .env and .env.local into the process environment.
// Missing files are fine; explicit environment variables win.
func LoadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err == nil {
			_ = godotenv.Load(name)
		}
	}
}

// Load reads, expands, decodes, overrides, defaults, and validates the
// configuration file at path.
func Load(path string) (*Config, error) {
	LoadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	for key := range raw {
		if _, ok := topLevelKeys[key]; !ok {
			return nil, fmt.Errorf("unknown top-level config key %q", key)
		}
	}

	applyEnvOverrides(raw)

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid config structure: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides sets values whose dotted config path, uppercased with
// underscores, names a set environment variable. The addressable paths are
// enumerated from the Config struct itself, so a setting can be overridden
// whether or not the file mentions it. List elements (e.g. endpoints) are
// not individually addressable. Overrides run after file parsing and
// before validation.
func applyEnvOverrides(raw map[string]any) {
	for _, path := range scalarKeyPaths(reflect.TypeOf(Config{}), nil) {
		envName := strings.ToUpper(strings.Join(path, "_"))
		envName = strings.ReplaceAll(envName, "-", "_")
		override, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}
		setRawValue(raw, path, override)
	}
}

// scalarKeyPaths walks the mapstructure tags of a config struct and
// returns the dotted path of every scalar field.
func scalarKeyPaths(t reflect.Type, prefix []string) [][]string {
	var paths [][]string
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		path := append(append([]string(nil), prefix...), tag)
		switch ft := t.Field(i).Type; ft.Kind() {
		case reflect.Struct:
			paths = append(paths, scalarKeyPaths(ft, path)...)
		case reflect.Slice, reflect.Array, reflect.Map:
		default:
			paths = append(paths, path)
		}
	}
	return paths
}

// setRawValue writes a value into the parsed YAML map, creating the
// intermediate sections the file omitted.
func setRawValue(node map[string]any, path []string, value string) {
	for _, key := range path[:len(path)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[key] = child
		}
		node = child
	}
	node[path[len(path)-1]] = value
}
