package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "FLOWWATCH_"
	// Delimiter separates nested config keys.
	Delimiter = "."
)

// searchPaths are tried in order when no config file is given.
var searchPaths = []string{
	"flowwatch.yaml",
	"config.yaml",
	"config.yml",
	"config.json",
	"configs/config.yaml",
	"/etc/flowwatch/config.yaml",
}

// Loader layers defaults, a config file, FLOWWATCH_* environment variables
// and explicit overrides, later layers winning.
type Loader struct {
	k *koanf.Koanf
	// envKeys maps known keys with "." replaced by "_" back to the key, so
	// that underscores inside a key name survive the env mapping.
	envKeys map[string]string
}

// NewLoader creates a loader. It can be reused: every Load starts over.
func NewLoader() *Loader {
	defaults := flatten(DefaultConfig(), "")
	keys := make(map[string]string, len(defaults))
	for key := range defaults {
		keys[strings.ReplaceAll(key, Delimiter, "_")] = key
	}
	return &Loader{k: koanf.New(Delimiter), envKeys: keys}
}

// Load builds and validates a Config. An empty configPath searches the
// usual locations and silently continues without a file.
func (l *Loader) Load(configPath string, overrides map[string]any) (*Config, error) {
	l.k = koanf.New(Delimiter)

	if err := l.k.Load(confmap.Provider(flatten(DefaultConfig(), ""), Delimiter), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	switch {
	case configPath != "":
		if err := l.loadFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	default:
		if found := firstExisting(searchPaths); found != "" {
			_ = l.loadFile(found)
		}
	}

	if err := l.k.Load(env.Provider(EnvPrefix, Delimiter, l.envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if len(overrides) > 0 {
		if err := l.k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
	}

	cfg := new(Config)
	if err := l.k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := ValidateWithDetails(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadFile(path string) error {
	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %q", ext)
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file not found: %s", path)
	}
	return l.k.Load(file.Provider(path), parser)
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// envKey turns FLOWWATCH_MONITOR_POLL_INTERVAL into monitor.poll_interval.
// Unknown names have every "_" replaced with ".".
func (l *Loader) envKey(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if key, ok := l.envKeys[name]; ok {
		return key
	}
	return strings.ReplaceAll(name, "_", Delimiter)
}

// Get returns the raw value at key from the last Load.
func (l *Loader) Get(key string) any { return l.k.Get(key) }

func (l *Loader) GetString(key string) string { return l.k.String(key) }

func (l *Loader) GetInt(key string) int { return l.k.Int(key) }

func (l *Loader) GetBool(key string) bool { return l.k.Bool(key) }

// Set overrides a single key in the loaded tree.
func (l *Loader) Set(key string, value any) error { return l.k.Set(key, value) }

var durationType = reflect.TypeOf(time.Duration(0))

// flatten walks the mapstructure tags of v and returns its leaves keyed by
// dotted path. Durations are rendered as strings so koanf can decode them.
func flatten(v any, prefix string) map[string]any {
	out := make(map[string]any)
	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() != reflect.Struct {
		return out
	}

	rt := rv.Type()
	for i := range rt.NumField() {
		f := rt.Field(i)
		tag := f.Tag.Get("mapstructure")
		if !f.IsExported() || tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + Delimiter + tag
		}

		fv := rv.Field(i)
		switch {
		case fv.Type() == durationType:
			out[key] = time.Duration(fv.Int()).String()
		case fv.Kind() == reflect.Pointer && fv.IsNil():
		case fv.Kind() == reflect.Pointer, fv.Kind() == reflect.Struct:
			for k, sub := range flatten(fv.Interface(), key) {
				out[k] = sub
			}
		case fv.Kind() == reflect.Slice:
			items := make([]any, fv.Len())
			for j := range items {
				items[j] = fv.Index(j).Interface()
			}
			out[key] = items
		case fv.Kind() == reflect.Map:
			if fv.Len() > 0 {
				out[key] = fv.Interface()
			}
		default:
			out[key] = fv.Interface()
		}
	}
	return out
}

// Load is shorthand for NewLoader().Load.
func Load(configPath string, overrides map[string]any) (*Config, error) {
	return NewLoader().Load(configPath, overrides)
}
