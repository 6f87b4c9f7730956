package config

import (
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/rtcbridge/errors"
)

// Configuration file names, tried in order inside the configuration directory
const (
	JSONFile = "rtcbridge.json"
	YAMLFile = "rtcbridge.yaml"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "RTCBRIDGE"

//go:embed schema.json
var schemaJSON []byte

var schemaLoader = gojsonschema.NewBytesLoader(schemaJSON)

// durationFields lists the section keys holding durations
var durationFields = map[string][]string{
	"nats":      {"reconnect_wait", "connect_timeout"},
	"events":    {"poll_interval"},
	"transport": {"poll_interval", "reply_timeout", "flush_timeout"},
}

// Loader reads the bridge configuration from a directory
type Loader struct {
	envPrefix string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader using the RTCBRIDGE_ environment prefix
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithEnvPrefix changes the environment variable prefix
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// LoadDir loads configuration with the package defaults
func LoadDir(dir string) (*Config, error) {
	return NewLoader().LoadDir(dir)
}

// LoadDir reads rtcbridge.json from dir, falling back to rtcbridge.yaml.
// A missing file is not an error: defaults apply and both bridges stay
// disabled unless the environment enables them.
func (l *Loader) LoadDir(dir string) (*Config, error) {
	cfg := Default()

	path, err := findConfigFile(dir)
	if err != nil {
		return nil, err
	}
	if path != "" {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "LoadDir", "load "+filepath.Base(path))
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "LoadDir", "decode "+filepath.Base(path))
		}
		cfg.Source = path
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads a single JSON or YAML file over the defaults
func (l *Loader) LoadFile(path string) (*Config, error) {
	raw, err := l.loadRaw(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "load "+filepath.Base(path))
	}
	cfg, err := mergeFromMap(Default(), raw)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "decode "+filepath.Base(path))
	}
	cfg.Source = path
	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.WrapInvalid(err, "Loader", "LoadDir", "resolve directory")
	}
	for _, name := range []string{JSONFile, YAMLFile} {
		path := filepath.Join(dir, name)
		_, err := os.Stat(path)
		if err == nil {
			return path, nil
		}
		if !stderrors.Is(err, fs.ErrNotExist) {
			return "", errors.WrapInvalid(err, "Loader", "LoadDir", "stat "+name)
		}
	}
	return "", nil
}

// loadRaw reads a file into a generic map, validates it against the schema
// and converts duration strings to nanoseconds.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}
	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// validateSchema checks the raw document against the embedded schema
func validateSchema(raw map[string]any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(msgs, "; "))
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(raw map[string]any) error {
	for section, keys := range durationFields {
		values, ok := raw[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			s, ok := values[key].(string)
			if !ok {
				continue
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("%w: %s.%s: %v", errors.ErrInvalidConfig, section, key, err)
			}
			values[key] = d.Nanoseconds()
		}
	}
	return nil
}

// mergeFromMap overlays the fields present in override onto base
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	merged, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(merged, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if overrideMap, ok := v.(map[string]any); ok {
			if baseMap, ok := result[k].(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies PREFIX_* environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		key    string
		target *string
	}{
		{"_NATS_URL", &cfg.NATS.URL},
		{"_NATS_USERNAME", &cfg.NATS.Username},
		{"_NATS_PASSWORD", &cfg.NATS.Password},
		{"_NATS_TOKEN", &cfg.NATS.Token},
		{"_EVENTS", &cfg.Events.Events},
		{"_EVENTS_ADDRESS", &cfg.Events.Address},
		{"_API_ADDRESS", &cfg.Transport.Address},
		{"_ADMIN_ADDRESS", &cfg.Transport.AdminAddress},
	}
	for _, s := range strs {
		val, ok, err := l.env(s.key)
		if err != nil {
			return err
		}
		if ok && val != "" {
			*s.target = val
		}
	}

	bools := []struct {
		key    string
		target *bool
	}{
		{"_EVENTS_ENABLED", &cfg.Events.Enabled},
		{"_API_ENABLED", &cfg.Transport.Enabled},
		{"_ADMIN_ENABLED", &cfg.Transport.AdminEnabled},
		{"_METRICS_ENABLED", &cfg.Metrics.Enabled},
	}
	for _, b := range bools {
		val, ok, err := l.env(b.key)
		if err != nil {
			return err
		}
		if !ok || val == "" {
			continue
		}
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s%s=%q", errors.ErrInvalidConfig, l.envPrefix, b.key, val),
				"Loader", "applyEnvOverrides", "parse bool")
		}
		*b.target = parsed
	}
	return nil
}

func (l *Loader) env(suffix string) (string, bool, error) {
	key := l.envPrefix + suffix
	val, ok := l.lookupEnv(key)
	if !ok {
		return "", false, nil
	}
	if err := validateEnvVar(key, val); err != nil {
		return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "validate "+key)
	}
	return val, true, nil
}
