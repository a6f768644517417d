// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/complywatch/internal/api"
	"github.com/jeranaias/complywatch/internal/logging"
	"github.com/jeranaias/complywatch/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete complywatch configuration.
type Config struct {
	Server  ServerConfig  `toml:"server" json:"server" envPrefix:"SERVER_"`
	Stream  StreamConfig  `toml:"stream" json:"stream" envPrefix:"STREAM_"`
	Display DisplayConfig `toml:"display" json:"display" envPrefix:"DISPLAY_"`
	Log     LogConfig     `toml:"log" json:"log" envPrefix:"LOG_"`
}

// ServerConfig says where the compliance server is and how to talk to it.
type ServerConfig struct {
	BaseURL    string `toml:"base_url" json:"base_url" env:"BASE_URL"`
	StreamPath string `toml:"stream_path" json:"stream_path" env:"STREAM_PATH"`
	// APIKey is the model provider key the server forwards upstream. Empty
	// means the server uses its own.
	APIKey string `toml:"api_key" json:"api_key" env:"API_KEY"`
	// TimeoutSecs bounds connecting and waiting for response headers.
	TimeoutSecs       int `toml:"timeout_secs" json:"timeout_secs" env:"TIMEOUT_SECS"`
	RequestsPerMinute int `toml:"requests_per_minute" json:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
	RetryAttempts     int `toml:"retry_attempts" json:"retry_attempts" env:"RETRY_ATTEMPTS"`
}

// StreamConfig holds the per-stream request parameters and client policy.
type StreamConfig struct {
	Model              string  `toml:"model" json:"model" env:"MODEL"`
	SystemPrompt       string  `toml:"system_prompt" json:"system_prompt" env:"SYSTEM_PROMPT"`
	DelayTokens        int     `toml:"delay_tokens" json:"delay_tokens" env:"DELAY_TOKENS"`
	DelayMs            int     `toml:"delay_ms" json:"delay_ms" env:"DELAY_MS"`
	RiskThreshold      float64 `toml:"risk_threshold" json:"risk_threshold" env:"RISK_THRESHOLD"`
	AnalysisWindowSize int     `toml:"analysis_window_size" json:"analysis_window_size" env:"ANALYSIS_WINDOW_SIZE"`
	AnalysisFrequency  int     `toml:"analysis_frequency" json:"analysis_frequency" env:"ANALYSIS_FREQUENCY"`
	Region             string  `toml:"region" json:"region" env:"REGION"`
	EnableSafeRewrite  bool    `toml:"enable_safe_rewrite" json:"enable_safe_rewrite" env:"ENABLE_SAFE_REWRITE"`
	// IdleTimeoutSecs fails a stream that sends nothing for this long. Zero
	// disables it.
	IdleTimeoutSecs int `toml:"idle_timeout_secs" json:"idle_timeout_secs" env:"IDLE_TIMEOUT_SECS"`
	// LenientEnd leaves a stream that ends without a terminal message in the
	// streaming state instead of marking it errored.
	LenientEnd bool `toml:"lenient_end" json:"lenient_end" env:"LENIENT_END"`
}

// DisplayConfig controls terminal output.
type DisplayConfig struct {
	HighRiskThreshold float64 `toml:"high_risk_threshold" json:"high_risk_threshold" env:"HIGH_RISK_THRESHOLD"`
	// MaxTimeline caps how many timeline events the live view keeps on screen.
	MaxTimeline int `toml:"max_timeline" json:"max_timeline" env:"MAX_TIMELINE"`
	// Theme is "dark", "light" or "auto".
	Theme string `toml:"theme" json:"theme" env:"THEME"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level  string `toml:"level" json:"level" env:"LEVEL"`
	Format string `toml:"format" json:"format" env:"FORMAT"`
	// File receives logs instead of stderr when set. The live view always
	// needs this or the log would draw over the screen.
	File string `toml:"file" json:"file" env:"FILE"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns the built-in configuration. Stream parameters match the
// server's defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:           api.DefaultBaseURL,
			StreamPath:        api.DefaultStreamPath,
			TimeoutSecs:       int(api.DefaultConnectTimeout.Seconds()),
			RequestsPerMinute: api.DefaultRequestsPerMinute,
			RetryAttempts:     api.DefaultMaxAttempts,
		},
		Stream: StreamConfig{
			DelayTokens:        24,
			DelayMs:            250,
			RiskThreshold:      0.7,
			AnalysisWindowSize: 150,
			AnalysisFrequency:  25,
			EnableSafeRewrite:  true,
			IdleTimeoutSecs:    60,
		},
		Display: DisplayConfig{
			HighRiskThreshold: 0.7,
			MaxTimeline:       200,
			Theme:             "auto",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the complywatch configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".complywatch"), nil
}

// PathTOML returns the default config file path.
func PathTOML() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default config file if it exists, then applies environment
// overrides, defaults for empty fields and validation.
func Load() (*Config, error) {
	path, err := PathTOML()
	if err != nil {
		return finish(Default())
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		return finish(Default())
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the TOML file at path over the defaults, then applies
// environment overrides, defaults for empty fields and validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, err
	}
	return finish(cfg)
}

// LoadTOML decodes the file at path into cfg. Keys absent from the file keep
// their current values. Unknown keys are an error so typos do not pass
// silently.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

const fileHeader = `# complywatch configuration file
# Values here are overridden by COMPLYWATCH_* environment variables and flags.

`

// Save writes cfg to the default config path.
func Save(cfg *Config) error {
	path, err := PathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg to path atomically with owner-only permissions, since
// the file may hold an API key.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.WriteFileAtomic(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid configuration value.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is every validation problem found.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every value. Stream parameters must fall inside the
// server's accepted ranges.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	intRange := func(field string, v, lo, hi int) {
		if v < lo || v > hi {
			add(field, "must be between %d and %d, got %d", lo, hi, v)
		}
	}

	// Server
	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Host == "" {
		add("server.base_url", "must be an absolute URL, got %q", c.Server.BaseURL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("server.base_url", "scheme must be http or https, got %q", u.Scheme)
	}
	if !strings.HasPrefix(c.Server.StreamPath, "/") {
		add("server.stream_path", "must start with /")
	}
	if c.Server.TimeoutSecs < 1 {
		add("server.timeout_secs", "must be at least 1")
	}
	if c.Server.RequestsPerMinute < 0 {
		add("server.requests_per_minute", "must not be negative (0 disables client-side limiting)")
	}
	intRange("server.retry_attempts", c.Server.RetryAttempts, 1, 10)

	// Stream
	intRange("stream.delay_tokens", c.Stream.DelayTokens, api.MinDelayTokens, api.MaxDelayTokens)
	intRange("stream.delay_ms", c.Stream.DelayMs, api.MinDelayMs, api.MaxDelayMs)
	intRange("stream.analysis_window_size", c.Stream.AnalysisWindowSize, api.MinWindowSize, api.MaxWindowSize)
	intRange("stream.analysis_frequency", c.Stream.AnalysisFrequency, api.MinFrequency, api.MaxFrequency)
	if t := c.Stream.RiskThreshold; t < api.MinRiskThreshold || t > api.MaxRiskThreshold {
		add("stream.risk_threshold", "must be between %.1f and %.1f, got %g", api.MinRiskThreshold, api.MaxRiskThreshold, t)
	}
	if c.Stream.Region != "" && !contains(api.Regions, c.Stream.Region) {
		add("stream.region", "must be one of %s", strings.Join(api.Regions, ", "))
	}
	if c.Stream.IdleTimeoutSecs < 0 {
		add("stream.idle_timeout_secs", "must not be negative (0 disables it)")
	}

	// Display
	if c.Display.HighRiskThreshold < 0 || c.Display.HighRiskThreshold > api.MaxRiskThreshold {
		add("display.high_risk_threshold", "must be between 0 and %.1f", api.MaxRiskThreshold)
	}
	if c.Display.MaxTimeline < 1 {
		add("display.max_timeline", "must be at least 1")
	}
	if !contains([]string{"auto", "dark", "light"}, c.Display.Theme) {
		add("display.theme", "must be auto, dark or light, got %q", c.Display.Theme)
	}

	// Log
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}
	if !contains([]string{"text", "json"}, c.Log.Format) {
		add("log.format", "must be text or json, got %q", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills empty strings and non-positive sizes that have no
// meaningful zero value.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Server.BaseURL == "" {
		c.Server.BaseURL = d.Server.BaseURL
	}
	c.Server.BaseURL = strings.TrimSuffix(c.Server.BaseURL, "/")
	if c.Server.StreamPath == "" {
		c.Server.StreamPath = d.Server.StreamPath
	}
	if c.Server.TimeoutSecs == 0 {
		c.Server.TimeoutSecs = d.Server.TimeoutSecs
	}
	if c.Server.RetryAttempts == 0 {
		c.Server.RetryAttempts = d.Server.RetryAttempts
	}
	c.Stream.Region = strings.ToUpper(strings.TrimSpace(c.Stream.Region))
	if c.Display.MaxTimeline == 0 {
		c.Display.MaxTimeline = d.Display.MaxTimeline
	}
	if c.Display.Theme == "" {
		c.Display.Theme = d.Display.Theme
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Keys returns every configuration key in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := tomlName(section)
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+tomlName(section.Type.Field(j)))
		}
	}
	return keys
}

// Get returns the value at a dot-notation key such as "stream.delay_ms".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set parses value for the field at key and stores it. The result is not
// validated; call Validate before using or saving it.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, value)
		}
		field.SetInt(int64(n))
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid number %q", key, value)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: invalid boolean %q", key, value)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("%s: unsupported field type %s", key, field.Kind())
	}
	return nil
}

// lookup resolves "section.key" by TOML name.
func (c *Config) lookup(key string) (reflect.Value, error) {
	section, name, ok := strings.Cut(strings.ToLower(strings.TrimSpace(key)), ".")
	if !ok || section == "" || name == "" {
		return reflect.Value{}, fmt.Errorf("key %q must look like section.name", key)
	}

	v := reflect.ValueOf(c).Elem()
	sv, found := fieldByTOMLName(v, section)
	if !found || sv.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("unknown section %q", section)
	}
	fv, found := fieldByTOMLName(sv, name)
	if !found {
		return reflect.Value{}, fmt.Errorf("unknown key %q", key)
	}
	return fv, nil
}

func fieldByTOMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tomlName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tomlName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
	if name == "" {
		return strings.ToLower(f.Name)
	}
	return name
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Redacted returns a copy safe to print: the API key is masked.
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	if safe.Server.APIKey != "" {
		safe.Server.APIKey = "[REDACTED]"
	}
	return safe
}

// String returns the redacted configuration as JSON for debugging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the process-wide configuration, loading it on first use.
// A load failure falls back to defaults and is reported on stderr.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the process-wide configuration from path, or from the
// default location when path is empty.
func ReloadGlobal(path string) error {
	var cfg *Config
	var err error
	if path == "" {
		cfg, err = Load()
	} else {
		cfg, err = LoadFromPath(path)
	}
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal replaces the process-wide configuration.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears the process-wide configuration.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
