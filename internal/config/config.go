// Package config loads mapq CLI configuration from JSON-with-comments files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/mapq/pkg/fs"
	"github.com/calvinalkan/mapq/pkg/mapped"
	"github.com/calvinalkan/mapq/pkg/mapq"
)

// Error variables for configuration loading.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrQueuePathEmpty     = errors.New("queue_path cannot be empty")
	ErrRegionSizeInvalid  = errors.New("region_size must be a positive multiple of 8")
	ErrLogLevelInvalid    = errors.New("unknown log_level")
	ErrLogFormatInvalid   = errors.New("log_format must be text or json")
	ErrBenchInvalid       = errors.New("invalid bench settings")
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	QueuePath  string `json:"queue_path,omitempty"`
	RegionSize int64  `json:"region_size,omitempty"`
	LogLevel   string `json:"log_level,omitempty"`
	LogFormat  string `json:"log_format,omitempty"`
	Bench      Bench  `json:"bench"`

	// Resolved (computed, not serialized)
	EffectiveCwd string `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Bench configures the bench command.
type Bench struct {
	Messages    int    `json:"messages,omitempty"`
	Warmup      int    `json:"warmup,omitempty"`
	Rate        int    `json:"rate,omitempty"`         // messages per second, 0 means unpaced
	MessageSize int    `json:"message_size,omitempty"` // payload bytes per message
	MetricsAddr string `json:"metrics_addr,omitempty"` // serve /metrics here when set
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		QueuePath:  "queue.mq",
		RegionSize: mapq.DefaultRegionSize,
		LogLevel:   logrus.WarnLevel.String(),
		LogFormat:  LogFormatText,
		Bench: Bench{
			Messages:    100_000,
			Warmup:      10_000,
			MessageSize: 64,
		},
	}
}

// FileName is the default project config file name.
const FileName = ".mapq.json"

// globalPath returns the path to the global config file.
// Uses $XDG_CONFIG_HOME/mapq/config.json if set, otherwise
// ~/.config/mapq/config.json. Returns empty string if home directory cannot
// be determined.
func globalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "mapq", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "mapq", "config.json")
	}

	return ""
}

// Overrides are CLI flag values applied last. Zero values mean no override.
type Overrides struct {
	QueuePath  string
	RegionSize int64
	LogLevel   string
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Overrides       Overrides         // global flag values
	Env             map[string]string // environment variables
	FS              fs.FS             // reads config files; defaults to [fs.NewReal]
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config (~/.config/mapq/config.json or $XDG_CONFIG_HOME/mapq/config.json)
// 3. Project config file at default location (.mapq.json, if exists)
// 4. Explicit config file via ConfigPath (if non-empty), replacing 3
// 5. CLI overrides.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	fsys := input.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	cfg := Default()

	globalCfg, globalCfgPath, err := loadOptional(fsys, globalPath(input.Env))
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalCfgPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProject(fsys, workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	cfg = merge(cfg, Config{
		QueuePath:  input.Overrides.QueuePath,
		RegionSize: input.Overrides.RegionSize,
		LogLevel:   input.Overrides.LogLevel,
	})

	err = Validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	return cfg, nil
}

// QueuePathAbs resolves the queue path against the effective working
// directory.
func (c Config) QueuePathAbs() string {
	if filepath.IsAbs(c.QueuePath) || c.EffectiveCwd == "" {
		return c.QueuePath
	}

	return filepath.Join(c.EffectiveCwd, c.QueuePath)
}

func loadOptional(fsys fs.FS, path string) (Config, string, error) {
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadFile(fsys, path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// loadProject loads the project config file (.mapq.json) or an explicit
// config file.
func loadProject(fsys fs.FS, workDir, configPath string) (Config, string, error) {
	if configPath == "" {
		return loadOptional(fsys, filepath.Join(workDir, FileName))
	}

	cfgFile := configPath
	if !filepath.IsAbs(cfgFile) {
		cfgFile = filepath.Join(workDir, cfgFile)
	}

	exists, err := fsys.Exists(cfgFile)
	if err != nil || !exists {
		return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
	}

	cfg, _, err := loadFile(fsys, cfgFile, true)
	if err != nil {
		return Config{}, "", err
	}

	return cfg, cfgFile, nil
}

// loadFile loads a config file. If mustExist is false, missing files return
// a zero config.
func loadFile(fsys fs.FS, path string, mustExist bool) (Config, bool, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, true, nil
}

// Parse decodes a JSON-with-comments config document.
//
// A queue_path explicitly set to "" is rejected instead of silently falling
// back to a lower-precedence value.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, exists := raw["queue_path"]; exists {
		if str, ok := val.(string); ok && str == "" {
			return Config{}, ErrQueuePathEmpty
		}
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.QueuePath != "" {
		base.QueuePath = overlay.QueuePath
	}

	if overlay.RegionSize != 0 {
		base.RegionSize = overlay.RegionSize
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.LogFormat != "" {
		base.LogFormat = overlay.LogFormat
	}

	if overlay.Bench.Messages != 0 {
		base.Bench.Messages = overlay.Bench.Messages
	}

	if overlay.Bench.Warmup != 0 {
		base.Bench.Warmup = overlay.Bench.Warmup
	}

	if overlay.Bench.Rate != 0 {
		base.Bench.Rate = overlay.Bench.Rate
	}

	if overlay.Bench.MessageSize != 0 {
		base.Bench.MessageSize = overlay.Bench.MessageSize
	}

	if overlay.Bench.MetricsAddr != "" {
		base.Bench.MetricsAddr = overlay.Bench.MetricsAddr
	}

	return base
}

// Validate checks a fully merged config.
func Validate(cfg Config) error {
	if cfg.QueuePath == "" {
		return ErrQueuePathEmpty
	}

	if cfg.RegionSize <= 0 || cfg.RegionSize%mapped.RegionSizeMultiple != 0 {
		return fmt.Errorf("%w: %d", ErrRegionSizeInvalid, cfg.RegionSize)
	}

	_, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrLogLevelInvalid, cfg.LogLevel)
	}

	switch cfg.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("%w: %q", ErrLogFormatInvalid, cfg.LogFormat)
	}

	b := cfg.Bench
	if b.Messages <= 0 || b.Warmup < 0 || b.Rate < 0 || b.MessageSize < 0 {
		return fmt.Errorf("%w: messages=%d warmup=%d rate=%d message_size=%d",
			ErrBenchInvalid, b.Messages, b.Warmup, b.Rate, b.MessageSize)
	}

	return nil
}

// Format renders cfg as JSON for print-config.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

// NewLogger builds the logger described by cfg. The caller sets the output.
func NewLogger(cfg Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrLogLevelInvalid, cfg.LogLevel)
	}

	logger := logrus.New()
	logger.SetLevel(level)

	if cfg.LogFormat == LogFormatJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger, nil
}
