// Package config provides configuration management for the auto-editor agent.
// Values come from built-in defaults, an optional TOML file and environment
// variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/autoedit/autoedit-agent/internal/editor"
	"github.com/autoedit/autoedit-agent/internal/export"
)

const (
	// Default values
	DefaultPort      = 8788
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultDataDir   = ".autoedit"
	DefaultOutputDir = "AutoEditorOutput"
	DefaultModule    = "auto_editor"

	// Environment variable names
	EnvPort           = "AUTOEDIT_PORT"
	EnvLogLevel       = "AUTOEDIT_LOG_LEVEL"
	EnvLogFormat      = "AUTOEDIT_LOG_FORMAT"
	EnvDataDir        = "AUTOEDIT_DATA_DIR"
	EnvOutputDir      = "AUTOEDIT_OUTPUT_DIR"
	EnvInboxDir       = "AUTOEDIT_INBOX_DIR"
	EnvPython         = "AUTOEDIT_PYTHON"
	EnvModule         = "AUTOEDIT_MODULE"
	EnvToolBin        = "AUTOEDIT_TOOL_BIN"
	EnvProcessTimeout = "AUTOEDIT_PROCESS_TIMEOUT"
	EnvHeadless       = "AUTOEDIT_HEADLESS"

	// Files inside the data directory
	DBFilename     = "autoedit.db"
	ConfigFilename = "config.toml"
	LockFilename   = "agent.lock"

	DefaultProbeTimeout = 30 * time.Second
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	LockPath() string
	OutputDir() string
	ImportDir() string
	InboxDir() string
	PythonPath() string
	ModuleName() string
	ToolPath() string
	ProcessTimeout() time.Duration
	ProbeTimeout() time.Duration
	Headless() bool
	EditDefaults() editor.EditParameters
}

// EnvConfig reads configuration from the environment and an optional file.
type EnvConfig struct {
	port      int
	logLevel  string
	logFormat string
	dataDir   string
	outputDir string
	inboxDir  string
	headless  bool
	timeout   time.Duration

	python  string
	module  string
	toolBin string

	edit editor.EditParameters

	// configFile is the file that was read, empty when none was found.
	configFile string
}

type fileConfig struct {
	Port           int         `toml:"port"`
	LogLevel       string      `toml:"log_level"`
	LogFormat      string      `toml:"log_format"`
	OutputDir      string      `toml:"output_dir"`
	InboxDir       string      `toml:"inbox_dir"`
	Python         string      `toml:"python"`
	Module         string      `toml:"module"`
	ToolBin        string      `toml:"tool_bin"`
	ProcessTimeout string      `toml:"process_timeout"`
	Headless       *bool       `toml:"headless"`
	Edit           editSection `toml:"edit"`
}

type editSection struct {
	LoudnessDB    *float64 `toml:"loudness_db"`
	MarginSeconds *float64 `toml:"margin_seconds"`
	ExportFormat  string   `toml:"export_format"`
	Stats         *bool    `toml:"stats"`
}

// New loads configuration using the default config file location.
func New() (*EnvConfig, error) {
	return Load("")
}

// Load builds the configuration. A .env file in the working directory is
// loaded first without overriding variables already set. path names a TOML
// file; when empty, <data_dir>/config.toml is used if it exists.
func Load(path string) (*EnvConfig, error) {
	_ = godotenv.Load()

	cfg := &EnvConfig{
		port:      DefaultPort,
		logLevel:  DefaultLogLevel,
		logFormat: DefaultLogFormat,
		dataDir:   defaultDataDir(),
		edit:      editor.DefaultParameters().WithStats(),
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		dir, err := expandPath(dd)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvDataDir, err)
		}
		cfg.dataDir = dir
	}

	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) applyFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(c.dataDir, ConfigFilename)
	}
	path, err := expandPath(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.configFile = path

	if fc.Port != 0 {
		if err := validPort(fc.Port); err != nil {
			return fmt.Errorf("invalid port in %s: %w", path, err)
		}
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.LogFormat != "" {
		c.logFormat = fc.LogFormat
	}
	if c.outputDir, err = expandPath(fc.OutputDir); err != nil {
		return err
	}
	if c.inboxDir, err = expandPath(fc.InboxDir); err != nil {
		return err
	}
	c.python = fc.Python
	c.module = fc.Module
	c.toolBin = fc.ToolBin
	if fc.ProcessTimeout != "" {
		if c.timeout, err = parseTimeout(fc.ProcessTimeout); err != nil {
			return fmt.Errorf("invalid process_timeout in %s: %w", path, err)
		}
	}
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}

	if fc.Edit.LoudnessDB != nil {
		c.edit.LoudnessDB = *fc.Edit.LoudnessDB
	}
	if fc.Edit.MarginSeconds != nil {
		c.edit.MarginSeconds = *fc.Edit.MarginSeconds
	}
	if fc.Edit.ExportFormat != "" {
		f, err := export.ParseFormat(fc.Edit.ExportFormat)
		if err != nil {
			return fmt.Errorf("invalid edit.export_format in %s: %w", path, err)
		}
		c.edit.ExportFormat = f
	}
	if fc.Edit.Stats != nil {
		c.edit.StatsRequested = *fc.Edit.Stats
	}
	return nil
}

func (c *EnvConfig) applyEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if err := validPort(port); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}
	if lf := os.Getenv(EnvLogFormat); lf != "" {
		c.logFormat = lf
	}

	var err error
	if v := os.Getenv(EnvOutputDir); v != "" {
		if c.outputDir, err = expandPath(v); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvOutputDir, err)
		}
	}
	if v := os.Getenv(EnvInboxDir); v != "" {
		if c.inboxDir, err = expandPath(v); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvInboxDir, err)
		}
	}

	if v := os.Getenv(EnvPython); v != "" {
		c.python = v
	}
	if v := os.Getenv(EnvModule); v != "" {
		c.module = v
	}
	if v := os.Getenv(EnvToolBin); v != "" {
		c.toolBin = v
	}

	if v := os.Getenv(EnvProcessTimeout); v != "" {
		if c.timeout, err = parseTimeout(v); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvProcessTimeout, err)
		}
	}
	if v := os.Getenv(EnvHeadless); v != "" {
		h, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = h
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFormat returns json or text.
func (c *EnvConfig) LogFormat() string {
	return c.logFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// LockPath is the single-instance lock file.
func (c *EnvConfig) LockPath() string {
	return filepath.Join(c.dataDir, LockFilename)
}

// OutputDir returns the default output root for edited files.
func (c *EnvConfig) OutputDir() string {
	if c.outputDir != "" {
		return c.outputDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(c.dataDir, "output")
	}
	return filepath.Join(home, DefaultOutputDir)
}

// ImportDir holds copies of files submitted with import enabled.
func (c *EnvConfig) ImportDir() string {
	return filepath.Join(c.dataDir, "import")
}

// InboxDir is the watched folder, empty when disabled.
func (c *EnvConfig) InboxDir() string {
	return c.inboxDir
}

func (c *EnvConfig) PythonPath() string {
	return c.python
}

func (c *EnvConfig) ModuleName() string {
	if c.module != "" {
		return c.module
	}
	return DefaultModule
}

func (c *EnvConfig) ToolPath() string {
	return c.toolBin
}

// ProcessTimeout bounds a single tool run. Zero means no limit.
func (c *EnvConfig) ProcessTimeout() time.Duration {
	return c.timeout
}

func (c *EnvConfig) ProbeTimeout() time.Duration {
	return DefaultProbeTimeout
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// EditDefaults are the parameters used when a request leaves them out.
func (c *EnvConfig) EditDefaults() editor.EditParameters {
	return c.edit
}

// ConfigFile returns the TOML file that was read, if any.
func (c *EnvConfig) ConfigFile() string {
	return c.configFile
}

func validPort(port int) error {
	if port < 1 || port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	return nil
}

// parseTimeout accepts a Go duration ("90s", "15m") or a number of seconds.
func parseTimeout(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, errors.New("must not be negative")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}

func expandPath(p string) (string, error) {
	if p == "" || !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if p == "~" {
		return home, nil
	}
	if p[1] == '/' || p[1] == '\\' {
		return filepath.Join(home, p[2:]), nil
	}
	return p, nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
