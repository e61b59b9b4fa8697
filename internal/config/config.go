package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/soundscape-lab/soundscape/internal/errs"
	"github.com/soundscape-lab/soundscape/internal/window"
	"github.com/soundscape-lab/soundscape/pkg/log"
)

// Config holds all application configuration.
// Command-line flags override environment variables through Options.
//
// Environment Variables:
// Input/Output:
// - SOUNDSCAPE_INPUT_DIR: directory scanned recursively for recordings (required)
// - SOUNDSCAPE_EXTENSIONS: comma-separated audio extensions (default: .wav)
// - SOUNDSCAPE_OUTPUT_DIR: checkpoint, report and plot directory (default: output)
// - SOUNDSCAPE_SAVE_PLOTS: yes/no (default: no)
//
// Windows:
// - SOUNDSCAPE_WINDOW_SIZE: window length in seconds (default: 3.0)
// - SOUNDSCAPE_WINDOW_BOUNDARY: inclusive/partition (default: inclusive)
// - SOUNDSCAPE_CONFIDENCE_THRESHOLD: minimum detail row confidence (optional)
//
// Classifier:
// - SOUNDSCAPE_MODELS_DIR: directory holding <model>/network_opts.yaml (default: tf_models)
// - CLASSIFIER_URL: model server endpoint (default: http://localhost:8501)
// - CLASSIFIER_TIMEOUT: request timeout in seconds (default: 300)
//
// System:
// - SOUNDSCAPE_SCHEDULE: cron expression for periodic re-runs (optional)
// - LOG_LEVEL: debug/info/warn/error (default: info)
// - LOG_FILE: also write logs to this file (optional)
type Config struct {
	Input      InputConfig      `json:"input"`
	Output     OutputConfig     `json:"output"`
	Window     WindowConfig     `json:"window"`
	Classifier ClassifierConfig `json:"classifier"`
	System     SystemConfig     `json:"system"`
}

// EnvVar documents one environment variable for help output.
type EnvVar struct {
	Name    string
	Default string
	Help    string
}

// Environment lists the variables NewFromEnv reads.
var Environment = []EnvVar{
	{Name: "SOUNDSCAPE_INPUT_DIR", Help: "Directory scanned for recordings"},
	{Name: "SOUNDSCAPE_EXTENSIONS", Default: ".wav", Help: "Comma-separated audio extensions"},
	{Name: "SOUNDSCAPE_OUTPUT_DIR", Default: "output", Help: "Checkpoint, report and plot directory"},
	{Name: "SOUNDSCAPE_SAVE_PLOTS", Default: "no", Help: "Save prediction plots"},
	{Name: "SOUNDSCAPE_WINDOW_SIZE", Default: "3.0", Help: "Window length in seconds"},
	{Name: "SOUNDSCAPE_WINDOW_BOUNDARY", Default: "inclusive", Help: "Frame assignment at window edges"},
	{Name: "SOUNDSCAPE_CONFIDENCE_THRESHOLD", Help: "Minimum detail row confidence"},
	{Name: "SOUNDSCAPE_MODELS_DIR", Default: "tf_models", Help: "Model options and weights"},
	{Name: "CLASSIFIER_URL", Default: "http://localhost:8501", Help: "Model server endpoint"},
	{Name: "CLASSIFIER_TIMEOUT", Default: "300", Help: "Request timeout in seconds"},
	{Name: "SOUNDSCAPE_SCHEDULE", Help: "Cron expression for periodic re-runs"},
	{Name: "LOG_LEVEL", Default: "info", Help: "debug, info, warn or error"},
	{Name: "LOG_FILE", Help: "Also write logs to this file"},
}

type InputConfig struct {
	Dir        string   `json:"dir"`
	Extensions []string `json:"extensions"`
}

type OutputConfig struct {
	Dir       string `json:"dir"`
	SavePlots bool   `json:"save_plots"`
}

type WindowConfig struct {
	Size     float64 `json:"size"`
	Boundary string  `json:"boundary"`
	// Threshold is nil when every detail row is kept.
	Threshold *float64 `json:"threshold,omitempty"`
}

func (c WindowConfig) BoundaryMode() window.Boundary {
	b, _ := window.ParseBoundary(c.Boundary)
	return b
}

type ClassifierConfig struct {
	ModelsDir string `json:"models_dir"`
	URL       string `json:"url"`
	Timeout   int    `json:"timeout"`
}

type SystemConfig struct {
	CronExpr string `json:"cron_expr"`
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
}

// Option is a function type for configuring Config
type Option func(*Config)

func WithInputDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.Input.Dir = dir
		}
	}
}

func WithOutputDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.Output.Dir = dir
		}
	}
}

func WithSavePlots(save bool) Option {
	return func(c *Config) {
		c.Output.SavePlots = save
	}
}

func WithWindowSize(seconds float64) Option {
	return func(c *Config) {
		c.Window.Size = seconds
	}
}

func WithBoundary(boundary string) Option {
	return func(c *Config) {
		if boundary != "" {
			c.Window.Boundary = boundary
		}
	}
}

func WithThreshold(threshold float64) Option {
	return func(c *Config) {
		c.Window.Threshold = &threshold
	}
}

func WithModelsDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.Classifier.ModelsDir = dir
		}
	}
}

func WithClassifierURL(url string) Option {
	return func(c *Config) {
		if url != "" {
			c.Classifier.URL = url
		}
	}
}

func WithSchedule(expr string) Option {
	return func(c *Config) {
		if expr != "" {
			c.System.CronExpr = expr
		}
	}
}

func WithLogLevel(level string) Option {
	return func(c *Config) {
		if level != "" {
			c.System.LogLevel = level
		}
	}
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding the real environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return errs.Wrap(err, errs.ErrConfig, "load env file").WithContext("path", p)
		}
	}
	return nil
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Input: InputConfig{
			Dir:        getEnvString("SOUNDSCAPE_INPUT_DIR", ""),
			Extensions: getEnvList("SOUNDSCAPE_EXTENSIONS", []string{".wav"}),
		},
		Output: OutputConfig{
			Dir:       getEnvString("SOUNDSCAPE_OUTPUT_DIR", "output"),
			SavePlots: getEnvBool("SOUNDSCAPE_SAVE_PLOTS", false),
		},
		Window: WindowConfig{
			Size:      getEnvFloat("SOUNDSCAPE_WINDOW_SIZE", 3.0),
			Boundary:  getEnvString("SOUNDSCAPE_WINDOW_BOUNDARY", window.Inclusive.String()),
			Threshold: getEnvOptionalFloat("SOUNDSCAPE_CONFIDENCE_THRESHOLD"),
		},
		Classifier: ClassifierConfig{
			ModelsDir: getEnvString("SOUNDSCAPE_MODELS_DIR", "tf_models"),
			URL:       getEnvString("CLASSIFIER_URL", "http://localhost:8501"),
			Timeout:   getEnvInt("CLASSIFIER_TIMEOUT", 300),
		},
		System: SystemConfig{
			CronExpr: getEnvString("SOUNDSCAPE_SCHEDULE", ""),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
			LogFile:  getEnvString("LOG_FILE", ""),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	log.Debug("Config: %+v", *config)

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	fail := func(format string, args ...any) error {
		return errs.New(errs.ErrConfig, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(c.Input.Dir) == "" {
		return fail("input directory is required")
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		return fail("output directory is required")
	}
	if len(c.Input.Extensions) == 0 {
		return fail("at least one audio extension is required")
	}
	if math.IsNaN(c.Window.Size) || math.IsInf(c.Window.Size, 0) || c.Window.Size <= 0 {
		return fail("window size must be a positive number of seconds, got %v", c.Window.Size)
	}
	if _, err := window.ParseBoundary(c.Window.Boundary); err != nil {
		return errs.Wrap(err, errs.ErrConfig, "invalid window boundary")
	}
	if t := c.Window.Threshold; t != nil && (math.IsNaN(*t) || *t < 0 || *t > 1) {
		return fail("confidence threshold must be within [0,1], got %v", *t)
	}
	if c.Classifier.Timeout <= 0 {
		return fail("classifier timeout must be positive, got %d", c.Classifier.Timeout)
	}
	if c.System.CronExpr != "" {
		if _, err := cron.ParseStandard(c.System.CronExpr); err != nil {
			return errs.Wrap(err, errs.ErrConfig, "invalid schedule").WithContext("expr", c.System.CronExpr)
		}
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvOptionalFloat(key string) *float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return &floatValue
		}
	}
	return nil
}

// getEnvBool accepts yes/no in addition to strconv.ParseBool forms.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if b, ok := ParseYesNo(value); ok {
		return b
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var ret []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			ret = append(ret, item)
		}
	}
	return ret
}

// ParseYesNo parses "yes"/"no" and the strconv.ParseBool forms.
func ParseYesNo(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y":
		return true, true
	case "no", "n":
		return false, true
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, false
	}
	return b, true
}
