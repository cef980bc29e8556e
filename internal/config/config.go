// Package config loads the dxscan configuration.
//
// Sources are applied in order, later ones winning: built-in defaults, a
// YAML file, a .env file, DXSCAN_* environment variables and finally
// command-line flags (applied by the caller). The result is validated
// before use.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan"
	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/gstcam"
	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/prefs"
	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/server"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "DXSCAN_"

// Config is the complete dxscan configuration
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Prefs    PrefsConfig    `yaml:"prefs"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// CameraConfig configures capture
type CameraConfig struct {
	Source    string `yaml:"source" validate:"oneof=v4l2src videotestsrc"`
	Width     int    `yaml:"width" validate:"min=16,max=7680"`
	Height    int    `yaml:"height" validate:"min=16,max=4320"`
	FPS       int    `yaml:"fps" validate:"min=0,max=120"`
	SysfsRoot string `yaml:"sysfs_root"`
}

// ScannerConfig configures the controller
type ScannerConfig struct {
	CanvasWidth   int           `yaml:"canvas_width" validate:"min=1"`
	CanvasHeight  int           `yaml:"canvas_height" validate:"min=1"`
	TickRate      float64       `yaml:"tick_rate" validate:"gte=1,lte=120"`
	Format        string        `yaml:"format"`
	TryHarder     bool          `yaml:"try_harder"`
	GateCooldown  time.Duration `yaml:"gate_cooldown" validate:"gt=0"`
	NavigateDelay time.Duration `yaml:"navigate_delay" validate:"gte=0"`
	ResumeWindow  time.Duration `yaml:"resume_window" validate:"gte=0"`
	SearchPath    string        `yaml:"search_path" validate:"required"`
	// Navigator is "page" (websocket push), "browser" or "log"
	Navigator string `yaml:"navigator" validate:"oneof=page browser log"`
	// BaseURL resolves search links for the browser navigator
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr           string        `yaml:"addr" validate:"required"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`
	RateLimit      float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst      int           `yaml:"rate_burst" validate:"gte=0"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	// File enables a rotating log file in addition to stdout
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
}

// PrefsConfig selects the preference stores
type PrefsConfig struct {
	// SQLitePath holds the durable preferences; empty keeps them in memory
	SQLitePath string `yaml:"sqlite_path"`
	// Redis holds the session preferences when Addr is set
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the session store
type RedisConfig struct {
	Addr     string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	Session  string        `yaml:"session"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

// SnapshotConfig configures detection snapshots
type SnapshotConfig struct {
	// Dir enables snapshots when set
	Dir         string `yaml:"dir"`
	Format      string `yaml:"format" validate:"oneof=png jpeg"`
	JPEGQuality int    `yaml:"jpeg_quality" validate:"min=1,max=100"`
}

// Default returns the built-in configuration
func Default() Config {
	sc := dxscan.DefaultConfig()
	return Config{
		Camera: CameraConfig{
			Source: "v4l2src",
			Width:  640,
			Height: 480,
		},
		Scanner: ScannerConfig{
			CanvasWidth:   sc.CanvasWidth,
			CanvasHeight:  sc.CanvasHeight,
			TickRate:      sc.TickRate,
			TryHarder:     sc.TryHarder,
			GateCooldown:  sc.GateCooldown,
			NavigateDelay: sc.NavigateDelay,
			ResumeWindow:  sc.ResumeWindow,
			SearchPath:    sc.SearchPath,
			Navigator:     "page",
			BaseURL:       "http://localhost:8000/",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: 10 * time.Second,
			RateLimit:      20,
			RateBurst:      40,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Prefs: PrefsConfig{
			Redis: RedisConfig{TTL: sc.ResumeWindow},
		},
		Snapshot: SnapshotConfig{
			Format:      "png",
			JPEGQuality: 90,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path
// (optional), the .env file at envFile (ignored if missing) and the
// process environment.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from DXSCAN_* variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, o := range c.envOverrides() {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.set(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, o.name, err)
		}
	}
	return nil
}

type envOverride struct {
	name string
	set  func(string) error
}

func (c *Config) envOverrides() []envOverride {
	return []envOverride{
		{"CAMERA_SOURCE", setString(&c.Camera.Source)},
		{"CAMERA_WIDTH", setInt(&c.Camera.Width)},
		{"CAMERA_HEIGHT", setInt(&c.Camera.Height)},
		{"CAMERA_FPS", setInt(&c.Camera.FPS)},
		{"CAMERA_SYSFS_ROOT", setString(&c.Camera.SysfsRoot)},
		{"SCANNER_TICK_RATE", setFloat(&c.Scanner.TickRate)},
		{"SCANNER_FORMAT", setString(&c.Scanner.Format)},
		{"SCANNER_TRY_HARDER", setBool(&c.Scanner.TryHarder)},
		{"SCANNER_GATE_COOLDOWN", setDuration(&c.Scanner.GateCooldown)},
		{"SCANNER_NAVIGATE_DELAY", setDuration(&c.Scanner.NavigateDelay)},
		{"SCANNER_RESUME_WINDOW", setDuration(&c.Scanner.ResumeWindow)},
		{"SCANNER_SEARCH_PATH", setString(&c.Scanner.SearchPath)},
		{"SCANNER_NAVIGATOR", setString(&c.Scanner.Navigator)},
		{"SCANNER_BASE_URL", setString(&c.Scanner.BaseURL)},
		{"SERVER_ADDR", setString(&c.Server.Addr)},
		{"SERVER_RATE_LIMIT", setFloat(&c.Server.RateLimit)},
		{"SERVER_RATE_BURST", setInt(&c.Server.RateBurst)},
		{"LOG_LEVEL", setString(&c.Log.Level)},
		{"LOG_JSON", setBool(&c.Log.JSON)},
		{"LOG_FILE", setString(&c.Log.File)},
		{"PREFS_SQLITE_PATH", setString(&c.Prefs.SQLitePath)},
		{"REDIS_ADDR", setString(&c.Prefs.Redis.Addr)},
		{"REDIS_PASSWORD", setString(&c.Prefs.Redis.Password)},
		{"REDIS_DB", setInt(&c.Prefs.Redis.DB)},
		{"REDIS_SESSION", setString(&c.Prefs.Redis.Session)},
		{"SNAPSHOT_DIR", setString(&c.Snapshot.Dir)},
		{"SNAPSHOT_FORMAT", setString(&c.Snapshot.Format)},
	}
}

func setString(p *string) func(string) error {
	return func(v string) error { *p = v; return nil }
}

func setInt(p *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
}

func setFloat(p *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*p = f
		return nil
	}
}

func setBool(p *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*p = b
		return nil
	}
}

func setDuration(p *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*p = d
		return nil
	}
}

var validate = validator.New()

// Validate checks every field constraint and reports all failures at once
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q (value %v)", fe.Namespace(), fe.ActualTag(), fe.Value()))
	}
	return fmt.Errorf("config: invalid configuration: %s", strings.Join(msgs, "; "))
}

// ToController converts the scanner section for dxscan.New
func (c Config) ToController() dxscan.Config {
	cfg := dxscan.DefaultConfig()
	cfg.CanvasWidth = c.Scanner.CanvasWidth
	cfg.CanvasHeight = c.Scanner.CanvasHeight
	cfg.TickRate = c.Scanner.TickRate
	cfg.Format = c.Scanner.Format
	cfg.TryHarder = c.Scanner.TryHarder
	cfg.GateCooldown = c.Scanner.GateCooldown
	cfg.NavigateDelay = c.Scanner.NavigateDelay
	cfg.ResumeWindow = c.Scanner.ResumeWindow
	cfg.SearchPath = c.Scanner.SearchPath
	return cfg
}

// ToCamera converts the camera section for gstcam.NewPlatform
func (c Config) ToCamera() gstcam.Config {
	return gstcam.Config{
		Source:    c.Camera.Source,
		Width:     c.Camera.Width,
		Height:    c.Camera.Height,
		FPS:       c.Camera.FPS,
		SysfsRoot: c.Camera.SysfsRoot,
	}
}

// ToServer converts the server section for server.New
func (c Config) ToServer() server.Config {
	return server.Config{
		Addr:           c.Server.Addr,
		RequestTimeout: c.Server.RequestTimeout,
		RateLimit:      c.Server.RateLimit,
		RateBurst:      c.Server.RateBurst,
	}
}

// ToRedis converts the session store section for prefs.NewRedisStore
func (c Config) ToRedis() prefs.RedisConfig {
	return prefs.RedisConfig{
		Addr:     c.Prefs.Redis.Addr,
		Password: c.Prefs.Redis.Password,
		DB:       c.Prefs.Redis.DB,
		Session:  c.Prefs.Redis.Session,
		TTL:      c.Prefs.Redis.TTL,
	}
}

// ToSnapshot converts the snapshot section for dxscan.NewSnapshotSaver
func (c Config) ToSnapshot() dxscan.SnapshotConfig {
	return dxscan.SnapshotConfig{
		Dir:         c.Snapshot.Dir,
		Format:      c.Snapshot.Format,
		JPEGQuality: c.Snapshot.JPEGQuality,
	}
}
