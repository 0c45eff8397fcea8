package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	LibraryPaths   []string `yaml:"library_paths"   json:"library_paths"`
	IgnorePatterns []string `yaml:"ignore_patterns" json:"ignore_patterns"`
	CacheDir       string   `yaml:"cache_dir"       json:"-"`
	DBPath         string   `yaml:"db_path"         json:"-"`
	HTTPAddr       string   `yaml:"http_addr"       json:"-"`

	// Schedule is the cron expression for nightly maintenance (orphan
	// sweep, hash backfill, cache cleanup).
	Schedule string `yaml:"schedule" json:"schedule"`

	// MinFileSize filters out thumbnails and sidecar junk during indexing.
	MinFileSize int64 `yaml:"min_file_size" json:"min_file_size"`

	// TrashDir holds discarded files until their retention window passes.
	TrashDir           string `yaml:"trash_dir"            json:"-"`
	TrashRetentionDays int    `yaml:"trash_retention_days" json:"trash_retention_days"`

	Thumbnail ImageSize `yaml:"thumbnail" json:"thumbnail"`
	Preview   ImageSize `yaml:"preview"   json:"preview"`

	Engine EngineConfig `yaml:"engine" json:"engine"`

	// WatchPaths enables filesystem watching; empty means watch LibraryPaths.
	WatchPaths []string `yaml:"watch_paths" json:"watch_paths"`
	WatchOff   bool     `yaml:"watch_off"   json:"watch_off"`

	LogLevel string `yaml:"log_level" json:"-"`
}

// ImageSize bounds a generated image; aspect ratio is always preserved.
type ImageSize struct {
	MaxWidth  int `yaml:"max_width"  json:"max_width"`
	MaxHeight int `yaml:"max_height" json:"max_height"`
}

// EngineConfig holds the work scheduler knobs.
type EngineConfig struct {
	Workers            int `yaml:"workers"             json:"workers"`
	NotificationBuffer int `yaml:"notification_buffer" json:"notification_buffer"`
	// BackpressureDepth is the queue depth beyond which discovery jobs are
	// throttled to background priority.
	BackpressureDepth int `yaml:"backpressure_depth" json:"backpressure_depth"`
	// BatchSize bounds one discovery slice.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = "/data/cache"
	}
	if c.DBPath == "" {
		c.DBPath = "/data/warren.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.Schedule == "" {
		c.Schedule = "0 3 * * *"
	}
	if c.MinFileSize == 0 {
		c.MinFileSize = 16 * 1024
	}
	if c.TrashDir == "" {
		c.TrashDir = "/data/trash"
	}
	if c.TrashRetentionDays == 0 {
		c.TrashRetentionDays = 30
	}
	if c.Thumbnail.MaxWidth == 0 {
		c.Thumbnail.MaxWidth = 320
	}
	if c.Thumbnail.MaxHeight == 0 {
		c.Thumbnail.MaxHeight = 320
	}
	if c.Preview.MaxWidth == 0 {
		c.Preview.MaxWidth = 1920
	}
	if c.Preview.MaxHeight == 0 {
		c.Preview.MaxHeight = 1200
	}
	if c.Engine.Workers == 0 {
		c.Engine.Workers = 4
	}
	if c.Engine.NotificationBuffer == 0 {
		c.Engine.NotificationBuffer = 5000
	}
	if c.Engine.BackpressureDepth == 0 {
		c.Engine.BackpressureDepth = 1000
	}
	if c.Engine.BatchSize == 0 {
		c.Engine.BatchSize = 200
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.WatchPaths) == 0 {
		c.WatchPaths = c.LibraryPaths
	}
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so the daemon
// can start without a mounted config file (useful for bare Docker runs).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		var cfg Config
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}
