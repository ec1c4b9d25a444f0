package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Host               string        `mapstructure:"host"`
	Port               string        `mapstructure:"port"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxRequestBodySize int64         `mapstructure:"max_request_body_size"`
	LogLevel           string        `mapstructure:"log_level"`

	Flow       FlowConfig       `mapstructure:"flow"`
	Sessions   SessionConfig    `mapstructure:"sessions"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cloudinary CloudinaryConfig `mapstructure:"cloudinary"`
	Azure      AzureConfig      `mapstructure:"azure"`
}

// FlowConfig holds the stage timings and result strategy
type FlowConfig struct {
	LoadingDuration      time.Duration `mapstructure:"loading_duration"`
	ConfirmationDuration time.Duration `mapstructure:"confirmation_duration"`
	UploadTimeout        time.Duration `mapstructure:"upload_timeout"`
	UploadWorkers        int           `mapstructure:"upload_workers"`
	UploadAttempts       uint          `mapstructure:"upload_attempts"`
	UploadRetryDelay     time.Duration `mapstructure:"upload_retry_delay"`
	MaxImageSize         int64         `mapstructure:"max_image_size"`
	ResultStrategy       string        `mapstructure:"result_strategy"`
	FixedPercentage      int           `mapstructure:"fixed_percentage"`
}

type SessionConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxSessions   int           `mapstructure:"max_sessions"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

type CloudinaryConfig struct {
	CloudName    string `mapstructure:"cloud_name"`
	UploadPreset string `mapstructure:"upload_preset"`
	Folder       string `mapstructure:"folder"`
	BaseURL      string `mapstructure:"base_url"`
}

type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Container   string `mapstructure:"container"`
	Folder      string `mapstructure:"folder"`
}

const (
	BackendCloudinary = "cloudinary"
	BackendAzure      = "azure"
	BackendNone       = "none"
)

// envBindings maps config keys to the environment variables that may set them.
// The first variable wins when several are set.
var envBindings = map[string][]string{
	"host":                       {"HOST"},
	"port":                       {"PORT"},
	"request_timeout":            {"REQUEST_TIMEOUT"},
	"max_request_body_size":      {"MAX_REQUEST_BODY_SIZE"},
	"log_level":                  {"LOG_LEVEL"},
	"flow.loading_duration":      {"LOADING_DURATION"},
	"flow.confirmation_duration": {"CONFIRMATION_DURATION"},
	"flow.upload_timeout":        {"UPLOAD_TIMEOUT"},
	"flow.upload_workers":        {"UPLOAD_WORKERS"},
	"flow.upload_attempts":       {"UPLOAD_ATTEMPTS"},
	"flow.upload_retry_delay":    {"UPLOAD_RETRY_DELAY"},
	"flow.max_image_size":        {"MAX_IMAGE_SIZE"},
	"flow.result_strategy":       {"RESULT_STRATEGY"},
	"flow.fixed_percentage":      {"FIXED_PERCENTAGE"},
	"sessions.ttl":               {"SESSION_TTL"},
	"sessions.sweep_interval":    {"SESSION_SWEEP_INTERVAL"},
	"sessions.max_sessions":      {"MAX_SESSIONS"},
	"storage.backend":            {"STORAGE_BACKEND"},
	"cloudinary.cloud_name":      {"CLOUDINARY_CLOUD_NAME", "VITE_CLOUDINARY_CLOUD_NAME"},
	"cloudinary.upload_preset":   {"CLOUDINARY_UPLOAD_PRESET", "VITE_CLOUDINARY_UPLOAD_PRESET"},
	"cloudinary.folder":          {"CLOUDINARY_FOLDER"},
	"cloudinary.base_url":        {"CLOUDINARY_BASE_URL"},
	"azure.account_name":         {"AZURE_STORAGE_ACCOUNT"},
	"azure.account_key":          {"AZURE_STORAGE_KEY"},
	"azure.container":            {"AZURE_STORAGE_CONTAINER"},
	"azure.folder":               {"AZURE_STORAGE_FOLDER"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", "8080")
	v.SetDefault("request_timeout", 30*time.Second)
	// a 10MB image grows by a third once base64 encoded
	v.SetDefault("max_request_body_size", int64(15*1024*1024))
	v.SetDefault("log_level", "info")

	v.SetDefault("flow.loading_duration", 8*time.Second)
	v.SetDefault("flow.confirmation_duration", 3*time.Second)
	v.SetDefault("flow.upload_timeout", 30*time.Second)
	v.SetDefault("flow.upload_workers", 4)
	v.SetDefault("flow.upload_attempts", 3)
	v.SetDefault("flow.upload_retry_delay", 500*time.Millisecond)
	v.SetDefault("flow.max_image_size", int64(10*1024*1024))
	v.SetDefault("flow.result_strategy", "random")
	v.SetDefault("flow.fixed_percentage", 50)

	v.SetDefault("sessions.ttl", 30*time.Minute)
	v.SetDefault("sessions.sweep_interval", time.Minute)
	v.SetDefault("sessions.max_sessions", 10000)

	v.SetDefault("storage.backend", BackendCloudinary)
	v.SetDefault("cloudinary.cloud_name", "")
	v.SetDefault("cloudinary.upload_preset", "")
	v.SetDefault("cloudinary.folder", "gaydar-uploads")
	v.SetDefault("cloudinary.base_url", "https://api.cloudinary.com")
	v.SetDefault("azure.account_name", "")
	v.SetDefault("azure.account_key", "")
	v.SetDefault("azure.container", "")
	v.SetDefault("azure.folder", "gaydar-uploads")
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// Validate checks ranges the rest of the service relies on
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 || c.Flow.LoadingDuration <= 0 || c.Flow.ConfirmationDuration <= 0 || c.Flow.UploadTimeout <= 0 {
		return fmt.Errorf("durations must be > 0 (got request=%s, loading=%s, confirmation=%s, upload=%s)",
			c.RequestTimeout, c.Flow.LoadingDuration, c.Flow.ConfirmationDuration, c.Flow.UploadTimeout)
	}
	if c.Flow.UploadWorkers <= 0 {
		return fmt.Errorf("UPLOAD_WORKERS must be > 0 (got %d)", c.Flow.UploadWorkers)
	}
	if c.Flow.UploadAttempts == 0 {
		return fmt.Errorf("UPLOAD_ATTEMPTS must be > 0")
	}
	if c.Flow.MaxImageSize <= 0 {
		return fmt.Errorf("MAX_IMAGE_SIZE must be > 0 (got %d)", c.Flow.MaxImageSize)
	}
	if encoded := c.Flow.MaxImageSize * 4 / 3; encoded > c.MaxRequestBodySize {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE (%d) cannot hold a base64 image of MAX_IMAGE_SIZE (%d)",
			c.MaxRequestBodySize, c.Flow.MaxImageSize)
	}
	switch c.Flow.ResultStrategy {
	case "random", "fixed":
	default:
		return fmt.Errorf("unknown RESULT_STRATEGY: %q", c.Flow.ResultStrategy)
	}
	if c.Flow.FixedPercentage < 0 || c.Flow.FixedPercentage > 100 {
		return fmt.Errorf("FIXED_PERCENTAGE must be within [0,100] (got %d)", c.Flow.FixedPercentage)
	}
	if c.Sessions.TTL <= 0 || c.Sessions.SweepInterval <= 0 {
		return fmt.Errorf("session durations must be > 0 (got ttl=%s, sweep=%s)", c.Sessions.TTL, c.Sessions.SweepInterval)
	}
	switch c.Storage.Backend {
	case BackendCloudinary, BackendAzure, BackendNone:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND: %q", c.Storage.Backend)
	}
	return nil
}

// Manager loads configuration and reloads it when the config file changes.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
}

// NewManager reads defaults, the optional config file and the environment.
// An explicit cfgFile must exist; otherwise ./config.yaml is used when present.
func NewManager(cfgFile string) (*Manager, error) {
	v := viper.New()
	setDefaults(v)
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	m := &Manager{v: v}
	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.config = cfg
	return m, nil
}

// Load returns a validated configuration
func Load(cfgFile string) (*Config, error) {
	m, err := NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	return m.Get(), nil
}

func (m *Manager) load() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.Flow.ResultStrategy = strings.ToLower(strings.TrimSpace(cfg.Flow.ResultStrategy))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// ConfigFile is the file in use, empty when running from defaults and environment only
func (m *Manager) ConfigFile() string {
	return m.v.ConfigFileUsed()
}

// OnChange registers a callback for config reloads
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// WatchConfig reloads the config file on change. Invalid edits are ignored.
func (m *Manager) WatchConfig() {
	if m.ConfigFile() == "" {
		return
	}
	m.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := m.load()
		if err != nil {
			return
		}

		m.mu.Lock()
		m.config = cfg
		callbacks := make([]func(*Config), len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	m.v.WatchConfig()
}
