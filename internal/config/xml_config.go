// Package config provides XML-based configuration for the ChemData client.
package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// DefaultFileName is the config file created next to the executable on first run.
const DefaultFileName = "chemviz.config"

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"ChemDataVisualizer"`

	// Backend API configuration
	API APIConfig `xml:"API"`

	// Credential persistence
	Session SessionConfig `xml:"Session"`

	// Local UI server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Upload pre-flight configuration
	Upload UploadConfig `xml:"Upload"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// APIConfig describes the backend the client talks to.
type APIConfig struct {
	BaseURL        string `xml:"BaseURL"`
	TimeoutSeconds int    `xml:"TimeoutSeconds"` // 0 disables the client-side timeout
	DatasetScope   string `xml:"DatasetScope"`   // "mine" or "global"
}

// SessionConfig selects where the credential is persisted.
type SessionConfig struct {
	Backend        string `xml:"Backend"` // "file", "memory" or "redis"
	CredentialFile string `xml:"CredentialFile"`
	CredentialKey  string `xml:"CredentialKey"`
	RedisAddr      string `xml:"RedisAddr"`
	RedisDB        int    `xml:"RedisDB"`
}

// ServerConfig contains local UI server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
}

// StorageConfig contains local file settings
type StorageConfig struct {
	DataDirectory      string `xml:"DataDirectory"`
	DownloadsDirectory string `xml:"DownloadsDirectory"`
}

// UploadConfig controls the checks run before a dataset is sent.
type UploadConfig struct {
	ValidateCSV   bool   `xml:"ValidateCSV"`
	MaxUploadSize string `xml:"MaxUploadSize"`
}

// AdvancedConfig contains logging options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	LogFormat            string `xml:"LogFormat"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		API: APIConfig{
			BaseURL:        "http://127.0.0.1:8000/api/",
			TimeoutSeconds: 0,
			DatasetScope:   "mine",
		},
		Session: SessionConfig{
			Backend:        "file",
			CredentialFile: "./data/credentials",
			CredentialKey:  "token",
			RedisAddr:      "localhost:6379",
			RedisDB:        0,
		},
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "127.0.0.1",
			ReadTimeout:  30,
			WriteTimeout: 60,
			IdleTimeout:  120,
		},
		Storage: StorageConfig{
			DataDirectory:      "./data",
			DownloadsDirectory: "./data/downloads",
		},
		Upload: UploadConfig{
			ValidateCSV:   true,
			MaxUploadSize: "50MB",
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			LogFormat:            "console",
			EnableRequestLogging: true,
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadEnvFiles loads KEY=VALUE files into the process environment.
// Missing files are skipped; variables already set are not overwritten.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- ChemData Visualizer client configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks enumerated values and sizes.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("config: API.BaseURL is required")
	}
	switch c.API.DatasetScope {
	case "", "mine", "global":
	default:
		return fmt.Errorf("config: unknown API.DatasetScope %q", c.API.DatasetScope)
	}
	switch c.Session.Backend {
	case "file", "memory", "redis":
	default:
		return fmt.Errorf("config: unknown Session.Backend %q", c.Session.Backend)
	}
	if _, err := c.MaxUploadBytes(); err != nil {
		return err
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if apiURL := os.Getenv("CHEMVIZ_API_URL"); apiURL != "" {
		c.API.BaseURL = apiURL
	}

	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// CHEMVIZ_DATA_DIR moves every data path under a new root
	if dataDir := os.Getenv("CHEMVIZ_DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.DownloadsDirectory = filepath.Join(dataDir, "downloads")
		c.Session.CredentialFile = filepath.Join(dataDir, "credentials")
	}

	if backend := os.Getenv("CHEMVIZ_SESSION_BACKEND"); backend != "" {
		c.Session.Backend = backend
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Session.RedisAddr = addr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Advanced.LogFormat = format
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.DownloadsDirectory,
		&c.Session.CredentialFile,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// Timeout returns the API request timeout.
func (c *AppConfig) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// MaxUploadBytes parses Upload.MaxUploadSize. Zero means unlimited.
func (c *AppConfig) MaxUploadBytes() (int64, error) {
	if strings.TrimSpace(c.Upload.MaxUploadSize) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Upload.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("config: invalid Upload.MaxUploadSize %q: %w", c.Upload.MaxUploadSize, err)
	}
	return int64(n), nil
}

// GetServerAddr returns the local UI bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.DownloadsDirectory,
	}
	if c.Session.Backend == "file" {
		dirs = append(dirs, filepath.Dir(c.Session.CredentialFile))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
