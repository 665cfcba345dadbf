// Package config manages CLI configuration and state persistence
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// ConfigDirName is the name of the config directory
	ConfigDirName = ".fabdeck"
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"

	// DefaultServerURL is the backend used when nothing is configured
	DefaultServerURL = "http://localhost:3000"

	// Environment overrides, also read from .env files
	EnvServer  = "FABDECK_SERVER"
	EnvToken   = "FABDECK_TOKEN"
	EnvVerbose = "FABDECK_VERBOSE"
)

// Config holds the CLI configuration
type Config struct {
	// ServerURL is the base URL of the printer backend
	ServerURL string `json:"server_url"`
	// Verbose enables verbose logging
	Verbose bool `json:"verbose"`
	// RollbackOnFailure restores the previous printer when a switch fails
	RollbackOnFailure bool `json:"rollback_on_failure"`
	// Auth holds the remembered session token
	Auth *AuthConfig `json:"auth,omitempty"`
}

// AuthConfig holds authentication state
type AuthConfig struct {
	Token   string    `json:"token"`
	SavedAt time.Time `json:"saved_at"`
}

// Token returns the stored token, or ""
func (c *Config) Token() string {
	if c.Auth == nil {
		return ""
	}
	return c.Auth.Token
}

// Paths holds commonly used paths
type Paths struct {
	// ConfigDir is ~/.fabdeck
	ConfigDir string
	// ConfigFile is ~/.fabdeck/config.json
	ConfigFile string
	// LayoutsDir is ~/.fabdeck/layouts
	LayoutsDir string
	// EnvFile is ~/.fabdeck/.env
	EnvFile string
}

// GetPaths returns the standard paths under the user's home directory
func GetPaths() (*Paths, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return PathsIn(homeDir), nil
}

// PathsIn returns the standard paths rooted at home
func PathsIn(home string) *Paths {
	return PathsAt(filepath.Join(home, ConfigDirName))
}

// PathsAt returns the paths for an explicit config directory
func PathsAt(configDir string) *Paths {
	return &Paths{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, ConfigFileName),
		LayoutsDir: filepath.Join(configDir, "layouts"),
		EnvFile:    filepath.Join(configDir, ".env"),
	}
}

// EnsureDirectories creates all required directories
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.ConfigDir, p.LayoutsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Default returns a new Config with default values
func Default() *Config {
	return &Config{
		ServerURL: DefaultServerURL,
	}
}

// LoadFrom loads configuration from paths, returning defaults when the
// file does not exist yet
func LoadFrom(paths *Paths) (*Config, error) {
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(paths.ConfigFile)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.ServerURL == "" {
		config.ServerURL = DefaultServerURL
	}
	return config, nil
}

// Save writes the configuration to paths
func (c *Config) Save(paths *Paths) error {
	if err := os.MkdirAll(filepath.Dir(paths.ConfigFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(paths.ConfigFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SetToken remembers a session token and saves
func (c *Config) SetToken(paths *Paths, token string) error {
	c.Auth = &AuthConfig{Token: token, SavedAt: time.Now()}
	return c.Save(paths)
}

// ClearAuth forgets the session token and saves
func (c *Config) ClearAuth(paths *Paths) error {
	c.Auth = nil
	return c.Save(paths)
}

// ApplyEnv overlays settings from .env files and the process environment.
// Files are read in order, later files win; a set process variable wins
// over every file. Missing files are skipped.
func (c *Config) ApplyEnv(envFiles ...string) error {
	vars := make(map[string]string)
	for _, file := range envFiles {
		values, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		for k, v := range values {
			vars[k] = v
		}
	}
	for _, key := range []string{EnvServer, EnvToken, EnvVerbose} {
		if v := os.Getenv(key); v != "" {
			vars[key] = v
		}
	}

	if v := strings.TrimSpace(vars[EnvServer]); v != "" {
		c.ServerURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(vars[EnvToken]); v != "" {
		c.Auth = &AuthConfig{Token: v}
	}
	if v := strings.TrimSpace(vars[EnvVerbose]); v != "" {
		verbose, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvVerbose, v, err)
		}
		c.Verbose = verbose
	}
	return nil
}
