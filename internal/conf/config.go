// config.go: settings struct and the functions to load and persist the
// SeaWatch-Go configuration.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings contains general application settings.
type MainSettings struct {
	Name string      // instance name, shown in logs and alert payloads
	Log  LogSettings // main log file settings
}

// LogSettings contains settings for a rotated log file.
type LogSettings struct {
	Enabled  bool   // true to enable this log
	Path     string // path to log file
	MaxSize  int    // maximum log file size in megabytes before rotation
	MaxAge   int    // maximum age of rotated log files in days
	MaxFiles int    // maximum number of rotated log files to keep
}

// WebServerSettings contains settings for the HTTP API server.
type WebServerSettings struct {
	Enabled bool   // true to enable the API server
	Port    string // port to listen on
	Debug   bool   // true to enable server debug logging
}

// HubSettings contains settings for the live distribution hub.
type HubSettings struct {
	QueueSize         int           // per-connection event queue depth
	HeartbeatInterval time.Duration // SSE heartbeat interval
	WriteTimeout      time.Duration // per-message write deadline
}

// ReplaySettings contains settings for mission replay sessions.
type ReplaySettings struct {
	IdleTimeout  time.Duration // sessions without a tick for this long are evicted
	DefaultSpeed float64       // speed multiplier applied to newly opened sessions
}

// EnrichmentSettings contains settings for the species enrichment cache.
type EnrichmentSettings struct {
	Provider       string        // species catalog provider, "oceanlife" or "none"
	Endpoint       string        // base URL of the catalog API
	ImageLimit     int           // images requested per species lookup
	SearchTimeout  time.Duration // timeout for the primary search call
	SuccessTTL     time.Duration // cache TTL for non-empty results
	EmptyTTL       time.Duration // cache TTL for empty results
	FailureTTL     time.Duration // cache TTL for failed lookups
	RequestsPerSec float64       // rate limit towards the catalog API
	Debug          bool          // true to enable enrichment debug logging
}

// MQTTSettings contains settings for the optional alert MQTT publisher.
type MQTTSettings struct {
	Enabled           bool          // true to enable alert publishing over MQTT
	Broker            string        // broker URI, e.g. tcp://localhost:1883
	Topic             string        // topic to publish alerts to
	Username          string        // broker username
	Password          string        // broker password
	MaxReconnectTries int           // reconnect attempts before giving up
	ReconnectDelay    time.Duration // initial reconnect backoff delay
}

// LiveClientSettings contains settings for the embedded live stream client.
type LiveClientSettings struct {
	MaxReconnectTries int           // reconnect attempts before terminal failure
	InitialBackoff    time.Duration // first reconnect delay, doubled per attempt
	MaxBackoff        time.Duration // upper bound for the reconnect delay
}

// SentrySettings contains settings for opt-in error telemetry.
type SentrySettings struct {
	Enabled bool   // true to enable Sentry error reporting (opt-in)
	DSN     string // Sentry project DSN
	Debug   bool   // true to enable telemetry debug logging
}

// SQLiteSettings contains SQLite database settings.
type SQLiteSettings struct {
	Enabled bool   // true to enable the SQLite store
	Path    string // path to the database file
}

// MySQLSettings contains MySQL database settings.
type MySQLSettings struct {
	Enabled  bool   // true to enable the MySQL store
	Username string // username for MySQL database
	Password string // password for MySQL database
	Database string // database name
	Host     string // host for MySQL database
	Port     string // port for MySQL database
}

// OutputSettings selects the persistence backend.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// Settings is the root configuration for the application.
type Settings struct {
	Debug bool // true to enable debug logging everywhere

	Version string `yaml:"-"` // build version, set at compile time

	Main       MainSettings
	WebServer  WebServerSettings
	Hub        HubSettings
	Replay     ReplaySettings
	Enrichment EnrichmentSettings
	MQTT       MQTTSettings
	LiveClient LiveClientSettings
	Sentry     SentrySettings
	Output     OutputSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment into a Settings instance
// and stores it as the active configuration.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	// Environment overrides, e.g. SEAWATCH_WEBSERVER_PORT=9090.
	viper.SetEnvPrefix("seawatch")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to the first
// default config path and re-reads it.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading embedded config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the active settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SetSettings replaces the active settings instance. Intended for tests.
func SetSettings(settings *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settingsInstance = settings
}

// GetDefaultConfigPaths returns the list of directories searched for config.yaml,
// in priority order.
func GetDefaultConfigPaths() ([]string, error) {
	var paths []string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "seawatch"))
	}

	home, err := os.UserHomeDir()
	if err == nil {
		paths = append(paths, filepath.Join(home, ".config", "seawatch"))
	}

	// Current working directory is always a fallback.
	paths = append(paths, ".")

	if len(paths) == 0 {
		return nil, fmt.Errorf("no config paths available")
	}

	return paths, nil
}

// GetBasePath expands a possibly relative directory against the current
// working directory and ensures it exists.
func GetBasePath(path string) string {
	if path == "" {
		path = "."
	}
	if !filepath.IsAbs(path) {
		if wd, err := os.Getwd(); err == nil {
			path = filepath.Join(wd, path)
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		log.Printf("Failed to create directory %s: %v", path, err)
	}
	return path
}
