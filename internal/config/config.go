// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/trawl/internal/domain"
)

var envPrefix = "TRAWL__"

const databaseFile = "trawl.db"

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	mu          sync.RWMutex
	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	cfg, err := c.unmarshal()
	if err != nil {
		return nil, err
	}
	c.Config = cfg

	c.resolveDataDir()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 7480)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "") // Empty means next to the config file
	c.viper.SetDefault("definitionsDir", "")

	c.viper.SetDefault("maxWorkers", 8)
	c.viper.SetDefault("searchTimeout", "60s")
	c.viper.SetDefault("targetTimeout", "45s")
	c.viper.SetDefault("requestTimeout", "30s")
	c.viper.SetDefault("loginTimeout", "60s")
	c.viper.SetDefault("maxRetries", 2)
	c.viper.SetDefault("defaultMinInterval", "2s")
	c.viper.SetDefault("cacheTTL", "5m")
	c.viper.SetDefault("cacheSize", 256)

	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9080)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		return c.readOrCreate(c.resolveConfigPath(configDirOrPath))
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	err := c.viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return c.readOrCreate(filepath.Join(GetDefaultConfigDir(), "config.toml"))
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// readOrCreate reads path, writing the default template there first when
// the file does not exist yet.
func (c *AppConfig) readOrCreate(path string) error {
	c.viper.SetConfigFile(path)

	err := c.viper.ReadInConfig()
	if err == nil {
		return nil
	}
	// SetConfigFile reports a missing file as a plain fs error.
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) && !os.IsNotExist(err) {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := c.writeDefaultConfig(path); err != nil {
		return err
	}
	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read generated config %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) loadFromEnv() {
	// Bind explicitly; AutomaticEnv picks up unrelated variables in k8s.
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("baseUrl", envPrefix+"BASE_URL")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("definitionsDir", envPrefix+"DEFINITIONS_DIR")
	c.viper.BindEnv("maxWorkers", envPrefix+"MAX_WORKERS")
	c.viper.BindEnv("searchTimeout", envPrefix+"SEARCH_TIMEOUT")
	c.viper.BindEnv("targetTimeout", envPrefix+"TARGET_TIMEOUT")
	c.viper.BindEnv("requestTimeout", envPrefix+"REQUEST_TIMEOUT")
	c.viper.BindEnv("loginTimeout", envPrefix+"LOGIN_TIMEOUT")
	c.viper.BindEnv("maxRetries", envPrefix+"MAX_RETRIES")
	c.viper.BindEnv("defaultMinInterval", envPrefix+"DEFAULT_MIN_INTERVAL")
	c.viper.BindEnv("cacheTTL", envPrefix+"CACHE_TTL")
	c.viper.BindEnv("cacheSize", envPrefix+"CACHE_SIZE")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")
}

// unmarshal decodes the current viper state into a fresh config and applies
// per-target credential overrides from the environment.
func (c *AppConfig) unmarshal() (*domain.Config, error) {
	cfg := &domain.Config{}
	if err := c.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Version = c.version

	for i := range cfg.Targets {
		if err := applyCredentialEnv(&cfg.Targets[i]); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// applyCredentialEnv lets secrets stay out of config.toml:
// TRAWL__TARGET_<ID>_PASSWORD or TRAWL__TARGET_<ID>_PASSWORD_FILE.
func applyCredentialEnv(t *domain.TargetConfig) error {
	id := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(t.TargetID()))
	if id == "" {
		return nil
	}
	fields := map[string]*string{
		"USERNAME": &t.Credentials.Username,
		"PASSWORD": &t.Credentials.Password,
		"COOKIE":   &t.Credentials.Cookie,
		"APIKEY":   &t.Credentials.APIKey,
		"PASSKEY":  &t.Credentials.Passkey,
	}
	for name, dst := range fields {
		v, ok, err := readEnvOrFile(envPrefix + "TARGET_" + id + "_" + name)
		if err != nil {
			return err
		}
		if ok {
			*dst = v
		}
	}
	return nil
}

// readEnvOrFile returns the value of envVar, or the trimmed content of the
// file named by envVar_FILE.
func readEnvOrFile(envVar string) (string, bool, error) {
	if filePath := os.Getenv(envVar + "_FILE"); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", false, fmt.Errorf("could not read %s_FILE: %w", envVar, err)
		}
		return strings.TrimSpace(string(content)), true, nil
	}
	if v, ok := os.LookupEnv(envVar); ok {
		return v, true, nil
	}
	return "", false, nil
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		cfg, err := c.unmarshal()
		if err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.mu.Lock()
		c.Config = cfg
		c.mu.Unlock()

		c.applyDynamicChanges(cfg)
	})
}

func (c *AppConfig) applyDynamicChanges(cfg *domain.Config) {
	c.ApplyLogConfig()
	c.notifyListeners(cfg)
}

// Current returns the most recently loaded configuration.
func (c *AppConfig) Current() *domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Config
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners(cfg *domain.Config) {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	for _, listener := range listeners {
		copied := *cfg
		listener(&copied)
	}
}

const configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 7480
port = {{ .port }}

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/trawl.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# Target health database (trawl.db) will be created inside this directory
#dataDir = "/var/db/trawl"

# Extra target definitions (*.yml). Files replace built-ins with the same id.
#definitionsDir = "/config/definitions"

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Search fan-out
# Number of targets queried in parallel
#maxWorkers = {{ .maxWorkers }}

# Overall deadline of one search, and of each target inside it
#searchTimeout = "{{ .searchTimeout }}"
#targetTimeout = "{{ .targetTimeout }}"

# Per request timeout and retries for transport failures
#requestTimeout = "{{ .requestTimeout }}"
#maxRetries = {{ .maxRetries }}

# Minimum delay between two requests to the same target, unless the
# definition or the target sets its own
#defaultMinInterval = "{{ .defaultMinInterval }}"

# Search result cache
#cacheTTL = "{{ .cacheTTL }}"
#cacheSize = {{ .cacheSize }}

# Prometheus Metrics
# Enable Prometheus metrics on separate port (no authentication required)
# Default: false
#metricsEnabled = false

# Metrics server host (bind address for metrics endpoint)
# Default: "127.0.0.1"
#metricsHost = "127.0.0.1"

# Metrics server port
# Default: 9080
#metricsPort = 9080

# Targets
# One block per configured target. "definition" names a built-in or
# definitionsDir definition; "id" defaults to it.
# Credentials may also come from TRAWL__TARGET_<ID>_<FIELD>[_FILE],
# e.g. TRAWL__TARGET_RUTRACKER_PASSWORD_FILE=/run/secrets/rutracker.
[[targets]]
definition = "thepiratebay"

#[[targets]]
#definition = "rutracker"
#enabled = true
#baseUrl = "https://rutracker.net/"
#minInterval = "3s"
#[targets.credentials]
#username = "user"
#password = "pass"

#[[targets]]
#definition = "iptorrents"
#[targets.credentials]
#cookie = "uid=123; pass=abc"

# Any Torznab feed (Jackett, Prowlarr, ...)
#[[targets]]
#id = "jackett-all"
#definition = "torznab"
#baseUrl = "http://jackett:9117/api/v2.0/indexers/all/results/torznab/api"
#[targets.credentials]
#apikey = "changeme"
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	data := map[string]any{
		"host":               c.viper.GetString("host"),
		"port":               c.viper.GetInt("port"),
		"logLevel":           c.viper.GetString("logLevel"),
		"logMaxSize":         c.viper.GetInt("logMaxSize"),
		"logMaxBackups":      c.viper.GetInt("logMaxBackups"),
		"maxWorkers":         c.viper.GetInt("maxWorkers"),
		"searchTimeout":      c.viper.GetString("searchTimeout"),
		"targetTimeout":      c.viper.GetString("targetTimeout"),
		"requestTimeout":     c.viper.GetString("requestTimeout"),
		"maxRetries":         c.viper.GetInt("maxRetries"),
		"defaultMinInterval": c.viper.GetString("defaultMinInterval"),
		"cacheTTL":           c.viper.GetString("cacheTTL"),
		"cacheSize":          c.viper.GetInt("cacheSize"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	// Docker images set XDG_CONFIG_HOME to /config
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "trawl")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "trawl")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "trawl")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "trawl")
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	if os.Getpid() == 1 {
		return true
	}
	return false
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	cfg := c.Current()
	setLogLevel(cfg.LogLevel)

	writer := c.baseLogWriter()

	if cfg.LogPath != "" {
		multiWriter, err := setupLogFile(cfg.LogPath, writer, cfg.LogMaxSize, cfg.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// DefaultLogWriter returns the base log writer for the provided version.
func DefaultLogWriter(version string) io.Writer {
	return baseLogWriter(version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// CLI entry points call it before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(DefaultLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

// resolveDataDir sets the data directory based on configuration
func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	case c.dataDir == "":
		c.dataDir = "."
	}
}

// GetDatabasePath returns the path to the database file
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, databaseFile)
}

// GetDataDir returns the resolved data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// GetConfigDir returns the directory containing the config file
func (c *AppConfig) GetConfigDir() string {
	if c.viper.ConfigFileUsed() != "" {
		return filepath.Dir(c.viper.ConfigFileUsed())
	}
	return GetDefaultConfigDir()
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}
