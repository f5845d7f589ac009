// Copyright 2026 The Fieldvault Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ErrUnknownEnvironment is returned by [Config.Encryption] for an
// encryption environment with no section in the file.
var ErrUnknownEnvironment = errors.New("unknown encryption environment")

// DefaultEnvironmentName is the encryption environment used when a
// start request names none.
const DefaultEnvironmentName = "default"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for deployed devices.
	Production Environment = "production"
)

// Config is the master configuration.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Transport configures the unix sockets the service and
	// controller listen on.
	Transport TransportConfig `yaml:"transport"`

	// Settings holds user preferences applied at service start.
	Settings SettingsConfig `yaml:"settings"`

	// Service configures the service process.
	Service ServiceConfig `yaml:"service"`

	// Recording configures the sensor toolchain.
	Recording RecordingConfig `yaml:"recording"`

	// Encryption maps encryption environment names to their key
	// settings. A start request selects one by name; the name
	// "default" is used when the request names none.
	Encryption map[string]EncryptionConfig `yaml:"encryption"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths     *PathsConfig     `yaml:"paths,omitempty"`
	Transport *TransportConfig `yaml:"transport,omitempty"`
	Service   *ServiceConfig   `yaml:"service,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for fieldvault data.
	Root string `yaml:"root"`

	// Keys holds the age identities of the key-storage pool.
	Keys string `yaml:"keys"`

	// Containers is where finished recordings are written.
	Containers string `yaml:"containers"`

	// Exports is where decrypted containers are extracted, one
	// subdirectory per container file name.
	Exports string `yaml:"exports"`

	// State holds the recording marker and per-session work
	// directories.
	State string `yaml:"state"`

	// Run holds the sockets.
	Run string `yaml:"run"`
}

// TransportConfig configures the message channel sockets.
type TransportConfig struct {
	// ServiceSocket is where the service receives requests.
	// Default: ${paths.run}/service.sock
	ServiceSocket string `yaml:"service_socket"`

	// ControllerSocket is where the controller receives status and
	// log messages.
	// Default: ${paths.run}/controller.sock
	ControllerSocket string `yaml:"controller_socket"`
}

// SettingsConfig holds persisted user preferences.
type SettingsConfig struct {
	// DaemonizeService keeps the service running after the controller
	// exits.
	DaemonizeService bool `yaml:"daemonize_service"`
}

// ServiceConfig configures the service process.
type ServiceConfig struct {
	// StopTimeout bounds how long shutdown waits for an active
	// recording to stop. Default: 30s
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// RecordingConfig configures the sensor toolchain.
type RecordingConfig struct {
	// Sensors lists the capture commands. A recording starts every
	// enabled sensor; with none enabled, the start is cancelled.
	Sensors []SensorConfig `yaml:"sensors"`

	// StopGrace is how long a sensor may take to exit after being
	// interrupted before it is killed. Default: 10s
	StopGrace time.Duration `yaml:"stop_grace"`

	// Compression selects the container payload compression: auto,
	// none, lz4 or zstd. Default: auto
	Compression string `yaml:"compression"`

	// ForegroundTitle and ForegroundMessage are shown by hosts that
	// display a notification while recording.
	ForegroundTitle   string `yaml:"foreground_title"`
	ForegroundMessage string `yaml:"foreground_message"`
}

// SensorConfig describes one capture command.
type SensorConfig struct {
	// Name identifies the sensor in logs.
	Name string `yaml:"name"`

	// Enabled selects the sensor for recordings.
	Enabled bool `yaml:"enabled"`

	// Command is the argv to run. The token {output} is replaced with
	// the absolute path of the sensor's output file.
	Command []string `yaml:"command"`

	// Output is the output file name inside the session directory.
	// Default: <name>.dat
	Output string `yaml:"output"`
}

// EncryptionConfig configures one encryption environment.
type EncryptionConfig struct {
	// Recipients are the age public keys containers are sealed to.
	Recipients []string `yaml:"recipients"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file, not as a fallback for a
// missing one.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "fieldvault")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:       defaultRoot,
			Keys:       "${FIELDVAULT_ROOT}/keys",
			Containers: "${FIELDVAULT_ROOT}/containers",
			Exports:    "${FIELDVAULT_ROOT}/exports",
			State:      "${FIELDVAULT_ROOT}/state",
			Run:        "${XDG_RUNTIME_DIR:-/tmp}/fieldvault",
		},
		Service: ServiceConfig{
			StopTimeout: 30 * time.Second,
		},
		Recording: RecordingConfig{
			StopGrace:         10 * time.Second,
			Compression:       "auto",
			ForegroundTitle:   "Recording",
			ForegroundMessage: "Sensors are being recorded.",
		},
	}
}

// Load loads configuration from the FIELDVAULT_CONFIG environment
// variable. There is no fallback if it is unset.
func Load() (*Config, error) {
	configPath := os.Getenv("FIELDVAULT_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("FIELDVAULT_CONFIG environment variable not set; " +
			"set it to the path of your fieldvault.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	cfg.applyDerivedDefaults()

	return cfg, nil
}

// loadFile parses a single configuration file, merging into the
// current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML once comments and trailing commas
		// are gone.
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		mergeString(&c.Paths.Root, overrides.Paths.Root)
		mergeString(&c.Paths.Keys, overrides.Paths.Keys)
		mergeString(&c.Paths.Containers, overrides.Paths.Containers)
		mergeString(&c.Paths.Exports, overrides.Paths.Exports)
		mergeString(&c.Paths.State, overrides.Paths.State)
		mergeString(&c.Paths.Run, overrides.Paths.Run)
	}

	if overrides.Transport != nil {
		mergeString(&c.Transport.ServiceSocket, overrides.Transport.ServiceSocket)
		mergeString(&c.Transport.ControllerSocket, overrides.Transport.ControllerSocket)
	}

	if overrides.Service != nil && overrides.Service.StopTimeout != 0 {
		c.Service.StopTimeout = overrides.Service.StopTimeout
	}
}

func mergeString(target *string, override string) {
	if override != "" {
		*target = override
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"FIELDVAULT_ROOT": c.Paths.Root,
		"HOME":            os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["FIELDVAULT_ROOT"] = c.Paths.Root

	c.Paths.Keys = expandVars(c.Paths.Keys, vars)
	c.Paths.Containers = expandVars(c.Paths.Containers, vars)
	c.Paths.Exports = expandVars(c.Paths.Exports, vars)
	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.Run = expandVars(c.Paths.Run, vars)
	c.Transport.ServiceSocket = expandVars(c.Transport.ServiceSocket, vars)
	c.Transport.ControllerSocket = expandVars(c.Transport.ControllerSocket, vars)
}

// applyDerivedDefaults fills fields whose defaults depend on other
// fields.
func (c *Config) applyDerivedDefaults() {
	if c.Transport.ServiceSocket == "" && c.Paths.Run != "" {
		c.Transport.ServiceSocket = filepath.Join(c.Paths.Run, "service.sock")
	}
	if c.Transport.ControllerSocket == "" && c.Paths.Run != "" {
		c.Transport.ControllerSocket = filepath.Join(c.Paths.Run, "controller.sock")
	}
	for index := range c.Recording.Sensors {
		sensor := &c.Recording.Sensors[index]
		if sensor.Output == "" && sensor.Name != "" {
			sensor.Output = sensor.Name + ".dat"
		}
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, preferring
// vars over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Compression values accepted by recording.compression.
var compressionValues = []string{"auto", "none", "lz4", "zstd"}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	for name, value := range map[string]string{
		"paths.keys":       c.Paths.Keys,
		"paths.containers": c.Paths.Containers,
		"paths.exports":    c.Paths.Exports,
		"paths.state":      c.Paths.State,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	if c.Transport.ServiceSocket == "" {
		errs = append(errs, fmt.Errorf("transport.service_socket is required"))
	}
	if c.Transport.ControllerSocket == "" {
		errs = append(errs, fmt.Errorf("transport.controller_socket is required"))
	}

	if c.Service.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("service.stop_timeout must be positive"))
	}
	if c.Recording.StopGrace <= 0 {
		errs = append(errs, fmt.Errorf("recording.stop_grace must be positive"))
	}
	if !slices.Contains(compressionValues, c.Recording.Compression) {
		errs = append(errs, fmt.Errorf("recording.compression must be one of: %v", compressionValues))
	}

	seen := make(map[string]bool)
	for index, sensor := range c.Recording.Sensors {
		if sensor.Name == "" {
			errs = append(errs, fmt.Errorf("recording.sensors[%d].name is required", index))
		} else if seen[sensor.Name] {
			errs = append(errs, fmt.Errorf("recording.sensors[%d]: duplicate name %q", index, sensor.Name))
		}
		seen[sensor.Name] = true
		if len(sensor.Command) == 0 {
			errs = append(errs, fmt.Errorf("recording.sensors[%d].command is required", index))
		}
		if sensor.Output != filepath.Base(sensor.Output) {
			errs = append(errs, fmt.Errorf("recording.sensors[%d].output must be a plain file name", index))
		}
	}

	for name, encryption := range c.Encryption {
		if len(encryption.Recipients) == 0 {
			errs = append(errs, fmt.Errorf("encryption.%s.recipients must not be empty", name))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnabledSensors returns the sensors selected for recording.
func (c *Config) EnabledSensors() []SensorConfig {
	var enabled []SensorConfig
	for _, sensor := range c.Recording.Sensors {
		if sensor.Enabled {
			enabled = append(enabled, sensor)
		}
	}
	return enabled
}

// ResolveEnvironmentName maps the environment argument of a start
// request to an encryption environment name. The empty string selects
// [DefaultEnvironmentName]; both "env=<name>" and "<name>" select
// <name>.
func ResolveEnvironmentName(requested string) string {
	name := strings.TrimSpace(requested)
	name = strings.TrimPrefix(name, "env=")
	if name == "" {
		return DefaultEnvironmentName
	}
	return name
}

// EncryptionFor returns the settings of the named encryption environment,
// resolving the name with [ResolveEnvironmentName].
func (c *Config) EncryptionFor(requested string) (EncryptionConfig, error) {
	name := ResolveEnvironmentName(requested)
	encryption, ok := c.Encryption[name]
	if !ok {
		return EncryptionConfig{}, fmt.Errorf("%w: %q", ErrUnknownEnvironment, name)
	}
	return encryption, nil
}

// MarkerPath returns the path of the recording marker.
func (c *Config) MarkerPath() string {
	return filepath.Join(c.Paths.State, "recording.marker")
}

// SessionsDir returns the parent of per-session work directories.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.Paths.State, "sessions")
}

// EnsurePaths creates all configured directories if they don't exist.
// The key directory is created with mode 0700; the others with 0755.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Containers,
		c.Paths.Exports,
		c.Paths.State,
		c.Paths.Run,
		filepath.Dir(c.Transport.ServiceSocket),
		filepath.Dir(c.Transport.ControllerSocket),
	}

	for _, path := range paths {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	if c.Paths.Keys != "" {
		if err := os.MkdirAll(c.Paths.Keys, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", c.Paths.Keys, err)
		}
	}

	return nil
}
