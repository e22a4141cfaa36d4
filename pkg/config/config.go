// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the machine description: serial settings, polling
// timing and the variable list.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/moldstat/pkg/arburg"
)

// Variable access modes. Only readable variables are polled.
const (
	AccessRead  = "read"
	AccessWrite = "write"
)

// DefaultPath is used when no --config flag is given
const DefaultPath = "moldstat.yaml"

// Config holds the whole moldstat configuration
type Config struct {
	mu sync.RWMutex

	Machine Machine       `yaml:"machine" json:"machine"`
	Server  ServerConfig  `yaml:"server" json:"server"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	path string // file path for save/load
}

// Machine is one polled machine
type Machine struct {
	Info      Info       `yaml:"info" json:"info"`
	Settings  Settings   `yaml:"settings" json:"settings"`
	Variables []Variable `yaml:"variables" json:"variables"`
}

type Info struct {
	Name        string `yaml:"name" json:"name"`
	Fullname    string `yaml:"fullname" json:"fullname"`
	Description string `yaml:"description" json:"description"`
}

// Settings is the machine model: everything UpdateModel may change
type Settings struct {
	Enable   bool   `yaml:"enable" json:"enable"`
	Device   string `yaml:"device" json:"device"`     // e.g. /dev/ttyUSB0
	BaudRate int    `yaml:"baudRate" json:"baudRate"` // serial speed
	Parity   string `yaml:"parity" json:"parity"`     // "none", "even" or "odd"

	// Seconds between status requests
	RequestFrequency float64 `yaml:"requestFrequency" json:"requestFrequency"`
	// Seconds before machine-connected variables report a lost machine
	DisconnectReportTime float64 `yaml:"disconnectReportTime" json:"disconnectReportTime"`
	// Decoder for 16-bit alarm text
	UnicodeEncoding  string `yaml:"unicodeEncoding" json:"unicodeEncoding"`
	ConnectionStatus bool   `yaml:"connectionStatus" json:"connectionStatus"`
}

// Variable is a polled value: where it lives in the status response plus
// how it is published.
type Variable struct {
	arburg.Variable `yaml:",inline"`

	Description      string `yaml:"description,omitempty" json:"description,omitempty"`
	Access           string `yaml:"access,omitempty" json:"access,omitempty"`
	MachineConnected bool   `yaml:"machineConnected,omitempty" json:"machineConnected,omitempty"`
}

// Readable reports whether the variable is read from machine data
func (v Variable) Readable() bool {
	return !v.MachineConnected && v.Access != AccessWrite
}

type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr" json:"listenAddr"`
}

type LoggingConfig struct {
	Level string `yaml:"level" json:"level"` // zerolog level name
}

// DefaultSettings returns the machine model defaults
func DefaultSettings() Settings {
	return Settings{
		Enable:               true,
		Device:               "/dev/ttyUSB0",
		BaudRate:             9600,
		Parity:               "even",
		RequestFrequency:     5,
		DisconnectReportTime: 0,
		UnicodeEncoding:      "utf16le",
		ConnectionStatus:     false,
	}
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		Machine: Machine{
			Info: Info{
				Name:     "arburg",
				Fullname: "Arburg",
			},
			Settings: DefaultSettings(),
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config from a YAML file on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg, nil
}

// Parse reads config from YAML bytes, without environment overrides
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// normalize gives variables without an explicit access mode read access
func (c *Config) normalize() {
	for i := range c.Machine.Variables {
		v := &c.Machine.Variables[i]
		if v.Access != AccessRead && v.Access != AccessWrite {
			v.Access = AccessRead
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: MOLDSTAT_DEVICE, MOLDSTAT_BAUD, MOLDSTAT_REQUEST_FREQUENCY,
// MOLDSTAT_LISTEN_ADDR, MOLDSTAT_LOG_LEVEL
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MOLDSTAT_DEVICE"); v != "" {
		c.Machine.Settings.Device = v
	}
	if v := os.Getenv("MOLDSTAT_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Machine.Settings.BaudRate = n
		}
	}
	if v := os.Getenv("MOLDSTAT_REQUEST_FREQUENCY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Machine.Settings.RequestFrequency = f
		}
	}
	if v := os.Getenv("MOLDSTAT_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("MOLDSTAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the settings and the variable list
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	s := c.Machine.Settings
	if s.Device == "" {
		errs = append(errs, errors.New("machine.settings.device is empty"))
	}
	if s.RequestFrequency <= 0 {
		errs = append(errs, fmt.Errorf("machine.settings.requestFrequency must be positive, got %v", s.RequestFrequency))
	}
	if s.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("machine.settings.baudRate must be positive, got %d", s.BaudRate))
	}
	if _, err := WideEncoding(s.UnicodeEncoding); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool)
	for i, v := range c.Machine.Variables {
		if v.Name == "" {
			errs = append(errs, fmt.Errorf("variable %d has no name", i))
			continue
		}
		if seen[v.Name] {
			errs = append(errs, fmt.Errorf("duplicate variable name %q", v.Name))
		}
		seen[v.Name] = true
	}

	return errors.Join(errs...)
}

// Path returns the file the config was loaded from
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// SetPath changes where Save writes to
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// Save writes the config to its YAML file
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.path
	if path == "" {
		path = DefaultPath
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// SetConnectionStatus records whether the machine is currently connected
func (c *Config) SetConnectionStatus(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Machine.Settings.ConnectionStatus = connected
}

// ConnectionStatus returns the last recorded connection flag
func (c *Config) ConnectionStatus() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Machine.Settings.ConnectionStatus
}

// SetSettings replaces the machine settings, keeping the recorded
// connection flag
func (c *Config) SetSettings(settings Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	settings.ConnectionStatus = c.Machine.Settings.ConnectionStatus
	c.Machine.Settings = settings
}

// MachineCopy returns a deep copy of the machine section
func (c *Config) MachineCopy() Machine {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m := c.Machine
	m.Variables = append([]Variable(nil), c.Machine.Variables...)
	return m
}

// RequestInterval is the time between status requests
func (s Settings) RequestInterval() time.Duration {
	return time.Duration(s.RequestFrequency * float64(time.Second))
}

// DisconnectGrace is how long a lost connection is tolerated before
// machine-connected variables are set to false.
func (s Settings) DisconnectGrace() time.Duration {
	if s.DisconnectReportTime <= 0 {
		return 0
	}
	return time.Duration(s.DisconnectReportTime * float64(time.Second))
}

// MergeSettings applies a partial settings update onto the defaults. Fields
// missing from patch keep their default value.
func MergeSettings(patch map[string]any) (Settings, error) {
	defaults, err := json.Marshal(DefaultSettings())
	if err != nil {
		return Settings{}, fmt.Errorf("marshal defaults: %w", err)
	}
	var base map[string]any
	if err := json.Unmarshal(defaults, &base); err != nil {
		return Settings{}, fmt.Errorf("unmarshal defaults: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return Settings{}, fmt.Errorf("marshal merged settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(merged, &s); err != nil {
		return Settings{}, fmt.Errorf("unmarshal merged settings: %w", err)
	}
	return s, nil
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]any) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}

// WideEncoding maps a unicodeEncoding name to a decoder for 16-bit alarm
// text. An empty name selects UTF-16LE.
func WideEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "", "utf16le", "ucs2":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case "utf16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	case "utf8":
		return unicode.UTF8, nil
	case "latin1":
		return charmap.ISO8859_1, nil
	default:
		return nil, fmt.Errorf("unknown unicodeEncoding %q", name)
	}
}

// WideEncoding returns the decoder selected by the machine settings
func (c *Config) WideEncoding() encoding.Encoding {
	c.mu.RLock()
	name := c.Machine.Settings.UnicodeEncoding
	c.mu.RUnlock()

	enc, err := WideEncoding(name)
	if err != nil {
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	}
	return enc
}
